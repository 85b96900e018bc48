package repositories

import (
	"context"
	"errors"
	"fmt"

	domain "github.com/shopora/checkout/internal/domain"
)

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// CartRepository owns the durable local cart line set. Implementations must
// serialize writes so a mutation and the clear-on-confirm never interleave.
type CartRepository interface {
	Lines(ctx context.Context) ([]domain.CartLine, error)
	ReplaceLines(ctx context.Context, lines []domain.CartLine) error
	Clear(ctx context.Context) error
}

// SnapshotRepository persists the advisory product snapshot set, refreshed
// opportunistically from the catalog service.
type SnapshotRepository interface {
	Get(ctx context.Context, productID string) (domain.ProductSnapshot, error)
	GetAll(ctx context.Context) ([]domain.ProductSnapshot, error)
	Put(ctx context.Context, snapshot domain.ProductSnapshot) error
	PutAll(ctx context.Context, snapshots []domain.ProductSnapshot) error
}

type repoError struct {
	msg         string
	notFound    bool
	conflict    bool
	unavailable bool
	cause       error
}

func (e repoError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.msg, e.cause)
	}
	return e.msg
}

func (e repoError) Unwrap() error       { return e.cause }
func (e repoError) IsNotFound() bool    { return e.notFound }
func (e repoError) IsConflict() bool    { return e.conflict }
func (e repoError) IsUnavailable() bool { return e.unavailable }

// NewNotFoundError builds a RepositoryError categorised as not-found.
func NewNotFoundError(msg string) error {
	return repoError{msg: msg, notFound: true}
}

// NewConflictError builds a RepositoryError categorised as a conflict.
func NewConflictError(msg string) error {
	return repoError{msg: msg, conflict: true}
}

// NewUnavailableError builds a RepositoryError categorised as unavailable.
func NewUnavailableError(msg string, cause error) error {
	return repoError{msg: msg, unavailable: true, cause: cause}
}

// IsNotFound reports whether err is a not-found RepositoryError.
func IsNotFound(err error) bool {
	var repoErr RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsNotFound()
}
