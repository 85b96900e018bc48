package idempotency

import (
	"context"
	"errors"
	"strings"
	"time"
)

// Status represents the lifecycle state of an idempotency record.
type Status string

const (
	// DefaultTTL is the default duration that idempotency records are retained.
	DefaultTTL = 24 * time.Hour
	// StatusPending indicates an operation has reserved the key but not yet recorded a result.
	StatusPending Status = "pending"
	// StatusCompleted indicates the result for the key has been stored and can be recalled.
	StatusCompleted Status = "completed"
)

// ReservationState describes the outcome of attempting to reserve an idempotency key.
type ReservationState int

const (
	// ReservationStateNew means no existing reservation was found and the caller may proceed.
	ReservationStateNew ReservationState = iota
	// ReservationStateCompleted means a previous result was found and should be reused.
	ReservationStateCompleted
	// ReservationStatePending means another in-flight operation holds this key.
	ReservationStatePending
)

// Reservation encapsulates the result of reserving a key, including the stored record if available.
type Reservation struct {
	State  ReservationState
	Record Record
}

// Record captures the persisted result for an idempotency key. For order
// creation the value is the created order's identifier.
type Record struct {
	Scope     string
	Key       string
	Status    Status
	Value     string
	CreatedAt time.Time
	UpdatedAt time.Time
	ExpiresAt time.Time
}

// Store persists idempotency reservations and results so that retrying an
// effectful operation with the same key never duplicates its effect.
type Store interface {
	Reserve(ctx context.Context, scope, key string, now time.Time, ttl time.Duration) (Reservation, error)
	SaveResult(ctx context.Context, scope, key, value string, now time.Time, ttl time.Duration) error
	Recall(ctx context.Context, scope, key string) (string, bool, error)
	Release(ctx context.Context, scope, key string) error
	CleanupExpired(ctx context.Context, now time.Time, limit int) (int, error)
}

// ErrEmptyKey is returned when a reservation is attempted with a blank key.
var ErrEmptyKey = errors.New("idempotency: key is required")

func compositeKey(scope, key string) string {
	return strings.TrimSpace(scope) + ":" + strings.TrimSpace(key)
}
