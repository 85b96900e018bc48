package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	domain "github.com/shopora/checkout/internal/domain"
	"github.com/shopora/checkout/internal/repositories"
)

// CartRepository stores the cart line set as an ordered JSON list under a
// single durable file, so cart state survives process restart. All writes
// are serialized and performed atomically via rename.
type CartRepository struct {
	mu   sync.Mutex
	path string
}

// NewCartRepository constructs a file-backed cart repository rooted at path.
func NewCartRepository(path string) (*CartRepository, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return nil, errors.New("file: cart store path is required")
	}
	if err := os.MkdirAll(filepath.Dir(trimmed), 0o755); err != nil {
		return nil, fmt.Errorf("file: create cart store dir: %w", err)
	}
	return &CartRepository{path: trimmed}, nil
}

// Lines returns the persisted cart lines in insertion order.
func (r *CartRepository) Lines(ctx context.Context) ([]domain.CartLine, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.readLocked()
}

// ReplaceLines atomically replaces the full persisted line set.
func (r *CartRepository) ReplaceLines(ctx context.Context, lines []domain.CartLine) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.writeLocked(lines)
}

// Clear removes every persisted line.
func (r *CartRepository) Clear(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.writeLocked([]domain.CartLine{})
}

func (r *CartRepository) readLocked() ([]domain.CartLine, error) {
	data, err := os.ReadFile(r.path)
	if err != nil {
		if os.IsNotExist(err) {
			return []domain.CartLine{}, nil
		}
		return nil, repositories.NewUnavailableError("file: read cart store", err)
	}
	if len(data) == 0 {
		return []domain.CartLine{}, nil
	}

	var lines []domain.CartLine
	if err := json.Unmarshal(data, &lines); err != nil {
		// Malformed persisted state fails fast instead of propagating
		// half-decoded lines into the cart.
		return nil, repositories.NewConflictError(fmt.Sprintf("file: corrupt cart store at %s: %v", r.path, err))
	}
	for _, line := range lines {
		if strings.TrimSpace(line.ProductID) == "" || line.Quantity <= 0 {
			return nil, repositories.NewConflictError(fmt.Sprintf("file: invalid cart line for product %q", line.ProductID))
		}
	}
	return lines, nil
}

func (r *CartRepository) writeLocked(lines []domain.CartLine) error {
	if lines == nil {
		lines = []domain.CartLine{}
	}
	data, err := json.MarshalIndent(lines, "", "  ")
	if err != nil {
		return repositories.NewUnavailableError("file: encode cart store", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(r.path), ".cart-*")
	if err != nil {
		return repositories.NewUnavailableError("file: create temp cart store", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return repositories.NewUnavailableError("file: write cart store", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return repositories.NewUnavailableError("file: close cart store", err)
	}
	if err := os.Rename(tmpName, r.path); err != nil {
		_ = os.Remove(tmpName)
		return repositories.NewUnavailableError("file: replace cart store", err)
	}
	return nil
}

var _ repositories.CartRepository = (*CartRepository)(nil)
