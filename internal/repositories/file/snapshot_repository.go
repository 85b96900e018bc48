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

// SnapshotRepository persists the full product snapshot list as JSON under
// its own durable key, separate from the cart lines.
type SnapshotRepository struct {
	mu   sync.Mutex
	path string
}

// NewSnapshotRepository constructs a file-backed snapshot repository.
func NewSnapshotRepository(path string) (*SnapshotRepository, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return nil, errors.New("file: snapshot store path is required")
	}
	if err := os.MkdirAll(filepath.Dir(trimmed), 0o755); err != nil {
		return nil, fmt.Errorf("file: create snapshot store dir: %w", err)
	}
	return &SnapshotRepository{path: trimmed}, nil
}

// Get returns the stored snapshot for productID.
func (r *SnapshotRepository) Get(ctx context.Context, productID string) (domain.ProductSnapshot, error) {
	if err := ctx.Err(); err != nil {
		return domain.ProductSnapshot{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	snapshots, err := r.readLocked()
	if err != nil {
		return domain.ProductSnapshot{}, err
	}
	target := strings.TrimSpace(productID)
	for _, snapshot := range snapshots {
		if snapshot.ProductID == target {
			return snapshot, nil
		}
	}
	return domain.ProductSnapshot{}, repositories.NewNotFoundError(fmt.Sprintf("file: snapshot %s not found", target))
}

// GetAll returns every stored snapshot.
func (r *SnapshotRepository) GetAll(ctx context.Context) ([]domain.ProductSnapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.readLocked()
}

// Put upserts a single snapshot.
func (r *SnapshotRepository) Put(ctx context.Context, snapshot domain.ProductSnapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	snapshots, err := r.readLocked()
	if err != nil {
		return err
	}
	replaced := false
	for i := range snapshots {
		if snapshots[i].ProductID == snapshot.ProductID {
			snapshots[i] = snapshot
			replaced = true
			break
		}
	}
	if !replaced {
		snapshots = append(snapshots, snapshot)
	}
	return r.writeLocked(snapshots)
}

// PutAll upserts a batch of snapshots in one durable write.
func (r *SnapshotRepository) PutAll(ctx context.Context, batch []domain.ProductSnapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(batch) == 0 {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	snapshots, err := r.readLocked()
	if err != nil {
		return err
	}
	index := make(map[string]int, len(snapshots))
	for i, snapshot := range snapshots {
		index[snapshot.ProductID] = i
	}
	for _, snapshot := range batch {
		if i, ok := index[snapshot.ProductID]; ok {
			snapshots[i] = snapshot
			continue
		}
		index[snapshot.ProductID] = len(snapshots)
		snapshots = append(snapshots, snapshot)
	}
	return r.writeLocked(snapshots)
}

func (r *SnapshotRepository) readLocked() ([]domain.ProductSnapshot, error) {
	data, err := os.ReadFile(r.path)
	if err != nil {
		if os.IsNotExist(err) {
			return []domain.ProductSnapshot{}, nil
		}
		return nil, repositories.NewUnavailableError("file: read snapshot store", err)
	}
	if len(data) == 0 {
		return []domain.ProductSnapshot{}, nil
	}

	var snapshots []domain.ProductSnapshot
	if err := json.Unmarshal(data, &snapshots); err != nil {
		return nil, repositories.NewConflictError(fmt.Sprintf("file: corrupt snapshot store at %s: %v", r.path, err))
	}
	return snapshots, nil
}

func (r *SnapshotRepository) writeLocked(snapshots []domain.ProductSnapshot) error {
	data, err := json.MarshalIndent(snapshots, "", "  ")
	if err != nil {
		return repositories.NewUnavailableError("file: encode snapshot store", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(r.path), ".snapshots-*")
	if err != nil {
		return repositories.NewUnavailableError("file: create temp snapshot store", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return repositories.NewUnavailableError("file: write snapshot store", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return repositories.NewUnavailableError("file: close snapshot store", err)
	}
	if err := os.Rename(tmpName, r.path); err != nil {
		_ = os.Remove(tmpName)
		return repositories.NewUnavailableError("file: replace snapshot store", err)
	}
	return nil
}

var _ repositories.SnapshotRepository = (*SnapshotRepository)(nil)
