package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	domain "github.com/shopora/checkout/internal/domain"
	"github.com/shopora/checkout/internal/repositories"
)

var (
	errSnapshotRepositoryRequired = errors.New("snapshot service: repository is required")
	errSnapshotCatalogRequired    = errors.New("snapshot service: catalog source is required")
	errSnapshotClockRequired      = errors.New("snapshot service: clock is required")
)

// ErrSnapshotInvalidInput indicates the caller supplied an invalid product identifier.
var ErrSnapshotInvalidInput = errors.New("snapshot service: invalid input")

// ErrSnapshotNotFound indicates the product is unknown to both the cache and the catalog.
var ErrSnapshotNotFound = errors.New("snapshot service: not found")

// ErrSnapshotUnavailable indicates neither cache nor catalog could serve the request.
var ErrSnapshotUnavailable = errors.New("snapshot service: unavailable")

const defaultRefreshConcurrency = 4

// CatalogSource abstracts the catalog service for snapshot refreshes.
type CatalogSource interface {
	GetProduct(ctx context.Context, productID string) (domain.ProductSnapshot, error)
	ListProducts(ctx context.Context, productIDs []string) ([]domain.ProductSnapshot, error)
}

// SnapshotServiceDeps wires the durable store and catalog source for the cache.
type SnapshotServiceDeps struct {
	Repository  repositories.SnapshotRepository
	Catalog     CatalogSource
	Clock       func() time.Time
	TTL         time.Duration
	Concurrency int
	Logger      func(context.Context, string, map[string]any)
}

type snapshotService struct {
	repo        repositories.SnapshotRepository
	catalog     CatalogSource
	now         func() time.Time
	ttl         time.Duration
	concurrency int
	logger      func(context.Context, string, map[string]any)
}

// NewSnapshotService constructs the read-through snapshot cache.
func NewSnapshotService(deps SnapshotServiceDeps) (SnapshotService, error) {
	if deps.Repository == nil {
		return nil, errSnapshotRepositoryRequired
	}
	if deps.Catalog == nil {
		return nil, errSnapshotCatalogRequired
	}
	if deps.Clock == nil {
		return nil, errSnapshotClockRequired
	}

	concurrency := deps.Concurrency
	if concurrency <= 0 {
		concurrency = defaultRefreshConcurrency
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &snapshotService{
		repo:        deps.Repository,
		catalog:     deps.Catalog,
		now:         func() time.Time { return deps.Clock().UTC() },
		ttl:         deps.TTL,
		concurrency: concurrency,
		logger:      logger,
	}, nil
}

// Get serves the snapshot from the local store when fresh, refreshing from
// the catalog otherwise. A stale snapshot is still served when the catalog
// is unreachable: snapshots are advisory and checkout re-verifies totals
// server-side anyway.
func (s *snapshotService) Get(ctx context.Context, productID string) (domain.ProductSnapshot, error) {
	id := strings.TrimSpace(productID)
	if err := domain.ValidateIdentifier(id); err != nil {
		return domain.ProductSnapshot{}, ErrSnapshotInvalidInput
	}

	cached, cacheErr := s.repo.Get(ctx, id)
	if cacheErr == nil && s.fresh(cached) {
		return cached, nil
	}

	fetched, fetchErr := s.catalog.GetProduct(ctx, id)
	if fetchErr != nil {
		if ctx.Err() != nil {
			return domain.ProductSnapshot{}, ctx.Err()
		}
		if cacheErr == nil {
			s.logger(ctx, "snapshot.refresh.stale_served", map[string]any{
				"productId": id,
				"error":     fetchErr.Error(),
			})
			return cached, nil
		}
		if repositories.IsNotFound(cacheErr) {
			return domain.ProductSnapshot{}, ErrSnapshotNotFound
		}
		return domain.ProductSnapshot{}, ErrSnapshotUnavailable
	}

	fetched.RefreshedAt = s.now()
	if err := s.repo.Put(ctx, fetched); err != nil {
		// Serving the fetched snapshot matters more than caching it.
		s.logger(ctx, "snapshot.cache.write_failed", map[string]any{
			"productId": id,
			"error":     err.Error(),
		})
	}
	return fetched, nil
}

// Refresh fetches the given products from the catalog in bounded-concurrency
// batches and persists whatever was found. Unknown products are simply
// absent from the result.
func (s *snapshotService) Refresh(ctx context.Context, productIDs []string) ([]domain.ProductSnapshot, error) {
	ids := make([]string, 0, len(productIDs))
	seen := make(map[string]struct{}, len(productIDs))
	for _, raw := range productIDs {
		id := strings.TrimSpace(raw)
		if err := domain.ValidateIdentifier(id); err != nil {
			return nil, ErrSnapshotInvalidInput
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	batches := chunkIDs(ids, s.concurrency)
	results := make([][]domain.ProductSnapshot, len(batches))

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(s.concurrency)
	for i, batch := range batches {
		i, batch := i, batch
		group.Go(func() error {
			snapshots, err := s.catalog.ListProducts(groupCtx, batch)
			if err != nil {
				return err
			}
			results[i] = snapshots
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, ErrSnapshotUnavailable
	}

	now := s.now()
	refreshed := make([]domain.ProductSnapshot, 0, len(ids))
	for _, batch := range results {
		for _, snapshot := range batch {
			snapshot.RefreshedAt = now
			refreshed = append(refreshed, snapshot)
		}
	}
	if len(refreshed) > 0 {
		if err := s.repo.PutAll(ctx, refreshed); err != nil {
			s.logger(ctx, "snapshot.cache.write_failed", map[string]any{
				"count": len(refreshed),
				"error": err.Error(),
			})
		}
	}
	return refreshed, nil
}

func (s *snapshotService) fresh(snapshot domain.ProductSnapshot) bool {
	if s.ttl <= 0 {
		return true
	}
	return snapshot.RefreshedAt.Add(s.ttl).After(s.now())
}

func chunkIDs(ids []string, chunks int) [][]string {
	if chunks < 1 {
		chunks = 1
	}
	size := (len(ids) + chunks - 1) / chunks
	if size < 1 {
		size = 1
	}
	var out [][]string
	for start := 0; start < len(ids); start += size {
		end := start + size
		if end > len(ids) {
			end = len(ids)
		}
		out = append(out, ids[start:end])
	}
	return out
}
