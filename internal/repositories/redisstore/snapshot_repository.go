package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	domain "github.com/shopora/checkout/internal/domain"
	"github.com/shopora/checkout/internal/repositories"
)

const (
	snapshotKeyPrefix = "checkout:snapshot:"
	snapshotIndexKey  = "checkout:snapshot:index"
)

// SnapshotRepository stores product snapshots in redis with a per-product
// TTL. An index set tracks the known product IDs so GetAll does not scan.
type SnapshotRepository struct {
	client *redis.Client
	ttl    time.Duration
}

// NewSnapshotRepository constructs a redis-backed snapshot repository. A
// non-positive ttl keeps snapshots until explicitly overwritten.
func NewSnapshotRepository(client *redis.Client, ttl time.Duration) (*SnapshotRepository, error) {
	if client == nil {
		return nil, errors.New("redisstore: redis client is required")
	}
	return &SnapshotRepository{client: client, ttl: ttl}, nil
}

func (r *SnapshotRepository) Get(ctx context.Context, productID string) (domain.ProductSnapshot, error) {
	key := snapshotKey(productID)
	data, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.ProductSnapshot{}, repositories.NewNotFoundError(fmt.Sprintf("redisstore: snapshot %s not found", strings.TrimSpace(productID)))
	}
	if err != nil {
		return domain.ProductSnapshot{}, repositories.NewUnavailableError("redisstore: get snapshot", err)
	}

	var snapshot domain.ProductSnapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return domain.ProductSnapshot{}, repositories.NewConflictError(fmt.Sprintf("redisstore: decode snapshot: %v", err))
	}
	return snapshot, nil
}

func (r *SnapshotRepository) GetAll(ctx context.Context) ([]domain.ProductSnapshot, error) {
	ids, err := r.client.SMembers(ctx, snapshotIndexKey).Result()
	if err != nil {
		return nil, repositories.NewUnavailableError("redisstore: read snapshot index", err)
	}

	snapshots := make([]domain.ProductSnapshot, 0, len(ids))
	var expired []any
	for _, id := range ids {
		snapshot, err := r.Get(ctx, id)
		if err != nil {
			if repositories.IsNotFound(err) {
				expired = append(expired, id)
				continue
			}
			return nil, err
		}
		snapshots = append(snapshots, snapshot)
	}
	if len(expired) > 0 {
		// Best effort prune: a stale index member only costs a miss next time.
		_ = r.client.SRem(ctx, snapshotIndexKey, expired...).Err()
	}
	return snapshots, nil
}

func (r *SnapshotRepository) Put(ctx context.Context, snapshot domain.ProductSnapshot) error {
	data, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("redisstore: encode snapshot: %w", err)
	}

	pipe := r.client.TxPipeline()
	pipe.Set(ctx, snapshotKey(snapshot.ProductID), data, r.effectiveTTL())
	pipe.SAdd(ctx, snapshotIndexKey, snapshot.ProductID)
	if _, err := pipe.Exec(ctx); err != nil {
		return repositories.NewUnavailableError("redisstore: put snapshot", err)
	}
	return nil
}

func (r *SnapshotRepository) PutAll(ctx context.Context, snapshots []domain.ProductSnapshot) error {
	if len(snapshots) == 0 {
		return nil
	}

	pipe := r.client.TxPipeline()
	for _, snapshot := range snapshots {
		data, err := json.Marshal(snapshot)
		if err != nil {
			return fmt.Errorf("redisstore: encode snapshot %s: %w", snapshot.ProductID, err)
		}
		pipe.Set(ctx, snapshotKey(snapshot.ProductID), data, r.effectiveTTL())
		pipe.SAdd(ctx, snapshotIndexKey, snapshot.ProductID)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return repositories.NewUnavailableError("redisstore: put snapshots", err)
	}
	return nil
}

func (r *SnapshotRepository) effectiveTTL() time.Duration {
	if r.ttl <= 0 {
		return 0
	}
	return r.ttl
}

func snapshotKey(productID string) string {
	return snapshotKeyPrefix + strings.TrimSpace(productID)
}

var _ repositories.SnapshotRepository = (*SnapshotRepository)(nil)
