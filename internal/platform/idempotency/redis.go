package idempotency

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	redisLockPrefix  = "idemp:lock:"
	redisValuePrefix = "idemp:value:"
)

// RedisStore persists idempotency records in redis so reservations survive
// process restarts and are shared between replicas.
type RedisStore struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewRedisStore constructs a redis-backed idempotency store.
func NewRedisStore(rdb *redis.Client, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisStore{rdb: rdb, ttl: ttl}
}

// Reserve implements the Store interface using SETNX for the in-flight lock.
func (s *RedisStore) Reserve(ctx context.Context, scope, key string, now time.Time, ttl time.Duration) (Reservation, error) {
	if strings.TrimSpace(key) == "" {
		return Reservation{}, ErrEmptyKey
	}
	if ttl <= 0 {
		ttl = s.ttl
	}
	id := compositeKey(scope, key)

	value, err := s.rdb.Get(ctx, redisValuePrefix+id).Result()
	if err == nil {
		record := Record{Scope: scope, Key: key, Status: StatusCompleted, Value: value}
		return Reservation{State: ReservationStateCompleted, Record: record}, nil
	}
	if !errors.Is(err, redis.Nil) {
		return Reservation{}, err
	}

	acquired, err := s.rdb.SetNX(ctx, redisLockPrefix+id, "1", ttl).Result()
	if err != nil {
		return Reservation{}, err
	}
	record := Record{
		Scope:     scope,
		Key:       key,
		Status:    StatusPending,
		CreatedAt: now.UTC(),
		UpdatedAt: now.UTC(),
		ExpiresAt: now.UTC().Add(ttl),
	}
	if !acquired {
		return Reservation{State: ReservationStatePending, Record: record}, nil
	}
	return Reservation{State: ReservationStateNew, Record: record}, nil
}

// SaveResult implements the Store interface.
func (s *RedisStore) SaveResult(ctx context.Context, scope, key, value string, _ time.Time, ttl time.Duration) error {
	if strings.TrimSpace(key) == "" {
		return ErrEmptyKey
	}
	if ttl <= 0 {
		ttl = s.ttl
	}
	return s.rdb.Set(ctx, redisValuePrefix+compositeKey(scope, key), value, ttl).Err()
}

// Recall implements the Store interface.
func (s *RedisStore) Recall(ctx context.Context, scope, key string) (string, bool, error) {
	value, err := s.rdb.Get(ctx, redisValuePrefix+compositeKey(scope, key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

// Release implements the Store interface.
func (s *RedisStore) Release(ctx context.Context, scope, key string) error {
	id := compositeKey(scope, key)
	return s.rdb.Del(ctx, redisLockPrefix+id, redisValuePrefix+id).Err()
}

// CleanupExpired is a no-op for redis; key TTLs handle expiry.
func (s *RedisStore) CleanupExpired(context.Context, time.Time, int) (int, error) {
	return 0, nil
}

var _ Store = (*RedisStore)(nil)
