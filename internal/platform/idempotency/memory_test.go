package idempotency

import (
	"context"
	"testing"
	"time"
)

func TestMemoryStoreReserveLifecycle(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	res, err := store.Reserve(ctx, "order", "attempt-1", now, time.Hour)
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if res.State != ReservationStateNew {
		t.Fatalf("expected new reservation, got %v", res.State)
	}

	res, err = store.Reserve(ctx, "order", "attempt-1", now.Add(time.Minute), time.Hour)
	if err != nil {
		t.Fatalf("second reserve: %v", err)
	}
	if res.State != ReservationStatePending {
		t.Fatalf("expected pending reservation, got %v", res.State)
	}

	if err := store.SaveResult(ctx, "order", "attempt-1", "order-99", now.Add(2*time.Minute), time.Hour); err != nil {
		t.Fatalf("save result: %v", err)
	}

	res, err = store.Reserve(ctx, "order", "attempt-1", now.Add(3*time.Minute), time.Hour)
	if err != nil {
		t.Fatalf("reserve after completion: %v", err)
	}
	if res.State != ReservationStateCompleted {
		t.Fatalf("expected completed reservation, got %v", res.State)
	}
	if res.Record.Value != "order-99" {
		t.Fatalf("expected stored order id, got %q", res.Record.Value)
	}

	value, ok, err := store.Recall(ctx, "order", "attempt-1")
	if err != nil || !ok || value != "order-99" {
		t.Fatalf("recall = (%q, %v, %v)", value, ok, err)
	}
}

func TestMemoryStoreScopesAreIsolated(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	now := time.Now().UTC()

	if err := store.SaveResult(ctx, "order", "k", "order-1", now, time.Hour); err != nil {
		t.Fatalf("save: %v", err)
	}
	if _, ok, _ := store.Recall(ctx, "payment", "k"); ok {
		t.Fatal("expected miss for a different scope")
	}
}

func TestMemoryStoreExpiredReservationIsReusable(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	if _, err := store.Reserve(ctx, "order", "attempt-2", now, time.Minute); err != nil {
		t.Fatalf("reserve: %v", err)
	}

	res, err := store.Reserve(ctx, "order", "attempt-2", now.Add(2*time.Minute), time.Minute)
	if err != nil {
		t.Fatalf("reserve after expiry: %v", err)
	}
	if res.State != ReservationStateNew {
		t.Fatalf("expected expired reservation to be reusable, got %v", res.State)
	}
}

func TestMemoryStoreRejectsEmptyKey(t *testing.T) {
	store := NewMemoryStore()
	if _, err := store.Reserve(context.Background(), "order", "  ", time.Now(), time.Hour); err != ErrEmptyKey {
		t.Fatalf("expected ErrEmptyKey, got %v", err)
	}
}

func TestMemoryStoreCleanupExpired(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	_, _ = store.Reserve(ctx, "order", "stale", now, time.Minute)
	_, _ = store.Reserve(ctx, "order", "fresh", now, time.Hour)

	removed, err := store.CleanupExpired(ctx, now.Add(10*time.Minute), 10)
	if err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected 1 removed record, got %d", removed)
	}
	if res, _ := store.Reserve(ctx, "order", "fresh", now.Add(11*time.Minute), time.Hour); res.State != ReservationStatePending {
		t.Fatalf("fresh record should survive cleanup, got %v", res.State)
	}
}
