package services

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/shopora/checkout/internal/domain"
)

func TestReconcileDecisionTable(t *testing.T) {
	keepID := testProductID
	clampID := "5f1a7caf8bd0a23f4c1d2e12"
	zeroStockID := "5f1a7caf8bd0a23f4c1d2e13"
	unavailableID := "5f1a7caf8bd0a23f4c1d2e14"
	missingID := "5f1a7caf8bd0a23f4c1d2e15"

	catalog := map[string]domain.ProductSnapshot{}
	keep := testSnapshot(time.Now())
	catalog[keepID] = keep

	clamp := testSnapshot(time.Now())
	clamp.ProductID = clampID
	clamp.StockQuantity = 2
	catalog[clampID] = clamp

	zeroStock := testSnapshot(time.Now())
	zeroStock.ProductID = zeroStockID
	zeroStock.StockQuantity = 0
	catalog[zeroStockID] = zeroStock

	unavailable := testSnapshot(time.Now())
	unavailable.ProductID = unavailableID
	unavailable.Availability = domain.AvailabilityOutOfStock
	catalog[unavailableID] = unavailable

	var refreshed []string
	snapshots := snapshotsFor(catalog)
	snapshots.refreshFunc = func(_ context.Context, ids []string) ([]domain.ProductSnapshot, error) {
		refreshed = ids
		return nil, nil
	}

	rec, err := NewReconciler(ReconcilerDeps{Snapshots: snapshots})
	if err != nil {
		t.Fatalf("new reconciler: %v", err)
	}

	result, err := rec.Reconcile(context.Background(), []domain.CartLine{
		{ProductID: keepID, Quantity: 3},
		{ProductID: clampID, Quantity: 5},
		{ProductID: zeroStockID, Quantity: 1},
		{ProductID: unavailableID, Quantity: 1},
		{ProductID: missingID, Quantity: 2},
	})
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}

	if len(result.Lines) != 2 {
		t.Fatalf("expected 2 surviving lines, got %+v", result.Lines)
	}
	if result.Lines[0].ProductID != keepID || result.Lines[0].Quantity != 3 {
		t.Fatalf("expected kept line untouched, got %+v", result.Lines[0])
	}
	if result.Lines[1].ProductID != clampID || result.Lines[1].Quantity != 2 {
		t.Fatalf("expected clamp to stock 2, got %+v", result.Lines[1])
	}

	kinds := map[string]domain.AdjustmentKind{}
	for _, adj := range result.Adjustments {
		kinds[adj.ProductID] = adj.Kind
	}
	if len(result.Adjustments) != 4 {
		t.Fatalf("expected 4 adjustments, got %+v", result.Adjustments)
	}
	if kinds[clampID] != domain.AdjustmentClamped {
		t.Fatalf("expected clamp adjustment, got %v", kinds[clampID])
	}
	for _, id := range []string{zeroStockID, unavailableID, missingID} {
		if kinds[id] != domain.AdjustmentDropped {
			t.Fatalf("expected drop for %s, got %v", id, kinds[id])
		}
	}

	if _, ok := result.Snapshots[keepID]; !ok {
		t.Fatalf("expected snapshot retained for kept line")
	}
	if _, ok := result.Snapshots[missingID]; ok {
		t.Fatalf("unexpected snapshot for dropped line")
	}
	if len(refreshed) != 5 {
		t.Fatalf("expected all valid ids refreshed, got %v", refreshed)
	}
}

func TestReconcileDropsInvalidLines(t *testing.T) {
	rec, err := NewReconciler(ReconcilerDeps{Snapshots: snapshotsFor(map[string]domain.ProductSnapshot{
		testProductID: testSnapshot(time.Now()),
	})})
	if err != nil {
		t.Fatalf("new reconciler: %v", err)
	}

	result, err := rec.Reconcile(context.Background(), []domain.CartLine{
		{ProductID: "garbage", Quantity: 1},
		{ProductID: testProductID, Quantity: 0},
	})
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if len(result.Lines) != 0 {
		t.Fatalf("expected no surviving lines, got %+v", result.Lines)
	}
	if len(result.Adjustments) != 2 {
		t.Fatalf("expected 2 drops, got %+v", result.Adjustments)
	}
	for _, adj := range result.Adjustments {
		if adj.Kind != domain.AdjustmentDropped {
			t.Fatalf("expected dropped, got %+v", adj)
		}
	}
}

func TestReconcileSurvivesRefreshFailure(t *testing.T) {
	snapshots := snapshotsFor(map[string]domain.ProductSnapshot{
		testProductID: testSnapshot(time.Now()),
	})
	snapshots.refreshFunc = func(_ context.Context, _ []string) ([]domain.ProductSnapshot, error) {
		return nil, ErrSnapshotUnavailable
	}

	rec, err := NewReconciler(ReconcilerDeps{Snapshots: snapshots})
	if err != nil {
		t.Fatalf("new reconciler: %v", err)
	}

	result, err := rec.Reconcile(context.Background(), []domain.CartLine{
		{ProductID: testProductID, Quantity: 2},
	})
	if err != nil {
		t.Fatalf("expected cached fallback, got %v", err)
	}
	if len(result.Lines) != 1 || len(result.Adjustments) != 0 {
		t.Fatalf("expected line kept from cache, got %+v", result)
	}
}

func TestReconcileEmptyCart(t *testing.T) {
	rec, err := NewReconciler(ReconcilerDeps{Snapshots: snapshotsFor(nil)})
	if err != nil {
		t.Fatalf("new reconciler: %v", err)
	}
	result, err := rec.Reconcile(context.Background(), nil)
	if err != nil {
		t.Fatalf("reconcile empty: %v", err)
	}
	if len(result.Lines) != 0 || len(result.Adjustments) != 0 {
		t.Fatalf("expected empty result, got %+v", result)
	}
}

func TestReconcileHonoursContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rec, err := NewReconciler(ReconcilerDeps{Snapshots: snapshotsFor(nil)})
	if err != nil {
		t.Fatalf("new reconciler: %v", err)
	}
	if _, err := rec.Reconcile(ctx, []domain.CartLine{{ProductID: testProductID, Quantity: 1}}); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
