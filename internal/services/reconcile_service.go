package services

import (
	"context"
	"errors"

	domain "github.com/shopora/checkout/internal/domain"
	"github.com/shopora/checkout/internal/platform/observability"
)

var (
	errReconcilerSnapshotsRequired = errors.New("reconciler: snapshot service is required")
)

// ReconcilerDeps wires the snapshot cache into the cart reconciler.
type ReconcilerDeps struct {
	Snapshots SnapshotService
	Logger    func(context.Context, string, map[string]any)
}

type reconciler struct {
	snapshots SnapshotService
	logger    func(context.Context, string, map[string]any)
}

// NewReconciler constructs the cart reconciler.
func NewReconciler(deps ReconcilerDeps) (Reconciler, error) {
	if deps.Snapshots == nil {
		return nil, errReconcilerSnapshotsRequired
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &reconciler{snapshots: deps.Snapshots, logger: logger}, nil
}

// Reconcile repairs the given lines against current catalog truth. It only
// errors on context cancellation; everything else resolves to a kept,
// clamped or dropped line with a recorded adjustment. Every kept line
// satisfies 0 < quantity <= stock on a sellable snapshot.
func (r *reconciler) Reconcile(ctx context.Context, lines []domain.CartLine) (ReconciledCart, error) {
	if err := ctx.Err(); err != nil {
		return ReconciledCart{}, err
	}

	result := ReconciledCart{
		Lines:     make([]domain.CartLine, 0, len(lines)),
		Snapshots: make(map[string]domain.ProductSnapshot, len(lines)),
	}

	ids := make([]string, 0, len(lines))
	for _, line := range lines {
		if domain.ValidateIdentifier(line.ProductID) == nil {
			ids = append(ids, line.ProductID)
		}
	}
	// Best effort batch refresh; per-line Get below still works from the
	// cache when the batch fails.
	if len(ids) > 0 {
		if _, err := r.snapshots.Refresh(ctx, ids); err != nil {
			if ctx.Err() != nil {
				return ReconciledCart{}, ctx.Err()
			}
			r.logger(ctx, "reconcile.refresh.failed", map[string]any{"error": err.Error()})
		}
	}

	for _, line := range lines {
		if err := ctx.Err(); err != nil {
			return ReconciledCart{}, err
		}

		if domain.ValidateIdentifier(line.ProductID) != nil || line.Quantity <= 0 {
			result.Adjustments = append(result.Adjustments, drop(line, "invalid cart line"))
			continue
		}

		snapshot, err := r.snapshots.Get(ctx, line.ProductID)
		if err != nil {
			if ctx.Err() != nil {
				return ReconciledCart{}, ctx.Err()
			}
			result.Adjustments = append(result.Adjustments, drop(line, "product not found"))
			continue
		}

		switch {
		case !snapshot.Sellable():
			result.Adjustments = append(result.Adjustments, drop(line, "product unavailable"))
		case snapshot.StockQuantity >= line.Quantity:
			result.Lines = append(result.Lines, line)
			result.Snapshots[line.ProductID] = snapshot
		default:
			clamped := line
			clamped.Quantity = snapshot.StockQuantity
			result.Lines = append(result.Lines, clamped)
			result.Snapshots[line.ProductID] = snapshot
			result.Adjustments = append(result.Adjustments, domain.Adjustment{
				ProductID:    line.ProductID,
				Kind:         domain.AdjustmentClamped,
				FromQuantity: line.Quantity,
				ToQuantity:   snapshot.StockQuantity,
				Reason:       "quantity above available stock",
			})
		}
	}

	for _, adjustment := range result.Adjustments {
		observability.CountCartAdjustment(string(adjustment.Kind))
		r.logger(ctx, "reconcile.line.adjusted", map[string]any{
			"productId": adjustment.ProductID,
			"kind":      string(adjustment.Kind),
			"from":      adjustment.FromQuantity,
			"to":        adjustment.ToQuantity,
			"reason":    adjustment.Reason,
		})
	}
	return result, nil
}

func drop(line domain.CartLine, reason string) domain.Adjustment {
	return domain.Adjustment{
		ProductID:    line.ProductID,
		Kind:         domain.AdjustmentDropped,
		FromQuantity: line.Quantity,
		ToQuantity:   0,
		Reason:       reason,
	}
}

var _ Reconciler = (*reconciler)(nil)
