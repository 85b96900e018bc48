package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	domain "github.com/shopora/checkout/internal/domain"
	"github.com/shopora/checkout/internal/repositories"
)

var (
	errCartRepositoryRequired = errors.New("cart service: repository is required")
	errCartSnapshotsRequired  = errors.New("cart service: snapshot service is required")
	errCartClockRequired      = errors.New("cart service: clock is required")
)

// ErrCartInvalidInput indicates the caller supplied invalid input.
var ErrCartInvalidInput = errors.New("cart service: invalid input")

// ErrCartUnavailable indicates the cart service cannot fulfil the request due to missing dependencies or backend issues.
var ErrCartUnavailable = errors.New("cart service: unavailable")

// ErrCartLineNotFound indicates the targeted cart line does not exist.
var ErrCartLineNotFound = errors.New("cart service: line not found")

// ErrCartConflict indicates the durable cart state could not be read or replaced cleanly.
var ErrCartConflict = errors.New("cart service: conflict")

// ErrProductUnavailable indicates the product cannot currently be ordered.
var ErrProductUnavailable = errors.New("cart service: product unavailable")

// ErrInsufficientStock indicates the requested quantity exceeds the known stock.
var ErrInsufficientStock = errors.New("cart service: insufficient stock")

// ErrShopMismatch indicates the product belongs to a different shop than the
// cart's existing lines. Orders are single-shop, enforced at add time.
var ErrShopMismatch = errors.New("cart service: cart is limited to a single shop")

// CartServiceDeps wires the durable store and snapshot cache for cart operations.
type CartServiceDeps struct {
	Repository repositories.CartRepository
	Snapshots  SnapshotService
	Clock      func() time.Time
	Logger     func(context.Context, string, map[string]any)
}

type cartService struct {
	repo      repositories.CartRepository
	snapshots SnapshotService
	now       func() time.Time
	logger    func(context.Context, string, map[string]any)
}

// NewCartService constructs a CartService enforcing dependency validation.
func NewCartService(deps CartServiceDeps) (CartService, error) {
	if deps.Repository == nil {
		return nil, errCartRepositoryRequired
	}
	if deps.Snapshots == nil {
		return nil, errCartSnapshotsRequired
	}
	if deps.Clock == nil {
		return nil, errCartClockRequired
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &cartService{
		repo:      deps.Repository,
		snapshots: deps.Snapshots,
		now:       func() time.Time { return deps.Clock().UTC() },
		logger:    logger,
	}, nil
}

// AddItem merges quantity units of a product into the cart, guarded by the
// current snapshot: unavailable products and quantities beyond stock are
// rejected before anything is persisted.
func (s *cartService) AddItem(ctx context.Context, cmd AddItemCommand) (CartView, error) {
	if s == nil || s.repo == nil {
		return CartView{}, ErrCartUnavailable
	}

	productID := strings.TrimSpace(cmd.ProductID)
	if err := domain.ValidateIdentifier(productID); err != nil {
		return CartView{}, fmt.Errorf("%w: %v", ErrCartInvalidInput, err)
	}
	if cmd.Quantity <= 0 {
		return CartView{}, fmt.Errorf("%w: quantity must be greater than zero", ErrCartInvalidInput)
	}

	snapshot, err := s.snapshots.Get(ctx, productID)
	if err != nil {
		return CartView{}, s.translateSnapshotError(err)
	}
	if !snapshot.Sellable() {
		return CartView{}, ErrProductUnavailable
	}

	lines, err := s.repo.Lines(ctx)
	if err != nil {
		return CartView{}, s.translateRepoError(err)
	}

	if err := s.checkShop(ctx, lines, snapshot); err != nil {
		return CartView{}, err
	}

	existing := 0
	idx := indexOfLine(lines, productID)
	if idx >= 0 {
		existing = lines[idx].Quantity
	}
	if existing+cmd.Quantity > snapshot.StockQuantity {
		return CartView{}, fmt.Errorf("%w: %d available", ErrInsufficientStock, snapshot.StockQuantity)
	}

	if idx >= 0 {
		lines[idx].Quantity = existing + cmd.Quantity
	} else {
		lines = append(lines, domain.CartLine{
			ProductID: productID,
			Quantity:  cmd.Quantity,
			AddedAt:   s.now(),
		})
	}

	if err := s.repo.ReplaceLines(ctx, lines); err != nil {
		return CartView{}, s.translateRepoError(err)
	}

	s.logger(ctx, "cart.line.added", map[string]any{
		"productId": productID,
		"quantity":  cmd.Quantity,
	})
	return s.view(ctx, lines), nil
}

// UpdateQuantity sets a line's desired quantity. Non-positive quantities
// remove the line; an excessive quantity is rejected whole, never clamped.
func (s *cartService) UpdateQuantity(ctx context.Context, cmd UpdateQuantityCommand) (CartView, error) {
	if s == nil || s.repo == nil {
		return CartView{}, ErrCartUnavailable
	}

	productID := strings.TrimSpace(cmd.ProductID)
	if err := domain.ValidateIdentifier(productID); err != nil {
		return CartView{}, fmt.Errorf("%w: %v", ErrCartInvalidInput, err)
	}

	if cmd.Quantity <= 0 {
		return s.RemoveItem(ctx, productID)
	}

	lines, err := s.repo.Lines(ctx)
	if err != nil {
		return CartView{}, s.translateRepoError(err)
	}
	idx := indexOfLine(lines, productID)
	if idx < 0 {
		return CartView{}, ErrCartLineNotFound
	}

	snapshot, err := s.snapshots.Get(ctx, productID)
	if err != nil {
		return CartView{}, s.translateSnapshotError(err)
	}
	if !snapshot.Sellable() {
		return CartView{}, ErrProductUnavailable
	}
	if cmd.Quantity > snapshot.StockQuantity {
		return CartView{}, fmt.Errorf("%w: %d available", ErrInsufficientStock, snapshot.StockQuantity)
	}

	lines[idx].Quantity = cmd.Quantity
	if err := s.repo.ReplaceLines(ctx, lines); err != nil {
		return CartView{}, s.translateRepoError(err)
	}

	s.logger(ctx, "cart.line.updated", map[string]any{
		"productId": productID,
		"quantity":  cmd.Quantity,
	})
	return s.view(ctx, lines), nil
}

// RemoveItem deletes a line. Removing an absent line is a no-op.
func (s *cartService) RemoveItem(ctx context.Context, productID string) (CartView, error) {
	if s == nil || s.repo == nil {
		return CartView{}, ErrCartUnavailable
	}

	id := strings.TrimSpace(productID)
	if err := domain.ValidateIdentifier(id); err != nil {
		return CartView{}, fmt.Errorf("%w: %v", ErrCartInvalidInput, err)
	}

	lines, err := s.repo.Lines(ctx)
	if err != nil {
		return CartView{}, s.translateRepoError(err)
	}
	idx := indexOfLine(lines, id)
	if idx < 0 {
		return s.view(ctx, lines), nil
	}

	lines = append(lines[:idx], lines[idx+1:]...)
	if err := s.repo.ReplaceLines(ctx, lines); err != nil {
		return CartView{}, s.translateRepoError(err)
	}

	s.logger(ctx, "cart.line.removed", map[string]any{"productId": id})
	return s.view(ctx, lines), nil
}

// Clear empties the cart unconditionally.
func (s *cartService) Clear(ctx context.Context) error {
	if s == nil || s.repo == nil {
		return ErrCartUnavailable
	}
	if err := s.repo.Clear(ctx); err != nil {
		return s.translateRepoError(err)
	}
	s.logger(ctx, "cart.cleared", nil)
	return nil
}

// Lines returns the persisted cart lines in insertion order.
func (s *cartService) Lines(ctx context.Context) ([]domain.CartLine, error) {
	if s == nil || s.repo == nil {
		return nil, ErrCartUnavailable
	}
	lines, err := s.repo.Lines(ctx)
	if err != nil {
		return nil, s.translateRepoError(err)
	}
	return lines, nil
}

// Total sums unit price times quantity over the current lines. A line whose
// snapshot cannot be resolved contributes zero; totals never fail for
// display purposes.
func (s *cartService) Total(ctx context.Context) (int64, error) {
	if s == nil || s.repo == nil {
		return 0, ErrCartUnavailable
	}
	lines, err := s.repo.Lines(ctx)
	if err != nil {
		return 0, s.translateRepoError(err)
	}
	return s.total(ctx, lines), nil
}

func (s *cartService) total(ctx context.Context, lines []domain.CartLine) int64 {
	var total int64
	for _, line := range lines {
		if line.Quantity <= 0 {
			continue
		}
		snapshot, err := s.snapshots.Get(ctx, line.ProductID)
		if err != nil {
			continue
		}
		if snapshot.UnitPrice > 0 {
			total += snapshot.UnitPrice * int64(line.Quantity)
		}
	}
	return total
}

func (s *cartService) view(ctx context.Context, lines []domain.CartLine) CartView {
	return CartView{Lines: lines, Total: s.total(ctx, lines)}
}

// checkShop enforces the single-shop invariant across every existing line,
// not just the first one that resolves: a line whose snapshot carries no
// shop must not mask a mismatch further down the cart. Unresolvable
// snapshots do not block the add; reconciliation at checkout has the final
// word.
func (s *cartService) checkShop(ctx context.Context, lines []domain.CartLine, incoming domain.ProductSnapshot) error {
	if len(lines) == 0 || incoming.ShopID == "" {
		return nil
	}
	for _, line := range lines {
		if line.ProductID == incoming.ProductID {
			continue
		}
		existing, err := s.snapshots.Get(ctx, line.ProductID)
		if err != nil {
			continue
		}
		if existing.ShopID != "" && existing.ShopID != incoming.ShopID {
			return ErrShopMismatch
		}
	}
	return nil
}

func (s *cartService) translateRepoError(err error) error {
	if err == nil {
		return nil
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return ErrCartLineNotFound
		case repoErr.IsConflict():
			return ErrCartConflict
		case repoErr.IsUnavailable():
			return ErrCartUnavailable
		}
		return ErrCartUnavailable
	}
	return ErrCartUnavailable
}

func (s *cartService) translateSnapshotError(err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, ErrSnapshotInvalidInput):
		return ErrCartInvalidInput
	case errors.Is(err, ErrSnapshotNotFound):
		return ErrProductUnavailable
	default:
		return ErrCartUnavailable
	}
}

func indexOfLine(lines []domain.CartLine, productID string) int {
	for i, line := range lines {
		if line.ProductID == productID {
			return i
		}
	}
	return -1
}
