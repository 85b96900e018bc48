package services

import (
	"context"

	domain "github.com/shopora/checkout/internal/domain"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	CartLine            = domain.CartLine
	ProductSnapshot     = domain.ProductSnapshot
	CheckoutSession     = domain.CheckoutSession
	CheckoutSessionLine = domain.CheckoutSessionLine
	CheckoutState       = domain.CheckoutState
	StateChange         = domain.StateChange
	Order               = domain.Order
	Adjustment          = domain.Adjustment
	PaymentMethod       = domain.PaymentMethod
)

// CartView is a cart rendered for display: the persisted lines plus the
// snapshot-derived total.
type CartView struct {
	Lines []CartLine
	Total int64
}

// AddItemCommand adds quantity units of a product to the cart.
type AddItemCommand struct {
	ProductID string
	Quantity  int
}

// UpdateQuantityCommand sets a line's desired quantity. A non-positive
// quantity removes the line.
type UpdateQuantityCommand struct {
	ProductID string
	Quantity  int
}

// CartService owns the durable cart lines and their snapshot-guarded
// mutations.
type CartService interface {
	AddItem(ctx context.Context, cmd AddItemCommand) (CartView, error)
	UpdateQuantity(ctx context.Context, cmd UpdateQuantityCommand) (CartView, error)
	RemoveItem(ctx context.Context, productID string) (CartView, error)
	Clear(ctx context.Context) error
	Lines(ctx context.Context) ([]CartLine, error)
	Total(ctx context.Context) (int64, error)
}

// SnapshotService is the read-through product snapshot cache.
type SnapshotService interface {
	Get(ctx context.Context, productID string) (ProductSnapshot, error)
	Refresh(ctx context.Context, productIDs []string) ([]ProductSnapshot, error)
}

// ReconciledCart is the best-effort valid cart a reconciliation pass
// produced, together with the frozen snapshots backing each kept line.
type ReconciledCart struct {
	Lines       []CartLine
	Snapshots   map[string]ProductSnapshot
	Adjustments []Adjustment
}

// Reconciler repairs cart lines against current catalog truth. It never
// fails outright; it reports what it changed.
type Reconciler interface {
	Reconcile(ctx context.Context, lines []CartLine) (ReconciledCart, error)
}

// BeginCheckoutCommand starts one checkout attempt.
type BeginCheckoutCommand struct {
	UserID          string
	PaymentMethod   PaymentMethod
	ShippingAddress string
	Notes           string
}

// CheckoutAttempt is the caller-visible view of an attempt after Begin
// returns. For card payments the attempt is parked awaiting the gateway.
type CheckoutAttempt struct {
	Session     CheckoutSession
	Adjustments []Adjustment
	ClientKey   string
}

// GatewayEventKind enumerates the three ways control returns from the
// gateway UI.
type GatewayEventKind string

const (
	// GatewayEventSuccess carries the gateway's proof-of-payment reference.
	GatewayEventSuccess GatewayEventKind = "success"
	// GatewayEventFailure carries the gateway's failure reason.
	GatewayEventFailure GatewayEventKind = "failure"
	// GatewayEventDismissed records that the user closed the gateway UI.
	GatewayEventDismissed GatewayEventKind = "dismissed"
)

// GatewayEvent is one gateway-originated callback fed into the orchestrator.
type GatewayEvent struct {
	AttemptID string
	Kind      GatewayEventKind
	Reference string
	Reason    string
}

// CheckoutService drives the checkout state machine, one attempt at a time.
type CheckoutService interface {
	Begin(ctx context.Context, cmd BeginCheckoutCommand) (CheckoutAttempt, error)
	HandleGatewayEvent(ctx context.Context, event GatewayEvent) (CheckoutSession, error)
	CurrentSession() (CheckoutSession, bool)
	Subscribe() (<-chan StateChange, func())
}
