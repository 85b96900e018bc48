package domain

import (
	"time"
)

// Availability enumerates the catalog-reported availability of a product.
type Availability string

const (
	// AvailabilityAvailable indicates the product can currently be ordered.
	AvailabilityAvailable Availability = "available"
	// AvailabilityOutOfStock indicates the catalog reports no sellable stock.
	AvailabilityOutOfStock Availability = "out_of_stock"
)

// CartLine is a single desired-quantity entry in the cart. Lines are unique
// per product and a persisted line always carries a positive quantity;
// a line that would reach zero is deleted instead.
type CartLine struct {
	ProductID string    `json:"productId"`
	Quantity  int       `json:"quantity"`
	AddedAt   time.Time `json:"addedAt"`
}

// ProductSnapshot is the last-known catalog view of a product. The
// authoritative copy lives in the catalog service; a snapshot is advisory
// and may already be stale at the moment it is read.
type ProductSnapshot struct {
	ProductID     string       `json:"productId"`
	ShopID        string       `json:"shopId"`
	Name          string       `json:"name"`
	UnitPrice     int64        `json:"unitPrice"`
	StockQuantity int          `json:"stockQuantity"`
	Availability  Availability `json:"availability"`
	RefreshedAt   time.Time    `json:"refreshedAt"`
}

// Sellable reports whether the snapshot allows ordering at least one unit.
func (s ProductSnapshot) Sellable() bool {
	return s.Availability == AvailabilityAvailable && s.StockQuantity > 0
}

// CheckoutState enumerates the orchestrator's states. The machine is linear
// with Failed reachable from every non-terminal state and Abandoned
// reachable only while awaiting the gateway result.
type CheckoutState string

const (
	// StateIdle means no checkout attempt is in flight.
	StateIdle CheckoutState = "idle"
	// StateValidating means the cart is being reconciled against the catalog.
	StateValidating CheckoutState = "validating"
	// StateCreatingOrder means the order service call is in flight.
	StateCreatingOrder CheckoutState = "creating_order"
	// StateCreatingPaymentIntent means the gateway intent is being requested.
	StateCreatingPaymentIntent CheckoutState = "creating_payment_intent"
	// StateAwaitingGatewayResult means control sits with the gateway UI.
	StateAwaitingGatewayResult CheckoutState = "awaiting_gateway_result"
	// StateVerifyingPayment means the gateway's proof is being verified server-side.
	StateVerifyingPayment CheckoutState = "verifying_payment"
	// StateConfirmed is the terminal success state; it alone clears the cart.
	StateConfirmed CheckoutState = "confirmed"
	// StateFailed is the terminal error state; the cart is left intact.
	StateFailed CheckoutState = "failed"
	// StateAbandoned records a user dismissal of the gateway UI, kept apart
	// from StateFailed so retry UX and analytics can tell the two apart.
	StateAbandoned CheckoutState = "abandoned"
)

// Terminal reports whether the state ends a checkout attempt.
func (s CheckoutState) Terminal() bool {
	switch s {
	case StateConfirmed, StateFailed, StateAbandoned:
		return true
	}
	return false
}

// PaymentMethod selects how an order is paid.
type PaymentMethod string

const (
	// PaymentMethodCard routes the attempt through the payment gateway.
	PaymentMethodCard PaymentMethod = "card"
	// PaymentMethodCashOnDelivery completes without gateway involvement.
	PaymentMethodCashOnDelivery PaymentMethod = "cash_on_delivery"
)

// CheckoutSessionLine is a cart line frozen against its product snapshot at
// validation time. Later cart mutations do not affect it.
type CheckoutSessionLine struct {
	ProductID string
	Name      string
	Quantity  int
	UnitPrice int64
	LineTotal int64
}

// CheckoutSession is the ephemeral aggregate for one checkout attempt. It
// lives only for the duration of the attempt and is never persisted; a fresh
// attempt builds a fresh session. All lines belong to a single shop.
type CheckoutSession struct {
	AttemptID       string
	ShopID          string
	Lines           []CheckoutSessionLine
	Subtotal        int64
	DeliveryCharge  int64
	EstimatedTotal  int64
	ShippingAddress string
	PaymentMethod   PaymentMethod
	Notes           string

	// Filled in as the state machine advances.
	OrderID         string
	OrderNumber     string
	AuthorizedTotal int64
	IntentID        string

	State      CheckoutState
	FailReason string
	StartedAt  time.Time
	EndedAt    *time.Time
}

// StateChange is one transition published on the checkout state stream.
type StateChange struct {
	AttemptID string        `json:"attemptId"`
	State     CheckoutState `json:"state"`
	Reason    string        `json:"reason,omitempty"`
	OrderID   string        `json:"orderId,omitempty"`
	At        time.Time     `json:"at"`
}

// OrderStatus mirrors the order service's payment-facing status values.
type OrderStatus string

const (
	// OrderStatusPendingPayment indicates the order awaits payment completion.
	OrderStatusPendingPayment OrderStatus = "pending_payment"
	// OrderStatusPaid indicates payment was confirmed server-side.
	OrderStatusPaid OrderStatus = "paid"
	// OrderStatusConfirmed indicates a cash-on-delivery order accepted as-is.
	OrderStatusConfirmed OrderStatus = "confirmed"
)

// Order is the server-owned record as the engine sees it: created once,
// then looked up and confirmed, never silently replaced.
type Order struct {
	ID          string
	OrderNumber string
	TotalAmount int64
	Status      OrderStatus
	CreatedAt   time.Time
}

// AdjustmentKind classifies a reconciliation repair.
type AdjustmentKind string

const (
	// AdjustmentClamped means the quantity was lowered to the available stock.
	AdjustmentClamped AdjustmentKind = "clamped"
	// AdjustmentDropped means the line was removed from the cart.
	AdjustmentDropped AdjustmentKind = "dropped"
)

// Adjustment records one repair the reconciler made to a cart line, so the
// caller can surface "we changed your cart" notices.
type Adjustment struct {
	ProductID    string         `json:"productId"`
	Kind         AdjustmentKind `json:"kind"`
	FromQuantity int            `json:"fromQuantity"`
	ToQuantity   int            `json:"toQuantity"`
	Reason       string         `json:"reason"`
}
