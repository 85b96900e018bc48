package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/shopora/checkout/internal/domain"
	"github.com/shopora/checkout/internal/payments"
	"github.com/shopora/checkout/internal/platform/idempotency"
	"github.com/shopora/checkout/internal/platform/observability"
)

var (
	errCheckoutCartRequired       = errors.New("checkout service: cart service is required")
	errCheckoutReconcilerRequired = errors.New("checkout service: reconciler is required")
	errCheckoutOrdersRequired     = errors.New("checkout service: order client is required")
	errCheckoutGatewayRequired    = errors.New("checkout service: gateway provider is required")
	errCheckoutClockRequired      = errors.New("checkout service: clock is required")
)

// ErrCheckoutInvalidInput indicates the caller supplied invalid input.
var ErrCheckoutInvalidInput = errors.New("checkout service: invalid input")

// ErrEmptyCart indicates checkout cannot begin because no valid lines remain.
var ErrEmptyCart = errors.New("checkout service: cart is empty")

// ErrCheckoutInProgress indicates another attempt is already in flight.
var ErrCheckoutInProgress = errors.New("checkout service: attempt already in progress")

// ErrNoShippingAddress indicates no shipping address could be resolved.
var ErrNoShippingAddress = errors.New("checkout service: no shipping address")

// ErrOrderCreationFailed indicates the order service did not produce an order.
var ErrOrderCreationFailed = errors.New("checkout service: order creation failed")

// ErrPaymentVerificationFailed indicates the server could not confirm the
// payment the gateway reported. The order stays in its unconfirmed-payment
// state; the cart is not touched.
var ErrPaymentVerificationFailed = errors.New("checkout service: payment verification failed")

// ErrNoActiveAttempt indicates a gateway event arrived with no attempt
// awaiting one.
var ErrNoActiveAttempt = errors.New("checkout service: no attempt awaiting gateway result")

// ErrUnknownAttempt indicates a gateway event referenced a different attempt.
var ErrUnknownAttempt = errors.New("checkout service: unknown attempt")

const (
	orderIdemScope     = "checkout:order"
	stateStreamBacklog = 8
)

// OrderPlacement is the normalized order payload handed to the order client.
type OrderPlacement struct {
	AttemptID       string
	UserID          string
	ShopID          string
	Lines           []CheckoutSessionLine
	Subtotal        int64
	DeliveryCharge  int64
	Total           int64
	ShippingAddress string
	PaymentMethod   PaymentMethod
	Notes           string
}

// OrderClient abstracts the order service for the orchestrator.
type OrderClient interface {
	CreateOrder(ctx context.Context, placement OrderPlacement) (Order, error)
	FindByAttempt(ctx context.Context, attemptID string) (Order, bool, error)
}

// AddressSource resolves the user's preferred shipping address.
type AddressSource interface {
	PreferredAddress(ctx context.Context, userID string) (string, error)
}

// CheckoutServiceDeps wires every collaborator the orchestrator drives.
type CheckoutServiceDeps struct {
	Cart        CartService
	Reconciler  Reconciler
	Orders      OrderClient
	Gateway     payments.Provider
	Addresses   AddressSource
	Idempotency idempotency.Store
	IdemTTL     time.Duration
	Pricer      DeliveryPricer
	Currency    string
	Clock       func() time.Time
	IDGenerator func() string
	Logger      func(context.Context, string, map[string]any)
}

type checkoutService struct {
	cart       CartService
	reconciler Reconciler
	orders     OrderClient
	gateway    payments.Provider
	addresses  AddressSource
	idem       idempotency.Store
	idemTTL    time.Duration
	pricer     DeliveryPricer
	currency   string
	now        func() time.Time
	newID      func() string
	logger     func(context.Context, string, map[string]any)

	mu          sync.Mutex
	session     *domain.CheckoutSession
	subscribers map[int]chan StateChange
	nextSub     int
}

// NewCheckoutService constructs the checkout orchestrator.
func NewCheckoutService(deps CheckoutServiceDeps) (CheckoutService, error) {
	if deps.Cart == nil {
		return nil, errCheckoutCartRequired
	}
	if deps.Reconciler == nil {
		return nil, errCheckoutReconcilerRequired
	}
	if deps.Orders == nil {
		return nil, errCheckoutOrdersRequired
	}
	if deps.Gateway == nil {
		return nil, errCheckoutGatewayRequired
	}
	if deps.Clock == nil {
		return nil, errCheckoutClockRequired
	}

	currency := strings.ToUpper(strings.TrimSpace(deps.Currency))
	if currency == "" {
		currency = "USD"
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string { return ulid.Make().String() }
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	idemTTL := deps.IdemTTL
	if idemTTL <= 0 {
		idemTTL = idempotency.DefaultTTL
	}

	return &checkoutService{
		cart:        deps.Cart,
		reconciler:  deps.Reconciler,
		orders:      deps.Orders,
		gateway:     deps.Gateway,
		addresses:   deps.Addresses,
		idem:        deps.Idempotency,
		idemTTL:     idemTTL,
		pricer:      deps.Pricer,
		currency:    currency,
		now:         func() time.Time { return deps.Clock().UTC() },
		newID:       idGen,
		logger:      logger,
		subscribers: make(map[int]chan StateChange),
	}, nil
}

// Begin runs one checkout attempt through validation, order creation and
// intent creation, then parks it awaiting the gateway result. Cash on
// delivery attempts confirm immediately after order creation. Only one
// attempt may be in flight at a time.
func (s *checkoutService) Begin(ctx context.Context, cmd BeginCheckoutCommand) (CheckoutAttempt, error) {
	method := cmd.PaymentMethod
	if method == "" {
		method = domain.PaymentMethodCard
	}
	if method != domain.PaymentMethodCard && method != domain.PaymentMethodCashOnDelivery {
		return CheckoutAttempt{}, fmt.Errorf("%w: unknown payment method %q", ErrCheckoutInvalidInput, cmd.PaymentMethod)
	}

	lines, err := s.cart.Lines(ctx)
	if err != nil {
		return CheckoutAttempt{}, err
	}
	if len(lines) == 0 {
		return CheckoutAttempt{}, ErrEmptyCart
	}

	session, err := s.reserveAttempt(method, cmd.Notes)
	if err != nil {
		return CheckoutAttempt{}, err
	}

	s.logger(ctx, "checkout.attempt.started", map[string]any{
		"attemptId":     session.AttemptID,
		"paymentMethod": string(method),
	})

	s.transition(ctx, domain.StateValidating, "")
	reconciled, err := s.reconcileStep(ctx, lines)
	if err != nil {
		return CheckoutAttempt{}, err
	}
	if len(reconciled.Lines) == 0 {
		s.fail(ctx, "cart empty after reconciliation")
		return CheckoutAttempt{}, ErrEmptyCart
	}

	if err := s.freezeSession(reconciled); err != nil {
		s.fail(ctx, err.Error())
		return CheckoutAttempt{}, err
	}

	address, err := s.resolveAddress(ctx, cmd)
	if err != nil {
		s.fail(ctx, "no shipping address")
		return CheckoutAttempt{}, err
	}
	s.withSession(func(session *domain.CheckoutSession) {
		session.ShippingAddress = address
	})

	s.transition(ctx, domain.StateCreatingOrder, "")
	order, err := s.createOrderStep(ctx, cmd.UserID)
	if err != nil {
		s.fail(ctx, "order creation failed")
		return CheckoutAttempt{}, err
	}
	s.withSession(func(session *domain.CheckoutSession) {
		session.OrderID = order.ID
		session.OrderNumber = order.OrderNumber
	})

	if method == domain.PaymentMethodCashOnDelivery {
		s.confirm(ctx, order.TotalAmount)
		return s.attemptResult(reconciled.Adjustments, ""), nil
	}

	s.transition(ctx, domain.StateCreatingPaymentIntent, "")
	handle, err := s.createIntentStep(ctx, order)
	if err != nil {
		s.fail(ctx, "payment intent creation failed")
		return CheckoutAttempt{}, err
	}
	s.withSession(func(session *domain.CheckoutSession) {
		session.IntentID = handle.IntentID
	})

	s.transition(ctx, domain.StateAwaitingGatewayResult, "")
	return s.attemptResult(reconciled.Adjustments, handle.ClientSecret), nil
}

// HandleGatewayEvent resumes the parked attempt with the gateway's verdict.
// A reported success is never trusted as-is: it moves the attempt into
// verification, and only the server-side confirmation reaches Confirmed.
// Verification is not cancellable once started.
func (s *checkoutService) HandleGatewayEvent(ctx context.Context, event GatewayEvent) (CheckoutSession, error) {
	switch event.Kind {
	case GatewayEventSuccess, GatewayEventFailure, GatewayEventDismissed:
	default:
		return CheckoutSession{}, fmt.Errorf("%w: unknown gateway event %q", ErrCheckoutInvalidInput, event.Kind)
	}

	s.mu.Lock()
	if s.session == nil || s.session.State != domain.StateAwaitingGatewayResult {
		s.mu.Unlock()
		return CheckoutSession{}, ErrNoActiveAttempt
	}
	if event.AttemptID != "" && event.AttemptID != s.session.AttemptID {
		s.mu.Unlock()
		return CheckoutSession{}, ErrUnknownAttempt
	}
	session := *s.session

	// The verdict claims the attempt inside the same critical section as
	// the state guard; a racing second callback must fail the guard above
	// rather than run the flow twice.
	var claimed StateChange
	switch event.Kind {
	case GatewayEventSuccess:
		s.session.State = domain.StateVerifyingPayment
		claimed = StateChange{
			AttemptID: session.AttemptID,
			State:     domain.StateVerifyingPayment,
			OrderID:   session.OrderID,
			At:        s.now(),
		}
	case GatewayEventDismissed:
		ended := s.now()
		s.session.State = domain.StateAbandoned
		s.session.EndedAt = &ended
		s.session.FailReason = "gateway dismissed by user"
		claimed = StateChange{
			AttemptID: session.AttemptID,
			State:     domain.StateAbandoned,
			Reason:    s.session.FailReason,
			OrderID:   session.OrderID,
			At:        ended,
		}
	case GatewayEventFailure:
		reason := strings.TrimSpace(event.Reason)
		if reason == "" {
			reason = "gateway reported failure"
		}
		ended := s.now()
		s.session.State = domain.StateFailed
		s.session.EndedAt = &ended
		s.session.FailReason = reason
		claimed = StateChange{
			AttemptID: session.AttemptID,
			State:     domain.StateFailed,
			Reason:    reason,
			OrderID:   session.OrderID,
			At:        ended,
		}
	}
	s.notifyLocked(claimed)
	s.mu.Unlock()

	s.logger(ctx, "checkout.state.changed", map[string]any{
		"attemptId": claimed.AttemptID,
		"state":     string(claimed.State),
		"reason":    claimed.Reason,
	})

	if event.Kind != GatewayEventSuccess {
		observability.CountCheckoutOutcome(string(claimed.State))
		return s.snapshotSession(), nil
	}

	// The verification call must resolve even if the caller goes away;
	// aborting here could orphan a paid but unconfirmed order.
	verifyCtx := context.WithoutCancel(ctx)
	started := s.now()
	outcome, err := s.gateway.VerifyPayment(verifyCtx, payments.VerifyRequest{
		OrderID:   session.OrderID,
		IntentID:  session.IntentID,
		Reference: event.Reference,
	})
	observability.ObserveCheckoutStep("verify_payment", time.Since(started))
	if err != nil || !outcome.Paid {
		if err != nil {
			s.logger(ctx, "checkout.verify.error", map[string]any{
				"attemptId": session.AttemptID,
				"error":     err.Error(),
			})
		}
		s.fail(ctx, "payment verification failed")
		return s.snapshotSession(), ErrPaymentVerificationFailed
	}

	s.confirm(ctx, outcome.AuthorizedAmount)
	return s.snapshotSession(), nil
}

// CurrentSession returns a copy of the active or most recent attempt.
func (s *checkoutService) CurrentSession() (CheckoutSession, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session == nil {
		return CheckoutSession{}, false
	}
	return *s.session, true
}

// Subscribe registers a state stream listener. The returned func detaches
// it. A slow listener loses intermediate transitions rather than blocking
// the state machine.
func (s *checkoutService) Subscribe() (<-chan StateChange, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextSub
	s.nextSub++
	ch := make(chan StateChange, stateStreamBacklog)
	s.subscribers[id] = ch

	return ch, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if sub, ok := s.subscribers[id]; ok {
			delete(s.subscribers, id)
			close(sub)
		}
	}
}

func (s *checkoutService) reserveAttempt(method PaymentMethod, notes string) (domain.CheckoutSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session != nil && !s.session.State.Terminal() {
		return domain.CheckoutSession{}, ErrCheckoutInProgress
	}
	s.session = &domain.CheckoutSession{
		AttemptID:     s.newID(),
		PaymentMethod: method,
		Notes:         strings.TrimSpace(notes),
		State:         domain.StateIdle,
		StartedAt:     s.now(),
	}
	return *s.session, nil
}

func (s *checkoutService) reconcileStep(ctx context.Context, lines []domain.CartLine) (ReconciledCart, error) {
	started := s.now()
	reconciled, err := s.reconciler.Reconcile(ctx, lines)
	observability.ObserveCheckoutStep("reconcile", time.Since(started))
	if err != nil {
		s.fail(ctx, "reconciliation aborted")
		return ReconciledCart{}, err
	}
	return reconciled, nil
}

// freezeSession fixes the attempt's lines against their snapshots. Later
// cart mutations no longer affect this attempt.
func (s *checkoutService) freezeSession(reconciled ReconciledCart) error {
	shopID := ""
	frozen := make([]domain.CheckoutSessionLine, 0, len(reconciled.Lines))
	for _, line := range reconciled.Lines {
		snapshot, ok := reconciled.Snapshots[line.ProductID]
		if !ok {
			return fmt.Errorf("%w: missing snapshot for %s", ErrCheckoutInvalidInput, line.ProductID)
		}
		if shopID == "" {
			shopID = snapshot.ShopID
		} else if snapshot.ShopID != shopID {
			return ErrShopMismatch
		}
		frozen = append(frozen, domain.CheckoutSessionLine{
			ProductID: line.ProductID,
			Name:      snapshot.Name,
			Quantity:  line.Quantity,
			UnitPrice: snapshot.UnitPrice,
			LineTotal: snapshot.UnitPrice * int64(line.Quantity),
		})
	}

	subtotal := subtotalOf(frozen)
	delivery := s.pricer.Charge(subtotal)
	s.withSession(func(session *domain.CheckoutSession) {
		session.ShopID = shopID
		session.Lines = frozen
		session.Subtotal = subtotal
		session.DeliveryCharge = delivery
		session.EstimatedTotal = subtotal + delivery
	})
	return nil
}

// resolveAddress prefers the profile's saved address over the free-text one
// supplied with the command.
func (s *checkoutService) resolveAddress(ctx context.Context, cmd BeginCheckoutCommand) (string, error) {
	if s.addresses != nil && strings.TrimSpace(cmd.UserID) != "" {
		address, err := s.addresses.PreferredAddress(ctx, cmd.UserID)
		if err == nil && strings.TrimSpace(address) != "" {
			return strings.TrimSpace(address), nil
		}
		if err != nil {
			s.logger(ctx, "checkout.address.lookup_failed", map[string]any{
				"error": err.Error(),
			})
		}
	}
	if address := strings.TrimSpace(cmd.ShippingAddress); address != "" {
		return address, nil
	}
	return "", ErrNoShippingAddress
}

// createOrderStep creates the attempt's order exactly once. The attempt ID
// is the idempotency key; an ambiguous failure checks for an already-created
// order before giving up.
func (s *checkoutService) createOrderStep(ctx context.Context, userID string) (domain.Order, error) {
	session := s.snapshotSession()
	placement := OrderPlacement{
		AttemptID:       session.AttemptID,
		UserID:          strings.TrimSpace(userID),
		ShopID:          session.ShopID,
		Lines:           session.Lines,
		Subtotal:        session.Subtotal,
		DeliveryCharge:  session.DeliveryCharge,
		Total:           session.EstimatedTotal,
		ShippingAddress: session.ShippingAddress,
		PaymentMethod:   session.PaymentMethod,
		Notes:           session.Notes,
	}

	if s.idem != nil {
		reservation, err := s.idem.Reserve(ctx, orderIdemScope, session.AttemptID, s.now(), s.idemTTL)
		if err == nil && reservation.State == idempotency.ReservationStateCompleted {
			if order, found, findErr := s.orders.FindByAttempt(ctx, session.AttemptID); findErr == nil && found {
				return order, nil
			}
		}
	}

	started := s.now()
	order, err := s.orders.CreateOrder(ctx, placement)
	observability.ObserveCheckoutStep("create_order", time.Since(started))
	if err != nil {
		// An ambiguous transport failure may have created the order anyway.
		if existing, found, findErr := s.orders.FindByAttempt(ctx, session.AttemptID); findErr == nil && found {
			order = existing
		} else {
			if s.idem != nil {
				if relErr := s.idem.Release(ctx, orderIdemScope, session.AttemptID); relErr != nil {
					s.logger(ctx, "checkout.idempotency.release_failed", map[string]any{
						"attemptId": session.AttemptID,
						"error":     relErr.Error(),
					})
				}
			}
			return domain.Order{}, fmt.Errorf("%w: %v", ErrOrderCreationFailed, err)
		}
	}

	if s.idem != nil {
		if err := s.idem.SaveResult(ctx, orderIdemScope, session.AttemptID, order.ID, s.now(), s.idemTTL); err != nil {
			s.logger(ctx, "checkout.idempotency.save_failed", map[string]any{
				"attemptId": session.AttemptID,
				"error":     err.Error(),
			})
		}
	}
	return order, nil
}

func (s *checkoutService) createIntentStep(ctx context.Context, order domain.Order) (payments.IntentHandle, error) {
	session := s.snapshotSession()
	started := s.now()
	// The order service's total is authoritative; the local estimate is
	// display only.
	handle, err := s.gateway.CreateIntent(ctx, payments.IntentRequest{
		OrderID:        order.ID,
		AttemptID:      session.AttemptID,
		Amount:         order.TotalAmount,
		Currency:       s.currency,
		Description:    fmt.Sprintf("order %s", order.OrderNumber),
		IdempotencyKey: session.AttemptID,
	})
	observability.ObserveCheckoutStep("create_intent", time.Since(started))
	if err != nil {
		return payments.IntentHandle{}, err
	}
	return handle, nil
}

// confirm is the single place the cart is cleared.
func (s *checkoutService) confirm(ctx context.Context, authorizedTotal int64) {
	if err := s.cart.Clear(ctx); err != nil {
		s.logger(ctx, "checkout.cart.clear_failed", map[string]any{"error": err.Error()})
	}
	s.withSession(func(session *domain.CheckoutSession) {
		session.AuthorizedTotal = authorizedTotal
	})
	s.terminate(ctx, domain.StateConfirmed, "")
}

func (s *checkoutService) fail(ctx context.Context, reason string) {
	s.terminate(ctx, domain.StateFailed, reason)
}

func (s *checkoutService) terminate(ctx context.Context, state domain.CheckoutState, reason string) {
	s.withSession(func(session *domain.CheckoutSession) {
		ended := s.now()
		session.EndedAt = &ended
		session.FailReason = reason
	})
	s.transition(ctx, state, reason)
	observability.CountCheckoutOutcome(string(state))
}

func (s *checkoutService) transition(ctx context.Context, state domain.CheckoutState, reason string) {
	s.mu.Lock()
	if s.session == nil {
		s.mu.Unlock()
		return
	}
	s.session.State = state
	change := StateChange{
		AttemptID: s.session.AttemptID,
		State:     state,
		Reason:    reason,
		OrderID:   s.session.OrderID,
		At:        s.now(),
	}
	s.notifyLocked(change)
	s.mu.Unlock()

	s.logger(ctx, "checkout.state.changed", map[string]any{
		"attemptId": change.AttemptID,
		"state":     string(state),
		"reason":    reason,
	})
}

// notifyLocked delivers a state change to every subscriber. It must run
// with s.mu held so an unsubscribe cannot close a channel between the
// subscriber snapshot and the send. Sends never block; a full backlog
// drops the change for that listener.
func (s *checkoutService) notifyLocked(change StateChange) {
	for _, sub := range s.subscribers {
		select {
		case sub <- change:
		default:
		}
	}
}

func (s *checkoutService) withSession(mutate func(*domain.CheckoutSession)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session != nil {
		mutate(s.session)
	}
}

func (s *checkoutService) snapshotSession() domain.CheckoutSession {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session == nil {
		return domain.CheckoutSession{}
	}
	return *s.session
}

func (s *checkoutService) attemptResult(adjustments []Adjustment, clientKey string) CheckoutAttempt {
	return CheckoutAttempt{
		Session:     s.snapshotSession(),
		Adjustments: adjustments,
		ClientKey:   clientKey,
	}
}
