package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/shopora/checkout/internal/clients"
	"github.com/shopora/checkout/internal/domain"
	"github.com/shopora/checkout/internal/payments"
	"github.com/shopora/checkout/internal/platform/httpx"
	"github.com/shopora/checkout/internal/services"
)

const (
	maxCheckoutBodySize = 8 * 1024

	beginAttemptLimit  = 10
	beginAttemptWindow = time.Minute
)

// OrderReader fetches a created order from the order service, for the
// post-confirmation status view.
type OrderReader interface {
	GetOrder(ctx context.Context, orderID string) (services.Order, error)
}

// CheckoutHandlers exposes the checkout endpoints: begin, gateway callback
// ingress, the state stream and the order status view.
type CheckoutHandlers struct {
	checkout services.CheckoutService
	orders   OrderReader
	logger   func(context.Context, string, map[string]any)
	limiter  rateLimiter
}

// NewCheckoutHandlers constructs handlers over the checkout orchestrator.
// Begin attempts are throttled per user to keep a stuck client from
// hammering the downstream order and payment services.
func NewCheckoutHandlers(checkout services.CheckoutService, orders OrderReader, logger func(context.Context, string, map[string]any)) *CheckoutHandlers {
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &CheckoutHandlers{
		checkout: checkout,
		orders:   orders,
		logger:   logger,
		limiter:  newSimpleRateLimiter(beginAttemptLimit, beginAttemptWindow, time.Now),
	}
}

// Routes wires the /checkout endpoints onto the provided router.
func (h *CheckoutHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/", h.begin)
	r.Post("/gateway-result", h.gatewayResult)
	r.Get("/state", h.stateStream)
	r.Get("/session", h.currentSession)
	r.Get("/orders/{orderID}", h.orderStatus)
}

type beginCheckoutRequest struct {
	PaymentMethod   string `json:"paymentMethod"`
	ShippingAddress string `json:"shippingAddress"`
	Notes           string `json:"notes"`
}

type gatewayResultRequest struct {
	AttemptID string `json:"attemptId"`
	Result    string `json:"result"`
	Reference string `json:"reference"`
	Reason    string `json:"reason"`
}

type adjustmentPayload struct {
	ProductID    string `json:"productId"`
	Kind         string `json:"kind"`
	FromQuantity int    `json:"fromQuantity"`
	ToQuantity   int    `json:"toQuantity"`
	Reason       string `json:"reason"`
}

type sessionLinePayload struct {
	ProductID string `json:"productId"`
	Name      string `json:"name"`
	Quantity  int    `json:"quantity"`
	UnitPrice int64  `json:"unitPrice"`
	LineTotal int64  `json:"lineTotal"`
}

type sessionPayload struct {
	AttemptID       string               `json:"attemptId"`
	State           string               `json:"state"`
	PaymentMethod   string               `json:"paymentMethod"`
	Lines           []sessionLinePayload `json:"lines"`
	Subtotal        int64                `json:"subtotal"`
	DeliveryCharge  int64                `json:"deliveryCharge"`
	EstimatedTotal  int64                `json:"estimatedTotal"`
	AuthorizedTotal int64                `json:"authorizedTotal,omitempty"`
	ShippingAddress string               `json:"shippingAddress,omitempty"`
	OrderID         string               `json:"orderId,omitempty"`
	OrderNumber     string               `json:"orderNumber,omitempty"`
	FailReason      string               `json:"failReason,omitempty"`
	StartedAt       string               `json:"startedAt,omitempty"`
	EndedAt         string               `json:"endedAt,omitempty"`
}

type beginCheckoutResponse struct {
	Session     sessionPayload      `json:"session"`
	Adjustments []adjustmentPayload `json:"adjustments"`
	ClientKey   string              `json:"clientKey,omitempty"`
}

func (h *CheckoutHandlers) begin(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.checkout == nil {
		httpx.WriteError(ctx, w, httpx.NewError("checkout_unavailable", "checkout service is unavailable", http.StatusServiceUnavailable))
		return
	}

	userID := requestUserID(r)
	if h.limiter != nil && !h.limiter.Allow(userID) {
		h.logger(ctx, "checkout.begin.rate_limited", map[string]any{"userId": userID})
		httpx.WriteError(ctx, w, httpx.NewError("rate_limited", "too many checkout attempts, retry later", http.StatusTooManyRequests))
		return
	}

	var req beginCheckoutRequest
	if err := decodeJSONBody(r, maxCheckoutBodySize, &req); err != nil && !errors.Is(err, errEmptyBody) {
		writeBodyError(ctx, w, err)
		return
	}

	attempt, err := h.checkout.Begin(ctx, services.BeginCheckoutCommand{
		UserID:          userID,
		PaymentMethod:   services.PaymentMethod(strings.TrimSpace(req.PaymentMethod)),
		ShippingAddress: req.ShippingAddress,
		Notes:           req.Notes,
	})
	if err != nil {
		h.writeCheckoutError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusCreated, beginCheckoutResponse{
		Session:     buildSessionPayload(attempt.Session),
		Adjustments: buildAdjustmentPayloads(attempt.Adjustments),
		ClientKey:   attempt.ClientKey,
	})
}

func (h *CheckoutHandlers) gatewayResult(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.checkout == nil {
		httpx.WriteError(ctx, w, httpx.NewError("checkout_unavailable", "checkout service is unavailable", http.StatusServiceUnavailable))
		return
	}

	var req gatewayResultRequest
	if err := decodeJSONBody(r, maxCheckoutBodySize, &req); err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	var kind services.GatewayEventKind
	switch strings.ToLower(strings.TrimSpace(req.Result)) {
	case "success":
		kind = services.GatewayEventSuccess
	case "failure":
		kind = services.GatewayEventFailure
	case "dismissed":
		kind = services.GatewayEventDismissed
	default:
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", fmt.Sprintf("unknown gateway result %q", req.Result), http.StatusBadRequest))
		return
	}

	session, err := h.checkout.HandleGatewayEvent(ctx, services.GatewayEvent{
		AttemptID: strings.TrimSpace(req.AttemptID),
		Kind:      kind,
		Reference: strings.TrimSpace(req.Reference),
		Reason:    req.Reason,
	})
	if err != nil && !errors.Is(err, services.ErrPaymentVerificationFailed) {
		h.writeCheckoutError(ctx, w, err)
		return
	}
	// A failed verification still reports the terminal session so the
	// caller can render the failure.
	writeJSONResponse(w, http.StatusOK, buildSessionPayload(session))
}

func (h *CheckoutHandlers) currentSession(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.checkout == nil {
		httpx.WriteError(ctx, w, httpx.NewError("checkout_unavailable", "checkout service is unavailable", http.StatusServiceUnavailable))
		return
	}

	session, ok := h.checkout.CurrentSession()
	if !ok {
		httpx.WriteError(ctx, w, httpx.NewError("no_checkout_session", "no checkout attempt exists", http.StatusNotFound))
		return
	}
	writeJSONResponse(w, http.StatusOK, buildSessionPayload(session))
}

type orderStatusPayload struct {
	ID          string `json:"id"`
	OrderNumber string `json:"orderNumber"`
	TotalAmount int64  `json:"totalAmount"`
	Status      string `json:"status"`
	CreatedAt   string `json:"createdAt"`
}

// orderStatus serves the post-confirmation order view straight from the
// order service.
func (h *CheckoutHandlers) orderStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("orders_unavailable", "order lookup is unavailable", http.StatusServiceUnavailable))
		return
	}

	order, err := h.orders.GetOrder(ctx, chi.URLParam(r, "orderID"))
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrInvalidIdentifier):
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is malformed", http.StatusBadRequest))
		case errors.Is(err, clients.ErrNotFound):
			httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "no such order", http.StatusNotFound))
		case errors.Is(err, clients.ErrUnavailable):
			httpx.WriteError(ctx, w, httpx.NewError("orders_unavailable", "order service is unavailable", http.StatusServiceUnavailable))
		default:
			h.logger(ctx, "checkout.order_status.failed", map[string]any{"error": err.Error()})
			httpx.WriteError(ctx, w, httpx.NewError("order_lookup_failed", "order lookup failed", http.StatusInternalServerError))
		}
		return
	}

	writeJSONResponse(w, http.StatusOK, orderStatusPayload{
		ID:          order.ID,
		OrderNumber: order.OrderNumber,
		TotalAmount: order.TotalAmount,
		Status:      string(order.Status),
		CreatedAt:   formatTime(order.CreatedAt),
	})
}

// stateStream pushes checkout state transitions as server-sent events until
// the client disconnects.
func (h *CheckoutHandlers) stateStream(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.checkout == nil {
		httpx.WriteError(ctx, w, httpx.NewError("checkout_unavailable", "checkout service is unavailable", http.StatusServiceUnavailable))
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		httpx.WriteError(ctx, w, httpx.NewError("streaming_unsupported", "response writer does not support streaming", http.StatusInternalServerError))
		return
	}

	stream, unsubscribe := h.checkout.Subscribe()
	defer unsubscribe()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	// Replay the current state so a late subscriber does not start blind.
	if session, exists := h.checkout.CurrentSession(); exists {
		h.writeStateEvent(w, services.StateChange{
			AttemptID: session.AttemptID,
			State:     session.State,
			Reason:    session.FailReason,
			OrderID:   session.OrderID,
		})
		flusher.Flush()
	}

	for {
		select {
		case <-ctx.Done():
			return
		case change, open := <-stream:
			if !open {
				return
			}
			h.writeStateEvent(w, change)
			flusher.Flush()
		}
	}
}

func (h *CheckoutHandlers) writeStateEvent(w http.ResponseWriter, change services.StateChange) {
	data, err := json.Marshal(change)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: state\ndata: %s\n\n", data)
}

func (h *CheckoutHandlers) writeCheckoutError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, services.ErrCheckoutInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrEmptyCart):
		httpx.WriteError(ctx, w, httpx.NewError("cart_empty", "no sellable lines to check out", http.StatusConflict))
	case errors.Is(err, services.ErrCheckoutInProgress):
		httpx.WriteError(ctx, w, httpx.NewError("checkout_in_progress", "another checkout attempt is already in flight", http.StatusConflict))
	case errors.Is(err, services.ErrNoShippingAddress):
		httpx.WriteError(ctx, w, httpx.NewError("no_shipping_address", "a shipping address is required", http.StatusBadRequest))
	case errors.Is(err, services.ErrShopMismatch):
		httpx.WriteError(ctx, w, httpx.NewError("shop_mismatch", "cart lines must belong to a single shop", http.StatusConflict))
	case errors.Is(err, services.ErrNoActiveAttempt):
		httpx.WriteError(ctx, w, httpx.NewError("no_active_attempt", "no attempt is awaiting a gateway result", http.StatusConflict))
	case errors.Is(err, services.ErrUnknownAttempt):
		httpx.WriteError(ctx, w, httpx.NewError("unknown_attempt", "gateway result references an unknown attempt", http.StatusNotFound))
	case errors.Is(err, services.ErrOrderCreationFailed):
		httpx.WriteError(ctx, w, httpx.NewError("order_creation_failed", "order could not be created", http.StatusBadGateway))
	case errors.Is(err, payments.ErrGatewayRejected):
		httpx.WriteError(ctx, w, httpx.NewError("gateway_rejected", "payment gateway rejected the request", http.StatusPaymentRequired))
	case errors.Is(err, payments.ErrGatewayUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("gateway_unavailable", "payment gateway is unavailable", http.StatusServiceUnavailable))
	case errors.Is(err, services.ErrCartUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("cart_service_unavailable", "cart service is unavailable", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("checkout_error", "checkout failed", http.StatusInternalServerError))
	}
}

func buildSessionPayload(session services.CheckoutSession) sessionPayload {
	lines := make([]sessionLinePayload, 0, len(session.Lines))
	for _, line := range session.Lines {
		lines = append(lines, sessionLinePayload{
			ProductID: line.ProductID,
			Name:      line.Name,
			Quantity:  line.Quantity,
			UnitPrice: line.UnitPrice,
			LineTotal: line.LineTotal,
		})
	}
	payload := sessionPayload{
		AttemptID:       session.AttemptID,
		State:           string(session.State),
		PaymentMethod:   string(session.PaymentMethod),
		Lines:           lines,
		Subtotal:        session.Subtotal,
		DeliveryCharge:  session.DeliveryCharge,
		EstimatedTotal:  session.EstimatedTotal,
		AuthorizedTotal: session.AuthorizedTotal,
		ShippingAddress: session.ShippingAddress,
		OrderID:         session.OrderID,
		OrderNumber:     session.OrderNumber,
		FailReason:      session.FailReason,
		StartedAt:       formatTime(session.StartedAt),
	}
	if session.EndedAt != nil {
		payload.EndedAt = formatTime(*session.EndedAt)
	}
	return payload
}

func buildAdjustmentPayloads(adjustments []services.Adjustment) []adjustmentPayload {
	out := make([]adjustmentPayload, 0, len(adjustments))
	for _, adj := range adjustments {
		out = append(out, adjustmentPayload{
			ProductID:    adj.ProductID,
			Kind:         string(adj.Kind),
			FromQuantity: adj.FromQuantity,
			ToQuantity:   adj.ToQuantity,
			Reason:       adj.Reason,
		})
	}
	return out
}
