package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/shopora/checkout/internal/platform/httpx"
	"github.com/shopora/checkout/internal/services"
)

const (
	maxCartBodySize       = 16 * 1024
	viewReconcileDeadline = 5 * time.Second
)

// CartHandlers exposes the cart endpoints.
type CartHandlers struct {
	carts      services.CartService
	reconciler services.Reconciler
	logger     func(context.Context, string, map[string]any)
}

// NewCartHandlers constructs handlers over the cart service. The reconciler
// is optional; when present, viewing the cart kicks off a best-effort
// background reconciliation.
func NewCartHandlers(carts services.CartService, reconciler services.Reconciler, logger func(context.Context, string, map[string]any)) *CartHandlers {
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &CartHandlers{
		carts:      carts,
		reconciler: reconciler,
		logger:     logger,
	}
}

// Routes wires the /cart endpoints onto the provided router.
func (h *CartHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/", h.getCart)
	r.Delete("/", h.clearCart)
	r.Post("/items", h.addItem)
	r.Patch("/items/{productID}", h.updateQuantity)
	r.Delete("/items/{productID}", h.removeItem)
}

type cartLinePayload struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
	AddedAt   string `json:"addedAt,omitempty"`
}

type cartViewPayload struct {
	Items      []cartLinePayload `json:"items"`
	ItemsCount int               `json:"itemsCount"`
	Total      int64             `json:"total"`
}

type addItemRequest struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
}

type updateQuantityRequest struct {
	Quantity int `json:"quantity"`
}

func (h *CartHandlers) getCart(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.carts == nil {
		httpx.WriteError(ctx, w, httpx.NewError("cart_service_unavailable", "cart service is unavailable", http.StatusServiceUnavailable))
		return
	}

	lines, err := h.carts.Lines(ctx)
	if err != nil {
		h.writeCartError(ctx, w, err)
		return
	}
	total, err := h.carts.Total(ctx)
	if err != nil {
		h.writeCartError(ctx, w, err)
		return
	}

	h.reconcileInBackground(ctx, lines)

	writeJSONResponse(w, http.StatusOK, buildCartViewPayload(lines, total))
}

// reconcileInBackground refreshes the view's snapshots without delaying or
// failing the response. Adjustments are observed and logged only; the cart
// itself is repaired at checkout time.
func (h *CartHandlers) reconcileInBackground(ctx context.Context, lines []services.CartLine) {
	if h.reconciler == nil || len(lines) == 0 {
		return
	}
	bgCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), viewReconcileDeadline)
	go func() {
		defer cancel()
		result, err := h.reconciler.Reconcile(bgCtx, lines)
		if err != nil {
			h.logger(bgCtx, "cart.view.reconcile_failed", map[string]any{"error": err.Error()})
			return
		}
		if len(result.Adjustments) > 0 {
			h.logger(bgCtx, "cart.view.adjustments_pending", map[string]any{
				"count": len(result.Adjustments),
			})
		}
	}()
}

func (h *CartHandlers) addItem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.carts == nil {
		httpx.WriteError(ctx, w, httpx.NewError("cart_service_unavailable", "cart service is unavailable", http.StatusServiceUnavailable))
		return
	}

	var req addItemRequest
	if err := decodeJSONBody(r, maxCartBodySize, &req); err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	view, err := h.carts.AddItem(ctx, services.AddItemCommand{
		ProductID: strings.TrimSpace(req.ProductID),
		Quantity:  req.Quantity,
	})
	if err != nil {
		h.writeCartError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildCartViewPayload(view.Lines, view.Total))
}

func (h *CartHandlers) updateQuantity(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.carts == nil {
		httpx.WriteError(ctx, w, httpx.NewError("cart_service_unavailable", "cart service is unavailable", http.StatusServiceUnavailable))
		return
	}

	var req updateQuantityRequest
	if err := decodeJSONBody(r, maxCartBodySize, &req); err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	view, err := h.carts.UpdateQuantity(ctx, services.UpdateQuantityCommand{
		ProductID: chi.URLParam(r, "productID"),
		Quantity:  req.Quantity,
	})
	if err != nil {
		h.writeCartError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildCartViewPayload(view.Lines, view.Total))
}

func (h *CartHandlers) removeItem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.carts == nil {
		httpx.WriteError(ctx, w, httpx.NewError("cart_service_unavailable", "cart service is unavailable", http.StatusServiceUnavailable))
		return
	}

	view, err := h.carts.RemoveItem(ctx, chi.URLParam(r, "productID"))
	if err != nil {
		h.writeCartError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildCartViewPayload(view.Lines, view.Total))
}

func (h *CartHandlers) clearCart(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.carts == nil {
		httpx.WriteError(ctx, w, httpx.NewError("cart_service_unavailable", "cart service is unavailable", http.StatusServiceUnavailable))
		return
	}

	if err := h.carts.Clear(ctx); err != nil {
		h.writeCartError(ctx, w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *CartHandlers) writeCartError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, services.ErrCartInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrCartLineNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("cart_line_not_found", "no such line in cart", http.StatusNotFound))
	case errors.Is(err, services.ErrProductUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("product_unavailable", "product cannot be ordered", http.StatusConflict))
	case errors.Is(err, services.ErrInsufficientStock):
		httpx.WriteError(ctx, w, httpx.NewError("insufficient_stock", "requested quantity exceeds available stock", http.StatusConflict))
	case errors.Is(err, services.ErrShopMismatch):
		httpx.WriteError(ctx, w, httpx.NewError("shop_mismatch", "cart lines must belong to a single shop", http.StatusConflict))
	case errors.Is(err, services.ErrCartConflict):
		httpx.WriteError(ctx, w, httpx.NewError("cart_conflict", "cart has been modified; refresh and retry", http.StatusConflict))
	case errors.Is(err, services.ErrCartUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("cart_service_unavailable", "cart service is unavailable", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("cart_error", "cart operation failed", http.StatusInternalServerError))
	}
}

func writeBodyError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, errBodyTooLarge):
		httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "request body exceeds allowed size", http.StatusRequestEntityTooLarge))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	}
}

func buildCartViewPayload(lines []services.CartLine, total int64) cartViewPayload {
	items := make([]cartLinePayload, 0, len(lines))
	for _, line := range lines {
		items = append(items, cartLinePayload{
			ProductID: line.ProductID,
			Quantity:  line.Quantity,
			AddedAt:   formatTime(line.AddedAt),
		})
	}
	return cartViewPayload{
		Items:      items,
		ItemsCount: len(items),
		Total:      total,
	}
}
