package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/shopora/checkout/internal/services"
)

type stubCartService struct {
	addFunc    func(ctx context.Context, cmd services.AddItemCommand) (services.CartView, error)
	updateFunc func(ctx context.Context, cmd services.UpdateQuantityCommand) (services.CartView, error)
	removeFunc func(ctx context.Context, productID string) (services.CartView, error)
	clearFunc  func(ctx context.Context) error
	linesFunc  func(ctx context.Context) ([]services.CartLine, error)
	totalFunc  func(ctx context.Context) (int64, error)
}

func (s *stubCartService) AddItem(ctx context.Context, cmd services.AddItemCommand) (services.CartView, error) {
	if s.addFunc != nil {
		return s.addFunc(ctx, cmd)
	}
	return services.CartView{}, nil
}

func (s *stubCartService) UpdateQuantity(ctx context.Context, cmd services.UpdateQuantityCommand) (services.CartView, error) {
	if s.updateFunc != nil {
		return s.updateFunc(ctx, cmd)
	}
	return services.CartView{}, nil
}

func (s *stubCartService) RemoveItem(ctx context.Context, productID string) (services.CartView, error) {
	if s.removeFunc != nil {
		return s.removeFunc(ctx, productID)
	}
	return services.CartView{}, nil
}

func (s *stubCartService) Clear(ctx context.Context) error {
	if s.clearFunc != nil {
		return s.clearFunc(ctx)
	}
	return nil
}

func (s *stubCartService) Lines(ctx context.Context) ([]services.CartLine, error) {
	if s.linesFunc != nil {
		return s.linesFunc(ctx)
	}
	return nil, nil
}

func (s *stubCartService) Total(ctx context.Context) (int64, error) {
	if s.totalFunc != nil {
		return s.totalFunc(ctx)
	}
	return 0, nil
}

type stubReconciler struct {
	reconcileFunc func(ctx context.Context, lines []services.CartLine) (services.ReconciledCart, error)
}

func (s *stubReconciler) Reconcile(ctx context.Context, lines []services.CartLine) (services.ReconciledCart, error) {
	if s.reconcileFunc != nil {
		return s.reconcileFunc(ctx, lines)
	}
	return services.ReconciledCart{Lines: lines}, nil
}

func newCartRouter(carts services.CartService, reconciler services.Reconciler) chi.Router {
	handlers := NewCartHandlers(carts, reconciler, nil)
	r := chi.NewRouter()
	r.Route("/cart", handlers.Routes)
	return r
}

func TestCartHandlersGetCart(t *testing.T) {
	added := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	carts := &stubCartService{
		linesFunc: func(context.Context) ([]services.CartLine, error) {
			return []services.CartLine{{ProductID: "5f1a7caf8bd0a23f4c1d2e01", Quantity: 2, AddedAt: added}}, nil
		},
		totalFunc: func(context.Context) (int64, error) { return 2500, nil },
	}

	reconciled := make(chan struct{}, 1)
	reconciler := &stubReconciler{
		reconcileFunc: func(_ context.Context, lines []services.CartLine) (services.ReconciledCart, error) {
			reconciled <- struct{}{}
			return services.ReconciledCart{Lines: lines}, nil
		},
	}

	router := newCartRouter(carts, reconciler)
	req := httptest.NewRequest(http.MethodGet, "/cart", nil)
	rr := httptest.NewRecorder()

	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}

	var body struct {
		Items []struct {
			ProductID string `json:"productId"`
			Quantity  int    `json:"quantity"`
		} `json:"items"`
		ItemsCount int   `json:"itemsCount"`
		Total      int64 `json:"total"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("parse response: %v", err)
	}
	if body.ItemsCount != 1 || body.Total != 2500 {
		t.Fatalf("unexpected payload: %+v", body)
	}
	if body.Items[0].ProductID != "5f1a7caf8bd0a23f4c1d2e01" || body.Items[0].Quantity != 2 {
		t.Fatalf("unexpected item: %+v", body.Items[0])
	}

	select {
	case <-reconciled:
	case <-time.After(time.Second):
		t.Fatalf("expected background reconcile to run")
	}
}

func TestCartHandlersAddItem(t *testing.T) {
	carts := &stubCartService{
		addFunc: func(_ context.Context, cmd services.AddItemCommand) (services.CartView, error) {
			if cmd.ProductID != "5f1a7caf8bd0a23f4c1d2e01" || cmd.Quantity != 3 {
				t.Fatalf("unexpected command: %+v", cmd)
			}
			return services.CartView{
				Lines: []services.CartLine{{ProductID: cmd.ProductID, Quantity: 3}},
				Total: 3750,
			}, nil
		},
	}

	router := newCartRouter(carts, nil)
	req := httptest.NewRequest(http.MethodPost, "/cart/items", strings.NewReader(`{"productId":"5f1a7caf8bd0a23f4c1d2e01","quantity":3}`))
	rr := httptest.NewRecorder()

	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestCartHandlersAddItemErrors(t *testing.T) {
	cases := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{name: "invalid input", err: services.ErrCartInvalidInput, wantStatus: http.StatusBadRequest, wantCode: "invalid_request"},
		{name: "unavailable product", err: services.ErrProductUnavailable, wantStatus: http.StatusConflict, wantCode: "product_unavailable"},
		{name: "insufficient stock", err: services.ErrInsufficientStock, wantStatus: http.StatusConflict, wantCode: "insufficient_stock"},
		{name: "shop mismatch", err: services.ErrShopMismatch, wantStatus: http.StatusConflict, wantCode: "shop_mismatch"},
		{name: "store down", err: services.ErrCartUnavailable, wantStatus: http.StatusServiceUnavailable, wantCode: "cart_service_unavailable"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			carts := &stubCartService{
				addFunc: func(context.Context, services.AddItemCommand) (services.CartView, error) {
					return services.CartView{}, tc.err
				},
			}

			router := newCartRouter(carts, nil)
			req := httptest.NewRequest(http.MethodPost, "/cart/items", strings.NewReader(`{"productId":"5f1a7caf8bd0a23f4c1d2e01","quantity":1}`))
			rr := httptest.NewRecorder()

			router.ServeHTTP(rr, req)

			if rr.Code != tc.wantStatus {
				t.Fatalf("expected status %d, got %d: %s", tc.wantStatus, rr.Code, rr.Body.String())
			}
			var body map[string]any
			if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
				t.Fatalf("parse response: %v", err)
			}
			if body["error"] != tc.wantCode {
				t.Fatalf("expected code %s, got %v", tc.wantCode, body["error"])
			}
		})
	}
}

func TestCartHandlersAddItemRejectsBadBody(t *testing.T) {
	router := newCartRouter(&stubCartService{}, nil)

	req := httptest.NewRequest(http.MethodPost, "/cart/items", strings.NewReader("not json"))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400 for malformed body, got %d", rr.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/cart/items", strings.NewReader(strings.Repeat("a", maxCartBodySize+10)))
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected status 413 for oversized body, got %d", rr.Code)
	}
}

func TestCartHandlersUpdateQuantity(t *testing.T) {
	carts := &stubCartService{
		updateFunc: func(_ context.Context, cmd services.UpdateQuantityCommand) (services.CartView, error) {
			if cmd.ProductID != "5f1a7caf8bd0a23f4c1d2e01" || cmd.Quantity != 5 {
				t.Fatalf("unexpected command: %+v", cmd)
			}
			return services.CartView{}, nil
		},
	}

	router := newCartRouter(carts, nil)
	req := httptest.NewRequest(http.MethodPatch, "/cart/items/5f1a7caf8bd0a23f4c1d2e01", strings.NewReader(`{"quantity":5}`))
	rr := httptest.NewRecorder()

	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestCartHandlersUpdateQuantityMissingLine(t *testing.T) {
	carts := &stubCartService{
		updateFunc: func(context.Context, services.UpdateQuantityCommand) (services.CartView, error) {
			return services.CartView{}, services.ErrCartLineNotFound
		},
	}

	router := newCartRouter(carts, nil)
	req := httptest.NewRequest(http.MethodPatch, "/cart/items/5f1a7caf8bd0a23f4c1d2e01", strings.NewReader(`{"quantity":5}`))
	rr := httptest.NewRecorder()

	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", rr.Code)
	}
}

func TestCartHandlersRemoveItem(t *testing.T) {
	removed := ""
	carts := &stubCartService{
		removeFunc: func(_ context.Context, productID string) (services.CartView, error) {
			removed = productID
			return services.CartView{}, nil
		},
	}

	router := newCartRouter(carts, nil)
	req := httptest.NewRequest(http.MethodDelete, "/cart/items/5f1a7caf8bd0a23f4c1d2e01", nil)
	rr := httptest.NewRecorder()

	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if removed != "5f1a7caf8bd0a23f4c1d2e01" {
		t.Fatalf("expected remove of path product, got %q", removed)
	}
}

func TestCartHandlersClear(t *testing.T) {
	cleared := false
	carts := &stubCartService{
		clearFunc: func(context.Context) error {
			cleared = true
			return nil
		},
	}

	router := newCartRouter(carts, nil)
	req := httptest.NewRequest(http.MethodDelete, "/cart", nil)
	rr := httptest.NewRecorder()

	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected status 204, got %d", rr.Code)
	}
	if !cleared {
		t.Fatalf("expected clear to be called")
	}
}
