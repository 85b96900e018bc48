package clients

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"testing"

	"github.com/shopora/checkout/internal/platform/config"
)

type doerFunc func(req *http.Request) (*http.Response, error)

func (f doerFunc) Do(req *http.Request) (*http.Response, error) { return f(req) }

func jsonResponse(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Header:     http.Header{"Content-Type": []string{"application/json"}},
		Body:       io.NopCloser(bytes.NewReader([]byte(body))),
	}
}

func testServiceConfig() config.ServiceConfig {
	return config.ServiceConfig{BaseURL: "http://collaborator.local"}
}

func TestOrdersClientCreateOrderSendsIdempotencyKey(t *testing.T) {
	var seenKey string
	doer := doerFunc(func(req *http.Request) (*http.Response, error) {
		seenKey = req.Header.Get("Idempotency-Key")
		return jsonResponse(http.StatusCreated, `{"id":"5f1a7caf8bd0a23f4c1d2a01","orderNumber":"ORD-1042","totalAmount":2530,"status":"pending_payment","createdAt":"2025-04-01T08:00:00Z"}`), nil
	})
	client, err := NewOrdersClient(testServiceConfig(), config.BreakerConfig{}, doer)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	order, err := client.CreateOrder(context.Background(), CreateOrderRequest{
		AttemptID: "01JQX0ABCDEFGHJKMNPQRSTVWX",
		UserID:    "user-9",
		ShopID:    "5f1a7caf8bd0a23f4c1d2f01",
		Lines:     []OrderLine{{ProductID: "5f1a7caf8bd0a23f4c1d2e01", Name: "Mug", UnitPrice: 1250, Quantity: 2}},
		Subtotal:  2500,
		Total:     2530,
	})
	if err != nil {
		t.Fatalf("create order: %v", err)
	}
	if seenKey != "01JQX0ABCDEFGHJKMNPQRSTVWX" {
		t.Fatalf("expected attempt id as idempotency key, got %q", seenKey)
	}
	if order.ID != "5f1a7caf8bd0a23f4c1d2a01" || order.OrderNumber != "ORD-1042" {
		t.Fatalf("unexpected order: %+v", order)
	}
}

func TestOrdersClientFindByAttemptMiss(t *testing.T) {
	doer := doerFunc(func(req *http.Request) (*http.Response, error) {
		return jsonResponse(http.StatusNotFound, `{"error":"not found"}`), nil
	})
	client, err := NewOrdersClient(testServiceConfig(), config.BreakerConfig{}, doer)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	_, found, err := client.FindByAttempt(context.Background(), "01JQX0ABCDEFGHJKMNPQRSTVWX")
	if err != nil {
		t.Fatalf("find by attempt: %v", err)
	}
	if found {
		t.Fatal("expected miss")
	}
}

func TestOrdersClientRejectsUnknownStatus(t *testing.T) {
	doer := doerFunc(func(req *http.Request) (*http.Response, error) {
		return jsonResponse(http.StatusOK, `{"id":"5f1a7caf8bd0a23f4c1d2a01","status":"teleported"}`), nil
	})
	client, err := NewOrdersClient(testServiceConfig(), config.BreakerConfig{}, doer)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	_, err = client.GetOrder(context.Background(), "5f1a7caf8bd0a23f4c1d2a01")
	if !errors.Is(err, ErrBadResponse) {
		t.Fatalf("expected ErrBadResponse, got %v", err)
	}
}

func TestCatalogClientClassifiesServerErrors(t *testing.T) {
	doer := doerFunc(func(req *http.Request) (*http.Response, error) {
		return jsonResponse(http.StatusBadGateway, `upstream down`), nil
	})
	client, err := NewCatalogClient(testServiceConfig(), config.BreakerConfig{}, doer)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	_, err = client.GetProduct(context.Background(), "5f1a7caf8bd0a23f4c1d2e01")
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}

func TestCatalogClientClassifiesNotFound(t *testing.T) {
	doer := doerFunc(func(req *http.Request) (*http.Response, error) {
		return jsonResponse(http.StatusNotFound, `{"error":"no such product"}`), nil
	})
	client, err := NewCatalogClient(testServiceConfig(), config.BreakerConfig{}, doer)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	_, err = client.GetProduct(context.Background(), "5f1a7caf8bd0a23f4c1d2e01")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRestClientBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	var calls int
	doer := doerFunc(func(req *http.Request) (*http.Response, error) {
		calls++
		return jsonResponse(http.StatusInternalServerError, `boom`), nil
	})
	client, err := NewCatalogClient(testServiceConfig(), config.BreakerConfig{}, doer)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	ctx := context.Background()
	for i := 0; i < 6; i++ {
		if _, err := client.GetProduct(ctx, "5f1a7caf8bd0a23f4c1d2e01"); !errors.Is(err, ErrUnavailable) {
			t.Fatalf("expected ErrUnavailable while failing, got %v", err)
		}
	}
	callsBeforeOpen := calls

	_, err = client.GetProduct(ctx, "5f1a7caf8bd0a23f4c1d2e01")
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable from open breaker, got %v", err)
	}
	if calls != callsBeforeOpen {
		t.Fatalf("expected open breaker to short-circuit, transport saw %d calls", calls)
	}
}

func TestPaymentsClientVerifyDecodesResult(t *testing.T) {
	doer := doerFunc(func(req *http.Request) (*http.Response, error) {
		if req.Method != http.MethodPost {
			t.Fatalf("unexpected method %s", req.Method)
		}
		return jsonResponse(http.StatusOK, `{"verified":true,"status":"succeeded","authorizedAmount":2530}`), nil
	})
	client, err := NewPaymentsClient(testServiceConfig(), config.BreakerConfig{}, doer)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	result, err := client.VerifyPayment(context.Background(), VerifyPaymentRequest{
		OrderID:   "5f1a7caf8bd0a23f4c1d2a01",
		IntentID:  "pi_123",
		Reference: "ch_987",
	})
	if err != nil {
		t.Fatalf("verify payment: %v", err)
	}
	if !result.Verified || result.AuthorizedAmount != 2530 {
		t.Fatalf("unexpected result: %+v", result)
	}
}
