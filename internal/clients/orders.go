package clients

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	domain "github.com/shopora/checkout/internal/domain"
	"github.com/shopora/checkout/internal/platform/config"
)

// OrdersClient creates and looks up orders on the order service. CreateOrder
// always carries the attempt identifier as the idempotency key so a retried
// call lands on the same order.
type OrdersClient struct {
	rest *restClient
}

// NewOrdersClient constructs an orders client. doer may be nil for the
// default HTTP client.
func NewOrdersClient(svc config.ServiceConfig, brk config.BreakerConfig, doer Doer) (*OrdersClient, error) {
	rest, err := newRESTClient("orders", svc, brk, doer)
	if err != nil {
		return nil, err
	}
	return &OrdersClient{rest: rest}, nil
}

// OrderLine is one priced line of the order payload.
type OrderLine struct {
	ProductID string `json:"productId"`
	Name      string `json:"name"`
	UnitPrice int64  `json:"unitPrice"`
	Quantity  int    `json:"quantity"`
}

// CreateOrderRequest is the order creation payload.
type CreateOrderRequest struct {
	AttemptID       string      `json:"attemptId"`
	UserID          string      `json:"userId"`
	ShopID          string      `json:"shopId"`
	Lines           []OrderLine `json:"lines"`
	Subtotal        int64       `json:"subtotal"`
	DeliveryCharge  int64       `json:"deliveryCharge"`
	Total           int64       `json:"total"`
	ShippingAddress string      `json:"shippingAddress"`
	PaymentMethod   string      `json:"paymentMethod"`
	Notes           string      `json:"notes,omitempty"`
}

type orderPayload struct {
	ID          string    `json:"id"`
	OrderNumber string    `json:"orderNumber"`
	TotalAmount int64     `json:"totalAmount"`
	Status      string    `json:"status"`
	CreatedAt   time.Time `json:"createdAt"`
}

// CreateOrder submits the order. The attempt ID doubles as the
// Idempotency-Key header.
func (c *OrdersClient) CreateOrder(ctx context.Context, req CreateOrderRequest) (domain.Order, error) {
	attemptID := strings.TrimSpace(req.AttemptID)
	if attemptID == "" {
		return domain.Order{}, errors.New("clients: attempt id is required")
	}
	if len(req.Lines) == 0 {
		return domain.Order{}, errors.New("clients: order lines are required")
	}

	headers := map[string]string{idempotencyHeader: attemptID}
	var payload orderPayload
	if err := c.rest.postJSON(ctx, "/api/v1/orders", headers, req, &payload); err != nil {
		return domain.Order{}, err
	}
	return payload.toOrder()
}

// GetOrder fetches one order by its identifier.
func (c *OrdersClient) GetOrder(ctx context.Context, orderID string) (domain.Order, error) {
	id := strings.TrimSpace(orderID)
	if err := domain.ValidateIdentifier(id); err != nil {
		return domain.Order{}, err
	}

	var payload orderPayload
	if err := c.rest.getJSON(ctx, "/api/v1/orders/"+id, nil, &payload); err != nil {
		return domain.Order{}, err
	}
	return payload.toOrder()
}

// FindByAttempt looks up the order created under attemptID, if any. A miss
// is not an error; it reports found=false.
func (c *OrdersClient) FindByAttempt(ctx context.Context, attemptID string) (domain.Order, bool, error) {
	id := strings.TrimSpace(attemptID)
	if id == "" {
		return domain.Order{}, false, errors.New("clients: attempt id is required")
	}

	query := url.Values{"attemptId": []string{id}}
	var payload orderPayload
	err := c.rest.getJSON(ctx, "/api/v1/orders", query, &payload)
	if errors.Is(err, ErrNotFound) {
		return domain.Order{}, false, nil
	}
	if err != nil {
		return domain.Order{}, false, err
	}
	order, err := payload.toOrder()
	if err != nil {
		return domain.Order{}, false, err
	}
	return order, true, nil
}

func (p orderPayload) toOrder() (domain.Order, error) {
	id := strings.TrimSpace(p.ID)
	if id == "" {
		return domain.Order{}, fmt.Errorf("%w: order payload missing id", ErrBadResponse)
	}
	status := domain.OrderStatus(strings.TrimSpace(p.Status))
	switch status {
	case domain.OrderStatusPendingPayment, domain.OrderStatusPaid, domain.OrderStatusConfirmed:
	default:
		return domain.Order{}, fmt.Errorf("%w: unknown order status %q", ErrBadResponse, p.Status)
	}
	return domain.Order{
		ID:          id,
		OrderNumber: strings.TrimSpace(p.OrderNumber),
		TotalAmount: p.TotalAmount,
		Status:      status,
		CreatedAt:   p.CreatedAt,
	}, nil
}
