package clients

import (
	"context"
	"errors"
	"fmt"
	"strings"

	domain "github.com/shopora/checkout/internal/domain"
	"github.com/shopora/checkout/internal/platform/config"
)

// PaymentsClient talks to the payment service, which fronts the gateway
// account. Verification always goes through here: the gateway callback alone
// is never proof of payment.
type PaymentsClient struct {
	rest *restClient
}

// NewPaymentsClient constructs a payments client. doer may be nil for the
// default HTTP client.
func NewPaymentsClient(svc config.ServiceConfig, brk config.BreakerConfig, doer Doer) (*PaymentsClient, error) {
	rest, err := newRESTClient("payments", svc, brk, doer)
	if err != nil {
		return nil, err
	}
	return &PaymentsClient{rest: rest}, nil
}

// PaymentIntentRequest asks the payment service to open a gateway intent for
// an existing order.
type PaymentIntentRequest struct {
	OrderID        string `json:"orderId"`
	Amount         int64  `json:"amount"`
	Currency       string `json:"currency"`
	IdempotencyKey string `json:"-"`
}

// PaymentIntent is the opened gateway intent.
type PaymentIntent struct {
	IntentID     string `json:"intentId"`
	ClientSecret string `json:"clientSecret"`
	Status       string `json:"status"`
}

// VerifyPaymentRequest submits the gateway's proof-of-payment reference for
// server-side confirmation.
type VerifyPaymentRequest struct {
	OrderID   string `json:"orderId"`
	IntentID  string `json:"intentId"`
	Reference string `json:"reference,omitempty"`
}

// VerificationResult is the server-side word on whether an order was paid.
type VerificationResult struct {
	Verified         bool   `json:"verified"`
	Status           string `json:"status"`
	AuthorizedAmount int64  `json:"authorizedAmount"`
}

// CreatePaymentIntent opens a gateway intent for the order.
func (c *PaymentsClient) CreatePaymentIntent(ctx context.Context, req PaymentIntentRequest) (PaymentIntent, error) {
	orderID := strings.TrimSpace(req.OrderID)
	if err := domain.ValidateIdentifier(orderID); err != nil {
		return PaymentIntent{}, err
	}
	if req.Amount <= 0 {
		return PaymentIntent{}, errors.New("clients: intent amount must be positive")
	}

	headers := map[string]string{}
	if key := strings.TrimSpace(req.IdempotencyKey); key != "" {
		headers[idempotencyHeader] = key
	}

	var payload PaymentIntent
	if err := c.rest.postJSON(ctx, "/api/v1/payment-intents", headers, req, &payload); err != nil {
		return PaymentIntent{}, err
	}
	if strings.TrimSpace(payload.IntentID) == "" {
		return PaymentIntent{}, fmt.Errorf("%w: intent payload missing id", ErrBadResponse)
	}
	return payload, nil
}

// VerifyPayment asks the payment service whether the order's payment
// actually settled. The gateway callback alone is never trusted.
func (c *PaymentsClient) VerifyPayment(ctx context.Context, req VerifyPaymentRequest) (VerificationResult, error) {
	req.OrderID = strings.TrimSpace(req.OrderID)
	if err := domain.ValidateIdentifier(req.OrderID); err != nil {
		return VerificationResult{}, err
	}
	req.IntentID = strings.TrimSpace(req.IntentID)
	if req.IntentID == "" {
		return VerificationResult{}, errors.New("clients: intent id is required")
	}

	var payload VerificationResult
	if err := c.rest.postJSON(ctx, "/api/v1/payments/verify", nil, req, &payload); err != nil {
		return VerificationResult{}, err
	}
	return payload, nil
}
