package payments

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopora/checkout/internal/clients"
)

// RESTProvider routes gateway operations through the payment service, for
// deployments where the gateway account is held server-side rather than by
// this engine.
type RESTProvider struct {
	client *clients.PaymentsClient
	clock  func() time.Time
}

// NewRESTProvider constructs a payment-service backed provider.
func NewRESTProvider(client *clients.PaymentsClient, clock func() time.Time) (*RESTProvider, error) {
	if client == nil {
		return nil, errors.New("payments: payments client is required")
	}
	if clock == nil {
		clock = time.Now
	}
	return &RESTProvider{
		client: client,
		clock: func() time.Time {
			return clock().UTC()
		},
	}, nil
}

// CreateIntent asks the payment service to open a gateway intent.
func (p *RESTProvider) CreateIntent(ctx context.Context, req IntentRequest) (IntentHandle, error) {
	intent, err := p.client.CreatePaymentIntent(ctx, clients.PaymentIntentRequest{
		OrderID:        req.OrderID,
		Amount:         req.Amount,
		Currency:       req.Currency,
		IdempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		return IntentHandle{}, classifyClientError("create payment intent", err)
	}
	return IntentHandle{
		IntentID:     intent.IntentID,
		Provider:     "rest",
		ClientSecret: intent.ClientSecret,
		Status:       normalizeStatus(intent.Status),
		ExpiresAt:    p.clock().Add(30 * time.Minute),
	}, nil
}

// VerifyPayment asks the payment service whether the order settled.
func (p *RESTProvider) VerifyPayment(ctx context.Context, req VerifyRequest) (VerificationOutcome, error) {
	result, err := p.client.VerifyPayment(ctx, clients.VerifyPaymentRequest{
		OrderID:   req.OrderID,
		IntentID:  req.IntentID,
		Reference: req.Reference,
	})
	if err != nil {
		return VerificationOutcome{}, classifyClientError("verify payment", err)
	}
	outcome := VerificationOutcome{
		Paid:             result.Verified,
		Status:           normalizeStatus(result.Status),
		AuthorizedAmount: result.AuthorizedAmount,
	}
	if result.Verified {
		outcome.Status = StatusSucceeded
	}
	return outcome, nil
}

func normalizeStatus(status string) Status {
	switch Status(status) {
	case StatusSucceeded:
		return StatusSucceeded
	case StatusFailed:
		return StatusFailed
	default:
		return StatusPending
	}
}

func classifyClientError(op string, err error) error {
	switch {
	case errors.Is(err, clients.ErrUnavailable):
		return fmt.Errorf("%w: %s: %v", ErrGatewayUnavailable, op, err)
	case errors.Is(err, clients.ErrRejected), errors.Is(err, clients.ErrNotFound), errors.Is(err, clients.ErrBadResponse):
		return fmt.Errorf("%w: %s: %v", ErrGatewayRejected, op, err)
	default:
		return fmt.Errorf("%w: %s: %v", ErrGatewayUnavailable, op, err)
	}
}

var _ Provider = (*RESTProvider)(nil)
