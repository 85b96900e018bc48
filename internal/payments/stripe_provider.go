package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/client"
)

// StripeLogger defines the logging contract for Stripe provider operations.
type StripeLogger func(ctx context.Context, event string, fields map[string]any)

type stripePaymentIntentAPI interface {
	New(params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
	Get(id string, params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
}

type stripeClients struct {
	intents stripePaymentIntentAPI
}

// StripeProviderConfig configures the StripeProvider.
type StripeProviderConfig struct {
	APIKey   string
	Backends *stripe.Backends
	Logger   StripeLogger
	Clock    func() time.Time
	Clients  *stripeClients
}

// StripeProvider implements the Provider interface against the Stripe
// PaymentIntents API.
type StripeProvider struct {
	api    stripeClients
	clock  func() time.Time
	logger StripeLogger
}

// NewStripeProvider constructs a Stripe Provider using the given configuration.
func NewStripeProvider(cfg StripeProviderConfig) (*StripeProvider, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" && cfg.Clients == nil {
		return nil, errors.New("stripe: api key is required")
	}

	var clients stripeClients
	if cfg.Clients != nil {
		clients = *cfg.Clients
	} else {
		sc := client.New(apiKey, cfg.Backends)
		clients = stripeClients{
			intents: sc.PaymentIntents,
		}
	}
	if clients.intents == nil {
		return nil, errors.New("stripe: incomplete client configuration")
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &StripeProvider{
		api: clients,
		clock: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

// CreateIntent opens a Stripe Payment Intent for the order.
func (p *StripeProvider) CreateIntent(ctx context.Context, req IntentRequest) (IntentHandle, error) {
	if p == nil {
		return IntentHandle{}, errors.New("stripe: provider is nil")
	}
	if req.Amount <= 0 {
		return IntentHandle{}, fmt.Errorf("%w: amount must be positive", ErrGatewayRejected)
	}

	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(req.Amount),
		Currency: stripe.String(strings.ToLower(req.Currency)),
	}
	params.Context = ctx
	if key := strings.TrimSpace(req.IdempotencyKey); key != "" {
		params.SetIdempotencyKey(key)
	}
	if desc := strings.TrimSpace(req.Description); desc != "" {
		params.Description = stripe.String(desc)
	}

	params.Metadata = make(map[string]string, len(req.Metadata)+2)
	for k, v := range req.Metadata {
		params.Metadata[k] = v
	}
	if req.OrderID != "" {
		params.Metadata["order_id"] = req.OrderID
	}
	if req.AttemptID != "" {
		params.Metadata["attempt_id"] = req.AttemptID
	}

	intent, err := p.api.intents.New(params)
	if err != nil {
		return IntentHandle{}, classifyStripeError("create payment intent", err)
	}

	p.logger(ctx, "payments.stripe.intent.created", map[string]any{
		"paymentIntent": intent.ID,
		"orderId":       req.OrderID,
		"amount":        intent.Amount,
	})

	return IntentHandle{
		IntentID:     intent.ID,
		Provider:     "stripe",
		ClientSecret: intent.ClientSecret,
		Status:       stripeIntentStatus(intent.Status),
		ExpiresAt:    p.clock().Add(30 * time.Minute),
	}, nil
}

// VerifyPayment retrieves the intent and reports what Stripe recorded.
func (p *StripeProvider) VerifyPayment(ctx context.Context, req VerifyRequest) (VerificationOutcome, error) {
	if p == nil {
		return VerificationOutcome{}, errors.New("stripe: provider is nil")
	}
	intentID := strings.TrimSpace(req.IntentID)
	if intentID == "" {
		return VerificationOutcome{}, fmt.Errorf("%w: intent id is required", ErrGatewayRejected)
	}

	params := &stripe.PaymentIntentParams{}
	params.Context = ctx
	intent, err := p.api.intents.Get(intentID, params)
	if err != nil {
		return VerificationOutcome{}, classifyStripeError("lookup payment intent", err)
	}

	status := stripeIntentStatus(intent.Status)
	outcome := VerificationOutcome{
		Paid:     status == StatusSucceeded,
		Status:   status,
		Currency: strings.ToUpper(string(intent.Currency)),
	}
	if outcome.Paid {
		outcome.AuthorizedAmount = intent.AmountReceived
		if outcome.AuthorizedAmount == 0 {
			outcome.AuthorizedAmount = intent.Amount
		}
	}

	p.logger(ctx, "payments.stripe.intent.verified", map[string]any{
		"paymentIntent": intent.ID,
		"status":        intent.Status,
		"paid":          outcome.Paid,
	})
	return outcome, nil
}

func stripeIntentStatus(status stripe.PaymentIntentStatus) Status {
	switch status {
	case stripe.PaymentIntentStatusSucceeded:
		return StatusSucceeded
	case stripe.PaymentIntentStatusCanceled:
		return StatusFailed
	default:
		return StatusPending
	}
}

func classifyStripeError(op string, err error) error {
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		if stripeErr.HTTPStatusCode >= 500 || stripeErr.Type == stripe.ErrorTypeAPI {
			return fmt.Errorf("%w: stripe %s: %v", ErrGatewayUnavailable, op, err)
		}
		return fmt.Errorf("%w: stripe %s: %v", ErrGatewayRejected, op, err)
	}
	// Non-API errors are transport level.
	return fmt.Errorf("%w: stripe %s: %v", ErrGatewayUnavailable, op, err)
}

var _ Provider = (*StripeProvider)(nil)
