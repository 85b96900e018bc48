package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Status enumerates the normalised gateway intent states shared across providers.
type Status string

const (
	// StatusPending indicates the intent is awaiting customer action or gateway confirmation.
	StatusPending Status = "pending"
	// StatusSucceeded indicates the gateway reports the payment as captured.
	StatusSucceeded Status = "succeeded"
	// StatusFailed indicates the gateway reports a terminal failure.
	StatusFailed Status = "failed"
)

var (
	// ErrUnsupportedProvider is returned when the manager cannot locate a provider.
	ErrUnsupportedProvider = errors.New("payments: unsupported provider")
	// ErrGatewayUnavailable marks transient gateway trouble. The attempt may
	// be retried with the same idempotency key.
	ErrGatewayUnavailable = errors.New("payments: gateway unavailable")
	// ErrGatewayRejected marks a terminal gateway refusal. Retrying the same
	// request will not help.
	ErrGatewayRejected = errors.New("payments: gateway rejected request")
)

// IntentRequest captures the payload required to open a gateway payment intent.
type IntentRequest struct {
	OrderID        string
	AttemptID      string
	Amount         int64
	Currency       string
	Description    string
	Metadata       map[string]string
	IdempotencyKey string
}

// IntentHandle represents the opened intent handed back to the client UI.
type IntentHandle struct {
	IntentID     string
	Provider     string
	ClientSecret string
	Status       Status
	ExpiresAt    time.Time
}

// VerifyRequest identifies the payment to verify after the gateway reported
// completion. The gateway callback alone is never trusted.
type VerifyRequest struct {
	OrderID   string
	IntentID  string
	Reference string
}

// VerificationOutcome is the provider's authoritative word on a payment.
type VerificationOutcome struct {
	Paid             bool
	Status           Status
	AuthorizedAmount int64
	Currency         string
}

// Provider defines the contract gateway adapters implement. A provider never
// decides checkout success; it only opens intents and reports what the
// gateway account actually recorded.
type Provider interface {
	CreateIntent(ctx context.Context, req IntentRequest) (IntentHandle, error)
	VerifyPayment(ctx context.Context, req VerifyRequest) (VerificationOutcome, error)
}

// Manager coordinates provider selection and exposes the aggregated interface.
type Manager struct {
	providers       map[string]Provider
	defaultProvider string
}

// ManagerOption configures optional behaviour when building a Manager.
type ManagerOption func(*Manager)

// WithDefaultProvider overrides the provider used when no preference is given.
func WithDefaultProvider(provider string) ManagerOption {
	return func(m *Manager) {
		m.defaultProvider = provider
	}
}

// NewManager constructs a Manager over the supplied providers.
func NewManager(providers map[string]Provider, opts ...ManagerOption) (*Manager, error) {
	if len(providers) == 0 {
		return nil, errors.New("payments: at least one provider is required")
	}
	copyMap := make(map[string]Provider, len(providers))
	for k, v := range providers {
		key := strings.TrimSpace(strings.ToLower(k))
		if key == "" || v == nil {
			return nil, fmt.Errorf("payments: invalid provider registration for key %q", k)
		}
		copyMap[key] = v
	}
	m := &Manager{
		providers: copyMap,
	}
	if _, ok := copyMap["stripe"]; ok {
		m.defaultProvider = "stripe"
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

func (m *Manager) resolveProvider(preferred string) (string, Provider, error) {
	if m == nil {
		return "", nil, errors.New("payments: manager is nil")
	}
	if len(m.providers) == 0 {
		return "", nil, errors.New("payments: no providers registered")
	}
	if provider := strings.TrimSpace(strings.ToLower(preferred)); provider != "" {
		if p, ok := m.providers[provider]; ok {
			return provider, p, nil
		}
	}
	if def := strings.TrimSpace(strings.ToLower(m.defaultProvider)); def != "" {
		if p, ok := m.providers[def]; ok {
			return def, p, nil
		}
	}
	if len(m.providers) == 1 {
		for key, p := range m.providers {
			return key, p, nil
		}
	}
	return "", nil, ErrUnsupportedProvider
}

// CreateIntent delegates to the resolved provider.
func (m *Manager) CreateIntent(ctx context.Context, req IntentRequest) (IntentHandle, error) {
	key, provider, err := m.resolveProvider("")
	if err != nil {
		return IntentHandle{}, err
	}
	handle, err := provider.CreateIntent(ctx, req)
	if err != nil {
		return IntentHandle{}, err
	}
	handle.Provider = key
	return handle, nil
}

// VerifyPayment delegates to the resolved provider.
func (m *Manager) VerifyPayment(ctx context.Context, req VerifyRequest) (VerificationOutcome, error) {
	_, provider, err := m.resolveProvider("")
	if err != nil {
		return VerificationOutcome{}, err
	}
	return provider.VerifyPayment(ctx, req)
}

var _ Provider = (*Manager)(nil)
