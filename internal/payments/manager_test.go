package payments

import (
	"context"
	"errors"
	"testing"
)

type fakeProvider struct {
	lastOp  string
	handle  IntentHandle
	outcome VerificationOutcome
	err     error
}

func (f *fakeProvider) CreateIntent(ctx context.Context, req IntentRequest) (IntentHandle, error) {
	f.lastOp = "create"
	return f.handle, f.err
}

func (f *fakeProvider) VerifyPayment(ctx context.Context, req VerifyRequest) (VerificationOutcome, error) {
	f.lastOp = "verify"
	return f.outcome, f.err
}

func TestManagerPrefersStripeByDefault(t *testing.T) {
	ctx := context.Background()
	stripe := &fakeProvider{handle: IntentHandle{IntentID: "pi_stripe"}}
	rest := &fakeProvider{handle: IntentHandle{IntentID: "pi_rest"}}

	mgr, err := NewManager(map[string]Provider{
		"stripe": stripe,
		"rest":   rest,
	})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	handle, err := mgr.CreateIntent(ctx, IntentRequest{OrderID: "5f1a7caf8bd0a23f4c1d2a01", Amount: 2530, Currency: "USD"})
	if err != nil {
		t.Fatalf("create intent: %v", err)
	}
	if handle.Provider != "stripe" {
		t.Fatalf("expected provider 'stripe', got %q", handle.Provider)
	}
	if stripe.lastOp != "create" {
		t.Fatalf("expected stripe provider to handle call")
	}
	if rest.lastOp != "" {
		t.Fatalf("expected rest provider to remain unused")
	}
}

func TestManagerHonoursConfiguredDefault(t *testing.T) {
	ctx := context.Background()
	stripe := &fakeProvider{outcome: VerificationOutcome{Paid: true, Status: StatusSucceeded}}
	rest := &fakeProvider{outcome: VerificationOutcome{Paid: true, Status: StatusSucceeded}}

	mgr, err := NewManager(
		map[string]Provider{"stripe": stripe, "rest": rest},
		WithDefaultProvider("rest"),
	)
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	outcome, err := mgr.VerifyPayment(ctx, VerifyRequest{OrderID: "5f1a7caf8bd0a23f4c1d2a01"})
	if err != nil {
		t.Fatalf("verify payment: %v", err)
	}
	if !outcome.Paid {
		t.Fatalf("expected paid outcome")
	}
	if rest.lastOp != "verify" {
		t.Fatalf("expected rest provider to handle call")
	}
	if stripe.lastOp != "" {
		t.Fatalf("expected stripe provider to remain unused")
	}
}

func TestManagerSingleProviderFallback(t *testing.T) {
	ctx := context.Background()
	only := &fakeProvider{handle: IntentHandle{IntentID: "pi_only"}}

	mgr, err := NewManager(map[string]Provider{"rest": only})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	handle, err := mgr.CreateIntent(ctx, IntentRequest{OrderID: "5f1a7caf8bd0a23f4c1d2a01", Amount: 100, Currency: "USD"})
	if err != nil {
		t.Fatalf("create intent: %v", err)
	}
	if handle.IntentID != "pi_only" {
		t.Fatalf("unexpected handle: %+v", handle)
	}
}

func TestManagerUnsupportedProvider(t *testing.T) {
	ctx := context.Background()
	mgr, err := NewManager(
		map[string]Provider{"stripe": &fakeProvider{}, "rest": &fakeProvider{}},
		WithDefaultProvider("unknown"),
	)
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	// Two providers registered but neither is the configured default.
	_, err = mgr.CreateIntent(ctx, IntentRequest{OrderID: "5f1a7caf8bd0a23f4c1d2a01", Amount: 100, Currency: "USD"})
	if !errors.Is(err, ErrUnsupportedProvider) {
		t.Fatalf("expected ErrUnsupportedProvider, got %v", err)
	}
}

func TestNewManagerValidatesProviders(t *testing.T) {
	if _, err := NewManager(map[string]Provider{"bad": nil}); err == nil {
		t.Fatalf("expected error for nil provider")
	}
	if _, err := NewManager(nil); err == nil {
		t.Fatalf("expected error when providers empty")
	}
}
