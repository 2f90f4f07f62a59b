package payments

import (
	"context"
	"errors"
	"testing"
)

type fakeProvider struct {
	lastOp  string
	refund  RefundResult
	payment PaymentDetails
	err     error
}

func (f *fakeProvider) Refund(ctx context.Context, req RefundRequest) (RefundResult, error) {
	f.lastOp = "refund"
	return f.refund, f.err
}

func (f *fakeProvider) LookupPayment(ctx context.Context, req LookupRequest) (PaymentDetails, error) {
	f.lastOp = "lookup"
	return f.payment, f.err
}

func TestManagerRefundUsesPreferredProvider(t *testing.T) {
	ctx := context.Background()
	stripe := &fakeProvider{refund: RefundResult{RefundID: "re_stripe"}}
	paypal := &fakeProvider{refund: RefundResult{RefundID: "re_paypal"}}

	mgr, err := NewManager(map[string]Provider{
		"stripe": stripe,
		"paypal": paypal,
	})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	result, err := mgr.Refund(ctx, PaymentContext{PreferredProvider: "paypal"}, RefundRequest{IntentID: "pi_1", Amount: 100})
	if err != nil {
		t.Fatalf("refund: %v", err)
	}

	if result.RefundID != "re_paypal" {
		t.Fatalf("expected paypal refund, got %q", result.RefundID)
	}
	if paypal.lastOp != "refund" {
		t.Fatalf("expected paypal provider to handle call")
	}
	if stripe.lastOp != "" {
		t.Fatalf("expected stripe provider to remain unused")
	}
}

func TestManagerRoutesByCurrency(t *testing.T) {
	ctx := context.Background()
	stripe := &fakeProvider{refund: RefundResult{RefundID: "re_stripe"}}
	paypal := &fakeProvider{refund: RefundResult{RefundID: "re_paypal"}}

	mgr, err := NewManager(
		map[string]Provider{
			"stripe": stripe,
			"paypal": paypal,
		},
		WithCurrencyRoutes(map[string]string{"JPY": "paypal"}),
	)
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	result, err := mgr.Refund(ctx, PaymentContext{Currency: "JPY"}, RefundRequest{IntentID: "pi_1", Amount: 100})
	if err != nil {
		t.Fatalf("refund: %v", err)
	}
	if result.RefundID != "re_paypal" {
		t.Fatalf("expected paypal refund, got %q", result.RefundID)
	}
	if paypal.lastOp != "refund" {
		t.Fatalf("expected paypal provider to handle call")
	}
}

func TestManagerFallsBackToDefault(t *testing.T) {
	ctx := context.Background()
	stripe := &fakeProvider{payment: PaymentDetails{Provider: "stripe"}}

	mgr, err := NewManager(map[string]Provider{"stripe": stripe})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	details, err := mgr.LookupPayment(ctx, PaymentContext{}, LookupRequest{IntentID: "pi_123"})
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if stripe.lastOp != "lookup" {
		t.Fatalf("expected lookup to invoke default provider")
	}
	if details.Provider != "stripe" {
		t.Fatalf("unexpected provider in details: %q", details.Provider)
	}
}

func TestManagerUnsupportedProvider(t *testing.T) {
	ctx := context.Background()
	mgr, err := NewManager(map[string]Provider{"stripe": &fakeProvider{}, "paypal": &fakeProvider{}}, WithDefaultProvider(""))
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	_, err = mgr.Refund(ctx, PaymentContext{PreferredProvider: "unknown"}, RefundRequest{IntentID: "pi_1"})
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

func TestGatewayErrorTimeoutDetection(t *testing.T) {
	timeoutErr := &GatewayError{Provider: "stripe", Op: "refund", Timeout: true, Err: errors.New("deadline")}
	if !IsTimeout(timeoutErr) {
		t.Fatal("expected timeout gateway error to report timeout")
	}
	hardErr := &GatewayError{Provider: "stripe", Op: "refund", Err: errors.New("card_declined")}
	if IsTimeout(hardErr) {
		t.Fatal("expected non-timeout gateway error to not report timeout")
	}
	if IsTimeout(context.DeadlineExceeded) != true {
		t.Fatal("expected raw deadline errors to report timeout")
	}
}
