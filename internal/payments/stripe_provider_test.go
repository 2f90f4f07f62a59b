package payments

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stripe/stripe-go/v78"
)

type stubRefundClient struct {
	params *stripe.RefundParams
	refund *stripe.Refund
	err    error
}

func (s *stubRefundClient) New(params *stripe.RefundParams) (*stripe.Refund, error) {
	s.params = params
	if s.err != nil {
		return nil, s.err
	}
	return s.refund, nil
}

type stubIntentClient struct {
	intent *stripe.PaymentIntent
	err    error
}

func (s *stubIntentClient) Get(string, *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.intent, nil
}

type stubPaymentMethodClient struct {
	method *stripe.PaymentMethod
	err    error
}

func (s *stubPaymentMethodClient) Get(string, *stripe.PaymentMethodParams) (*stripe.PaymentMethod, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.method, nil
}

func newStubStripeProvider(t *testing.T, refunds stripeRefundAPI, intents stripePaymentIntentAPI) *StripeProvider {
	t.Helper()
	provider, err := NewStripeProvider(StripeProviderConfig{
		Clients: &stripeClients{
			intents:        intents,
			refunds:        refunds,
			paymentMethods: &stubPaymentMethodClient{},
		},
		Clock: func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) },
	})
	if err != nil {
		t.Fatalf("new provider: %v", err)
	}
	return provider
}

func TestStripeProviderRefundForwardsIdempotencyKey(t *testing.T) {
	refunds := &stubRefundClient{
		refund: &stripe.Refund{
			ID:       "re_1",
			Amount:   2500,
			Currency: "usd",
			Status:   stripe.RefundStatusSucceeded,
		},
	}
	provider := newStubStripeProvider(t, refunds, &stubIntentClient{})

	result, err := provider.Refund(context.Background(), RefundRequest{
		IntentID:       "pi_1",
		Amount:         2500,
		Currency:       "USD",
		IdempotencyKey: "key-1",
	})
	if err != nil {
		t.Fatalf("refund: %v", err)
	}

	if refunds.params == nil || refunds.params.IdempotencyKey == nil || *refunds.params.IdempotencyKey != "key-1" {
		t.Fatalf("expected idempotency key to be forwarded, got %+v", refunds.params)
	}
	if result.RefundID != "re_1" || result.Currency != "USD" || result.Status != StatusSucceeded {
		t.Fatalf("unexpected result %+v", result)
	}
}

func TestStripeProviderRefundClassifiesTimeout(t *testing.T) {
	refunds := &stubRefundClient{
		err: fmt.Errorf("request aborted: %w", context.DeadlineExceeded),
	}
	provider := newStubStripeProvider(t, refunds, &stubIntentClient{})

	_, err := provider.Refund(context.Background(), RefundRequest{IntentID: "pi_1", Amount: 100})
	if !IsTimeout(err) {
		t.Fatalf("expected timeout classification, got %v", err)
	}

	var gatewayErr *GatewayError
	if !errors.As(err, &gatewayErr) || gatewayErr.Op != "refund" || gatewayErr.Provider != "stripe" {
		t.Fatalf("unexpected gateway error %+v", err)
	}
}

func TestStripeProviderRefundWrapsHardRejection(t *testing.T) {
	refunds := &stubRefundClient{
		err: &stripe.Error{Type: stripe.ErrorTypeInvalidRequest, Code: stripe.ErrorCodeChargeAlreadyRefunded},
	}
	provider := newStubStripeProvider(t, refunds, &stubIntentClient{})

	_, err := provider.Refund(context.Background(), RefundRequest{IntentID: "pi_1", Amount: 100})

	var gatewayErr *GatewayError
	if !errors.As(err, &gatewayErr) {
		t.Fatalf("expected gateway error, got %v", err)
	}
	if IsTimeout(err) {
		t.Fatalf("expected hard rejection to not report timeout: %v", err)
	}

	var stripeErr *stripe.Error
	if !errors.As(err, &stripeErr) || stripeErr.Code != stripe.ErrorCodeChargeAlreadyRefunded {
		t.Fatalf("expected stripe error to remain unwrappable, got %v", err)
	}
}

func TestNewStripeProviderRequiresCredentials(t *testing.T) {
	if _, err := NewStripeProvider(StripeProviderConfig{}); err == nil {
		t.Fatal("expected error when api key and clients are missing")
	}
	if _, err := NewStripeProvider(StripeProviderConfig{Clients: &stripeClients{}}); err == nil {
		t.Fatal("expected error for incomplete client configuration")
	}
}

func TestStripePaymentMethodVerifierLookup(t *testing.T) {
	verifier, err := NewStripePaymentMethodVerifier(StripeProviderConfig{
		Clients: &stripeClients{
			paymentMethods: &stubPaymentMethodClient{
				method: &stripe.PaymentMethod{
					ID:   "pm_1",
					Type: stripe.PaymentMethodTypeCard,
					Card: &stripe.PaymentMethodCard{
						Brand:    stripe.PaymentMethodCardBrandVisa,
						Last4:    "4242",
						ExpMonth: 12,
						ExpYear:  2030,
					},
				},
			},
		},
	})
	if err != nil {
		t.Fatalf("new verifier: %v", err)
	}

	details, err := verifier.Lookup(context.Background(), "pm_1")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if details.Token != "pm_1" || details.Brand != "visa" || details.Last4 != "4242" {
		t.Fatalf("unexpected details %+v", details)
	}
	if details.ExpMonth != 12 || details.ExpYear != 2030 {
		t.Fatalf("unexpected expiry %d/%d", details.ExpMonth, details.ExpYear)
	}
}

func TestStripePaymentMethodVerifierRequiresToken(t *testing.T) {
	verifier, err := NewStripePaymentMethodVerifier(StripeProviderConfig{
		Clients: &stripeClients{paymentMethods: &stubPaymentMethodClient{}},
	})
	if err != nil {
		t.Fatalf("new verifier: %v", err)
	}
	if _, err := verifier.Lookup(context.Background(), "   "); err == nil {
		t.Fatal("expected error for blank token")
	}
}
