package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stripe/stripe-go/v78"

	"github.com/orderhub/api/internal/payments"
)

type stubPaymentMethodVerifier struct {
	details payments.PaymentMethodDetails
	err     error

	received string
}

func (s *stubPaymentMethodVerifier) Lookup(_ context.Context, token string) (payments.PaymentMethodDetails, error) {
	s.received = token
	if s.err != nil {
		return payments.PaymentMethodDetails{}, s.err
	}
	return s.details, nil
}

func newInternalRouter(verifier PaymentMethodVerifier) chi.Router {
	h := NewInternalHandlers(verifier)
	r := chi.NewRouter()
	r.Route("/internal", h.Routes)
	return r
}

func TestLookupPaymentMethod(t *testing.T) {
	t.Parallel()

	verifier := &stubPaymentMethodVerifier{
		details: payments.PaymentMethodDetails{
			Token:    "pm_123",
			Brand:    "visa",
			Last4:    "4242",
			ExpMonth: 12,
			ExpYear:  2030,
		},
	}
	router := newInternalRouter(verifier)

	req := httptest.NewRequest(http.MethodGet, "/internal/payment-methods/pm_123", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if verifier.received != "pm_123" {
		t.Fatalf("expected lookup for pm_123, got %q", verifier.received)
	}
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["brand"] != "visa" || body["last4"] != "4242" {
		t.Fatalf("unexpected payload: %v", body)
	}
	if body["exp_month"] != float64(12) || body["exp_year"] != float64(2030) {
		t.Fatalf("unexpected expiry: %v", body)
	}
}

func TestLookupPaymentMethodNotFound(t *testing.T) {
	t.Parallel()

	verifier := &stubPaymentMethodVerifier{
		err: &stripe.Error{
			Code:           stripe.ErrorCodeResourceMissing,
			HTTPStatusCode: http.StatusNotFound,
		},
	}
	router := newInternalRouter(verifier)

	req := httptest.NewRequest(http.MethodGet, "/internal/payment-methods/pm_missing", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d: %s", rr.Code, rr.Body.String())
	}
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["error"] != "payment_method_not_found" {
		t.Fatalf("expected payment_method_not_found, got %v", body["error"])
	}
}

func TestLookupPaymentMethodGatewayError(t *testing.T) {
	t.Parallel()

	verifier := &stubPaymentMethodVerifier{err: errors.New("connection reset")}
	router := newInternalRouter(verifier)

	req := httptest.NewRequest(http.MethodGet, "/internal/payment-methods/pm_123", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d: %s", rr.Code, rr.Body.String())
	}
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["error"] != "gateway_error" {
		t.Fatalf("expected gateway_error, got %v", body["error"])
	}
}
