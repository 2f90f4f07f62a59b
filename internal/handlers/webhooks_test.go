package handlers

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stripe/stripe-go/v78/webhook"

	"github.com/orderhub/api/internal/services"
)

const webhookTestSecret = "whsec_test_secret"

func signedStripeRequest(t *testing.T, payload []byte) *http.Request {
	t.Helper()

	now := time.Now()
	signature := webhook.ComputeSignature(now, payload, webhookTestSecret)
	header := fmt.Sprintf("t=%d,v1=%s", now.Unix(), hex.EncodeToString(signature))

	req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", bytes.NewReader(payload))
	req.Header.Set("Stripe-Signature", header)
	req.Header.Set("Content-Type", "application/json")
	return req
}

func chargeRefundedPayload(t *testing.T, orderID string, amountRefunded int64) []byte {
	t.Helper()

	payload, err := json.Marshal(map[string]any{
		"id":   "evt_01",
		"type": "charge.refunded",
		"data": map[string]any{
			"object": map[string]any{
				"id":              "ch_01",
				"object":          "charge",
				"amount_refunded": amountRefunded,
				"metadata":        map[string]string{"order_id": orderID},
			},
		},
	})
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	return payload
}

func newWebhookRouter(fulfillment services.FulfillmentService) chi.Router {
	h := NewWebhookHandlers(webhookTestSecret, fulfillment)
	r := chi.NewRouter()
	r.Route("/webhooks", h.Routes)
	return r
}

func TestStripeWebhookRejectsBadSignature(t *testing.T) {
	t.Parallel()

	router := newWebhookRouter(&stubFulfillmentService{})

	payload := chargeRefundedPayload(t, "ord_01", 5000)
	req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", bytes.NewReader(payload))
	req.Header.Set("Stripe-Signature", "t=1,v1=deadbeef")

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", rr.Code, rr.Body.String())
	}
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["error"] != "invalid_signature" {
		t.Fatalf("expected invalid_signature, got %v", body["error"])
	}
}

func TestStripeWebhookReconcilesRefund(t *testing.T) {
	t.Parallel()

	var requestedOrder string
	fulfillment := &stubFulfillmentService{
		getPaymentDetailsFn: func(_ context.Context, orderID string) (services.PaymentSummary, error) {
			requestedOrder = orderID
			return services.PaymentSummary{
				OrderID:        orderID,
				Currency:       "USD",
				CapturedAmount: 10500,
				RefundedAmount: 5000,
			}, nil
		},
	}
	router := newWebhookRouter(fulfillment)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, signedStripeRequest(t, chargeRefundedPayload(t, "ord_01", 5000)))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if requestedOrder != "ord_01" {
		t.Fatalf("expected lookup for ord_01, got %q", requestedOrder)
	}
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["handled"] != true {
		t.Fatalf("expected handled=true, got %v", body["handled"])
	}
	if body["reconciled"] != true {
		t.Fatalf("expected reconciled=true, got %v", body["reconciled"])
	}
}

func TestStripeWebhookReportsLedgerDrift(t *testing.T) {
	t.Parallel()

	fulfillment := &stubFulfillmentService{
		getPaymentDetailsFn: func(_ context.Context, orderID string) (services.PaymentSummary, error) {
			return services.PaymentSummary{
				OrderID:        orderID,
				RefundedAmount: 2500,
			}, nil
		},
	}
	router := newWebhookRouter(fulfillment)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, signedStripeRequest(t, chargeRefundedPayload(t, "ord_01", 5000)))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["reconciled"] != false {
		t.Fatalf("expected reconciled=false, got %v", body["reconciled"])
	}
}

func TestStripeWebhookAcksUnknownOrder(t *testing.T) {
	t.Parallel()

	router := newWebhookRouter(&stubFulfillmentService{})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, signedStripeRequest(t, chargeRefundedPayload(t, "ord_missing", 5000)))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 for unknown order, got %d: %s", rr.Code, rr.Body.String())
	}
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["handled"] != false {
		t.Fatalf("expected handled=false, got %v", body["handled"])
	}
}

func TestStripeWebhookIgnoresUnrelatedEvents(t *testing.T) {
	t.Parallel()

	router := newWebhookRouter(&stubFulfillmentService{})

	payload, err := json.Marshal(map[string]any{
		"id":   "evt_02",
		"type": "customer.created",
		"data": map[string]any{"object": map[string]any{"id": "cus_01"}},
	})
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, signedStripeRequest(t, payload))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["handled"] != false {
		t.Fatalf("expected handled=false, got %v", body["handled"])
	}
}
