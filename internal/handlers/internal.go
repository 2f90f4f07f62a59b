package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/stripe/stripe-go/v78"

	"github.com/orderhub/api/internal/payments"
	"github.com/orderhub/api/internal/platform/httpx"
)

// PaymentMethodVerifier resolves payment instrument metadata at the gateway.
type PaymentMethodVerifier interface {
	Lookup(ctx context.Context, token string) (payments.PaymentMethodDetails, error)
}

// InternalHandlers exposes operator-facing endpoints for trusted callers.
// The router guards this group with HMAC request signing.
type InternalHandlers struct {
	verifier PaymentMethodVerifier
}

// NewInternalHandlers constructs the internal endpoint handlers.
func NewInternalHandlers(verifier PaymentMethodVerifier) *InternalHandlers {
	return &InternalHandlers{verifier: verifier}
}

// Routes wires the internal endpoints onto the provided router.
func (h *InternalHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/payment-methods/{token}", h.lookupPaymentMethod)
}

type paymentMethodResponse struct {
	Token    string `json:"token"`
	Brand    string `json:"brand,omitempty"`
	Last4    string `json:"last4,omitempty"`
	ExpMonth int    `json:"exp_month,omitempty"`
	ExpYear  int    `json:"exp_year,omitempty"`
}

func (h *InternalHandlers) lookupPaymentMethod(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.verifier == nil {
		httpx.WriteError(ctx, w, httpx.NewError("verifier_unavailable", "payment method verifier is not configured", http.StatusServiceUnavailable))
		return
	}

	token := strings.TrimSpace(chi.URLParam(r, "token"))
	if token == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "payment method token is required", http.StatusBadRequest))
		return
	}

	details, err := h.verifier.Lookup(ctx, token)
	if err != nil {
		writePaymentMethodError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, paymentMethodResponse{
		Token:    details.Token,
		Brand:    details.Brand,
		Last4:    details.Last4,
		ExpMonth: details.ExpMonth,
		ExpYear:  details.ExpYear,
	})
}

func writePaymentMethodError(ctx context.Context, w http.ResponseWriter, err error) {
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		if stripeErr.HTTPStatusCode == http.StatusNotFound || stripeErr.Code == stripe.ErrorCodeResourceMissing {
			httpx.WriteError(ctx, w, httpx.NewError("payment_method_not_found", "payment method was not found at the gateway", http.StatusNotFound))
			return
		}
	}
	httpx.WriteError(ctx, w, httpx.NewError("gateway_error", "payment method lookup failed", http.StatusBadGateway))
}
