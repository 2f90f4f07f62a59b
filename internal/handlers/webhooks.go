package handlers

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/webhook"
	"go.uber.org/zap"

	"github.com/orderhub/api/internal/platform/httpx"
	"github.com/orderhub/api/internal/platform/requestctx"
	"github.com/orderhub/api/internal/services"
)

const (
	maxWebhookBodySize = 64 * 1024
	webhookRateLimit   = 120
	webhookRateWindow  = time.Minute
)

const metadataOrderIDKey = "order_id"

// WebhookHandlers ingests payment service provider callbacks. Stripe refund
// notifications are reconciled against the order ledger so drift between the
// gateway and our own records surfaces in the logs.
type WebhookHandlers struct {
	signingSecret string
	fulfillment   services.FulfillmentService
	limiter       rateLimiter
}

// NewWebhookHandlers constructs handlers verifying Stripe webhook signatures
// with the provided signing secret.
func NewWebhookHandlers(signingSecret string, fulfillment services.FulfillmentService) *WebhookHandlers {
	return &WebhookHandlers{
		signingSecret: strings.TrimSpace(signingSecret),
		fulfillment:   fulfillment,
		limiter:       newSimpleRateLimiter(webhookRateLimit, webhookRateWindow, time.Now),
	}
}

// Routes wires the webhook endpoints onto the provided router.
func (h *WebhookHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/stripe", h.handleStripeEvent)
}

func (h *WebhookHandlers) handleStripeEvent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.limiter != nil && !h.limiter.Allow(remoteAddrKey(r)) {
		httpx.WriteError(ctx, w, httpx.NewError("rate_limited", "too many requests", http.StatusTooManyRequests))
		return
	}
	if h.signingSecret == "" {
		httpx.WriteError(ctx, w, httpx.NewError("webhook_not_configured", "webhook signing secret is not configured", http.StatusServiceUnavailable))
		return
	}

	body, err := readLimitedBody(r, maxWebhookBodySize)
	if err != nil {
		switch {
		case errors.Is(err, errBodyTooLarge):
			httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "request body exceeds limit", http.StatusRequestEntityTooLarge))
		case errors.Is(err, errEmptyBody):
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body is required", http.StatusBadRequest))
		default:
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "failed to read request body", http.StatusBadRequest))
		}
		return
	}

	event, err := webhook.ConstructEventWithOptions(body, r.Header.Get("Stripe-Signature"), h.signingSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_signature", "webhook signature verification failed", http.StatusBadRequest))
		return
	}

	logger := requestctx.Logger(ctx).With(
		zap.String("stripe_event_id", event.ID),
		zap.String("stripe_event_type", string(event.Type)),
	)

	switch event.Type {
	case "charge.refunded":
		h.reconcileRefundedCharge(r, w, logger, event)
	default:
		logger.Info("stripe event ignored")
		writeJSONResponse(w, http.StatusOK, map[string]any{"received": true, "handled": false})
	}
}

func remoteAddrKey(r *http.Request) string {
	if r == nil {
		return ""
	}
	addr := strings.TrimSpace(r.RemoteAddr)
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}

func (h *WebhookHandlers) reconcileRefundedCharge(r *http.Request, w http.ResponseWriter, logger *zap.Logger, event stripe.Event) {
	ctx := r.Context()

	var charge stripe.Charge
	if err := json.Unmarshal(event.Data.Raw, &charge); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "malformed charge payload", http.StatusBadRequest))
		return
	}

	orderID := strings.TrimSpace(charge.Metadata[metadataOrderIDKey])
	if orderID == "" {
		logger.Warn("charge.refunded event without order metadata", zap.String("charge_id", charge.ID))
		writeJSONResponse(w, http.StatusOK, map[string]any{"received": true, "handled": false})
		return
	}
	logger = logger.With(zap.String("order_id", orderID))

	summary, err := h.fulfillment.GetPaymentDetails(ctx, orderID)
	if err != nil {
		if errors.Is(err, services.ErrOrderNotFound) {
			logger.Warn("charge.refunded event for unknown order")
			writeJSONResponse(w, http.StatusOK, map[string]any{"received": true, "handled": false})
			return
		}
		writeOrderError(ctx, w, err)
		return
	}

	reconciled := summary.RefundedAmount == charge.AmountRefunded
	if reconciled {
		logger.Info("refund ledger reconciled with gateway",
			zap.Int64("refunded_amount", summary.RefundedAmount),
		)
	} else {
		logger.Warn("refund ledger diverges from gateway",
			zap.Int64("ledger_refunded_amount", summary.RefundedAmount),
			zap.Int64("gateway_refunded_amount", charge.AmountRefunded),
		)
	}

	writeJSONResponse(w, http.StatusOK, map[string]any{
		"received":   true,
		"handled":    true,
		"reconciled": reconciled,
	})
}
