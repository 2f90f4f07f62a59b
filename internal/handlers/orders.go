package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	domain "github.com/orderhub/api/internal/domain"
	"github.com/orderhub/api/internal/payments"
	"github.com/orderhub/api/internal/platform/auth"
	"github.com/orderhub/api/internal/platform/httpx"
	"github.com/orderhub/api/internal/services"
)

const (
	defaultOrderPageSize = 20
	maxOrderPageSize     = 100
	maxOrderBodySize     = 16 * 1024
)

var validOrderStatuses = map[domain.OrderStatus]struct{}{
	domain.OrderStatusPending:    {},
	domain.OrderStatusProcessing: {},
	domain.OrderStatusShipped:    {},
	domain.OrderStatusDelivered:  {},
	domain.OrderStatusCancelled:  {},
}

type shipOrderRequest struct {
	Carriers          []carrierRecordRequest `json:"carriers"`
	EstimatedDelivery string                 `json:"estimated_delivery"`
}

type carrierRecordRequest struct {
	Carrier        string `json:"carrier"`
	TrackingNumber string `json:"tracking_number"`
}

type deliverOrderRequest struct {
	DeliveredAt string `json:"delivered_at"`
}

type cancelOrderRequest struct {
	Reason          string `json:"reason"`
	ClientRequestID string `json:"client_request_id"`
}

type refundOrderRequest struct {
	Amount          int64  `json:"amount"`
	AmountMajor     string `json:"amount_major"`
	Reason          string `json:"reason"`
	ClientRequestID string `json:"client_request_id"`
}

// refundAmountMinor resolves the requested amount. Clients send either
// "amount" in minor units or "amount_major" as a decimal string, not both.
func (req refundOrderRequest) refundAmountMinor() (int64, error) {
	major := strings.TrimSpace(req.AmountMajor)
	if major == "" {
		return req.Amount, nil
	}
	if req.Amount != 0 {
		return 0, errors.New("amount and amount_major are mutually exclusive")
	}
	parsed, err := domain.ParseMajor(major)
	if err != nil {
		return 0, errors.New("amount_major must be a non-negative decimal amount")
	}
	return parsed.Minor(), nil
}

// OrderHandlers exposes the staff fulfilment endpoints.
type OrderHandlers struct {
	authn       *auth.Authenticator
	fulfillment services.FulfillmentService
	refunds     services.RefundService
}

// NewOrderHandlers constructs a new OrderHandlers instance.
func NewOrderHandlers(authn *auth.Authenticator, fulfillment services.FulfillmentService, refunds services.RefundService) *OrderHandlers {
	return &OrderHandlers{
		authn:       authn,
		fulfillment: fulfillment,
		refunds:     refunds,
	}
}

// Routes registers the /orders endpoints.
func (h *OrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireAuth(auth.RoleStaff, auth.RoleAdmin))
	}
	r.Get("/", h.listOrders)
	r.Get("/{orderID}", h.getOrder)
	r.Get("/{orderID}/payment", h.getPaymentDetails)
	r.Post("/{orderID}:process", h.markProcessing)
	r.Post("/{orderID}:ship", h.shipOrder)
	r.Post("/{orderID}:deliver", h.deliverOrder)
	r.Post("/{orderID}:cancel", h.cancelOrder)
	r.Post("/{orderID}:refund", h.refundOrder)
}

func (h *OrderHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.fulfillment == nil {
		httpx.WriteError(ctx, w, httpx.NewError("fulfillment_unavailable", "fulfillment service unavailable", http.StatusServiceUnavailable))
		return
	}

	query := r.URL.Query()

	var filter services.OrderListFilter

	if raw := strings.TrimSpace(query.Get("status")); raw != "" {
		status, ok := parseOrderStatus(raw)
		if !ok {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "status must be a valid order status", http.StatusBadRequest))
			return
		}
		filter.Status = &status
	}

	if raw := strings.TrimSpace(query.Get("payment_method")); raw != "" {
		method := domain.PaymentMethod(strings.ToLower(raw))
		if method != domain.PaymentMethodCard && method != domain.PaymentMethodOther {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "payment_method must be card or other", http.StatusBadRequest))
			return
		}
		filter.PaymentMethod = &method
	}

	if raw := strings.TrimSpace(query.Get("created_after")); raw != "" {
		ts, err := parseTimeParam(raw)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "created_after must be a valid RFC3339 timestamp", http.StatusBadRequest))
			return
		}
		filter.CreatedAt.From = &ts
	}
	if raw := strings.TrimSpace(query.Get("created_before")); raw != "" {
		ts, err := parseTimeParam(raw)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "created_before must be a valid RFC3339 timestamp", http.StatusBadRequest))
			return
		}
		filter.CreatedAt.To = &ts
	}

	pageSize := defaultOrderPageSize
	if sizeRaw := strings.TrimSpace(query.Get("page_size")); sizeRaw != "" {
		size, err := strconv.Atoi(sizeRaw)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "page_size must be an integer", http.StatusBadRequest))
			return
		}
		switch {
		case size <= 0:
			pageSize = defaultOrderPageSize
		case size > maxOrderPageSize:
			pageSize = maxOrderPageSize
		default:
			pageSize = size
		}
	}
	filter.Pagination = services.Pagination{
		PageSize:  pageSize,
		PageToken: strings.TrimSpace(query.Get("page_token")),
	}

	if raw := strings.TrimSpace(query.Get("sort")); raw != "" {
		switch strings.ToLower(raw) {
		case string(domain.SortAsc):
			filter.Sort = domain.SortAsc
		case string(domain.SortDesc):
			filter.Sort = domain.SortDesc
		default:
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "sort must be asc or desc", http.StatusBadRequest))
			return
		}
	}

	page, err := h.fulfillment.ListOrders(ctx, filter)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	items := make([]orderSummaryPayload, 0, len(page.Items))
	for _, order := range page.Items {
		items = append(items, buildOrderSummary(order))
	}

	writeJSONResponse(w, http.StatusOK, orderListResponse{
		Items:         items,
		NextPageToken: strings.TrimSpace(page.NextPageToken),
	})
}

func (h *OrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.fulfillment == nil {
		httpx.WriteError(ctx, w, httpx.NewError("fulfillment_unavailable", "fulfillment service unavailable", http.StatusServiceUnavailable))
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}

	order, err := h.fulfillment.GetOrder(ctx, orderID)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) getPaymentDetails(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.fulfillment == nil {
		httpx.WriteError(ctx, w, httpx.NewError("fulfillment_unavailable", "fulfillment service unavailable", http.StatusServiceUnavailable))
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}

	summary, err := h.fulfillment.GetPaymentDetails(ctx, orderID)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, buildPaymentSummaryPayload(summary))
}

func (h *OrderHandlers) markProcessing(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.fulfillment == nil {
		httpx.WriteError(ctx, w, httpx.NewError("fulfillment_unavailable", "fulfillment service unavailable", http.StatusServiceUnavailable))
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}

	order, err := h.fulfillment.MarkProcessing(ctx, services.MarkProcessingCommand{
		OrderID: orderID,
		ActorID: actorID(ctx),
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) shipOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.fulfillment == nil {
		httpx.WriteError(ctx, w, httpx.NewError("fulfillment_unavailable", "fulfillment service unavailable", http.StatusServiceUnavailable))
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}

	var req shipOrderRequest
	if !decodeOrderBody(ctx, w, r, &req, true) {
		return
	}

	cmd := services.ShipOrderCommand{
		OrderID: orderID,
		ActorID: actorID(ctx),
	}
	for _, record := range req.Carriers {
		cmd.Carriers = append(cmd.Carriers, services.CarrierRecord{
			Carrier:        record.Carrier,
			TrackingNumber: record.TrackingNumber,
		})
	}
	if raw := strings.TrimSpace(req.EstimatedDelivery); raw != "" {
		ts, err := parseTimeParam(raw)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "estimated_delivery must be a valid RFC3339 timestamp or date", http.StatusBadRequest))
			return
		}
		cmd.EstimatedDelivery = &ts
	}

	order, err := h.fulfillment.Ship(ctx, cmd)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) deliverOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.fulfillment == nil {
		httpx.WriteError(ctx, w, httpx.NewError("fulfillment_unavailable", "fulfillment service unavailable", http.StatusServiceUnavailable))
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}

	var req deliverOrderRequest
	if !decodeOrderBody(ctx, w, r, &req, false) {
		return
	}

	cmd := services.DeliverOrderCommand{
		OrderID: orderID,
		ActorID: actorID(ctx),
	}
	if raw := strings.TrimSpace(req.DeliveredAt); raw != "" {
		ts, err := parseTimeParam(raw)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "delivered_at must be a valid RFC3339 timestamp", http.StatusBadRequest))
			return
		}
		cmd.DeliveredAt = &ts
	}

	order, err := h.fulfillment.Deliver(ctx, cmd)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) cancelOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.fulfillment == nil {
		httpx.WriteError(ctx, w, httpx.NewError("fulfillment_unavailable", "fulfillment service unavailable", http.StatusServiceUnavailable))
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}

	var req cancelOrderRequest
	if !decodeOrderBody(ctx, w, r, &req, true) {
		return
	}

	clientRequestID := strings.TrimSpace(req.ClientRequestID)
	if clientRequestID == "" {
		clientRequestID = uuid.NewString()
	}

	result, err := h.fulfillment.Cancel(ctx, services.CancelOrderCommand{
		OrderID:         orderID,
		Reason:          strings.TrimSpace(req.Reason),
		ClientRequestID: clientRequestID,
		ActorID:         actorID(ctx),
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	payload := cancelOrderResponse{
		Order: buildOrderPayload(result.Order),
	}
	if result.RefundIssued != nil {
		payload.RefundIssued = result.RefundIssued
	}
	writeJSONResponse(w, http.StatusOK, payload)
}

func (h *OrderHandlers) refundOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.refunds == nil {
		httpx.WriteError(ctx, w, httpx.NewError("refund_unavailable", "refund service unavailable", http.StatusServiceUnavailable))
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}

	var req refundOrderRequest
	if !decodeOrderBody(ctx, w, r, &req, true) {
		return
	}

	amount, err := req.refundAmountMinor()
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	clientRequestID := strings.TrimSpace(req.ClientRequestID)
	if clientRequestID == "" {
		clientRequestID = uuid.NewString()
	}

	outcome, err := h.refunds.Refund(ctx, services.RefundOrderCommand{
		OrderID:         orderID,
		Amount:          amount,
		Reason:          services.RefundReason(strings.TrimSpace(strings.ToLower(req.Reason))),
		ClientRequestID: clientRequestID,
		ActorID:         actorID(ctx),
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, refundOrderResponse{
		Order:            buildOrderPayload(outcome.Order),
		RefundID:         outcome.RefundID,
		RefundedAmount:   outcome.RefundedAmount,
		RefundableAmount: outcome.RefundableAmount,
	})
}

type orderListResponse struct {
	Items         []orderSummaryPayload `json:"items"`
	NextPageToken string                `json:"next_page_token,omitempty"`
}

type orderSummaryPayload struct {
	ID            string `json:"id"`
	DisplayID     string `json:"display_id,omitempty"`
	Status        string `json:"status"`
	PaymentMethod string `json:"payment_method"`
	Currency      string `json:"currency"`
	Total         int64  `json:"total"`
	CreatedAt     string `json:"created_at"`
}

type orderResponse struct {
	Order orderPayload `json:"order"`
}

type cancelOrderResponse struct {
	Order        orderPayload `json:"order"`
	RefundIssued *int64       `json:"refund_issued,omitempty"`
}

type refundOrderResponse struct {
	Order            orderPayload `json:"order"`
	RefundID         string       `json:"refund_id"`
	RefundedAmount   int64        `json:"refunded_amount"`
	RefundableAmount int64        `json:"refundable_amount"`
}

type orderPayload struct {
	ID            string                `json:"id"`
	DisplayID     string                `json:"display_id,omitempty"`
	Status        string                `json:"status"`
	PaymentMethod string                `json:"payment_method"`
	Currency      string                `json:"currency"`
	Totals        orderTotalsPayload    `json:"totals"`
	Items         []orderItemPayload    `json:"items"`
	Shipment      *orderShipmentPayload `json:"shipment,omitempty"`
	IsGuestOrder  bool                  `json:"is_guest_order,omitempty"`
	Version       int64                 `json:"version"`
	CreatedAt     string                `json:"created_at"`
	UpdatedAt     string                `json:"updated_at,omitempty"`
	ShippedAt     string                `json:"shipped_at,omitempty"`
	DeliveredAt   string                `json:"delivered_at,omitempty"`
	CancelledAt   string                `json:"cancelled_at,omitempty"`
	CancelReason  string                `json:"cancel_reason,omitempty"`
}

type orderTotalsPayload struct {
	Subtotal int64 `json:"subtotal"`
	Discount int64 `json:"discount"`
	Shipping int64 `json:"shipping"`
	Total    int64 `json:"total"`
}

type orderItemPayload struct {
	SKU       string `json:"sku"`
	Name      string `json:"name,omitempty"`
	Quantity  int    `json:"quantity"`
	UnitPrice int64  `json:"unit_price"`
}

type orderShipmentPayload struct {
	ID                string                 `json:"id"`
	Carriers          []carrierRecordPayload `json:"carriers"`
	EstimatedDelivery string                 `json:"estimated_delivery,omitempty"`
	DeliveredAt       string                 `json:"delivered_at,omitempty"`
	CreatedAt         string                 `json:"created_at"`
}

type carrierRecordPayload struct {
	Carrier        string `json:"carrier"`
	TrackingNumber string `json:"tracking_number,omitempty"`
}

type paymentSummaryPayload struct {
	OrderID               string          `json:"order_id"`
	Currency              string          `json:"currency"`
	CapturedAmount        int64           `json:"captured_amount"`
	RefundedAmount        int64           `json:"refunded_amount"`
	RefundableAmount      int64           `json:"refundable_amount"`
	Refundable            bool            `json:"refundable"`
	Refunds               []refundPayload `json:"refunds"`
	GatewayStatus         string          `json:"gateway_status,omitempty"`
	GatewayAmountRefunded int64           `json:"gateway_amount_refunded,omitempty"`
}

type refundPayload struct {
	ID              string `json:"id"`
	Amount          int64  `json:"amount"`
	Reason          string `json:"reason"`
	GatewayRefundID string `json:"gateway_refund_id,omitempty"`
	CreatedAt       string `json:"created_at"`
}

func buildOrderSummary(order services.Order) orderSummaryPayload {
	return orderSummaryPayload{
		ID:            strings.TrimSpace(order.ID),
		DisplayID:     strings.TrimSpace(order.DisplayID),
		Status:        strings.TrimSpace(string(order.Status)),
		PaymentMethod: strings.TrimSpace(string(order.PaymentMethod)),
		Currency:      strings.ToUpper(strings.TrimSpace(order.Currency)),
		Total:         order.Totals.Total.Minor(),
		CreatedAt:     formatTime(order.CreatedAt),
	}
}

func buildOrderPayload(order services.Order) orderPayload {
	payload := orderPayload{
		ID:            strings.TrimSpace(order.ID),
		DisplayID:     strings.TrimSpace(order.DisplayID),
		Status:        strings.TrimSpace(string(order.Status)),
		PaymentMethod: strings.TrimSpace(string(order.PaymentMethod)),
		Currency:      strings.ToUpper(strings.TrimSpace(order.Currency)),
		Totals: orderTotalsPayload{
			Subtotal: order.Totals.Subtotal.Minor(),
			Discount: order.Totals.Discount.Minor(),
			Shipping: order.Totals.Shipping.Minor(),
			Total:    order.Totals.Total.Minor(),
		},
		Items:        make([]orderItemPayload, 0, len(order.Items)),
		IsGuestOrder: order.IsGuestOrder,
		Version:      order.Version,
		CreatedAt:    formatTime(order.CreatedAt),
		UpdatedAt:    formatTime(order.UpdatedAt),
		ShippedAt:    formatTime(pointerTime(order.ShippedAt)),
		DeliveredAt:  formatTime(pointerTime(order.DeliveredAt)),
		CancelledAt:  formatTime(pointerTime(order.CancelledAt)),
	}

	if order.CancelReason != nil {
		payload.CancelReason = strings.TrimSpace(*order.CancelReason)
	}

	for _, item := range order.Items {
		payload.Items = append(payload.Items, orderItemPayload{
			SKU:       strings.TrimSpace(item.SKU),
			Name:      strings.TrimSpace(item.Name),
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice.Minor(),
		})
	}

	if order.Shipment != nil {
		shipment := buildShipmentPayload(*order.Shipment)
		payload.Shipment = &shipment
	}

	return payload
}

func buildShipmentPayload(shipment services.Shipment) orderShipmentPayload {
	payload := orderShipmentPayload{
		ID:                strings.TrimSpace(shipment.ID),
		Carriers:          make([]carrierRecordPayload, 0, len(shipment.Carriers)),
		EstimatedDelivery: formatTime(pointerTime(shipment.EstimatedDelivery)),
		DeliveredAt:       formatTime(pointerTime(shipment.DeliveredAt)),
		CreatedAt:         formatTime(shipment.CreatedAt),
	}
	for _, record := range shipment.Carriers {
		payload.Carriers = append(payload.Carriers, carrierRecordPayload{
			Carrier:        strings.TrimSpace(record.Carrier),
			TrackingNumber: strings.TrimSpace(record.TrackingNumber),
		})
	}
	return payload
}

func buildPaymentSummaryPayload(summary services.PaymentSummary) paymentSummaryPayload {
	payload := paymentSummaryPayload{
		OrderID:               strings.TrimSpace(summary.OrderID),
		Currency:              strings.ToUpper(strings.TrimSpace(summary.Currency)),
		CapturedAmount:        summary.CapturedAmount,
		RefundedAmount:        summary.RefundedAmount,
		RefundableAmount:      summary.RefundableAmount,
		Refundable:            summary.Refundable,
		Refunds:               make([]refundPayload, 0, len(summary.Refunds)),
		GatewayStatus:         strings.TrimSpace(summary.GatewayStatus),
		GatewayAmountRefunded: summary.GatewayAmountRefunded,
	}
	for _, refund := range summary.Refunds {
		payload.Refunds = append(payload.Refunds, refundPayload{
			ID:              strings.TrimSpace(refund.ID),
			Amount:          refund.Amount.Minor(),
			Reason:          strings.TrimSpace(string(refund.Reason)),
			GatewayRefundID: strings.TrimSpace(refund.GatewayRefundID),
			CreatedAt:       formatTime(refund.CreatedAt),
		})
	}
	return payload
}

// decodeOrderBody reads and unmarshals the request body. When required is
// false an empty body is accepted and the target left zero-valued.
func decodeOrderBody(ctx context.Context, w http.ResponseWriter, r *http.Request, target any, required bool) bool {
	body, err := readLimitedBody(r, maxOrderBodySize)
	if err != nil {
		switch {
		case errors.Is(err, errBodyTooLarge):
			httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "request body exceeds allowed size", http.StatusRequestEntityTooLarge))
			return false
		case errors.Is(err, errEmptyBody):
			if !required {
				return true
			}
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body is required", http.StatusBadRequest))
			return false
		default:
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
			return false
		}
	}
	if err := json.Unmarshal(body, target); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON body", http.StatusBadRequest))
		return false
	}
	return true
}

func writeOrderError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}

	var balanceErr *services.BalanceError
	var gatewayErr *payments.GatewayError

	switch {
	case errors.As(err, &balanceErr):
		httpx.WriteError(ctx, w, httpx.NewError("amount_exceeds_balance", err.Error(), http.StatusUnprocessableEntity).
			WithDetails(map[string]any{
				"requested_amount":  balanceErr.Requested,
				"refundable_amount": balanceErr.Refundable,
				"currency":          balanceErr.Currency,
			}))
	case errors.Is(err, services.ErrAmountExceedsBalance):
		httpx.WriteError(ctx, w, httpx.NewError("amount_exceeds_balance", err.Error(), http.StatusUnprocessableEntity))
	case errors.Is(err, services.ErrFulfillmentInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrOrderNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
	case errors.Is(err, services.ErrTerminalState):
		httpx.WriteError(ctx, w, httpx.NewError("order_terminal_state", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrInvalidTransition):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_transition", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrNotRefundable):
		httpx.WriteError(ctx, w, httpx.NewError("not_refundable", err.Error(), http.StatusUnprocessableEntity))
	case errors.Is(err, services.ErrUnsupportedOperation):
		httpx.WriteError(ctx, w, httpx.NewError("unsupported_operation", err.Error(), http.StatusUnprocessableEntity))
	case errors.Is(err, services.ErrConcurrencyConflict):
		httpx.WriteError(ctx, w, httpx.NewError("concurrency_conflict", err.Error(), http.StatusConflict))
	case payments.IsTimeout(err):
		httpx.WriteError(ctx, w, httpx.NewError("gateway_timeout", "payment gateway timed out", http.StatusGatewayTimeout))
	case errors.As(err, &gatewayErr):
		httpx.WriteError(ctx, w, httpx.NewError("gateway_error", "payment gateway rejected the request", http.StatusBadGateway))
	case errors.Is(err, context.Canceled):
		httpx.WriteError(ctx, w, httpx.NewError("request_cancelled", "request cancelled by client", 499))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("order_error", "failed to process order request", http.StatusInternalServerError))
	}
}

func actorID(ctx context.Context) string {
	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil {
		return ""
	}
	return strings.TrimSpace(identity.UID)
}

func parseOrderStatus(raw string) (domain.OrderStatus, bool) {
	status := domain.OrderStatus(strings.TrimSpace(strings.ToLower(raw)))
	if _, ok := validOrderStatuses[status]; !ok {
		return "", false
	}
	return status, true
}

func parseTimeParam(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if ts, err := time.Parse(time.RFC3339, raw); err == nil {
		return ts.UTC(), nil
	}
	ts, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return time.Time{}, err
	}
	return ts.UTC(), nil
}
