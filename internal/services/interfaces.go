package services

import (
	"context"
	"time"

	domain "github.com/orderhub/api/internal/domain"
	"github.com/orderhub/api/internal/payments"
	"github.com/orderhub/api/internal/repositories"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	Pagination         = domain.Pagination
	SortOrder          = domain.SortOrder
	Order              = domain.Order
	OrderStatus        = domain.OrderStatus
	OrderTotals        = domain.OrderTotals
	LineItem           = domain.LineItem
	Shipment           = domain.Shipment
	CarrierRecord      = domain.CarrierRecord
	CarrierSet         = domain.CarrierSet
	PaymentMethod      = domain.PaymentMethod
	PaymentLedger      = domain.PaymentLedger
	Refund             = domain.Refund
	RefundReason       = domain.RefundReason
	Money              = domain.Money
	SystemHealthReport = domain.SystemHealthReport
)

// OrderListFilter mirrors the repository filter so handlers do not import repositories directly.
type OrderListFilter = repositories.OrderListFilter

// FulfillmentService owns the order lifecycle: reads, status transitions,
// shipment creation, delivery confirmation, and the cancellation saga.
// Commands against the same order are serialized internally.
type FulfillmentService interface {
	GetOrder(ctx context.Context, orderID string) (Order, error)
	ListOrders(ctx context.Context, filter OrderListFilter) (domain.CursorPage[Order], error)
	MarkProcessing(ctx context.Context, cmd MarkProcessingCommand) (Order, error)
	Ship(ctx context.Context, cmd ShipOrderCommand) (Order, error)
	Deliver(ctx context.Context, cmd DeliverOrderCommand) (Order, error)
	Cancel(ctx context.Context, cmd CancelOrderCommand) (CancelResult, error)
	GetPaymentDetails(ctx context.Context, orderID string) (PaymentSummary, error)
}

// RefundService issues partial or full refunds against an order's payment ledger.
type RefundService interface {
	Refund(ctx context.Context, cmd RefundOrderCommand) (RefundOutcome, error)
}

// PaymentGateway is the slice of the payments manager the services depend on.
type PaymentGateway interface {
	Refund(ctx context.Context, paymentCtx payments.PaymentContext, req payments.RefundRequest) (payments.RefundResult, error)
	LookupPayment(ctx context.Context, paymentCtx payments.PaymentContext, req payments.LookupRequest) (payments.PaymentDetails, error)
}

// SystemService surfaces operational health for readiness probes and dashboards.
type SystemService interface {
	Health(ctx context.Context) (SystemHealthReport, error)
}

// MarkProcessingCommand moves a pending order into fulfilment.
type MarkProcessingCommand struct {
	OrderID string
	ActorID string
}

// ShipOrderCommand attaches the create-once shipment record to an order.
type ShipOrderCommand struct {
	OrderID           string
	Carriers          []CarrierRecord
	EstimatedDelivery *time.Time
	ActorID           string
}

// DeliverOrderCommand confirms carrier delivery. DeliveredAt defaults to now
// and may be overridden for backfill.
type DeliverOrderCommand struct {
	OrderID     string
	DeliveredAt *time.Time
	ActorID     string
}

// CancelOrderCommand cancels an unshipped order, refunding any remaining
// balance first. ClientRequestID keys the gateway refund for safe retries.
type CancelOrderCommand struct {
	OrderID         string
	Reason          string
	ClientRequestID string
	ActorID         string
}

// CancelResult reports the cancelled order and the refund issued during the
// saga, if any, in minor units.
type CancelResult struct {
	Order        Order
	RefundIssued *int64
}

// RefundOrderCommand requests a refund in minor units. ClientRequestID ties
// retries of the same logical request to one gateway idempotency key.
type RefundOrderCommand struct {
	OrderID         string
	Amount          int64
	Reason          RefundReason
	ClientRequestID string
	ActorID         string
}

// RefundOutcome reports the issued refund and the ledger position after it.
type RefundOutcome struct {
	Order            Order
	RefundID         string
	RefundedAmount   int64
	RefundableAmount int64
}

// PaymentSummary is the reconciliation view of an order's ledger, enriched
// with the gateway's own record when the lookup succeeds.
type PaymentSummary struct {
	OrderID               string
	Currency              string
	CapturedAmount        int64
	RefundedAmount        int64
	RefundableAmount      int64
	Refundable            bool
	Refunds               []Refund
	GatewayStatus         string
	GatewayAmountRefunded int64
}
