package domain

import (
	"strings"
	"time"
)

// Pagination defines standard cursor-based paging inputs for list operations.
type Pagination struct {
	PageSize  int
	PageToken string
}

// SortOrder indicates ascending or descending ordering for list queries.
type SortOrder string

const (
	// SortAsc sorts results in ascending order.
	SortAsc SortOrder = "asc"
	// SortDesc sorts results in descending order.
	SortDesc SortOrder = "desc"
)

// RangeQuery represents inclusive range filters for numeric or timestamp fields.
type RangeQuery[T comparable] struct {
	From *T
	To   *T
}

// CursorPage wraps a page of results with the opaque token for the next page.
type CursorPage[T any] struct {
	Items         []T
	NextPageToken string
}

// OrderStatus enumerates valid lifecycle states for orders.
type OrderStatus string

const (
	// OrderStatusPending indicates the order has been created by checkout and awaits processing.
	OrderStatusPending OrderStatus = "pending"
	// OrderStatusProcessing indicates the order is being prepared for shipment.
	OrderStatusProcessing OrderStatus = "processing"
	// OrderStatusShipped indicates a shipment has been attached and handed to a carrier.
	OrderStatusShipped OrderStatus = "shipped"
	// OrderStatusDelivered indicates the carrier reported delivery. Terminal.
	OrderStatusDelivered OrderStatus = "delivered"
	// OrderStatusCancelled indicates the order was cancelled before shipping. Terminal.
	OrderStatusCancelled OrderStatus = "cancelled"
)

// Terminal reports whether no further command is accepted from this status.
func (s OrderStatus) Terminal() bool {
	return s == OrderStatusDelivered || s == OrderStatusCancelled
}

// PaymentMethod distinguishes card payments, which carry a ledger, from
// everything else.
type PaymentMethod string

const (
	// PaymentMethodCard indicates a card payment captured through the gateway.
	PaymentMethodCard PaymentMethod = "card"
	// PaymentMethodOther covers cash-on-delivery and similar out-of-band methods.
	PaymentMethodOther PaymentMethod = "other"
)

// RefundReason enumerates the reasons accepted for refunds.
type RefundReason string

const (
	RefundReasonRequestedByCustomer RefundReason = "requested_by_customer"
	RefundReasonDuplicate           RefundReason = "duplicate"
	RefundReasonFraudulent          RefundReason = "fraudulent"
	RefundReasonOutOfStock          RefundReason = "out_of_stock"
	RefundReasonPaymentFailed       RefundReason = "payment_failed"
	RefundReasonOther               RefundReason = "other"
)

// ValidRefundReason reports whether the value is an accepted refund reason.
func ValidRefundReason(reason RefundReason) bool {
	switch reason {
	case RefundReasonRequestedByCustomer, RefundReasonDuplicate, RefundReasonFraudulent,
		RefundReasonOutOfStock, RefundReasonPaymentFailed, RefundReasonOther:
		return true
	}
	return false
}

// CancelReasonDuplicateOrder extends the refund reasons for cancellations only.
const CancelReasonDuplicateOrder = "duplicate_order"

// ValidCancelReason reports whether the value is accepted for cancellations.
func ValidCancelReason(reason string) bool {
	return reason == CancelReasonDuplicateOrder || ValidRefundReason(RefundReason(reason))
}

// CarrierSet is the configurable set of shipping providers accepted on
// carrier records.
type CarrierSet map[string]struct{}

// DefaultCarriers returns the carriers supported out of the box.
func DefaultCarriers() CarrierSet {
	return NewCarrierSet("UPS", "USPS")
}

// NewCarrierSet builds a set from carrier names, normalising case and spacing.
func NewCarrierSet(names ...string) CarrierSet {
	set := make(CarrierSet, len(names))
	for _, name := range names {
		if normalized := NormalizeCarrier(name); normalized != "" {
			set[normalized] = struct{}{}
		}
	}
	return set
}

// Contains reports whether the carrier name belongs to the set.
func (s CarrierSet) Contains(name string) bool {
	_, ok := s[NormalizeCarrier(name)]
	return ok
}

// Names returns the member carriers, unordered.
func (s CarrierSet) Names() []string {
	names := make([]string, 0, len(s))
	for name := range s {
		names = append(names, name)
	}
	return names
}

// NormalizeCarrier canonicalises a carrier name for comparison.
func NormalizeCarrier(name string) string {
	return strings.ToUpper(strings.TrimSpace(name))
}

// CarrierRecord is one shipping-provider plus optional tracking-number pair
// attached to a shipment. Tracking numbers may be filled in out of band later.
type CarrierRecord struct {
	Carrier        string
	TrackingNumber string
}

// Shipment is the create-once fulfilment record for an order: one or more
// carrier records and an optional estimated delivery date.
type Shipment struct {
	ID                string
	OrderID           string
	Carriers          []CarrierRecord
	EstimatedDelivery *time.Time
	DeliveredAt       *time.Time
	CreatedAt         time.Time
}

// SameCarriers reports whether the supplied records match the stored carrier
// list in order. Used to recognise idempotent ship retries.
func (s Shipment) SameCarriers(records []CarrierRecord) bool {
	if len(records) != len(s.Carriers) {
		return false
	}
	for i, record := range records {
		if NormalizeCarrier(record.Carrier) != NormalizeCarrier(s.Carriers[i].Carrier) {
			return false
		}
		if record.TrackingNumber != s.Carriers[i].TrackingNumber {
			return false
		}
	}
	return true
}

// Refund is one issued refund recorded on the payment ledger.
type Refund struct {
	ID              string
	Amount          Money
	Reason          RefundReason
	GatewayRefundID string
	CreatedAt       time.Time
}

// OrderTotals holds rolled-up monetary fields in minor units. The identity
// Total == Subtotal - Discount + Shipping is established at checkout and
// carried through unchanged.
type OrderTotals struct {
	Subtotal Money
	Discount Money
	Shipping Money
	Total    Money
}

// LineItem mirrors a cart line at checkout time; immutable once the order exists.
type LineItem struct {
	SKU       string
	Name      string
	Quantity  int
	UnitPrice Money
}

// Order is the aggregate root for fulfilment: status, cart snapshot, totals,
// optional shipment, and the payment ledger for card orders.
type Order struct {
	ID            string
	DisplayID     string
	Status        OrderStatus
	PaymentMethod PaymentMethod
	Currency      string
	Totals        OrderTotals
	Items         []LineItem
	Shipment      *Shipment
	Ledger        *PaymentLedger
	IsGuestOrder  bool

	// Version is the optimistic concurrency counter; repositories reject
	// updates whose version does not match the stored record.
	Version int64

	CreatedAt    time.Time
	UpdatedAt    time.Time
	ShippedAt    *time.Time
	DeliveredAt  *time.Time
	CancelledAt  *time.Time
	CancelReason *string
}

// Clone returns a deep copy so callers can mutate without aliasing stored state.
func (o Order) Clone() Order {
	cloned := o
	if o.Items != nil {
		cloned.Items = append([]LineItem(nil), o.Items...)
	}
	if o.Shipment != nil {
		shipment := *o.Shipment
		shipment.Carriers = append([]CarrierRecord(nil), o.Shipment.Carriers...)
		shipment.EstimatedDelivery = copyTime(o.Shipment.EstimatedDelivery)
		shipment.DeliveredAt = copyTime(o.Shipment.DeliveredAt)
		cloned.Shipment = &shipment
	}
	if o.Ledger != nil {
		ledger := o.Ledger.Clone()
		cloned.Ledger = &ledger
	}
	cloned.ShippedAt = copyTime(o.ShippedAt)
	cloned.DeliveredAt = copyTime(o.DeliveredAt)
	cloned.CancelledAt = copyTime(o.CancelledAt)
	if o.CancelReason != nil {
		r := *o.CancelReason
		cloned.CancelReason = &r
	}
	return cloned
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	copied := *t
	return &copied
}
