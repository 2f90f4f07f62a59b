package notifications

import (
	"context"
	"time"
)

// Event types emitted on order lifecycle transitions.
const (
	EventOrderShipped   = "order.shipped"
	EventOrderDelivered = "order.delivered"
	EventOrderRefunded  = "order.refunded"
	EventOrderCancelled = "order.cancelled"
)

// Event is one lifecycle notification. Delivery is at-least-once; consumers
// deduplicate on EventID.
type Event struct {
	EventID    string            `json:"eventId"`
	Type       string            `json:"type"`
	OrderID    string            `json:"orderId"`
	OccurredAt time.Time         `json:"occurredAt"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

// Dispatcher publishes lifecycle events to downstream consumers.
type Dispatcher interface {
	Dispatch(ctx context.Context, event Event) error
}

// DispatcherFunc adapts ordinary functions to Dispatcher.
type DispatcherFunc func(ctx context.Context, event Event) error

// Dispatch invokes the wrapped function.
func (f DispatcherFunc) Dispatch(ctx context.Context, event Event) error {
	return f(ctx, event)
}
