package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/orderhub/api/internal/domain"
	"github.com/orderhub/api/internal/notifications"
	"github.com/orderhub/api/internal/payments"
	"github.com/orderhub/api/internal/repositories"
)

const (
	shipmentIDPrefix = "shp_"

	defaultListPageSize = 20
	maxListPageSize     = 100
)

// orderStateTransitions is the full lifecycle graph. Cancellation is only
// reachable before a shipment exists; delivered and cancelled are terminal.
var orderStateTransitions = map[domain.OrderStatus][]domain.OrderStatus{
	domain.OrderStatusPending:    {domain.OrderStatusProcessing, domain.OrderStatusShipped, domain.OrderStatusCancelled},
	domain.OrderStatusProcessing: {domain.OrderStatusShipped, domain.OrderStatusCancelled},
	domain.OrderStatusShipped:    {domain.OrderStatusDelivered},
}

func canTransition(from, to domain.OrderStatus) bool {
	for _, allowed := range orderStateTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// FulfillmentServiceDeps bundles collaborators required to construct the fulfilment service.
type FulfillmentServiceDeps struct {
	Orders      repositories.OrderRepository
	Refunds     *RefundProcessor
	Gateway     PaymentGateway
	UnitOfWork  repositories.UnitOfWork
	Locks       *OrderLocks
	Carriers    domain.CarrierSet
	Clock       func() time.Time
	IDGenerator func() string
	Events      notifications.Dispatcher
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type fulfillmentService struct {
	orders     repositories.OrderRepository
	refunds    *RefundProcessor
	gateway    PaymentGateway
	unitOfWork repositories.UnitOfWork
	locks      *OrderLocks
	carriers   domain.CarrierSet
	clock      func() time.Time
	newID      func() string
	events     notifications.Dispatcher
	logger     func(context.Context, string, map[string]any)
}

// NewFulfillmentService wires dependencies into a concrete FulfillmentService implementation.
func NewFulfillmentService(deps FulfillmentServiceDeps) (FulfillmentService, error) {
	if deps.Orders == nil {
		return nil, errors.New("fulfillment service: order repository is required")
	}
	if deps.Refunds == nil {
		return nil, errors.New("fulfillment service: refund processor is required")
	}

	locks := deps.Locks
	if locks == nil {
		locks = NewOrderLocks()
	}

	carriers := deps.Carriers
	if len(carriers) == 0 {
		carriers = domain.DefaultCarriers()
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string {
			return ulid.Make().String()
		}
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &fulfillmentService{
		orders:     deps.Orders,
		refunds:    deps.Refunds,
		gateway:    deps.Gateway,
		unitOfWork: deps.UnitOfWork,
		locks:      locks,
		carriers:   carriers,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:  idGen,
		events: deps.Events,
		logger: logger,
	}, nil
}

func (s *fulfillmentService) GetOrder(ctx context.Context, orderID string) (Order, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrFulfillmentInvalidInput)
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, mapRepositoryError(err)
	}
	return order, nil
}

func (s *fulfillmentService) ListOrders(ctx context.Context, filter OrderListFilter) (domain.CursorPage[Order], error) {
	if filter.Pagination.PageSize <= 0 {
		filter.Pagination.PageSize = defaultListPageSize
	}
	if filter.Pagination.PageSize > maxListPageSize {
		filter.Pagination.PageSize = maxListPageSize
	}
	if filter.Sort == "" {
		filter.Sort = domain.SortDesc
	}

	page, err := s.orders.List(ctx, filter)
	if err != nil {
		return domain.CursorPage[Order]{}, mapRepositoryError(err)
	}
	return page, nil
}

func (s *fulfillmentService) MarkProcessing(ctx context.Context, cmd MarkProcessingCommand) (Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrFulfillmentInvalidInput)
	}

	unlock := s.locks.Lock(orderID)
	defer unlock()

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, mapRepositoryError(err)
	}
	if order.Status == domain.OrderStatusProcessing {
		return order, nil
	}

	updated := order.Clone()
	now := s.clock()
	if err := s.applyStatusTransition(&updated, domain.OrderStatusProcessing, now); err != nil {
		return Order{}, err
	}

	return s.persist(ctx, updated)
}

// Ship attaches the create-once shipment record and transitions the order to
// shipped. A retry carrying the identical carrier list replays as success; a
// differing list on a shipped order is rejected rather than merged.
func (s *fulfillmentService) Ship(ctx context.Context, cmd ShipOrderCommand) (Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrFulfillmentInvalidInput)
	}
	if len(cmd.Carriers) == 0 {
		return Order{}, fmt.Errorf("%w: at least one carrier required", ErrFulfillmentInvalidInput)
	}

	records := make([]domain.CarrierRecord, 0, len(cmd.Carriers))
	for _, record := range cmd.Carriers {
		name := domain.NormalizeCarrier(record.Carrier)
		if !s.carriers.Contains(name) {
			return Order{}, fmt.Errorf("%w: unsupported carrier %q", ErrFulfillmentInvalidInput, record.Carrier)
		}
		records = append(records, domain.CarrierRecord{
			Carrier:        name,
			TrackingNumber: strings.TrimSpace(record.TrackingNumber),
		})
	}

	now := s.clock()
	if cmd.EstimatedDelivery != nil {
		estimated := cmd.EstimatedDelivery.UTC()
		if estimated.Before(startOfDay(now)) {
			return Order{}, fmt.Errorf("%w: estimated delivery must not be in the past", ErrFulfillmentInvalidInput)
		}
		cmd.EstimatedDelivery = &estimated
	}

	unlock := s.locks.Lock(orderID)
	defer unlock()

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, mapRepositoryError(err)
	}

	if order.Status == domain.OrderStatusShipped && order.Shipment != nil {
		if order.Shipment.SameCarriers(records) {
			return order, nil
		}
		return Order{}, fmt.Errorf("%w: order %s already has a shipment", ErrInvalidTransition, orderID)
	}
	if order.Status.Terminal() {
		return Order{}, fmt.Errorf("%w: order %s is %s", ErrTerminalState, orderID, order.Status)
	}
	if order.Shipment != nil {
		return Order{}, fmt.Errorf("%w: order %s already has a shipment", ErrInvalidTransition, orderID)
	}

	updated := order.Clone()
	if err := s.applyStatusTransition(&updated, domain.OrderStatusShipped, now); err != nil {
		return Order{}, err
	}
	updated.Shipment = &domain.Shipment{
		ID:                shipmentIDPrefix + s.newID(),
		OrderID:           orderID,
		Carriers:          records,
		EstimatedDelivery: cmd.EstimatedDelivery,
		CreatedAt:         now,
	}

	persisted, err := s.persist(ctx, updated)
	if err != nil {
		return Order{}, err
	}

	attributes := map[string]string{
		"shipmentId": persisted.Shipment.ID,
		"carriers":   carrierNames(records),
	}
	if tracking := trackingNumbers(records); tracking != "" {
		attributes["trackingNumbers"] = tracking
	}
	if cmd.EstimatedDelivery != nil {
		attributes["estimatedDelivery"] = cmd.EstimatedDelivery.Format(time.RFC3339)
	}
	s.publishEvent(ctx, notifications.EventOrderShipped, persisted.ID, attributes)

	return persisted, nil
}

// Deliver confirms carrier delivery. Replaying with the same or an
// unspecified timestamp is a no-op success.
func (s *fulfillmentService) Deliver(ctx context.Context, cmd DeliverOrderCommand) (Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrFulfillmentInvalidInput)
	}

	unlock := s.locks.Lock(orderID)
	defer unlock()

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, mapRepositoryError(err)
	}

	if order.Status == domain.OrderStatusDelivered {
		if cmd.DeliveredAt == nil || (order.DeliveredAt != nil && cmd.DeliveredAt.UTC().Equal(*order.DeliveredAt)) {
			return order, nil
		}
		return Order{}, fmt.Errorf("%w: order %s already delivered", ErrInvalidTransition, orderID)
	}
	if order.Status == domain.OrderStatusCancelled {
		return Order{}, fmt.Errorf("%w: order %s is %s", ErrTerminalState, orderID, order.Status)
	}
	if order.Shipment == nil {
		return Order{}, fmt.Errorf("%w: order %s has no shipment", ErrInvalidTransition, orderID)
	}

	now := s.clock()
	deliveredAt := now
	if cmd.DeliveredAt != nil {
		deliveredAt = cmd.DeliveredAt.UTC()
	}

	updated := order.Clone()
	if err := s.applyStatusTransition(&updated, domain.OrderStatusDelivered, now); err != nil {
		return Order{}, err
	}
	updated.DeliveredAt = &deliveredAt
	updated.Shipment.DeliveredAt = &deliveredAt

	persisted, err := s.persist(ctx, updated)
	if err != nil {
		return Order{}, err
	}

	s.publishEvent(ctx, notifications.EventOrderDelivered, persisted.ID, map[string]string{
		"deliveredAt": deliveredAt.Format(time.RFC3339),
	})

	return persisted, nil
}

// Cancel runs the cancellation saga: refund the remaining balance, then
// transition to cancelled, persisted as one write. A refund failure leaves
// the order in its pre-cancel state; cancellation is never reported while
// money remains captured. The order lock is held for the whole saga.
func (s *fulfillmentService) Cancel(ctx context.Context, cmd CancelOrderCommand) (CancelResult, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return CancelResult{}, fmt.Errorf("%w: order id is required", ErrFulfillmentInvalidInput)
	}
	reason := strings.TrimSpace(cmd.Reason)
	if !domain.ValidCancelReason(reason) {
		return CancelResult{}, fmt.Errorf("%w: unknown cancel reason %q", ErrFulfillmentInvalidInput, cmd.Reason)
	}
	clientRequestID := strings.TrimSpace(cmd.ClientRequestID)
	if clientRequestID == "" {
		return CancelResult{}, fmt.Errorf("%w: client request id is required", ErrFulfillmentInvalidInput)
	}

	unlock := s.locks.Lock(orderID)
	return runDetached(ctx, func(ctx context.Context) (CancelResult, error) {
		defer unlock()
		return s.cancelLocked(ctx, orderID, reason, clientRequestID)
	})
}

func (s *fulfillmentService) cancelLocked(ctx context.Context, orderID, reason, clientRequestID string) (CancelResult, error) {
	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return CancelResult{}, mapRepositoryError(err)
	}

	if order.Status == domain.OrderStatusCancelled {
		return CancelResult{Order: order}, nil
	}
	if order.Status == domain.OrderStatusDelivered {
		return CancelResult{}, fmt.Errorf("%w: order %s is %s", ErrTerminalState, orderID, order.Status)
	}
	if order.Shipment != nil || order.Status == domain.OrderStatusShipped {
		return CancelResult{}, fmt.Errorf("%w: shipped orders cannot be cancelled", ErrInvalidTransition)
	}

	updated := order
	var refundIssued *int64
	var refund domain.Refund

	if order.PaymentMethod == domain.PaymentMethodCard && order.Ledger != nil &&
		order.Ledger.Refundable && order.Ledger.RefundableAmount() > 0 {
		amount := order.Ledger.RefundableAmount().Minor()
		refunded, record, err := s.refunds.applyRefund(ctx, order, amount, cancelRefundReason(reason), clientRequestID)
		if err != nil {
			return CancelResult{}, err
		}
		updated = refunded
		refund = record
		refundIssued = &amount
	} else {
		updated = order.Clone()
	}

	now := s.clock()
	if err := s.applyStatusTransition(&updated, domain.OrderStatusCancelled, now); err != nil {
		return CancelResult{}, err
	}
	updated.CancelReason = &reason

	persisted, err := s.persist(ctx, updated)
	if err != nil {
		return CancelResult{}, err
	}

	if refundIssued != nil {
		s.refunds.publishRefundEvent(ctx, persisted, refund)
	}
	s.publishEvent(ctx, notifications.EventOrderCancelled, persisted.ID, map[string]string{
		"reason": reason,
	})

	return CancelResult{Order: persisted, RefundIssued: refundIssued}, nil
}

// GetPaymentDetails reports the ledger position, enriched with the gateway's
// own record when the lookup succeeds. The refundable balance is reported as
// zero whenever the instrument no longer supports refunds.
func (s *fulfillmentService) GetPaymentDetails(ctx context.Context, orderID string) (PaymentSummary, error) {
	order, err := s.GetOrder(ctx, orderID)
	if err != nil {
		return PaymentSummary{}, err
	}
	if order.PaymentMethod != domain.PaymentMethodCard || order.Ledger == nil {
		return PaymentSummary{}, fmt.Errorf("%w: order %s has no payment ledger", ErrUnsupportedOperation, order.ID)
	}

	ledger := order.Ledger
	summary := PaymentSummary{
		OrderID:          order.ID,
		Currency:         order.Currency,
		CapturedAmount:   ledger.CapturedAmount.Minor(),
		RefundedAmount:   ledger.RefundedAmount().Minor(),
		RefundableAmount: ledger.RefundableAmount().Minor(),
		Refundable:       ledger.Refundable,
		Refunds:          append([]domain.Refund(nil), ledger.Refunds...),
	}
	if !ledger.Refundable {
		summary.RefundableAmount = 0
	}

	if s.gateway != nil {
		details, err := s.gateway.LookupPayment(ctx, payments.PaymentContext{Currency: order.Currency}, payments.LookupRequest{
			IntentID: ledger.PaymentIntentID,
		})
		if err != nil {
			s.logger(ctx, "payment.lookup.failed", map[string]any{
				"order": order.ID,
				"error": err.Error(),
			})
		} else {
			summary.GatewayStatus = string(details.Status)
			summary.GatewayAmountRefunded = details.AmountRefunded
		}
	}

	return summary, nil
}

func (s *fulfillmentService) applyStatusTransition(order *domain.Order, target domain.OrderStatus, now time.Time) error {
	current := order.Status
	if current == target {
		order.UpdatedAt = now
		return nil
	}
	if current.Terminal() {
		return fmt.Errorf("%w: order %s is %s", ErrTerminalState, order.ID, current)
	}
	if !canTransition(current, target) {
		return fmt.Errorf("%w: %s to %s", ErrInvalidTransition, current, target)
	}

	order.Status = target
	order.UpdatedAt = now
	s.updateTimestamps(order, target, now)
	return nil
}

func (s *fulfillmentService) updateTimestamps(order *domain.Order, status domain.OrderStatus, now time.Time) {
	switch status {
	case domain.OrderStatusShipped:
		order.ShippedAt = &now
	case domain.OrderStatusDelivered:
		if order.DeliveredAt == nil {
			order.DeliveredAt = &now
		}
	case domain.OrderStatusCancelled:
		if order.CancelledAt == nil {
			order.CancelledAt = &now
		}
	}
}

func (s *fulfillmentService) persist(ctx context.Context, order domain.Order) (domain.Order, error) {
	var persisted domain.Order
	err := s.runInTx(ctx, func(txCtx context.Context) error {
		stored, err := s.orders.Update(txCtx, order)
		if err != nil {
			return err
		}
		persisted = stored
		return nil
	})
	if err != nil {
		return domain.Order{}, mapRepositoryError(err)
	}
	return persisted, nil
}

func (s *fulfillmentService) runInTx(ctx context.Context, fn func(context.Context) error) error {
	if s.unitOfWork == nil {
		return fn(ctx)
	}
	return s.unitOfWork.RunInTx(ctx, fn)
}

func (s *fulfillmentService) publishEvent(ctx context.Context, eventType, orderID string, attributes map[string]string) {
	if s.events == nil {
		return
	}
	event := notifications.Event{
		EventID:    eventIDPrefix + s.newID(),
		Type:       eventType,
		OrderID:    orderID,
		OccurredAt: s.clock(),
		Attributes: attributes,
	}
	if err := s.events.Dispatch(ctx, event); err != nil {
		s.logger(ctx, "order.event.publish.failed", map[string]any{
			"type":  event.Type,
			"order": event.OrderID,
			"error": err.Error(),
		})
	}
}

// cancelRefundReason maps the cancellation reason onto the ledger's refund
// reason enum; duplicate_order is cancellation-only shorthand for duplicate.
func cancelRefundReason(reason string) domain.RefundReason {
	if reason == domain.CancelReasonDuplicateOrder {
		return domain.RefundReasonDuplicate
	}
	return domain.RefundReason(reason)
}

func carrierNames(records []domain.CarrierRecord) string {
	names := make([]string, 0, len(records))
	for _, record := range records {
		names = append(names, record.Carrier)
	}
	return strings.Join(names, ",")
}

func trackingNumbers(records []domain.CarrierRecord) string {
	numbers := make([]string, 0, len(records))
	for _, record := range records {
		if record.TrackingNumber != "" {
			numbers = append(numbers, record.TrackingNumber)
		}
	}
	return strings.Join(numbers, ",")
}

func startOfDay(t time.Time) time.Time {
	year, month, day := t.Date()
	return time.Date(year, month, day, 0, 0, 0, 0, t.Location())
}
