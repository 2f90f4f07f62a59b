package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/orderhub/api/internal/domain"
	"github.com/orderhub/api/internal/notifications"
	"github.com/orderhub/api/internal/payments"
	"github.com/orderhub/api/internal/repositories"
)

const (
	refundIDPrefix = "ref_"
	eventIDPrefix  = "evt_"

	defaultGatewayTimeout = 30 * time.Second
)

// RefundProcessorDeps bundles collaborators required to construct the refund processor.
type RefundProcessorDeps struct {
	Orders         repositories.OrderRepository
	Gateway        PaymentGateway
	UnitOfWork     repositories.UnitOfWork
	Locks          *OrderLocks
	GatewayTimeout time.Duration
	Clock          func() time.Time
	IDGenerator    func() string
	Events         notifications.Dispatcher
	Logger         func(ctx context.Context, event string, fields map[string]any)
}

// RefundProcessor issues gateway refunds against an order's payment ledger.
// The ledger is only mutated after the gateway confirms, so a failed attempt
// leaves no partial state and may be retried with the same client request id.
type RefundProcessor struct {
	orders         repositories.OrderRepository
	gateway        PaymentGateway
	unitOfWork     repositories.UnitOfWork
	locks          *OrderLocks
	gatewayTimeout time.Duration
	clock          func() time.Time
	newID          func() string
	events         notifications.Dispatcher
	logger         func(context.Context, string, map[string]any)
}

// NewRefundProcessor wires dependencies into a RefundProcessor.
func NewRefundProcessor(deps RefundProcessorDeps) (*RefundProcessor, error) {
	if deps.Orders == nil {
		return nil, errors.New("refund processor: order repository is required")
	}
	if deps.Gateway == nil {
		return nil, errors.New("refund processor: payment gateway is required")
	}

	locks := deps.Locks
	if locks == nil {
		locks = NewOrderLocks()
	}

	timeout := deps.GatewayTimeout
	if timeout <= 0 {
		timeout = defaultGatewayTimeout
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

	return &RefundProcessor{
		orders:         deps.Orders,
		gateway:        deps.Gateway,
		unitOfWork:     deps.UnitOfWork,
		locks:          locks,
		gatewayTimeout: timeout,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:  idGen,
		events: deps.Events,
		logger: logger,
	}, nil
}

// Refund validates the request, charges the gateway, and records the refund
// on the ledger. The order lock is held for the full attempt so concurrent
// refunds observe each other's balance changes.
func (p *RefundProcessor) Refund(ctx context.Context, cmd RefundOrderCommand) (RefundOutcome, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return RefundOutcome{}, fmt.Errorf("%w: order id is required", ErrFulfillmentInvalidInput)
	}
	if cmd.Amount <= 0 {
		return RefundOutcome{}, fmt.Errorf("%w: refund amount must be positive", ErrFulfillmentInvalidInput)
	}
	if !domain.ValidRefundReason(cmd.Reason) {
		return RefundOutcome{}, fmt.Errorf("%w: unknown refund reason %q", ErrFulfillmentInvalidInput, cmd.Reason)
	}
	clientRequestID := strings.TrimSpace(cmd.ClientRequestID)
	if clientRequestID == "" {
		return RefundOutcome{}, fmt.Errorf("%w: client request id is required", ErrFulfillmentInvalidInput)
	}
	cmd.OrderID = orderID
	cmd.ClientRequestID = clientRequestID

	unlock := p.locks.Lock(orderID)
	return runDetached(ctx, func(ctx context.Context) (RefundOutcome, error) {
		defer unlock()
		return p.process(ctx, cmd)
	})
}

func (p *RefundProcessor) process(ctx context.Context, cmd RefundOrderCommand) (RefundOutcome, error) {
	order, err := p.orders.FindByID(ctx, cmd.OrderID)
	if err != nil {
		return RefundOutcome{}, mapRepositoryError(err)
	}

	updated, refund, err := p.applyRefund(ctx, order, cmd.Amount, cmd.Reason, cmd.ClientRequestID)
	if err != nil {
		return RefundOutcome{}, err
	}

	persisted, err := p.persist(ctx, updated)
	if err != nil {
		return RefundOutcome{}, err
	}

	p.publishRefundEvent(ctx, persisted, refund)

	return RefundOutcome{
		Order:            persisted,
		RefundID:         refund.ID,
		RefundedAmount:   persisted.Ledger.RefundedAmount().Minor(),
		RefundableAmount: persisted.Ledger.RefundableAmount().Minor(),
	}, nil
}

// applyRefund performs the gateway call and appends the refund to a clone of
// the order without persisting it. The caller must hold the order lock and
// pass a context already detached from the originating request.
func (p *RefundProcessor) applyRefund(ctx context.Context, order domain.Order, amountMinor int64, reason domain.RefundReason, clientRequestID string) (domain.Order, domain.Refund, error) {
	if order.Status.Terminal() {
		return domain.Order{}, domain.Refund{}, fmt.Errorf("%w: order %s is %s", ErrTerminalState, order.ID, order.Status)
	}
	if order.PaymentMethod != domain.PaymentMethodCard || order.Ledger == nil {
		return domain.Order{}, domain.Refund{}, fmt.Errorf("%w: refunds require a card payment", ErrUnsupportedOperation)
	}
	if !order.Ledger.Refundable {
		return domain.Order{}, domain.Refund{}, fmt.Errorf("%w: order %s", ErrNotRefundable, order.ID)
	}

	refundable := order.Ledger.RefundableAmount().Minor()
	if amountMinor > refundable {
		return domain.Order{}, domain.Refund{}, &BalanceError{
			OrderID:    order.ID,
			Currency:   order.Currency,
			Requested:  amountMinor,
			Refundable: refundable,
		}
	}

	result, err := p.callGateway(ctx, order, payments.RefundRequest{
		IntentID:       order.Ledger.PaymentIntentID,
		Amount:         amountMinor,
		Currency:       order.Currency,
		Reason:         string(reason),
		IdempotencyKey: refundIdempotencyKey(order.ID, amountMinor, clientRequestID),
		Metadata: map[string]string{
			"orderId": order.ID,
		},
	})
	if err != nil {
		return domain.Order{}, domain.Refund{}, err
	}

	amount, err := domain.NewMoney(amountMinor)
	if err != nil {
		return domain.Order{}, domain.Refund{}, fmt.Errorf("%w: %v", ErrFulfillmentInvalidInput, err)
	}

	refund := domain.Refund{
		ID:              refundIDPrefix + p.newID(),
		Amount:          amount,
		Reason:          reason,
		GatewayRefundID: result.RefundID,
		CreatedAt:       p.clock(),
	}

	updated := order.Clone()
	if err := updated.Ledger.AppendRefund(refund); err != nil {
		if errors.Is(err, domain.ErrRefundExceedsBalance) {
			return domain.Order{}, domain.Refund{}, &BalanceError{
				OrderID:    order.ID,
				Currency:   order.Currency,
				Requested:  amountMinor,
				Refundable: refundable,
			}
		}
		return domain.Order{}, domain.Refund{}, fmt.Errorf("%w: %v", ErrFulfillmentInvalidInput, err)
	}
	updated.UpdatedAt = p.clock()

	return updated, refund, nil
}

// callGateway bounds the gateway call with the configured timeout. The
// context handed in survives caller cancellation, so an in-flight refund is
// never aborted midway.
func (p *RefundProcessor) callGateway(ctx context.Context, order domain.Order, req payments.RefundRequest) (payments.RefundResult, error) {
	gatewayCtx, cancel := context.WithTimeout(ctx, p.gatewayTimeout)
	defer cancel()

	result, err := p.gateway.Refund(gatewayCtx, payments.PaymentContext{Currency: order.Currency}, req)
	if err != nil {
		p.logger(ctx, "refund.gateway.failed", map[string]any{
			"order":   order.ID,
			"amount":  req.Amount,
			"timeout": payments.IsTimeout(err),
			"error":   err.Error(),
		})
		return payments.RefundResult{}, err
	}
	return result, nil
}

func (p *RefundProcessor) persist(ctx context.Context, order domain.Order) (domain.Order, error) {
	var persisted domain.Order
	err := p.runInTx(ctx, func(txCtx context.Context) error {
		stored, err := p.orders.Update(txCtx, order)
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

func (p *RefundProcessor) publishRefundEvent(ctx context.Context, order domain.Order, refund domain.Refund) {
	if p.events == nil {
		return
	}
	event := notifications.Event{
		EventID:    eventIDPrefix + p.newID(),
		Type:       notifications.EventOrderRefunded,
		OrderID:    order.ID,
		OccurredAt: p.clock(),
		Attributes: map[string]string{
			"refundId":    refund.ID,
			"amountMinor": strconv.FormatInt(refund.Amount.Minor(), 10),
			"reason":      string(refund.Reason),
		},
	}
	if err := p.events.Dispatch(ctx, event); err != nil {
		p.logger(ctx, "refund.event.publish.failed", map[string]any{
			"type":  event.Type,
			"order": event.OrderID,
			"error": err.Error(),
		})
	}
}

func (p *RefundProcessor) runInTx(ctx context.Context, fn func(context.Context) error) error {
	if p.unitOfWork == nil {
		return fn(ctx)
	}
	return p.unitOfWork.RunInTx(ctx, fn)
}

// refundIdempotencyKey derives a deterministic gateway key from the logical
// request so network retries cannot double-refund.
func refundIdempotencyKey(orderID string, amountMinor int64, clientRequestID string) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%d|%s", orderID, amountMinor, clientRequestID)))
	return hex.EncodeToString(sum[:])
}
