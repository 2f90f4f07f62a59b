package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/orderhub/api/internal/domain"
	pfirestore "github.com/orderhub/api/internal/platform/firestore"
	"github.com/orderhub/api/internal/platform/pagination"
	"github.com/orderhub/api/internal/repositories"
)

const ordersCollection = "orders"

type carrierRecordDocument struct {
	Carrier        string `firestore:"carrier"`
	TrackingNumber string `firestore:"trackingNumber,omitempty"`
}

type shipmentDocument struct {
	ID                string                  `firestore:"id"`
	Carriers          []carrierRecordDocument `firestore:"carriers"`
	EstimatedDelivery *time.Time              `firestore:"estimatedDelivery,omitempty"`
	DeliveredAt       *time.Time              `firestore:"deliveredAt,omitempty"`
	CreatedAt         time.Time               `firestore:"createdAt"`
}

type refundDocument struct {
	ID              string    `firestore:"id"`
	AmountMinor     int64     `firestore:"amountMinor"`
	Reason          string    `firestore:"reason"`
	GatewayRefundID string    `firestore:"gatewayRefundId,omitempty"`
	CreatedAt       time.Time `firestore:"createdAt"`
}

type ledgerDocument struct {
	PaymentIntentID string           `firestore:"paymentIntentId,omitempty"`
	CapturedMinor   int64            `firestore:"capturedMinor"`
	Refundable      bool             `firestore:"refundable"`
	Refunds         []refundDocument `firestore:"refunds,omitempty"`
}

type lineItemDocument struct {
	SKU            string `firestore:"sku"`
	Name           string `firestore:"name,omitempty"`
	Quantity       int    `firestore:"quantity"`
	UnitPriceMinor int64  `firestore:"unitPriceMinor"`
}

type orderDocument struct {
	DisplayID     string             `firestore:"displayId,omitempty"`
	Status        string             `firestore:"status"`
	PaymentMethod string             `firestore:"paymentMethod"`
	Currency      string             `firestore:"currency"`
	SubtotalMinor int64              `firestore:"subtotalMinor"`
	DiscountMinor int64              `firestore:"discountMinor"`
	ShippingMinor int64              `firestore:"shippingMinor"`
	TotalMinor    int64              `firestore:"totalMinor"`
	Items         []lineItemDocument `firestore:"items,omitempty"`
	Shipment      *shipmentDocument  `firestore:"shipment,omitempty"`
	Ledger        *ledgerDocument    `firestore:"ledger,omitempty"`
	IsGuestOrder  bool               `firestore:"isGuestOrder"`
	Version       int64              `firestore:"version"`
	CreatedAt     time.Time          `firestore:"createdAt"`
	UpdatedAt     time.Time          `firestore:"updatedAt"`
	ShippedAt     *time.Time         `firestore:"shippedAt,omitempty"`
	DeliveredAt   *time.Time         `firestore:"deliveredAt,omitempty"`
	CancelledAt   *time.Time         `firestore:"cancelledAt,omitempty"`
	CancelReason  *string            `firestore:"cancelReason,omitempty"`
}

// OrderRepository implements repositories.OrderRepository on Firestore with
// transactional version checks for optimistic locking.
type OrderRepository struct {
	provider *pfirestore.Provider
	orders   *pfirestore.BaseRepository[orderDocument]
}

var _ repositories.OrderRepository = (*OrderRepository)(nil)

// NewOrderRepository constructs a Firestore-backed order repository.
func NewOrderRepository(provider *pfirestore.Provider) (*OrderRepository, error) {
	if provider == nil {
		return nil, errors.New("order repository requires firestore provider")
	}
	base := pfirestore.NewBaseRepository[orderDocument](provider, ordersCollection, nil, nil)
	return &OrderRepository{provider: provider, orders: base}, nil
}

// Insert stores a new order document, failing when the id is taken.
func (r *OrderRepository) Insert(ctx context.Context, order domain.Order) (domain.Order, error) {
	if strings.TrimSpace(order.ID) == "" {
		return domain.Order{}, pfirestore.WrapError("orders.insert", errors.New("order id is required"))
	}

	order.Version = 1
	doc := encodeOrder(order)

	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ref, err := r.orders.DocumentRef(ctx, order.ID)
		if err != nil {
			return err
		}
		return tx.Create(ref, doc)
	})
	if err != nil {
		return domain.Order{}, pfirestore.WrapError("orders.insert", err)
	}
	return order, nil
}

// FindByID fetches an order aggregate by id.
func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	snapshot, err := r.orders.Get(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	return decodeOrder(snapshot.ID, snapshot.Data), nil
}

// Update persists the aggregate inside a transaction. The stored version must
// match order.Version; a mismatch surfaces as a conflict error so callers can
// retry or report concurrent modification.
func (r *OrderRepository) Update(ctx context.Context, order domain.Order) (domain.Order, error) {
	if strings.TrimSpace(order.ID) == "" {
		return domain.Order{}, pfirestore.WrapError("orders.update", errors.New("order id is required"))
	}

	next := order.Clone()
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ref, err := r.orders.DocumentRef(ctx, order.ID)
		if err != nil {
			return err
		}

		snapshot, err := tx.Get(ref)
		if err != nil {
			return err
		}
		var stored orderDocument
		if err := snapshot.DataTo(&stored); err != nil {
			return fmt.Errorf("firestore orders decode %s: %w", order.ID, err)
		}
		if stored.Version != order.Version {
			return status.Errorf(codes.Aborted,
				"order %s version mismatch: have %d, want %d", order.ID, stored.Version, order.Version)
		}

		next.Version = order.Version + 1
		return tx.Set(ref, encodeOrder(next))
	})
	if err != nil {
		return domain.Order{}, pfirestore.WrapError("orders.update", err)
	}
	return next, nil
}

// List returns orders matching the filter, newest first by default.
func (r *OrderRepository) List(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	pageSize := filter.Pagination.PageSize
	if pageSize <= 0 {
		pageSize = pagination.DefaultPageSize
	}

	cursor, err := pagination.DecodeToken(filter.Pagination.PageToken)
	if err != nil {
		return domain.CursorPage[domain.Order]{}, err
	}

	direction := firestore.Desc
	if filter.Sort == domain.SortAsc {
		direction = firestore.Asc
	}

	docs, err := r.orders.Query(ctx, func(query firestore.Query) firestore.Query {
		if filter.Status != nil {
			query = query.Where("status", "==", string(*filter.Status))
		}
		if filter.PaymentMethod != nil {
			query = query.Where("paymentMethod", "==", string(*filter.PaymentMethod))
		}
		if filter.CreatedAt.From != nil {
			query = query.Where("createdAt", ">=", *filter.CreatedAt.From)
		}
		if filter.CreatedAt.To != nil {
			query = query.Where("createdAt", "<=", *filter.CreatedAt.To)
		}
		query = query.OrderBy("createdAt", direction).OrderBy(firestore.DocumentID, direction)
		if len(cursor.StartAfter) > 0 {
			query = query.StartAfter(cursor.StartAfter...)
		}
		return query.Limit(pageSize + 1)
	})
	if err != nil {
		return domain.CursorPage[domain.Order]{}, err
	}

	page := domain.CursorPage[domain.Order]{}
	for i, doc := range docs {
		if i == pageSize {
			last := docs[pageSize-1]
			token, err := pagination.EncodeToken(pagination.Cursor{
				StartAfter: []any{last.Data.CreatedAt, last.ID},
			})
			if err != nil {
				return domain.CursorPage[domain.Order]{}, err
			}
			page.NextPageToken = token
			break
		}
		page.Items = append(page.Items, decodeOrder(doc.ID, doc.Data))
	}
	return page, nil
}

func encodeOrder(order domain.Order) orderDocument {
	doc := orderDocument{
		DisplayID:     order.DisplayID,
		Status:        string(order.Status),
		PaymentMethod: string(order.PaymentMethod),
		Currency:      order.Currency,
		SubtotalMinor: order.Totals.Subtotal.Minor(),
		DiscountMinor: order.Totals.Discount.Minor(),
		ShippingMinor: order.Totals.Shipping.Minor(),
		TotalMinor:    order.Totals.Total.Minor(),
		IsGuestOrder:  order.IsGuestOrder,
		Version:       order.Version,
		CreatedAt:     order.CreatedAt,
		UpdatedAt:     order.UpdatedAt,
		ShippedAt:     order.ShippedAt,
		DeliveredAt:   order.DeliveredAt,
		CancelledAt:   order.CancelledAt,
		CancelReason:  order.CancelReason,
	}
	for _, item := range order.Items {
		doc.Items = append(doc.Items, lineItemDocument{
			SKU:            item.SKU,
			Name:           item.Name,
			Quantity:       item.Quantity,
			UnitPriceMinor: item.UnitPrice.Minor(),
		})
	}
	if order.Shipment != nil {
		shipment := &shipmentDocument{
			ID:                order.Shipment.ID,
			EstimatedDelivery: order.Shipment.EstimatedDelivery,
			DeliveredAt:       order.Shipment.DeliveredAt,
			CreatedAt:         order.Shipment.CreatedAt,
		}
		for _, record := range order.Shipment.Carriers {
			shipment.Carriers = append(shipment.Carriers, carrierRecordDocument{
				Carrier:        record.Carrier,
				TrackingNumber: record.TrackingNumber,
			})
		}
		doc.Shipment = shipment
	}
	if order.Ledger != nil {
		ledger := &ledgerDocument{
			PaymentIntentID: order.Ledger.PaymentIntentID,
			CapturedMinor:   order.Ledger.CapturedAmount.Minor(),
			Refundable:      order.Ledger.Refundable,
		}
		for _, refund := range order.Ledger.Refunds {
			ledger.Refunds = append(ledger.Refunds, refundDocument{
				ID:              refund.ID,
				AmountMinor:     refund.Amount.Minor(),
				Reason:          string(refund.Reason),
				GatewayRefundID: refund.GatewayRefundID,
				CreatedAt:       refund.CreatedAt,
			})
		}
		doc.Ledger = ledger
	}
	return doc
}

func decodeOrder(id string, doc orderDocument) domain.Order {
	order := domain.Order{
		ID:            id,
		DisplayID:     doc.DisplayID,
		Status:        domain.OrderStatus(doc.Status),
		PaymentMethod: domain.PaymentMethod(doc.PaymentMethod),
		Currency:      doc.Currency,
		Totals: domain.OrderTotals{
			Subtotal: domain.Money(doc.SubtotalMinor),
			Discount: domain.Money(doc.DiscountMinor),
			Shipping: domain.Money(doc.ShippingMinor),
			Total:    domain.Money(doc.TotalMinor),
		},
		IsGuestOrder: doc.IsGuestOrder,
		Version:      doc.Version,
		CreatedAt:    doc.CreatedAt,
		UpdatedAt:    doc.UpdatedAt,
		ShippedAt:    doc.ShippedAt,
		DeliveredAt:  doc.DeliveredAt,
		CancelledAt:  doc.CancelledAt,
		CancelReason: doc.CancelReason,
	}
	for _, item := range doc.Items {
		order.Items = append(order.Items, domain.LineItem{
			SKU:       item.SKU,
			Name:      item.Name,
			Quantity:  item.Quantity,
			UnitPrice: domain.Money(item.UnitPriceMinor),
		})
	}
	if doc.Shipment != nil {
		shipment := &domain.Shipment{
			ID:                doc.Shipment.ID,
			OrderID:           id,
			EstimatedDelivery: doc.Shipment.EstimatedDelivery,
			DeliveredAt:       doc.Shipment.DeliveredAt,
			CreatedAt:         doc.Shipment.CreatedAt,
		}
		for _, record := range doc.Shipment.Carriers {
			shipment.Carriers = append(shipment.Carriers, domain.CarrierRecord{
				Carrier:        record.Carrier,
				TrackingNumber: record.TrackingNumber,
			})
		}
		order.Shipment = shipment
	}
	if doc.Ledger != nil {
		ledger := &domain.PaymentLedger{
			PaymentIntentID: doc.Ledger.PaymentIntentID,
			CapturedAmount:  domain.Money(doc.Ledger.CapturedMinor),
			Refundable:      doc.Ledger.Refundable,
		}
		for _, refund := range doc.Ledger.Refunds {
			ledger.Refunds = append(ledger.Refunds, domain.Refund{
				ID:              refund.ID,
				Amount:          domain.Money(refund.AmountMinor),
				Reason:          domain.RefundReason(refund.Reason),
				GatewayRefundID: refund.GatewayRefundID,
				CreatedAt:       refund.CreatedAt,
			})
		}
		order.Ledger = ledger
	}
	return order
}
