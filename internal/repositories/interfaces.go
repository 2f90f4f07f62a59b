package repositories

import (
	"context"
	"time"

	domain "github.com/orderhub/api/internal/domain"
)

// Registry exposes typed repository accessors and lifecycle hooks for dependency injection.
type Registry interface {
	Close(ctx context.Context) error

	Orders() OrderRepository
	Health() HealthRepository
	UnitOfWork
}

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// UnitOfWork allows grouping repository operations in a transactional boundary when supported.
type UnitOfWork interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// OrderRepository persists order aggregates with optimistic locking.
//
// Update compares the aggregate's Version field against the stored record and
// fails with a conflict error when they no longer match; on success the
// returned order carries the incremented version.
type OrderRepository interface {
	Insert(ctx context.Context, order domain.Order) (domain.Order, error)
	FindByID(ctx context.Context, orderID string) (domain.Order, error)
	Update(ctx context.Context, order domain.Order) (domain.Order, error)
	List(ctx context.Context, filter OrderListFilter) (domain.CursorPage[domain.Order], error)
}

// OrderListFilter narrows order listings for staff dashboards.
type OrderListFilter struct {
	Status        *domain.OrderStatus
	PaymentMethod *domain.PaymentMethod
	CreatedAt     domain.RangeQuery[time.Time]
	Pagination    domain.Pagination
	Sort          domain.SortOrder
}

// HealthRepository aggregates dependency probes for liveness/readiness endpoints.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.SystemHealthReport, error)
}
