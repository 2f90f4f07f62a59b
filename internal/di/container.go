package di

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/orderhub/api/internal/domain"
	"github.com/orderhub/api/internal/notifications"
	"github.com/orderhub/api/internal/platform/config"
	"github.com/orderhub/api/internal/repositories"
	"github.com/orderhub/api/internal/services"
)

// Services bundles the service-layer contracts that handlers rely upon. Concrete implementations
// are assembled via dependency injection in NewContainer.
type Services struct {
	Fulfillment services.FulfillmentService
	Refunds     services.RefundService
	System      services.SystemService
}

// Deps carries the externally constructed collaborators the container wires
// into services.
type Deps struct {
	Gateway services.PaymentGateway
	Events  notifications.Dispatcher
	Build   services.BuildInfo
	Logger  func(ctx context.Context, event string, fields map[string]any)
	Clock   func() time.Time
}

// Container wires repositories, services, and background infrastructure for runtime use.
type Container struct {
	Config       config.Config
	Repositories repositories.Registry
	Services     Services
}

// NewContainer constructs the runtime dependencies. Production wiring provides real
// implementations, while tests can supply in-memory registries.
func NewContainer(ctx context.Context, cfg config.Config, reg repositories.Registry, deps Deps) (*Container, error) {
	if reg == nil {
		return nil, errors.New("repositories registry is required")
	}

	svc, err := buildServices(ctx, reg, cfg, deps)
	if err != nil {
		return nil, err
	}

	return &Container{
		Config:       cfg,
		Repositories: reg,
		Services:     svc,
	}, nil
}

// Close releases resources such as repository clients, background workers, or caches.
func (c *Container) Close(ctx context.Context) error {
	if c == nil || c.Repositories == nil {
		return nil
	}
	return c.Repositories.Close(ctx)
}

func buildServices(_ context.Context, reg repositories.Registry, cfg config.Config, deps Deps) (Services, error) {
	var svc Services

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	ordersRepo := reg.Orders()
	if ordersRepo == nil {
		return Services{}, errors.New("order repository is required")
	}

	locks := services.NewOrderLocks()

	refundProcessor, err := services.NewRefundProcessor(services.RefundProcessorDeps{
		Orders:         ordersRepo,
		Gateway:        deps.Gateway,
		UnitOfWork:     reg,
		Locks:          locks,
		GatewayTimeout: cfg.Fulfillment.GatewayTimeout,
		Clock:          clock,
		Events:         deps.Events,
		Logger:         deps.Logger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build refund processor: %w", err)
	}
	svc.Refunds = refundProcessor

	carriers := domain.DefaultCarriers()
	if len(cfg.Fulfillment.Carriers) > 0 {
		carriers = domain.NewCarrierSet(cfg.Fulfillment.Carriers...)
	}

	fulfillmentSvc, err := services.NewFulfillmentService(services.FulfillmentServiceDeps{
		Orders:     ordersRepo,
		Refunds:    refundProcessor,
		Gateway:    deps.Gateway,
		UnitOfWork: reg,
		Locks:      locks,
		Carriers:   carriers,
		Clock:      clock,
		Events:     deps.Events,
		Logger:     deps.Logger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build fulfillment service: %w", err)
	}
	svc.Fulfillment = fulfillmentSvc

	if healthRepo := reg.Health(); healthRepo != nil {
		systemSvc, err := services.NewSystemService(services.SystemServiceDeps{
			HealthRepository: healthRepo,
			Clock:            clock,
			Build:            deps.Build,
		})
		if err != nil {
			return Services{}, fmt.Errorf("build system service: %w", err)
		}
		svc.System = systemSvc
	}

	return svc, nil
}
