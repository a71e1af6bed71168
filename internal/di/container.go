package di

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/stockline/api/internal/platform/config"
	"github.com/stockline/api/internal/platform/observability"
	"github.com/stockline/api/internal/repositories"
	"github.com/stockline/api/internal/services"
)

// Services bundles the service-layer contracts that handlers rely upon. Concrete implementations
// are assembled via dependency injection in NewContainer.
type Services struct {
	Counters services.CounterService
	Ledger   services.StockLedger
	Stock    services.StockAccessor
	Builder  services.OrderBuilder
	Orders   services.OrderLifecycleController
	Products services.ProductService
	System   services.SystemService
}

// Container wires repositories and services for runtime use.
type Container struct {
	Config       config.Config
	Repositories repositories.Registry
	Services     Services
}

// Options carries the collaborators that live outside the repository registry.
// Nil publishers disable event delivery; a nil health repository disables readiness reporting.
type Options struct {
	Health      repositories.HealthRepository
	OrderEvents services.OrderEventPublisher
	StockEvents services.StockEventPublisher
	Build       services.BuildInfo
	Logger      *zap.Logger
	Clock       func() time.Time
}

// NewContainer constructs the runtime dependencies. Production wiring provides a Firestore or
// Postgres registry, while tests can supply the in-memory one.
func NewContainer(_ context.Context, cfg config.Config, reg repositories.Registry, opts Options) (*Container, error) {
	if reg == nil {
		return nil, errors.New("repositories registry is required")
	}

	svc, err := buildServices(reg, opts)
	if err != nil {
		return nil, err
	}

	return &Container{
		Config:       cfg,
		Repositories: reg,
		Services:     svc,
	}, nil
}

// Close releases resources such as repository clients or pools.
func (c *Container) Close(ctx context.Context) error {
	if c == nil || c.Repositories == nil {
		return nil
	}
	return c.Repositories.Close(ctx)
}

func buildServices(reg repositories.Registry, opts Options) (Services, error) {
	var svc Services

	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	counterSvc, err := services.NewCounterService(services.CounterServiceDeps{
		Repository: reg.Counters(),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build counter service: %w", err)
	}
	svc.Counters = counterSvc

	ledger, err := services.NewStockLedger(services.StockLedgerDeps{
		UnitOfWork: reg,
		Ledger:     reg.StockLedger(),
		Products:   reg.Products(),
		Clock:      clock,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build stock ledger: %w", err)
	}
	svc.Ledger = ledger

	stock, err := services.NewStockAccessor(services.StockAccessorDeps{
		UnitOfWork: reg,
		Products:   reg.Products(),
		Ledger:     ledger,
		Events:     opts.StockEvents,
		Clock:      clock,
		Logger:     observability.ServiceLogger(logger, "stock"),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build stock accessor: %w", err)
	}
	svc.Stock = stock

	builder, err := services.NewOrderBuilder(services.OrderBuilderDeps{
		Products: reg.Products(),
		Counters: counterSvc,
		Clock:    clock,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build order builder: %w", err)
	}
	svc.Builder = builder

	orders, err := services.NewOrderLifecycleController(services.OrderLifecycleDeps{
		UnitOfWork: reg,
		Orders:     reg.Orders(),
		Builder:    builder,
		Stock:      stock,
		Events:     opts.OrderEvents,
		Clock:      clock,
		Logger:     observability.ServiceLogger(logger, "orders"),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build order lifecycle controller: %w", err)
	}
	svc.Orders = orders

	products, err := services.NewProductService(services.ProductServiceDeps{
		UnitOfWork: reg,
		Products:   reg.Products(),
		Orders:     reg.Orders(),
		Stock:      stock,
		Clock:      clock,
		Logger:     observability.ServiceLogger(logger, "products"),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build product service: %w", err)
	}
	svc.Products = products

	if opts.Health != nil {
		systemSvc, err := services.NewSystemService(services.SystemServiceDeps{
			HealthRepository: opts.Health,
			Products:         reg.Products(),
			Ledger:           ledger,
			Clock:            clock,
			Build:            opts.Build,
			Logger:           observability.ServiceLogger(logger, "system"),
		})
		if err != nil {
			return Services{}, fmt.Errorf("build system service: %w", err)
		}
		svc.System = systemSvc
	}

	return svc, nil
}
