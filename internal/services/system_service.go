package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	domain "github.com/stockline/api/internal/domain"
	"github.com/stockline/api/internal/repositories"
)

// BuildInfo captures runtime metadata exposed via health endpoints.
type BuildInfo struct {
	Version     string
	CommitSHA   string
	Environment string
	StartedAt   time.Time
}

// SystemServiceDeps bundles collaborators required to construct a system service.
// Products and Ledger are only needed for ReconcileStock.
type SystemServiceDeps struct {
	HealthRepository repositories.HealthRepository
	Products         repositories.ProductRepository
	Ledger           StockLedger
	Clock            func() time.Time
	Build            BuildInfo
	Logger           func(ctx context.Context, event string, fields map[string]any)
	Meter            metric.Meter
}

type systemService struct {
	healthRepo repositories.HealthRepository
	products   repositories.ProductRepository
	ledger     StockLedger
	clock      func() time.Time
	build      BuildInfo
	logger     func(context.Context, string, map[string]any)
	imbalanced metric.Int64Counter
}

var _ SystemService = (*systemService)(nil)

// NewSystemService assembles the health reporter and the catalogue stock audit.
func NewSystemService(deps SystemServiceDeps) (SystemService, error) {
	if deps.HealthRepository == nil {
		return nil, errors.New("system service: health repository is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	meter := deps.Meter
	if meter == nil {
		meter = otel.GetMeterProvider().Meter(stockMetricNamespace)
	}
	imbalanced, err := meter.Int64Counter("stock.reconcile.imbalanced",
		metric.WithDescription("Count of products whose ledger does not reproduce on-hand"))
	if err != nil {
		return nil, fmt.Errorf("system service: register imbalance metric: %w", err)
	}

	build := deps.Build
	if build.StartedAt.IsZero() {
		build.StartedAt = clock()
	}

	return &systemService{
		healthRepo: deps.HealthRepository,
		products:   deps.Products,
		ledger:     deps.Ledger,
		clock:      func() time.Time { return clock().UTC() },
		build:      build,
		logger:     logger,
		imbalanced: imbalanced,
	}, nil
}

func (s *systemService) HealthReport(ctx context.Context) (SystemHealthReport, error) {
	if ctx == nil {
		return SystemHealthReport{}, errors.New("system service: context is required")
	}

	report, err := s.healthRepo.Collect(ctx)
	if err != nil {
		return SystemHealthReport{}, err
	}
	s.stamp(&report, s.clock())
	if report.Checks == nil {
		report.Checks = map[string]domain.SystemHealthCheck{}
	}
	if strings.TrimSpace(report.Status) == "" {
		report.Status = deriveStatus(report.Checks)
	}
	return report, nil
}

// stamp fills build metadata and timing the repository left blank.
func (s *systemService) stamp(report *SystemHealthReport, now time.Time) {
	if report.GeneratedAt.IsZero() {
		report.GeneratedAt = now
	}
	report.GeneratedAt = report.GeneratedAt.UTC()
	if strings.TrimSpace(report.Version) == "" {
		report.Version = s.build.Version
	}
	if strings.TrimSpace(report.CommitSHA) == "" {
		report.CommitSHA = s.build.CommitSHA
	}
	if strings.TrimSpace(report.Environment) == "" {
		report.Environment = s.build.Environment
	}
	if report.Uptime <= 0 {
		report.Uptime = now.Sub(s.build.StartedAt)
	}
}

// ReconcileStock evaluates the ledger invariant for one page of products. Imbalanced
// products are logged and counted but still returned so the caller sees the figures.
func (s *systemService) ReconcileStock(ctx context.Context, pager Pagination) (domain.CursorPage[StockReconciliation], error) {
	if s.products == nil || s.ledger == nil {
		return domain.CursorPage[StockReconciliation]{}, errors.New("system service: stock audit not configured")
	}
	page, err := s.products.List(ctx, ProductListFilter{Pagination: pager})
	if err != nil {
		return domain.CursorPage[StockReconciliation]{}, mapStockRepositoryError(err)
	}
	out := domain.CursorPage[StockReconciliation]{
		Items:         make([]StockReconciliation, 0, len(page.Items)),
		NextPageToken: page.NextPageToken,
	}
	for _, product := range page.Items {
		rec, err := s.ledger.Reconcile(ctx, product.ID)
		if err != nil {
			return domain.CursorPage[StockReconciliation]{}, err
		}
		if !rec.Balanced() {
			s.imbalanced.Add(ctx, 1)
			s.logger(ctx, "stock.reconcile.imbalanced", map[string]any{
				"productId":       rec.ProductID,
				"initialQuantity": rec.InitialQuantity,
				"ledgerDelta":     rec.LedgerDelta,
				"onHand":          rec.OnHand,
			})
		}
		out.Items = append(out.Items, rec)
	}
	return out, nil
}

// deriveStatus folds check statuses: any error wins, anything else non-ok degrades.
func deriveStatus(checks map[string]domain.SystemHealthCheck) string {
	status := domain.HealthStatusOK
	for _, check := range checks {
		switch check.Status {
		case domain.HealthStatusOK, "":
		case domain.HealthStatusError:
			return domain.HealthStatusError
		default:
			status = domain.HealthStatusDegraded
		}
	}
	return status
}
