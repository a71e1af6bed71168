package services

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/stockline/api/internal/domain"
	"github.com/stockline/api/internal/repositories"
)

type stubHealthRepository struct {
	report domain.SystemHealthReport
	err    error
	calls  int
}

func (s *stubHealthRepository) Collect(ctx context.Context) (domain.SystemHealthReport, error) {
	s.calls++
	return s.report, s.err
}

var _ repositories.HealthRepository = (*stubHealthRepository)(nil)

func TestSystemServiceHealthReportEnrichesMetadata(t *testing.T) {
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	now := start.Add(5 * time.Minute)
	repo := &stubHealthRepository{
		report: domain.SystemHealthReport{
			Checks: map[string]domain.SystemHealthCheck{
				"store": {Status: domain.HealthStatusOK},
			},
		},
	}

	svc, err := NewSystemService(SystemServiceDeps{
		HealthRepository: repo,
		Clock:            func() time.Time { return now },
		Build: BuildInfo{
			Version:     "1.2.3",
			CommitSHA:   "abc123",
			Environment: "prod",
			StartedAt:   start,
		},
	})
	if err != nil {
		t.Fatalf("NewSystemService: %v", err)
	}

	report, err := svc.HealthReport(context.Background())
	if err != nil {
		t.Fatalf("HealthReport: %v", err)
	}
	if report.Status != domain.HealthStatusOK {
		t.Fatalf("expected status ok, got %s", report.Status)
	}
	if report.Version != "1.2.3" || report.CommitSHA != "abc123" || report.Environment != "prod" {
		t.Fatalf("unexpected build metadata %#v", report)
	}
	if report.Uptime != now.Sub(start) {
		t.Fatalf("expected uptime %s, got %s", now.Sub(start), report.Uptime)
	}
	if !report.GeneratedAt.Equal(now) {
		t.Fatalf("expected generatedAt %s, got %s", now, report.GeneratedAt)
	}
}

func TestSystemServiceHealthReportErrors(t *testing.T) {
	expected := errors.New("collect failed")
	svc, err := NewSystemService(SystemServiceDeps{HealthRepository: &stubHealthRepository{err: expected}})
	if err != nil {
		t.Fatalf("NewSystemService: %v", err)
	}
	if _, err := svc.HealthReport(context.Background()); !errors.Is(err, expected) {
		t.Fatalf("expected error %v, got %v", expected, err)
	}
}

func TestNewSystemServiceRequiresRepository(t *testing.T) {
	if _, err := NewSystemService(SystemServiceDeps{}); err == nil {
		t.Fatalf("expected error when repository missing")
	}
}

func TestSystemServiceDerivesStatusWhenMissing(t *testing.T) {
	repo := &stubHealthRepository{
		report: domain.SystemHealthReport{
			Checks: map[string]domain.SystemHealthCheck{
				"pubsub": {Status: domain.HealthStatusDegraded},
				"store":  {Status: domain.HealthStatusOK},
			},
		},
	}
	svc, err := NewSystemService(SystemServiceDeps{HealthRepository: repo})
	if err != nil {
		t.Fatalf("NewSystemService: %v", err)
	}
	report, err := svc.HealthReport(context.Background())
	if err != nil {
		t.Fatalf("HealthReport: %v", err)
	}
	if report.Status != domain.HealthStatusDegraded {
		t.Fatalf("expected degraded, got %s", report.Status)
	}
}

func TestSystemServiceReconcileStock(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	p := h.createProduct(t, "REC-1", "4.00", 10)
	if _, err := h.stock.Adjust(ctx, p.ID, -3, "Damaged"); err != nil {
		t.Fatalf("Adjust: %v", err)
	}

	svc, err := NewSystemService(SystemServiceDeps{
		HealthRepository: &stubHealthRepository{},
		Products:         h.store.Products(),
		Ledger:           h.ledger,
	})
	if err != nil {
		t.Fatalf("NewSystemService: %v", err)
	}
	page, err := svc.ReconcileStock(ctx, Pagination{PageSize: 10})
	if err != nil {
		t.Fatalf("ReconcileStock: %v", err)
	}
	if len(page.Items) != 1 {
		t.Fatalf("expected one reconciliation, got %d", len(page.Items))
	}
	rec := page.Items[0]
	if !rec.Balanced() || rec.OnHand != 7 || rec.LedgerDelta != 7 || rec.Entries != 2 {
		t.Fatalf("unexpected reconciliation %#v", rec)
	}
}

func TestSystemServiceReconcileStockRequiresCollaborators(t *testing.T) {
	svc, err := NewSystemService(SystemServiceDeps{HealthRepository: &stubHealthRepository{}})
	if err != nil {
		t.Fatalf("NewSystemService: %v", err)
	}
	if _, err := svc.ReconcileStock(context.Background(), Pagination{}); err == nil {
		t.Fatalf("expected error when stock audit collaborators are missing")
	}
}

type skewedLedger struct {
	StockLedger
}

func (l skewedLedger) Reconcile(ctx context.Context, productID string) (StockReconciliation, error) {
	rec, err := l.StockLedger.Reconcile(ctx, productID)
	rec.OnHand++
	return rec, err
}

func TestSystemServiceReconcileStockReportsImbalance(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	p := h.createProduct(t, "REC-2", "1.00", 4)

	var events []string
	svc, err := NewSystemService(SystemServiceDeps{
		HealthRepository: &stubHealthRepository{},
		Products:         h.store.Products(),
		Ledger:           skewedLedger{StockLedger: h.ledger},
		Logger: func(_ context.Context, event string, fields map[string]any) {
			events = append(events, event)
			if fields["productId"] != p.ID {
				t.Errorf("unexpected productId %v", fields["productId"])
			}
		},
	})
	if err != nil {
		t.Fatalf("NewSystemService: %v", err)
	}
	page, err := svc.ReconcileStock(ctx, Pagination{})
	if err != nil {
		t.Fatalf("ReconcileStock: %v", err)
	}
	if len(page.Items) != 1 || page.Items[0].Balanced() {
		t.Fatalf("expected one imbalanced item, got %#v", page.Items)
	}
	if len(events) != 1 || events[0] != "stock.reconcile.imbalanced" {
		t.Fatalf("expected one imbalance event, got %v", events)
	}
}
