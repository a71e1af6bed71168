package services

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/stockline/api/internal/domain"
	"github.com/stockline/api/internal/repositories"
)

type stubLedgerRepository struct {
	appendFn func(context.Context, domain.StockLedgerEntry) error
	entries  []domain.StockLedgerEntry
	sum      int
	count    int
}

func (s *stubLedgerRepository) Append(ctx context.Context, entry domain.StockLedgerEntry) error {
	if s.appendFn != nil {
		if err := s.appendFn(ctx, entry); err != nil {
			return err
		}
	}
	s.entries = append(s.entries, entry)
	return nil
}

func (s *stubLedgerRepository) ListByProduct(context.Context, string, domain.Pagination) (domain.CursorPage[domain.StockLedgerEntry], error) {
	return domain.CursorPage[domain.StockLedgerEntry]{Items: s.entries}, nil
}

func (s *stubLedgerRepository) SumDeltas(context.Context, string) (int, int, error) {
	return s.sum, s.count, nil
}

type stubProductRepository struct {
	repositories.ProductRepository
	findFn func(context.Context, string) (domain.Product, error)
}

func (s *stubProductRepository) FindByID(ctx context.Context, id string) (domain.Product, error) {
	if s.findFn != nil {
		return s.findFn(ctx, id)
	}
	return domain.Product{ID: id}, nil
}

func newTestLedger(t *testing.T, repo *stubLedgerRepository, products *stubProductRepository) StockLedger {
	t.Helper()
	ledger, err := NewStockLedger(StockLedgerDeps{
		Ledger:      repo,
		Products:    products,
		Clock:       func() time.Time { return time.Date(2025, 2, 1, 8, 0, 0, 0, time.FixedZone("JST", 9*3600)) },
		IDGenerator: func() string { return "entry-1" },
	})
	if err != nil {
		t.Fatalf("NewStockLedger: %v", err)
	}
	return ledger
}

func TestStockLedgerAppendValidation(t *testing.T) {
	ledger := newTestLedger(t, &stubLedgerRepository{}, &stubProductRepository{})
	ctx := context.Background()

	cases := []struct {
		name      string
		productID string
		direction StockDirection
		quantity  int
		cause     string
	}{
		{"missing product", "", domain.StockDirectionIn, 1, "x"},
		{"unknown direction", "p1", "sideways", 1, "x"},
		{"zero in", "p1", domain.StockDirectionIn, 0, "x"},
		{"negative out", "p1", domain.StockDirectionOut, -2, "x"},
		{"zero adjustment", "p1", domain.StockDirectionAdjustment, 0, "x"},
		{"missing cause", "p1", domain.StockDirectionIn, 1, "  "},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := ledger.Append(ctx, tc.productID, tc.direction, tc.quantity, tc.cause); !errors.Is(err, ErrStockLedgerInvalidInput) {
				t.Fatalf("expected ErrStockLedgerInvalidInput, got %v", err)
			}
		})
	}
}

func TestStockLedgerAppendPersistsEntry(t *testing.T) {
	repo := &stubLedgerRepository{}
	ledger := newTestLedger(t, repo, &stubProductRepository{})

	id, err := ledger.Append(context.Background(), "p1", domain.StockDirectionAdjustment, -3, " Stock take ")
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	if id != "entry-1" {
		t.Fatalf("expected entry-1, got %s", id)
	}
	if len(repo.entries) != 1 {
		t.Fatalf("expected one entry, got %d", len(repo.entries))
	}
	entry := repo.entries[0]
	if entry.Quantity != -3 || entry.Cause != "Stock take" || entry.SignedDelta() != -3 {
		t.Fatalf("unexpected entry %#v", entry)
	}
	if entry.CreatedAt.Location() != time.UTC {
		t.Fatalf("expected UTC timestamp, got %s", entry.CreatedAt.Location())
	}
}

func TestStockLedgerAppendMapsMissingProduct(t *testing.T) {
	repo := &stubLedgerRepository{appendFn: func(_ context.Context, entry domain.StockLedgerEntry) error {
		return repositories.NewStockError(repositories.StockErrorProductNotFound, entry.ProductID, "missing", nil)
	}}
	ledger := newTestLedger(t, repo, &stubProductRepository{})

	_, err := ledger.Append(context.Background(), "ghost", domain.StockDirectionIn, 1, "x")
	if !errors.Is(err, ErrProductNotFound) {
		t.Fatalf("expected ErrProductNotFound, got %v", err)
	}
}

func TestStockLedgerReconcile(t *testing.T) {
	repo := &stubLedgerRepository{sum: 8, count: 3}
	products := &stubProductRepository{findFn: func(_ context.Context, id string) (domain.Product, error) {
		return domain.Product{ID: id, InitialQuantity: 2, Quantity: 10}, nil
	}}
	ledger := newTestLedger(t, repo, products)

	rec, err := ledger.Reconcile(context.Background(), "p1")
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if !rec.Balanced() || rec.Entries != 3 {
		t.Fatalf("expected balanced reconciliation, got %#v", rec)
	}

	repo.sum = 7
	rec, err = ledger.Reconcile(context.Background(), "p1")
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if rec.Balanced() {
		t.Fatalf("expected imbalance to be reported, got %#v", rec)
	}
}

func TestStockLedgerListUnknownProduct(t *testing.T) {
	products := &stubProductRepository{findFn: func(context.Context, string) (domain.Product, error) {
		return domain.Product{}, repositories.NewStockError(repositories.StockErrorProductNotFound, "ghost", "missing", nil)
	}}
	ledger := newTestLedger(t, &stubLedgerRepository{}, products)

	if _, err := ledger.List(context.Background(), "ghost", Pagination{}); !errors.Is(err, ErrProductNotFound) {
		t.Fatalf("expected ErrProductNotFound, got %v", err)
	}
}

func TestStockLedgerReconcileWaitsForInFlightAdjustment(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	p := h.createProduct(t, "REC-1", "1.00", 4)

	adjusted := make(chan struct{})
	commit := make(chan struct{})
	txDone := make(chan error, 1)
	go func() {
		txDone <- h.store.RunInTx(ctx, func(ctx context.Context) error {
			if _, err := h.stock.Adjust(ctx, p.ID, 3, "Restock"); err != nil {
				return err
			}
			close(adjusted)
			<-commit
			return nil
		})
	}()
	select {
	case <-adjusted:
	case err := <-txDone:
		t.Fatalf("adjustment transaction ended early: %v", err)
	}

	type result struct {
		rec StockReconciliation
		err error
	}
	done := make(chan result, 1)
	go func() {
		rec, err := h.ledger.Reconcile(ctx, p.ID)
		done <- result{rec, err}
	}()

	select {
	case r := <-done:
		t.Fatalf("reconcile read a product with an uncommitted adjustment: %#v", r.rec)
	case <-time.After(50 * time.Millisecond):
	}

	close(commit)
	if err := <-txDone; err != nil {
		t.Fatalf("adjustment: %v", err)
	}
	select {
	case r := <-done:
		if r.err != nil {
			t.Fatalf("Reconcile: %v", r.err)
		}
		if !r.rec.Balanced() || r.rec.OnHand != 7 || r.rec.Entries != 2 {
			t.Fatalf("expected balanced snapshot after commit, got %#v", r.rec)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("reconcile did not finish after the adjustment committed")
	}

	if _, err := h.ledger.Reconcile(ctx, "ghost"); !errors.Is(err, ErrProductNotFound) {
		t.Fatalf("expected ErrProductNotFound, got %v", err)
	}
}
