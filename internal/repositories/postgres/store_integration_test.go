//go:build integration

package postgres

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domain "github.com/stockline/api/internal/domain"
	"github.com/stockline/api/internal/platform/postgres/pgtest"
	"github.com/stockline/api/internal/repositories"
)

var testNow = time.Date(2025, time.May, 2, 10, 0, 0, 0, time.UTC)

func seedProduct(t *testing.T, ctx context.Context, s *Store, id, sku string, qty int) {
	t.Helper()
	p := domain.Product{
		ID:        id,
		SKU:       sku,
		Name:      "Product " + id,
		UnitPrice: decimal.RequireFromString("9.50"),
		Status:    domain.ProductStatusActive,
		CreatedAt: testNow,
		UpdatedAt: testNow,
	}
	require.NoError(t, s.RunInTx(ctx, func(ctx context.Context) error {
		if err := s.Products().Insert(ctx, p); err != nil {
			return err
		}
		if err := s.Products().SetQuantity(ctx, id, qty, testNow); err != nil {
			return err
		}
		return s.StockLedger().Append(ctx, domain.StockLedgerEntry{
			ID: "seed-" + id, ProductID: id, Direction: domain.StockDirectionIn, Quantity: qty, Cause: "Initial stock", CreatedAt: testNow,
		})
	}))
}

func TestStoreIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("integration test skipped in short mode")
	}
	s, err := New(pgtest.Start(t))
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	require.NoError(t, s.Ping(ctx))
	seedProduct(t, ctx, s, "p1", "SKU-1", 10)
	seedProduct(t, ctx, s, "p2", "SKU-2", 2)

	t.Run("duplicate sku", func(t *testing.T) {
		err := s.Products().Insert(ctx, domain.Product{ID: "p9", SKU: "SKU-1", UnitPrice: decimal.Zero, Status: domain.ProductStatusActive, CreatedAt: testNow, UpdatedAt: testNow})
		var stockErr *repositories.StockError
		require.ErrorAs(t, err, &stockErr)
		assert.Equal(t, repositories.StockErrorDuplicateSKU, stockErr.Code)
	})

	t.Run("rollback discards writes", func(t *testing.T) {
		boom := errors.New("boom")
		err := s.RunInTx(ctx, func(ctx context.Context) error {
			if _, err := s.Products().LockForUpdate(ctx, []string{"p1"}); err != nil {
				return err
			}
			if err := s.Products().SetQuantity(ctx, "p1", 3, testNow); err != nil {
				return err
			}
			return boom
		})
		require.ErrorIs(t, err, boom)
		p, err := s.Products().FindByID(ctx, "p1")
		require.NoError(t, err)
		assert.Equal(t, 10, p.Quantity)
	})

	t.Run("set quantity requires lock", func(t *testing.T) {
		err := s.RunInTx(ctx, func(ctx context.Context) error {
			return s.Products().SetQuantity(ctx, "p1", 1, testNow)
		})
		var stockErr *repositories.StockError
		require.ErrorAs(t, err, &stockErr)
		assert.Equal(t, repositories.StockErrorNotLocked, stockErr.Code)
	})

	t.Run("lock missing product", func(t *testing.T) {
		_, err := s.Products().LockForUpdate(ctx, []string{"p1", "ghost"})
		var stockErr *repositories.StockError
		require.ErrorAs(t, err, &stockErr)
		assert.Equal(t, repositories.StockErrorProductNotFound, stockErr.Code)
		assert.Equal(t, "ghost", stockErr.ProductID)
	})

	t.Run("ledger append for missing product", func(t *testing.T) {
		err := s.StockLedger().Append(ctx, domain.StockLedgerEntry{ID: "x1", ProductID: "ghost", Direction: domain.StockDirectionIn, Quantity: 1, Cause: "x", CreatedAt: testNow})
		var stockErr *repositories.StockError
		require.ErrorAs(t, err, &stockErr)
		assert.Equal(t, repositories.StockErrorProductNotFound, stockErr.Code)
	})

	t.Run("update keeps quantity", func(t *testing.T) {
		p, err := s.Products().FindBySKU(ctx, "SKU-2")
		require.NoError(t, err)
		p.Name = "Renamed"
		p.MinStock = 5
		p.Quantity = 999
		require.NoError(t, s.Products().Update(ctx, p))
		got, err := s.Products().FindByID(ctx, "p2")
		require.NoError(t, err)
		assert.Equal(t, "Renamed", got.Name)
		assert.Equal(t, 2, got.Quantity)
		assert.True(t, got.UnitPrice.Equal(decimal.RequireFromString("9.5")))
	})

	t.Run("list filters and paginates", func(t *testing.T) {
		page, err := s.Products().List(ctx, repositories.ProductListFilter{Pagination: domain.Pagination{PageSize: 1}})
		require.NoError(t, err)
		require.Len(t, page.Items, 1)
		assert.Equal(t, "SKU-1", page.Items[0].SKU)
		require.NotEmpty(t, page.NextPageToken)

		page, err = s.Products().List(ctx, repositories.ProductListFilter{Pagination: domain.Pagination{PageSize: 1, PageToken: page.NextPageToken}})
		require.NoError(t, err)
		require.Len(t, page.Items, 1)
		assert.Equal(t, "SKU-2", page.Items[0].SKU)
		assert.Empty(t, page.NextPageToken)

		low, err := s.Products().List(ctx, repositories.ProductListFilter{LowStock: true, Search: "renamed"})
		require.NoError(t, err)
		require.Len(t, low.Items, 1)
		assert.Equal(t, "p2", low.Items[0].ID)
	})

	t.Run("orders round trip", func(t *testing.T) {
		completedAt := testNow.Add(time.Minute)
		order := domain.Order{
			ID:          "o1",
			OrderNumber: "ORD-000001",
			CustomerRef: "cust-1",
			Status:      domain.OrderStatusCompleted,
			Lines: []domain.OrderLine{
				{ProductID: "p1", SKU: "SKU-1", Name: "Product p1", Quantity: 4, UnitPrice: decimal.RequireFromString("9.50"), LineTotal: decimal.RequireFromString("38.00")},
				{ProductID: "p2", SKU: "SKU-2", Name: "Renamed", Quantity: 1, UnitPrice: decimal.RequireFromString("9.50"), LineTotal: decimal.RequireFromString("9.50")},
			},
			Total:       decimal.RequireFromString("47.50"),
			OrderedAt:   testNow,
			CompletedAt: &completedAt,
			CreatedAt:   testNow,
			UpdatedAt:   testNow,
		}
		require.NoError(t, s.Orders().Insert(ctx, order))

		got, err := s.Orders().FindByID(ctx, "o1")
		require.NoError(t, err)
		assert.True(t, got.Total.Equal(order.Total))
		require.Len(t, got.Lines, 2)
		assert.Equal(t, "p1", got.Lines[0].ProductID)
		require.NotNil(t, got.CompletedAt)
		assert.True(t, got.CompletedAt.Equal(completedAt))

		got.Status = domain.OrderStatusCancelled
		cancelledAt := testNow.Add(2 * time.Minute)
		got.CancelledAt = &cancelledAt
		require.NoError(t, s.RunInTx(ctx, func(ctx context.Context) error {
			if _, err := s.Orders().LockForUpdate(ctx, "o1"); err != nil {
				return err
			}
			return s.Orders().Update(ctx, got)
		}))

		page, err := s.Orders().List(ctx, repositories.OrderListFilter{Status: []domain.OrderStatus{domain.OrderStatusCancelled}, NumberQuery: "000001"})
		require.NoError(t, err)
		require.Len(t, page.Items, 1)
		assert.Len(t, page.Items[0].Lines, 2)

		referenced, err := s.Orders().ReferencesProduct(ctx, "p2")
		require.NoError(t, err)
		assert.True(t, referenced)

		_, err = s.Orders().FindByID(ctx, "missing")
		var repoErr repositories.RepositoryError
		require.ErrorAs(t, err, &repoErr)
		assert.True(t, repoErr.IsNotFound())
	})

	t.Run("ledger pages in insertion order", func(t *testing.T) {
		require.NoError(t, s.StockLedger().Append(ctx, domain.StockLedgerEntry{ID: "l2", ProductID: "p1", Direction: domain.StockDirectionOut, Quantity: 4, Cause: "Order ORD-000001 completed", CreatedAt: testNow}))
		page, err := s.StockLedger().ListByProduct(ctx, "p1", domain.Pagination{PageSize: 1})
		require.NoError(t, err)
		require.Len(t, page.Items, 1)
		assert.Equal(t, "seed-p1", page.Items[0].ID)
		page, err = s.StockLedger().ListByProduct(ctx, "p1", domain.Pagination{PageSize: 1, PageToken: page.NextPageToken})
		require.NoError(t, err)
		require.Len(t, page.Items, 1)
		assert.Equal(t, "l2", page.Items[0].ID)
		assert.Empty(t, page.NextPageToken)

		sum, count, err := s.StockLedger().SumDeltas(ctx, "p1")
		require.NoError(t, err)
		assert.Equal(t, 6, sum)
		assert.Equal(t, 2, count)
	})

	t.Run("order lines keep products alive", func(t *testing.T) {
		err := s.Products().Delete(ctx, "p2")
		var stockErr *repositories.StockError
		require.ErrorAs(t, err, &stockErr)
		assert.Equal(t, repositories.StockErrorProductReferenced, stockErr.Code)
		_, err = s.Products().FindByID(ctx, "p2")
		require.NoError(t, err)

		err = s.Orders().Insert(ctx, domain.Order{
			ID:          "o2",
			OrderNumber: "ORD-000002",
			Status:      domain.OrderStatusPending,
			Lines:       []domain.OrderLine{{ProductID: "ghost", SKU: "G", Name: "Ghost", Quantity: 1, UnitPrice: decimal.Zero, LineTotal: decimal.Zero}},
			Total:       decimal.Zero,
			OrderedAt:   testNow,
			CreatedAt:   testNow,
			UpdatedAt:   testNow,
		})
		var repoErr repositories.RepositoryError
		require.ErrorAs(t, err, &repoErr)
		assert.True(t, repoErr.IsConflict())
	})
}

func TestConcurrentDecrementsSerialise(t *testing.T) {
	if testing.Short() {
		t.Skip("integration test skipped in short mode")
	}
	s, err := New(pgtest.Start(t))
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()
	seedProduct(t, ctx, s, "a", "SKU-A", 5)
	seedProduct(t, ctx, s, "b", "SKU-B", 5)

	const workers = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
	)
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func(i int) {
			defer wg.Done()
			// Alternate the requested order; locks are always taken sorted.
			ids := []string{"a", "b"}
			if i%2 == 1 {
				ids = []string{"b", "a"}
			}
			err := s.RunInTx(ctx, func(ctx context.Context) error {
				locked, err := s.Products().LockForUpdate(ctx, ids)
				if err != nil {
					return err
				}
				for _, id := range ids {
					if err := s.Products().SetQuantity(ctx, id, locked[id].Quantity-1, testNow); err != nil {
						return err
					}
				}
				return nil
			})
			var stockErr *repositories.StockError
			switch {
			case err == nil:
				mu.Lock()
				succeeded++
				mu.Unlock()
			case errors.As(err, &stockErr) && stockErr.Code == repositories.StockErrorNegativeQuantity:
			default:
				t.Errorf("worker %d: %v", i, err)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 5, succeeded)
	for _, id := range []string{"a", "b"} {
		p, err := s.Products().FindByID(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, 0, p.Quantity, fmt.Sprintf("product %s", id))
	}
}

func TestCounterNextIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("integration test skipped in short mode")
	}
	s, err := New(pgtest.Start(t))
	require.NoError(t, err)
	ctx := context.Background()

	first, err := s.Counters().Next(ctx, "orders", 1)
	require.NoError(t, err)
	assert.Equal(t, int64(1), first)

	boom := errors.New("boom")
	err = s.RunInTx(ctx, func(ctx context.Context) error {
		if _, err := s.Counters().Next(ctx, "orders", 1); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	next, err := s.Counters().Next(ctx, "orders", 1)
	require.NoError(t, err)
	assert.Equal(t, int64(2), next, "rolled back allocation is reused")

	_, err = s.Counters().Next(ctx, "orders", 0)
	var counterErr *repositories.CounterError
	require.ErrorAs(t, err, &counterErr)
	assert.Equal(t, repositories.CounterErrorInvalidInput, counterErr.Code)
}
