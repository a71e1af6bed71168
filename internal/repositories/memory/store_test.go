package memory

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domain "github.com/stockline/api/internal/domain"
	"github.com/stockline/api/internal/repositories"
)

var testNow = time.Date(2025, time.May, 2, 10, 0, 0, 0, time.UTC)

func seedProduct(t *testing.T, s *Store, id, sku string, qty int) domain.Product {
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
	ctx := context.Background()
	require.NoError(t, s.RunInTx(ctx, func(ctx context.Context) error {
		if err := s.Products().Insert(ctx, p); err != nil {
			return err
		}
		if _, err := s.Products().LockForUpdate(ctx, []string{id}); err != nil {
			return err
		}
		return s.Products().SetQuantity(ctx, id, qty, testNow)
	}))
	p.Quantity = qty
	return p
}

func TestRunInTxRollbackDiscardsWrites(t *testing.T) {
	s := New()
	seedProduct(t, s, "p1", "SKU-1", 10)
	ctx := context.Background()
	boom := errors.New("boom")

	err := s.RunInTx(ctx, func(ctx context.Context) error {
		if _, err := s.Products().LockForUpdate(ctx, []string{"p1"}); err != nil {
			return err
		}
		if err := s.Products().SetQuantity(ctx, "p1", 3, testNow); err != nil {
			return err
		}
		if err := s.StockLedger().Append(ctx, domain.StockLedgerEntry{ID: "l1", ProductID: "p1", Direction: domain.StockDirectionOut, Quantity: 7}); err != nil {
			return err
		}
		inside, err := s.Products().FindByID(ctx, "p1")
		require.NoError(t, err)
		assert.Equal(t, 3, inside.Quantity, "reads inside the unit of work see staged writes")
		return boom
	})
	require.ErrorIs(t, err, boom)

	p, err := s.Products().FindByID(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, 10, p.Quantity)
	sum, count, err := s.StockLedger().SumDeltas(ctx, "p1")
	require.NoError(t, err)
	assert.Zero(t, sum)
	assert.Zero(t, count)
}

func TestSetQuantityRequiresLock(t *testing.T) {
	s := New()
	seedProduct(t, s, "p1", "SKU-1", 1)

	err := s.Products().SetQuantity(context.Background(), "p1", 5, testNow)
	var stockErr *repositories.StockError
	require.ErrorAs(t, err, &stockErr)
	assert.Equal(t, repositories.StockErrorNotLocked, stockErr.Code)
}

func TestSetQuantityRejectsNegative(t *testing.T) {
	s := New()
	seedProduct(t, s, "p1", "SKU-1", 1)

	err := s.RunInTx(context.Background(), func(ctx context.Context) error {
		if _, err := s.Products().LockForUpdate(ctx, []string{"p1"}); err != nil {
			return err
		}
		return s.Products().SetQuantity(ctx, "p1", -1, testNow)
	})
	var stockErr *repositories.StockError
	require.ErrorAs(t, err, &stockErr)
	assert.Equal(t, repositories.StockErrorNegativeQuantity, stockErr.Code)
	assert.True(t, stockErr.IsConflict())
}

func TestLockForUpdateMissingProduct(t *testing.T) {
	s := New()
	seedProduct(t, s, "p1", "SKU-1", 1)

	err := s.RunInTx(context.Background(), func(ctx context.Context) error {
		_, err := s.Products().LockForUpdate(ctx, []string{"p1", "ghost"})
		return err
	})
	var repoErr repositories.RepositoryError
	require.ErrorAs(t, err, &repoErr)
	assert.True(t, repoErr.IsNotFound())
}

func TestLockWaitHonoursContext(t *testing.T) {
	s := New()
	seedProduct(t, s, "p1", "SKU-1", 1)

	held := make(chan struct{})
	done := make(chan struct{})
	go func() {
		_ = s.RunInTx(context.Background(), func(ctx context.Context) error {
			if _, err := s.Products().LockForUpdate(ctx, []string{"p1"}); err != nil {
				return err
			}
			close(held)
			<-done
			return nil
		})
	}()
	<-held
	defer close(done)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := s.RunInTx(ctx, func(ctx context.Context) error {
		_, err := s.Products().LockForUpdate(ctx, []string{"p1"})
		return err
	})
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestNestedRunInTxJoins(t *testing.T) {
	s := New()
	ctx := context.Background()
	boom := errors.New("outer failure")

	err := s.RunInTx(ctx, func(ctx context.Context) error {
		if err := s.RunInTx(ctx, func(ctx context.Context) error {
			_, err := s.Counters().Next(ctx, "orders", 1)
			return err
		}); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	next, err := s.Counters().Next(ctx, "orders", 1)
	require.NoError(t, err)
	assert.Equal(t, int64(1), next, "rolled back allocation must not leave a gap")
}

func TestDuplicateSKURejected(t *testing.T) {
	s := New()
	seedProduct(t, s, "p1", "SKU-1", 0)

	err := s.Products().Insert(context.Background(), domain.Product{ID: "p2", SKU: "SKU-1", Status: domain.ProductStatusActive})
	var stockErr *repositories.StockError
	require.ErrorAs(t, err, &stockErr)
	assert.Equal(t, repositories.StockErrorDuplicateSKU, stockErr.Code)
}

func TestUpdateKeepsQuantity(t *testing.T) {
	s := New()
	p := seedProduct(t, s, "p1", "SKU-1", 4)
	ctx := context.Background()

	p.Name = "Renamed"
	p.Quantity = 999
	require.NoError(t, s.Products().Update(ctx, p))

	got, err := s.Products().FindByID(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, "Renamed", got.Name)
	assert.Equal(t, 4, got.Quantity)
}

func TestProductListPaginatesAndFilters(t *testing.T) {
	s := New()
	for i := 0; i < 5; i++ {
		seedProduct(t, s, fmt.Sprintf("p%d", i), fmt.Sprintf("SKU-%d", i), i)
	}
	ctx := context.Background()

	var got []string
	token := ""
	for {
		page, err := s.Products().List(ctx, repositories.ProductListFilter{Pagination: domain.Pagination{PageSize: 2, PageToken: token}})
		require.NoError(t, err)
		for _, p := range page.Items {
			got = append(got, p.SKU)
		}
		if page.NextPageToken == "" {
			break
		}
		token = page.NextPageToken
	}
	assert.Equal(t, []string{"SKU-0", "SKU-1", "SKU-2", "SKU-3", "SKU-4"}, got)

	low, err := s.Products().List(ctx, repositories.ProductListFilter{LowStock: true})
	require.NoError(t, err)
	require.Len(t, low.Items, 1)
	assert.Equal(t, "SKU-0", low.Items[0].SKU)
}

func TestLedgerListsInInsertionOrder(t *testing.T) {
	s := New()
	seedProduct(t, s, "p1", "SKU-1", 0)
	ctx := context.Background()

	for i, dir := range []domain.StockDirection{domain.StockDirectionIn, domain.StockDirectionOut, domain.StockDirectionAdjustment} {
		require.NoError(t, s.StockLedger().Append(ctx, domain.StockLedgerEntry{
			ID: fmt.Sprintf("l%d", i), ProductID: "p1", Direction: dir, Quantity: 2, CreatedAt: testNow,
		}))
	}

	page, err := s.StockLedger().ListByProduct(ctx, "p1", domain.Pagination{PageSize: 2})
	require.NoError(t, err)
	require.Len(t, page.Items, 2)
	assert.Equal(t, "l0", page.Items[0].ID)
	require.NotEmpty(t, page.NextPageToken)

	rest, err := s.StockLedger().ListByProduct(ctx, "p1", domain.Pagination{PageSize: 2, PageToken: page.NextPageToken})
	require.NoError(t, err)
	require.Len(t, rest.Items, 1)
	assert.Equal(t, "l2", rest.Items[0].ID)

	sum, count, err := s.StockLedger().SumDeltas(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, 2, sum)
	assert.Equal(t, 3, count)
}

func TestOrderReferencesProduct(t *testing.T) {
	s := New()
	ctx := context.Background()
	require.NoError(t, s.Orders().Insert(ctx, domain.Order{
		ID:        "o1",
		Status:    domain.OrderStatusPending,
		Lines:     []domain.OrderLine{{ProductID: "p1", Quantity: 1}},
		CreatedAt: testNow,
	}))

	ok, err := s.Orders().ReferencesProduct(ctx, "p1")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = s.Orders().ReferencesProduct(ctx, "p2")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = s.Orders().FindByID(ctx, "missing")
	var repoErr repositories.RepositoryError
	require.ErrorAs(t, err, &repoErr)
	assert.True(t, repoErr.IsNotFound())
}

func TestDeleteReferencedProductRejected(t *testing.T) {
	s := New()
	ctx := context.Background()
	seedProduct(t, s, "p1", "SKU-1", 1)
	seedProduct(t, s, "p2", "SKU-2", 1)
	require.NoError(t, s.Orders().Insert(ctx, domain.Order{
		ID:        "o1",
		Status:    domain.OrderStatusPending,
		Lines:     []domain.OrderLine{{ProductID: "p1", Quantity: 1}},
		CreatedAt: testNow,
	}))

	err := s.Products().Delete(ctx, "p1")
	var stockErr *repositories.StockError
	require.ErrorAs(t, err, &stockErr)
	assert.Equal(t, repositories.StockErrorProductReferenced, stockErr.Code)
	assert.True(t, stockErr.IsConflict())
	_, err = s.Products().FindByID(ctx, "p1")
	require.NoError(t, err)

	require.NoError(t, s.Products().Delete(ctx, "p2"))
}

func TestClosedStoreRejectsWork(t *testing.T) {
	s := New()
	require.NoError(t, s.Close(context.Background()))
	assert.Error(t, s.Ping(context.Background()))
	assert.Error(t, s.RunInTx(context.Background(), func(context.Context) error { return nil }))
}
