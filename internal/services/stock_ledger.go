package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/stockline/api/internal/domain"
	"github.com/stockline/api/internal/repositories"
)

const maxLedgerCauseLength = 500

// StockLedgerDeps bundles the collaborators required by the stock ledger.
type StockLedgerDeps struct {
	// UnitOfWork, when set, makes Reconcile read quantity and ledger under the product lock.
	UnitOfWork  repositories.UnitOfWork
	Ledger      repositories.StockLedgerRepository
	Products    repositories.ProductRepository
	Clock       func() time.Time
	IDGenerator func() string
}

type stockLedger struct {
	uow      repositories.UnitOfWork
	repo     repositories.StockLedgerRepository
	products repositories.ProductRepository
	clock    func() time.Time
	newID    func() string
}

// NewStockLedger constructs the append-only stock ledger.
func NewStockLedger(deps StockLedgerDeps) (StockLedger, error) {
	if deps.Ledger == nil {
		return nil, errors.New("stock ledger: ledger repository is required")
	}
	if deps.Products == nil {
		return nil, errors.New("stock ledger: product repository is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string { return ulid.Make().String() }
	}
	return &stockLedger{
		uow:      deps.UnitOfWork,
		repo:     deps.Ledger,
		products: deps.Products,
		clock:    func() time.Time { return clock().UTC() },
		newID:    idGen,
	}, nil
}

// Append writes one entry. Callers run it inside the unit of work that changes the quantity.
func (l *stockLedger) Append(ctx context.Context, productID string, direction StockDirection, quantity int, cause string) (string, error) {
	productID = strings.TrimSpace(productID)
	cause = strings.TrimSpace(cause)
	switch {
	case productID == "":
		return "", fmt.Errorf("%w: product id is required", ErrStockLedgerInvalidInput)
	case !direction.Valid():
		return "", fmt.Errorf("%w: unknown direction %q", ErrStockLedgerInvalidInput, direction)
	case cause == "":
		return "", fmt.Errorf("%w: cause is required", ErrStockLedgerInvalidInput)
	case len(cause) > maxLedgerCauseLength:
		return "", fmt.Errorf("%w: cause exceeds %d characters", ErrStockLedgerInvalidInput, maxLedgerCauseLength)
	}
	if direction == domain.StockDirectionAdjustment {
		if quantity == 0 {
			return "", fmt.Errorf("%w: adjustment delta must be non-zero", ErrStockLedgerInvalidInput)
		}
	} else if quantity <= 0 {
		return "", fmt.Errorf("%w: quantity must be positive", ErrStockLedgerInvalidInput)
	}

	entry := domain.StockLedgerEntry{
		ID:        l.newID(),
		ProductID: productID,
		Direction: direction,
		Quantity:  quantity,
		Cause:     cause,
		CreatedAt: l.clock(),
	}
	if err := l.repo.Append(ctx, entry); err != nil {
		return "", mapStockRepositoryError(err)
	}
	return entry.ID, nil
}

func (l *stockLedger) List(ctx context.Context, productID string, pager Pagination) (domain.CursorPage[StockLedgerEntry], error) {
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return domain.CursorPage[StockLedgerEntry]{}, fmt.Errorf("%w: product id is required", ErrStockLedgerInvalidInput)
	}
	if _, err := l.products.FindByID(ctx, productID); err != nil {
		return domain.CursorPage[StockLedgerEntry]{}, mapStockRepositoryError(err)
	}
	page, err := l.repo.ListByProduct(ctx, productID, pager)
	if err != nil {
		return domain.CursorPage[StockLedgerEntry]{}, mapStockRepositoryError(err)
	}
	return page, nil
}

// Reconcile compares the product's initial quantity plus ledger deltas against on-hand stock.
// With a unit of work both reads happen while holding the product row lock, which every
// quantity writer also takes, so an in-flight change is either fully seen or not at all.
func (l *stockLedger) Reconcile(ctx context.Context, productID string) (StockReconciliation, error) {
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return StockReconciliation{}, fmt.Errorf("%w: product id is required", ErrStockLedgerInvalidInput)
	}
	if l.uow == nil {
		return l.reconcile(ctx, productID, l.products.FindByID)
	}

	var rec StockReconciliation
	err := runUnit(ctx, l.uow, func(ctx context.Context) error {
		var err error
		rec, err = l.reconcile(ctx, productID, l.lockProduct)
		return err
	})
	if err != nil {
		return StockReconciliation{}, err
	}
	return rec, nil
}

func (l *stockLedger) lockProduct(ctx context.Context, productID string) (domain.Product, error) {
	locked, err := l.products.LockForUpdate(ctx, []string{productID})
	if err != nil {
		return domain.Product{}, err
	}
	product, ok := locked[productID]
	if !ok {
		return domain.Product{}, &ProductNotFoundError{ProductID: productID}
	}
	return product, nil
}

func (l *stockLedger) reconcile(ctx context.Context, productID string, read func(context.Context, string) (domain.Product, error)) (StockReconciliation, error) {
	product, err := read(ctx, productID)
	if err != nil {
		return StockReconciliation{}, mapStockRepositoryError(err)
	}
	sum, count, err := l.repo.SumDeltas(ctx, productID)
	if err != nil {
		return StockReconciliation{}, mapStockRepositoryError(err)
	}
	return StockReconciliation{
		ProductID:       productID,
		InitialQuantity: product.InitialQuantity,
		LedgerDelta:     sum,
		OnHand:          product.Quantity,
		Entries:         count,
	}, nil
}
