package services

import (
	"errors"
	"fmt"

	"github.com/stockline/api/internal/repositories"
)

var (
	// ErrOrderInvalidInput signals the caller provided invalid order arguments.
	ErrOrderInvalidInput = errors.New("order: invalid input")
	// ErrOrderNotFound indicates the order does not exist.
	ErrOrderNotFound = errors.New("order: not found")
	// ErrOrderInvalidState indicates the requested status transition is not allowed.
	ErrOrderInvalidState = errors.New("order: invalid state transition")
	// ErrOrderConflict indicates a concurrent or duplicate write on the order.
	ErrOrderConflict = errors.New("order: conflict")

	// ErrProductInvalidInput signals the caller provided invalid product or stock arguments.
	ErrProductInvalidInput = errors.New("product: invalid input")
	// ErrProductNotFound indicates the product does not exist.
	ErrProductNotFound = errors.New("product: not found")
	// ErrProductConflict indicates a uniqueness violation such as a duplicate SKU.
	ErrProductConflict = errors.New("product: conflict")

	// ErrInsufficientStock indicates a decrement would leave on-hand stock negative.
	ErrInsufficientStock = errors.New("stock: insufficient")
	// ErrStockLedgerInvalidInput signals an invalid ledger entry.
	ErrStockLedgerInvalidInput = errors.New("stock ledger: invalid input")
)

// InsufficientStockError reports the product that could not cover a requested quantity.
type InsufficientStockError struct {
	ProductID string
	SKU       string
	Requested int
	Available int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("%s: product %s (%s) requested %d, available %d", ErrInsufficientStock, e.ProductID, e.SKU, e.Requested, e.Available)
}

func (e *InsufficientStockError) Is(target error) bool { return target == ErrInsufficientStock }

func (e *InsufficientStockError) Unwrap() error { return ErrInsufficientStock }

// ProductNotFoundError names the missing product referenced by an order line or stock change.
type ProductNotFoundError struct {
	ProductID string
}

func (e *ProductNotFoundError) Error() string {
	return fmt.Sprintf("%s: %s", ErrProductNotFound, e.ProductID)
}

func (e *ProductNotFoundError) Is(target error) bool { return target == ErrProductNotFound }

func (e *ProductNotFoundError) Unwrap() error { return ErrProductNotFound }

// InvalidTransitionError reports a status change the lifecycle does not permit.
type InvalidTransitionError struct {
	From OrderStatus
	To   OrderStatus
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("%s: %s -> %s", ErrOrderInvalidState, e.From, e.To)
}

func (e *InvalidTransitionError) Is(target error) bool { return target == ErrOrderInvalidState }

func (e *InvalidTransitionError) Unwrap() error { return ErrOrderInvalidState }

// mapStockRepositoryError translates repository failures raised while touching product rows.
func mapStockRepositoryError(err error) error {
	if err == nil {
		return nil
	}

	var stockErr *repositories.StockError
	if errors.As(err, &stockErr) {
		switch stockErr.Code {
		case repositories.StockErrorProductNotFound:
			return &ProductNotFoundError{ProductID: stockErr.ProductID}
		case repositories.StockErrorDuplicateSKU, repositories.StockErrorProductReferenced:
			return fmt.Errorf("%w: %s", ErrProductConflict, stockErr.Message)
		case repositories.StockErrorNegativeQuantity:
			return &InsufficientStockError{ProductID: stockErr.ProductID}
		}
		return err
	}

	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %s", ErrProductNotFound, repoErr.Error())
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %s", ErrProductConflict, repoErr.Error())
		}
	}
	return err
}

// mapOrderRepositoryError translates repository failures raised on order rows.
// Product-level failures keep their product semantics.
func mapOrderRepositoryError(err error) error {
	if err == nil {
		return nil
	}

	var stockErr *repositories.StockError
	if errors.As(err, &stockErr) {
		return mapStockRepositoryError(err)
	}

	var counterErr *repositories.CounterError
	if errors.As(err, &counterErr) && counterErr.IsInvalidInput() {
		return fmt.Errorf("%w: %s", ErrOrderInvalidInput, counterErr.Message)
	}

	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %s", ErrOrderNotFound, repoErr.Error())
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %s", ErrOrderConflict, repoErr.Error())
		}
	}
	return err
}

// isServiceError reports whether err already carries service semantics and must pass through untouched.
func isServiceError(err error) bool {
	for _, target := range []error{
		ErrOrderInvalidInput, ErrOrderNotFound, ErrOrderInvalidState, ErrOrderConflict,
		ErrProductInvalidInput, ErrProductNotFound, ErrProductConflict,
		ErrInsufficientStock, ErrStockLedgerInvalidInput,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
