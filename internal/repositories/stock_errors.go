package repositories

import "fmt"

// StockErrorCode enumerates repository error causes for stock and ledger operations.
type StockErrorCode string

const (
	// StockErrorUnknown represents an unspecified failure.
	StockErrorUnknown StockErrorCode = "stock_unknown"
	// StockErrorProductNotFound indicates one of the referenced products does not exist.
	StockErrorProductNotFound StockErrorCode = "stock_product_not_found"
	// StockErrorNegativeQuantity indicates a write would leave on-hand stock below zero.
	StockErrorNegativeQuantity StockErrorCode = "stock_negative_quantity"
	// StockErrorNotLocked indicates a quantity write without a row lock in the current unit of work.
	StockErrorNotLocked StockErrorCode = "stock_not_locked"
	// StockErrorDuplicateSKU indicates the SKU is already taken by another product.
	StockErrorDuplicateSKU StockErrorCode = "stock_duplicate_sku"
	// StockErrorProductReferenced indicates a delete of a product that order lines still point at.
	StockErrorProductReferenced StockErrorCode = "stock_product_referenced"
)

// StockError wraps stock-specific failures with machine readable codes.
type StockError struct {
	Op        string
	Code      StockErrorCode
	ProductID string
	Message   string
	Err       error
}

// Error implements the error interface.
func (e *StockError) Error() string {
	if e == nil {
		return ""
	}
	if e.Op != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}
	return e.Message
}

// Unwrap exposes the underlying error, if any.
func (e *StockError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// IsNotFound reports whether the error refers to a missing product.
func (e *StockError) IsNotFound() bool {
	return e != nil && e.Code == StockErrorProductNotFound
}

// IsConflict reports whether the error refers to a uniqueness or invariant violation.
func (e *StockError) IsConflict() bool {
	if e == nil {
		return false
	}
	switch e.Code {
	case StockErrorDuplicateSKU, StockErrorNegativeQuantity, StockErrorProductReferenced:
		return true
	}
	return false
}

// IsUnavailable always reports false; stock errors are never transient.
func (e *StockError) IsUnavailable() bool { return false }

// NewStockError constructs a typed stock error.
func NewStockError(code StockErrorCode, productID string, message string, err error) *StockError {
	if message == "" {
		message = string(code)
	}
	return &StockError{
		Code:      code,
		ProductID: productID,
		Message:   message,
		Err:       err,
	}
}
