package repositories

import (
	"context"
	"time"

	domain "github.com/stockline/api/internal/domain"
)

// Registry exposes typed repository accessors and lifecycle hooks for dependency injection.
type Registry interface {
	Close(ctx context.Context) error

	Products() ProductRepository
	StockLedger() StockLedgerRepository
	Orders() OrderRepository
	Counters() CounterRepository
	UnitOfWork
}

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// UnitOfWork groups repository operations in a transactional boundary.
// Calls made with a context that already carries a unit of work join it instead of nesting.
type UnitOfWork interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// ProductRepository persists products. Quantity is written only through SetQuantity,
// which requires the row to have been locked by LockForUpdate in the same unit of work.
type ProductRepository interface {
	Insert(ctx context.Context, product domain.Product) error
	// Update persists non-stock fields; the stored quantity is left untouched.
	Update(ctx context.Context, product domain.Product) error
	Delete(ctx context.Context, productID string) error
	FindByID(ctx context.Context, productID string) (domain.Product, error)
	FindBySKU(ctx context.Context, sku string) (domain.Product, error)
	List(ctx context.Context, filter ProductListFilter) (domain.CursorPage[domain.Product], error)
	// LockForUpdate locks the rows in ascending ID order and returns them keyed by ID.
	LockForUpdate(ctx context.Context, productIDs []string) (map[string]domain.Product, error)
	SetQuantity(ctx context.Context, productID string, quantity int, updatedAt time.Time) error
}

// StockLedgerRepository appends and reads immutable stock ledger entries.
type StockLedgerRepository interface {
	Append(ctx context.Context, entry domain.StockLedgerEntry) error
	// ListByProduct returns entries in insertion order, oldest first.
	ListByProduct(ctx context.Context, productID string, pager domain.Pagination) (domain.CursorPage[domain.StockLedgerEntry], error)
	// SumDeltas returns the sum of signed deltas and the number of entries for the product.
	SumDeltas(ctx context.Context, productID string) (int, int, error)
}

// OrderRepository owns order header and line persistence.
type OrderRepository interface {
	Insert(ctx context.Context, order domain.Order) error
	Update(ctx context.Context, order domain.Order) error
	FindByID(ctx context.Context, orderID string) (domain.Order, error)
	// LockForUpdate locks the order row within the current unit of work.
	LockForUpdate(ctx context.Context, orderID string) (domain.Order, error)
	List(ctx context.Context, filter OrderListFilter) (domain.CursorPage[domain.Order], error)
	ReferencesProduct(ctx context.Context, productID string) (bool, error)
}

// CounterRepository provides transaction-safe sequence numbers.
// Next joins the caller's unit of work when present, so a rolled back creation does not consume a value.
type CounterRepository interface {
	Next(ctx context.Context, counterID string, step int64) (int64, error)
}

// HealthRepository exposes status of downstream dependencies for health checks.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.SystemHealthReport, error)
}

// ProductListFilter narrows product listings.
type ProductListFilter struct {
	Status     []domain.ProductStatus
	Search     string
	LowStock   bool
	Pagination domain.Pagination
}

// OrderListFilter narrows order listings.
type OrderListFilter struct {
	Status      []domain.OrderStatus
	NumberQuery string
	CustomerRef string
	Pagination  domain.Pagination
}
