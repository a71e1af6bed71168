package services

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	domain "github.com/stockline/api/internal/domain"
	"github.com/stockline/api/internal/repositories"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	Pagination          = domain.Pagination
	Product             = domain.Product
	ProductStatus       = domain.ProductStatus
	StockDirection      = domain.StockDirection
	StockLedgerEntry    = domain.StockLedgerEntry
	StockReconciliation = domain.StockReconciliation
	Order               = domain.Order
	OrderLine           = domain.OrderLine
	OrderStatus         = domain.OrderStatus
	OrderEvent          = domain.OrderEvent
	StockEvent          = domain.StockEvent
	SystemHealthReport  = domain.SystemHealthReport
	ProductListFilter   = repositories.ProductListFilter
	OrderListFilter     = repositories.OrderListFilter
)

// StockAdjustment is one signed on-hand change requested of the stock accessor.
type StockAdjustment struct {
	ProductID string
	Delta     int
	Cause     string
}

// StockChange describes an applied on-hand change.
type StockChange struct {
	ProductID     string
	SKU           string
	Direction     StockDirection
	Previous      int
	Current       int
	Delta         int
	LedgerEntryID string
}

// OrderLineInput is a requested product quantity on a new order.
type OrderLineInput struct {
	ProductID string
	Quantity  int
}

// BuildOrderCommand carries the inputs needed to assemble a new order.
type BuildOrderCommand struct {
	CustomerRef   string
	Lines         []OrderLineInput
	InitialStatus OrderStatus
	CreatorRef    string
	Notes         string
	OrderedAt     *time.Time
}

// CreateOrderCommand creates an order and applies any stock effect of its initial status.
type CreateOrderCommand struct {
	CustomerRef   string
	Lines         []OrderLineInput
	InitialStatus OrderStatus
	ActorRef      string
	Notes         string
	OrderedAt     *time.Time
}

// TransitionOrderCommand moves an order to a new status.
type TransitionOrderCommand struct {
	OrderID      string
	TargetStatus OrderStatus
	ActorRef     string
}

// UpdateOrderDetailsCommand edits administrative fields of an order.
type UpdateOrderDetailsCommand struct {
	OrderID   string
	Notes     *string
	OrderedAt *time.Time
	ActorRef  string
}

// CreateProductCommand registers a new product with optional opening stock.
type CreateProductCommand struct {
	SKU             string
	Name            string
	UnitPrice       decimal.Decimal
	InitialQuantity int
	MinStock        int
}

// UpdateProductCommand patches non-stock product fields. Nil fields are left unchanged.
type UpdateProductCommand struct {
	ProductID string
	Name      *string
	UnitPrice *decimal.Decimal
	MinStock  *int
	Status    *ProductStatus
}

// UpdateStockCommand applies a manual stock movement.
type UpdateStockCommand struct {
	ProductID string
	Type      StockDirection
	Quantity  int
	Reason    string
}

// ProductDeletion reports whether a product was removed or only deactivated.
type ProductDeletion struct {
	ProductID   string
	Deactivated bool
}

// CounterGenerationOptions controls how counter values are incremented and formatted.
type CounterGenerationOptions struct {
	Step      int64
	Prefix    string
	PadLength int
}

// CounterValue is an allocated sequence value with its formatted representation.
type CounterValue struct {
	Value     int64
	Formatted string
}

// OrderEventPublisher delivers committed order events downstream.
type OrderEventPublisher interface {
	PublishOrderEvent(ctx context.Context, event OrderEvent) error
}

// StockEventPublisher delivers committed stock events downstream.
type StockEventPublisher interface {
	PublishStockEvent(ctx context.Context, event StockEvent) error
}

// StockLedger records and reads the immutable history of stock changes.
type StockLedger interface {
	Append(ctx context.Context, productID string, direction StockDirection, quantity int, cause string) (string, error)
	List(ctx context.Context, productID string, pager Pagination) (domain.CursorPage[StockLedgerEntry], error)
	Reconcile(ctx context.Context, productID string) (StockReconciliation, error)
}

// StockAccessor is the only writer of product on-hand quantity.
type StockAccessor interface {
	GetAvailable(ctx context.Context, productID string) (int, error)
	Adjust(ctx context.Context, productID string, delta int, cause string) (int, error)
	AdjustMany(ctx context.Context, adjustments []StockAdjustment) (map[string]int, error)
	SetOnHand(ctx context.Context, productID string, quantity int, cause string) (StockChange, error)
}

// OrderBuilder validates lines, snapshots prices and allocates the order number.
type OrderBuilder interface {
	Build(ctx context.Context, cmd BuildOrderCommand) (Order, error)
}

// OrderLifecycleController owns order creation and status transitions with their stock effects.
type OrderLifecycleController interface {
	CreateOrder(ctx context.Context, cmd CreateOrderCommand) (Order, error)
	TransitionOrderStatus(ctx context.Context, cmd TransitionOrderCommand) (Order, error)
	GetOrder(ctx context.Context, orderID string) (Order, error)
	ListOrders(ctx context.Context, filter OrderListFilter) (domain.CursorPage[Order], error)
	UpdateOrderDetails(ctx context.Context, cmd UpdateOrderDetailsCommand) (Order, error)
}

// ProductService manages the product catalogue and manual stock movements.
type ProductService interface {
	CreateProduct(ctx context.Context, cmd CreateProductCommand) (Product, error)
	UpdateProduct(ctx context.Context, cmd UpdateProductCommand) (Product, error)
	UpdateStock(ctx context.Context, cmd UpdateStockCommand) (StockChange, error)
	DeleteProduct(ctx context.Context, productID string) (ProductDeletion, error)
	GetProduct(ctx context.Context, productID string) (Product, error)
	ListProducts(ctx context.Context, filter ProductListFilter) (domain.CursorPage[Product], error)
}

// CounterService allocates formatted sequence numbers.
type CounterService interface {
	Next(ctx context.Context, name string, opts CounterGenerationOptions) (CounterValue, error)
	NextOrderNumber(ctx context.Context) (string, error)
}

// SystemService exposes operational reports.
type SystemService interface {
	HealthReport(ctx context.Context) (SystemHealthReport, error)
	ReconcileStock(ctx context.Context, pager Pagination) (domain.CursorPage[StockReconciliation], error)
}
