package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/stockline/api/internal/domain"
	"github.com/stockline/api/internal/platform/textutil"
	"github.com/stockline/api/internal/repositories"
)

const (
	initialStockCause = "Initial stock"
	maxSKULength      = 64
	maxProductNameLen = 200
	maxStockReasonLen = 500
)

// ProductServiceDeps bundles the collaborators required by the product catalogue.
type ProductServiceDeps struct {
	UnitOfWork  repositories.UnitOfWork
	Products    repositories.ProductRepository
	Orders      repositories.OrderRepository
	Stock       StockAccessor
	Clock       func() time.Time
	IDGenerator func() string
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type productService struct {
	uow      repositories.UnitOfWork
	products repositories.ProductRepository
	orders   repositories.OrderRepository
	stock    StockAccessor
	clock    func() time.Time
	newID    func() string
	logger   func(context.Context, string, map[string]any)
}

// NewProductService constructs the product catalogue service.
func NewProductService(deps ProductServiceDeps) (ProductService, error) {
	if deps.UnitOfWork == nil {
		return nil, errors.New("product service: unit of work is required")
	}
	if deps.Products == nil {
		return nil, errors.New("product service: product repository is required")
	}
	if deps.Orders == nil {
		return nil, errors.New("product service: order repository is required")
	}
	if deps.Stock == nil {
		return nil, errors.New("product service: stock accessor is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string { return ulid.Make().String() }
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &productService{
		uow:      deps.UnitOfWork,
		products: deps.Products,
		orders:   deps.Orders,
		stock:    deps.Stock,
		clock:    func() time.Time { return clock().UTC() },
		newID:    idGen,
		logger:   logger,
	}, nil
}

// CreateProduct registers a product. Opening stock is booked as an "in" ledger entry so
// the ledger alone explains the on-hand quantity.
func (s *productService) CreateProduct(ctx context.Context, cmd CreateProductCommand) (Product, error) {
	sku := textutil.NormalizeSKU(cmd.SKU)
	name := strings.TrimSpace(cmd.Name)
	switch {
	case sku == "":
		return Product{}, fmt.Errorf("%w: sku is required", ErrProductInvalidInput)
	case len(sku) > maxSKULength:
		return Product{}, fmt.Errorf("%w: sku exceeds %d characters", ErrProductInvalidInput, maxSKULength)
	case name == "":
		return Product{}, fmt.Errorf("%w: name is required", ErrProductInvalidInput)
	case len(name) > maxProductNameLen:
		return Product{}, fmt.Errorf("%w: name exceeds %d characters", ErrProductInvalidInput, maxProductNameLen)
	case cmd.UnitPrice.IsNegative():
		return Product{}, fmt.Errorf("%w: unit price must be non-negative", ErrProductInvalidInput)
	case cmd.InitialQuantity < 0:
		return Product{}, fmt.Errorf("%w: initial quantity must be non-negative", ErrProductInvalidInput)
	case cmd.InitialQuantity > MaxStockQuantity:
		return Product{}, fmt.Errorf("%w: initial quantity exceeds %d", ErrProductInvalidInput, MaxStockQuantity)
	case cmd.MinStock < 0:
		return Product{}, fmt.Errorf("%w: min stock must be non-negative", ErrProductInvalidInput)
	}

	var created Product
	err := runUnit(ctx, s.uow, func(ctx context.Context) error {
		now := s.clock()
		product := Product{
			ID:        s.newID(),
			SKU:       sku,
			Name:      name,
			UnitPrice: cmd.UnitPrice,
			MinStock:  cmd.MinStock,
			Status:    domain.ProductStatusActive,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := s.products.Insert(ctx, product); err != nil {
			return mapStockRepositoryError(err)
		}
		if cmd.InitialQuantity > 0 {
			qty, err := s.stock.Adjust(ctx, product.ID, cmd.InitialQuantity, initialStockCause)
			if err != nil {
				return err
			}
			product.Quantity = qty
		}
		created = product
		return nil
	})
	if err != nil {
		return Product{}, wrapProductError(err)
	}
	s.logger(ctx, "product.created", map[string]any{
		"productId": created.ID,
		"sku":       created.SKU,
		"quantity":  created.Quantity,
	})
	return created, nil
}

// UpdateProduct patches non-stock fields. Historical order lines keep their snapshotted prices.
func (s *productService) UpdateProduct(ctx context.Context, cmd UpdateProductCommand) (Product, error) {
	productID := strings.TrimSpace(cmd.ProductID)
	if productID == "" {
		return Product{}, fmt.Errorf("%w: product id is required", ErrProductInvalidInput)
	}
	if cmd.Name == nil && cmd.UnitPrice == nil && cmd.MinStock == nil && cmd.Status == nil {
		return Product{}, fmt.Errorf("%w: nothing to update", ErrProductInvalidInput)
	}
	if cmd.Name != nil {
		name := strings.TrimSpace(*cmd.Name)
		if name == "" || len(name) > maxProductNameLen {
			return Product{}, fmt.Errorf("%w: name must be 1-%d characters", ErrProductInvalidInput, maxProductNameLen)
		}
	}
	if cmd.UnitPrice != nil && cmd.UnitPrice.IsNegative() {
		return Product{}, fmt.Errorf("%w: unit price must be non-negative", ErrProductInvalidInput)
	}
	if cmd.MinStock != nil && *cmd.MinStock < 0 {
		return Product{}, fmt.Errorf("%w: min stock must be non-negative", ErrProductInvalidInput)
	}
	if cmd.Status != nil && *cmd.Status != domain.ProductStatusActive && *cmd.Status != domain.ProductStatusInactive {
		return Product{}, fmt.Errorf("%w: unknown status %q", ErrProductInvalidInput, *cmd.Status)
	}

	var updated Product
	err := runUnit(ctx, s.uow, func(ctx context.Context) error {
		product, err := s.products.FindByID(ctx, productID)
		if err != nil {
			return mapStockRepositoryError(err)
		}
		if cmd.Name != nil {
			product.Name = strings.TrimSpace(*cmd.Name)
		}
		if cmd.UnitPrice != nil {
			product.UnitPrice = *cmd.UnitPrice
		}
		if cmd.MinStock != nil {
			product.MinStock = *cmd.MinStock
		}
		if cmd.Status != nil {
			product.Status = *cmd.Status
		}
		product.UpdatedAt = s.clock()
		if err := s.products.Update(ctx, product); err != nil {
			return mapStockRepositoryError(err)
		}
		updated = product
		return nil
	})
	if err != nil {
		return Product{}, wrapProductError(err)
	}
	return updated, nil
}

// UpdateStock applies a manual movement: in/out adjust by the quantity, adjustment sets it.
func (s *productService) UpdateStock(ctx context.Context, cmd UpdateStockCommand) (StockChange, error) {
	productID := strings.TrimSpace(cmd.ProductID)
	reason := strings.TrimSpace(cmd.Reason)
	if reason == "" {
		reason = "Stock " + string(cmd.Type)
	}
	switch {
	case productID == "":
		return StockChange{}, fmt.Errorf("%w: product id is required", ErrProductInvalidInput)
	case !cmd.Type.Valid():
		return StockChange{}, fmt.Errorf("%w: unknown stock type %q", ErrProductInvalidInput, cmd.Type)
	case len(reason) > maxStockReasonLen:
		return StockChange{}, fmt.Errorf("%w: reason exceeds %d characters", ErrProductInvalidInput, maxStockReasonLen)
	case cmd.Type == domain.StockDirectionAdjustment && cmd.Quantity < 0:
		return StockChange{}, fmt.Errorf("%w: quantity must be non-negative", ErrProductInvalidInput)
	case cmd.Type != domain.StockDirectionAdjustment && cmd.Quantity <= 0:
		return StockChange{}, fmt.Errorf("%w: quantity must be positive", ErrProductInvalidInput)
	case cmd.Quantity > MaxStockQuantity:
		return StockChange{}, fmt.Errorf("%w: quantity exceeds %d", ErrProductInvalidInput, MaxStockQuantity)
	}

	if cmd.Type == domain.StockDirectionAdjustment {
		change, err := s.stock.SetOnHand(ctx, productID, cmd.Quantity, reason)
		if err != nil {
			return StockChange{}, wrapProductError(err)
		}
		return change, nil
	}

	delta := cmd.Quantity
	if cmd.Type == domain.StockDirectionOut {
		delta = -cmd.Quantity
	}
	current, err := s.stock.Adjust(ctx, productID, delta, reason)
	if err != nil {
		return StockChange{}, wrapProductError(err)
	}
	return StockChange{
		ProductID: productID,
		Direction: cmd.Type,
		Previous:  current - delta,
		Current:   current,
		Delta:     delta,
	}, nil
}

// DeleteProduct removes an unreferenced product. A product referenced by any order line is
// deactivated instead so order history stays intact.
func (s *productService) DeleteProduct(ctx context.Context, productID string) (ProductDeletion, error) {
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return ProductDeletion{}, fmt.Errorf("%w: product id is required", ErrProductInvalidInput)
	}

	result := ProductDeletion{ProductID: productID}
	err := runUnit(ctx, s.uow, func(ctx context.Context) error {
		result.Deactivated = false
		// Order creation holds the same row lock while it writes lines, so the reference
		// check below sees every committed order for this product.
		locked, err := s.products.LockForUpdate(ctx, []string{productID})
		if err != nil {
			return mapStockRepositoryError(err)
		}
		product, ok := locked[productID]
		if !ok {
			return &ProductNotFoundError{ProductID: productID}
		}
		referenced, err := s.orders.ReferencesProduct(ctx, productID)
		if err != nil {
			return mapStockRepositoryError(err)
		}
		if !referenced {
			return mapStockRepositoryError(s.products.Delete(ctx, productID))
		}
		product.Status = domain.ProductStatusInactive
		product.UpdatedAt = s.clock()
		if err := s.products.Update(ctx, product); err != nil {
			return mapStockRepositoryError(err)
		}
		result.Deactivated = true
		return nil
	})
	if err != nil {
		return ProductDeletion{}, wrapProductError(err)
	}
	s.logger(ctx, "product.deleted", map[string]any{
		"productId":   productID,
		"deactivated": result.Deactivated,
	})
	return result, nil
}

func (s *productService) GetProduct(ctx context.Context, productID string) (Product, error) {
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return Product{}, fmt.Errorf("%w: product id is required", ErrProductInvalidInput)
	}
	product, err := s.products.FindByID(ctx, productID)
	if err != nil {
		return Product{}, mapStockRepositoryError(err)
	}
	return product, nil
}

func (s *productService) ListProducts(ctx context.Context, filter ProductListFilter) (domain.CursorPage[Product], error) {
	for _, status := range filter.Status {
		if status != domain.ProductStatusActive && status != domain.ProductStatusInactive {
			return domain.CursorPage[Product]{}, fmt.Errorf("%w: unknown status %q", ErrProductInvalidInput, status)
		}
	}
	filter.Search = strings.TrimSpace(filter.Search)
	page, err := s.products.List(ctx, filter)
	if err != nil {
		return domain.CursorPage[Product]{}, mapStockRepositoryError(err)
	}
	return page, nil
}

func wrapProductError(err error) error {
	if err == nil || isServiceError(err) {
		return err
	}
	return mapStockRepositoryError(err)
}
