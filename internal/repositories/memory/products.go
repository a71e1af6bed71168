package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	domain "github.com/stockline/api/internal/domain"
	"github.com/stockline/api/internal/platform/pagination"
	"github.com/stockline/api/internal/repositories"
)

type productRepository struct {
	store *Store
}

func (r productRepository) Insert(ctx context.Context, product domain.Product) error {
	return r.store.within(ctx, func(tx *txn) error {
		if strings.TrimSpace(product.ID) == "" {
			return conflict("products.insert", "product id is required")
		}
		if _, exists := tx.product(product.ID); exists {
			return conflict("products.insert", "product %s already exists", product.ID)
		}
		for _, other := range tx.visibleProducts() {
			if other.SKU == product.SKU {
				return repositories.NewStockError(repositories.StockErrorDuplicateSKU, product.ID, fmt.Sprintf("sku %s already exists", product.SKU), nil)
			}
		}
		delete(tx.deletedProducts, product.ID)
		tx.products[product.ID] = product
		return nil
	})
}

func (r productRepository) Update(ctx context.Context, product domain.Product) error {
	return r.store.within(ctx, func(tx *txn) error {
		current, ok := tx.product(product.ID)
		if !ok {
			return notFound("products.update", "product %s not found", product.ID)
		}
		for _, other := range tx.visibleProducts() {
			if other.ID != product.ID && other.SKU == product.SKU {
				return repositories.NewStockError(repositories.StockErrorDuplicateSKU, product.ID, fmt.Sprintf("sku %s already exists", product.SKU), nil)
			}
		}
		product.Quantity = current.Quantity
		product.InitialQuantity = current.InitialQuantity
		product.CreatedAt = current.CreatedAt
		tx.products[product.ID] = product
		return nil
	})
}

func (r productRepository) Delete(ctx context.Context, productID string) error {
	return r.store.within(ctx, func(tx *txn) error {
		if _, ok := tx.product(productID); !ok {
			return notFound("products.delete", "product %s not found", productID)
		}
		if tx.referencesProduct(productID) {
			return repositories.NewStockError(repositories.StockErrorProductReferenced, productID, fmt.Sprintf("product %s is referenced by order lines", productID), nil)
		}
		delete(tx.products, productID)
		tx.deletedProducts[productID] = struct{}{}
		return nil
	})
}

func (r productRepository) FindByID(ctx context.Context, productID string) (domain.Product, error) {
	var out domain.Product
	err := r.store.within(ctx, func(tx *txn) error {
		p, ok := tx.product(productID)
		if !ok {
			return notFound("products.find", "product %s not found", productID)
		}
		out = p
		return nil
	})
	return out, err
}

func (r productRepository) FindBySKU(ctx context.Context, sku string) (domain.Product, error) {
	var out domain.Product
	err := r.store.within(ctx, func(tx *txn) error {
		for _, p := range tx.visibleProducts() {
			if p.SKU == sku {
				out = p
				return nil
			}
		}
		return notFound("products.findBySKU", "sku %s not found", sku)
	})
	return out, err
}

func (r productRepository) List(ctx context.Context, filter repositories.ProductListFilter) (domain.CursorPage[domain.Product], error) {
	var page domain.CursorPage[domain.Product]
	err := r.store.within(ctx, func(tx *txn) error {
		statuses := make(map[domain.ProductStatus]struct{}, len(filter.Status))
		for _, s := range filter.Status {
			statuses[s] = struct{}{}
		}
		search := strings.ToLower(strings.TrimSpace(filter.Search))

		var matched []domain.Product
		for _, p := range tx.visibleProducts() {
			if len(statuses) > 0 {
				if _, ok := statuses[p.Status]; !ok {
					continue
				}
			}
			if search != "" && !strings.Contains(strings.ToLower(p.SKU), search) && !strings.Contains(strings.ToLower(p.Name), search) {
				continue
			}
			if filter.LowStock && !p.IsLowStock() {
				continue
			}
			matched = append(matched, p)
		}
		sort.Slice(matched, func(i, j int) bool {
			if matched[i].SKU != matched[j].SKU {
				return matched[i].SKU < matched[j].SKU
			}
			return matched[i].ID < matched[j].ID
		})

		items, next, err := pagination.Slice(matched, filter.Pagination.PageSize, filter.Pagination.PageToken,
			func(p domain.Product) []string { return []string{p.SKU, p.ID} },
			func(p domain.Product, c []string) bool {
				return p.SKU > c[0] || (p.SKU == c[0] && p.ID > c[1])
			})
		if err != nil {
			return err
		}
		page = domain.CursorPage[domain.Product]{Items: items, NextPageToken: next}
		return nil
	})
	return page, err
}

func (r productRepository) LockForUpdate(ctx context.Context, productIDs []string) (map[string]domain.Product, error) {
	ids := uniqueSorted(productIDs)
	out := make(map[string]domain.Product, len(ids))
	err := r.store.within(ctx, func(tx *txn) error {
		for _, id := range ids {
			if err := tx.lock(ctx, productLockKey(id)); err != nil {
				return err
			}
			p, ok := tx.product(id)
			if !ok {
				return repositories.NewStockError(repositories.StockErrorProductNotFound, id, fmt.Sprintf("product %s not found", id), nil)
			}
			out[id] = p
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r productRepository) SetQuantity(ctx context.Context, productID string, quantity int, updatedAt time.Time) error {
	return r.store.within(ctx, func(tx *txn) error {
		if !tx.holds(productLockKey(productID)) {
			return repositories.NewStockError(repositories.StockErrorNotLocked, productID, fmt.Sprintf("product %s is not locked", productID), nil)
		}
		if quantity < 0 {
			return repositories.NewStockError(repositories.StockErrorNegativeQuantity, productID, fmt.Sprintf("product %s quantity would be %d", productID, quantity), nil)
		}
		p, ok := tx.product(productID)
		if !ok {
			return repositories.NewStockError(repositories.StockErrorProductNotFound, productID, fmt.Sprintf("product %s not found", productID), nil)
		}
		p.Quantity = quantity
		p.UpdatedAt = updatedAt
		tx.products[productID] = p
		return nil
	})
}

func (t *txn) visibleProducts() []domain.Product {
	t.store.mu.RLock()
	out := make([]domain.Product, 0, len(t.store.products)+len(t.products))
	for id, p := range t.store.products {
		if _, deleted := t.deletedProducts[id]; deleted {
			continue
		}
		if _, staged := t.products[id]; staged {
			continue
		}
		out = append(out, p)
	}
	t.store.mu.RUnlock()
	for _, p := range t.products {
		out = append(out, p)
	}
	return out
}

func uniqueSorted(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
