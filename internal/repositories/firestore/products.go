package firestore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/shopspring/decimal"

	domain "github.com/stockline/api/internal/domain"
	pfirestore "github.com/stockline/api/internal/platform/firestore"
	"github.com/stockline/api/internal/platform/pagination"
	"github.com/stockline/api/internal/repositories"
)

type productDocument struct {
	SKU             string    `firestore:"sku"`
	Name            string    `firestore:"name"`
	UnitPrice       string    `firestore:"unitPrice"`
	Quantity        int       `firestore:"quantity"`
	InitialQuantity int       `firestore:"initialQuantity"`
	MinStock        int       `firestore:"minStock"`
	Status          string    `firestore:"status"`
	CreatedAt       time.Time `firestore:"createdAt"`
	UpdatedAt       time.Time `firestore:"updatedAt"`
}

type skuDocument struct {
	ProductID string `firestore:"productId"`
}

func newProductDocument(p domain.Product) productDocument {
	return productDocument{
		SKU:             p.SKU,
		Name:            p.Name,
		UnitPrice:       p.UnitPrice.String(),
		Quantity:        p.Quantity,
		InitialQuantity: p.InitialQuantity,
		MinStock:        p.MinStock,
		Status:          string(p.Status),
		CreatedAt:       p.CreatedAt.UTC(),
		UpdatedAt:       p.UpdatedAt.UTC(),
	}
}

func (d productDocument) toDomain(id string) (domain.Product, error) {
	price, err := decimal.NewFromString(d.UnitPrice)
	if err != nil {
		return domain.Product{}, fmt.Errorf("decode product %s unit price: %w", id, err)
	}
	return domain.Product{
		ID:              id,
		SKU:             d.SKU,
		Name:            d.Name,
		UnitPrice:       price,
		Quantity:        d.Quantity,
		InitialQuantity: d.InitialQuantity,
		MinStock:        d.MinStock,
		Status:          domain.ProductStatus(d.Status),
		CreatedAt:       d.CreatedAt,
		UpdatedAt:       d.UpdatedAt,
	}, nil
}

type productRepository struct {
	store *Store
}

func (r productRepository) Insert(ctx context.Context, product domain.Product) error {
	if strings.TrimSpace(product.ID) == "" || strings.TrimSpace(product.SKU) == "" {
		return errors.New("firestore products insert: id and sku are required")
	}
	return r.store.within(ctx, func(ctx context.Context, state *txState) error {
		if _, err := r.store.skus.GetTx(ctx, state.tx, product.SKU); err == nil {
			return repositories.NewStockError(repositories.StockErrorDuplicateSKU, product.ID, fmt.Sprintf("sku %s already exists", product.SKU), nil)
		} else if !pfirestore.IsNotFound(err) {
			return err
		}
		skuRef, err := r.store.skus.Doc(ctx, product.SKU)
		if err != nil {
			return err
		}

		ref, err := r.store.products.Doc(ctx, product.ID)
		if err != nil {
			return err
		}
		if err := state.tx.Create(ref, newProductDocument(product)); err != nil {
			return pfirestore.WrapError("products.insert", err)
		}
		if err := state.tx.Create(skuRef, skuDocument{ProductID: product.ID}); err != nil {
			return pfirestore.WrapError("products.insert", err)
		}
		// A new row is private to this transaction until commit.
		state.products[product.ID] = product
		state.locked[product.ID] = struct{}{}
		return nil
	})
}

func (r productRepository) Update(ctx context.Context, product domain.Product) error {
	return r.store.within(ctx, func(ctx context.Context, state *txState) error {
		current, err := state.product(ctx, product.ID)
		if err != nil {
			return err
		}
		ref, err := r.store.products.Doc(ctx, product.ID)
		if err != nil {
			return err
		}
		updatedAt := product.UpdatedAt.UTC()
		err = state.tx.Update(ref, []firestore.Update{
			{Path: "name", Value: product.Name},
			{Path: "unitPrice", Value: product.UnitPrice.String()},
			{Path: "minStock", Value: product.MinStock},
			{Path: "status", Value: string(product.Status)},
			{Path: "updatedAt", Value: updatedAt},
		})
		if err != nil {
			return pfirestore.WrapError("products.update", err)
		}
		current.Name = product.Name
		current.UnitPrice = product.UnitPrice
		current.MinStock = product.MinStock
		current.Status = product.Status
		current.UpdatedAt = updatedAt
		state.products[product.ID] = current
		return nil
	})
}

func (r productRepository) Delete(ctx context.Context, productID string) error {
	return r.store.within(ctx, func(ctx context.Context, state *txState) error {
		product, err := state.product(ctx, productID)
		if err != nil {
			return err
		}
		ledgerRefs, err := state.ledgerRefs(ctx, productID)
		if err != nil {
			return err
		}

		ref, err := r.store.products.Doc(ctx, productID)
		if err != nil {
			return err
		}
		skuRef, err := r.store.skus.Doc(ctx, product.SKU)
		if err != nil {
			return err
		}
		for _, entryRef := range ledgerRefs {
			if err := state.tx.Delete(entryRef); err != nil {
				return pfirestore.WrapError("products.delete", err)
			}
		}
		if err := state.tx.Delete(skuRef); err != nil {
			return pfirestore.WrapError("products.delete", err)
		}
		if err := state.tx.Delete(ref, firestore.Exists); err != nil {
			return pfirestore.WrapError("products.delete", err)
		}
		delete(state.products, productID)
		delete(state.locked, productID)
		return nil
	})
}

func (r productRepository) FindByID(ctx context.Context, productID string) (domain.Product, error) {
	var out domain.Product
	err := r.store.read(ctx, func(ctx context.Context, state *txState) error {
		p, err := state.product(ctx, productID)
		out = p
		return err
	})
	return out, err
}

func (r productRepository) FindBySKU(ctx context.Context, sku string) (domain.Product, error) {
	var out domain.Product
	err := r.store.read(ctx, func(ctx context.Context, state *txState) error {
		doc, err := r.store.skus.GetTx(ctx, state.tx, sku)
		if err != nil {
			return err
		}
		p, err := state.product(ctx, doc.ProductID)
		out = p
		return err
	})
	return out, err
}

func (r productRepository) List(ctx context.Context, filter repositories.ProductListFilter) (domain.CursorPage[domain.Product], error) {
	pageSize := filter.Pagination.PageSize
	if pageSize <= 0 {
		pageSize = pagination.DefaultPageSize
	}
	cursor, err := pagination.DecodeTokenN(filter.Pagination.PageToken, 2)
	if err != nil {
		return domain.CursorPage[domain.Product]{}, err
	}
	search := strings.ToLower(strings.TrimSpace(filter.Search))

	var page domain.CursorPage[domain.Product]
	err = r.store.read(ctx, func(ctx context.Context, state *txState) error {
		query, err := r.store.products.Query(ctx)
		if err != nil {
			return err
		}
		if len(filter.Status) > 0 {
			statuses := make([]string, 0, len(filter.Status))
			for _, s := range filter.Status {
				statuses = append(statuses, string(s))
			}
			query = query.Where("status", "in", statuses)
		}
		query = query.OrderBy("sku", firestore.Asc).OrderBy(firestore.DocumentID, firestore.Asc)
		if !cursor.IsZero() {
			query = query.StartAfter(cursor.After[0], cursor.After[1])
		}

		var items []domain.Product
		err = pfirestore.Each(state.tx.Documents(query), "products.list", func(id string, doc productDocument) (bool, error) {
			p, err := doc.toDomain(id)
			if err != nil {
				return false, err
			}
			if search != "" && !strings.Contains(strings.ToLower(p.SKU), search) && !strings.Contains(strings.ToLower(p.Name), search) {
				return true, nil
			}
			if filter.LowStock && !p.IsLowStock() {
				return true, nil
			}
			items = append(items, p)
			return len(items) <= pageSize, nil
		})
		if err != nil {
			return err
		}

		if len(items) > pageSize {
			items = items[:pageSize]
			last := items[len(items)-1]
			next, err := pagination.EncodeToken(pagination.Cursor{After: []string{last.SKU, last.ID}})
			if err != nil {
				return err
			}
			page.NextPageToken = next
		}
		page.Items = items
		return nil
	})
	return page, err
}

func (r productRepository) LockForUpdate(ctx context.Context, productIDs []string) (map[string]domain.Product, error) {
	ids := uniqueSorted(productIDs)
	out := make(map[string]domain.Product, len(ids))
	err := r.store.within(ctx, func(ctx context.Context, state *txState) error {
		for _, id := range ids {
			if _, ok := state.locked[id]; ok {
				out[id] = state.products[id]
				continue
			}
			p, err := state.product(ctx, id)
			if err != nil {
				var repoErr repositories.RepositoryError
				if errors.As(err, &repoErr) && repoErr.IsNotFound() {
					return repositories.NewStockError(repositories.StockErrorProductNotFound, id, fmt.Sprintf("product %s not found", id), nil)
				}
				return err
			}
			// Firestore holds the read for the rest of the transaction and aborts
			// the commit if another writer changes the document first.
			state.locked[id] = struct{}{}
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
	return r.store.within(ctx, func(ctx context.Context, state *txState) error {
		if _, ok := state.locked[productID]; !ok {
			return repositories.NewStockError(repositories.StockErrorNotLocked, productID, fmt.Sprintf("product %s is not locked", productID), nil)
		}
		if quantity < 0 {
			return repositories.NewStockError(repositories.StockErrorNegativeQuantity, productID, fmt.Sprintf("product %s quantity would be %d", productID, quantity), nil)
		}
		ref, err := r.store.products.Doc(ctx, productID)
		if err != nil {
			return err
		}
		updatedAt = updatedAt.UTC()
		err = state.tx.Update(ref, []firestore.Update{
			{Path: "quantity", Value: quantity},
			{Path: "updatedAt", Value: updatedAt},
		})
		if err != nil {
			return pfirestore.WrapError("products.setQuantity", err)
		}
		p := state.products[productID]
		p.Quantity = quantity
		p.UpdatedAt = updatedAt
		state.products[productID] = p
		return nil
	})
}

// product returns the transaction's view of a product, reading it on first use.
func (t *txState) product(ctx context.Context, productID string) (domain.Product, error) {
	if p, ok := t.products[productID]; ok {
		return p, nil
	}
	doc, err := t.store.products.GetTx(ctx, t.tx, productID)
	if err != nil {
		return domain.Product{}, err
	}
	p, err := doc.toDomain(productID)
	if err != nil {
		return domain.Product{}, err
	}
	t.products[productID] = p
	return p, nil
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
