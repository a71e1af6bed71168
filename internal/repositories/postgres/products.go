package postgres

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	domain "github.com/stockline/api/internal/domain"
	"github.com/stockline/api/internal/platform/pagination"
	ppostgres "github.com/stockline/api/internal/platform/postgres"
	"github.com/stockline/api/internal/repositories"
)

const (
	skuConstraint              = "products_sku_key"
	orderLineProductConstraint = "order_lines_product_id_fkey"
)

const productColumns = `id, sku, name, unit_price::text, quantity, initial_quantity, min_stock, status, created_at, updated_at`

type productRepository struct {
	store *Store
}

func scanProduct(row pgx.Row) (domain.Product, error) {
	var (
		p      domain.Product
		price  string
		status string
	)
	if err := row.Scan(&p.ID, &p.SKU, &p.Name, &price, &p.Quantity, &p.InitialQuantity, &p.MinStock, &status, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return domain.Product{}, err
	}
	unitPrice, err := decimal.NewFromString(price)
	if err != nil {
		return domain.Product{}, fmt.Errorf("decode product %s unit price: %w", p.ID, err)
	}
	p.UnitPrice = unitPrice
	p.Status = domain.ProductStatus(status)
	p.CreatedAt = p.CreatedAt.UTC()
	p.UpdatedAt = p.UpdatedAt.UTC()
	return p, nil
}

func (r productRepository) Insert(ctx context.Context, product domain.Product) error {
	_, err := r.store.q(ctx).Exec(ctx, `
		INSERT INTO products (id, sku, name, unit_price, quantity, initial_quantity, min_stock, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4::numeric, $5, $6, $7, $8, $9, $10)
	`, product.ID, product.SKU, product.Name, product.UnitPrice.String(), product.Quantity, product.InitialQuantity,
		product.MinStock, string(product.Status), product.CreatedAt.UTC(), product.UpdatedAt.UTC())
	if err != nil {
		if ppostgres.Constraint(err) == skuConstraint {
			return repositories.NewStockError(repositories.StockErrorDuplicateSKU, product.ID, fmt.Sprintf("sku %s already exists", product.SKU), err)
		}
		return ppostgres.WrapError("products.insert", err)
	}
	// A row inserted by this transaction is invisible to others until commit.
	if state := txFrom(ctx); state != nil && state.store == r.store {
		state.locked[product.ID] = struct{}{}
	}
	return nil
}

func (r productRepository) Update(ctx context.Context, product domain.Product) error {
	tag, err := r.store.q(ctx).Exec(ctx, `
		UPDATE products SET name = $2, unit_price = $3::numeric, min_stock = $4, status = $5, updated_at = $6
		WHERE id = $1
	`, product.ID, product.Name, product.UnitPrice.String(), product.MinStock, string(product.Status), product.UpdatedAt.UTC())
	if err != nil {
		return ppostgres.WrapError("products.update", err)
	}
	if tag.RowsAffected() == 0 {
		return ppostgres.NotFound("products.update", "product %s not found", product.ID)
	}
	return nil
}

func (r productRepository) Delete(ctx context.Context, productID string) error {
	tag, err := r.store.q(ctx).Exec(ctx, `DELETE FROM products WHERE id = $1`, productID)
	if err != nil {
		if ppostgres.Constraint(err) == orderLineProductConstraint {
			return repositories.NewStockError(repositories.StockErrorProductReferenced, productID, fmt.Sprintf("product %s is referenced by order lines", productID), err)
		}
		return ppostgres.WrapError("products.delete", err)
	}
	if tag.RowsAffected() == 0 {
		return ppostgres.NotFound("products.delete", "product %s not found", productID)
	}
	if state := txFrom(ctx); state != nil {
		delete(state.locked, productID)
	}
	return nil
}

func (r productRepository) FindByID(ctx context.Context, productID string) (domain.Product, error) {
	p, err := scanProduct(r.store.q(ctx).QueryRow(ctx, `SELECT `+productColumns+` FROM products WHERE id = $1`, productID))
	if err != nil {
		return domain.Product{}, ppostgres.WrapError("products.get", err)
	}
	return p, nil
}

func (r productRepository) FindBySKU(ctx context.Context, sku string) (domain.Product, error) {
	p, err := scanProduct(r.store.q(ctx).QueryRow(ctx, `SELECT `+productColumns+` FROM products WHERE sku = $1`, sku))
	if err != nil {
		return domain.Product{}, ppostgres.WrapError("products.findBySKU", err)
	}
	return p, nil
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

	var (
		where []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if len(filter.Status) > 0 {
		statuses := make([]string, 0, len(filter.Status))
		for _, s := range filter.Status {
			statuses = append(statuses, string(s))
		}
		where = append(where, "status = ANY("+arg(statuses)+")")
	}
	if search := strings.ToLower(strings.TrimSpace(filter.Search)); search != "" {
		p := arg(search)
		where = append(where, fmt.Sprintf("(strpos(lower(sku), %s) > 0 OR strpos(lower(name), %s) > 0)", p, p))
	}
	if filter.LowStock {
		where = append(where, "quantity <= min_stock")
	}
	if !cursor.IsZero() {
		where = append(where, fmt.Sprintf("(sku, id) > (%s, %s)", arg(cursor.After[0]), arg(cursor.After[1])))
	}

	sql := `SELECT ` + productColumns + ` FROM products`
	if len(where) > 0 {
		sql += ` WHERE ` + strings.Join(where, " AND ")
	}
	sql += ` ORDER BY sku, id LIMIT ` + arg(pageSize+1)

	rows, err := r.store.q(ctx).Query(ctx, sql, args...)
	if err != nil {
		return domain.CursorPage[domain.Product]{}, ppostgres.WrapError("products.list", err)
	}
	defer rows.Close()

	var items []domain.Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return domain.CursorPage[domain.Product]{}, ppostgres.WrapError("products.list", err)
		}
		items = append(items, p)
	}
	if err := rows.Err(); err != nil {
		return domain.CursorPage[domain.Product]{}, ppostgres.WrapError("products.list", err)
	}

	var page domain.CursorPage[domain.Product]
	if len(items) > pageSize {
		items = items[:pageSize]
		last := items[len(items)-1]
		next, err := pagination.EncodeToken(pagination.Cursor{After: []string{last.SKU, last.ID}})
		if err != nil {
			return domain.CursorPage[domain.Product]{}, err
		}
		page.NextPageToken = next
	}
	page.Items = items
	return page, nil
}

func (r productRepository) LockForUpdate(ctx context.Context, productIDs []string) (map[string]domain.Product, error) {
	ids := uniqueSorted(productIDs)
	out := make(map[string]domain.Product, len(ids))
	err := r.store.within(ctx, func(ctx context.Context, state *txState) error {
		rows, err := state.tx.Query(ctx, `SELECT `+productColumns+` FROM products WHERE id = ANY($1) ORDER BY id FOR UPDATE`, ids)
		if err != nil {
			return ppostgres.WrapError("products.lock", err)
		}
		defer rows.Close()
		for rows.Next() {
			p, err := scanProduct(rows)
			if err != nil {
				return ppostgres.WrapError("products.lock", err)
			}
			out[p.ID] = p
		}
		if err := rows.Err(); err != nil {
			return ppostgres.WrapError("products.lock", err)
		}
		for _, id := range ids {
			if _, ok := out[id]; !ok {
				return repositories.NewStockError(repositories.StockErrorProductNotFound, id, fmt.Sprintf("product %s not found", id), nil)
			}
			state.locked[id] = struct{}{}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r productRepository) SetQuantity(ctx context.Context, productID string, quantity int, updatedAt time.Time) error {
	state := txFrom(ctx)
	if state == nil || state.store != r.store {
		return repositories.NewStockError(repositories.StockErrorNotLocked, productID, fmt.Sprintf("product %s is not locked", productID), nil)
	}
	if _, ok := state.locked[productID]; !ok {
		return repositories.NewStockError(repositories.StockErrorNotLocked, productID, fmt.Sprintf("product %s is not locked", productID), nil)
	}
	if quantity < 0 {
		return repositories.NewStockError(repositories.StockErrorNegativeQuantity, productID, fmt.Sprintf("product %s quantity would be %d", productID, quantity), nil)
	}
	tag, err := state.tx.Exec(ctx, `UPDATE products SET quantity = $2, updated_at = $3 WHERE id = $1`, productID, quantity, updatedAt.UTC())
	if err != nil {
		return ppostgres.WrapError("products.setQuantity", err)
	}
	if tag.RowsAffected() == 0 {
		return repositories.NewStockError(repositories.StockErrorProductNotFound, productID, fmt.Sprintf("product %s not found", productID), nil)
	}
	return nil
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
