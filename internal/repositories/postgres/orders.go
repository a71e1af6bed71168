package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	domain "github.com/stockline/api/internal/domain"
	"github.com/stockline/api/internal/platform/pagination"
	ppostgres "github.com/stockline/api/internal/platform/postgres"
	"github.com/stockline/api/internal/repositories"
)

const orderColumns = `id, order_number, customer_ref, created_by, status, total::text, notes, ordered_at, completed_at, cancelled_at, created_at, updated_at`

type orderRepository struct {
	store *Store
}

func scanOrder(row pgx.Row) (domain.Order, error) {
	var (
		o      domain.Order
		status string
		total  string
	)
	if err := row.Scan(&o.ID, &o.OrderNumber, &o.CustomerRef, &o.CreatedBy, &status, &total, &o.Notes,
		&o.OrderedAt, &o.CompletedAt, &o.CancelledAt, &o.CreatedAt, &o.UpdatedAt); err != nil {
		return domain.Order{}, err
	}
	parsed, err := decimal.NewFromString(total)
	if err != nil {
		return domain.Order{}, fmt.Errorf("decode order %s total: %w", o.ID, err)
	}
	o.Total = parsed
	o.Status = domain.OrderStatus(status)
	o.OrderedAt = o.OrderedAt.UTC()
	o.CompletedAt = utcPtr(o.CompletedAt)
	o.CancelledAt = utcPtr(o.CancelledAt)
	o.CreatedAt = o.CreatedAt.UTC()
	o.UpdatedAt = o.UpdatedAt.UTC()
	return o, nil
}

func (r orderRepository) Insert(ctx context.Context, order domain.Order) error {
	if strings.TrimSpace(order.ID) == "" {
		return errors.New("postgres orders insert: order id is required")
	}
	return r.store.within(ctx, func(ctx context.Context, state *txState) error {
		batch := &pgx.Batch{}
		batch.Queue(`
			INSERT INTO orders (id, order_number, customer_ref, created_by, status, total, notes, ordered_at, completed_at, cancelled_at, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6::numeric, $7, $8, $9, $10, $11, $12)
		`, order.ID, order.OrderNumber, order.CustomerRef, order.CreatedBy, string(order.Status), order.Total.String(), order.Notes,
			order.OrderedAt.UTC(), utcPtr(order.CompletedAt), utcPtr(order.CancelledAt), order.CreatedAt.UTC(), order.UpdatedAt.UTC())
		for i, line := range order.Lines {
			batch.Queue(`
				INSERT INTO order_lines (order_id, position, product_id, sku, name, quantity, unit_price, line_total)
				VALUES ($1, $2, $3, $4, $5, $6, $7::numeric, $8::numeric)
			`, order.ID, i, line.ProductID, line.SKU, line.Name, line.Quantity, line.UnitPrice.String(), line.LineTotal.String())
		}
		if err := state.tx.SendBatch(ctx, batch).Close(); err != nil {
			return ppostgres.WrapError("orders.insert", err)
		}
		return nil
	})
}

// Update persists header fields. Lines are fixed at creation.
func (r orderRepository) Update(ctx context.Context, order domain.Order) error {
	tag, err := r.store.q(ctx).Exec(ctx, `
		UPDATE orders
		SET status = $2, notes = $3, ordered_at = $4, completed_at = $5, cancelled_at = $6, updated_at = $7
		WHERE id = $1
	`, order.ID, string(order.Status), order.Notes, order.OrderedAt.UTC(), utcPtr(order.CompletedAt), utcPtr(order.CancelledAt), order.UpdatedAt.UTC())
	if err != nil {
		return ppostgres.WrapError("orders.update", err)
	}
	if tag.RowsAffected() == 0 {
		return ppostgres.NotFound("orders.update", "order %s not found", order.ID)
	}
	return nil
}

func (r orderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	return r.find(ctx, r.store.q(ctx), "orders.get", `SELECT `+orderColumns+` FROM orders WHERE id = $1`, orderID)
}

func (r orderRepository) LockForUpdate(ctx context.Context, orderID string) (domain.Order, error) {
	var out domain.Order
	err := r.store.within(ctx, func(ctx context.Context, state *txState) error {
		o, err := r.find(ctx, state.tx, "orders.lock", `SELECT `+orderColumns+` FROM orders WHERE id = $1 FOR UPDATE`, orderID)
		out = o
		return err
	})
	return out, err
}

func (r orderRepository) find(ctx context.Context, q querier, op, sql, orderID string) (domain.Order, error) {
	o, err := scanOrder(q.QueryRow(ctx, sql, orderID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Order{}, ppostgres.NotFound(op, "order %s not found", orderID)
		}
		return domain.Order{}, ppostgres.WrapError(op, err)
	}
	lines, err := r.lines(ctx, q, []string{o.ID})
	if err != nil {
		return domain.Order{}, err
	}
	o.Lines = lines[o.ID]
	return o, nil
}

func (r orderRepository) List(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	pageSize := filter.Pagination.PageSize
	if pageSize <= 0 {
		pageSize = pagination.DefaultPageSize
	}
	cursor, err := pagination.DecodeTokenN(filter.Pagination.PageToken, 2)
	if err != nil {
		return domain.CursorPage[domain.Order]{}, err
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
	if number := strings.ToLower(strings.TrimSpace(filter.NumberQuery)); number != "" {
		where = append(where, "strpos(lower(order_number), "+arg(number)+") > 0")
	}
	if customer := strings.TrimSpace(filter.CustomerRef); customer != "" {
		where = append(where, "customer_ref = "+arg(customer))
	}
	if !cursor.IsZero() {
		before, err := time.Parse(time.RFC3339Nano, cursor.After[0])
		if err != nil {
			return domain.CursorPage[domain.Order]{}, fmt.Errorf("%w: %v", pagination.ErrInvalidPageToken, err)
		}
		where = append(where, fmt.Sprintf("(created_at, id) < (%s, %s)", arg(before), arg(cursor.After[1])))
	}

	sql := `SELECT ` + orderColumns + ` FROM orders`
	if len(where) > 0 {
		sql += ` WHERE ` + strings.Join(where, " AND ")
	}
	sql += ` ORDER BY created_at DESC, id DESC LIMIT ` + arg(pageSize+1)

	q := r.store.q(ctx)
	rows, err := q.Query(ctx, sql, args...)
	if err != nil {
		return domain.CursorPage[domain.Order]{}, ppostgres.WrapError("orders.list", err)
	}
	items, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.Order, error) {
		return scanOrder(row)
	})
	if err != nil {
		return domain.CursorPage[domain.Order]{}, ppostgres.WrapError("orders.list", err)
	}

	var page domain.CursorPage[domain.Order]
	if len(items) > pageSize {
		items = items[:pageSize]
		last := items[len(items)-1]
		next, err := pagination.EncodeToken(pagination.Cursor{After: []string{last.CreatedAt.UTC().Format(time.RFC3339Nano), last.ID}})
		if err != nil {
			return domain.CursorPage[domain.Order]{}, err
		}
		page.NextPageToken = next
	}

	ids := make([]string, len(items))
	for i, o := range items {
		ids[i] = o.ID
	}
	lines, err := r.lines(ctx, q, ids)
	if err != nil {
		return domain.CursorPage[domain.Order]{}, err
	}
	for i := range items {
		items[i].Lines = lines[items[i].ID]
	}
	page.Items = items
	return page, nil
}

func (r orderRepository) ReferencesProduct(ctx context.Context, productID string) (bool, error) {
	var found bool
	err := r.store.q(ctx).QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM order_lines WHERE product_id = $1)`, productID).Scan(&found)
	if err != nil {
		return false, ppostgres.WrapError("orders.referencesProduct", err)
	}
	return found, nil
}

func (r orderRepository) lines(ctx context.Context, q querier, orderIDs []string) (map[string][]domain.OrderLine, error) {
	out := make(map[string][]domain.OrderLine, len(orderIDs))
	if len(orderIDs) == 0 {
		return out, nil
	}
	rows, err := q.Query(ctx, `
		SELECT order_id, product_id, sku, name, quantity, unit_price::text, line_total::text
		FROM order_lines
		WHERE order_id = ANY($1)
		ORDER BY order_id, position
	`, orderIDs)
	if err != nil {
		return nil, ppostgres.WrapError("orders.lines", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			orderID          string
			line             domain.OrderLine
			price, lineTotal string
		)
		if err := rows.Scan(&orderID, &line.ProductID, &line.SKU, &line.Name, &line.Quantity, &price, &lineTotal); err != nil {
			return nil, ppostgres.WrapError("orders.lines", err)
		}
		if line.UnitPrice, err = decimal.NewFromString(price); err != nil {
			return nil, fmt.Errorf("decode order %s line price: %w", orderID, err)
		}
		if line.LineTotal, err = decimal.NewFromString(lineTotal); err != nil {
			return nil, fmt.Errorf("decode order %s line total: %w", orderID, err)
		}
		out[orderID] = append(out[orderID], line)
	}
	if err := rows.Err(); err != nil {
		return nil, ppostgres.WrapError("orders.lines", err)
	}
	return out, nil
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}
