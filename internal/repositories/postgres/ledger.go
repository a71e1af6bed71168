package postgres

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	domain "github.com/stockline/api/internal/domain"
	"github.com/stockline/api/internal/platform/pagination"
	ppostgres "github.com/stockline/api/internal/platform/postgres"
	"github.com/stockline/api/internal/repositories"
)

const ledgerProductConstraint = "stock_ledger_product_id_fkey"

type ledgerRepository struct {
	store *Store
}

func (r ledgerRepository) Append(ctx context.Context, entry domain.StockLedgerEntry) error {
	if strings.TrimSpace(entry.ID) == "" || !entry.Direction.Valid() {
		return errors.New("postgres ledger append: entry requires id and a known direction")
	}
	_, err := r.store.q(ctx).Exec(ctx, `
		INSERT INTO stock_ledger (id, product_id, direction, quantity, cause, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, entry.ID, entry.ProductID, string(entry.Direction), entry.Quantity, entry.Cause, entry.CreatedAt.UTC())
	if err != nil {
		if ppostgres.Constraint(err) == ledgerProductConstraint {
			return repositories.NewStockError(repositories.StockErrorProductNotFound, entry.ProductID, fmt.Sprintf("product %s not found", entry.ProductID), err)
		}
		return ppostgres.WrapError("ledger.append", err)
	}
	return nil
}

func (r ledgerRepository) ListByProduct(ctx context.Context, productID string, pager domain.Pagination) (domain.CursorPage[domain.StockLedgerEntry], error) {
	pageSize := pager.PageSize
	if pageSize <= 0 {
		pageSize = pagination.DefaultPageSize
	}
	cursor, err := pagination.DecodeTokenN(pager.PageToken, 1)
	if err != nil {
		return domain.CursorPage[domain.StockLedgerEntry]{}, err
	}
	var after int64
	if !cursor.IsZero() {
		after, err = strconv.ParseInt(cursor.After[0], 10, 64)
		if err != nil {
			return domain.CursorPage[domain.StockLedgerEntry]{}, fmt.Errorf("%w: %v", pagination.ErrInvalidPageToken, err)
		}
	}

	rows, err := r.store.q(ctx).Query(ctx, `
		SELECT seq, id, product_id, direction, quantity, cause, created_at
		FROM stock_ledger
		WHERE product_id = $1 AND seq > $2
		ORDER BY seq
		LIMIT $3
	`, productID, after, pageSize+1)
	if err != nil {
		return domain.CursorPage[domain.StockLedgerEntry]{}, ppostgres.WrapError("ledger.list", err)
	}
	defer rows.Close()

	var (
		items []domain.StockLedgerEntry
		seqs  []int64
	)
	for rows.Next() {
		var (
			seq       int64
			e         domain.StockLedgerEntry
			direction string
		)
		if err := rows.Scan(&seq, &e.ID, &e.ProductID, &direction, &e.Quantity, &e.Cause, &e.CreatedAt); err != nil {
			return domain.CursorPage[domain.StockLedgerEntry]{}, ppostgres.WrapError("ledger.list", err)
		}
		e.Direction = domain.StockDirection(direction)
		e.CreatedAt = e.CreatedAt.UTC()
		items = append(items, e)
		seqs = append(seqs, seq)
	}
	if err := rows.Err(); err != nil {
		return domain.CursorPage[domain.StockLedgerEntry]{}, ppostgres.WrapError("ledger.list", err)
	}

	var page domain.CursorPage[domain.StockLedgerEntry]
	if len(items) > pageSize {
		items = items[:pageSize]
		next, err := pagination.EncodeToken(pagination.Cursor{After: []string{strconv.FormatInt(seqs[pageSize-1], 10)}})
		if err != nil {
			return domain.CursorPage[domain.StockLedgerEntry]{}, err
		}
		page.NextPageToken = next
	}
	page.Items = items
	return page, nil
}

func (r ledgerRepository) SumDeltas(ctx context.Context, productID string) (int, int, error) {
	var sum, count int
	err := r.store.q(ctx).QueryRow(ctx, `
		SELECT COALESCE(SUM(CASE WHEN direction = 'out' THEN -quantity ELSE quantity END), 0)::int, COUNT(*)::int
		FROM stock_ledger
		WHERE product_id = $1
	`, productID).Scan(&sum, &count)
	if err != nil {
		return 0, 0, ppostgres.WrapError("ledger.sum", err)
	}
	return sum, count, nil
}
