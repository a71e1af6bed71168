package memory

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	domain "github.com/stockline/api/internal/domain"
	"github.com/stockline/api/internal/platform/pagination"
	"github.com/stockline/api/internal/repositories"
)

type ledgerRepository struct {
	store *Store
}

type sequencedEntry struct {
	seq   int
	entry domain.StockLedgerEntry
}

func (r ledgerRepository) Append(ctx context.Context, entry domain.StockLedgerEntry) error {
	return r.store.within(ctx, func(tx *txn) error {
		if strings.TrimSpace(entry.ID) == "" || !entry.Direction.Valid() {
			return conflict("ledger.append", "ledger entry requires id and a known direction")
		}
		if _, ok := tx.product(entry.ProductID); !ok {
			return repositories.NewStockError(repositories.StockErrorProductNotFound, entry.ProductID, fmt.Sprintf("product %s not found", entry.ProductID), nil)
		}
		tx.ledger = append(tx.ledger, entry)
		return nil
	})
}

func (r ledgerRepository) ListByProduct(ctx context.Context, productID string, pager domain.Pagination) (domain.CursorPage[domain.StockLedgerEntry], error) {
	var page domain.CursorPage[domain.StockLedgerEntry]
	err := r.store.within(ctx, func(tx *txn) error {
		entries := tx.entriesFor(productID)
		items, next, err := pagination.Slice(entries, pager.PageSize, pager.PageToken,
			func(e sequencedEntry) []string { return []string{strconv.Itoa(e.seq)} },
			func(e sequencedEntry, c []string) bool {
				seq, err := strconv.Atoi(c[0])
				return err == nil && e.seq > seq
			})
		if err != nil {
			return err
		}
		page.NextPageToken = next
		page.Items = make([]domain.StockLedgerEntry, 0, len(items))
		for _, item := range items {
			page.Items = append(page.Items, item.entry)
		}
		return nil
	})
	return page, err
}

func (r ledgerRepository) SumDeltas(ctx context.Context, productID string) (int, int, error) {
	var sum, count int
	err := r.store.within(ctx, func(tx *txn) error {
		for _, e := range tx.entriesFor(productID) {
			sum += e.entry.SignedDelta()
			count++
		}
		return nil
	})
	return sum, count, err
}

// entriesFor returns committed then staged entries for a product, in insertion order.
func (t *txn) entriesFor(productID string) []sequencedEntry {
	var out []sequencedEntry
	t.store.mu.RLock()
	committed := len(t.store.ledger)
	for i, e := range t.store.ledger {
		if e.ProductID == productID {
			out = append(out, sequencedEntry{seq: i + 1, entry: e})
		}
	}
	t.store.mu.RUnlock()
	for i, e := range t.ledger {
		if e.ProductID == productID {
			out = append(out, sequencedEntry{seq: committed + i + 1, entry: e})
		}
	}
	return out
}
