package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/stockline/api/internal/domain"
	pfirestore "github.com/stockline/api/internal/platform/firestore"
	"github.com/stockline/api/internal/platform/pagination"
	"github.com/stockline/api/internal/repositories"
)

// Ledger entries live under products/{productId}/stockLedger/{entryId}. Entry IDs are
// ULIDs, so ordering by createdAt then document ID preserves insertion order.
type ledgerDocument struct {
	Direction string    `firestore:"direction"`
	Quantity  int       `firestore:"quantity"`
	Cause     string    `firestore:"cause"`
	CreatedAt time.Time `firestore:"createdAt"`
}

func (d ledgerDocument) toDomain(productID, id string) domain.StockLedgerEntry {
	return domain.StockLedgerEntry{
		ID:        id,
		ProductID: productID,
		Direction: domain.StockDirection(d.Direction),
		Quantity:  d.Quantity,
		Cause:     d.Cause,
		CreatedAt: d.CreatedAt,
	}
}

type ledgerRepository struct {
	store *Store
}

func (r ledgerRepository) Append(ctx context.Context, entry domain.StockLedgerEntry) error {
	if strings.TrimSpace(entry.ID) == "" || !entry.Direction.Valid() {
		return errors.New("firestore ledger append: entry requires id and a known direction")
	}
	return r.store.within(ctx, func(ctx context.Context, state *txState) error {
		if _, err := state.product(ctx, entry.ProductID); err != nil {
			var repoErr repositories.RepositoryError
			if errors.As(err, &repoErr) && repoErr.IsNotFound() {
				return repositories.NewStockError(repositories.StockErrorProductNotFound, entry.ProductID, fmt.Sprintf("product %s not found", entry.ProductID), nil)
			}
			return err
		}
		coll, err := r.collection(ctx, entry.ProductID)
		if err != nil {
			return err
		}
		doc := ledgerDocument{
			Direction: string(entry.Direction),
			Quantity:  entry.Quantity,
			Cause:     entry.Cause,
			CreatedAt: entry.CreatedAt.UTC(),
		}
		if err := state.tx.Create(coll.Doc(entry.ID), doc); err != nil {
			return pfirestore.WrapError("ledger.append", err)
		}
		return nil
	})
}

func (r ledgerRepository) ListByProduct(ctx context.Context, productID string, pager domain.Pagination) (domain.CursorPage[domain.StockLedgerEntry], error) {
	pageSize := pager.PageSize
	if pageSize <= 0 {
		pageSize = pagination.DefaultPageSize
	}
	cursor, err := pagination.DecodeTokenN(pager.PageToken, 2)
	if err != nil {
		return domain.CursorPage[domain.StockLedgerEntry]{}, err
	}
	var after time.Time
	if !cursor.IsZero() {
		after, err = time.Parse(time.RFC3339Nano, cursor.After[0])
		if err != nil {
			return domain.CursorPage[domain.StockLedgerEntry]{}, fmt.Errorf("%w: %v", pagination.ErrInvalidPageToken, err)
		}
	}

	var page domain.CursorPage[domain.StockLedgerEntry]
	err = r.store.read(ctx, func(ctx context.Context, state *txState) error {
		coll, err := r.collection(ctx, productID)
		if err != nil {
			return err
		}
		query := coll.OrderBy("createdAt", firestore.Asc).OrderBy(firestore.DocumentID, firestore.Asc)
		if !cursor.IsZero() {
			query = query.StartAfter(after, cursor.After[1])
		}
		query = query.Limit(pageSize + 1)

		entries, err := r.collect(state, productID, query)
		if err != nil {
			return err
		}
		if len(entries) > pageSize {
			entries = entries[:pageSize]
			last := entries[len(entries)-1]
			next, err := pagination.EncodeToken(pagination.Cursor{After: []string{last.CreatedAt.UTC().Format(time.RFC3339Nano), last.ID}})
			if err != nil {
				return err
			}
			page.NextPageToken = next
		}
		page.Items = entries
		return nil
	})
	return page, err
}

func (r ledgerRepository) SumDeltas(ctx context.Context, productID string) (int, int, error) {
	var sum, count int
	err := r.store.read(ctx, func(ctx context.Context, state *txState) error {
		coll, err := r.collection(ctx, productID)
		if err != nil {
			return err
		}
		entries, err := r.collect(state, productID, coll.Query)
		if err != nil {
			return err
		}
		sum, count = 0, len(entries)
		for _, e := range entries {
			sum += e.SignedDelta()
		}
		return nil
	})
	return sum, count, err
}

func (r ledgerRepository) collection(ctx context.Context, productID string) (*firestore.CollectionRef, error) {
	ref, err := r.store.products.Doc(ctx, productID)
	if err != nil {
		return nil, err
	}
	return ref.Collection(ledgerCollection), nil
}

func (r ledgerRepository) collect(state *txState, productID string, query firestore.Query) ([]domain.StockLedgerEntry, error) {
	var entries []domain.StockLedgerEntry
	err := pfirestore.Each(state.tx.Documents(query), "ledger.list", func(id string, doc ledgerDocument) (bool, error) {
		entries = append(entries, doc.toDomain(productID, id))
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// ledgerRefs lists the entry references of a product so a delete can remove them.
func (t *txState) ledgerRefs(ctx context.Context, productID string) ([]*firestore.DocumentRef, error) {
	ref, err := t.store.products.Doc(ctx, productID)
	if err != nil {
		return nil, err
	}
	return pfirestore.Refs(t.tx.Documents(ref.Collection(ledgerCollection).Select()), "ledger.refs")
}
