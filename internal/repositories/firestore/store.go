// Package firestore implements the repository registry on Cloud Firestore.
//
// Every repository call runs inside a Firestore transaction. Firestore requires all
// reads of a transaction to precede its writes, so rows read or written during a unit
// of work are cached on the transaction state and re-reads are served from that cache.
package firestore

import (
	"context"
	"errors"

	"cloud.google.com/go/firestore"

	domain "github.com/stockline/api/internal/domain"
	pfirestore "github.com/stockline/api/internal/platform/firestore"
	"github.com/stockline/api/internal/repositories"
)

const (
	productsCollection    = "products"
	productSKUsCollection = "productSkus"
	ledgerCollection      = "stockLedger"
	ordersCollection      = "orders"
	countersCollection    = "counters"
)

// Store implements repositories.Registry backed by a Firestore provider.
type Store struct {
	provider *pfirestore.Provider
	products *pfirestore.Collection[productDocument]
	skus     *pfirestore.Collection[skuDocument]
	orders   *pfirestore.Collection[orderDocument]
	counters *pfirestore.Collection[counterDocument]
	txOpts   []pfirestore.TxOption
}

var _ repositories.Registry = (*Store)(nil)

// New constructs a Firestore-backed registry. Transaction options apply to every unit of work.
func New(provider *pfirestore.Provider, opts ...pfirestore.TxOption) (*Store, error) {
	if provider == nil {
		return nil, errors.New("firestore store requires provider")
	}
	return &Store{
		provider: provider,
		products: pfirestore.NewCollection[productDocument](provider, productsCollection),
		skus:     pfirestore.NewCollection[skuDocument](provider, productSKUsCollection),
		orders:   pfirestore.NewCollection[orderDocument](provider, ordersCollection),
		counters: pfirestore.NewCollection[counterDocument](provider, countersCollection),
		txOpts:   opts,
	}, nil
}

// Close releases the underlying Firestore client.
func (s *Store) Close(ctx context.Context) error {
	return s.provider.Close(ctx)
}

// Ping verifies Firestore is reachable. Used by readiness checks.
func (s *Store) Ping(ctx context.Context) error {
	return s.provider.Ping(ctx)
}

func (s *Store) Products() repositories.ProductRepository       { return productRepository{store: s} }
func (s *Store) StockLedger() repositories.StockLedgerRepository { return ledgerRepository{store: s} }
func (s *Store) Orders() repositories.OrderRepository           { return orderRepository{store: s} }
func (s *Store) Counters() repositories.CounterRepository       { return counterRepository{store: s} }

type txKey struct{}

// txState is the per-attempt view of a Firestore transaction.
type txState struct {
	store    *Store
	tx       *firestore.Transaction
	products map[string]domain.Product
	locked   map[string]struct{}
	orders   map[string]domain.Order
	counters map[string]int64
}

func newTxState(store *Store, tx *firestore.Transaction) *txState {
	return &txState{
		store:    store,
		tx:       tx,
		products: make(map[string]domain.Product),
		locked:   make(map[string]struct{}),
		orders:   make(map[string]domain.Order),
		counters: make(map[string]int64),
	}
}

func txFrom(ctx context.Context) *txState {
	state, _ := ctx.Value(txKey{}).(*txState)
	return state
}

// RunInTx runs fn inside a Firestore transaction. Firestore retries contended
// transactions, so fn may run more than once; each attempt starts from an empty cache.
// A context that already carries a transaction from this store joins it.
func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if fn == nil {
		return errors.New("firestore: transaction function is nil")
	}
	if state := txFrom(ctx); state != nil && state.store == s {
		return fn(ctx)
	}

	return s.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		return fn(context.WithValue(ctx, txKey{}, newTxState(s, tx)))
	}, s.txOpts...)
}

func (s *Store) within(ctx context.Context, fn func(ctx context.Context, state *txState) error) error {
	if state := txFrom(ctx); state != nil && state.store == s {
		return fn(ctx, state)
	}
	return s.RunInTx(ctx, func(ctx context.Context) error {
		return fn(ctx, txFrom(ctx))
	})
}

// read joins the caller's transaction or starts a read-only one, which takes no locks.
func (s *Store) read(ctx context.Context, fn func(ctx context.Context, state *txState) error) error {
	if state := txFrom(ctx); state != nil && state.store == s {
		return fn(ctx, state)
	}
	opts := append(append([]pfirestore.TxOption(nil), s.txOpts...), pfirestore.WithTxReadOnly())
	return s.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		state := newTxState(s, tx)
		return fn(context.WithValue(ctx, txKey{}, state), state)
	}, opts...)
}
