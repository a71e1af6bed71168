// Package memory provides an in-process repository backend with row locks and
// transactional commits. It is the default backend for local runs and tests.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	domain "github.com/stockline/api/internal/domain"
	"github.com/stockline/api/internal/repositories"
)

// Error implements repositories.RepositoryError for the memory backend.
type Error struct {
	op       string
	err      error
	notFound bool
	conflict bool
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.op != "" {
		return fmt.Sprintf("%s: %v", e.op, e.err)
	}
	return e.err.Error()
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.err
}

func (e *Error) IsNotFound() bool    { return e != nil && e.notFound }
func (e *Error) IsConflict() bool    { return e != nil && e.conflict }
func (e *Error) IsUnavailable() bool { return false }

func notFound(op, format string, args ...any) error {
	return &Error{op: op, err: fmt.Errorf(format, args...), notFound: true}
}

func conflict(op, format string, args ...any) error {
	return &Error{op: op, err: fmt.Errorf(format, args...), conflict: true}
}

var errStoreClosed = errors.New("memory: store closed")

// Store holds all repository state. The zero value is not usable; call New.
type Store struct {
	mu       sync.RWMutex
	closed   bool
	products map[string]domain.Product
	skus     map[string]string
	ledger   []domain.StockLedgerEntry
	orders   map[string]domain.Order
	counters map[string]int64

	locks *lockTable
}

var _ repositories.Registry = (*Store)(nil)

// New constructs an empty store.
func New() *Store {
	return &Store{
		products: make(map[string]domain.Product),
		skus:     make(map[string]string),
		orders:   make(map[string]domain.Order),
		counters: make(map[string]int64),
		locks:    newLockTable(),
	}
}

// Close marks the store closed; subsequent units of work fail.
func (s *Store) Close(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Ping reports whether the store accepts work. Used by readiness checks.
func (s *Store) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return errStoreClosed
	}
	return nil
}

func (s *Store) Products() repositories.ProductRepository       { return productRepository{store: s} }
func (s *Store) StockLedger() repositories.StockLedgerRepository { return ledgerRepository{store: s} }
func (s *Store) Orders() repositories.OrderRepository           { return orderRepository{store: s} }
func (s *Store) Counters() repositories.CounterRepository       { return counterRepository{store: s} }

type txKey struct{}

// RunInTx runs fn inside a unit of work. Writes become visible to other callers only
// when fn returns nil; row locks are released on return either way. A context that
// already carries a unit of work from this store joins it.
func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if fn == nil {
		return errors.New("memory: transaction function is nil")
	}
	if tx := txFrom(ctx); tx != nil && tx.store == s {
		return fn(ctx)
	}
	if err := s.Ping(ctx); err != nil {
		return err
	}

	tx := newTxn(s)
	defer tx.release()

	if err := fn(context.WithValue(ctx, txKey{}, tx)); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return tx.commit()
}

// within runs fn in the caller's unit of work, or in a fresh one committed on return.
func (s *Store) within(ctx context.Context, fn func(tx *txn) error) error {
	if tx := txFrom(ctx); tx != nil && tx.store == s {
		return fn(tx)
	}
	return s.RunInTx(ctx, func(ctx context.Context) error {
		return fn(txFrom(ctx))
	})
}

func txFrom(ctx context.Context) *txn {
	if ctx == nil {
		return nil
	}
	tx, _ := ctx.Value(txKey{}).(*txn)
	return tx
}

// txn stages writes until commit. Reads inside the unit of work see staged state.
type txn struct {
	store *Store

	held     map[string]struct{}
	heldKeys []string

	products        map[string]domain.Product
	deletedProducts map[string]struct{}
	ledger          []domain.StockLedgerEntry
	orders          map[string]domain.Order
	counters        map[string]int64
}

func newTxn(s *Store) *txn {
	return &txn{
		store:           s,
		held:            make(map[string]struct{}),
		products:        make(map[string]domain.Product),
		deletedProducts: make(map[string]struct{}),
		orders:          make(map[string]domain.Order),
		counters:        make(map[string]int64),
	}
}

func (t *txn) lock(ctx context.Context, key string) error {
	if _, ok := t.held[key]; ok {
		return nil
	}
	if err := t.store.locks.acquire(ctx, key); err != nil {
		return err
	}
	t.held[key] = struct{}{}
	t.heldKeys = append(t.heldKeys, key)
	return nil
}

func (t *txn) holds(key string) bool {
	_, ok := t.held[key]
	return ok
}

func (t *txn) release() {
	for i := len(t.heldKeys) - 1; i >= 0; i-- {
		t.store.locks.release(t.heldKeys[i])
	}
	t.heldKeys = nil
	t.held = map[string]struct{}{}
}

func (t *txn) product(id string) (domain.Product, bool) {
	if _, deleted := t.deletedProducts[id]; deleted {
		return domain.Product{}, false
	}
	if p, ok := t.products[id]; ok {
		return p, true
	}
	t.store.mu.RLock()
	defer t.store.mu.RUnlock()
	p, ok := t.store.products[id]
	return p, ok
}

func (t *txn) order(id string) (domain.Order, bool) {
	if o, ok := t.orders[id]; ok {
		return o, true
	}
	t.store.mu.RLock()
	defer t.store.mu.RUnlock()
	o, ok := t.store.orders[id]
	return o, ok
}

func (t *txn) commit() error {
	s := t.store
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errStoreClosed
	}

	// Validate SKU uniqueness against committed state before touching anything.
	claimed := make(map[string]string, len(t.products))
	for id, p := range t.products {
		if owner, ok := s.skus[p.SKU]; ok && owner != id {
			_, deleted := t.deletedProducts[owner]
			staged, restaged := t.products[owner]
			if !deleted && !(restaged && staged.SKU != p.SKU) {
				return repositories.NewStockError(repositories.StockErrorDuplicateSKU, id, fmt.Sprintf("sku %s already exists", p.SKU), nil)
			}
		}
		if other, ok := claimed[p.SKU]; ok && other != id {
			return repositories.NewStockError(repositories.StockErrorDuplicateSKU, id, fmt.Sprintf("sku %s already exists", p.SKU), nil)
		}
		claimed[p.SKU] = id
	}

	for id := range t.deletedProducts {
		if current, ok := s.products[id]; ok {
			delete(s.skus, current.SKU)
			delete(s.products, id)
		}
	}

	ids := make([]string, 0, len(t.products))
	for id := range t.products {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		next := t.products[id]
		if current, ok := s.products[id]; ok {
			if !t.holds(productLockKey(id)) {
				// Only the lock holder may move quantity.
				next.Quantity = current.Quantity
			}
			if current.SKU != next.SKU {
				delete(s.skus, current.SKU)
			}
		}
		s.products[id] = next
		s.skus[next.SKU] = id
	}

	s.ledger = append(s.ledger, t.ledger...)
	for id, o := range t.orders {
		s.orders[id] = cloneOrder(o)
	}
	for id, v := range t.counters {
		s.counters[id] = v
	}
	return nil
}

func cloneOrder(o domain.Order) domain.Order {
	o.Lines = append([]domain.OrderLine(nil), o.Lines...)
	if o.CompletedAt != nil {
		v := *o.CompletedAt
		o.CompletedAt = &v
	}
	if o.CancelledAt != nil {
		v := *o.CancelledAt
		o.CancelledAt = &v
	}
	return o
}

// lockTable hands out one exclusive lock per key. Waiters honour context cancellation.
type lockTable struct {
	mu    sync.Mutex
	slots map[string]chan struct{}
}

func newLockTable() *lockTable {
	return &lockTable{slots: make(map[string]chan struct{})}
}

func (l *lockTable) slot(key string) chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	ch, ok := l.slots[key]
	if !ok {
		ch = make(chan struct{}, 1)
		l.slots[key] = ch
	}
	return ch
}

func (l *lockTable) acquire(ctx context.Context, key string) error {
	ch := l.slot(key)
	select {
	case ch <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *lockTable) release(key string) {
	select {
	case <-l.slot(key):
	default:
	}
}

func productLockKey(id string) string { return "product:" + id }
func orderLockKey(id string) string   { return "order:" + id }
func counterLockKey(id string) string { return "counter:" + id }
