// Package postgres implements the repository registry on PostgreSQL through pgx.
//
// Units of work map onto READ COMMITTED transactions. Row locks are taken with
// SELECT ... FOR UPDATE in ascending key order and held until commit.
package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	ppostgres "github.com/stockline/api/internal/platform/postgres"
	"github.com/stockline/api/internal/repositories"
)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// Store implements repositories.Registry backed by a pgx pool.
type Store struct {
	pool *pgxpool.Pool
}

var _ repositories.Registry = (*Store)(nil)

// New constructs a Postgres-backed registry over an open pool.
func New(pool *pgxpool.Pool) (*Store, error) {
	if pool == nil {
		return nil, errors.New("postgres store requires pool")
	}
	return &Store{pool: pool}, nil
}

// Close releases the pool.
func (s *Store) Close(context.Context) error {
	s.pool.Close()
	return nil
}

// Ping verifies the database is reachable. Used by readiness checks.
func (s *Store) Ping(ctx context.Context) error {
	return ppostgres.WrapError("ping", s.pool.Ping(ctx))
}

func (s *Store) Products() repositories.ProductRepository       { return productRepository{store: s} }
func (s *Store) StockLedger() repositories.StockLedgerRepository { return ledgerRepository{store: s} }
func (s *Store) Orders() repositories.OrderRepository           { return orderRepository{store: s} }
func (s *Store) Counters() repositories.CounterRepository       { return counterRepository{store: s} }

type txKey struct{}

type txState struct {
	store  *Store
	tx     pgx.Tx
	locked map[string]struct{}
}

func txFrom(ctx context.Context) *txState {
	state, _ := ctx.Value(txKey{}).(*txState)
	return state
}

// RunInTx runs fn inside a database transaction, committing when fn returns nil.
// A context that already carries a transaction from this store joins it.
func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if fn == nil {
		return errors.New("postgres: transaction function is nil")
	}
	if state := txFrom(ctx); state != nil && state.store == s {
		return fn(ctx)
	}

	var fnErr error
	err := pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, func(tx pgx.Tx) error {
		state := &txState{store: s, tx: tx, locked: make(map[string]struct{})}
		fnErr = fn(context.WithValue(ctx, txKey{}, state))
		return fnErr
	})
	if err == nil {
		return nil
	}
	if fnErr != nil {
		return fnErr
	}
	return ppostgres.WrapError("transaction", err)
}

// within runs fn in the caller's transaction or a new one. Statements that take
// row locks go through here.
func (s *Store) within(ctx context.Context, fn func(ctx context.Context, state *txState) error) error {
	if state := txFrom(ctx); state != nil && state.store == s {
		return fn(ctx, state)
	}
	return s.RunInTx(ctx, func(ctx context.Context) error {
		return fn(ctx, txFrom(ctx))
	})
}

// q returns the transaction carried by ctx, or the pool for autocommit reads.
func (s *Store) q(ctx context.Context) querier {
	if state := txFrom(ctx); state != nil && state.store == s {
		return state.tx
	}
	return s.pool
}
