// Package postgres wires the pgx connection pool, error classification and schema
// bootstrap used by the relational repository backend.
package postgres

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/stockline/api/internal/platform/config"
)

const defaultConnectTimeout = 10 * time.Second

//go:embed schema.sql
var schemaSQL string

// NewPool parses the DSN, applies pool limits and verifies connectivity.
func NewPool(ctx context.Context, cfg config.PostgresConfig) (*pgxpool.Pool, error) {
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, errors.New("postgres: dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: parse dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = int32(cfg.MaxConns)
	}

	connectCtx, cancel := context.WithTimeout(ctx, defaultConnectTimeout)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(connectCtx, poolCfg)
	if err != nil {
		return nil, WrapError("connect", err)
	}
	if err := pool.Ping(connectCtx); err != nil {
		pool.Close()
		return nil, WrapError("ping", err)
	}
	return pool, nil
}

// EnsureSchema creates the tables the repositories need when they are missing.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	if pool == nil {
		return errors.New("postgres: pool is nil")
	}
	if _, err := pool.Exec(ctx, schemaSQL); err != nil {
		return WrapError("schema", err)
	}
	return nil
}
