// Package pgtest starts a disposable Postgres server in docker for integration tests.
package pgtest

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/stockline/api/internal/platform/config"
	"github.com/stockline/api/internal/platform/postgres"
	"github.com/stockline/api/internal/platform/testcontainer"
)

const image = "postgres:16-alpine"

// Start runs Postgres, applies the schema and returns a pool closed on cleanup.
// The test is skipped when docker is unavailable.
func Start(t *testing.T) *pgxpool.Pool {
	t.Helper()
	endpoint := testcontainer.Run(t, testcontainer.Spec{
		Image: image,
		Port:  5432,
		Env: map[string]string{
			"POSTGRES_USER":     "stockline",
			"POSTGRES_PASSWORD": "stockline",
			"POSTGRES_DB":       "stockline",
		},
	})
	dsn := fmt.Sprintf("postgres://stockline:stockline@%s/stockline?sslmode=disable", endpoint)

	// The port opens before the server accepts connections.
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	var (
		pool *pgxpool.Pool
		err  error
	)
	for {
		pool, err = postgres.NewPool(ctx, config.PostgresConfig{DSN: dsn, MaxConns: 8})
		if err == nil {
			break
		}
		select {
		case <-ctx.Done():
			t.Fatalf("postgres did not become ready: %v", err)
		case <-time.After(250 * time.Millisecond):
		}
	}
	t.Cleanup(pool.Close)

	if err := postgres.EnsureSchema(ctx, pool); err != nil {
		t.Fatalf("ensure schema: %v", err)
	}
	return pool
}
