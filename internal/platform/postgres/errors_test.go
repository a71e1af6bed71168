package postgres

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

func TestWrapErrorClassifies(t *testing.T) {
	cases := []struct {
		name        string
		err         error
		notFound    bool
		conflict    bool
		unavailable bool
	}{
		{name: "no rows", err: pgx.ErrNoRows, notFound: true},
		{name: "unique", err: &pgconn.PgError{Code: "23505", ConstraintName: "products_sku_key"}, conflict: true},
		{name: "check", err: &pgconn.PgError{Code: "23514"}, conflict: true},
		{name: "foreign key", err: &pgconn.PgError{Code: "23503", ConstraintName: "order_lines_product_id_fkey"}, conflict: true},
		{name: "serialization", err: fmt.Errorf("commit: %w", &pgconn.PgError{Code: "40001"}), conflict: true},
		{name: "deadlock", err: &pgconn.PgError{Code: "40P01"}, conflict: true},
		{name: "shutdown", err: &pgconn.PgError{Code: "57P01"}, unavailable: true},
		{name: "other", err: errors.New("boom")},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			wrapped := WrapError("op", tc.err)
			var repoErr *Error
			if !errors.As(wrapped, &repoErr) {
				t.Fatalf("expected *Error, got %T", wrapped)
			}
			if repoErr.IsNotFound() != tc.notFound || repoErr.IsConflict() != tc.conflict || repoErr.IsUnavailable() != tc.unavailable {
				t.Fatalf("unexpected classification for %v: %+v", tc.err, repoErr)
			}
			if !errors.Is(wrapped, tc.err) {
				t.Fatalf("expected wrapped error to unwrap to original")
			}
		})
	}
}

func TestWrapErrorPassesThroughContextErrors(t *testing.T) {
	if err := WrapError("op", context.Canceled); err != context.Canceled {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if WrapError("op", nil) != nil {
		t.Fatalf("expected nil")
	}
}

func TestWrapErrorKeepsExistingOp(t *testing.T) {
	inner := NotFound("", "order %s not found", "o1")
	wrapped := WrapError("orders.get", inner)
	if wrapped.Error() != "orders.get: order o1 not found" {
		t.Fatalf("unexpected message %q", wrapped.Error())
	}
}

func TestConstraintName(t *testing.T) {
	wrapped := WrapError("insert", &pgconn.PgError{Code: "23505", ConstraintName: "products_sku_key"})
	var repoErr *Error
	if !errors.As(wrapped, &repoErr) || repoErr.ConstraintName() != "products_sku_key" {
		t.Fatalf("expected constraint name, got %v", wrapped)
	}
}
