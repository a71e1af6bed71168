package idempotency

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	ppostgres "github.com/stockline/api/internal/platform/postgres"
)

// PostgresStore implements Store on the idempotency_keys table.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore constructs a Postgres-backed idempotency store.
func NewPostgresStore(pool *pgxpool.Pool) (*PostgresStore, error) {
	if pool == nil {
		return nil, errors.New("idempotency: postgres pool is required")
	}
	return &PostgresStore{pool: pool}, nil
}

const recordColumns = `scope, key, fingerprint, status, response_status, response_headers, response_body, created_at, updated_at, expires_at`

// Reserve claims the key for the fingerprint or reports the stored outcome.
func (s *PostgresStore) Reserve(ctx context.Context, scope, key, fingerprint string, now time.Time, ttl time.Duration) (Reservation, error) {
	now = now.UTC()
	var result Reservation
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		id := recordID(scope, key)
		existing, err := lockRecord(ctx, tx, id)
		if err != nil {
			return err
		}
		if existing == nil {
			// A concurrent first reservation may insert between the read and the write.
			pending := newPendingRecord(scope, key, fingerprint, now, effectiveTTL(ttl))
			tag, err := tx.Exec(ctx, `INSERT INTO idempotency_keys (id, `+recordColumns+`)
				VALUES ($1, $2, $3, $4, $5, 0, NULL, NULL, $6, $6, $7)
				ON CONFLICT (id) DO NOTHING`,
				id, pending.Scope, pending.Key, pending.Fingerprint, string(pending.Status), pending.CreatedAt, pending.ExpiresAt)
			if err != nil {
				return err
			}
			if tag.RowsAffected() == 1 {
				result = Reservation{State: ReservationStateNew, Record: pending}
				return nil
			}
			if existing, err = lockRecord(ctx, tx, id); err != nil {
				return err
			}
		}
		res, write, err := reserve(existing, scope, key, fingerprint, now, effectiveTTL(ttl))
		if err != nil {
			return err
		}
		if write {
			if err := upsertRecord(ctx, tx, res.Record); err != nil {
				return err
			}
		}
		result = res
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrFingerprintMismatch) {
			return Reservation{}, ErrFingerprintMismatch
		}
		return Reservation{}, ppostgres.WrapError("idempotency.reserve", err)
	}
	return result, nil
}

// SaveResponse persists the completed HTTP response associated with the key.
func (s *PostgresStore) SaveResponse(ctx context.Context, scope, key, fingerprint string, resp Response, now time.Time, ttl time.Duration) error {
	now = now.UTC()
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		existing, err := lockRecord(ctx, tx, recordID(scope, key))
		if err != nil {
			return err
		}
		record, err := complete(existing, scope, key, fingerprint, resp, now, effectiveTTL(ttl))
		if err != nil {
			return err
		}
		return upsertRecord(ctx, tx, record)
	})
	if err != nil {
		if errors.Is(err, ErrFingerprintMismatch) {
			return ErrFingerprintMismatch
		}
		return ppostgres.WrapError("idempotency.save", err)
	}
	return nil
}

// Release removes the reservation to allow callers to retry.
func (s *PostgresStore) Release(ctx context.Context, scope, key string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM idempotency_keys WHERE id = $1`, recordID(scope, key))
	return ppostgres.WrapError("idempotency.release", err)
}

// CleanupExpired removes up to limit expired records, oldest expiry first.
func (s *PostgresStore) CleanupExpired(ctx context.Context, now time.Time, limit int) (int, error) {
	if limit <= 0 {
		limit = 100
	}
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM idempotency_keys
		WHERE id IN (
			SELECT id FROM idempotency_keys WHERE expires_at <= $1 ORDER BY expires_at LIMIT $2
		)
	`, now.UTC(), limit)
	if err != nil {
		return 0, ppostgres.WrapError("idempotency.cleanup", err)
	}
	return int(tag.RowsAffected()), nil
}

func lockRecord(ctx context.Context, tx pgx.Tx, id string) (*Record, error) {
	var (
		record Record
		status string
	)
	err := tx.QueryRow(ctx, `SELECT `+recordColumns+` FROM idempotency_keys WHERE id = $1 FOR UPDATE`, id).Scan(
		&record.Scope, &record.Key, &record.Fingerprint, &status, &record.ResponseStatus,
		&record.ResponseHeaders, &record.ResponseBody, &record.CreatedAt, &record.UpdatedAt, &record.ExpiresAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	record.Status = Status(status)
	record.CreatedAt = record.CreatedAt.UTC()
	record.UpdatedAt = record.UpdatedAt.UTC()
	record.ExpiresAt = record.ExpiresAt.UTC()
	return &record, nil
}

func upsertRecord(ctx context.Context, tx pgx.Tx, r Record) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO idempotency_keys (id, `+recordColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO UPDATE SET
			fingerprint = EXCLUDED.fingerprint,
			status = EXCLUDED.status,
			response_status = EXCLUDED.response_status,
			response_headers = EXCLUDED.response_headers,
			response_body = EXCLUDED.response_body,
			created_at = EXCLUDED.created_at,
			updated_at = EXCLUDED.updated_at,
			expires_at = EXCLUDED.expires_at
	`, r.ID(), r.Scope, r.Key, r.Fingerprint, string(r.Status), r.ResponseStatus,
		r.ResponseHeaders, r.ResponseBody, r.CreatedAt, r.UpdatedAt, r.ExpiresAt)
	return err
}
