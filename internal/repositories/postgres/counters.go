package postgres

import (
	"context"
	"time"

	ppostgres "github.com/stockline/api/internal/platform/postgres"
	"github.com/stockline/api/internal/repositories"
)

type counterRepository struct {
	store *Store
}

// Next increments the counter with an upsert. Inside a unit of work the row lock is
// held until commit, so a rolled back creation gives its number back.
func (r counterRepository) Next(ctx context.Context, counterID string, step int64) (int64, error) {
	id, err := repositories.ValidateCounterRequest(counterID, step)
	if err != nil {
		return 0, err
	}

	var next int64
	err = r.store.q(ctx).QueryRow(ctx, `
		INSERT INTO counters (id, current_value, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE
		SET current_value = counters.current_value + EXCLUDED.current_value, updated_at = EXCLUDED.updated_at
		RETURNING current_value
	`, id, step, time.Now().UTC()).Scan(&next)
	if err != nil {
		return 0, ppostgres.WrapError("counters.next", err)
	}
	return next, nil
}
