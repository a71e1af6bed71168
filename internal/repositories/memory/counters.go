package memory

import (
	"context"

	"github.com/stockline/api/internal/repositories"
)

type counterRepository struct {
	store *Store
}

func (r counterRepository) Next(ctx context.Context, counterID string, step int64) (int64, error) {
	counterID, err := repositories.ValidateCounterRequest(counterID, step)
	if err != nil {
		return 0, err
	}

	var next int64
	err = r.store.within(ctx, func(tx *txn) error {
		if err := tx.lock(ctx, counterLockKey(counterID)); err != nil {
			return err
		}
		current, staged := tx.counters[counterID]
		if !staged {
			r.store.mu.RLock()
			current = r.store.counters[counterID]
			r.store.mu.RUnlock()
		}
		next = current + step
		tx.counters[counterID] = next
		return nil
	})
	if err != nil {
		return 0, err
	}
	return next, nil
}
