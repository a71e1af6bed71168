package firestore

import (
	"context"
	"time"

	pfirestore "github.com/stockline/api/internal/platform/firestore"
	"github.com/stockline/api/internal/repositories"
)

type counterDocument struct {
	CurrentValue int64     `firestore:"currentValue"`
	Step         int64     `firestore:"step"`
	UpdatedAt    time.Time `firestore:"updatedAt"`
}

type counterRepository struct {
	store *Store
}

// Next increments the counter inside the caller's transaction, so an aborted
// order creation gives its number back.
func (r counterRepository) Next(ctx context.Context, counterID string, step int64) (int64, error) {
	id, err := repositories.ValidateCounterRequest(counterID, step)
	if err != nil {
		return 0, err
	}

	var next int64
	err = r.store.within(ctx, func(ctx context.Context, state *txState) error {
		ref, err := r.store.counters.Doc(ctx, id)
		if err != nil {
			return err
		}

		current, seen := state.counters[id]
		if !seen {
			doc, err := r.store.counters.GetTx(ctx, state.tx, id)
			switch {
			case err == nil:
				current = doc.CurrentValue
			case pfirestore.IsNotFound(err):
				current = 0
			default:
				return err
			}
		}

		next = current + step
		doc := counterDocument{CurrentValue: next, Step: step, UpdatedAt: time.Now().UTC()}
		if err := state.tx.Set(ref, doc); err != nil {
			return pfirestore.WrapError("counters.next", err)
		}
		state.counters[id] = next
		return nil
	})
	if err != nil {
		return 0, err
	}
	return next, nil
}
