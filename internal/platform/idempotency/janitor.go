package idempotency

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// RunJanitor deletes expired records every interval until ctx is cancelled.
// Each tick drains expired records in batches of batchSize.
func RunJanitor(ctx context.Context, store Store, interval time.Duration, batchSize int, logger *zap.Logger) {
	if store == nil || interval <= 0 {
		return
	}
	if batchSize <= 0 {
		batchSize = 100
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			removed, err := sweep(ctx, store, now, batchSize)
			if err != nil {
				logger.Warn("idempotency cleanup failed", zap.Error(err), zap.Int("removed", removed))
				continue
			}
			if removed > 0 {
				logger.Debug("idempotency cleanup", zap.Int("removed", removed))
			}
		}
	}
}

func sweep(ctx context.Context, store Store, now time.Time, batchSize int) (int, error) {
	total := 0
	for {
		removed, err := store.CleanupExpired(ctx, now, batchSize)
		total += removed
		if err != nil {
			return total, err
		}
		if removed < batchSize || ctx.Err() != nil {
			return total, nil
		}
	}
}
