package services

import (
	"context"
	"sync"

	"github.com/stockline/api/internal/repositories"
)

type outboxKey struct{}

// outbox collects event deliveries staged inside a unit of work. Deliveries run
// only after the outermost unit commits.
type outbox struct {
	mu      sync.Mutex
	pending []func(context.Context)
}

func (o *outbox) add(fn func(context.Context)) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.pending = append(o.pending, fn)
}

func (o *outbox) reset() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.pending = nil
}

func (o *outbox) flush(ctx context.Context) {
	o.mu.Lock()
	pending := o.pending
	o.pending = nil
	o.mu.Unlock()
	for _, fn := range pending {
		fn(ctx)
	}
}

// runUnit executes fn in a unit of work. The outermost caller owns the outbox and
// delivers staged events once the unit commits; nested callers only stage.
// Backends may retry fn, so staged events are discarded at the start of every attempt.
func runUnit(ctx context.Context, uow repositories.UnitOfWork, fn func(ctx context.Context) error) error {
	if _, nested := ctx.Value(outboxKey{}).(*outbox); nested {
		return uow.RunInTx(ctx, fn)
	}

	box := &outbox{}
	txCtx := context.WithValue(ctx, outboxKey{}, box)
	if err := uow.RunInTx(txCtx, func(ctx context.Context) error {
		box.reset()
		return fn(ctx)
	}); err != nil {
		return err
	}
	box.flush(context.WithoutCancel(ctx))
	return nil
}

// stageEvent queues fn for delivery after commit, or runs it immediately outside a unit.
func stageEvent(ctx context.Context, fn func(context.Context)) {
	if box, ok := ctx.Value(outboxKey{}).(*outbox); ok {
		box.add(fn)
		return
	}
	fn(ctx)
}
