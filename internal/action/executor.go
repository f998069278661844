package action

import (
	"context"
	"time"
)

// Handler applies one action's mutation. It is the only code in the
// process allowed to touch the data model directly (spec.md §5); every
// other goroutine reaches the model only by enqueuing an Action.
type Handler func(a *Action)

// Executor is the single-threaded cooperative loop of spec.md §4.7/§5: it
// drains the action queue in FIFO order and wakes on a periodic timer to
// run the scheduler and search sweeps.
type Executor struct {
	queue  *Queue
	handle Handler
	onTick func(now time.Time)
}

// NewExecutor wires an Executor to its queue, its action handler, and the
// callback that runs on every timer tick (the scheduler sweep over the tx
// queue plus the query engine's resend/timeout sweep, per spec.md §4.7's
// "wakes twice per tick").
func NewExecutor(queue *Queue, handle Handler, onTick func(time.Time)) *Executor {
	return &Executor{queue: queue, handle: handle, onTick: onTick}
}

// Run drains the queue and ticks until ctx is cancelled or a TASK_STOP
// action is processed. tick is the caller-supplied wakeup channel — a
// time.Ticker's C in production, a fake channel in tests — so the ~100ms
// period spec.md §4.7 calls for lives in the caller, not here.
func (e *Executor) Run(ctx context.Context, tick <-chan time.Time) {
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-tick:
			if e.onTick != nil {
				e.onTick(now)
			}
		case a := <-e.queue.ch:
			e.process(a)
			if a.Kind == KindTaskStop {
				return
			}
		}
	}
}

func (e *Executor) process(a *Action) {
	if e.handle != nil {
		e.handle(a)
	}
	if a.Done != nil {
		close(a.Done)
	}
}
