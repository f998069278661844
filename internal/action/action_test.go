package action

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/kdanielm/mdnsd/internal/mdnserr"
)

func TestQueueEnqueueReturnsFullAtCapacity(t *testing.T) {
	q := NewQueue(1)
	if err := q.Enqueue(&Action{Kind: KindSystemEvent}); err != nil {
		t.Fatalf("first enqueue: %v", err)
	}
	err := q.Enqueue(&Action{Kind: KindSystemEvent})
	if !errors.Is(err, mdnserr.ErrFull) {
		t.Fatalf("err = %v, want Full", err)
	}
}

func TestExecutorProcessesActionsInFIFOOrder(t *testing.T) {
	q := NewQueue(8)
	var order []int
	done := make(chan struct{})
	handle := func(a *Action) {
		order = append(order, a.Payload.(int))
		if len(order) == 3 {
			close(done)
		}
	}
	e := NewExecutor(q, handle, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go e.Run(ctx, make(chan time.Time))

	for i := 1; i <= 3; i++ {
		if err := q.Enqueue(&Action{Kind: KindSystemEvent, Payload: i}); err != nil {
			t.Fatal(err)
		}
	}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for actions to process")
	}
	if len(order) != 3 || order[0] != 1 || order[1] != 2 || order[2] != 3 {
		t.Fatalf("order = %v, want [1 2 3]", order)
	}
}

func TestEnqueueWaitBlocksUntilProcessed(t *testing.T) {
	q := NewQueue(8)
	e := NewExecutor(q, func(a *Action) {
		a.Err = mdnserr.New(mdnserr.Conflict, "test")
	}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go e.Run(ctx, make(chan time.Time))

	err := q.EnqueueWait(&Action{Kind: KindHostnameSet})
	if !errors.Is(err, mdnserr.ErrConflict) {
		t.Fatalf("err = %v, want Conflict", err)
	}
}

func TestTickRunsOnTickCallback(t *testing.T) {
	q := NewQueue(1)
	ticks := make(chan time.Time, 1)
	fired := make(chan struct{})
	e := NewExecutor(q, nil, func(time.Time) { close(fired) })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go e.Run(ctx, ticks)

	ticks <- time.Unix(0, 0)
	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("onTick callback never fired")
	}
}

func TestTaskStopEndsRun(t *testing.T) {
	q := NewQueue(1)
	var stopped bool
	e := NewExecutor(q, func(a *Action) {
		if a.Kind == KindTaskStop {
			stopped = true
		}
	}, nil)

	runDone := make(chan struct{})
	go func() {
		e.Run(context.Background(), make(chan time.Time))
		close(runDone)
	}()

	if err := q.EnqueueWait(&Action{Kind: KindTaskStop}); err != nil {
		t.Fatal(err)
	}
	select {
	case <-runDone:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after TASK_STOP")
	}
	if !stopped {
		t.Fatal("handler never saw the TASK_STOP action")
	}
}
