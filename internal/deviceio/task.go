package deviceio

import (
	"context"
	"runtime/debug"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/semaphore"
)

// task runs work on every tick of its clock and on every trigger.
type task struct {
	name     string
	interval time.Duration
	clock    clockwork.Clock
	trigger  <-chan struct{}
	work     func() error

	// sem holds one permit so at most one cycle runs at a time.
	sem *semaphore.Weighted

	log func() Logger
}

func newTask(name string, interval time.Duration, clk clockwork.Clock, trigger <-chan struct{}, work func() error, log func() Logger) *task {
	return &task{
		name:     name,
		interval: interval,
		clock:    clk,
		trigger:  trigger,
		work:     work,
		sem:      semaphore.NewWeighted(1),
		log:      log,
	}
}

// run loops until ctx is cancelled.
func (t *task) run(ctx context.Context) {
	ticker := t.clock.NewTicker(t.interval)
	defer ticker.Stop()

	t.log().Debug("task started", "task", t.name, "interval", t.interval)
	defer t.log().Debug("task stopped", "task", t.name)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
		case <-t.trigger:
		}
		t.cycle(ctx)
	}
}

// cycle runs work once under the task's permit.
func (t *task) cycle(ctx context.Context) {
	if err := t.sem.Acquire(ctx, 1); err != nil {
		return
	}
	defer t.sem.Release(1)

	defer func() {
		if r := recover(); r != nil {
			t.log().Error("panic in task cycle",
				"task", t.name,
				"panic", r,
				"stack", string(debug.Stack()),
			)
		}
	}()

	if err := t.work(); err != nil {
		t.log().Warn("task cycle failed", "task", t.name, "error", err)
	}
}
