package worker

import (
	"context"
	"errors"
	"sync"
)

// ErrAlreadyRunning is returned by Start on a running Runner.
var ErrAlreadyRunning = errors.New("already running")

// Runner owns one background goroutine. Start, Stop and Restart are
// serialized; Stop returns only after the goroutine has exited.
type Runner struct {
	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// Start launches run in a new goroutine with a context derived from parent.
func (r *Runner) Start(parent context.Context, run func(ctx context.Context)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.runningLocked() {
		return ErrAlreadyRunning
	}

	r.startLocked(parent, run)

	return nil
}

// Stop cancels the goroutine and waits for it to return. It is a no-op when
// nothing is running.
func (r *Runner) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.stopLocked()
}

// Restart stops the current goroutine, if any, and launches run.
func (r *Runner) Restart(parent context.Context, run func(ctx context.Context)) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.stopLocked()
	r.startLocked(parent, run)
}

// Running reports whether the goroutine is still active.
func (r *Runner) Running() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.runningLocked()
}

func (r *Runner) startLocked(parent context.Context, run func(ctx context.Context)) {
	ctx, cancel := context.WithCancel(parent)
	done := make(chan struct{})

	r.cancel = cancel
	r.done = done

	go func() {
		defer close(done)
		defer cancel()

		run(ctx)
	}()
}

func (r *Runner) stopLocked() {
	if r.cancel == nil {
		return
	}

	r.cancel()
	<-r.done

	r.cancel = nil
	r.done = nil
}

func (r *Runner) runningLocked() bool {
	if r.done == nil {
		return false
	}

	select {
	case <-r.done:
		return false
	default:
		return true
	}
}
