package executor

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/wesleyorama2/loadcheck/internal/logging"
	"github.com/wesleyorama2/loadcheck/internal/performance"
)

// runner tracks the iterations of one executor run.
//
// Iterations run under iterCtx, which is detached from the scheduling
// context: stopping the schedule never cancels in-flight work by itself.
// Only drain cancels iterCtx, after the graceful stop window (or at once
// under hard stop).
type runner struct {
	env    *Env
	logger *slog.Logger

	iterCtx     context.Context
	cancelIters context.CancelFunc

	inFlight  sync.WaitGroup
	next      atomic.Int64
	started   atomic.Int64
	completed atomic.Int64
}

func newRunner(ctx context.Context, env *Env) *runner {
	iterCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	return &runner{
		env:         env,
		logger:      logging.FromContext(ctx),
		iterCtx:     iterCtx,
		cancelIters: cancel,
	}
}

// start runs one iteration on vu in its own goroutine. The VU goes back to
// the pool only after its result has been handed off, so a slow consumer
// shows up as pool pressure rather than unbounded goroutines.
func (r *runner) start(vu *performance.VirtualUser) {
	n := r.next.Add(1) - 1
	r.started.Add(1)
	r.inFlight.Add(1)
	go func() {
		defer r.inFlight.Done()
		r.emit(vu.RunIteration(r.iterCtx, n))
		r.release(vu)
	}()
}

// runOn runs iteration n on vu in the calling goroutine.
func (r *runner) runOn(vu *performance.VirtualUser, n int64) {
	r.started.Add(1)
	r.emit(vu.RunIteration(r.iterCtx, n))
}

// goLoop runs fn as tracked in-flight work.
func (r *runner) goLoop(fn func()) {
	r.inFlight.Add(1)
	go func() {
		defer r.inFlight.Done()
		fn()
	}()
}

func (r *runner) emit(res performance.IterationResult) {
	r.completed.Add(1)
	switch {
	case r.env.Results != nil:
		r.env.Results <- res
	case r.env.Metrics != nil:
		r.env.Metrics.Add(res)
	}
}

func (r *runner) release(vu *performance.VirtualUser) {
	if err := r.env.Pool.Release(vu); err != nil {
		r.logger.Error("failed to release vu", "vu", vu.ID, "error", err)
	}
}

// idle returns a channel closed once no tracked work is in flight.
func (r *runner) idle() <-chan struct{} {
	done := make(chan struct{})
	go func() {
		r.inFlight.Wait()
		close(done)
	}()
	return done
}

// drain waits up to grace for in-flight work, then cancels whatever is
// left and waits for it to report. It returns true if anything had to be
// cancelled. Must only be called once nothing new will be started.
func (r *runner) drain(grace time.Duration) (abandoned bool) {
	defer r.cancelIters()

	done := r.idle()
	if grace > 0 {
		timer := time.NewTimer(grace)
		defer timer.Stop()
		select {
		case <-done:
			return false
		case <-timer.C:
		}
	} else {
		select {
		case <-done:
			return false
		default:
		}
	}

	inFlight := r.started.Load() - r.completed.Load()
	if grace > 0 {
		r.logger.Warn("graceful stop expired, cancelling in-flight iterations",
			"grace", grace, "in_flight", inFlight)
	} else {
		r.logger.Info("cancelling in-flight iterations", "in_flight", inFlight)
	}
	r.cancelIters()
	<-done
	return true
}
