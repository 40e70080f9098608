package executor

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/wesleyorama2/loadcheck/internal/performance"
	"github.com/wesleyorama2/loadcheck/internal/performance/config"
)

// SharedIterations runs a fixed budget of iterations on a fixed set of VUs.
//
// All VUs are acquired up front and held behind a start gate that opens
// once, so their first iterations begin as close together as the runtime
// allows. After that each VU claims the next iteration number from a
// shared counter until the budget or MaxDuration runs out. This is the
// executor for concurrency tests such as "100 users create the same
// order at once".
//
// Example:
//
//	executor: shared-iterations
//	vus: 100
//	iterations: 100
//	maxDuration: 1m
type SharedIterations struct {
	plan *config.Plan

	env    *Env
	runner *runner

	claimed   atomic.Int64
	startTime time.Time
	endTime   time.Time
	running   atomic.Bool
	finished  atomic.Bool
	abandoned atomic.Bool

	mu sync.RWMutex
}

// NewSharedIterations creates a shared iterations executor for plan.
func NewSharedIterations(plan *config.Plan) *SharedIterations {
	return &SharedIterations{plan: plan}
}

// Type returns the executor type.
func (e *SharedIterations) Type() Type {
	return TypeSharedIterations
}

// Run executes the iteration budget, then drains.
func (e *SharedIterations) Run(ctx context.Context, env *Env) error {
	if env == nil || env.Pool == nil {
		return fmt.Errorf("shared-iterations: env has no vu pool")
	}
	if !e.running.CompareAndSwap(false, true) {
		return fmt.Errorf("shared-iterations: already running")
	}
	defer e.running.Store(false)

	r := newRunner(ctx, env)

	vus := make([]*performance.VirtualUser, 0, e.plan.VUs)
	for i := 0; i < e.plan.VUs; i++ {
		vu, err := env.Pool.Acquire()
		if err != nil {
			for _, held := range vus {
				r.release(held)
			}
			return fmt.Errorf("shared-iterations: acquire vu %d of %d: %w", i+1, e.plan.VUs, err)
		}
		vus = append(vus, vu)
	}

	runCtx, cancel := context.WithTimeout(ctx, e.plan.MaxDuration)
	defer cancel()

	gate := make(chan struct{})
	for _, vu := range vus {
		r.goLoop(func() {
			defer r.release(vu)
			select {
			case <-gate:
			case <-runCtx.Done():
				return
			}
			for runCtx.Err() == nil {
				n := e.claimed.Add(1) - 1
				if n >= e.plan.Iterations {
					return
				}
				r.runOn(vu, n)
			}
		})
	}

	e.mu.Lock()
	e.env = env
	e.runner = r
	e.startTime = time.Now()
	e.mu.Unlock()

	r.logger.Debug("shared iterations started", "vus", e.plan.VUs, "iterations", e.plan.Iterations)
	close(gate)

	select {
	case <-r.idle():
	case <-runCtx.Done():
		if ctx.Err() == nil {
			r.logger.Warn("max duration reached before the iteration budget was spent",
				"max_duration", e.plan.MaxDuration,
				"completed", r.completed.Load(),
				"iterations", e.plan.Iterations)
		}
	}
	e.mu.Lock()
	e.endTime = time.Now()
	e.mu.Unlock()
	e.finished.Store(true)

	grace := e.plan.GracefulStop
	if e.plan.HardStop {
		grace = 0
	}
	e.abandoned.Store(r.drain(grace))

	r.logger.Debug("shared iterations finished", "completed", r.completed.Load(), "cancelled", ctx.Err() != nil)
	return nil
}

// Progress returns the share of the iteration budget completed.
func (e *SharedIterations) Progress() float64 {
	if e.finished.Load() {
		return 1.0
	}
	e.mu.RLock()
	r := e.runner
	e.mu.RUnlock()
	if r == nil {
		return 0.0
	}
	return float64(r.completed.Load()) / float64(e.plan.Iterations)
}

// Stats returns executor statistics.
func (e *SharedIterations) Stats() *Stats {
	e.mu.RLock()
	defer e.mu.RUnlock()

	stats := &Stats{
		Executor:        TypeSharedIterations,
		StartTime:       e.startTime,
		TotalDuration:   e.plan.MaxDuration,
		TotalIterations: e.plan.Iterations,
		Abandoned:       e.abandoned.Load(),
	}
	switch {
	case !e.endTime.IsZero():
		stats.Elapsed = e.endTime.Sub(e.startTime)
	case !e.startTime.IsZero():
		stats.Elapsed = time.Since(e.startTime)
	}
	if e.runner != nil {
		stats.Started = e.runner.started.Load()
		stats.Completed = e.runner.completed.Load()
		stats.ActualRate = perSecond(stats.Completed, stats.Elapsed)
	}
	if e.env != nil {
		stats.Pool = e.env.Pool.Stats()
	}
	return stats
}

// Ensure SharedIterations implements Executor
var _ Executor = (*SharedIterations)(nil)
