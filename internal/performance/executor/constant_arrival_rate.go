package executor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	xrate "golang.org/x/time/rate"

	"github.com/wesleyorama2/loadcheck/internal/performance"
	"github.com/wesleyorama2/loadcheck/internal/performance/config"
	"github.com/wesleyorama2/loadcheck/internal/performance/rate"
)

// ConstantArrivalRate starts iterations at a fixed rate (open model).
//
// Start times are decoupled from how long iterations take. Every tick the
// executor asks its Quota how many starts are due by now and acquires that
// many VUs from the pool. When the pool is at its maximum and has no idle
// VU, the rest of the tick's quota is dropped and recorded as a capacity
// exhaustion event. Dropped starts are never retried, so the achieved
// start rate is bounded by pool capacity instead of bursting later.
//
// Example:
//
//	executor: constant-arrival-rate
//	arrivalRate: 1000          # iterations per timeUnit
//	timeUnit: 1s
//	duration: 10s
//	preAllocatedContexts: 1000 # VUs created up front
//	maxContexts: 2000          # pool ceiling
type ConstantArrivalRate struct {
	plan  *config.Plan
	quota *rate.Quota

	env    *Env
	runner *runner

	// exhaustLog rate-limits the capacity exhaustion debug log.
	exhaustLog xrate.Sometimes

	startTime      time.Time
	running        atomic.Bool
	finished       atomic.Bool
	ticks          atomic.Int64
	dropped        atomic.Int64
	exhaustedTicks atomic.Int64
	abandoned      atomic.Bool

	mu sync.RWMutex
}

// NewConstantArrivalRate creates a constant arrival rate executor for plan.
func NewConstantArrivalRate(plan *config.Plan) *ConstantArrivalRate {
	return &ConstantArrivalRate{
		plan:       plan,
		quota:      rate.NewQuota(plan.ArrivalRate, plan.TimeUnit),
		exhaustLog: xrate.Sometimes{Interval: time.Second},
	}
}

// Type returns the executor type.
func (e *ConstantArrivalRate) Type() Type {
	return TypeConstantArrivalRate
}

// Run starts iterations for plan.Duration, then drains.
func (e *ConstantArrivalRate) Run(ctx context.Context, env *Env) error {
	if env == nil || env.Pool == nil {
		return fmt.Errorf("constant-arrival-rate: env has no vu pool")
	}
	if !e.running.CompareAndSwap(false, true) {
		return fmt.Errorf("constant-arrival-rate: already running")
	}
	defer e.running.Store(false)

	r := newRunner(ctx, env)
	start := time.Now()

	e.mu.Lock()
	e.env = env
	e.runner = r
	e.startTime = start
	e.mu.Unlock()

	r.logger.Debug("arrival-rate schedule started",
		"rate", e.plan.ArrivalRate,
		"time_unit", e.plan.TimeUnit,
		"duration", e.plan.Duration,
		"tick", e.plan.TickInterval)

	ticker := time.NewTicker(e.plan.TickInterval)
	defer ticker.Stop()
	deadline := time.NewTimer(e.plan.Duration)
	defer deadline.Stop()

schedule:
	for {
		select {
		case <-ctx.Done():
			break schedule
		case <-deadline.C:
			e.tick(r, e.quota.Advance(e.plan.Duration))
			break schedule
		case now := <-ticker.C:
			elapsed := now.Sub(start)
			if elapsed >= e.plan.Duration {
				e.tick(r, e.quota.Advance(e.plan.Duration))
				break schedule
			}
			e.tick(r, e.quota.Advance(elapsed))
		}
	}
	e.finished.Store(true)

	grace := e.plan.GracefulStop
	if e.plan.HardStop {
		grace = 0
	}
	e.abandoned.Store(r.drain(grace))

	r.logger.Debug("arrival-rate schedule finished",
		"started", r.started.Load(),
		"dropped", e.dropped.Load(),
		"capacity_exhausted_ticks", e.exhaustedTicks.Load(),
		"cancelled", ctx.Err() != nil)
	return nil
}

// tick starts n iterations, dropping whatever the pool cannot take.
func (e *ConstantArrivalRate) tick(r *runner, n int) {
	e.ticks.Add(1)
	for i := 0; i < n; i++ {
		vu, err := r.env.Pool.Acquire()
		if err != nil {
			e.drop(r, n-i, err)
			return
		}
		r.start(vu)
	}
}

func (e *ConstantArrivalRate) drop(r *runner, missed int, err error) {
	e.dropped.Add(int64(missed))
	e.exhaustedTicks.Add(1)
	if r.env.Metrics != nil {
		r.env.Metrics.RecordDropped(missed)
	}

	if !errors.Is(err, performance.ErrCapacityExhausted) {
		r.logger.Error("failed to acquire vu", "error", err)
		return
	}
	e.exhaustLog.Do(func() {
		r.logger.Debug("vu pool capacity exhausted, dropping starts",
			"dropped", missed,
			"max_vus", r.env.Pool.Max(),
			"dropped_total", e.dropped.Load())
	})
}

// Progress returns current progress (0.0 to 1.0).
func (e *ConstantArrivalRate) Progress() float64 {
	if e.finished.Load() {
		return 1.0
	}
	e.mu.RLock()
	start := e.startTime
	e.mu.RUnlock()
	if start.IsZero() {
		return 0.0
	}

	progress := float64(time.Since(start)) / float64(e.plan.Duration)
	if progress > 1.0 {
		progress = 1.0
	}
	return progress
}

// Stats returns executor statistics.
func (e *ConstantArrivalRate) Stats() *Stats {
	e.mu.RLock()
	defer e.mu.RUnlock()

	stats := &Stats{
		Executor:               TypeConstantArrivalRate,
		StartTime:              e.startTime,
		TotalDuration:          e.plan.Duration,
		Ticks:                  e.ticks.Load(),
		Dropped:                e.dropped.Load(),
		CapacityExhaustedTicks: e.exhaustedTicks.Load(),
		TargetRate:             e.plan.ArrivalRate / e.plan.TimeUnit.Seconds(),
		Abandoned:              e.abandoned.Load(),
	}
	quota := e.quota.Stats()
	stats.Quota = &quota
	if !e.startTime.IsZero() {
		stats.Elapsed = time.Since(e.startTime)
		if stats.Elapsed > e.plan.Duration {
			stats.Elapsed = e.plan.Duration
		}
	}
	if e.runner != nil {
		stats.Started = e.runner.started.Load()
		stats.Completed = e.runner.completed.Load()
		stats.ActualRate = perSecond(stats.Started, stats.Elapsed)
	}
	if e.env != nil {
		stats.Pool = e.env.Pool.Stats()
	}
	return stats
}

// Ensure ConstantArrivalRate implements Executor
var _ Executor = (*ConstantArrivalRate)(nil)
