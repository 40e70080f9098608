// Package executor provides the scheduling strategies that decide when
// iterations start.
package executor

import (
	"context"
	"time"

	"github.com/wesleyorama2/loadcheck/internal/performance"
	"github.com/wesleyorama2/loadcheck/internal/performance/config"
	"github.com/wesleyorama2/loadcheck/internal/performance/metrics"
	"github.com/wesleyorama2/loadcheck/internal/performance/rate"
)

// Type identifies the type of executor.
type Type string

const (
	// TypeConstantArrivalRate starts iterations at a fixed rate (open model).
	TypeConstantArrivalRate Type = config.ExecutorConstantArrivalRate

	// TypeSharedIterations shares a total iteration count across a fixed
	// set of VUs released together.
	TypeSharedIterations Type = config.ExecutorSharedIterations
)

// Executor defines the interface for load generation strategies.
//
// Executors control WHEN iterations start. Running them is left to the
// VirtualUsers handed out by the pool in Env.
type Executor interface {
	// Type returns the executor type.
	Type() Type

	// Run schedules iterations and blocks until scheduling has stopped and
	// every in-flight iteration has completed or been cancelled.
	//
	// Cancelling ctx stops new starts immediately. It is not reported as
	// an error.
	Run(ctx context.Context, env *Env) error

	// Progress returns current progress (0.0 to 1.0).
	Progress() float64

	// Stats returns executor statistics.
	Stats() *Stats
}

// Env is what an executor needs from the engine for one run.
type Env struct {
	// Pool hands out VUs. Required.
	Pool *performance.VUPool

	// Metrics receives capacity-exhaustion events, and results too when
	// Results is nil.
	Metrics *metrics.Aggregator

	// Results receives every completed iteration exactly once.
	Results chan<- performance.IterationResult
}

// Stats contains executor statistics.
type Stats struct {
	Executor Type `json:"executor"`

	// Timing
	StartTime     time.Time     `json:"startTime"`
	Elapsed       time.Duration `json:"elapsed"`
	TotalDuration time.Duration `json:"totalDuration"`

	// Iteration stats
	Started   int64 `json:"started"`
	Completed int64 `json:"completed"`

	// Arrival-rate accounting
	Ticks                  int64            `json:"ticks,omitempty"`
	Dropped                int64            `json:"dropped"`
	CapacityExhaustedTicks int64            `json:"capacityExhaustedTicks"`
	TargetRate             float64          `json:"targetRate,omitempty"` // per second
	ActualRate             float64          `json:"actualRate"`           // per second
	Quota                  *rate.QuotaStats `json:"quota,omitempty"`

	// Shared-iterations budget
	TotalIterations int64 `json:"totalIterations,omitempty"`

	// Abandoned is set when in-flight iterations were cancelled at stop.
	Abandoned bool `json:"abandoned"`

	Pool performance.PoolStats `json:"pool"`
}

func perSecond(n int64, elapsed time.Duration) float64 {
	if elapsed <= 0 {
		return 0
	}
	return float64(n) / elapsed.Seconds()
}
