package config

import (
	"fmt"
	"sort"
	"time"

	"github.com/wesleyorama2/loadcheck/internal/performance/threshold"
)

// Defaults applied by BuildPlan.
const (
	DefaultTimeUnit     = time.Second
	DefaultTickInterval = 10 * time.Millisecond
	DefaultGracefulStop = 30 * time.Second
	DefaultMaxDuration  = 10 * time.Minute
)

// Plan is the validated, immutable description of one run. It is built
// once by BuildPlan and read by the executor, pool and evaluator; nothing
// modifies it afterwards.
type Plan struct {
	Name     string
	Executor string

	// Arrival-rate fields
	ArrivalRate float64
	TimeUnit    time.Duration
	Duration    time.Duration
	MinContexts int
	MaxContexts int

	// Shared-iterations fields
	VUs         int
	Iterations  int64
	MaxDuration time.Duration

	TickInterval time.Duration
	GracefulStop time.Duration
	HardStop     bool

	Thresholds []threshold.Expr
}

// Validate re-checks the invariants BuildPlan guarantees, for plans
// assembled in code.
func (p *Plan) Validate() error {
	switch p.Executor {
	case ExecutorConstantArrivalRate:
		if p.ArrivalRate <= 0 {
			return fmt.Errorf("plan %q: arrival rate must be greater than 0", p.Name)
		}
		if p.Duration <= 0 {
			return fmt.Errorf("plan %q: duration must be greater than 0", p.Name)
		}
		if p.TimeUnit <= 0 {
			return fmt.Errorf("plan %q: time unit must be greater than 0", p.Name)
		}
		if p.MaxContexts < 1 || p.MinContexts < 0 || p.MinContexts > p.MaxContexts {
			return fmt.Errorf("plan %q: need 0 <= minContexts (%d) <= maxContexts (%d), maxContexts >= 1",
				p.Name, p.MinContexts, p.MaxContexts)
		}
		if p.TickInterval <= 0 || p.TickInterval > p.TimeUnit {
			return fmt.Errorf("plan %q: tick interval %s must be in (0, %s]", p.Name, p.TickInterval, p.TimeUnit)
		}
	case ExecutorSharedIterations:
		if p.VUs < 1 || p.Iterations < 1 {
			return fmt.Errorf("plan %q: vus and iterations must be greater than 0", p.Name)
		}
		if p.MaxDuration <= 0 {
			return fmt.Errorf("plan %q: max duration must be greater than 0", p.Name)
		}
	default:
		return fmt.Errorf("plan %q: unknown executor %q", p.Name, p.Executor)
	}
	if p.GracefulStop < 0 {
		return fmt.Errorf("plan %q: graceful stop must not be negative", p.Name)
	}
	return nil
}

// PoolBounds returns the VU pool floor and ceiling for the plan.
func (p *Plan) PoolBounds() (min, max int) {
	if p.Executor == ExecutorSharedIterations {
		return p.VUs, p.VUs
	}
	return p.MinContexts, p.MaxContexts
}

// RunWindow returns how long the executor may keep starting iterations.
func (p *Plan) RunWindow() time.Duration {
	if p.Executor == ExecutorSharedIterations {
		return p.MaxDuration
	}
	return p.Duration
}

// BuildPlan validates decl and converts it into a Plan with defaults
// applied. Thresholds are ordered by metric name, then declaration order.
func BuildPlan(decl *Declaration) (*Plan, error) {
	if err := decl.Validate(); err != nil {
		return nil, err
	}

	plan := &Plan{
		Name:         decl.Name,
		Executor:     decl.executor(),
		TickInterval: decl.TickInterval.GetDuration(DefaultTickInterval),
		GracefulStop: DefaultGracefulStop,
		HardStop:     decl.HardStop,
	}
	if plan.Name == "" {
		plan.Name = "default"
	}
	if decl.GracefulStop != nil {
		plan.GracefulStop = time.Duration(*decl.GracefulStop)
	}

	switch plan.Executor {
	case ExecutorConstantArrivalRate:
		plan.ArrivalRate = decl.ArrivalRate
		plan.TimeUnit = decl.TimeUnit.GetDuration(DefaultTimeUnit)
		plan.Duration = time.Duration(decl.Duration)
		plan.MinContexts = decl.PreAllocatedContexts
		plan.MaxContexts = decl.MaxContexts
		if plan.MaxContexts == 0 {
			plan.MaxContexts = plan.MinContexts
		}
		if plan.TickInterval > plan.TimeUnit {
			plan.TickInterval = plan.TimeUnit
		}
	case ExecutorSharedIterations:
		plan.VUs = decl.VUs
		plan.Iterations = decl.Iterations
		plan.MaxDuration = decl.MaxDuration.GetDuration(DefaultMaxDuration)
	}

	metrics := make([]string, 0, len(decl.Thresholds))
	for metric := range decl.Thresholds {
		metrics = append(metrics, metric)
	}
	sort.Strings(metrics)

	for _, metric := range metrics {
		for _, td := range decl.Thresholds[metric] {
			expr, err := threshold.Parse(metric, td.Threshold)
			if err != nil {
				return nil, err
			}
			expr.AbortOnFail = td.AbortOnFail
			expr.DelayAbortEval = time.Duration(td.DelayAbortEval)
			plan.Thresholds = append(plan.Thresholds, expr)
		}
	}

	if err := plan.Validate(); err != nil {
		return nil, err
	}
	return plan, nil
}
