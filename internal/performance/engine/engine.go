// Package engine runs one scenario plan end to end: it wires the VU pool,
// executor, metrics aggregator and threshold evaluator together and
// produces a Report.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/wesleyorama2/loadcheck/internal/logging"
	"github.com/wesleyorama2/loadcheck/internal/performance"
	"github.com/wesleyorama2/loadcheck/internal/performance/config"
	"github.com/wesleyorama2/loadcheck/internal/performance/executor"
	"github.com/wesleyorama2/loadcheck/internal/performance/metrics"
	"github.com/wesleyorama2/loadcheck/internal/performance/threshold"
)

// DefaultEvaluationInterval is how often thresholds are evaluated during a
// run for early abort and how often a timeline bucket is closed.
const DefaultEvaluationInterval = time.Second

// ErrAlreadyRunning is returned by Run while a previous Run is in progress.
var ErrAlreadyRunning = errors.New("engine is already running")

// ThresholdAbortError is the cancellation cause recorded when an
// abort-on-fail threshold stops the run.
type ThresholdAbortError struct {
	Threshold threshold.Expr
	Message   string
}

func (e *ThresholdAbortError) Error() string {
	return fmt.Sprintf("threshold %s violated (%s)", e.Threshold, e.Message)
}

// Observer receives run progress. Methods are called from engine
// goroutines and must not block for long.
type Observer interface {
	// OnIteration is called once per completed iteration, after it has
	// been added to the aggregator.
	OnIteration(r performance.IterationResult)

	// OnInterval is called every evaluation interval with the bucket just
	// closed and the interim verdict.
	OnInterval(bucket *metrics.TimeBucket, verdict *threshold.Verdict)
}

// Engine is the orchestrator for one scenario.
//
// Example usage:
//
//	plan, _ := config.Load("scenario.yaml")
//	eng, _ := engine.New(plan, workload)
//	report, _ := eng.Run(ctx)
//	fmt.Println(report.Status())
type Engine struct {
	plan     *config.Plan
	workload performance.Workload

	logger        *slog.Logger
	observer      Observer
	evalInterval  time.Duration
	metricsConfig metrics.Config

	running atomic.Bool

	mu   sync.RWMutex
	exec executor.Executor
	agg  *metrics.Aggregator
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger used for run lifecycle events.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithObserver registers an observer for iteration and interval events.
func WithObserver(o Observer) Option {
	return func(e *Engine) {
		e.observer = o
	}
}

// WithEvaluationInterval sets how often thresholds are evaluated while
// the run is in progress.
func WithEvaluationInterval(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.evalInterval = d
		}
	}
}

// WithMetricsConfig overrides the aggregator configuration.
func WithMetricsConfig(c metrics.Config) Option {
	return func(e *Engine) {
		e.metricsConfig = c
	}
}

// New creates an engine that runs workload under plan.
func New(plan *config.Plan, workload performance.Workload, opts ...Option) (*Engine, error) {
	if plan == nil {
		return nil, fmt.Errorf("engine: plan is required")
	}
	if err := plan.Validate(); err != nil {
		return nil, fmt.Errorf("invalid plan: %w", err)
	}
	if workload == nil {
		return nil, fmt.Errorf("engine: workload is required")
	}

	e := &Engine{
		plan:          plan,
		workload:      workload,
		logger:        slog.Default(),
		evalInterval:  DefaultEvaluationInterval,
		metricsConfig: metrics.DefaultConfig(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Run executes the plan and returns its report.
//
// Cancelling ctx stops new iterations; in-flight ones drain under the
// plan's graceful stop policy and the report is still returned with a nil
// error. A failing scenario is not an error either: it is reported through
// the verdict. Run returns an error only when the run could not be carried
// out at all.
func (e *Engine) Run(ctx context.Context) (*Report, error) {
	if !e.running.CompareAndSwap(false, true) {
		return nil, ErrAlreadyRunning
	}
	defer e.running.Store(false)

	runID := uuid.NewString()
	logger := e.logger.With("run_id", runID, "scenario", e.plan.Name)
	ctx = logging.WithLogger(ctx, logger)

	exec, err := executor.New(e.plan)
	if err != nil {
		return nil, err
	}
	minVUs, maxVUs := e.plan.PoolBounds()
	pool, err := performance.NewVUPool(e.plan.Name, e.workload, minVUs, maxVUs)
	if err != nil {
		return nil, fmt.Errorf("failed to create vu pool: %w", err)
	}
	agg := metrics.NewWithConfig(e.metricsConfig)
	results := make(chan performance.IterationResult, maxVUs)

	e.mu.Lock()
	e.exec = exec
	e.agg = agg
	e.mu.Unlock()

	scheduleCtx, abort := context.WithCancelCause(ctx)
	defer abort(nil)

	startTime := time.Now()
	agg.Start(startTime)
	logger.Info("run started",
		"executor", e.plan.Executor,
		"thresholds", len(e.plan.Thresholds),
		"min_vus", minVUs,
		"max_vus", maxVUs)

	execDone := make(chan struct{})
	g, gctx := errgroup.WithContext(scheduleCtx)

	g.Go(func() error {
		defer close(execDone)
		defer close(results)
		return exec.Run(scheduleCtx, &executor.Env{
			Pool:    pool,
			Metrics: agg,
			Results: results,
		})
	})

	g.Go(func() error {
		for r := range results {
			agg.Add(r)
			if e.observer != nil {
				e.observer.OnIteration(r)
			}
		}
		return nil
	})

	g.Go(func() error {
		e.evaluate(gctx, execDone, agg, startTime, abort)
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("run failed", "error", err)
		return nil, fmt.Errorf("run %s: %w", e.plan.Name, err)
	}

	endTime := time.Now()
	agg.Emit()
	verdict := threshold.Evaluate(agg.Snapshot(), e.plan.Thresholds)

	report := &Report{
		RunID:         runID,
		Name:          e.plan.Name,
		Executor:      e.plan.Executor,
		StartTime:     startTime,
		EndTime:       endTime,
		Duration:      endTime.Sub(startTime),
		Verdict:       verdict,
		ExecutorStats: exec.Stats(),
		Timeline:      agg.Timeline(),
	}

	var thresholdAbort *ThresholdAbortError
	switch cause := context.Cause(scheduleCtx); {
	case errors.As(cause, &thresholdAbort):
		verdict.MarkAborted(thresholdAbort.Error(), true)
	case ctx.Err() != nil:
		verdict.MarkAborted(fmt.Sprintf("run cancelled: %v", context.Cause(ctx)), false)
	}

	logger.Info("run finished",
		"status", verdict.Status,
		"iterations", verdict.Snapshot.Count,
		"failures", verdict.Snapshot.FailureCount,
		"dropped", verdict.Snapshot.Dropped,
		"aborted", verdict.Aborted,
		"duration", report.Duration)
	return report, nil
}

// evaluate closes a timeline bucket and evaluates thresholds every
// interval until the executor is done, raising abort when an
// abort-on-fail threshold is violated.
func (e *Engine) evaluate(ctx context.Context, execDone <-chan struct{}, agg *metrics.Aggregator,
	startTime time.Time, abort context.CancelCauseFunc) {
	logger := logging.FromContext(ctx)

	ticker := time.NewTicker(e.evalInterval)
	defer ticker.Stop()

	for {
		select {
		case <-execDone:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		bucket := agg.Emit()
		verdict := threshold.Evaluate(agg.Snapshot(), e.plan.Thresholds)
		if e.observer != nil {
			e.observer.OnInterval(bucket, verdict)
		}

		expr, ok := verdict.AbortTrigger(time.Since(startTime))
		if !ok {
			continue
		}
		cause := &ThresholdAbortError{Threshold: expr}
		for _, r := range verdict.Results {
			if r.Expr.Source == expr.Source && r.Expr.Metric == expr.Metric {
				cause.Message = r.Message
				break
			}
		}
		logger.Warn("abort-on-fail threshold violated, stopping run", "threshold", expr.String(), "detail", cause.Message)
		abort(cause)
		return
	}
}

// Snapshot returns the current statistics of the run in progress or the
// last run, or nil before the first Run.
func (e *Engine) Snapshot() *metrics.Snapshot {
	e.mu.RLock()
	agg := e.agg
	e.mu.RUnlock()
	if agg == nil {
		return nil
	}
	return agg.Snapshot()
}

// Progress returns the executor's progress (0.0 to 1.0).
func (e *Engine) Progress() float64 {
	e.mu.RLock()
	exec := e.exec
	e.mu.RUnlock()
	if exec == nil {
		return 0
	}
	return exec.Progress()
}
