package perf

import (
	"context"

	lchttp "github.com/wesleyorama2/loadcheck/internal/http"
	"github.com/wesleyorama2/loadcheck/internal/performance"
	"github.com/wesleyorama2/loadcheck/internal/performance/config"
	"github.com/wesleyorama2/loadcheck/internal/performance/engine"
	"github.com/wesleyorama2/loadcheck/internal/performance/threshold"
)

type (
	// Plan describes one run.
	Plan = config.Plan

	// Report is the outcome of a run.
	Report = engine.Report

	// Status is the verdict of a run: pass, fail or inconclusive.
	Status = threshold.Status

	// Threshold is a parsed pass/fail criterion on one metric.
	Threshold = threshold.Expr

	// Workload is executed once per iteration.
	Workload = performance.Workload

	// WorkloadFunc adapts a function to Workload.
	WorkloadFunc = performance.WorkloadFunc

	// Iteration identifies the iteration being executed.
	Iteration = performance.Iteration

	// Checks maps check names to their outcome for one iteration.
	Checks = performance.Checks

	// Observer receives per-iteration results and periodic snapshots.
	Observer = engine.Observer

	// Option configures a run.
	Option = engine.Option
)

// Executor names.
const (
	ExecutorConstantArrivalRate = config.ExecutorConstantArrivalRate
	ExecutorSharedIterations    = config.ExecutorSharedIterations
)

// Verdict statuses.
const (
	StatusPass         = threshold.StatusPass
	StatusFail         = threshold.StatusFail
	StatusInconclusive = threshold.StatusInconclusive
)

// Run options.
var (
	WithLogger             = engine.WithLogger
	WithObserver           = engine.WithObserver
	WithEvaluationInterval = engine.WithEvaluationInterval
)

// ParseThreshold parses a threshold expression such as "p(99)<100" for
// the given metric.
func ParseThreshold(metric, expr string) (Threshold, error) {
	return threshold.Parse(metric, expr)
}

// MustThreshold is like ParseThreshold but panics on error.
func MustThreshold(metric, expr string) Threshold {
	return threshold.MustParse(metric, expr)
}

// Run executes workload according to plan and returns the report.
func Run(ctx context.Context, plan *Plan, workload Workload, opts ...Option) (*Report, error) {
	eng, err := engine.New(plan, workload, opts...)
	if err != nil {
		return nil, err
	}
	return eng.Run(ctx)
}

// RunFile loads the scenario at path, applies variable overrides and runs
// its HTTP request with a default client.
func RunFile(ctx context.Context, path string, vars map[string]string, opts ...Option) (*Report, error) {
	plan, workload, err := lchttp.LoadScenario(path, vars, false)
	if err != nil {
		return nil, err
	}
	return Run(ctx, plan, workload, opts...)
}
