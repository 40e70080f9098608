package engine_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wesleyorama2/loadcheck/internal/logging"
	"github.com/wesleyorama2/loadcheck/internal/performance"
	"github.com/wesleyorama2/loadcheck/internal/performance/config"
	"github.com/wesleyorama2/loadcheck/internal/performance/engine"
	"github.com/wesleyorama2/loadcheck/internal/performance/metrics"
	"github.com/wesleyorama2/loadcheck/internal/performance/threshold"
)

func arrivalPlan(rate float64, duration time.Duration, minVUs, maxVUs int, thresholds ...threshold.Expr) *config.Plan {
	return &config.Plan{
		Name:         "engine-test",
		Executor:     config.ExecutorConstantArrivalRate,
		ArrivalRate:  rate,
		TimeUnit:     time.Second,
		Duration:     duration,
		MinContexts:  minVUs,
		MaxContexts:  maxVUs,
		TickInterval: 10 * time.Millisecond,
		GracefulStop: 5 * time.Second,
		Thresholds:   thresholds,
	}
}

func sleepWorkload(d time.Duration) performance.Workload {
	return performance.WorkloadFunc(func(ctx context.Context, _ *performance.Iteration) (performance.Checks, error) {
		select {
		case <-time.After(d):
			return performance.Checks{"status is 200": true}, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	})
}

func newEngine(t *testing.T, plan *config.Plan, w performance.Workload, opts ...engine.Option) *engine.Engine {
	t.Helper()
	opts = append([]engine.Option{engine.WithLogger(logging.Discard())}, opts...)
	eng, err := engine.New(plan, w, opts...)
	require.NoError(t, err)
	return eng
}

func TestNew_Validation(t *testing.T) {
	valid := arrivalPlan(10, time.Second, 1, 1)
	tests := []struct {
		name     string
		plan     *config.Plan
		workload performance.Workload
	}{
		{"nil plan", nil, sleepWorkload(0)},
		{"invalid plan", &config.Plan{Executor: config.ExecutorConstantArrivalRate}, sleepWorkload(0)},
		{"nil workload", valid, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := engine.New(tt.plan, tt.workload); err == nil {
				t.Error("New() error = nil, want error")
			}
		})
	}
}

func TestRun_LatencyThresholdPasses(t *testing.T) {
	plan := arrivalPlan(200, 500*time.Millisecond, 20, 50,
		threshold.MustParse("http_req_duration", "p(99)<100"),
		threshold.MustParse("http_req_failed", "rate==0"),
		threshold.MustParse("checks", "rate>0.99"),
	)
	eng := newEngine(t, plan, sleepWorkload(5*time.Millisecond))

	report, err := eng.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, threshold.StatusPass, report.Status())
	assert.True(t, report.Passed())
	assert.False(t, report.Verdict.Aborted)
	assert.NotEmpty(t, report.RunID)
	assert.Equal(t, "engine-test", report.Name)
	assert.True(t, report.EndTime.After(report.StartTime))

	snap := report.Snapshot()
	assert.Equal(t, int64(100), snap.Count+snap.Dropped)
	assert.Equal(t, int64(0), snap.FailureCount)
	assert.GreaterOrEqual(t, snap.Quantile(99), 5*time.Millisecond)
	assert.Equal(t, snap.Count, snap.Checks["status is 200"].Passes)
	assert.Equal(t, snap.Count, report.ExecutorStats.Completed)
	assert.NotEmpty(t, report.Timeline)
	assert.Equal(t, 1.0, eng.Progress())
}

func TestRun_SaturationIsNotFailure(t *testing.T) {
	plan := arrivalPlan(1000, 300*time.Millisecond, 0, 4,
		threshold.MustParse("iteration_failed", "rate==0"),
		threshold.MustParse("dropped_iterations", "count==0"),
	)
	eng := newEngine(t, plan, sleepWorkload(50*time.Millisecond))

	report, err := eng.Run(context.Background())
	require.NoError(t, err)

	snap := report.Snapshot()
	assert.Greater(t, snap.Dropped, int64(0))
	assert.Greater(t, snap.CapacityExhaustedTicks, int64(0))
	assert.Equal(t, int64(0), snap.FailureCount)
	assert.Equal(t, int64(300), snap.Count+snap.Dropped)
	assert.LessOrEqual(t, report.ExecutorStats.Pool.Peak, int64(4))

	require.Len(t, report.Verdict.Results, 2)
	byMetric := make(map[string]threshold.ResultStatus)
	for _, r := range report.Verdict.Results {
		byMetric[r.Expr.Metric] = r.Status
	}
	assert.Equal(t, threshold.Passed, byMetric["iteration_failed"])
	assert.Equal(t, threshold.Violated, byMetric["dropped_iterations"])
	assert.Equal(t, threshold.StatusFail, report.Status())
}

// orderService creates at most one order per key when locked. Without the
// lock, concurrent creators can all pass the existence check.
type orderService struct {
	locked  bool
	mu      sync.Mutex
	exists  atomic.Bool
	created atomic.Int64
}

func (s *orderService) create(ctx context.Context) (bool, error) {
	if s.locked {
		s.mu.Lock()
		defer s.mu.Unlock()
	}
	if s.exists.Load() {
		return false, nil
	}
	select {
	case <-time.After(5 * time.Millisecond):
	case <-ctx.Done():
		return false, ctx.Err()
	}
	s.exists.Store(true)
	s.created.Add(1)
	return true, nil
}

func TestRun_RaceScenario(t *testing.T) {
	tests := []struct {
		name   string
		locked bool
	}{
		{"without lock", false},
		{"with lock", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &orderService{locked: tt.locked}
			w := performance.WorkloadFunc(func(ctx context.Context, _ *performance.Iteration) (performance.Checks, error) {
				created, err := svc.create(ctx)
				return performance.Checks{"order created": created}, err
			})
			plan := &config.Plan{
				Name:         "order-race",
				Executor:     config.ExecutorSharedIterations,
				VUs:          100,
				Iterations:   100,
				MaxDuration:  30 * time.Second,
				TickInterval: 10 * time.Millisecond,
				GracefulStop: 5 * time.Second,
				Thresholds:   []threshold.Expr{threshold.MustParse("iterations", "count==100")},
			}
			eng := newEngine(t, plan, w)

			report, err := eng.Run(context.Background())
			require.NoError(t, err)
			require.Equal(t, threshold.StatusPass, report.Status())

			snap := report.Snapshot()
			assert.Equal(t, int64(100), snap.Count)
			assert.Equal(t, svc.created.Load(), snap.Checks["order created"].Passes)
			if tt.locked {
				assert.Equal(t, int64(1), svc.created.Load(), "locking service must create exactly one order")
			} else {
				assert.Greater(t, svc.created.Load(), int64(1), "simultaneous start must expose the race")
			}
		})
	}
}

func TestRun_AbortOnFail(t *testing.T) {
	abort := threshold.MustParse("http_req_failed", "rate==0")
	abort.AbortOnFail = true
	plan := arrivalPlan(100, 10*time.Second, 5, 10, abort)

	failing := performance.WorkloadFunc(func(ctx context.Context, _ *performance.Iteration) (performance.Checks, error) {
		return nil, errors.New("503 Service Unavailable")
	})
	eng := newEngine(t, plan, failing, engine.WithEvaluationInterval(20*time.Millisecond))

	begin := time.Now()
	report, err := eng.Run(context.Background())
	require.NoError(t, err)

	assert.Less(t, time.Since(begin), 5*time.Second, "abort must stop the run early")
	assert.True(t, report.Verdict.Aborted)
	assert.Contains(t, report.Verdict.AbortReason, "http_req_failed")
	assert.Equal(t, threshold.StatusFail, report.Status())
	assert.Equal(t, report.Snapshot().Count, report.Snapshot().FailureReasons["503 Service Unavailable"])
}

func TestRun_DelayAbortEval(t *testing.T) {
	abort := threshold.MustParse("http_req_failed", "rate==0")
	abort.AbortOnFail = true
	abort.DelayAbortEval = time.Hour
	plan := arrivalPlan(100, 200*time.Millisecond, 5, 10, abort)

	failing := performance.WorkloadFunc(func(ctx context.Context, _ *performance.Iteration) (performance.Checks, error) {
		return nil, errors.New("boom")
	})
	eng := newEngine(t, plan, failing, engine.WithEvaluationInterval(20*time.Millisecond))

	report, err := eng.Run(context.Background())
	require.NoError(t, err)

	assert.False(t, report.Verdict.Aborted)
	assert.Equal(t, threshold.StatusFail, report.Status())
	assert.Equal(t, int64(20), report.Snapshot().Count+report.Snapshot().Dropped)
}

func TestRun_HardStopCancelsInFlight(t *testing.T) {
	plan := arrivalPlan(100, 10*time.Second, 10, 10)
	plan.HardStop = true
	blocking := performance.WorkloadFunc(func(ctx context.Context, _ *performance.Iteration) (performance.Checks, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	eng := newEngine(t, plan, blocking)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	begin := time.Now()
	report, err := eng.Run(ctx)
	require.NoError(t, err, "external cancellation still yields a report")
	assert.Less(t, time.Since(begin), 2*time.Second)

	assert.True(t, report.Verdict.Aborted)
	assert.Contains(t, report.Verdict.AbortReason, "cancelled")
	assert.True(t, report.ExecutorStats.Abandoned)

	snap := report.Snapshot()
	require.Greater(t, snap.Count, int64(0))
	assert.Equal(t, snap.Count, snap.FailureReasons[performance.ReasonCancelled])
}

func TestRun_ZeroSamplesInconclusive(t *testing.T) {
	plan := arrivalPlan(1, 200*time.Millisecond, 1, 1, threshold.MustParse("http_req_duration", "p(99)<100"))
	plan.TimeUnit = time.Minute
	eng := newEngine(t, plan, sleepWorkload(0))

	report, err := eng.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, int64(0), report.Snapshot().Count)
	assert.Equal(t, threshold.StatusInconclusive, report.Status())
	assert.False(t, report.Passed())
	require.Len(t, report.Verdict.NotEvaluable, 1)
	assert.Empty(t, report.Verdict.Violated)
}

func TestRun_AlreadyRunning(t *testing.T) {
	plan := arrivalPlan(100, 10*time.Second, 1, 10)
	started := make(chan struct{})
	var once sync.Once
	w := performance.WorkloadFunc(func(ctx context.Context, _ *performance.Iteration) (performance.Checks, error) {
		once.Do(func() { close(started) })
		return nil, nil
	})
	eng := newEngine(t, plan, w)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() {
		_, err := eng.Run(ctx)
		done <- err
	}()

	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("first run never started an iteration")
	}

	_, err := eng.Run(context.Background())
	assert.ErrorIs(t, err, engine.ErrAlreadyRunning)

	cancel()
	require.NoError(t, <-done)
}

type countingObserver struct {
	iterations atomic.Int64
	intervals  atomic.Int64
}

func (o *countingObserver) OnIteration(performance.IterationResult) {
	o.iterations.Add(1)
}

func (o *countingObserver) OnInterval(*metrics.TimeBucket, *threshold.Verdict) {
	o.intervals.Add(1)
}

func TestRun_Observer(t *testing.T) {
	plan := arrivalPlan(100, 300*time.Millisecond, 2, 10)
	obs := &countingObserver{}
	eng := newEngine(t, plan, sleepWorkload(time.Millisecond),
		engine.WithObserver(obs),
		engine.WithEvaluationInterval(20*time.Millisecond))

	report, err := eng.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, report.Snapshot().Count, obs.iterations.Load())
	assert.Greater(t, obs.intervals.Load(), int64(0))
	assert.Equal(t, threshold.StatusPass, report.Status(), "no thresholds passes")
	assert.NotNil(t, eng.Snapshot())
}

func TestRun_WorkloadPanicIsFailure(t *testing.T) {
	plan := arrivalPlan(100, 100*time.Millisecond, 2, 4, threshold.MustParse("iteration_failed", "rate<0.5"))
	w := performance.WorkloadFunc(func(ctx context.Context, it *performance.Iteration) (performance.Checks, error) {
		panic("nil map write")
	})
	eng := newEngine(t, plan, w)

	report, err := eng.Run(context.Background())
	require.NoError(t, err)

	snap := report.Snapshot()
	require.Greater(t, snap.Count, int64(0))
	assert.Equal(t, snap.Count, snap.FailureCount)
	assert.Equal(t, snap.Count, snap.FailureReasons["panic: nil map write"])
	assert.Equal(t, threshold.StatusFail, report.Status())
}
