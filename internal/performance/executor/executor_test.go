package executor_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wesleyorama2/loadcheck/internal/performance"
	"github.com/wesleyorama2/loadcheck/internal/performance/config"
	"github.com/wesleyorama2/loadcheck/internal/performance/executor"
	"github.com/wesleyorama2/loadcheck/internal/performance/metrics"
)

func arrivalPlan(rate float64, duration time.Duration, min, max int) *config.Plan {
	return &config.Plan{
		Name:         "arrival-rate-test",
		Executor:     config.ExecutorConstantArrivalRate,
		ArrivalRate:  rate,
		TimeUnit:     time.Second,
		Duration:     duration,
		MinContexts:  min,
		MaxContexts:  max,
		TickInterval: 10 * time.Millisecond,
		GracefulStop: 5 * time.Second,
	}
}

func sharedPlan(vus int, iterations int64) *config.Plan {
	return &config.Plan{
		Name:         "shared-test",
		Executor:     config.ExecutorSharedIterations,
		VUs:          vus,
		Iterations:   iterations,
		MaxDuration:  10 * time.Second,
		TickInterval: 10 * time.Millisecond,
		GracefulStop: 5 * time.Second,
	}
}

func sleepWorkload(d time.Duration) performance.Workload {
	return performance.WorkloadFunc(func(ctx context.Context, _ *performance.Iteration) (performance.Checks, error) {
		select {
		case <-time.After(d):
			return nil, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	})
}

func blockingWorkload() performance.Workload {
	return performance.WorkloadFunc(func(ctx context.Context, _ *performance.Iteration) (performance.Checks, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
}

func newEnv(t *testing.T, plan *config.Plan, w performance.Workload) (*executor.Env, *metrics.Aggregator) {
	t.Helper()
	min, max := plan.PoolBounds()
	pool, err := performance.NewVUPool(plan.Name, w, min, max)
	require.NoError(t, err)
	agg := metrics.New()
	return &executor.Env{Pool: pool, Metrics: agg}, agg
}

func run(t *testing.T, plan *config.Plan, env *executor.Env) *executor.Stats {
	t.Helper()
	exec, err := executor.New(plan)
	require.NoError(t, err)
	require.NoError(t, exec.Run(context.Background(), env))
	return exec.Stats()
}

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		plan    *config.Plan
		want    executor.Type
		wantErr bool
	}{
		{"constant arrival rate", arrivalPlan(10, time.Second, 1, 1), executor.TypeConstantArrivalRate, false},
		{"shared iterations", sharedPlan(2, 4), executor.TypeSharedIterations, false},
		{"nil plan", nil, "", true},
		{"invalid plan", &config.Plan{Executor: "ramping-vus"}, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			exec, err := executor.New(tt.plan)
			if (err != nil) != tt.wantErr {
				t.Fatalf("New() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if exec.Type() != tt.want {
				t.Errorf("Type() = %v, want %v", exec.Type(), tt.want)
			}
			if exec.Progress() != 0 {
				t.Errorf("Progress() = %v before Run, want 0", exec.Progress())
			}
		})
	}
}

func TestDescribe(t *testing.T) {
	assert.Equal(t, "Constant Arrival Rate", executor.Describe(executor.TypeConstantArrivalRate).Name)
	assert.NotNil(t, executor.Describe(executor.TypeSharedIterations))
	assert.Nil(t, executor.Describe("ramping-vus"))
}

func TestConstantArrivalRate_StartsExpectedCount(t *testing.T) {
	plan := arrivalPlan(200, 500*time.Millisecond, 5, 50)
	env, agg := newEnv(t, plan, sleepWorkload(time.Millisecond))

	stats := run(t, plan, env)

	// floor(200/s * 0.5s); the last tick is clamped to the duration
	assert.Equal(t, int64(100), stats.Started+stats.Dropped)
	assert.Equal(t, int64(0), stats.Dropped)
	assert.Equal(t, stats.Started, stats.Completed)
	assert.False(t, stats.Abandoned)
	assert.Equal(t, int64(0), stats.Pool.Running)

	require.NotNil(t, stats.Quota)
	assert.Equal(t, int64(100), stats.Quota.Issued)
	assert.Equal(t, 500*time.Millisecond, stats.Quota.Elapsed)
	assert.Positive(t, stats.Quota.Ticks)

	snap := agg.Snapshot()
	assert.Equal(t, int64(100), snap.Count)
	assert.Equal(t, int64(0), snap.FailureCount)
}

func TestConstantArrivalRate_FractionalRate(t *testing.T) {
	plan := arrivalPlan(90, 300*time.Millisecond, 1, 10)
	plan.TimeUnit = time.Minute
	env, agg := newEnv(t, plan, sleepWorkload(0))

	stats := run(t, plan, env)

	// 1.5/s over 0.3s is 0.45 starts: none are due.
	assert.Equal(t, int64(0), stats.Started)
	assert.Equal(t, int64(0), agg.Snapshot().Count)
	require.NotNil(t, stats.Quota)
	assert.Equal(t, int64(0), stats.Quota.Issued)
	assert.InDelta(t, 0.45, stats.Quota.Carry, 1e-6)
}

func TestConstantArrivalRate_SaturationDropsWithoutFailures(t *testing.T) {
	plan := arrivalPlan(1000, 200*time.Millisecond, 0, 2)
	env, agg := newEnv(t, plan, sleepWorkload(50*time.Millisecond))

	stats := run(t, plan, env)

	assert.Equal(t, int64(200), stats.Started+stats.Dropped, "every due start is either made or dropped")
	assert.Greater(t, stats.Dropped, int64(0))
	assert.Greater(t, stats.CapacityExhaustedTicks, int64(0))
	assert.LessOrEqual(t, stats.Pool.Peak, int64(2))

	snap := agg.Snapshot()
	assert.Equal(t, stats.Started, snap.Count)
	assert.Equal(t, int64(0), snap.FailureCount, "capacity exhaustion is not an iteration failure")
	assert.Equal(t, stats.Dropped, snap.Dropped)
	assert.Equal(t, stats.CapacityExhaustedTicks, snap.CapacityExhaustedTicks)
}

func TestConstantArrivalRate_ResultsChannel(t *testing.T) {
	plan := arrivalPlan(100, 200*time.Millisecond, 2, 4)
	env, agg := newEnv(t, plan, sleepWorkload(time.Millisecond))
	results := make(chan performance.IterationResult, 4)
	env.Results = results

	var received []performance.IterationResult
	done := make(chan struct{})
	go func() {
		defer close(done)
		for r := range results {
			received = append(received, r)
		}
	}()

	stats := run(t, plan, env)
	close(results)
	<-done

	assert.Len(t, received, int(stats.Completed))
	assert.Equal(t, int64(0), agg.Snapshot().Count, "results go to the channel, not the aggregator")

	seen := make(map[int64]bool)
	for _, r := range received {
		assert.False(t, seen[r.Iteration], "iteration %d reported twice", r.Iteration)
		seen[r.Iteration] = true
	}
}

func TestConstantArrivalRate_GracefulStopLetsIterationsFinish(t *testing.T) {
	plan := arrivalPlan(100, 50*time.Millisecond, 10, 10)
	env, agg := newEnv(t, plan, sleepWorkload(150*time.Millisecond))

	stats := run(t, plan, env)

	assert.False(t, stats.Abandoned)
	snap := agg.Snapshot()
	assert.Equal(t, stats.Started, snap.Count)
	assert.Equal(t, int64(0), snap.FailureCount)
}

func TestConstantArrivalRate_GracefulStopExpires(t *testing.T) {
	plan := arrivalPlan(100, 50*time.Millisecond, 10, 10)
	plan.GracefulStop = 50 * time.Millisecond
	env, agg := newEnv(t, plan, blockingWorkload())

	begin := time.Now()
	stats := run(t, plan, env)

	assert.Less(t, time.Since(begin), 2*time.Second)
	assert.True(t, stats.Abandoned)
	snap := agg.Snapshot()
	require.Greater(t, snap.Count, int64(0))
	assert.Equal(t, snap.Count, snap.FailureCount)
	assert.Equal(t, snap.Count, snap.FailureReasons[performance.ReasonCancelled])
}

func TestConstantArrivalRate_HardStopOnCancel(t *testing.T) {
	plan := arrivalPlan(100, 10*time.Second, 10, 10)
	plan.HardStop = true
	env, agg := newEnv(t, plan, blockingWorkload())

	exec, err := executor.New(plan)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	begin := time.Now()
	require.NoError(t, exec.Run(ctx, env))
	assert.Less(t, time.Since(begin), 2*time.Second, "hard stop must not wait for the graceful window")

	stats := exec.Stats()
	assert.True(t, stats.Abandoned)
	assert.Less(t, stats.Started, int64(1000))
	assert.Equal(t, 1.0, exec.Progress())

	snap := agg.Snapshot()
	assert.Equal(t, stats.Started, snap.Count)
	assert.Equal(t, snap.Count, snap.FailureReasons[performance.ReasonCancelled])
	assert.Equal(t, int64(0), env.Pool.Running())
}

func TestConstantArrivalRate_CancelWithoutHardStopDrains(t *testing.T) {
	plan := arrivalPlan(100, 10*time.Second, 10, 10)
	env, agg := newEnv(t, plan, sleepWorkload(100*time.Millisecond))

	exec, err := executor.New(plan)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	require.NoError(t, exec.Run(ctx, env))

	stats := exec.Stats()
	assert.False(t, stats.Abandoned)
	snap := agg.Snapshot()
	assert.Equal(t, stats.Started, snap.Count)
	assert.Equal(t, int64(0), snap.FailureCount, "in-flight iterations finish naturally")
}

func TestConstantArrivalRate_NoSlotSharedByTwoIterations(t *testing.T) {
	plan := arrivalPlan(2000, 300*time.Millisecond, 0, 8)

	var mu sync.Mutex
	busy := make(map[int]bool)
	var overlaps atomic.Int64
	w := performance.WorkloadFunc(func(ctx context.Context, it *performance.Iteration) (performance.Checks, error) {
		mu.Lock()
		if busy[it.VU.ID] {
			overlaps.Add(1)
		}
		busy[it.VU.ID] = true
		mu.Unlock()

		time.Sleep(2 * time.Millisecond)

		mu.Lock()
		busy[it.VU.ID] = false
		mu.Unlock()
		return nil, nil
	})
	env, _ := newEnv(t, plan, w)

	stats := run(t, plan, env)

	assert.Equal(t, int64(0), overlaps.Load())
	assert.LessOrEqual(t, stats.Pool.Peak, int64(8))
	assert.LessOrEqual(t, stats.Pool.Size, 8)
}

func TestSharedIterations_RunsExactBudget(t *testing.T) {
	plan := sharedPlan(10, 50)

	var mu sync.Mutex
	numbers := make(map[int64]int)
	w := performance.WorkloadFunc(func(ctx context.Context, it *performance.Iteration) (performance.Checks, error) {
		mu.Lock()
		numbers[it.Number]++
		mu.Unlock()
		return performance.Checks{"ok": true}, nil
	})
	env, agg := newEnv(t, plan, w)

	stats := run(t, plan, env)

	assert.Equal(t, int64(50), stats.Completed)
	assert.Equal(t, int64(50), stats.TotalIterations)
	assert.Len(t, numbers, 50)
	for n, count := range numbers {
		assert.Equal(t, 1, count, "iteration %d", n)
		assert.Less(t, n, int64(50))
	}

	snap := agg.Snapshot()
	assert.Equal(t, int64(50), snap.Count)
	assert.Equal(t, int64(50), snap.Checks["ok"].Passes)
	assert.Equal(t, int64(0), env.Pool.Running())
}

func TestSharedIterations_StartGateReleasesAllVUsTogether(t *testing.T) {
	const vus = 10
	plan := sharedPlan(vus, vus)

	var arrived atomic.Int64
	allHere := make(chan struct{})
	w := performance.WorkloadFunc(func(ctx context.Context, it *performance.Iteration) (performance.Checks, error) {
		if arrived.Add(1) == vus {
			close(allHere)
		}
		select {
		case <-allHere:
			return nil, nil
		case <-time.After(2 * time.Second):
			return nil, errors.New("not all vus were running at once")
		}
	})
	env, agg := newEnv(t, plan, w)

	run(t, plan, env)

	snap := agg.Snapshot()
	assert.Equal(t, int64(vus), snap.Count)
	assert.Equal(t, int64(0), snap.FailureCount)
}

func TestSharedIterations_MaxDuration(t *testing.T) {
	plan := sharedPlan(2, 1000)
	plan.MaxDuration = 100 * time.Millisecond
	env, agg := newEnv(t, plan, sleepWorkload(20*time.Millisecond))

	begin := time.Now()
	stats := run(t, plan, env)

	assert.Less(t, time.Since(begin), 2*time.Second)
	assert.Less(t, stats.Completed, int64(1000))
	assert.Equal(t, stats.Completed, agg.Snapshot().Count)
}

func TestSharedIterations_PoolTooSmall(t *testing.T) {
	plan := sharedPlan(4, 4)
	pool, err := performance.NewVUPool(plan.Name, sleepWorkload(0), 0, 2)
	require.NoError(t, err)

	exec, err := executor.New(plan)
	require.NoError(t, err)
	err = exec.Run(context.Background(), &executor.Env{Pool: pool})
	require.Error(t, err)
	assert.ErrorIs(t, err, performance.ErrCapacityExhausted)
	assert.Equal(t, int64(0), pool.Running(), "partially acquired vus are returned")
}
