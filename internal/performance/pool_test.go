package performance_test

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
)

func noopWorkload() performance.Workload {
	return performance.WorkloadFunc(func(ctx context.Context, it *performance.Iteration) (performance.Checks, error) {
		return nil, nil
	})
}

func TestNewVUPool_Validation(t *testing.T) {
	tests := []struct {
		name     string
		workload performance.Workload
		min, max int
		wantErr  bool
	}{
		{"valid", noopWorkload(), 2, 4, false},
		{"min equals max", noopWorkload(), 4, 4, false},
		{"zero min", noopWorkload(), 0, 1, false},
		{"min above max", noopWorkload(), 5, 4, true},
		{"zero max", noopWorkload(), 0, 0, true},
		{"negative min", noopWorkload(), -1, 4, true},
		{"nil workload", nil, 1, 1, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := performance.NewVUPool("s", tt.workload, tt.min, tt.max)
			if (err != nil) != tt.wantErr {
				t.Errorf("NewVUPool() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestVUPool_PreallocatesAndGrows(t *testing.T) {
	pool, err := performance.NewVUPool("s", noopWorkload(), 2, 3)
	require.NoError(t, err)
	assert.Equal(t, 2, pool.Size())

	var vus []*performance.VirtualUser
	for i := 0; i < 3; i++ {
		vu, err := pool.Acquire()
		require.NoError(t, err)
		assert.Equal(t, performance.VUStateRunning, vu.State())
		vus = append(vus, vu)
	}
	assert.Equal(t, 3, pool.Size())
	assert.Equal(t, int64(3), pool.Running())

	_, err = pool.Acquire()
	assert.ErrorIs(t, err, performance.ErrCapacityExhausted)
	assert.Equal(t, 3, pool.Size(), "pool must not grow past max")

	require.NoError(t, pool.Release(vus[1]))
	assert.Equal(t, performance.VUStateIdle, vus[1].State())

	vu, err := pool.Acquire()
	require.NoError(t, err)
	assert.Same(t, vus[1], vu, "released slot should be reused")

	stats := pool.Stats()
	assert.Equal(t, int64(4), stats.Acquired)
	assert.Equal(t, int64(1), stats.Exhausted)
	assert.Equal(t, int64(3), stats.Peak)
	assert.Equal(t, 2, stats.Min)
	assert.Equal(t, 3, stats.Max)
}

func TestVUPool_DoubleReleaseRejected(t *testing.T) {
	pool, err := performance.NewVUPool("s", noopWorkload(), 1, 1)
	require.NoError(t, err)

	vu, err := pool.Acquire()
	require.NoError(t, err)
	require.NoError(t, pool.Release(vu))

	assert.Error(t, pool.Release(vu))
	assert.Equal(t, int64(0), pool.Running())

	// The pool still hands out exactly one slot.
	_, err = pool.Acquire()
	require.NoError(t, err)
	_, err = pool.Acquire()
	assert.True(t, errors.Is(err, performance.ErrCapacityExhausted))
}

// TestVUPool_NeverExceedsMax hammers the pool from many goroutines and
// checks that no slot is ever shared and the running count stays bounded.
func TestVUPool_NeverExceedsMax(t *testing.T) {
	const maxVUs = 8

	var inFlight, peak atomic.Int64
	var shared atomic.Int64

	pool, err := performance.NewVUPool("s", noopWorkload(), 2, maxVUs)
	require.NoError(t, err)

	owners := make([]atomic.Int32, maxVUs+1)

	var wg sync.WaitGroup
	for g := 0; g < 64; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				vu, err := pool.Acquire()
				if err != nil {
					continue
				}
				if !owners[vu.ID].CompareAndSwap(0, 1) {
					shared.Add(1)
				}
				n := inFlight.Add(1)
				for {
					p := peak.Load()
					if n <= p || peak.CompareAndSwap(p, n) {
						break
					}
				}
				time.Sleep(time.Microsecond)
				inFlight.Add(-1)
				owners[vu.ID].Store(0)
				if err := pool.Release(vu); err != nil {
					t.Errorf("Release() error = %v", err)
				}
			}
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, peak.Load(), int64(maxVUs))
	assert.LessOrEqual(t, pool.Stats().Peak, int64(maxVUs))
	assert.LessOrEqual(t, pool.Size(), maxVUs)
	assert.Zero(t, shared.Load(), "a slot was held by two iterations at once")
	assert.Zero(t, pool.Running())
}
