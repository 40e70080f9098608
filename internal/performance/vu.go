package performance

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// VUState represents the lifecycle state of a pool slot.
type VUState int32

const (
	// VUStateIdle indicates the VU is parked in the pool and may be acquired.
	VUStateIdle VUState = iota
	// VUStateRunning indicates the VU is borrowed and running one iteration.
	VUStateRunning
)

func (s VUState) String() string {
	switch s {
	case VUStateIdle:
		return "idle"
	case VUStateRunning:
		return "running"
	default:
		return "unknown"
	}
}

// VirtualUser is a reusable execution context owned by a VUPool.
//
// A VU runs at most one iteration at a time. Ownership is tracked with a
// compare-and-swap on its state, so a VU that is already running can never
// be handed out a second time.
//
// Each VU keeps its own variable scope which persists across the
// iterations it runs, letting workloads carry per-user state.
type VirtualUser struct {
	// ID is unique within the owning pool, starting at 1.
	ID int

	scenario string
	workload Workload

	// Lifecycle state (atomic for lock-free reads)
	state atomic.Int32

	// Number of iterations this VU has completed
	iterations atomic.Int64

	// Per-VU variable scope
	data   map[string]any
	dataMu sync.RWMutex
}

// NewVirtualUser creates an idle virtual user running workload.
func NewVirtualUser(id int, scenario string, workload Workload) *VirtualUser {
	return &VirtualUser{
		ID:       id,
		scenario: scenario,
		workload: workload,
		data:     make(map[string]any),
	}
}

// State returns the current VU state.
func (vu *VirtualUser) State() VUState {
	return VUState(vu.state.Load())
}

// Iterations returns how many iterations this VU has completed.
func (vu *VirtualUser) Iterations() int64 {
	return vu.iterations.Load()
}

func (vu *VirtualUser) claim() bool {
	return vu.state.CompareAndSwap(int32(VUStateIdle), int32(VUStateRunning))
}

func (vu *VirtualUser) free() bool {
	return vu.state.CompareAndSwap(int32(VUStateRunning), int32(VUStateIdle))
}

// RunIteration runs the workload once and packages the outcome.
//
// It never panics and never returns an error: workload errors, panics and
// timeouts become Failure(reason). A workload error returned after ctx was
// cancelled becomes Failure(cancelled); a workload that completed without
// error is a success even if ctx was cancelled as it returned. The checks
// map returned by the workload is copied so the result owns its data.
//
// RequestDuration is the request time the workload recorded on its
// Iteration, or the whole iteration latency when it recorded none.
func (vu *VirtualUser) RunIteration(ctx context.Context, number int64) (result IterationResult) {
	start := time.Now()
	result = IterationResult{
		Scenario:  vu.scenario,
		VUID:      vu.ID,
		Iteration: number,
		StartedAt: start,
	}

	it := &Iteration{
		Number:    number,
		VU:        vu,
		Scenario:  vu.scenario,
		StartedAt: start,
	}

	defer func() {
		result.Latency = time.Since(start)
		result.RequestDuration = result.Latency
		if it.requests > 0 {
			result.RequestDuration = it.requestTime
		}
		if r := recover(); r != nil {
			result.Outcome = Failure(fmt.Sprintf("panic: %v", r))
		}
		vu.iterations.Add(1)
	}()

	checks, err := vu.workload.RunIteration(ctx, it)
	result.Checks = copyChecks(checks)

	switch {
	case err != nil && ctx.Err() != nil:
		result.Outcome = Failure(ReasonCancelled)
	case err != nil:
		result.Outcome = Failure(err.Error())
	default:
		result.Outcome = Success()
	}
	return result
}

func copyChecks(in Checks) map[string]bool {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]bool, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// SetData stores a value in the VU's variable scope.
func (vu *VirtualUser) SetData(key string, value any) {
	vu.dataMu.Lock()
	defer vu.dataMu.Unlock()
	vu.data[key] = value
}

// GetData retrieves a value from the VU's variable scope.
func (vu *VirtualUser) GetData(key string) (any, bool) {
	vu.dataMu.RLock()
	defer vu.dataMu.RUnlock()
	val, ok := vu.data[key]
	return val, ok
}

// ClearData removes a value from the VU's variable scope.
func (vu *VirtualUser) ClearData(key string) {
	vu.dataMu.Lock()
	defer vu.dataMu.Unlock()
	delete(vu.data, key)
}
