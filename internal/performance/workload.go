package performance

import (
	"context"
	"time"
)

// Checks maps check names to their pass/fail result for one iteration.
type Checks map[string]bool

// Iteration describes the iteration a workload is asked to run.
type Iteration struct {
	// Number is the run-wide sequence number of this iteration, starting at 0.
	Number int64

	// VU is the virtual user running the iteration. Workloads may keep
	// per-VU state in its data scope.
	VU *VirtualUser

	// Scenario is the name of the scenario being run.
	Scenario string

	// StartedAt is when the virtual user began the iteration.
	StartedAt time.Time

	requests    int
	requestTime time.Duration
}

// RecordRequest adds d to the time this iteration spent waiting on
// requests. It feeds http_req_duration; think time and other work between
// requests are left out.
func (it *Iteration) RecordRequest(d time.Duration) {
	it.requests++
	it.requestTime += d
}

// Workload performs one unit of work per iteration.
//
// Implementations issue their request(s), evaluate their check predicates
// and return the per-check results. A non-nil error marks the iteration as
// failed; the error text becomes the failure reason. Implementations must
// honour ctx cancellation while awaiting responses.
//
// RunIteration is called concurrently from many virtual users.
type Workload interface {
	RunIteration(ctx context.Context, it *Iteration) (Checks, error)
}

// WorkloadFunc adapts an ordinary function to the Workload interface.
type WorkloadFunc func(ctx context.Context, it *Iteration) (Checks, error)

// RunIteration calls f(ctx, it).
func (f WorkloadFunc) RunIteration(ctx context.Context, it *Iteration) (Checks, error) {
	return f(ctx, it)
}
