// Package performance provides the load-generation core: virtual users,
// the elastic VU pool and the per-iteration results they produce.
package performance

import (
	"errors"
	"time"
)

// ReasonCancelled is the failure reason recorded for iterations that were
// abandoned because the run was cancelled.
const ReasonCancelled = "cancelled"

var (
	// ErrCapacityExhausted is returned by VUPool.Acquire when every slot is
	// busy and the pool is already at its maximum size.
	ErrCapacityExhausted = errors.New("vu pool capacity exhausted")

	// ErrCancelled marks work abandoned because of run cancellation.
	ErrCancelled = errors.New(ReasonCancelled)
)

// OutcomeKind classifies how an iteration ended.
type OutcomeKind int

const (
	// OutcomeSuccess indicates the workload returned without error.
	OutcomeSuccess OutcomeKind = iota
	// OutcomeFailure indicates an error, panic, timeout or cancellation.
	OutcomeFailure
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeSuccess:
		return "success"
	case OutcomeFailure:
		return "failure"
	default:
		return "unknown"
	}
}

// Outcome is either Success or Failure(reason).
type Outcome struct {
	Kind   OutcomeKind `json:"kind"`
	Reason string      `json:"reason,omitempty"`
}

// Success returns a successful outcome.
func Success() Outcome {
	return Outcome{Kind: OutcomeSuccess}
}

// Failure returns a failed outcome carrying reason.
func Failure(reason string) Outcome {
	return Outcome{Kind: OutcomeFailure, Reason: reason}
}

// Failed reports whether the outcome is a failure.
func (o Outcome) Failed() bool {
	return o.Kind == OutcomeFailure
}

func (o Outcome) String() string {
	if o.Failed() {
		return "failure(" + o.Reason + ")"
	}
	return "success"
}

// IterationResult is produced once per completed iteration and consumed
// exactly once by the metrics aggregator. It is never mutated after it
// leaves the virtual user that created it.
type IterationResult struct {
	Scenario  string          `json:"scenario,omitempty"`
	VUID      int             `json:"vuId"`
	Iteration int64           `json:"iteration"`
	StartedAt time.Time       `json:"startedAt"`
	Latency   time.Duration   `json:"latency"`
	Outcome   Outcome         `json:"outcome"`
	Checks    map[string]bool `json:"checks,omitempty"`

	// RequestDuration is the time spent in requests, which excludes think
	// time. It equals Latency for workloads that record no requests.
	RequestDuration time.Duration `json:"requestDuration"`
}
