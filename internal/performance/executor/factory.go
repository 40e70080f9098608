package executor

import (
	"fmt"

	"github.com/wesleyorama2/loadcheck/internal/performance/config"
)

// New creates the executor selected by plan.Executor.
//
// Supported types:
//   - "constant-arrival-rate" - Fixed iteration start rate (open model)
//   - "shared-iterations" - Fixed iteration budget across a fixed VU set
func New(plan *config.Plan) (Executor, error) {
	if plan == nil {
		return nil, fmt.Errorf("executor: nil plan")
	}
	if err := plan.Validate(); err != nil {
		return nil, fmt.Errorf("executor: %w", err)
	}

	switch Type(plan.Executor) {
	case TypeConstantArrivalRate:
		return NewConstantArrivalRate(plan), nil
	case TypeSharedIterations:
		return NewSharedIterations(plan), nil
	default:
		return nil, fmt.Errorf("unknown executor type: %s", plan.Executor)
	}
}

// Description provides documentation for an executor type.
type Description struct {
	Type        Type
	Name        string
	Description string
	UseCases    []string
}

// Describe returns documentation for an executor type, or nil.
func Describe(executorType Type) *Description {
	switch executorType {
	case TypeConstantArrivalRate:
		return &Description{
			Type:        TypeConstantArrivalRate,
			Name:        "Constant Arrival Rate",
			Description: "Starts iterations at a fixed rate regardless of response time. Starts the pool cannot serve are dropped, never queued.",
			UseCases: []string{
				"SLA validation (e.g., 1000 requests/s with p99 under 100ms)",
				"Finding the rate at which the VU pool saturates",
			},
		}
	case TypeSharedIterations:
		return &Description{
			Type:        TypeSharedIterations,
			Name:        "Shared Iterations",
			Description: "Releases a fixed set of VUs together and shares an iteration budget between them.",
			UseCases: []string{
				"Race condition tests (N clients submitting the same request at once)",
				"Fixed-size smoke runs",
			},
		}
	default:
		return nil
	}
}
