package engine

import (
	"time"

	"github.com/wesleyorama2/loadcheck/internal/performance/executor"
	"github.com/wesleyorama2/loadcheck/internal/performance/metrics"
	"github.com/wesleyorama2/loadcheck/internal/performance/threshold"
)

// Report contains the complete results of one run.
type Report struct {
	// Run metadata
	RunID     string        `json:"runId"`
	Name      string        `json:"name"`
	Executor  string        `json:"executor"`
	StartTime time.Time     `json:"startTime"`
	EndTime   time.Time     `json:"endTime"`
	Duration  time.Duration `json:"duration"`

	// Final threshold evaluation, including the snapshot it was made on
	Verdict *threshold.Verdict `json:"verdict"`

	ExecutorStats *executor.Stats       `json:"executorStats"`
	Timeline      []*metrics.TimeBucket `json:"timeline,omitempty"`
}

// Status returns the verdict status.
func (r *Report) Status() threshold.Status {
	if r == nil || r.Verdict == nil {
		return threshold.StatusInconclusive
	}
	return r.Verdict.Status
}

// Passed reports whether every threshold held.
func (r *Report) Passed() bool {
	return r.Status() == threshold.StatusPass
}

// Snapshot returns the final metrics snapshot.
func (r *Report) Snapshot() *metrics.Snapshot {
	if r == nil || r.Verdict == nil {
		return nil
	}
	return r.Verdict.Snapshot
}
