package threshold

import (
	"fmt"
	"strconv"
	"time"

	"github.com/wesleyorama2/loadcheck/internal/performance/metrics"
)

// ResultStatus is the outcome of evaluating one threshold.
type ResultStatus int

const (
	// Passed means the predicate held.
	Passed ResultStatus = iota
	// Violated means the predicate did not hold.
	Violated
	// NotEvaluable means the metric had no samples to judge.
	NotEvaluable
)

func (s ResultStatus) String() string {
	switch s {
	case Passed:
		return "passed"
	case Violated:
		return "violated"
	case NotEvaluable:
		return "not evaluable"
	default:
		return "unknown"
	}
}

// MarshalText encodes the status by name.
func (s ResultStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Status classifies a whole verdict.
type Status string

const (
	StatusPass         Status = "pass"
	StatusFail         Status = "fail"
	StatusInconclusive Status = "inconclusive"
)

// Result holds the evaluation of one threshold.
type Result struct {
	Expr     Expr         `json:"expr"`
	Status   ResultStatus `json:"status"`
	Observed float64      `json:"observed"`
	Message  string       `json:"message"`
}

// Verdict is the classification of a snapshot against a set of thresholds.
//
// Pass is true only when every threshold was evaluable and none was
// violated. A verdict with violations has Status fail; one with no
// violations but at least one threshold lacking samples is inconclusive.
type Verdict struct {
	Status       Status            `json:"status"`
	Pass         bool              `json:"pass"`
	Violated     []Expr            `json:"violated,omitempty"`
	NotEvaluable []Expr            `json:"notEvaluable,omitempty"`
	Results      []Result          `json:"results"`
	Snapshot     *metrics.Snapshot `json:"snapshot"`

	// Aborted is set when the run was cut short.
	Aborted     bool   `json:"aborted"`
	AbortReason string `json:"abortReason,omitempty"`
}

// Evaluate classifies snap against exprs.
//
// Evaluate has no side effects; evaluating the same snapshot twice yields
// identical verdicts. It is used both for periodic early-abort checks and
// for the final verdict of a run.
func Evaluate(snap *metrics.Snapshot, exprs []Expr) *Verdict {
	v := &Verdict{
		Results:  make([]Result, 0, len(exprs)),
		Snapshot: snap,
	}

	for _, e := range exprs {
		r := evaluateOne(snap, e)
		switch r.Status {
		case Violated:
			v.Violated = append(v.Violated, e)
		case NotEvaluable:
			v.NotEvaluable = append(v.NotEvaluable, e)
		}
		v.Results = append(v.Results, r)
	}

	switch {
	case len(v.Violated) > 0:
		v.Status = StatusFail
	case len(v.NotEvaluable) > 0:
		v.Status = StatusInconclusive
	default:
		v.Status = StatusPass
	}
	v.Pass = v.Status == StatusPass
	return v
}

// AbortTrigger returns the first violated abort-on-fail threshold whose
// evaluation delay has passed at elapsed.
func (v *Verdict) AbortTrigger(elapsed time.Duration) (Expr, bool) {
	for _, r := range v.Results {
		if r.Status == Violated && r.Expr.AbortOnFail && elapsed >= r.Expr.DelayAbortEval {
			return r.Expr, true
		}
	}
	return Expr{}, false
}

// MarkAborted records that the run was cut short. An abort raised by an
// abort-on-fail threshold fails the verdict even if the final snapshot no
// longer violates it.
func (v *Verdict) MarkAborted(reason string, byThreshold bool) {
	v.Aborted = true
	v.AbortReason = reason
	if byThreshold {
		v.Status = StatusFail
		v.Pass = false
	}
}

func evaluateOne(snap *metrics.Snapshot, e Expr) Result {
	r := Result{Expr: e}

	observed, ok := observe(snap, e)
	if !ok {
		r.Status = NotEvaluable
		r.Message = fmt.Sprintf("%s %s: no samples", e.Metric, e.Stat())
		return r
	}

	r.Observed = observed
	if e.Op.Compare(observed, e.Bound) {
		r.Status = Passed
	} else {
		r.Status = Violated
	}
	r.Message = fmt.Sprintf("%s %s = %s, want %s %s",
		e.Metric, e.Stat(), formatValue(e, observed), e.Op, formatValue(e, e.Bound))
	return r
}

// observe extracts the value e compares; ok is false when the metric has
// no samples in snap.
func observe(snap *metrics.Snapshot, e Expr) (float64, bool) {
	if snap == nil {
		return 0, false
	}

	switch e.Kind {
	case KindLatency:
		if snap.Count == 0 {
			return 0, false
		}
		// http_req_duration leaves out think time; iteration_duration is
		// the wall clock of the whole iteration.
		stats, quantile := snap.Latency, snap.Quantile
		if e.Metric == MetricHTTPReqDuration {
			stats, quantile = snap.RequestLatency, snap.RequestQuantile
		}
		var d time.Duration
		switch e.Aggregation {
		case AggPercentile:
			d = quantile(e.Percentile)
		case AggMed:
			d = quantile(50)
		case AggAvg:
			d = stats.Mean
		case AggMin:
			d = stats.Min
		case AggMax:
			d = stats.Max
		}
		return float64(d) / float64(time.Millisecond), true

	case KindRate:
		if e.Metric == MetricChecks {
			total := snap.CheckTotals()
			if total.Total() == 0 {
				return 0, false
			}
			return float64(total.Passes) / float64(total.Total()), true
		}
		return snap.FailureRate()

	case KindCounter:
		// The sample basis for counters is every scheduled start, so a run
		// that dropped everything still has data.
		if snap.Count+snap.Dropped == 0 {
			return 0, false
		}
		n := snap.Count
		if e.Metric == MetricDroppedIterations {
			n = snap.Dropped
		}
		if e.Aggregation == AggCount {
			return float64(n), true
		}
		if snap.Elapsed <= 0 {
			return 0, false
		}
		return float64(n) / snap.Elapsed.Seconds(), true
	}
	return 0, false
}

func formatValue(e Expr, v float64) string {
	if e.Kind == KindLatency {
		return time.Duration(v * float64(time.Millisecond)).String()
	}
	return strconv.FormatFloat(v, 'g', 6, 64)
}
