// Package threshold parses pass/fail threshold expressions and evaluates
// them against metric snapshots.
package threshold

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Kind groups metrics by what their values mean.
type Kind int

const (
	// KindLatency metrics are durations; bounds are milliseconds.
	KindLatency Kind = iota
	// KindRate metrics are fractions in [0,1].
	KindRate
	// KindCounter metrics are event counts.
	KindCounter
)

// Metric names understood by the evaluator.
const (
	MetricHTTPReqDuration   = "http_req_duration"
	MetricIterationDuration = "iteration_duration"
	MetricHTTPReqFailed     = "http_req_failed"
	MetricIterationFailed   = "iteration_failed"
	MetricChecks            = "checks"
	MetricIterations        = "iterations"
	MetricHTTPReqs          = "http_reqs"
	MetricDroppedIterations = "dropped_iterations"
)

var metricKinds = map[string]Kind{
	MetricHTTPReqDuration:   KindLatency,
	MetricIterationDuration: KindLatency,
	MetricHTTPReqFailed:     KindRate,
	MetricIterationFailed:   KindRate,
	MetricChecks:            KindRate,
	MetricIterations:        KindCounter,
	MetricHTTPReqs:          KindCounter,
	MetricDroppedIterations: KindCounter,
}

// Aggregation selects which statistic of a metric is compared.
type Aggregation string

const (
	AggPercentile Aggregation = "p"
	AggAvg        Aggregation = "avg"
	AggMin        Aggregation = "min"
	AggMax        Aggregation = "max"
	AggMed        Aggregation = "med"
	AggRate       Aggregation = "rate"
	AggCount      Aggregation = "count"
)

var allowedAggs = map[Kind][]Aggregation{
	KindLatency: {AggPercentile, AggAvg, AggMin, AggMax, AggMed},
	KindRate:    {AggRate},
	KindCounter: {AggCount, AggRate},
}

// Operator is a comparison operator.
type Operator string

const (
	OpLess         Operator = "<"
	OpLessEqual    Operator = "<="
	OpGreater      Operator = ">"
	OpGreaterEqual Operator = ">="
	OpEqual        Operator = "=="
	OpNotEqual     Operator = "!="
)

// Compare reports whether actual op bound holds.
func (op Operator) Compare(actual, bound float64) bool {
	switch op {
	case OpLess:
		return actual < bound
	case OpLessEqual:
		return actual <= bound
	case OpGreater:
		return actual > bound
	case OpGreaterEqual:
		return actual >= bound
	case OpEqual:
		return actual == bound
	case OpNotEqual:
		return actual != bound
	default:
		return false
	}
}

// Expr is one parsed threshold: a predicate over a named metric's
// aggregation compared against a literal bound. It is immutable.
type Expr struct {
	Metric      string      `json:"metric"`
	Kind        Kind        `json:"-"`
	Aggregation Aggregation `json:"aggregation"`
	// Percentile is set for AggPercentile, in (0,100].
	Percentile float64  `json:"percentile,omitempty"`
	Op         Operator `json:"op"`
	// Bound is in milliseconds for latency metrics, otherwise unitless.
	Bound  float64 `json:"bound"`
	Source string  `json:"source"`

	// AbortOnFail stops the run as soon as the threshold is violated.
	AbortOnFail bool `json:"abortOnFail,omitempty"`
	// DelayAbortEval postpones abort-on-fail checks after the run starts.
	DelayAbortEval time.Duration `json:"delayAbortEval,omitempty"`
}

// String returns "metric: source".
func (e Expr) String() string {
	return e.Metric + ": " + e.Source
}

// Stat returns the left-hand side, e.g. "p(99)" or "rate".
func (e Expr) Stat() string {
	if e.Aggregation == AggPercentile {
		return "p(" + strconv.FormatFloat(e.Percentile, 'f', -1, 64) + ")"
	}
	return string(e.Aggregation)
}

// Matches "p(99)<100", "p95 < 500ms", "rate==0", "count >= 10".
var exprPattern = regexp.MustCompile(
	`^(p\(\s*([0-9]+(?:\.[0-9]+)?)\s*\)|p([0-9]+(?:\.[0-9]+)?)|avg|min|max|med|rate|count)\s*(<=|>=|==|!=|<|>)\s*(\S+)$`)

// Parse parses source as a threshold on metric.
//
// Latency bounds accept Go durations ("500ms", "1.5s") or bare numbers,
// which are milliseconds. Rate bounds accept fractions or percentages
// ("0.01", "1%").
func Parse(metric, source string) (Expr, error) {
	metric = strings.TrimSpace(metric)
	kind, ok := metricKinds[metric]
	if !ok {
		return Expr{}, fmt.Errorf("unknown metric %q", metric)
	}

	src := strings.TrimSpace(source)
	m := exprPattern.FindStringSubmatch(src)
	if m == nil {
		return Expr{}, fmt.Errorf("invalid threshold %q: want <stat> <op> <value>, e.g. p(99)<100 or rate==0", source)
	}

	expr := Expr{
		Metric: metric,
		Kind:   kind,
		Op:     Operator(m[4]),
		Source: src,
	}

	switch {
	case m[2] != "" || m[3] != "":
		pct := m[2]
		if pct == "" {
			pct = m[3]
		}
		p, err := strconv.ParseFloat(pct, 64)
		if err != nil || p <= 0 || p > 100 {
			return Expr{}, fmt.Errorf("invalid threshold %q: percentile must be in (0,100]", source)
		}
		expr.Aggregation = AggPercentile
		expr.Percentile = p
	default:
		expr.Aggregation = Aggregation(m[1])
	}

	if !aggAllowed(kind, expr.Aggregation) {
		return Expr{}, fmt.Errorf("invalid threshold %q: %s does not support %s", source, metric, expr.Stat())
	}

	bound, err := parseBound(kind, expr.Aggregation, m[5])
	if err != nil {
		return Expr{}, fmt.Errorf("invalid threshold %q: %w", source, err)
	}
	expr.Bound = bound
	return expr, nil
}

// MustParse is like Parse but panics on error.
func MustParse(metric, source string) Expr {
	e, err := Parse(metric, source)
	if err != nil {
		panic(err)
	}
	return e
}

// KnownMetric reports whether metric is a recognised metric name.
func KnownMetric(metric string) bool {
	_, ok := metricKinds[metric]
	return ok
}

func aggAllowed(kind Kind, agg Aggregation) bool {
	for _, a := range allowedAggs[kind] {
		if a == agg {
			return true
		}
	}
	return false
}

func parseBound(kind Kind, agg Aggregation, raw string) (float64, error) {
	if kind == KindLatency {
		if v, err := strconv.ParseFloat(raw, 64); err == nil {
			return v, nil
		}
		d, err := time.ParseDuration(raw)
		if err != nil {
			return 0, fmt.Errorf("bound %q is neither milliseconds nor a duration", raw)
		}
		return float64(d) / float64(time.Millisecond), nil
	}

	if kind == KindRate && agg == AggRate && strings.HasSuffix(raw, "%") {
		v, err := strconv.ParseFloat(strings.TrimSuffix(raw, "%"), 64)
		if err != nil {
			return 0, fmt.Errorf("bound %q is not a percentage", raw)
		}
		return v / 100, nil
	}

	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("bound %q is not a number", raw)
	}
	return v, nil
}
