package output

import (
	"encoding/json"
	"encoding/xml"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/wesleyorama2/loadcheck/internal/performance/engine"
	"github.com/wesleyorama2/loadcheck/internal/performance/metrics"
	"github.com/wesleyorama2/loadcheck/internal/performance/threshold"
)

// OutputFormat represents the available report formats
type OutputFormat string

const (
	// FormatText is the default human-readable summary
	FormatText OutputFormat = "text"
	// FormatJSON outputs in JSON format
	FormatJSON OutputFormat = "json"
	// FormatYAML outputs in YAML format
	FormatYAML OutputFormat = "yaml"
	// FormatJUnit outputs in JUnit XML format (for CI/CD integration)
	FormatJUnit OutputFormat = "junit"
)

// ParseFormat validates a --output value.
func ParseFormat(s string) (OutputFormat, error) {
	switch f := OutputFormat(strings.ToLower(s)); f {
	case FormatText, FormatJSON, FormatYAML, FormatJUnit:
		return f, nil
	case "":
		return FormatText, nil
	default:
		return "", fmt.Errorf("invalid output format %q (want text, json, yaml or junit)", s)
	}
}

// ReportData is the serialised form of a run report.
type ReportData struct {
	RunID       string `json:"runId" yaml:"runId"`
	Scenario    string `json:"scenario" yaml:"scenario"`
	Executor    string `json:"executor" yaml:"executor"`
	Status      string `json:"status" yaml:"status"`
	Aborted     bool   `json:"aborted" yaml:"aborted"`
	AbortReason string `json:"abortReason,omitempty" yaml:"abortReason,omitempty"`
	StartTime   string `json:"startTime" yaml:"startTime"`
	DurationMs  int64  `json:"durationMs" yaml:"durationMs"`

	Iterations             int64   `json:"iterations" yaml:"iterations"`
	Failures               int64   `json:"failures" yaml:"failures"`
	FailureRate            float64 `json:"failureRate" yaml:"failureRate"`
	Dropped                int64   `json:"dropped" yaml:"dropped"`
	CapacityExhaustedTicks int64   `json:"capacityExhaustedTicks" yaml:"capacityExhaustedTicks"`
	IterationRate          float64 `json:"iterationRate" yaml:"iterationRate"`
	TargetRate             float64 `json:"targetRate,omitempty" yaml:"targetRate,omitempty"`
	PeakContexts           int64   `json:"peakContexts" yaml:"peakContexts"`

	Latency        LatencyData      `json:"latency" yaml:"latency"`
	RequestLatency LatencyData      `json:"requestLatency" yaml:"requestLatency"`
	Thresholds     []ThresholdData  `json:"thresholds,omitempty" yaml:"thresholds,omitempty"`
	Checks         []CheckData      `json:"checks,omitempty" yaml:"checks,omitempty"`
	FailureReasons map[string]int64 `json:"failureReasons,omitempty" yaml:"failureReasons,omitempty"`
}

// LatencyData holds latency statistics in milliseconds. Latency covers whole
// iterations; RequestLatency covers request time only.
type LatencyData struct {
	MinMs  float64 `json:"minMs" yaml:"minMs"`
	MeanMs float64 `json:"meanMs" yaml:"meanMs"`
	P50Ms  float64 `json:"p50Ms" yaml:"p50Ms"`
	P90Ms  float64 `json:"p90Ms" yaml:"p90Ms"`
	P95Ms  float64 `json:"p95Ms" yaml:"p95Ms"`
	P99Ms  float64 `json:"p99Ms" yaml:"p99Ms"`
	MaxMs  float64 `json:"maxMs" yaml:"maxMs"`
}

// ThresholdData is one evaluated threshold.
type ThresholdData struct {
	Metric     string  `json:"metric" yaml:"metric"`
	Expression string  `json:"expression" yaml:"expression"`
	Status     string  `json:"status" yaml:"status"`
	Observed   float64 `json:"observed" yaml:"observed"`
	Message    string  `json:"message,omitempty" yaml:"message,omitempty"`
}

// CheckData is the pass/fail tally of one named check.
type CheckData struct {
	Name   string `json:"name" yaml:"name"`
	Passes int64  `json:"passes" yaml:"passes"`
	Fails  int64  `json:"fails" yaml:"fails"`
}

func millis(d time.Duration) float64 {
	return float64(d.Microseconds()) / 1000
}

// NewReportData flattens report for serialisation.
func NewReportData(report *engine.Report) *ReportData {
	data := &ReportData{
		RunID:      report.RunID,
		Scenario:   report.Name,
		Executor:   report.Executor,
		Status:     string(report.Status()),
		StartTime:  report.StartTime.Format(time.RFC3339),
		DurationMs: report.Duration.Milliseconds(),
	}
	if stats := report.ExecutorStats; stats != nil {
		data.TargetRate = stats.TargetRate
		data.PeakContexts = stats.Pool.Peak
	}

	if v := report.Verdict; v != nil {
		data.Aborted = v.Aborted
		data.AbortReason = v.AbortReason
		for _, r := range v.Results {
			data.Thresholds = append(data.Thresholds, ThresholdData{
				Metric:     r.Expr.Metric,
				Expression: r.Expr.Source,
				Status:     r.Status.String(),
				Observed:   r.Observed,
				Message:    r.Message,
			})
		}
	}

	if snap := report.Snapshot(); snap != nil {
		data.Iterations = snap.Count
		data.Failures = snap.FailureCount
		data.FailureRate, _ = snap.FailureRate()
		data.Dropped = snap.Dropped
		data.CapacityExhaustedTicks = snap.CapacityExhaustedTicks
		data.IterationRate = snap.IterationRate()
		data.FailureReasons = snap.FailureReasons
		data.Latency = latencyData(snap.Latency)
		data.RequestLatency = latencyData(snap.RequestLatency)

		names := make([]string, 0, len(snap.Checks))
		for name := range snap.Checks {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			c := snap.Checks[name]
			data.Checks = append(data.Checks, CheckData{Name: name, Passes: c.Passes, Fails: c.Fails})
		}
	}
	return data
}

// WriteReport writes report to w in format. FormatText uses console.
func WriteReport(w io.Writer, report *engine.Report, format OutputFormat, console *Console) error {
	switch format {
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(NewReportData(report))
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(NewReportData(report)); err != nil {
			return err
		}
		return enc.Close()
	case FormatJUnit:
		return writeJUnit(w, report)
	default:
		if console == nil {
			console = NewConsole(ConsoleConfig{Writer: w})
		}
		console.PrintSummary(report)
		return nil
	}
}

// JUnitTestSuites represents the root element containing all test suites
type JUnitTestSuites struct {
	XMLName    xml.Name         `xml:"testsuites"`
	TestSuites []JUnitTestSuite `xml:"testsuite"`
}

// JUnitTestSuite represents a JUnit test suite
type JUnitTestSuite struct {
	Name      string          `xml:"name,attr"`
	Tests     int             `xml:"tests,attr"`
	Failures  int             `xml:"failures,attr"`
	Errors    int             `xml:"errors,attr"`
	Skipped   int             `xml:"skipped,attr"`
	Time      float64         `xml:"time,attr"`
	Timestamp string          `xml:"timestamp,attr"`
	TestCases []JUnitTestCase `xml:"testcase"`
	SystemOut string          `xml:"system-out,omitempty"`
}

// JUnitTestCase represents a JUnit test case
type JUnitTestCase struct {
	Name      string        `xml:"name,attr"`
	Classname string        `xml:"classname,attr"`
	Time      float64       `xml:"time,attr"`
	Failure   *JUnitFailure `xml:"failure,omitempty"`
	Skipped   *JUnitSkipped `xml:"skipped,omitempty"`
}

// JUnitFailure represents a JUnit test failure
type JUnitFailure struct {
	Message string `xml:"message,attr"`
	Type    string `xml:"type,attr"`
	Content string `xml:",chardata"`
}

// JUnitSkipped marks a threshold that could not be evaluated.
type JUnitSkipped struct {
	Message string `xml:"message,attr"`
}

// writeJUnit reports one test case per threshold. Violated thresholds are
// failures and thresholds without samples are skipped.
func writeJUnit(w io.Writer, report *engine.Report) error {
	suite := JUnitTestSuite{
		Name:      report.Name,
		Time:      report.Duration.Seconds(),
		Timestamp: report.StartTime.Format(time.RFC3339),
	}

	if v := report.Verdict; v != nil {
		for _, r := range v.Results {
			tc := JUnitTestCase{
				Name:      r.Expr.String(),
				Classname: report.Name,
				Time:      report.Duration.Seconds(),
			}
			switch r.Status {
			case threshold.Violated:
				tc.Failure = &JUnitFailure{Message: r.Message, Type: "ThresholdViolated", Content: r.Message}
				suite.Failures++
			case threshold.NotEvaluable:
				tc.Skipped = &JUnitSkipped{Message: r.Message}
				suite.Skipped++
			}
			suite.TestCases = append(suite.TestCases, tc)
		}
		if v.Aborted {
			suite.SystemOut = "run aborted: " + v.AbortReason
		}
	}
	suite.Tests = len(suite.TestCases)

	if _, err := io.WriteString(w, xml.Header); err != nil {
		return err
	}
	enc := xml.NewEncoder(w)
	enc.Indent("", "  ")
	if err := enc.Encode(JUnitTestSuites{TestSuites: []JUnitTestSuite{suite}}); err != nil {
		return err
	}
	_, err := io.WriteString(w, "\n")
	return err
}

func latencyData(l metrics.LatencyStats) LatencyData {
	return LatencyData{
		MinMs:  millis(l.Min),
		MeanMs: millis(l.Mean),
		P50Ms:  millis(l.P50),
		P90Ms:  millis(l.P90),
		P95Ms:  millis(l.P95),
		P99Ms:  millis(l.P99),
		MaxMs:  millis(l.Max),
	}
}
