// Package config loads scenario declarations and turns them into
// validated, immutable run plans.
package config

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Executor names accepted in declarations.
const (
	ExecutorConstantArrivalRate = "constant-arrival-rate"
	ExecutorSharedIterations    = "shared-iterations"
)

// Declaration is one scenario as written by the user.
//
// Example YAML:
//
//	name: order-creation
//	executor: constant-arrival-rate
//	arrivalRate: 1000
//	timeUnit: 1s
//	duration: 10s
//	preAllocatedContexts: 1000
//	maxContexts: 2000
//	thresholds:
//	  http_req_duration: ["p(99)<100"]
//	  http_req_failed:
//	    - threshold: rate==0
//	      abortOnFail: true
//	request:
//	  method: POST
//	  url: "{{baseUrl}}/api/v1/orders"
//	  checks:
//	    - name: status is 202
//	      status: 202
type Declaration struct {
	// Name of the scenario (for reporting)
	Name string `json:"name,omitempty" yaml:"name,omitempty"`

	// Description of the scenario (optional)
	Description string `json:"description,omitempty" yaml:"description,omitempty"`

	// Executor selects the scheduling strategy (default: constant-arrival-rate)
	Executor string `json:"executor,omitempty" yaml:"executor,omitempty"`

	// ArrivalRate is the number of iteration starts per TimeUnit
	ArrivalRate float64 `json:"arrivalRate,omitempty" yaml:"arrivalRate,omitempty"`

	// TimeUnit is the period ArrivalRate refers to (default: 1s)
	TimeUnit Duration `json:"timeUnit,omitempty" yaml:"timeUnit,omitempty"`

	// Duration is how long new iterations are started
	Duration Duration `json:"duration,omitempty" yaml:"duration,omitempty"`

	// PreAllocatedContexts is the number of VUs created before the run
	PreAllocatedContexts int `json:"preAllocatedContexts,omitempty" yaml:"preAllocatedContexts,omitempty"`

	// MaxContexts caps concurrently running iterations (default: PreAllocatedContexts)
	MaxContexts int `json:"maxContexts,omitempty" yaml:"maxContexts,omitempty"`

	// VUs is the fixed VU count for shared-iterations
	VUs int `json:"vus,omitempty" yaml:"vus,omitempty"`

	// Iterations is the total iteration budget for shared-iterations
	Iterations int64 `json:"iterations,omitempty" yaml:"iterations,omitempty"`

	// MaxDuration bounds a shared-iterations run (default: 10m)
	MaxDuration Duration `json:"maxDuration,omitempty" yaml:"maxDuration,omitempty"`

	// TickInterval is the scheduler tick (default: 10ms)
	TickInterval Duration `json:"tickInterval,omitempty" yaml:"tickInterval,omitempty"`

	// GracefulStop is how long in-flight iterations may drain (default: 30s)
	GracefulStop *Duration `json:"gracefulStop,omitempty" yaml:"gracefulStop,omitempty"`

	// HardStop abandons in-flight iterations as soon as the run is cancelled
	HardStop bool `json:"hardStop,omitempty" yaml:"hardStop,omitempty"`

	// Thresholds maps metric names to pass/fail expressions
	Thresholds map[string][]ThresholdDecl `json:"thresholds,omitempty" yaml:"thresholds,omitempty"`

	// Request describes the HTTP workload (used by the CLI)
	Request *RequestDecl `json:"request,omitempty" yaml:"request,omitempty"`

	// Variables are substituted into the request as {{name}}
	Variables map[string]string `json:"variables,omitempty" yaml:"variables,omitempty"`
}

// ThresholdDecl is a threshold expression, written either as a bare
// string or as an object carrying abort options.
type ThresholdDecl struct {
	Threshold      string   `json:"threshold" yaml:"threshold"`
	AbortOnFail    bool     `json:"abortOnFail,omitempty" yaml:"abortOnFail,omitempty"`
	DelayAbortEval Duration `json:"delayAbortEval,omitempty" yaml:"delayAbortEval,omitempty"`
}

type thresholdDeclAlias ThresholdDecl

// UnmarshalYAML implements yaml.Unmarshaler.
func (t *ThresholdDecl) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		*t = ThresholdDecl{Threshold: node.Value}
		return nil
	}
	var alias thresholdDeclAlias
	if err := node.Decode(&alias); err != nil {
		return err
	}
	*t = ThresholdDecl(alias)
	return nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (t *ThresholdDecl) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*t = ThresholdDecl{Threshold: s}
		return nil
	}
	var alias thresholdDeclAlias
	if err := json.Unmarshal(b, &alias); err != nil {
		return err
	}
	*t = ThresholdDecl(alias)
	return nil
}

// RequestDecl defines the HTTP request issued once per iteration.
type RequestDecl struct {
	// HTTP method (default: GET)
	Method string `json:"method,omitempty" yaml:"method,omitempty"`

	// URL (supports variable substitution)
	URL string `json:"url" yaml:"url"`

	// Headers (values support variable substitution)
	Headers map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`

	// Body (supports variable substitution)
	Body string `json:"body,omitempty" yaml:"body,omitempty"`

	// Timeout for the request (default: 30s)
	Timeout Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`

	// ThinkTime is slept after the response, inside the iteration
	ThinkTime Duration `json:"thinkTime,omitempty" yaml:"thinkTime,omitempty"`

	// Checks are named predicates applied to every response
	Checks []CheckDecl `json:"checks,omitempty" yaml:"checks,omitempty"`
}

// CheckDecl is one named response predicate. Exactly one of Status,
// JSONPath, Contains or Schema is set. A JSONPath check without Equals
// passes when the path exists. Schema is a JSON Schema the response body
// must satisfy.
type CheckDecl struct {
	Name     string         `json:"name" yaml:"name"`
	Status   int            `json:"status,omitempty" yaml:"status,omitempty"`
	JSONPath string         `json:"jsonPath,omitempty" yaml:"jsonPath,omitempty"`
	Equals   *string        `json:"equals,omitempty" yaml:"equals,omitempty"`
	Contains string         `json:"contains,omitempty" yaml:"contains,omitempty"`
	Schema   map[string]any `json:"schema,omitempty" yaml:"schema,omitempty"`
}

// Duration is a time.Duration that decodes from Go duration strings
// ("30s", "1h30m") or from integer seconds.
type Duration time.Duration

// GetDuration returns the duration or a default if zero.
func (d Duration) GetDuration(defaultValue time.Duration) time.Duration {
	if d == 0 {
		return defaultValue
	}
	return time.Duration(d)
}

// MarshalJSON implements json.Marshaler.
func (d Duration) MarshalJSON() ([]byte, error) {
	return []byte(`"` + time.Duration(d).String() + `"`), nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *Duration) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "null" {
		*d = 0
		return nil
	}
	dur, err := ParseDurationString(s)
	if err != nil {
		return err
	}
	*d = Duration(dur)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: duration must be a scalar", node.Line)
	}
	dur, err := ParseDurationString(node.Value)
	if err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	*d = Duration(dur)
	return nil
}

// String returns the duration as a string.
func (d Duration) String() string {
	return time.Duration(d).String()
}
