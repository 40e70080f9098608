package config

import (
	"fmt"
	"net/http"
	"sort"
	"strings"

	"github.com/wesleyorama2/loadcheck/internal/performance/threshold"
)

// ValidationError represents a declaration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation error on field '%s': %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation error: %s", e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors struct {
	Errors []*ValidationError
}

func (e *ValidationErrors) Error() string {
	if len(e.Errors) == 0 {
		return "no validation errors"
	}
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d validation errors:\n", len(e.Errors)))
	for i, err := range e.Errors {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// Add adds an error to the collection.
func (e *ValidationErrors) Add(field, message string) {
	e.Errors = append(e.Errors, &ValidationError{Field: field, Message: message})
}

// HasErrors returns true if there are any errors.
func (e *ValidationErrors) HasErrors() bool {
	return len(e.Errors) > 0
}

// Fields returns the field of every error, in order.
func (e *ValidationErrors) Fields() []string {
	out := make([]string, len(e.Errors))
	for i, err := range e.Errors {
		out[i] = err.Field
	}
	return out
}

// Validate checks the declaration for presence, positivity and bound
// consistency, and parses every threshold so malformed expressions fail
// at load time.
//
// Returns nil if valid, or a *ValidationErrors containing all errors.
func (d *Declaration) Validate() error {
	errs := &ValidationErrors{}

	switch d.executor() {
	case ExecutorConstantArrivalRate:
		validateArrivalRate(d, errs)
	case ExecutorSharedIterations:
		validateSharedIterations(d, errs)
	default:
		errs.Add("executor", fmt.Sprintf("unknown executor %q (want %s or %s)",
			d.Executor, ExecutorConstantArrivalRate, ExecutorSharedIterations))
	}

	if d.TickInterval < 0 {
		errs.Add("tickInterval", "must not be negative")
	}
	if d.GracefulStop != nil && *d.GracefulStop < 0 {
		errs.Add("gracefulStop", "must not be negative")
	}

	validateThresholds(d.Thresholds, errs)

	if d.Request != nil {
		validateRequest(d.Request, errs)
	}

	if errs.HasErrors() {
		return errs
	}
	return nil
}

func (d *Declaration) executor() string {
	if d.Executor == "" {
		return ExecutorConstantArrivalRate
	}
	return d.Executor
}

func validateArrivalRate(d *Declaration, errs *ValidationErrors) {
	if d.ArrivalRate <= 0 {
		errs.Add("arrivalRate", "must be greater than 0")
	}
	if d.Duration <= 0 {
		errs.Add("duration", "must be greater than 0")
	}
	if d.TimeUnit < 0 {
		errs.Add("timeUnit", "must not be negative")
	}
	if d.PreAllocatedContexts < 0 {
		errs.Add("preAllocatedContexts", "must not be negative")
	}
	if d.MaxContexts < 0 {
		errs.Add("maxContexts", "must not be negative")
	}
	if d.PreAllocatedContexts == 0 && d.MaxContexts == 0 {
		errs.Add("maxContexts", "preAllocatedContexts or maxContexts must be set")
	}
	if d.MaxContexts > 0 && d.PreAllocatedContexts > d.MaxContexts {
		errs.Add("preAllocatedContexts", fmt.Sprintf("must not exceed maxContexts (%d)", d.MaxContexts))
	}

	timeUnit := d.TimeUnit.GetDuration(DefaultTimeUnit)
	if d.TickInterval > 0 && d.TickInterval.GetDuration(0) > timeUnit {
		errs.Add("tickInterval", fmt.Sprintf("must not exceed timeUnit (%s)", timeUnit))
	}

	if d.VUs != 0 || d.Iterations != 0 {
		errs.Add("vus", "vus and iterations apply to the shared-iterations executor only")
	}
}

func validateSharedIterations(d *Declaration, errs *ValidationErrors) {
	if d.VUs <= 0 {
		errs.Add("vus", "must be greater than 0")
	}
	if d.Iterations <= 0 {
		errs.Add("iterations", "must be greater than 0")
	}
	if d.VUs > 0 && d.Iterations > 0 && d.Iterations < int64(d.VUs) {
		errs.Add("iterations", fmt.Sprintf("must be at least vus (%d)", d.VUs))
	}
	if d.MaxDuration < 0 {
		errs.Add("maxDuration", "must not be negative")
	}
	if d.ArrivalRate != 0 || d.PreAllocatedContexts != 0 || d.MaxContexts != 0 {
		errs.Add("arrivalRate", "arrivalRate and context bounds apply to the constant-arrival-rate executor only")
	}
}

func validateThresholds(thresholds map[string][]ThresholdDecl, errs *ValidationErrors) {
	metrics := make([]string, 0, len(thresholds))
	for metric := range thresholds {
		metrics = append(metrics, metric)
	}
	sort.Strings(metrics)

	for _, metric := range metrics {
		if !threshold.KnownMetric(metric) {
			errs.Add(fmt.Sprintf("thresholds.%s", metric), "unknown metric")
			continue
		}
		for i, decl := range thresholds[metric] {
			field := fmt.Sprintf("thresholds.%s[%d]", metric, i)
			if _, err := threshold.Parse(metric, decl.Threshold); err != nil {
				errs.Add(field, err.Error())
			}
			if decl.DelayAbortEval < 0 {
				errs.Add(field+".delayAbortEval", "must not be negative")
			}
		}
	}
}

var validMethods = map[string]bool{
	http.MethodGet:     true,
	http.MethodHead:    true,
	http.MethodPost:    true,
	http.MethodPut:     true,
	http.MethodPatch:   true,
	http.MethodDelete:  true,
	http.MethodOptions: true,
}

func validateRequest(r *RequestDecl, errs *ValidationErrors) {
	if r.Method != "" && !validMethods[strings.ToUpper(r.Method)] {
		errs.Add("request.method", fmt.Sprintf("unsupported method %q", r.Method))
	}
	if strings.TrimSpace(r.URL) == "" {
		errs.Add("request.url", "is required")
	}
	if r.Timeout < 0 {
		errs.Add("request.timeout", "must not be negative")
	}
	if r.ThinkTime < 0 {
		errs.Add("request.thinkTime", "must not be negative")
	}

	seen := make(map[string]bool, len(r.Checks))
	for i, c := range r.Checks {
		field := fmt.Sprintf("request.checks[%d]", i)
		if c.Name == "" {
			errs.Add(field+".name", "is required")
		} else if seen[c.Name] {
			errs.Add(field+".name", fmt.Sprintf("duplicate check name %q", c.Name))
		}
		seen[c.Name] = true

		kinds := 0
		if c.Status != 0 {
			kinds++
		}
		if c.JSONPath != "" {
			kinds++
		}
		if c.Contains != "" {
			kinds++
		}
		if c.Schema != nil {
			kinds++
		}
		if kinds != 1 {
			errs.Add(field, "exactly one of status, jsonPath, contains or schema must be set")
		}
		if c.Equals != nil && c.JSONPath == "" {
			errs.Add(field+".equals", "requires jsonPath")
		}
	}
}
