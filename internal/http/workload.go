package http

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/wesleyorama2/loadcheck/internal/performance"
	"github.com/wesleyorama2/loadcheck/internal/performance/config"
)

// DefaultRequestTimeout applies when a request declares no timeout.
const DefaultRequestTimeout = 30 * time.Second

// Workload issues one templated HTTP request per iteration and evaluates
// the declared checks against the response.
type Workload struct {
	client    *Client
	method    string
	url       *Template
	headers   map[string]*Template
	body      *Template
	timeout   time.Duration
	thinkTime time.Duration
	checks    []Check
}

var _ performance.Workload = (*Workload)(nil)

// NewWorkload compiles decl. Scenario variables are substituted once here;
// built-in placeholders are rendered per iteration. A nil client gets a
// client built from DefaultClientConfig.
func NewWorkload(decl *config.RequestDecl, vars map[string]string, client *Client) (*Workload, error) {
	if decl == nil {
		return nil, errors.New("scenario has no request")
	}
	if client == nil {
		client = NewClient(DefaultClientConfig())
	}

	w := &Workload{
		client:    client,
		method:    decl.Method,
		headers:   make(map[string]*Template, len(decl.Headers)),
		timeout:   decl.Timeout.GetDuration(DefaultRequestTimeout),
		thinkTime: time.Duration(decl.ThinkTime),
	}

	var err error
	if w.url, err = ParseTemplate(decl.URL, vars); err != nil {
		return nil, fmt.Errorf("url: %w", err)
	}
	if w.body, err = ParseTemplate(decl.Body, vars); err != nil {
		return nil, fmt.Errorf("body: %w", err)
	}
	for name, value := range decl.Headers {
		t, err := ParseTemplate(value, vars)
		if err != nil {
			return nil, fmt.Errorf("header %s: %w", name, err)
		}
		w.headers[name] = t
	}

	for _, cd := range decl.Checks {
		c, err := NewCheck(cd)
		if err != nil {
			return nil, err
		}
		w.checks = append(w.checks, c)
	}
	return w, nil
}

// CheckNames returns the names of the declared checks, sorted.
func (w *Workload) CheckNames() []string {
	names := make([]string, 0, len(w.checks))
	for _, c := range w.checks {
		names = append(names, c.Name)
	}
	sort.Strings(names)
	return names
}

// Render builds the request for it.
func (w *Workload) Render(it *performance.Iteration) *Request {
	rc := NewRenderContext(it)
	req := NewRequest(w.method, w.url.Render(rc)).WithBody(w.body.Render(rc))
	for name, t := range w.headers {
		req.WithHeader(name, t.Render(rc))
	}
	return req
}

// RunIteration implements performance.Workload.
//
// Transport errors and 4xx/5xx responses fail the iteration; a failed
// check does not. Checks are evaluated against every response received,
// including error statuses.
func (w *Workload) RunIteration(ctx context.Context, it *performance.Iteration) (performance.Checks, error) {
	reqCtx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	req := w.Render(it)
	sent := time.Now()
	resp, err := w.client.Do(reqCtx, req)
	if err != nil {
		it.RecordRequest(time.Since(sent))
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("request timeout after %s", w.timeout)
		}
		return nil, err
	}

	it.RecordRequest(resp.Timing.TotalTime)

	var checks performance.Checks
	if len(w.checks) > 0 {
		checks = make(performance.Checks, len(w.checks))
		for _, c := range w.checks {
			checks[c.Name] = c.Evaluate(resp)
		}
	}

	if resp.IsFailure() {
		return checks, fmt.Errorf("status %d", resp.StatusCode)
	}

	if w.thinkTime > 0 {
		timer := time.NewTimer(w.thinkTime)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return checks, ctx.Err()
		}
	}
	return checks, nil
}
