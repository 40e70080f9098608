package http

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/wesleyorama2/loadcheck/internal/performance"
)

// Built-in placeholders resolved per iteration.
const (
	VarUUID      = "uuid"      // random UUID, one per iteration
	VarVU        = "vu"        // VU id
	VarIteration = "iteration" // run-wide iteration number
	VarScenario  = "scenario"  // scenario name
	VarTimestamp = "timestamp" // unix milliseconds at render time
)

var builtins = map[string]bool{
	VarUUID:      true,
	VarVU:        true,
	VarIteration: true,
	VarScenario:  true,
	VarTimestamp: true,
}

var placeholderPattern = regexp.MustCompile(`\{\{\s*([A-Za-z_][A-Za-z0-9_]*)\s*\}\}`)

// Template is a string with {{name}} placeholders. Scenario variables are
// substituted once at parse time; built-ins are substituted on every
// Render.
type Template struct {
	source   string
	segments []segment
}

type segment struct {
	literal string
	builtin string
}

// ParseTemplate compiles s, resolving scenario variables from vars.
// Variables shadow built-ins of the same name. An unknown placeholder is
// an error.
func ParseTemplate(s string, vars map[string]string) (*Template, error) {
	t := &Template{source: s}

	var unknown []string
	last := 0
	for _, m := range placeholderPattern.FindAllStringSubmatchIndex(s, -1) {
		t.addLiteral(s[last:m[0]])
		last = m[1]

		name := s[m[2]:m[3]]
		if v, ok := vars[name]; ok {
			t.addLiteral(v)
			continue
		}
		if builtins[name] {
			t.segments = append(t.segments, segment{builtin: name})
			continue
		}
		unknown = append(unknown, name)
	}
	t.addLiteral(s[last:])

	if len(unknown) > 0 {
		sort.Strings(unknown)
		return nil, fmt.Errorf("unknown variable(s) %s in %q", strings.Join(unknown, ", "), s)
	}
	return t, nil
}

func (t *Template) addLiteral(s string) {
	if s == "" {
		return
	}
	if n := len(t.segments); n > 0 && t.segments[n-1].builtin == "" {
		t.segments[n-1].literal += s
		return
	}
	t.segments = append(t.segments, segment{literal: s})
}

// String returns the source the template was parsed from.
func (t *Template) String() string {
	return t.source
}

// Render expands the template for one iteration.
func (t *Template) Render(rc *RenderContext) string {
	if len(t.segments) == 1 && t.segments[0].builtin == "" {
		return t.segments[0].literal
	}
	var sb strings.Builder
	for _, seg := range t.segments {
		if seg.builtin == "" {
			sb.WriteString(seg.literal)
			continue
		}
		sb.WriteString(rc.value(seg.builtin))
	}
	return sb.String()
}

// RenderContext carries the per-iteration values of the built-ins so that
// every template rendered for one iteration sees the same {{uuid}}.
type RenderContext struct {
	it   *performance.Iteration
	uuid string
	now  time.Time
}

// NewRenderContext returns the render context for it. it may be nil.
func NewRenderContext(it *performance.Iteration) *RenderContext {
	return &RenderContext{it: it, now: time.Now()}
}

func (rc *RenderContext) value(name string) string {
	switch name {
	case VarUUID:
		if rc.uuid == "" {
			rc.uuid = uuid.NewString()
		}
		return rc.uuid
	case VarTimestamp:
		return strconv.FormatInt(rc.now.UnixMilli(), 10)
	}
	if rc.it == nil {
		return ""
	}
	switch name {
	case VarVU:
		if rc.it.VU == nil {
			return ""
		}
		return strconv.Itoa(rc.it.VU.ID)
	case VarIteration:
		return strconv.FormatInt(rc.it.Number, 10)
	case VarScenario:
		return rc.it.Scenario
	}
	return ""
}
