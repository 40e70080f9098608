package http

import (
	"bytes"
	"fmt"
	"strconv"

	"github.com/wesleyorama2/loadcheck/internal/performance/config"
	"github.com/wesleyorama2/loadcheck/pkg/jsonpath"
	"github.com/wesleyorama2/loadcheck/pkg/jsonschema"
)

// Check is one named predicate over a response.
type Check struct {
	Name string

	status   int
	path     jsonpath.Path
	hasPath  bool
	equals   *string
	contains []byte
	schema   *jsonschema.Schema
}

// NewCheck compiles decl.
func NewCheck(decl config.CheckDecl) (Check, error) {
	c := Check{
		Name:   decl.Name,
		status: decl.Status,
		equals: decl.Equals,
	}
	if decl.JSONPath != "" {
		p, err := jsonpath.Compile(decl.JSONPath)
		if err != nil {
			return Check{}, fmt.Errorf("check %q: %w", decl.Name, err)
		}
		c.path = p
		c.hasPath = true
	}
	if decl.Contains != "" {
		c.contains = []byte(decl.Contains)
	}
	if decl.Schema != nil {
		schema, err := jsonschema.CompileValue(decl.Schema)
		if err != nil {
			return Check{}, fmt.Errorf("check %q: %w", decl.Name, err)
		}
		c.schema = schema
	}
	if c.status == 0 && !c.hasPath && c.contains == nil && c.schema == nil {
		return Check{}, fmt.Errorf("check %q: no predicate", decl.Name)
	}
	return c, nil
}

// Evaluate reports whether resp satisfies the check.
//
// A JSON path check without an expected value passes when the path exists;
// with one, the value's string form must equal it. Bodies that are not
// JSON fail every JSON path and schema check.
func (c Check) Evaluate(resp *Response) bool {
	if resp == nil {
		return false
	}
	switch {
	case c.status != 0:
		return resp.StatusCode == c.status
	case c.hasPath:
		value, ok := c.path.Lookup(resp.Body)
		if !ok {
			return false
		}
		if c.equals == nil {
			return true
		}
		return value == *c.equals
	case c.schema != nil:
		return c.schema.Valid(resp.Body)
	default:
		return bytes.Contains(resp.Body, c.contains)
	}
}

// Describe returns a short description of the predicate.
func (c Check) Describe() string {
	switch {
	case c.status != 0:
		return "status == " + strconv.Itoa(c.status)
	case c.hasPath && c.equals != nil:
		return c.path.String() + " == " + strconv.Quote(*c.equals)
	case c.hasPath:
		return c.path.String() + " exists"
	case c.schema != nil:
		return "body matches schema"
	default:
		return "body contains " + strconv.Quote(string(c.contains))
	}
}
