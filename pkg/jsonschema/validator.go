// Package jsonschema compiles JSON Schemas once and validates response
// bodies against them.
package jsonschema

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

const resourceName = "schema.json"

// ValidationErrors collects every violation found in one document.
type ValidationErrors []error

func (ve ValidationErrors) Error() string {
	if len(ve) == 0 {
		return ""
	}

	var sb strings.Builder
	for i, err := range ve {
		if i > 0 {
			sb.WriteString("; ")
		}
		sb.WriteString(err.Error())
	}
	return sb.String()
}

// Schema is a compiled JSON Schema. It is safe for concurrent use.
type Schema struct {
	compiled *jsonschema.Schema
}

// Compile compiles a schema from its JSON source.
func Compile(source []byte) (*Schema, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(resourceName, bytes.NewReader(source)); err != nil {
		return nil, fmt.Errorf("invalid schema: %w", err)
	}
	compiled, err := compiler.Compile(resourceName)
	if err != nil {
		return nil, fmt.Errorf("invalid schema: %w", err)
	}
	return &Schema{compiled: compiled}, nil
}

// CompileValue compiles a schema given as a decoded document, such as a
// mapping read from a YAML scenario.
func CompileValue(v any) (*Schema, error) {
	source, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("invalid schema: %w", err)
	}
	return Compile(source)
}

// Validate checks a JSON document. It returns nil when the document is
// valid, ValidationErrors when it violates the schema, and a plain error
// when it is not JSON.
func (s *Schema) Validate(document []byte) error {
	dec := json.NewDecoder(bytes.NewReader(document))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return fmt.Errorf("invalid JSON: trailing data after document")
	}

	err := s.compiled.Validate(v)
	if err == nil {
		return nil
	}
	var verr *jsonschema.ValidationError
	if errors.As(err, &verr) {
		return leafErrors(verr)
	}
	return ValidationErrors{err}
}

// Valid reports whether document is JSON satisfying the schema.
func (s *Schema) Valid(document []byte) bool {
	return s.Validate(document) == nil
}

// leafErrors flattens the cause tree to the errors that carry a location.
func leafErrors(err *jsonschema.ValidationError) ValidationErrors {
	if len(err.Causes) == 0 {
		return ValidationErrors{fmt.Errorf("%s: %s", location(err.InstanceLocation), err.Message)}
	}
	var errs ValidationErrors
	for _, cause := range err.Causes {
		errs = append(errs, leafErrors(cause)...)
	}
	return errs
}

func location(pointer string) string {
	if pointer == "" {
		return "/"
	}
	return pointer
}
