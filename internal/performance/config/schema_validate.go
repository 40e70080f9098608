package config

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"
)

//go:embed declaration.schema.json
var declarationSchema string

const schemaURL = "declaration.schema.json"

var (
	schemaOnce     sync.Once
	compiledSchema *jsonschema.Schema
	schemaErr      error
)

func declarationValidator() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource(schemaURL, strings.NewReader(declarationSchema)); err != nil {
			schemaErr = fmt.Errorf("invalid schema: %w", err)
			return
		}
		compiledSchema, schemaErr = compiler.Compile(schemaURL)
		if schemaErr != nil {
			schemaErr = fmt.Errorf("invalid schema: %w", schemaErr)
		}
	})
	return compiledSchema, schemaErr
}

// ValidateSchema checks raw declaration data against the embedded JSON
// Schema. YAML input is converted to its JSON form first. Schema
// violations are returned as *ValidationErrors.
func ValidateSchema(data []byte, format string) error {
	schema, err := declarationValidator()
	if err != nil {
		return err
	}

	doc, err := toJSONValue(data, format)
	if err != nil {
		return err
	}

	err = schema.Validate(doc)
	if err == nil {
		return nil
	}

	var verr *jsonschema.ValidationError
	if !errors.As(err, &verr) {
		return err
	}

	errs := &ValidationErrors{}
	for _, leaf := range leafErrors(verr) {
		field := strings.TrimPrefix(strings.ReplaceAll(leaf.InstanceLocation, "/", "."), ".")
		if field == "" {
			field = "(root)"
		}
		errs.Add(field, leaf.Message)
	}
	sort.SliceStable(errs.Errors, func(i, j int) bool {
		return errs.Errors[i].Field < errs.Errors[j].Field
	})
	return errs
}

// leafErrors flattens a validation error tree to its most specific causes.
func leafErrors(err *jsonschema.ValidationError) []*jsonschema.ValidationError {
	if len(err.Causes) == 0 {
		return []*jsonschema.ValidationError{err}
	}
	var out []*jsonschema.ValidationError
	for _, cause := range err.Causes {
		out = append(out, leafErrors(cause)...)
	}
	return out
}

// toJSONValue decodes data into the generic value the schema validator
// expects, with numbers kept as json.Number.
func toJSONValue(data []byte, format string) (interface{}, error) {
	if format == formatYAML {
		var doc interface{}
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("failed to parse YAML declaration: %w", err)
		}
		if doc == nil {
			doc = map[string]interface{}{}
		}
		b, err := json.Marshal(doc)
		if err != nil {
			return nil, fmt.Errorf("declaration is not representable as JSON: %w", err)
		}
		data = b
	}

	var v interface{}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("failed to parse JSON declaration: %w", err)
	}
	return v, nil
}
