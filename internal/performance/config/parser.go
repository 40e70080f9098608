package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	formatYAML = "yaml"
	formatJSON = "json"
)

// ConfigError reports a declaration that cannot be turned into a plan.
// It is the only error that stops a run before any work starts.
type ConfigError struct {
	// Source is the file path or "<input>" for in-memory data.
	Source string
	Err    error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid scenario %s: %v", e.Source, e.Err)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// Load reads the declaration at path and builds its plan.
func Load(path string) (*Plan, error) {
	decl, err := LoadDeclaration(path)
	if err != nil {
		return nil, err
	}
	return buildPlan(decl, path)
}

// Parse parses declaration data and builds its plan. The format is taken
// from the extension of path, defaulting to YAML.
func Parse(data []byte, path string) (*Plan, error) {
	decl, err := ParseDeclaration(data, path)
	if err != nil {
		return nil, err
	}
	return buildPlan(decl, path)
}

func buildPlan(decl *Declaration, path string) (*Plan, error) {
	plan, err := BuildPlan(decl)
	if err != nil {
		return nil, &ConfigError{Source: sourceName(path), Err: err}
	}
	return plan, nil
}

// LoadDeclaration reads, schema-checks and validates the declaration at
// path. Errors are *ConfigError.
func LoadDeclaration(path string) (*Declaration, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &ConfigError{Source: path, Err: fmt.Errorf("failed to read scenario file: %w", err)}
	}
	return ParseDeclaration(data, path)
}

// ParseDeclaration schema-checks, decodes and validates declaration data.
// Errors are *ConfigError wrapping either a decode error or
// *ValidationErrors.
func ParseDeclaration(data []byte, path string) (*Declaration, error) {
	source := sourceName(path)
	format := formatFor(path)

	if err := ValidateSchema(data, format); err != nil {
		return nil, &ConfigError{Source: source, Err: err}
	}

	var decl Declaration
	switch format {
	case formatJSON:
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&decl); err != nil {
			return nil, &ConfigError{Source: source, Err: fmt.Errorf("failed to parse JSON declaration: %w", err)}
		}
	default:
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&decl); err != nil && !errors.Is(err, io.EOF) {
			return nil, &ConfigError{Source: source, Err: fmt.Errorf("failed to parse YAML declaration: %w", err)}
		}
	}

	if err := decl.Validate(); err != nil {
		return nil, &ConfigError{Source: source, Err: err}
	}
	return &decl, nil
}

func formatFor(path string) string {
	if strings.ToLower(filepath.Ext(path)) == ".json" {
		return formatJSON
	}
	return formatYAML
}

func sourceName(path string) string {
	if path == "" {
		return "<input>"
	}
	return path
}

// ParseDurationString parses a duration string with support for common formats.
//
// Supported formats:
//   - Standard Go duration: "30s", "2m", "1h30m", "500ms"
//   - Seconds as integer: "30" (treated as 30 seconds)
//
// An empty string is zero.
func ParseDurationString(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}

	if d, err := time.ParseDuration(s); err == nil {
		return d, nil
	}

	if seconds, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Duration(seconds) * time.Second, nil
	}

	return 0, fmt.Errorf("invalid duration format: %s", s)
}
