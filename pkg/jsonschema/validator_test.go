package jsonschema

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const orderSchema = `{
	"type": "object",
	"properties": {
		"order_id": { "type": "string", "minLength": 1 },
		"status": { "enum": ["PENDING", "COMPLETED", "FAILED", "CANCELLED"] }
	},
	"required": ["order_id", "status"]
}`

func TestSchema_Validate(t *testing.T) {
	schema, err := Compile([]byte(orderSchema))
	require.NoError(t, err)

	tests := []struct {
		name      string
		document  string
		wantValid bool
	}{
		{"valid order", `{"order_id": "o-1", "status": "PENDING"}`, true},
		{"extra fields allowed", `{"order_id": "o-1", "status": "FAILED", "price": 9.99}`, true},
		{"missing required", `{"status": "PENDING"}`, false},
		{"wrong enum", `{"order_id": "o-1", "status": "SHIPPED"}`, false},
		{"empty id", `{"order_id": "", "status": "PENDING"}`, false},
		{"not an object", `[1, 2]`, false},
		{"not json", `{ invalid json }`, false},
		{"trailing data", `{"order_id": "o-1", "status": "PENDING"} {}`, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := schema.Valid([]byte(tt.document)); got != tt.wantValid {
				t.Errorf("Valid() = %v, want %v (err: %v)", got, tt.wantValid, schema.Validate([]byte(tt.document)))
			}
		})
	}
}

func TestSchema_ValidationErrors(t *testing.T) {
	schema, err := Compile([]byte(orderSchema))
	require.NoError(t, err)

	err = schema.Validate([]byte(`{"order_id": 42, "status": "SHIPPED"}`))
	require.Error(t, err)

	var verrs ValidationErrors
	require.ErrorAs(t, err, &verrs)
	assert.GreaterOrEqual(t, len(verrs), 2)
	assert.Contains(t, err.Error(), "/order_id")
	assert.Contains(t, err.Error(), "/status")

	err = schema.Validate([]byte(`nope`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid JSON")
	assert.False(t, errors.As(err, &verrs))
}

func TestCompile_Invalid(t *testing.T) {
	_, err := Compile([]byte(`{"type": "invalid-type"}`))
	assert.Error(t, err)

	_, err = Compile([]byte(`{`))
	assert.Error(t, err)
}

func TestCompileValue(t *testing.T) {
	schema, err := CompileValue(map[string]any{
		"type":     "object",
		"required": []any{"status"},
		"properties": map[string]any{
			"status": map[string]any{"const": "PENDING"},
		},
	})
	require.NoError(t, err)

	assert.True(t, schema.Valid([]byte(`{"status": "PENDING"}`)))
	assert.False(t, schema.Valid([]byte(`{"status": "FAILED"}`)))

	_, err = CompileValue(map[string]any{"bad": make(chan int)})
	assert.Error(t, err)
}

func TestValidationErrors_Error(t *testing.T) {
	var empty ValidationErrors
	assert.Equal(t, "", empty.Error())
}
