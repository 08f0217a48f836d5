package tools

import (
	"encoding/json"
	"fmt"

	"github.com/google/jsonschema-go/jsonschema"
)

// Schema is a resolved JSON schema for a tool's arguments.
type Schema struct {
	schema   *jsonschema.Schema
	resolved *jsonschema.Resolved
	params   map[string]any
}

// MustSchema resolves s, panicking on an invalid schema. Tool schemas are
// package-level literals, so a failure is a programming error.
func MustSchema(s *jsonschema.Schema) *Schema {
	resolved, err := s.Resolve(nil)
	if err != nil {
		panic(fmt.Sprintf("resolve tool schema: %v", err))
	}
	data, err := json.Marshal(s)
	if err != nil {
		panic(fmt.Sprintf("marshal tool schema: %v", err))
	}
	var params map[string]any
	if err := json.Unmarshal(data, &params); err != nil {
		panic(fmt.Sprintf("decode tool schema: %v", err))
	}
	return &Schema{schema: s, resolved: resolved, params: params}
}

// Parameters returns the schema as a generic JSON object for model requests.
func (s *Schema) Parameters() map[string]any {
	out := make(map[string]any, len(s.params))
	for k, v := range s.params {
		out[k] = v
	}
	return out
}

// Decode validates raw against the schema and unmarshals it into dst.
// Arguments are never coerced: a mismatch is an *ArgumentError.
func (s *Schema) Decode(tool string, raw json.RawMessage, dst any) error {
	if len(raw) == 0 {
		raw = json.RawMessage("{}")
	}
	var instance any
	if err := json.Unmarshal(raw, &instance); err != nil {
		return &ArgumentError{Tool: tool, Err: fmt.Errorf("arguments are not valid JSON: %w", err)}
	}
	if err := s.resolved.Validate(instance); err != nil {
		return &ArgumentError{Tool: tool, Err: err}
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return &ArgumentError{Tool: tool, Err: err}
	}
	return nil
}

func ptr[T any](v T) *T { return &v }

func object(required []string, props map[string]*jsonschema.Schema) *jsonschema.Schema {
	return &jsonschema.Schema{Type: "object", Properties: props, Required: required}
}

func str(desc string) *jsonschema.Schema {
	return &jsonschema.Schema{Type: "string", Description: desc, MinLength: ptr(1)}
}

func enum(desc string, values ...string) *jsonschema.Schema {
	e := make([]any, len(values))
	for i, v := range values {
		e[i] = v
	}
	return &jsonschema.Schema{Type: "string", Description: desc, Enum: e}
}

func integer(desc string, min, max float64) *jsonschema.Schema {
	return &jsonschema.Schema{Type: "integer", Description: desc, Minimum: ptr(min), Maximum: ptr(max)}
}

func array(desc string, items *jsonschema.Schema, minItems, maxItems int) *jsonschema.Schema {
	s := &jsonschema.Schema{Type: "array", Description: desc, Items: items}
	if minItems > 0 {
		s.MinItems = ptr(minItems)
	}
	if maxItems > 0 {
		s.MaxItems = ptr(maxItems)
	}
	return s
}
