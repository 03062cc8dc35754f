// Package structured extracts JSON objects from free-form LLM output and
// validates them against a minimal JSON-Schema subset. Validation never
// fails hard: mismatches accumulate as messages so callers can work with
// partial results.
package structured

import "encoding/json"

// Schema describes expected JSON output. The subset is intentionally
// minimal: object/array/string/number/boolean types, required properties,
// and nested property schemas. Array items are not validated recursively.
type Schema struct {
	Type        string             `json:"type"`
	Description string             `json:"description,omitempty"`
	Properties  map[string]*Schema `json:"properties,omitempty"`
	Required    []string           `json:"required,omitempty"`
}

// Object is a convenience constructor for an object schema.
func Object(properties map[string]*Schema, required ...string) *Schema {
	return &Schema{Type: "object", Properties: properties, Required: required}
}

// String returns a string-typed property schema with a description.
func String(description string) *Schema {
	return &Schema{Type: "string", Description: description}
}

// Number returns a number-typed property schema with a description.
func Number(description string) *Schema {
	return &Schema{Type: "number", Description: description}
}

// Boolean returns a boolean-typed property schema with a description.
func Boolean(description string) *Schema {
	return &Schema{Type: "boolean", Description: description}
}

// Array returns an array-typed property schema with a description.
func Array(description string) *Schema {
	return &Schema{Type: "array", Description: description}
}

// JSON renders the schema for embedding into a prompt.
func (s *Schema) JSON() string {
	b, err := json.Marshal(s)
	if err != nil {
		return "{}"
	}
	return string(b)
}
