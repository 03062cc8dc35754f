package structured

import (
	"encoding/json"
	"fmt"
)

// Extract finds the first top-level JSON object in text by brace matching
// (string- and escape-aware) and parses it. Absence of any object yields a
// single "no JSON object found" error and a nil value; a malformed object
// yields a parsing error. Errors are returned as messages, never raised.
func Extract(text string) (map[string]any, []string) {
	raw, ok := firstObject(text)
	if !ok {
		return nil, []string{"no JSON object found"}
	}

	var value map[string]any
	if err := json.Unmarshal([]byte(raw), &value); err != nil {
		return nil, []string{fmt.Sprintf("parsing JSON object: %v", err)}
	}
	return value, nil
}

// firstObject returns the first balanced {...} span in text.
func firstObject(text string) (string, bool) {
	start := -1
	depth := 0
	inString := false
	escaped := false

	for i, r := range text {
		if start >= 0 && inString {
			switch {
			case escaped:
				escaped = false
			case r == '\\':
				escaped = true
			case r == '"':
				inString = false
			}
			continue
		}
		switch r {
		case '{':
			if start < 0 {
				start = i
			}
			depth++
		case '}':
			if start >= 0 {
				depth--
				if depth == 0 {
					return text[start : i+1], true
				}
			}
		case '"':
			if start >= 0 {
				inString = true
			}
		}
	}
	return "", false
}

// Validate checks value against schema, accumulating mismatch messages.
// It never returns an error; an empty slice means the value conforms.
func Validate(value any, schema *Schema) []string {
	if schema == nil {
		return nil
	}
	var errs []string
	validate(value, schema, "", &errs)
	return errs
}

func validate(value any, schema *Schema, path string, errs *[]string) {
	at := func(msg string) string {
		if path == "" {
			return msg
		}
		return path + ": " + msg
	}

	switch schema.Type {
	case "object":
		obj, ok := value.(map[string]any)
		if !ok {
			*errs = append(*errs, at(fmt.Sprintf("expected object, got %s", typeName(value))))
			return
		}
		for _, req := range schema.Required {
			if _, present := obj[req]; !present {
				*errs = append(*errs, at(fmt.Sprintf("missing required property: %s", req)))
			}
		}
		for name, propSchema := range schema.Properties {
			prop, present := obj[name]
			if !present {
				continue
			}
			childPath := name
			if path != "" {
				childPath = path + "." + name
			}
			validate(prop, propSchema, childPath, errs)
		}
	case "array":
		// Item schemas are deliberately not recursed; only the container
		// type is checked.
		if _, ok := value.([]any); !ok {
			*errs = append(*errs, at(fmt.Sprintf("expected array, got %s", typeName(value))))
		}
	case "string":
		if _, ok := value.(string); !ok {
			*errs = append(*errs, at(fmt.Sprintf("expected string, got %s", typeName(value))))
		}
	case "number":
		if _, ok := value.(float64); !ok {
			*errs = append(*errs, at(fmt.Sprintf("expected number, got %s", typeName(value))))
		}
	case "boolean":
		if _, ok := value.(bool); !ok {
			*errs = append(*errs, at(fmt.Sprintf("expected boolean, got %s", typeName(value))))
		}
	}
}

func typeName(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case map[string]any:
		return "object"
	case []any:
		return "array"
	case string:
		return "string"
	case float64:
		return "number"
	case bool:
		return "boolean"
	default:
		return fmt.Sprintf("%T", v)
	}
}

// Parse combines Extract and Validate: it pulls the first JSON object out
// of text and checks it against schema. The (possibly partial) value is
// returned even when validation errors are present.
func Parse(text string, schema *Schema) (map[string]any, []string) {
	value, errs := Extract(text)
	if value == nil {
		return nil, errs
	}
	errs = append(errs, Validate(value, schema)...)
	return value, errs
}
