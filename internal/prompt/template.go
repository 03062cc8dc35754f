// Package prompt holds the typed template registry: templates with
// declared variable specs are validated and compiled into final prompts,
// optionally deriving variables from a game-world snapshot.
package prompt

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// VarType is the declared type of a template variable.
type VarType string

const (
	TypeString  VarType = "string"
	TypeNumber  VarType = "number"
	TypeBoolean VarType = "boolean"
	TypeObject  VarType = "object"
	TypeArray   VarType = "array"
)

// VariableSpec declares one template variable with its constraints.
type VariableSpec struct {
	Name     string  `json:"name"`
	Type     VarType `json:"type"`
	Required bool    `json:"required"`
	Default  any     `json:"default,omitempty"`
	// String constraints.
	MinLength int    `json:"min_length,omitempty"`
	MaxLength int    `json:"max_length,omitempty"`
	Pattern   string `json:"pattern,omitempty"`
	// Numeric constraints.
	Min *float64 `json:"min,omitempty"`
	Max *float64 `json:"max,omitempty"`
}

// Template is a registered prompt template with `{{name}}` placeholders.
type Template struct {
	ID           string         `json:"id"`
	Category     string         `json:"category"`
	Text         string         `json:"template"`
	Variables    []VariableSpec `json:"variables"`
	SystemPrompt string         `json:"system_prompt,omitempty"`
	OutputFormat string         `json:"output_format,omitempty"`
}

// compile validates vars against the template's specs and substitutes
// placeholders. Unknown placeholders are left intact to aid debugging;
// only a missing required variable is an error.
func (t *Template) compile(vars map[string]any) (string, error) {
	out := t.Text
	for _, spec := range t.Variables {
		value, present := vars[spec.Name]
		if !present {
			if spec.Required {
				return "", fmt.Errorf("required variable missing: %s", spec.Name)
			}
			if spec.Default == nil {
				continue
			}
			value = spec.Default
		}

		if err := spec.check(value); err != nil {
			return "", err
		}
		out = strings.ReplaceAll(out, "{{"+spec.Name+"}}", render(value))
	}
	return out, nil
}

// check type-checks a provided value and applies the spec's constraints.
func (s *VariableSpec) check(value any) error {
	switch s.Type {
	case TypeString:
		str, ok := value.(string)
		if !ok {
			return fmt.Errorf("variable %s: expected string, got %T", s.Name, value)
		}
		if s.MinLength > 0 && len(str) < s.MinLength {
			return fmt.Errorf("variable %s: shorter than %d characters", s.Name, s.MinLength)
		}
		if s.MaxLength > 0 && len(str) > s.MaxLength {
			return fmt.Errorf("variable %s: longer than %d characters", s.Name, s.MaxLength)
		}
		if s.Pattern != "" {
			re, err := regexp.Compile(s.Pattern)
			if err != nil {
				return fmt.Errorf("variable %s: invalid pattern %q: %w", s.Name, s.Pattern, err)
			}
			if !re.MatchString(str) {
				return fmt.Errorf("variable %s: does not match pattern %q", s.Name, s.Pattern)
			}
		}
	case TypeNumber:
		n, ok := toFloat(value)
		if !ok {
			return fmt.Errorf("variable %s: expected number, got %T", s.Name, value)
		}
		if s.Min != nil && n < *s.Min {
			return fmt.Errorf("variable %s: below minimum %g", s.Name, *s.Min)
		}
		if s.Max != nil && n > *s.Max {
			return fmt.Errorf("variable %s: above maximum %g", s.Name, *s.Max)
		}
	case TypeBoolean:
		if _, ok := value.(bool); !ok {
			return fmt.Errorf("variable %s: expected boolean, got %T", s.Name, value)
		}
	case TypeObject:
		if _, ok := value.(map[string]any); !ok {
			return fmt.Errorf("variable %s: expected object, got %T", s.Name, value)
		}
	case TypeArray:
		switch value.(type) {
		case []any, []string:
		default:
			return fmt.Errorf("variable %s: expected array, got %T", s.Name, value)
		}
	}
	return nil
}

func toFloat(value any) (float64, bool) {
	switch n := value.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

// render converts a variable value into its prompt text form.
func render(value any) string {
	switch v := value.(type) {
	case string:
		return v
	case bool:
		return strconv.FormatBool(v)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case []string:
		return strings.Join(v, ", ")
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(b)
	}
}
