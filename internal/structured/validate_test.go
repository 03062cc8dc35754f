package structured

import (
	"strings"
	"testing"
)

func TestExtractFindsFirstObject(t *testing.T) {
	text := "Sure! Here is the room:\n```json\n{\"name\": \"Crypt\", \"depth\": 3}\n```\nLet me know."
	value, errs := Extract(text)
	if len(errs) != 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}
	if value["name"] != "Crypt" {
		t.Errorf("name = %v, want Crypt", value["name"])
	}
	if value["depth"] != float64(3) {
		t.Errorf("depth = %v, want 3", value["depth"])
	}
}

func TestExtractHandlesBracesInsideStrings(t *testing.T) {
	text := `prefix {"desc": "a door marked \"{exit}\" stands here", "n": 1} suffix`
	value, errs := Extract(text)
	if len(errs) != 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}
	if !strings.Contains(value["desc"].(string), "{exit}") {
		t.Errorf("desc = %v, braces inside string mangled", value["desc"])
	}
}

func TestExtractNestedObjects(t *testing.T) {
	text := `{"room": {"name": "Hall", "objects": ["torch"]}}`
	value, errs := Extract(text)
	if len(errs) != 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}
	room, ok := value["room"].(map[string]any)
	if !ok || room["name"] != "Hall" {
		t.Errorf("nested object not preserved: %v", value)
	}
}

func TestExtractNoObject(t *testing.T) {
	value, errs := Extract("I cannot answer that in JSON, sorry.")
	if value != nil {
		t.Errorf("value = %v, want nil", value)
	}
	if len(errs) != 1 || errs[0] != "no JSON object found" {
		t.Errorf("errs = %v, want single 'no JSON object found'", errs)
	}
}

func TestExtractMalformedObject(t *testing.T) {
	value, errs := Extract(`{"name": "Crypt", "depth": }`)
	if value != nil {
		t.Errorf("value = %v, want nil", value)
	}
	if len(errs) != 1 || !strings.Contains(errs[0], "parsing JSON object") {
		t.Errorf("errs = %v, want parsing error", errs)
	}
}

func roomSchema() *Schema {
	return Object(map[string]*Schema{
		"name":        String("room name"),
		"description": String("prose description"),
		"danger":      Number("danger rating"),
		"objects":     Array("object names"),
		"lit":         Boolean("whether the room is lit"),
		"exit": Object(map[string]*Schema{
			"direction": String("compass direction"),
		}, "direction"),
	}, "name", "description")
}

func TestValidateMissingRequiredNamesProperty(t *testing.T) {
	value := map[string]any{"name": "Crypt"}
	errs := Validate(value, roomSchema())
	if len(errs) != 1 {
		t.Fatalf("errs = %v, want exactly one", errs)
	}
	if !strings.Contains(errs[0], "description") {
		t.Errorf("error %q does not name the missing property", errs[0])
	}
}

func TestValidateTypeMismatches(t *testing.T) {
	value := map[string]any{
		"name":        "Crypt",
		"description": "dank",
		"danger":      "high", // should be number
		"objects":     "torch", // should be array
		"lit":         1,       // should be boolean
	}
	errs := Validate(value, roomSchema())
	if len(errs) != 3 {
		t.Fatalf("got %d errors, want 3: %v", len(errs), errs)
	}
	joined := strings.Join(errs, "; ")
	for _, want := range []string{"danger", "objects", "lit"} {
		if !strings.Contains(joined, want) {
			t.Errorf("errors %q missing mention of %s", joined, want)
		}
	}
}

func TestValidateNestedObject(t *testing.T) {
	value := map[string]any{
		"name":        "Crypt",
		"description": "dank",
		"exit":        map[string]any{"direction": 7},
	}
	errs := Validate(value, roomSchema())
	if len(errs) != 1 {
		t.Fatalf("errs = %v, want one nested error", errs)
	}
	if !strings.Contains(errs[0], "exit.direction") {
		t.Errorf("error %q missing nested path", errs[0])
	}
}

func TestValidateArrayItemsNotRecursed(t *testing.T) {
	// Array contents are deliberately unchecked; only the container type is.
	value := map[string]any{
		"name":        "Crypt",
		"description": "dank",
		"objects":     []any{1, true, "torch"},
	}
	if errs := Validate(value, roomSchema()); len(errs) != 0 {
		t.Errorf("array item contents should not be validated, got %v", errs)
	}
}

func TestParseReturnsPartialValueWithErrors(t *testing.T) {
	value, errs := Parse(`{"name": "Crypt"}`, roomSchema())
	if value == nil {
		t.Fatal("partial value should still be returned")
	}
	if len(errs) == 0 {
		t.Error("expected validation errors for missing description")
	}
	if value["name"] != "Crypt" {
		t.Errorf("name = %v, want Crypt", value["name"])
	}
}
