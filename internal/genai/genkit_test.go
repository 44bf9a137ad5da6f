package genai

import (
	"testing"

	"github.com/google/jsonschema-go/jsonschema"
)

type searchToolArgs struct {
	Query string `json:"query" jsonschema:"search query"`
	TopK  int    `json:"top_k,omitempty" jsonschema:"result count"`
}

func TestSchemaAsMap(t *testing.T) {
	t.Run("declared properties survive the conversion", func(t *testing.T) {
		schema, err := jsonschema.For[searchToolArgs](nil)
		if err != nil {
			t.Fatalf("deriving schema: %v", err)
		}

		m, err := schemaAsMap(schema)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		props, ok := m["properties"].(map[string]any)
		if !ok {
			t.Fatalf("schema map has no properties: %v", m)
		}
		for _, name := range []string{"query", "top_k"} {
			if _, ok := props[name]; !ok {
				t.Errorf("property %q missing from converted schema", name)
			}
		}

		required, ok := m["required"].([]any)
		if !ok || len(required) == 0 {
			t.Fatalf("required list missing: %v", m["required"])
		}
		if required[0] != "query" {
			t.Errorf("required = %v, want [query]", required)
		}
	})

	t.Run("nil schema falls back to an open object", func(t *testing.T) {
		m, err := schemaAsMap(nil)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if m["type"] != "object" {
			t.Errorf("fallback schema = %v", m)
		}
	})
}
