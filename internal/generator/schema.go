package generator

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/MrWong99/kaigo/pkg/provider/llm"
)

//go:embed schemas/turn.json
var turnSchema []byte

// Schema is a compiled JSON Schema document. The raw document is sent to
// backends that support structured output; the compiled form validates
// decoded responses.
type Schema struct {
	name     string
	document map[string]any
	compiled *jsonschema.Schema
}

// CompileSchema parses and compiles doc. name identifies the schema to the
// backend.
func CompileSchema(name string, doc []byte) (*Schema, error) {
	var document map[string]any
	if err := json.Unmarshal(doc, &document); err != nil {
		return nil, fmt.Errorf("generator: parse schema %q: %w", name, err)
	}

	url := "kaigo://schemas/" + name + ".json"
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(url, bytes.NewReader(doc)); err != nil {
		return nil, fmt.Errorf("generator: add schema %q: %w", name, err)
	}
	compiled, err := compiler.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("generator: compile schema %q: %w", name, err)
	}
	return &Schema{name: name, document: document, compiled: compiled}, nil
}

// TurnSchema returns the compiled schema for a role-play turn.
func TurnSchema() (*Schema, error) {
	return CompileSchema("roleplay_turn", turnSchema)
}

// Name returns the schema name.
func (s *Schema) Name() string { return s.name }

// Validate checks a decoded JSON value against the schema.
func (s *Schema) Validate(v any) error {
	if err := s.compiled.Validate(v); err != nil {
		return fmt.Errorf("generator: schema %q: %w", s.name, err)
	}
	return nil
}

// hint converts the schema to the provider-level structured output hint.
func (s *Schema) hint() *llm.ResponseSchema {
	// Strip the meta-schema keyword; some backends reject it.
	doc := make(map[string]any, len(s.document))
	for k, v := range s.document {
		if k == "$schema" {
			continue
		}
		doc[k] = v
	}
	return &llm.ResponseSchema{Name: s.name, Schema: doc, Strict: true}
}
