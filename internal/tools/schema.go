package tools

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// ErrNoName is returned by NormalizeSchema for a schema without a usable
// function name.
var ErrNoName = errors.New("schema has no function name")

// Envelope builds a function-call schema.
func Envelope(name, description string, params map[string]any) map[string]any {
	if params == nil {
		params = map[string]any{"type": "object", "properties": map[string]any{}}
	}
	return map[string]any{
		"type": "function",
		"function": map[string]any{
			"name":        name,
			"description": description,
			"parameters":  params,
		},
	}
}

// NormalizeSchema wraps a bare {name, description, parameters} schema in
// the function envelope and returns it with its name. The input is not
// modified.
func NormalizeSchema(raw map[string]any) (map[string]any, string, error) {
	if raw == nil {
		return nil, "", ErrNoName
	}

	var fn map[string]any
	if inner, ok := raw["function"]; ok {
		m, ok := inner.(map[string]any)
		if !ok {
			return nil, "", fmt.Errorf("function is %T, not an object", inner)
		}
		fn = m
	} else {
		fn = raw
	}

	name, _ := fn["name"].(string)
	if name == "" {
		return nil, "", ErrNoName
	}

	fnCopy := make(map[string]any, len(fn))
	for k, v := range fn {
		fnCopy[k] = v
	}
	return map[string]any{"type": "function", "function": fnCopy}, name, nil
}

// Rewrite returns a copy of a normalized schema with the non-empty
// fields replaced.
func Rewrite(schema map[string]any, name, description string, params map[string]any) map[string]any {
	fn, _ := schema["function"].(map[string]any)
	out := make(map[string]any, len(fn))
	for k, v := range fn {
		out[k] = v
	}
	if name != "" {
		out["name"] = name
	}
	if description != "" {
		out["description"] = description
	}
	if params != nil {
		out["parameters"] = params
	}
	return map[string]any{"type": "function", "function": out}
}

// SchemaName returns the function name of a normalized schema.
func SchemaName(schema map[string]any) string {
	fn, _ := schema["function"].(map[string]any)
	name, _ := fn["name"].(string)
	return name
}

// Parameters returns the parameters object of a normalized schema.
func Parameters(schema map[string]any) map[string]any {
	fn, _ := schema["function"].(map[string]any)
	p, _ := fn["parameters"].(map[string]any)
	return p
}

var compiled sync.Map

// CompileParameters compiles a parameters object as JSON Schema. A nil
// object compiles to the empty object schema. Results are cached by
// content.
func CompileParameters(params map[string]any) (*jsonschema.Schema, error) {
	if params == nil {
		params = map[string]any{"type": "object"}
	}
	raw, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("encode parameters: %w", err)
	}

	key := string(raw)
	if cached, ok := compiled.Load(key); ok {
		if s, ok := cached.(*jsonschema.Schema); ok {
			return s, nil
		}
	}

	s, err := jsonschema.CompileString("parameters.json", key)
	if err != nil {
		return nil, err
	}
	compiled.Store(key, s)
	return s, nil
}

// ValidateArguments checks args against the descriptor's parameters.
func ValidateArguments(d Descriptor, args map[string]any) error {
	s, err := CompileParameters(d.Parameters())
	if err != nil {
		return err
	}
	// Round-trip so numbers and nested values have JSON types.
	raw, err := json.Marshal(args)
	if err != nil {
		return err
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return err
	}
	return s.Validate(v)
}
