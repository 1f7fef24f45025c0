// Package tool defines the callable functions agents expose to models.
package tool

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ashureev/smartfin/internal/llm"
)

// Tool pairs a model-facing definition with its implementation.
type Tool struct {
	Definition llm.ToolDefinition
	Run        func(ctx context.Context, args json.RawMessage) (string, error)
}

// Name returns the tool name.
func (t Tool) Name() string { return t.Definition.Name }

// New builds a tool whose arguments are decoded into T and whose result is
// encoded as JSON (strings are returned as-is).
func New[T any](name, description string, params map[string]any, fn func(ctx context.Context, args T) (any, error)) Tool {
	return Tool{
		Definition: llm.ToolDefinition{Name: name, Description: description, Parameters: params},
		Run: func(ctx context.Context, raw json.RawMessage) (string, error) {
			var args T
			if len(raw) > 0 && string(raw) != "null" {
				if err := json.Unmarshal(raw, &args); err != nil {
					return "", fmt.Errorf("decode %s arguments: %w", name, err)
				}
			}
			out, err := fn(ctx, args)
			if err != nil {
				return "", err
			}
			return Encode(out)
		},
	}
}

// Encode renders a tool result for the model.
func Encode(v any) (string, error) {
	if s, ok := v.(string); ok {
		return s, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("encode tool result: %w", err)
	}
	return string(b), nil
}

// Definitions lists the model-facing definitions of a tool set.
func Definitions(tools []Tool) []llm.ToolDefinition {
	defs := make([]llm.ToolDefinition, len(tools))
	for i, t := range tools {
		defs[i] = t.Definition
	}
	return defs
}

// Object returns an object schema with the given properties and required keys.
func Object(props map[string]any, required ...string) map[string]any {
	s := map[string]any{"type": "object", "properties": props}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}

// Prop returns a typed property with a description.
func Prop(typ, description string) map[string]any {
	return map[string]any{"type": typ, "description": description}
}
