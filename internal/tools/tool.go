// Package tools defines the function tools agents can call and exposes them
// over MCP.
package tools

import (
	"context"
	"encoding/json"
	"regexp"
	"strings"
)

// Tool is a named function with a JSON schema for its arguments.
type Tool struct {
	Name        string
	Description string
	// Parameters is a JSON schema object.
	Parameters map[string]any
	Call       func(ctx context.Context, args json.RawMessage) (string, error)
}

var invalidNameChars = regexp.MustCompile(`[^a-z0-9_.-]+`)

// SanitizeName lowercases name and replaces characters outside [a-z0-9_.-].
func SanitizeName(name string) string {
	n := invalidNameChars.ReplaceAllString(strings.ToLower(strings.TrimSpace(name)), "_")
	n = strings.Trim(n, "_")
	if n == "" {
		return "tool"
	}
	return n
}

func objectSchema(props map[string]any, required ...string) map[string]any {
	s := map[string]any{
		"type":       "object",
		"properties": props,
	}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}

// Find returns the tool with the given name.
func Find(ts []Tool, name string) (Tool, bool) {
	for _, t := range ts {
		if t.Name == name {
			return t, true
		}
	}
	return Tool{}, false
}
