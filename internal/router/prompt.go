package router

import (
	"encoding/json"
	"fmt"
	"strings"

	"agent-router/internal/domain"
)

func buildPrompt(v domain.Variant, text string, wantTitle bool) Prompt {
	return Prompt{
		Messages: []domain.ChatMessage{
			{Role: "system", Content: instructions(v, wantTitle)},
			{Role: "user", Content: fmt.Sprintf("User request: %q", text)},
		},
		Schema: decisionSchema(v, wantTitle),
	}
}

func instructions(v domain.Variant, wantTitle bool) string {
	lines := []string{
		"Analyze the user request and decide which service should handle it:",
	}
	for _, l := range v.Labels {
		lines = append(lines, fmt.Sprintf("- %q if %s", l, v.Guidance[l]))
	}
	if v.Has(domain.RouteBoth) {
		lines = append(lines,
			"",
			`If "both", also extract separate queries for each agent in "flightQuery" and "hotelQuery".`,
		)
	}
	if wantTitle {
		lines = append(lines,
			"",
			`Also return "title": a short human-readable title (at most six words) for the conversation.`,
		)
	}
	lines = append(lines,
		"",
		"Respond ONLY with valid JSON (no markdown, no explanation).",
		"Example: "+example(v, wantTitle),
	)
	return strings.Join(lines, "\n")
}

func example(v domain.Variant, wantTitle bool) string {
	out := map[string]string{"route": string(v.Labels[0])}
	if v.Has(domain.RouteBoth) {
		out["route"] = string(domain.RouteBoth)
		out["flightQuery"] = "Find a flight to Paris"
		out["hotelQuery"] = "Find a 5-star hotel in Paris"
	}
	if wantTitle {
		out["title"] = "Trip to Paris"
		if !v.Has(domain.RouteBoth) {
			out["title"] = "Latest media uploads"
		}
	}
	b, _ := json.Marshal(out)
	return string(b)
}

// decisionSchema is the strict json_schema for the structured completer.
// Strict mode requires every property, so optional values come back empty.
func decisionSchema(v domain.Variant, wantTitle bool) []byte {
	enum := make([]string, 0, len(v.Labels))
	for _, l := range v.Labels {
		enum = append(enum, string(l))
	}
	props := map[string]any{
		"route": map[string]any{"type": "string", "enum": enum},
	}
	required := []string{"route"}
	if v.Has(domain.RouteBoth) {
		props["flightQuery"] = map[string]any{"type": "string"}
		props["hotelQuery"] = map[string]any{"type": "string"}
		required = append(required, "flightQuery", "hotelQuery")
	}
	if wantTitle {
		props["title"] = map[string]any{"type": "string"}
		required = append(required, "title")
	}
	b, _ := json.Marshal(map[string]any{
		"type":                 "object",
		"properties":           props,
		"required":             required,
		"additionalProperties": false,
	})
	return b
}
