package router

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"agent-router/internal/domain"
)

type rawDecision struct {
	Route       domain.Route `json:"route"`
	Title       string       `json:"title"`
	FlightQuery string       `json:"flightQuery"`
	HotelQuery  string       `json:"hotelQuery"`
}

// stripFences removes markdown code fences a model may wrap its JSON in.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	s = strings.ReplaceAll(s, "```json", "")
	s = strings.ReplaceAll(s, "```", "")
	return strings.TrimSpace(s)
}

func parseDecision(raw string) (rawDecision, error) {
	body := stripFences(raw)
	if body == "" {
		return rawDecision{}, errors.New("router: empty decision")
	}
	var out rawDecision
	if err := json.Unmarshal([]byte(body), &out); err != nil {
		return rawDecision{}, fmt.Errorf("router: decode decision: %w", err)
	}
	out.Route = domain.Route(strings.ToLower(strings.TrimSpace(string(out.Route))))
	return out, nil
}
