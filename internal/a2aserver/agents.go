package a2aserver

import (
	"github.com/a2aproject/a2a-go/a2a"

	"agent-router/internal/domain"
)

// Definition describes one agent served by the agents command.
type Definition struct {
	Name         string
	DisplayName  string
	Description  string
	SystemPrompt string
	// Kind is the catalog kind whose tools the agent gets. Empty for agents
	// backed by a remote MCP server.
	Kind string
	Tags []string
}

var definitions = []Definition{
	{
		Name:        "flight",
		DisplayName: "Flight Agent",
		Description: "An agent for handling flight bookings and information.",
		SystemPrompt: "You are a flight booking assistant. Use the flight tools to search and look up flights. " +
			"Only reserve a flight after the user has explicitly confirmed, and pass confirm=true only then.",
		Kind: domain.KindFlights,
		Tags: []string{"flight", "booking"},
	},
	{
		Name:        "hotel",
		DisplayName: "Hotel Agent",
		Description: "An agent for handling hotel bookings and information.",
		SystemPrompt: "You are a hotel booking assistant. Use the hotel tools to search and look up hotels. " +
			"Only reserve a hotel after the user has explicitly confirmed, and pass confirm=true only then.",
		Kind: domain.KindHotels,
		Tags: []string{"hotel", "booking"},
	},
	{
		Name:        "tour",
		DisplayName: "Tour Agent",
		Description: "An agent for handling tour bookings and information.",
		SystemPrompt: "You are a tour booking assistant. Use the tour tools to search and look up tours. " +
			"Only reserve a tour after the user has explicitly confirmed, and pass confirm=true only then.",
		Kind: domain.KindTours,
		Tags: []string{"tour", "booking"},
	},
	{
		Name:         "media",
		DisplayName:  "Media Agent",
		Description:  "An agent for media tasks backed by a remote tool server.",
		SystemPrompt: "You are a media assistant. Use the available tools to answer the user's request.",
		Tags:         []string{"media"},
	},
}

// Definitions returns the built-in agent definitions.
func Definitions() []Definition {
	return append([]Definition(nil), definitions...)
}

// Lookup returns the definition with the given name.
func Lookup(name string) (Definition, bool) {
	for _, d := range definitions {
		if d.Name == name {
			return d, true
		}
	}
	return Definition{}, false
}

// Card builds the agent card served under /{name}/.
func (d Definition) Card(publicURL, version string) *a2a.AgentCard {
	return &a2a.AgentCard{
		Name:               d.DisplayName,
		Description:        d.Description,
		URL:                publicURL + "/" + d.Name + "/",
		Version:            version,
		ProtocolVersion:    "0.3.0",
		DefaultInputModes:  []string{"text"},
		DefaultOutputModes: []string{"text"},
		Skills: []a2a.AgentSkill{{
			ID:          d.Name,
			Name:        d.DisplayName,
			Description: d.Description,
			Tags:        d.Tags,
		}},
		Capabilities: a2a.AgentCapabilities{
			Streaming:         false,
			PushNotifications: false,
		},
		PreferredTransport: a2a.TransportProtocolJSONRPC,
	}
}
