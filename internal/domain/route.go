package domain

// Route is the handler label chosen for a conversation turn.
type Route string

const (
	RouteMedia  Route = "media"
	RouteCasie  Route = "casie"
	RouteRAG    Route = "rag"
	RouteFlight Route = "flight"
	RouteHotel  Route = "hotel"
	RouteBoth   Route = "both"
)

// Variant is a closed label set with its fallback and the guidance shown to
// the classifier for each label.
type Variant struct {
	Name     string
	Labels   []Route
	Default  Route
	Guidance map[Route]string
}

// Has reports whether r belongs to the variant's label set.
func (v Variant) Has(r Route) bool {
	for _, l := range v.Labels {
		if l == r {
			return true
		}
	}
	return false
}

var WorkspaceVariant = Variant{
	Name:    "workspace",
	Labels:  []Route{RouteMedia, RouteCasie, RouteRAG},
	Default: RouteMedia,
	Guidance: map[Route]string{
		RouteMedia: "the request is about media, videos, movies, comments, or media content",
		RouteCasie: "the request is about services, legal services, or general services",
		RouteRAG:   "the request needs information retrieval, document search, or knowledge base queries",
	},
}

var TravelVariant = Variant{
	Name:    "travel",
	Labels:  []Route{RouteFlight, RouteHotel, RouteBoth},
	Default: RouteFlight,
	Guidance: map[Route]string{
		RouteFlight: "the request is only about flights",
		RouteHotel:  "the request is only about hotels",
		RouteBoth:   "the request needs BOTH a flight and a hotel",
	},
}

// VariantByName returns the built-in variant with the given name.
func VariantByName(name string) (Variant, bool) {
	switch name {
	case WorkspaceVariant.Name:
		return WorkspaceVariant, true
	case TravelVariant.Name:
		return TravelVariant, true
	}
	return Variant{}, false
}
