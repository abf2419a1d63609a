// Package graph runs one conversation turn: a router node picks the route,
// exactly one handler node produces the reply, then the run ends.
package graph

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"agent-router/internal/domain"
	"agent-router/internal/metrics"
	"agent-router/internal/router"
)

// Sink receives streamed reply chunks. Closed reports that the client went
// away and further writes are pointless.
type Sink interface {
	Write(chunk string) error
	Closed() bool
}

// Request is what a handler node receives.
type Request struct {
	Text           string
	ConversationID string
	UserID         string
	// Sink is nil in blocking mode.
	Sink       Sink
	SubQueries map[domain.Route]string
}

// Handler produces the reply for one route. A streaming handler may write
// the reply to req.Sink and return an empty string.
type Handler interface {
	Invoke(ctx context.Context, req Request) (string, error)
}

type HandlerFunc func(ctx context.Context, req Request) (string, error)

func (f HandlerFunc) Invoke(ctx context.Context, req Request) (string, error) {
	return f(ctx, req)
}

type Classifier interface {
	Classify(ctx context.Context, text string, hasPriorRoute bool) (router.Decision, error)
	Variant() domain.Variant
}

// State is the per-turn state threaded through the nodes.
type State struct {
	Input          string
	ConversationID string
	UserID         string
	Sink           Sink
	Created        bool
	// PriorRoute is the conversation's last route; Reroute forces a fresh
	// classification even when it is set.
	PriorRoute domain.Route
	Reroute    bool

	Route      domain.Route
	Title      string
	SubQueries map[domain.Route]string
	Output     string
	HandlerErr error
}

func (s State) Streaming() bool {
	return s.Sink != nil
}

type node func(ctx context.Context, st *State) error

type Graph struct {
	classifier Classifier
	handlers   map[domain.Route]Handler
	metrics    *metrics.Metrics
}

// Build checks that every label of the classifier's variant has a handler.
func Build(c Classifier, handlers map[domain.Route]Handler, m *metrics.Metrics) (*Graph, error) {
	if c == nil {
		return nil, errors.New("graph: classifier must not be nil")
	}
	v := c.Variant()
	for _, l := range v.Labels {
		if handlers[l] == nil {
			return nil, errors.Errorf("graph: no handler for route %q of variant %q", l, v.Name)
		}
	}
	for r := range handlers {
		if !v.Has(r) {
			return nil, errors.Errorf("graph: handler for route %q is not a label of variant %q", r, v.Name)
		}
	}
	table := make(map[domain.Route]Handler, len(handlers))
	for r, h := range handlers {
		table[r] = h
	}
	return &Graph{classifier: c, handlers: table, metrics: m}, nil
}

func (g *Graph) Variant() domain.Variant {
	return g.classifier.Variant()
}

// Run executes router then handler. Only a failed classification is
// returned as an error; handler failures end up in Output and HandlerErr.
func (g *Graph) Run(ctx context.Context, st State) (State, error) {
	for _, n := range g.plan(st) {
		if err := n(ctx, &st); err != nil {
			return st, err
		}
	}
	return st, nil
}

// plan assembles the node sequence for one turn. A conversation with a
// usable prior route skips classification unless a reroute was requested.
func (g *Graph) plan(st State) []node {
	routerNode := g.classify
	if st.PriorRoute != "" && !st.Reroute && g.Variant().Has(st.PriorRoute) {
		routerNode = g.keepRoute
	}
	return []node{routerNode, g.dispatch}
}

func (g *Graph) keepRoute(_ context.Context, st *State) error {
	st.Route = st.PriorRoute
	if st.Route == domain.RouteBoth && st.SubQueries == nil {
		st.SubQueries = map[domain.Route]string{
			domain.RouteFlight: st.Input,
			domain.RouteHotel:  st.Input,
		}
	}
	g.metrics.RouteDecision(g.Variant().Name, string(st.Route), metrics.SourceSticky)
	return nil
}

func (g *Graph) classify(ctx context.Context, st *State) error {
	d, err := g.classifier.Classify(ctx, st.Input, st.PriorRoute != "")
	if err != nil {
		return err
	}
	st.Route = d.Route
	st.SubQueries = d.SubQueries
	if d.Title != "" {
		st.Title = d.Title
	}
	return nil
}

func (g *Graph) dispatch(ctx context.Context, st *State) error {
	h, ok := g.handlers[st.Route]
	if !ok {
		// Classification always yields a label of the variant.
		return errors.Errorf("graph: no handler for route %q", st.Route)
	}

	start := time.Now()
	out, err := h.Invoke(ctx, Request{
		Text:           st.Input,
		ConversationID: st.ConversationID,
		UserID:         st.UserID,
		Sink:           st.Sink,
		SubQueries:     st.SubQueries,
	})
	g.metrics.ObserveHandler(string(st.Route), time.Since(start))

	if err != nil {
		log.Error().Err(err).
			Str("route", string(st.Route)).
			Str("conversation_id", st.ConversationID).
			Msg("handler failed")
		st.HandlerErr = err
		st.Output = ErrorReply(st.Route, err)
		return nil
	}
	st.Output = out
	return nil
}

// ErrorReply is the user-visible text for a failed handler.
func ErrorReply(route domain.Route, err error) string {
	return fmt.Sprintf("Error: %s agent failed: %v", route, err)
}
