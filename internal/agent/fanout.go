package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"agent-router/internal/domain"
	"agent-router/internal/graph"
)

// FanOut runs the flight and hotel handlers concurrently and joins their
// replies. A failing leg does not cancel the other one.
type FanOut struct {
	flight graph.Handler
	hotel  graph.Handler
}

func NewFanOut(flight, hotel graph.Handler) (*FanOut, error) {
	if flight == nil || hotel == nil {
		return nil, errors.New("agent: fan-out needs both flight and hotel handlers")
	}
	return &FanOut{flight: flight, hotel: hotel}, nil
}

func (f *FanOut) Invoke(ctx context.Context, req graph.Request) (string, error) {
	var flightOut, hotelOut string
	var g errgroup.Group
	g.Go(func() error {
		flightOut = f.leg(ctx, domain.RouteFlight, f.flight, req)
		return nil
	})
	g.Go(func() error {
		hotelOut = f.leg(ctx, domain.RouteHotel, f.hotel, req)
		return nil
	})
	_ = g.Wait()

	return fmt.Sprintf("✈️ **Flight Agent Response:**\n%s\n\n🏨 **Hotel Agent Response:**\n%s", flightOut, hotelOut), nil
}

// leg runs one side in blocking mode. Legs never write to the sink.
func (f *FanOut) leg(ctx context.Context, route domain.Route, h graph.Handler, req graph.Request) string {
	text := strings.TrimSpace(req.SubQueries[route])
	if text == "" {
		text = req.Text
	}
	out, err := h.Invoke(ctx, graph.Request{
		Text:           text,
		ConversationID: req.ConversationID,
		UserID:         req.UserID,
	})
	if err != nil {
		return fmt.Sprintf("[error: %s agent failed: %v]", route, err)
	}
	return out
}
