// Package router classifies a user message into one of a variant's routes
// with a single LLM call.
package router

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"agent-router/internal/domain"
	"agent-router/internal/metrics"
)

// Completer sends one classification prompt and returns the model's raw
// reply. Schema is a hint for completers that support constrained output.
type Completer interface {
	Complete(ctx context.Context, p Prompt) (string, error)
}

type Prompt struct {
	Messages []domain.ChatMessage
	Schema   []byte
}

// Decision is the outcome of one classification.
type Decision struct {
	Route domain.Route
	// Title is only requested on a conversation's first turn.
	Title      string
	SubQueries map[domain.Route]string
	// Defaulted is set when the model output was unusable and the variant
	// default was taken instead.
	Defaulted bool
}

// Error is returned when the LLM call itself failed.
type Error struct {
	Status int
	Err    error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Status != 0 {
		return fmt.Sprintf("router: classify (status %d): %v", e.Status, e.Err)
	}
	return fmt.Sprintf("router: classify: %v", e.Err)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// RateLimited reports whether the provider rejected the call with 429.
func (e *Error) RateLimited() bool {
	return e != nil && e.Status == 429
}

type httpStatusCoder interface {
	HTTPStatusCode() int
}

type Classifier struct {
	variant   domain.Variant
	completer Completer
	metrics   *metrics.Metrics
}

func NewClassifier(v domain.Variant, c Completer, m *metrics.Metrics) (*Classifier, error) {
	if c == nil {
		return nil, errors.New("router: completer must not be nil")
	}
	if len(v.Labels) == 0 {
		return nil, errors.New("router: variant has no labels")
	}
	if !v.Has(v.Default) {
		return nil, fmt.Errorf("router: default route %q is not a label of variant %q", v.Default, v.Name)
	}
	return &Classifier{variant: v, completer: c, metrics: m}, nil
}

func (c *Classifier) Variant() domain.Variant {
	return c.variant
}

// Classify picks the route for text. Output that cannot be parsed or names
// an unknown label yields the variant default without an error; only a
// failed LLM call is reported.
func (c *Classifier) Classify(ctx context.Context, text string, hasPriorRoute bool) (Decision, error) {
	wantTitle := !hasPriorRoute
	raw, err := c.completer.Complete(ctx, buildPrompt(c.variant, text, wantTitle))
	if err != nil {
		rerr := &Error{Err: err}
		var coder httpStatusCoder
		if errors.As(err, &coder) {
			rerr.Status = coder.HTTPStatusCode()
		}
		return Decision{}, rerr
	}

	parsed, perr := parseDecision(raw)
	d := Decision{Route: parsed.Route}
	switch {
	case perr != nil:
		log.Warn().Err(perr).Str("variant", c.variant.Name).Msg("router output unparseable, using default route")
		d = Decision{Route: c.variant.Default, Defaulted: true}
	case !c.variant.Has(parsed.Route):
		log.Warn().Str("variant", c.variant.Name).Str("route", string(parsed.Route)).Msg("router returned unknown route, using default")
		d = Decision{Route: c.variant.Default, Defaulted: true}
	}

	if wantTitle {
		d.Title = strings.TrimSpace(parsed.Title)
		if d.Title == "" {
			d.Title = FallbackTitle(text)
		}
	}
	if d.Route == domain.RouteBoth {
		d.SubQueries = map[domain.Route]string{
			domain.RouteFlight: firstNonEmpty(parsed.FlightQuery, text),
			domain.RouteHotel:  firstNonEmpty(parsed.HotelQuery, text),
		}
	}

	source := metrics.SourceClassifier
	if d.Defaulted {
		source = metrics.SourceDefault
	}
	c.metrics.RouteDecision(c.variant.Name, string(d.Route), source)
	log.Debug().Str("variant", c.variant.Name).Str("route", string(d.Route)).Bool("defaulted", d.Defaulted).Msg("router decision")
	return d, nil
}

const maxFallbackTitle = 60

// FallbackTitle derives a title from the first words of the message.
func FallbackTitle(text string) string {
	words := strings.Fields(text)
	var b strings.Builder
	for _, w := range words {
		if b.Len()+len(w)+1 > maxFallbackTitle {
			break
		}
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(w)
	}
	if b.Len() == 0 && len(words) > 0 {
		r := []rune(words[0])
		if len(r) > maxFallbackTitle {
			r = r[:maxFallbackTitle]
		}
		return string(r)
	}
	return b.String()
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}
