// Package llmtest provides a scripted llms.Model for tests.
package llmtest

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/tmc/langchaingo/llms"
)

// Response is one scripted model turn. Chunks are delivered through the
// streaming callback when the caller set one.
type Response struct {
	Content   string
	Chunks    []string
	ToolCalls []llms.ToolCall
	Err       error
}

// Model replays Responses in order and records every call. The last
// response repeats once the script is exhausted.
type Model struct {
	Responses []Response

	mu      sync.Mutex
	calls   [][]llms.MessageContent
	options []llms.CallOptions
}

func (m *Model) GenerateContent(ctx context.Context, msgs []llms.MessageContent, opts ...llms.CallOption) (*llms.ContentResponse, error) {
	var o llms.CallOptions
	for _, opt := range opts {
		opt(&o)
	}

	m.mu.Lock()
	idx := len(m.calls)
	m.calls = append(m.calls, append([]llms.MessageContent(nil), msgs...))
	m.options = append(m.options, o)
	m.mu.Unlock()

	if len(m.Responses) == 0 {
		return nil, errors.New("llmtest: no response scripted")
	}
	if idx >= len(m.Responses) {
		idx = len(m.Responses) - 1
	}
	r := m.Responses[idx]
	if r.Err != nil {
		return nil, r.Err
	}
	if o.StreamingFunc != nil {
		for _, c := range r.Chunks {
			if err := o.StreamingFunc(ctx, []byte(c)); err != nil {
				return nil, err
			}
		}
	}
	content := r.Content
	if content == "" {
		content = strings.Join(r.Chunks, "")
	}
	return &llms.ContentResponse{
		Choices: []*llms.ContentChoice{{Content: content, ToolCalls: r.ToolCalls}},
	}, nil
}

func (m *Model) Call(ctx context.Context, prompt string, opts ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, m, prompt, opts...)
}

// Calls returns the message lists the model was invoked with.
func (m *Model) Calls() [][]llms.MessageContent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([][]llms.MessageContent(nil), m.calls...)
}

// Options returns the resolved call options of every call.
func (m *Model) Options() []llms.CallOptions {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]llms.CallOptions(nil), m.options...)
}

// TextOf concatenates the text parts of a message.
func TextOf(mc llms.MessageContent) string {
	var b strings.Builder
	for _, p := range mc.Parts {
		if t, ok := p.(llms.TextContent); ok {
			b.WriteString(t.Text)
		}
	}
	return b.String()
}
