package router

import (
	"context"
	"errors"

	"github.com/tmc/langchaingo/llms"

	"agent-router/internal/domain"
	"agent-router/internal/integrations/llm"
	"agent-router/internal/integrations/openai"
)

type chatClient interface {
	Chat(ctx context.Context, messages []domain.ChatMessage, format *openai.ResponseFormat) (string, error)
}

// StructuredCompleter asks the provider for a json_schema constrained reply.
type StructuredCompleter struct {
	client chatClient
}

func NewStructuredCompleter(c chatClient) (*StructuredCompleter, error) {
	if c == nil {
		return nil, errors.New("router: chat client must not be nil")
	}
	return &StructuredCompleter{client: c}, nil
}

func (s *StructuredCompleter) Complete(ctx context.Context, p Prompt) (string, error) {
	var format *openai.ResponseFormat
	if len(p.Schema) > 0 {
		format = openai.JSONSchema("route_decision", p.Schema)
	}
	return s.client.Chat(ctx, p.Messages, format)
}

// ModelCompleter sends the prompt to a langchaingo model as plain text.
type ModelCompleter struct {
	model llms.Model
}

func NewModelCompleter(m llms.Model) (*ModelCompleter, error) {
	if m == nil {
		return nil, errors.New("router: model must not be nil")
	}
	return &ModelCompleter{model: m}, nil
}

func (m *ModelCompleter) Complete(ctx context.Context, p Prompt) (string, error) {
	msgs := make([]llms.MessageContent, 0, len(p.Messages))
	for _, cm := range p.Messages {
		msgs = append(msgs, llms.TextParts(chatRole(cm.Role), cm.Content))
	}
	resp, err := m.model.GenerateContent(ctx, msgs, llms.WithTemperature(0))
	if err != nil {
		return "", err
	}
	return llm.Text(resp)
}

func chatRole(role string) llms.ChatMessageType {
	switch role {
	case "system":
		return llms.ChatMessageTypeSystem
	case "assistant":
		return llms.ChatMessageTypeAI
	default:
		return llms.ChatMessageTypeHuman
	}
}
