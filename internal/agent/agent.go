// Package agent holds the route handlers: the local tool-calling agent, the
// HTTP proxy to a sibling agent service and the flight+hotel fan-out.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/llms"

	"agent-router/internal/domain"
	"agent-router/internal/graph"
	"agent-router/internal/integrations/llm"
	"agent-router/internal/repository"
	"agent-router/internal/tools"
)

const (
	defaultMaxIterations = 8
	noResponse           = "No response"
)

// ErrIterationLimit is returned when the model keeps calling tools past the
// configured bound.
var ErrIterationLimit = errors.New("agent: iteration limit reached")

type Config struct {
	Name         string
	SystemPrompt string
	Model        llms.Model
	Tools        []tools.Tool
	Checkpoints  repository.CheckpointStore
	// MaxIterations bounds model calls per turn.
	MaxIterations int
}

// Agent runs a tool-calling loop over a langchaingo model and keeps its
// message list in a checkpoint per thread.
type Agent struct {
	name          string
	systemPrompt  string
	model         llms.Model
	tools         []tools.Tool
	llmTools      []llms.Tool
	checkpoints   repository.CheckpointStore
	maxIterations int
}

func New(cfg Config) (*Agent, error) {
	name := strings.TrimSpace(cfg.Name)
	if name == "" {
		return nil, errors.New("agent: name must not be empty")
	}
	if cfg.Model == nil {
		return nil, errors.New("agent: model must not be nil")
	}
	if cfg.Checkpoints == nil {
		return nil, errors.New("agent: checkpoint store must not be nil")
	}
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = defaultMaxIterations
	}
	a := &Agent{
		name:          name,
		systemPrompt:  strings.TrimSpace(cfg.SystemPrompt),
		model:         cfg.Model,
		tools:         cfg.Tools,
		checkpoints:   cfg.Checkpoints,
		maxIterations: cfg.MaxIterations,
	}
	for _, t := range cfg.Tools {
		a.llmTools = append(a.llmTools, llms.Tool{
			Type: "function",
			Function: &llms.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			},
		})
	}
	return a, nil
}

func (a *Agent) Name() string {
	return a.name
}

// Invoke runs one turn on the thread req.ConversationID. The checkpoint is
// saved even when the iteration bound is hit.
func (a *Agent) Invoke(ctx context.Context, req graph.Request) (string, error) {
	threadID := strings.TrimSpace(req.ConversationID)
	if threadID == "" {
		return "", errors.New("agent: thread id must not be empty")
	}

	cp, err := a.checkpoints.LoadCheckpoint(ctx, threadID, a.name)
	if err != nil {
		return "", errors.Wrapf(err, "agent %s: load checkpoint", a.name)
	}
	if cp == nil {
		cp = &domain.Checkpoint{ThreadID: threadID, Namespace: a.name}
		if a.systemPrompt != "" {
			cp.Messages = append(cp.Messages, domain.CheckpointMessage{Role: domain.CheckpointRoleSystem, Content: a.systemPrompt})
		}
	}
	cp.Messages = append(cp.Messages, domain.CheckpointMessage{Role: domain.CheckpointRoleHuman, Content: req.Text})

	reply, loopErr := a.loop(ctx, cp, req.Sink)
	cp.UpdatedAt = time.Now().UTC()

	if err := a.checkpoints.SaveCheckpoint(ctx, *cp); err != nil {
		log.Error().Err(err).Str("agent", a.name).Str("thread_id", threadID).Msg("save checkpoint failed")
		if loopErr == nil {
			loopErr = errors.Wrapf(err, "agent %s: save checkpoint", a.name)
		}
	}
	if loopErr != nil {
		return "", loopErr
	}
	return reply, nil
}

func (a *Agent) loop(ctx context.Context, cp *domain.Checkpoint, sink graph.Sink) (string, error) {
	opts := []llms.CallOption{llms.WithTemperature(0)}
	if len(a.llmTools) > 0 {
		opts = append(opts, llms.WithTools(a.llmTools))
	}
	if sink != nil {
		opts = append(opts, llms.WithStreamingFunc(graph.StreamFunc(sink)))
	}

	for i := 0; i < a.maxIterations; i++ {
		resp, err := a.model.GenerateContent(ctx, toMessages(cp.Messages), opts...)
		if err != nil {
			return "", errors.Wrapf(err, "agent %s: generate", a.name)
		}
		if len(resp.Choices) == 0 {
			return "", errors.Errorf("agent %s: no choices in response", a.name)
		}
		choice := resp.Choices[0]

		aiMsg := domain.CheckpointMessage{Role: domain.CheckpointRoleAI, Content: choice.Content}
		for _, tc := range choice.ToolCalls {
			if tc.FunctionCall == nil {
				continue
			}
			aiMsg.ToolCalls = append(aiMsg.ToolCalls, domain.ToolCall{
				ID:        tc.ID,
				Name:      tc.FunctionCall.Name,
				Arguments: tc.FunctionCall.Arguments,
			})
		}
		cp.Messages = append(cp.Messages, aiMsg)

		if len(aiMsg.ToolCalls) == 0 {
			if strings.TrimSpace(choice.Content) == "" {
				return noResponse, nil
			}
			return choice.Content, nil
		}
		for _, tc := range aiMsg.ToolCalls {
			cp.Messages = append(cp.Messages, domain.CheckpointMessage{
				Role:       domain.CheckpointRoleTool,
				ToolCallID: tc.ID,
				Name:       tc.Name,
				Content:    a.callTool(ctx, tc),
			})
		}
	}
	return "", errors.Wrapf(ErrIterationLimit, "agent %s: after %d model calls", a.name, a.maxIterations)
}

// callTool runs one tool call. Failures are reported back to the model as
// the tool result.
func (a *Agent) callTool(ctx context.Context, tc domain.ToolCall) string {
	t, ok := tools.Find(a.tools, tc.Name)
	if !ok {
		return fmt.Sprintf("Error: unknown tool %q", tc.Name)
	}
	args := json.RawMessage(tc.Arguments)
	if strings.TrimSpace(tc.Arguments) == "" {
		args = json.RawMessage("{}")
	}
	out, err := t.Call(ctx, args)
	if err != nil {
		log.Warn().Err(err).Str("agent", a.name).Str("tool", tc.Name).Msg("tool call failed")
		return "Error: " + err.Error()
	}
	log.Debug().Str("agent", a.name).Str("tool", tc.Name).Msg("tool call")
	return out
}

func toMessages(cms []domain.CheckpointMessage) []llms.MessageContent {
	out := make([]llms.MessageContent, 0, len(cms))
	for _, m := range cms {
		out = append(out, toMessage(m))
	}
	return out
}

func toMessage(m domain.CheckpointMessage) llms.MessageContent {
	switch m.Role {
	case domain.CheckpointRoleSystem:
		return llms.TextParts(llms.ChatMessageTypeSystem, m.Content)
	case domain.CheckpointRoleAI:
		parts := make([]llms.ContentPart, 0, len(m.ToolCalls)+1)
		if m.Content != "" || len(m.ToolCalls) == 0 {
			parts = append(parts, llms.TextContent{Text: m.Content})
		}
		for _, tc := range m.ToolCalls {
			parts = append(parts, llms.ToolCall{
				ID:   tc.ID,
				Type: "function",
				FunctionCall: &llms.FunctionCall{
					Name:      tc.Name,
					Arguments: tc.Arguments,
				},
			})
		}
		return llms.MessageContent{Role: llms.ChatMessageTypeAI, Parts: parts}
	case domain.CheckpointRoleTool:
		return llms.MessageContent{
			Role: llms.ChatMessageTypeTool,
			Parts: []llms.ContentPart{llms.ToolCallResponse{
				ToolCallID: m.ToolCallID,
				Name:       m.Name,
				Content:    m.Content,
			}},
		}
	default:
		return llms.TextParts(llms.ChatMessageTypeHuman, m.Content)
	}
}

// Generate is a single model call without tools, streamed to sink when one
// is present.
func Generate(ctx context.Context, model llms.Model, msgs []llms.MessageContent, sink graph.Sink) (string, error) {
	opts := []llms.CallOption{llms.WithTemperature(0)}
	if sink != nil {
		opts = append(opts, llms.WithStreamingFunc(graph.StreamFunc(sink)))
	}
	resp, err := model.GenerateContent(ctx, msgs, opts...)
	if err != nil {
		return "", errors.Wrap(err, "agent: generate")
	}
	return llm.Text(resp)
}
