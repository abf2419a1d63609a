package a2aserver

import (
	"context"
	"strings"

	"github.com/a2aproject/a2a-go/a2a"
	"github.com/a2aproject/a2a-go/a2asrv"
	"github.com/a2aproject/a2a-go/a2asrv/eventqueue"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"agent-router/internal/graph"
)

const defaultUserID = "default-user"

type eventWriter interface {
	Write(ctx context.Context, event a2a.Event) error
}

// Executor answers an A2A request with exactly one agent message. Handler
// failures become a final failed status update.
type Executor struct {
	name    string
	handler graph.Handler
}

func NewExecutor(name string, h graph.Handler) (*Executor, error) {
	if strings.TrimSpace(name) == "" {
		return nil, errors.New("a2aserver: executor name must not be empty")
	}
	if h == nil {
		return nil, errors.New("a2aserver: handler must not be nil")
	}
	return &Executor{name: name, handler: h}, nil
}

func (e *Executor) Execute(ctx context.Context, reqCtx *a2asrv.RequestContext, queue eventqueue.Queue) error {
	return e.execute(ctx, reqCtx, queue)
}

func (e *Executor) execute(ctx context.Context, reqCtx *a2asrv.RequestContext, w eventWriter) error {
	if reqCtx.Message == nil {
		return errors.New("a2aserver: message not provided")
	}
	text := messageText(reqCtx.Message)
	userID := metadataString(reqCtx.Message.Metadata, "userId")
	if userID == "" {
		userID = defaultUserID
	}
	threadID := reqCtx.ContextID
	if threadID == "" {
		threadID = ThreadID(e.name, userID)
	}

	log.Info().Str("agent", e.name).Str("thread_id", threadID).Msg("a2a request")
	reply, err := e.handler.Invoke(ctx, graph.Request{
		Text:           text,
		ConversationID: threadID,
		UserID:         userID,
	})
	if err != nil {
		log.Error().Err(err).Str("agent", e.name).Msg("a2a execution failed")
		msg := a2a.NewMessageForTask(a2a.MessageRoleAgent, reqCtx, a2a.TextPart{Text: err.Error()})
		ev := a2a.NewStatusUpdateEvent(reqCtx, a2a.TaskStateFailed, msg)
		ev.Final = true
		return w.Write(ctx, ev)
	}
	if strings.TrimSpace(reply) == "" {
		reply = "No response"
	}
	return w.Write(ctx, a2a.NewMessageForTask(a2a.MessageRoleAgent, reqCtx, a2a.TextPart{Text: reply}))
}

func (e *Executor) Cancel(ctx context.Context, reqCtx *a2asrv.RequestContext, queue eventqueue.Queue) error {
	return e.cancel(ctx, reqCtx, queue)
}

func (e *Executor) cancel(ctx context.Context, reqCtx *a2asrv.RequestContext, w eventWriter) error {
	log.Info().Str("agent", e.name).Str("task_id", string(reqCtx.TaskID)).Msg("a2a task canceled")
	ev := a2a.NewStatusUpdateEvent(reqCtx, a2a.TaskStateCanceled, nil)
	ev.Final = true
	return w.Write(ctx, ev)
}

var _ a2asrv.AgentExecutor = (*Executor)(nil)

// ThreadID is the checkpoint thread used when the caller supplies none.
func ThreadID(agent, userID string) string {
	return agent + "-" + userID
}

func messageText(m *a2a.Message) string {
	var b strings.Builder
	for _, p := range m.Parts {
		switch tp := p.(type) {
		case a2a.TextPart:
			b.WriteString(tp.Text)
		case *a2a.TextPart:
			b.WriteString(tp.Text)
		}
	}
	return b.String()
}

func metadataString(md map[string]any, key string) string {
	s, _ := md[key].(string)
	return strings.TrimSpace(s)
}
