package usecase

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"agent-router/internal/domain"
	"agent-router/internal/graph"
	"agent-router/internal/metrics"
	"agent-router/internal/repository"
	"agent-router/internal/router"
)

const (
	defaultMaxQuery = 4000
	maxUserIDLength = 128
)

var conversationIDPattern = regexp.MustCompile(`^[A-Za-z0-9._:-]{1,128}$`)

// ValidConversationID reports whether id is an acceptable conversation id.
func ValidConversationID(id string) bool {
	return conversationIDPattern.MatchString(id)
}

type GraphRunner interface {
	Run(ctx context.Context, st graph.State) (graph.State, error)
}

type ChatService struct {
	store       repository.ConversationStore
	graph       GraphRunner
	metrics     *metrics.Metrics
	maxQueryLen int
}

type ChatInput struct {
	Query          string
	ConversationID string
	UserID         string
	Reroute        bool
	// Sink is set for streaming requests.
	Sink graph.Sink
}

type ChatOutput struct {
	Reply          string
	ConversationID string
	Title          string
	Route          domain.Route
	Created        bool
	// HandlerErr is set when the handler failed. ErrorText then carries the
	// user-visible error text and Reply ends with it.
	HandlerErr     error
	ErrorText      string
}

func NewChatService(store repository.ConversationStore, g GraphRunner, m *metrics.Metrics, maxQueryLen int) (*ChatService, error) {
	if store == nil {
		return nil, errors.New("usecase: conversation store must not be nil")
	}
	if g == nil {
		return nil, errors.New("usecase: graph must not be nil")
	}
	if maxQueryLen <= 0 {
		maxQueryLen = defaultMaxQuery
	}
	return &ChatService{store: store, graph: g, metrics: m, maxQueryLen: maxQueryLen}, nil
}

// Chat runs one turn and persists it once. In streaming mode every chunk
// reaches in.Sink before Chat returns, and a handler that produced its
// reply without streaming has it written as a single chunk. A failed
// handler's error text is returned in ErrorText and appended to the
// persisted reply, never streamed as a chunk.
func (s *ChatService) Chat(ctx context.Context, in ChatInput) (ChatOutput, error) {
	query := strings.TrimSpace(in.Query)
	if query == "" {
		return ChatOutput{}, newError(ErrorInvalidInput, "empty_query", nil)
	}
	if len(query) > s.maxQueryLen {
		return ChatOutput{}, newError(ErrorInvalidInput, "query_too_long", nil)
	}
	convID := strings.TrimSpace(in.ConversationID)
	if convID != "" && !ValidConversationID(convID) {
		return ChatOutput{}, newError(ErrorInvalidInput, "invalid_conversation_id", nil)
	}
	userID := strings.TrimSpace(in.UserID)
	if len(userID) > maxUserIDLength {
		return ChatOutput{}, newError(ErrorInvalidInput, "invalid_user_id", nil)
	}

	conv, created, err := s.store.GetOrCreate(ctx, convID, userID)
	if err != nil {
		return ChatOutput{}, newError(ErrorInternal, "store_get_error", err)
	}

	var rec *recordingSink
	st := graph.State{
		Input:          query,
		ConversationID: conv.ID,
		UserID:         userID,
		Created:        created,
		PriorRoute:     conv.Route,
		Reroute:        in.Reroute,
	}
	if in.Sink != nil {
		rec = &recordingSink{next: in.Sink}
		st.Sink = rec
	}

	out, err := s.graph.Run(ctx, st)
	if err != nil {
		if created {
			s.discard(ctx, conv.ID)
		}
		var rerr *router.Error
		if errors.As(err, &rerr) && rerr.RateLimited() {
			return ChatOutput{}, newError(ErrorRateLimited, "router_rate_limited", err)
		}
		return ChatOutput{}, newError(ErrorUpstream, "router_error", err)
	}

	reply := out.Output
	errText := ""
	if out.HandlerErr != nil {
		errText = out.Output
	}
	if rec != nil {
		switch {
		case rec.wrote() && errText != "":
			reply = rec.text() + "\n\n" + errText
		case rec.wrote():
			reply = rec.text()
		case reply != "" && errText == "":
			rec.emit(reply)
		}
	}

	title := conv.Title
	newTitle := ""
	if title == "" {
		newTitle = out.Title
		if newTitle == "" {
			newTitle = router.FallbackTitle(query)
		}
		title = newTitle
	}

	s.persist(ctx, domain.Turn{
		ConversationID: conv.ID,
		UserID:         userID,
		Route:          out.Route,
		Title:          newTitle,
		Query:          query,
		Reply:          reply,
		Timestamp:      time.Now().UTC(),
	})

	return ChatOutput{
		Reply:          reply,
		ConversationID: conv.ID,
		Title:          title,
		Route:          out.Route,
		Created:        created,
		HandlerErr:     out.HandlerErr,
		ErrorText:      errText,
	}, nil
}

// persist saves the turn on a context detached from the request.
func (s *ChatService) persist(ctx context.Context, turn domain.Turn) {
	if err := s.store.SaveTurn(context.WithoutCancel(ctx), turn); err != nil {
		s.metrics.PersistenceFailure("save_turn")
		log.Error().Err(err).Str("conversation_id", turn.ConversationID).Msg("persist turn failed")
	}
}

// discard removes a conversation created for a turn that never ran.
func (s *ChatService) discard(ctx context.Context, id string) {
	res := s.store.DeleteConversation(context.WithoutCancel(ctx), id)
	if res.Failures() > 0 {
		s.metrics.PersistenceFailure("discard_conversation")
		log.Warn().Str("conversation_id", id).Msg("discard empty conversation failed")
	}
}

// recordingSink forwards chunks and keeps them for persistence.
type recordingSink struct {
	next graph.Sink

	mu  sync.Mutex
	buf strings.Builder
	n   int
}

func (r *recordingSink) Write(chunk string) error {
	r.mu.Lock()
	r.buf.WriteString(chunk)
	r.n++
	r.mu.Unlock()
	return r.next.Write(chunk)
}

func (r *recordingSink) Closed() bool {
	return r.next.Closed()
}

func (r *recordingSink) emit(text string) {
	if r.next.Closed() {
		return
	}
	if err := r.next.Write(text); err != nil {
		log.Debug().Err(err).Msg("stream write failed")
	}
}

func (r *recordingSink) wrote() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.n > 0
}

func (r *recordingSink) text() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.buf.String()
}
