package usecase

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"agent-router/internal/domain"
	"agent-router/internal/graph"
	"agent-router/internal/metrics"
	"agent-router/internal/repository"
	"agent-router/internal/router"
)

type fakeGraph struct {
	route  domain.Route
	title  string
	output string
	chunks []string
	hErr   error
	err    error
	states []graph.State
}

func (f *fakeGraph) Run(_ context.Context, st graph.State) (graph.State, error) {
	f.states = append(f.states, st)
	if f.err != nil {
		return st, f.err
	}
	for _, c := range f.chunks {
		if st.Sink != nil {
			_ = st.Sink.Write(c)
		}
	}
	st.Route = f.route
	st.Title = f.title
	st.Output = f.output
	st.HandlerErr = f.hErr
	return st, nil
}

type sliceSink struct {
	chunks []string
	closed bool
}

func (s *sliceSink) Write(c string) error { s.chunks = append(s.chunks, c); return nil }
func (s *sliceSink) Closed() bool         { return s.closed }

type failingStore struct {
	*repository.MemoryStore
	saveErr error
	getErr  error
}

func (f *failingStore) GetOrCreate(ctx context.Context, id, userID string) (domain.Conversation, bool, error) {
	if f.getErr != nil {
		return domain.Conversation{}, false, f.getErr
	}
	return f.MemoryStore.GetOrCreate(ctx, id, userID)
}

func (f *failingStore) SaveTurn(ctx context.Context, turn domain.Turn) error {
	if f.saveErr != nil {
		return f.saveErr
	}
	return f.MemoryStore.SaveTurn(ctx, turn)
}

func newChat(t *testing.T, store repository.ConversationStore, g GraphRunner) *ChatService {
	t.Helper()
	svc, err := NewChatService(store, g, metrics.New(), 50)
	require.NoError(t, err)
	return svc
}

func expectError(t *testing.T, err error, code ErrorCode, reason string) {
	t.Helper()
	var usecaseErr *Error
	require.ErrorAs(t, err, &usecaseErr)
	require.Equal(t, code, usecaseErr.Code)
	require.Equal(t, reason, usecaseErr.Reason)
}

func TestNewChatService_ValidatesDependencies(t *testing.T) {
	_, err := NewChatService(nil, &fakeGraph{}, nil, 0)
	require.Error(t, err)
	_, err = NewChatService(repository.NewMemoryStore(), nil, nil, 0)
	require.Error(t, err)
}

func TestChat_ValidationErrors(t *testing.T) {
	g := &fakeGraph{}
	svc := newChat(t, repository.NewMemoryStore(), g)

	_, err := svc.Chat(context.Background(), ChatInput{Query: "  "})
	expectError(t, err, ErrorInvalidInput, "empty_query")

	_, err = svc.Chat(context.Background(), ChatInput{Query: strings.Repeat("a", 51)})
	expectError(t, err, ErrorInvalidInput, "query_too_long")

	_, err = svc.Chat(context.Background(), ChatInput{Query: "hi", ConversationID: "bad id/../"})
	expectError(t, err, ErrorInvalidInput, "invalid_conversation_id")

	_, err = svc.Chat(context.Background(), ChatInput{Query: "hi", UserID: strings.Repeat("u", 129)})
	expectError(t, err, ErrorInvalidInput, "invalid_user_id")

	require.Empty(t, g.states)
}

func TestChat_BlockingHappyPath(t *testing.T) {
	store := repository.NewMemoryStore()
	g := &fakeGraph{route: domain.RouteFlight, title: "Flights to Oslo", output: "Two flights found."}
	svc := newChat(t, store, g)

	out, err := svc.Chat(context.Background(), ChatInput{Query: "flights to oslo", UserID: "u1"})
	require.NoError(t, err)
	require.NotEmpty(t, out.ConversationID)
	require.True(t, out.Created)
	require.Equal(t, "Two flights found.", out.Reply)
	require.Equal(t, "Flights to Oslo", out.Title)
	require.Equal(t, domain.RouteFlight, out.Route)
	require.True(t, g.states[0].Created)
	require.Nil(t, g.states[0].Sink)

	msgs, err := store.GetMessages(context.Background(), out.ConversationID)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	require.Equal(t, "flights to oslo", msgs[0].Content)
	require.Equal(t, "Two flights found.", msgs[1].Content)
}

func TestChat_SecondTurnKeepsTitleAndPassesPriorRoute(t *testing.T) {
	store := repository.NewMemoryStore()
	g := &fakeGraph{route: domain.RouteHotel, title: "Hotels", output: "ok"}
	svc := newChat(t, store, g)

	first, err := svc.Chat(context.Background(), ChatInput{Query: "hotel in rome"})
	require.NoError(t, err)

	g.title = "Something else"
	second, err := svc.Chat(context.Background(), ChatInput{Query: "cheaper?", ConversationID: first.ConversationID, Reroute: true})
	require.NoError(t, err)
	require.False(t, second.Created)
	require.Equal(t, "Hotels", second.Title)
	require.Equal(t, domain.RouteHotel, g.states[1].PriorRoute)
	require.True(t, g.states[1].Reroute)
	require.False(t, g.states[1].Created)

	page, _, err := store.ListConversations(context.Background(), "", 10)
	require.NoError(t, err)
	require.Equal(t, "Hotels", page[0].Title)
}

func TestChat_StreamingReassemblesReply(t *testing.T) {
	store := repository.NewMemoryStore()
	g := &fakeGraph{route: domain.RouteRAG, chunks: []string{"Hel", "lo"}}
	svc := newChat(t, store, g)
	sink := &sliceSink{}

	out, err := svc.Chat(context.Background(), ChatInput{Query: "docs?", Sink: sink})
	require.NoError(t, err)
	require.Equal(t, "Hello", out.Reply)
	require.Equal(t, []string{"Hel", "lo"}, sink.chunks)

	msgs, err := store.GetMessages(context.Background(), out.ConversationID)
	require.NoError(t, err)
	require.Equal(t, "Hello", msgs[1].Content)
}

func TestChat_StreamingNonStreamingHandlerEmitsOneChunk(t *testing.T) {
	g := &fakeGraph{route: domain.RouteFlight, output: "full reply"}
	sink := &sliceSink{}
	out, err := newChat(t, repository.NewMemoryStore(), g).Chat(context.Background(), ChatInput{Query: "q", Sink: sink})
	require.NoError(t, err)
	require.Equal(t, []string{"full reply"}, sink.chunks)
	require.Equal(t, "full reply", out.Reply)
}

func TestChat_StreamingHandlerErrorIsNotStreamed(t *testing.T) {
	g := &fakeGraph{route: domain.RouteFlight, output: "Error: flight agent failed: boom", hErr: errors.New("boom")}
	sink := &sliceSink{}
	out, err := newChat(t, repository.NewMemoryStore(), g).Chat(context.Background(), ChatInput{Query: "q", Sink: sink})
	require.NoError(t, err)
	require.Empty(t, sink.chunks)
	require.EqualError(t, out.HandlerErr, "boom")
	require.Equal(t, "Error: flight agent failed: boom", out.ErrorText)
	require.Equal(t, "Error: flight agent failed: boom", out.Reply)
}

func TestChat_StreamingHandlerErrorAfterChunks(t *testing.T) {
	store := repository.NewMemoryStore()
	g := &fakeGraph{
		route:  domain.RouteFlight,
		chunks: []string{"Hel"},
		output: "Error: flight agent failed: boom",
		hErr:   errors.New("boom"),
	}
	sink := &sliceSink{}
	out, err := newChat(t, store, g).Chat(context.Background(), ChatInput{Query: "q", Sink: sink})
	require.NoError(t, err)
	require.Equal(t, []string{"Hel"}, sink.chunks)
	require.EqualError(t, out.HandlerErr, "boom")
	require.Equal(t, "Error: flight agent failed: boom", out.ErrorText)
	require.Equal(t, "Hel\n\nError: flight agent failed: boom", out.Reply)

	msgs, err := store.GetMessages(context.Background(), out.ConversationID)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	require.Equal(t, out.Reply, msgs[1].Content)
}

func TestChat_RouterErrorDiscardsNewConversation(t *testing.T) {
	store := repository.NewMemoryStore()
	svc := newChat(t, store, &fakeGraph{err: &router.Error{Err: errors.New("dial")}})
	_, err := svc.Chat(context.Background(), ChatInput{Query: "q", ConversationID: "fresh-1"})
	expectError(t, err, ErrorUpstream, "router_error")

	items, _, err := store.ListConversations(context.Background(), "", 10)
	require.NoError(t, err)
	require.Empty(t, items)
}

func TestChat_RouterErrorKeepsExistingConversation(t *testing.T) {
	store := repository.NewMemoryStore()
	ok := newChat(t, store, &fakeGraph{route: domain.RouteFlight, output: "first"})
	_, err := ok.Chat(context.Background(), ChatInput{Query: "q", ConversationID: "kept-1"})
	require.NoError(t, err)

	failing := newChat(t, store, &fakeGraph{err: &router.Error{Err: errors.New("dial")}})
	_, err = failing.Chat(context.Background(), ChatInput{Query: "again", ConversationID: "kept-1"})
	require.Error(t, err)

	msgs, err := store.GetMessages(context.Background(), "kept-1")
	require.NoError(t, err)
	require.Len(t, msgs, 2)
}

func TestChat_RouterErrors(t *testing.T) {
	svc := newChat(t, repository.NewMemoryStore(), &fakeGraph{err: &router.Error{Status: 429, Err: errors.New("slow")}})
	_, err := svc.Chat(context.Background(), ChatInput{Query: "q"})
	expectError(t, err, ErrorRateLimited, "router_rate_limited")

	svc = newChat(t, repository.NewMemoryStore(), &fakeGraph{err: &router.Error{Err: errors.New("dial")}})
	_, err = svc.Chat(context.Background(), ChatInput{Query: "q"})
	expectError(t, err, ErrorUpstream, "router_error")
}

func TestChat_StoreErrors(t *testing.T) {
	store := &failingStore{MemoryStore: repository.NewMemoryStore(), getErr: errors.New("mongo down")}
	_, err := newChat(t, store, &fakeGraph{}).Chat(context.Background(), ChatInput{Query: "q"})
	expectError(t, err, ErrorInternal, "store_get_error")

	store = &failingStore{MemoryStore: repository.NewMemoryStore(), saveErr: errors.New("write failed")}
	out, err := newChat(t, store, &fakeGraph{route: domain.RouteFlight, output: "still here"}).
		Chat(context.Background(), ChatInput{Query: "q"})
	require.NoError(t, err)
	require.Equal(t, "still here", out.Reply)
}

func TestChat_PersistsAfterCancel(t *testing.T) {
	store := repository.NewMemoryStore()
	ctx, cancel := context.WithCancel(context.Background())
	g := &fakeGraph{route: domain.RouteFlight, output: "late"}
	svc := newChat(t, store, g)
	cancel()

	out, err := svc.Chat(ctx, ChatInput{Query: "q"})
	require.NoError(t, err)
	msgs, err := store.GetMessages(context.Background(), out.ConversationID)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
}

// ---- through the real graph ----

type scriptedClassifier struct {
	variant domain.Variant
	calls   int
}

func (s *scriptedClassifier) Classify(_ context.Context, _ string, hasPriorRoute bool) (router.Decision, error) {
	s.calls++
	d := router.Decision{Route: domain.RouteHotel}
	if !hasPriorRoute {
		d.Title = "Rome hotels"
	}
	return d, nil
}

func (s *scriptedClassifier) Variant() domain.Variant { return s.variant }

func TestChat_ThroughGraph_ClassifiesOnlyOnce(t *testing.T) {
	cl := &scriptedClassifier{variant: domain.TravelVariant}
	reply := graph.HandlerFunc(func(_ context.Context, req graph.Request) (string, error) {
		return "re: " + req.Text, nil
	})
	g, err := graph.Build(cl, map[domain.Route]graph.Handler{
		domain.RouteFlight: reply,
		domain.RouteHotel:  reply,
		domain.RouteBoth:   reply,
	}, nil)
	require.NoError(t, err)

	store := repository.NewMemoryStore()
	svc := newChat(t, store, g)

	first, err := svc.Chat(context.Background(), ChatInput{Query: "hotel in rome"})
	require.NoError(t, err)
	require.Equal(t, "Rome hotels", first.Title)

	second, err := svc.Chat(context.Background(), ChatInput{Query: "with a pool", ConversationID: first.ConversationID})
	require.NoError(t, err)
	require.Equal(t, 1, cl.calls)
	require.Equal(t, domain.RouteHotel, second.Route)
	require.Equal(t, "re: with a pool", second.Reply)
	require.Equal(t, "Rome hotels", second.Title)
}
