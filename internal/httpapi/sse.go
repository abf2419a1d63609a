package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
)

type messageFrame struct {
	Event          string `json:"event"`
	Answer         string `json:"answer"`
	ConversationID string `json:"conversation_id"`
}

type doneFrame struct {
	ConversationID string `json:"conversation_id"`
	ThreadName     string `json:"thread_name"`
}

type errorFrame struct {
	Error string `json:"error"`
}

// sseSink writes server-sent events. Headers are sent with the first frame,
// so a request rejected before any output still gets a plain JSON error.
type sseSink struct {
	ctx            context.Context
	w              http.ResponseWriter
	flusher        http.Flusher
	conversationID string

	mu      sync.Mutex
	started bool
	broken  bool
}

func newSSESink(ctx context.Context, w http.ResponseWriter, conversationID string) (*sseSink, bool) {
	f, ok := w.(http.Flusher)
	if !ok {
		return nil, false
	}
	return &sseSink{ctx: ctx, w: w, flusher: f, conversationID: conversationID}, true
}

func (s *sseSink) Write(chunk string) error {
	return s.frame("", messageFrame{Event: "message", Answer: chunk, ConversationID: s.conversationID})
}

func (s *sseSink) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.broken || s.ctx.Err() != nil
}

func (s *sseSink) Done(threadName string) error {
	return s.frame("done", doneFrame{ConversationID: s.conversationID, ThreadName: threadName})
}

func (s *sseSink) Fail(msg string) error {
	return s.frame("error", errorFrame{Error: msg})
}

func (s *sseSink) frame(event string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.broken {
		return fmt.Errorf("sse: connection closed")
	}
	if !s.started {
		h := s.w.Header()
		h.Set("Content-Type", "text/event-stream")
		h.Set("Cache-Control", "no-cache")
		h.Set("Connection", "keep-alive")
		h.Set("X-Accel-Buffering", "no")
		s.w.WriteHeader(http.StatusOK)
		s.started = true
	}
	if event != "" {
		if _, err := fmt.Fprintf(s.w, "event: %s\n", event); err != nil {
			s.broken = true
			return err
		}
	}
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", data); err != nil {
		s.broken = true
		return err
	}
	s.flusher.Flush()
	return nil
}
