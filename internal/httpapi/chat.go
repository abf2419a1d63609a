package httpapi

import (
	"net/http"
	"strings"

	"github.com/google/uuid"

	"agent-router/internal/usecase"
)

const (
	modeBlocking  = "blocking"
	modeStreaming = "streaming"
)

type chatRequest struct {
	Query          string         `json:"query"`
	ResponseMode   string         `json:"response_mode"`
	ConversationID string         `json:"conversation_id"`
	UserID         string         `json:"userId"`
	User           string         `json:"user"`
	Reroute        bool           `json:"reroute"`
	// Inputs is accepted for clients that send it and otherwise ignored.
	Inputs         map[string]any `json:"inputs"`
}

type chatResponse struct {
	Reply      string `json:"reply"`
	ThreadID   string `json:"thread_id"`
	ThreadName string `json:"thread_name"`
	Route      string `json:"route"`
}

var newConversationID = func() string {
	return uuid.NewString()
}

func (a *api) chatMessages(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if !readJSON(w, r, &req) {
		return
	}
	mode := strings.ToLower(strings.TrimSpace(req.ResponseMode))
	if mode == "" {
		mode = modeBlocking
	}
	if mode != modeBlocking && mode != modeStreaming {
		writeError(w, http.StatusBadRequest, usecase.ErrorInvalidInput, "invalid_response_mode")
		return
	}
	in := usecase.ChatInput{
		Query:          req.Query,
		ConversationID: strings.TrimSpace(req.ConversationID),
		UserID:         firstNonEmpty(req.UserID, req.User),
		Reroute:        req.Reroute,
	}

	if mode == modeBlocking {
		out, err := a.Chat.Chat(r.Context(), in)
		if err != nil {
			writeUsecaseError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, chatResponse{
			Reply:      out.Reply,
			ThreadID:   out.ConversationID,
			ThreadName: out.Title,
			Route:      string(out.Route),
		})
		return
	}

	// The id has to be known before the first frame is written.
	if in.ConversationID == "" {
		in.ConversationID = newConversationID()
	}
	sink, ok := newSSESink(r.Context(), w, in.ConversationID)
	if !ok {
		writeError(w, http.StatusInternalServerError, usecase.ErrorInternal, "streaming_unsupported")
		return
	}
	in.Sink = sink

	out, err := a.Chat.Chat(r.Context(), in)
	if err != nil {
		writeUsecaseError(w, r, err)
		return
	}
	if out.HandlerErr != nil {
		_ = sink.Fail(out.ErrorText)
		return
	}
	_ = sink.Done(out.Title)
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}
