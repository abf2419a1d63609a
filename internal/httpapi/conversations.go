package httpapi

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"agent-router/internal/domain"
	"agent-router/internal/usecase"
)

type listResponse struct {
	Items   []domain.ConversationSummary `json:"items"`
	HasMore bool                         `json:"has_more"`
	LastID  string                       `json:"last_id,omitempty"`
}

type messagesResponse struct {
	Messages []domain.Message `json:"messages"`
}

type deleteResponse struct {
	Message         string                `json:"message"`
	DeletionResults domain.DeletionResult `json:"deletionResults"`
	TotalDeleted    int64                 `json:"totalDeleted"`
}

type renameResponse struct {
	Message    string `json:"message"`
	ThreadID   string `json:"thread_id"`
	ThreadName string `json:"thread_name"`
}

func (a *api) listConversations(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := 0
	if raw := strings.TrimSpace(q.Get("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, usecase.ErrorInvalidInput, "invalid_limit")
			return
		}
		limit = n
	}
	out, err := a.Conversations.List(r.Context(), q.Get("last_id"), limit)
	if err != nil {
		writeUsecaseError(w, r, err)
		return
	}
	items := out.Items
	if items == nil {
		items = []domain.ConversationSummary{}
	}
	writeJSON(w, http.StatusOK, listResponse{Items: items, HasMore: out.HasMore, LastID: out.LastID})
}

func (a *api) conversationMessages(w http.ResponseWriter, r *http.Request) {
	msgs, err := a.Conversations.Messages(r.Context(), r.URL.Query().Get("conversation_id"))
	if err != nil {
		writeUsecaseError(w, r, err)
		return
	}
	if msgs == nil {
		msgs = []domain.Message{}
	}
	writeJSON(w, http.StatusOK, messagesResponse{Messages: msgs})
}

func (a *api) deleteConversation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "conversationID")
	res, err := a.Conversations.Delete(r.Context(), id)
	if err != nil {
		writeUsecaseError(w, r, err)
		return
	}
	msg := "Conversation deleted successfully"
	if res.Failures() > 0 {
		msg = "Conversation partially deleted"
	}
	writeJSON(w, http.StatusOK, deleteResponse{
		Message:         msg,
		DeletionResults: res,
		TotalDeleted:    res.Total(),
	})
}

func (a *api) renameConversation(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	id := q.Get("conversation_id")
	name := q.Get("thread_name")
	if err := a.Conversations.Rename(r.Context(), id, name); err != nil {
		writeUsecaseError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, renameResponse{
		Message:    "Conversation renamed successfully",
		ThreadID:   strings.TrimSpace(id),
		ThreadName: strings.TrimSpace(name),
	})
}
