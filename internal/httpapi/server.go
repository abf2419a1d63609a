// Package httpapi is the orchestrator's HTTP surface: chat in blocking or
// streaming mode, conversation administration, RAG and catalog endpoints.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"agent-router/internal/domain"
	"agent-router/internal/graph"
	"agent-router/internal/metrics"
	"agent-router/internal/usecase"
)

type ChatUsecase interface {
	Chat(ctx context.Context, in usecase.ChatInput) (usecase.ChatOutput, error)
}

type ConversationUsecase interface {
	List(ctx context.Context, lastID string, limit int) (usecase.ListOutput, error)
	Messages(ctx context.Context, id string) ([]domain.Message, error)
	Rename(ctx context.Context, id, title string) error
	Delete(ctx context.Context, id string) (domain.DeletionResult, error)
}

type RAGService interface {
	Answer(ctx context.Context, query string, k int, sink graph.Sink) (string, error)
	IngestFile(ctx context.Context, path string) (int, error)
}

type CatalogAPI interface {
	List(ctx context.Context, kind string) ([]domain.Entity, error)
	Toggle(ctx context.Context, kind, id string) (domain.Entity, error)
}

// Deps wires the router. RAG and Catalog are optional; their routes are
// only mounted when set.
type Deps struct {
	Chat          ChatUsecase
	Conversations ConversationUsecase
	RAG           RAGService
	RAGCSVPath    string
	Catalog       CatalogAPI
	Metrics       *metrics.Metrics
}

type api struct {
	Deps
}

func NewRouter(d Deps) (http.Handler, error) {
	if d.Chat == nil {
		return nil, errors.New("httpapi: chat usecase must not be nil")
	}
	if d.Conversations == nil {
		return nil, errors.New("httpapi: conversation usecase must not be nil")
	}
	a := &api{Deps: d}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/health", a.health)
	r.Handle("/metrics", d.Metrics.Handler())

	r.Post("/chat-messages", a.chatMessages)
	r.Get("/conversations", a.listConversations)
	r.Get("/get-all-conversations", a.listConversations)
	r.Get("/get-conversation-messages", a.conversationMessages)
	r.Delete("/delete-conversation/{conversationID}", a.deleteConversation)
	r.Patch("/edit-conversation-name", a.renameConversation)

	if d.RAG != nil {
		r.Post("/search", a.search)
		r.Post("/initialize", a.initialize)
	}
	if d.Catalog != nil {
		r.Get("/catalog/{kind}", a.listCatalog)
		r.Post("/catalog/{kind}/{id}/toggle", a.toggleCatalog)
	}
	return r, nil
}

func (a *api) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		defer func() {
			log.Info().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", ww.Status()).
				Dur("duration", time.Since(start)).
				Str("request_id", middleware.GetReqID(r.Context())).
				Msg("request")
		}()
		next.ServeHTTP(ww, r)
	})
}
