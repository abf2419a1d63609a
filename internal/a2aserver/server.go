// Package a2aserver exposes agents over A2A JSON-RPC and a plain /chat
// endpoint, one path prefix per agent.
package a2aserver

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/a2aproject/a2a-go/a2asrv"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"agent-router/internal/agent"
	"agent-router/internal/graph"
)

const maxChatBodySize = 1 << 20

// Mounted is an agent definition paired with the handler that runs it.
type Mounted struct {
	Definition Definition
	Handler    graph.Handler
}

type Options struct {
	PublicURL string
	Version   string
}

// NewRouter mounts every agent under /{name}/ and adds /health.
func NewRouter(agents []Mounted, opts Options) (http.Handler, error) {
	if len(agents) == 0 {
		return nil, errors.New("a2aserver: no agents to serve")
	}
	if opts.Version == "" {
		opts.Version = "0.1.0"
	}
	publicURL := strings.TrimRight(opts.PublicURL, "/")

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	names := make([]string, 0, len(agents))
	seen := map[string]bool{}
	for _, m := range agents {
		name := m.Definition.Name
		if seen[name] {
			return nil, errors.Errorf("a2aserver: agent %q mounted twice", name)
		}
		seen[name] = true

		exec, err := NewExecutor(name, m.Handler)
		if err != nil {
			return nil, errors.Wrapf(err, "agent %s", name)
		}
		card := m.Definition.Card(publicURL, opts.Version)
		jsonrpc := a2asrv.NewJSONRPCHandler(a2asrv.NewHandler(exec))
		cardHandler := a2asrv.NewStaticAgentCardHandler(card)
		chat := chatHandler(name, m.Handler)

		r.Route("/"+name, func(r chi.Router) {
			r.Get(a2asrv.WellKnownAgentCardPath, cardHandler.ServeHTTP)
			r.Get("/", cardHandler.ServeHTTP)
			r.Post("/", jsonrpc.ServeHTTP)
			r.Post("/chat", chat)
		})
		names = append(names, name)
	}

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "agents": names})
	})
	return r, nil
}

func chatHandler(name string, h graph.Handler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req agent.ChatRequest
		dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxChatBodySize))
		if err := dec.Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, agent.ChatResponse{Error: "invalid JSON body"})
			return
		}
		if strings.TrimSpace(req.Message) == "" {
			writeJSON(w, http.StatusBadRequest, agent.ChatResponse{Error: "message is required"})
			return
		}
		userID := strings.TrimSpace(req.UserID)
		if userID == "" {
			userID = defaultUserID
		}
		threadID := strings.TrimSpace(req.ThreadID)
		if threadID == "" {
			threadID = ThreadID(name, userID)
		}

		reply, err := h.Invoke(r.Context(), graph.Request{
			Text:           req.Message,
			ConversationID: threadID,
			UserID:         userID,
		})
		if err != nil {
			log.Error().Err(err).Str("agent", name).Str("thread_id", threadID).Msg("chat failed")
			writeJSON(w, http.StatusInternalServerError, agent.ChatResponse{Error: err.Error()})
			return
		}
		if strings.TrimSpace(reply) == "" {
			reply = "No response"
		}
		writeJSON(w, http.StatusOK, agent.ChatResponse{Reply: reply})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Debug().Err(err).Msg("write response failed")
	}
}
