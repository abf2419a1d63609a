package httpapi

import (
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"

	"agent-router/internal/usecase"
)

const maxSearchK = 20

type searchRequest struct {
	Query string `json:"query"`
	K     int    `json:"k"`
}

type searchResponse struct {
	Response string `json:"response"`
}

func (a *api) search(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if !readJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		writeError(w, http.StatusBadRequest, usecase.ErrorInvalidInput, "empty_query")
		return
	}
	if req.K < 0 || req.K > maxSearchK {
		writeError(w, http.StatusBadRequest, usecase.ErrorInvalidInput, "invalid_k")
		return
	}
	out, err := a.RAG.Answer(r.Context(), req.Query, req.K, nil)
	if err != nil {
		log.Error().Err(err).Msg("rag search failed")
		writeError(w, http.StatusBadGateway, usecase.ErrorUpstream, "rag_search_error")
		return
	}
	writeJSON(w, http.StatusOK, searchResponse{Response: out})
}

func (a *api) initialize(w http.ResponseWriter, r *http.Request) {
	if strings.TrimSpace(a.RAGCSVPath) == "" {
		writeError(w, http.StatusBadRequest, usecase.ErrorInvalidInput, "csv_path_not_configured")
		return
	}
	n, err := a.RAG.IngestFile(r.Context(), a.RAGCSVPath)
	if err != nil {
		log.Error().Err(err).Str("path", a.RAGCSVPath).Msg("csv ingest failed")
		writeError(w, http.StatusInternalServerError, usecase.ErrorInternal, "ingest_error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "CSV loaded and added successfully",
		"chunks":  n,
	})
}
