package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/rs/zerolog/log"

	"agent-router/internal/usecase"
)

const maxRequestBodySize = 1 << 20

type errorResponse struct {
	Error  string `json:"error"`
	Reason string `json:"reason,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Debug().Err(err).Msg("write response failed")
	}
}

func writeError(w http.ResponseWriter, status int, code usecase.ErrorCode, reason string) {
	writeJSON(w, status, errorResponse{Error: string(code), Reason: reason})
}

// writeUsecaseError maps err to a status and the {error, reason} body.
func writeUsecaseError(w http.ResponseWriter, r *http.Request, err error) {
	var ue *usecase.Error
	if !errors.As(err, &ue) {
		log.Error().Err(err).Str("path", r.URL.Path).Msg("unexpected error")
		writeError(w, http.StatusInternalServerError, usecase.ErrorInternal, "unexpected_error")
		return
	}
	status := ue.HTTPStatusCode()
	if status >= http.StatusInternalServerError {
		log.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
	}
	writeError(w, status, ue.Code, ue.Reason)
}

// readJSON strictly decodes a size-limited body into v. It writes the 400
// itself and reports false on failure.
func readJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBodySize))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, usecase.ErrorInvalidInput, "body_too_large")
			return false
		}
		writeError(w, http.StatusBadRequest, usecase.ErrorInvalidInput, "invalid_json")
		return false
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, usecase.ErrorInvalidInput, "invalid_json")
		return false
	}
	return true
}
