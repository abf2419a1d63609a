// Package handler adapts API Gateway proxy events to blocking chat turns.
package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"agent-router/internal/usecase"
)

const correlationHeader = "X-Correlation-Id"

type ChatUseCase interface {
	Chat(ctx context.Context, in usecase.ChatInput) (usecase.ChatOutput, error)
}

type Handler struct {
	uc ChatUseCase
}

func NewHandler(uc ChatUseCase) (*Handler, error) {
	if uc == nil {
		return nil, errors.New("chat usecase must not be nil")
	}
	return &Handler{uc: uc}, nil
}

type chatRequest struct {
	Query          string `json:"query"`
	ResponseMode   string `json:"response_mode"`
	ConversationID string `json:"conversation_id"`
	UserID         string `json:"userId"`
	Reroute        bool   `json:"reroute"`
}

type chatResponse struct {
	Reply      string `json:"reply"`
	ThreadID   string `json:"thread_id"`
	ThreadName string `json:"thread_name"`
	Route      string `json:"route"`
}

type errorResponse struct {
	Error  string `json:"error"`
	Reason string `json:"reason,omitempty"`
}

// Handle serves one chat turn. Streaming is not available behind API
// Gateway proxy integrations and is rejected.
func (h *Handler) Handle(ctx context.Context, event events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	correlationID := headerValue(event.Headers, correlationHeader)
	if correlationID == "" {
		correlationID = uuid.NewString()
	}
	logger := log.With().Str("correlation_id", correlationID).Logger()

	var req chatRequest
	if err := decodeStrict(event.Body, &req); err != nil {
		logger.Warn().Err(err).Msg("invalid request body")
		return respondError(correlationID, http.StatusBadRequest, usecase.ErrorInvalidInput, "invalid_json"), nil
	}
	if mode := strings.ToLower(strings.TrimSpace(req.ResponseMode)); mode != "" && mode != "blocking" {
		return respondError(correlationID, http.StatusBadRequest, usecase.ErrorInvalidInput, "streaming_unsupported"), nil
	}

	out, err := h.uc.Chat(ctx, usecase.ChatInput{
		Query:          req.Query,
		ConversationID: strings.TrimSpace(req.ConversationID),
		UserID:         strings.TrimSpace(req.UserID),
		Reroute:        req.Reroute,
	})
	if err != nil {
		var ue *usecase.Error
		if errors.As(err, &ue) {
			status := ue.HTTPStatusCode()
			if status >= http.StatusInternalServerError {
				logger.Error().Err(err).Str("reason", ue.Reason).Msg("chat failed")
			}
			return respondError(correlationID, status, ue.Code, ue.Reason), nil
		}
		logger.Error().Err(err).Msg("unexpected error")
		return respondError(correlationID, http.StatusInternalServerError, usecase.ErrorInternal, "unexpected_error"), nil
	}

	logger.Info().Str("conversation_id", out.ConversationID).Str("route", string(out.Route)).Msg("chat served")
	return respondJSON(correlationID, http.StatusOK, chatResponse{
		Reply:      out.Reply,
		ThreadID:   out.ConversationID,
		ThreadName: out.Title,
		Route:      string(out.Route),
	}), nil
}

func decodeStrict(body string, v any) error {
	dec := json.NewDecoder(bytes.NewReader([]byte(body)))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return errors.New("unexpected trailing data")
	}
	return nil
}

func headerValue(headers map[string]string, name string) string {
	for k, v := range headers {
		if strings.EqualFold(k, name) {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

func respondJSON(correlationID string, status int, v any) events.APIGatewayProxyResponse {
	body, err := json.Marshal(v)
	if err != nil {
		status = http.StatusInternalServerError
		body = []byte(`{"error":"INTERNAL_ERROR"}`)
	}
	return events.APIGatewayProxyResponse{
		StatusCode: status,
		Headers: map[string]string{
			"Content-Type":    "application/json",
			correlationHeader: correlationID,
		},
		Body: string(body),
	}
}

func respondError(correlationID string, status int, code usecase.ErrorCode, reason string) events.APIGatewayProxyResponse {
	return respondJSON(correlationID, status, errorResponse{Error: string(code), Reason: reason})
}
