package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"agent-router/internal/graph"
)

const defaultProxyTimeout = 60 * time.Second

// ChatRequest is the body of a sibling agent's POST /chat.
type ChatRequest struct {
	Message  string `json:"message"`
	UserID   string `json:"userId,omitempty"`
	ThreadID string `json:"threadId,omitempty"`
}

type ChatResponse struct {
	Reply string `json:"reply"`
	Error string `json:"error,omitempty"`
}

// Proxy forwards the turn to a sibling agent service. Transport failures
// come back as reply text, never as an error.
type Proxy struct {
	name       string
	baseURL    string
	httpClient *http.Client
}

func NewProxy(name, baseURL string, httpClient *http.Client) (*Proxy, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("agent: %s proxy base url must not be empty", name)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultProxyTimeout}
	}
	return &Proxy{name: name, baseURL: baseURL, httpClient: httpClient}, nil
}

func (p *Proxy) Invoke(ctx context.Context, req graph.Request) (string, error) {
	reply, err := p.call(ctx, ChatRequest{
		Message:  req.Text,
		UserID:   req.UserID,
		ThreadID: req.ConversationID,
	})
	if err != nil {
		log.Warn().Err(err).Str("agent", p.name).Str("url", p.baseURL).Msg("agent call failed")
		return "Error: " + err.Error(), nil
	}
	return reply, nil
}

func (p *Proxy) call(ctx context.Context, body ChatRequest) (string, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return "", errors.Wrap(err, "marshal request")
	}
	url := p.baseURL + "/chat"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return "", errors.Wrap(err, "create request")
	}
	httpReq.Header.Set("Content-Type", "application/json")

	log.Debug().Str("agent", p.name).Str("url", url).Msg("calling agent")
	res, err := p.httpClient.Do(httpReq)
	if err != nil {
		return "", err
	}
	defer res.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(res.Body, 4<<20))
	if err != nil {
		return "", errors.Wrap(err, "read response")
	}
	var out ChatResponse
	decErr := json.Unmarshal(raw, &out)
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		detail := strings.TrimSpace(string(raw))
		if decErr == nil && out.Error != "" {
			detail = out.Error
		}
		return "", errors.Errorf("status %d from %s: %s", res.StatusCode, url, detail)
	}
	if decErr != nil {
		return "", errors.Wrap(decErr, "decode response")
	}
	if strings.TrimSpace(out.Reply) == "" {
		return noResponse, nil
	}
	return out.Reply, nil
}
