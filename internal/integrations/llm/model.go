// Package llm builds the langchaingo chat model shared by the classifier,
// the agents and the RAG handler.
package llm

import (
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
)

const DefaultBaseURL = "https://openrouter.ai/api/v1"

type Options struct {
	BaseURL string
	APIKey  string
	Model   string
	Timeout time.Duration
}

// New returns an OpenAI-compatible chat model. Requests are bounded by
// Options.Timeout through the underlying HTTP client.
func New(o Options) (llms.Model, error) {
	if strings.TrimSpace(o.APIKey) == "" {
		return nil, errors.New("llm: api key must not be empty")
	}
	if strings.TrimSpace(o.Model) == "" {
		return nil, errors.New("llm: model must not be empty")
	}
	baseURL := strings.TrimRight(strings.TrimSpace(o.BaseURL), "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	httpClient := &http.Client{Timeout: o.Timeout}
	model, err := openai.New(
		openai.WithToken(o.APIKey),
		openai.WithModel(o.Model),
		openai.WithBaseURL(baseURL),
		openai.WithHTTPClient(httpClient),
	)
	if err != nil {
		return nil, errors.Wrap(err, "llm: create openai model")
	}
	return model, nil
}

// Text returns the first choice of a response, or an error when the
// provider returned none.
func Text(resp *llms.ContentResponse) (string, error) {
	if resp == nil || len(resp.Choices) == 0 {
		return "", errors.New("llm: no choices in response")
	}
	return resp.Choices[0].Content, nil
}
