// Package llm calls the external language-model service. The model call is
// the single highest-latency, highest-failure-risk step of the reply
// pipeline, so every invocation carries its own timeout independent of
// delivery timeouts, and an empty completion aborts the reply rather than
// sending a partial answer.
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// ErrEmptyCompletion is returned when the model responds without usable text.
var ErrEmptyCompletion = errors.New("model returned no completion")

// Message is one turn of the chat-completions request.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Completion is the model output plus observed token usage. Usage cannot be
// known before the call completes, so it is always captured from the
// response, never estimated.
type Completion struct {
	Text       string
	TokensUsed int
}

// Invoker is the interface the reply pipeline consumes; tests substitute a
// fake.
type Invoker interface {
	Generate(ctx context.Context, model string, maxTokens int, temperature float64, msgs []Message) (*Completion, error)
}

// Client talks to an OpenAI-style chat-completions endpoint.
type Client struct {
	http *resty.Client
	log  zerolog.Logger
}

// NewClient builds the model client. The timeout bounds the full call.
func NewClient(baseURL, apiKey string, timeout time.Duration) (*Client, error) {
	if strings.TrimSpace(baseURL) == "" {
		return nil, errors.New("llm base URL cannot be empty")
	}
	hc := resty.New().
		SetBaseURL(baseURL).
		SetAuthToken(apiKey).
		SetHeader("Content-Type", "application/json").
		SetTimeout(timeout)
	return &Client{
		http: hc,
		log:  log.With().Str("component", "llm").Logger(),
	}, nil
}

type completionRequest struct {
	Model       string    `json:"model"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Temperature float64   `json:"temperature,omitempty"`
	Messages    []Message `json:"messages"`
}

type completionResponse struct {
	Choices []struct {
		Message Message `json:"message"`
	} `json:"choices"`
	Usage struct {
		TotalTokens int `json:"total_tokens"`
	} `json:"usage"`
}

// Generate runs one chat completion. The msgs slice is expected to be
// [system, ...history, user] in chronological order.
func (c *Client) Generate(ctx context.Context, model string, maxTokens int, temperature float64, msgs []Message) (*Completion, error) {
	var out completionResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(completionRequest{
			Model:       model,
			MaxTokens:   maxTokens,
			Temperature: temperature,
			Messages:    msgs,
		}).
		SetResult(&out).
		Post("/v1/chat/completions")
	if err != nil {
		return nil, fmt.Errorf("model request failed: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("model returned %d: %s", resp.StatusCode(), resp.String())
	}
	if len(out.Choices) == 0 {
		return nil, ErrEmptyCompletion
	}
	text := strings.TrimSpace(out.Choices[0].Message.Content)
	if text == "" {
		return nil, ErrEmptyCompletion
	}
	c.log.Debug().
		Str("model", model).
		Int("tokens", out.Usage.TotalTokens).
		Msg("completion generated")
	return &Completion{Text: text, TokensUsed: out.Usage.TotalTokens}, nil
}
