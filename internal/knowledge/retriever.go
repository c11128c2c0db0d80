// Package knowledge retrieves business passages relevant to an incoming
// message. Retrieval failures are never fatal to reply generation: the
// context assembler logs and swallows them.
//
// Two implementations exist: an HTTP client for the external retrieval
// collaborator, and a local adapter over the in-memory search index used
// when no remote endpoint is configured.
package knowledge

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/rfdias/zapagent/internal/search"
)

// Passage is one retrieved knowledge snippet.
type Passage struct {
	Text  string  `json:"text"`
	Score float64 `json:"score"`
}

// Retriever returns the top-k passages relevant to text for an agent.
type Retriever interface {
	TopK(ctx context.Context, agentID, text string, k int) ([]Passage, error)
}

// --- HTTP collaborator ---

// Client queries the external knowledge-retrieval service.
type Client struct {
	http *resty.Client
}

// NewClient builds the retrieval client.
func NewClient(baseURL string, timeout time.Duration) (*Client, error) {
	if strings.TrimSpace(baseURL) == "" {
		return nil, errors.New("knowledge base URL cannot be empty")
	}
	hc := resty.New().
		SetBaseURL(baseURL).
		SetHeader("Content-Type", "application/json").
		SetTimeout(timeout)
	return &Client{http: hc}, nil
}

// TopK implements Retriever against the remote service.
func (c *Client) TopK(ctx context.Context, agentID, text string, k int) ([]Passage, error) {
	var out struct {
		Passages []Passage `json:"passages"`
	}
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(map[string]any{"agentId": agentID, "query": text, "topK": k}).
		SetResult(&out).
		Post("/v1/knowledge/search")
	if err != nil {
		return nil, fmt.Errorf("knowledge request failed: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("knowledge service returned %d: %s", resp.StatusCode(), resp.String())
	}
	return out.Passages, nil
}

// --- Local index adapter ---

// Local serves retrieval from the in-memory search index.
type Local struct {
	Index search.Index
}

// TopK implements Retriever over the local index.
func (l Local) TopK(ctx context.Context, agentID, text string, k int) ([]Passage, error) {
	if l.Index == nil {
		return nil, nil
	}
	results := l.Index.TopK(text, k)
	out := make([]Passage, 0, len(results))
	for _, r := range results {
		out = append(out, Passage{Text: r.Snippet, Score: r.Score})
	}
	return out, nil
}

// None is a Retriever that always returns nothing; used when neither a
// remote endpoint nor a local corpus is configured.
type None struct{}

// TopK implements Retriever.
func (None) TopK(ctx context.Context, agentID, text string, k int) ([]Passage, error) {
	return nil, nil
}
