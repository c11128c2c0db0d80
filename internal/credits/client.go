// Package credits talks to the credit-metering collaborator. Two calls exist
// per reply: a pre-check before the model call and a charge after it. Both
// use the same operation; there is deliberately no reservation primitive, so
// two concurrent replies for the same user can each pass the pre-check before
// either charges. That consistency gap is accepted for compatibility with the
// upstream meter.
package credits

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

// ErrInsufficient is returned when the user cannot afford the model class.
var ErrInsufficient = errors.New("insufficient credits")

// Meter is the interface the reply pipeline consumes; tests substitute a
// fake. A nil-safe no-op implementation is used when metering is disabled.
type Meter interface {
	// Check verifies affordability without debiting.
	Check(ctx context.Context, userID, modelClass string) (remaining int, err error)
	// Charge debits one usage unit and returns the remaining balance.
	Charge(ctx context.Context, userID, modelClass string) (remaining int, err error)
}

// Client is the HTTP implementation of Meter.
type Client struct {
	http *resty.Client
}

// NewClient builds the metering client.
func NewClient(baseURL, apiKey string, timeout time.Duration) (*Client, error) {
	if strings.TrimSpace(baseURL) == "" {
		return nil, errors.New("credits base URL cannot be empty")
	}
	hc := resty.New().
		SetBaseURL(baseURL).
		SetAuthToken(apiKey).
		SetHeader("Content-Type", "application/json").
		SetTimeout(timeout)
	return &Client{http: hc}, nil
}

type meterResponse struct {
	Success   bool   `json:"success"`
	Remaining int    `json:"remaining"`
	Error     string `json:"error,omitempty"`
}

func (c *Client) call(ctx context.Context, userID, modelClass string, charge bool) (int, error) {
	var out meterResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(map[string]any{
			"userId":     userID,
			"modelClass": modelClass,
			"charge":     charge,
		}).
		SetResult(&out).
		Post("/v1/credits/authorize")
	if err != nil {
		return 0, fmt.Errorf("credit meter request failed: %w", err)
	}
	if resp.IsError() {
		return 0, fmt.Errorf("credit meter returned %d: %s", resp.StatusCode(), resp.String())
	}
	if !out.Success {
		return out.Remaining, ErrInsufficient
	}
	return out.Remaining, nil
}

// Check implements Meter.
func (c *Client) Check(ctx context.Context, userID, modelClass string) (int, error) {
	return c.call(ctx, userID, modelClass, false)
}

// Charge implements Meter.
func (c *Client) Charge(ctx context.Context, userID, modelClass string) (int, error) {
	return c.call(ctx, userID, modelClass, true)
}

// Unlimited is the Meter used when no metering endpoint is configured; every
// check passes and charges are no-ops.
type Unlimited struct{}

// Check implements Meter.
func (Unlimited) Check(ctx context.Context, userID, modelClass string) (int, error) { return -1, nil }

// Charge implements Meter.
func (Unlimited) Charge(ctx context.Context, userID, modelClass string) (int, error) { return -1, nil }
