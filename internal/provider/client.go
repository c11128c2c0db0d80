package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Typed failures. Call sites branch on these instead of parsing bodies.
var (
	// ErrNumberNotOnWhatsApp marks the provider's permanent 400 rejection for
	// a destination that does not exist on the network. Retrying cannot help;
	// the delivery engine treats it as a terminal no-op.
	ErrNumberNotOnWhatsApp = errors.New("destination number not on whatsapp")

	// ErrNotFound marks a 404 from the provider (unknown instance, message
	// or resource).
	ErrNotFound = errors.New("provider resource not found")
)

// StatusError carries a non-2xx provider response that is not one of the
// typed sentinels above.
type StatusError struct {
	Code int
	Body string
}

// Error implements the error interface.
func (e *StatusError) Error() string {
	return fmt.Sprintf("provider returned %d: %s", e.Code, e.Body)
}

// IsServerError reports whether the failure is in the 5xx class and therefore
// worth retrying.
func IsServerError(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Code >= http.StatusInternalServerError
}

// Client is the typed HTTP client for the messaging provider. One Client is
// constructed at process start and passed by reference to every component
// that needs it; there is no package-level singleton.
type Client struct {
	http *resty.Client
	log  zerolog.Logger
}

// NewClient builds a provider client with the API key header and a per-call
// timeout applied. Retry policy is intentionally absent here: synchronous
// call sites get one attempt, and the outbound delivery engine layers its own
// retry loop on top.
func NewClient(baseURL, apiKey string, timeout time.Duration) (*Client, error) {
	if strings.TrimSpace(baseURL) == "" {
		return nil, errors.New("provider base URL cannot be empty")
	}
	hc := resty.New().
		SetBaseURL(baseURL).
		SetHeader("apikey", apiKey).
		SetHeader("Content-Type", "application/json").
		SetTimeout(timeout)
	return &Client{
		http: hc,
		log:  log.With().Str("component", "provider").Logger(),
	}, nil
}

// check converts a resty response into a typed error, or nil on 2xx.
func (c *Client) check(resp *resty.Response, err error) error {
	if err != nil {
		return fmt.Errorf("provider request failed: %w", err)
	}
	if !resp.IsError() {
		return nil
	}
	body := resp.String()
	switch {
	case resp.StatusCode() == http.StatusBadRequest && looksLikeUnknownNumber(body):
		return ErrNumberNotOnWhatsApp
	case resp.StatusCode() == http.StatusNotFound:
		return ErrNotFound
	default:
		return &StatusError{Code: resp.StatusCode(), Body: body}
	}
}

// looksLikeUnknownNumber matches the provider's "number does not exist"
// rejection bodies.
func looksLikeUnknownNumber(body string) bool {
	low := strings.ToLower(body)
	return strings.Contains(low, "not on whatsapp") ||
		(strings.Contains(low, "number") && strings.Contains(low, "not exist")) ||
		strings.Contains(low, "exists\":false")
}

// --- Instance lifecycle ---

// CreateInstance registers a new session on the provider.
func (c *Client) CreateInstance(ctx context.Context, name string) (*InstanceInfo, error) {
	var out struct {
		Instance InstanceInfo `json:"instance"`
	}
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(map[string]any{"instanceName": name, "qrcode": true}).
		SetResult(&out).
		Post("/instance/create")
	if err := c.check(resp, err); err != nil {
		return nil, err
	}
	return &out.Instance, nil
}

// DeleteInstance removes the session on the provider.
func (c *Client) DeleteInstance(ctx context.Context, name string) error {
	resp, err := c.http.R().SetContext(ctx).Delete("/instance/delete/" + name)
	return c.check(resp, err)
}

// RestartInstance restarts the provider session.
func (c *Client) RestartInstance(ctx context.Context, name string) error {
	resp, err := c.http.R().SetContext(ctx).Put("/instance/restart/" + name)
	return c.check(resp, err)
}

// Logout unlinks the session from the paired device.
func (c *Client) Logout(ctx context.Context, name string) error {
	resp, err := c.http.R().SetContext(ctx).Delete("/instance/logout/" + name)
	return c.check(resp, err)
}

// ConnectionState queries the current session state.
func (c *Client) ConnectionState(ctx context.Context, name string) (*ConnectionState, error) {
	var out struct {
		Instance ConnectionState `json:"instance"`
	}
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&out).
		Get("/instance/connectionState/" + name)
	if err := c.check(resp, err); err != nil {
		return nil, err
	}
	return &out.Instance, nil
}

// QRCode fetches the pairing code for an unlinked session.
func (c *Client) QRCode(ctx context.Context, name string) (*QRCode, error) {
	var out QRCode
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&out).
		Get("/instance/connect/" + name)
	if err := c.check(resp, err); err != nil {
		return nil, err
	}
	return &out, nil
}

// --- Settings & webhook registration ---

// SetSettings writes the per-instance behavior toggles.
func (c *Client) SetSettings(ctx context.Context, name string, s Settings) error {
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(s).
		Post("/settings/set/" + name)
	return c.check(resp, err)
}

// GetSettings reads the per-instance behavior toggles.
func (c *Client) GetSettings(ctx context.Context, name string) (*Settings, error) {
	var out Settings
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&out).
		Get("/settings/find/" + name)
	if err := c.check(resp, err); err != nil {
		return nil, err
	}
	return &out, nil
}

// SetWebhook registers the push endpoint for an instance.
func (c *Client) SetWebhook(ctx context.Context, name string, wh WebhookConfig) error {
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(map[string]any{"webhook": wh}).
		Post("/webhook/set/" + name)
	return c.check(resp, err)
}

// GetWebhook reads the registered push endpoint.
func (c *Client) GetWebhook(ctx context.Context, name string) (*WebhookConfig, error) {
	var out WebhookConfig
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&out).
		Get("/webhook/find/" + name)
	if err := c.check(resp, err); err != nil {
		return nil, err
	}
	return &out, nil
}

// --- Messaging ---

// SendText delivers one text message to a counterpart. A permanent
// unknown-number rejection surfaces as ErrNumberNotOnWhatsApp.
func (c *Client) SendText(ctx context.Context, instance, number, text string) (*SendReceipt, error) {
	var out SendReceipt
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(map[string]any{
			"number":      number,
			"textMessage": map[string]string{"text": text},
		}).
		SetResult(&out).
		Post("/message/sendText/" + instance)
	if err := c.check(resp, err); err != nil {
		return nil, err
	}
	return &out, nil
}

// SetPresence publishes a typing indicator ("composing" or "paused") toward
// a counterpart. Best-effort at most call sites; failures are the caller's
// to swallow.
func (c *Client) SetPresence(ctx context.Context, instance, number, presence string) error {
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(map[string]any{"number": number, "presence": presence}).
		Post("/chat/sendPresence/" + instance)
	return c.check(resp, err)
}

// MarkRead acknowledges a message as read on the provider.
func (c *Client) MarkRead(ctx context.Context, instance string, key MessageKey) error {
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(map[string]any{"readMessages": []MessageKey{key}}).
		Post("/chat/markMessageAsRead/" + instance)
	return c.check(resp, err)
}

// --- Mirror queries (pull reconciliation) ---

// FindContacts returns the full contact list of an instance.
func (c *Client) FindContacts(ctx context.Context, instance string) ([]ContactRecord, error) {
	var out []ContactRecord
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(map[string]any{}).
		SetResult(&out).
		Post("/chat/findContacts/" + instance)
	if err := c.check(resp, err); err != nil {
		return nil, err
	}
	return out, nil
}

// FindChats returns the full chat list of an instance.
func (c *Client) FindChats(ctx context.Context, instance string) ([]ChatRecord, error) {
	var out []ChatRecord
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(map[string]any{}).
		SetResult(&out).
		Post("/chat/findChats/" + instance)
	if err := c.check(resp, err); err != nil {
		return nil, err
	}
	return out, nil
}

// FindMessages returns one page of messages scoped to a single chat. The
// provider caps the page size of message queries, so full coverage requires
// iterating chats individually; a single global query silently truncates.
func (c *Client) FindMessages(ctx context.Context, instance, remoteJID string, page, pageSize int) ([]MessageRecord, error) {
	var out struct {
		Messages struct {
			Records []MessageRecord `json:"records"`
		} `json:"messages"`
	}
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(map[string]any{
			"where": map[string]any{
				"key": map[string]any{"remoteJid": remoteJID},
			},
			"page":   page,
			"offset": pageSize,
		}).
		SetResult(&out).
		Post("/chat/findMessages/" + instance)
	if err := c.check(resp, err); err != nil {
		return nil, err
	}
	return out.Messages.Records, nil
}
