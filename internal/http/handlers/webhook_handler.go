// Webhook HTTP handlers.
//
// The provider delivers push events at-least-once and retries on any non-200
// response. The POST handler therefore always returns 200 with a small status
// body, no matter what the payload looks like or what happens downstream;
// processing runs in the background. GET on the same path returns a static
// descriptor used by provider-side health checks.
package handlers

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/rfdias/zapagent/internal/http/middleware"
	"github.com/rfdias/zapagent/internal/services"
)

// EventSink accepts one webhook delivery for background processing.
type EventSink interface {
	Process(pathEvent string, payload services.WebhookPayload)
}

// WebhookHandlers serves the provider push endpoint.
type WebhookHandlers struct {
	sink EventSink
}

// NewWebhook constructs the webhook handlers bound to the given sink.
func NewWebhook(sink EventSink) *WebhookHandlers {
	return &WebhookHandlers{sink: sink}
}

// Receive accepts one push delivery: POST /webhook/*event. The wildcard
// carries the event name for providers that encode it in the path; the body
// may also name the event. Malformed payloads are acknowledged and dropped —
// returning an error would only make the provider retry the same bytes.
func (h *WebhookHandlers) Receive(c *gin.Context) {
	ack := gin.H{"status": "received"}

	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		middleware.LoggerFrom(c).Warn().Err(err).Msg("webhook body read failed")
		ok(c, http.StatusOK, ack)
		return
	}

	var payload services.WebhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		middleware.LoggerFrom(c).Warn().Err(err).Msg("webhook payload unparseable; dropped")
		ok(c, http.StatusOK, ack)
		return
	}

	h.sink.Process(c.Param("event"), payload)
	ok(c, http.StatusOK, ack)
}

// Describe answers GET /webhook/*event with a static descriptor.
func (h *WebhookHandlers) Describe(c *gin.Context) {
	ok(c, http.StatusOK, gin.H{
		"status":  "ok",
		"service": "zapagent",
		"accepts": []string{
			services.EventMessagesUpsert,
			services.EventMessagesUpdate,
			services.EventContactsUpsert,
			services.EventChatsUpsert,
			services.EventChatsUpdate,
			services.EventConnectionUpdate,
		},
	})
}
