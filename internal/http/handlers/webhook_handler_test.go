package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/rfdias/zapagent/internal/services"
)

type recordingSink struct {
	pathEvents []string
	payloads   []services.WebhookPayload
}

func (r *recordingSink) Process(pathEvent string, payload services.WebhookPayload) {
	r.pathEvents = append(r.pathEvents, pathEvent)
	r.payloads = append(r.payloads, payload)
}

func newWebhookRouter(sink EventSink) *gin.Engine {
	r := gin.New()
	h := NewWebhook(sink)
	r.POST("/webhook/*event", h.Receive)
	r.GET("/webhook/*event", h.Describe)
	return r
}

func postWebhook(r *gin.Engine, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestReceive_AcksAndForwards(t *testing.T) {
	sink := &recordingSink{}
	r := newWebhookRouter(sink)

	w := postWebhook(r, "/webhook/messages-upsert",
		`{"event":"messages.upsert","instance":"shop","data":{"key":{"id":"M1"}}}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var ack map[string]string
	_ = json.Unmarshal(w.Body.Bytes(), &ack)
	if ack["status"] != "received" {
		t.Fatalf("ack body: %s", w.Body.String())
	}

	if len(sink.payloads) != 1 {
		t.Fatalf("sink received %d payloads", len(sink.payloads))
	}
	if sink.pathEvents[0] != "/messages-upsert" {
		t.Fatalf("path event = %q", sink.pathEvents[0])
	}
	if sink.payloads[0].Instance != "shop" || sink.payloads[0].Event != "messages.upsert" {
		t.Fatalf("payload: %#v", sink.payloads[0])
	}
}

func TestReceive_MalformedBodyStillAcked(t *testing.T) {
	sink := &recordingSink{}
	r := newWebhookRouter(sink)

	for _, body := range []string{``, `not json`, `{"event":`} {
		w := postWebhook(r, "/webhook/messages-upsert", body)
		if w.Code != http.StatusOK {
			t.Errorf("body %q: status = %d; the provider must never see an error", body, w.Code)
		}
	}
	if len(sink.payloads) != 0 {
		t.Fatalf("malformed payloads must be dropped, sink got %d", len(sink.payloads))
	}
}

func TestDescribe(t *testing.T) {
	r := newWebhookRouter(&recordingSink{})

	req := httptest.NewRequest(http.MethodGet, "/webhook/messages-upsert", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var body struct {
		Status  string   `json:"status"`
		Accepts []string `json:"accepts"`
	}
	_ = json.Unmarshal(w.Body.Bytes(), &body)
	if body.Status != "ok" || len(body.Accepts) != 6 {
		t.Fatalf("descriptor: %#v", body)
	}
}
