// This file classifies and routes provider push events. The webhook handler
// acknowledges immediately; the dispatcher does the actual work on a
// background goroutine with its own deadline, so a slow pipeline can never
// make the provider retry or queue deliveries.
package services

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/rfdias/zapagent/internal/domain"
	"github.com/rfdias/zapagent/internal/events"
	"github.com/rfdias/zapagent/internal/observability"
	"github.com/rfdias/zapagent/internal/provider"
	"github.com/rfdias/zapagent/internal/reconcile"
	"github.com/rfdias/zapagent/internal/repo"
	"github.com/rfdias/zapagent/internal/sysutil"
)

// Known event names after normalization.
const (
	EventMessagesUpsert   = "messages.upsert"
	EventMessagesUpdate   = "messages.update"
	EventContactsUpsert   = "contacts.upsert"
	EventChatsUpsert      = "chats.upsert"
	EventChatsUpdate      = "chats.update"
	EventConnectionUpdate = "connection.update"
)

// dispatchTimeout bounds one event's background processing, model call and
// paced delivery included.
const dispatchTimeout = 2 * time.Minute

// WebhookPayload is the provider push envelope. Data stays raw until the
// event name decides its shape.
type WebhookPayload struct {
	Event    string          `json:"event"`
	Instance string          `json:"instance"`
	Data     json.RawMessage `json:"data"`
}

// NormalizeEvent maps the provider's event spellings ("messages-upsert" in
// webhook paths, "MESSAGES_UPSERT" and "messages.upsert" in bodies) onto the
// canonical dotted form.
func NormalizeEvent(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	name = strings.TrimPrefix(name, "/")
	name = strings.ReplaceAll(name, "-", ".")
	name = strings.ReplaceAll(name, "_", ".")
	return name
}

// instanceRef is the cached (instance, agent) pair for the webhook hot path.
// The agent is nil when the instance has no configuration.
type instanceRef struct {
	inst  *domain.Instance
	agent *domain.AgentConfig
}

// Dispatcher routes provider push events to the reconciliation engine and the
// reply pipeline. Safe for concurrent use.
type Dispatcher struct {
	db    *gorm.DB
	cache *gocache.Cache
	rec   *reconcile.Engine
	pipe  *Pipeline
	pub   events.Publisher
	log   zerolog.Logger

	wg sync.WaitGroup
}

// NewDispatcher wires the dispatcher. Instance and agent rows are cached for
// 30 seconds so a chatty counterpart does not hit the database per message.
func NewDispatcher(db *gorm.DB, rec *reconcile.Engine, pipe *Pipeline, pub events.Publisher) *Dispatcher {
	if pub == nil {
		pub = events.Noop{}
	}
	return &Dispatcher{
		db:    db,
		cache: gocache.New(30*time.Second, time.Minute),
		rec:   rec,
		pipe:  pipe,
		pub:   pub,
		log:   log.With().Str("component", "dispatcher").Logger(),
	}
}

// Process handles one acknowledged webhook delivery in the background.
// pathEvent is the URL remainder after /webhook and may be empty when the
// event name only appears in the body.
func (d *Dispatcher) Process(pathEvent string, payload WebhookPayload) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), dispatchTimeout)
		defer cancel()
		d.Dispatch(ctx, pathEvent, payload)
	}()
}

// Drain waits for in-flight event processing, used on shutdown.
func (d *Dispatcher) Drain() { d.wg.Wait() }

// InvalidateInstance evicts the cached (instance, agent) pair after a
// configuration change.
func (d *Dispatcher) InvalidateInstance(name string) {
	d.cache.Delete("ref:" + name)
}

// Dispatch classifies one event and applies it synchronously. Unknown events
// and events for unknown instances are dropped; both are normal steady-state
// outcomes, not errors.
func (d *Dispatcher) Dispatch(ctx context.Context, pathEvent string, payload WebhookPayload) {
	name := payload.Event
	if name == "" {
		name = pathEvent
	}
	event := NormalizeEvent(name)

	switch event {
	case EventMessagesUpsert, EventMessagesUpdate, EventContactsUpsert,
		EventChatsUpsert, EventChatsUpdate, EventConnectionUpdate:
		observability.WebhookEvents.WithLabelValues(event).Inc()
	default:
		observability.WebhookEvents.WithLabelValues("unknown").Inc()
		d.log.Debug().Str("event", event).Msg("unknown event dropped")
		return
	}

	if strings.TrimSpace(payload.Instance) == "" {
		d.log.Warn().Str("event", event).Msg("event without instance dropped")
		return
	}

	ref, err := d.lookup(ctx, payload.Instance)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			d.log.Debug().Str("instance", payload.Instance).Msg("event for unknown instance dropped")
		} else {
			d.log.Error().Err(err).Str("instance", payload.Instance).Msg("instance lookup failed")
		}
		return
	}

	switch event {
	case EventMessagesUpsert:
		d.handleMessages(ctx, ref, payload.Data)
	case EventMessagesUpdate:
		upds := decodeStatusUpdates(payload.Data)
		d.rec.ApplyStatusUpdates(ctx, ref.inst.ID, upds)
	case EventContactsUpsert:
		var recs []provider.ContactRecord
		if decodeListOrSingle(payload.Data, &recs) {
			d.rec.UpsertContacts(ctx, ref.inst.ID, recs)
		}
	case EventChatsUpsert, EventChatsUpdate:
		var recs []provider.ChatRecord
		if decodeListOrSingle(payload.Data, &recs) {
			d.rec.UpsertChats(ctx, ref.inst.ID, recs)
		}
	case EventConnectionUpdate:
		var body struct {
			State string `json:"state"`
			// The paired number arrives as "number" or, on some gateway
			// versions, as the session JID in "wuid".
			Number string `json:"number"`
			WUID   string `json:"wuid"`
		}
		if err := json.Unmarshal(payload.Data, &body); err != nil || body.State == "" {
			d.log.Warn().Str("instance", payload.Instance).Msg("connection update without state dropped")
			return
		}
		number := sysutil.FirstNonEmpty(body.Number, body.WUID)
		if err := d.rec.ApplyConnection(ctx, ref.inst.Name, body.State, number); err != nil {
			d.log.Error().Err(err).Str("instance", payload.Instance).Msg("connection reconcile failed")
			return
		}
		d.InvalidateInstance(ref.inst.Name)
		d.pub.Publish(ctx, EventConnectionUpdate, map[string]string{
			"instance": ref.inst.Name,
			"state":    body.State,
		})
	}
}

// handleMessages mirrors the batch, then hands each inbound text to the reply
// pipeline. Self-authored messages are mirrored but never replied to. One
// message's failure does not abort its siblings.
func (d *Dispatcher) handleMessages(ctx context.Context, ref *instanceRef, data json.RawMessage) {
	var recs []provider.MessageRecord
	if !decodeListOrSingle(data, &recs) {
		d.log.Warn().Str("instance", ref.inst.Name).Msg("unparseable message payload dropped")
		return
	}

	d.rec.UpsertMessages(ctx, ref.inst.ID, recs)

	for i := range recs {
		r := &recs[i]
		if r.Key.FromMe {
			continue
		}
		text, ok := r.Text()
		if !ok {
			continue
		}

		d.pub.Publish(ctx, EventMessagesUpsert, map[string]any{
			"instance":    ref.inst.Name,
			"counterpart": r.Key.RemoteJID,
			"message_id":  r.Key.ID,
			"type":        r.Kind(),
		})

		if ref.agent == nil || !ref.agent.Active {
			continue
		}
		if err := d.pipe.Reply(ctx, ref.inst, ref.agent, r.Key.RemoteJID, text); err != nil {
			d.log.Error().Err(err).
				Str("instance", ref.inst.Name).
				Str("counterpart", r.Key.RemoteJID).
				Msg("reply failed")
		}
	}
}

// lookup resolves and caches the (instance, agent) pair for a provider
// instance name.
func (d *Dispatcher) lookup(ctx context.Context, name string) (*instanceRef, error) {
	key := "ref:" + name
	if v, ok := d.cache.Get(key); ok {
		return v.(*instanceRef), nil
	}
	inst, err := repo.GetInstanceByName(ctx, d.db, name)
	if err != nil {
		return nil, err
	}
	ref := &instanceRef{inst: inst}
	agent, err := repo.GetAgentConfig(ctx, d.db, inst.ID)
	switch {
	case err == nil:
		ref.agent = agent
	case errors.Is(err, repo.ErrNotFound):
		// No agent configured: reconciliation still applies.
	default:
		return nil, err
	}
	d.cache.SetDefault(key, ref)
	return ref, nil
}

// statusUpdateWire covers the provider's messages.update spellings: the
// status either nested under "update" or at the top level, with revocations
// flagged by a message stub type.
type statusUpdateWire struct {
	Key    provider.MessageKey `json:"key"`
	Status string              `json:"status"`
	Update struct {
		Status          string `json:"status"`
		MessageStubType string `json:"messageStubType"`
	} `json:"update"`
}

// decodeStatusUpdates normalizes messages.update payloads (list or single).
func decodeStatusUpdates(data json.RawMessage) []reconcile.StatusUpdate {
	var wires []statusUpdateWire
	if !decodeListOrSingle(data, &wires) {
		return nil
	}
	out := make([]reconcile.StatusUpdate, 0, len(wires))
	for _, w := range wires {
		status := w.Update.Status
		if status == "" {
			status = w.Status
		}
		out = append(out, reconcile.StatusUpdate{
			Key:     w.Key,
			Status:  status,
			Revoked: strings.EqualFold(w.Update.MessageStubType, "revoke"),
		})
	}
	return out
}

// decodeListOrSingle unmarshals data into *[]T accepting both a JSON array
// and a single object.
func decodeListOrSingle[T any](data json.RawMessage, out *[]T) bool {
	if len(data) == 0 {
		return false
	}
	if err := json.Unmarshal(data, out); err == nil {
		return true
	}
	var one T
	if err := json.Unmarshal(data, &one); err != nil {
		return false
	}
	*out = []T{one}
	return true
}
