// Package reconcile maintains the local mirror of provider state: contacts,
// chats, messages, and instance connection status. Two paths feed it — push
// (webhook events) and pull (on-demand sync queries) — and both are expressed
// as upserts keyed by the composite uniqueness invariants of the domain
// models, so replays and concurrent writers converge instead of conflicting.
package reconcile

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/rfdias/zapagent/internal/domain"
	"github.com/rfdias/zapagent/internal/observability"
	"github.com/rfdias/zapagent/internal/provider"
	"github.com/rfdias/zapagent/internal/repo"
)

// Directory is the subset of the provider client consumed by the pull path.
type Directory interface {
	FindContacts(ctx context.Context, instance string) ([]provider.ContactRecord, error)
	FindChats(ctx context.Context, instance string) ([]provider.ChatRecord, error)
	FindMessages(ctx context.Context, instance, remoteJID string, page, pageSize int) ([]provider.MessageRecord, error)
}

// Engine applies provider observations to the local mirror.
type Engine struct {
	db  *gorm.DB
	dir Directory
	log zerolog.Logger
}

// NewEngine builds a reconciliation engine over the given database and
// provider directory.
func NewEngine(db *gorm.DB, dir Directory) *Engine {
	return &Engine{
		db:  db,
		dir: dir,
		log: log.With().Str("component", "reconcile").Logger(),
	}
}

// MapConnectionState translates a provider session state into the local
// instance status. Unknown states are treated as disconnected: an unusable
// session must never be reported as live.
func MapConnectionState(state string) string {
	switch strings.ToLower(strings.TrimSpace(state)) {
	case "open":
		return domain.InstanceConnected
	case "connecting":
		return domain.InstanceConnecting
	case "close", "closed":
		return domain.InstanceDisconnected
	default:
		return domain.InstanceDisconnected
	}
}

// jidPhone extracts the bare number from a provider JID
// ("5511999999999@s.whatsapp.net" -> "5511999999999").
func jidPhone(jid string) string {
	if i := strings.IndexByte(jid, '@'); i >= 0 {
		return jid[:i]
	}
	return jid
}

// isGroupJID reports whether the JID addresses a group chat.
func isGroupJID(jid string) bool {
	return strings.HasSuffix(jid, "@g.us")
}

// ApplyConnection records an observed session state transition for the named
// instance. The stored status is always the last explicitly observed value.
// number is the counterpart number the session reports being paired with
// (bare or as a JID); empty leaves the stored number untouched.
func (e *Engine) ApplyConnection(ctx context.Context, instanceName, state, number string) error {
	inst, err := repo.GetInstanceByName(ctx, e.db, instanceName)
	if err != nil {
		return err
	}
	status := MapConnectionState(state)
	if err := repo.UpdateInstanceStatus(ctx, e.db, inst.ID, status); err != nil {
		return err
	}
	if n := jidPhone(number); n != "" && n != inst.Number {
		if err := repo.UpdateInstance(ctx, e.db, inst.ID, map[string]any{"number": n}); err != nil {
			return err
		}
	}
	observability.EntitiesReconciled.WithLabelValues("connection").Inc()
	e.log.Info().
		Str("instance", instanceName).
		Str("state", state).
		Str("status", status).
		Msg("connection state reconciled")
	return nil
}

// UpsertContacts mirrors a batch of contact observations. Failures are
// isolated per record; the applied count is returned.
func (e *Engine) UpsertContacts(ctx context.Context, instanceID string, recs []provider.ContactRecord) int {
	applied := 0
	for _, r := range recs {
		if strings.TrimSpace(r.JID) == "" {
			continue
		}
		c := &domain.Contact{
			JID:          r.JID,
			InstanceID:   instanceID,
			Phone:        jidPhone(r.JID),
			PushName:     r.PushName,
			BusinessName: r.BusinessName,
			IsBusiness:   r.IsBusiness,
			IsGroup:      r.IsGroup || isGroupJID(r.JID),
		}
		if _, err := repo.UpsertContact(ctx, e.db, c); err != nil {
			e.log.Error().Err(err).Str("jid", r.JID).Msg("contact upsert failed")
			continue
		}
		observability.EntitiesReconciled.WithLabelValues("contact").Inc()
		applied++
	}
	return applied
}

// UpsertChats mirrors a batch of chat observations, auto-creating the owning
// contact when it has not been seen yet. Failures are isolated per record.
func (e *Engine) UpsertChats(ctx context.Context, instanceID string, recs []provider.ChatRecord) int {
	applied := 0
	for _, r := range recs {
		if strings.TrimSpace(r.RemoteJID) == "" {
			continue
		}
		contact, err := e.ensureContact(ctx, instanceID, r.RemoteJID, r.Name)
		if err != nil {
			e.log.Error().Err(err).Str("jid", r.RemoteJID).Msg("contact auto-create failed")
			continue
		}
		ch := &domain.Chat{
			RemoteJID:       r.RemoteJID,
			InstanceID:      instanceID,
			ContactID:       contact.ID,
			UnreadCount:     r.UnreadCount,
			LastMessageText: r.Preview,
			Archived:        r.Archived,
			Muted:           r.Muted,
			Pinned:          r.Pinned,
		}
		if r.LastMsgTime > 0 {
			t := time.Unix(r.LastMsgTime, 0).UTC()
			ch.LastMessageAt = &t
		}
		if _, err := repo.UpsertChat(ctx, e.db, ch); err != nil {
			e.log.Error().Err(err).Str("jid", r.RemoteJID).Msg("chat upsert failed")
			continue
		}
		observability.EntitiesReconciled.WithLabelValues("chat").Inc()
		applied++
	}
	return applied
}

// UpsertMessages mirrors a batch of message observations. Missing parents are
// auto-created in order: contact first, then chat, then the message row.
// Records without a provider message id carry no idempotency key and are
// skipped. Failures are isolated per record.
func (e *Engine) UpsertMessages(ctx context.Context, instanceID string, recs []provider.MessageRecord) int {
	applied := 0
	for i := range recs {
		r := &recs[i]
		if r.Key.ID == "" || r.Key.RemoteJID == "" {
			continue
		}
		if _, err := e.applyMessage(ctx, instanceID, r); err != nil {
			e.log.Error().Err(err).
				Str("message_id", r.Key.ID).
				Str("jid", r.Key.RemoteJID).
				Msg("message upsert failed")
			continue
		}
		observability.EntitiesReconciled.WithLabelValues("message").Inc()
		applied++
	}
	return applied
}

// applyMessage persists one message observation and touches the chat preview.
func (e *Engine) applyMessage(ctx context.Context, instanceID string, r *provider.MessageRecord) (*domain.Message, error) {
	contact, err := e.ensureContact(ctx, instanceID, r.Key.RemoteJID, r.PushName)
	if err != nil {
		return nil, err
	}
	chat, err := e.ensureChat(ctx, instanceID, r.Key.RemoteJID, contact.ID)
	if err != nil {
		return nil, err
	}

	text, _ := r.Text()
	m := &domain.Message{
		MessageID:  r.Key.ID,
		InstanceID: instanceID,
		ChatID:     chat.ID,
		RemoteJID:  r.Key.RemoteJID,
		FromMe:     r.Key.FromMe,
		Type:       r.Kind(),
		Status:     r.Status,
		QuotedID:   r.QuotedID,
		MediaURL:   r.MediaURL(),
	}
	switch m.Type {
	case provider.KindImage, provider.KindVideo:
		m.Caption = text
	default:
		m.Content = text
	}
	if r.Timestamp > 0 {
		t := time.Unix(r.Timestamp, 0).UTC()
		m.SentAt = &t
	}

	saved, err := repo.UpsertMessage(ctx, e.db, m)
	if err != nil {
		return nil, err
	}
	if m.SentAt != nil && text != "" {
		if err := repo.TouchChatLastMessage(ctx, e.db, chat.ID, text, *m.SentAt); err != nil {
			e.log.Warn().Err(err).Str("chat_id", chat.ID).Msg("chat preview update failed")
		}
	}
	return saved, nil
}

// StatusUpdate is one normalized messages.update observation.
type StatusUpdate struct {
	Key     provider.MessageKey
	Status  string
	Revoked bool
}

// ApplyStatusUpdates applies delivery-status transitions and revocations.
// Revoked messages are soft-deleted with redacted content so quoted-message
// references stay valid. Updates for messages never seen locally are dropped.
func (e *Engine) ApplyStatusUpdates(ctx context.Context, instanceID string, upds []StatusUpdate) int {
	applied := 0
	for _, u := range upds {
		if u.Key.ID == "" {
			continue
		}
		var err error
		if u.Revoked || strings.EqualFold(u.Status, "revoked") {
			err = repo.RevokeMessage(ctx, e.db, u.Key.ID, instanceID)
		} else if u.Status != "" {
			err = repo.UpdateMessageStatus(ctx, e.db, u.Key.ID, instanceID, u.Status)
		} else {
			continue
		}
		if err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				continue
			}
			e.log.Error().Err(err).Str("message_id", u.Key.ID).Msg("status update failed")
			continue
		}
		observability.EntitiesReconciled.WithLabelValues("message_update").Inc()
		applied++
	}
	return applied
}

// ensureContact fetches the contact for a JID, creating it from the minimal
// observed fields when absent.
func (e *Engine) ensureContact(ctx context.Context, instanceID, jid, pushName string) (*domain.Contact, error) {
	c, err := repo.GetContactByJID(ctx, e.db, jid, instanceID)
	if err == nil {
		return c, nil
	}
	if !errors.Is(err, repo.ErrNotFound) {
		return nil, err
	}
	return repo.UpsertContact(ctx, e.db, &domain.Contact{
		JID:        jid,
		InstanceID: instanceID,
		Phone:      jidPhone(jid),
		PushName:   pushName,
		IsGroup:    isGroupJID(jid),
	})
}

// ensureChat fetches the chat for a JID, creating it when absent.
func (e *Engine) ensureChat(ctx context.Context, instanceID, jid, contactID string) (*domain.Chat, error) {
	ch, err := repo.GetChatByJID(ctx, e.db, jid, instanceID)
	if err == nil {
		return ch, nil
	}
	if !errors.Is(err, repo.ErrNotFound) {
		return nil, err
	}
	return repo.UpsertChat(ctx, e.db, &domain.Chat{
		RemoteJID:  jid,
		InstanceID: instanceID,
		ContactID:  contactID,
	})
}
