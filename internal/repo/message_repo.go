// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the Message
// model. (message_id, instance_id) is the idempotency key for all upserts;
// on conflict only status and content columns are refreshed so replayed
// events converge instead of duplicating rows.
package repo

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/rfdias/zapagent/internal/domain"
)

// RedactedContent replaces the body of a revoked message. The row itself is
// kept so quoted-message references remain resolvable.
const RedactedContent = "[message removed]"

// UpsertMessage inserts the message or, when (message_id, instance_id) is
// already present, updates only status and content (to capture edits). All
// other columns are creation-time facts and stay untouched.
func UpsertMessage(ctx context.Context, db *gorm.DB, m *domain.Message) (*domain.Message, error) {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	m.UpdatedAt = time.Now().UTC()
	err := db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "message_id"}, {Name: "instance_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"status", "content", "updated_at"}),
	}).Create(m).Error
	if err != nil {
		return nil, err
	}
	return GetMessageByProviderID(ctx, db, m.MessageID, m.InstanceID)
}

// GetMessageByProviderID fetches a message by its provider identity.
func GetMessageByProviderID(ctx context.Context, db *gorm.DB, messageID, instanceID string) (*domain.Message, error) {
	var m domain.Message
	err := db.WithContext(ctx).
		Where("message_id = ? AND instance_id = ?", messageID, instanceID).
		First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// UpdateMessageStatus records a provider-side delivery/read status change.
func UpdateMessageStatus(ctx context.Context, db *gorm.DB, messageID, instanceID, status string) error {
	return db.WithContext(ctx).Model(&domain.Message{}).
		Where("message_id = ? AND instance_id = ?", messageID, instanceID).
		Updates(map[string]any{"status": status, "updated_at": time.Now().UTC()}).Error
}

// RevokeMessage soft-deletes a revoked message: the deleted flag is set and
// the content redacted, the row is never physically removed.
func RevokeMessage(ctx context.Context, db *gorm.DB, messageID, instanceID string) error {
	return db.WithContext(ctx).Model(&domain.Message{}).
		Where("message_id = ? AND instance_id = ?", messageID, instanceID).
		Updates(map[string]any{
			"deleted":    true,
			"content":    RedactedContent,
			"caption":    "",
			"updated_at": time.Now().UTC(),
		}).Error
}

// CountMessages uses a raw COUNT so a missing table surfaces as an error.
func CountMessages(ctx context.Context, db *gorm.DB, chatID string) (int64, error) {
	var total int64
	err := db.WithContext(ctx).
		Raw("SELECT COUNT(*) FROM messages WHERE chat_id = ?", chatID).
		Scan(&total).Error
	return total, err
}

// ListMessagesPage returns a paginated slice ordered (SentAt ASC, ID ASC).
func ListMessagesPage(ctx context.Context, db *gorm.DB, chatID string, offset, limit int) ([]domain.Message, error) {
	var out []domain.Message
	err := db.WithContext(ctx).
		Where("chat_id = ?", chatID).
		Order("sent_at ASC, id ASC").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, err
}
