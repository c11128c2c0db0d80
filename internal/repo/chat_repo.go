// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides upsert-based repository functions for
// the Chat model, keyed by (remote_jid, instance_id).
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

// UpsertChat inserts the chat or refreshes its mutable list metadata when
// (remote_jid, instance_id) already exists. ContactID is a creation field and
// is never rewritten on conflict.
func UpsertChat(ctx context.Context, db *gorm.DB, ch *domain.Chat) (*domain.Chat, error) {
	if ch.ID == "" {
		ch.ID = uuid.NewString()
	}
	ch.UpdatedAt = time.Now().UTC()
	err := db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "remote_jid"}, {Name: "instance_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"unread_count", "last_message_at", "last_message_text",
			"archived", "muted", "pinned", "updated_at",
		}),
	}).Create(ch).Error
	if err != nil {
		return nil, err
	}
	return GetChatByJID(ctx, db, ch.RemoteJID, ch.InstanceID)
}

// GetChatByJID fetches a chat by its conversation identity.
func GetChatByJID(ctx context.Context, db *gorm.DB, remoteJID, instanceID string) (*domain.Chat, error) {
	var ch domain.Chat
	err := db.WithContext(ctx).
		Where("remote_jid = ? AND instance_id = ?", remoteJID, instanceID).
		First(&ch).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &ch, nil
}

// TouchChatLastMessage refreshes the preview columns after a message upsert.
func TouchChatLastMessage(ctx context.Context, db *gorm.DB, chatID, preview string, at time.Time) error {
	return db.WithContext(ctx).Model(&domain.Chat{}).
		Where("id = ?", chatID).
		Updates(map[string]any{
			"last_message_at":   at,
			"last_message_text": preview,
			"updated_at":        time.Now().UTC(),
		}).Error
}

// CountChats returns the number of chats mirrored for an instance.
func CountChats(ctx context.Context, db *gorm.DB, instanceID string) (int64, error) {
	var total int64
	err := db.WithContext(ctx).Model(&domain.Chat{}).
		Where("instance_id = ?", instanceID).
		Count(&total).Error
	return total, err
}

// ListChatsPage returns a page of chats ordered by recency, then identity.
func ListChatsPage(ctx context.Context, db *gorm.DB, instanceID string, offset, limit int) ([]domain.Chat, error) {
	var out []domain.Chat
	err := db.WithContext(ctx).
		Where("instance_id = ?", instanceID).
		Order("last_message_at DESC, remote_jid ASC").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, err
}

// ListAllChats returns every chat of an instance; the pull-sync path walks
// this list chat by chat because the provider page-caps global message
// queries.
func ListAllChats(ctx context.Context, db *gorm.DB, instanceID string) ([]domain.Chat, error) {
	var out []domain.Chat
	err := db.WithContext(ctx).
		Where("instance_id = ?", instanceID).
		Order("remote_jid ASC").
		Find(&out).Error
	return out, err
}
