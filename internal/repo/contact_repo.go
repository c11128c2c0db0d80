// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides upsert-based repository functions for
// the Contact model. Contacts converge by (jid, instance_id); creation fields
// are never overwritten on conflict.
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

// UpsertContact inserts the contact or, when (jid, instance_id) already
// exists, refreshes only the observation fields. The persisted row is
// returned so callers always see the canonical ID.
func UpsertContact(ctx context.Context, db *gorm.DB, c *domain.Contact) (*domain.Contact, error) {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	c.UpdatedAt = time.Now().UTC()
	err := db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "jid"}, {Name: "instance_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"phone", "push_name", "business_name", "is_business",
			"is_group", "online", "last_seen_at", "updated_at",
		}),
	}).Create(c).Error
	if err != nil {
		return nil, err
	}
	return GetContactByJID(ctx, db, c.JID, c.InstanceID)
}

// GetContactByJID fetches a contact by its provider identity.
func GetContactByJID(ctx context.Context, db *gorm.DB, jid, instanceID string) (*domain.Contact, error) {
	var c domain.Contact
	err := db.WithContext(ctx).
		Where("jid = ? AND instance_id = ?", jid, instanceID).
		First(&c).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// CountContacts returns the number of contacts mirrored for an instance.
func CountContacts(ctx context.Context, db *gorm.DB, instanceID string) (int64, error) {
	var total int64
	err := db.WithContext(ctx).Model(&domain.Contact{}).
		Where("instance_id = ?", instanceID).
		Count(&total).Error
	return total, err
}

// ListContactsPage returns a page of contacts ordered deterministically.
func ListContactsPage(ctx context.Context, db *gorm.DB, instanceID string, offset, limit int) ([]domain.Contact, error) {
	var out []domain.Contact
	err := db.WithContext(ctx).
		Where("instance_id = ?", instanceID).
		Order("jid ASC").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, err
}
