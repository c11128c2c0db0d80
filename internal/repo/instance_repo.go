// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for Instance and
// AgentConfig rows.
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

// CreateInstance inserts a new instance row in CREATED state.
func CreateInstance(ctx context.Context, db *gorm.DB, name string) (*domain.Instance, error) {
	inst := &domain.Instance{
		ID:        uuid.NewString(),
		Name:      name,
		Status:    domain.InstanceCreated,
		CreatedAt: time.Now().UTC(),
	}
	return inst, db.WithContext(ctx).Create(inst).Error
}

// GetInstance fetches an instance by ID.
func GetInstance(ctx context.Context, db *gorm.DB, id string) (*domain.Instance, error) {
	var inst domain.Instance
	if err := db.WithContext(ctx).Where("id = ?", id).First(&inst).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &inst, nil
}

// GetInstanceByName fetches an instance by its provider-side name.
func GetInstanceByName(ctx context.Context, db *gorm.DB, name string) (*domain.Instance, error) {
	var inst domain.Instance
	if err := db.WithContext(ctx).Where("name = ?", name).First(&inst).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &inst, nil
}

// ListInstances returns a page of instances ordered by creation time.
func ListInstances(ctx context.Context, db *gorm.DB, offset, limit int) ([]domain.Instance, int64, error) {
	var total int64
	if err := db.WithContext(ctx).Model(&domain.Instance{}).Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var out []domain.Instance
	err := db.WithContext(ctx).
		Order("created_at ASC, id ASC").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, total, err
}

// UpdateInstanceStatus records an explicitly observed provider status and the
// matching transition timestamp. Unknown local state is never written here;
// callers map provider values first.
func UpdateInstanceStatus(ctx context.Context, db *gorm.DB, id, status string) error {
	now := time.Now().UTC()
	updates := map[string]any{"status": status, "updated_at": now}
	switch status {
	case domain.InstanceConnected:
		updates["connected_at"] = now
	case domain.InstanceDisconnected:
		updates["disconnected_at"] = now
	case domain.InstanceConnecting:
		updates["reconnect_attempts"] = gorm.Expr("reconnect_attempts + 1")
	}
	return db.WithContext(ctx).Model(&domain.Instance{}).Where("id = ?", id).Updates(updates).Error
}

// UpdateInstance applies arbitrary column updates to an instance.
func UpdateInstance(ctx context.Context, db *gorm.DB, id string, updates map[string]any) error {
	return db.WithContext(ctx).Model(&domain.Instance{}).Where("id = ?", id).Updates(updates).Error
}

// DeleteInstance soft-deletes an instance, keeping the row for history. The
// name is tombstoned first ("name#id") so the unique index releases it and
// the operator can recreate an instance under the same name. Tombstones can
// never collide with live names because '#' is rejected by name validation.
func DeleteInstance(ctx context.Context, db *gorm.DB, id string) error {
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&domain.Instance{}).Where("id = ?", id).
			Update("name", gorm.Expr("name || '#' || id"))
		if res.Error != nil {
			return res.Error
		}
		return tx.Where("id = ?", id).Delete(&domain.Instance{}).Error
	})
}

// UpsertAgentConfig inserts or replaces the agent policy bound to an
// instance, keyed by the unique instance_id index.
func UpsertAgentConfig(ctx context.Context, db *gorm.DB, ac *domain.AgentConfig) (*domain.AgentConfig, error) {
	if ac.ID == "" {
		ac.ID = uuid.NewString()
	}
	ac.UpdatedAt = time.Now().UTC()
	err := db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "instance_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"active", "model", "max_tokens", "temperature",
			"max_per_minute", "max_consecutive", "cooldown_minutes",
			"fallback_text", "wait_text", "system_prompt",
			"company", "product", "goal", "audience", "tone", "locale",
			"updated_at",
		}),
	}).Create(ac).Error
	if err != nil {
		return nil, err
	}
	return GetAgentConfig(ctx, db, ac.InstanceID)
}

// GetAgentConfig fetches the agent policy for an instance.
func GetAgentConfig(ctx context.Context, db *gorm.DB, instanceID string) (*domain.AgentConfig, error) {
	var ac domain.AgentConfig
	if err := db.WithContext(ctx).Where("instance_id = ?", instanceID).First(&ac).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &ac, nil
}
