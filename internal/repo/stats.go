// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides small aggregate queries used for
// conditional responses (ETag generation) in the HTTP layer.
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-alerts-backend/internal/domain"
)

// RuleStats returns the number of non-archived rules visible to owner and
// the greatest UpdatedAt among them. When there are none, maxUpdatedAt is nil.
func RuleStats(ctx context.Context, db *gorm.DB, owner Owner) (count int64, maxUpdatedAt *time.Time, err error) {
	q := owner.scope(db.WithContext(ctx).Model(&domain.AlertRule{})).
		Where("status <> ?", domain.RuleStatusArchived)

	// Count
	if err = q.Count(&count).Error; err != nil {
		return 0, nil, err
	}
	if count == 0 {
		return 0, nil, nil
	}

	// Get latest updated_at (avoid MAX() -> TEXT in SQLite)
	var row struct {
		UpdatedAt time.Time
	}
	if err = q.Select("updated_at").Order("updated_at DESC").Limit(1).Scan(&row).Error; err != nil {
		return 0, nil, err
	}
	return count, &row.UpdatedAt, nil
}

// DeliveryStats returns the number of deliveries of a rule and the newest
// CreatedAt among them.
func DeliveryStats(ctx context.Context, db *gorm.DB, ruleID string) (count int64, newest *time.Time, err error) {
	q := db.WithContext(ctx).Model(&domain.AlertDelivery{}).Where("rule_id = ?", ruleID)
	if err = q.Count(&count).Error; err != nil {
		return 0, nil, err
	}
	if count == 0 {
		return 0, nil, nil
	}
	var row struct {
		CreatedAt time.Time
	}
	if err = q.Select("created_at").Order("created_at DESC").Limit(1).Scan(&row).Error; err != nil {
		return 0, nil, err
	}
	return count, &row.CreatedAt, nil
}
