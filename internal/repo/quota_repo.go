package repo

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tbourn/go-alerts-backend/internal/domain"
)

// ConsumeQuota atomically adds cost to the (action, subject, day) counter if
// the result stays within limit, and reports whether it did. A limit <= 0
// means unlimited; usage is still recorded.
func ConsumeQuota(ctx context.Context, db *gorm.DB, action, subject, day string, cost, limit int) (bool, error) {
	now := time.Now().UTC()
	consumed := false
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		seed := &domain.QuotaUsage{
			ID:        uuid.NewString(),
			Action:    action,
			Subject:   subject,
			Day:       day,
			UpdatedAt: now,
		}
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(seed).Error; err != nil {
			return err
		}

		q := tx.Model(&domain.QuotaUsage{}).
			Where("action = ? AND subject = ? AND day = ?", action, subject, day)
		if limit > 0 {
			q = q.Where("used + ? <= ?", cost, limit)
		}
		res := q.Updates(map[string]any{
			"used":       gorm.Expr("used + ?", cost),
			"updated_at": now,
		})
		if res.Error != nil {
			return res.Error
		}
		consumed = res.RowsAffected == 1
		return nil
	})
	return consumed, err
}

// QuotaUsed returns the recorded usage for (action, subject, day).
func QuotaUsed(ctx context.Context, db *gorm.DB, action, subject, day string) (int, error) {
	var row domain.QuotaUsage
	err := db.WithContext(ctx).
		Where("action = ? AND subject = ? AND day = ?", action, subject, day).
		First(&row).Error
	if errors.Is(err, ErrNotFound) {
		return 0, nil
	}
	return row.Used, err
}

// InsertAuditEvent appends an audit event.
func InsertAuditEvent(ctx context.Context, db *gorm.DB, e *domain.AuditEvent) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	return db.WithContext(ctx).Create(e).Error
}

// ListAuditEvents returns the newest audit events for a target.
func ListAuditEvents(ctx context.Context, db *gorm.DB, targetID string, limit int) ([]domain.AuditEvent, error) {
	var out []domain.AuditEvent
	err := db.WithContext(ctx).
		Where("target_id = ?", targetID).
		Order("created_at desc").
		Limit(limit).
		Find(&out).Error
	return out, err
}
