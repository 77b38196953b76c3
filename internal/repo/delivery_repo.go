package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/go-alerts-backend/internal/domain"
)

// InsertDelivery appends one delivery audit row. Rows are never updated.
func InsertDelivery(ctx context.Context, db *gorm.DB, d *domain.AlertDelivery) error {
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now().UTC()
	}
	return db.WithContext(ctx).Create(d).Error
}

// ListDeliveries returns the most recent deliveries of a rule, newest first.
func ListDeliveries(ctx context.Context, db *gorm.DB, ruleID string, limit int) ([]domain.AlertDelivery, error) {
	var out []domain.AlertDelivery
	err := db.WithContext(ctx).
		Where("rule_id = ?", ruleID).
		Order("created_at desc").
		Limit(limit).
		Find(&out).Error
	return out, err
}

// CountDeliveredSince counts the triggers of a rule that reached a
// transport since the given time. A trigger is one (signature, pass) pair:
// it counts once however many channels it fanned out to, counts even when
// every channel failed, and counts again when the same signature fires in a
// later pass. Throttled and skipped rows never reached a transport and are
// excluded.
func CountDeliveredSince(ctx context.Context, db *gorm.DB, ruleID string, since time.Time) (int64, error) {
	triggers := db.WithContext(ctx).Model(&domain.AlertDelivery{}).
		Select("trigger_signature, created_at").
		Where("rule_id = ? AND created_at >= ? AND trigger_signature <> ''", ruleID, since).
		Where("status IN ?", []string{domain.DeliveryDelivered, domain.DeliveryFailed}).
		Group("trigger_signature, created_at")

	var n int64
	err := db.WithContext(ctx).Table("(?) AS triggers", triggers).Count(&n).Error
	return n, err
}
