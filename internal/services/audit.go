package services

import (
	"context"

	"github.com/rs/zerolog/log"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/tbourn/go-alerts-backend/internal/domain"
	"github.com/tbourn/go-alerts-backend/internal/repo"
)

// Audit actions.
const (
	AuditRuleCreated   = "alert_rule.create"
	AuditRuleUpdated   = "alert_rule.update"
	AuditRuleArchived  = "alert_rule.archive"
	AuditSkipCooldown  = "alert.skip.cooldown"
	AuditTriggered     = "alert.triggered"
	AuditDeliveryError = "alert.delivery_error"
	AuditError         = "alert.error"
)

// AuditLog persists audit events. A nil *AuditLog discards events.
type AuditLog struct {
	DB *gorm.DB
}

// Event records action against targetID. Audit failures are logged and
// returned but callers treat them as non-fatal.
func (a *AuditLog) Event(ctx context.Context, action, userID, orgID, targetID string, extra map[string]any) error {
	if a == nil || a.DB == nil {
		return nil
	}
	if extra == nil {
		extra = map[string]any{}
	}
	err := repo.InsertAuditEvent(ctx, a.DB, &domain.AuditEvent{
		Action:   action,
		UserID:   userID,
		OrgID:    orgID,
		TargetID: targetID,
		Extra:    datatypes.JSONMap(extra),
	})
	if err != nil {
		log.Warn().Err(err).Str("action", action).Str("target_id", targetID).Msg("audit event not recorded")
	}
	return err
}
