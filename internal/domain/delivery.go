package domain

import (
	"time"

	"gorm.io/datatypes"
)

// Delivery statuses.
const (
	DeliveryQueued    = "queued"
	DeliveryDelivered = "delivered"
	DeliveryFailed    = "failed"
	DeliveryThrottled = "throttled"
	DeliverySkipped   = "skipped"
)

// AlertDelivery is the immutable audit record of one channel dispatch
// attempt. Exactly one row is written per attempt and never updated.
//
// Fields:
//   - ID: UUID primary key (char(36)).
//   - RuleID: owning rule (indexed with CreatedAt for daily cap counts).
//   - Channel / Target: channel type and a display label of the destination.
//   - Status: queued, delivered, failed, throttled or skipped.
//   - Message: rendered notification text.
//   - Context: matched event context and transport metadata.
//   - Error: transport or validation error text.
//   - EventRef: id of the newest matched event.
//   - TriggerSignature: hash of (plan signature, event hash) for this trigger.
//   - RetryAfter: set on throttled rows.
type AlertDelivery struct {
	ID               string            `json:"id"                gorm:"type:char(36);primaryKey"`
	RuleID           string            `json:"rule_id"           gorm:"type:char(36);not null;index:idx_alert_deliveries_rule,priority:1"`
	Channel          string            `json:"channel"           gorm:"type:varchar(32);not null"`
	Target           string            `json:"target,omitempty"  gorm:"type:varchar(512)"`
	Status           string            `json:"status"            gorm:"type:varchar(16);not null;index"`
	Message          string            `json:"message"           gorm:"type:text"`
	Context          datatypes.JSONMap `json:"context"`
	Error            string            `json:"error,omitempty"   gorm:"type:text"`
	EventRef         string            `json:"event_ref"         gorm:"type:varchar(64)"`
	TriggerSignature string            `json:"trigger_signature" gorm:"type:char(64);index"`
	RetryAfter       *time.Time        `json:"retry_after,omitempty"`
	CreatedAt        time.Time         `json:"created_at"        gorm:"index:idx_alert_deliveries_rule,priority:2"`
}

// TableName returns the database table name for AlertDelivery.
func (AlertDelivery) TableName() string { return "alert_deliveries" }
