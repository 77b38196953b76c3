package domain

import (
	"time"

	"gorm.io/datatypes"
)

// AuditEvent records an operator-visible action taken by or on behalf of a
// rule owner.
type AuditEvent struct {
	ID        string            `json:"id"         gorm:"type:char(36);primaryKey"`
	Action    string            `json:"action"     gorm:"type:varchar(64);not null;index"`
	UserID    string            `json:"user_id"    gorm:"type:varchar(64);index"`
	OrgID     string            `json:"org_id"     gorm:"type:varchar(64)"`
	TargetID  string            `json:"target_id"  gorm:"type:varchar(64);index"`
	Extra     datatypes.JSONMap `json:"extra"`
	CreatedAt time.Time         `json:"created_at" gorm:"index"`
}

// TableName returns the database table name for AuditEvent.
func (AuditEvent) TableName() string { return "audit_events" }

// QuotaUsage is a per-day consumption counter for one metered action and
// subject (user or org).
type QuotaUsage struct {
	ID        string    `gorm:"type:char(36);primaryKey"`
	Action    string    `gorm:"type:varchar(64);not null;uniqueIndex:ux_quota_action_subject_day,priority:1"`
	Subject   string    `gorm:"type:varchar(64);not null;uniqueIndex:ux_quota_action_subject_day,priority:2"`
	Day       string    `gorm:"type:char(10);not null;uniqueIndex:ux_quota_action_subject_day,priority:3"`
	Used      int       `gorm:"not null;default:0"`
	UpdatedAt time.Time
}

// TableName returns the database table name for QuotaUsage.
func (QuotaUsage) TableName() string { return "quota_usage" }
