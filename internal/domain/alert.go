// Package domain defines the persistence models for alert rules, their
// delivery audit trail, and the research sources (filings, news) the rules
// are evaluated against. These types are mapped with GORM and shared across
// the repository, service and HTTP layers.
package domain

import (
	"time"

	"gorm.io/datatypes"
)

// Rule lifecycle states.
const (
	RuleStatusActive   = "active"
	RuleStatusPaused   = "paused"
	RuleStatusArchived = "archived"
)

// Trigger source types.
const (
	SourceFiling = "filing"
	SourceNews   = "news"
	SourceEvent  = "event"
)

// Plan tiers.
const (
	PlanFree       = "free"
	PlanStarter    = "starter"
	PlanPro        = "pro"
	PlanEnterprise = "enterprise"
)

// FilterSet is the normalized filter portion of a trigger. It is shared by
// every trigger source and cached on the rule row whenever the trigger changes.
type FilterSet struct {
	Tickers      []string `json:"tickers"`
	Categories   []string `json:"categories"`
	Sectors      []string `json:"sectors"`
	Keywords     []string `json:"keywords"`
	Entities     []string `json:"entities"`
	MinSentiment *float64 `json:"min_sentiment,omitempty"`
}

// ChannelConfig is one delivery destination attached to a rule.
type ChannelConfig struct {
	Type     string         `json:"type"`
	Target   string         `json:"target,omitempty"`
	Targets  []string       `json:"targets,omitempty"`
	Label    string         `json:"label,omitempty"`
	Template string         `json:"template,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// EvaluationSnapshot is the dedup state persisted after each evaluation.
// Two snapshots with equal (PlanSignature, EventHash) describe the same
// logical notification.
type EvaluationSnapshot struct {
	PlanSignature    string    `json:"plan_signature"`
	EventHash        string    `json:"event_hash"`
	EventIDs         []string  `json:"event_ids"`
	EventCount       int       `json:"event_count"`
	WindowMinutes    int       `json:"window_minutes"`
	WindowStart      time.Time `json:"window_start"`
	EvaluatedAt      time.Time `json:"evaluated_at"`
	DuplicateBlocked bool      `json:"duplicate_blocked"`
}

// SameNotification reports whether s and other would deliver the same
// notification.
func (s *EvaluationSnapshot) SameNotification(other *EvaluationSnapshot) bool {
	if s == nil || other == nil {
		return false
	}
	return s.PlanSignature == other.PlanSignature && s.EventHash == other.EventHash
}

// ChannelFailure is the circuit state for one channel type on a rule.
type ChannelFailure struct {
	Status          string     `json:"status"`
	Error           string     `json:"error,omitempty"`
	UpdatedAt       time.Time  `json:"updated_at"`
	RetryAfter      *time.Time `json:"retry_after,omitempty"`
	CooldownMinutes int        `json:"cooldown_minutes"`
}

// AlertRule is a user- or org-owned subscription to a category of research
// events.
//
// Fields:
//   - ID: UUID primary key (char(36)).
//   - UserID / OrgID: owner identity; at least one is set.
//   - PlanTier: subscription level that governed the rule's limits at save time.
//   - Trigger: raw structured + DSL payload as submitted.
//   - TriggerType / Filters: derived from Trigger by the compiler on every change.
//   - EvaluationIntervalMinutes, WindowMinutes, CooldownMinutes, MaxTriggersPerDay:
//     frequency configuration, normalized against the plan tier.
//   - Channels: ordered delivery destinations.
//   - Status: active, paused or archived (archived rows are never deleted).
//   - LastEvaluatedAt / LastTriggeredAt / CooledUntil / ErrorCount / LastError:
//     evaluation state.
//   - Snapshot: last persisted dedup snapshot.
//   - ChannelFailures: per channel type circuit state.
//   - LeaseOwner / LeaseUntil: per-rule mutual exclusion between workers.
type AlertRule struct {
	ID          string            `json:"id"          gorm:"type:char(36);primaryKey"`
	UserID      string            `json:"user_id"     gorm:"type:varchar(64);index:idx_alert_rules_owner,priority:1"`
	OrgID       string            `json:"org_id"      gorm:"type:varchar(64);index:idx_alert_rules_owner,priority:2"`
	PlanTier    string            `json:"plan_tier"   gorm:"type:varchar(16);not null;default:'free'"`
	Name        string            `json:"name"        gorm:"type:varchar(255);not null"`
	Description string            `json:"description" gorm:"type:text"`
	Trigger     datatypes.JSONMap `json:"trigger"`

	TriggerType string                        `json:"trigger_type" gorm:"type:varchar(16);not null;index"`
	Filters     datatypes.JSONType[FilterSet] `json:"filters"`

	EvaluationIntervalMinutes int  `json:"evaluation_interval_minutes" gorm:"not null"`
	WindowMinutes             int  `json:"window_minutes"              gorm:"not null"`
	CooldownMinutes           int  `json:"cooldown_minutes"            gorm:"not null"`
	MaxTriggersPerDay         *int `json:"max_triggers_per_day,omitempty"`

	Channels        datatypes.JSONType[[]ChannelConfig] `json:"channels"`
	MessageTemplate string                              `json:"message_template,omitempty" gorm:"type:text"`

	Status          string                                        `json:"status"                      gorm:"type:varchar(16);not null;default:'active';index:idx_alert_rules_status_updated,priority:1"`
	LastEvaluatedAt *time.Time                                    `json:"last_evaluated_at,omitempty"`
	LastTriggeredAt *time.Time                                    `json:"last_triggered_at,omitempty"`
	CooledUntil     *time.Time                                    `json:"cooled_until,omitempty"`
	ErrorCount      int                                           `json:"error_count"                 gorm:"not null;default:0"`
	LastError       string                                        `json:"last_error,omitempty"        gorm:"type:text"`
	Snapshot        datatypes.JSONType[*EvaluationSnapshot]       `json:"snapshot"`
	ChannelFailures datatypes.JSONType[map[string]ChannelFailure] `json:"channel_failures"`

	LeaseOwner string     `json:"-" gorm:"type:varchar(64)"`
	LeaseUntil *time.Time `json:"-"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at" gorm:"index:idx_alert_rules_status_updated,priority:2"`
}

// TableName returns the database table name for AlertRule.
func (AlertRule) TableName() string { return "alert_rules" }

// ChannelList returns the rule's configured channels.
func (r *AlertRule) ChannelList() []ChannelConfig { return r.Channels.Data() }

// FailureMap returns a copy of the per-channel failure map, never nil.
func (r *AlertRule) FailureMap() map[string]ChannelFailure {
	out := make(map[string]ChannelFailure)
	for k, v := range r.ChannelFailures.Data() {
		out[k] = v
	}
	return out
}

// LastSnapshot returns the persisted snapshot or nil.
func (r *AlertRule) LastSnapshot() *EvaluationSnapshot { return r.Snapshot.Data() }

// OwnerID returns the user id, falling back to the org id.
func (r *AlertRule) OwnerID() string {
	if r.UserID != "" {
		return r.UserID
	}
	return r.OrgID
}
