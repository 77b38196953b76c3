package services

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-alerts-backend/internal/alerting/channels"
	"github.com/tbourn/go-alerts-backend/internal/repo"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Metered actions.
const (
	ActionCreateRule = "alert_rule.create"
	ActionPreview    = "alert_rule.preview"
)

// Owner identifies the caller a rule belongs to.
type Owner struct {
	UserID   string
	OrgID    string
	PlanTier string
}

func (o Owner) repoOwner() repo.Owner { return repo.Owner{UserID: o.UserID, OrgID: o.OrgID} }

// subject is the quota bucket owner: the org when present, else the user.
func (o Owner) subject() string {
	if o.OrgID != "" {
		return o.OrgID
	}
	return o.UserID
}

// QuotaLedger meters actions in daily UTC buckets with limits taken from the
// owner's plan tier.
type QuotaLedger struct {
	DB     *gorm.DB
	Policy channels.Policy
	Now    func() time.Time
}

// Limit returns the daily limit of action for tier; 0 means unlimited.
func (q *QuotaLedger) Limit(action, tier string) int {
	switch action {
	case ActionCreateRule:
		return q.Policy.Tier(tier).DailyRuleCreations
	}
	return 0
}

// WithDB returns a copy of q that writes through db, typically a
// transaction.
func (q *QuotaLedger) WithDB(db *gorm.DB) *QuotaLedger {
	c := *q
	c.DB = db
	return &c
}

// ConsumeQuota charges cost units of action to owner's bucket for today and
// reports whether the charge fit within the limit. Refused charges are not
// recorded.
func (q *QuotaLedger) ConsumeQuota(ctx context.Context, action string, owner Owner, cost int) (bool, error) {
	tr := otel.Tracer("services/QuotaLedger")
	ctx, span := tr.Start(ctx, "ConsumeQuota",
		trace.WithAttributes(
			attribute.String("quota.action", action),
			attribute.String("user.id", owner.UserID),
			attribute.String("org.id", owner.OrgID),
		),
	)
	defer span.End()

	if owner.subject() == "" {
		return false, ErrOwnerRequired
	}
	now := time.Now
	if q.Now != nil {
		now = q.Now
	}
	day := now().UTC().Format(time.DateOnly)
	return repo.ConsumeQuota(ctx, q.DB, action, owner.subject(), day, cost, q.Limit(action, owner.PlanTier))
}
