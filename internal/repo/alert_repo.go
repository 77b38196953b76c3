// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the AlertRule
// model: owner-scoped CRUD for the API, the ordered candidate query used by
// the evaluation engine, state persistence after each pass, and the per-rule
// lease that keeps two workers from evaluating the same rule at once.
//
// Error semantics:
//   - When a rule is not found (or not owned by the caller), functions return
//     ErrNotFound.
//   - ClaimRule returns ErrLeaseHeld when another worker holds a live lease.
//   - On DB errors the raw gorm error is propagated.
package repo

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/tbourn/go-alerts-backend/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist.
// It aliases gorm.ErrRecordNotFound for convenience and consistency
// across the service layer and handlers.
var ErrNotFound = gorm.ErrRecordNotFound

// ErrLeaseHeld is returned by ClaimRule when another worker owns the rule.
var ErrLeaseHeld = errors.New("rule lease held by another worker")

// Owner identifies the principal a rule belongs to. A caller with both ids
// sees its own rules and its organization's rules.
type Owner struct {
	UserID string
	OrgID  string
}

// IsZero reports whether neither id is set.
func (o Owner) IsZero() bool { return o.UserID == "" && o.OrgID == "" }

func (o Owner) scope(q *gorm.DB) *gorm.DB {
	switch {
	case o.UserID != "" && o.OrgID != "":
		return q.Where("(user_id = ? OR org_id = ?)", o.UserID, o.OrgID)
	case o.UserID != "":
		return q.Where("user_id = ?", o.UserID)
	case o.OrgID != "":
		return q.Where("org_id = ?", o.OrgID)
	default:
		return q.Where("1 = 0")
	}
}

// CreateRule inserts r, assigning a UUID and UTC timestamps when unset.
func CreateRule(ctx context.Context, db *gorm.DB, r *domain.AlertRule) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}
	if r.UpdatedAt.IsZero() {
		r.UpdatedAt = r.CreatedAt
	}
	if r.Status == "" {
		r.Status = domain.RuleStatusActive
	}
	return db.WithContext(ctx).Create(r).Error
}

// GetRule fetches a rule by id regardless of owner.
func GetRule(ctx context.Context, db *gorm.DB, id string) (*domain.AlertRule, error) {
	var r domain.AlertRule
	if err := db.WithContext(ctx).Where("id = ?", id).First(&r).Error; err != nil {
		return nil, err
	}
	return &r, nil
}

// GetRuleForOwner fetches a rule by id, enforcing ownership.
func GetRuleForOwner(ctx context.Context, db *gorm.DB, id string, owner Owner) (*domain.AlertRule, error) {
	var r domain.AlertRule
	q := owner.scope(db.WithContext(ctx).Where("id = ?", id))
	if err := q.First(&r).Error; err != nil {
		return nil, err
	}
	return &r, nil
}

// CountRules returns the number of rules visible to owner.
func CountRules(ctx context.Context, db *gorm.DB, owner Owner, includeArchived bool) (int64, error) {
	var total int64
	q := owner.scope(db.WithContext(ctx).Model(&domain.AlertRule{}))
	if !includeArchived {
		q = q.Where("status <> ?", domain.RuleStatusArchived)
	}
	err := q.Count(&total).Error
	return total, err
}

// ListRulesPage returns a page of rules visible to owner, newest first.
func ListRulesPage(ctx context.Context, db *gorm.DB, owner Owner, includeArchived bool, offset, limit int) ([]domain.AlertRule, error) {
	var out []domain.AlertRule
	q := owner.scope(db.WithContext(ctx))
	if !includeArchived {
		q = q.Where("status <> ?", domain.RuleStatusArchived)
	}
	err := q.Order("created_at desc").Order("id").Offset(offset).Limit(limit).Find(&out).Error
	return out, err
}

// UpdateRule applies column updates to rule id and bumps updated_at.
// It returns ErrNotFound if no row matched.
func UpdateRule(ctx context.Context, db *gorm.DB, id string, fields map[string]any) error {
	if _, ok := fields["updated_at"]; !ok {
		fields["updated_at"] = time.Now().UTC()
	}
	res := db.WithContext(ctx).Model(&domain.AlertRule{}).Where("id = ?", id).Updates(fields)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// ListActiveRules returns up to limit active rules, least recently updated
// first so that every rule eventually gets a turn.
func ListActiveRules(ctx context.Context, db *gorm.DB, limit int) ([]domain.AlertRule, error) {
	var out []domain.AlertRule
	err := db.WithContext(ctx).
		Where("status = ?", domain.RuleStatusActive).
		Order("updated_at asc").
		Order("id").
		Limit(limit).
		Find(&out).Error
	return out, err
}

// CountActiveRules returns the number of active rules owned by owner.
func CountActiveRules(ctx context.Context, db *gorm.DB, owner Owner) (int64, error) {
	var total int64
	err := owner.scope(db.WithContext(ctx).Model(&domain.AlertRule{})).
		Where("status = ?", domain.RuleStatusActive).
		Count(&total).Error
	return total, err
}

// RuleState is the evaluation state written back after each pass.
type RuleState struct {
	LastEvaluatedAt *time.Time
	LastTriggeredAt *time.Time
	CooledUntil     *time.Time
	ErrorCount      int
	LastError       string
	Snapshot        *domain.EvaluationSnapshot
	ChannelFailures map[string]domain.ChannelFailure
	UpdatedAt       time.Time
}

// SaveRuleState persists the evaluation state of rule id. Writing updated_at
// moves the rule to the back of the candidate queue.
func SaveRuleState(ctx context.Context, db *gorm.DB, id string, st RuleState) error {
	if st.UpdatedAt.IsZero() {
		st.UpdatedAt = time.Now().UTC()
	}
	failures := st.ChannelFailures
	if failures == nil {
		failures = map[string]domain.ChannelFailure{}
	}
	res := db.WithContext(ctx).Model(&domain.AlertRule{}).Where("id = ?", id).Updates(map[string]any{
		"last_evaluated_at": st.LastEvaluatedAt,
		"last_triggered_at": st.LastTriggeredAt,
		"cooled_until":      st.CooledUntil,
		"error_count":       st.ErrorCount,
		"last_error":        st.LastError,
		"snapshot":          datatypes.NewJSONType(st.Snapshot),
		"channel_failures":  datatypes.NewJSONType(failures),
		"updated_at":        st.UpdatedAt,
	})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// ClaimRule takes a lease on rule id for worker until now+ttl. A worker may
// renew its own lease; an expired lease may be taken over by anyone.
func ClaimRule(ctx context.Context, db *gorm.DB, id, worker string, now time.Time, ttl time.Duration) error {
	res := db.WithContext(ctx).Model(&domain.AlertRule{}).
		Where("id = ? AND (lease_until IS NULL OR lease_until < ? OR lease_owner = ?)", id, now, worker).
		UpdateColumns(map[string]any{
			"lease_owner": worker,
			"lease_until": now.Add(ttl),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected != 1 {
		return ErrLeaseHeld
	}
	return nil
}

// ReleaseRule drops worker's lease on rule id. Releasing a lease the worker
// no longer holds is a no-op.
func ReleaseRule(ctx context.Context, db *gorm.DB, id, worker string) error {
	return db.WithContext(ctx).Model(&domain.AlertRule{}).
		Where("id = ? AND lease_owner = ?", id, worker).
		UpdateColumns(map[string]any{
			"lease_owner": "",
			"lease_until": nil,
		}).Error
}
