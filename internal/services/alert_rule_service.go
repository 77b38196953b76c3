// Package services – AlertRuleService
//
// This file implements AlertRuleService, which owns the lifecycle of alert
// rules: creation (quota, active-rule ceiling, channel entitlement and
// payload validation, frequency normalization against the plan tier),
// patch-style updates that recompile derived filters, soft deletion via the
// archived status, listing and previews.
//
// Observability: all public methods are OpenTelemetry-instrumented; spans
// include rule and owner identifiers.

package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/tbourn/go-alerts-backend/internal/alerting/channels"
	"github.com/tbourn/go-alerts-backend/internal/alerting/compiler"
	"github.com/tbourn/go-alerts-backend/internal/domain"
	"github.com/tbourn/go-alerts-backend/internal/repo"

	// OpenTelemetry
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	maxNameRunes     = 255
	maxTemplateRunes = 4000
)

// RuleInput is a create or patch request. Nil fields are left unchanged on
// update and take defaults on create.
type RuleInput struct {
	Name            *string
	Description     *string
	Trigger         map[string]any
	Channels        []domain.ChannelConfig
	MessageTemplate *string
	Status          *string

	EvaluationIntervalMinutes *int
	WindowMinutes             *int
	CooldownMinutes           *int
	MaxTriggersPerDay         *int
}

// Preview is the compiled form of a trigger together with what it would
// match right now.
type Preview struct {
	Plan          compiler.Plan    `json:"plan"`
	PlanSignature string           `json:"plan_signature"`
	WindowStart   time.Time        `json:"window_start"`
	EventHash     string           `json:"event_hash"`
	Events        []compiler.Event `json:"events"`
}

// AlertRuleService coordinates rule persistence and validation.
type AlertRuleService struct {
	DB       *gorm.DB
	Policy   channels.Policy
	Registry *channels.Registry
	Plans    *compiler.Cache
	Quota    *QuotaLedger
	Audit    *AuditLog

	// DefaultWindowMinutes is used when neither the request nor the tier
	// policy sets a window.
	DefaultWindowMinutes int

	Now func() time.Time
}

// Create validates in against owner's plan tier and persists a new active
// rule.
func (s *AlertRuleService) Create(ctx context.Context, owner Owner, in RuleInput) (*domain.AlertRule, error) {
	tr := otel.Tracer("services/AlertRuleService")
	ctx, span := tr.Start(ctx, "Create",
		trace.WithAttributes(
			attribute.String("user.id", owner.UserID),
			attribute.String("org.id", owner.OrgID),
			attribute.String("plan.tier", owner.PlanTier),
		),
	)
	defer span.End()

	if owner.subject() == "" {
		return nil, ErrOwnerRequired
	}
	tierName := s.tierName(owner.PlanTier)
	tier := s.Policy.Tier(tierName)

	name, err := validName(in.Name)
	if err != nil {
		return nil, err
	}
	if len(in.Trigger) == 0 {
		return nil, ruleErr(CodeInvalidRule, "trigger is required")
	}
	chans, err := s.validateChannels(tier, tierName, in.Channels)
	if err != nil {
		return nil, err
	}
	tmpl := deref(in.MessageTemplate)
	if err := validTemplate(tmpl); err != nil {
		return nil, err
	}

	active, err := repo.CountActiveRules(ctx, s.DB, owner.repoOwner())
	if err != nil {
		return nil, err
	}
	if tier.MaxActiveRules > 0 && active >= int64(tier.MaxActiveRules) {
		return nil, ruleErr(CodeRuleLimitReached, "the %s plan allows at most %d active rules", tierName, tier.MaxActiveRules)
	}

	freq := tier.NormalizeFrequency(channels.FrequencyInput{
		IntervalMinutes:   in.EvaluationIntervalMinutes,
		WindowMinutes:     s.windowOrDefault(requestedWindow(in.WindowMinutes, in.Trigger), tier),
		CooldownMinutes:   in.CooldownMinutes,
		MaxTriggersPerDay: in.MaxTriggersPerDay,
	})
	plan := s.Plans.Compile(in.Trigger, freq.WindowMinutes, domain.SourceFiling).WithWindow(freq.WindowMinutes)

	rule := &domain.AlertRule{
		UserID:                    owner.UserID,
		OrgID:                     owner.OrgID,
		PlanTier:                  tierName,
		Name:                      name,
		Description:               strings.TrimSpace(deref(in.Description)),
		Trigger:                   datatypes.JSONMap(in.Trigger),
		TriggerType:               plan.Source,
		Filters:                   datatypes.NewJSONType(plan.FilterSet),
		EvaluationIntervalMinutes: freq.IntervalMinutes,
		WindowMinutes:             freq.WindowMinutes,
		CooldownMinutes:           freq.CooldownMinutes,
		MaxTriggersPerDay:         freq.MaxTriggersPerDay,
		Channels:                  datatypes.NewJSONType(chans),
		MessageTemplate:           tmpl,
		Status:                    domain.RuleStatusActive,
		Snapshot:                  datatypes.NewJSONType[*domain.EvaluationSnapshot](nil),
		ChannelFailures:           datatypes.NewJSONType(map[string]domain.ChannelFailure{}),
	}
	// The creation unit is charged only if the insert commits.
	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if s.Quota != nil {
			ok, err := s.Quota.WithDB(tx).ConsumeQuota(ctx, ActionCreateRule, Owner{UserID: owner.UserID, OrgID: owner.OrgID, PlanTier: tierName}, 1)
			if err != nil {
				return err
			}
			if !ok {
				return ruleErr(CodeQuotaExceeded, "daily rule creation limit reached for the %s plan", tierName)
			}
		}
		return repo.CreateRule(ctx, tx, rule)
	})
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("rule.id", rule.ID))

	_ = s.Audit.Event(ctx, AuditRuleCreated, owner.UserID, owner.OrgID, rule.ID, map[string]any{
		"trigger_type": rule.TriggerType,
		"channels":     len(chans),
	})
	return rule, nil
}

// Update applies a patch to a rule owned by owner. Changing the trigger or
// window recompiles the derived filters; changing channels re-validates them
// and drops failure state for removed channel types.
func (s *AlertRuleService) Update(ctx context.Context, owner Owner, id string, in RuleInput) (*domain.AlertRule, error) {
	tr := otel.Tracer("services/AlertRuleService")
	ctx, span := tr.Start(ctx, "Update",
		trace.WithAttributes(
			attribute.String("rule.id", id),
			attribute.String("user.id", owner.UserID),
		),
	)
	defer span.End()

	rule, err := s.get(ctx, owner, id)
	if err != nil {
		return nil, err
	}
	if rule.Status == domain.RuleStatusArchived {
		return nil, ruleErr(CodeRuleArchived, "archived rules cannot be modified")
	}
	tierName := s.tierName(owner.PlanTier)
	tier := s.Policy.Tier(tierName)
	fields := map[string]any{"plan_tier": tierName}

	if in.Name != nil {
		name, err := validName(in.Name)
		if err != nil {
			return nil, err
		}
		fields["name"] = name
	}
	if in.Description != nil {
		fields["description"] = strings.TrimSpace(*in.Description)
	}
	if in.MessageTemplate != nil {
		if err := validTemplate(*in.MessageTemplate); err != nil {
			return nil, err
		}
		fields["message_template"] = *in.MessageTemplate
	}

	if in.Channels != nil {
		chans, err := s.validateChannels(tier, tierName, in.Channels)
		if err != nil {
			return nil, err
		}
		fields["channels"] = datatypes.NewJSONType(chans)
		fields["channel_failures"] = datatypes.NewJSONType(pruneFailures(rule.FailureMap(), chans))
	}

	if in.Status != nil {
		status := strings.ToLower(strings.TrimSpace(*in.Status))
		switch status {
		case domain.RuleStatusActive, domain.RuleStatusPaused:
		default:
			return nil, ruleErr(CodeInvalidRule, "status must be active or paused")
		}
		if status == domain.RuleStatusActive && rule.Status != domain.RuleStatusActive {
			active, err := repo.CountActiveRules(ctx, s.DB, owner.repoOwner())
			if err != nil {
				return nil, err
			}
			if tier.MaxActiveRules > 0 && active >= int64(tier.MaxActiveRules) {
				return nil, ruleErr(CodeRuleLimitReached, "the %s plan allows at most %d active rules", tierName, tier.MaxActiveRules)
			}
		}
		fields["status"] = status
	}

	// A window carried by a new trigger counts as a window change.
	windowIn := in.WindowMinutes
	if in.Trigger != nil {
		windowIn = requestedWindow(windowIn, in.Trigger)
	}
	freqChanged := in.EvaluationIntervalMinutes != nil || windowIn != nil ||
		in.CooldownMinutes != nil || in.MaxTriggersPerDay != nil || tierName != rule.PlanTier
	window := rule.WindowMinutes
	if freqChanged {
		maxPerDay := rule.MaxTriggersPerDay
		if in.MaxTriggersPerDay != nil {
			maxPerDay = in.MaxTriggersPerDay
		}
		freq := tier.NormalizeFrequency(channels.FrequencyInput{
			IntervalMinutes:   orInt(in.EvaluationIntervalMinutes, rule.EvaluationIntervalMinutes),
			WindowMinutes:     orInt(windowIn, rule.WindowMinutes),
			CooldownMinutes:   orInt(in.CooldownMinutes, rule.CooldownMinutes),
			MaxTriggersPerDay: maxPerDay,
		})
		fields["evaluation_interval_minutes"] = freq.IntervalMinutes
		fields["window_minutes"] = freq.WindowMinutes
		fields["cooldown_minutes"] = freq.CooldownMinutes
		fields["max_triggers_per_day"] = freq.MaxTriggersPerDay
		window = freq.WindowMinutes
	}

	if in.Trigger != nil || window != rule.WindowMinutes {
		trigger := map[string]any(rule.Trigger)
		if in.Trigger != nil {
			if len(in.Trigger) == 0 {
				return nil, ruleErr(CodeInvalidRule, "trigger is required")
			}
			trigger = in.Trigger
			fields["trigger"] = datatypes.JSONMap(trigger)
		}
		plan := s.Plans.Compile(trigger, window, domain.SourceFiling).WithWindow(window)
		fields["trigger_type"] = plan.Source
		fields["filters"] = datatypes.NewJSONType(plan.FilterSet)
	}

	if err := repo.UpdateRule(ctx, s.DB, rule.ID, fields); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrRuleNotFound
		}
		return nil, err
	}
	_ = s.Audit.Event(ctx, AuditRuleUpdated, owner.UserID, owner.OrgID, rule.ID, map[string]any{
		"fields": fieldNames(fields),
	})
	return repo.GetRule(ctx, s.DB, rule.ID)
}

// Archive soft-deletes a rule. Archiving an archived rule is a no-op.
func (s *AlertRuleService) Archive(ctx context.Context, owner Owner, id string) error {
	tr := otel.Tracer("services/AlertRuleService")
	ctx, span := tr.Start(ctx, "Archive",
		trace.WithAttributes(
			attribute.String("rule.id", id),
			attribute.String("user.id", owner.UserID),
		),
	)
	defer span.End()

	rule, err := s.get(ctx, owner, id)
	if err != nil {
		return err
	}
	if rule.Status == domain.RuleStatusArchived {
		return nil
	}
	if err := repo.UpdateRule(ctx, s.DB, rule.ID, map[string]any{"status": domain.RuleStatusArchived}); err != nil {
		return err
	}
	_ = s.Audit.Event(ctx, AuditRuleArchived, owner.UserID, owner.OrgID, rule.ID, nil)
	return nil
}

// Get returns a rule owned by owner.
func (s *AlertRuleService) Get(ctx context.Context, owner Owner, id string) (*domain.AlertRule, error) {
	tr := otel.Tracer("services/AlertRuleService")
	ctx, span := tr.Start(ctx, "Get",
		trace.WithAttributes(
			attribute.String("rule.id", id),
			attribute.String("user.id", owner.UserID),
		),
	)
	defer span.End()

	return s.get(ctx, owner, id)
}

// List returns one page of owner's rules, newest first, and the total count.
func (s *AlertRuleService) List(ctx context.Context, owner Owner, includeArchived bool, page, pageSize int) ([]domain.AlertRule, int64, error) {
	tr := otel.Tracer("services/AlertRuleService")
	ctx, span := tr.Start(ctx, "List",
		trace.WithAttributes(
			attribute.String("user.id", owner.UserID),
			attribute.Int("page", page),
			attribute.Int("page_size", pageSize),
		),
	)
	defer span.End()

	if owner.subject() == "" {
		return nil, 0, ErrOwnerRequired
	}
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 20
	}
	total, err := repo.CountRules(ctx, s.DB, owner.repoOwner(), includeArchived)
	if err != nil {
		return nil, 0, err
	}
	if total == 0 {
		return []domain.AlertRule{}, 0, nil
	}
	items, err := repo.ListRulesPage(ctx, s.DB, owner.repoOwner(), includeArchived, (page-1)*pageSize, pageSize)
	return items, total, err
}

// Deliveries returns the newest delivery audit rows of a rule owned by owner.
func (s *AlertRuleService) Deliveries(ctx context.Context, owner Owner, id string, limit int) ([]domain.AlertDelivery, error) {
	tr := otel.Tracer("services/AlertRuleService")
	ctx, span := tr.Start(ctx, "Deliveries",
		trace.WithAttributes(
			attribute.String("rule.id", id),
			attribute.Int("limit", limit),
		),
	)
	defer span.End()

	if _, err := s.get(ctx, owner, id); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 50
	}
	return repo.ListDeliveries(ctx, s.DB, id, min(limit, 200))
}

// ListStats returns the count of owner's live rules and their latest update
// time, for conditional list responses.
func (s *AlertRuleService) ListStats(ctx context.Context, owner Owner) (int64, *time.Time, error) {
	if owner.subject() == "" {
		return 0, nil, ErrOwnerRequired
	}
	return repo.RuleStats(ctx, s.DB, owner.repoOwner())
}

// DeliveryStats returns the delivery row count of a rule owned by owner and
// the newest row time.
func (s *AlertRuleService) DeliveryStats(ctx context.Context, owner Owner, id string) (int64, *time.Time, error) {
	if _, err := s.get(ctx, owner, id); err != nil {
		return 0, nil, err
	}
	return repo.DeliveryStats(ctx, s.DB, id)
}

// Preview compiles trigger without persisting anything and runs it against
// the current sources.
func (s *AlertRuleService) Preview(ctx context.Context, owner Owner, trigger map[string]any, windowMinutes *int) (*Preview, error) {
	tr := otel.Tracer("services/AlertRuleService")
	ctx, span := tr.Start(ctx, "Preview",
		trace.WithAttributes(attribute.String("user.id", owner.UserID)),
	)
	defer span.End()

	if len(trigger) == 0 {
		return nil, ruleErr(CodeInvalidRule, "trigger is required")
	}
	tierName := s.tierName(owner.PlanTier)
	tier := s.Policy.Tier(tierName)
	window := *s.windowOrDefault(requestedWindow(windowMinutes, trigger), tier)

	if s.Quota != nil && owner.subject() != "" {
		ok, err := s.Quota.ConsumeQuota(ctx, ActionPreview, Owner{UserID: owner.UserID, OrgID: owner.OrgID, PlanTier: tierName}, 1)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, ruleErr(CodeQuotaExceeded, "preview limit reached for the %s plan", tierName)
		}
	}

	plan := s.Plans.Compile(trigger, window, domain.SourceFiling).WithWindow(window)
	now := s.now()
	events, err := fetchEvents(ctx, s.DB, plan, now)
	if err != nil {
		return nil, err
	}
	snap := buildSnapshot(plan, events, now)
	return &Preview{
		Plan:          plan,
		PlanSignature: snap.PlanSignature,
		WindowStart:   snap.WindowStart,
		EventHash:     snap.EventHash,
		Events:        events,
	}, nil
}

// AllowedChannels lists the channel types owner's plan may use, in registry
// order.
func (s *AlertRuleService) AllowedChannels(owner Owner) []string {
	tier := s.Policy.Tier(s.tierName(owner.PlanTier))
	out := []string{}
	for _, t := range s.registry().Types() {
		if tier.AllowsChannel(t) {
			out = append(out, t)
		}
	}
	return out
}

func (s *AlertRuleService) get(ctx context.Context, owner Owner, id string) (*domain.AlertRule, error) {
	if owner.subject() == "" {
		return nil, ErrOwnerRequired
	}
	rule, err := repo.GetRuleForOwner(ctx, s.DB, id, owner.repoOwner())
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrRuleNotFound
		}
		return nil, err
	}
	return rule, nil
}

// validateChannels checks entitlement and payload of every channel and
// returns them normalized: lowercase type, merged targets, sanitized
// metadata.
func (s *AlertRuleService) validateChannels(tier channels.TierPolicy, tierName string, in []domain.ChannelConfig) ([]domain.ChannelConfig, error) {
	if len(in) == 0 {
		return nil, ruleErr(CodeInvalidChannel, "at least one delivery channel is required")
	}
	if tier.MaxChannels > 0 && len(in) > tier.MaxChannels {
		return nil, ruleErr(CodeTooManyChannels, "the %s plan allows at most %d channels per rule", tierName, tier.MaxChannels)
	}

	out := make([]domain.ChannelConfig, 0, len(in))
	for i, ch := range in {
		chType := strings.ToLower(strings.TrimSpace(ch.Type))
		if _, ok := s.registry().Lookup(chType); !ok {
			return nil, ruleErr(CodeInvalidChannel, "channel %d: unsupported channel type %q", i+1, ch.Type)
		}
		if !tier.AllowsChannel(chType) {
			return nil, ruleErr(CodeChannelNotAllowed, "channel type %q is not available on the %s plan", chType, tierName)
		}
		targets := channels.NormalizeTargets(ch.Target, ch.Targets)
		meta, err := s.registry().Validate(chType, targets, ch.Metadata)
		if err != nil {
			return nil, &RuleError{Code: CodeInvalidChannel, Message: fmt.Sprintf("channel %d (%s): %s", i+1, chType, err.Error()), err: err}
		}
		if err := validTemplate(ch.Template); err != nil {
			return nil, err
		}
		out = append(out, domain.ChannelConfig{
			Type:     chType,
			Targets:  targets,
			Label:    strings.TrimSpace(ch.Label),
			Template: ch.Template,
			Metadata: meta,
		})
	}
	return out, nil
}

func (s *AlertRuleService) tierName(name string) string {
	n := strings.ToLower(strings.TrimSpace(name))
	if s.Policy.KnownTier(n) {
		return n
	}
	return domain.PlanFree
}

// requestedWindow prefers an explicit window over one named by the trigger.
func requestedWindow(explicit *int, trigger map[string]any) *int {
	if explicit != nil {
		return explicit
	}
	if w, ok := compiler.RequestedWindow(trigger); ok {
		return &w
	}
	return nil
}

func (s *AlertRuleService) windowOrDefault(v *int, tier channels.TierPolicy) *int {
	if v != nil {
		return v
	}
	w := tier.DefaultWindowMinutes
	if w <= 0 {
		w = s.DefaultWindowMinutes
	}
	if w <= 0 {
		w = 60
	}
	return &w
}

func (s *AlertRuleService) registry() *channels.Registry {
	if s.Registry == nil {
		return channels.DefaultRegistry()
	}
	return s.Registry
}

func (s *AlertRuleService) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

func validName(p *string) (string, error) {
	name := strings.TrimSpace(deref(p))
	if name == "" {
		return "", ruleErr(CodeInvalidRule, "name is required")
	}
	if utf8.RuneCountInString(name) > maxNameRunes {
		return "", ruleErr(CodeInvalidRule, "name must be at most %d characters", maxNameRunes)
	}
	return name, nil
}

func validTemplate(tmpl string) error {
	if utf8.RuneCountInString(tmpl) > maxTemplateRunes {
		return ruleErr(CodeInvalidRule, "template must be at most %d characters", maxTemplateRunes)
	}
	if err := checkTemplate(tmpl); err != nil {
		return &RuleError{Code: CodeInvalidRule, Message: "invalid template: " + err.Error(), err: err}
	}
	return nil
}

// pruneFailures keeps failure entries only for channel types still
// configured.
func pruneFailures(failures map[string]domain.ChannelFailure, chans []domain.ChannelConfig) map[string]domain.ChannelFailure {
	keep := make(map[string]struct{}, len(chans))
	for _, c := range chans {
		keep[c.Type] = struct{}{}
	}
	for k := range failures {
		if _, ok := keep[k]; !ok {
			delete(failures, k)
		}
	}
	return failures
}

func fieldNames(fields map[string]any) []string {
	out := make([]string, 0, len(fields))
	for k := range fields {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func deref(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

func orInt(v *int, def int) *int {
	if v != nil {
		return v
	}
	return &def
}
