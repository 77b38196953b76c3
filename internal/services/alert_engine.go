// Package services – AlertEngine
//
// This file implements AlertEngine, the batch evaluator for alert rules. One
// RunOnce call selects active rules oldest-updated first and, per rule:
// applies the cooldown, due and daily cap gates; takes a lease so no other
// worker evaluates the same rule concurrently; compiles the trigger and
// fetches matching events inside the rule's window; compares the resulting
// snapshot with the persisted one to suppress duplicates; and dispatches to
// each configured channel, honoring per-channel retry cooldowns.
//
// A failing rule never aborts the batch: errors and panics are converted
// into an escalating cooldown on that rule.
//
// Observability: every pass and every rule evaluation is traced; outcomes
// are counted through a metrics.Recorder and logged with zerolog.

package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/tbourn/go-alerts-backend/internal/alerting/channels"
	"github.com/tbourn/go-alerts-backend/internal/alerting/compiler"
	"github.com/tbourn/go-alerts-backend/internal/delivery"
	"github.com/tbourn/go-alerts-backend/internal/domain"
	"github.com/tbourn/go-alerts-backend/internal/metrics"
	"github.com/tbourn/go-alerts-backend/internal/repo"

	// OpenTelemetry
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"golang.org/x/text/language"
)

// Evaluation outcomes.
const (
	OutcomeCooldown      = "cooldown"
	OutcomeNotDue        = "not_due"
	OutcomeDailyCap      = "daily_cap"
	OutcomeLocked        = "locked"
	OutcomeInactive      = "inactive"
	OutcomeNoMatch       = "no_match"
	OutcomeDuplicate     = "duplicate"
	OutcomeTriggered     = "triggered"
	OutcomeDeliveryError = "delivery_error"
	OutcomeError         = "error"
)

const (
	maxErrorCount  = 1000
	maxLastError   = 500
	persistTimeout = 10 * time.Second
)

// backoffSchedule is indexed by min(errorCount-1, len-1).
var backoffSchedule = []time.Duration{5 * time.Minute, 15 * time.Minute, 60 * time.Minute}

// Backoff returns the rule cooldown after errorCount consecutive
// evaluation errors.
func Backoff(errorCount int) time.Duration {
	i := min(max(errorCount, 1)-1, len(backoffSchedule)-1)
	return backoffSchedule[i]
}

// AlertEngine evaluates active alert rules.
type AlertEngine struct {
	DB         *gorm.DB
	Dispatcher delivery.Dispatcher
	Registry   *channels.Registry
	Plans      *compiler.Cache
	Audit      *AuditLog
	Metrics    metrics.Recorder

	BatchLimit      int
	RuleTimeout     time.Duration
	LeaseTTL        time.Duration
	ChannelCooldown time.Duration

	// WorkerID names this process in rule leases.
	WorkerID string

	TitleLocale language.Tag
	Now         func() time.Time
}

// RuleResult is the outcome of one rule in a pass.
type RuleResult struct {
	RuleID   string `json:"rule_id"`
	PlanTier string `json:"plan_tier"`
	Outcome  string `json:"outcome"`
	Events   int    `json:"events"`
	Error    string `json:"error,omitempty"`
}

// FailedChannel describes one channel that did not deliver.
type FailedChannel struct {
	Type       string     `json:"type"`
	Status     string     `json:"status"`
	Error      string     `json:"error,omitempty"`
	RetryAfter *time.Time `json:"retry_after,omitempty"`
}

// ChannelFailureReport lists the failed channels of one triggered rule.
type ChannelFailureReport struct {
	RuleID   string          `json:"rule_id"`
	PlanTier string          `json:"plan_tier"`
	UserID   string          `json:"user_id,omitempty"`
	OrgID    string          `json:"org_id,omitempty"`
	Channels []FailedChannel `json:"channels"`
}

// EvaluationReport aggregates one RunOnce pass. Evaluated counts rules that
// passed the gates and the lease; Skipped counts gate skips.
type EvaluationReport struct {
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`

	Candidates int `json:"candidates"`
	Evaluated  int `json:"evaluated"`
	Triggered  int `json:"triggered"`
	Skipped    int `json:"skipped"`
	Duplicates int `json:"duplicates"`
	Errors     int `json:"errors"`
	Locked     int `json:"locked"`

	Outcomes        map[string]int            `json:"outcomes"`
	ByPlan          map[string]map[string]int `json:"by_plan"`
	Rules           []RuleResult              `json:"rules"`
	ChannelFailures []ChannelFailureReport    `json:"channel_failures"`
}

func newReport(now time.Time) *EvaluationReport {
	return &EvaluationReport{
		StartedAt:       now,
		Outcomes:        map[string]int{},
		ByPlan:          map[string]map[string]int{},
		Rules:           []RuleResult{},
		ChannelFailures: []ChannelFailureReport{},
	}
}

func (r *EvaluationReport) add(res RuleResult, failed []FailedChannel, rule *domain.AlertRule) {
	r.Rules = append(r.Rules, res)
	r.Outcomes[res.Outcome]++
	if r.ByPlan[res.PlanTier] == nil {
		r.ByPlan[res.PlanTier] = map[string]int{}
	}
	r.ByPlan[res.PlanTier][res.Outcome]++

	switch res.Outcome {
	case OutcomeCooldown, OutcomeNotDue, OutcomeDailyCap, OutcomeInactive:
		r.Skipped++
		return
	case OutcomeLocked:
		r.Locked++
		return
	case OutcomeTriggered:
		r.Triggered++
	case OutcomeDeliveryError:
		r.Triggered++
	case OutcomeDuplicate:
		r.Duplicates++
	case OutcomeError:
		r.Errors++
	}
	r.Evaluated++

	if len(failed) > 0 {
		r.ChannelFailures = append(r.ChannelFailures, ChannelFailureReport{
			RuleID:   rule.ID,
			PlanTier: res.PlanTier,
			UserID:   rule.UserID,
			OrgID:    rule.OrgID,
			Channels: failed,
		})
	}
}

// RunOnce performs one evaluation pass. It fails only when candidates cannot
// be loaded or ctx ends; per-rule failures are reported in the result.
func (e *AlertEngine) RunOnce(ctx context.Context) (*EvaluationReport, error) {
	tr := otel.Tracer("services/AlertEngine")
	ctx, span := tr.Start(ctx, "RunOnce",
		trace.WithAttributes(
			attribute.String("worker.id", e.WorkerID),
			attribute.Int("batch.limit", e.BatchLimit),
		),
	)
	defer span.End()

	start := e.now()
	report := newReport(start)

	rules, err := repo.ListActiveRules(ctx, e.DB, e.BatchLimit)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "list active rules")
		return nil, fmt.Errorf("list active rules: %w", err)
	}
	report.Candidates = len(rules)

	for i := range rules {
		if err := ctx.Err(); err != nil {
			report.FinishedAt = e.now()
			return report, err
		}
		rule := &rules[i]
		began := time.Now()
		res, failed := e.evaluateRule(ctx, rule)
		e.recorder().Evaluation(res.Outcome, res.PlanTier, time.Since(began))
		report.add(res, failed, rule)

		ev := log.Debug()
		if res.Outcome == OutcomeError {
			ev = log.Warn()
		}
		ev.Str("rule_id", res.RuleID).
			Str("plan", res.PlanTier).
			Str("outcome", res.Outcome).
			Int("events", res.Events).
			Str("error", res.Error).
			Msg("alert rule evaluated")
	}

	report.FinishedAt = e.now()
	e.recorder().Batch(time.Since(start))
	span.SetAttributes(
		attribute.Int("rules.candidates", report.Candidates),
		attribute.Int("rules.triggered", report.Triggered),
		attribute.Int("rules.errors", report.Errors),
	)
	log.Info().
		Int("candidates", report.Candidates).
		Int("evaluated", report.Evaluated).
		Int("triggered", report.Triggered).
		Int("skipped", report.Skipped).
		Int("duplicates", report.Duplicates).
		Int("errors", report.Errors).
		Int("locked", report.Locked).
		Dur("took", report.FinishedAt.Sub(report.StartedAt)).
		Msg("alert evaluation pass complete")
	return report, nil
}

// evaluateRule runs the gates, takes the lease and evaluates one rule.
func (e *AlertEngine) evaluateRule(ctx context.Context, listed *domain.AlertRule) (RuleResult, []FailedChannel) {
	tr := otel.Tracer("services/AlertEngine")
	ctx, span := tr.Start(ctx, "EvaluateRule",
		trace.WithAttributes(
			attribute.String("rule.id", listed.ID),
			attribute.String("rule.plan", planOf(listed)),
		),
	)
	defer span.End()

	now := e.now()
	res := RuleResult{RuleID: listed.ID, PlanTier: planOf(listed)}

	// Cheap gates on the listed row first, so rules that are not due cost no
	// lease write.
	if outcome := timeGate(listed, now); outcome != "" {
		res.Outcome = outcome
		if outcome == OutcomeCooldown {
			_ = e.Audit.Event(ctx, AuditSkipCooldown, listed.UserID, listed.OrgID, listed.ID, map[string]any{
				"cooled_until": listed.CooledUntil,
			})
		}
		return res, nil
	}

	switch err := repo.ClaimRule(ctx, e.DB, listed.ID, e.WorkerID, now, e.leaseTTL()); {
	case errors.Is(err, repo.ErrLeaseHeld):
		res.Outcome = OutcomeLocked
		return res, nil
	case err != nil:
		return e.fail(ctx, listed, now, fmt.Errorf("claim lease: %w", err)), nil
	}
	defer e.release(ctx, listed.ID)

	// Re-read under the lease; another worker may have evaluated it since
	// the batch was listed.
	rule, err := repo.GetRule(ctx, e.DB, listed.ID)
	if err != nil {
		return e.fail(ctx, listed, now, fmt.Errorf("reload rule: %w", err)), nil
	}
	res.PlanTier = planOf(rule)
	if rule.Status != domain.RuleStatusActive {
		res.Outcome = OutcomeInactive
		return res, nil
	}
	if outcome := timeGate(rule, now); outcome != "" {
		res.Outcome = outcome
		return res, nil
	}

	rctx := ctx
	if e.RuleTimeout > 0 {
		var cancel context.CancelFunc
		rctx, cancel = context.WithTimeout(ctx, e.RuleTimeout)
		defer cancel()
	}

	out, err := e.safeEvaluate(rctx, rule, now)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "evaluate")
		return e.fail(ctx, rule, now, err), nil
	}
	out.result.RuleID, out.result.PlanTier = rule.ID, res.PlanTier
	span.SetAttributes(attribute.String("rule.outcome", out.result.Outcome))
	return out.result, out.failed
}

type evaluation struct {
	result RuleResult
	failed []FailedChannel
}

// safeEvaluate converts a panic in evaluate into an error.
func (e *AlertEngine) safeEvaluate(ctx context.Context, rule *domain.AlertRule, now time.Time) (out evaluation, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v", p)
		}
	}()
	return e.evaluate(ctx, rule, now)
}

// evaluate is the body of one rule evaluation after gates and lease.
func (e *AlertEngine) evaluate(ctx context.Context, rule *domain.AlertRule, now time.Time) (evaluation, error) {
	var out evaluation

	if capN := rule.MaxTriggersPerDay; capN != nil && *capN > 0 {
		n, err := repo.CountDeliveredSince(ctx, e.DB, rule.ID, startOfDayUTC(now))
		if err != nil {
			return out, fmt.Errorf("count deliveries: %w", err)
		}
		if n >= int64(*capN) {
			out.result.Outcome = OutcomeDailyCap
			return out, nil
		}
	}

	plan := e.Plans.Compile(map[string]any(rule.Trigger), rule.WindowMinutes, rule.TriggerType).WithWindow(rule.WindowMinutes)
	events, err := fetchEvents(ctx, e.DB, plan, now)
	if err != nil {
		return out, fmt.Errorf("fetch events: %w", err)
	}
	snap := buildSnapshot(plan, events, now)
	out.result.Events = len(events)

	state := repo.RuleState{
		LastEvaluatedAt: &now,
		LastTriggeredAt: rule.LastTriggeredAt,
		CooledUntil:     rule.CooledUntil,
		ErrorCount:      rule.ErrorCount,
		LastError:       rule.LastError,
		Snapshot:        snap,
		ChannelFailures: rule.FailureMap(),
		UpdatedAt:       now,
	}

	if len(events) == 0 {
		out.result.Outcome = OutcomeNoMatch
		return out, e.saveState(ctx, rule.ID, state)
	}

	if snap.SameNotification(rule.LastSnapshot()) {
		snap.DuplicateBlocked = true
		e.recorder().Duplicate(planOf(rule))
		out.result.Outcome = OutcomeDuplicate
		return out, e.saveState(ctx, rule.ID, state)
	}

	state.LastTriggeredAt = &now
	if rule.CooldownMinutes > 0 {
		until := now.Add(time.Duration(rule.CooldownMinutes) * time.Minute)
		state.CooledUntil = &until
	}

	out.failed = e.dispatchAll(ctx, rule, plan, events, snap, state.ChannelFailures, now)

	// Dispatch may have used up the rule deadline.
	pctx, cancel := persistCtx(ctx)
	defer cancel()
	if n := len(out.failed); n > 0 {
		state.ErrorCount = min(rule.ErrorCount+n, maxErrorCount)
		state.LastError = truncate(failureSummary(out.failed), maxLastError)
		out.result.Outcome = OutcomeDeliveryError
		_ = e.Audit.Event(pctx, AuditDeliveryError, rule.UserID, rule.OrgID, rule.ID, map[string]any{
			"events":          len(events),
			"failed_channels": failedTypes(out.failed),
		})
	} else {
		state.ErrorCount = 0
		state.LastError = ""
		out.result.Outcome = OutcomeTriggered
		_ = e.Audit.Event(pctx, AuditTriggered, rule.UserID, rule.OrgID, rule.ID, map[string]any{
			"events":     len(events),
			"event_ids":  snap.EventIDs,
			"signature":  compiler.TriggerSignature(snap.PlanSignature, snap.EventHash),
			"channels":   len(rule.ChannelList()),
			"event_hash": snap.EventHash,
		})
	}
	return out, e.saveState(ctx, rule.ID, state)
}

// dispatchAll sends the notification to every channel of rule, updating
// failures in place, and returns the channels that did not deliver.
func (e *AlertEngine) dispatchAll(
	ctx context.Context,
	rule *domain.AlertRule,
	plan compiler.Plan,
	events []compiler.Event,
	snap *domain.EvaluationSnapshot,
	failures map[string]domain.ChannelFailure,
	now time.Time,
) []FailedChannel {
	rd := renderer{tag: e.TitleLocale}
	data := rd.data(rule, plan, events)
	subject := rd.subject(data)
	ruleMessage := rd.message(rule.MessageTemplate, data)
	signature := compiler.TriggerSignature(snap.PlanSignature, snap.EventHash)
	ref := eventID(events[0])

	var failed []FailedChannel
	for _, ch := range rule.ChannelList() {
		chType := strings.ToLower(strings.TrimSpace(ch.Type))
		targets := channels.NormalizeTargets(ch.Target, ch.Targets)
		message := ruleMessage
		if ch.Template != "" {
			message = rd.message(ch.Template, data)
		}
		row := &domain.AlertDelivery{
			RuleID:           rule.ID,
			Channel:          chType,
			Target:           channelLabel(ch, targets),
			Message:          message,
			EventRef:         ref,
			TriggerSignature: signature,
			CreatedAt:        now,
		}
		rowContext := map[string]any{
			"events":    len(events),
			"event_ids": snap.EventIDs,
			"source":    plan.Source,
		}

		if f, ok := failures[chType]; ok && f.RetryAfter != nil && f.RetryAfter.After(now) {
			retry := *f.RetryAfter
			row.Status = domain.DeliveryThrottled
			row.Error = "channel cooling down after failure"
			row.RetryAfter = &retry
			e.insertDelivery(ctx, row, rowContext)
			failed = append(failed, FailedChannel{Type: chType, Status: domain.DeliveryThrottled, Error: row.Error, RetryAfter: &retry})
			continue
		}

		res := e.dispatchOne(ctx, rule, ch, chType, targets, subject, message, signature, snap)
		row.Status = res.Status
		row.Error = res.Error
		rowContext["delivered"] = res.Delivered
		rowContext["failed"] = res.Failed
		if len(res.Metadata) > 0 {
			rowContext["result"] = res.Metadata
		}

		if res.Status == delivery.StatusDelivered {
			delete(failures, chType)
			e.insertDelivery(ctx, row, rowContext)
			continue
		}

		retry := now.Add(e.ChannelCooldown)
		failures[chType] = domain.ChannelFailure{
			Status:          res.Status,
			Error:           truncate(res.Error, maxLastError),
			UpdatedAt:       now,
			RetryAfter:      &retry,
			CooldownMinutes: int(e.ChannelCooldown / time.Minute),
		}
		row.RetryAfter = &retry
		e.insertDelivery(ctx, row, rowContext)
		failed = append(failed, FailedChannel{Type: chType, Status: res.Status, Error: res.Error, RetryAfter: &retry})
	}
	return failed
}

// dispatchOne validates the channel payload and hands it to the dispatcher.
// Validation and dispatcher errors come back as a failed result.
func (e *AlertEngine) dispatchOne(
	ctx context.Context,
	rule *domain.AlertRule,
	ch domain.ChannelConfig,
	chType string,
	targets []string,
	subject, message, signature string,
	snap *domain.EvaluationSnapshot,
) delivery.Result {
	meta, err := e.registry().Validate(chType, targets, ch.Metadata)
	if err != nil {
		return delivery.Result{Status: delivery.StatusFailed, Failed: max(len(targets), 1), Error: err.Error()}
	}

	res, err := e.Dispatcher.Dispatch(ctx, delivery.Request{
		ChannelType:    chType,
		Subject:        subject,
		Message:        message,
		Targets:        targets,
		Metadata:       meta,
		Template:       ch.Template,
		IdempotencyKey: signature + ":" + chType,
		Context: map[string]any{
			"rule_id":    rule.ID,
			"rule_name":  rule.Name,
			"source":     rule.TriggerType,
			"event_ids":  snap.EventIDs,
			"event_hash": snap.EventHash,
		},
	})
	if err != nil {
		res.Status = delivery.StatusFailed
		if res.Error == "" {
			res.Error = err.Error()
		}
	}
	if res.Status == "" {
		res.Status = delivery.StatusFailed
	}
	e.recorder().Delivery(chType, res.Status)
	return res
}

func (e *AlertEngine) insertDelivery(ctx context.Context, row *domain.AlertDelivery, rowContext map[string]any) {
	row.ID = uuid.NewString()
	row.Context = datatypes.JSONMap(rowContext)
	if row.Status == domain.DeliveryThrottled {
		e.recorder().Delivery(row.Channel, row.Status)
	}
	ctx, cancel := persistCtx(ctx)
	defer cancel()
	if err := repo.InsertDelivery(ctx, e.DB, row); err != nil {
		log.Warn().Err(err).Str("rule_id", row.RuleID).Str("channel", row.Channel).Msg("delivery audit row not recorded")
	}
}

// fail records an evaluation exception: the error counter grows and the rule
// cools down for Backoff(errorCount). The previous snapshot is kept.
func (e *AlertEngine) fail(ctx context.Context, rule *domain.AlertRule, now time.Time, cause error) RuleResult {
	// The rule deadline may be what failed.
	sctx, cancel := persistCtx(ctx)
	defer cancel()

	count := min(rule.ErrorCount+1, maxErrorCount)
	until := now.Add(Backoff(count))
	st := repo.RuleState{
		LastEvaluatedAt: &now,
		LastTriggeredAt: rule.LastTriggeredAt,
		CooledUntil:     &until,
		ErrorCount:      count,
		LastError:       truncate(cause.Error(), maxLastError),
		Snapshot:        rule.LastSnapshot(),
		ChannelFailures: rule.FailureMap(),
		UpdatedAt:       now,
	}
	if err := repo.SaveRuleState(sctx, e.DB, rule.ID, st); err != nil {
		log.Error().Err(err).Str("rule_id", rule.ID).Msg("rule error state not saved")
	}
	_ = e.Audit.Event(sctx, AuditError, rule.UserID, rule.OrgID, rule.ID, map[string]any{
		"error":        st.LastError,
		"error_count":  count,
		"cooled_until": until,
	})
	return RuleResult{RuleID: rule.ID, PlanTier: planOf(rule), Outcome: OutcomeError, Error: st.LastError}
}

func (e *AlertEngine) saveState(ctx context.Context, id string, st repo.RuleState) error {
	ctx, cancel := persistCtx(ctx)
	defer cancel()
	if err := repo.SaveRuleState(ctx, e.DB, id, st); err != nil {
		return fmt.Errorf("save rule state: %w", err)
	}
	return nil
}

func (e *AlertEngine) release(ctx context.Context, id string) {
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := repo.ReleaseRule(rctx, e.DB, id, e.WorkerID); err != nil {
		log.Warn().Err(err).Str("rule_id", id).Msg("rule lease not released")
	}
}

// persistCtx bounds a write that must outlive the rule deadline.
func persistCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
}

func (e *AlertEngine) now() time.Time {
	if e.Now != nil {
		return e.Now().UTC()
	}
	return time.Now().UTC()
}

func (e *AlertEngine) leaseTTL() time.Duration {
	if e.LeaseTTL > 0 {
		return e.LeaseTTL
	}
	return 2 * time.Minute
}

func (e *AlertEngine) recorder() metrics.Recorder {
	if e.Metrics == nil {
		return metrics.Nop{}
	}
	return e.Metrics
}

func (e *AlertEngine) registry() *channels.Registry {
	if e.Registry == nil {
		return channels.DefaultRegistry()
	}
	return e.Registry
}

// timeGate applies the cooldown and due gates.
func timeGate(r *domain.AlertRule, now time.Time) string {
	if r.CooledUntil != nil && r.CooledUntil.After(now) {
		return OutcomeCooldown
	}
	if r.LastEvaluatedAt != nil {
		next := r.LastEvaluatedAt.Add(time.Duration(r.EvaluationIntervalMinutes) * time.Minute)
		if next.After(now) {
			return OutcomeNotDue
		}
	}
	return ""
}

func startOfDayUTC(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func planOf(r *domain.AlertRule) string {
	if r.PlanTier == "" {
		return domain.PlanFree
	}
	return r.PlanTier
}

func channelLabel(ch domain.ChannelConfig, targets []string) string {
	if ch.Label != "" {
		return truncate(ch.Label, 512)
	}
	return truncate(strings.Join(targets, ","), 512)
}

func failureSummary(failed []FailedChannel) string {
	parts := make([]string, 0, len(failed))
	for _, f := range failed {
		msg := f.Type + ": " + f.Status
		if f.Error != "" {
			msg += " (" + f.Error + ")"
		}
		parts = append(parts, msg)
	}
	return strings.Join(parts, "; ")
}

func failedTypes(failed []FailedChannel) []string {
	out := make([]string, 0, len(failed))
	for _, f := range failed {
		out = append(out, f.Type)
	}
	return out
}

func truncate(s string, n int) string {
	if r := []rune(s); len(r) > n {
		return string(r[:n])
	}
	return s
}
