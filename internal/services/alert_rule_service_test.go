package services

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-alerts-backend/internal/alerting/channels"
	"github.com/tbourn/go-alerts-backend/internal/domain"
	"github.com/tbourn/go-alerts-backend/internal/repo"
)

func freeOwner(user string) Owner { return Owner{UserID: user, PlanTier: domain.PlanFree} }

func basicInput(name string) RuleInput {
	return RuleInput{
		Name:     strp(name),
		Trigger:  map[string]any{"type": "filing", "tickers": []any{"005930"}},
		Channels: []domain.ChannelConfig{{Type: "Email", Target: "ops@example.com", Targets: []string{"ops@example.com", " cfo@example.com "}}},
	}
}

func TestCreate_NormalizesAgainstTier(t *testing.T) {
	f := newFixture(t)
	in := basicInput("  Samsung filings ")
	in.EvaluationIntervalMinutes = intp(1) // below free minimum
	in.WindowMinutes = intp(30)            // below interval
	in.CooldownMinutes = intp(5)
	in.MaxTriggersPerDay = intp(0)

	r, err := f.rules.Create(context.Background(), Owner{UserID: "u1", PlanTier: "FREE"}, in)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if r.Name != "Samsung filings" || r.PlanTier != domain.PlanFree || r.Status != domain.RuleStatusActive {
		t.Fatalf("rule = %+v", r)
	}
	if r.EvaluationIntervalMinutes != 60 || r.WindowMinutes != 60 || r.CooldownMinutes != 60 || r.MaxTriggersPerDay != nil {
		t.Fatalf("frequency = %d/%d/%d/%v", r.EvaluationIntervalMinutes, r.WindowMinutes, r.CooldownMinutes, r.MaxTriggersPerDay)
	}
	chans := r.ChannelList()
	if len(chans) != 1 || chans[0].Type != "email" || strings.Join(chans[0].Targets, ",") != "ops@example.com,cfo@example.com" {
		t.Fatalf("channels = %+v", chans)
	}
	if r.TriggerType != domain.SourceFiling || strings.Join(r.Filters.Data().Tickers, ",") != "005930" {
		t.Fatalf("derived = %s %+v", r.TriggerType, r.Filters.Data())
	}

	got, err := f.rules.Get(context.Background(), freeOwner("u1"), r.ID)
	if err != nil || got.ID != r.ID {
		t.Fatalf("Get = %+v, %v", got, err)
	}
	events, _ := repo.ListAuditEvents(context.Background(), f.db, r.ID, 10)
	if len(events) != 1 || events[0].Action != AuditRuleCreated {
		t.Fatalf("audit = %+v", events)
	}
}

func TestCreate_ValidationErrors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	cases := []struct {
		name  string
		owner Owner
		edit  func(*RuleInput)
		code  string
	}{
		{"missing name", freeOwner("u1"), func(in *RuleInput) { in.Name = strp("  ") }, CodeInvalidRule},
		{"missing trigger", freeOwner("u1"), func(in *RuleInput) { in.Trigger = nil }, CodeInvalidRule},
		{"no channels", freeOwner("u1"), func(in *RuleInput) { in.Channels = nil }, CodeInvalidChannel},
		{"unknown channel", freeOwner("u1"), func(in *RuleInput) {
			in.Channels = []domain.ChannelConfig{{Type: "fax", Target: "123"}}
		}, CodeInvalidChannel},
		{"pagerduty on free", freeOwner("u1"), func(in *RuleInput) {
			in.Channels = []domain.ChannelConfig{{Type: "pagerduty", Metadata: map[string]any{"routing_key": "abcdefABCDEF0123456789abcdef0123"}}}
		}, CodeChannelNotAllowed},
		{"bad email", freeOwner("u1"), func(in *RuleInput) {
			in.Channels = []domain.ChannelConfig{{Type: "email", Targets: []string{"nope"}}}
		}, CodeInvalidChannel},
		{"too many channels", freeOwner("u1"), func(in *RuleInput) {
			in.Channels = []domain.ChannelConfig{
				webhookChannel("https://a.example.com"),
				webhookChannel("https://b.example.com"),
				webhookChannel("https://c.example.com"),
			}
		}, CodeTooManyChannels},
		{"bad template", freeOwner("u1"), func(in *RuleInput) { in.MessageTemplate = strp("{{ .Rule ") }, CodeInvalidRule},
	}
	for _, tc := range cases {
		in := basicInput("r")
		tc.edit(&in)
		_, err := f.rules.Create(ctx, tc.owner, in)
		if !isRuleErr(err, tc.code) {
			t.Fatalf("%s: err = %v; want code %s", tc.name, err, tc.code)
		}
	}

	// The bad email error carries the registry detail.
	in := basicInput("r")
	in.Channels = []domain.ChannelConfig{{Type: "email", Targets: []string{"nope"}}}
	_, err := f.rules.Create(ctx, freeOwner("u1"), in)
	var ve *channels.ValidationError
	if !errors.As(err, &ve) || ve.Code != channels.CodeInvalidTarget {
		t.Fatalf("expected wrapped ValidationError, got %v", err)
	}

	if _, err := f.rules.Create(ctx, Owner{}, basicInput("r")); !errors.Is(err, ErrOwnerRequired) {
		t.Fatalf("expected ErrOwnerRequired, got %v", err)
	}
}

func TestCreate_ActiveRuleCeilingAndQuota(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := f.rules.Create(ctx, freeOwner("u1"), basicInput("r")); err != nil {
			t.Fatalf("create #%d: %v", i+1, err)
		}
	}
	if _, err := f.rules.Create(ctx, freeOwner("u1"), basicInput("r")); !isRuleErr(err, CodeRuleLimitReached) {
		t.Fatalf("expected rule_limit_reached, got %v", err)
	}

	// Daily creation quota, independent of the active ceiling.
	policy := channels.DefaultPolicy()
	free := policy.Tiers[domain.PlanFree]
	free.DailyRuleCreations = 2
	free.MaxActiveRules = 100
	policy.Tiers[domain.PlanFree] = free
	f.rules.Policy = policy
	f.rules.Quota.Policy = policy

	for i := 0; i < 2; i++ {
		if _, err := f.rules.Create(ctx, freeOwner("u2"), basicInput("r")); err != nil {
			t.Fatalf("create #%d: %v", i+1, err)
		}
	}
	if _, err := f.rules.Create(ctx, freeOwner("u2"), basicInput("r")); !isRuleErr(err, CodeQuotaExceeded) {
		t.Fatalf("expected quota_exceeded, got %v", err)
	}

	// The bucket is per UTC day.
	f.clock.Advance(24 * time.Hour)
	if _, err := f.rules.Create(ctx, freeOwner("u2"), basicInput("r")); err != nil {
		t.Fatalf("next day create: %v", err)
	}
}

func TestUpdate_RecompilesAndRevalidates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	owner := Owner{UserID: "u1", PlanTier: domain.PlanPro}
	r, err := f.rules.Create(ctx, owner, basicInput("r"))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	upd, err := f.rules.Update(ctx, owner, r.ID, RuleInput{
		Trigger:       map[string]any{"dsl": "news sector:Technology keyword:chip"},
		WindowMinutes: intp(240),
		Description:   strp(" chips "),
	})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	fs := upd.Filters.Data()
	if upd.TriggerType != domain.SourceNews || strings.Join(fs.Sectors, ",") != "Technology" || upd.WindowMinutes != 240 || upd.Description != "chips" {
		t.Fatalf("updated = %s %+v window=%d desc=%q", upd.TriggerType, fs, upd.WindowMinutes, upd.Description)
	}
	if upd.Name != "r" || len(upd.ChannelList()) != 1 {
		t.Fatalf("unpatched fields changed: %+v", upd)
	}

	if _, err := f.rules.Update(ctx, owner, r.ID, RuleInput{Channels: []domain.ChannelConfig{{Type: "slack", Target: "http://x"}}}); !isRuleErr(err, CodeInvalidChannel) {
		t.Fatalf("expected invalid_channel, got %v", err)
	}
	if _, err := f.rules.Update(ctx, owner, r.ID, RuleInput{Status: strp("archived")}); !isRuleErr(err, CodeInvalidRule) {
		t.Fatalf("expected invalid_rule for status, got %v", err)
	}
	if _, err := f.rules.Update(ctx, freeOwner("intruder"), r.ID, RuleInput{Name: strp("x")}); !errors.Is(err, ErrRuleNotFound) {
		t.Fatalf("expected ErrRuleNotFound for other owner, got %v", err)
	}
}

func TestUpdate_ChannelChangePrunesFailures(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	owner := Owner{UserID: "u1", PlanTier: domain.PlanPro}
	in := basicInput("r")
	in.Channels = append(in.Channels, domain.ChannelConfig{Type: "slack", Target: "https://hooks.slack.com/services/T/B/X"})
	r, err := f.rules.Create(ctx, owner, in)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	retry := f.clock.Now().Add(time.Hour)
	st := repo.RuleState{ChannelFailures: map[string]domain.ChannelFailure{
		"slack": {Status: "failed", RetryAfter: &retry},
		"email": {Status: "failed", RetryAfter: &retry},
	}}
	if err := repo.SaveRuleState(ctx, f.db, r.ID, st); err != nil {
		t.Fatalf("SaveRuleState: %v", err)
	}

	upd, err := f.rules.Update(ctx, owner, r.ID, RuleInput{Channels: []domain.ChannelConfig{{Type: "email", Target: "a@b.io"}}})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	fm := upd.FailureMap()
	if _, ok := fm["slack"]; ok || len(fm) != 1 {
		t.Fatalf("failures = %+v", fm)
	}
}

func TestArchive_ListAndDeliveries(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	owner := Owner{UserID: "u1", OrgID: "o1", PlanTier: domain.PlanStarter}

	a, _ := f.rules.Create(ctx, owner, basicInput("a"))
	b, _ := f.rules.Create(ctx, owner, basicInput("b"))
	if a == nil || b == nil {
		t.Fatalf("seed failed")
	}

	if err := f.rules.Archive(ctx, owner, a.ID); err != nil {
		t.Fatalf("Archive: %v", err)
	}
	if err := f.rules.Archive(ctx, owner, a.ID); err != nil {
		t.Fatalf("second Archive should be a no-op: %v", err)
	}
	if _, err := f.rules.Update(ctx, owner, a.ID, RuleInput{Name: strp("x")}); !isRuleErr(err, CodeRuleArchived) {
		t.Fatalf("expected rule_archived, got %v", err)
	}

	items, total, err := f.rules.List(ctx, owner, false, 1, 10)
	if err != nil || total != 1 || len(items) != 1 || items[0].ID != b.ID {
		t.Fatalf("List = %d %+v %v", total, items, err)
	}
	_, total, _ = f.rules.List(ctx, owner, true, 1, 10)
	if total != 2 {
		t.Fatalf("List incl. archived total = %d", total)
	}
	// Org members see org rules.
	if _, total, _ := f.rules.List(ctx, Owner{UserID: "u9", OrgID: "o1"}, true, 1, 10); total != 2 {
		t.Fatalf("org List total = %d", total)
	}

	if _, err := f.rules.Deliveries(ctx, freeOwner("other"), b.ID, 10); !errors.Is(err, ErrRuleNotFound) {
		t.Fatalf("expected ErrRuleNotFound, got %v", err)
	}
	rows, err := f.rules.Deliveries(ctx, owner, b.ID, 0)
	if err != nil || len(rows) != 0 {
		t.Fatalf("Deliveries = %+v, %v", rows, err)
	}
}

func TestPreviewAndAllowedChannels(t *testing.T) {
	f := newFixture(t)
	f.addNews(t, "n1", "005930", "Samsung announces buyback", 0.6, 30*time.Minute)
	f.addNews(t, "n2", "005930", "Samsung buyback, older", 0.6, 3*time.Hour)

	p, err := f.rules.Preview(context.Background(), freeOwner("u1"),
		map[string]any{"dsl": "news ticker:005930 keyword:buyback window:2h"}, nil)
	if err != nil {
		t.Fatalf("Preview: %v", err)
	}
	if p.Plan.Source != domain.SourceNews || p.Plan.WindowMinutes != 120 || len(p.Events) != 1 || eventID(p.Events[0]) != "n1" {
		t.Fatalf("preview = %+v", p)
	}
	if len(p.PlanSignature) != 64 || len(p.EventHash) != 64 {
		t.Fatalf("hashes = %q %q", p.PlanSignature, p.EventHash)
	}
	if _, err := f.rules.Preview(context.Background(), freeOwner("u1"), nil, nil); !isRuleErr(err, CodeInvalidRule) {
		t.Fatalf("expected invalid_rule, got %v", err)
	}

	if got := strings.Join(f.rules.AllowedChannels(freeOwner("u1")), ","); got != "email,telegram,slack,webhook" {
		t.Fatalf("free channels = %s", got)
	}
	if got := f.rules.AllowedChannels(Owner{PlanTier: "enterprise"}); len(got) != 5 {
		t.Fatalf("enterprise channels = %v", got)
	}
}

func TestRuleErrorCode(t *testing.T) {
	err := ruleErr(CodeQuotaExceeded, "limit %d", 3)
	if RuleErrorCode(err) != CodeQuotaExceeded || err.Message != "limit 3" {
		t.Fatalf("RuleErrorCode = %q, %q", RuleErrorCode(err), err.Message)
	}
	if RuleErrorCode(errors.New("x")) != "" {
		t.Fatalf("plain errors have no code")
	}
}

func TestCreateUpdate_TriggerWindowFoldedIntoFrequency(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	owner := Owner{UserID: "u1", PlanTier: domain.PlanPro}

	in := basicInput("r")
	in.Trigger = map[string]any{"dsl": "news ticker:005930 window:2h"}
	r, err := f.rules.Create(ctx, owner, in)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if r.WindowMinutes != 120 {
		t.Fatalf("window = %d; want 120 from the trigger", r.WindowMinutes)
	}

	in.Trigger = map[string]any{"dsl": "news ticker:005930 window:2h"}
	in.WindowMinutes = intp(30)
	r2, err := f.rules.Create(ctx, owner, in)
	if err != nil {
		t.Fatalf("Create explicit: %v", err)
	}
	if r2.WindowMinutes != 30 {
		t.Fatalf("explicit window = %d; want 30", r2.WindowMinutes)
	}

	upd, err := f.rules.Update(ctx, owner, r.ID, RuleInput{
		Trigger:                   map[string]any{"dsl": "news ticker:005930 window:5m"},
		EvaluationIntervalMinutes: intp(45),
	})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if upd.EvaluationIntervalMinutes != 45 || upd.WindowMinutes != 45 {
		t.Fatalf("frequency = %d/%d; want 45/45", upd.EvaluationIntervalMinutes, upd.WindowMinutes)
	}
}

func TestCreate_FailedInsertDoesNotChargeQuota(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if err := f.db.Callback().Create().Before("gorm:create").Register("fail_rule_insert", func(tx *gorm.DB) {
		if tx.Statement != nil && tx.Statement.Table == "alert_rules" {
			tx.AddError(errors.New("forced-insert-error"))
		}
	}); err != nil {
		t.Fatalf("register create callback: %v", err)
	}

	if _, err := f.rules.Create(ctx, freeOwner("u1"), basicInput("r")); err == nil {
		t.Fatalf("expected insert error")
	}
	day := f.clock.Now().Format(time.DateOnly)
	used, err := repo.QuotaUsed(ctx, f.db, ActionCreateRule, "u1", day)
	if err != nil || used != 0 {
		t.Fatalf("quota used = %d, %v; want 0", used, err)
	}
}
