package channels

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/tbourn/go-alerts-backend/internal/alerting/compiler"
	"github.com/tbourn/go-alerts-backend/internal/domain"
)

func intp(v int) *int { return &v }

func TestPolicy_TierFallback(t *testing.T) {
	p := DefaultPolicy()
	if p.Tier("PRO").MaxChannels != 5 {
		t.Fatalf("pro lookup should be case-insensitive")
	}
	if got := p.Tier("platinum"); got.MaxActiveRules != p.Tier(domain.PlanFree).MaxActiveRules {
		t.Fatalf("unknown tier should fall back to free, got %+v", got)
	}
	if p.KnownTier("platinum") || !p.KnownTier("starter") {
		t.Fatalf("KnownTier mismatch")
	}
}

func TestPolicy_AllowsChannel(t *testing.T) {
	p := DefaultPolicy()
	if p.Tier(domain.PlanFree).AllowsChannel(PagerDuty) {
		t.Fatalf("free must not allow pagerduty")
	}
	if !p.Tier(domain.PlanPro).AllowsChannel(" PagerDuty ") {
		t.Fatalf("pro should allow pagerduty")
	}
}

func TestNormalizeFrequency(t *testing.T) {
	free := DefaultPolicy().Tier(domain.PlanFree)

	f := free.NormalizeFrequency(FrequencyInput{})
	if f.IntervalMinutes != 60 || f.CooldownMinutes != 120 || f.WindowMinutes != 60 || f.MaxTriggersPerDay != nil {
		t.Fatalf("defaults = %+v", f)
	}

	f = free.NormalizeFrequency(FrequencyInput{
		IntervalMinutes:   intp(5),
		WindowMinutes:     intp(10),
		CooldownMinutes:   intp(0),
		MaxTriggersPerDay: intp(0),
	})
	if f.IntervalMinutes != 60 {
		t.Fatalf("interval should be raised to tier minimum, got %d", f.IntervalMinutes)
	}
	if f.WindowMinutes != 60 {
		t.Fatalf("window should cover interval, got %d", f.WindowMinutes)
	}
	if f.CooldownMinutes != 60 || f.MaxTriggersPerDay != nil {
		t.Fatalf("unexpected %+v", f)
	}

	ent := DefaultPolicy().Tier(domain.PlanEnterprise)
	f = ent.NormalizeFrequency(FrequencyInput{
		IntervalMinutes:   intp(99999),
		WindowMinutes:     intp(1),
		MaxTriggersPerDay: intp(4),
	})
	if f.IntervalMinutes != compiler.MaxWindowMinutes || f.WindowMinutes != compiler.MaxWindowMinutes {
		t.Fatalf("huge interval should clamp, got %+v", f)
	}
	if f.MaxTriggersPerDay == nil || *f.MaxTriggersPerDay != 4 {
		t.Fatalf("max per day = %v", f.MaxTriggersPerDay)
	}
}

func TestParsePolicy_Overrides(t *testing.T) {
	p, err := ParsePolicy([]byte(`
tiers:
  free:
    max_active_rules: 5
    min_cooldown_minutes: 0
    allowed_channels: [email, pagerduty]
  team:
    max_channels: 4
`))
	if err != nil {
		t.Fatalf("ParsePolicy: %v", err)
	}
	free := p.Tier(domain.PlanFree)
	if free.MaxActiveRules != 5 || free.MinCooldownMinutes != 0 || free.MaxChannels != 2 {
		t.Fatalf("free overrides = %+v", free)
	}
	if !free.AllowsChannel(PagerDuty) || free.AllowsChannel(Slack) {
		t.Fatalf("allowed channels not replaced: %v", free.AllowedChannels)
	}
	team := p.Tier("team")
	if !p.KnownTier("team") || team.MaxChannels != 4 || team.MaxActiveRules != 3 {
		t.Fatalf("new tier should start from free, got %+v", team)
	}
	if DefaultPolicy().Tier(domain.PlanFree).MaxActiveRules != 3 {
		t.Fatalf("defaults must not be mutated")
	}
}

func TestParsePolicy_Errors(t *testing.T) {
	for _, doc := range []string{
		"tiers: [",
		"tiers:\n  free:\n    allowed_channels: [fax]\n",
		"tiers:\n  pro:\n    min_interval_minutes: 0\n",
	} {
		if _, err := ParsePolicy([]byte(doc)); err == nil {
			t.Fatalf("expected error for %q", doc)
		}
	}
}

func TestLoadPolicy(t *testing.T) {
	p, err := LoadPolicy("")
	if err != nil || p.Tier(domain.PlanPro).MaxChannels != 5 {
		t.Fatalf("empty path should give defaults: %v", err)
	}
	if _, err := LoadPolicy(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("missing file should error")
	}
	path := filepath.Join(t.TempDir(), "policy.yaml")
	if err := os.WriteFile(path, []byte("tiers:\n  starter:\n    daily_rule_creations: 2\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	p, err = LoadPolicy(path)
	if err != nil || p.Tier(domain.PlanStarter).DailyRuleCreations != 2 {
		t.Fatalf("LoadPolicy: %v %+v", err, p.Tier(domain.PlanStarter))
	}
}
