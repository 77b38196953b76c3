package channels

import (
	"fmt"
	"os"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/tbourn/go-alerts-backend/internal/alerting/compiler"
	"github.com/tbourn/go-alerts-backend/internal/domain"
)

// TierPolicy holds the entitlements and frequency limits of one plan tier.
// Durations are in minutes.
type TierPolicy struct {
	AllowedChannels        []string `yaml:"allowed_channels"`
	MaxChannels            int      `yaml:"max_channels"`
	MaxActiveRules         int      `yaml:"max_active_rules"`
	DailyRuleCreations     int      `yaml:"daily_rule_creations"`
	MinIntervalMinutes     int      `yaml:"min_interval_minutes"`
	DefaultIntervalMinutes int      `yaml:"default_interval_minutes"`
	MinCooldownMinutes     int      `yaml:"min_cooldown_minutes"`
	DefaultCooldownMinutes int      `yaml:"default_cooldown_minutes"`
	DefaultWindowMinutes   int      `yaml:"default_window_minutes"`
}

// Policy maps plan tiers to their TierPolicy. Unknown tiers get the free
// tier's policy.
type Policy struct {
	Tiers map[string]TierPolicy
}

// DefaultPolicy returns the built-in tier table.
func DefaultPolicy() Policy {
	basic := []string{Email, Telegram, Slack, Webhook}
	all := []string{Email, Telegram, Slack, Webhook, PagerDuty}
	return Policy{Tiers: map[string]TierPolicy{
		domain.PlanFree: {
			AllowedChannels: basic, MaxChannels: 2, MaxActiveRules: 3, DailyRuleCreations: 10,
			MinIntervalMinutes: 60, DefaultIntervalMinutes: 60,
			MinCooldownMinutes: 60, DefaultCooldownMinutes: 120,
			DefaultWindowMinutes: 60,
		},
		domain.PlanStarter: {
			AllowedChannels: basic, MaxChannels: 3, MaxActiveRules: 10, DailyRuleCreations: 25,
			MinIntervalMinutes: 30, DefaultIntervalMinutes: 30,
			MinCooldownMinutes: 30, DefaultCooldownMinutes: 60,
			DefaultWindowMinutes: 60,
		},
		domain.PlanPro: {
			AllowedChannels: all, MaxChannels: 5, MaxActiveRules: 50, DailyRuleCreations: 100,
			MinIntervalMinutes: 15, DefaultIntervalMinutes: 15,
			MinCooldownMinutes: 15, DefaultCooldownMinutes: 30,
			DefaultWindowMinutes: 60,
		},
		domain.PlanEnterprise: {
			AllowedChannels: all, MaxChannels: 10, MaxActiveRules: 500, DailyRuleCreations: 1000,
			MinIntervalMinutes: 5, DefaultIntervalMinutes: 5,
			MinCooldownMinutes: 0, DefaultCooldownMinutes: 15,
			DefaultWindowMinutes: 60,
		},
	}}
}

// tierOverride mirrors TierPolicy with optional fields so a policy file
// can override single values, including explicit zeros.
type tierOverride struct {
	AllowedChannels        []string `yaml:"allowed_channels"`
	MaxChannels            *int     `yaml:"max_channels"`
	MaxActiveRules         *int     `yaml:"max_active_rules"`
	DailyRuleCreations     *int     `yaml:"daily_rule_creations"`
	MinIntervalMinutes     *int     `yaml:"min_interval_minutes"`
	DefaultIntervalMinutes *int     `yaml:"default_interval_minutes"`
	MinCooldownMinutes     *int     `yaml:"min_cooldown_minutes"`
	DefaultCooldownMinutes *int     `yaml:"default_cooldown_minutes"`
	DefaultWindowMinutes   *int     `yaml:"default_window_minutes"`
}

// LoadPolicy reads a YAML file of the form
//
//	tiers:
//	  free:
//	    max_active_rules: 5
//	    allowed_channels: [email, slack]
//
// and overlays it on DefaultPolicy. An empty path returns the defaults.
func LoadPolicy(path string) (Policy, error) {
	p := DefaultPolicy()
	if strings.TrimSpace(path) == "" {
		return p, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return p, fmt.Errorf("read policy: %w", err)
	}
	return ParsePolicy(b)
}

// ParsePolicy overlays YAML policy bytes on DefaultPolicy.
func ParsePolicy(b []byte) (Policy, error) {
	p := DefaultPolicy()
	var file struct {
		Tiers map[string]tierOverride `yaml:"tiers"`
	}
	if err := yaml.Unmarshal(b, &file); err != nil {
		return p, fmt.Errorf("parse policy: %w", err)
	}

	reg := DefaultRegistry()
	base := DefaultPolicy().Tiers[domain.PlanFree]
	for name, o := range file.Tiers {
		name = strings.ToLower(strings.TrimSpace(name))
		t, ok := p.Tiers[name]
		if !ok {
			t = base
		}
		if o.AllowedChannels != nil {
			for _, c := range o.AllowedChannels {
				if _, known := reg.Lookup(c); !known {
					return p, fmt.Errorf("parse policy: tier %q allows unknown channel %q", name, c)
				}
			}
			t.AllowedChannels = o.AllowedChannels
		}
		setInt(&t.MaxChannels, o.MaxChannels)
		setInt(&t.MaxActiveRules, o.MaxActiveRules)
		setInt(&t.DailyRuleCreations, o.DailyRuleCreations)
		setInt(&t.MinIntervalMinutes, o.MinIntervalMinutes)
		setInt(&t.DefaultIntervalMinutes, o.DefaultIntervalMinutes)
		setInt(&t.MinCooldownMinutes, o.MinCooldownMinutes)
		setInt(&t.DefaultCooldownMinutes, o.DefaultCooldownMinutes)
		setInt(&t.DefaultWindowMinutes, o.DefaultWindowMinutes)

		if t.MinIntervalMinutes < 1 || t.MinCooldownMinutes < 0 || t.MaxChannels < 1 {
			return p, fmt.Errorf("parse policy: tier %q has non-positive limits", name)
		}
		p.Tiers[name] = t
	}
	return p, nil
}

func setInt(dst *int, v *int) {
	if v != nil {
		*dst = *v
	}
}

// Tier returns the policy for a plan tier name.
func (p Policy) Tier(name string) TierPolicy {
	if t, ok := p.Tiers[strings.ToLower(strings.TrimSpace(name))]; ok {
		return t
	}
	return p.Tiers[domain.PlanFree]
}

// KnownTier reports whether name is a configured tier.
func (p Policy) KnownTier(name string) bool {
	_, ok := p.Tiers[strings.ToLower(strings.TrimSpace(name))]
	return ok
}

// AllowsChannel reports whether tier may use channelType.
func (t TierPolicy) AllowsChannel(channelType string) bool {
	return slices.Contains(t.AllowedChannels, strings.ToLower(strings.TrimSpace(channelType)))
}

// FrequencyInput carries the user-requested frequency; nil means unset.
type FrequencyInput struct {
	IntervalMinutes   *int
	WindowMinutes     *int
	CooldownMinutes   *int
	MaxTriggersPerDay *int
}

// Frequency is a normalized frequency configuration.
type Frequency struct {
	IntervalMinutes   int
	WindowMinutes     int
	CooldownMinutes   int
	MaxTriggersPerDay *int
}

// NormalizeFrequency applies tier defaults and minimums. The result always
// satisfies interval >= tier minimum, cooldown >= tier minimum and
// interval <= window <= 7 days.
func (t TierPolicy) NormalizeFrequency(in FrequencyInput) Frequency {
	interval := pick(in.IntervalMinutes, t.DefaultIntervalMinutes)
	interval = min(max(interval, t.MinIntervalMinutes, 1), compiler.MaxWindowMinutes)

	cooldown := pick(in.CooldownMinutes, t.DefaultCooldownMinutes)
	cooldown = min(max(cooldown, t.MinCooldownMinutes, 0), compiler.MaxWindowMinutes)

	window := pick(in.WindowMinutes, t.DefaultWindowMinutes)
	window = compiler.ClampWindow(max(window, interval))

	f := Frequency{IntervalMinutes: interval, WindowMinutes: window, CooldownMinutes: cooldown}
	if in.MaxTriggersPerDay != nil && *in.MaxTriggersPerDay > 0 {
		v := *in.MaxTriggersPerDay
		f.MaxTriggersPerDay = &v
	}
	return f
}

func pick(v *int, def int) int {
	if v != nil {
		return *v
	}
	return def
}
