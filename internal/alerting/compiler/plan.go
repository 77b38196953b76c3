// Package compiler turns a raw alert trigger (structured fields plus an
// optional query DSL) into a normalized, executable Plan, and provides the
// deterministic hashing used to deduplicate notifications.
//
// Compilation never fails: malformed input degrades to defaults and is only
// reported through debug logging.
package compiler

import (
	"slices"
	"time"

	"github.com/tbourn/go-alerts-backend/internal/domain"
)

// Window bounds in minutes.
const (
	MinWindowMinutes = 5
	MaxWindowMinutes = 7 * 24 * 60
)

// Plan is the compiled form of a trigger. It is a value object and is never
// persisted; callers must treat its slices as read-only.
type Plan struct {
	Source        string `json:"source"`
	WindowMinutes int    `json:"window_minutes"`
	domain.FilterSet
	RawDSL string `json:"raw_dsl,omitempty"`
}

// Filters returns the plan's filter set.
func (p Plan) Filters() domain.FilterSet { return p.FilterSet }

// WithWindow returns a copy of p looking back minutes, clamped to the
// window bounds.
func (p Plan) WithWindow(minutes int) Plan {
	p.WindowMinutes = ClampWindow(minutes)
	return p
}

// WindowStart returns the lower bound of the lookback window ending at now.
func (p Plan) WindowStart(now time.Time) time.Time {
	return now.Add(-time.Duration(p.WindowMinutes) * time.Minute)
}

// Trigger returns the source-specific form of the plan.
func (p Plan) Trigger() Trigger {
	if p.Source == domain.SourceNews {
		return NewsTrigger{FilterSet: p.FilterSet}
	}
	return FilingTrigger{FilterSet: p.FilterSet}
}

func (p Plan) clone() Plan {
	out := p
	out.Tickers = slices.Clone(p.Tickers)
	out.Categories = slices.Clone(p.Categories)
	out.Sectors = slices.Clone(p.Sectors)
	out.Keywords = slices.Clone(p.Keywords)
	out.Entities = slices.Clone(p.Entities)
	if p.MinSentiment != nil {
		v := *p.MinSentiment
		out.MinSentiment = &v
	}
	return out
}

// Trigger is a compiled trigger bound to one research source. The set of
// implementations is closed: FilingTrigger and NewsTrigger.
type Trigger interface {
	Source() string
	Filters() domain.FilterSet
	sealed()
}

// FilingTrigger matches regulatory filings (sources "filing" and "event").
type FilingTrigger struct {
	domain.FilterSet
}

// Source implements Trigger.
func (FilingTrigger) Source() string { return domain.SourceFiling }

// Filters implements Trigger.
func (t FilingTrigger) Filters() domain.FilterSet { return t.FilterSet }

func (FilingTrigger) sealed() {}

// NewsTrigger matches scored news articles.
type NewsTrigger struct {
	domain.FilterSet
}

// Source implements Trigger.
func (NewsTrigger) Source() string { return domain.SourceNews }

// Filters implements Trigger.
func (t NewsTrigger) Filters() domain.FilterSet { return t.FilterSet }

func (NewsTrigger) sealed() {}

// TriggerSpec is a partially specified trigger as read from one input
// (structured fields or DSL text). Unset fields are zero: empty Source, nil
// WindowMinutes, nil MinSentiment.
type TriggerSpec struct {
	Source        string
	WindowMinutes *int
	Filters       domain.FilterSet
}
