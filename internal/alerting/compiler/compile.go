package compiler

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"github.com/tbourn/go-alerts-backend/internal/domain"
)

// DSL text is read from the first non-empty of these payload keys.
var dslKeys = []string{"dsl", "query", "expression"}

// Compile builds a Plan from a trigger payload. defaultWindow is used when
// neither the DSL nor the structured fields carry a window; defaultSource
// when neither names a source.
func Compile(payload map[string]any, defaultWindow int, defaultSource string) Plan {
	structured := ParseStructured(payload)

	var (
		dsl    TriggerSpec
		rawDSL string
	)
	if rawDSL = dslText(payload); rawDSL != "" {
		dsl = ParseDSL(rawDSL)
	}

	plan := Merge(structured, dsl, defaultWindow, defaultSource)
	plan.RawDSL = rawDSL
	return plan
}

// RequestedWindow returns the window a trigger payload asks for, DSL first.
func RequestedWindow(payload map[string]any) (int, bool) {
	if raw := dslText(payload); raw != "" {
		if w := ParseDSL(raw).WindowMinutes; w != nil {
			return *w, true
		}
	}
	if w := ParseStructured(payload).WindowMinutes; w != nil {
		return *w, true
	}
	return 0, false
}

// Merge combines a structured and a DSL spec. The DSL wins for scalar
// fields; list fields are unioned with structured values first.
func Merge(structured, dsl TriggerSpec, defaultWindow int, defaultSource string) Plan {
	source := firstSource(dsl.Source, structured.Source, strings.ToLower(strings.TrimSpace(defaultSource)))
	if source == "" {
		source = domain.SourceFiling
	}

	window := defaultWindow
	switch {
	case dsl.WindowMinutes != nil:
		window = *dsl.WindowMinutes
	case structured.WindowMinutes != nil:
		window = *structured.WindowMinutes
	}

	minSentiment := structured.Filters.MinSentiment
	if dsl.Filters.MinSentiment != nil {
		minSentiment = dsl.Filters.MinSentiment
	}
	if minSentiment != nil {
		v := *minSentiment
		minSentiment = &v
	}

	s, d := structured.Filters, dsl.Filters
	return Plan{
		Source:        source,
		WindowMinutes: ClampWindow(window),
		FilterSet: domain.FilterSet{
			Tickers:      MergeLists(s.Tickers, d.Tickers),
			Categories:   MergeLists(s.Categories, d.Categories),
			Sectors:      MergeLists(s.Sectors, d.Sectors),
			Keywords:     MergeLists(s.Keywords, d.Keywords),
			Entities:     MergeLists(s.Entities, d.Entities),
			MinSentiment: minSentiment,
		},
	}
}

// MergeLists unions lists in order, dropping blanks and repeats of the same
// trimmed value. The result is never nil.
func MergeLists(lists ...[]string) []string {
	out := make([]string, 0)
	seen := make(map[string]struct{})
	for _, list := range lists {
		for _, v := range list {
			t := strings.TrimSpace(v)
			if t == "" {
				continue
			}
			if _, dup := seen[t]; dup {
				continue
			}
			seen[t] = struct{}{}
			out = append(out, t)
		}
	}
	return out
}

// ParseStructured reads the structured trigger fields of payload.
func ParseStructured(payload map[string]any) TriggerSpec {
	var spec TriggerSpec
	if payload == nil {
		return spec
	}

	for _, k := range []string{"type", "source"} {
		raw, _ := payload[k].(string)
		if v := normalizeSource(raw); v != "" {
			spec.Source = v
			break
		}
	}

	spec.Filters.Tickers = stringList(payload["tickers"])
	spec.Filters.Categories = stringList(payload["categories"])
	spec.Filters.Sectors = stringList(payload["sectors"])
	spec.Filters.Keywords = stringList(payload["keywords"])
	spec.Filters.Entities = stringList(payload["entities"])

	for _, k := range []string{"minSentiment", "min_sentiment"} {
		if v, ok := toFloat(payload[k]); ok {
			spec.Filters.MinSentiment = &v
			break
		}
	}
	for _, k := range []string{"windowMinutes", "window_minutes"} {
		if v, ok := toWindow(payload[k]); ok {
			spec.WindowMinutes = &v
			break
		}
	}
	return spec
}

func dslText(payload map[string]any) string {
	for _, k := range dslKeys {
		if s, ok := payload[k].(string); ok && strings.TrimSpace(s) != "" {
			return strings.TrimSpace(s)
		}
	}
	return ""
}

func normalizeSource(s string) string {
	switch v := strings.ToLower(strings.TrimSpace(s)); v {
	case domain.SourceFiling, domain.SourceNews, domain.SourceEvent:
		return v
	}
	return ""
}

func firstSource(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

// stringList keeps the non-blank string items of v in order. A lone string
// counts as a one-item list.
func stringList(v any) []string {
	switch items := v.(type) {
	case []string:
		out := make([]string, 0, len(items))
		for _, s := range items {
			if strings.TrimSpace(s) != "" {
				out = append(out, s)
			}
		}
		return out
	case []any:
		out := make([]string, 0, len(items))
		for _, it := range items {
			if s, ok := it.(string); ok && strings.TrimSpace(s) != "" {
				out = append(out, s)
			}
		}
		return out
	case string:
		if strings.TrimSpace(items) != "" {
			return []string{items}
		}
	}
	return nil
}

func toFloat(v any) (float64, bool) {
	var f float64
	switch n := v.(type) {
	case float64:
		f = n
	case float32:
		f = float64(n)
	case int:
		f = float64(n)
	case int64:
		f = float64(n)
	case json.Number:
		parsed, err := n.Float64()
		if err != nil {
			return 0, false
		}
		f = parsed
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

func toWindow(v any) (int, bool) {
	if s, ok := v.(string); ok {
		return ParseWindow(s)
	}
	f, ok := toFloat(v)
	if !ok {
		return 0, false
	}
	return int(math.Max(math.Min(f, MaxWindowMinutes), math.MinInt32)), true
}
