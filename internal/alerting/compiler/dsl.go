package compiler

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/tbourn/go-alerts-backend/internal/domain"
)

var sentimentExpr = regexp.MustCompile(`(?i)^(?:min)?sentiment\s*(>=|=>|==|>|=)\s*([-+]?\d+(?:\.\d+)?)$`)

// ParseDSL reads a query such as
//
//	news ticker:005930 keyword:'buyback' window:2h sentiment>=0.2
//
// into a TriggerSpec. Unknown keys and malformed values are ignored.
func ParseDSL(text string) TriggerSpec {
	var spec TriggerSpec
	tokens := tokenize(text)

	for i := 0; i < len(tokens); i++ {
		tok := strings.TrimSpace(tokens[i])
		if tok == "" {
			continue
		}
		lower := strings.ToLower(tok)

		if lower == domain.SourceNews || lower == domain.SourceFiling {
			spec.Source = lower
			continue
		}
		if m := sentimentExpr.FindStringSubmatch(tok); m != nil {
			if v, err := strconv.ParseFloat(m[2], 64); err == nil {
				spec.Filters.MinSentiment = &v
			}
			continue
		}
		// "sentiment >= 0.2" written with spaces
		if (lower == "sentiment" || lower == "minsentiment") && i+2 < len(tokens) && isComparison(tokens[i+1]) {
			if v, err := strconv.ParseFloat(strings.TrimSpace(tokens[i+2]), 64); err == nil {
				spec.Filters.MinSentiment = &v
				i += 2
				continue
			}
		}
		if key, value, ok := strings.Cut(tok, ":"); ok && strings.TrimSpace(key) != "" {
			applyKeyValue(&spec, strings.ToLower(strings.TrimSpace(key)), value)
			continue
		}
		spec.Filters.Keywords = append(spec.Filters.Keywords, tok)
	}
	return spec
}

func applyKeyValue(spec *TriggerSpec, key, value string) {
	switch key {
	case "ticker", "tickers":
		spec.Filters.Tickers = append(spec.Filters.Tickers, splitValues(value)...)
	case "keyword", "keywords":
		spec.Filters.Keywords = append(spec.Filters.Keywords, splitValues(value)...)
	case "entity", "entities":
		spec.Filters.Entities = append(spec.Filters.Entities, splitValues(value)...)
	case "category", "categories":
		spec.Filters.Categories = append(spec.Filters.Categories, splitValues(value)...)
	case "sector", "sectors":
		spec.Filters.Sectors = append(spec.Filters.Sectors, splitValues(value)...)
	case "window", "window_minutes", "windowmins":
		if n, ok := ParseWindow(stripQuotes(value)); ok {
			spec.WindowMinutes = &n
		} else {
			log.Debug().Str("value", value).Msg("alert dsl: unparseable window")
		}
	case "type", "source":
		switch v := strings.ToLower(stripQuotes(value)); v {
		case domain.SourceNews, domain.SourceFiling:
			spec.Source = v
		}
	case "sentiment", "minsentiment", "min_sentiment":
		raw := strings.TrimLeft(stripQuotes(value), "<>= ")
		if v, err := strconv.ParseFloat(raw, 64); err == nil {
			spec.Filters.MinSentiment = &v
		} else {
			log.Debug().Str("value", value).Msg("alert dsl: unparseable sentiment")
		}
	default:
		log.Debug().Str("key", key).Msg("alert dsl: ignoring unknown key")
	}
}

func isComparison(tok string) bool {
	switch strings.TrimSpace(tok) {
	case ">=", "=>", "==", ">", "=":
		return true
	}
	return false
}

// splitValues strips one layer of wrapping parentheses and quotes, then
// splits on ',' or '|'.
func splitValues(value string) []string {
	v := strings.TrimSpace(value)
	if len(v) >= 2 && v[0] == '(' && v[len(v)-1] == ')' {
		v = strings.TrimSpace(v[1 : len(v)-1])
	}
	v = stripQuotes(v)

	parts := strings.FieldsFunc(v, func(r rune) bool { return r == ',' || r == '|' })
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = stripQuotes(strings.TrimSpace(p)); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func stripQuotes(s string) string {
	s = strings.TrimSpace(s)
	if len(s) >= 2 && (s[0] == '"' || s[0] == '\'') && s[len(s)-1] == s[0] {
		return s[1 : len(s)-1]
	}
	return s
}

// tokenize splits text shell-style: whitespace separates tokens, single
// quotes are literal, double quotes allow backslash escapes, and quoted
// segments join adjacent text. Unbalanced quoting falls back to a plain
// whitespace split.
func tokenize(text string) []string {
	tokens, ok := shellSplit(text)
	if !ok {
		return strings.Fields(text)
	}
	return tokens
}

func shellSplit(text string) ([]string, bool) {
	var (
		tokens  []string
		cur     strings.Builder
		inToken bool
		quote   rune
		escaped bool
	)
	flush := func() {
		if inToken {
			tokens = append(tokens, cur.String())
			cur.Reset()
			inToken = false
		}
	}

	for _, r := range text {
		switch {
		case escaped:
			if quote == '"' && r != '"' && r != '\\' {
				cur.WriteRune('\\')
			}
			cur.WriteRune(r)
			escaped = false
		case quote == '\'':
			if r == '\'' {
				quote = 0
			} else {
				cur.WriteRune(r)
			}
		case r == '\\' && quote != '\'':
			escaped = true
			inToken = true
		case quote == '"':
			if r == '"' {
				quote = 0
			} else {
				cur.WriteRune(r)
			}
		case r == '\'' || r == '"':
			quote = r
			inToken = true
		case r == ' ' || r == '\t' || r == '\n' || r == '\r':
			flush()
		default:
			cur.WriteRune(r)
			inToken = true
		}
	}
	if quote != 0 || escaped {
		return nil, false
	}
	flush()
	return tokens, true
}
