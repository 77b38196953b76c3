// Package channels holds the declarative rules for every notification
// channel type, the evaluator that validates channel payloads against them,
// and the plan-tier policy that decides which channel types an owner may use.
package channels

import (
	"regexp"
	"strings"
)

// Validator is one rule in a target or metadata rule list. The set of
// implementations is closed: Required, Optional, Regex, MinLength, Enum.
type Validator interface {
	validator()
}

// Required fails when the value (or target list) is empty.
type Required struct {
	Message string
}

// Optional stops evaluation of the remaining rules when the value is empty.
type Optional struct{}

// Regex fails for values not matching Pattern. Flags may contain "i" for
// case-insensitive matching. With CollectInvalid every violating target is
// reported; otherwise only the first.
type Regex struct {
	Pattern        string
	Flags          string
	CollectInvalid bool
	Message        string

	re *regexp.Regexp
}

// MinLength fails for values shorter than N characters. CollectInvalid
// works as for Regex.
type MinLength struct {
	N              int
	CollectInvalid bool
	Message        string
}

// Enum fails for values outside Values (compared case-insensitively).
// CollectInvalid works as for Regex.
type Enum struct {
	Values         []string
	CollectInvalid bool
	Message        string
}

func (Required) validator() {}
func (Optional) validator() {}
func (Regex) validator() {}
func (MinLength) validator() {}
func (Enum) validator() {}

// NewRegex compiles pattern with flags. It panics on an invalid pattern, so
// it is meant for package-level rule tables.
func NewRegex(pattern, flags string, collectInvalid bool, message string) Regex {
	expr := pattern
	if strings.Contains(strings.ToLower(flags), "i") {
		expr = "(?i)" + pattern
	}
	return Regex{
		Pattern:        pattern,
		Flags:          flags,
		CollectInvalid: collectInvalid,
		Message:        message,
		re:             regexp.MustCompile(expr),
	}
}

func (r Regex) match(s string) bool {
	if r.re == nil {
		r = NewRegex(r.Pattern, r.Flags, r.CollectInvalid, r.Message)
	}
	return r.re.MatchString(s)
}

// canonical returns the enum spelling of v, or false if v is not allowed.
func (e Enum) canonical(v string) (string, bool) {
	for _, allowed := range e.Values {
		if strings.EqualFold(allowed, v) {
			return allowed, true
		}
	}
	return "", false
}

// render substitutes the {invalid} placeholder.
func render(msg string, invalid []string) string {
	return strings.ReplaceAll(msg, "{invalid}", strings.Join(invalid, ", "))
}
