package compiler

import (
	"regexp"
	"strconv"
	"strings"
)

var windowExpr = regexp.MustCompile(`(?i)^(\d+)\s*([smhdw])$`)

// ParseWindow converts a window expression to minutes. Accepted forms are a
// bare integer (minutes) or <integer><unit> with unit s, m, h, d or w.
// Seconds are floor-divided to minutes with a minimum of one. The second
// return value is false when the expression is unparseable.
func ParseWindow(expr string) (int, bool) {
	s := strings.TrimSpace(expr)
	if s == "" {
		return 0, false
	}
	if n, err := strconv.Atoi(s); err == nil {
		return n, true
	}
	m := windowExpr.FindStringSubmatch(s)
	if m == nil {
		return 0, false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	unit := strings.ToLower(m[2])
	if unit == "s" {
		return max(min(n, MaxWindowMinutes*60)/60, 1), true
	}
	// anything past the clamp bound clamps to the same value
	n = min(n, MaxWindowMinutes)
	switch unit {
	case "m":
		return n, true
	case "h":
		return n * 60, true
	case "d":
		return n * 24 * 60, true
	default: // w
		return n * 7 * 24 * 60, true
	}
}

// ClampWindow bounds minutes to [MinWindowMinutes, MaxWindowMinutes].
func ClampWindow(minutes int) int {
	return min(max(minutes, MinWindowMinutes), MaxWindowMinutes)
}
