// Package services defines the business logic for alert rules and their
// evaluation. This file centralizes service-level error values so that
// callers can check them with errors.Is / errors.As and translate them into
// HTTP status codes at the handler layer.
package services

import (
	"errors"
	"fmt"
)

var (
	// ErrRuleNotFound indicates that the requested rule does not exist or is
	// not visible to the caller.
	ErrRuleNotFound = errors.New("alert rule not found")

	// ErrOwnerRequired is returned when neither a user id nor an org id is
	// available for the caller.
	ErrOwnerRequired = errors.New("owner identity required")
)

// Rule error codes. They are stable and returned to API clients.
const (
	CodeQuotaExceeded     = "quota_exceeded"
	CodeRuleLimitReached  = "rule_limit_reached"
	CodeChannelNotAllowed = "channel_not_allowed"
	CodeInvalidChannel    = "invalid_channel"
	CodeTooManyChannels   = "too_many_channels"
	CodeInvalidRule       = "invalid_rule"
	CodeRuleArchived      = "rule_archived"
)

// RuleError is a quota or validation failure on rule create/update. Code is
// machine readable and Message is safe to show to the rule owner.
type RuleError struct {
	Code    string
	Message string

	err error
}

func (e *RuleError) Error() string { return e.Code + ": " + e.Message }

func (e *RuleError) Unwrap() error { return e.err }

func ruleErr(code, format string, args ...any) *RuleError {
	return &RuleError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// RuleErrorCode returns the code of a *RuleError in err's chain, or "".
func RuleErrorCode(err error) string {
	var re *RuleError
	if errors.As(err, &re) {
		return re.Code
	}
	return ""
}
