// Package handlers defines HTTP-layer error codes used across all API endpoints.
//
// Codes are lowercase snake_case and stable; clients branch on them. Generic
// codes mirror HTTP status semantics. Rule codes are passed through from the
// services layer so a client sees the same code the service produced.
//
// Example response:
//
//	{
//	  "request_id": "e1b9be03-4999-4289-9f03-999b042d65d6",
//	  "code": "channel_not_allowed",
//	  "message": "channel type \"pagerduty\" is not available on the free plan"
//	}
package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-alerts-backend/internal/services"
)

const (
	ErrCodeBadRequest       = "bad_request"
	ErrCodeUnauthorized     = "unauthorized"
	ErrCodeForbidden        = "forbidden"
	ErrCodeNotFound         = "not_found"
	ErrCodeConflict         = "conflict"
	ErrCodeRateLimited      = "too_many_requests"
	ErrCodeInternal         = "internal_error"
	ErrCodeMethodNotAllowed = "method_not_allowed"

	// Domain-specific:
	ErrCodeCreateFailed     = "create_failed"
	ErrCodeListFailed       = "list_failed"
	ErrCodeEvaluationFailed = "evaluation_failed"
)

// ruleErrorStatus maps a services.RuleError code to its HTTP status.
var ruleErrorStatus = map[string]int{
	services.CodeQuotaExceeded:     http.StatusPaymentRequired,
	services.CodeRuleLimitReached:  http.StatusPaymentRequired,
	services.CodeChannelNotAllowed: http.StatusForbidden,
	services.CodeInvalidChannel:    http.StatusUnprocessableEntity,
	services.CodeTooManyChannels:   http.StatusUnprocessableEntity,
	services.CodeInvalidRule:       http.StatusUnprocessableEntity,
	services.CodeRuleArchived:      http.StatusConflict,
}

// failService writes the error envelope for an error returned by the rule
// service. Unknown errors become 500 with fallbackCode.
func failService(c *gin.Context, err error, fallbackCode string) {
	var re *services.RuleError
	switch {
	case errors.As(err, &re):
		status, ok := ruleErrorStatus[re.Code]
		if !ok {
			status = http.StatusUnprocessableEntity
		}
		fail(c, status, re.Code, re.Message)
	case errors.Is(err, services.ErrRuleNotFound):
		fail(c, http.StatusNotFound, ErrCodeNotFound, "alert rule not found")
	case errors.Is(err, services.ErrOwnerRequired):
		fail(c, http.StatusUnauthorized, ErrCodeUnauthorized, "caller identity required")
	default:
		fail(c, http.StatusInternalServerError, fallbackCode, err.Error())
	}
}
