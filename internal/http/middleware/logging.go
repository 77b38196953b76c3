// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file provides the request correlation and panic handling pieces:
//
//   - RequestID() ensures every request carries a correlation ID
//     (propagated via X-Request-ID and stored in the Gin context).
//   - Logger() attaches a request-scoped zerolog.Logger carrying the
//     correlation ID, method and route. The access line itself is written by
//     RedactingLogger so secrets in query strings never reach the logs.
//   - Recovery() converts panics into the JSON error envelope while
//     preserving the correlation ID and logging a stack trace.
//   - LoggerFrom() retrieves the request-scoped logger, enriched with the
//     authenticated principal once Auth() has run.
//
// Recommended order: RequestID, Logger, RedactingLogger, Recovery.
package middleware

import (
	"net/http"
	"runtime/debug"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	requestIDKey    = "requestID"
	requestIDHeader = "X-Request-ID"
	loggerKey       = "logger"

	// maxQueryLogLength caps the number of bytes of the raw query string logged.
	maxQueryLogLength = 2048
	// maxRequestIDLength bounds client-supplied correlation ids.
	maxRequestIDLength = 128
)

// RequestID attaches (or propagates) a correlation identifier per request.
// Client-supplied ids longer than 128 bytes are replaced.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		rid := c.GetHeader(requestIDHeader)
		if rid == "" || len(rid) > maxRequestIDLength {
			rid = uuid.NewString()
		}
		c.Set(requestIDKey, rid)
		c.Writer.Header().Set(requestIDHeader, rid)
		c.Next()
	}
}

// Logger stores a request-scoped zerolog.Logger in the Gin context.
func Logger() gin.HandlerFunc {
	return func(c *gin.Context) {
		rid, _ := c.Get(requestIDKey)
		l := log.With().
			Str("request_id", asString(rid)).
			Str("method", c.Request.Method).
			Str("path", routePath(c)).
			Logger()
		c.Set(loggerKey, &l)
		c.Next()
	}
}

// Recovery intercepts panics, logs a stack trace, and answers 500 with the
// standard error envelope when nothing was written yet.
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if rec := recover(); rec != nil {
				LoggerFrom(c).Error().
					Interface("panic", rec).
					Bytes("stack", debug.Stack()).
					Msg("panic recovered")

				if !c.Writer.Written() {
					abortJSON(c, http.StatusInternalServerError, "internal_error", "internal server error")
					return
				}
				c.AbortWithStatus(http.StatusInternalServerError)
			}
		}()
		c.Next()
	}
}

// LoggerFrom returns the request-scoped logger, adding the caller's ids when
// a Principal is present. Without Logger() a global-derived logger is
// returned, so callers never need nil checks.
func LoggerFrom(c *gin.Context) *zerolog.Logger {
	base := log.Logger
	if v, ok := c.Get(loggerKey); ok {
		if lg, ok := v.(*zerolog.Logger); ok {
			base = *lg
		}
	}
	if p, ok := PrincipalFrom(c); ok {
		l := base.With().Str("user_id", p.UserID).Str("org_id", p.OrgID).Logger()
		return &l
	}
	return &base
}

// abortJSON writes the error envelope shared by every middleware and handler:
// {request_id, code, message}.
func abortJSON(c *gin.Context, status int, code, msg string) {
	rid, _ := c.Get(requestIDKey)
	c.AbortWithStatusJSON(status, gin.H{
		"request_id": asString(rid),
		"code":       code,
		"message":    msg,
	})
}

func routePath(c *gin.Context) string {
	if p := c.FullPath(); p != "" {
		return p
	}
	return c.Request.URL.Path
}

func asString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

// truncate cuts s to max bytes and appends an ellipsis. max <= 0 disables it.
func truncate(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	return s[:max] + "…"
}
