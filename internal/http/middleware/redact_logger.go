// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file implements RedactingLogger, the access logger of the API. Alert
// rules carry delivery credentials (bot tokens, Slack webhook URLs, PagerDuty
// routing keys, webhook secrets) and callers authenticate with bearer
// tokens, so query strings and header values are scrubbed before logging.
// Request and response bodies are never logged.
//
// Usage:
//
//	r := gin.New()
//	r.Use(middleware.RequestID(), middleware.Logger())
//	r.Use(middleware.RedactingLogger(middleware.RedactOptions{
//	    MaskHeaders: []string{"X-Api-Key"},
//	}))
package middleware

import (
	"regexp"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

// RedactOptions configures additional scrub behavior for RedactingLogger.
//
// MaskHeaders lists extra header names whose values are replaced with
// "[REDACTED]". Matching is case-insensitive and merged with the built-in
// set (Authorization, Cookie, Set-Cookie, X-Scheduler-Token).
type RedactOptions struct {
	MaskHeaders []string
}

// Patterns are applied in order; URLs and tokens first so the looser email
// and key patterns never see their fragments.
var redactions = []struct {
	re   *regexp.Regexp
	repl string
}{
	{regexp.MustCompile(`(?i)https?://hooks\.slack\.com/services/[^\s&"]+`), "[REDACTED:slack_webhook]"},
	{regexp.MustCompile(`\beyJ[A-Za-z0-9_-]+\.[A-Za-z0-9_-]+\.[A-Za-z0-9_-]+`), "[REDACTED:jwt]"},
	{regexp.MustCompile(`\b\d{6,}:[A-Za-z0-9_-]{30,}\b`), "[REDACTED:bot_token]"},
	{regexp.MustCompile(`(?i)\b[a-z0-9._%+\-]+@[a-z0-9.\-]+\.[a-z]{2,}\b`), "[REDACTED:email]"},
	{regexp.MustCompile(`(?i)\b(secret|token|routing_key|bot_token|password)=[^&\s]*`), "$1=[REDACTED]"},
	{regexp.MustCompile(`\b[A-Za-z0-9]{32}\b`), "[REDACTED:key]"},
}

// Redact scrubs credentials and contact details out of s.
func Redact(s string) string {
	for _, r := range redactions {
		if s == "" {
			return s
		}
		s = r.re.ReplaceAllString(s, r.repl)
	}
	return s
}

// RedactingLogger returns a Gin middleware that writes one access line per
// request with scrubbed query string and headers. The level follows the
// outcome: error for 5xx or collected gin errors, warn for 4xx, info
// otherwise.
func RedactingLogger(opts RedactOptions) gin.HandlerFunc {
	maskHeaders := map[string]struct{}{
		"authorization":                        {},
		"cookie":                               {},
		"set-cookie":                           {},
		strings.ToLower(HeaderSchedulerToken): {},
	}
	for _, h := range opts.MaskHeaders {
		if h = strings.ToLower(strings.TrimSpace(h)); h != "" {
			maskHeaders[h] = struct{}{}
		}
	}

	return func(c *gin.Context) {
		start := time.Now()
		query := Redact(truncate(c.Request.URL.RawQuery, maxQueryLogLength))

		headers := make(map[string]string, len(c.Request.Header))
		for k, vv := range c.Request.Header {
			if _, ok := maskHeaders[strings.ToLower(k)]; ok {
				headers[k] = "[REDACTED]"
				continue
			}
			headers[k] = Redact(strings.Join(vv, ", "))
		}

		c.Next()

		status := c.Writer.Status()
		lg := LoggerFrom(c)
		ev := lg.Info()
		switch {
		case len(c.Errors) > 0:
			ev = lg.Error().Str("errors", c.Errors.String())
		case status >= 500:
			ev = lg.Error()
		case status >= 400:
			ev = lg.Warn()
		}

		ev.
			Str("query", query).
			Str("remote_ip", c.ClientIP()).
			Int("status", status).
			Int("bytes_out", c.Writer.Size()).
			Int64("bytes_in", c.Request.ContentLength).
			Dur("latency", time.Since(start)).
			Interface("headers", headers).
			Msg("http_request")
	}
}
