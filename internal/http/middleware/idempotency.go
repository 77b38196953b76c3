// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file implements Idempotency-Key support for create endpoints. The
// validator checks the header, derives the request scope (method + route),
// and asks a lookup whether the same caller already completed a request
// with that key in that scope. Handlers then:
//   - read the key and scope (GetIdempotencyKey, IdempotencyScope)
//   - serve the earlier resource on replay (ReplayResourceID)
//
// Replays also bypass rate limiting.
package middleware

import (
	"context"
	"net/http"
	"regexp"
	"time"

	"github.com/gin-gonic/gin"
)

// HeaderIdempotencyKey is the request header carrying the idempotency key.
const HeaderIdempotencyKey = "Idempotency-Key"

const (
	ctxKeyIdemKey    = "idem.key"
	ctxKeyIdemScope  = "idem.scope"
	ctxKeyIdemReplay = "idem.replay" // string: resource id of the earlier result
	ctxKeyRateBypass = "rate.bypass"
)

var defaultIdemPattern = regexp.MustCompile(`^[A-Za-z0-9._~\-:]+$`)

// IdempotencyOptions configures IdempotencyValidator.
type IdempotencyOptions struct {
	// MaxLen caps the key length. Values <= 0 default to 128, the width of
	// the stored column.
	MaxLen int
	// Pattern restricts allowed characters; defaults to ^[A-Za-z0-9._~\-:]+$.
	Pattern *regexp.Regexp
	// Now is the clock passed to the lookup; defaults to time.Now.
	Now func() time.Time
}

// IdempotencyLookup returns the resource created by an earlier request of
// userID with key in scope, if one is still valid. Errors are logged and
// treated as a miss.
type IdempotencyLookup func(ctx context.Context, userID, scope, key string, now time.Time) (resourceID string, found bool, err error)

// IdempotencyValidator validates the Idempotency-Key header on unsafe
// methods. Invalid keys are rejected with 400; absent keys pass through.
func IdempotencyValidator(opts IdempotencyOptions, lookup IdempotencyLookup) gin.HandlerFunc {
	maxLen := opts.MaxLen
	if maxLen <= 0 {
		maxLen = 128
	}
	pat := opts.Pattern
	if pat == nil {
		pat = defaultIdemPattern
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	return func(c *gin.Context) {
		switch c.Request.Method {
		case http.MethodGet, http.MethodHead, http.MethodOptions:
			c.Next()
			return
		}
		key := c.GetHeader(HeaderIdempotencyKey)
		if key == "" {
			c.Next()
			return
		}
		if len(key) > maxLen || !pat.MatchString(key) {
			abortJSON(c, http.StatusBadRequest, "bad_idempotency_key", "invalid Idempotency-Key")
			return
		}

		scope := c.Request.Method + " " + routePath(c)
		c.Set(ctxKeyIdemKey, key)
		c.Set(ctxKeyIdemScope, scope)

		if lookup != nil {
			id, found, err := lookup(c.Request.Context(), userIDFromCtx(c), scope, key, now().UTC())
			switch {
			case err != nil:
				LoggerFrom(c).Warn().Err(err).Msg("idempotency lookup failed")
			case found && id != "":
				c.Set(ctxKeyIdemReplay, id)
				c.Set(ctxKeyRateBypass, true)
			}
		}
		c.Next()
	}
}

// GetIdempotencyKey returns the validated key, if any.
func GetIdempotencyKey(c *gin.Context) (string, bool) {
	s := c.GetString(ctxKeyIdemKey)
	return s, s != ""
}

// IdempotencyScope returns the scope the key was validated in.
func IdempotencyScope(c *gin.Context) string { return c.GetString(ctxKeyIdemScope) }

// ReplayResourceID returns the resource id of an earlier completed request
// with the same key, if any.
func ReplayResourceID(c *gin.Context) (string, bool) {
	s := c.GetString(ctxKeyIdemReplay)
	return s, s != ""
}

// userIDFromCtx returns the authenticated user id, or "" before Auth runs.
func userIDFromCtx(c *gin.Context) string {
	if p, ok := PrincipalFrom(c); ok {
		if p.UserID != "" {
			return p.UserID
		}
		return "org:" + p.OrgID
	}
	return c.GetString(ctxKeyUserID)
}
