// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file implements an in-memory token-bucket rate limiter with one
// bucket per caller. Buckets are keyed by the authenticated principal (org
// first, so all members of an organization share one budget) and fall back
// to the client IP. Idle buckets are evicted opportunistically.
//
// The limiter is process-local; it is edge-level abuse control, not an
// entitlement mechanism (plan quotas live in the services layer).
package middleware

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// KeyFunc selects the bucket identity of a request.
type KeyFunc func(*gin.Context) string

// KeyByPrincipalOrIP keys buckets by "org:<id>", then "user:<id>", then
// "ip:<addr>".
func KeyByPrincipalOrIP() KeyFunc {
	return func(c *gin.Context) string {
		if p, ok := PrincipalFrom(c); ok {
			if p.OrgID != "" {
				return "org:" + p.OrgID
			}
			if p.UserID != "" {
				return "user:" + p.UserID
			}
		}
		if v, ok := c.Get(ctxKeyUserID); ok {
			if s, ok := v.(string); ok && s != "" {
				return "user:" + s
			}
		}
		return "ip:" + c.ClientIP()
	}
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter is a per-key token-bucket limiter. It is safe for concurrent
// use.
type RateLimiter struct {
	rps   rate.Limit
	burst int
	keyFn KeyFunc

	mu       sync.Mutex
	visitors map[string]*visitor
	ttl      time.Duration
	lookups  uint64
}

// NewRateLimiter returns a limiter refilling rps tokens per second up to
// burst (coerced to at least 1).
func NewRateLimiter(rps float64, burst int, keyFn KeyFunc) *RateLimiter {
	if keyFn == nil {
		keyFn = KeyByPrincipalOrIP()
	}
	return &RateLimiter{
		rps:      rate.Limit(rps),
		burst:    max(burst, 1),
		keyFn:    keyFn,
		visitors: make(map[string]*visitor),
		ttl:      10 * time.Minute,
	}
}

// limiter returns the bucket for key. Every 5000 lookups idle buckets are
// evicted first, so a stale bucket is dropped even when it is the one asked
// for.
func (rl *RateLimiter) limiter(key string, now time.Time) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	rl.lookups++
	if rl.lookups >= 5000 {
		for k, v := range rl.visitors {
			if now.Sub(v.lastSeen) >= rl.ttl {
				delete(rl.visitors, k)
			}
		}
		rl.lookups = 0
	}

	if v, ok := rl.visitors[key]; ok {
		v.lastSeen = now
		return v.limiter
	}
	lim := rate.NewLimiter(rl.rps, rl.burst)
	rl.visitors[key] = &visitor{limiter: lim, lastSeen: now}
	return lim
}

// IsRateBypass reports whether IdempotencyValidator marked this request as a
// replay, which is served without consuming tokens.
func IsRateBypass(c *gin.Context) bool {
	v, ok := c.Get(ctxKeyRateBypass)
	if !ok {
		return false
	}
	b, _ := v.(bool)
	return b
}

// Handler enforces the limit. Refused requests get 429 with a Retry-After
// header estimated from the bucket's refill rate.
func (rl *RateLimiter) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if IsRateBypass(c) {
			c.Next()
			return
		}

		lim := rl.limiter(rl.keyFn(c), time.Now())
		if lim.Allow() {
			c.Next()
			return
		}

		c.Header("Retry-After", strconv.Itoa(rl.retryAfterSeconds()))
		abortJSON(c, http.StatusTooManyRequests, "too_many_requests", "rate limit exceeded")
	}
}

func (rl *RateLimiter) retryAfterSeconds() int {
	if rl.rps <= 0 || math.IsInf(float64(rl.rps), 1) {
		return 1
	}
	return max(int(math.Ceil(1/float64(rl.rps))), 1)
}
