// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file implements caller authentication for the alerts API:
//   - Auth() verifies HS256 bearer tokens and stashes the caller's Principal
//     (user id, org id, plan tier) in the Gin context.
//   - SchedulerToken() guards the evaluation trigger with a shared secret so
//     an external cron can start a pass without a user token.
//
// When no JWT secret is configured, Auth() runs in development mode and reads
// the principal from X-User-ID / X-Org-ID / X-Plan-Tier headers instead.
package middleware

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

const (
	ctxKeyPrincipal = "principal"
	// ctxKeyUserID mirrors Principal.UserID for middleware that only needs
	// the user (logging, rate limiting).
	ctxKeyUserID = "userID"

	// HeaderSchedulerToken carries the shared secret of the evaluation trigger.
	HeaderSchedulerToken = "X-Scheduler-Token"
)

// Principal is the authenticated caller of an API request.
type Principal struct {
	UserID   string
	OrgID    string
	PlanTier string
}

// Claims are the JWT claims issued to API callers. The subject is the user id.
type Claims struct {
	OrgID string `json:"org_id,omitempty"`
	Plan  string `json:"plan,omitempty"`
	jwt.RegisteredClaims
}

// AuthOptions configures Auth.
type AuthOptions struct {
	// Secret is the HS256 signing key. Empty enables header-based dev mode.
	Secret string
	// Leeway tolerates clock skew when checking exp/nbf.
	Leeway time.Duration
}

var errMissingSubject = errors.New("token has no subject")

// Auth authenticates the caller and stores a Principal in the context.
// Requests without a valid identity are rejected with 401.
func Auth(opts AuthOptions) gin.HandlerFunc {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithLeeway(opts.Leeway),
	)
	secret := []byte(opts.Secret)

	return func(c *gin.Context) {
		var p Principal
		if opts.Secret == "" {
			p = Principal{
				UserID:   strings.TrimSpace(c.GetHeader("X-User-ID")),
				OrgID:    strings.TrimSpace(c.GetHeader("X-Org-ID")),
				PlanTier: strings.TrimSpace(c.GetHeader("X-Plan-Tier")),
			}
			if p.UserID == "" && p.OrgID == "" {
				unauthorized(c, "missing caller identity")
				return
			}
		} else {
			raw, ok := bearerToken(c.GetHeader("Authorization"))
			if !ok {
				unauthorized(c, "missing bearer token")
				return
			}
			claims, err := parseClaims(parser, secret, raw)
			if err != nil {
				LoggerFrom(c).Debug().Err(err).Msg("token rejected")
				unauthorized(c, "invalid or expired token")
				return
			}
			p = Principal{UserID: claims.Subject, OrgID: claims.OrgID, PlanTier: claims.Plan}
		}

		SetPrincipal(c, p)
		c.Next()
	}
}

// SetPrincipal stores p in the Gin context.
func SetPrincipal(c *gin.Context, p Principal) {
	c.Set(ctxKeyPrincipal, p)
	c.Set(ctxKeyUserID, p.UserID)
}

// PrincipalFrom returns the Principal stored by Auth.
func PrincipalFrom(c *gin.Context) (Principal, bool) {
	v, ok := c.Get(ctxKeyPrincipal)
	if !ok {
		return Principal{}, false
	}
	p, ok := v.(Principal)
	return p, ok
}

// IssueToken signs a token for p valid for ttl. Used by tests and local
// tooling; production tokens come from the identity provider.
func IssueToken(secret string, p Principal, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		OrgID: p.OrgID,
		Plan:  p.PlanTier,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   p.UserID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// SchedulerToken admits requests carrying token in X-Scheduler-Token or as
// a bearer token. An empty token disables the guarded route.
func SchedulerToken(token string) gin.HandlerFunc {
	want := []byte(token)
	return func(c *gin.Context) {
		if token == "" {
			abortJSON(c, http.StatusForbidden, "forbidden", "scheduler endpoint disabled")
			return
		}
		got := c.GetHeader(HeaderSchedulerToken)
		if got == "" {
			got, _ = bearerToken(c.GetHeader("Authorization"))
		}
		if subtle.ConstantTimeCompare([]byte(got), want) != 1 {
			unauthorized(c, "invalid scheduler token")
			return
		}
		c.Next()
	}
}

func parseClaims(p *jwt.Parser, secret []byte, raw string) (*Claims, error) {
	claims := &Claims{}
	if _, err := p.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) { return secret, nil }); err != nil {
		return nil, err
	}
	if strings.TrimSpace(claims.Subject) == "" && strings.TrimSpace(claims.OrgID) == "" {
		return nil, errMissingSubject
	}
	return claims, nil
}

func bearerToken(h string) (string, bool) {
	scheme, tok, ok := strings.Cut(strings.TrimSpace(h), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	tok = strings.TrimSpace(tok)
	return tok, tok != ""
}

func unauthorized(c *gin.Context, msg string) {
	c.Header("WWW-Authenticate", `Bearer realm="alerts"`)
	abortJSON(c, http.StatusUnauthorized, "unauthorized", msg)
}
