// Package httpapi wires the HTTP transport (Gin) to the alert services,
// middleware, and route handlers. It centralizes cross-cutting concerns such
// as tracing, correlation IDs, logging/redaction, panic recovery, metrics,
// compression, CORS, security headers, authentication, idempotency, and rate
// limiting.
//
// Design goals:
//   - Put observability first (OTel + Prometheus)
//   - Safe-by-default middleware ordering (RequestID → logging → recovery)
//   - Deterministic router setup; all dependencies injected
//   - Identity-dependent middleware (idempotency, rate limits) runs after auth
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"gorm.io/gorm"

	"github.com/tbourn/go-alerts-backend/internal/config"
	"github.com/tbourn/go-alerts-backend/internal/http/handlers"
	"github.com/tbourn/go-alerts-backend/internal/http/middleware"
	"github.com/tbourn/go-alerts-backend/internal/repo"
)

// Deps are the collaborators the router mounts.
type Deps struct {
	DB        *gorm.DB
	Rules     handlers.RuleService
	Evaluator handlers.Evaluator // nil disables POST /alerts/evaluate (503)

	// Registerer receives the HTTP collectors; Gatherer backs /metrics.
	// Both default to the Prometheus default registry.
	Registerer prometheus.Registerer
	Gatherer   prometheus.Gatherer
}

// idempotencyStore adapts the repository idempotency functions to the
// middleware lookup and the handler recorder.
type idempotencyStore struct {
	db  *gorm.DB
	ttl time.Duration
}

// Lookup proxies repo.GetIdempotency; a miss is not an error.
func (s idempotencyStore) Lookup(ctx context.Context, userID, scope, key string, now time.Time) (string, bool, error) {
	rec, err := repo.GetIdempotency(ctx, s.db, userID, scope, key, now)
	if errors.Is(err, repo.ErrNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return rec.ResourceID, true, nil
}

// Remember proxies repo.CreateIdempotency.
func (s idempotencyStore) Remember(ctx context.Context, userID, scope, key, resourceID string, status int) error {
	_, err := repo.CreateIdempotency(ctx, s.db, userID, scope, key, resourceID, status, s.ttl)
	return err
}

// RegisterRoutes attaches all middleware and HTTP endpoints to the given Gin
// engine and mounts the alert API under cfg.APIBasePath.
//
// Middleware order matters:
//  1. OpenTelemetry: trace everything
//  2. RequestID: generate/propagate correlation id
//  3. Logger: request-scoped zerolog logger
//  4. RedactingLogger: access log with secret scrubbing
//  5. Recovery: capture panics after logger
//  6. Body size limiter
//  7. Metrics
//  8. Gzip, CORS and security headers
//
// On the /alerts group: Auth, then idempotency validation (before the rate
// limiter so replays bypass it), then the per-principal rate limiter.
func RegisterRoutes(r *gin.Engine, cfg config.Config, deps Deps) error {
	r.HandleMethodNotAllowed = true

	reg := deps.Registerer
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gather := deps.Gatherer
	if gather == nil {
		gather = prometheus.DefaultGatherer
	}

	// 1) Trace all HTTP requests
	r.Use(otelgin.Middleware(cfg.OTEL.ServiceName))

	// 2-5) Correlation, logging, recovery
	r.Use(middleware.RequestID())
	r.Use(middleware.Logger())
	r.Use(middleware.RedactingLogger(middleware.RedactOptions{
		MaskHeaders: []string{"X-API-Key"},
	}))
	r.Use(middleware.Recovery())

	// 6) Global body size limit
	r.Use(limitBody(cfg.MaxBodyBytes))

	// 7) Prometheus metrics and /metrics endpoint
	hm, err := middleware.NewHTTPMetrics(reg)
	if err != nil {
		return err
	}
	r.Use(hm.Handler())
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gather, promhttp.HandlerOpts{})))

	// 8) Compression, CORS, security headers
	r.Use(gzip.Gzip(gzip.DefaultCompression, gzip.WithExcludedPaths([]string{"/metrics"})))
	r.Use(corsMiddleware(cfg.CORS.AllowedOrigins))
	r.Use(middleware.SecurityHeaders(middleware.SecurityOptions{
		EnableHSTS:   cfg.Security.EnableHSTS,
		HSTSMaxAge:   cfg.Security.HSTSMaxAge,
		NoStore:      true,
		EnablePolicy: true,
	}))

	// Fallbacks
	r.NoRoute(func(c *gin.Context) {
		handlers.Fail(c, http.StatusNotFound, handlers.ErrCodeNotFound, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		handlers.Fail(c, http.StatusMethodNotAllowed, handlers.ErrCodeMethodNotAllowed, "method not allowed")
	})

	// Liveness/health
	r.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })

	if cfg.SwaggerEnabled {
		r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	idem := idempotencyStore{db: deps.DB, ttl: cfg.IdempotencyTTL}
	h := handlers.NewAlertHandlers(deps.Rules, deps.Evaluator, idem)
	rl := middleware.NewRateLimiter(cfg.RateRPS, cfg.RateBurst, middleware.KeyByPrincipalOrIP())

	api := groupWithPrefix(r, cfg.APIBasePath)

	// Scheduler hook; authenticated by shared secret, not by user token.
	api.POST("/alerts/evaluate", middleware.SchedulerToken(cfg.Auth.SchedulerToken), h.Evaluate)

	alerts := api.Group("/alerts",
		middleware.Auth(middleware.AuthOptions{Secret: cfg.Auth.JWTSecret, Leeway: 30 * time.Second}),
		middleware.IdempotencyValidator(middleware.IdempotencyOptions{}, idem.Lookup),
		rl.Handler(),
	)
	{
		alerts.POST("", h.CreateAlert)
		alerts.GET("", h.ListAlerts)
		alerts.GET("/channels", h.AllowedChannels)
		alerts.POST("/preview", h.PreviewAlert)
		alerts.GET("/:id", h.GetAlert)
		alerts.PATCH("/:id", h.UpdateAlert)
		alerts.DELETE("/:id", h.ArchiveAlert)
		alerts.GET("/:id/deliveries", h.ListDeliveries)
	}
	return nil
}

// corsMiddleware allows any origin when the allowlist is empty, otherwise
// only the listed ones. Credentials are never allowed.
func corsMiddleware(origins []string) gin.HandlerFunc {
	cc := cors.Config{
		AllowMethods: []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders: []string{
			"Origin", "Content-Type", "Accept", "Authorization",
			"X-User-ID", "X-Org-ID", "X-Plan-Tier", "If-None-Match",
			middleware.HeaderIdempotencyKey,
		},
		ExposeHeaders:    []string{"X-Request-ID", "Content-Length", "ETag", "Retry-After", "Idempotent-Replayed"},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}
	if len(origins) == 0 {
		cc.AllowAllOrigins = true
	} else {
		cc.AllowOrigins = origins
	}
	return cors.New(cc)
}

// limitBody caps the request body size using http.MaxBytesReader. Requests
// exceeding the cap make downstream body reads fail.
func limitBody(maxBytes int64) gin.HandlerFunc {
	if maxBytes <= 0 {
		maxBytes = 1 << 20
	}
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}

// groupWithPrefix mounts a group at prefix, treating "/" (or empty) as root.
func groupWithPrefix(r *gin.Engine, prefix string) *gin.RouterGroup {
	if prefix == "" || prefix == "/" {
		return r.Group("")
	}
	return r.Group(prefix)
}
