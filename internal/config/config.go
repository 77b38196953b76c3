// Package config provides application configuration loaded from environment
// variables with defaults and validation. It centralizes server, storage,
// authentication, alert evaluation and notification transport settings.
package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
)

// CORSConfig defines Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string
}

// SecurityConfig defines security-related settings such as HSTS.
type SecurityConfig struct {
	EnableHSTS bool
	HSTSMaxAge time.Duration
}

// OTELConfig defines OpenTelemetry observability settings.
type OTELConfig struct {
	Enabled     bool    // OTEL_ENABLED
	Endpoint    string  // OTEL_EXPORTER_OTLP_ENDPOINT (e.g. "otel:4317")
	Insecure    bool    // OTEL_EXPORTER_OTLP_INSECURE (true if no TLS)
	ServiceName string  // OTEL_SERVICE_NAME (e.g. "go-alerts-backend")
	SampleRatio float64 // OTEL_TRACES_SAMPLER_ARG in [0..1]
}

// AuthConfig holds bearer-token settings for the public API and the
// shared secret used by the external scheduler.
type AuthConfig struct {
	JWTSecret      string // JWT_SECRET; empty disables token verification
	SchedulerToken string // SCHEDULER_TOKEN; empty disables the evaluate endpoint
}

// AlertConfig tunes the evaluation engine.
type AlertConfig struct {
	BatchLimit           int           // ALERT_BATCH_LIMIT
	RuleTimeout          time.Duration // ALERT_RULE_TIMEOUT
	ChannelTimeout       time.Duration // ALERT_CHANNEL_TIMEOUT
	ChannelCooldown      time.Duration // ALERT_CHANNEL_COOLDOWN
	LeaseTTL             time.Duration // ALERT_LEASE_TTL
	DefaultWindowMinutes int           // ALERT_DEFAULT_WINDOW_MINUTES
	EvalInterval         time.Duration // ALERT_EVAL_INTERVAL; 0 disables the in-process scheduler
	PlanCacheSize        int           // ALERT_PLAN_CACHE_SIZE
	PolicyFile           string        // ALERT_POLICY_FILE (optional YAML)
	ChannelRPS           float64       // ALERT_CHANNEL_RPS per channel type
	ChannelBurst         int           // ALERT_CHANNEL_BURST
}

// TransportConfig carries credentials and endpoints for notification channels.
type TransportConfig struct {
	SMTPHost           string
	SMTPPort           int
	SMTPUsername       string
	SMTPPassword       string
	SMTPFrom           string
	TelegramBotToken   string
	TelegramAPIBase    string
	PagerDutyEventsURL string
	SlackUsername      string
}

// Config holds all configuration values for the application.
type Config struct {
	// Server
	Port              string        // just the number
	ReadTimeout       time.Duration // e.g. 15s
	ReadHeaderTimeout time.Duration // e.g. 10s
	WriteTimeout      time.Duration // e.g. 20s
	IdleTimeout       time.Duration // e.g. 60s
	MaxHeaderBytes    int           // bytes
	MaxBodyBytes      int64         // request body cap
	GinMode           string        // debug|release|test

	// Logging / Docs
	LogLevel       string // debug|info|warn|error|fatal|panic
	LogPretty      bool   // pretty console logs in dev
	SwaggerEnabled bool   // enable Swagger UI route
	APIBasePath    string // base path for API routes

	// Storage
	DBDriver    string // sqlite|postgres
	DBPath      string // SQLite path
	DatabaseURL string // Postgres DSN

	// Rate limiting
	RateRPS   float64 // tokens per second (>= 0)
	RateBurst int     // bucket size (>= 1)

	// Web protection
	CORS     CORSConfig
	Security SecurityConfig
	Auth     AuthConfig

	// Idempotency
	IdempotencyTTL time.Duration // how long a given Idempotency-Key is valid

	// Alerting
	Alerts     AlertConfig
	Transports TransportConfig

	// Observability
	OTEL OTELConfig
}

// MustLoad loads the configuration and panics if validation fails.
func MustLoad() Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// Load reads configuration from environment variables,
// applies defaults, normalizes values, and validates the result.
func Load() (Config, error) {
	cfg := Config{
		Port:              getenv("PORT", "8080"),
		ReadTimeout:       getdur("READ_TIMEOUT", 15*time.Second),
		ReadHeaderTimeout: getdur("READ_HEADER_TIMEOUT", 10*time.Second),
		WriteTimeout:      getdur("WRITE_TIMEOUT", 20*time.Second),
		IdleTimeout:       getdur("IDLE_TIMEOUT", 60*time.Second),
		MaxHeaderBytes:    getint("MAX_HEADER_BYTES", 1<<20),
		MaxBodyBytes:      int64(getint("MAX_BODY_BYTES", 1<<20)),
		GinMode:           strings.ToLower(getenv("GIN_MODE", "release")),

		LogLevel:       strings.ToLower(getenv("LOG_LEVEL", "info")),
		LogPretty:      getbool("LOG_PRETTY", false),
		SwaggerEnabled: getbool("SWAGGER_ENABLED", false),
		APIBasePath:    normalizeBasePath(getenv("API_BASE_PATH", "/api/v1")),

		DBDriver:    strings.ToLower(getenv("DB_DRIVER", "sqlite")),
		DBPath:      getenv("DB_PATH", "alerts.db"),
		DatabaseURL: getenv("DATABASE_URL", ""),

		RateRPS:   getfloat("RATE_RPS", 5.0),
		RateBurst: getint("RATE_BURST", 10),

		CORS: CORSConfig{
			AllowedOrigins: splitCSV(getenv("CORS_ALLOWED_ORIGINS", "")),
		},
		Security: SecurityConfig{
			EnableHSTS: getbool("ENABLE_HSTS", false),
			HSTSMaxAge: getdur("HSTS_MAX_AGE", 180*24*time.Hour),
		},
		Auth: AuthConfig{
			JWTSecret:      getenv("JWT_SECRET", ""),
			SchedulerToken: getenv("SCHEDULER_TOKEN", ""),
		},

		IdempotencyTTL: getdur("IDEMPOTENCY_TTL", 24*time.Hour),

		Alerts: AlertConfig{
			BatchLimit:           getint("ALERT_BATCH_LIMIT", 200),
			RuleTimeout:          getdur("ALERT_RULE_TIMEOUT", 30*time.Second),
			ChannelTimeout:       getdur("ALERT_CHANNEL_TIMEOUT", 10*time.Second),
			ChannelCooldown:      getdur("ALERT_CHANNEL_COOLDOWN", 30*time.Minute),
			LeaseTTL:             getdur("ALERT_LEASE_TTL", 2*time.Minute),
			DefaultWindowMinutes: getint("ALERT_DEFAULT_WINDOW_MINUTES", 60),
			EvalInterval:         getdur("ALERT_EVAL_INTERVAL", 0),
			PlanCacheSize:        getint("ALERT_PLAN_CACHE_SIZE", 512),
			PolicyFile:           getenv("ALERT_POLICY_FILE", ""),
			ChannelRPS:           getfloat("ALERT_CHANNEL_RPS", 10),
			ChannelBurst:         getint("ALERT_CHANNEL_BURST", 20),
		},
		Transports: TransportConfig{
			SMTPHost:           getenv("SMTP_HOST", ""),
			SMTPPort:           getint("SMTP_PORT", 587),
			SMTPUsername:       getenv("SMTP_USERNAME", ""),
			SMTPPassword:       getenv("SMTP_PASSWORD", ""),
			SMTPFrom:           getenv("SMTP_FROM", ""),
			TelegramBotToken:   getenv("TELEGRAM_BOT_TOKEN", ""),
			TelegramAPIBase:    getenv("TELEGRAM_API_BASE", "https://api.telegram.org"),
			PagerDutyEventsURL: getenv("PAGERDUTY_EVENTS_URL", "https://events.pagerduty.com/v2/enqueue"),
			SlackUsername:      getenv("SLACK_USERNAME", "Research Alerts"),
		},

		OTEL: OTELConfig{
			Enabled:     getbool("OTEL_ENABLED", false),
			Endpoint:    getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			Insecure:    getbool("OTEL_EXPORTER_OTLP_INSECURE", true),
			ServiceName: getenv("OTEL_SERVICE_NAME", "go-alerts-backend"),
			SampleRatio: getfloat("OTEL_TRACES_SAMPLER_ARG", 1.0),
		},
	}

	// --- normalization ---
	if cfg.LogLevel == "warning" {
		cfg.LogLevel = "warn"
	}
	switch cfg.GinMode {
	case "debug", "release", "test":
	default:
		cfg.GinMode = "release"
	}
	if cfg.DBDriver == "postgresql" || cfg.DBDriver == "pg" {
		cfg.DBDriver = "postgres"
	}

	// --- validation ---
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error", "fatal", "panic":
	default:
		return cfg, errors.New("LOG_LEVEL must be one of: debug, info, warn, error, fatal, panic")
	}
	if strings.TrimSpace(cfg.Port) == "" {
		return cfg, errors.New("PORT must not be empty")
	}
	if cfg.ReadTimeout <= 0 || cfg.ReadHeaderTimeout <= 0 || cfg.WriteTimeout <= 0 || cfg.IdleTimeout <= 0 {
		return cfg, errors.New("timeouts must be positive durations")
	}
	if cfg.MaxHeaderBytes <= 0 {
		return cfg, errors.New("MAX_HEADER_BYTES must be > 0")
	}
	if cfg.MaxBodyBytes <= 0 {
		return cfg, errors.New("MAX_BODY_BYTES must be > 0")
	}
	switch cfg.DBDriver {
	case "sqlite":
		if strings.TrimSpace(cfg.DBPath) == "" {
			return cfg, errors.New("DB_PATH must not be empty")
		}
	case "postgres":
		if strings.TrimSpace(cfg.DatabaseURL) == "" {
			return cfg, errors.New("DATABASE_URL is required when DB_DRIVER=postgres")
		}
	default:
		return cfg, errors.New("DB_DRIVER must be one of: sqlite, postgres")
	}
	if cfg.RateRPS < 0 {
		return cfg, errors.New("RATE_RPS must be >= 0")
	}
	if cfg.RateBurst < 1 {
		return cfg, errors.New("RATE_BURST must be >= 1")
	}
	if cfg.Security.HSTSMaxAge < 0 {
		return cfg, errors.New("HSTS_MAX_AGE must be >= 0")
	}
	if cfg.IdempotencyTTL <= 0 {
		return cfg, errors.New("IDEMPOTENCY_TTL must be > 0")
	}
	if cfg.Alerts.BatchLimit < 1 {
		return cfg, errors.New("ALERT_BATCH_LIMIT must be >= 1")
	}
	if cfg.Alerts.RuleTimeout <= 0 || cfg.Alerts.ChannelTimeout <= 0 {
		return cfg, errors.New("ALERT_RULE_TIMEOUT and ALERT_CHANNEL_TIMEOUT must be positive")
	}
	if cfg.Alerts.ChannelCooldown < 0 {
		return cfg, errors.New("ALERT_CHANNEL_COOLDOWN must be >= 0")
	}
	if cfg.Alerts.LeaseTTL < cfg.Alerts.RuleTimeout {
		return cfg, errors.New("ALERT_LEASE_TTL must be >= ALERT_RULE_TIMEOUT")
	}
	if cfg.Alerts.DefaultWindowMinutes < 1 {
		return cfg, errors.New("ALERT_DEFAULT_WINDOW_MINUTES must be >= 1")
	}
	if cfg.Alerts.EvalInterval < 0 {
		return cfg, errors.New("ALERT_EVAL_INTERVAL must be >= 0")
	}
	if cfg.Alerts.PlanCacheSize < 1 {
		return cfg, errors.New("ALERT_PLAN_CACHE_SIZE must be >= 1")
	}
	if cfg.Alerts.ChannelRPS <= 0 || cfg.Alerts.ChannelBurst < 1 {
		return cfg, errors.New("ALERT_CHANNEL_RPS must be > 0 and ALERT_CHANNEL_BURST >= 1")
	}
	if cfg.OTEL.SampleRatio < 0 || cfg.OTEL.SampleRatio > 1 {
		return cfg, errors.New("OTEL_TRACES_SAMPLER_ARG must be in [0,1]")
	}

	return cfg, nil
}

// ---- helpers (no external deps) ----

func getenv(k, def string) string {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		return v
	}
	return def
}

func getfloat(k string, def float64) float64 {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getint(k string, def int) int {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getbool(k string, def bool) bool {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "true", "yes", "y", "on":
			return true
		case "0", "false", "no", "n", "off":
			return false
		}
	}
	return def
}

func getdur(k string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		t := strings.TrimSpace(p)
		if t != "" {
			out = append(out, t)
		}
	}
	return out
}

// normalizeBasePath ensures leading '/' and strips trailing '/' (except root).
func normalizeBasePath(p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	if len(p) > 1 && strings.HasSuffix(p, "/") {
		p = strings.TrimRight(p, "/")
	}
	return p
}
