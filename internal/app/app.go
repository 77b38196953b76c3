// Package app assembles the services shared by the API server and the
// evaluator binary from a loaded configuration.
package app

import (
	"context"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
	"golang.org/x/text/language"
	"gorm.io/gorm"

	"github.com/tbourn/go-alerts-backend/internal/alerting/channels"
	"github.com/tbourn/go-alerts-backend/internal/alerting/compiler"
	"github.com/tbourn/go-alerts-backend/internal/config"
	"github.com/tbourn/go-alerts-backend/internal/delivery"
	"github.com/tbourn/go-alerts-backend/internal/metrics"
	"github.com/tbourn/go-alerts-backend/internal/repo"
	"github.com/tbourn/go-alerts-backend/internal/services"
)

// App holds the wired services.
type App struct {
	DB       *gorm.DB
	Rules    *services.AlertRuleService
	Engine   *services.AlertEngine
	Delivery *delivery.Router
}

// New opens the database, migrates it and builds the rule service and the
// evaluation engine. workerID names this process in rule leases. Collectors
// are registered on reg.
func New(cfg config.Config, reg prometheus.Registerer, workerID string) (*App, error) {
	dsn := cfg.DBPath
	if cfg.DBDriver == "postgres" {
		dsn = cfg.DatabaseURL
	}
	db, err := repo.Open(cfg.DBDriver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if cfg.OTEL.Enabled {
		if err := repo.Instrument(db); err != nil {
			return nil, fmt.Errorf("instrument db: %w", err)
		}
	}
	if err := repo.AutoMigrate(db); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}

	policy, err := channels.LoadPolicy(cfg.Alerts.PolicyFile)
	if err != nil {
		return nil, err
	}
	plans, err := compiler.NewCache(cfg.Alerts.PlanCacheSize)
	if err != nil {
		return nil, fmt.Errorf("plan cache: %w", err)
	}
	prom, err := metrics.NewProm(reg)
	if err != nil {
		return nil, fmt.Errorf("metrics: %w", err)
	}

	router := NewDeliveryRouter(cfg)
	registry := channels.DefaultRegistry()
	audit := &services.AuditLog{DB: db}

	a := &App{
		DB:       db,
		Delivery: router,
		Rules: &services.AlertRuleService{
			DB:                   db,
			Policy:               policy,
			Registry:             registry,
			Plans:                plans,
			Quota:                &services.QuotaLedger{DB: db, Policy: policy},
			Audit:                audit,
			DefaultWindowMinutes: cfg.Alerts.DefaultWindowMinutes,
		},
		Engine: &services.AlertEngine{
			DB:              db,
			Dispatcher:      router,
			Registry:        registry,
			Plans:           plans,
			Audit:           audit,
			Metrics:         prom,
			BatchLimit:      cfg.Alerts.BatchLimit,
			RuleTimeout:     cfg.Alerts.RuleTimeout,
			LeaseTTL:        cfg.Alerts.LeaseTTL,
			ChannelCooldown: cfg.Alerts.ChannelCooldown,
			WorkerID:        workerID,
			TitleLocale:     language.English,
		},
	}
	log.Info().
		Str("db_driver", cfg.DBDriver).
		Strs("transports", router.Types()).
		Str("worker_id", workerID).
		Msg("alert services ready")
	return a, nil
}

// NewDeliveryRouter registers one transport per channel type. Transports
// whose credentials are missing are still registered; their sends fail and
// are recorded as failed deliveries.
func NewDeliveryRouter(cfg config.Config) *delivery.Router {
	client := &http.Client{Timeout: cfg.Alerts.ChannelTimeout}
	t := cfg.Transports

	r := delivery.NewRouter(delivery.RouterOptions{
		Timeout: cfg.Alerts.ChannelTimeout,
		RPS:     cfg.Alerts.ChannelRPS,
		Burst:   cfg.Alerts.ChannelBurst,
	})
	r.Register("email", delivery.NewEmailTransport(t.SMTPHost, t.SMTPPort, t.SMTPUsername, t.SMTPPassword, t.SMTPFrom))
	r.Register("slack", delivery.NewSlackTransport(t.SlackUsername))
	r.Register("webhook", delivery.NewWebhookTransport(client))
	r.Register("telegram", delivery.NewTelegramTransport(t.TelegramBotToken, t.TelegramAPIBase, client))
	r.Register("pagerduty", delivery.NewPagerDutyTransport(t.PagerDutyEventsURL, client))
	return r
}

// Close releases the database pool.
func (a *App) Close(context.Context) error {
	sqlDB, err := a.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
