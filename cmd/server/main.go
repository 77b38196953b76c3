// Command server runs the research-alerts HTTP API. When
// ALERT_EVAL_INTERVAL is set it also evaluates alert rules in-process.
//
// @title                      Research Alerts API
// @version                    1.0
// @description                Alert rule management and evaluation for research events.
// @BasePath                   /api/v1
// @securityDefinitions.apikey BearerAuth
// @in                         header
// @name                       Authorization
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"

	"github.com/tbourn/go-alerts-backend/docs"
	"github.com/tbourn/go-alerts-backend/internal/app"
	"github.com/tbourn/go-alerts-backend/internal/config"
	httpapi "github.com/tbourn/go-alerts-backend/internal/http"
	"github.com/tbourn/go-alerts-backend/internal/jobs"
	"github.com/tbourn/go-alerts-backend/internal/observability"
	"github.com/tbourn/go-alerts-backend/internal/sysutil"
)

var version = "dev"

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("config")
	}
	sysutil.ConfigureLogger(cfg.LogLevel, cfg.LogPretty)
	gin.SetMode(cfg.GinMode)
	docs.SwaggerInfo.BasePath = cfg.APIBasePath
	docs.SwaggerInfo.Version = version

	workerID := sysutil.WorkerID(os.Getenv("WORKER_ID"))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownOTel, err := observability.SetupOTel(ctx, cfg.OTEL, observability.Build{
		Version: version, Component: "server", InstanceID: workerID,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("otel")
	}

	a, err := app.New(cfg, prometheus.DefaultRegisterer, workerID)
	if err != nil {
		log.Fatal().Err(err).Msg("init")
	}

	r := gin.New()
	if err := httpapi.RegisterRoutes(r, cfg, httpapi.Deps{DB: a.DB, Rules: a.Rules, Evaluator: a.Engine}); err != nil {
		log.Fatal().Err(err).Msg("routes")
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}

	jobDone := make(chan struct{})
	go func() {
		defer close(jobDone)
		(&jobs.EvaluationJob{Eval: a.Engine, Interval: cfg.Alerts.EvalInterval}).Run(ctx)
	}()

	go func() {
		log.Info().Str("addr", srv.Addr).Str("version", version).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("http server")
			stop()
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	shCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shCtx); err != nil {
		log.Error().Err(err).Msg("http shutdown")
	}
	<-jobDone
	if err := shutdownOTel(shCtx); err != nil {
		log.Warn().Err(err).Msg("otel shutdown")
	}
	if err := a.Close(shCtx); err != nil {
		log.Warn().Err(err).Msg("db close")
	}
}
