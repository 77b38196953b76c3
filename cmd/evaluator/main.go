// Command evaluator runs a single alert evaluation pass and exits. It is
// meant for cron or a Kubernetes CronJob; the exit status is non-zero when
// the pass could not run.
package main

import (
	"context"
	"encoding/json"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"

	"github.com/tbourn/go-alerts-backend/internal/app"
	"github.com/tbourn/go-alerts-backend/internal/config"
	"github.com/tbourn/go-alerts-backend/internal/observability"
	"github.com/tbourn/go-alerts-backend/internal/sysutil"
)

var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Error().Err(err).Msg("config")
		return 2
	}
	sysutil.ConfigureLogger(cfg.LogLevel, cfg.LogPretty)
	workerID := sysutil.WorkerID(os.Getenv("WORKER_ID"))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownOTel, err := observability.SetupOTel(ctx, cfg.OTEL, observability.Build{
		Version: version, Component: "evaluator", InstanceID: workerID,
	})
	if err != nil {
		log.Error().Err(err).Msg("otel")
		return 2
	}
	defer func() { _ = shutdownOTel(context.Background()) }()

	a, err := app.New(cfg, prometheus.NewRegistry(), workerID)
	if err != nil {
		log.Error().Err(err).Msg("init")
		return 2
	}
	defer func() { _ = a.Close(context.Background()) }()

	rep, err := a.Engine.RunOnce(ctx)
	if err != nil {
		log.Error().Err(err).Msg("evaluation pass failed")
		return 1
	}
	if sysutil.IsTruthy(os.Getenv("EVALUATOR_PRINT_REPORT")) {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(rep)
	}
	return 0
}
