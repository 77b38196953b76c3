package app

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/tbourn/go-alerts-backend/internal/config"
	"github.com/tbourn/go-alerts-backend/internal/domain"
	"github.com/tbourn/go-alerts-backend/internal/services"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	return config.Config{
		DBDriver: "sqlite",
		DBPath:   fmt.Sprintf("file:app_%s?mode=memory&cache=shared", uuid.NewString()),
		Alerts: config.AlertConfig{
			BatchLimit:           10,
			RuleTimeout:          5 * time.Second,
			ChannelTimeout:       time.Second,
			ChannelCooldown:      time.Minute,
			LeaseTTL:             time.Minute,
			DefaultWindowMinutes: 60,
			PlanCacheSize:        8,
			ChannelRPS:           5,
			ChannelBurst:         5,
		},
		Transports: config.TransportConfig{SlackUsername: "Alerts"},
	}
}

func TestNew_WiresServices(t *testing.T) {
	a, err := New(testConfig(t), prometheus.NewRegistry(), "worker-test")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = a.Close(context.Background()) })

	if got := strings.Join(a.Delivery.Types(), ","); got != "email,pagerduty,slack,telegram,webhook" {
		t.Fatalf("transports=%s", got)
	}
	if a.Engine.WorkerID != "worker-test" || a.Engine.Dispatcher == nil {
		t.Fatalf("engine not wired: %+v", a.Engine)
	}

	owner := services.Owner{UserID: "u1", PlanTier: domain.PlanFree}
	name := "smoke"
	rule, err := a.Rules.Create(context.Background(), owner, services.RuleInput{
		Name:     &name,
		Trigger:  map[string]any{"dsl": "news keyword:chip"},
		Channels: []domain.ChannelConfig{{Type: "email", Target: "ops@example.com"}},
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	rep, err := a.Engine.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if rep.Candidates != 1 {
		t.Fatalf("candidates=%d want 1 (rule %s)", rep.Candidates, rule.ID)
	}
}

func TestNew_Errors(t *testing.T) {
	cfg := testConfig(t)
	cfg.DBDriver = "oracle"
	if _, err := New(cfg, prometheus.NewRegistry(), "w"); err == nil {
		t.Fatalf("expected unsupported driver error")
	}

	cfg = testConfig(t)
	cfg.Alerts.PolicyFile = filepath.Join(t.TempDir(), "missing.yaml")
	if _, err := New(cfg, prometheus.NewRegistry(), "w"); err == nil {
		t.Fatalf("expected policy file error")
	}

	cfg = testConfig(t)
	reg := prometheus.NewRegistry()
	a, err := New(cfg, reg, "w")
	if err != nil {
		t.Fatalf("first New: %v", err)
	}
	t.Cleanup(func() { _ = a.Close(context.Background()) })
	cfg.DBPath = fmt.Sprintf("file:app_%s?mode=memory&cache=shared", uuid.NewString())
	if _, err := New(cfg, reg, "w"); err == nil {
		t.Fatalf("expected duplicate metrics registration error")
	}
}
