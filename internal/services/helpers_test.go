package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/go-alerts-backend/internal/alerting/channels"
	"github.com/tbourn/go-alerts-backend/internal/alerting/compiler"
	"github.com/tbourn/go-alerts-backend/internal/delivery"
	"github.com/tbourn/go-alerts-backend/internal/domain"
	"github.com/tbourn/go-alerts-backend/internal/repo"
)

// ---------- test helpers ----------

func newSvcDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:svc_%s?mode=memory&cache=shared", uuid.NewString())

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

// clock is a settable time source.
type clock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock(rfc3339 string) *clock {
	t, err := time.Parse(time.RFC3339, rfc3339)
	if err != nil {
		panic(err)
	}
	return &clock{now: t.UTC()}
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// fakeDispatcher records requests and fails or panics per channel type.
type fakeDispatcher struct {
	mu       sync.Mutex
	requests []delivery.Request
	fail     map[string]string
	panicOn  string
}

func (d *fakeDispatcher) Dispatch(_ context.Context, req delivery.Request) (delivery.Result, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.panicOn != "" && req.Context["rule_name"] == d.panicOn {
		panic("dispatcher exploded")
	}
	d.requests = append(d.requests, req)
	if msg, ok := d.fail[req.ChannelType]; ok {
		return delivery.Result{Status: delivery.StatusFailed, Failed: 1, Error: msg}, nil
	}
	return delivery.Result{Status: delivery.StatusDelivered, Delivered: max(len(req.Targets), 1)}, nil
}

func (d *fakeDispatcher) count(channelType string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, r := range d.requests {
		if channelType == "" || r.ChannelType == channelType {
			n++
		}
	}
	return n
}

type fixture struct {
	db     *gorm.DB
	clock  *clock
	disp   *fakeDispatcher
	rules  *AlertRuleService
	engine *AlertEngine
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := newSvcDB(t)
	clk := newClock("2025-06-01T12:00:00Z")
	plans, err := compiler.NewCache(64)
	if err != nil {
		t.Fatalf("NewCache: %v", err)
	}
	audit := &AuditLog{DB: db}
	policy := channels.DefaultPolicy()
	disp := &fakeDispatcher{fail: map[string]string{}}
	return &fixture{
		db:    db,
		clock: clk,
		disp:  disp,
		rules: &AlertRuleService{
			DB:                   db,
			Policy:               policy,
			Registry:             channels.DefaultRegistry(),
			Plans:                plans,
			Quota:                &QuotaLedger{DB: db, Policy: policy, Now: clk.Now},
			Audit:                audit,
			DefaultWindowMinutes: 60,
			Now:                  clk.Now,
		},
		engine: &AlertEngine{
			DB:              db,
			Dispatcher:      disp,
			Registry:        channels.DefaultRegistry(),
			Plans:           plans,
			Audit:           audit,
			BatchLimit:      50,
			RuleTimeout:     5 * time.Second,
			LeaseTTL:        time.Minute,
			ChannelCooldown: 30 * time.Minute,
			WorkerID:        "worker-a",
			Now:             clk.Now,
		},
	}
}

func (f *fixture) addNews(t *testing.T, id, ticker, headline string, sentiment float64, age time.Duration) {
	t.Helper()
	n := &domain.NewsArticle{
		ID:          id,
		Ticker:      ticker,
		Headline:    headline,
		Sector:      "Technology",
		Sentiment:   &sentiment,
		URL:         "https://news.example.com/" + id,
		PublishedAt: f.clock.Now().Add(-age),
	}
	if err := repo.InsertNews(context.Background(), f.db, n); err != nil {
		t.Fatalf("InsertNews: %v", err)
	}
}

func (f *fixture) reload(t *testing.T, id string) *domain.AlertRule {
	t.Helper()
	r, err := repo.GetRule(context.Background(), f.db, id)
	if err != nil {
		t.Fatalf("GetRule: %v", err)
	}
	return r
}

func (f *fixture) run(t *testing.T) *EvaluationReport {
	t.Helper()
	rep, err := f.engine.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	return rep
}

func outcomeOf(rep *EvaluationReport, ruleID string) string {
	for _, r := range rep.Rules {
		if r.RuleID == ruleID {
			return r.Outcome
		}
	}
	return ""
}

func webhookChannel(url string) domain.ChannelConfig {
	return domain.ChannelConfig{Type: "webhook", Target: url}
}

func strp(s string) *string { return &s }
func intp(v int) *int       { return &v }

func isRuleErr(err error, code string) bool {
	var re *RuleError
	return errors.As(err, &re) && re.Code == code
}

func failOnTable(t *testing.T, db *gorm.DB, name, table string) {
	t.Helper()
	if err := db.Callback().Query().Before("gorm:query").Register(name, func(tx *gorm.DB) {
		if tx.Statement != nil && strings.Contains(tx.Statement.Table, table) {
			tx.AddError(errors.New("forced-query-error"))
		}
	}); err != nil {
		t.Fatalf("register query callback: %v", err)
	}
}
