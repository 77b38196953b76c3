package domain

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

func TestTableNames(t *testing.T) {
	cases := map[string]string{
		AlertRule{}.TableName():     "alert_rules",
		AlertDelivery{}.TableName(): "alert_deliveries",
		Filing{}.TableName():        "filings",
		NewsArticle{}.TableName():   "news_articles",
		AuditEvent{}.TableName():    "audit_events",
		QuotaUsage{}.TableName():    "quota_usage",
		Idempotency{}.TableName():   "idempotency",
	}
	for got, want := range cases {
		if got != want {
			t.Fatalf("TableName() = %q; want %q", got, want)
		}
	}
}

func TestAlertRule_JSONColumnsPersist(t *testing.T) {
	db := newTestDB(t)
	if err := db.AutoMigrate(&AlertRule{}, &AlertDelivery{}); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	for _, idx := range []string{"idx_alert_rules_owner", "idx_alert_rules_status_updated"} {
		if !db.Migrator().HasIndex(&AlertRule{}, idx) {
			t.Fatalf("expected index %s", idx)
		}
	}

	floor := 0.2
	retry := time.Now().UTC().Add(30 * time.Minute).Truncate(time.Second)
	rule := &AlertRule{
		ID:       uuid.NewString(),
		UserID:   "u1",
		PlanTier: PlanPro,
		Name:     "Samsung buybacks",
		Trigger:  datatypes.JSONMap{"dsl": "news ticker:005930"},

		TriggerType: SourceNews,
		Filters:     datatypes.NewJSONType(FilterSet{Tickers: []string{"005930"}, MinSentiment: &floor}),

		EvaluationIntervalMinutes: 15,
		WindowMinutes:             120,
		CooldownMinutes:           30,

		Channels: datatypes.NewJSONType([]ChannelConfig{{Type: "email", Targets: []string{"a@b.co"}}}),
		Status:   RuleStatusActive,
		Snapshot: datatypes.NewJSONType[*EvaluationSnapshot](nil),
		ChannelFailures: datatypes.NewJSONType(map[string]ChannelFailure{
			"slack": {Status: DeliveryFailed, Error: "boom", RetryAfter: &retry, CooldownMinutes: 30},
		}),
	}
	if err := db.Create(rule).Error; err != nil {
		t.Fatalf("create: %v", err)
	}

	var got AlertRule
	if err := db.First(&got, "id = ?", rule.ID).Error; err != nil {
		t.Fatalf("readback: %v", err)
	}
	f := got.Filters.Data()
	if len(f.Tickers) != 1 || f.Tickers[0] != "005930" || f.MinSentiment == nil || *f.MinSentiment != 0.2 {
		t.Fatalf("filters not persisted: %+v", f)
	}
	if ch := got.ChannelList(); len(ch) != 1 || ch[0].Type != "email" {
		t.Fatalf("channels not persisted: %+v", ch)
	}
	if got.LastSnapshot() != nil {
		t.Fatalf("expected nil snapshot, got %+v", got.LastSnapshot())
	}
	fm := got.FailureMap()
	if fm["slack"].RetryAfter == nil || !fm["slack"].RetryAfter.Equal(retry) {
		t.Fatalf("failure map not persisted: %+v", fm)
	}
	if got.Trigger["dsl"] != "news ticker:005930" {
		t.Fatalf("trigger not persisted: %+v", got.Trigger)
	}
}

func TestEvaluationSnapshot_SameNotification(t *testing.T) {
	a := &EvaluationSnapshot{PlanSignature: "p", EventHash: "e", EventCount: 1}
	b := &EvaluationSnapshot{PlanSignature: "p", EventHash: "e", EventCount: 1, DuplicateBlocked: true}
	if !a.SameNotification(b) {
		t.Fatalf("equal signature and hash must match")
	}
	b.EventHash = "f"
	if a.SameNotification(b) {
		t.Fatalf("different event hash must not match")
	}
	if a.SameNotification(nil) || (*EvaluationSnapshot)(nil).SameNotification(a) {
		t.Fatalf("nil snapshots never match")
	}
}

func TestAlertRule_OwnerIDAndFailureMapCopy(t *testing.T) {
	r := &AlertRule{OrgID: "org-1"}
	if r.OwnerID() != "org-1" {
		t.Fatalf("OwnerID should fall back to org")
	}
	r.UserID = "u1"
	if r.OwnerID() != "u1" {
		t.Fatalf("OwnerID should prefer user")
	}
	m := r.FailureMap()
	m["x"] = ChannelFailure{}
	if len(r.FailureMap()) != 0 {
		t.Fatalf("FailureMap must return a copy")
	}
}
