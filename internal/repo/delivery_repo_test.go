package repo

import (
	"context"
	"testing"
	"time"

	"github.com/tbourn/go-alerts-backend/internal/domain"
)

func TestDeliveries_InsertListAndDailyCount(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	midnight := mustTime(t, "2025-06-01T00:00:00Z")

	rows := []domain.AlertDelivery{
		// yesterday: never counted
		{RuleID: "r1", Channel: "email", Status: domain.DeliveryDelivered, TriggerSignature: "s0", CreatedAt: midnight.Add(-time.Minute)},
		// trigger s1 fanned out to two channels: counts once
		{RuleID: "r1", Channel: "email", Status: domain.DeliveryDelivered, TriggerSignature: "s1", CreatedAt: midnight.Add(time.Hour)},
		{RuleID: "r1", Channel: "slack", Status: domain.DeliveryFailed, TriggerSignature: "s1", CreatedAt: midnight.Add(time.Hour)},
		// trigger s2 failed everywhere: still counts
		{RuleID: "r1", Channel: "slack", Status: domain.DeliveryFailed, TriggerSignature: "s2", CreatedAt: midnight.Add(2 * time.Hour)},
		// s1 fires again in a later pass: a second trigger
		{RuleID: "r1", Channel: "email", Status: domain.DeliveryDelivered, TriggerSignature: "s1", CreatedAt: midnight.Add(150 * time.Minute)},
		// throttled only: never reached a transport
		{RuleID: "r1", Channel: "slack", Status: domain.DeliveryThrottled, TriggerSignature: "s3", CreatedAt: midnight.Add(3 * time.Hour)},
		// another rule
		{RuleID: "r2", Channel: "email", Status: domain.DeliveryDelivered, TriggerSignature: "s9", CreatedAt: midnight.Add(time.Hour)},
	}
	for i := range rows {
		if err := InsertDelivery(ctx, db, &rows[i]); err != nil {
			t.Fatalf("InsertDelivery: %v", err)
		}
		if rows[i].ID == "" {
			t.Fatalf("InsertDelivery should assign an id")
		}
	}

	n, err := CountDeliveredSince(ctx, db, "r1", midnight)
	if err != nil {
		t.Fatalf("CountDeliveredSince: %v", err)
	}
	if n != 3 {
		t.Fatalf("count = %d; want 3", n)
	}

	list, err := ListDeliveries(ctx, db, "r1", 3)
	if err != nil {
		t.Fatalf("ListDeliveries: %v", err)
	}
	if len(list) != 3 || list[0].Status != domain.DeliveryThrottled {
		t.Fatalf("expected newest first, got %+v", list)
	}

	count, newest, err := DeliveryStats(ctx, db, "r1")
	if err != nil || count != 6 || newest == nil || !newest.Equal(midnight.Add(3*time.Hour)) {
		t.Fatalf("DeliveryStats = %d, %v, %v", count, newest, err)
	}
	if count, newest, err := DeliveryStats(ctx, db, "none"); err != nil || count != 0 || newest != nil {
		t.Fatalf("empty DeliveryStats = %d, %v, %v", count, newest, err)
	}
}
