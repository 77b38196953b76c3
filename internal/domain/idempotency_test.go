package domain

import (
	"fmt"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:domain_%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	return db
}

func TestIdempotency_Migration_UniqueKey(t *testing.T) {
	db := newTestDB(t)
	if err := db.AutoMigrate(&Idempotency{}); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	if !db.Migrator().HasIndex(&Idempotency{}, "ux_idem_user_scope_key") {
		t.Fatalf("expected composite index ux_idem_user_scope_key")
	}

	now := time.Now().UTC()
	rec := &Idempotency{
		ID: uuid.NewString(), UserID: "u1", Scope: "alerts.create", Key: "k1",
		ResourceID: uuid.NewString(), Status: 201, ExpiresAt: now.Add(time.Hour),
	}
	if err := db.Create(rec).Error; err != nil {
		t.Fatalf("insert: %v", err)
	}

	var got Idempotency
	if err := db.First(&got, "id = ?", rec.ID).Error; err != nil {
		t.Fatalf("readback: %v", err)
	}
	if got.Scope != "alerts.create" || got.ResourceID != rec.ResourceID || got.CreatedAt.IsZero() {
		t.Fatalf("unexpected row: %+v", got)
	}

	dup := *rec
	dup.ID = uuid.NewString()
	if err := db.Create(&dup).Error; err == nil {
		t.Fatalf("expected unique violation on (user_id, scope, key)")
	}

	other := *rec
	other.ID = uuid.NewString()
	other.Scope = "alerts.other"
	if err := db.Create(&other).Error; err != nil {
		t.Fatalf("same key under another scope should insert: %v", err)
	}
}
