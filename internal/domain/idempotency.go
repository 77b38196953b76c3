package domain

import "time"

// Idempotency maps a client-supplied Idempotency-Key to the resource it
// created, keyed by (user_id, scope, key). Replaying a create with the same
// key returns the original resource instead of creating another one.
type Idempotency struct {
	ID         string    `gorm:"type:char(36);primaryKey"`
	UserID     string    `gorm:"type:varchar(64);not null;uniqueIndex:ux_idem_user_scope_key,priority:1"`
	Scope      string    `gorm:"type:varchar(64);not null;uniqueIndex:ux_idem_user_scope_key,priority:2"`
	Key        string    `gorm:"type:varchar(128);not null;uniqueIndex:ux_idem_user_scope_key,priority:3"`
	ResourceID string    `gorm:"type:char(36);not null"`
	Status     int       `gorm:"not null"`
	CreatedAt  time.Time `gorm:"autoCreateTime"`
	ExpiresAt  time.Time `gorm:"not null;index"`
}

// TableName implements the GORM tabler interface.
func (Idempotency) TableName() string { return "idempotency" }
