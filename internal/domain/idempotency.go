package domain

import "time"

// Idempotency is the recorded result of a request processed under an
// Idempotency-Key, unique per (scope, key). A retry with the same key replays
// Status and Data instead of running the operation again.
type Idempotency struct {
	ID    string `gorm:"type:TEXT NOT NULL;primaryKey"`
	Scope string `gorm:"type:TEXT NOT NULL;uniqueIndex:ux_scope_key,priority:1"`
	Key   string `gorm:"type:TEXT NOT NULL;uniqueIndex:ux_scope_key,priority:2"`
	// Fingerprint identifies the payload the key was first used with.
	Fingerprint string    `gorm:"type:TEXT NOT NULL;default:''"`
	Status      int       `gorm:"type:INTEGER NOT NULL"`
	Data        string    `gorm:"type:TEXT NOT NULL"`
	CreatedAt   time.Time `gorm:"type:DATETIME NOT NULL;autoCreateTime"`
	ExpiresAt   time.Time `gorm:"type:DATETIME NOT NULL;index"`
}

// TableName implements the GORM tabler interface.
func (Idempotency) TableName() string { return "idempotency" }
