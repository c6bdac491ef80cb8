// Package domain defines the persistence models backing the registration
// business rules. These types are mapped with GORM. None of them stores a
// registered user: they are reference data (blocklists) and request
// bookkeeping (idempotency).
package domain

import "time"

// ReservedEmail is an address (or address fragment) that can no longer be
// registered. An incoming email that contains Value, compared caselessly,
// is rejected with EMAIL_ALREADY_TAKEN.
//
// Fields:
//   - ID: UUID primary key (char(36)).
//   - Value: folded (lower-cased) email fragment; unique.
//   - CreatedAt: timestamp managed by GORM.
type ReservedEmail struct {
	ID        string    `json:"id"         gorm:"type:char(36);primaryKey"`
	Value     string    `json:"value"      gorm:"type:varchar(320);not null;uniqueIndex:ux_reserved_email_value"`
	CreatedAt time.Time `json:"created_at"`
}

// TableName returns the database table name for ReservedEmail.
func (ReservedEmail) TableName() string { return "reserved_emails" }

// WeakPassword is a term that makes a password easy to guess. A password
// containing Value, compared caselessly, is rejected with AUTH_WEAK_PASSWORD.
type WeakPassword struct {
	ID        string    `json:"id"         gorm:"type:char(36);primaryKey"`
	Value     string    `json:"value"      gorm:"type:varchar(128);not null;uniqueIndex:ux_weak_password_value"`
	CreatedAt time.Time `json:"created_at"`
}

// TableName returns the database table name for WeakPassword.
func (WeakPassword) TableName() string { return "weak_passwords" }
