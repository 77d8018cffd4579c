// Package domain defines the core persistence models for the worker.
// These types are used by GORM for database schema mapping and are shared
// across the repository and service layers.
package domain

import "time"

// Processing outcomes recorded in the ProcessedEvent ledger.
const (
	EventStatusReceived   = "received"
	EventStatusProcessing = "processing"
	EventStatusCompleted  = "completed"
	EventStatusFailed     = "failed"
)

// ProcessedEvent is the idempotency ledger: one row per provider event
// identifier. The primary key on EventID is the load-bearing invariant:
// a second insert for the same identifier fails at the storage layer,
// which is what prevents two workers from processing the same event.
//
// Status moves monotonically: received → processing → completed|failed.
// A row stuck in "processing" past the staleness threshold is eligible
// for exactly one ownership reassignment (see repo.ClaimEvent).
type ProcessedEvent struct {
	EventID     int64      `gorm:"primaryKey;autoIncrement:false"`
	Status      string     `gorm:"type:varchar(16);not null;index"`
	WorkerID    string     `gorm:"type:varchar(64);not null"`
	CreatedAt   time.Time  `gorm:"not null"`
	CompletedAt *time.Time `gorm:""`
}

// TableName implements the GORM tabler interface.
func (ProcessedEvent) TableName() string { return "processed_events" }

// InboundAudit is the append-only record of every event the provider
// delivered, written before any dedup decision and never mutated by the
// worker. Duplicates are expected here; the table exists for replay and
// forensics, not correctness.
type InboundAudit struct {
	ID         string    `gorm:"type:char(36);primaryKey"`
	EventID    int64     `gorm:"not null;index"`
	ChatID     int64     `gorm:"not null"`
	UserID     int64     `gorm:"not null"`
	Text       string    `gorm:"type:text"`
	Payload    string    `gorm:"type:text;not null"` // raw provider JSON, verbatim
	ReceivedAt time.Time `gorm:"not null;index"`
}

// TableName implements the GORM tabler interface.
func (InboundAudit) TableName() string { return "inbound_audit" }
