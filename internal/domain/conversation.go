package domain

import "time"

// ConversationState holds the finite-state-machine record for one user.
// Exactly one live row exists per user (unique index on UserID).
//
// Concurrency: writers must go through repo.SaveConversationState, which
// performs a version-checked conditional update. Version increments on
// every successful save; a stale writer observes zero affected rows and
// must reload. This is the cross-process serialization mechanism; the
// in-process per-user lock in services is only a fast path.
//
// ContextSummary and RecentMessages are stored as JSON text. The bounded
// window discipline (FIFO eviction at the configured cap) is enforced by
// fsm.Window before the row is written, never by the storage layer.
type ConversationState struct {
	ID             string    `gorm:"type:char(36);primaryKey"`
	UserID         int64     `gorm:"not null;uniqueIndex:ux_conversation_user"`
	ChatID         int64     `gorm:"not null"`
	Mode           string    `gorm:"type:varchar(32);not null;default:'idle'"`
	Step           string    `gorm:"type:varchar(64)"`
	ContextSummary string    `gorm:"type:text;not null;default:'{}'"`
	RecentMessages string    `gorm:"type:text;not null;default:'[]'"`
	Version        int64     `gorm:"not null;default:0"`
	UpdatedAt      time.Time `gorm:"not null"`
}

// TableName implements the GORM tabler interface.
func (ConversationState) TableName() string { return "conversation_state" }
