package domain

import "time"

// Outbox task lifecycle. "sent" and "failed" are terminal; a task never
// leaves a terminal status.
const (
	TaskStatusPending = "pending"
	TaskStatusSent    = "sent"
	TaskStatusFailed  = "failed"
)

// OutboundTask is one reply awaiting delivery to the messaging provider.
// Tasks are created pending by the dispatcher and drained by the outbox
// delivery loop; Attempts only increases, and a task reaches "failed"
// only after the retry budget is exhausted or the provider rejects the
// payload permanently.
//
// Per-chat ordering: the delivery loop only ever picks the oldest pending
// task of each chat (see repo.ClaimDueTasks), so a later reply cannot be
// sent while an earlier one for the same chat is still pending.
//
// Fields:
//   - NextAttemptAt: earliest time the next delivery attempt may run;
//     advanced by exponential backoff on transient failures.
//   - CauseEventID: provider event that triggered this reply; nil for
//     replies not caused by an inbound event (e.g. operator notices).
type OutboundTask struct {
	ID            string     `gorm:"type:char(36);primaryKey"`
	ChatID        int64      `gorm:"not null;index:idx_tasks_chat"`
	Text          string     `gorm:"type:text;not null"`
	Markup        string     `gorm:"type:text"` // optional reply markup, JSON
	Status        string     `gorm:"type:varchar(16);not null;index:idx_tasks_status"`
	Attempts      int        `gorm:"not null;default:0"`
	NextAttemptAt time.Time  `gorm:"not null;index"`
	LastAttemptAt *time.Time `gorm:""`
	LastError     string     `gorm:"type:text"`
	CauseEventID  *int64     `gorm:""`
	CreatedAt     time.Time  `gorm:"not null;index:idx_tasks_chat,priority:2"`
}

// TableName implements the GORM tabler interface.
func (OutboundTask) TableName() string { return "outbound_tasks" }
