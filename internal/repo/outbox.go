// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides durable outbox persistence.
//
// Status updates here are conditional on status = 'pending' so terminal
// rows stay terminal even if the delivery loop and an operator tool race.
package repo

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/go-chat-worker/internal/domain"
)

// ErrTaskTerminal indicates an update targeted a task that already
// reached sent or failed.
var ErrTaskTerminal = errors.New("task already in terminal status")

// EnqueueTask creates a pending outbound task due immediately.
// causeEventID is nil for replies not triggered by an inbound event.
func EnqueueTask(ctx context.Context, db *gorm.DB, chatID int64, text, markup string, causeEventID *int64) (*domain.OutboundTask, error) {
	now := time.Now().UTC()
	t := &domain.OutboundTask{
		ID:            uuid.NewString(),
		ChatID:        chatID,
		Text:          text,
		Markup:        markup,
		Status:        domain.TaskStatusPending,
		Attempts:      0,
		NextAttemptAt: now,
		CauseEventID:  causeEventID,
		CreatedAt:     now,
	}
	if err := db.WithContext(ctx).Create(t).Error; err != nil {
		return nil, err
	}
	return t, nil
}

// ClaimDueTasks returns up to limit pending tasks that are due at now,
// oldest first, but only the oldest pending task of each chat. Skipping
// non-head tasks is what keeps replies to one chat in creation order: a
// later task cannot be attempted while an earlier one is still pending.
//
// The select does not lease rows. Delivery assumes a single sweeping
// process per database; two sweepers could both attempt the same task,
// and only the conditional marks keep the ledger itself consistent.
func ClaimDueTasks(ctx context.Context, db *gorm.DB, now time.Time, limit int) ([]domain.OutboundTask, error) {
	var out []domain.OutboundTask
	err := db.WithContext(ctx).Raw(`
SELECT * FROM outbound_tasks t
WHERE t.status = ? AND t.next_attempt_at <= ?
  AND NOT EXISTS (
    SELECT 1 FROM outbound_tasks o
    WHERE o.chat_id = t.chat_id AND o.status = ?
      AND (o.created_at < t.created_at
           OR (o.created_at = t.created_at AND o.id < t.id))
  )
ORDER BY t.created_at ASC, t.id ASC
LIMIT ?`,
		domain.TaskStatusPending, now.UTC(), domain.TaskStatusPending, limit,
	).Scan(&out).Error
	return out, err
}

// MarkTaskSent moves a pending task to sent and records the attempt.
func MarkTaskSent(ctx context.Context, db *gorm.DB, id string) error {
	now := time.Now().UTC()
	res := db.WithContext(ctx).Model(&domain.OutboundTask{}).
		Where("id = ? AND status = ?", id, domain.TaskStatusPending).
		Updates(map[string]any{
			"status":          domain.TaskStatusSent,
			"attempts":        gorm.Expr("attempts + 1"),
			"last_attempt_at": &now,
			"last_error":      "",
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrTaskTerminal
	}
	return nil
}

// MarkTaskRetry records a transient delivery failure: the attempt counter
// advances, the error is kept for operators, and the task stays pending
// until nextAttemptAt.
func MarkTaskRetry(ctx context.Context, db *gorm.DB, id, lastErr string, nextAttemptAt time.Time) error {
	now := time.Now().UTC()
	res := db.WithContext(ctx).Model(&domain.OutboundTask{}).
		Where("id = ? AND status = ?", id, domain.TaskStatusPending).
		Updates(map[string]any{
			"attempts":        gorm.Expr("attempts + 1"),
			"last_attempt_at": &now,
			"last_error":      lastErr,
			"next_attempt_at": nextAttemptAt.UTC(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrTaskTerminal
	}
	return nil
}

// MarkTaskFailed moves a pending task to failed (terminal). Used when the
// retry budget is exhausted or the provider rejected the send permanently.
func MarkTaskFailed(ctx context.Context, db *gorm.DB, id, lastErr string) error {
	now := time.Now().UTC()
	res := db.WithContext(ctx).Model(&domain.OutboundTask{}).
		Where("id = ? AND status = ?", id, domain.TaskStatusPending).
		Updates(map[string]any{
			"status":          domain.TaskStatusFailed,
			"attempts":        gorm.Expr("attempts + 1"),
			"last_attempt_at": &now,
			"last_error":      lastErr,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrTaskTerminal
	}
	return nil
}

// GetOutboundTask returns one task by ID, or ErrNotFound.
func GetOutboundTask(ctx context.Context, db *gorm.DB, id string) (*domain.OutboundTask, error) {
	var t domain.OutboundTask
	err := db.WithContext(ctx).First(&t, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// ListFailedTasks returns terminally failed tasks, newest first, for
// operator remediation. Failed tasks are never retried automatically.
func ListFailedTasks(ctx context.Context, db *gorm.DB, limit int) ([]domain.OutboundTask, error) {
	var out []domain.OutboundTask
	q := db.WithContext(ctx).
		Where("status = ?", domain.TaskStatusFailed).
		Order("last_attempt_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&out).Error
	return out, err
}
