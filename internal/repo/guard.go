// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file implements the idempotency guard over the
// processed_events ledger.
//
// The guard admits each provider event identifier for processing exactly
// once. Admission is a plain insert that rides on the primary key: two
// concurrent claims for the same identifier race at the storage layer and
// exactly one wins. The only second chance is the staleness reclaim, a
// conditional update that can move ownership to at most one successor.
package repo

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-chat-worker/internal/domain"
)

// ClaimResult is the outcome of a claim attempt.
type ClaimResult int

const (
	// ClaimAdmitted means the caller owns the event and must process it.
	ClaimAdmitted ClaimResult = iota
	// ClaimDuplicate means the event is finished or actively owned by
	// another worker; the caller must not process it.
	ClaimDuplicate
	// ClaimReclaimed means the previous owner went stale and ownership
	// moved to the caller, who must process the event.
	ClaimReclaimed
)

// String returns a log-friendly label for the result.
func (r ClaimResult) String() string {
	switch r {
	case ClaimAdmitted:
		return "admitted"
	case ClaimReclaimed:
		return "reclaimed"
	default:
		return "duplicate"
	}
}

// ErrClaimLost indicates a CompleteEvent call whose claim is no longer
// held by the caller: the row was reclaimed by another worker or already
// reached a terminal status. The caller's side effects may have raced a
// successor's; this is surfaced as a consistency error rather than
// silently absorbed.
var ErrClaimLost = errors.New("claim no longer owned by this worker")

// ClaimEvent attempts to admit eventID for exclusive processing by workerID.
//
// Fast path: insert a processing row keyed by eventID. A unique-constraint
// conflict means the identifier is already in the ledger, and the existing
// row decides the outcome:
//
//   - completed/failed   → ClaimDuplicate (never reprocess)
//   - fresh in-flight    → ClaimDuplicate (another worker is on it)
//   - stale in-flight    → conditional update reassigns ownership; only
//     one contender can observe RowsAffected == 1, so the reclaim is
//     bounded to a single successor.
func ClaimEvent(ctx context.Context, db *gorm.DB, eventID int64, workerID string, staleAfter time.Duration) (ClaimResult, error) {
	now := time.Now().UTC()

	rec := &domain.ProcessedEvent{
		EventID:   eventID,
		Status:    domain.EventStatusProcessing,
		WorkerID:  workerID,
		CreatedAt: now,
	}
	err := db.WithContext(ctx).Create(rec).Error
	if err == nil {
		return ClaimAdmitted, nil
	}
	if !isDuplicateErr(err) {
		return ClaimDuplicate, err
	}

	var existing domain.ProcessedEvent
	if err := db.WithContext(ctx).First(&existing, "event_id = ?", eventID).Error; err != nil {
		return ClaimDuplicate, err
	}
	switch existing.Status {
	case domain.EventStatusCompleted, domain.EventStatusFailed:
		return ClaimDuplicate, nil
	}

	cutoff := now.Add(-staleAfter)
	if existing.CreatedAt.After(cutoff) {
		// Fresh claim: presumed alive.
		return ClaimDuplicate, nil
	}

	// Stale claim: reassign ownership. The created_at guard in the WHERE
	// clause makes this a compare-and-swap: a concurrent reclaimer that
	// already moved created_at forward leaves zero rows for us.
	res := db.WithContext(ctx).Model(&domain.ProcessedEvent{}).
		Where("event_id = ? AND status IN ? AND created_at <= ?",
			eventID,
			[]string{domain.EventStatusReceived, domain.EventStatusProcessing},
			cutoff).
		Updates(map[string]any{
			"status":     domain.EventStatusProcessing,
			"worker_id":  workerID,
			"created_at": now,
		})
	if res.Error != nil {
		return ClaimDuplicate, res.Error
	}
	if res.RowsAffected == 1 {
		return ClaimReclaimed, nil
	}
	return ClaimDuplicate, nil
}

// CompleteEvent moves a claim owned by workerID to a terminal status
// (completed or failed). Returns ErrClaimLost if the row is not an
// in-flight claim held by workerID; the ownership check means a worker
// that lost its claim to a reclaim cannot overwrite the successor's result.
func CompleteEvent(ctx context.Context, db *gorm.DB, eventID int64, workerID, outcome string) error {
	now := time.Now().UTC()
	res := db.WithContext(ctx).Model(&domain.ProcessedEvent{}).
		Where("event_id = ? AND worker_id = ? AND status IN ?",
			eventID, workerID,
			[]string{domain.EventStatusReceived, domain.EventStatusProcessing}).
		Updates(map[string]any{
			"status":       outcome,
			"completed_at": &now,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrClaimLost
	}
	return nil
}

// GetProcessedEvent returns the ledger row for eventID, or ErrNotFound.
func GetProcessedEvent(ctx context.Context, db *gorm.DB, eventID int64) (*domain.ProcessedEvent, error) {
	var rec domain.ProcessedEvent
	err := db.WithContext(ctx).First(&rec, "event_id = ?", eventID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}
