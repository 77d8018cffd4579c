// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides the append-only audit trail of inbound
// provider events.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/go-chat-worker/internal/domain"
)

// InsertInboundAudit records one received event verbatim. The caller
// writes this before any dedup decision, so repeated deliveries of the
// same event produce multiple rows on purpose. Audit rows are never
// updated or deleted by the worker.
func InsertInboundAudit(ctx context.Context, db *gorm.DB, eventID, chatID, userID int64, text, rawPayload string) (*domain.InboundAudit, error) {
	rec := &domain.InboundAudit{
		ID:         uuid.NewString(),
		EventID:    eventID,
		ChatID:     chatID,
		UserID:     userID,
		Text:       text,
		Payload:    rawPayload,
		ReceivedAt: time.Now().UTC(),
	}
	if err := db.WithContext(ctx).Create(rec).Error; err != nil {
		return nil, err
	}
	return rec, nil
}

// ListInboundAudit returns audit rows for an event in insertion order,
// used by replay tooling and tests.
func ListInboundAudit(ctx context.Context, db *gorm.DB, eventID int64) ([]domain.InboundAudit, error) {
	var out []domain.InboundAudit
	err := db.WithContext(ctx).
		Where("event_id = ?", eventID).
		Order("received_at ASC, id ASC").
		Find(&out).Error
	return out, err
}
