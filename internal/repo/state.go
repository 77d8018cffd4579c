// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides conversation state persistence with
// optimistic locking.
package repo

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/go-chat-worker/internal/domain"
)

// ErrStaleState indicates a version-checked save lost the race: another
// writer updated the same user's row since it was loaded. The caller must
// reload and redo the transition on fresh state.
var ErrStaleState = errors.New("conversation state modified concurrently")

// GetConversationState loads the single live row for userID, or ErrNotFound.
func GetConversationState(ctx context.Context, db *gorm.DB, userID int64) (*domain.ConversationState, error) {
	var st domain.ConversationState
	err := db.WithContext(ctx).First(&st, "user_id = ?", userID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &st, nil
}

// CreateConversationState inserts the initial row for a user on first
// contact. The unique index on user_id arbitrates concurrent first
// contacts: the loser gets ErrDuplicate and should reload instead.
func CreateConversationState(ctx context.Context, db *gorm.DB, userID, chatID int64, mode, step string) (*domain.ConversationState, error) {
	st := &domain.ConversationState{
		ID:             uuid.NewString(),
		UserID:         userID,
		ChatID:         chatID,
		Mode:           mode,
		Step:           step,
		ContextSummary: "{}",
		RecentMessages: "[]",
		Version:        0,
		UpdatedAt:      time.Now().UTC(),
	}
	if err := db.WithContext(ctx).Create(st).Error; err != nil {
		if isDuplicateErr(err) {
			return nil, ErrDuplicate
		}
		return nil, err
	}
	return st, nil
}

// SaveConversationState persists a transition computed from the given
// state snapshot. The WHERE clause checks the version the snapshot was
// loaded at, so the update is a compare-and-swap: at most one of several
// concurrent writers for the same user succeeds, the rest see
// ErrStaleState. On success the snapshot's Version is bumped in place.
func SaveConversationState(ctx context.Context, db *gorm.DB, st *domain.ConversationState) error {
	now := time.Now().UTC()
	res := db.WithContext(ctx).Model(&domain.ConversationState{}).
		Where("user_id = ? AND version = ?", st.UserID, st.Version).
		Updates(map[string]any{
			"chat_id":         st.ChatID,
			"mode":            st.Mode,
			"step":            st.Step,
			"context_summary": st.ContextSummary,
			"recent_messages": st.RecentMessages,
			"version":         st.Version + 1,
			"updated_at":      now,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrStaleState
	}
	st.Version++
	st.UpdatedAt = now
	return nil
}
