// Package http implements the thin webhook listener that receives provider
// updates. It validates the shared secret, extracts the identifying fields,
// records the audit row, and hands the event to the dispatch queue. No
// generation, no heavy queries. The provider retries on non-2xx, so
// "acceptable" problems (bad payloads, duplicates, unknown update kinds)
// are acknowledged with 200 to avoid retry storms, while a saturated
// queue returns 503 so the event is redelivered and deduplicated later
// by the guard.
package http

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/tbourn/go-chat-worker/internal/domain"
	"github.com/tbourn/go-chat-worker/internal/http/middleware"
	"github.com/tbourn/go-chat-worker/internal/repo"
	"github.com/tbourn/go-chat-worker/internal/services"
)

// secretTokenHeader is the provider's shared-secret header for webhooks.
const secretTokenHeader = "X-Telegram-Bot-Api-Secret-Token"

// enqueueWait bounds how long a webhook request blocks on a full queue
// before asking the provider to redeliver.
const enqueueWait = 2 * time.Second

// Minimal provider update shape; only the fields the core extracts.
type updateChat struct {
	ID int64 `json:"id"`
}

type updateUser struct {
	ID int64 `json:"id"`
}

type updateMessage struct {
	MessageID int64       `json:"message_id"`
	Chat      updateChat  `json:"chat"`
	From      *updateUser `json:"from"`
	Text      string      `json:"text"`
}

type updateCallback struct {
	From    updateUser     `json:"from"`
	Data    string         `json:"data"`
	Message *updateMessage `json:"message"`
}

type providerUpdate struct {
	UpdateID      int64           `json:"update_id"`
	Message       *updateMessage  `json:"message"`
	CallbackQuery *updateCallback `json:"callback_query"`
}

// extract pulls chat/user/text out of whichever update kind is present.
// ok is false when the update carries no processable content.
func (u *providerUpdate) extract() (ev services.InboundEvent, ok bool) {
	ev.EventID = u.UpdateID
	switch {
	case u.Message != nil && u.Message.From != nil:
		ev.ChatID = u.Message.Chat.ID
		ev.UserID = u.Message.From.ID
		ev.Text = u.Message.Text
	case u.CallbackQuery != nil && u.CallbackQuery.Message != nil:
		ev.ChatID = u.CallbackQuery.Message.Chat.ID
		ev.UserID = u.CallbackQuery.From.ID
		ev.Text = u.CallbackQuery.Data
	default:
		return ev, false
	}
	return ev, ev.ChatID != 0 && ev.UserID != 0
}

// WebhookHandler accepts provider updates and feeds the dispatch queue.
type WebhookHandler struct {
	Secret string
	Events chan<- services.InboundEvent

	// DB carries the audit trail writes and a cheap duplicate precheck
	// so redelivered events don't occupy queue slots. The guard remains
	// the authority on dedup.
	DB *gorm.DB
}

// seenTerminal reports whether the ledger already holds a terminal row
// for eventID.
func (h *WebhookHandler) seenTerminal(c *gin.Context, eventID int64) bool {
	if h.DB == nil {
		return false
	}
	rec, err := repo.GetProcessedEvent(c.Request.Context(), h.DB, eventID)
	if err != nil {
		return false
	}
	return rec.Status == domain.EventStatusCompleted || rec.Status == domain.EventStatusFailed
}

// Handle is the POST handler for the webhook path.
func (h *WebhookHandler) Handle(c *gin.Context) {
	lg := middleware.LoggerFrom(c)

	if h.Secret != "" && c.GetHeader(secretTokenHeader) != h.Secret {
		lg.Warn().Msg("webhook secret mismatch")
		c.JSON(http.StatusOK, gin.H{"ok": true})
		return
	}

	raw, err := c.GetRawData()
	if err != nil {
		lg.Warn().Err(err).Msg("webhook body read failed")
		c.JSON(http.StatusOK, gin.H{"ok": true})
		return
	}

	var upd providerUpdate
	if err := json.Unmarshal(raw, &upd); err != nil {
		lg.Warn().Err(err).Msg("webhook bad json")
		c.JSON(http.StatusOK, gin.H{"ok": true})
		return
	}

	ev, ok := upd.extract()
	if !ok {
		lg.Debug().Int64("update_id", upd.UpdateID).Msg("webhook update without chat/user")
		c.JSON(http.StatusOK, gin.H{"ok": true})
		return
	}
	// Audit at the point of receipt, before any dedup decision. Every
	// delivery leaves a row, redeliveries included. Best-effort: the
	// trail is observability, not a correctness dependency.
	if h.DB != nil {
		if _, err := repo.InsertInboundAudit(c.Request.Context(), h.DB, ev.EventID, ev.ChatID, ev.UserID, ev.Text, string(raw)); err != nil {
			lg.Warn().Err(err).Int64("event_id", ev.EventID).Msg("audit write failed")
		}
	}

	if h.seenTerminal(c, ev.EventID) {
		lg.Debug().Int64("event_id", ev.EventID).Msg("webhook duplicate dropped early")
		c.JSON(http.StatusOK, gin.H{"ok": true})
		return
	}

	select {
	case h.Events <- ev:
		lg.Info().Int64("event_id", ev.EventID).Msg("webhook enqueued")
		c.JSON(http.StatusOK, gin.H{"ok": true})
	case <-time.After(enqueueWait):
		// Queue saturated: ask the provider to redeliver later. The
		// guard dedups whatever arrives twice.
		lg.Warn().Int64("event_id", ev.EventID).Msg("dispatch queue full")
		c.JSON(http.StatusServiceUnavailable, gin.H{"ok": false})
	case <-c.Request.Context().Done():
		c.Status(http.StatusServiceUnavailable)
	}
}
