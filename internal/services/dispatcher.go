// Package services contains the application logic of the worker. This file
// implements the Dispatcher.
//
// The Dispatcher is the worker's core pipeline: claim the inbound event
// through the idempotency guard, advance the user's conversation state
// under the per-user exclusive section, and queue the reply in the
// outbox. Collaborator failures (generation errors, invalid transition
// proposals) are downgraded to a fallback reply with the state held;
// storage failures on correctness-critical tables abort the operation
// without completing the claim, leaving the event recoverable through
// the staleness reclaim.
package services

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/tbourn/go-chat-worker/internal/domain"
	"github.com/tbourn/go-chat-worker/internal/fsm"
	"github.com/tbourn/go-chat-worker/internal/observability"
	"github.com/tbourn/go-chat-worker/internal/replygen"
	"github.com/tbourn/go-chat-worker/internal/repo"
)

const (
	cmdStart = "/start"
	cmdHelp  = "/help"

	stepAskRestrictions = "ask_restrictions"

	welcomeNewText = "Welcome! I'm your dietary assistant. To tailor answers to you, " +
		"tell me about any dietary restrictions (allergies, intolerances, diabetes)."
	welcomeBackText = "Welcome back! Ask me for a recipe, a nutrition question, or anything else."
	helpText        = "I can suggest recipes around your restrictions and answer nutrition questions.\n" +
		"Commands: /start to start over, /help for this message.\n" +
		"Just tell me what you'd like to cook!"
)

// TaskEnqueuer is the outbox contract required by the Dispatcher.
type TaskEnqueuer interface {
	Enqueue(ctx context.Context, chatID int64, text, markup string, causeEventID *int64) (taskID string, err error)
}

// InboundEvent is one provider event handed to the dispatcher, with only
// the identifying fields extracted. The verbatim payload is recorded in
// the audit trail at the point of receipt, before the event reaches here.
type InboundEvent struct {
	EventID int64
	ChatID  int64
	UserID  int64
	Text    string
}

// Dispatcher coordinates the guard, state machine, reply generator, and
// outbox for inbound events.
type Dispatcher struct {
	DB        *gorm.DB
	Generator replygen.Generator
	Outbox    TaskEnqueuer

	// WorkerID identifies this process in the claim ledger.
	WorkerID string
	// StaleAfter is the claim age beyond which another worker may reclaim.
	StaleAfter time.Duration
	// ContextWindow caps retained message fragments per user.
	ContextWindow int

	locks *userLocks
}

// NewDispatcher constructs a Dispatcher.
func NewDispatcher(db *gorm.DB, gen replygen.Generator, ob TaskEnqueuer, workerID string, staleAfter time.Duration, contextWindow int) *Dispatcher {
	return &Dispatcher{
		DB:            db,
		Generator:     gen,
		Outbox:        ob,
		WorkerID:      workerID,
		StaleAfter:    staleAfter,
		ContextWindow: contextWindow,
		locks:         newUserLocks(),
	}
}

// HandleEvent runs the full pipeline for one delivered event. Duplicate
// deliveries return nil after the guard turns them away. A non-nil error
// means the event was admitted but could not be durably processed; the
// claim is left in flight so the staleness reclaim can retry it.
func (d *Dispatcher) HandleEvent(ctx context.Context, ev InboundEvent) error {
	tr := otel.Tracer("services/Dispatcher")
	ctx, span := tr.Start(ctx, "HandleEvent",
		trace.WithAttributes(
			attribute.Int64("event.id", ev.EventID),
			attribute.Int64("chat.id", ev.ChatID),
			attribute.Int64("user.id", ev.UserID),
		),
	)
	defer span.End()

	if ev.ChatID == 0 || ev.UserID == 0 {
		return ErrEmptyEvent
	}

	lg := log.With().Int64("event_id", ev.EventID).Int64("chat_id", ev.ChatID).Int64("user_id", ev.UserID).Logger()

	result, err := repo.ClaimEvent(ctx, d.DB, ev.EventID, d.WorkerID, d.StaleAfter)
	if err != nil {
		return err
	}
	observability.ClaimResults.WithLabelValues(result.String()).Inc()
	if result == repo.ClaimDuplicate {
		lg.Debug().Err(ErrDuplicateEvent).Msg("duplicate event dropped")
		return nil
	}
	if result == repo.ClaimReclaimed {
		lg.Warn().Msg("reclaimed stale event")
	}

	unlock := d.locks.lock(ev.UserID)
	defer unlock()

	outcome, err := d.process(ctx, ev, lg)
	if err != nil {
		// Correctness-critical write failed: do NOT complete the claim.
		// It stays in flight and becomes reclaimable after StaleAfter.
		lg.Error().Err(err).Msg("event processing aborted")
		return err
	}

	if err := repo.CompleteEvent(ctx, d.DB, ev.EventID, d.WorkerID, outcome); err != nil {
		if errors.Is(err, repo.ErrClaimLost) {
			// A reclaimer took over while we were running (we were slow,
			// not dead). Our reply may duplicate theirs, the accepted
			// weakening of the reclaim protocol. Surface it loudly.
			lg.Error().Msg("claim lost to reclaim during processing")
		}
		return err
	}
	observability.EventsProcessed.WithLabelValues(outcome).Inc()
	lg.Info().Str("outcome", outcome).Msg("event processed")
	return nil
}

// process advances the state machine and enqueues the reply. It returns
// the ledger outcome ("completed" or "failed") or an error when a
// correctness-critical write could not be persisted.
func (d *Dispatcher) process(ctx context.Context, ev InboundEvent, lg zerolog.Logger) (string, error) {
	st, err := d.loadOrCreateState(ctx, ev)
	if err != nil {
		return "", err
	}

	text := strings.TrimSpace(ev.Text)
	if cmd, ok := parseCommand(text); ok {
		return d.handleCommand(ctx, ev, st, cmd)
	}

	proposal, genErr := d.Generator.Generate(ctx, st, text)
	fellBack := false
	if genErr != nil {
		lg.Warn().Err(genErr).Msg("reply generation failed, using fallback")
		observability.FallbackReplies.Inc()
		proposal = replygen.Fallback()
		fellBack = true
	}

	// Apply the proposal to a copy of the state; retried once on a lost
	// version race with a fresh snapshot.
	var (
		reply string
		held  bool
	)
	for attempt := 0; ; attempt++ {
		reply, held = d.applyProposal(st, text, proposal, fellBack, lg)

		err = repo.SaveConversationState(ctx, d.DB, st)
		if err == nil {
			break
		}
		if !errors.Is(err, repo.ErrStaleState) || attempt >= 1 {
			return "", err
		}
		lg.Warn().Msg("state version conflict, retrying on fresh state")
		st, err = repo.GetConversationState(ctx, d.DB, ev.UserID)
		if err != nil {
			return "", err
		}
	}

	if _, err := d.Outbox.Enqueue(ctx, ev.ChatID, reply, "", &ev.EventID); err != nil {
		return "", err
	}

	if held {
		return domain.EventStatusFailed, nil
	}
	return domain.EventStatusCompleted, nil
}

// applyProposal validates the proposal and mutates st accordingly. An
// invalid or unknown proposed mode rejects the proposal as a whole, the
// same path as a generation failure: mode, step, and summary are held
// and the fallback reply is substituted for the generated one. Only the
// exchange is recorded in the window either way. It returns the reply
// to enqueue and whether the state was held.
func (d *Dispatcher) applyProposal(st *domain.ConversationState, userText string, p replygen.Proposal, fellBack bool, lg zerolog.Logger) (string, bool) {
	held := fellBack
	if !held && p.NextMode != "" && p.NextMode != st.Mode && !fsm.IsValidTransition(st.Mode, p.NextMode) {
		lg.Warn().Err(ErrInvalidTransition).Str("from", st.Mode).Str("to", p.NextMode).Msg("transition held")
		observability.FallbackReplies.Inc()
		p = replygen.Fallback()
		held = true
	}
	if !held {
		if p.NextMode != "" {
			st.Mode = p.NextMode
		}
		if p.NextStep != nil {
			st.Step = *p.NextStep
		}
		if len(p.ContextDelta) > 0 {
			st.ContextSummary = mergeSummary(st.ContextSummary, p.ContextDelta)
		}
	}

	w, err := fsm.DecodeWindow(st.RecentMessages, d.ContextWindow)
	if err != nil {
		lg.Warn().Err(err).Msg("corrupt message window reset")
		w = fsm.NewWindow(d.ContextWindow)
	}
	w.AppendExchange(userText, p.ReplyText)
	if enc, err := w.Encode(); err == nil {
		st.RecentMessages = enc
	}
	return p.ReplyText, held
}

// loadOrCreateState fetches the user's row, creating the initial one on
// first contact. A concurrent first contact loses the unique-index race
// and reloads the winner's row.
func (d *Dispatcher) loadOrCreateState(ctx context.Context, ev InboundEvent) (*domain.ConversationState, error) {
	st, err := repo.GetConversationState(ctx, d.DB, ev.UserID)
	if err == nil {
		return st, nil
	}
	if !errors.Is(err, repo.ErrNotFound) {
		return nil, err
	}

	st, err = repo.CreateConversationState(ctx, d.DB, ev.UserID, ev.ChatID, fsm.InitialMode(false), stepAskRestrictions)
	if err == nil {
		return st, nil
	}
	if errors.Is(err, repo.ErrDuplicate) {
		return repo.GetConversationState(ctx, d.DB, ev.UserID)
	}
	return nil, err
}

// handleCommand short-circuits /start and /help without touching the
// reply generator.
func (d *Dispatcher) handleCommand(ctx context.Context, ev InboundEvent, st *domain.ConversationState, cmd string) (string, error) {
	switch cmd {
	case cmdHelp:
		if _, err := d.Outbox.Enqueue(ctx, ev.ChatID, helpText, "", &ev.EventID); err != nil {
			return "", err
		}
		return domain.EventStatusCompleted, nil

	case cmdStart:
		reply := welcomeBackText
		if onboardingCompleted(st.ContextSummary) {
			st.Mode = fsm.ModeIdle
			st.Step = ""
		} else {
			st.Mode = fsm.ModeOnboarding
			st.Step = stepAskRestrictions
			reply = welcomeNewText
		}
		st.ChatID = ev.ChatID
		if err := repo.SaveConversationState(ctx, d.DB, st); err != nil {
			return "", err
		}
		if _, err := d.Outbox.Enqueue(ctx, ev.ChatID, reply, "", &ev.EventID); err != nil {
			return "", err
		}
		return domain.EventStatusCompleted, nil
	}
	return domain.EventStatusCompleted, nil
}

// parseCommand extracts a recognized leading command from the text.
func parseCommand(text string) (string, bool) {
	if !strings.HasPrefix(text, "/") {
		return "", false
	}
	head := strings.ToLower(strings.Fields(text)[0])
	switch head {
	case cmdStart, cmdHelp:
		return head, true
	}
	return "", false
}

// onboardingCompleted reports whether the stored context summary records
// a finished onboarding flow.
func onboardingCompleted(summary string) bool {
	var m map[string]any
	if err := json.Unmarshal([]byte(summary), &m); err != nil {
		return false
	}
	done, _ := m["onboarding_completed"].(bool)
	return done
}

// mergeSummary shallow-merges delta into the stored JSON summary. A
// corrupt stored summary is replaced rather than propagated.
func mergeSummary(stored string, delta map[string]any) string {
	base := map[string]any{}
	if stored != "" {
		if err := json.Unmarshal([]byte(stored), &base); err != nil {
			base = map[string]any{}
		}
	}
	for k, v := range delta {
		base[k] = v
	}
	b, err := json.Marshal(base)
	if err != nil {
		return stored
	}
	return string(b)
}
