// Package outbox drains the durable ledger of outbound replies.
//
// The dispatcher only ever *enqueues* replies; this package owns delivery:
// a periodic sweep claims due pending tasks (oldest first, one per chat),
// attempts each against the provider, and applies the retry policy.
// Every task ends in exactly one of two terminal states, sent or failed,
// and the attempt counter never moves backwards.
package outbox

import (
	"context"
	"math/rand"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"
	"gorm.io/gorm"

	"github.com/tbourn/go-chat-worker/internal/domain"
	"github.com/tbourn/go-chat-worker/internal/observability"
	"github.com/tbourn/go-chat-worker/internal/provider"
	"github.com/tbourn/go-chat-worker/internal/repo"
)

// Manager owns outbox delivery for one process.
type Manager struct {
	DB     *gorm.DB
	Sender provider.Sender

	// Policy knobs (see config.OutboxConfig / ProviderConfig).
	MaxAttempts    int
	Backoff        BackoffConfig
	Interval       time.Duration
	BatchSize      int
	AttemptTimeout time.Duration

	// Limiter paces sends against the provider's global throughput cap.
	Limiter *rate.Limiter

	rng *rand.Rand
}

// NewManager builds a delivery manager. limiter may be nil to disable pacing.
func NewManager(db *gorm.DB, sender provider.Sender, maxAttempts int, backoff BackoffConfig, interval time.Duration, batchSize int, attemptTimeout time.Duration, limiter *rate.Limiter) *Manager {
	return &Manager{
		DB:             db,
		Sender:         sender,
		MaxAttempts:    maxAttempts,
		Backoff:        backoff,
		Interval:       interval,
		BatchSize:      batchSize,
		AttemptTimeout: attemptTimeout,
		Limiter:        limiter,
		rng:            rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Enqueue records a pending reply for chatID. This is the only write the
// rest of the system performs against the outbox.
func (m *Manager) Enqueue(ctx context.Context, chatID int64, text, markup string, causeEventID *int64) (string, error) {
	t, err := repo.EnqueueTask(ctx, m.DB, chatID, text, markup, causeEventID)
	if err != nil {
		return "", err
	}
	return t.ID, nil
}

// Run sweeps pending tasks until ctx is canceled.
func (m *Manager) Run(ctx context.Context) {
	ticker := time.NewTicker(m.Interval)
	defer ticker.Stop()

	log.Info().Dur("interval", m.Interval).Int("batch", m.BatchSize).Msg("outbox loop started")

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("outbox loop stopping")
			return
		case <-ticker.C:
			sent, err := m.Sweep(ctx)
			if err != nil {
				log.Error().Err(err).Msg("outbox sweep error")
			} else if sent > 0 {
				log.Info().Int("sent", sent).Msg("outbox sweep complete")
			}
		}
	}
}

// Sweep claims one batch of due tasks and attempts delivery for each.
// Returns the number of tasks that reached sent.
func (m *Manager) Sweep(ctx context.Context) (int, error) {
	tr := otel.Tracer("outbox/Manager")
	ctx, span := tr.Start(ctx, "Sweep")
	defer span.End()

	tasks, err := repo.ClaimDueTasks(ctx, m.DB, time.Now().UTC(), m.BatchSize)
	if err != nil {
		return 0, err
	}

	sent := 0
	for i := range tasks {
		if ctx.Err() != nil {
			return sent, ctx.Err()
		}
		if m.deliver(ctx, &tasks[i]) {
			sent++
		}
	}
	span.SetAttributes(attribute.Int("outbox.claimed", len(tasks)), attribute.Int("outbox.sent", sent))
	return sent, nil
}

// deliver runs a single attempt for one task and applies the retry policy.
// Reports whether the task reached sent.
func (m *Manager) deliver(ctx context.Context, t *domain.OutboundTask) bool {
	tr := otel.Tracer("outbox/Manager")
	ctx, span := tr.Start(ctx, "Deliver",
		trace.WithAttributes(
			attribute.String("task.id", t.ID),
			attribute.Int64("chat.id", t.ChatID),
			attribute.Int("task.attempts", t.Attempts),
		),
	)
	defer span.End()

	lg := log.With().Str("task_id", t.ID).Int64("chat_id", t.ChatID).Logger()
	attempt := t.Attempts + 1

	if m.Limiter != nil {
		if err := m.Limiter.Wait(ctx); err != nil {
			return false
		}
	}

	attemptCtx, cancel := context.WithTimeout(ctx, m.AttemptTimeout)
	sendErr := m.Sender.Send(attemptCtx, t.ChatID, t.Text, t.Markup)
	cancel()

	switch {
	case sendErr == nil:
		if err := repo.MarkTaskSent(ctx, m.DB, t.ID); err != nil {
			lg.Error().Err(err).Msg("outbox: mark sent failed")
			return false
		}
		observability.OutboxAttempts.WithLabelValues("sent").Inc()
		lg.Info().Int("attempt", attempt).Msg("outbox sent")
		return true

	case provider.IsPermanent(sendErr):
		if err := repo.MarkTaskFailed(ctx, m.DB, t.ID, sendErr.Error()); err != nil {
			lg.Error().Err(err).Msg("outbox: mark failed failed")
			return false
		}
		observability.OutboxAttempts.WithLabelValues("permanent").Inc()
		lg.Warn().Err(sendErr).Int("attempt", attempt).Msg("outbox permanent failure")
		return false

	case attempt >= m.MaxAttempts:
		if err := repo.MarkTaskFailed(ctx, m.DB, t.ID, sendErr.Error()); err != nil {
			lg.Error().Err(err).Msg("outbox: mark failed failed")
			return false
		}
		observability.OutboxAttempts.WithLabelValues("exhausted").Inc()
		lg.Warn().Err(sendErr).Int("attempt", attempt).Msg("outbox retries exhausted")
		return false

	default:
		next := NextRetryAt(time.Now().UTC(), attempt, m.Backoff, m.rng)
		if err := repo.MarkTaskRetry(ctx, m.DB, t.ID, sendErr.Error(), next); err != nil {
			lg.Error().Err(err).Msg("outbox: record retry failed")
			return false
		}
		observability.OutboxAttempts.WithLabelValues("transient").Inc()
		lg.Warn().Err(sendErr).Int("attempt", attempt).Time("next_attempt", next).Msg("outbox transient failure")
		return false
	}
}
