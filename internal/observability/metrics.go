package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus counters for the worker's reliability surfaces. Registered
// on the default registry; exposed via the /metrics route.
var (
	// ClaimResults counts idempotency guard outcomes by result
	// (admitted, duplicate, reclaimed).
	ClaimResults = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "chatworker",
		Subsystem: "guard",
		Name:      "claim_results_total",
		Help:      "Idempotency claim outcomes by result.",
	}, []string{"result"})

	// OutboxAttempts counts delivery attempt outcomes
	// (sent, transient, permanent, exhausted).
	OutboxAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "chatworker",
		Subsystem: "outbox",
		Name:      "attempts_total",
		Help:      "Outbox delivery attempt outcomes.",
	}, []string{"outcome"})

	// FallbackReplies counts replies that fell back because generation
	// failed or proposed an invalid transition.
	FallbackReplies = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "chatworker",
		Subsystem: "dispatch",
		Name:      "fallback_replies_total",
		Help:      "Replies sent via the fallback path.",
	})

	// EventsProcessed counts dispatched events by terminal outcome
	// (completed, failed).
	EventsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "chatworker",
		Subsystem: "dispatch",
		Name:      "events_total",
		Help:      "Dispatched events by terminal outcome.",
	}, []string{"outcome"})
)
