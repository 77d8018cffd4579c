// Package services implements the dispatch pipeline that turns admitted
// inbound events into state transitions and queued replies. This file
// centralizes service-level error values so that they can be consistently
// returned by service methods and checked by callers.
package services

import "errors"

var (
	// ErrDuplicateEvent indicates the event identifier was already
	// completed or is actively owned by another worker. This is the
	// normal dedup outcome, not a failure; callers drop the event.
	ErrDuplicateEvent = errors.New("event already processed or in flight")

	// ErrInvalidTransition indicates the reply collaborator proposed a
	// mode the state machine cannot reach from the current one. The
	// whole proposal is rejected: mode, step, and summary are held and
	// the fallback reply is sent instead.
	ErrInvalidTransition = errors.New("proposed mode not reachable from current mode")

	// ErrEmptyEvent indicates an inbound event carries no usable
	// chat/user identifiers and cannot be dispatched.
	ErrEmptyEvent = errors.New("event missing chat or user identifier")
)
