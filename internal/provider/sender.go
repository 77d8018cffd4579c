// Package provider is the outbound boundary to the messaging provider.
// It defines the Sender contract used by the outbox delivery loop and the
// two-bucket error classification the retry policy depends on: permanent
// errors end a task immediately, everything else is retried with backoff.
package provider

import (
	"context"
	"errors"
	"fmt"
)

// Sender delivers one reply to the provider. Implementations must honor
// ctx deadlines; a timeout surfaces as an ordinary (transient) error.
type Sender interface {
	Send(ctx context.Context, chatID int64, text, markup string) error
}

// PermanentError marks a delivery failure that retrying cannot fix
// (invalid recipient, rejected payload). Unwrapped errors default to
// transient; retrying is the safe side, bounded by the attempt cap.
type PermanentError struct {
	Reason string
}

// Error implements the error interface.
func (e *PermanentError) Error() string { return "permanent: " + e.Reason }

// Permanent builds a PermanentError with a formatted reason.
func Permanent(format string, args ...any) error {
	return &PermanentError{Reason: fmt.Sprintf(format, args...)}
}

// IsPermanent reports whether err is classified as permanent.
func IsPermanent(err error) bool {
	var pe *PermanentError
	return errors.As(err, &pe)
}
