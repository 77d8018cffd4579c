// Package replygen defines the reply-generation collaborator boundary:
// given the user's conversation state and inbound text, it produces the
// reply text plus a proposed next mode/step for the state machine.
//
// Generation is expensive and slow, so every implementation is expected
// to honor context cancellation and the dispatcher guards calls with a
// process-wide semaphore. Failures here are always downgraded by the
// caller to a fallback reply with the state held unchanged.
package replygen

import (
	"context"

	"github.com/tbourn/go-chat-worker/internal/domain"
)

// FallbackReply is the user-visible text used whenever generation fails,
// times out, or returns output that cannot be validated.
const FallbackReply = "Sorry, I could not put together an answer just now. Please try again in a minute."

// Proposal is the validated output of one generation call.
//
// NextMode empty means no mode change proposed. NextStep nil means the
// step is unchanged; a pointer to "" clears it. ContextDelta carries
// summary updates the dispatcher merges into the stored context.
type Proposal struct {
	ReplyText    string
	NextMode     string
	NextStep     *string
	ContextDelta map[string]any
}

// Fallback returns a proposal carrying only the fallback reply, with no
// state movement.
func Fallback() Proposal {
	return Proposal{ReplyText: FallbackReply}
}

// Generator produces a reply proposal for one inbound message.
type Generator interface {
	Generate(ctx context.Context, st *domain.ConversationState, inboundText string) (Proposal, error)
}
