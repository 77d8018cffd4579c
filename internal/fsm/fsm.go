// Package fsm implements the conversation state machine: the mode/step
// model, the transition allowlist, and the bounded window of recent
// message fragments.
//
// The machine is advisory about content: the reply-generation collaborator
// proposes a next mode and step, and this package decides whether the
// proposal is admissible from the current mode. Inadmissible proposals
// never move the state: the caller keeps the prior mode/step and takes
// the fallback reply path instead.
package fsm

// Conversation modes. ModeIdle is the initial mode for users whose
// profile is complete; new users start in ModeOnboarding.
const (
	ModeIdle          = "idle"
	ModeOnboarding    = "onboarding"
	ModeAwaitingInput = "awaiting_clarification"
	ModeRecipeSearch  = "recipe_search"
	ModeFreeQA        = "free_qa"
)

// validTransitions maps each mode to the set of modes reachable from it.
// Staying in the same mode is always allowed and not listed here.
var validTransitions = map[string]map[string]bool{
	ModeIdle: {
		ModeOnboarding:    true,
		ModeAwaitingInput: true,
		ModeRecipeSearch:  true,
		ModeFreeQA:        true,
	},
	ModeOnboarding: {
		ModeIdle:          true,
		ModeAwaitingInput: true,
		ModeRecipeSearch:  true,
	},
	ModeAwaitingInput: {
		ModeIdle:         true,
		ModeRecipeSearch: true,
		ModeFreeQA:       true,
	},
	ModeRecipeSearch: {
		ModeIdle:          true,
		ModeAwaitingInput: true,
		ModeFreeQA:        true,
	},
	ModeFreeQA: {
		ModeIdle:          true,
		ModeAwaitingInput: true,
		ModeRecipeSearch:  true,
	},
}

// IsValidMode reports whether mode is one of the known conversation modes.
func IsValidMode(mode string) bool {
	if mode == ModeIdle {
		return true
	}
	_, ok := validTransitions[mode]
	return ok
}

// IsValidTransition reports whether the machine may move from current to
// next. Self-transitions are always valid; anything involving an unknown
// mode is not.
func IsValidTransition(current, next string) bool {
	if !IsValidMode(current) || !IsValidMode(next) {
		return false
	}
	if current == next {
		return true
	}
	return validTransitions[current][next]
}

// InitialMode returns the mode for a user's first conversation state row.
func InitialMode(profileComplete bool) string {
	if !profileComplete {
		return ModeOnboarding
	}
	return ModeIdle
}
