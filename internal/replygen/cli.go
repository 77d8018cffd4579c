package replygen

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/semaphore"

	"github.com/tbourn/go-chat-worker/internal/domain"
)

// CLIGenerator shells out to a language-model CLI (one subprocess per
// call) and parses its stdout against the JSON contract.
//
// A weighted semaphore caps in-flight subprocesses process-wide: Generate
// blocks in Acquire until a slot frees, which is the backpressure against
// the expensive downstream model. Release happens on every exit path.
type CLIGenerator struct {
	Command string
	Flags   []string
	Timeout time.Duration

	// IngredientTerms is reference vocabulary included in the prompt so
	// the model can honor dietary exclusions. Loaded once at startup.
	IngredientTerms []string

	sem *semaphore.Weighted
}

// NewCLIGenerator builds a generator running command with the given
// flags, at most concurrency calls in flight and timeout per call.
func NewCLIGenerator(command, flags string, concurrency int64, timeout time.Duration) *CLIGenerator {
	if concurrency < 1 {
		concurrency = 1
	}
	var fl []string
	if strings.TrimSpace(flags) != "" {
		fl = strings.Fields(flags)
	}
	return &CLIGenerator{
		Command: command,
		Flags:   fl,
		Timeout: timeout,
		sem:     semaphore.NewWeighted(concurrency),
	}
}

// Generate runs one CLI invocation under the concurrency cap. Returns an
// error on timeout, non-zero exit, or contract violations in the output;
// the caller converts any of these to the fallback path.
func (g *CLIGenerator) Generate(ctx context.Context, st *domain.ConversationState, inboundText string) (Proposal, error) {
	waitStart := time.Now()
	if err := g.sem.Acquire(ctx, 1); err != nil {
		return Proposal{}, err
	}
	defer g.sem.Release(1)

	if wait := time.Since(waitStart); wait > 100*time.Millisecond {
		log.Debug().Dur("wait", wait).Msg("generator semaphore waited")
	}

	ctx, cancel := context.WithTimeout(ctx, g.Timeout)
	defer cancel()

	prompt, err := g.buildPrompt(st, inboundText)
	if err != nil {
		return Proposal{}, err
	}

	args := append(append([]string{}, g.Flags...), prompt)
	out, err := exec.CommandContext(ctx, g.Command, args...).Output()
	if ctx.Err() != nil {
		return Proposal{}, fmt.Errorf("generator timed out after %s: %w", g.Timeout, ctx.Err())
	}
	if err != nil {
		return Proposal{}, fmt.Errorf("generator CLI: %w", err)
	}

	return ParseProposal(string(out))
}

// buildPrompt packs the conversation snapshot and the contract
// instructions into a single prompt argument.
func (g *CLIGenerator) buildPrompt(st *domain.ConversationState, inboundText string) (string, error) {
	snapshot := map[string]any{
		"mode":            st.Mode,
		"step":            st.Step,
		"context_summary": json.RawMessage(orJSON(st.ContextSummary, "{}")),
		"recent_messages": json.RawMessage(orJSON(st.RecentMessages, "[]")),
		"user_message":    inboundText,
	}
	if len(g.IngredientTerms) > 0 {
		snapshot["known_ingredients"] = g.IngredientTerms
	}
	b, err := json.Marshal(snapshot)
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	sb.WriteString("You are a dietary assistant chatbot. Given the conversation snapshot below, ")
	sb.WriteString("answer the user's last message.\n")
	sb.WriteString("Respond with ONLY a JSON object: ")
	sb.WriteString(`{"reply_text": string, "actions": {"state_patch": {"mode": string, "step": string|null}, "context_delta": object}}`)
	sb.WriteString("\nModes: idle, onboarding, awaiting_clarification, recipe_search, free_qa.\n\n")
	sb.Write(b)
	return sb.String(), nil
}

func orJSON(s, def string) string {
	if strings.TrimSpace(s) == "" {
		return def
	}
	return s
}
