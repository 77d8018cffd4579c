package replygen

import (
	"errors"
	"strings"
	"testing"
	"unicode/utf8"
)

func TestParseProposal_FencedJSON(t *testing.T) {
	raw := "Here is the answer:\n```json\n{\"reply_text\": \"Try a spinach omelette.\", \"actions\": {\"state_patch\": {\"mode\": \"recipe_search\"}}}\n```\nHope that helps!"

	p, err := ParseProposal(raw)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if p.ReplyText != "Try a spinach omelette." {
		t.Fatalf("reply mismatch: %q", p.ReplyText)
	}
	if p.NextMode != "recipe_search" {
		t.Fatalf("mode mismatch: %q", p.NextMode)
	}
}

func TestParseProposal_UnlabeledFence(t *testing.T) {
	raw := "```\n{\"reply_text\": \"ok\"}\n```"
	p, err := ParseProposal(raw)
	if err != nil || p.ReplyText != "ok" {
		t.Fatalf("parse unlabeled fence: (%+v, %v)", p, err)
	}
}

func TestParseProposal_BareObjectWithPreamble(t *testing.T) {
	raw := `Sure! {"reply_text": "Drink more water.", "actions": {"context_delta": {"topic": "hydration"}}} done.`

	p, err := ParseProposal(raw)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if p.ReplyText != "Drink more water." {
		t.Fatalf("reply mismatch: %q", p.ReplyText)
	}
	if p.ContextDelta["topic"] != "hydration" {
		t.Fatalf("context delta lost: %+v", p.ContextDelta)
	}
}

func TestParseProposal_StepSemantics(t *testing.T) {
	// Absent step means unchanged; explicit empty string clears it.
	p, err := ParseProposal(`{"reply_text": "x", "actions": {"state_patch": {"mode": "idle"}}}`)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if p.NextStep != nil {
		t.Fatalf("absent step should be nil, got %q", *p.NextStep)
	}

	p, err = ParseProposal(`{"reply_text": "x", "actions": {"state_patch": {"mode": "idle", "step": ""}}}`)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if p.NextStep == nil || *p.NextStep != "" {
		t.Fatalf("explicit empty step should clear, got %v", p.NextStep)
	}
}

func TestParseProposal_NoJSON(t *testing.T) {
	if _, err := ParseProposal("I am sorry, I cannot do that."); !errors.Is(err, errNoJSON) {
		t.Fatalf("expected errNoJSON, got %v", err)
	}
}

func TestParseProposal_MalformedJSON(t *testing.T) {
	if _, err := ParseProposal(`{"reply_text": "unterminated`); err == nil {
		t.Fatalf("expected error for malformed JSON")
	}
}

func TestParseProposal_EmptyReply(t *testing.T) {
	for _, raw := range []string{`{"reply_text": ""}`, `{"reply_text": "   "}`, `{"actions": {}}`} {
		if _, err := ParseProposal(raw); !errors.Is(err, errEmptyReply) {
			t.Fatalf("input %q: expected errEmptyReply, got %v", raw, err)
		}
	}
}

func TestParseProposal_TruncatesOversizeReply(t *testing.T) {
	raw := `{"reply_text": "` + strings.Repeat("a", 5000) + `"}`
	p, err := ParseProposal(raw)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if utf8.RuneCountInString(p.ReplyText) != maxReplyRunes {
		t.Fatalf("expected %d-rune truncation, got %d", maxReplyRunes, utf8.RuneCountInString(p.ReplyText))
	}
}

func TestFallback_NoStateMovement(t *testing.T) {
	p := Fallback()
	if p.ReplyText != FallbackReply || p.NextMode != "" || p.NextStep != nil || p.ContextDelta != nil {
		t.Fatalf("fallback must carry only the reply: %+v", p)
	}
}
