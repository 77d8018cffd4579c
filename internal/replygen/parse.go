package replygen

import (
	"encoding/json"
	"errors"
	"regexp"
	"strings"
	"unicode/utf8"
)

// The generator CLI is asked for a strict JSON contract, but real output
// drifts: markdown fences, preamble prose, trailing commentary. Parsing
// extracts the JSON, validates it against the contract, and reports an
// error for anything unusable; the caller substitutes the fallback.

const maxReplyRunes = 4000

var (
	jsonFenceRE  = regexp.MustCompile("(?s)```(?:json)?\\s*\\n?(.*?)\\n?```")
	jsonObjectRE = regexp.MustCompile(`(?s)\{.*\}`)

	errNoJSON     = errors.New("no JSON object in generator output")
	errEmptyReply = errors.New("generator produced an empty reply")
)

type wireStatePatch struct {
	Mode string  `json:"mode"`
	Step *string `json:"step"`
}

type wireActions struct {
	StatePatch   *wireStatePatch `json:"state_patch"`
	ContextDelta map[string]any  `json:"context_delta"`
}

type wireProposal struct {
	ReplyText string       `json:"reply_text"`
	Actions   *wireActions `json:"actions"`
}

// ParseProposal extracts and validates a generation result from raw CLI
// output. It never returns a partially valid Proposal: any contract
// violation yields an error.
func ParseProposal(raw string) (Proposal, error) {
	jsonStr, ok := extractJSON(raw)
	if !ok {
		return Proposal{}, errNoJSON
	}

	var wire wireProposal
	if err := json.Unmarshal([]byte(jsonStr), &wire); err != nil {
		return Proposal{}, err
	}

	reply := strings.TrimSpace(wire.ReplyText)
	if reply == "" {
		return Proposal{}, errEmptyReply
	}
	if utf8.RuneCountInString(reply) > maxReplyRunes {
		reply = string([]rune(reply)[:maxReplyRunes])
	}

	p := Proposal{ReplyText: reply}
	if wire.Actions != nil {
		if sp := wire.Actions.StatePatch; sp != nil {
			p.NextMode = strings.TrimSpace(sp.Mode)
			p.NextStep = sp.Step
		}
		p.ContextDelta = wire.Actions.ContextDelta
	}
	return p, nil
}

// extractJSON tries, in order: a markdown-fenced block, the outermost
// brace-delimited object, then the whole text.
func extractJSON(text string) (string, bool) {
	if m := jsonFenceRE.FindStringSubmatch(text); m != nil {
		return strings.TrimSpace(m[1]), true
	}
	if m := jsonObjectRE.FindString(text); m != "" {
		return m, true
	}
	trimmed := strings.TrimSpace(text)
	if strings.HasPrefix(trimmed, "{") {
		return trimmed, true
	}
	return "", false
}
