package fsm

import (
	"encoding/json"
	"time"
	"unicode/utf8"
)

// maxFragmentRunes caps stored fragment content; assistant replies are
// truncated for storage rather than kept whole.
const maxFragmentRunes = 500

// Fragment is one stored message excerpt in a user's rolling window.
type Fragment struct {
	Role    string    `json:"role"` // "user" or "assistant"
	Content string    `json:"content"`
	At      time.Time `json:"ts"`
}

// Window is a fixed-capacity FIFO buffer of recent message fragments.
// Appending past capacity evicts the oldest fragments; the window never
// grows beyond Cap. Compaction of evicted content into the context
// summary is the reply collaborator's concern, not enforced here.
type Window struct {
	Cap       int
	Fragments []Fragment
}

// NewWindow returns an empty window with the given capacity (minimum 2,
// so one user/assistant exchange always fits).
func NewWindow(capacity int) *Window {
	if capacity < 2 {
		capacity = 2
	}
	return &Window{Cap: capacity}
}

// DecodeWindow restores a window from its stored JSON form. Fragments
// beyond capacity are dropped oldest-first, so a lowered configuration
// cap takes effect on the next load.
func DecodeWindow(raw string, capacity int) (*Window, error) {
	w := NewWindow(capacity)
	if raw == "" || raw == "[]" {
		return w, nil
	}
	if err := json.Unmarshal([]byte(raw), &w.Fragments); err != nil {
		return nil, err
	}
	w.trim()
	return w, nil
}

// Append adds a fragment, evicting the oldest entries if the window is full.
func (w *Window) Append(role, content string) {
	if utf8.RuneCountInString(content) > maxFragmentRunes {
		content = string([]rune(content)[:maxFragmentRunes])
	}
	w.Fragments = append(w.Fragments, Fragment{
		Role:    role,
		Content: content,
		At:      time.Now().UTC(),
	})
	w.trim()
}

// AppendExchange records one user message and the assistant's reply.
func (w *Window) AppendExchange(userText, assistantText string) {
	w.Append("user", userText)
	w.Append("assistant", assistantText)
}

// Encode serializes the window for storage.
func (w *Window) Encode() (string, error) {
	if len(w.Fragments) == 0 {
		return "[]", nil
	}
	b, err := json.Marshal(w.Fragments)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Len returns the number of retained fragments.
func (w *Window) Len() int { return len(w.Fragments) }

func (w *Window) trim() {
	if over := len(w.Fragments) - w.Cap; over > 0 {
		w.Fragments = w.Fragments[over:]
	}
}
