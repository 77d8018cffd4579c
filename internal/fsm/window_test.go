package fsm

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestWindow_AppendEvictsOldest(t *testing.T) {
	w := NewWindow(4)
	w.AppendExchange("q1", "a1")
	w.AppendExchange("q2", "a2")
	w.AppendExchange("q3", "a3")

	if w.Len() != 4 {
		t.Fatalf("window grew past capacity: %d", w.Len())
	}
	if w.Fragments[0].Content != "q2" || w.Fragments[3].Content != "a3" {
		t.Fatalf("eviction order wrong: %+v", w.Fragments)
	}
}

func TestWindow_TruncatesLongFragments(t *testing.T) {
	w := NewWindow(10)
	long := strings.Repeat("é", 900) // multi-byte, rune count is what matters
	w.Append("assistant", long)

	got := w.Fragments[0].Content
	if utf8.RuneCountInString(got) != 500 {
		t.Fatalf("expected 500-rune truncation, got %d runes", utf8.RuneCountInString(got))
	}
	if !utf8.ValidString(got) {
		t.Fatalf("truncation split a rune")
	}
}

func TestWindow_EncodeDecodeRoundTrip(t *testing.T) {
	w := NewWindow(6)
	w.AppendExchange("hello", "hi there")

	raw, err := w.Encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	got, err := DecodeWindow(raw, 6)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Len() != 2 || got.Fragments[0].Role != "user" || got.Fragments[1].Content != "hi there" {
		t.Fatalf("round trip mismatch: %+v", got.Fragments)
	}
}

func TestDecodeWindow_EmptyForms(t *testing.T) {
	for _, raw := range []string{"", "[]"} {
		w, err := DecodeWindow(raw, 4)
		if err != nil || w.Len() != 0 {
			t.Fatalf("decode %q: (%v, %v)", raw, w.Len(), err)
		}
	}
}

func TestDecodeWindow_CorruptJSON(t *testing.T) {
	if _, err := DecodeWindow("{not json", 4); err == nil {
		t.Fatalf("expected error for corrupt stored window")
	}
}

func TestDecodeWindow_LoweredCapTrimsOnLoad(t *testing.T) {
	w := NewWindow(8)
	w.AppendExchange("q1", "a1")
	w.AppendExchange("q2", "a2")
	w.AppendExchange("q3", "a3")
	raw, _ := w.Encode()

	got, err := DecodeWindow(raw, 2)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Len() != 2 || got.Fragments[0].Content != "q3" {
		t.Fatalf("lowered cap should keep newest fragments: %+v", got.Fragments)
	}
}

func TestNewWindow_MinimumCapacity(t *testing.T) {
	w := NewWindow(0)
	w.AppendExchange("q", "a")
	if w.Cap != 2 || w.Len() != 2 {
		t.Fatalf("minimum capacity must hold one exchange: cap=%d len=%d", w.Cap, w.Len())
	}
}

func TestWindow_EmptyEncodesAsEmptyArray(t *testing.T) {
	raw, err := NewWindow(4).Encode()
	if err != nil || raw != "[]" {
		t.Fatalf("empty window encoding: (%q, %v)", raw, err)
	}
}
