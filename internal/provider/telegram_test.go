package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

type fakeAPI struct {
	status  int
	body    string
	gotPath string
	gotBody map[string]any
}

func newFakeAPI(t *testing.T, f *fakeAPI) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.gotPath = r.URL.Path
		_ = json.NewDecoder(r.Body).Decode(&f.gotBody)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(f.status)
		_, _ = w.Write([]byte(f.body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestTelegramSender_Send_OK(t *testing.T) {
	f := &fakeAPI{status: http.StatusOK, body: `{"ok": true}`}
	srv := newFakeAPI(t, f)

	s := NewTelegramSender(srv.URL, "TOKEN", 5*time.Second)
	if err := s.Send(context.Background(), 123, "hello <b>there</b>", ""); err != nil {
		t.Fatalf("send: %v", err)
	}
	if f.gotPath != "/botTOKEN/sendMessage" {
		t.Fatalf("wrong path: %s", f.gotPath)
	}
	if f.gotBody["chat_id"] != float64(123) || f.gotBody["text"] != "hello <b>there</b>" {
		t.Fatalf("payload mismatch: %+v", f.gotBody)
	}
	if f.gotBody["parse_mode"] != "HTML" {
		t.Fatalf("parse mode missing: %+v", f.gotBody)
	}
	if _, present := f.gotBody["reply_markup"]; present {
		t.Fatalf("empty markup must be omitted: %+v", f.gotBody)
	}
}

func TestTelegramSender_Send_IncludesMarkup(t *testing.T) {
	f := &fakeAPI{status: http.StatusOK, body: `{"ok": true}`}
	srv := newFakeAPI(t, f)

	s := NewTelegramSender(srv.URL, "TOKEN", 5*time.Second)
	markup := `{"inline_keyboard":[[{"text":"Yes","callback_data":"yes"}]]}`
	if err := s.Send(context.Background(), 123, "pick one", markup); err != nil {
		t.Fatalf("send: %v", err)
	}
	if _, present := f.gotBody["reply_markup"]; !present {
		t.Fatalf("markup dropped: %+v", f.gotBody)
	}
}

func TestTelegramSender_Send_BadRequestIsPermanent(t *testing.T) {
	f := &fakeAPI{status: http.StatusBadRequest, body: `{"ok": false, "error_code": 400, "description": "chat not found"}`}
	srv := newFakeAPI(t, f)

	s := NewTelegramSender(srv.URL, "TOKEN", 5*time.Second)
	err := s.Send(context.Background(), 123, "x", "")
	if err == nil || !IsPermanent(err) {
		t.Fatalf("expected permanent error, got %v", err)
	}
}

func TestTelegramSender_Send_ForbiddenIsPermanent(t *testing.T) {
	f := &fakeAPI{status: http.StatusForbidden, body: `{"ok": false, "error_code": 403, "description": "bot was blocked by the user"}`}
	srv := newFakeAPI(t, f)

	s := NewTelegramSender(srv.URL, "TOKEN", 5*time.Second)
	err := s.Send(context.Background(), 123, "x", "")
	if err == nil || !IsPermanent(err) {
		t.Fatalf("expected permanent error, got %v", err)
	}
}

func TestTelegramSender_Send_RateLimitIsTransient(t *testing.T) {
	f := &fakeAPI{status: http.StatusTooManyRequests, body: `{"ok": false, "error_code": 429, "description": "Too Many Requests: retry after 3"}`}
	srv := newFakeAPI(t, f)

	s := NewTelegramSender(srv.URL, "TOKEN", 5*time.Second)
	err := s.Send(context.Background(), 123, "x", "")
	if err == nil || IsPermanent(err) {
		t.Fatalf("429 must stay retryable, got %v", err)
	}
}

func TestTelegramSender_Send_ServerErrorIsTransient(t *testing.T) {
	f := &fakeAPI{status: http.StatusBadGateway, body: `{"ok": false, "error_code": 502, "description": "bad gateway"}`}
	srv := newFakeAPI(t, f)

	s := NewTelegramSender(srv.URL, "TOKEN", 5*time.Second)
	err := s.Send(context.Background(), 123, "x", "")
	if err == nil || IsPermanent(err) {
		t.Fatalf("5xx must stay retryable, got %v", err)
	}
}

func TestTelegramSender_Send_NetworkErrorIsTransient(t *testing.T) {
	srv := newFakeAPI(t, &fakeAPI{status: http.StatusOK, body: `{"ok": true}`})
	s := NewTelegramSender(srv.URL, "TOKEN", 5*time.Second)
	srv.Close()

	err := s.Send(context.Background(), 123, "x", "")
	if err == nil || IsPermanent(err) {
		t.Fatalf("network error must stay retryable, got %v", err)
	}
}

func TestIsPermanent(t *testing.T) {
	if !IsPermanent(Permanent("bad recipient %d", 1)) {
		t.Fatalf("Permanent not classified")
	}
	if IsPermanent(context.DeadlineExceeded) {
		t.Fatalf("deadline wrongly classified permanent")
	}
	if IsPermanent(nil) {
		t.Fatalf("nil wrongly classified permanent")
	}
}
