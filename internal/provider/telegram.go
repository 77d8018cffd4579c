package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// TelegramSender delivers replies through the Telegram Bot API with plain
// HTTP POSTs. No bot framework: the outbox owns retry and timeout policy,
// so the client here stays a thin request/response wrapper.
type TelegramSender struct {
	BaseURL string // e.g. "https://api.telegram.org"
	Token   string
	Client  *http.Client
}

// NewTelegramSender builds a sender with the per-attempt timeout baked
// into its HTTP client.
func NewTelegramSender(baseURL, token string, timeout time.Duration) *TelegramSender {
	return &TelegramSender{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Token:   token,
		Client:  &http.Client{Timeout: timeout},
	}
}

// apiResponse is the envelope Telegram wraps every method result in.
type apiResponse struct {
	OK          bool   `json:"ok"`
	ErrorCode   int    `json:"error_code"`
	Description string `json:"description"`
}

// Send posts a sendMessage call. Classification:
//   - network errors, timeouts, HTTP 5xx, 429 → transient (plain error)
//   - API rejection with 400/403 (bad recipient, malformed payload,
//     bot blocked by user) → PermanentError
//   - anything unrecognized → transient, bounded by the attempt cap
func (s *TelegramSender) Send(ctx context.Context, chatID int64, text, markup string) error {
	payload := map[string]any{
		"chat_id":    chatID,
		"text":       text,
		"parse_mode": "HTML",
	}
	if strings.TrimSpace(markup) != "" {
		payload["reply_markup"] = json.RawMessage(markup)
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return Permanent("encode payload: %v", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", s.BaseURL, s.Token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.Client.Do(req)
	if err != nil {
		return fmt.Errorf("telegram request: %w", err)
	}
	defer resp.Body.Close()

	var api apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&api); err != nil {
		return fmt.Errorf("telegram response decode (status %d): %w", resp.StatusCode, err)
	}
	if api.OK {
		return nil
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("telegram rate limited: %s", api.Description)
	case resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusForbidden:
		return Permanent("telegram rejected send (%d): %s", resp.StatusCode, api.Description)
	default:
		return fmt.Errorf("telegram error (%d): %s", resp.StatusCode, api.Description)
	}
}
