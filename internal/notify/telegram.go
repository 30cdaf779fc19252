package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// TelegramAlerter sends operator alerts via the Telegram Bot API.
type TelegramAlerter struct {
	botToken string
	chatID   string
	baseURL  string
	client   *http.Client
}

// NewTelegramAlerter creates a new Telegram alerter.
func NewTelegramAlerter(botToken, chatID, baseURL string) *TelegramAlerter {
	if baseURL == "" {
		baseURL = "https://api.telegram.org"
	}
	return &TelegramAlerter{
		botToken: botToken,
		chatID:   chatID,
		baseURL:  baseURL,
		client:   &http.Client{Timeout: 30 * time.Second},
	}
}

type telegramSendRequest struct {
	ChatID    string `json:"chat_id"`
	Text      string `json:"text"`
	ParseMode string `json:"parse_mode"`
}

type telegramResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description,omitempty"`
}

// Alert sends an HTML-formatted message to the configured chat.
func (t *TelegramAlerter) Alert(ctx context.Context, text string) error {
	if t.botToken == "" || t.chatID == "" {
		return fmt.Errorf("%w: telegram bot token or chat id not configured", ErrChannelUnavailable)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", t.baseURL, t.botToken)

	payload := telegramSendRequest{
		ChatID:    t.chatID,
		Text:      text,
		ParseMode: "HTML",
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal telegram request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build telegram request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return transient(fmt.Errorf("failed to send telegram message: %w", err))
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return transient(fmt.Errorf("failed to read telegram response: %w", err))
	}

	var tgResp telegramResponse
	if err := json.Unmarshal(respBody, &tgResp); err != nil {
		return fmt.Errorf("failed to parse telegram response: %w", err)
	}

	if !tgResp.OK {
		return rejected("telegram API error: %s", tgResp.Description)
	}

	return nil
}
