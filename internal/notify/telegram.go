package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/densityrun/internal/alert"
	"github.com/sawpanic/densityrun/internal/secrets"
)

// telegramMessage represents the sendMessage payload
type telegramMessage struct {
	ChatID                string `json:"chat_id"`
	Text                  string `json:"text"`
	ParseMode             string `json:"parse_mode,omitempty"`
	DisableWebPagePreview bool   `json:"disable_web_page_preview,omitempty"`
}

// telegramResponse represents the Bot API response envelope
type telegramResponse struct {
	OK          bool   `json:"ok"`
	ErrorCode   int    `json:"error_code,omitempty"`
	Description string `json:"description,omitempty"`
}

// TelegramSink posts HTML formatted alerts through the Telegram Bot API
type TelegramSink struct {
	chatID string
	apiURL string
	client *http.Client
}

// NewTelegramSink creates a sink for one chat. baseURL defaults to the public
// Bot API.
func NewTelegramSink(token, chatID, baseURL string, client *http.Client) (*TelegramSink, error) {
	if token == "" {
		return nil, fmt.Errorf("telegram bot token is required")
	}
	if chatID == "" {
		return nil, fmt.Errorf("telegram chat ID is required")
	}
	if baseURL == "" {
		baseURL = "https://api.telegram.org"
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &TelegramSink{
		chatID: chatID,
		apiURL: fmt.Sprintf("%s/bot%s", strings.TrimRight(baseURL, "/"), token),
		client: client,
	}, nil
}

func (t *TelegramSink) Name() string { return "telegram" }

// Send delivers one alert
func (t *TelegramSink) Send(ctx context.Context, a alert.Alert) error {
	payload := telegramMessage{
		ChatID:                t.chatID,
		Text:                  FormatMessage(a),
		ParseMode:             "HTML",
		DisableWebPagePreview: true,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal Telegram payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.apiURL+"/sendMessage", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build Telegram request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		// Transport errors quote the request URL, which embeds the bot token.
		return fmt.Errorf("failed to send Telegram message: %w", secrets.RedactError(err))
	}
	defer resp.Body.Close()

	var tr telegramResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return fmt.Errorf("failed to decode Telegram response (status %d): %w", resp.StatusCode, err)
	}
	if !tr.OK {
		return fmt.Errorf("telegram API error %d: %s", tr.ErrorCode, tr.Description)
	}

	log.Debug().
		Str("alert_id", a.ID.String()).
		Str("symbol", a.Symbol).
		Msg("Telegram alert sent")
	return nil
}
