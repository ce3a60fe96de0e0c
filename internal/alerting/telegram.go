package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const defaultTelegramAPI = "https://api.telegram.org"

// TelegramConfig holds configuration for Telegram alerter.
type TelegramConfig struct {
	BotToken    string
	ChatID      string
	Timeout     time.Duration
	APIEndpoint string // Defaults to the public Bot API
}

// TelegramAlerter sends alerts via Telegram.
type TelegramAlerter struct {
	cfg    TelegramConfig
	client *http.Client
}

// NewTelegramAlerter creates a new Telegram alerter.
func NewTelegramAlerter(cfg TelegramConfig) *TelegramAlerter {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	if cfg.APIEndpoint == "" {
		cfg.APIEndpoint = defaultTelegramAPI
	}
	cfg.APIEndpoint = strings.TrimRight(cfg.APIEndpoint, "/")

	return &TelegramAlerter{
		cfg: cfg,
		client: &http.Client{
			Timeout: timeout,
		},
	}
}

// Name returns the name of the alerter.
func (t *TelegramAlerter) Name() string {
	return "telegram"
}

type telegramMessage struct {
	ChatID    string `json:"chat_id"`
	Text      string `json:"text"`
	ParseMode string `json:"parse_mode"`
}

type telegramResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description,omitempty"`
}

// Alert sends an alert via Telegram.
func (t *TelegramAlerter) Alert(ctx context.Context, severity Severity, message string, fields ...any) error {
	return t.send(ctx, t.formatMessage(severity, message, fields...))
}

// SendSessionSummary sends a formatted session summary.
func (t *TelegramAlerter) SendSessionSummary(ctx context.Context, summary SessionSummary) error {
	return t.send(ctx, formatSessionSummary(summary))
}

func (t *TelegramAlerter) send(ctx context.Context, text string) error {
	body, err := json.Marshal(telegramMessage{
		ChatID:    t.cfg.ChatID,
		Text:      text,
		ParseMode: "HTML",
	})
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", t.cfg.APIEndpoint, t.cfg.BotToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	var telegramResp telegramResponse
	if err := json.Unmarshal(respBody, &telegramResp); err != nil {
		return fmt.Errorf("parse response: %w", err)
	}
	if !telegramResp.OK {
		return fmt.Errorf("telegram API error: %s", telegramResp.Description)
	}

	return nil
}

func (t *TelegramAlerter) formatMessage(severity Severity, message string, fields ...any) string {
	text := fmt.Sprintf("%s <b>[%s]</b>\n%s", severity.Emoji(), severity.String(), message)

	if fieldsStr := FormatFields(fields...); fieldsStr != "" {
		text += "\n\n<b>Details:</b>\n" + fieldsStr
	}

	text += fmt.Sprintf("\n\n<i>%s</i>", time.Now().Format("2006-01-02 15:04:05 MST"))
	return text
}

func formatSessionSummary(s SessionSummary) string {
	plEmoji := "📈"
	if s.RealizedPL.IsNegative() {
		plEmoji = "📉"
	}

	return fmt.Sprintf(`%s <b>Execution Session Summary</b>
<b>Window:</b> %s → %s

<b>Positions:</b>
• Opened: %d | Closed: %d | Open: %d

<b>Protective fills:</b>
• Total: %d
• Wins: %d | Losses: %d
• Win Rate: %s%%
• Realized P/L: %s

<b>Reconciliation:</b>
• OCO corrections: %d
• Adopted orders: %d`,
		plEmoji,
		s.Start.Format("2006-01-02 15:04"),
		s.End.Format("2006-01-02 15:04"),
		s.PositionsOpened,
		s.PositionsClosed,
		s.OpenPositions,
		s.TotalTrades,
		s.WinningTrades,
		s.LosingTrades,
		s.WinRate.StringFixed(1),
		s.RealizedPL.StringFixed(2),
		s.OCOCorrections,
		s.Adopted,
	)
}
