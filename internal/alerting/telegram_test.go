package alerting

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestTelegramAlerter_Alert(t *testing.T) {
	var got telegramMessage
	var path string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		_ = json.NewDecoder(r.Body).Decode(&got)
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	a := NewTelegramAlerter(TelegramConfig{BotToken: "tok", ChatID: "42", APIEndpoint: srv.URL + "/"})
	if err := a.Alert(context.Background(), SeverityHigh, "stop hit", "symbol", "BTCUSDT"); err != nil {
		t.Fatalf("Alert() error = %v", err)
	}

	if path != "/bottok/sendMessage" {
		t.Errorf("path = %s, want /bottok/sendMessage", path)
	}
	if got.ChatID != "42" {
		t.Errorf("chat_id = %s, want 42", got.ChatID)
	}
	if !strings.Contains(got.Text, "[HIGH]") || !strings.Contains(got.Text, "symbol: BTCUSDT") {
		t.Errorf("text = %q, missing severity or fields", got.Text)
	}
}

func TestTelegramAlerter_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"ok":false,"description":"chat not found"}`))
	}))
	defer srv.Close()

	a := NewTelegramAlerter(TelegramConfig{BotToken: "tok", ChatID: "1", APIEndpoint: srv.URL})
	err := a.Alert(context.Background(), SeverityInfo, "x")
	if err == nil || !strings.Contains(err.Error(), "chat not found") {
		t.Errorf("Alert() error = %v, want telegram API error", err)
	}
}

func TestFormatSessionSummary(t *testing.T) {
	s := SessionSummary{
		Start:      time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC),
		End:        time.Date(2026, 3, 2, 17, 0, 0, 0, time.UTC),
		RealizedPL: decimal.NewFromFloat(-1.5),
		WinRate:    decimal.Zero,
	}

	text := formatSessionSummary(s)
	if !strings.Contains(text, "📉") {
		t.Error("expected down emoji for negative PnL")
	}
	if !strings.Contains(text, "Realized P/L: -1.50") {
		t.Errorf("summary missing PnL line: %q", text)
	}
}
