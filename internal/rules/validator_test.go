package rules

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/tathienbao/quant-exec/internal/types"
	"github.com/tathienbao/quant-exec/internal/venue"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

var testRules = types.TradingRules{
	Symbol:      "BTCUSDT",
	TickSize:    dec("0.01"),
	StepSize:    dec("0.001"),
	MinNotional: dec("10"),
}

func TestFloorToStep(t *testing.T) {
	tests := []struct {
		v, step, want string
	}{
		{"100.129", "0.01", "100.12"},
		{"1.23456", "0.001", "1.234"},
		{"5", "0", "5"},
		{"0.0009", "0.001", "0"},
	}

	for _, tt := range tests {
		got := FloorToStep(dec(tt.v), dec(tt.step))
		if !got.Equal(dec(tt.want)) {
			t.Errorf("FloorToStep(%s, %s) = %s, want %s", tt.v, tt.step, got, tt.want)
		}
	}
}

func TestValidator_Limit(t *testing.T) {
	v := NewValidator()

	got, err := v.Validate(venue.OrderRequest{
		Symbol:   "BTCUSDT",
		Side:     types.SideBuy,
		Type:     types.OrderTypeLimit,
		Price:    dec("99.987"),
		Quantity: dec("0.50049"),
	}, testRules, dec("100"))
	if err != nil {
		t.Fatalf("Validate() error = %v", err)
	}

	if !got.Price.Equal(dec("99.98")) {
		t.Errorf("Price = %s, want 99.98", got.Price)
	}
	if !got.Quantity.Equal(dec("0.5")) {
		t.Errorf("Quantity = %s, want 0.5", got.Quantity)
	}
}

func TestValidator_Errors(t *testing.T) {
	v := NewValidator()

	tests := []struct {
		name string
		req  venue.OrderRequest
		want error
	}{
		{
			name: "missing symbol",
			req:  venue.OrderRequest{Type: types.OrderTypeMarket, Quantity: dec("1")},
			want: types.ErrInvalidSymbol,
		},
		{
			name: "limit without price",
			req:  venue.OrderRequest{Symbol: "BTCUSDT", Type: types.OrderTypeLimit, Quantity: dec("1")},
			want: types.ErrInvalidPrice,
		},
		{
			name: "below min notional",
			req:  venue.OrderRequest{Symbol: "BTCUSDT", Type: types.OrderTypeLimit, Price: dec("100"), Quantity: dec("0.05")},
			want: types.ErrBelowMinNotional,
		},
		{
			name: "qty rounds to zero",
			req:  venue.OrderRequest{Symbol: "BTCUSDT", Side: types.SideSell, Type: types.OrderTypeMarket, Quantity: dec("0.0004")},
			want: types.ErrInvalidQuantity,
		},
		{
			name: "market notional",
			req:  venue.OrderRequest{Symbol: "BTCUSDT", Side: types.SideSell, Type: types.OrderTypeMarket, Quantity: dec("0.05")},
			want: types.ErrBelowMinNotional,
		},
		{
			name: "quote below min",
			req:  venue.OrderRequest{Symbol: "BTCUSDT", Side: types.SideBuy, Type: types.OrderTypeMarket, QuoteAmount: dec("5")},
			want: types.ErrBelowMinNotional,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := v.Validate(tt.req, testRules, dec("100"))
			if !errors.Is(err, tt.want) {
				t.Errorf("Validate() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestValidator_MarketBuyQuote(t *testing.T) {
	v := NewValidator()

	got, err := v.Validate(venue.OrderRequest{
		Symbol:      "BTCUSDT",
		Side:        types.SideBuy,
		Type:        types.OrderTypeMarket,
		Quantity:    dec("1"),
		QuoteAmount: dec("100.123456789"),
	}, testRules, dec("100"))
	if err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if !got.QuoteAmount.Equal(dec("100.12345678")) {
		t.Errorf("QuoteAmount = %s, want 100.12345678", got.QuoteAmount)
	}
}

func TestValidator_ZeroRulesPassThrough(t *testing.T) {
	v := NewValidator()
	req := venue.OrderRequest{Symbol: "X", Side: types.SideSell, Type: types.OrderTypeMarket, Quantity: dec("0.123456")}

	got, err := v.Validate(req, types.TradingRules{}, decimal.Zero)
	if err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if !got.Quantity.Equal(req.Quantity) {
		t.Errorf("Quantity = %s, want unchanged %s", got.Quantity, req.Quantity)
	}
}
