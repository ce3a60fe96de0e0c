package ui

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/tathienbao/quant-exec/internal/execution"
	"github.com/tathienbao/quant-exec/internal/stops"
	"github.com/tathienbao/quant-exec/internal/types"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestPrinter_Execution(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf)

	req := execution.Request{
		Symbol:         "BTCUSDT",
		Side:           types.SideBuy,
		Quantity:       dec("2"),
		ReferencePrice: dec("100"),
	}
	res := &execution.Result{
		Plan:         execution.MarketPlan{},
		Override:     "NONE",
		ExecutedQty:  dec("1.5"),
		AveragePrice: dec("100.1"),
		Orders: []execution.Order{
			{ClientOrderID: "entry-1", Type: types.OrderTypeMarket, Status: types.OrderStatusFilled, ExecutedQty: dec("1.5"), FillPrice: dec("100.1")},
		},
	}
	p.Execution(req, res, nil)

	out := buf.String()
	for _, want := range []string{"EXECUTION", "BTCUSDT", "MARKET", "100.1", "10.00 bps", "Unfilled:", "0.5", "entry-1"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "Override") {
		t.Error("NONE override should not be printed")
	}
	if strings.Contains(out, "\033[") {
		t.Error("non-terminal output should not be colored")
	}
}

func TestPrinter_ExecutionRejected(t *testing.T) {
	var buf bytes.Buffer
	NewPrinter(&buf).Execution(execution.Request{Symbol: "BTCUSDT"}, nil, errors.New("bad request"))

	if !strings.Contains(buf.String(), "rejected: bad request") {
		t.Errorf("output = %q, want rejection", buf.String())
	}
}

func TestPrinter_StopPlan(t *testing.T) {
	var buf bytes.Buffer
	plan, err := stops.NewEngine(stops.DefaultConfig()).Plan("BTCUSDT", types.SideBuy, dec("100"), decimal.Zero)
	if err != nil {
		t.Fatalf("Plan() error = %v", err)
	}

	NewPrinter(&buf).StopPlan("BTCUSDT", types.SideBuy, dec("100"), plan)

	out := buf.String()
	for _, want := range []string{"STOP PLAN", "99.4", "101.2", "100.4", "Reward/risk:", "2.00"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestPrinter_Position(t *testing.T) {
	var buf bytes.Buffer
	pos := types.Position{
		ID:           "pos-1",
		Symbol:       "BTCUSDT",
		Side:         types.SideSell,
		EntryPrice:   dec("100"),
		QtyInitial:   dec("1"),
		QtyRemaining: dec("0.4"),
		StopLoss:     dec("101"),
		TakeProfit:   dec("98"),
		Status:       types.PositionOpen,
	}
	orders := []types.ManagedOrder{
		{ClientOrderID: "sl-1", Type: types.ManagedStopLoss, Status: types.OrderStatusWorking, Quantity: dec("0.4"), Price: dec("101")},
	}

	NewPrinter(&buf).Position(pos, orders)

	out := buf.String()
	for _, want := range []string{"pos-1", "0.4 of 1", "sl-1"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestPrinter_StatusLine(t *testing.T) {
	var buf bytes.Buffer
	NewPrinter(&buf).StatusLine("open=%d venue=%s", 2, "connected")

	if got := buf.String(); got != "open=2 venue=connected\n" {
		t.Errorf("StatusLine() = %q", got)
	}
}
