package types

import (
	"testing"

	"github.com/shopspring/decimal"
)

// TestSide_String tests Side string conversion.
func TestSide_String(t *testing.T) {
	tests := []struct {
		side Side
		want string
	}{
		{SideBuy, "BUY"},
		{SideSell, "SELL"},
		{SideNone, "NONE"},
		{Side(99), "NONE"},
	}

	for _, tt := range tests {
		got := tt.side.String()
		if got != tt.want {
			t.Errorf("Side(%d).String() = %s, want %s", tt.side, got, tt.want)
		}
	}
}

// TestSide_Opposite tests direction flip.
func TestSide_Opposite(t *testing.T) {
	tests := []struct {
		side Side
		want Side
	}{
		{SideBuy, SideSell},
		{SideSell, SideBuy},
		{SideNone, SideNone},
	}

	for _, tt := range tests {
		got := tt.side.Opposite()
		if got != tt.want {
			t.Errorf("Side(%d).Opposite() = %d, want %d", tt.side, got, tt.want)
		}
	}
}

func TestSide_Sign(t *testing.T) {
	if !SideBuy.Sign().Equal(decimal.NewFromInt(1)) {
		t.Errorf("BUY sign = %s, want 1", SideBuy.Sign())
	}
	if !SideSell.Sign().Equal(decimal.NewFromInt(-1)) {
		t.Errorf("SELL sign = %s, want -1", SideSell.Sign())
	}
	if !SideNone.Sign().IsZero() {
		t.Errorf("NONE sign = %s, want 0", SideNone.Sign())
	}
}

func TestParseSide(t *testing.T) {
	tests := []struct {
		in     string
		want   Side
		wantOK bool
	}{
		{"BUY", SideBuy, true},
		{"sell", SideSell, true},
		{" Buy ", SideBuy, true},
		{"long", SideNone, false},
	}

	for _, tt := range tests {
		got, ok := ParseSide(tt.in)
		if got != tt.want || ok != tt.wantOK {
			t.Errorf("ParseSide(%q) = %s, %v, want %s, %v", tt.in, got, ok, tt.want, tt.wantOK)
		}
	}
}

// TestOrderStatus_String tests status string conversion.
func TestOrderStatus_String(t *testing.T) {
	tests := []struct {
		status OrderStatus
		want   string
	}{
		{OrderStatusNew, "NEW"},
		{OrderStatusWorking, "WORKING"},
		{OrderStatusPartial, "PARTIAL"},
		{OrderStatusFilled, "FILLED"},
		{OrderStatusCanceled, "CANCELED"},
		{OrderStatusRejected, "REJECTED"},
		{OrderStatusError, "ERROR"},
		{OrderStatus(99), "UNKNOWN"},
	}

	for _, tt := range tests {
		got := tt.status.String()
		if got != tt.want {
			t.Errorf("OrderStatus(%d).String() = %s, want %s", tt.status, got, tt.want)
		}
	}
}

// TestOrderStatus_IsFinal tests terminal state check.
func TestOrderStatus_IsFinal(t *testing.T) {
	tests := []struct {
		status OrderStatus
		want   bool
	}{
		{OrderStatusNew, false},
		{OrderStatusWorking, false},
		{OrderStatusPartial, false},
		{OrderStatusFilled, true},
		{OrderStatusCanceled, true},
		{OrderStatusRejected, true},
		{OrderStatusError, true},
	}

	for _, tt := range tests {
		if got := tt.status.IsFinal(); got != tt.want {
			t.Errorf("%s.IsFinal() = %v, want %v", tt.status, got, tt.want)
		}
		if got := tt.status.IsLive(); got == tt.want {
			t.Errorf("%s.IsLive() = %v, want %v", tt.status, got, !tt.want)
		}
	}
}

func TestParseOrderStatus_Aliases(t *testing.T) {
	tests := []struct {
		in   string
		want OrderStatus
	}{
		{"PARTIALLY_FILLED", OrderStatusPartial},
		{"cancelled", OrderStatusCanceled},
		{"EXPIRED", OrderStatusCanceled},
		{"ACCEPTED", OrderStatusWorking},
		{"FILLED", OrderStatusFilled},
	}

	for _, tt := range tests {
		got, ok := ParseOrderStatus(tt.in)
		if !ok || got != tt.want {
			t.Errorf("ParseOrderStatus(%q) = %s, %v, want %s", tt.in, got, ok, tt.want)
		}
	}

	if _, ok := ParseOrderStatus("bogus"); ok {
		t.Error("ParseOrderStatus(bogus) should fail")
	}
}

func TestManagedOrderType_Opposite(t *testing.T) {
	if ManagedStopLoss.Opposite() != ManagedTakeProfit {
		t.Error("STOP_LOSS opposite should be TAKE_PROFIT")
	}
	if ManagedTakeProfit.Opposite() != ManagedStopLoss {
		t.Error("TAKE_PROFIT opposite should be STOP_LOSS")
	}
}

func TestManagedOrder_Remaining(t *testing.T) {
	o := &ManagedOrder{
		Quantity:  decimal.RequireFromString("1"),
		FilledQty: decimal.RequireFromString("0.4"),
	}
	if !o.Remaining().Equal(decimal.RequireFromString("0.6")) {
		t.Errorf("Remaining() = %s, want 0.6", o.Remaining())
	}

	o.FilledQty = decimal.RequireFromString("2")
	if !o.Remaining().IsZero() {
		t.Errorf("Remaining() = %s, want 0 when overfilled", o.Remaining())
	}
}

func TestParseUrgencyAndOrderType(t *testing.T) {
	if u, ok := ParseUrgency("high"); !ok || u != UrgencyHigh {
		t.Errorf("ParseUrgency(high) = %s, %v", u, ok)
	}
	if _, ok := ParseUrgency("asap"); ok {
		t.Error("ParseUrgency(asap) should fail")
	}
	if ot, ok := ParseOrderType("limit"); !ok || ot != OrderTypeLimit {
		t.Errorf("ParseOrderType(limit) = %s, %v", ot, ok)
	}
}
