package indicator

import (
	"testing"

	"github.com/shopspring/decimal"
)

func ints(vs ...int64) []decimal.Decimal {
	out := make([]decimal.Decimal, len(vs))
	for i, v := range vs {
		out[i] = decimal.NewFromInt(v)
	}
	return out
}

func TestSMA(t *testing.T) {
	tests := []struct {
		name      string
		period    int
		values    []decimal.Decimal
		want      string
		wantReady bool
	}{
		{"not ready", 5, ints(10, 20, 30), "0", false},
		{"exactly full", 3, ints(10, 20, 30), "20", true},
		{"one eviction", 3, ints(10, 20, 30, 40), "30", true},
		// 7 values through a window of 3 wrap the buffer twice.
		{"wraps twice", 3, ints(1, 2, 3, 4, 5, 6, 7), "6", true},
		{"large value evicted", 2, ints(1000, 2, 4), "3", true},
		{"period below one", 0, ints(4, 9), "9", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sma := NewSMA(tt.period)
			var got decimal.Decimal
			for _, v := range tt.values {
				got = sma.Update(v)
			}
			if !got.Equal(d(tt.want)) {
				t.Errorf("SMA = %s, want %s", got, tt.want)
			}
			if !sma.Current().Equal(got) {
				t.Errorf("Current = %s, want %s", sma.Current(), got)
			}
			if sma.Ready() != tt.wantReady {
				t.Errorf("Ready = %v, want %v", sma.Ready(), tt.wantReady)
			}
		})
	}
}

func TestSMA_CountCapsAtPeriod(t *testing.T) {
	sma := NewSMA(3)
	for i, want := range []int{1, 2, 3, 3, 3} {
		sma.Update(decimal.NewFromInt(int64(i)))
		if sma.Count() != want {
			t.Errorf("after %d values Count = %d, want %d", i+1, sma.Count(), want)
		}
	}
	if sma.Period() != 3 {
		t.Errorf("Period = %d, want 3", sma.Period())
	}
}

func TestSMA_ResetAfterWrap(t *testing.T) {
	sma := NewSMA(3)
	for _, v := range ints(100, 200, 300, 400, 500) {
		sma.Update(v)
	}

	sma.Reset()
	if sma.Ready() || sma.Count() != 0 || !sma.Current().IsZero() {
		t.Fatalf("after Reset: ready=%v count=%d current=%s", sma.Ready(), sma.Count(), sma.Current())
	}

	// Nothing from before the reset leaks into the new window.
	var got decimal.Decimal
	for _, v := range ints(7, 8, 9) {
		got = sma.Update(v)
	}
	if !got.Equal(d("8")) {
		t.Errorf("SMA after reset = %s, want 8", got)
	}
	got = sma.Update(decimal.NewFromInt(12))
	if !got.Equal(d("29").Div(d("3"))) {
		t.Errorf("SMA after reset and wrap = %s, want 29/3", got)
	}
}
