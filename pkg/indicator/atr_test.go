package indicator

import (
	"testing"

	"github.com/shopspring/decimal"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

type bar struct{ high, low, close string }

func feedATR(a *ATR, bars []bar) decimal.Decimal {
	var got decimal.Decimal
	for _, b := range bars {
		got = a.Update(d(b.high), d(b.low), d(b.close))
	}
	return got
}

func TestATR(t *testing.T) {
	tests := []struct {
		name      string
		period    int
		bars      []bar
		want      string
		wantReady bool
	}{
		{
			name:   "not ready",
			period: 3,
			bars:   []bar{{"110", "100", "105"}, {"115", "105", "110"}},
			want:   "0",
		},
		{
			name:      "constant range",
			period:    3,
			bars:      []bar{{"110", "100", "105"}, {"115", "105", "110"}, {"120", "110", "115"}},
			want:      "10",
			wantReady: true,
		},
		{
			// TR = |125 - 105| = 20
			name:      "gap up",
			period:    2,
			bars:      []bar{{"110", "100", "105"}, {"125", "115", "120"}},
			want:      "15",
			wantReady: true,
		},
		{
			// TR = |85 - 105| = 20
			name:      "gap down",
			period:    2,
			bars:      []bar{{"110", "100", "105"}, {"95", "85", "90"}},
			want:      "15",
			wantReady: true,
		},
		{
			// The wide first bar (TR 20) leaves the window; the next two
			// are max(6, 5, 1) and max(6, 4, 2).
			name:      "first range evicted",
			period:    2,
			bars:      []bar{{"110", "90", "100"}, {"105", "99", "104"}, {"108", "102", "106"}},
			want:      "6",
			wantReady: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			atr := NewATR(tt.period)
			got := feedATR(atr, tt.bars)
			if !got.Equal(d(tt.want)) {
				t.Errorf("ATR = %s, want %s", got, tt.want)
			}
			if atr.Ready() != tt.wantReady {
				t.Errorf("Ready = %v, want %v", atr.Ready(), tt.wantReady)
			}
			if atr.Period() != tt.period {
				t.Errorf("Period = %d, want %d", atr.Period(), tt.period)
			}
		})
	}
}

func TestATR_ResetAfterWrap(t *testing.T) {
	atr := NewATR(2)
	feedATR(atr, []bar{{"110", "100", "105"}, {"115", "105", "110"}, {"120", "110", "115"}, {"125", "115", "120"}})

	atr.Reset()
	if atr.Ready() || !atr.Current().IsZero() {
		t.Fatalf("after Reset: ready=%v current=%s", atr.Ready(), atr.Current())
	}

	// The first bar after a reset has no previous close: TR = 120 - 100.
	// The second gives max(4, |112 - 110|, |108 - 110|) = 4.
	got := feedATR(atr, []bar{{"120", "100", "110"}, {"112", "108", "110"}})
	if !got.Equal(d("12")) {
		t.Errorf("ATR after reset = %s, want 12", got)
	}
}
