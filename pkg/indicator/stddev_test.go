package indicator

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestStdDev_Basic(t *testing.T) {
	stddev := NewStdDev(3)

	// Not ready yet
	if stddev.Ready() {
		t.Error("StdDev should not be ready with no data")
	}

	// Add values: 10, 20, 30
	// Mean = 20
	// Variance = ((10-20)^2 + (20-20)^2 + (30-20)^2) / 3 = (100 + 0 + 100) / 3 = 66.67
	// StdDev = sqrt(66.67) ≈ 8.16
	stddev.Update(decimal.NewFromInt(10))
	stddev.Update(decimal.NewFromInt(20))
	result := stddev.Update(decimal.NewFromInt(30))

	if !stddev.Ready() {
		t.Error("StdDev should be ready after 3 values")
	}

	// Check approximately
	expected := decimal.RequireFromString("8.16")
	diff := result.Sub(expected).Abs()
	if diff.GreaterThan(decimal.RequireFromString("0.01")) {
		t.Errorf("StdDev = %s, want approximately %s", result, expected)
	}
}

func TestStdDev_ZeroVariance(t *testing.T) {
	stddev := NewStdDev(3)

	// All same values
	stddev.Update(decimal.NewFromInt(10))
	stddev.Update(decimal.NewFromInt(10))
	result := stddev.Update(decimal.NewFromInt(10))

	// StdDev should be 0
	if !result.IsZero() {
		t.Errorf("StdDev of identical values = %s, want 0", result)
	}
}

func TestStdDev_Mean(t *testing.T) {
	stddev := NewStdDev(3)

	stddev.Update(decimal.NewFromInt(10))
	stddev.Update(decimal.NewFromInt(20))
	stddev.Update(decimal.NewFromInt(30))

	mean := stddev.Mean()
	expected := decimal.NewFromInt(20)
	if !mean.Equal(expected) {
		t.Errorf("Mean = %s, want %s", mean, expected)
	}
}

func TestStdDev_Reset(t *testing.T) {
	stddev := NewStdDev(3)

	stddev.Update(decimal.NewFromInt(10))
	stddev.Update(decimal.NewFromInt(20))
	stddev.Update(decimal.NewFromInt(30))

	stddev.Reset()

	if stddev.Ready() {
		t.Error("StdDev should not be ready after reset")
	}
}

func TestStdDev_Rolling(t *testing.T) {
	stddev := NewStdDev(3)

	// Add 4 values, window should only contain last 3
	stddev.Update(decimal.NewFromInt(100)) // Will be dropped
	stddev.Update(decimal.NewFromInt(10))
	stddev.Update(decimal.NewFromInt(20))
	result := stddev.Update(decimal.NewFromInt(30))

	// Mean of [10, 20, 30] = 20
	// StdDev ≈ 8.16
	expected := decimal.RequireFromString("8.16")
	diff := result.Sub(expected).Abs()
	if diff.GreaterThan(decimal.RequireFromString("0.01")) {
		t.Errorf("Rolling StdDev = %s, want approximately %s", result, expected)
	}
}

func TestSqrt(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"0", "0"},
		{"1", "1"},
		{"4", "2"},
		{"9", "3"},
		{"2", "1.41421356"},
		{"100", "10"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			input := decimal.RequireFromString(tt.input)
			expected := decimal.RequireFromString(tt.expected)
			result := sqrt(input)

			diff := result.Sub(expected).Abs()
			if diff.GreaterThan(decimal.RequireFromString("0.0001")) {
				t.Errorf("sqrt(%s) = %s, want %s", tt.input, result, expected)
			}
		})
	}
}

func TestReturnVolatility(t *testing.T) {
	v := NewReturnVolatility(2)

	// Returns: +100 bps, -100 bps -> mean 0, deviation 100.
	v.Update(decimal.NewFromInt(100))
	if v.Ready() {
		t.Error("volatility should not be ready after one close")
	}
	v.Update(decimal.NewFromInt(101))
	got := v.Update(decimal.RequireFromString("99.99"))

	if !v.Ready() {
		t.Fatal("volatility should be ready after two returns")
	}
	if got.Sub(decimal.NewFromInt(100)).Abs().GreaterThan(decimal.RequireFromString("0.01")) {
		t.Errorf("volatility = %s bps, want 100", got)
	}

	// A zero close is ignored.
	if after := v.Update(decimal.Zero); !after.Equal(got) {
		t.Errorf("volatility after zero close = %s, want %s", after, got)
	}

	v.Reset()
	if v.Ready() || !v.Current().IsZero() {
		t.Error("reset should clear volatility")
	}
}

func TestRing_Order(t *testing.T) {
	r := newRing(3)
	for i := 1; i <= 5; i++ {
		r.push(decimal.NewFromInt(int64(i)))
	}

	var got []int64
	r.each(func(v decimal.Decimal) { got = append(got, v.IntPart()) })
	if len(got) != 3 || got[0] != 3 || got[2] != 5 {
		t.Errorf("ring values = %v, want [3 4 5]", got)
	}

	evicted, ok := r.push(decimal.NewFromInt(6))
	if !ok || evicted.IntPart() != 3 {
		t.Errorf("evicted = %s, %v, want 3, true", evicted, ok)
	}
}

func TestReturnVolatility_Wraparound(t *testing.T) {
	v := NewReturnVolatility(2)

	// Two +10% returns: no dispersion.
	for _, c := range []string{"100", "110", "121"} {
		v.Update(d(c))
	}
	if !v.Ready() || !v.Current().IsZero() {
		t.Fatalf("volatility = %s ready=%v, want 0 ready", v.Current(), v.Ready())
	}

	// -10% evicts the first return: window [+1000, -1000] bps.
	if got := v.Update(d("108.9")); got.Sub(d("1000")).Abs().GreaterThan(d("0.0001")) {
		t.Errorf("volatility = %s, want 1000", got)
	}
	// +10% wraps again: window [-1000, +1000] bps.
	if got := v.Update(d("119.79")); got.Sub(d("1000")).Abs().GreaterThan(d("0.0001")) {
		t.Errorf("volatility after wrap = %s, want 1000", got)
	}

	v.Reset()
	// Without a previous close the first update yields no return.
	v.Update(d("50"))
	if v.Ready() {
		t.Error("volatility should not be ready one close after reset")
	}
}
