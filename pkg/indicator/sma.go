// Package indicator provides rolling-window indicators over decimal series.
package indicator

import (
	"github.com/shopspring/decimal"
)

// SMA is a simple moving average.
type SMA struct {
	window *ring
	sum    decimal.Decimal
}

// NewSMA creates an SMA over period values. Periods below one become one.
func NewSMA(period int) *SMA {
	return &SMA{window: newRing(period)}
}

// Update adds a value and returns the average, or zero until the window
// is full.
func (s *SMA) Update(value decimal.Decimal) decimal.Decimal {
	if old, ok := s.window.push(value); ok {
		s.sum = s.sum.Sub(old)
	}
	s.sum = s.sum.Add(value)
	return s.Current()
}

// Current returns the average without adding data.
func (s *SMA) Current() decimal.Decimal {
	if !s.window.full() {
		return decimal.Zero
	}
	return s.sum.Div(decimal.NewFromInt(int64(s.window.capacity())))
}

// Ready reports whether the window is full.
func (s *SMA) Ready() bool {
	return s.window.full()
}

// Period returns the window length.
func (s *SMA) Period() int {
	return s.window.capacity()
}

// Reset clears all data.
func (s *SMA) Reset() {
	s.window.reset()
	s.sum = decimal.Zero
}

// Count returns the number of values currently held.
func (s *SMA) Count() int {
	return s.window.size()
}
