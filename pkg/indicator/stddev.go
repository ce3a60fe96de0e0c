package indicator

import (
	"github.com/shopspring/decimal"
)

var bps = decimal.NewFromInt(10000)

// StdDev is the population standard deviation over a rolling window.
type StdDev struct {
	window *ring
	mean   *SMA
}

// NewStdDev creates a StdDev over period values.
func NewStdDev(period int) *StdDev {
	return &StdDev{window: newRing(period), mean: NewSMA(period)}
}

// Update adds a value and returns the deviation, or zero until the window
// is full.
func (s *StdDev) Update(value decimal.Decimal) decimal.Decimal {
	s.window.push(value)
	s.mean.Update(value)
	return s.Current()
}

// Current returns the deviation without adding data.
func (s *StdDev) Current() decimal.Decimal {
	if !s.window.full() {
		return decimal.Zero
	}
	mean := s.mean.Current()
	var sumSquares decimal.Decimal
	s.window.each(func(v decimal.Decimal) {
		diff := v.Sub(mean)
		sumSquares = sumSquares.Add(diff.Mul(diff))
	})
	return sqrt(sumSquares.Div(decimal.NewFromInt(int64(s.window.size()))))
}

// Ready reports whether the window is full.
func (s *StdDev) Ready() bool {
	return s.window.full()
}

// Period returns the window length.
func (s *StdDev) Period() int {
	return s.window.capacity()
}

// Reset clears all data.
func (s *StdDev) Reset() {
	s.window.reset()
	s.mean.Reset()
}

// Mean returns the window average.
func (s *StdDev) Mean() decimal.Decimal {
	return s.mean.Current()
}

// ReturnVolatility is the standard deviation of close-to-close returns,
// in basis points.
type ReturnVolatility struct {
	returns   *StdDev
	prevClose decimal.Decimal
}

// NewReturnVolatility creates a volatility estimate over period returns.
func NewReturnVolatility(period int) *ReturnVolatility {
	return &ReturnVolatility{returns: NewStdDev(period)}
}

// Update folds in a close and returns the volatility in bps, or zero
// until period returns have been seen. Non-positive closes are ignored.
func (v *ReturnVolatility) Update(close decimal.Decimal) decimal.Decimal {
	if !close.IsPositive() {
		return v.Current()
	}
	if v.prevClose.IsPositive() {
		r := close.Sub(v.prevClose).Div(v.prevClose).Mul(bps)
		v.returns.Update(r)
	}
	v.prevClose = close
	return v.Current()
}

// Current returns the volatility without adding data.
func (v *ReturnVolatility) Current() decimal.Decimal {
	return v.returns.Current()
}

// Ready reports whether period returns have been seen.
func (v *ReturnVolatility) Ready() bool {
	return v.returns.Ready()
}

// Reset clears all data.
func (v *ReturnVolatility) Reset() {
	v.returns.Reset()
	v.prevClose = decimal.Zero
}

// sqrt is Newton's method to 8 decimal places.
func sqrt(d decimal.Decimal) decimal.Decimal {
	if !d.IsPositive() {
		return decimal.Zero
	}

	two := decimal.NewFromInt(2)
	epsilon := decimal.New(1, -8)

	guess := d.Div(two)
	if guess.IsZero() {
		guess = decimal.NewFromInt(1)
	}
	for i := 0; i < 100; i++ {
		next := guess.Add(d.Div(guess)).Div(two)
		if next.Sub(guess).Abs().LessThan(epsilon) {
			return next.Round(8)
		}
		guess = next
	}
	return guess.Round(8)
}
