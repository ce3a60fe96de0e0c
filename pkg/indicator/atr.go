package indicator

import (
	"github.com/shopspring/decimal"
)

// ATR is the average true range over a rolling window, where
// true range = max(high - low, |high - prevClose|, |low - prevClose|).
type ATR struct {
	ranges    *SMA
	prevClose decimal.Decimal
	seen      bool
}

// NewATR creates an ATR over period bars.
func NewATR(period int) *ATR {
	return &ATR{ranges: NewSMA(period)}
}

// Update folds in one bar and returns the ATR, or zero until period bars
// have been seen. The first bar's true range is high - low.
func (a *ATR) Update(high, low, close decimal.Decimal) decimal.Decimal {
	tr := high.Sub(low)
	if a.seen {
		tr = decimal.Max(tr, high.Sub(a.prevClose).Abs(), low.Sub(a.prevClose).Abs())
	}
	a.prevClose = close
	a.seen = true
	return a.ranges.Update(tr)
}

// Current returns the ATR without adding data.
func (a *ATR) Current() decimal.Decimal {
	return a.ranges.Current()
}

// Ready reports whether period bars have been seen.
func (a *ATR) Ready() bool {
	return a.ranges.Ready()
}

// Period returns the ATR period.
func (a *ATR) Period() int {
	return a.ranges.Period()
}

// Reset clears all data.
func (a *ATR) Reset() {
	a.ranges.Reset()
	a.prevClose = decimal.Zero
	a.seen = false
}
