package market

import (
	"github.com/shopspring/decimal"
	"github.com/tathienbao/quant-exec/internal/execution"
	"github.com/tathienbao/quant-exec/internal/types"
	"github.com/tathienbao/quant-exec/pkg/indicator"
)

var (
	two = decimal.NewFromInt(2)
	bps = decimal.NewFromInt(10000)
)

// CalculatorConfig holds configuration for the indicator calculator.
type CalculatorConfig struct {
	ATRPeriod   int // Bars in the ATR window
	VolLookback int // Returns in the volatility window
}

// DefaultCalculatorConfig returns sensible defaults.
func DefaultCalculatorConfig() CalculatorConfig {
	return CalculatorConfig{
		ATRPeriod:   14,
		VolLookback: 20,
	}
}

// Calculator folds bars of one symbol into the ATR used by the stop engine
// and the snapshot used by the execution policy. Not safe for concurrent
// use; Tracker serializes access.
type Calculator struct {
	cfg  CalculatorConfig
	atr  *indicator.ATR
	vol  *indicator.ReturnVolatility
	last types.MarketEvent
	bars int
}

// NewCalculator creates a new indicator calculator.
func NewCalculator(cfg CalculatorConfig) *Calculator {
	return &Calculator{
		cfg: cfg,
		atr: indicator.NewATR(cfg.ATRPeriod),
		vol: indicator.NewReturnVolatility(cfg.VolLookback),
	}
}

// OnBar processes a bar and returns the resulting snapshot.
func (c *Calculator) OnBar(event types.MarketEvent) execution.Snapshot {
	c.atr.Update(event.High, event.Low, event.Close)
	c.vol.Update(event.Close)
	c.last = event
	c.bars++
	return c.Snapshot()
}

// Snapshot returns the market state after the last bar. Mid and spread
// come from the bar's quote when it has one, else mid is the close and
// spread is zero.
func (c *Calculator) Snapshot() execution.Snapshot {
	e := c.last
	mid := e.Close
	var spread float64
	if e.BidPrice.IsPositive() && e.AskPrice.GreaterThanOrEqual(e.BidPrice) {
		mid = e.BidPrice.Add(e.AskPrice).Div(two)
		spread = e.AskPrice.Sub(e.BidPrice).Div(mid).Mul(bps).InexactFloat64()
	}
	return execution.Snapshot{
		MidPrice:       mid,
		SpreadBps:      spread,
		VolatilityBps:  c.vol.Current().InexactFloat64(),
		BarVolume:      e.Volume,
		QuoteBarVolume: e.Volume.Mul(e.Close),
	}
}

// Reset clears all indicator state.
func (c *Calculator) Reset() {
	c.atr.Reset()
	c.vol.Reset()
	c.last = types.MarketEvent{}
	c.bars = 0
}

// Ready returns true if all indicators have enough data.
func (c *Calculator) Ready() bool {
	return c.atr.Ready() && c.vol.Ready()
}

// Bars returns the number of bars processed since the last reset.
func (c *Calculator) Bars() int {
	return c.bars
}

// ATR returns the current ATR, zero until ready.
func (c *Calculator) ATR() decimal.Decimal {
	return c.atr.Current()
}

// LastPrice returns the close of the last bar.
func (c *Calculator) LastPrice() decimal.Decimal {
	return c.last.Close
}
