package market

import (
	"strings"
	"sync"

	"github.com/shopspring/decimal"
	"github.com/tathienbao/quant-exec/internal/execution"
	"github.com/tathienbao/quant-exec/internal/types"
)

// Tracker keeps one Calculator per symbol. Safe for concurrent use.
type Tracker struct {
	cfg CalculatorConfig

	mu    sync.RWMutex
	calcs map[string]*Calculator
}

// NewTracker creates a tracker whose calculators use cfg.
func NewTracker(cfg CalculatorConfig) *Tracker {
	return &Tracker{cfg: cfg, calcs: make(map[string]*Calculator)}
}

// OnBar folds a bar into its symbol's calculator.
func (t *Tracker) OnBar(event types.MarketEvent) execution.Snapshot {
	symbol := strings.ToUpper(event.Symbol)

	t.mu.Lock()
	defer t.mu.Unlock()
	c, ok := t.calcs[symbol]
	if !ok {
		c = NewCalculator(t.cfg)
		t.calcs[symbol] = c
	}
	return c.OnBar(event)
}

// Snapshot returns the latest snapshot for symbol. ok is false before the
// first bar.
func (t *Tracker) Snapshot(symbol string) (execution.Snapshot, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	c, ok := t.calcs[strings.ToUpper(symbol)]
	if !ok {
		return execution.Snapshot{}, false
	}
	return c.Snapshot(), true
}

// ATR returns the current ATR for symbol, zero when unknown.
func (t *Tracker) ATR(symbol string) decimal.Decimal {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if c, ok := t.calcs[strings.ToUpper(symbol)]; ok {
		return c.ATR()
	}
	return decimal.Zero
}

// Reset drops all symbol state.
func (t *Tracker) Reset() {
	t.mu.Lock()
	t.calcs = make(map[string]*Calculator)
	t.mu.Unlock()
}
