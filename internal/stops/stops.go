// Package stops computes protective stop-loss, take-profit, trailing and
// breakeven levels for a position.
package stops

import (
	"fmt"
	"strings"
	"sync"

	"github.com/shopspring/decimal"
	"github.com/tathienbao/quant-exec/internal/types"
)

var hundred = decimal.NewFromInt(100)

// Mode selects how offsets are derived.
type Mode string

const (
	ModePercent Mode = "PERCENT"
	ModeATR     Mode = "ATR"
)

// ParseMode parses a mode name, case-insensitively.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToUpper(strings.TrimSpace(s))) {
	case ModePercent:
		return ModePercent, nil
	case ModeATR:
		return ModeATR, nil
	default:
		return "", fmt.Errorf("%w: stop mode %q", types.ErrInvalidConfig, s)
	}
}

// Params is a fully resolved stop configuration. Percentages are in
// percent units (0.6 means 0.6%).
type Params struct {
	Mode                Mode
	SLPct               decimal.Decimal
	TPPct               decimal.Decimal
	SLAtrMult           decimal.Decimal
	TPAtrMult           decimal.Decimal
	TrailingEnabled     bool
	TrailingPct         decimal.Decimal
	TrailingAtrMult     decimal.Decimal
	BreakevenEnabled    bool
	BreakevenTriggerPct decimal.Decimal
}

// DefaultParams returns the global defaults.
func DefaultParams() Params {
	return Params{
		Mode:                ModePercent,
		SLPct:               decimal.RequireFromString("0.6"),
		TPPct:               decimal.RequireFromString("1.2"),
		SLAtrMult:           decimal.RequireFromString("1.5"),
		TPAtrMult:           decimal.RequireFromString("3.0"),
		TrailingEnabled:     true,
		TrailingPct:         decimal.RequireFromString("0.5"),
		TrailingAtrMult:     decimal.NewFromInt(1),
		BreakevenEnabled:    true,
		BreakevenTriggerPct: decimal.RequireFromString("0.4"),
	}
}

// Override holds per-symbol settings. Nil fields inherit the default.
type Override struct {
	Mode                *Mode
	SLPct               *decimal.Decimal
	TPPct               *decimal.Decimal
	SLAtrMult           *decimal.Decimal
	TPAtrMult           *decimal.Decimal
	TrailingEnabled     *bool
	TrailingPct         *decimal.Decimal
	TrailingAtrMult     *decimal.Decimal
	BreakevenEnabled    *bool
	BreakevenTriggerPct *decimal.Decimal
}

// Apply returns base with the override's non-nil fields applied.
func (o Override) Apply(base Params) Params {
	p := base
	if o.Mode != nil {
		p.Mode = *o.Mode
	}
	setDec(&p.SLPct, o.SLPct)
	setDec(&p.TPPct, o.TPPct)
	setDec(&p.SLAtrMult, o.SLAtrMult)
	setDec(&p.TPAtrMult, o.TPAtrMult)
	if o.TrailingEnabled != nil {
		p.TrailingEnabled = *o.TrailingEnabled
	}
	setDec(&p.TrailingPct, o.TrailingPct)
	setDec(&p.TrailingAtrMult, o.TrailingAtrMult)
	if o.BreakevenEnabled != nil {
		p.BreakevenEnabled = *o.BreakevenEnabled
	}
	setDec(&p.BreakevenTriggerPct, o.BreakevenTriggerPct)
	return p
}

func setDec(dst *decimal.Decimal, v *decimal.Decimal) {
	if v != nil {
		*dst = *v
	}
}

// Config holds the global defaults and per-symbol overrides.
type Config struct {
	Defaults Params
	Symbols  map[string]Override
}

// DefaultConfig returns default stop config.
func DefaultConfig() Config {
	return Config{Defaults: DefaultParams(), Symbols: map[string]Override{}}
}

// Validate rejects negative offsets and unknown modes.
func (p Params) Validate() error {
	if p.Mode != ModePercent && p.Mode != ModeATR {
		return fmt.Errorf("%w: stop mode %q", types.ErrInvalidConfig, p.Mode)
	}
	for name, v := range map[string]decimal.Decimal{
		"sl_pct":                p.SLPct,
		"tp_pct":                p.TPPct,
		"sl_atr_mult":           p.SLAtrMult,
		"tp_atr_mult":           p.TPAtrMult,
		"trailing_pct":          p.TrailingPct,
		"trailing_atr_mult":     p.TrailingAtrMult,
		"breakeven_trigger_pct": p.BreakevenTriggerPct,
	} {
		if v.IsNegative() {
			return fmt.Errorf("%w: stops %s must not be negative", types.ErrInvalidConfig, name)
		}
	}
	return nil
}

// Plan is the set of protective levels for a new position. Zero
// TrailingOffset or BreakevenTrigger means the feature is disabled.
type Plan struct {
	StopLoss         decimal.Decimal
	TakeProfit       decimal.Decimal
	TrailingOffset   decimal.Decimal
	BreakevenTrigger decimal.Decimal
	Params           Params
}

// Trailing returns the position trailing configuration for the plan.
func (p Plan) Trailing() types.TrailingConfig {
	return types.TrailingConfig{
		Enabled:          p.TrailingOffset.IsPositive(),
		Offset:           p.TrailingOffset,
		BreakevenTrigger: p.BreakevenTrigger,
	}
}

// Engine computes plans. Planning is pure; only the override table is
// mutable. Safe for concurrent use.
type Engine struct {
	mu        sync.RWMutex
	defaults  Params
	overrides map[string]Override
}

// NewEngine creates a stop engine.
func NewEngine(cfg Config) *Engine {
	e := &Engine{
		defaults:  cfg.Defaults,
		overrides: make(map[string]Override, len(cfg.Symbols)),
	}
	for sym, o := range cfg.Symbols {
		e.overrides[strings.ToUpper(sym)] = o
	}
	return e
}

// Params returns the resolved configuration for symbol.
func (e *Engine) Params(symbol string) Params {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if o, ok := e.overrides[strings.ToUpper(symbol)]; ok {
		return o.Apply(e.defaults)
	}
	return e.defaults
}

// UpdateConfiguration replaces the override for symbol.
func (e *Engine) UpdateConfiguration(symbol string, o Override) error {
	if err := o.Apply(e.Params("")).Validate(); err != nil {
		return err
	}
	e.mu.Lock()
	e.overrides[strings.ToUpper(symbol)] = o
	e.mu.Unlock()
	return nil
}

// Status reports the effective configuration for symbol and whether it
// comes from a symbol override.
func (e *Engine) Status(symbol string) (Params, bool) {
	e.mu.RLock()
	_, overridden := e.overrides[strings.ToUpper(symbol)]
	e.mu.RUnlock()
	return e.Params(symbol), overridden
}

// Plan computes levels for a position entered at entry. In ATR mode a
// positive atr is required; otherwise percentage offsets are used.
func (e *Engine) Plan(symbol string, side types.Side, entry, atr decimal.Decimal) (Plan, error) {
	if side != types.SideBuy && side != types.SideSell {
		return Plan{}, fmt.Errorf("%w: side %s", types.ErrInvalidRequest, side)
	}
	if !entry.IsPositive() {
		return Plan{}, fmt.Errorf("%w: entry %s", types.ErrInvalidPrice, entry)
	}

	p := e.Params(symbol)
	useATR := p.Mode == ModeATR && atr.IsPositive()

	var slOffset, tpOffset decimal.Decimal
	if useATR {
		slOffset = atr.Mul(p.SLAtrMult)
		tpOffset = atr.Mul(p.TPAtrMult)
	} else {
		slOffset = entry.Mul(pct(p.SLPct))
		tpOffset = entry.Mul(pct(p.TPPct))
	}

	// BUY: stop below, target above. SELL is mirrored.
	sign := side.Sign()
	plan := Plan{
		StopLoss:   entry.Sub(slOffset.Mul(sign)),
		TakeProfit: entry.Add(tpOffset.Mul(sign)),
		Params:     p,
	}

	if p.TrailingEnabled {
		plan.TrailingOffset = trailingOffset(p, entry, atr, useATR)
	}
	if p.BreakevenEnabled {
		plan.BreakevenTrigger = entry.Mul(decimal.NewFromInt(1).Add(pct(p.BreakevenTriggerPct).Mul(sign))).Round(8)
	}
	return plan, nil
}

func trailingOffset(p Params, entry, atr decimal.Decimal, useATR bool) decimal.Decimal {
	var off decimal.Decimal
	if useATR {
		off = atr.Mul(p.TrailingAtrMult)
	} else {
		off = entry.Mul(pct(p.TrailingPct))
	}
	return decimal.Max(off, decimal.Zero)
}

// AdjustmentKind names why a stop moved.
type AdjustmentKind string

const (
	AdjustTrailing  AdjustmentKind = "trailing"
	AdjustBreakeven AdjustmentKind = "breakeven"
)

// Adjustment is a proposed new stop price.
type Adjustment struct {
	Kind     AdjustmentKind
	NewStop  decimal.Decimal
	OldStop  decimal.Decimal
	Price    decimal.Decimal
	Position string
}

// Adjust proposes a tighter stop for an open position given the latest
// price. The stop only ever moves in the favorable direction, and never
// through price. ok is false when no move is warranted.
func (e *Engine) Adjust(pos types.Position, price, atr decimal.Decimal) (Adjustment, bool) {
	if pos.Status != types.PositionOpen || !price.IsPositive() || pos.StopLoss.IsZero() {
		return Adjustment{}, false
	}
	p := e.Params(pos.Symbol)
	buy := pos.Side == types.SideBuy

	best := pos.StopLoss
	kind := AdjustmentKind("")

	if p.TrailingEnabled && pos.Trailing.Enabled {
		offset := pos.Trailing.Offset
		if p.Mode == ModeATR && atr.IsPositive() {
			offset = atr.Mul(p.TrailingAtrMult)
		}
		if offset.IsPositive() {
			candidate := price.Sub(offset)
			if !buy {
				candidate = price.Add(offset)
			}
			if tighter(buy, candidate, best) && inside(buy, candidate, price) {
				best, kind = candidate, AdjustTrailing
			}
		}
	}

	trigger := pos.Trailing.BreakevenTrigger
	if p.BreakevenEnabled && trigger.IsPositive() {
		reached := price.GreaterThanOrEqual(trigger)
		if !buy {
			reached = price.LessThanOrEqual(trigger)
		}
		if reached && tighter(buy, pos.EntryPrice, best) {
			best, kind = pos.EntryPrice, AdjustBreakeven
		}
	}

	if kind == "" {
		return Adjustment{}, false
	}
	return Adjustment{
		Kind:     kind,
		NewStop:  best,
		OldStop:  pos.StopLoss,
		Price:    price,
		Position: pos.ID,
	}, true
}

// tighter reports whether candidate protects more than current.
func tighter(buy bool, candidate, current decimal.Decimal) bool {
	if buy {
		return candidate.GreaterThan(current)
	}
	return candidate.LessThan(current)
}

// inside reports whether a stop at candidate would not trigger at price.
func inside(buy bool, candidate, price decimal.Decimal) bool {
	if buy {
		return candidate.LessThan(price)
	}
	return candidate.GreaterThan(price)
}

func pct(v decimal.Decimal) decimal.Decimal {
	return v.Div(hundred)
}
