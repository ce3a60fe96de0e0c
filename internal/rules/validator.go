// Package rules normalizes order submissions to venue trading rules.
package rules

import (
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/tathienbao/quant-exec/internal/types"
	"github.com/tathienbao/quant-exec/internal/venue"
)

// QuoteScale is the precision kept for quote amounts.
const QuoteScale = 8

// Validator snaps prices and quantities to the venue grid and enforces
// minimum size constraints.
type Validator struct{}

// NewValidator creates a validator.
func NewValidator() *Validator {
	return &Validator{}
}

// Validate returns a normalized copy of req, or an error if it cannot be
// placed under rules. ref is the reference price used for notional checks
// on market orders.
//
//	LIMIT:           price floored to tick, qty floored to step, notional checked
//	MARKET BUY quote: quote truncated to QuoteScale
//	MARKET:          qty floored to step, notional checked
func (v *Validator) Validate(req venue.OrderRequest, r types.TradingRules, ref decimal.Decimal) (venue.OrderRequest, error) {
	if req.Symbol == "" {
		return req, types.ErrInvalidSymbol
	}

	switch {
	case req.Type == types.OrderTypeLimit:
		if !req.Price.IsPositive() {
			return req, fmt.Errorf("%w: limit price %s", types.ErrInvalidPrice, req.Price)
		}
		req.Price = FloorToStep(req.Price, r.TickSize)
		req.Quantity = FloorToStep(req.Quantity, r.StepSize)
		if err := checkQty(req.Quantity, r); err != nil {
			return req, err
		}
		if err := checkNotional(req.Price.Mul(req.Quantity), r); err != nil {
			return req, err
		}

	case req.Side == types.SideBuy && req.QuoteAmount.IsPositive():
		req.QuoteAmount = req.QuoteAmount.Truncate(QuoteScale)
		if err := checkNotional(req.QuoteAmount, r); err != nil {
			return req, err
		}

	default:
		req.Quantity = FloorToStep(req.Quantity, r.StepSize)
		if err := checkQty(req.Quantity, r); err != nil {
			return req, err
		}
		if ref.IsPositive() {
			if err := checkNotional(ref.Mul(req.Quantity), r); err != nil {
				return req, err
			}
		}
	}

	return req, nil
}

// FloorToStep rounds v down to a multiple of step. A non-positive step
// leaves v unchanged.
func FloorToStep(v, step decimal.Decimal) decimal.Decimal {
	if !step.IsPositive() {
		return v
	}
	return v.Div(step).Floor().Mul(step)
}

func checkQty(qty decimal.Decimal, r types.TradingRules) error {
	if !qty.IsPositive() {
		return fmt.Errorf("%w: %s after step rounding", types.ErrInvalidQuantity, qty)
	}
	if r.MinQty.IsPositive() && qty.LessThan(r.MinQty) {
		return fmt.Errorf("%w: %s below min %s", types.ErrInvalidQuantity, qty, r.MinQty)
	}
	return nil
}

func checkNotional(notional decimal.Decimal, r types.TradingRules) error {
	if r.MinNotional.IsPositive() && notional.LessThan(r.MinNotional) {
		return fmt.Errorf("%w: %s < %s", types.ErrBelowMinNotional, notional, r.MinNotional)
	}
	return nil
}
