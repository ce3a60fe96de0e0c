// Package execution chooses how to work an order and carries that choice
// out against a venue.
package execution

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tathienbao/quant-exec/internal/types"
)

// Request describes an order to work. It is immutable once built.
type Request struct {
	Symbol         string
	Side           types.Side
	Quantity       decimal.Decimal
	ReferencePrice decimal.Decimal
	Notional       decimal.Decimal
	Rules          types.TradingRules
	Urgency        types.Urgency
	MaxSlippageBps float64
	Deadline       time.Time
	DryRun         bool

	Volume24h             decimal.Decimal
	ATR                   decimal.Decimal
	SpreadBps             float64
	ExpectedVolatilityBps float64
	Latency               time.Duration

	// BaseClientOrderID prefixes every client order id the engine derives.
	BaseClientOrderID string
}

// NewRequest builds a request and checks it against now. The deadline
// must not be in the past at creation.
func NewRequest(r Request, now time.Time) (Request, error) {
	if r.Notional.IsZero() {
		r.Notional = r.Quantity.Mul(r.ReferencePrice)
	}
	if err := r.Validate(); err != nil {
		return Request{}, err
	}
	if r.Deadline.Before(now) {
		return Request{}, fmt.Errorf("%w: deadline %s is in the past", types.ErrInvalidRequest, r.Deadline.Format(time.RFC3339))
	}
	return r, nil
}

// Validate checks required fields. It does not look at the deadline: an
// expired deadline at execution time is handled by the engine.
func (r Request) Validate() error {
	switch {
	case r.Symbol == "":
		return fmt.Errorf("%w: %w", types.ErrInvalidRequest, types.ErrInvalidSymbol)
	case r.Side != types.SideBuy && r.Side != types.SideSell:
		return fmt.Errorf("%w: side %s", types.ErrInvalidRequest, r.Side)
	case !r.Quantity.IsPositive():
		return fmt.Errorf("%w: %w: %s", types.ErrInvalidRequest, types.ErrInvalidQuantity, r.Quantity)
	case !r.ReferencePrice.IsPositive():
		return fmt.Errorf("%w: %w: reference %s", types.ErrInvalidRequest, types.ErrInvalidPrice, r.ReferencePrice)
	case r.Deadline.IsZero():
		return fmt.Errorf("%w: deadline required", types.ErrInvalidRequest)
	case r.BaseClientOrderID == "":
		return fmt.Errorf("%w: base client order id required", types.ErrInvalidRequest)
	}
	return nil
}

// Snapshot is the market state at decision time.
type Snapshot struct {
	MidPrice       decimal.Decimal
	SpreadBps      float64
	VolatilityBps  float64
	Latency        time.Duration
	BarVolume      decimal.Decimal
	QuoteBarVolume decimal.Decimal
}

// Validate checks the snapshot is usable.
func (s Snapshot) Validate() error {
	if !s.MidPrice.IsPositive() {
		return fmt.Errorf("%w: snapshot mid price %s", types.ErrInvalidPrice, s.MidPrice)
	}
	return nil
}

// Plan is the chosen way of working an order: one of MarketPlan,
// LimitPlan, TwapPlan or PovPlan.
type Plan interface {
	Name() string
	plan()
}

// MarketPlan sends a single market order.
type MarketPlan struct{}

// LimitPlan rests a limit order, requoting with a widening buffer.
type LimitPlan struct {
	BufferBps  float64
	TTL        time.Duration
	MaxRetries int
}

// TwapPlan splits the order into equal market slices over Window.
type TwapPlan struct {
	Slices int
	Window time.Duration
}

// PovPlan paces market slices at a share of observed volume.
type PovPlan struct {
	TargetParticipation float64
}

func (MarketPlan) Name() string { return "MARKET" }
func (LimitPlan) Name() string  { return "LIMIT" }
func (TwapPlan) Name() string   { return "TWAP" }
func (PovPlan) Name() string    { return "POV" }

func (MarketPlan) plan() {}
func (LimitPlan) plan()  {}
func (TwapPlan) plan()   {}
func (PovPlan) plan()    {}

// Order is one venue submission made while executing a plan.
type Order struct {
	ClientOrderID string
	ExchangeID    string
	Type          types.OrderType
	Quantity      decimal.Decimal // requested
	LimitPrice    decimal.Decimal
	ExecutedQty   decimal.Decimal
	FillPrice     decimal.Decimal
	Status        types.OrderStatus
	Err           error
}

// Result is the outcome of an execution.
type Result struct {
	Plan         Plan
	Override     string
	Orders       []Order
	ExecutedQty  decimal.Decimal
	AveragePrice decimal.Decimal
}

// Remaining returns requested minus executed quantity.
func (r *Result) Remaining(requested decimal.Decimal) decimal.Decimal {
	return requested.Sub(r.ExecutedQty)
}

// fills accumulates executed quantity and quote across orders.
type fills struct {
	qty   decimal.Decimal
	quote decimal.Decimal
}

func (f *fills) add(qty, price decimal.Decimal) {
	if !qty.IsPositive() {
		return
	}
	f.qty = f.qty.Add(qty)
	f.quote = f.quote.Add(qty.Mul(price))
}

// average is the fill-weighted mean price, or fallback with no fills.
func (f *fills) average(fallback decimal.Decimal) decimal.Decimal {
	if !f.qty.IsPositive() {
		return fallback
	}
	return f.quote.DivRound(f.qty, 8)
}
