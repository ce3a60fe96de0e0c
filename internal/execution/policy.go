package execution

import (
	"math"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tathienbao/quant-exec/internal/types"
)

// LimitConfig configures limit-with-requote execution.
type LimitConfig struct {
	TTL                time.Duration
	BufferBps          float64
	MaxRetries         int
	SpreadThresholdBps float64 // spreads at or above this are "wide"
}

// TwapConfig configures time slicing.
type TwapConfig struct {
	Slices int
	Window time.Duration
}

// PovConfig configures participation slicing.
type PovConfig struct {
	TargetPct        float64 // fraction of bar volume, 0.10 = 10%
	ReassessInterval time.Duration
	DefaultSliceQty  decimal.Decimal // slice size when bar volume is unknown; zero uses 10x remaining volume estimate
}

// Config holds execution configuration.
type Config struct {
	DefaultOrderType types.OrderType
	Limit            LimitConfig
	Twap             TwapConfig
	Pov              PovConfig
}

// DefaultConfig returns default execution config.
func DefaultConfig() Config {
	return Config{
		DefaultOrderType: types.OrderTypeLimit,
		Limit: LimitConfig{
			TTL:                4 * time.Second,
			BufferBps:          2,
			MaxRetries:         1,
			SpreadThresholdBps: 5,
		},
		Twap: TwapConfig{
			Slices: 5,
			Window: 20 * time.Second,
		},
		Pov: PovConfig{
			TargetPct:        0.10,
			ReassessInterval: time.Minute,
		},
	}
}

// SlippageOracle estimates slippage in bps. NaN means unknown.
type SlippageOracle interface {
	ExpectedSlippageBps(symbol string, orderType types.OrderType, asOf time.Time) float64
}

// Policy maps a request and snapshot to a plan. It has no side effects.
type Policy struct {
	cfg Config
	now func() time.Time
}

// NewPolicy creates a policy.
func NewPolicy(cfg Config) *Policy {
	return &Policy{cfg: cfg, now: time.Now}
}

// PlanFor picks a plan. The first matching rule wins:
//
//  1. HIGH urgency: market.
//  2. Known expected market slippage within the request's tolerance: market.
//  3. Large order (qty / bar volume above target): TWAP above twice the
//     target, else POV at the target (floored at 1%).
//  4. Wide spread and LOW urgency: limit.
//  5. The configured default order type.
func (p *Policy) PlanFor(req Request, snap Snapshot, oracle SlippageOracle) Plan {
	asOf := p.now()
	expectedMarket := expected(oracle, req.Symbol, types.OrderTypeMarket, asOf)
	expectedLimit := expected(oracle, req.Symbol, types.OrderTypeLimit, asOf)

	if req.Urgency == types.UrgencyHigh {
		return MarketPlan{}
	}

	if !math.IsNaN(expectedMarket) && expectedMarket <= req.MaxSlippageBps {
		return MarketPlan{}
	}

	if participation, ok := participationRatio(req.Quantity, snap.BarVolume); ok && participation > p.cfg.Pov.TargetPct {
		if participation > p.cfg.Pov.TargetPct*2 {
			return p.twapPlan()
		}
		return PovPlan{TargetParticipation: math.Max(0.01, p.cfg.Pov.TargetPct)}
	}

	if snap.SpreadBps >= p.cfg.Limit.SpreadThresholdBps && req.Urgency == types.UrgencyLow {
		return p.limitPlan(expectedLimit)
	}

	if p.cfg.DefaultOrderType == types.OrderTypeMarket {
		return MarketPlan{}
	}
	return p.limitPlan(expectedLimit)
}

func (p *Policy) twapPlan() TwapPlan {
	return TwapPlan{Slices: max(2, p.cfg.Twap.Slices), Window: p.cfg.Twap.Window}
}

func (p *Policy) limitPlan(expectedLimit float64) LimitPlan {
	buffer := p.cfg.Limit.BufferBps
	if !math.IsNaN(expectedLimit) && expectedLimit > 0 {
		buffer = math.Max(buffer, expectedLimit/2)
	}
	return LimitPlan{
		BufferBps:  buffer,
		TTL:        p.cfg.Limit.TTL,
		MaxRetries: p.cfg.Limit.MaxRetries,
	}
}

func expected(oracle SlippageOracle, symbol string, orderType types.OrderType, asOf time.Time) float64 {
	if oracle == nil {
		return math.NaN()
	}
	return oracle.ExpectedSlippageBps(symbol, orderType, asOf)
}

// participationRatio is qty / bar volume. ok is false when volume is
// unknown or zero.
func participationRatio(qty, barVolume decimal.Decimal) (float64, bool) {
	if !barVolume.IsPositive() {
		return 0, false
	}
	return qty.DivRound(barVolume, 8).InexactFloat64(), true
}
