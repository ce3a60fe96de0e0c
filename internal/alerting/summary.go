package alerting

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/tathienbao/quant-exec/internal/types"
)

// SessionSummary aggregates protective-order outcomes for a service session.
type SessionSummary struct {
	Start           time.Time
	End             time.Time
	PositionsOpened int
	PositionsClosed int
	OpenPositions   int
	TotalTrades     int
	WinningTrades   int
	LosingTrades    int
	RealizedPL      decimal.Decimal
	WinRate         decimal.Decimal
	OCOCorrections  int
	Adopted         int
}

// SessionCounters are the position-manager counts fed into a summary.
type SessionCounters struct {
	Opened      int
	Closed      int
	Open        int
	Corrections int
	Adopted     int
}

// NewSessionSummary builds a summary from the session's realized trades.
func NewSessionSummary(start, end time.Time, trades []types.Trade, c SessionCounters) SessionSummary {
	s := SessionSummary{
		Start:           start,
		End:             end,
		PositionsOpened: c.Opened,
		PositionsClosed: c.Closed,
		OpenPositions:   c.Open,
		OCOCorrections:  c.Corrections,
		Adopted:         c.Adopted,
		TotalTrades:     len(trades),
		RealizedPL:      decimal.Zero,
	}

	for _, tr := range trades {
		s.RealizedPL = s.RealizedPL.Add(tr.RealizedPL)
		switch {
		case tr.RealizedPL.IsPositive():
			s.WinningTrades++
		case tr.RealizedPL.IsNegative():
			s.LosingTrades++
		}
	}

	if s.TotalTrades > 0 {
		s.WinRate = decimal.NewFromInt(int64(s.WinningTrades)).
			Div(decimal.NewFromInt(int64(s.TotalTrades))).
			Mul(decimal.NewFromInt(100))
	}

	return s
}
