// Package types defines shared types used across the execution engine.
package types

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Side represents the direction of an order or position.
type Side int

const (
	SideNone Side = iota
	SideBuy
	SideSell
)

func (s Side) String() string {
	switch s {
	case SideBuy:
		return "BUY"
	case SideSell:
		return "SELL"
	default:
		return "NONE"
	}
}

// Opposite returns the opposite side.
func (s Side) Opposite() Side {
	switch s {
	case SideBuy:
		return SideSell
	case SideSell:
		return SideBuy
	default:
		return SideNone
	}
}

// Sign returns +1 for BUY, -1 for SELL and 0 otherwise.
func (s Side) Sign() decimal.Decimal {
	switch s {
	case SideBuy:
		return decimal.NewFromInt(1)
	case SideSell:
		return decimal.NewFromInt(-1)
	default:
		return decimal.Zero
	}
}

// ParseSide parses "BUY"/"SELL" (case-insensitive).
func ParseSide(s string) (Side, bool) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "BUY":
		return SideBuy, true
	case "SELL":
		return SideSell, true
	default:
		return SideNone, false
	}
}

// OrderType is the venue order type used for a submission.
type OrderType int

const (
	OrderTypeMarket OrderType = iota
	OrderTypeLimit
)

func (t OrderType) String() string {
	switch t {
	case OrderTypeLimit:
		return "LIMIT"
	default:
		return "MARKET"
	}
}

// ParseOrderType parses "MARKET"/"LIMIT" (case-insensitive).
func ParseOrderType(s string) (OrderType, bool) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "MARKET":
		return OrderTypeMarket, true
	case "LIMIT":
		return OrderTypeLimit, true
	default:
		return OrderTypeMarket, false
	}
}

// Urgency expresses how quickly an order must be worked.
type Urgency int

const (
	UrgencyLow Urgency = iota
	UrgencyMedium
	UrgencyHigh
)

func (u Urgency) String() string {
	switch u {
	case UrgencyMedium:
		return "MEDIUM"
	case UrgencyHigh:
		return "HIGH"
	default:
		return "LOW"
	}
}

// ParseUrgency parses "LOW"/"MEDIUM"/"HIGH" (case-insensitive).
func ParseUrgency(s string) (Urgency, bool) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "LOW":
		return UrgencyLow, true
	case "MEDIUM":
		return UrgencyMedium, true
	case "HIGH":
		return UrgencyHigh, true
	default:
		return UrgencyLow, false
	}
}

// ManagedOrderType identifies a protective child order.
type ManagedOrderType int

const (
	ManagedStopLoss ManagedOrderType = iota
	ManagedTakeProfit
)

func (t ManagedOrderType) String() string {
	if t == ManagedTakeProfit {
		return "TAKE_PROFIT"
	}
	return "STOP_LOSS"
}

// Opposite returns the other leg of an OCO pair.
func (t ManagedOrderType) Opposite() ManagedOrderType {
	if t == ManagedTakeProfit {
		return ManagedStopLoss
	}
	return ManagedTakeProfit
}

// OrderStatus represents the state of a managed order.
type OrderStatus int

const (
	OrderStatusNew OrderStatus = iota
	OrderStatusWorking
	OrderStatusPartial
	OrderStatusFilled
	OrderStatusCanceled
	OrderStatusRejected
	OrderStatusError
)

func (s OrderStatus) String() string {
	switch s {
	case OrderStatusNew:
		return "NEW"
	case OrderStatusWorking:
		return "WORKING"
	case OrderStatusPartial:
		return "PARTIAL"
	case OrderStatusFilled:
		return "FILLED"
	case OrderStatusCanceled:
		return "CANCELED"
	case OrderStatusRejected:
		return "REJECTED"
	case OrderStatusError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// IsFinal returns true if the order is in a terminal state.
func (s OrderStatus) IsFinal() bool {
	switch s {
	case OrderStatusFilled, OrderStatusCanceled, OrderStatusRejected, OrderStatusError:
		return true
	default:
		return false
	}
}

// IsLive returns true for orders that may still execute at the venue.
func (s OrderStatus) IsLive() bool {
	return s == OrderStatusNew || s == OrderStatusWorking || s == OrderStatusPartial
}

// ParseOrderStatus parses a venue status string. Common venue aliases
// (PARTIALLY_FILLED, CANCELLED, EXPIRED, ACCEPTED) are accepted.
func ParseOrderStatus(s string) (OrderStatus, bool) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "NEW":
		return OrderStatusNew, true
	case "WORKING", "ACCEPTED", "OPEN":
		return OrderStatusWorking, true
	case "PARTIAL", "PARTIALLY_FILLED":
		return OrderStatusPartial, true
	case "FILLED":
		return OrderStatusFilled, true
	case "CANCELED", "CANCELLED", "EXPIRED":
		return OrderStatusCanceled, true
	case "REJECTED":
		return OrderStatusRejected, true
	case "ERROR":
		return OrderStatusError, true
	default:
		return OrderStatusNew, false
	}
}

// PositionStatus represents the lifecycle state of a position.
type PositionStatus int

const (
	PositionOpen PositionStatus = iota
	PositionClosed
	PositionError
)

func (s PositionStatus) String() string {
	switch s {
	case PositionClosed:
		return "CLOSED"
	case PositionError:
		return "ERROR"
	default:
		return "OPEN"
	}
}

// ParsePositionStatus parses the stored representation of a position status.
func ParsePositionStatus(s string) (PositionStatus, bool) {
	switch strings.ToUpper(s) {
	case "OPEN":
		return PositionOpen, true
	case "CLOSED":
		return PositionClosed, true
	case "ERROR":
		return PositionError, true
	default:
		return PositionOpen, false
	}
}

// TradingRules is a snapshot of the venue constraints for a symbol.
// A zero value disables the corresponding check.
type TradingRules struct {
	Symbol      string
	TickSize    decimal.Decimal // Minimum price increment
	StepSize    decimal.Decimal // Minimum quantity increment
	MinQty      decimal.Decimal
	MinNotional decimal.Decimal
}

// MarketEvent is an OHLCV bar used to derive market snapshots.
type MarketEvent struct {
	Symbol    string
	Timestamp time.Time
	Open      decimal.Decimal
	High      decimal.Decimal
	Low       decimal.Decimal
	Close     decimal.Decimal
	Volume    decimal.Decimal
	BidPrice  decimal.Decimal
	AskPrice  decimal.Decimal
}

// TrailingConfig describes trailing and breakeven behaviour for a position.
type TrailingConfig struct {
	Enabled          bool
	Offset           decimal.Decimal
	BreakevenTrigger decimal.Decimal // Zero when disabled
}

// Position is an open exposure owned by the position manager.
type Position struct {
	ID            string
	Symbol        string
	Side          Side
	EntryPrice    decimal.Decimal
	QtyInitial    decimal.Decimal
	QtyRemaining  decimal.Decimal
	StopLoss      decimal.Decimal
	TakeProfit    decimal.Decimal
	Trailing      TrailingConfig
	Status        PositionStatus
	OpenedAt      time.Time
	ClosedAt      time.Time // Zero while open
	LastUpdate    time.Time
	CorrelationID string
}

// ManagedOrder is a protective child order of a position.
type ManagedOrder struct {
	ID            string
	PositionID    string
	ClientOrderID string // Idempotency key, unique across all orders
	Type          ManagedOrderType
	Side          Side
	Price         decimal.Decimal
	StopPrice     decimal.Decimal // Zero for TAKE_PROFIT
	Quantity      decimal.Decimal
	FilledQty     decimal.Decimal
	Status        OrderStatus
	ExchangeID    string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Remaining returns the unfilled quantity.
func (o *ManagedOrder) Remaining() decimal.Decimal {
	r := o.Quantity.Sub(o.FilledQty)
	if r.IsNegative() {
		return decimal.Zero
	}
	return r
}

// OrderUpdate is an asynchronous venue event for a managed order.
type OrderUpdate struct {
	ClientOrderID string
	ExchangeID    string
	Status        OrderStatus
	FilledQty     decimal.Decimal // Cumulative
	LastFilledQty decimal.Decimal // Delta of this event; zero when unknown
	LastPrice     decimal.Decimal
	EventTime     time.Time
}

// ExternalOrderSnapshot is the venue's view of an order, used by reconciliation.
type ExternalOrderSnapshot struct {
	Symbol        string
	ClientOrderID string
	ExchangeID    string
	Status        OrderStatus
	ExecutedQty   decimal.Decimal
	EventTime     time.Time
}

// Trade is a realized execution of a protective order (for audit trail).
type Trade struct {
	ID         string
	PositionID string
	OrderID    string
	Symbol     string
	Side       Side
	Quantity   decimal.Decimal
	Price      decimal.Decimal
	RealizedPL decimal.Decimal
	ExecutedAt time.Time
}
