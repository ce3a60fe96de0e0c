// Package venue defines the exchange-facing contracts used by the execution
// engine and the position manager.
package venue

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tathienbao/quant-exec/internal/types"
)

// ConnectionState represents the venue connection state.
type ConnectionState int

const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateConnected
	StateError
)

func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// TimeInForce values understood by venues.
const (
	TimeInForceGTC = "GTC"
	TimeInForceIOC = "IOC"
)

// OrderRequest is a single submission to the venue.
type OrderRequest struct {
	Symbol        string
	Side          types.Side
	Type          types.OrderType
	Quantity      decimal.Decimal
	Price         decimal.Decimal // LIMIT only
	QuoteAmount   decimal.Decimal // MARKET BUY by quote, zero when unused
	TimeInForce   string
	ClientOrderID string
}

// Notional returns price x quantity, or the quote amount for quote orders.
func (r OrderRequest) Notional(ref decimal.Decimal) decimal.Decimal {
	if r.QuoteAmount.IsPositive() {
		return r.QuoteAmount
	}
	price := r.Price
	if !price.IsPositive() {
		price = ref
	}
	return price.Mul(r.Quantity)
}

// OrderAck is the venue response to a submission.
type OrderAck struct {
	ExchangeID    string
	ClientOrderID string
	Status        types.OrderStatus
	ExecutedQty   decimal.Decimal
	CumQuote      decimal.Decimal
	Price         decimal.Decimal
	TransactTime  time.Time
}

// FillPrice returns the executed price: the ack price when set, else
// CumQuote/ExecutedQty, else fallback.
func (a *OrderAck) FillPrice(fallback decimal.Decimal) decimal.Decimal {
	if a == nil {
		return fallback
	}
	if a.Price.IsPositive() {
		return a.Price
	}
	if a.ExecutedQty.IsPositive() && a.CumQuote.IsPositive() {
		return a.CumQuote.Div(a.ExecutedQty)
	}
	return fallback
}

// Client submits and cancels orders.
type Client interface {
	SubmitOrder(ctx context.Context, req OrderRequest) (*OrderAck, error)
	CancelOrder(ctx context.Context, symbol, clientOrderID string) error
}

// Protective places protective child orders.
//
// PlaceOCO returns false, or an error wrapping types.ErrUnsupported, when the
// venue cannot link the two legs natively.
type Protective interface {
	PlaceOCO(ctx context.Context, symbol string, stop, target *types.ManagedOrder) (bool, error)
	PlaceChildOrder(ctx context.Context, symbol string, order *types.ManagedOrder) error
}

// Venue is the full capability set of an exchange connection.
type Venue interface {
	Client
	Protective

	// OpenOrders returns the venue's view of every order it knows about,
	// for reconciliation.
	OpenOrders(ctx context.Context) ([]types.ExternalOrderSnapshot, error)

	// Updates streams asynchronous order events.
	Updates() <-chan types.OrderUpdate

	State() ConnectionState
	Close() error
}
