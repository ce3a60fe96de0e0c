// Package paper provides a simulated venue for paper trading and tests.
package paper

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tathienbao/quant-exec/internal/types"
	"github.com/tathienbao/quant-exec/internal/venue"
	"golang.org/x/time/rate"
)

// Config holds paper venue configuration.
type Config struct {
	SlippageBps        float64
	LimitFillRatio     decimal.Decimal // Fraction of a limit order filled on submit
	NativeOCO          bool
	AckLatency         time.Duration // Added to TransactTime, not slept
	RateLimitPerSecond int
	UpdateBuffer       int
}

// DefaultConfig returns default paper venue config.
func DefaultConfig() Config {
	return Config{
		SlippageBps:        1,
		LimitFillRatio:     decimal.NewFromInt(1),
		NativeOCO:          false,
		AckLatency:         5 * time.Millisecond,
		RateLimitPerSecond: 50,
		UpdateBuffer:       256,
	}
}

type order struct {
	symbol     string
	clientID   string
	exchangeID string
	side       types.Side
	orderType  types.OrderType
	managed    bool
	kind       types.ManagedOrderType
	price      decimal.Decimal
	stopPrice  decimal.Decimal
	qty        decimal.Decimal
	filled     decimal.Decimal
	status     types.OrderStatus
	ocoGroup   string
	updatedAt  time.Time
}

// Venue implements venue.Venue with in-memory matching.
type Venue struct {
	cfg     Config
	logger  *slog.Logger
	limiter *rate.Limiter

	state       atomic.Int32
	nextOrderID atomic.Int64

	pricesMu sync.RWMutex
	prices   map[string]decimal.Decimal

	ordersMu sync.Mutex
	orders   map[string]*order // by client order id

	updates   chan types.OrderUpdate
	closeOnce sync.Once
}

// New creates a connected paper venue.
func New(cfg Config, logger *slog.Logger) *Venue {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.RateLimitPerSecond <= 0 {
		cfg.RateLimitPerSecond = DefaultConfig().RateLimitPerSecond
	}
	if cfg.UpdateBuffer <= 0 {
		cfg.UpdateBuffer = DefaultConfig().UpdateBuffer
	}
	if cfg.LimitFillRatio.IsNegative() || cfg.LimitFillRatio.GreaterThan(decimal.NewFromInt(1)) {
		cfg.LimitFillRatio = decimal.NewFromInt(1)
	}

	v := &Venue{
		cfg:     cfg,
		logger:  logger,
		limiter: rate.NewLimiter(rate.Limit(cfg.RateLimitPerSecond), cfg.RateLimitPerSecond),
		prices:  make(map[string]decimal.Decimal),
		orders:  make(map[string]*order),
		updates: make(chan types.OrderUpdate, cfg.UpdateBuffer),
	}
	v.state.Store(int32(venue.StateConnected))
	return v
}

// State returns connection state.
func (v *Venue) State() venue.ConnectionState {
	return venue.ConnectionState(v.state.Load())
}

// Close disconnects the venue and closes the update stream.
func (v *Venue) Close() error {
	v.closeOnce.Do(func() {
		v.state.Store(int32(venue.StateDisconnected))
		close(v.updates)
		v.logger.Info("paper venue closed")
	})
	return nil
}

// Updates streams order events for protective orders.
func (v *Venue) Updates() <-chan types.OrderUpdate {
	return v.updates
}

// LastPrice returns the last simulated price for a symbol.
func (v *Venue) LastPrice(symbol string) (decimal.Decimal, bool) {
	v.pricesMu.RLock()
	defer v.pricesMu.RUnlock()
	p, ok := v.prices[symbol]
	return p, ok
}

func (v *Venue) connected() error {
	if v.State() != venue.StateConnected {
		return types.ErrNotConnected
	}
	return nil
}

func (v *Venue) wait(ctx context.Context) error {
	if err := v.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%w: %v", types.ErrRateLimited, err)
	}
	return nil
}

// SubmitOrder fills market orders immediately and limit orders by
// LimitFillRatio, leaving the rest resting.
func (v *Venue) SubmitOrder(ctx context.Context, req venue.OrderRequest) (*venue.OrderAck, error) {
	if err := v.connected(); err != nil {
		return nil, err
	}
	if err := v.wait(ctx); err != nil {
		return nil, err
	}

	mark, ok := v.LastPrice(req.Symbol)
	if !ok {
		mark = req.Price
	}
	if !mark.IsPositive() {
		return nil, fmt.Errorf("%w: no price for %s", types.ErrInvalidPrice, req.Symbol)
	}

	qty := req.Quantity
	if req.Type == types.OrderTypeMarket && req.QuoteAmount.IsPositive() && !qty.IsPositive() {
		qty = req.QuoteAmount.Div(mark).Truncate(8)
	}
	if !qty.IsPositive() {
		return nil, fmt.Errorf("%w: %s", types.ErrInvalidQuantity, qty)
	}

	v.ordersMu.Lock()
	if _, exists := v.orders[req.ClientOrderID]; exists {
		v.ordersMu.Unlock()
		return nil, fmt.Errorf("%w: %s", types.ErrDuplicateOrder, req.ClientOrderID)
	}

	o := &order{
		symbol:     req.Symbol,
		clientID:   req.ClientOrderID,
		exchangeID: fmt.Sprintf("PAPER-%d", v.nextOrderID.Add(1)),
		side:       req.Side,
		orderType:  req.Type,
		price:      req.Price,
		qty:        qty,
		updatedAt:  time.Now(),
	}

	var fillPrice decimal.Decimal
	switch req.Type {
	case types.OrderTypeMarket:
		fillPrice = v.slipped(mark, req.Side)
		o.filled = qty
		o.status = types.OrderStatusFilled
	case types.OrderTypeLimit:
		fillPrice = req.Price
		o.filled = qty.Mul(v.cfg.LimitFillRatio).Truncate(8)
		switch {
		case o.filled.GreaterThanOrEqual(qty):
			o.filled = qty
			o.status = types.OrderStatusFilled
		case o.filled.IsPositive():
			o.status = types.OrderStatusPartial
		default:
			o.status = types.OrderStatusWorking
		}
	}
	v.orders[req.ClientOrderID] = o
	ack := &venue.OrderAck{
		ExchangeID:    o.exchangeID,
		ClientOrderID: o.clientID,
		Status:        o.status,
		ExecutedQty:   o.filled,
		CumQuote:      o.filled.Mul(fillPrice),
		TransactTime:  time.Now().Add(v.cfg.AckLatency),
	}
	if o.filled.IsPositive() {
		ack.Price = fillPrice
	}
	v.ordersMu.Unlock()

	v.logger.Debug("paper order submitted",
		"client_order_id", req.ClientOrderID,
		"symbol", req.Symbol,
		"side", req.Side,
		"type", req.Type,
		"qty", qty,
		"executed", ack.ExecutedQty,
		"price", ack.Price,
	)

	return ack, nil
}

func (v *Venue) slipped(price decimal.Decimal, side types.Side) decimal.Decimal {
	if v.cfg.SlippageBps == 0 {
		return price
	}
	adj := price.Mul(decimal.NewFromFloat(v.cfg.SlippageBps)).Div(decimal.NewFromInt(10000))
	return price.Add(adj.Mul(side.Sign()))
}

// CancelOrder cancels a live order. Cancelling a terminal order is a no-op.
func (v *Venue) CancelOrder(ctx context.Context, symbol, clientOrderID string) error {
	if err := v.connected(); err != nil {
		return err
	}
	if err := v.wait(ctx); err != nil {
		return err
	}

	v.ordersMu.Lock()
	o, ok := v.orders[clientOrderID]
	if !ok {
		v.ordersMu.Unlock()
		return fmt.Errorf("%w: %s", types.ErrOrderNotFound, clientOrderID)
	}
	if o.status.IsFinal() {
		v.ordersMu.Unlock()
		return nil
	}
	o.status = types.OrderStatusCanceled
	o.updatedAt = time.Now()
	upd := o.update(decimal.Zero, decimal.Zero)
	managed := o.managed
	v.ordersMu.Unlock()

	if managed {
		v.emit(upd)
	}
	return nil
}

// PlaceOCO rests both legs linked when native OCO is enabled.
func (v *Venue) PlaceOCO(ctx context.Context, symbol string, stop, target *types.ManagedOrder) (bool, error) {
	if !v.cfg.NativeOCO {
		return false, nil
	}
	if err := v.connected(); err != nil {
		return false, err
	}
	if err := v.wait(ctx); err != nil {
		return false, err
	}

	group := fmt.Sprintf("OCO-%d", v.nextOrderID.Add(1))

	v.ordersMu.Lock()
	defer v.ordersMu.Unlock()
	for _, leg := range []*types.ManagedOrder{stop, target} {
		if _, exists := v.orders[leg.ClientOrderID]; exists {
			return false, fmt.Errorf("%w: %s", types.ErrDuplicateOrder, leg.ClientOrderID)
		}
	}
	for _, leg := range []*types.ManagedOrder{stop, target} {
		o := v.rest(symbol, leg)
		o.ocoGroup = group
		leg.ExchangeID = o.exchangeID
		leg.Status = types.OrderStatusWorking
	}
	return true, nil
}

// PlaceChildOrder rests a single protective order.
func (v *Venue) PlaceChildOrder(ctx context.Context, symbol string, mo *types.ManagedOrder) error {
	if err := v.connected(); err != nil {
		return err
	}
	if err := v.wait(ctx); err != nil {
		return err
	}

	v.ordersMu.Lock()
	defer v.ordersMu.Unlock()
	if _, exists := v.orders[mo.ClientOrderID]; exists {
		return fmt.Errorf("%w: %s", types.ErrDuplicateOrder, mo.ClientOrderID)
	}
	o := v.rest(symbol, mo)
	mo.ExchangeID = o.exchangeID
	return nil
}

// rest must be called with ordersMu held.
func (v *Venue) rest(symbol string, mo *types.ManagedOrder) *order {
	o := &order{
		symbol:     symbol,
		clientID:   mo.ClientOrderID,
		exchangeID: fmt.Sprintf("PAPER-%d", v.nextOrderID.Add(1)),
		side:       mo.Side,
		orderType:  types.OrderTypeLimit,
		managed:    true,
		kind:       mo.Type,
		price:      mo.Price,
		stopPrice:  mo.StopPrice,
		qty:        mo.Quantity,
		filled:     mo.FilledQty,
		status:     types.OrderStatusWorking,
		updatedAt:  time.Now(),
	}
	v.orders[mo.ClientOrderID] = o
	return o
}

// SetPrice records a new mark price and triggers resting protective orders.
func (v *Venue) SetPrice(symbol string, price decimal.Decimal) {
	v.pricesMu.Lock()
	v.prices[symbol] = price
	v.pricesMu.Unlock()

	var events []types.OrderUpdate

	v.ordersMu.Lock()
	for _, o := range v.orders {
		if o.symbol != symbol || !o.managed || !o.status.IsLive() || !o.triggered(price) {
			continue
		}
		delta := o.qty.Sub(o.filled)
		o.filled = o.qty
		o.status = types.OrderStatusFilled
		o.updatedAt = time.Now()
		events = append(events, o.update(delta, price))

		if o.ocoGroup == "" {
			continue
		}
		for _, sib := range v.orders {
			if sib != o && sib.ocoGroup == o.ocoGroup && sib.status.IsLive() {
				sib.status = types.OrderStatusCanceled
				sib.updatedAt = time.Now()
				events = append(events, sib.update(decimal.Zero, decimal.Zero))
			}
		}
	}
	v.ordersMu.Unlock()

	for _, e := range events {
		v.emit(e)
	}
}

// SimulateFill fills qty of a resting protective order at price and
// emits the resulting PARTIAL or FILLED update.
func (v *Venue) SimulateFill(clientOrderID string, qty, price decimal.Decimal) error {
	v.ordersMu.Lock()
	o, ok := v.orders[clientOrderID]
	if !ok {
		v.ordersMu.Unlock()
		return fmt.Errorf("%w: %s", types.ErrOrderNotFound, clientOrderID)
	}
	if !o.status.IsLive() {
		v.ordersMu.Unlock()
		return fmt.Errorf("order %s is %s", clientOrderID, o.status)
	}
	delta := decimal.Min(qty, o.qty.Sub(o.filled))
	o.filled = o.filled.Add(delta)
	if o.filled.GreaterThanOrEqual(o.qty) {
		o.status = types.OrderStatusFilled
	} else {
		o.status = types.OrderStatusPartial
	}
	o.updatedAt = time.Now()
	upd := o.update(delta, price)
	v.ordersMu.Unlock()

	v.emit(upd)
	return nil
}

// OpenOrders returns snapshots of every protective order the venue knows.
func (v *Venue) OpenOrders(ctx context.Context) ([]types.ExternalOrderSnapshot, error) {
	if err := v.connected(); err != nil {
		return nil, err
	}

	v.ordersMu.Lock()
	defer v.ordersMu.Unlock()

	var out []types.ExternalOrderSnapshot
	for _, o := range v.orders {
		if !o.managed {
			continue
		}
		out = append(out, types.ExternalOrderSnapshot{
			Symbol:        o.symbol,
			ClientOrderID: o.clientID,
			ExchangeID:    o.exchangeID,
			Status:        o.status,
			ExecutedQty:   o.filled,
			EventTime:     o.updatedAt,
		})
	}
	return out, nil
}

// OrderStatus returns the venue-side status of an order.
func (v *Venue) OrderStatus(clientOrderID string) (types.OrderStatus, bool) {
	v.ordersMu.Lock()
	defer v.ordersMu.Unlock()
	o, ok := v.orders[clientOrderID]
	if !ok {
		return types.OrderStatusNew, false
	}
	return o.status, true
}

func (v *Venue) emit(u types.OrderUpdate) {
	if v.State() != venue.StateConnected {
		return
	}
	select {
	case v.updates <- u:
	default:
		v.logger.Warn("paper update dropped, buffer full", "client_order_id", u.ClientOrderID)
	}
}

func (o *order) triggered(price decimal.Decimal) bool {
	switch o.kind {
	case types.ManagedStopLoss:
		trigger := o.stopPrice
		if !trigger.IsPositive() {
			trigger = o.price
		}
		if o.side == types.SideSell {
			return price.LessThanOrEqual(trigger)
		}
		return price.GreaterThanOrEqual(trigger)
	default:
		if o.side == types.SideSell {
			return price.GreaterThanOrEqual(o.price)
		}
		return price.LessThanOrEqual(o.price)
	}
}

func (o *order) update(delta, price decimal.Decimal) types.OrderUpdate {
	return types.OrderUpdate{
		ClientOrderID: o.clientID,
		ExchangeID:    o.exchangeID,
		Status:        o.status,
		FilledQty:     o.filled,
		LastFilledQty: delta,
		LastPrice:     price,
		EventTime:     o.updatedAt,
	}
}

// Ensure Venue implements venue.Venue
var _ venue.Venue = (*Venue)(nil)
