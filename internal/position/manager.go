// Package position owns open positions and their protective OCO legs.
//
// Each position carries a STOP_LOSS and a TAKE_PROFIT child order. Venue
// order updates are applied under a per-position lock with a monotonic
// apply-if-newer policy, so duplicated or reordered events never double
// count a fill. When the venue cannot link the legs natively the manager
// emulates one-cancels-other itself.
package position

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/tathienbao/quant-exec/internal/types"
	"github.com/tathienbao/quant-exec/internal/venue"
)

// Store persists positions, managed orders and trades. Implementations
// return copies and reject a client order id owned by another order with
// types.ErrDuplicateOrder.
type Store interface {
	SavePosition(ctx context.Context, p types.Position) error
	GetPosition(ctx context.Context, id string) (types.Position, error)
	ListOpenPositions(ctx context.Context) ([]types.Position, error)

	SaveOrder(ctx context.Context, o types.ManagedOrder) error
	GetOrder(ctx context.Context, id string) (types.ManagedOrder, error)
	GetOrderByClientID(ctx context.Context, clientOrderID string) (types.ManagedOrder, error)
	FindOrder(ctx context.Context, positionID string, typ types.ManagedOrderType) (types.ManagedOrder, error)
	ListOrders(ctx context.Context, positionID string) ([]types.ManagedOrder, error)

	SaveTrade(ctx context.Context, t types.Trade) error
}

// Venue is the subset of venue capabilities the manager needs.
type Venue interface {
	venue.Protective
	CancelOrder(ctx context.Context, symbol, clientOrderID string) error
}

// Notifier receives lifecycle notifications. Calls must not block.
type Notifier interface {
	PositionOpened(p types.Position)
	PartialFill(p types.Position, o types.ManagedOrder, delta, price decimal.Decimal)
	ProtectiveFilled(p types.Position, o types.ManagedOrder, price, pnl decimal.Decimal)
	PositionClosed(p types.Position)
	PositionError(p types.Position, o types.ManagedOrder)
	OCOCorrected(positionID, clientOrderID, reason string)
	OrderAdopted(s types.ExternalOrderSnapshot)
}

// Metrics receives position counters.
type Metrics interface {
	RecordPositionOpened(symbol string)
	RecordPositionClosed(symbol string)
	RecordOrderEvent(status string)
	RecordOCOCorrection()
	RecordUpdateDropped(reason string)
	RecordReconcile(adopted, corrected int)
}

// DriftRecorder receives the incremental realized PnL of every exit fill.
type DriftRecorder interface {
	RecordRealizedPnL(symbol string, pnl decimal.Decimal)
}

// Config holds position manager configuration.
type Config struct {
	LockTimeout           time.Duration
	ClientEmulation       bool          // Emulate OCO when the venue cannot
	CancelGrace           time.Duration // Positive enables OCO correction counting
	MinExecutableFraction decimal.Decimal
}

// DefaultConfig returns default position manager config.
func DefaultConfig() Config {
	return Config{
		LockTimeout:           3 * time.Second,
		ClientEmulation:       true,
		CancelGrace:           500 * time.Millisecond,
		MinExecutableFraction: decimal.RequireFromString("0.0001"),
	}
}

// Deps are the manager's collaborators. Store and Venue are required.
type Deps struct {
	Store    Store
	Venue    Venue
	Notifier Notifier
	Metrics  Metrics
	Drift    DriftRecorder
}

// OpenCommand describes a filled entry to protect.
type OpenCommand struct {
	Symbol        string
	Side          types.Side
	EntryPrice    decimal.Decimal
	Quantity      decimal.Decimal
	StopLoss      decimal.Decimal
	TakeProfit    decimal.Decimal
	Trailing      types.TrailingConfig
	CorrelationID string
}

// Validate checks the required fields.
func (c OpenCommand) Validate() error {
	var problems []string
	if strings.TrimSpace(c.Symbol) == "" {
		problems = append(problems, "symbol required")
	}
	if c.Side != types.SideBuy && c.Side != types.SideSell {
		problems = append(problems, "side required")
	}
	if !c.EntryPrice.IsPositive() {
		problems = append(problems, "entry price must be positive")
	}
	if !c.Quantity.IsPositive() {
		problems = append(problems, "quantity must be positive")
	}
	if !c.StopLoss.IsPositive() || !c.TakeProfit.IsPositive() {
		problems = append(problems, "stop loss and take profit required")
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", types.ErrInvalidRequest, strings.Join(problems, "; "))
	}
	return nil
}

// ReconcileReport summarizes a reconciliation sweep.
type ReconcileReport struct {
	Adopted   int
	Corrected int
}

// Manager owns positions and their protective orders.
type Manager struct {
	cfg      Config
	store    Store
	venue    Venue
	notifier Notifier
	metrics  Metrics
	drift    DriftRecorder
	logger   *slog.Logger
	locks    lockMap
	now      func() time.Time
}

// NewManager creates a position manager.
func NewManager(cfg Config, deps Deps, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultConfig()
	if cfg.LockTimeout <= 0 {
		cfg.LockTimeout = def.LockTimeout
	}
	if !cfg.MinExecutableFraction.IsPositive() {
		cfg.MinExecutableFraction = def.MinExecutableFraction
	}

	m := &Manager{
		cfg:      cfg,
		store:    deps.Store,
		venue:    deps.Venue,
		notifier: deps.Notifier,
		metrics:  deps.Metrics,
		drift:    deps.Drift,
		logger:   logger,
		now:      time.Now,
	}
	if m.notifier == nil {
		m.notifier = nopNotifier{}
	}
	if m.metrics == nil {
		m.metrics = nopMetrics{}
	}
	if m.drift == nil {
		m.drift = nopDrift{}
	}
	return m
}

// OpenPosition persists a new position, creates its protective legs and
// places them at the venue.
func (m *Manager) OpenPosition(ctx context.Context, cmd OpenCommand) (types.Position, error) {
	if err := cmd.Validate(); err != nil {
		return types.Position{}, err
	}

	now := m.now()
	pos := types.Position{
		ID:            uuid.NewString(),
		Symbol:        strings.ToUpper(cmd.Symbol),
		Side:          cmd.Side,
		EntryPrice:    cmd.EntryPrice,
		QtyInitial:    cmd.Quantity,
		QtyRemaining:  cmd.Quantity,
		StopLoss:      cmd.StopLoss,
		TakeProfit:    cmd.TakeProfit,
		Trailing:      cmd.Trailing,
		Status:        types.PositionOpen,
		OpenedAt:      now,
		LastUpdate:    now,
		CorrelationID: cmd.CorrelationID,
	}

	// Updates for the new legs may arrive while we are still placing them.
	release, err := m.locks.acquire(ctx, pos.ID, m.cfg.LockTimeout)
	if err != nil {
		return types.Position{}, err
	}
	defer release()

	if err := m.store.SavePosition(ctx, pos); err != nil {
		return types.Position{}, fmt.Errorf("save position: %w", err)
	}

	stop := m.newLeg(pos, types.ManagedStopLoss, cmd.StopLoss, now)
	target := m.newLeg(pos, types.ManagedTakeProfit, cmd.TakeProfit, now)
	for _, leg := range []types.ManagedOrder{stop, target} {
		if err := m.store.SaveOrder(ctx, leg); err != nil {
			return pos, fmt.Errorf("save %s: %w", leg.Type, err)
		}
	}

	if err := m.placeProtective(ctx, pos, &stop, &target); err != nil {
		failed := stop
		if stop.Status != types.OrderStatusError {
			failed = target
		}
		pos.Status = types.PositionError
		pos.LastUpdate = m.now()
		m.save(ctx, pos)
		m.notifier.PositionError(pos, failed)
		return pos, err
	}

	m.metrics.RecordPositionOpened(pos.Symbol)
	m.notifier.PositionOpened(pos)
	m.logger.Info("position opened",
		"position_id", pos.ID,
		"symbol", pos.Symbol,
		"side", pos.Side.String(),
		"qty", pos.QtyInitial.String(),
		"entry", pos.EntryPrice.String(),
		"stop_loss", pos.StopLoss.String(),
		"take_profit", pos.TakeProfit.String(),
	)
	return pos, nil
}

func (m *Manager) newLeg(pos types.Position, typ types.ManagedOrderType, price decimal.Decimal, now time.Time) types.ManagedOrder {
	o := types.ManagedOrder{
		ID:            uuid.NewString(),
		PositionID:    pos.ID,
		ClientOrderID: newClientOrderID(typ),
		Type:          typ,
		Side:          pos.Side.Opposite(),
		Price:         price,
		Quantity:      pos.QtyInitial,
		Status:        types.OrderStatusNew,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if typ == types.ManagedStopLoss {
		o.StopPrice = price
	}
	return o
}

func newClientOrderID(typ types.ManagedOrderType) string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:16] + "-" + typ.String()
}

// placeProtective tries native OCO first and falls back to two independent
// child orders when emulation is enabled. Both legs are saved on return.
func (m *Manager) placeProtective(ctx context.Context, pos types.Position, stop, target *types.ManagedOrder) error {
	native, err := m.venue.PlaceOCO(ctx, pos.Symbol, stop, target)
	if err != nil && !errors.Is(err, types.ErrUnsupported) {
		stop.Status = types.OrderStatusError
		m.saveOrder(ctx, *stop)
		return fmt.Errorf("place oco: %w", err)
	}

	switch {
	case native:
		stop.Status = types.OrderStatusWorking
		target.Status = types.OrderStatusWorking
	case m.cfg.ClientEmulation:
		for _, leg := range []*types.ManagedOrder{stop, target} {
			if err := m.venue.PlaceChildOrder(ctx, pos.Symbol, leg); err != nil {
				leg.Status = types.OrderStatusError
				leg.UpdatedAt = m.now()
				m.saveOrder(ctx, *stop)
				m.saveOrder(ctx, *target)
				return fmt.Errorf("place %s: %w", leg.Type, err)
			}
			leg.Status = types.OrderStatusWorking
		}
		m.logger.Debug("oco emulated", "position_id", pos.ID, "symbol", pos.Symbol)
	default:
		m.logger.Warn("native oco unavailable and emulation disabled, legs not placed",
			"position_id", pos.ID,
			"symbol", pos.Symbol,
		)
	}

	now := m.now()
	stop.UpdatedAt, target.UpdatedAt = now, now
	m.saveOrder(ctx, *stop)
	m.saveOrder(ctx, *target)
	return nil
}

// OnOrderUpdate applies a venue event to the order it names. Unknown
// orders, lock timeouts and stale events are logged and dropped.
func (m *Manager) OnOrderUpdate(ctx context.Context, u types.OrderUpdate) {
	order, err := m.store.GetOrderByClientID(ctx, u.ClientOrderID)
	if err != nil {
		m.logger.Debug("update for unknown order dropped", "client_order_id", u.ClientOrderID, "status", u.Status.String())
		m.metrics.RecordUpdateDropped("unknown_order")
		return
	}

	release, err := m.locks.acquire(ctx, order.PositionID, m.cfg.LockTimeout)
	if err != nil {
		m.logger.Warn("order update dropped",
			"client_order_id", u.ClientOrderID,
			"position_id", order.PositionID,
			"err", err,
		)
		m.metrics.RecordUpdateDropped("lock_timeout")
		return
	}
	defer release()

	if err := m.applyLocked(ctx, u); err != nil {
		m.logger.Error("order update failed", "client_order_id", u.ClientOrderID, "err", err)
	}
}

// applyLocked applies u. The caller holds the position lock.
func (m *Manager) applyLocked(ctx context.Context, u types.OrderUpdate) error {
	// Re-read under the lock; the order may have moved since lookup.
	order, err := m.store.GetOrderByClientID(ctx, u.ClientOrderID)
	if err != nil {
		m.metrics.RecordUpdateDropped("unknown_order")
		return nil
	}
	pos, err := m.store.GetPosition(ctx, order.PositionID)
	if err != nil {
		return err
	}

	if u.Status == order.Status && u.FilledQty.Equal(order.FilledQty) {
		m.metrics.RecordUpdateDropped("duplicate")
		return nil
	}
	if reason, stale := staleUpdate(order, u); stale {
		m.logger.Debug("stale order update dropped",
			"client_order_id", u.ClientOrderID,
			"local_status", order.Status.String(),
			"status", u.Status.String(),
			"reason", reason,
		)
		m.metrics.RecordUpdateDropped(reason)
		return nil
	}

	wasFinal := order.Status.IsFinal()
	// The cumulative quantity is authoritative; per-event deltas are lost
	// when events arrive out of order.
	delta := u.FilledQty.Sub(order.FilledQty)
	if !delta.IsPositive() {
		delta = u.LastFilledQty
	}
	at := u.EventTime
	if at.IsZero() {
		at = m.now()
	}

	order.Status = u.Status
	order.FilledQty = u.FilledQty
	if u.ExchangeID != "" {
		order.ExchangeID = u.ExchangeID
	}
	order.UpdatedAt = at
	if err := m.store.SaveOrder(ctx, order); err != nil {
		return fmt.Errorf("save order: %w", err)
	}
	pos.LastUpdate = at
	m.metrics.RecordOrderEvent(u.Status.String())

	price := u.LastPrice
	if !price.IsPositive() {
		price = order.Price
	}

	switch {
	case wasFinal:
		m.onLateFill(ctx, &pos, order, delta, price, at)
	case u.Status == types.OrderStatusPartial:
		m.onPartial(ctx, &pos, order, delta, price, at)
	case u.Status == types.OrderStatusFilled:
		m.onFilled(ctx, &pos, order, delta, price, at)
	case u.Status == types.OrderStatusCanceled:
		m.logger.Debug("protective order canceled", "client_order_id", order.ClientOrderID, "position_id", pos.ID)
	case u.Status == types.OrderStatusRejected || u.Status == types.OrderStatusError:
		if pos.Status == types.PositionOpen {
			pos.Status = types.PositionError
		}
		m.logger.Error("protective order failed, position needs operator action",
			"position_id", pos.ID,
			"client_order_id", order.ClientOrderID,
			"status", u.Status.String(),
		)
		m.notifier.PositionError(pos, order)
	}

	m.save(ctx, pos)
	return nil
}

// staleUpdate implements the apply-if-newer policy: cumulative fills never
// shrink, and a terminal order only accepts an event carrying more fill.
func staleUpdate(order types.ManagedOrder, u types.OrderUpdate) (string, bool) {
	if u.FilledQty.LessThan(order.FilledQty) {
		return "stale_fill", true
	}
	if u.FilledQty.Equal(order.FilledQty) {
		if order.Status.IsFinal() || rank(u.Status) < rank(order.Status) {
			return "stale_status", true
		}
	}
	return "", false
}

func rank(s types.OrderStatus) int {
	switch s {
	case types.OrderStatusNew:
		return 0
	case types.OrderStatusWorking:
		return 1
	case types.OrderStatusPartial:
		return 2
	default:
		return 3
	}
}

func (m *Manager) onPartial(ctx context.Context, pos *types.Position, order types.ManagedOrder, delta, price decimal.Decimal, at time.Time) {
	pos.QtyRemaining = nonNegative(pos.QtyRemaining.Sub(delta))
	m.recordExit(ctx, *pos, order, delta, price, at)
	m.notifier.PartialFill(*pos, order, delta, price)

	opp, err := m.store.FindOrder(ctx, pos.ID, order.Type.Opposite())
	if err != nil || !opp.Status.IsLive() {
		return
	}
	left := opp.Quantity.Sub(delta)
	if !left.IsPositive() {
		m.cancelLeg(ctx, *pos, opp)
		return
	}
	opp.Quantity = left
	opp.UpdatedAt = m.now()
	m.saveOrder(ctx, opp)
}

func (m *Manager) onFilled(ctx context.Context, pos *types.Position, order types.ManagedOrder, delta, price decimal.Decimal, at time.Time) {
	pos.QtyRemaining = nonNegative(pos.QtyRemaining.Sub(delta))
	m.recordExit(ctx, *pos, order, delta, price, at)

	pnl := price.Sub(pos.EntryPrice).Mul(pos.QtyInitial).Mul(pos.Side.Sign())
	m.notifier.ProtectiveFilled(*pos, order, price, pnl)
	m.logger.Info("protective order filled",
		"position_id", pos.ID,
		"type", order.Type.String(),
		"price", price.String(),
		"realized_pnl", pnl.String(),
	)

	m.cancelOpposite(ctx, *pos, order)

	if pos.QtyRemaining.LessThanOrEqual(pos.QtyInitial.Mul(m.cfg.MinExecutableFraction)) {
		m.closeLocked(ctx, pos)
	}
}

// onLateFill handles a fill reported for a leg already terminal locally:
// the venue executed both sides of the pair. The trade is recorded and the
// operator notified; a CLOSED or ERROR position keeps its status.
func (m *Manager) onLateFill(ctx context.Context, pos *types.Position, order types.ManagedOrder, delta, price decimal.Decimal, at time.Time) {
	m.recordExit(ctx, *pos, order, delta, price, at)
	pos.QtyRemaining = nonNegative(pos.QtyRemaining.Sub(delta))
	if pos.Status == types.PositionOpen {
		pos.Status = types.PositionError
	}
	m.logger.Error("fill on terminal protective order, both legs executed",
		"position_id", pos.ID,
		"client_order_id", order.ClientOrderID,
		"qty", delta.String(),
	)
	m.notifier.PositionError(*pos, order)
}

func (m *Manager) recordExit(ctx context.Context, pos types.Position, order types.ManagedOrder, delta, price decimal.Decimal, at time.Time) {
	if !delta.IsPositive() {
		return
	}
	pnl := price.Sub(pos.EntryPrice).Mul(delta).Mul(pos.Side.Sign())
	orderID := order.ExchangeID
	if orderID == "" {
		orderID = order.ID
	}
	trade := types.Trade{
		ID:         uuid.NewString(),
		PositionID: pos.ID,
		OrderID:    orderID,
		Symbol:     pos.Symbol,
		Side:       order.Side,
		Quantity:   delta,
		Price:      price,
		RealizedPL: pnl,
		ExecutedAt: at,
	}
	if err := m.store.SaveTrade(ctx, trade); err != nil {
		m.logger.Error("save trade failed", "position_id", pos.ID, "err", err)
	}
	m.drift.RecordRealizedPnL(pos.Symbol, pnl)
}

// cancelOpposite cancels the sibling of a filled leg. A failed cancel is
// logged and the sibling is still marked CANCELED; reconciliation re-issues
// the cancel if the venue keeps it alive.
func (m *Manager) cancelOpposite(ctx context.Context, pos types.Position, filled types.ManagedOrder) {
	opp, err := m.store.FindOrder(ctx, pos.ID, filled.Type.Opposite())
	if err != nil {
		return
	}
	if opp.Status == types.OrderStatusCanceled || opp.Status == types.OrderStatusFilled {
		return
	}
	m.cancelLeg(ctx, pos, opp)
}

func (m *Manager) cancelLeg(ctx context.Context, pos types.Position, o types.ManagedOrder) {
	if err := m.venue.CancelOrder(ctx, pos.Symbol, o.ClientOrderID); err != nil {
		m.logger.Warn("cancel protective order failed",
			"position_id", pos.ID,
			"client_order_id", o.ClientOrderID,
			"err", err,
		)
		if m.cfg.CancelGrace > 0 {
			m.metrics.RecordOCOCorrection()
		}
	}
	o.Status = types.OrderStatusCanceled
	o.UpdatedAt = m.now()
	m.saveOrder(ctx, o)
}

// closeLocked closes pos and cancels its live children. A position that is
// already terminal only has its children cancelled. The caller holds the
// position lock and saves pos.
func (m *Manager) closeLocked(ctx context.Context, pos *types.Position) {
	now := m.now()
	pos.LastUpdate = now

	orders, err := m.store.ListOrders(ctx, pos.ID)
	if err != nil {
		m.logger.Error("list orders for close failed", "position_id", pos.ID, "err", err)
	}
	for _, o := range orders {
		if o.Status.IsLive() {
			m.cancelLeg(ctx, *pos, o)
		}
	}

	if pos.Status != types.PositionOpen {
		m.logger.Warn("close on terminal position, status kept",
			"position_id", pos.ID,
			"status", pos.Status.String(),
		)
		return
	}
	pos.Status = types.PositionClosed
	pos.ClosedAt = now
	pos.QtyRemaining = decimal.Zero

	m.metrics.RecordPositionClosed(pos.Symbol)
	m.notifier.PositionClosed(*pos)
	m.logger.Info("position closed", "position_id", pos.ID, "symbol", pos.Symbol)
}

// ReplaceStop cancels the stop leg and re-places it at price for qty under a
// fresh client order id. Lock contention is reported as types.ErrLockTimeout.
func (m *Manager) ReplaceStop(ctx context.Context, positionID string, price, qty decimal.Decimal) error {
	if !price.IsPositive() || !qty.IsPositive() {
		return fmt.Errorf("%w: stop price %s qty %s", types.ErrInvalidRequest, price, qty)
	}

	release, err := m.locks.acquire(ctx, positionID, m.cfg.LockTimeout)
	if err != nil {
		return err
	}
	defer release()

	pos, err := m.store.GetPosition(ctx, positionID)
	if err != nil {
		return err
	}
	if pos.Status != types.PositionOpen {
		return fmt.Errorf("%w: %s is %s", types.ErrPositionClosed, pos.ID, pos.Status)
	}
	stop, err := m.store.FindOrder(ctx, pos.ID, types.ManagedStopLoss)
	if err != nil {
		return err
	}

	if stop.Status.IsLive() {
		if err := m.venue.CancelOrder(ctx, pos.Symbol, stop.ClientOrderID); err != nil {
			return fmt.Errorf("cancel stop %s: %w", stop.ClientOrderID, err)
		}
	}

	now := m.now()
	old := stop.Price
	stop.ClientOrderID = newClientOrderID(types.ManagedStopLoss)
	stop.Price = price
	stop.StopPrice = price
	stop.Quantity = qty
	stop.FilledQty = decimal.Zero
	stop.ExchangeID = ""
	stop.Status = types.OrderStatusNew
	stop.CreatedAt = now
	stop.UpdatedAt = now
	if err := m.store.SaveOrder(ctx, stop); err != nil {
		return fmt.Errorf("save stop: %w", err)
	}

	if err := m.venue.PlaceChildOrder(ctx, pos.Symbol, &stop); err != nil {
		stop.Status = types.OrderStatusError
		m.saveOrder(ctx, stop)
		pos.Status = types.PositionError
		pos.LastUpdate = now
		m.save(ctx, pos)
		m.notifier.PositionError(pos, stop)
		return fmt.Errorf("place stop: %w", err)
	}
	stop.Status = types.OrderStatusWorking
	m.saveOrder(ctx, stop)

	pos.StopLoss = price
	pos.LastUpdate = now
	m.save(ctx, pos)

	m.logger.Info("stop replaced",
		"position_id", pos.ID,
		"old_stop", old.String(),
		"new_stop", price.String(),
		"qty", qty.String(),
	)
	return nil
}

// ClosePosition closes a position and cancels its live protective orders.
func (m *Manager) ClosePosition(ctx context.Context, positionID string) error {
	release, err := m.locks.acquire(ctx, positionID, m.cfg.LockTimeout)
	if err != nil {
		return err
	}
	defer release()

	pos, err := m.store.GetPosition(ctx, positionID)
	if err != nil {
		return err
	}
	if pos.Status == types.PositionClosed {
		return fmt.Errorf("%w: %s", types.ErrPositionClosed, pos.ID)
	}
	m.closeLocked(ctx, &pos)
	return m.store.SavePosition(ctx, pos)
}

// ForceCloseAll closes every open position. A failure on one position does
// not stop the others; failures are joined into the returned error.
func (m *Manager) ForceCloseAll(ctx context.Context) (int, error) {
	open, err := m.store.ListOpenPositions(ctx)
	if err != nil {
		return 0, fmt.Errorf("list open positions: %w", err)
	}

	var errs []error
	closed := 0
	for _, p := range open {
		if err := m.ClosePosition(ctx, p.ID); err != nil {
			m.logger.Error("force close failed", "position_id", p.ID, "err", err)
			errs = append(errs, fmt.Errorf("position %s: %w", p.ID, err))
			continue
		}
		closed++
	}
	if closed > 0 {
		m.logger.Warn("positions force closed", "count", closed)
	}
	return closed, errors.Join(errs...)
}

// Reconcile compares venue snapshots with local state. Unknown venue orders
// of any status are adopted: reported and counted, never applied. Terminal
// venue states of known legs are applied locally, and legs the venue still
// works after a local cancel are cancelled again.
func (m *Manager) Reconcile(ctx context.Context, snapshots []types.ExternalOrderSnapshot) ReconcileReport {
	var report ReconcileReport

	for _, s := range snapshots {
		order, err := m.store.GetOrderByClientID(ctx, s.ClientOrderID)
		if err != nil {
			m.notifier.OrderAdopted(s)
			m.logger.Warn("unknown venue order",
				"client_order_id", s.ClientOrderID,
				"symbol", s.Symbol,
				"status", s.Status.String(),
			)
			report.Adopted++
			continue
		}

		if m.reconcileOrder(ctx, order.PositionID, s) {
			report.Corrected++
		}
	}

	m.metrics.RecordReconcile(report.Adopted, report.Corrected)
	if report.Adopted > 0 || report.Corrected > 0 {
		m.logger.Info("reconciliation complete", "adopted", report.Adopted, "corrected", report.Corrected)
	}
	return report
}

// reconcileOrder returns true when an OCO correction was issued.
func (m *Manager) reconcileOrder(ctx context.Context, positionID string, s types.ExternalOrderSnapshot) bool {
	release, err := m.locks.acquire(ctx, positionID, m.cfg.LockTimeout)
	if err != nil {
		m.logger.Warn("reconcile skipped", "client_order_id", s.ClientOrderID, "err", err)
		return false
	}
	defer release()

	order, err := m.store.GetOrderByClientID(ctx, s.ClientOrderID)
	if err != nil {
		return false
	}

	switch {
	case s.Status == types.OrderStatusCanceled || s.Status == types.OrderStatusFilled:
		if order.Status == s.Status && order.FilledQty.Equal(s.ExecutedQty) {
			return false
		}
		u := types.OrderUpdate{
			ClientOrderID: s.ClientOrderID,
			ExchangeID:    s.ExchangeID,
			Status:        s.Status,
			FilledQty:     s.ExecutedQty,
			EventTime:     s.EventTime,
		}
		if err := m.applyLocked(ctx, u); err != nil {
			m.logger.Error("reconcile apply failed", "client_order_id", s.ClientOrderID, "err", err)
		}
		return false

	case order.Status == types.OrderStatusCanceled && s.Status.IsLive():
		m.notifier.OCOCorrected(positionID, s.ClientOrderID, "venue still working a cancelled leg")
		m.metrics.RecordOCOCorrection()
		if err := m.venue.CancelOrder(ctx, s.Symbol, s.ClientOrderID); err != nil {
			m.logger.Warn("re-cancel failed", "client_order_id", s.ClientOrderID, "err", err)
		}
		return true
	}
	return false
}

// Position returns a position by id.
func (m *Manager) Position(ctx context.Context, id string) (types.Position, error) {
	return m.store.GetPosition(ctx, id)
}

// Orders returns the protective orders of a position.
func (m *Manager) Orders(ctx context.Context, positionID string) ([]types.ManagedOrder, error) {
	return m.store.ListOrders(ctx, positionID)
}

// OpenPositions returns all open positions.
func (m *Manager) OpenPositions(ctx context.Context) ([]types.Position, error) {
	return m.store.ListOpenPositions(ctx)
}

func (m *Manager) save(ctx context.Context, p types.Position) {
	if err := m.store.SavePosition(ctx, p); err != nil {
		m.logger.Error("save position failed", "position_id", p.ID, "err", err)
	}
}

func (m *Manager) saveOrder(ctx context.Context, o types.ManagedOrder) {
	if err := m.store.SaveOrder(ctx, o); err != nil {
		m.logger.Error("save order failed", "client_order_id", o.ClientOrderID, "err", err)
	}
}

func nonNegative(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return decimal.Zero
	}
	return d
}

type nopNotifier struct{}

func (nopNotifier) PositionOpened(types.Position)                                                         {}
func (nopNotifier) PartialFill(types.Position, types.ManagedOrder, decimal.Decimal, decimal.Decimal)      {}
func (nopNotifier) ProtectiveFilled(types.Position, types.ManagedOrder, decimal.Decimal, decimal.Decimal) {}
func (nopNotifier) PositionClosed(types.Position)                                                         {}
func (nopNotifier) PositionError(types.Position, types.ManagedOrder)                                      {}
func (nopNotifier) OCOCorrected(string, string, string)                                                   {}
func (nopNotifier) OrderAdopted(types.ExternalOrderSnapshot)                                              {}

type nopMetrics struct{}

func (nopMetrics) RecordPositionOpened(string) {}
func (nopMetrics) RecordPositionClosed(string) {}
func (nopMetrics) RecordOrderEvent(string)     {}
func (nopMetrics) RecordOCOCorrection()        {}
func (nopMetrics) RecordUpdateDropped(string)  {}
func (nopMetrics) RecordReconcile(int, int)    {}

type nopDrift struct{}

func (nopDrift) RecordRealizedPnL(string, decimal.Decimal) {}
