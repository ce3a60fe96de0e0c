// Package engine runs the execution service: it feeds venue order events to
// the position manager, reconciles against the venue, trails stops on new
// bars and winds positions down on shutdown.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tathienbao/quant-exec/internal/execution"
	"github.com/tathienbao/quant-exec/internal/market"
	"github.com/tathienbao/quant-exec/internal/position"
	"github.com/tathienbao/quant-exec/internal/stops"
	"github.com/tathienbao/quant-exec/internal/types"
	"github.com/tathienbao/quant-exec/internal/venue"
)

// Config holds engine configuration.
type Config struct {
	Symbols                  []string
	ReconcileInterval        time.Duration
	MaxConcurrentUpdates     int
	ClosePositionsOnShutdown bool
	Version                  string
}

// DefaultConfig returns default engine config.
func DefaultConfig() Config {
	return Config{
		ReconcileInterval:    30 * time.Second,
		MaxConcurrentUpdates: 16,
	}
}

// Executor works entry orders.
type Executor interface {
	Execute(ctx context.Context, req execution.Request, snap execution.Snapshot) (*execution.Result, error)
}

// Positions is the position manager surface the engine drives.
type Positions interface {
	OpenPosition(ctx context.Context, cmd position.OpenCommand) (types.Position, error)
	OnOrderUpdate(ctx context.Context, u types.OrderUpdate)
	Reconcile(ctx context.Context, snapshots []types.ExternalOrderSnapshot) position.ReconcileReport
	ReplaceStop(ctx context.Context, positionID string, price, qty decimal.Decimal) error
	ForceCloseAll(ctx context.Context) (int, error)
	OpenPositions(ctx context.Context) ([]types.Position, error)
}

// StopPlanner computes initial and adjusted stop levels.
type StopPlanner interface {
	Plan(symbol string, side types.Side, entry, atr decimal.Decimal) (stops.Plan, error)
	Adjust(pos types.Position, price, atr decimal.Decimal) (stops.Adjustment, bool)
}

// Notifier receives service lifecycle events.
type Notifier interface {
	ServiceStarted(version string)
	ServiceStopped(reason string)
	ConnectionLost(name string, err error)
	ConnectionRestored(name string)
}

// Metrics is the engine metrics sink.
type Metrics interface {
	RecordHeartbeat()
	RecordError(errorType string)
	RecordVenueStatus(connected bool)
}

// PriceSink is implemented by venues that simulate protective triggers
// from last prices.
type PriceSink interface {
	SetPrice(symbol string, price decimal.Decimal)
}

// Deps are the engine's collaborators. Venue, Positions and Stops are
// required; Executor is needed only by Enter and Market only for bar
// driven stop trailing.
type Deps struct {
	Venue     venue.Venue
	Executor  Executor
	Positions Positions
	Stops     StopPlanner
	Market    *market.Observer
	Notifier  Notifier
	Metrics   Metrics
}

// EntryRequest is an entry to execute and then protect. A zero Snapshot or
// ATR is taken from the market tracker when one is configured.
type EntryRequest struct {
	Request  execution.Request
	Snapshot execution.Snapshot
	ATR      decimal.Decimal
}

// Engine coordinates the venue, the execution engine and the position
// manager.
type Engine struct {
	cfg       Config
	logger    *slog.Logger
	venue     venue.Venue
	executor  Executor
	positions Positions
	stops     StopPlanner
	market    *market.Observer
	notifier  Notifier
	metrics   Metrics

	// State
	mu        sync.RWMutex
	running   bool
	connected bool

	sem     chan struct{}
	done    chan struct{}
	wg      sync.WaitGroup // loops
	updates sync.WaitGroup // in-flight order updates
}

// NewEngine creates a new engine.
func NewEngine(cfg Config, deps Deps, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultConfig()
	if cfg.ReconcileInterval <= 0 {
		cfg.ReconcileInterval = def.ReconcileInterval
	}
	if cfg.MaxConcurrentUpdates <= 0 {
		cfg.MaxConcurrentUpdates = def.MaxConcurrentUpdates
	}

	e := &Engine{
		cfg:       cfg,
		logger:    logger,
		venue:     deps.Venue,
		executor:  deps.Executor,
		positions: deps.Positions,
		stops:     deps.Stops,
		market:    deps.Market,
		notifier:  deps.Notifier,
		metrics:   deps.Metrics,
		connected: true,
		sem:       make(chan struct{}, cfg.MaxConcurrentUpdates),
	}
	if e.notifier == nil {
		e.notifier = nopNotifier{}
	}
	if e.metrics == nil {
		e.metrics = nopMetrics{}
	}
	return e
}

// Start runs an initial reconciliation and starts the update, reconcile
// and market loops.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return fmt.Errorf("engine already running")
	}
	e.running = true
	e.done = make(chan struct{})
	e.mu.Unlock()

	e.logger.Info("starting execution engine",
		"symbols", e.cfg.Symbols,
		"reconcile_interval", e.cfg.ReconcileInterval,
	)

	var bars []<-chan types.MarketEvent
	if e.market != nil {
		for _, symbol := range e.cfg.Symbols {
			ch, err := e.market.Subscribe(ctx, symbol)
			if err != nil {
				e.mu.Lock()
				e.running = false
				e.mu.Unlock()
				return fmt.Errorf("subscribe market data %s: %w", symbol, err)
			}
			bars = append(bars, ch)
		}
	}

	if _, err := e.ReconcileOnce(ctx); err != nil {
		e.logger.Warn("initial reconciliation failed", "err", err)
	}

	e.wg.Add(2)
	go e.updateLoop(ctx)
	go e.reconcileLoop(ctx)

	for _, ch := range bars {
		e.wg.Add(1)
		go e.marketLoop(ctx, ch)
	}

	e.notifier.ServiceStarted(e.cfg.Version)
	return nil
}

// updateLoop hands each venue event to the position manager on its own
// goroutine, bounded by the semaphore.
func (e *Engine) updateLoop(ctx context.Context) {
	defer e.wg.Done()

	updates := e.venue.Updates()
	for {
		select {
		case <-ctx.Done():
			return
		case <-e.done:
			return
		case u, ok := <-updates:
			if !ok {
				e.logger.Warn("venue update channel closed")
				return
			}
			if !e.dispatch(ctx, u) {
				return
			}
		}
	}
}

func (e *Engine) dispatch(ctx context.Context, u types.OrderUpdate) bool {
	select {
	case e.sem <- struct{}{}:
	case <-ctx.Done():
		return false
	case <-e.done:
		return false
	}

	e.updates.Add(1)
	go func() {
		defer func() {
			<-e.sem
			e.updates.Done()
		}()
		e.positions.OnOrderUpdate(ctx, u)
	}()
	return true
}

// reconcileLoop periodically compares local state with the venue.
func (e *Engine) reconcileLoop(ctx context.Context) {
	defer e.wg.Done()

	ticker := time.NewTicker(e.cfg.ReconcileInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-e.done:
			return
		case <-ticker.C:
			if !e.checkVenue() {
				continue
			}
			if _, err := e.ReconcileOnce(ctx); err != nil {
				e.logger.Warn("reconciliation failed", "err", err)
			}
		}
	}
}

// checkVenue reports whether the venue is connected, notifying on changes.
func (e *Engine) checkVenue() bool {
	state := e.venue.State()
	up := state == venue.StateConnected

	e.mu.Lock()
	changed := up != e.connected
	e.connected = up
	e.mu.Unlock()

	e.metrics.RecordVenueStatus(up)
	if changed {
		if up {
			e.logger.Info("venue connection restored")
			e.notifier.ConnectionRestored("venue")
		} else {
			e.logger.Warn("venue connection lost", "state", state)
			e.notifier.ConnectionLost("venue", fmt.Errorf("state %s", state))
		}
	}
	return up
}

// ReconcileOnce pulls the venue's orders and reconciles them.
func (e *Engine) ReconcileOnce(ctx context.Context) (position.ReconcileReport, error) {
	snaps, err := e.venue.OpenOrders(ctx)
	if err != nil {
		e.metrics.RecordError("reconcile")
		return position.ReconcileReport{}, fmt.Errorf("fetch open orders: %w", err)
	}

	report := e.positions.Reconcile(ctx, snaps)
	if report.Adopted > 0 || report.Corrected > 0 {
		e.logger.Info("reconciliation applied changes",
			"adopted", report.Adopted,
			"corrected", report.Corrected,
		)
	}
	return report, nil
}

// marketLoop trails stops on each bar.
func (e *Engine) marketLoop(ctx context.Context, bars <-chan types.MarketEvent) {
	defer e.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-e.done:
			return
		case event, ok := <-bars:
			if !ok {
				return
			}
			e.OnBar(ctx, event)
		}
	}
}

// OnBar pushes the bar's close to a simulating venue and trails the stops
// of open positions in the bar's symbol.
func (e *Engine) OnBar(ctx context.Context, event types.MarketEvent) {
	e.metrics.RecordHeartbeat()

	if sink, ok := e.venue.(PriceSink); ok {
		sink.SetPrice(event.Symbol, event.Close)
	}
	e.AdjustStops(ctx, event.Symbol, event.Close)
}

// AdjustStops moves the stop of every open position in symbol that the
// stop engine says should tighten at price. It returns the number of
// stops replaced.
func (e *Engine) AdjustStops(ctx context.Context, symbol string, price decimal.Decimal) int {
	open, err := e.positions.OpenPositions(ctx)
	if err != nil {
		e.logger.Warn("list open positions failed", "err", err)
		e.metrics.RecordError("list_positions")
		return 0
	}

	atr := e.atr(symbol)
	moved := 0
	for _, pos := range open {
		if !strings.EqualFold(pos.Symbol, symbol) {
			continue
		}
		adj, ok := e.stops.Adjust(pos, price, atr)
		if !ok {
			continue
		}
		if err := e.positions.ReplaceStop(ctx, pos.ID, adj.NewStop, pos.QtyRemaining); err != nil {
			e.logger.Warn("stop replace failed",
				"position_id", pos.ID,
				"kind", adj.Kind,
				"new_stop", adj.NewStop,
				"err", err,
			)
			e.metrics.RecordError("replace_stop")
			continue
		}
		e.logger.Info("stop adjusted",
			"position_id", pos.ID,
			"kind", adj.Kind,
			"old_stop", adj.OldStop,
			"new_stop", adj.NewStop,
			"price", price,
		)
		moved++
	}
	return moved
}

func (e *Engine) atr(symbol string) decimal.Decimal {
	if e.market == nil {
		return decimal.Zero
	}
	return e.market.Tracker().ATR(symbol)
}

// Enter executes an entry and opens a protected position for whatever
// quantity filled. A partially filled entry is still protected; the
// execution error, if any, is returned alongside the position.
func (e *Engine) Enter(ctx context.Context, req EntryRequest) (types.Position, *execution.Result, error) {
	if e.executor == nil {
		return types.Position{}, nil, fmt.Errorf("%w: no executor configured", types.ErrInvalidConfig)
	}

	snap := req.Snapshot
	if snap.MidPrice.IsZero() && e.market != nil {
		if s, ok := e.market.Tracker().Snapshot(req.Request.Symbol); ok {
			snap = s
		}
	}
	atr := req.ATR
	if atr.IsZero() {
		atr = e.atr(req.Request.Symbol)
	}

	res, execErr := e.executor.Execute(ctx, req.Request, snap)
	if res == nil || !res.ExecutedQty.IsPositive() {
		if execErr == nil {
			execErr = fmt.Errorf("entry %s filled nothing", req.Request.BaseClientOrderID)
		}
		return types.Position{}, res, execErr
	}

	plan, err := e.stops.Plan(req.Request.Symbol, req.Request.Side, res.AveragePrice, atr)
	if err != nil {
		return types.Position{}, res, errors.Join(execErr, fmt.Errorf("plan stops: %w", err))
	}

	pos, err := e.positions.OpenPosition(ctx, position.OpenCommand{
		Symbol:        req.Request.Symbol,
		Side:          req.Request.Side,
		EntryPrice:    res.AveragePrice,
		Quantity:      res.ExecutedQty,
		StopLoss:      plan.StopLoss,
		TakeProfit:    plan.TakeProfit,
		Trailing:      plan.Trailing(),
		CorrelationID: req.Request.BaseClientOrderID,
	})
	if err != nil {
		return pos, res, errors.Join(execErr, fmt.Errorf("open position: %w", err))
	}

	e.logger.Info("position entered",
		"position_id", pos.ID,
		"symbol", pos.Symbol,
		"side", pos.Side,
		"qty", pos.QtyInitial,
		"entry", pos.EntryPrice,
		"stop_loss", pos.StopLoss,
		"take_profit", pos.TakeProfit,
		"plan", res.Plan.Name(),
	)
	return pos, res, execErr
}

// Stop stops the loops, waits for in-flight updates and, when configured,
// closes every open position.
func (e *Engine) Stop(ctx context.Context) error {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return nil
	}
	e.running = false
	e.mu.Unlock()

	e.logger.Info("stopping execution engine")

	close(e.done)
	e.wg.Wait()
	e.updates.Wait()

	var err error
	if e.cfg.ClosePositionsOnShutdown {
		var closed int
		closed, err = e.positions.ForceCloseAll(ctx)
		e.logger.Info("positions closed on shutdown", "count", closed, "err", err)
	}

	e.notifier.ServiceStopped("shutdown")
	e.logger.Info("execution engine stopped")
	return err
}

// IsRunning returns true if engine is running.
func (e *Engine) IsRunning() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.running
}

type nopNotifier struct{}

func (nopNotifier) ServiceStarted(string)        {}
func (nopNotifier) ServiceStopped(string)        {}
func (nopNotifier) ConnectionLost(string, error) {}
func (nopNotifier) ConnectionRestored(string)    {}

type nopMetrics struct{}

func (nopMetrics) RecordHeartbeat()       {}
func (nopMetrics) RecordError(string)     {}
func (nopMetrics) RecordVenueStatus(bool) {}
