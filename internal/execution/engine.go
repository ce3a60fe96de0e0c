package execution

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tathienbao/quant-exec/internal/anomaly"
	"github.com/tathienbao/quant-exec/internal/rules"
	"github.com/tathienbao/quant-exec/internal/tca"
	"github.com/tathienbao/quant-exec/internal/types"
	"github.com/tathienbao/quant-exec/internal/venue"
)

var bpsDivisor = decimal.NewFromInt(10000)

// Validator normalizes a submission to venue trading rules.
type Validator interface {
	Validate(req venue.OrderRequest, r types.TradingRules, ref decimal.Decimal) (venue.OrderRequest, error)
}

// Auditor records every submission and its fill.
type Auditor interface {
	RecordSubmission(clientOrderID, symbol string, side types.Side, orderType types.OrderType, reference decimal.Decimal, at time.Time)
	RecordFill(ctx context.Context, clientOrderID, exchangeID string, price, qty decimal.Decimal, at time.Time) (tca.Sample, bool)
	Discard(clientOrderID string)
}

// Monitor receives execution telemetry and may force a plan.
type Monitor interface {
	RecordSpread(symbol string, bps float64)
	RecordSlippage(symbol string, bps float64)
	RecordQueueTime(symbol string, queue time.Duration)
	ExecutionOverride(symbol string) anomaly.Override
}

// Metrics is the execution metrics sink.
type Metrics interface {
	RecordPlan(symbol, plan string)
	RecordOverride(symbol, override string)
	ObserveExecution(plan string, d time.Duration)
	RecordSubmission(symbol, orderType, side string)
	RecordOrderError(symbol, kind string)
	RecordSlippage(symbol string, bps float64)
	ObserveQueueTime(symbol string, d time.Duration)
	ObserveLimitTTL(symbol string, d time.Duration)
	RecordLimitReplace(symbol string)
	RecordTwapSliceFill(symbol string)
	SetParticipation(symbol string, ratio float64)
}

// Deps are the engine's collaborators. Only Client is required.
type Deps struct {
	Client    venue.Client
	Validator Validator
	Oracle    SlippageOracle
	Auditor   Auditor
	Monitor   Monitor
	Metrics   Metrics
}

// Engine carries out plans against a venue. It holds no position state
// and is safe for concurrent use.
type Engine struct {
	cfg       Config
	policy    *Policy
	client    venue.Client
	validator Validator
	oracle    SlippageOracle
	auditor   Auditor
	monitor   Monitor
	metrics   Metrics
	logger    *slog.Logger

	now   func() time.Time
	pause func(ctx context.Context, d time.Duration) error
}

// NewEngine creates an execution engine.
func NewEngine(cfg Config, deps Deps, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if deps.Validator == nil {
		deps.Validator = rules.NewValidator()
	}
	return &Engine{
		cfg:       cfg,
		policy:    NewPolicy(cfg),
		client:    deps.Client,
		validator: deps.Validator,
		oracle:    deps.Oracle,
		auditor:   deps.Auditor,
		monitor:   deps.Monitor,
		metrics:   deps.Metrics,
		logger:    logger,
		now:       time.Now,
		pause:     sleep,
	}
}

// Policy returns the engine's policy.
func (e *Engine) Policy() *Policy {
	return e.policy
}

// Execute plans and works req. It blocks for the duration of requotes and
// slices. Validation errors are returned before any venue call; venue
// failures inside a slicing loop are logged and the loop carries on. The
// returned result is non-nil whenever any order was attempted, even if an
// error is also returned.
func (e *Engine) Execute(ctx context.Context, req Request, snap Snapshot) (*Result, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if err := snap.Validate(); err != nil {
		return nil, err
	}
	start := e.now()

	if e.monitor != nil {
		e.monitor.RecordSpread(req.Symbol, req.SpreadBps)
	}
	plan := e.policy.PlanFor(req, snap, e.oracle)

	override := anomaly.OverrideNone
	if e.monitor != nil {
		override = e.monitor.ExecutionOverride(req.Symbol)
	}
	switch override {
	case anomaly.OverrideForceMarket:
		plan = MarketPlan{}
	case anomaly.OverrideForceTwap:
		plan = e.policy.twapPlan()
	}
	if override != anomaly.OverrideNone {
		e.logger.Warn("execution plan overridden",
			"symbol", req.Symbol,
			"override", override.String(),
			"plan", plan.Name(),
		)
		if e.metrics != nil {
			e.metrics.RecordOverride(req.Symbol, override.String())
		}
	}
	if e.metrics != nil {
		e.metrics.RecordPlan(req.Symbol, plan.Name())
	}

	e.logger.Info("executing",
		"symbol", req.Symbol,
		"side", req.Side.String(),
		"qty", req.Quantity.String(),
		"plan", plan.Name(),
		"client_order_id", req.BaseClientOrderID,
	)

	var (
		res *Result
		err error
	)
	switch p := plan.(type) {
	case MarketPlan:
		res, err = e.executeMarket(ctx, req, p)
	case LimitPlan:
		res, err = e.executeLimit(ctx, req, p)
	case TwapPlan:
		res, err = e.executeTwap(ctx, req, p)
	case PovPlan:
		res, err = e.executePov(ctx, req, snap, p)
	default:
		return nil, fmt.Errorf("unsupported plan %T", plan)
	}
	if res != nil {
		res.Override = override.String()
	}
	if e.metrics != nil {
		e.metrics.ObserveExecution(plan.Name(), e.now().Sub(start))
	}
	return res, err
}

func (e *Engine) executeMarket(ctx context.Context, req Request, plan MarketPlan) (*Result, error) {
	res := &Result{Plan: plan}
	var f fills

	o, err := e.submit(ctx, req, types.OrderTypeMarket, decimal.Zero, req.Quantity, req.BaseClientOrderID)
	res.Orders = append(res.Orders, o)
	f.add(o.ExecutedQty, o.FillPrice)

	res.ExecutedQty = f.qty
	res.AveragePrice = f.average(req.ReferencePrice)
	return res, err
}

func (e *Engine) executeLimit(ctx context.Context, req Request, plan LimitPlan) (*Result, error) {
	res := &Result{Plan: plan}
	var f fills
	remaining := req.Quantity

	for attempt := 0; attempt <= plan.MaxRetries && remaining.IsPositive(); attempt++ {
		price := limitPrice(req.Side, req.ReferencePrice, plan.BufferBps*float64(attempt+1))
		id := req.BaseClientOrderID
		if attempt > 0 {
			id += "-r" + strconv.Itoa(attempt)
		}

		o, err := e.submit(ctx, req, types.OrderTypeLimit, price, remaining, id)
		res.Orders = append(res.Orders, o)
		if err != nil {
			if errors.Is(err, types.ErrInvalidRequest) || ctx.Err() != nil {
				return e.finish(res, &f, req), err
			}
			continue
		}
		f.add(o.ExecutedQty, o.FillPrice)
		remaining = remaining.Sub(o.ExecutedQty)
		if !remaining.IsPositive() {
			break
		}

		if err := e.pause(ctx, plan.TTL); err != nil {
			return e.finish(res, &f, req), err
		}
		if e.metrics != nil {
			e.metrics.ObserveLimitTTL(req.Symbol, plan.TTL)
		}
		e.cancel(ctx, req.Symbol, id)
		if e.auditor != nil {
			e.auditor.Discard(id)
		}
		if e.metrics != nil {
			e.metrics.RecordLimitReplace(req.Symbol)
		}
	}

	var err error
	if remaining.IsPositive() {
		e.logger.Debug("limit attempts exhausted, sweeping with market",
			"symbol", req.Symbol,
			"remaining", remaining.String(),
		)
		var o Order
		o, err = e.submit(ctx, req, types.OrderTypeMarket, decimal.Zero, remaining, req.BaseClientOrderID+"-m")
		res.Orders = append(res.Orders, o)
		f.add(o.ExecutedQty, o.FillPrice)
	}
	return e.finish(res, &f, req), err
}

func (e *Engine) executeTwap(ctx context.Context, req Request, plan TwapPlan) (*Result, error) {
	res := &Result{Plan: plan}
	var f fills

	quantities := SplitEven(req.Quantity, max(1, plan.Slices), req.Rules.StepSize)
	if len(quantities) < plan.Slices {
		e.logger.Debug("twap slice count capped by step size",
			"symbol", req.Symbol,
			"quantity", req.Quantity.String(),
			"step", req.Rules.StepSize.String(),
			"slices", len(quantities),
		)
	}
	delay := plan.Window / time.Duration(len(quantities))

	for i, qty := range quantities {
		o, err := e.submit(ctx, req, types.OrderTypeMarket, decimal.Zero, qty, req.BaseClientOrderID+"-twap-"+strconv.Itoa(i))
		res.Orders = append(res.Orders, o)
		if err != nil && (errors.Is(err, types.ErrInvalidRequest) || ctx.Err() != nil) {
			return e.finish(res, &f, req), err
		}
		f.add(o.ExecutedQty, o.FillPrice)
		if e.metrics != nil {
			e.metrics.RecordTwapSliceFill(req.Symbol)
		}
		if i < len(quantities)-1 {
			if err := e.pause(ctx, delay); err != nil {
				return e.finish(res, &f, req), err
			}
		}
	}
	return e.finish(res, &f, req), nil
}

func (e *Engine) executePov(ctx context.Context, req Request, snap Snapshot, plan PovPlan) (*Result, error) {
	res := &Result{Plan: plan}
	var f fills
	remaining := req.Quantity
	target := decimal.NewFromFloat(plan.TargetParticipation)

	for slice := 0; remaining.IsPositive() && e.now().Before(req.Deadline); slice++ {
		qty := e.povSlice(remaining, snap.BarVolume, target, req.Rules)
		o, err := e.submit(ctx, req, types.OrderTypeMarket, decimal.Zero, qty, req.BaseClientOrderID+"-pov-"+strconv.Itoa(slice))
		res.Orders = append(res.Orders, o)
		if err != nil && (errors.Is(err, types.ErrInvalidRequest) || ctx.Err() != nil) {
			return e.finish(res, &f, req), err
		}
		if !o.ExecutedQty.IsPositive() {
			// Nothing traded; stop pacing and let the sweep finish.
			break
		}
		f.add(o.ExecutedQty, o.FillPrice)
		remaining = remaining.Sub(o.ExecutedQty)
		e.setParticipation(req, f.qty)

		if remaining.IsPositive() {
			if err := e.pause(ctx, e.cfg.Pov.ReassessInterval); err != nil {
				return e.finish(res, &f, req), err
			}
		}
	}

	var err error
	if remaining.IsPositive() {
		e.logger.Debug("pov deadline reached, sweeping with market",
			"symbol", req.Symbol,
			"remaining", remaining.String(),
		)
		var o Order
		o, err = e.submit(ctx, req, types.OrderTypeMarket, decimal.Zero, remaining, req.BaseClientOrderID+"-pov-final")
		res.Orders = append(res.Orders, o)
		f.add(o.ExecutedQty, o.FillPrice)
		e.setParticipation(req, f.qty)
	}
	return e.finish(res, &f, req), err
}

// povSlice sizes the next POV slice: min(remaining, target x bar volume),
// using the configured default slice when bar volume is unknown.
func (e *Engine) povSlice(remaining, barVolume, target decimal.Decimal, r types.TradingRules) decimal.Decimal {
	var desired decimal.Decimal
	switch {
	case barVolume.IsPositive():
		desired = barVolume.Mul(target).Truncate(8)
	case e.cfg.Pov.DefaultSliceQty.IsPositive():
		desired = e.cfg.Pov.DefaultSliceQty
	default:
		desired = remaining.Mul(decimal.NewFromInt(10)).Mul(target).Truncate(8)
	}
	qty := decimal.Min(desired, remaining)
	qty = rules.FloorToStep(qty, r.StepSize)
	if !qty.IsPositive() || (r.MinQty.IsPositive() && qty.LessThan(r.MinQty)) {
		return remaining
	}
	return qty
}

func (e *Engine) setParticipation(req Request, executed decimal.Decimal) {
	if e.metrics == nil || !req.Quantity.IsPositive() {
		return
	}
	e.metrics.SetParticipation(req.Symbol, executed.DivRound(req.Quantity, 6).InexactFloat64())
}

func (e *Engine) finish(res *Result, f *fills, req Request) *Result {
	res.ExecutedQty = f.qty
	res.AveragePrice = f.average(req.ReferencePrice)
	return res
}

// submit validates, audits and sends one order. Validation failures wrap
// types.ErrInvalidRequest and never reach the venue.
func (e *Engine) submit(ctx context.Context, req Request, orderType types.OrderType, price, qty decimal.Decimal, clientOrderID string) (Order, error) {
	o := Order{
		ClientOrderID: clientOrderID,
		Type:          orderType,
		Quantity:      qty,
		LimitPrice:    price,
		Status:        types.OrderStatusError,
	}

	orderReq := venue.OrderRequest{
		Symbol:        req.Symbol,
		Side:          req.Side,
		Type:          orderType,
		Quantity:      qty,
		ClientOrderID: clientOrderID,
	}
	if orderType == types.OrderTypeLimit {
		orderReq.Price = price
		orderReq.TimeInForce = venue.TimeInForceGTC
	}

	orderReq, err := e.validator.Validate(orderReq, req.Rules, req.ReferencePrice)
	if err != nil {
		o.Err = err
		e.recordError(req.Symbol, "validation")
		return o, fmt.Errorf("%w: %s: %w", types.ErrInvalidRequest, clientOrderID, err)
	}
	o.Quantity = orderReq.Quantity
	o.LimitPrice = orderReq.Price

	submittedAt := e.now()
	if e.auditor != nil {
		e.auditor.RecordSubmission(clientOrderID, req.Symbol, req.Side, orderType, req.ReferencePrice, submittedAt)
	}
	if e.metrics != nil {
		e.metrics.RecordSubmission(req.Symbol, orderType.String(), req.Side.String())
	}

	var ack *venue.OrderAck
	if req.DryRun {
		ack = dryRunAck(orderReq, req.ReferencePrice, submittedAt)
	} else {
		ack, err = e.client.SubmitOrder(ctx, orderReq)
		if err != nil {
			o.Err = err
			e.recordError(req.Symbol, "submit")
			if e.auditor != nil {
				e.auditor.Discard(clientOrderID)
			}
			e.logger.Warn("order submission failed",
				"symbol", req.Symbol,
				"client_order_id", clientOrderID,
				"type", orderType.String(),
				"err", err,
			)
			return o, fmt.Errorf("submit %s: %w", clientOrderID, err)
		}
	}

	fallback := orderReq.Price
	if !fallback.IsPositive() {
		fallback = req.ReferencePrice
	}
	o.ExchangeID = ack.ExchangeID
	o.Status = ack.Status
	o.ExecutedQty = ack.ExecutedQty
	o.FillPrice = ack.FillPrice(fallback)

	var queue time.Duration
	if !ack.TransactTime.IsZero() {
		queue = max(0, ack.TransactTime.Sub(submittedAt))
	}
	if e.metrics != nil {
		e.metrics.ObserveQueueTime(req.Symbol, queue)
	}
	if e.monitor != nil {
		e.monitor.RecordQueueTime(req.Symbol, queue)
	}

	if o.ExecutedQty.IsPositive() {
		e.recordFill(ctx, req, o, ack.TransactTime)
	}
	return o, nil
}

func (e *Engine) recordFill(ctx context.Context, req Request, o Order, at time.Time) {
	if e.auditor != nil {
		e.auditor.RecordFill(ctx, o.ClientOrderID, o.ExchangeID, o.FillPrice, o.ExecutedQty, at)
	}
	bps := tca.SlippageBps(req.Side, req.ReferencePrice, o.FillPrice)
	if math.IsNaN(bps) {
		return
	}
	if e.metrics != nil {
		e.metrics.RecordSlippage(req.Symbol, bps)
	}
	if e.monitor != nil {
		e.monitor.RecordSlippage(req.Symbol, bps)
	}
}

// cancel cancels a resting order. Failures are logged and swallowed so
// requoting continues.
func (e *Engine) cancel(ctx context.Context, symbol, clientOrderID string) {
	if err := e.client.CancelOrder(ctx, symbol, clientOrderID); err != nil {
		e.logger.Debug("cancel failed",
			"symbol", symbol,
			"client_order_id", clientOrderID,
			"err", err,
		)
		e.recordError(symbol, "cancel")
	}
}

func (e *Engine) recordError(symbol, kind string) {
	if e.metrics != nil {
		e.metrics.RecordOrderError(symbol, kind)
	}
}

// limitPrice shifts reference by bufferBps away from the touch: below it
// for BUY, above it for SELL.
func limitPrice(side types.Side, reference decimal.Decimal, bufferBps float64) decimal.Decimal {
	factor := decimal.NewFromFloat(bufferBps).Div(bpsDivisor)
	if side == types.SideBuy {
		return reference.Mul(decimal.NewFromInt(1).Sub(factor)).Round(8)
	}
	return reference.Mul(decimal.NewFromInt(1).Add(factor)).Round(8)
}

// SplitEven splits qty into n slices floored to step, with the remainder
// in the last slice. The slices always sum to qty and none is zero: when
// qty holds fewer than n whole steps, n drops to that number of steps.
func SplitEven(qty decimal.Decimal, n int, step decimal.Decimal) []decimal.Decimal {
	unit := decimal.New(1, -8)
	if step.IsPositive() {
		unit = step
	}
	if steps := qty.Div(unit).Floor(); steps.LessThan(decimal.NewFromInt(int64(n))) {
		n = int(steps.IntPart())
	}
	if n <= 1 {
		return []decimal.Decimal{qty}
	}
	slice := qty.Div(decimal.NewFromInt(int64(n))).Truncate(8)
	if step.IsPositive() {
		slice = rules.FloorToStep(slice, step)
	}
	out := make([]decimal.Decimal, n)
	allocated := decimal.Zero
	for i := 0; i < n-1; i++ {
		out[i] = slice
		allocated = allocated.Add(slice)
	}
	out[n-1] = qty.Sub(allocated)
	return out
}

func dryRunAck(req venue.OrderRequest, reference decimal.Decimal, at time.Time) *venue.OrderAck {
	price := req.Price
	if !price.IsPositive() {
		price = reference
	}
	return &venue.OrderAck{
		ExchangeID:    "dry-" + req.ClientOrderID,
		ClientOrderID: req.ClientOrderID,
		Status:        types.OrderStatusFilled,
		ExecutedQty:   req.Quantity,
		CumQuote:      price.Mul(req.Quantity),
		Price:         price,
		TransactTime:  at,
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
