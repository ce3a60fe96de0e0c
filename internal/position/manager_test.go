package position

import (
	"context"
	"errors"
	"math/rand"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tathienbao/quant-exec/internal/persistence"
	"github.com/tathienbao/quant-exec/internal/types"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// fakeVenue records protective placements and cancels.
type fakeVenue struct {
	mu        sync.Mutex
	native    bool
	ocoErr    error
	childErr  error
	cancelErr error
	ocoCalls  int
	children  []string
	cancels   []string
}

func (v *fakeVenue) PlaceOCO(_ context.Context, _ string, stop, target *types.ManagedOrder) (bool, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.ocoCalls++
	if v.ocoErr != nil {
		return false, v.ocoErr
	}
	if v.native {
		stop.ExchangeID = "X-" + stop.ClientOrderID
		target.ExchangeID = "X-" + target.ClientOrderID
	}
	return v.native, nil
}

func (v *fakeVenue) PlaceChildOrder(_ context.Context, _ string, o *types.ManagedOrder) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.childErr != nil {
		return v.childErr
	}
	v.children = append(v.children, o.ClientOrderID)
	o.ExchangeID = "X-" + o.ClientOrderID
	return nil
}

func (v *fakeVenue) CancelOrder(_ context.Context, _, clientOrderID string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.cancels = append(v.cancels, clientOrderID)
	return v.cancelErr
}

func (v *fakeVenue) cancelled(clientOrderID string) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	for _, c := range v.cancels {
		if c == clientOrderID {
			return true
		}
	}
	return false
}

type fakeNotifier struct {
	mu      sync.Mutex
	events  []string
	lastPnL decimal.Decimal
	adopted []string
	oco     []string
}

func (n *fakeNotifier) add(e string) {
	n.mu.Lock()
	n.events = append(n.events, e)
	n.mu.Unlock()
}

func (n *fakeNotifier) PositionOpened(types.Position) { n.add("opened") }

func (n *fakeNotifier) PartialFill(types.Position, types.ManagedOrder, decimal.Decimal, decimal.Decimal) {
	n.add("partial")
}

func (n *fakeNotifier) ProtectiveFilled(_ types.Position, o types.ManagedOrder, _, pnl decimal.Decimal) {
	n.mu.Lock()
	n.lastPnL = pnl
	n.mu.Unlock()
	n.add("filled:" + o.Type.String())
}

func (n *fakeNotifier) PositionClosed(types.Position) { n.add("closed") }

func (n *fakeNotifier) PositionError(types.Position, types.ManagedOrder) { n.add("error") }

func (n *fakeNotifier) OCOCorrected(_, clientOrderID, _ string) {
	n.mu.Lock()
	n.oco = append(n.oco, clientOrderID)
	n.mu.Unlock()
}

func (n *fakeNotifier) OrderAdopted(s types.ExternalOrderSnapshot) {
	n.mu.Lock()
	n.adopted = append(n.adopted, s.ClientOrderID)
	n.mu.Unlock()
}

func (n *fakeNotifier) count(e string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	c := 0
	for _, got := range n.events {
		if got == e {
			c++
		}
	}
	return c
}

type fakeMetrics struct {
	mu          sync.Mutex
	opened      int
	closed      int
	corrections int
	dropped     map[string]int
	pnl         decimal.Decimal
}

func (m *fakeMetrics) RecordPositionOpened(string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.opened++
}

func (m *fakeMetrics) RecordPositionClosed(string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed++
}

func (m *fakeMetrics) RecordOrderEvent(string) {}

func (m *fakeMetrics) RecordOCOCorrection() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.corrections++
}

func (m *fakeMetrics) RecordUpdateDropped(reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.dropped == nil {
		m.dropped = make(map[string]int)
	}
	m.dropped[reason]++
}

func (m *fakeMetrics) RecordReconcile(int, int) {}

func (m *fakeMetrics) RecordRealizedPnL(_ string, pnl decimal.Decimal) {
	m.mu.Lock()
	m.pnl = m.pnl.Add(pnl)
	m.mu.Unlock()
}

func (m *fakeMetrics) droppedFor(reason string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.dropped[reason]
}

type harness struct {
	m        *Manager
	store    *persistence.MemoryStore
	venue    *fakeVenue
	notifier *fakeNotifier
	metrics  *fakeMetrics
}

func newHarness(t *testing.T, mutate func(*Config, *fakeVenue)) *harness {
	t.Helper()
	cfg := DefaultConfig()
	h := &harness{
		store:    persistence.NewMemoryStore(),
		venue:    &fakeVenue{},
		notifier: &fakeNotifier{},
		metrics:  &fakeMetrics{},
	}
	if mutate != nil {
		mutate(&cfg, h.venue)
	}
	h.m = NewManager(cfg, Deps{
		Store:    h.store,
		Venue:    h.venue,
		Notifier: h.notifier,
		Metrics:  h.metrics,
		Drift:    h.metrics,
	}, nil)
	return h
}

func buyCommand() OpenCommand {
	return OpenCommand{
		Symbol:     "BTCUSDT",
		Side:       types.SideBuy,
		EntryPrice: dec("100"),
		Quantity:   dec("1"),
		StopLoss:   dec("98"),
		TakeProfit: dec("102"),
	}
}

func (h *harness) open(t *testing.T, cmd OpenCommand) types.Position {
	t.Helper()
	pos, err := h.m.OpenPosition(context.Background(), cmd)
	if err != nil {
		t.Fatalf("OpenPosition() error = %v", err)
	}
	return pos
}

func (h *harness) leg(t *testing.T, positionID string, typ types.ManagedOrderType) types.ManagedOrder {
	t.Helper()
	o, err := h.store.FindOrder(context.Background(), positionID, typ)
	if err != nil {
		t.Fatalf("FindOrder(%s) error = %v", typ, err)
	}
	return o
}

func (h *harness) position(t *testing.T, id string) types.Position {
	t.Helper()
	p, err := h.store.GetPosition(context.Background(), id)
	if err != nil {
		t.Fatalf("GetPosition() error = %v", err)
	}
	return p
}

func update(clientID string, status types.OrderStatus, filled, last, price string) types.OrderUpdate {
	return types.OrderUpdate{
		ClientOrderID: clientID,
		Status:        status,
		FilledQty:     dec(filled),
		LastFilledQty: dec(last),
		LastPrice:     dec(price),
		EventTime:     time.Now(),
	}
}

func TestManager_OpenPositionEmulatesOCO(t *testing.T) {
	h := newHarness(t, nil)
	pos := h.open(t, buyCommand())

	if pos.Status != types.PositionOpen || !pos.QtyRemaining.Equal(dec("1")) {
		t.Errorf("position = %s remaining %s, want OPEN 1", pos.Status, pos.QtyRemaining)
	}

	sl := h.leg(t, pos.ID, types.ManagedStopLoss)
	tp := h.leg(t, pos.ID, types.ManagedTakeProfit)

	if sl.Side != types.SideSell || tp.Side != types.SideSell {
		t.Errorf("leg sides = %s/%s, want SELL/SELL", sl.Side, tp.Side)
	}
	if !sl.Price.Equal(dec("98")) || !sl.StopPrice.Equal(dec("98")) {
		t.Errorf("stop leg = %s/%s, want 98/98", sl.Price, sl.StopPrice)
	}
	if !tp.Price.Equal(dec("102")) || !tp.StopPrice.IsZero() {
		t.Errorf("target leg = %s/%s, want 102/0", tp.Price, tp.StopPrice)
	}
	if sl.Status != types.OrderStatusWorking || tp.Status != types.OrderStatusWorking {
		t.Errorf("leg status = %s/%s, want WORKING", sl.Status, tp.Status)
	}
	if sl.ClientOrderID == tp.ClientOrderID {
		t.Error("legs share a client order id")
	}
	if len(h.venue.children) != 2 {
		t.Errorf("child orders placed = %d, want 2", len(h.venue.children))
	}
	if h.notifier.count("opened") != 1 || h.metrics.opened != 1 {
		t.Errorf("opened notifications/metrics = %d/%d, want 1/1", h.notifier.count("opened"), h.metrics.opened)
	}
}

func TestManager_OpenPositionProtectivePlacement(t *testing.T) {
	tests := []struct {
		name         string
		native       bool
		ocoErr       error
		emulation    bool
		wantChildren int
		wantStatus   types.OrderStatus
	}{
		{"native oco", true, nil, true, 0, types.OrderStatusWorking},
		{"unsupported error emulates", false, types.ErrUnsupported, true, 2, types.OrderStatusWorking},
		{"emulation disabled", false, nil, false, 0, types.OrderStatusNew},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, func(c *Config, v *fakeVenue) {
				c.ClientEmulation = tt.emulation
				v.native = tt.native
				v.ocoErr = tt.ocoErr
			})
			pos := h.open(t, buyCommand())

			if len(h.venue.children) != tt.wantChildren {
				t.Errorf("child orders = %d, want %d", len(h.venue.children), tt.wantChildren)
			}
			for _, typ := range []types.ManagedOrderType{types.ManagedStopLoss, types.ManagedTakeProfit} {
				if got := h.leg(t, pos.ID, typ).Status; got != tt.wantStatus {
					t.Errorf("%s status = %s, want %s", typ, got, tt.wantStatus)
				}
			}
		})
	}
}

func TestManager_OpenPositionPlacementFailure(t *testing.T) {
	h := newHarness(t, func(_ *Config, v *fakeVenue) {
		v.childErr = types.ErrNotConnected
	})

	pos, err := h.m.OpenPosition(context.Background(), buyCommand())
	if !errors.Is(err, types.ErrNotConnected) {
		t.Fatalf("OpenPosition() error = %v, want ErrNotConnected", err)
	}
	if got := h.position(t, pos.ID).Status; got != types.PositionError {
		t.Errorf("position status = %s, want ERROR", got)
	}
	if h.notifier.count("error") != 1 {
		t.Errorf("error notifications = %d, want 1", h.notifier.count("error"))
	}
}

func TestManager_OpenPositionValidation(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*OpenCommand)
		wantMsg string
	}{
		{"no symbol or quantity", func(c *OpenCommand) { c.Symbol = ""; c.Quantity = decimal.Zero }, "symbol required"},
		{"no stop loss", func(c *OpenCommand) { c.StopLoss = decimal.Zero }, "stop loss and take profit required"},
		{"no take profit", func(c *OpenCommand) { c.TakeProfit = decimal.Zero }, "stop loss and take profit required"},
		{"negative entry", func(c *OpenCommand) { c.EntryPrice = dec("-1") }, "entry price must be positive"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, nil)
			bad := buyCommand()
			tt.mutate(&bad)

			_, err := h.m.OpenPosition(context.Background(), bad)
			if !errors.Is(err, types.ErrInvalidRequest) {
				t.Fatalf("OpenPosition() error = %v, want ErrInvalidRequest", err)
			}
			if !strings.Contains(err.Error(), tt.wantMsg) {
				t.Errorf("OpenPosition() error = %v, want to contain %q", err, tt.wantMsg)
			}
			if h.venue.ocoCalls != 0 {
				t.Errorf("venue called %d times for invalid command", h.venue.ocoCalls)
			}
		})
	}
}

// BUY 1 @ 100, stop 98, target 102. The target fills 0.4 @ 101, then the
// rest @ 102.
func TestManager_PartialThenFullTakeProfit(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	pos := h.open(t, buyCommand())
	sl := h.leg(t, pos.ID, types.ManagedStopLoss)
	tp := h.leg(t, pos.ID, types.ManagedTakeProfit)

	h.m.OnOrderUpdate(ctx, update(tp.ClientOrderID, types.OrderStatusPartial, "0.4", "0.4", "101"))

	if got := h.position(t, pos.ID).QtyRemaining; !got.Equal(dec("0.6")) {
		t.Errorf("remaining after partial = %s, want 0.6", got)
	}
	if got := h.leg(t, pos.ID, types.ManagedStopLoss).Quantity; !got.Equal(dec("0.6")) {
		t.Errorf("stop qty after partial = %s, want 0.6", got)
	}
	if h.notifier.count("partial") != 1 {
		t.Errorf("partial notifications = %d, want 1", h.notifier.count("partial"))
	}

	// Cumulative only; the delta is derived.
	h.m.OnOrderUpdate(ctx, update(tp.ClientOrderID, types.OrderStatusFilled, "1.0", "0", "102"))

	got := h.position(t, pos.ID)
	if got.Status != types.PositionClosed {
		t.Errorf("position status = %s, want CLOSED", got.Status)
	}
	if !got.QtyRemaining.IsZero() {
		t.Errorf("remaining = %s, want 0", got.QtyRemaining)
	}
	if got.ClosedAt.IsZero() {
		t.Error("ClosedAt not set")
	}
	if s := h.leg(t, pos.ID, types.ManagedStopLoss).Status; s != types.OrderStatusCanceled {
		t.Errorf("stop status = %s, want CANCELED", s)
	}
	if !h.venue.cancelled(sl.ClientOrderID) {
		t.Error("stop leg not cancelled at venue")
	}
	if h.notifier.count("filled:TAKE_PROFIT") != 1 || h.notifier.count("closed") != 1 {
		t.Errorf("notifications = %v", h.notifier.events)
	}
	if !h.notifier.lastPnL.Equal(dec("2")) {
		t.Errorf("notified pnl = %s, want 2", h.notifier.lastPnL)
	}

	// 0.4 x 1 + 0.6 x 2
	if !h.metrics.pnl.Equal(dec("1.6")) {
		t.Errorf("realized pnl = %s, want 1.6", h.metrics.pnl)
	}
	trades, _ := h.store.Trades(ctx, pos.ID)
	sum := decimal.Zero
	for _, tr := range trades {
		sum = sum.Add(tr.Quantity)
	}
	if !sum.Equal(dec("1")) {
		t.Errorf("traded qty = %s, want 1", sum)
	}
}

func TestManager_SellStopLossPnL(t *testing.T) {
	h := newHarness(t, nil)
	cmd := buyCommand()
	cmd.Side = types.SideSell
	cmd.StopLoss = dec("102")
	cmd.TakeProfit = dec("98")
	pos := h.open(t, cmd)
	sl := h.leg(t, pos.ID, types.ManagedStopLoss)
	if sl.Side != types.SideBuy {
		t.Errorf("stop side = %s, want BUY", sl.Side)
	}

	h.m.OnOrderUpdate(context.Background(), update(sl.ClientOrderID, types.OrderStatusFilled, "1", "1", "102"))

	if !h.notifier.lastPnL.Equal(dec("-2")) {
		t.Errorf("pnl = %s, want -2", h.notifier.lastPnL)
	}
	if h.notifier.count("filled:STOP_LOSS") != 1 {
		t.Errorf("notifications = %v", h.notifier.events)
	}
	if h.leg(t, pos.ID, types.ManagedTakeProfit).Status != types.OrderStatusCanceled {
		t.Error("take profit not cancelled")
	}
}

func TestManager_Idempotency(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	pos := h.open(t, buyCommand())
	tp := h.leg(t, pos.ID, types.ManagedTakeProfit)

	u := update(tp.ClientOrderID, types.OrderStatusPartial, "0.4", "0.4", "101")
	for i := 0; i < 3; i++ {
		h.m.OnOrderUpdate(ctx, u)
	}

	if got := h.position(t, pos.ID).QtyRemaining; !got.Equal(dec("0.6")) {
		t.Errorf("remaining = %s, want 0.6", got)
	}
	if h.notifier.count("partial") != 1 {
		t.Errorf("partial notifications = %d, want 1", h.notifier.count("partial"))
	}
	if got := h.metrics.droppedFor("duplicate"); got != 2 {
		t.Errorf("duplicates dropped = %d, want 2", got)
	}
}

func TestManager_StaleUpdatesDropped(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	pos := h.open(t, buyCommand())
	tp := h.leg(t, pos.ID, types.ManagedTakeProfit)

	h.m.OnOrderUpdate(ctx, update(tp.ClientOrderID, types.OrderStatusPartial, "0.5", "0.5", "101"))
	// Reordered older events.
	h.m.OnOrderUpdate(ctx, update(tp.ClientOrderID, types.OrderStatusPartial, "0.3", "0.3", "101"))
	h.m.OnOrderUpdate(ctx, update(tp.ClientOrderID, types.OrderStatusWorking, "0.5", "0", "0"))

	got := h.leg(t, pos.ID, types.ManagedTakeProfit)
	if got.Status != types.OrderStatusPartial || !got.FilledQty.Equal(dec("0.5")) {
		t.Errorf("target = %s filled %s, want PARTIAL 0.5", got.Status, got.FilledQty)
	}
	if h.metrics.droppedFor("stale_fill") != 1 || h.metrics.droppedFor("stale_status") != 1 {
		t.Errorf("dropped = %v", h.metrics.dropped)
	}
	if r := h.position(t, pos.ID).QtyRemaining; !r.Equal(dec("0.5")) {
		t.Errorf("remaining = %s, want 0.5", r)
	}
}

func TestManager_UnknownOrderDropped(t *testing.T) {
	h := newHarness(t, nil)
	h.m.OnOrderUpdate(context.Background(), update("nope", types.OrderStatusFilled, "1", "1", "1"))
	if h.metrics.droppedFor("unknown_order") != 1 {
		t.Errorf("dropped = %v", h.metrics.dropped)
	}
}

func TestManager_OCOMutualExclusion(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	pos := h.open(t, buyCommand())
	sl := h.leg(t, pos.ID, types.ManagedStopLoss)
	tp := h.leg(t, pos.ID, types.ManagedTakeProfit)

	h.m.OnOrderUpdate(ctx, update(sl.ClientOrderID, types.OrderStatusFilled, "1", "1", "98"))
	// The venue acks our cancel of the target.
	h.m.OnOrderUpdate(ctx, update(tp.ClientOrderID, types.OrderStatusCanceled, "0", "0", "0"))

	filled := 0
	for _, typ := range []types.ManagedOrderType{types.ManagedStopLoss, types.ManagedTakeProfit} {
		if h.leg(t, pos.ID, typ).Status == types.OrderStatusFilled {
			filled++
		}
	}
	if filled != 1 {
		t.Errorf("filled legs = %d, want 1", filled)
	}
	if h.position(t, pos.ID).Status != types.PositionClosed {
		t.Error("position not closed")
	}
}

func TestManager_LateFillOnCancelledLeg(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	pos := h.open(t, buyCommand())
	sl := h.leg(t, pos.ID, types.ManagedStopLoss)
	tp := h.leg(t, pos.ID, types.ManagedTakeProfit)

	h.m.OnOrderUpdate(ctx, update(tp.ClientOrderID, types.OrderStatusFilled, "1", "1", "102"))
	h.m.OnOrderUpdate(ctx, update(sl.ClientOrderID, types.OrderStatusFilled, "1", "1", "98"))

	if got := h.position(t, pos.ID).Status; got != types.PositionClosed {
		t.Errorf("position status = %s, want CLOSED", got)
	}
	if h.notifier.count("error") != 1 {
		t.Errorf("error notifications = %d, want 1", h.notifier.count("error"))
	}
	if h.notifier.count("closed") != 1 {
		t.Errorf("closed notifications = %d, want 1", h.notifier.count("closed"))
	}
	trades, _ := h.store.Trades(ctx, pos.ID)
	if len(trades) != 2 {
		t.Errorf("trades = %d, want 2", len(trades))
	}
}

func TestManager_TerminalPositionStatusIsKept(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(t *testing.T, h *harness, pos types.Position)
		late    types.ManagedOrderType
		want    types.PositionStatus
		closedN int
	}{
		{
			name: "fill after manual close",
			setup: func(t *testing.T, h *harness, pos types.Position) {
				if err := h.m.ClosePosition(context.Background(), pos.ID); err != nil {
					t.Fatalf("ClosePosition() error = %v", err)
				}
			},
			late:    types.ManagedStopLoss,
			want:    types.PositionClosed,
			closedN: 1,
		},
		{
			name: "fill after rejected leg",
			setup: func(t *testing.T, h *harness, pos types.Position) {
				sl := h.leg(t, pos.ID, types.ManagedStopLoss)
				h.m.OnOrderUpdate(context.Background(), update(sl.ClientOrderID, types.OrderStatusRejected, "0", "0", "0"))
			},
			late:    types.ManagedTakeProfit,
			want:    types.PositionError,
			closedN: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, nil)
			ctx := context.Background()
			pos := h.open(t, buyCommand())
			tt.setup(t, h, pos)

			leg := h.leg(t, pos.ID, tt.late)
			h.m.OnOrderUpdate(ctx, update(leg.ClientOrderID, types.OrderStatusFilled, "1", "1", "101"))

			if got := h.position(t, pos.ID).Status; got != tt.want {
				t.Errorf("position status = %s, want %s", got, tt.want)
			}
			if h.notifier.count("closed") != tt.closedN {
				t.Errorf("closed notifications = %d, want %d", h.notifier.count("closed"), tt.closedN)
			}
			trades, _ := h.store.Trades(ctx, pos.ID)
			if len(trades) != 1 {
				t.Errorf("trades = %d, want 1", len(trades))
			}
		})
	}
}

func TestManager_CancelFailureCountsCorrection(t *testing.T) {
	h := newHarness(t, func(_ *Config, v *fakeVenue) {
		v.cancelErr = types.ErrNotConnected
	})
	ctx := context.Background()
	pos := h.open(t, buyCommand())
	tp := h.leg(t, pos.ID, types.ManagedTakeProfit)

	h.m.OnOrderUpdate(ctx, update(tp.ClientOrderID, types.OrderStatusFilled, "1", "1", "102"))

	if h.metrics.corrections != 1 {
		t.Errorf("oco corrections = %d, want 1", h.metrics.corrections)
	}
	if h.leg(t, pos.ID, types.ManagedStopLoss).Status != types.OrderStatusCanceled {
		t.Error("stop should be marked CANCELED despite cancel failure")
	}
}

func TestManager_RejectedLegMarksPositionError(t *testing.T) {
	for _, status := range []types.OrderStatus{types.OrderStatusRejected, types.OrderStatusError} {
		t.Run(status.String(), func(t *testing.T) {
			h := newHarness(t, nil)
			pos := h.open(t, buyCommand())
			sl := h.leg(t, pos.ID, types.ManagedStopLoss)

			h.m.OnOrderUpdate(context.Background(), update(sl.ClientOrderID, status, "0", "0", "0"))

			if got := h.position(t, pos.ID).Status; got != types.PositionError {
				t.Errorf("position status = %s, want ERROR", got)
			}
			if h.notifier.count("error") != 1 {
				t.Errorf("error notifications = %d, want 1", h.notifier.count("error"))
			}
		})
	}
}

func TestManager_LockTimeout(t *testing.T) {
	h := newHarness(t, func(c *Config, _ *fakeVenue) {
		c.LockTimeout = 20 * time.Millisecond
	})
	ctx := context.Background()
	pos := h.open(t, buyCommand())
	tp := h.leg(t, pos.ID, types.ManagedTakeProfit)

	release, err := h.m.locks.acquire(ctx, pos.ID, time.Second)
	if err != nil {
		t.Fatalf("acquire() error = %v", err)
	}

	h.m.OnOrderUpdate(ctx, update(tp.ClientOrderID, types.OrderStatusFilled, "1", "1", "102"))
	if h.metrics.droppedFor("lock_timeout") != 1 {
		t.Errorf("dropped = %v", h.metrics.dropped)
	}
	if err := h.m.ReplaceStop(ctx, pos.ID, dec("99"), dec("1")); !errors.Is(err, types.ErrLockTimeout) {
		t.Errorf("ReplaceStop() error = %v, want ErrLockTimeout", err)
	}
	release()

	// The lock is usable again once released.
	h.m.OnOrderUpdate(ctx, update(tp.ClientOrderID, types.OrderStatusFilled, "1", "1", "102"))
	if h.position(t, pos.ID).Status != types.PositionClosed {
		t.Error("position not closed after lock release")
	}
}

func TestManager_ReplaceStop(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	pos := h.open(t, buyCommand())
	old := h.leg(t, pos.ID, types.ManagedStopLoss)

	if err := h.m.ReplaceStop(ctx, pos.ID, dec("99.5"), dec("1")); err != nil {
		t.Fatalf("ReplaceStop() error = %v", err)
	}

	sl := h.leg(t, pos.ID, types.ManagedStopLoss)
	if sl.ClientOrderID == old.ClientOrderID {
		t.Error("replacement reused the client order id")
	}
	if !sl.Price.Equal(dec("99.5")) || !sl.StopPrice.Equal(dec("99.5")) {
		t.Errorf("stop = %s/%s, want 99.5", sl.Price, sl.StopPrice)
	}
	if sl.Status != types.OrderStatusWorking {
		t.Errorf("stop status = %s, want WORKING", sl.Status)
	}
	if !h.venue.cancelled(old.ClientOrderID) {
		t.Error("old stop not cancelled")
	}
	if p := h.position(t, pos.ID); !p.StopLoss.Equal(dec("99.5")) {
		t.Errorf("position stop = %s, want 99.5", p.StopLoss)
	}

	// The cancel ack for the old id no longer maps to an order.
	h.m.OnOrderUpdate(ctx, update(old.ClientOrderID, types.OrderStatusCanceled, "0", "0", "0"))
	if h.leg(t, pos.ID, types.ManagedStopLoss).Status != types.OrderStatusWorking {
		t.Error("old cancel ack touched the replacement")
	}

	if err := h.m.ReplaceStop(ctx, pos.ID, decimal.Zero, dec("1")); !errors.Is(err, types.ErrInvalidRequest) {
		t.Errorf("ReplaceStop(0) error = %v, want ErrInvalidRequest", err)
	}
}

func TestManager_ReplaceStopOnClosedPosition(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	pos := h.open(t, buyCommand())
	if err := h.m.ClosePosition(ctx, pos.ID); err != nil {
		t.Fatalf("ClosePosition() error = %v", err)
	}
	if err := h.m.ReplaceStop(ctx, pos.ID, dec("99"), dec("1")); !errors.Is(err, types.ErrPositionClosed) {
		t.Errorf("ReplaceStop() error = %v, want ErrPositionClosed", err)
	}
}

func TestManager_ClosePosition(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	pos := h.open(t, buyCommand())

	if err := h.m.ClosePosition(ctx, pos.ID); err != nil {
		t.Fatalf("ClosePosition() error = %v", err)
	}
	got := h.position(t, pos.ID)
	if got.Status != types.PositionClosed || !got.QtyRemaining.IsZero() {
		t.Errorf("position = %s remaining %s, want CLOSED 0", got.Status, got.QtyRemaining)
	}
	orders, _ := h.m.Orders(ctx, pos.ID)
	for _, o := range orders {
		if o.Status != types.OrderStatusCanceled {
			t.Errorf("%s status = %s, want CANCELED", o.Type, o.Status)
		}
	}
	if h.metrics.closed != 1 {
		t.Errorf("closed metric = %d, want 1", h.metrics.closed)
	}

	if err := h.m.ClosePosition(ctx, pos.ID); !errors.Is(err, types.ErrPositionClosed) {
		t.Errorf("second ClosePosition() error = %v, want ErrPositionClosed", err)
	}
	if err := h.m.ClosePosition(ctx, "missing"); !errors.Is(err, types.ErrPositionNotFound) {
		t.Errorf("ClosePosition(missing) error = %v, want ErrPositionNotFound", err)
	}
}

func TestManager_ForceCloseAll(t *testing.T) {
	h := newHarness(t, func(_ *Config, v *fakeVenue) {
		v.cancelErr = types.ErrNotConnected
	})
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		h.open(t, buyCommand())
	}

	closed, err := h.m.ForceCloseAll(ctx)
	if err != nil {
		t.Fatalf("ForceCloseAll() error = %v", err)
	}
	if closed != 3 {
		t.Errorf("closed = %d, want 3", closed)
	}
	open, _ := h.m.OpenPositions(ctx)
	if len(open) != 0 {
		t.Errorf("open positions = %d, want 0", len(open))
	}
}

func TestManager_Reconcile(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	closed := h.open(t, buyCommand())
	closedTP := h.leg(t, closed.ID, types.ManagedTakeProfit)
	closedSL := h.leg(t, closed.ID, types.ManagedStopLoss)
	h.m.OnOrderUpdate(ctx, update(closedTP.ClientOrderID, types.OrderStatusFilled, "1", "1", "102"))

	live := h.open(t, buyCommand())
	liveSL := h.leg(t, live.ID, types.ManagedStopLoss)

	snapshots := []types.ExternalOrderSnapshot{
		{Symbol: "BTCUSDT", ClientOrderID: "manual-1", Status: types.OrderStatusWorking},
		{Symbol: "BTCUSDT", ClientOrderID: "manual-2", Status: types.OrderStatusCanceled},
		// Our cancel never landed.
		{Symbol: "BTCUSDT", ClientOrderID: closedSL.ClientOrderID, Status: types.OrderStatusWorking},
		// The stop filled while the stream was down.
		{Symbol: "BTCUSDT", ClientOrderID: liveSL.ClientOrderID, ExchangeID: "EX-9", Status: types.OrderStatusFilled, ExecutedQty: dec("1")},
	}

	report := h.m.Reconcile(ctx, snapshots)

	if report.Adopted != 2 || report.Corrected != 1 {
		t.Errorf("report = %+v, want 2 adopted 1 corrected", report)
	}
	if len(h.notifier.adopted) != 2 || h.notifier.adopted[0] != "manual-1" || h.notifier.adopted[1] != "manual-2" {
		t.Errorf("adopted = %v, want [manual-1 manual-2]", h.notifier.adopted)
	}
	if len(h.notifier.oco) != 1 || h.notifier.oco[0] != closedSL.ClientOrderID {
		t.Errorf("oco corrections = %v", h.notifier.oco)
	}
	if !h.venue.cancelled(closedSL.ClientOrderID) {
		t.Error("stale leg not re-cancelled")
	}

	sl := h.leg(t, live.ID, types.ManagedStopLoss)
	if sl.Status != types.OrderStatusFilled || sl.ExchangeID != "EX-9" {
		t.Errorf("stop = %s %s, want FILLED EX-9", sl.Status, sl.ExchangeID)
	}
	if h.position(t, live.ID).Status != types.PositionClosed {
		t.Error("position with filled stop not closed")
	}

	// A second pass finds nothing new to apply.
	h.m.Reconcile(ctx, snapshots[3:])
	if h.notifier.count("filled:STOP_LOSS") != 1 {
		t.Errorf("stop fill notified %d times, want 1", h.notifier.count("filled:STOP_LOSS"))
	}
}

func TestManager_ReconcileAdoptsTerminalUnknownOrders(t *testing.T) {
	h := newHarness(t, nil)

	report := h.m.Reconcile(context.Background(), []types.ExternalOrderSnapshot{
		{Symbol: "BTCUSDT", ClientOrderID: "manual-filled", Status: types.OrderStatusFilled, ExecutedQty: dec("1")},
		{Symbol: "BTCUSDT", ClientOrderID: "manual-cancel", Status: types.OrderStatusCanceled},
	})

	if report.Adopted != 2 {
		t.Errorf("Adopted = %d, want 2", report.Adopted)
	}
	if report.Corrected != 0 {
		t.Errorf("Corrected = %d, want 0", report.Corrected)
	}
	if len(h.notifier.adopted) != 2 {
		t.Errorf("adopted = %v, want 2 entries", h.notifier.adopted)
	}
	if open, _ := h.m.OpenPositions(context.Background()); len(open) != 0 {
		t.Errorf("open positions = %d, want 0", len(open))
	}
}

func TestManager_ConcurrentReorderedUpdates(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	pos := h.open(t, buyCommand())
	tp := h.leg(t, pos.ID, types.ManagedTakeProfit)

	var updates []types.OrderUpdate
	for i := 1; i <= 9; i++ {
		cum := decimal.NewFromInt(int64(i)).Div(decimal.NewFromInt(10))
		updates = append(updates, types.OrderUpdate{
			ClientOrderID: tp.ClientOrderID,
			Status:        types.OrderStatusPartial,
			FilledQty:     cum,
			LastFilledQty: dec("0.1"),
			LastPrice:     dec("102"),
		})
	}
	updates = append(updates, update(tp.ClientOrderID, types.OrderStatusFilled, "1", "0.1", "102"))
	// Duplicates.
	updates = append(updates, updates...)
	rand.New(rand.NewSource(7)).Shuffle(len(updates), func(i, j int) {
		updates[i], updates[j] = updates[j], updates[i]
	})

	var wg sync.WaitGroup
	for _, u := range updates {
		wg.Add(1)
		go func(u types.OrderUpdate) {
			defer wg.Done()
			h.m.OnOrderUpdate(ctx, u)
		}(u)
	}
	wg.Wait()

	got := h.position(t, pos.ID)
	if got.Status != types.PositionClosed || !got.QtyRemaining.IsZero() {
		t.Errorf("position = %s remaining %s, want CLOSED 0", got.Status, got.QtyRemaining)
	}
	trades, _ := h.store.Trades(ctx, pos.ID)
	sum := decimal.Zero
	for _, tr := range trades {
		sum = sum.Add(tr.Quantity)
	}
	if !sum.Equal(dec("1")) {
		t.Errorf("traded qty = %s, want 1", sum)
	}
	if h.leg(t, pos.ID, types.ManagedStopLoss).Status != types.OrderStatusCanceled {
		t.Error("stop not cancelled")
	}
	if h.notifier.count("closed") != 1 {
		t.Errorf("closed notifications = %d, want 1", h.notifier.count("closed"))
	}
}

func TestManager_DifferentPositionsInParallel(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			pos, err := h.m.OpenPosition(ctx, buyCommand())
			if err != nil {
				t.Errorf("OpenPosition() error = %v", err)
				return
			}
			tp, _ := h.store.FindOrder(ctx, pos.ID, types.ManagedTakeProfit)
			h.m.OnOrderUpdate(ctx, update(tp.ClientOrderID, types.OrderStatusFilled, "1", "1", "102"))
		}()
	}
	wg.Wait()

	if h.metrics.opened != 20 || h.metrics.closed != 20 {
		t.Errorf("opened/closed = %d/%d, want 20/20", h.metrics.opened, h.metrics.closed)
	}
}
