package alerting

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tathienbao/quant-exec/internal/types"
)

type notification struct {
	event   AlertEvent
	message string
	fields  []any
}

// Notifier turns execution events into alerts. Delivery is asynchronous so
// callers holding position locks never wait on a slow channel; when the
// queue is full the notification is logged and dropped.
type Notifier struct {
	alerter Alerter
	logger  *slog.Logger
	timeout time.Duration

	queue     chan notification
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// NewNotifier starts a notifier delivering to alerter.
func NewNotifier(alerter Alerter, logger *slog.Logger) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	n := &Notifier{
		alerter: alerter,
		logger:  logger,
		timeout: 10 * time.Second,
		queue:   make(chan notification, 256),
	}
	n.wg.Add(1)
	go n.run()
	return n
}

// Close flushes pending notifications and stops delivery.
func (n *Notifier) Close() {
	n.closeOnce.Do(func() {
		close(n.queue)
		n.wg.Wait()
	})
}

func (n *Notifier) run() {
	defer n.wg.Done()
	for msg := range n.queue {
		ctx, cancel := context.WithTimeout(context.Background(), n.timeout)
		fields := append([]any{"event", string(msg.event)}, msg.fields...)
		if err := n.alerter.Alert(ctx, EventSeverity(msg.event), msg.message, fields...); err != nil {
			n.logger.Warn("notification failed", "event", msg.event, "err", err)
		}
		cancel()
	}
}

func (n *Notifier) notify(event AlertEvent, message string, fields ...any) {
	defer func() {
		// Sending after Close panics; treat it like a full queue.
		if recover() != nil {
			n.logger.Warn("notification dropped after close", "event", event)
		}
	}()
	select {
	case n.queue <- notification{event: event, message: message, fields: fields}:
	default:
		n.logger.Warn("notification dropped, queue full", "event", event)
	}
}

// PositionOpened announces a new position.
func (n *Notifier) PositionOpened(p types.Position) {
	n.notify(EventPositionOpened,
		fmt.Sprintf("Opened %s %s %s @ %s", p.Side, p.QtyInitial, p.Symbol, p.EntryPrice),
		"position_id", p.ID,
		"stop_loss", p.StopLoss.String(),
		"take_profit", p.TakeProfit.String(),
	)
}

// PartialFill announces a partial protective fill.
func (n *Notifier) PartialFill(p types.Position, o types.ManagedOrder, delta, price decimal.Decimal) {
	n.notify(EventPartialFill,
		fmt.Sprintf("%s partially filled %s @ %s on %s", o.Type, delta, price, p.Symbol),
		"position_id", p.ID,
		"client_order_id", o.ClientOrderID,
		"remaining", p.QtyRemaining.String(),
	)
}

// ProtectiveFilled announces a stop-loss or take-profit fill with realized PnL.
func (n *Notifier) ProtectiveFilled(p types.Position, o types.ManagedOrder, price, pnl decimal.Decimal) {
	event := EventTakeProfit
	label := "Take profit"
	if o.Type == types.ManagedStopLoss {
		event = EventStopHit
		label = "Stop loss"
	}
	n.notify(event,
		fmt.Sprintf("%s hit on %s @ %s, realized %s", label, p.Symbol, price, pnl.StringFixed(2)),
		"position_id", p.ID,
		"client_order_id", o.ClientOrderID,
	)
}

// PositionClosed announces a closed position.
func (n *Notifier) PositionClosed(p types.Position) {
	n.notify(EventPositionClosed,
		fmt.Sprintf("Closed %s position on %s", p.Side, p.Symbol),
		"position_id", p.ID,
	)
}

// PositionError announces a protective order failure needing operator action.
func (n *Notifier) PositionError(p types.Position, o types.ManagedOrder) {
	n.notify(EventPositionError,
		fmt.Sprintf("%s %s on %s, position marked ERROR", o.Type, o.Status, p.Symbol),
		"position_id", p.ID,
		"client_order_id", o.ClientOrderID,
	)
}

// OCOCorrected announces an opposite leg that had to be cancelled again.
func (n *Notifier) OCOCorrected(positionID, clientOrderID, reason string) {
	n.notify(EventOCOCorrected,
		"OCO correction: "+reason,
		"position_id", positionID,
		"client_order_id", clientOrderID,
	)
}

// OrderAdopted announces a venue order unknown to the engine.
func (n *Notifier) OrderAdopted(s types.ExternalOrderSnapshot) {
	n.notify(EventOrderAdopted,
		fmt.Sprintf("Unknown venue order %s on %s (%s)", s.ClientOrderID, s.Symbol, s.Status),
		"exchange_id", s.ExchangeID,
		"executed_qty", s.ExecutedQty.String(),
	)
}

// Anomaly announces a telemetry anomaly.
func (n *Notifier) Anomaly(symbol, metric, severity string, z float64) {
	n.notify(EventAnomaly,
		fmt.Sprintf("%s anomaly on %s %s (z=%.2f)", severity, symbol, metric, z),
		"symbol", symbol,
		"metric", metric,
	)
}

// ConnectionLost announces a venue disconnect.
func (n *Notifier) ConnectionLost(name string, err error) {
	n.notify(EventConnectionLost, "Venue connection lost: "+name, "err", fmt.Sprint(err))
}

// ConnectionRestored announces a venue reconnect.
func (n *Notifier) ConnectionRestored(name string) {
	n.notify(EventConnectionRestored, "Venue connection restored: "+name)
}

// ServiceStarted announces service start.
func (n *Notifier) ServiceStarted(version string) {
	n.notify(EventServiceStarted, "Execution service started", "version", version)
}

// ServiceStopped announces service stop.
func (n *Notifier) ServiceStopped(reason string) {
	n.notify(EventServiceStopped, "Execution service stopped", "reason", reason)
}
