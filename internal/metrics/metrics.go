// Package metrics exposes Prometheus collectors for the execution engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "quantexec"

// Execution metrics.
var (
	OrdersSubmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "orders_submitted_total",
		Help:      "Orders submitted to the venue",
	}, []string{"symbol", "type", "side"})

	OrderErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "order_errors_total",
		Help:      "Order submissions or cancels that failed",
	}, []string{"symbol", "kind"})

	ExecutionPlans = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "execution_plans_total",
		Help:      "Execution plans chosen by the policy",
	}, []string{"symbol", "plan"})

	ExecutionOverrides = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "execution_overrides_total",
		Help:      "Plans replaced by an anomaly override",
	}, []string{"symbol", "override"})

	ExecutionDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "execution_duration_seconds",
		Help:      "Wall time of a complete execution",
		Buckets:   []float64{.01, .05, .1, .5, 1, 5, 10, 30, 60, 300},
	}, []string{"plan"})

	SlippageBps = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "slippage_bps",
		Help:      "Fill slippage in basis points, positive is adverse",
		Buckets:   []float64{-20, -10, -5, -2, 0, 2, 5, 10, 20, 50},
	}, []string{"symbol"})

	SlippageAvgBps = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "slippage_avg_bps",
		Help:      "Running average fill slippage in basis points",
	}, []string{"symbol"})

	QueueTime = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "queue_time_seconds",
		Help:      "Venue acknowledgement latency",
		Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12),
	}, []string{"symbol"})

	LimitTTL = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "limit_ttl_seconds",
		Help:      "Time limit orders rested before cancel",
		Buckets:   []float64{.5, 1, 2, 4, 8, 16},
	}, []string{"symbol"})

	LimitReplaces = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "limit_replaces_total",
		Help:      "Limit orders cancelled and requoted",
	}, []string{"symbol"})

	TwapSliceFills = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "twap_slice_fills_total",
		Help:      "TWAP slices executed",
	}, []string{"symbol"})

	PovParticipation = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "pov_participation_ratio",
		Help:      "Executed quantity over target for the active POV execution",
	}, []string{"symbol"})
)

// Position metrics.
var (
	PositionsOpened = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "positions_opened_total",
		Help:      "Positions opened",
	}, []string{"symbol"})

	PositionsClosed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "positions_closed_total",
		Help:      "Positions closed",
	}, []string{"symbol"})

	PositionsOpen = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "positions_open",
		Help:      "Currently open positions",
	}, []string{"symbol"})

	ManagedOrderEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "managed_order_events_total",
		Help:      "Protective order updates applied, by resulting status",
	}, []string{"status"})

	OCOCorrections = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "oco_corrections_total",
		Help:      "Opposite-leg cancels that failed or were re-issued",
	})

	UpdatesDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "order_updates_dropped_total",
		Help:      "Order updates dropped without effect",
	}, []string{"reason"})

	ReconcileItems = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "reconcile_items_total",
		Help:      "Venue orders adopted or corrected by reconciliation",
	}, []string{"outcome"})

	RealizedPnL = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "realized_pnl",
		Help:      "Cumulative realized PnL from protective fills",
	}, []string{"symbol"})
)

// Anomaly metrics.
var (
	Anomalies = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "anomalies_total",
		Help:      "Anomalies detected",
	}, []string{"symbol", "metric", "severity"})
)

// System metrics.
var (
	HeartbeatTimestamp = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "heartbeat_timestamp_seconds",
		Help:      "Unix time of the last service heartbeat",
	})

	VenueConnected = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "venue_connected",
		Help:      "1 if the venue connection is up",
	})

	StreamReconnects = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "stream_reconnects_total",
		Help:      "Order update stream reconnects",
	})

	ErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "errors_total",
		Help:      "Errors by type",
	}, []string{"type"})

	BuildInfo = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "build_info",
		Help:      "Build information",
	}, []string{"version", "commit", "build_date"})
)

// SetBuildInfo publishes version labels.
func SetBuildInfo(version, commit, buildDate string) {
	BuildInfo.WithLabelValues(version, commit, buildDate).Set(1)
}
