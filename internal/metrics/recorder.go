package metrics

import (
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
)

// RunningAverage is a lock-free mean of float64 samples.
type RunningAverage struct {
	count atomic.Int64
	sum   atomic.Uint64 // float64 bits
}

// Add records a sample and returns the new mean.
func (a *RunningAverage) Add(v float64) float64 {
	for {
		old := a.sum.Load()
		next := math.Float64bits(math.Float64frombits(old) + v)
		if a.sum.CompareAndSwap(old, next) {
			break
		}
	}
	n := a.count.Add(1)
	return math.Float64frombits(a.sum.Load()) / float64(n)
}

// Mean returns the current mean, or NaN with no samples.
func (a *RunningAverage) Mean() float64 {
	n := a.count.Load()
	if n == 0 {
		return math.NaN()
	}
	return math.Float64frombits(a.sum.Load()) / float64(n)
}

// atomicFloat holds a float64 for concurrent readers.
type atomicFloat struct {
	bits atomic.Uint64
}

func (f *atomicFloat) Store(v float64) { f.bits.Store(math.Float64bits(v)) }
func (f *atomicFloat) Load() float64  { return math.Float64frombits(f.bits.Load()) }

// Recorder provides methods for recording metrics. Per-symbol aggregates
// are advisory and safe for concurrent use.
type Recorder struct {
	slippage      sync.Map // symbol -> *RunningAverage
	participation sync.Map // symbol -> *atomicFloat
}

// NewRecorder creates a new metrics recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// RecordSubmission records an order sent to the venue.
func (r *Recorder) RecordSubmission(symbol, orderType, side string) {
	OrdersSubmitted.WithLabelValues(symbol, orderType, side).Inc()
}

// RecordOrderError records a failed venue call.
func (r *Recorder) RecordOrderError(symbol, kind string) {
	OrderErrors.WithLabelValues(symbol, kind).Inc()
}

// RecordPlan records the plan chosen for an execution.
func (r *Recorder) RecordPlan(symbol, plan string) {
	ExecutionPlans.WithLabelValues(symbol, plan).Inc()
}

// RecordOverride records an anomaly override replacing a plan.
func (r *Recorder) RecordOverride(symbol, override string) {
	ExecutionOverrides.WithLabelValues(symbol, override).Inc()
}

// ObserveExecution records the duration of a complete execution.
func (r *Recorder) ObserveExecution(plan string, d time.Duration) {
	ExecutionDuration.WithLabelValues(plan).Observe(d.Seconds())
}

// RecordSlippage records a fill's slippage and updates the running average.
func (r *Recorder) RecordSlippage(symbol string, bps float64) {
	SlippageBps.WithLabelValues(symbol).Observe(bps)
	v, _ := r.slippage.LoadOrStore(symbol, &RunningAverage{})
	avg := v.(*RunningAverage).Add(bps)
	SlippageAvgBps.WithLabelValues(symbol).Set(avg)
}

// AverageSlippage returns the running average slippage for symbol.
func (r *Recorder) AverageSlippage(symbol string) float64 {
	v, ok := r.slippage.Load(symbol)
	if !ok {
		return math.NaN()
	}
	return v.(*RunningAverage).Mean()
}

// ObserveQueueTime records venue acknowledgement latency.
func (r *Recorder) ObserveQueueTime(symbol string, d time.Duration) {
	QueueTime.WithLabelValues(symbol).Observe(d.Seconds())
}

// ObserveLimitTTL records how long a limit order rested.
func (r *Recorder) ObserveLimitTTL(symbol string, d time.Duration) {
	LimitTTL.WithLabelValues(symbol).Observe(d.Seconds())
}

// RecordLimitReplace records a limit cancel-and-requote.
func (r *Recorder) RecordLimitReplace(symbol string) {
	LimitReplaces.WithLabelValues(symbol).Inc()
}

// RecordTwapSliceFill records an executed TWAP slice.
func (r *Recorder) RecordTwapSliceFill(symbol string) {
	TwapSliceFills.WithLabelValues(symbol).Inc()
}

// SetParticipation updates the POV participation gauge.
func (r *Recorder) SetParticipation(symbol string, ratio float64) {
	v, _ := r.participation.LoadOrStore(symbol, &atomicFloat{})
	v.(*atomicFloat).Store(ratio)
	PovParticipation.WithLabelValues(symbol).Set(ratio)
}

// Participation returns the last POV participation ratio for symbol.
func (r *Recorder) Participation(symbol string) float64 {
	v, ok := r.participation.Load(symbol)
	if !ok {
		return 0
	}
	return v.(*atomicFloat).Load()
}

// RecordPositionOpened records a position being opened.
func (r *Recorder) RecordPositionOpened(symbol string) {
	PositionsOpened.WithLabelValues(symbol).Inc()
	PositionsOpen.WithLabelValues(symbol).Inc()
}

// RecordPositionClosed records a position being closed.
func (r *Recorder) RecordPositionClosed(symbol string) {
	PositionsClosed.WithLabelValues(symbol).Inc()
	PositionsOpen.WithLabelValues(symbol).Dec()
}

// RecordOrderEvent records a protective order update by status.
func (r *Recorder) RecordOrderEvent(status string) {
	ManagedOrderEvents.WithLabelValues(status).Inc()
}

// RecordOCOCorrection records an opposite-leg correction.
func (r *Recorder) RecordOCOCorrection() {
	OCOCorrections.Inc()
}

// RecordUpdateDropped records an order update dropped for reason.
func (r *Recorder) RecordUpdateDropped(reason string) {
	UpdatesDropped.WithLabelValues(reason).Inc()
}

// RecordReconcile records reconciliation outcomes.
func (r *Recorder) RecordReconcile(adopted, corrected int) {
	ReconcileItems.WithLabelValues("adopted").Add(float64(adopted))
	ReconcileItems.WithLabelValues("corrected").Add(float64(corrected))
}

// RecordRealizedPnL feeds incremental realized PnL.
func (r *Recorder) RecordRealizedPnL(symbol string, pnl decimal.Decimal) {
	RealizedPnL.WithLabelValues(symbol).Add(pnl.InexactFloat64())
}

// RecordAnomaly records a detected anomaly.
func (r *Recorder) RecordAnomaly(symbol, metric, severity string) {
	Anomalies.WithLabelValues(symbol, metric, severity).Inc()
}

// RecordHeartbeat records a heartbeat.
func (r *Recorder) RecordHeartbeat() {
	HeartbeatTimestamp.Set(float64(time.Now().Unix()))
}

// RecordVenueStatus records venue connection status.
func (r *Recorder) RecordVenueStatus(connected bool) {
	if connected {
		VenueConnected.Set(1)
	} else {
		VenueConnected.Set(0)
	}
}

// RecordStreamReconnect records an update stream reconnect.
func (r *Recorder) RecordStreamReconnect() {
	StreamReconnects.Inc()
}

// RecordError records an error.
func (r *Recorder) RecordError(errorType string) {
	ErrorsTotal.WithLabelValues(errorType).Inc()
}
