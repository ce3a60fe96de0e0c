// Package anomaly detects market and execution stress from rolling
// statistics and turns it into execution overrides and sizing cuts.
package anomaly

import (
	"log/slog"
	"math"
	"sort"
	"strings"
	"sync"
	"time"
)

// Metric identifies a monitored series.
type Metric string

const (
	MetricSpread       Metric = "spread_bps"
	MetricSlippage     Metric = "slippage_bps"
	MetricQueueTime    Metric = "queue_time_ms"
	MetricFillRate     Metric = "fill_rate"
	MetricLatency      Metric = "latency_ms"
	MetricAPIErrorRate Metric = "api_error_rate"
	MetricWSReconnects Metric = "ws_reconnects"
)

// Severity of a detected anomaly. Higher values are worse.
type Severity int

const (
	SeverityNone Severity = iota
	SeverityWarn
	SeverityMedium
	SeverityHigh
	SeveritySevere
)

func (s Severity) String() string {
	switch s {
	case SeverityWarn:
		return "WARN"
	case SeverityMedium:
		return "MEDIUM"
	case SeverityHigh:
		return "HIGH"
	case SeveritySevere:
		return "SEVERE"
	default:
		return "NONE"
	}
}

// Action is the mitigation applied while an anomaly is active.
type Action int

const (
	ActionAlert Action = iota
	ActionSwitchToMarket
	ActionSwitchToTwap
	ActionSizeDown50
	ActionPause
)

func (a Action) String() string {
	switch a {
	case ActionAlert:
		return "ALERT"
	case ActionSwitchToMarket:
		return "SWITCH_TO_MARKET"
	case ActionSwitchToTwap:
		return "SWITCH_TO_TWAP"
	case ActionSizeDown50:
		return "SIZE_DOWN_50"
	case ActionPause:
		return "PAUSE"
	default:
		return "UNKNOWN"
	}
}

// ParseAction parses an action name. ok is false for unknown names.
func ParseAction(s string) (Action, bool) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "ALERT":
		return ActionAlert, true
	case "SWITCH_TO_MARKET":
		return ActionSwitchToMarket, true
	case "SWITCH_TO_TWAP":
		return ActionSwitchToTwap, true
	case "SIZE_DOWN_50":
		return ActionSizeDown50, true
	case "PAUSE":
		return ActionPause, true
	default:
		return ActionAlert, false
	}
}

// SizingMultiplier is the position size factor the action implies.
func (a Action) SizingMultiplier() float64 {
	switch a {
	case ActionSizeDown50:
		return 0.5
	case ActionPause:
		return 0
	default:
		return 1
	}
}

func (a Action) override() Override {
	switch a {
	case ActionSwitchToTwap:
		return OverrideForceTwap
	case ActionSwitchToMarket:
		return OverrideForceMarket
	default:
		return OverrideNone
	}
}

// Override forces an execution plan regardless of policy. Values are
// ordered by priority.
type Override int

const (
	OverrideNone Override = iota
	OverrideForceMarket
	OverrideForceTwap
)

func (o Override) String() string {
	switch o {
	case OverrideForceMarket:
		return "FORCE_MARKET"
	case OverrideForceTwap:
		return "FORCE_TWAP"
	default:
		return "NONE"
	}
}

// Config holds detector configuration.
type Config struct {
	Enabled    bool
	Window     int // samples kept per series
	MinSamples int // samples required before scoring
	CoolDown   time.Duration
	RobustMAD  bool // require a MAD outlier confirmation

	WarnZ     float64
	MitigateZ float64
	HighZ     float64 // 0 means MitigateZ x 1.3
	SevereZ   float64 // 0 means HighZ x 1.3

	Actions map[Severity]Action
}

// DefaultConfig returns default detector config.
func DefaultConfig() Config {
	return Config{
		Enabled:    true,
		Window:     300,
		MinSamples: 200,
		CoolDown:   15 * time.Minute,
		WarnZ:      2.5,
		MitigateZ:  3.5,
		Actions:    DefaultActions(),
	}
}

// DefaultActions maps severities to their default mitigation.
func DefaultActions() map[Severity]Action {
	return map[Severity]Action{
		SeverityWarn:   ActionAlert,
		SeverityMedium: ActionSwitchToMarket,
		SeverityHigh:   ActionSizeDown50,
		SeveritySevere: ActionPause,
	}
}

func (c Config) high() float64 {
	if c.HighZ > 0 {
		return c.HighZ
	}
	return c.MitigateZ * 1.3
}

func (c Config) severe() float64 {
	if c.SevereZ > 0 {
		return c.SevereZ
	}
	return c.high() * 1.3
}

func (c Config) actionFor(s Severity) Action {
	if a, ok := c.Actions[s]; ok {
		return a
	}
	return DefaultActions()[s]
}

// Notifier is told about newly raised anomalies.
type Notifier interface {
	Anomaly(symbol, metric, severity string, zScore float64)
}

// Metrics counts raised anomalies.
type Metrics interface {
	RecordAnomaly(symbol, metric, severity string)
}

// Snapshot describes the most severe active anomaly for a symbol.
type Snapshot struct {
	Symbol      string
	Metric      Metric
	Severity    Severity
	Action      Action
	Value       float64
	Mean        float64
	ZScore      float64
	TriggeredAt time.Time
	ExpiresAt   time.Time
}

type window struct {
	values     []float64
	next       int
	full       bool
	sum        float64
	sumSquares float64
}

func newWindow(capacity int) *window {
	return &window{values: make([]float64, capacity)}
}

func (w *window) add(v float64) {
	if w.full {
		old := w.values[w.next]
		w.sum -= old
		w.sumSquares -= old * old
	}
	w.values[w.next] = v
	w.sum += v
	w.sumSquares += v * v
	w.next++
	if w.next == len(w.values) {
		w.next = 0
		w.full = true
	}
}

func (w *window) size() int {
	if w.full {
		return len(w.values)
	}
	return w.next
}

func (w *window) mean() float64 {
	n := w.size()
	if n == 0 {
		return 0
	}
	return w.sum / float64(n)
}

// stddev is the population standard deviation.
func (w *window) stddev() float64 {
	n := w.size()
	if n == 0 {
		return 0
	}
	m := w.mean()
	return math.Sqrt(math.Max(0, w.sumSquares/float64(n)-m*m))
}

func (w *window) snapshot() []float64 {
	out := make([]float64, w.size())
	copy(out, w.values[:w.size()])
	return out
}

type active struct {
	snap Snapshot
}

type symbolState struct {
	series map[Metric]*window
	active map[Metric]*active
}

// Detector scores metric samples per symbol. Safe for concurrent use.
type Detector struct {
	cfg      Config
	notifier Notifier
	metrics  Metrics
	logger   *slog.Logger
	now      func() time.Time

	mu      sync.Mutex
	symbols map[string]*symbolState
}

// NewDetector creates a detector. notifier and metrics may be nil.
func NewDetector(cfg Config, notifier Notifier, metrics Metrics, logger *slog.Logger) *Detector {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultConfig()
	if cfg.Window <= 0 {
		cfg.Window = def.Window
	}
	if cfg.MinSamples <= 0 {
		cfg.MinSamples = def.MinSamples
	}
	if cfg.MinSamples > cfg.Window {
		cfg.MinSamples = cfg.Window
	}
	if cfg.CoolDown <= 0 {
		cfg.CoolDown = def.CoolDown
	}
	if cfg.WarnZ <= 0 {
		cfg.WarnZ = def.WarnZ
	}
	if cfg.MitigateZ <= 0 {
		cfg.MitigateZ = def.MitigateZ
	}
	return &Detector{
		cfg:      cfg,
		notifier: notifier,
		metrics:  metrics,
		logger:   logger,
		now:      time.Now,
		symbols:  make(map[string]*symbolState),
	}
}

// SetClock replaces the time source.
func (d *Detector) SetClock(now func() time.Time) {
	d.mu.Lock()
	d.now = now
	d.mu.Unlock()
}

func (d *Detector) RecordSpread(symbol string, bps float64) {
	d.Record(symbol, MetricSpread, bps)
}

func (d *Detector) RecordSlippage(symbol string, bps float64) {
	d.Record(symbol, MetricSlippage, bps)
}

func (d *Detector) RecordQueueTime(symbol string, queue time.Duration) {
	d.Record(symbol, MetricQueueTime, float64(queue)/float64(time.Millisecond))
}

func (d *Detector) RecordFillRate(symbol string, rate float64) {
	d.Record(symbol, MetricFillRate, rate)
}

func (d *Detector) RecordLatency(symbol string, latency time.Duration) {
	d.Record(symbol, MetricLatency, float64(latency)/float64(time.Millisecond))
}

// Record adds a sample and raises or refreshes an anomaly when the sample
// is an outlier. Non-finite values are ignored.
func (d *Detector) Record(symbol string, metric Metric, value float64) {
	if !d.cfg.Enabled || symbol == "" || math.IsNaN(value) || math.IsInf(value, 0) {
		return
	}
	symbol = strings.ToUpper(symbol)

	d.mu.Lock()
	now := d.now()
	st := d.state(symbol)
	st.removeExpired(now)

	w, ok := st.series[metric]
	if !ok {
		w = newWindow(d.cfg.Window)
		st.series[metric] = w
	}

	// Score against the history before the sample joins it.
	var raised *Snapshot
	if w.size() >= d.cfg.MinSamples {
		mean, std := w.mean(), w.stddev()
		if std > 0 {
			z := (value - mean) / std
			sev := d.classify(math.Abs(z))
			if sev != SeverityNone && (!d.cfg.RobustMAD || robustOutlier(w.snapshot(), value, d.cfg.WarnZ)) {
				raised = d.apply(st, symbol, metric, sev, value, mean, z, now)
			}
		}
	}
	w.add(value)
	d.mu.Unlock()

	if raised != nil {
		d.logger.Warn("anomaly detected",
			"symbol", symbol,
			"metric", string(metric),
			"severity", raised.Severity.String(),
			"action", raised.Action.String(),
			"value", value,
			"z", raised.ZScore,
		)
		if d.metrics != nil {
			d.metrics.RecordAnomaly(symbol, string(metric), raised.Severity.String())
		}
		if d.notifier != nil {
			d.notifier.Anomaly(symbol, string(metric), raised.Severity.String(), raised.ZScore)
		}
	}
}

func (d *Detector) state(symbol string) *symbolState {
	st, ok := d.symbols[symbol]
	if !ok {
		st = &symbolState{
			series: make(map[Metric]*window),
			active: make(map[Metric]*active),
		}
		d.symbols[symbol] = st
	}
	return st
}

func (d *Detector) classify(absZ float64) Severity {
	switch {
	case absZ >= d.cfg.severe():
		return SeveritySevere
	case absZ >= d.cfg.high():
		return SeverityHigh
	case absZ >= d.cfg.MitigateZ:
		return SeverityMedium
	case absZ >= d.cfg.WarnZ:
		return SeverityWarn
	default:
		return SeverityNone
	}
}

// apply refreshes an active anomaly of the same severity or replaces it.
// It returns the snapshot only for newly raised anomalies.
func (d *Detector) apply(st *symbolState, symbol string, metric Metric, sev Severity, value, mean, z float64, now time.Time) *Snapshot {
	expires := now.Add(d.cfg.CoolDown)
	if cur, ok := st.active[metric]; ok && cur.snap.Severity == sev {
		cur.snap.Value = value
		cur.snap.Mean = mean
		cur.snap.ZScore = z
		cur.snap.ExpiresAt = expires
		return nil
	}
	snap := Snapshot{
		Symbol:      symbol,
		Metric:      metric,
		Severity:    sev,
		Action:      d.cfg.actionFor(sev),
		Value:       value,
		Mean:        mean,
		ZScore:      z,
		TriggeredAt: now,
		ExpiresAt:   expires,
	}
	st.active[metric] = &active{snap: snap}
	return &snap
}

func (st *symbolState) removeExpired(now time.Time) {
	for m, a := range st.active {
		if a.snap.ExpiresAt.Before(now) {
			delete(st.active, m)
		}
	}
}

// ExecutionOverride returns the highest priority override among the
// symbol's active anomalies.
func (d *Detector) ExecutionOverride(symbol string) Override {
	if !d.cfg.Enabled {
		return OverrideNone
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	st, ok := d.symbols[strings.ToUpper(symbol)]
	if !ok {
		return OverrideNone
	}
	st.removeExpired(d.now())
	out := OverrideNone
	for _, a := range st.active {
		if o := a.snap.Action.override(); o > out {
			out = o
		}
	}
	return out
}

// SizingMultiplier returns the smallest size factor among active anomalies,
// 1 when none are active.
func (d *Detector) SizingMultiplier(symbol string) float64 {
	if !d.cfg.Enabled {
		return 1
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	st, ok := d.symbols[strings.ToUpper(symbol)]
	if !ok {
		return 1
	}
	st.removeExpired(d.now())
	mult := 1.0
	for _, a := range st.active {
		mult = math.Min(mult, a.snap.Action.SizingMultiplier())
	}
	return mult
}

// Active returns the most severe active anomaly for symbol.
func (d *Detector) Active(symbol string) (Snapshot, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	st, ok := d.symbols[strings.ToUpper(symbol)]
	if !ok {
		return Snapshot{}, false
	}
	st.removeExpired(d.now())
	var best *Snapshot
	for _, a := range st.active {
		if best == nil || a.snap.Severity > best.Severity {
			s := a.snap
			best = &s
		}
	}
	if best == nil {
		return Snapshot{}, false
	}
	return *best, true
}

// robustOutlier confirms an outlier with the modified z-score
// 0.6745 x |x - median| / MAD. Small or flat samples confirm.
func robustOutlier(values []float64, x, threshold float64) bool {
	if len(values) < 5 {
		return true
	}
	med := median(values)
	dev := make([]float64, len(values))
	for i, v := range values {
		dev[i] = math.Abs(v - med)
	}
	mad := median(dev)
	if mad == 0 {
		return true
	}
	return 0.6745*math.Abs(x-med)/mad >= threshold
}

func median(values []float64) float64 {
	s := make([]float64, len(values))
	copy(s, values)
	sort.Float64s(s)
	n := len(s)
	if n%2 == 1 {
		return s[n/2]
	}
	return (s[n/2-1] + s[n/2]) / 2
}
