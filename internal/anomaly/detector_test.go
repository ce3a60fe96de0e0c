package anomaly

import (
	"math"
	"sync"
	"testing"
	"time"
)

type recordingNotifier struct {
	mu     sync.Mutex
	events []string
}

func (n *recordingNotifier) Anomaly(symbol, metric, severity string, _ float64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, symbol+"/"+metric+"/"+severity)
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.events)
}

type countingMetrics struct {
	mu    sync.Mutex
	count int
}

func (m *countingMetrics) RecordAnomaly(_, _, _ string) {
	m.mu.Lock()
	m.count++
	m.mu.Unlock()
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// newTestDetector returns a detector primed with 20 spread samples
// alternating 1 and 3 (mean 2, stddev 1).
func newTestDetector(t *testing.T) (*Detector, *recordingNotifier, *fakeClock) {
	t.Helper()
	cfg := DefaultConfig()
	cfg.MinSamples = 20
	notifier := &recordingNotifier{}
	clock := &fakeClock{now: time.Date(2026, 1, 5, 12, 0, 0, 0, time.UTC)}

	d := NewDetector(cfg, notifier, &countingMetrics{}, nil)
	d.SetClock(clock.Now)
	for i := 0; i < 20; i++ {
		v := 1.0
		if i%2 == 1 {
			v = 3.0
		}
		d.RecordSpread("btcusdt", v)
	}
	return d, notifier, clock
}

func TestDetector_NoScoreBeforeMinSamples(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MinSamples = 50
	notifier := &recordingNotifier{}
	d := NewDetector(cfg, notifier, nil, nil)

	for i := 0; i < 10; i++ {
		d.RecordSpread("BTCUSDT", float64(i%2))
	}
	d.RecordSpread("BTCUSDT", 1000)

	if notifier.count() != 0 {
		t.Errorf("notifications = %d, want 0", notifier.count())
	}
	if got := d.ExecutionOverride("BTCUSDT"); got != OverrideNone {
		t.Errorf("ExecutionOverride() = %s, want NONE", got)
	}
}

func TestDetector_Classification(t *testing.T) {
	tests := []struct {
		name       string
		value      float64
		severity   Severity
		override   Override
		multiplier float64
	}{
		{"inside band", 3, SeverityNone, OverrideNone, 1},
		{"warn", 5, SeverityWarn, OverrideNone, 1},
		{"medium forces market", 6, SeverityMedium, OverrideForceMarket, 1},
		{"high halves size", 7, SeverityHigh, OverrideNone, 0.5},
		{"severe pauses", 10, SeveritySevere, OverrideNone, 0},
		{"negative deviation", -5, SeveritySevere, OverrideNone, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, notifier, _ := newTestDetector(t)
			d.RecordSpread("BTCUSDT", tt.value)

			snap, ok := d.Active("BTCUSDT")
			if tt.severity == SeverityNone {
				if ok {
					t.Errorf("Active() = %+v, want none", snap)
				}
				return
			}
			if !ok {
				t.Fatal("Active() ok = false")
			}
			if snap.Severity != tt.severity {
				t.Errorf("Severity = %s, want %s", snap.Severity, tt.severity)
			}
			if got := d.ExecutionOverride("BTCUSDT"); got != tt.override {
				t.Errorf("ExecutionOverride() = %s, want %s", got, tt.override)
			}
			if got := d.SizingMultiplier("BTCUSDT"); got != tt.multiplier {
				t.Errorf("SizingMultiplier() = %v, want %v", got, tt.multiplier)
			}
			if notifier.count() != 1 {
				t.Errorf("notifications = %d, want 1", notifier.count())
			}
		})
	}
}

func TestDetector_RefreshDoesNotRenotify(t *testing.T) {
	d, notifier, clock := newTestDetector(t)

	d.RecordSpread("BTCUSDT", 6) // z = 4, MEDIUM
	first, _ := d.Active("BTCUSDT")

	clock.Advance(time.Minute)
	d.RecordSpread("BTCUSDT", 7) // z ~ 3.71 against the updated window, MEDIUM again

	if notifier.count() != 1 {
		t.Errorf("notifications = %d, want 1", notifier.count())
	}
	snap, _ := d.Active("BTCUSDT")
	if !snap.TriggeredAt.Equal(first.TriggeredAt) {
		t.Errorf("TriggeredAt changed on refresh")
	}
	if !snap.ExpiresAt.After(first.ExpiresAt) {
		t.Errorf("ExpiresAt = %v, want later than %v", snap.ExpiresAt, first.ExpiresAt)
	}
}

func TestDetector_CoolDownExpiry(t *testing.T) {
	d, _, clock := newTestDetector(t)

	d.RecordSpread("BTCUSDT", 6)
	if got := d.ExecutionOverride("BTCUSDT"); got != OverrideForceMarket {
		t.Fatalf("ExecutionOverride() = %s, want FORCE_MARKET", got)
	}

	clock.Advance(16 * time.Minute)
	if got := d.ExecutionOverride("BTCUSDT"); got != OverrideNone {
		t.Errorf("ExecutionOverride() after cool-down = %s, want NONE", got)
	}
}

func TestDetector_OverridePriority(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MinSamples = 20
	cfg.Actions = map[Severity]Action{
		SeverityWarn:   ActionSwitchToMarket,
		SeverityMedium: ActionSwitchToMarket,
		SeverityHigh:   ActionSwitchToTwap,
		SeveritySevere: ActionSwitchToTwap,
	}
	d := NewDetector(cfg, nil, nil, nil)
	for i := 0; i < 20; i++ {
		d.RecordSpread("ETHUSDT", float64(1+2*(i%2)))
		d.RecordSlippage("ETHUSDT", float64(1+2*(i%2)))
	}

	d.RecordSpread("ETHUSDT", 5)    // WARN -> market
	d.RecordSlippage("ETHUSDT", 10) // SEVERE -> twap

	if got := d.ExecutionOverride("ETHUSDT"); got != OverrideForceTwap {
		t.Errorf("ExecutionOverride() = %s, want FORCE_TWAP", got)
	}
}

func TestDetector_IgnoresNonFiniteAndDisabled(t *testing.T) {
	d, notifier, _ := newTestDetector(t)
	d.RecordSpread("BTCUSDT", math.NaN())
	d.RecordSpread("BTCUSDT", math.Inf(1))
	if notifier.count() != 0 {
		t.Errorf("notifications = %d, want 0", notifier.count())
	}

	cfg := DefaultConfig()
	cfg.Enabled = false
	off := NewDetector(cfg, nil, nil, nil)
	if got := off.SizingMultiplier("BTCUSDT"); got != 1 {
		t.Errorf("SizingMultiplier() = %v, want 1", got)
	}
	if got := off.ExecutionOverride("BTCUSDT"); got != OverrideNone {
		t.Errorf("ExecutionOverride() = %s, want NONE", got)
	}
}

func TestDetector_QueueTimeInMillis(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MinSamples = 20
	d := NewDetector(cfg, nil, nil, nil)
	for i := 0; i < 20; i++ {
		d.RecordQueueTime("BTCUSDT", time.Duration(100+20*(i%2))*time.Millisecond)
	}
	d.RecordQueueTime("BTCUSDT", 2*time.Second)

	snap, ok := d.Active("BTCUSDT")
	if !ok {
		t.Fatal("Active() ok = false")
	}
	if snap.Metric != MetricQueueTime || snap.Value != 2000 {
		t.Errorf("snapshot = %s %v, want queue_time_ms 2000", snap.Metric, snap.Value)
	}
}

func TestRobustOutlier(t *testing.T) {
	values := []float64{1, 2, 3, 2, 1, 2, 3, 2}
	if !robustOutlier(values, 20, 2.5) {
		t.Error("20 should be a robust outlier")
	}
	if robustOutlier(values, 2.5, 2.5) {
		t.Error("2.5 should not be a robust outlier")
	}
	if !robustOutlier([]float64{1, 2}, 2, 2.5) {
		t.Error("small samples confirm")
	}
}

func TestDetector_Concurrent(t *testing.T) {
	d := NewDetector(DefaultConfig(), nil, nil, nil)
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				d.RecordSpread("BTCUSDT", float64(i%7))
				d.ExecutionOverride("BTCUSDT")
				d.SizingMultiplier("BTCUSDT")
			}
		}(g)
	}
	wg.Wait()
}
