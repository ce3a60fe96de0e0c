package alerting

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

type route struct {
	alerter Alerter
	floor   Severity
}

// MultiAlerter fans an alert out to every channel whose severity floor it
// meets. An optional event filter drops tagged alerts for events the
// operator disabled; untagged alerts always pass.
type MultiAlerter struct {
	mu      sync.RWMutex
	routes  []route
	enabled func(AlertEvent) bool
	logger  *slog.Logger
}

// NewMultiAlerter creates a fan-out over alerters, each receiving every
// severity.
func NewMultiAlerter(logger *slog.Logger, alerters ...Alerter) *MultiAlerter {
	if logger == nil {
		logger = slog.Default()
	}
	m := &MultiAlerter{logger: logger}
	for _, a := range alerters {
		m.routes = append(m.routes, route{alerter: a, floor: SeverityInfo})
	}
	return m
}

func (m *MultiAlerter) Name() string {
	return "multi"
}

// AddChannel adds a channel that only receives alerts at or above floor.
func (m *MultiAlerter) AddChannel(alerter Alerter, floor Severity) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.routes = append(m.routes, route{alerter: alerter, floor: floor})
}

// SetEventFilter installs the predicate deciding which events are sent.
func (m *MultiAlerter) SetEventFilter(enabled func(AlertEvent) bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.enabled = enabled
}

// Len returns the number of configured channels.
func (m *MultiAlerter) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.routes)
}

// Alert delivers to the matching channels concurrently and joins their
// errors, each prefixed with the channel name.
func (m *MultiAlerter) Alert(ctx context.Context, severity Severity, message string, fields ...any) error {
	m.mu.RLock()
	enabled := m.enabled
	targets := make([]Alerter, 0, len(m.routes))
	for _, r := range m.routes {
		if severity >= r.floor {
			targets = append(targets, r.alerter)
		}
	}
	m.mu.RUnlock()

	if event := EventOf(fields); event != "" && enabled != nil && !enabled(event) {
		return nil
	}
	if len(targets) == 0 {
		return nil
	}

	var wg sync.WaitGroup
	errCh := make(chan error, len(targets))
	for _, a := range targets {
		wg.Add(1)
		go func(a Alerter) {
			defer wg.Done()
			if err := a.Alert(ctx, severity, message, fields...); err != nil {
				m.logger.Error("alerter failed",
					"alerter", a.Name(),
					"severity", severity.String(),
					"event", EventOf(fields),
					"error", err,
				)
				errCh <- fmt.Errorf("%s: %w", a.Name(), err)
			}
		}(a)
	}
	wg.Wait()
	close(errCh)

	var errs []error
	for err := range errCh {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// AlertEvent sends message at the event's default severity, tagged with
// the event name.
func (m *MultiAlerter) AlertEvent(ctx context.Context, event AlertEvent, message string, fields ...any) error {
	tagged := append([]any{"event", string(event)}, fields...)
	return m.Alert(ctx, EventSeverity(event), message, tagged...)
}
