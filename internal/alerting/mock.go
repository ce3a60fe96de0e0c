package alerting

import (
	"context"
	"strings"
	"sync"
)

// SentAlert is one alert captured by MockAlerter.
type SentAlert struct {
	Event    AlertEvent // empty when the alert carried no event tag
	Severity Severity
	Message  string
	Fields   []any
}

// MockAlerter records alerts in memory. Tests use it to assert which
// execution events reached the operator.
type MockAlerter struct {
	mu   sync.Mutex
	sent []SentAlert
}

// NewMockAlerter creates an empty recorder.
func NewMockAlerter() *MockAlerter {
	return &MockAlerter{}
}

func (m *MockAlerter) Name() string {
	return "mock"
}

func (m *MockAlerter) Alert(_ context.Context, severity Severity, message string, fields ...any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, SentAlert{
		Event:    EventOf(fields),
		Severity: severity,
		Message:  message,
		Fields:   fields,
	})
	return nil
}

// Alerts returns a copy of everything recorded.
func (m *MockAlerter) Alerts() []SentAlert {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]SentAlert(nil), m.sent...)
}

func (m *MockAlerter) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = nil
}

func (m *MockAlerter) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

// Events returns the event tags in delivery order.
func (m *MockAlerter) Events() []AlertEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	events := make([]AlertEvent, 0, len(m.sent))
	for _, a := range m.sent {
		events = append(events, a.Event)
	}
	return events
}

// EventCount returns how many alerts carried the event tag.
func (m *MockAlerter) EventCount(event AlertEvent) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, a := range m.sent {
		if a.Event == event {
			n++
		}
	}
	return n
}

// HasEvent reports whether any alert carried the event tag.
func (m *MockAlerter) HasEvent(event AlertEvent) bool {
	return m.EventCount(event) > 0
}

// Find returns the first alert tagged with event.
func (m *MockAlerter) Find(event AlertEvent) (SentAlert, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.sent {
		if a.Event == event {
			return a, true
		}
	}
	return SentAlert{}, false
}

// HasAlertContaining reports whether any message contains substr.
func (m *MockAlerter) HasAlertContaining(substr string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.sent {
		if strings.Contains(a.Message, substr) {
			return true
		}
	}
	return false
}

// HasAlertWithSeverity reports whether any alert was sent at severity.
func (m *MockAlerter) HasAlertWithSeverity(severity Severity) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.sent {
		if a.Severity == severity {
			return true
		}
	}
	return false
}

// LastAlert returns the most recent alert, or nil.
func (m *MockAlerter) LastAlert() *SentAlert {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.sent) == 0 {
		return nil
	}
	last := m.sent[len(m.sent)-1]
	return &last
}
