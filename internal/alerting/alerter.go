// Package alerting provides operator notifications for the execution engine.
package alerting

import (
	"context"
	"fmt"
	"strings"
)

// Severity represents the alert severity level.
type Severity int

const (
	// SeverityInfo is for informational messages.
	SeverityInfo Severity = iota
	// SeverityWarning is for warning messages.
	SeverityWarning
	// SeverityHigh is for high priority alerts.
	SeverityHigh
	// SeverityCritical is for critical alerts requiring immediate attention.
	SeverityCritical
)

// String returns the string representation of the severity.
func (s Severity) String() string {
	switch s {
	case SeverityInfo:
		return "INFO"
	case SeverityWarning:
		return "WARNING"
	case SeverityHigh:
		return "HIGH"
	case SeverityCritical:
		return "CRITICAL"
	default:
		return "UNKNOWN"
	}
}

// ParseSeverity maps a config name ("info", "warning", "high",
// "critical") to a Severity.
func ParseSeverity(name string) (Severity, bool) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "info", "":
		return SeverityInfo, true
	case "warning", "warn":
		return SeverityWarning, true
	case "high":
		return SeverityHigh, true
	case "critical":
		return SeverityCritical, true
	default:
		return SeverityInfo, false
	}
}

// Emoji returns an emoji for the severity level.
func (s Severity) Emoji() string {
	switch s {
	case SeverityInfo:
		return "ℹ️"
	case SeverityWarning:
		return "⚠️"
	case SeverityHigh:
		return "🔴"
	case SeverityCritical:
		return "🚨"
	default:
		return "❓"
	}
}

// Alerter defines the interface for sending alerts.
type Alerter interface {
	// Alert sends an alert with the given severity and message.
	Alert(ctx context.Context, severity Severity, message string, fields ...any) error
	// Name returns the name of the alerter.
	Name() string
}

// Field represents a key-value pair for structured alert data.
type Field struct {
	Key   string
	Value any
}

// FormatFields converts variadic fields to a formatted string.
func FormatFields(fields ...any) string {
	if len(fields) == 0 {
		return ""
	}

	result := ""
	for i := 0; i < len(fields)-1; i += 2 {
		key, ok := fields[i].(string)
		if !ok {
			continue
		}
		value := fields[i+1]
		if result != "" {
			result += "\n"
		}
		result += fmt.Sprintf("• %s: %v", key, value)
	}
	return result
}

// AlertEvent represents a pre-defined alert event type.
type AlertEvent string

const (
	// EventPositionOpened is sent when a position and its protective orders are placed.
	EventPositionOpened AlertEvent = "position_opened"
	// EventPartialFill is sent when a protective order partially fills.
	EventPartialFill AlertEvent = "partial_fill"
	// EventStopHit is sent when the stop-loss leg fills.
	EventStopHit AlertEvent = "stop_hit"
	// EventTakeProfit is sent when the take-profit leg fills.
	EventTakeProfit AlertEvent = "take_profit"
	// EventPositionClosed is sent when a position is closed.
	EventPositionClosed AlertEvent = "position_closed"
	// EventPositionError is sent when a protective order is rejected or errors.
	EventPositionError AlertEvent = "position_error"
	// EventOCOCorrected is sent when an opposite leg had to be cancelled again.
	EventOCOCorrected AlertEvent = "oco_corrected"
	// EventOrderAdopted is sent when reconciliation finds an unknown venue order.
	EventOrderAdopted AlertEvent = "order_adopted"
	// EventAnomaly is sent when execution telemetry deviates from its baseline.
	EventAnomaly AlertEvent = "anomaly"
	// EventConnectionLost is sent when the venue connection drops.
	EventConnectionLost AlertEvent = "connection_lost"
	// EventConnectionRestored is sent when the venue connection is restored.
	EventConnectionRestored AlertEvent = "connection_restored"
	// EventServiceStarted is sent when the service starts.
	EventServiceStarted AlertEvent = "service_started"
	// EventServiceStopped is sent when the service stops.
	EventServiceStopped AlertEvent = "service_stopped"
	// EventSessionSummary is sent once at shutdown.
	EventSessionSummary AlertEvent = "session_summary"
)

// EventOf returns the value of the "event" field, or "" when the alert
// is untagged.
func EventOf(fields []any) AlertEvent {
	for i := 0; i+1 < len(fields); i += 2 {
		if key, ok := fields[i].(string); ok && key == "event" {
			switch v := fields[i+1].(type) {
			case string:
				return AlertEvent(v)
			case AlertEvent:
				return v
			}
			return ""
		}
	}
	return ""
}

// EventSeverity returns the default severity for an event.
func EventSeverity(event AlertEvent) Severity {
	switch event {
	case EventPositionError:
		return SeverityCritical
	case EventOCOCorrected, EventStopHit:
		return SeverityHigh
	case EventOrderAdopted, EventAnomaly, EventConnectionLost:
		return SeverityWarning
	default:
		return SeverityInfo
	}
}
