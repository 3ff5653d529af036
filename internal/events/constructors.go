package events

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// NewMonitorEvent creates an event with no structured payload.
func NewMonitorEvent(eventType EventType, sessionID string, severity EventSeverity, message string) *MonitorEvent {
	return &MonitorEvent{
		ID:        uuid.New().String(),
		Type:      eventType,
		Timestamp: time.Now(),
		SessionID: sessionID,
		Severity:  severity,
		Message:   message,
		Data:      map[string]interface{}{},
	}
}

// NewCycleCompletedEvent creates an event for a finished monitoring cycle.
func NewCycleCompletedEvent(sessionID, message string, data CycleCompletedData) *MonitorEvent {
	e := NewMonitorEvent(EventTypeCycleCompleted, sessionID, SeverityInfo, message)
	e.Data = structToMap(data)
	return e
}

// NewCategoryCompletedEvent creates an event for a finished category check.
// Timed-out checks are reported at warning severity.
func NewCategoryCompletedEvent(sessionID, message string, data CategoryCompletedData) *MonitorEvent {
	severity := SeverityInfo
	if data.TimedOut {
		severity = SeverityWarning
	}
	e := NewMonitorEvent(EventTypeCategoryCompleted, sessionID, severity, message)
	e.Data = structToMap(data)
	return e
}

// NewCorrectionAttemptedEvent creates an event for a remediation attempt.
func NewCorrectionAttemptedEvent(sessionID, message string, data CorrectionAttemptedData) *MonitorEvent {
	severity := SeverityInfo
	if !data.Success {
		severity = SeverityWarning
	}
	e := NewMonitorEvent(EventTypeCorrectionAttempted, sessionID, severity, message)
	e.Data = structToMap(data)
	return e
}

// NewTriggerFiredEvent creates a critical event for an emergency halt trigger.
func NewTriggerFiredEvent(sessionID, message string, data TriggerFiredData) *MonitorEvent {
	e := NewMonitorEvent(EventTypeTriggerFired, sessionID, SeverityCritical, message)
	e.Data = structToMap(data)
	return e
}

// NewStateChangedEvent creates an event for a lifecycle transition.
func NewStateChangedEvent(sessionID, message string, data StateChangedData) *MonitorEvent {
	e := NewMonitorEvent(EventTypeSessionStateChanged, sessionID, SeverityInfo, message)
	e.Data = structToMap(data)
	return e
}

// structToMap converts a payload struct to map[string]interface{} using
// JSON marshaling, so Data stays JSON-serializable for storage.
func structToMap(data interface{}) map[string]interface{} {
	bytes, err := json.Marshal(data)
	if err != nil {
		return map[string]interface{}{}
	}
	var result map[string]interface{}
	if err := json.Unmarshal(bytes, &result); err != nil {
		return map[string]interface{}{}
	}
	return result
}
