package events

import (
	"time"

	"github.com/compwatch/compwatch/internal/types"
)

// EventType represents the type of event emitted by the monitoring engine.
type EventType string

const (
	// EventTypeSessionStarted indicates a monitoring session entered ACTIVE
	EventTypeSessionStarted EventType = "session_started"
	// EventTypeSessionStateChanged indicates a lifecycle state transition
	EventTypeSessionStateChanged EventType = "session_state_changed"
	// EventTypeCycleStarted indicates a monitoring cycle began
	EventTypeCycleStarted EventType = "cycle_started"
	// EventTypeCycleCompleted indicates a monitoring cycle finished
	EventTypeCycleCompleted EventType = "cycle_completed"
	// EventTypeCategoryCompleted indicates one category check finished
	EventTypeCategoryCompleted EventType = "category_completed"
	// EventTypeCorrectionAttempted indicates a remediation attempt finished
	EventTypeCorrectionAttempted EventType = "correction_attempted"
	// EventTypeViolationEscalated indicates a violation was promoted to escalation
	EventTypeViolationEscalated EventType = "violation_escalated"
	// EventTypeAlertRaised indicates a manual or escalation violation was
	// surfaced for operator attention
	EventTypeAlertRaised EventType = "alert_raised"
	// EventTypeTriggerFired indicates an emergency halt trigger fired
	EventTypeTriggerFired EventType = "trigger_fired"
	// EventTypeMetricsPersisted indicates a cycle snapshot was written to storage
	EventTypeMetricsPersisted EventType = "metrics_persisted"
)

// EventSeverity represents the severity level of an event.
type EventSeverity string

const (
	// SeverityInfo indicates informational events
	SeverityInfo EventSeverity = "info"
	// SeverityWarning indicates potentially problematic events
	SeverityWarning EventSeverity = "warning"
	// SeverityError indicates error events
	SeverityError EventSeverity = "error"
	// SeverityCritical indicates critical events requiring immediate attention
	SeverityCritical EventSeverity = "critical"
)

// MonitorEvent is one structured event from the engine. Presentation
// layers (CLI, dashboards) subscribe to these; the engine itself never
// formats display output.
type MonitorEvent struct {
	// ID is the unique identifier for this event
	ID string `json:"id"`
	// Type is the type of event
	Type EventType `json:"type"`
	// Timestamp is when the event occurred
	Timestamp time.Time `json:"timestamp"`
	// SessionID is the monitoring session that produced this event
	SessionID string `json:"session_id"`
	// Severity is the severity level of this event
	Severity EventSeverity `json:"severity"`
	// Message is a human-readable description of the event
	Message string `json:"message"`
	// Data contains structured, type-specific data (must be JSON-serializable)
	Data map[string]interface{} `json:"data"`
}

// CycleCompletedData contains structured data for cycle completion events.
type CycleCompletedData struct {
	// Cycle is the 1-based cycle number within the session
	Cycle int `json:"cycle"`
	// OverallScore is the composite score computed this cycle
	OverallScore float64 `json:"overall_score"`
	// ComplianceLevel is the level derived from the score
	ComplianceLevel types.ComplianceLevel `json:"compliance_level"`
	// ViolationCount is the number of violations detected this cycle
	ViolationCount int `json:"violation_count"`
	// CorrectionsAttempted is the number of remediation attempts this cycle
	CorrectionsAttempted int `json:"corrections_attempted"`
	// Duration is how long the cycle took
	Duration time.Duration `json:"duration"`
}

// CategoryCompletedData contains structured data for category completion events.
type CategoryCompletedData struct {
	// Category is the compliance domain that was checked
	Category types.Category `json:"category"`
	// Score is the 0-100 score the check produced
	Score float64 `json:"score"`
	// ViolationCount is the number of violations the check found
	ViolationCount int `json:"violation_count"`
	// TimedOut indicates the check exceeded its per-category timeout
	TimedOut bool `json:"timed_out"`
}

// CorrectionAttemptedData contains structured data for correction attempt events.
type CorrectionAttemptedData struct {
	// ViolationID is the violation that was targeted
	ViolationID string `json:"violation_id"`
	// Category is the violation's compliance domain
	Category types.Category `json:"category"`
	// CorrectionType is the classification the attempt ran under
	CorrectionType types.CorrectionType `json:"correction_type"`
	// Success reports whether the remediation completed
	Success bool `json:"success"`
	// ActionTaken describes what the engine did
	ActionTaken string `json:"action_taken"`
}

// TriggerFiredData contains structured data for emergency trigger events.
type TriggerFiredData struct {
	// Trigger is the condition that fired
	Trigger types.HaltTrigger `json:"trigger"`
	// Detail explains what the trigger observed
	Detail string `json:"detail"`
}

// StateChangedData contains structured data for lifecycle transition events.
type StateChangedData struct {
	// From is the previous session state
	From types.SessionState `json:"from"`
	// To is the new session state
	To types.SessionState `json:"to"`
}
