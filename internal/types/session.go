package types

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// SessionState is the lifecycle state of a monitoring session.
type SessionState string

const (
	// StateInitializing is the sole initial state
	StateInitializing SessionState = "INITIALIZING"
	// StateActive means the scheduler is waiting for the next cycle
	StateActive SessionState = "ACTIVE"
	// StateValidating means a cycle's category checks are running
	StateValidating SessionState = "VALIDATING"
	// StateCorrecting means the correction engine is acting on violations
	StateCorrecting SessionState = "CORRECTING"
	// StateSuspended means cycles are paused by external request
	StateSuspended SessionState = "SUSPENDED"
	// StateCompleted is terminal: the session stopped cleanly
	StateCompleted SessionState = "COMPLETED"
	// StateEmergencyHalt is terminal: a halt trigger fired
	StateEmergencyHalt SessionState = "EMERGENCY_HALT"
)

// IsTerminal reports whether the state ends the session instance.
// A new session must be created to resume monitoring.
func (s SessionState) IsTerminal() bool {
	return s == StateCompleted || s == StateEmergencyHalt
}

// CanTransitionTo checks whether the lifecycle state machine permits a
// transition. Terminal states permit nothing; EMERGENCY_HALT is reachable
// from every non-terminal state.
func (s SessionState) CanTransitionTo(next SessionState) bool {
	if s.IsTerminal() {
		return false
	}
	if next == StateEmergencyHalt {
		return true
	}
	switch s {
	case StateInitializing:
		return next == StateActive
	case StateActive:
		return next == StateValidating || next == StateSuspended || next == StateCompleted
	case StateValidating:
		return next == StateActive || next == StateCorrecting
	case StateCorrecting:
		return next == StateActive
	case StateSuspended:
		return next == StateActive || next == StateCompleted
	}
	return false
}

// HaltTrigger identifies an emergency condition that unconditionally
// halts monitoring.
type HaltTrigger string

const (
	// TriggerRecursiveStructure fires when the workspace contains a
	// forbidden self-referential artifact (backup trees, nested copies).
	TriggerRecursiveStructure HaltTrigger = "recursive_structure_detected"
	// TriggerStorageCorruption fires when the persistence integrity check fails.
	TriggerStorageCorruption HaltTrigger = "storage_corruption"
	// TriggerWorkspaceIntegrity fires when a structural invariant of the
	// monitored workspace is broken.
	TriggerWorkspaceIntegrity HaltTrigger = "workspace_integrity_violation"
	// TriggerSessionTimeout fires when the session outlives its configured maximum.
	TriggerSessionTimeout HaltTrigger = "session_timeout_exceeded"
	// TriggerCriticalErrorThreshold fires when accumulated critical
	// violations exceed the configured count.
	TriggerCriticalErrorThreshold HaltTrigger = "critical_error_threshold"
)

// SessionConfig holds the recognized monitoring options.
type SessionConfig struct {
	// MonitoringInterval is the delay between cycles
	MonitoringInterval time.Duration `yaml:"monitoring_interval"`
	// ValidatorTimeout bounds each category check; zero means the cycle interval
	ValidatorTimeout time.Duration `yaml:"validator_timeout"`
	// ComplianceThreshold is informational only; it never halts monitoring
	ComplianceThreshold float64 `yaml:"compliance_threshold"`
	// CriticalThreshold marks the score below which a category is critical
	CriticalThreshold float64 `yaml:"critical_threshold"`
	// AutoCorrection gates whether automatic violations are attempted
	AutoCorrection bool `yaml:"auto_correction"`
	// EmergencyHaltEnabled gates the halt supervisor entirely; disabling it
	// is an explicit operator override
	EmergencyHaltEnabled bool `yaml:"emergency_halt_enabled"`
	// SessionTimeout is the maximum session lifetime
	SessionTimeout time.Duration `yaml:"session_timeout"`
	// CriticalErrorLimit is the critical-violation count that trips the
	// critical_error_threshold trigger once exceeded
	CriticalErrorLimit int `yaml:"critical_error_limit"`
	// WorkspacePath is the root of the monitored target
	WorkspacePath string `yaml:"workspace_path"`
}

// UnmarshalYAML decodes a session config, accepting durations written
// as strings ("60s", "24h"). Absent keys leave the current values
// untouched so callers can decode over a defaults-filled struct.
func (c *SessionConfig) UnmarshalYAML(node *yaml.Node) error {
	type rawConfig struct {
		MonitoringInterval   *string  `yaml:"monitoring_interval"`
		ValidatorTimeout     *string  `yaml:"validator_timeout"`
		ComplianceThreshold  *float64 `yaml:"compliance_threshold"`
		CriticalThreshold    *float64 `yaml:"critical_threshold"`
		AutoCorrection       *bool    `yaml:"auto_correction"`
		EmergencyHaltEnabled *bool    `yaml:"emergency_halt_enabled"`
		SessionTimeout       *string  `yaml:"session_timeout"`
		CriticalErrorLimit   *int     `yaml:"critical_error_limit"`
		WorkspacePath        *string  `yaml:"workspace_path"`
	}
	var raw rawConfig
	if err := node.Decode(&raw); err != nil {
		return err
	}

	setDuration := func(dst *time.Duration, src *string, key string) error {
		if src == nil {
			return nil
		}
		d, err := time.ParseDuration(*src)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		*dst = d
		return nil
	}
	if err := setDuration(&c.MonitoringInterval, raw.MonitoringInterval, "monitoring_interval"); err != nil {
		return err
	}
	if err := setDuration(&c.ValidatorTimeout, raw.ValidatorTimeout, "validator_timeout"); err != nil {
		return err
	}
	if err := setDuration(&c.SessionTimeout, raw.SessionTimeout, "session_timeout"); err != nil {
		return err
	}
	if raw.ComplianceThreshold != nil {
		c.ComplianceThreshold = *raw.ComplianceThreshold
	}
	if raw.CriticalThreshold != nil {
		c.CriticalThreshold = *raw.CriticalThreshold
	}
	if raw.AutoCorrection != nil {
		c.AutoCorrection = *raw.AutoCorrection
	}
	if raw.EmergencyHaltEnabled != nil {
		c.EmergencyHaltEnabled = *raw.EmergencyHaltEnabled
	}
	if raw.CriticalErrorLimit != nil {
		c.CriticalErrorLimit = *raw.CriticalErrorLimit
	}
	if raw.WorkspacePath != nil {
		c.WorkspacePath = *raw.WorkspacePath
	}
	return nil
}

// DefaultSessionConfig returns the documented defaults.
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		MonitoringInterval:   60 * time.Second,
		ComplianceThreshold:  80.0,
		CriticalThreshold:    60.0,
		AutoCorrection:       true,
		EmergencyHaltEnabled: true,
		SessionTimeout:       24 * time.Hour,
		CriticalErrorLimit:   10,
		WorkspacePath:        ".",
	}
}

// Validate checks the configuration and the fixed weight table.
func (c *SessionConfig) Validate() error {
	if c.MonitoringInterval <= 0 {
		return fmt.Errorf("monitoring_interval must be positive, got %v", c.MonitoringInterval)
	}
	if c.ValidatorTimeout < 0 {
		return fmt.Errorf("validator_timeout must not be negative, got %v", c.ValidatorTimeout)
	}
	if c.ComplianceThreshold < 0 || c.ComplianceThreshold > 100 {
		return fmt.Errorf("compliance_threshold must be in [0,100], got %v", c.ComplianceThreshold)
	}
	if c.CriticalThreshold < 0 || c.CriticalThreshold > 100 {
		return fmt.Errorf("critical_threshold must be in [0,100], got %v", c.CriticalThreshold)
	}
	if c.SessionTimeout <= 0 {
		return fmt.Errorf("session_timeout must be positive, got %v", c.SessionTimeout)
	}
	if c.CriticalErrorLimit < 0 {
		return fmt.Errorf("critical_error_limit must not be negative, got %d", c.CriticalErrorLimit)
	}
	if c.WorkspacePath == "" {
		return fmt.Errorf("workspace_path is required")
	}
	return ValidateWeights()
}

// EffectiveValidatorTimeout resolves the per-category timeout, defaulting
// to the cycle interval.
func (c *SessionConfig) EffectiveValidatorTimeout() time.Duration {
	if c.ValidatorTimeout > 0 {
		return c.ValidatorTimeout
	}
	return c.MonitoringInterval
}

// Session is one monitoring run. The state field is mutated only by the
// scheduler under a single-writer discipline; other components read it
// through the scheduler's accessors.
type Session struct {
	// ID uniquely identifies the session
	ID string `json:"session_id"`
	// Config is the configuration the session was started with
	Config SessionConfig `json:"config"`
	// State is the current lifecycle state
	State SessionState `json:"state"`
	// HaltTrigger records which trigger fired, if State is EMERGENCY_HALT
	HaltTrigger HaltTrigger `json:"halt_trigger,omitempty"`
	// StartTime is when the session was created
	StartTime time.Time `json:"start_time"`
	// EndTime is when the session reached a terminal state (zero if running)
	EndTime time.Time `json:"end_time,omitempty"`
}
