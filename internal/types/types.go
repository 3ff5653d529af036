package types

import (
	"fmt"
	"time"
)

// Category identifies one of the six fixed compliance domains.
// The set is closed: validators, weights, and persistence all key off
// these values, and configuration cannot introduce new ones.
type Category string

const (
	CategorySystemHealth  Category = "system_health"
	CategorySecurity      Category = "security"
	CategoryDataIntegrity Category = "data_integrity"
	CategoryCodeQuality   Category = "code_quality"
	CategoryProcess       Category = "process"
	CategoryPerformance   Category = "performance"
)

// AllCategories returns the six categories in canonical order.
// The order is stable so reports and persisted rows line up across cycles.
func AllCategories() []Category {
	return []Category{
		CategorySystemHealth,
		CategorySecurity,
		CategoryDataIntegrity,
		CategoryCodeQuality,
		CategoryProcess,
		CategoryPerformance,
	}
}

// IsValid checks if the category value is one of the six known domains.
func (c Category) IsValid() bool {
	switch c {
	case CategorySystemHealth, CategorySecurity, CategoryDataIntegrity,
		CategoryCodeQuality, CategoryProcess, CategoryPerformance:
		return true
	}
	return false
}

// categoryWeights is the fixed weight table. Weights must sum to exactly
// 100; ValidateWeights enforces this at startup.
var categoryWeights = map[Category]float64{
	CategorySystemHealth:  15,
	CategorySecurity:      20,
	CategoryDataIntegrity: 20,
	CategoryCodeQuality:   15,
	CategoryProcess:       15,
	CategoryPerformance:   15,
}

// Weight returns the scoring weight for the category (out of 100).
func (c Category) Weight() float64 {
	return categoryWeights[c]
}

// ValidateWeights verifies the weight table invariant: every category has
// a weight and the weights sum to exactly 100.
func ValidateWeights() error {
	sum := 0.0
	for _, c := range AllCategories() {
		w, ok := categoryWeights[c]
		if !ok {
			return fmt.Errorf("category %q has no weight", c)
		}
		sum += w
	}
	if sum != 100 {
		return fmt.Errorf("category weights sum to %v, want exactly 100", sum)
	}
	return nil
}

// ComplianceLevel is the ordered classification derived from a score.
type ComplianceLevel string

const (
	LevelExcellent        ComplianceLevel = "excellent"         // >= 90
	LevelGood             ComplianceLevel = "good"              // 80-89.999
	LevelAcceptable       ComplianceLevel = "acceptable"        // 70-79.999
	LevelNeedsImprovement ComplianceLevel = "needs_improvement" // 60-69.999
	LevelCritical         ComplianceLevel = "critical"          // < 60
)

// LevelForScore maps a 0-100 score to its compliance level.
func LevelForScore(score float64) ComplianceLevel {
	switch {
	case score >= 90:
		return LevelExcellent
	case score >= 80:
		return LevelGood
	case score >= 70:
		return LevelAcceptable
	case score >= 60:
		return LevelNeedsImprovement
	default:
		return LevelCritical
	}
}

// Severity classifies how serious a violation is.
type Severity string

const (
	SeverityCritical      Severity = "critical"
	SeverityWarning       Severity = "warning"
	SeverityMinor         Severity = "minor"
	SeverityInformational Severity = "informational"
)

// CorrectionType classifies how a violation can be remediated.
type CorrectionType string

const (
	// CorrectionAutomatic violations are attempted without operator involvement.
	CorrectionAutomatic CorrectionType = "automatic"
	// CorrectionGuided violations produce a recommended human action.
	CorrectionGuided CorrectionType = "guided"
	// CorrectionManual violations require manual intervention and are only surfaced.
	CorrectionManual CorrectionType = "manual"
	// CorrectionEscalation violations require escalation and are never auto-corrected.
	CorrectionEscalation CorrectionType = "escalation"
)

// IsValid checks if the correction type is one of the four closed values.
func (t CorrectionType) IsValid() bool {
	switch t {
	case CorrectionAutomatic, CorrectionGuided, CorrectionManual, CorrectionEscalation:
		return true
	}
	return false
}

// Violation is one detected non-conformance within a category.
// Violations are never mutated in place; a later cycle supersedes them
// with fresh ones.
type Violation struct {
	// ID is unique within a session
	ID string `json:"id"`
	// Category is the compliance domain that detected this violation
	Category Category `json:"category"`
	// Severity classifies how serious the violation is
	Severity Severity `json:"severity"`
	// Description is a human-readable explanation of the non-conformance
	Description string `json:"description"`
	// CorrectionType classifies how the violation can be remediated
	CorrectionType CorrectionType `json:"correction_type"`
}

// CategoryResult is the outcome of one category check within one cycle.
// It is immutable after creation and owned by the cycle that produced it
// until persisted.
type CategoryResult struct {
	// Category is the compliance domain that was checked
	Category Category `json:"category"`
	// Score is the 0-100 compliance score for this category
	Score float64 `json:"score"`
	// Level is the classification derived from Score
	Level ComplianceLevel `json:"level"`
	// Description summarizes what was assessed
	Description string `json:"description"`
	// Details holds validator-specific measurements
	Details map[string]interface{} `json:"details"`
	// Violations lists detected non-conformances, in detection order
	Violations []Violation `json:"violations"`
	// Recommendations suggest remediation per violation
	Recommendations []string `json:"recommendations"`
	// CorrectionTypeHint is the suggested default correction classification
	CorrectionTypeHint CorrectionType `json:"correction_type_hint"`
	// Timestamp is when the check completed
	Timestamp time.Time `json:"timestamp"`
	// ValidationID identifies this individual check
	ValidationID string `json:"validation_id"`
}

// CorrectionRecord is the outcome of one remediation attempt. Records are
// append-only; a violation may accumulate several across retries.
type CorrectionRecord struct {
	// ViolationID is the violation this attempt targeted
	ViolationID string `json:"violation_id"`
	// CorrectionType is the classification the attempt ran under
	CorrectionType CorrectionType `json:"correction_type"`
	// ActionTaken describes what the engine did (or recommends)
	ActionTaken string `json:"action_taken"`
	// Success reports whether the remediation completed
	Success bool `json:"success"`
	// Timestamp is when the attempt finished
	Timestamp time.Time `json:"timestamp"`
	// Details holds attempt-specific context
	Details map[string]interface{} `json:"details"`
}

// TrendDirection reports score movement relative to the previous snapshot.
type TrendDirection string

const (
	TrendImproving TrendDirection = "improving"
	TrendStable    TrendDirection = "stable"
	TrendDeclining TrendDirection = "declining"
)

// ComplianceMetrics is the composite per-cycle snapshot. Each cycle
// produces a new value; the most recent snapshot is the authoritative
// current state.
type ComplianceMetrics struct {
	// OverallScore is the weighted sum of category scores, always in [0,100]
	OverallScore float64 `json:"overall_score"`
	// CategoryScores maps each category to its score for this cycle
	CategoryScores map[Category]float64 `json:"category_scores"`
	// ComplianceLevel is derived from OverallScore
	ComplianceLevel ComplianceLevel `json:"compliance_level"`
	// TotalChecks counts category checks performed this session
	TotalChecks int `json:"total_checks"`
	// PassedChecks counts checks with no violations
	PassedChecks int `json:"passed_checks"`
	// FailedChecks counts checks with at least one violation
	FailedChecks int `json:"failed_checks"`
	// CriticalViolations counts critical-severity violations accumulated this session
	CriticalViolations int `json:"critical_violations"`
	// MonitoringDuration is how long the session has been running
	MonitoringDuration time.Duration `json:"monitoring_duration"`
	// TrendDirection compares OverallScore to the previous snapshot
	TrendDirection TrendDirection `json:"trend_direction"`
	// Timestamp is when this snapshot was computed
	Timestamp time.Time `json:"timestamp"`
}
