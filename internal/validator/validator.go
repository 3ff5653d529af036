// Package validator defines the category check protocol and the six
// built-in compliance validators. Each validator independently measures
// its domain and maps raw measurements to a 0-100 score; the engine only
// mandates the score range and violation structure.
package validator

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/compwatch/compwatch/internal/types"
)

// Validator performs one compliance check per cycle.
type Validator interface {
	// Category returns the compliance domain this validator measures.
	Category() types.Category

	// Evaluate examines the target and returns a structured result.
	// Implementations must honor ctx cancellation; the runner enforces
	// the per-category timeout.
	Evaluate(ctx context.Context, target *Target) (*types.CategoryResult, error)
}

// StorageProber is the slice of the persistence collaborator the
// validators need: reachability and integrity, nothing else.
type StorageProber interface {
	Ping(ctx context.Context) error
	CheckIntegrity(ctx context.Context) error
}

// Target describes the system under monitoring.
type Target struct {
	// WorkspacePath is the root directory of the monitored target
	WorkspacePath string
	// Store probes the persistence collaborator's health
	Store StorageProber
	// AuthEnvVar is the environment variable whose presence indicates
	// authentication is configured
	AuthEnvVar string
	// RequiredDirs are directories the workspace layout must contain
	RequiredDirs []string
	// SensitiveFiles are paths whose permissions are checked
	SensitiveFiles []string
}

// DefaultAuthEnvVar is checked when Target.AuthEnvVar is unset.
const DefaultAuthEnvVar = "COMPWATCH_AUTH"

// forbiddenArtifactPatterns mark self-referential workspace artifacts.
// Any directory or file matching one of these is a compliance violation
// and, for directories, an emergency halt condition.
var forbiddenArtifactPatterns = []string{"backup", "_backup_", ".bak"}

// MatchesForbiddenPattern reports whether a file or directory name looks
// like a backup or self-referential artifact.
func MatchesForbiddenPattern(name string) bool {
	lower := strings.ToLower(name)
	for _, pattern := range forbiddenArtifactPatterns {
		if strings.Contains(lower, pattern) {
			return true
		}
	}
	return false
}

// DefaultValidators returns the six built-in validators in canonical
// category order.
func DefaultValidators() []Validator {
	return []Validator{
		NewSystemHealthValidator(),
		NewSecurityValidator(),
		NewDataIntegrityValidator(),
		NewCodeQualityValidator(),
		NewProcessValidator(),
		NewPerformanceValidator(),
	}
}

// newViolation builds a violation with a fresh session-unique ID.
func newViolation(category types.Category, severity types.Severity, correctionType types.CorrectionType, description string) types.Violation {
	return types.Violation{
		ID:             uuid.New().String(),
		Category:       category,
		Severity:       severity,
		Description:    description,
		CorrectionType: correctionType,
	}
}

// newResult assembles an immutable CategoryResult from a finished check.
func newResult(category types.Category, score float64, description string, details map[string]interface{}, violations []types.Violation) *types.CategoryResult {
	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}
	if details == nil {
		details = map[string]interface{}{}
	}
	return &types.CategoryResult{
		Category:           category,
		Score:              score,
		Level:              types.LevelForScore(score),
		Description:        description,
		Details:            details,
		Violations:         violations,
		Recommendations:    recommendationsFor(violations),
		CorrectionTypeHint: classifyCorrection(violations),
		Timestamp:          time.Now(),
		ValidationID:       uuid.New().String(),
	}
}

// classifyCorrection derives the default correction classification from
// the violation descriptions. Corruption and security findings escalate;
// permission and configuration findings need manual work; anything else
// gets operator guidance. A clean check is automatically correctable by
// definition (there is nothing to do).
func classifyCorrection(violations []types.Violation) types.CorrectionType {
	if len(violations) == 0 {
		return types.CorrectionAutomatic
	}

	for _, v := range violations {
		if v.CorrectionType == types.CorrectionEscalation {
			return types.CorrectionEscalation
		}
		lower := strings.ToLower(v.Description)
		if strings.Contains(lower, "corruption") || strings.Contains(lower, "security") || strings.Contains(lower, "critical") {
			return types.CorrectionEscalation
		}
	}
	for _, v := range violations {
		lower := strings.ToLower(v.Description)
		if strings.Contains(lower, "permission") || strings.Contains(lower, "configuration") || strings.Contains(lower, "setup") {
			return types.CorrectionManual
		}
	}
	return types.CorrectionGuided
}

// recommendationsFor maps violations to remediation hints.
func recommendationsFor(violations []types.Violation) []string {
	recommendations := make([]string, 0, len(violations))
	for _, v := range violations {
		lower := strings.ToLower(v.Description)
		switch {
		case strings.Contains(lower, "memory"):
			recommendations = append(recommendations, "Review memory usage patterns and reduce retained allocations")
		case strings.Contains(lower, "goroutine"):
			recommendations = append(recommendations, "Audit long-lived goroutines for leaks")
		case strings.Contains(lower, "backup"):
			recommendations = append(recommendations, "Remove backup artifacts from the workspace and store backups externally")
		case strings.Contains(lower, "database") || strings.Contains(lower, "storage"):
			recommendations = append(recommendations, "Run storage maintenance and integrity checks")
		case strings.Contains(lower, "permission"):
			recommendations = append(recommendations, "Review and tighten file permissions")
		case strings.Contains(lower, "directory"):
			recommendations = append(recommendations, "Restore the expected workspace directory layout")
		default:
			recommendations = append(recommendations, "Address violation: "+v.Description)
		}
	}
	return recommendations
}
