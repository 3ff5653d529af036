package validator

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/compwatch/compwatch/internal/types"
)

// ProcessValidator measures workflow adherence: the expected workspace
// layout, the presence of operational log artifacts, and configuration
// manifests.
type ProcessValidator struct{}

// NewProcessValidator creates the process validator.
func NewProcessValidator() *ProcessValidator {
	return &ProcessValidator{}
}

func (v *ProcessValidator) Category() types.Category {
	return types.CategoryProcess
}

func (v *ProcessValidator) Evaluate(ctx context.Context, target *Target) (*types.CategoryResult, error) {
	score := 100.0
	var violations []types.Violation

	var missing []string
	for _, dir := range target.RequiredDirs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if info, err := os.Stat(filepath.Join(target.WorkspacePath, dir)); err != nil || !info.IsDir() {
			missing = append(missing, dir)
		}
	}
	if len(missing) > 0 && len(target.RequiredDirs) > 0 {
		score -= float64(len(missing)) / float64(len(target.RequiredDirs)) * 30
		violations = append(violations, newViolation(v.Category(), types.SeverityWarning, types.CorrectionAutomatic,
			fmt.Sprintf("missing directories: %v", missing)))
	}

	logCount := 0
	logDir := filepath.Join(target.WorkspacePath, "logs")
	if info, err := os.Stat(logDir); err == nil && info.IsDir() {
		matches, _ := filepath.Glob(filepath.Join(logDir, "*.log"))
		logCount = len(matches)
		if logCount == 0 {
			score -= 15
			violations = append(violations, newViolation(v.Category(), types.SeverityMinor, types.CorrectionGuided,
				"no log files found in logs directory"))
		}
	}

	configFound := false
	for _, name := range []string{"compwatch.yaml", "compwatch.yml", "Makefile", "docker-compose.yml"} {
		if _, err := os.Stat(filepath.Join(target.WorkspacePath, name)); err == nil {
			configFound = true
			break
		}
	}
	if !configFound {
		score -= 20
		violations = append(violations, newViolation(v.Category(), types.SeverityMinor, types.CorrectionManual,
			"missing configuration manifest"))
	}

	details := map[string]interface{}{
		"expected_directories": len(target.RequiredDirs),
		"missing_directories":  len(missing),
		"log_files_found":      logCount,
		"config_manifest":      configFound,
	}
	return newResult(v.Category(), score, "process and workflow adherence assessment", details, violations), nil
}
