package validator

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/compwatch/compwatch/internal/types"
)

// Response-time thresholds for the performance benchmarks.
const (
	perfFilesystemWarn = 100 * time.Millisecond
	perfStorageWarn    = 50 * time.Millisecond
)

// PerformanceValidator benchmarks the response times of the monitored
// target's filesystem and its storage collaborator.
type PerformanceValidator struct{}

// NewPerformanceValidator creates the performance validator.
func NewPerformanceValidator() *PerformanceValidator {
	return &PerformanceValidator{}
}

func (v *PerformanceValidator) Category() types.Category {
	return types.CategoryPerformance
}

func (v *PerformanceValidator) Evaluate(ctx context.Context, target *Target) (*types.CategoryResult, error) {
	score := 100.0
	var violations []types.Violation

	fsTime, err := benchmarkFilesystem(target.WorkspacePath)
	if err != nil {
		score -= 15
		violations = append(violations, newViolation(v.Category(), types.SeverityWarning, types.CorrectionGuided,
			fmt.Sprintf("filesystem benchmark failed: %v", err)))
	} else if fsTime > perfFilesystemWarn {
		score -= 10
		violations = append(violations, newViolation(v.Category(), types.SeverityMinor, types.CorrectionGuided,
			fmt.Sprintf("slow filesystem response: %v", fsTime.Round(time.Millisecond))))
	}

	storeTime := time.Duration(0)
	if target.Store != nil {
		start := time.Now()
		if err := target.Store.Ping(ctx); err != nil {
			score -= 25
			violations = append(violations, newViolation(v.Category(), types.SeverityWarning, types.CorrectionGuided,
				fmt.Sprintf("storage benchmark failed: %v", err)))
		} else {
			storeTime = time.Since(start)
			if storeTime > perfStorageWarn {
				score -= 15
				violations = append(violations, newViolation(v.Category(), types.SeverityMinor, types.CorrectionGuided,
					fmt.Sprintf("slow storage response: %v", storeTime.Round(time.Millisecond))))
			}
		}
	}

	details := map[string]interface{}{
		"filesystem_response_ms": fsTime.Milliseconds(),
		"storage_response_ms":    storeTime.Milliseconds(),
	}
	return newResult(v.Category(), score, "response time and throughput assessment", details, violations), nil
}

// benchmarkFilesystem times a small write-read-delete round trip in the
// workspace. The probe file is removed even on partial failure.
func benchmarkFilesystem(root string) (time.Duration, error) {
	probe := filepath.Join(root, fmt.Sprintf(".compwatch_probe_%d", time.Now().UnixNano()))
	start := time.Now()

	if err := os.WriteFile(probe, []byte("performance probe"), 0o600); err != nil {
		return 0, err
	}
	defer os.Remove(probe)

	if _, err := os.ReadFile(probe); err != nil {
		return 0, err
	}
	if err := os.Remove(probe); err != nil {
		return 0, err
	}
	return time.Since(start), nil
}
