package validator

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/compwatch/compwatch/internal/types"
)

// Resource thresholds for the system health check. Scores start at 100
// and each breach deducts a fixed amount, mirroring how operators reason
// about the individual findings.
const (
	healthGoroutineWarn  = 5000
	healthHeapWarnBytes  = 4 << 30 // 4 GiB
	healthMissingDirCost = 10
	healthResourceCost   = 20
)

// SystemHealthValidator measures resource utilization of the monitoring
// process and structural availability of the monitored workspace.
type SystemHealthValidator struct{}

// NewSystemHealthValidator creates the system_health validator.
func NewSystemHealthValidator() *SystemHealthValidator {
	return &SystemHealthValidator{}
}

func (v *SystemHealthValidator) Category() types.Category {
	return types.CategorySystemHealth
}

func (v *SystemHealthValidator) Evaluate(ctx context.Context, target *Target) (*types.CategoryResult, error) {
	score := 100.0
	var violations []types.Violation

	goroutines := runtime.NumGoroutine()
	if goroutines > healthGoroutineWarn {
		score -= healthResourceCost
		violations = append(violations, newViolation(v.Category(), types.SeverityWarning, types.CorrectionGuided,
			fmt.Sprintf("high goroutine count: %d", goroutines)))
	}

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	if mem.HeapAlloc > healthHeapWarnBytes {
		score -= healthResourceCost
		violations = append(violations, newViolation(v.Category(), types.SeverityWarning, types.CorrectionGuided,
			fmt.Sprintf("high memory usage: %d MiB heap", mem.HeapAlloc>>20)))
	}

	// Workspace must exist and be a directory.
	info, err := os.Stat(target.WorkspacePath)
	if err != nil || !info.IsDir() {
		score -= 50
		violations = append(violations, newViolation(v.Category(), types.SeverityCritical, types.CorrectionEscalation,
			fmt.Sprintf("workspace unavailable: %s", target.WorkspacePath)))
	}

	checked := 0
	for _, dir := range target.RequiredDirs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		checked++
		if info, err := os.Stat(filepath.Join(target.WorkspacePath, dir)); err != nil || !info.IsDir() {
			score -= healthMissingDirCost
			violations = append(violations, newViolation(v.Category(), types.SeverityMinor, types.CorrectionAutomatic,
				fmt.Sprintf("missing directory: %s", dir)))
		}
	}

	details := map[string]interface{}{
		"goroutines":          goroutines,
		"heap_alloc_bytes":    mem.HeapAlloc,
		"directories_checked": checked,
	}
	return newResult(v.Category(), score, "system health and resource utilization assessment", details, violations), nil
}
