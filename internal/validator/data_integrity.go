package validator

import (
	"context"
	"fmt"
	"time"

	"github.com/compwatch/compwatch/internal/types"
)

// integrityQueryWarn is the storage round-trip latency above which query
// performance is flagged.
const integrityQueryWarn = 100 * time.Millisecond

// DataIntegrityValidator measures the consistency and responsiveness of
// the persistence collaborator.
type DataIntegrityValidator struct{}

// NewDataIntegrityValidator creates the data_integrity validator.
func NewDataIntegrityValidator() *DataIntegrityValidator {
	return &DataIntegrityValidator{}
}

func (v *DataIntegrityValidator) Category() types.Category {
	return types.CategoryDataIntegrity
}

func (v *DataIntegrityValidator) Evaluate(ctx context.Context, target *Target) (*types.CategoryResult, error) {
	score := 100.0
	var violations []types.Violation

	queryTime := time.Duration(0)
	if target.Store == nil {
		score -= 50
		violations = append(violations, newViolation(v.Category(), types.SeverityCritical, types.CorrectionEscalation,
			"storage collaborator not configured"))
	} else {
		start := time.Now()
		if err := target.Store.Ping(ctx); err != nil {
			score -= 40
			violations = append(violations, newViolation(v.Category(), types.SeverityCritical, types.CorrectionEscalation,
				fmt.Sprintf("storage access failed: %v", err)))
		} else {
			queryTime = time.Since(start)
			if queryTime > integrityQueryWarn {
				score -= 10
				violations = append(violations, newViolation(v.Category(), types.SeverityMinor, types.CorrectionGuided,
					fmt.Sprintf("slow storage query performance: %v", queryTime.Round(time.Millisecond))))
			}
		}

		if err := target.Store.CheckIntegrity(ctx); err != nil {
			score -= 30
			violations = append(violations, newViolation(v.Category(), types.SeverityCritical, types.CorrectionEscalation,
				fmt.Sprintf("storage corruption detected: %v", err)))
		}
	}

	details := map[string]interface{}{
		"store_configured":     target.Store != nil,
		"query_performance_ms": queryTime.Milliseconds(),
	}
	return newResult(v.Category(), score, "storage consistency and integrity assessment", details, violations), nil
}
