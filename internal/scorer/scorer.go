// Package scorer aggregates per-category results into a composite
// compliance snapshot. Aggregation is pure computation: no I/O, no side
// effects, so it can run between the validator fan-out and the correction
// pass without holding any locks.
package scorer

import (
	"time"

	"github.com/compwatch/compwatch/internal/types"
)

// trendBand is the score delta inside which movement counts as stable.
const trendBand = 1.0

// Scorer computes weighted composite snapshots.
type Scorer struct{}

// New creates a Scorer.
func New() *Scorer {
	return &Scorer{}
}

// Aggregate combines one cycle's category results into a ComplianceMetrics
// snapshot. A category missing from results contributes a score of 0
// (fail-closed). previous may be nil for the first cycle; sessionDuration
// is how long the session has been running.
func (s *Scorer) Aggregate(results map[types.Category]*types.CategoryResult, previous *types.ComplianceMetrics, sessionDuration time.Duration) *types.ComplianceMetrics {
	metrics := &types.ComplianceMetrics{
		CategoryScores:     make(map[types.Category]float64, len(types.AllCategories())),
		MonitoringDuration: sessionDuration,
		TrendDirection:     types.TrendStable,
		Timestamp:          time.Now(),
	}

	overall := 0.0
	criticalThisCycle := 0
	for _, category := range types.AllCategories() {
		score := 0.0
		result := results[category]
		if result != nil {
			score = clampScore(result.Score)
		}
		metrics.CategoryScores[category] = score
		overall += category.Weight() * score / 100

		metrics.TotalChecks++
		if result == nil || len(result.Violations) > 0 {
			metrics.FailedChecks++
		} else {
			metrics.PassedChecks++
		}
		if result != nil {
			for _, v := range result.Violations {
				if v.Severity == types.SeverityCritical {
					criticalThisCycle++
				}
			}
		}
	}

	metrics.OverallScore = clampScore(overall)
	metrics.ComplianceLevel = types.LevelForScore(metrics.OverallScore)
	metrics.CriticalViolations = criticalThisCycle

	if previous != nil {
		metrics.TotalChecks += previous.TotalChecks
		metrics.PassedChecks += previous.PassedChecks
		metrics.FailedChecks += previous.FailedChecks
		metrics.CriticalViolations += previous.CriticalViolations
		metrics.TrendDirection = trend(metrics.OverallScore, previous.OverallScore)
	}

	return metrics
}

// trend classifies score movement relative to the previous snapshot.
// Deltas of exactly +1.0 or -1.0 are stable; the bands are open.
func trend(current, previous float64) types.TrendDirection {
	delta := current - previous
	switch {
	case delta > trendBand:
		return types.TrendImproving
	case delta < -trendBand:
		return types.TrendDeclining
	default:
		return types.TrendStable
	}
}

func clampScore(score float64) float64 {
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}
