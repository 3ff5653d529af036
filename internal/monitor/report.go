package monitor

import (
	"context"
	"fmt"
	"time"

	"github.com/compwatch/compwatch/internal/types"
)

// Status is a point-in-time view of the running session. It is built
// from the scheduler's latest snapshot without touching storage, so a
// stalled database cannot stall a status query.
type Status struct {
	SessionID    string                `json:"session_id"`
	State        types.SessionState    `json:"state"`
	HaltTrigger  types.HaltTrigger     `json:"halt_trigger,omitempty"`
	Cycle        int                   `json:"cycle"`
	Uptime       time.Duration         `json:"uptime"`
	OverallScore float64               `json:"overall_score"`
	Level        types.ComplianceLevel `json:"compliance_level"`
	Trend        types.TrendDirection  `json:"trend_direction"`
}

// Report is the full compliance report for the session: the latest
// composite snapshot plus per-category breakdown and the correction
// history.
type Report struct {
	Status      Status                    `json:"status"`
	Metrics     *types.ComplianceMetrics  `json:"metrics,omitempty"`
	Categories  []*types.CategoryResult   `json:"categories,omitempty"`
	Corrections []*types.CorrectionRecord `json:"corrections,omitempty"`
	GeneratedAt time.Time                 `json:"generated_at"`
}

// Status reports the current session state from in-memory snapshots.
func (m *Monitor) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()

	status := Status{Level: types.LevelForScore(0), Trend: types.TrendStable}
	if m.session != nil {
		status.SessionID = m.session.ID
		status.State = m.session.State
		status.HaltTrigger = m.session.HaltTrigger
		status.Uptime = m.clock().Sub(m.session.StartTime)
	} else {
		status.State = types.StateInitializing
	}
	status.Cycle = m.cycle
	if m.latest != nil {
		status.OverallScore = m.latest.OverallScore
		status.Level = m.latest.ComplianceLevel
		status.Trend = m.latest.TrendDirection
	}
	return status
}

// Report assembles the full compliance report. The per-category
// breakdown and the correction history come from storage; the composite
// snapshot is the in-memory latest.
func (m *Monitor) Report(ctx context.Context) (*Report, error) {
	status := m.Status()
	if status.SessionID == "" {
		return nil, fmt.Errorf("no session")
	}

	report := &Report{
		Status:      status,
		GeneratedAt: m.clock(),
	}

	m.mu.RLock()
	if m.latest != nil {
		metrics := *m.latest
		report.Metrics = &metrics
	}
	m.mu.RUnlock()

	categories, err := m.store.GetCategoryResults(ctx, status.SessionID, len(types.AllCategories()))
	if err != nil {
		return nil, fmt.Errorf("load category results: %w", err)
	}
	report.Categories = categories

	corrections, err := m.store.GetCorrections(ctx, status.SessionID)
	if err != nil {
		return nil, fmt.Errorf("load corrections: %w", err)
	}
	report.Corrections = corrections
	return report, nil
}
