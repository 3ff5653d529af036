package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/compwatch/compwatch/internal/types"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// SQLiteStorage implements the engine's Storage interface using SQLite.
type SQLiteStorage struct {
	db *sql.DB
}

// New creates a new SQLite storage backend at the given path.
func New(path string) (*SQLiteStorage, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	// WAL mode for better concurrency between the scheduler loop and
	// read-side report/status queries.
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_foreign_keys=ON")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteStorage{db: db}, nil
}

// CreateSession inserts a new session row.
func (s *SQLiteStorage) CreateSession(ctx context.Context, session *types.Session) error {
	if session == nil || session.ID == "" {
		return fmt.Errorf("session with ID is required")
	}

	configJSON, err := json.Marshal(session.Config)
	if err != nil {
		return fmt.Errorf("failed to marshal session config: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sessions (session_id, config_json, state, halt_trigger, start_time)
		VALUES (?, ?, ?, ?, ?)`,
		session.ID, string(configJSON), string(session.State), string(session.HaltTrigger), session.StartTime)
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	return nil
}

// UpdateSessionState records a lifecycle transition.
func (s *SQLiteStorage) UpdateSessionState(ctx context.Context, sessionID string, state types.SessionState, trigger types.HaltTrigger) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE sessions SET state = ?, halt_trigger = ? WHERE session_id = ?`,
		string(state), string(trigger), sessionID)
	if err != nil {
		return fmt.Errorf("failed to update session state: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check session update: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("session %s: %w", sessionID, ErrNotFound)
	}
	return nil
}

// FinalizeSession archives a session that reached a terminal state.
func (s *SQLiteStorage) FinalizeSession(ctx context.Context, session *types.Session) error {
	if session == nil || !session.State.IsTerminal() {
		return fmt.Errorf("finalize requires a session in a terminal state")
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE sessions SET state = ?, halt_trigger = ?, end_time = ? WHERE session_id = ?`,
		string(session.State), string(session.HaltTrigger), session.EndTime, session.ID)
	if err != nil {
		return fmt.Errorf("failed to finalize session: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check session finalize: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("session %s: %w", session.ID, ErrNotFound)
	}
	return nil
}

// GetSession loads one session by ID.
func (s *SQLiteStorage) GetSession(ctx context.Context, sessionID string) (*types.Session, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT session_id, config_json, state, halt_trigger, start_time, end_time
		FROM sessions WHERE session_id = ?`, sessionID)
	return scanSession(row)
}

// GetLatestSession loads the most recently started session.
func (s *SQLiteStorage) GetLatestSession(ctx context.Context) (*types.Session, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT session_id, config_json, state, halt_trigger, start_time, end_time
		FROM sessions ORDER BY start_time DESC, session_id DESC LIMIT 1`)
	return scanSession(row)
}

func scanSession(row *sql.Row) (*types.Session, error) {
	var (
		session    types.Session
		configJSON string
		state      string
		trigger    string
		endTime    sql.NullTime
	)
	err := row.Scan(&session.ID, &configJSON, &state, &trigger, &session.StartTime, &endTime)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan session: %w", err)
	}
	if err := json.Unmarshal([]byte(configJSON), &session.Config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session config: %w", err)
	}
	session.State = types.SessionState(state)
	session.HaltTrigger = types.HaltTrigger(trigger)
	if endTime.Valid {
		session.EndTime = endTime.Time
	}
	return &session, nil
}

// StoreCategoryResult persists one category check outcome.
func (s *SQLiteStorage) StoreCategoryResult(ctx context.Context, sessionID string, result *types.CategoryResult) error {
	if result == nil {
		return fmt.Errorf("result is required")
	}

	detailsJSON, err := json.Marshal(orEmptyMap(result.Details))
	if err != nil {
		return fmt.Errorf("failed to marshal details: %w", err)
	}
	violationsJSON, err := json.Marshal(orEmptyViolations(result.Violations))
	if err != nil {
		return fmt.Errorf("failed to marshal violations: %w", err)
	}
	recsJSON, err := json.Marshal(orEmptyStrings(result.Recommendations))
	if err != nil {
		return fmt.Errorf("failed to marshal recommendations: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO compliance_monitoring (
			monitor_id, category, score, level, description,
			details_json, violations_json, recommendations_json,
			correction_type, timestamp, validation_id
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sessionID, string(result.Category), result.Score, string(result.Level),
		result.Description, string(detailsJSON), string(violationsJSON), string(recsJSON),
		string(result.CorrectionTypeHint), result.Timestamp, result.ValidationID)
	if err != nil {
		return fmt.Errorf("failed to store category result: %w", err)
	}
	return nil
}

// GetCategoryResults returns the most recent category results for a
// session, newest first. limit <= 0 means no limit.
func (s *SQLiteStorage) GetCategoryResults(ctx context.Context, sessionID string, limit int) ([]*types.CategoryResult, error) {
	query := `
		SELECT category, score, level, description, details_json,
		       violations_json, recommendations_json, correction_type,
		       timestamp, validation_id
		FROM compliance_monitoring
		WHERE monitor_id = ?
		ORDER BY timestamp DESC, id DESC`
	args := []interface{}{sessionID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query category results: %w", err)
	}
	defer rows.Close()

	var results []*types.CategoryResult
	for rows.Next() {
		var (
			r              types.CategoryResult
			category       string
			level          string
			detailsJSON    string
			violationsJSON string
			recsJSON       string
			correctionType string
		)
		if err := rows.Scan(&category, &r.Score, &level, &r.Description, &detailsJSON,
			&violationsJSON, &recsJSON, &correctionType, &r.Timestamp, &r.ValidationID); err != nil {
			return nil, fmt.Errorf("failed to scan category result: %w", err)
		}
		r.Category = types.Category(category)
		r.Level = types.ComplianceLevel(level)
		r.CorrectionTypeHint = types.CorrectionType(correctionType)
		if err := json.Unmarshal([]byte(detailsJSON), &r.Details); err != nil {
			return nil, fmt.Errorf("failed to unmarshal details: %w", err)
		}
		if err := json.Unmarshal([]byte(violationsJSON), &r.Violations); err != nil {
			return nil, fmt.Errorf("failed to unmarshal violations: %w", err)
		}
		if err := json.Unmarshal([]byte(recsJSON), &r.Recommendations); err != nil {
			return nil, fmt.Errorf("failed to unmarshal recommendations: %w", err)
		}
		results = append(results, &r)
	}
	return results, rows.Err()
}

// StoreMetrics persists one per-cycle composite snapshot.
func (s *SQLiteStorage) StoreMetrics(ctx context.Context, sessionID string, metrics *types.ComplianceMetrics) error {
	if metrics == nil {
		return fmt.Errorf("metrics is required")
	}

	scoresJSON, err := json.Marshal(metrics.CategoryScores)
	if err != nil {
		return fmt.Errorf("failed to marshal category scores: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO compliance_metrics (
			monitor_id, overall_score, category_scores_json, compliance_level,
			total_checks, passed_checks, failed_checks, critical_violations,
			monitoring_duration, trend_direction, timestamp
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sessionID, metrics.OverallScore, string(scoresJSON), string(metrics.ComplianceLevel),
		metrics.TotalChecks, metrics.PassedChecks, metrics.FailedChecks, metrics.CriticalViolations,
		metrics.MonitoringDuration.Seconds(), string(metrics.TrendDirection), metrics.Timestamp)
	if err != nil {
		return fmt.Errorf("failed to store metrics: %w", err)
	}
	return nil
}

// GetLatestMetrics returns the most recently persisted snapshot for a session.
func (s *SQLiteStorage) GetLatestMetrics(ctx context.Context, sessionID string) (*types.ComplianceMetrics, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT overall_score, category_scores_json, compliance_level,
		       total_checks, passed_checks, failed_checks, critical_violations,
		       monitoring_duration, trend_direction, timestamp
		FROM compliance_metrics
		WHERE monitor_id = ?
		ORDER BY timestamp DESC, id DESC LIMIT 1`, sessionID)

	var (
		m          types.ComplianceMetrics
		scoresJSON string
		level      string
		trend      string
		durationS  float64
	)
	err := row.Scan(&m.OverallScore, &scoresJSON, &level, &m.TotalChecks, &m.PassedChecks,
		&m.FailedChecks, &m.CriticalViolations, &durationS, &trend, &m.Timestamp)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan metrics: %w", err)
	}
	if err := json.Unmarshal([]byte(scoresJSON), &m.CategoryScores); err != nil {
		return nil, fmt.Errorf("failed to unmarshal category scores: %w", err)
	}
	m.ComplianceLevel = types.ComplianceLevel(level)
	m.TrendDirection = types.TrendDirection(trend)
	m.MonitoringDuration = time.Duration(durationS * float64(time.Second))
	return &m, nil
}

// StoreCorrection appends one remediation attempt record.
func (s *SQLiteStorage) StoreCorrection(ctx context.Context, sessionID string, record *types.CorrectionRecord) error {
	if record == nil {
		return fmt.Errorf("record is required")
	}

	detailsJSON, err := json.Marshal(orEmptyMap(record.Details))
	if err != nil {
		return fmt.Errorf("failed to marshal details: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO compliance_corrections (
			monitor_id, violation_id, correction_type, correction_action,
			success, details_json, timestamp
		) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		sessionID, record.ViolationID, string(record.CorrectionType), record.ActionTaken,
		record.Success, string(detailsJSON), record.Timestamp)
	if err != nil {
		return fmt.Errorf("failed to store correction: %w", err)
	}
	return nil
}

// GetCorrections returns all correction records for a session, oldest first.
func (s *SQLiteStorage) GetCorrections(ctx context.Context, sessionID string) ([]*types.CorrectionRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT violation_id, correction_type, correction_action, success, details_json, timestamp
		FROM compliance_corrections
		WHERE monitor_id = ?
		ORDER BY timestamp ASC, id ASC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query corrections: %w", err)
	}
	defer rows.Close()

	var records []*types.CorrectionRecord
	for rows.Next() {
		var (
			r              types.CorrectionRecord
			correctionType string
			detailsJSON    string
		)
		if err := rows.Scan(&r.ViolationID, &correctionType, &r.ActionTaken, &r.Success, &detailsJSON, &r.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan correction: %w", err)
		}
		r.CorrectionType = types.CorrectionType(correctionType)
		if err := json.Unmarshal([]byte(detailsJSON), &r.Details); err != nil {
			return nil, fmt.Errorf("failed to unmarshal details: %w", err)
		}
		records = append(records, &r)
	}
	return records, rows.Err()
}

// Ping verifies the backend is reachable.
func (s *SQLiteStorage) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// CheckIntegrity runs SQLite's integrity check. A non-ok result is the
// storage_corruption emergency trigger's probe signal.
func (s *SQLiteStorage) CheckIntegrity(ctx context.Context) error {
	var result string
	if err := s.db.QueryRowContext(ctx, "PRAGMA integrity_check").Scan(&result); err != nil {
		return fmt.Errorf("integrity check failed to run: %w", err)
	}
	if result != "ok" {
		return fmt.Errorf("integrity check failed: %s", result)
	}
	return nil
}

// Close releases the database handle.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

func orEmptyMap(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return map[string]interface{}{}
	}
	return m
}

func orEmptyViolations(v []types.Violation) []types.Violation {
	if v == nil {
		return []types.Violation{}
	}
	return v
}

func orEmptyStrings(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
