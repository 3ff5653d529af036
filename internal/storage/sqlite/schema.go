package sqlite

const schema = `
-- Sessions table
CREATE TABLE IF NOT EXISTS sessions (
    session_id TEXT PRIMARY KEY,
    config_json TEXT NOT NULL,
    state TEXT NOT NULL DEFAULT 'INITIALIZING',
    halt_trigger TEXT NOT NULL DEFAULT '',
    start_time DATETIME NOT NULL,
    end_time DATETIME
);

CREATE INDEX IF NOT EXISTS idx_sessions_state ON sessions(state);
CREATE INDEX IF NOT EXISTS idx_sessions_start_time ON sessions(start_time);

-- Per-category check results
CREATE TABLE IF NOT EXISTS compliance_monitoring (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    monitor_id TEXT NOT NULL,
    category TEXT NOT NULL,
    score REAL NOT NULL CHECK(score >= 0 AND score <= 100),
    level TEXT NOT NULL,
    description TEXT NOT NULL DEFAULT '',
    details_json TEXT NOT NULL DEFAULT '{}',
    violations_json TEXT NOT NULL DEFAULT '[]',
    recommendations_json TEXT NOT NULL DEFAULT '[]',
    correction_type TEXT NOT NULL,
    timestamp DATETIME NOT NULL,
    validation_id TEXT NOT NULL,
    FOREIGN KEY (monitor_id) REFERENCES sessions(session_id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_monitoring_monitor ON compliance_monitoring(monitor_id);
CREATE INDEX IF NOT EXISTS idx_monitoring_category ON compliance_monitoring(category);
CREATE INDEX IF NOT EXISTS idx_monitoring_timestamp ON compliance_monitoring(timestamp);

-- Per-cycle composite snapshots
CREATE TABLE IF NOT EXISTS compliance_metrics (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    monitor_id TEXT NOT NULL,
    overall_score REAL NOT NULL CHECK(overall_score >= 0 AND overall_score <= 100),
    category_scores_json TEXT NOT NULL DEFAULT '{}',
    compliance_level TEXT NOT NULL,
    total_checks INTEGER NOT NULL DEFAULT 0,
    passed_checks INTEGER NOT NULL DEFAULT 0,
    failed_checks INTEGER NOT NULL DEFAULT 0,
    critical_violations INTEGER NOT NULL DEFAULT 0,
    monitoring_duration REAL NOT NULL DEFAULT 0,
    trend_direction TEXT NOT NULL DEFAULT 'stable',
    timestamp DATETIME NOT NULL,
    FOREIGN KEY (monitor_id) REFERENCES sessions(session_id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_metrics_monitor ON compliance_metrics(monitor_id);
CREATE INDEX IF NOT EXISTS idx_metrics_timestamp ON compliance_metrics(timestamp);

-- Remediation attempt records (append-only)
CREATE TABLE IF NOT EXISTS compliance_corrections (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    monitor_id TEXT NOT NULL,
    violation_id TEXT NOT NULL,
    correction_type TEXT NOT NULL,
    correction_action TEXT NOT NULL DEFAULT '',
    success BOOLEAN NOT NULL,
    details_json TEXT NOT NULL DEFAULT '{}',
    timestamp DATETIME NOT NULL,
    FOREIGN KEY (monitor_id) REFERENCES sessions(session_id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_corrections_monitor ON compliance_corrections(monitor_id);
CREATE INDEX IF NOT EXISTS idx_corrections_violation ON compliance_corrections(violation_id);
`
