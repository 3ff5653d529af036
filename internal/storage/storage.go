package storage

import (
	"context"

	"github.com/compwatch/compwatch/internal/storage/sqlite"
	"github.com/compwatch/compwatch/internal/types"
)

// ErrNotFound is returned when a requested session or snapshot does not exist.
var ErrNotFound = sqlite.ErrNotFound

// Storage defines the persistence contract the engine requires. The
// schema fields are fixed regardless of backend technology; the sqlite
// backend is the reference implementation.
type Storage interface {
	// Sessions
	CreateSession(ctx context.Context, session *types.Session) error
	UpdateSessionState(ctx context.Context, sessionID string, state types.SessionState, trigger types.HaltTrigger) error
	FinalizeSession(ctx context.Context, session *types.Session) error
	GetSession(ctx context.Context, sessionID string) (*types.Session, error)
	GetLatestSession(ctx context.Context) (*types.Session, error)

	// Category results (compliance_monitoring table)
	StoreCategoryResult(ctx context.Context, sessionID string, result *types.CategoryResult) error
	GetCategoryResults(ctx context.Context, sessionID string, limit int) ([]*types.CategoryResult, error)

	// Metrics snapshots (compliance_metrics table)
	StoreMetrics(ctx context.Context, sessionID string, metrics *types.ComplianceMetrics) error
	GetLatestMetrics(ctx context.Context, sessionID string) (*types.ComplianceMetrics, error)

	// Correction records (compliance_corrections table)
	StoreCorrection(ctx context.Context, sessionID string, record *types.CorrectionRecord) error
	GetCorrections(ctx context.Context, sessionID string) ([]*types.CorrectionRecord, error)

	// Health
	Ping(ctx context.Context) error
	CheckIntegrity(ctx context.Context) error

	// Lifecycle
	Close() error
}

// Config holds database configuration
type Config struct {
	// Path is the SQLite database file path
	// Default: ".compwatch/compwatch.db"
	Path string
}

// DefaultConfig returns a config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Path: ".compwatch/compwatch.db",
	}
}

// NewStorage creates a new SQLite storage backend.
func NewStorage(ctx context.Context, cfg *Config) (Storage, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.Path == "" {
		cfg.Path = ".compwatch/compwatch.db"
	}
	return sqlite.New(cfg.Path)
}
