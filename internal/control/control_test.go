package control

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/compwatch/compwatch/internal/correction"
	"github.com/compwatch/compwatch/internal/emergency"
	"github.com/compwatch/compwatch/internal/monitor"
	"github.com/compwatch/compwatch/internal/scorer"
	"github.com/compwatch/compwatch/internal/types"
	"github.com/compwatch/compwatch/internal/validator"
)

// memoryStore is a minimal in-memory Storage for control tests.
type memoryStore struct {
	mu       sync.Mutex
	sessions map[string]*types.Session
	metrics  []*types.ComplianceMetrics
	results  []*types.CategoryResult
}

func newMemoryStore() *memoryStore {
	return &memoryStore{sessions: make(map[string]*types.Session)}
}

func (s *memoryStore) CreateSession(ctx context.Context, session *types.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *session
	s.sessions[session.ID] = &copied
	return nil
}

func (s *memoryStore) UpdateSessionState(ctx context.Context, sessionID string, state types.SessionState, trigger types.HaltTrigger) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if session, ok := s.sessions[sessionID]; ok {
		session.State = state
		session.HaltTrigger = trigger
	}
	return nil
}

func (s *memoryStore) FinalizeSession(ctx context.Context, session *types.Session) error {
	return s.CreateSession(ctx, session)
}

func (s *memoryStore) GetSession(ctx context.Context, sessionID string) (*types.Session, error) {
	return nil, errors.New("not found")
}

func (s *memoryStore) GetLatestSession(ctx context.Context) (*types.Session, error) {
	return nil, errors.New("not found")
}

func (s *memoryStore) StoreCategoryResult(ctx context.Context, sessionID string, result *types.CategoryResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results = append(s.results, result)
	return nil
}

func (s *memoryStore) GetCategoryResults(ctx context.Context, sessionID string, limit int) ([]*types.CategoryResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*types.CategoryResult(nil), s.results...), nil
}

func (s *memoryStore) StoreMetrics(ctx context.Context, sessionID string, metrics *types.ComplianceMetrics) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metrics = append(s.metrics, metrics)
	return nil
}

func (s *memoryStore) GetLatestMetrics(ctx context.Context, sessionID string) (*types.ComplianceMetrics, error) {
	return nil, errors.New("not found")
}

func (s *memoryStore) StoreCorrection(ctx context.Context, sessionID string, record *types.CorrectionRecord) error {
	return nil
}

func (s *memoryStore) GetCorrections(ctx context.Context, sessionID string) ([]*types.CorrectionRecord, error) {
	return nil, nil
}

func (s *memoryStore) Ping(ctx context.Context) error           { return nil }
func (s *memoryStore) CheckIntegrity(ctx context.Context) error { return nil }
func (s *memoryStore) Close() error                             { return nil }

type stubValidator struct {
	category types.Category
}

func (v *stubValidator) Category() types.Category { return v.category }
func (v *stubValidator) Evaluate(ctx context.Context, target *validator.Target) (*types.CategoryResult, error) {
	return &types.CategoryResult{
		Category:     v.category,
		Score:        100,
		Level:        types.LevelExcellent,
		Details:      map[string]interface{}{},
		Timestamp:    time.Now(),
		ValidationID: "val",
	}, nil
}

type noopRemediator struct{}

func (noopRemediator) Remediate(ctx context.Context, v types.Violation) (string, error) {
	return "noop", nil
}

func startTestServer(t *testing.T, interval time.Duration) (*Server, string) {
	t.Helper()

	var validators []validator.Validator
	for _, c := range types.AllCategories() {
		validators = append(validators, &stubValidator{category: c})
	}
	runner, err := validator.NewRunner(validators, time.Second)
	require.NoError(t, err)

	store := newMemoryStore()
	corrector, err := correction.NewEngine(noopRemediator{}, store, nil, zap.NewNop(), true,
		correction.WithRateLimit(rate.Inf, 1))
	require.NoError(t, err)

	cfg := types.DefaultSessionConfig()
	cfg.MonitoringInterval = interval
	cfg.ValidatorTimeout = time.Second
	cfg.WorkspacePath = t.TempDir()

	m, err := monitor.New(cfg, monitor.Deps{
		Store:      store,
		Runner:     runner,
		Scorer:     scorer.New(),
		Corrector:  corrector,
		Supervisor: emergency.NewSupervisor(store, nil, zap.NewNop()),
		Log:        zap.NewNop(),
		Target:     &validator.Target{WorkspacePath: cfg.WorkspacePath, Store: store},
	})
	require.NoError(t, err)
	require.NoError(t, m.Start(context.Background()))
	t.Cleanup(func() { m.Stop(context.Background()) })

	socketPath := filepath.Join(t.TempDir(), "control.sock")
	server := NewServer(socketPath, m, zap.NewNop())
	require.NoError(t, server.Start())
	t.Cleanup(func() { server.Close() })

	return server, socketPath
}

func TestStatusCommand(t *testing.T) {
	_, socketPath := startTestServer(t, time.Hour)
	client := NewClient(socketPath)

	resp, err := client.Send(CommandStatus)
	require.NoError(t, err)
	assert.True(t, resp.OK)
	require.NotNil(t, resp.Status)
	assert.Equal(t, types.StateActive, resp.Status.State)
	assert.NotEmpty(t, resp.Status.SessionID)
}

func TestSuspendResumeCommands(t *testing.T) {
	_, socketPath := startTestServer(t, time.Hour)
	client := NewClient(socketPath)

	resp, err := client.Send(CommandSuspend)
	require.NoError(t, err)
	assert.Equal(t, types.StateSuspended, resp.Status.State)

	// Suspending a suspended session reports the error over the wire.
	_, err = client.Send(CommandSuspend)
	require.Error(t, err)

	resp, err = client.Send(CommandResume)
	require.NoError(t, err)
	assert.Equal(t, types.StateActive, resp.Status.State)
}

func TestStopCommand(t *testing.T) {
	_, socketPath := startTestServer(t, time.Hour)
	client := NewClient(socketPath)

	resp, err := client.Send(CommandStop)
	require.NoError(t, err)
	require.NotNil(t, resp.Status)
	assert.Equal(t, types.StateCompleted, resp.Status.State)
}

func TestStopCommandReturnsFinalMetrics(t *testing.T) {
	_, socketPath := startTestServer(t, 10*time.Millisecond)
	client := NewClient(socketPath)

	// Wait for at least one completed cycle so a snapshot exists.
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		resp, err := client.Send(CommandStatus)
		require.NoError(t, err)
		if resp.Status.Cycle > 0 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	resp, err := client.Send(CommandStop)
	require.NoError(t, err)
	assert.Equal(t, types.StateCompleted, resp.Status.State)
	require.NotNil(t, resp.Metrics, "stop must carry the final metrics snapshot")
	assert.Equal(t, 100.0, resp.Metrics.OverallScore)
	assert.Equal(t, types.LevelExcellent, resp.Metrics.ComplianceLevel)
	assert.Len(t, resp.Metrics.CategoryScores, 6)
}

func TestReportCommand(t *testing.T) {
	_, socketPath := startTestServer(t, time.Hour)
	client := NewClient(socketPath)

	resp, err := client.Send(CommandReport)
	require.NoError(t, err)
	require.NotNil(t, resp.Report)
	assert.NotEmpty(t, resp.Report.Status.SessionID)
}

func TestUnknownCommand(t *testing.T) {
	_, socketPath := startTestServer(t, time.Hour)
	client := NewClient(socketPath)

	_, err := client.Send("reboot")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown command")
}

func TestClientWithoutServer(t *testing.T) {
	client := NewClient(filepath.Join(t.TempDir(), "absent.sock"))
	client.SetTimeout(100 * time.Millisecond)
	_, err := client.Send(CommandStatus)
	require.Error(t, err)
}
