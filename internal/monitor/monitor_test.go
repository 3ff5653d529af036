package monitor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/compwatch/compwatch/internal/correction"
	"github.com/compwatch/compwatch/internal/emergency"
	"github.com/compwatch/compwatch/internal/events"
	"github.com/compwatch/compwatch/internal/scorer"
	"github.com/compwatch/compwatch/internal/types"
	"github.com/compwatch/compwatch/internal/validator"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// memoryStore is an in-memory Storage for scheduler tests.
type memoryStore struct {
	mu          sync.Mutex
	sessions    map[string]*types.Session
	results     []*types.CategoryResult
	metrics     []*types.ComplianceMetrics
	corrections []*types.CorrectionRecord

	pingErr         error
	integrityErr    error
	storeMetricsErr error
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
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *session
	s.sessions[session.ID] = &copied
	return nil
}

func (s *memoryStore) GetSession(ctx context.Context, sessionID string) (*types.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[sessionID]
	if !ok {
		return nil, errors.New("not found")
	}
	copied := *session
	return &copied, nil
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
	results := s.results
	if len(results) > limit {
		results = results[len(results)-limit:]
	}
	return append([]*types.CategoryResult(nil), results...), nil
}

func (s *memoryStore) StoreMetrics(ctx context.Context, sessionID string, metrics *types.ComplianceMetrics) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.storeMetricsErr != nil {
		return s.storeMetricsErr
	}
	s.metrics = append(s.metrics, metrics)
	return nil
}

func (s *memoryStore) GetLatestMetrics(ctx context.Context, sessionID string) (*types.ComplianceMetrics, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.metrics) == 0 {
		return nil, errors.New("not found")
	}
	return s.metrics[len(s.metrics)-1], nil
}

func (s *memoryStore) StoreCorrection(ctx context.Context, sessionID string, record *types.CorrectionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.corrections = append(s.corrections, record)
	return nil
}

func (s *memoryStore) GetCorrections(ctx context.Context, sessionID string) ([]*types.CorrectionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*types.CorrectionRecord(nil), s.corrections...), nil
}

func (s *memoryStore) Ping(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pingErr
}

func (s *memoryStore) CheckIntegrity(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.integrityErr
}

func (s *memoryStore) Close() error { return nil }

func (s *memoryStore) metricsCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.metrics)
}

// stubValidator returns a fixed result for its category.
type stubValidator struct {
	category types.Category
	result   *types.CategoryResult
}

func (v *stubValidator) Category() types.Category { return v.category }
func (v *stubValidator) Evaluate(ctx context.Context, target *validator.Target) (*types.CategoryResult, error) {
	return v.result, nil
}

// noopRemediator always succeeds.
type noopRemediator struct{}

func (noopRemediator) Remediate(ctx context.Context, v types.Violation) (string, error) {
	return "noop fix", nil
}

// hangingValidator blocks until its per-category deadline expires.
type hangingValidator struct {
	category types.Category
}

func (v *hangingValidator) Category() types.Category { return v.category }
func (v *hangingValidator) Evaluate(ctx context.Context, target *validator.Target) (*types.CategoryResult, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

// phaseValidator is clean on its first call and reports an automatically
// correctable violation on every later one.
type phaseValidator struct {
	category types.Category
	mu       sync.Mutex
	calls    int
}

func (v *phaseValidator) Category() types.Category { return v.category }
func (v *phaseValidator) Evaluate(ctx context.Context, target *validator.Target) (*types.CategoryResult, error) {
	v.mu.Lock()
	v.calls++
	first := v.calls == 1
	v.mu.Unlock()

	result := cleanResult(v.category, 100)
	if !first {
		result = cleanResult(v.category, 80)
		result.Violations = []types.Violation{{
			ID:             "v-phase",
			Category:       v.category,
			Severity:       types.SeverityWarning,
			Description:    "missing directory: logs",
			CorrectionType: types.CorrectionAutomatic,
		}}
	}
	return result, nil
}

// blockingRemediator signals when remediation starts, then waits for
// cancellation.
type blockingRemediator struct {
	started chan struct{}
	once    sync.Once
}

func (r *blockingRemediator) Remediate(ctx context.Context, v types.Violation) (string, error) {
	r.once.Do(func() { close(r.started) })
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case <-time.After(10 * time.Second):
		return "slept", nil
	}
}

func cleanResult(category types.Category, score float64) *types.CategoryResult {
	return &types.CategoryResult{
		Category:     category,
		Score:        score,
		Level:        types.LevelForScore(score),
		Details:      map[string]interface{}{},
		Timestamp:    time.Now(),
		ValidationID: "val-" + string(category),
	}
}

func buildTestMonitor(t *testing.T, store *memoryStore, validators []validator.Validator, remediator correction.Remediator, cfg types.SessionConfig) *Monitor {
	t.Helper()

	runner, err := validator.NewRunner(validators, cfg.EffectiveValidatorTimeout())
	require.NoError(t, err)

	corrector, err := correction.NewEngine(remediator, store, nil, zap.NewNop(), true,
		correction.WithRateLimit(rate.Inf, 1))
	require.NoError(t, err)

	m, err := New(cfg, Deps{
		Store:      store,
		Runner:     runner,
		Scorer:     scorer.New(),
		Corrector:  corrector,
		Supervisor: emergency.NewSupervisor(store, nil, zap.NewNop()),
		Log:        zap.NewNop(),
		Target:     &validator.Target{WorkspacePath: cfg.WorkspacePath, Store: store},
	})
	require.NoError(t, err)
	return m
}

func newTestMonitor(t *testing.T, store *memoryStore, scores map[types.Category]float64) *Monitor {
	t.Helper()

	var validators []validator.Validator
	for _, c := range types.AllCategories() {
		score, ok := scores[c]
		if !ok {
			score = 100
		}
		validators = append(validators, &stubValidator{category: c, result: cleanResult(c, score)})
	}

	cfg := types.DefaultSessionConfig()
	cfg.MonitoringInterval = 10 * time.Millisecond
	cfg.ValidatorTimeout = time.Second
	cfg.WorkspacePath = t.TempDir()

	return buildTestMonitor(t, store, validators, noopRemediator{}, cfg)
}

// startSession puts the monitor into ACTIVE without launching the loop,
// so tests can drive cycles deterministically through runCycle.
func startSession(t *testing.T, m *Monitor) {
	t.Helper()
	ctx := context.Background()

	session := &types.Session{
		ID:        "test-session",
		Config:    m.cfg,
		State:     types.StateInitializing,
		StartTime: time.Now(),
	}
	require.NoError(t, m.store.CreateSession(ctx, session))
	m.mu.Lock()
	m.session = session
	m.mu.Unlock()
	require.NoError(t, m.setState(ctx, types.StateActive, ""))
}

func TestRunCyclePersistsAndReturnsToActive(t *testing.T) {
	store := newMemoryStore()
	m := newTestMonitor(t, store, map[types.Category]float64{
		types.CategorySystemHealth:  94,
		types.CategorySecurity:      99,
		types.CategoryDataIntegrity: 96,
		types.CategoryCodeQuality:   87,
		types.CategoryProcess:       92,
		types.CategoryPerformance:   89,
	})
	startSession(t, m)

	m.runCycle(context.Background())

	assert.Equal(t, types.StateActive, m.State())
	require.Equal(t, 1, store.metricsCount())

	status := m.Status()
	assert.Equal(t, 1, status.Cycle)
	assert.InDelta(t, 93.6, status.OverallScore, 0.0001)
	assert.Equal(t, types.LevelExcellent, status.Level)
}

func TestRunCycleTrendAcrossCycles(t *testing.T) {
	store := newMemoryStore()
	m := newTestMonitor(t, store, nil)
	startSession(t, m)

	m.runCycle(context.Background())
	assert.Equal(t, types.TrendStable, m.Status().Trend)

	m.runCycle(context.Background())
	assert.Equal(t, types.TrendStable, m.Status().Trend, "same score twice is stable")
	assert.Equal(t, 2, m.Status().Cycle)
}

func TestPersistenceFailureHaltsSession(t *testing.T) {
	store := newMemoryStore()
	m := newTestMonitor(t, store, nil)
	startSession(t, m)

	store.mu.Lock()
	store.storeMetricsErr = errors.New("disk full")
	store.mu.Unlock()

	m.runCycle(context.Background())

	assert.Equal(t, types.StateEmergencyHalt, m.State())
	session := m.Session()
	assert.Equal(t, types.TriggerStorageCorruption, session.HaltTrigger)
	assert.False(t, session.EndTime.IsZero())
}

func TestSupervisorFindingHaltsBeforePersist(t *testing.T) {
	store := newMemoryStore()
	m := newTestMonitor(t, store, nil)
	startSession(t, m)

	store.mu.Lock()
	store.integrityErr = errors.New("database disk image is malformed")
	store.mu.Unlock()

	m.runCycle(context.Background())

	assert.Equal(t, types.StateEmergencyHalt, m.State())
	assert.Equal(t, types.TriggerStorageCorruption, m.Session().HaltTrigger)
	assert.Equal(t, 0, store.metricsCount(), "halted cycle must not persist a snapshot")
}

func TestSuspendResumeLifecycle(t *testing.T) {
	store := newMemoryStore()
	m := newTestMonitor(t, store, nil)
	startSession(t, m)
	ctx := context.Background()

	require.NoError(t, m.Suspend(ctx))
	assert.Equal(t, types.StateSuspended, m.State())

	// Suspending twice is an invalid transition.
	require.Error(t, m.Suspend(ctx))

	require.NoError(t, m.Resume(ctx))
	assert.Equal(t, types.StateActive, m.State())

	// Resuming an active session is rejected.
	require.Error(t, m.Resume(ctx))
}

func TestHungValidatorDegradesWithoutHalting(t *testing.T) {
	store := newMemoryStore()

	var validators []validator.Validator
	for _, c := range types.AllCategories() {
		if c == types.CategorySystemHealth {
			validators = append(validators, &hangingValidator{category: c})
			continue
		}
		validators = append(validators, &stubValidator{category: c, result: cleanResult(c, 100)})
	}

	cfg := types.DefaultSessionConfig()
	cfg.MonitoringInterval = 100 * time.Millisecond
	// Zero keeps the default: the per-category timeout equals the interval,
	// so the hung check burns a full interval every cycle.
	cfg.ValidatorTimeout = 0
	cfg.CriticalErrorLimit = 1000
	cfg.WorkspacePath = t.TempDir()
	m := buildTestMonitor(t, store, validators, noopRemediator{}, cfg)
	ctx := context.Background()

	require.NoError(t, m.Start(ctx))

	deadline := time.Now().Add(5 * time.Second)
	for store.metricsCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	require.Greater(t, store.metricsCount(), 0, "expected a completed cycle despite the hung check")

	session := m.Session()
	assert.False(t, session.State.IsTerminal(), "a timed-out check must not end the session")
	assert.Empty(t, session.HaltTrigger)

	metrics := m.LatestMetrics()
	require.NotNil(t, metrics)
	assert.Zero(t, metrics.CategoryScores[types.CategorySystemHealth], "timed-out category degrades to zero")

	require.NoError(t, m.Stop(ctx))
}

func TestSuspendBeforeCycleStartSkipsCycle(t *testing.T) {
	store := newMemoryStore()
	m := newTestMonitor(t, store, nil)
	startSession(t, m)
	ctx := context.Background()

	// The loop's ACTIVE check and the cycle's first transition are not
	// atomic; a suspend can land in between. The cycle must be dropped,
	// never escalated.
	require.NoError(t, m.Suspend(ctx))
	m.runCycle(context.Background())

	assert.Equal(t, types.StateSuspended, m.State())
	assert.Empty(t, m.Session().HaltTrigger)
	assert.Equal(t, 0, store.metricsCount(), "skipped cycle must not persist")

	require.NoError(t, m.Resume(ctx))
	m.runCycle(context.Background())
	assert.Equal(t, 1, store.metricsCount(), "cycles continue after resume")
}

func TestStopDuringCorrectionFinishesCleanly(t *testing.T) {
	store := newMemoryStore()

	var validators []validator.Validator
	for _, c := range types.AllCategories() {
		if c == types.CategoryProcess {
			validators = append(validators, &phaseValidator{category: c})
			continue
		}
		validators = append(validators, &stubValidator{category: c, result: cleanResult(c, 100)})
	}
	remediator := &blockingRemediator{started: make(chan struct{})}

	cfg := types.DefaultSessionConfig()
	cfg.MonitoringInterval = 10 * time.Millisecond
	cfg.ValidatorTimeout = time.Second
	cfg.WorkspacePath = t.TempDir()
	m := buildTestMonitor(t, store, validators, remediator, cfg)

	require.NoError(t, m.Start(context.Background()))

	select {
	case <-remediator.started:
	case <-time.After(5 * time.Second):
		t.Fatal("correction never started")
	}
	assert.Equal(t, types.StateCorrecting, m.State())

	stopCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, m.Stop(stopCtx), "stop must cancel the in-flight correction")

	assert.Equal(t, types.StateCompleted, m.State())
	assert.Empty(t, m.Session().HaltTrigger)
	assert.Greater(t, store.metricsCount(), 0, "final snapshot persisted")
}

func TestStartStopFullLifecycle(t *testing.T) {
	store := newMemoryStore()
	m := newTestMonitor(t, store, nil)
	ctx := context.Background()

	require.NoError(t, m.Start(ctx))
	assert.Equal(t, types.StateActive, m.State())

	// Starting twice is rejected.
	require.Error(t, m.Start(ctx))

	// Let at least one timer-driven cycle run.
	deadline := time.Now().Add(2 * time.Second)
	for store.metricsCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	require.Greater(t, store.metricsCount(), 0, "expected at least one cycle")

	before := store.metricsCount()
	require.NoError(t, m.Stop(ctx))
	assert.Equal(t, types.StateCompleted, m.State())
	assert.False(t, m.Session().EndTime.IsZero())
	assert.Greater(t, store.metricsCount(), before, "stop writes a final snapshot")

	persisted, err := store.GetSession(ctx, m.Session().ID)
	require.NoError(t, err)
	assert.Equal(t, types.StateCompleted, persisted.State)
}

func TestStopWithoutCompletedCycle(t *testing.T) {
	store := newMemoryStore()
	m := newTestMonitor(t, store, nil)
	m.cfg.MonitoringInterval = time.Hour
	ctx := context.Background()

	require.NoError(t, m.Start(ctx))
	require.NoError(t, m.Stop(ctx))

	assert.Equal(t, types.StateCompleted, m.State())
	assert.Equal(t, 0, store.metricsCount(), "no cycle ran, nothing to snapshot")
}

func TestStartFailsFastOnUnreachableStorage(t *testing.T) {
	store := newMemoryStore()
	store.pingErr = errors.New("connection refused")
	m := newTestMonitor(t, store, nil)

	err := m.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "storage unreachable")
}

func TestStartFailsFastOnMissingWorkspace(t *testing.T) {
	store := newMemoryStore()
	m := newTestMonitor(t, store, nil)
	m.cfg.WorkspacePath = m.cfg.WorkspacePath + "/vanished"

	err := m.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "workspace unavailable")
}

func TestReportIncludesBreakdownAndCorrections(t *testing.T) {
	store := newMemoryStore()
	m := newTestMonitor(t, store, map[types.Category]float64{
		types.CategoryCodeQuality: 70,
	})
	startSession(t, m)

	m.runCycle(context.Background())

	report, err := m.Report(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "test-session", report.Status.SessionID)
	require.NotNil(t, report.Metrics)
	assert.Len(t, report.Categories, 6)
	assert.False(t, report.GeneratedAt.IsZero())
}

func TestEventsPublishedDuringCycle(t *testing.T) {
	store := newMemoryStore()
	m := newTestMonitor(t, store, nil)
	bus := events.NewBus()
	defer bus.Close()
	m.bus = bus
	startSession(t, m)

	eventCh, cancel := bus.Subscribe(64)
	defer cancel()

	m.runCycle(context.Background())

	seen := map[events.EventType]bool{}
	for done := false; !done; {
		select {
		case e := <-eventCh:
			seen[e.Type] = true
		default:
			done = true
		}
	}
	assert.True(t, seen[events.EventTypeCycleStarted])
	assert.True(t, seen[events.EventTypeCategoryCompleted])
	assert.True(t, seen[events.EventTypeMetricsPersisted])
	assert.True(t, seen[events.EventTypeCycleCompleted])
	assert.True(t, seen[events.EventTypeSessionStateChanged])
}
