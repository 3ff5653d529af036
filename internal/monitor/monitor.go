// Package monitor implements the monitoring session scheduler. It owns
// the session lifecycle, drives the cycle pipeline (validate, score,
// correct, supervise, persist), and is the single writer of session
// state. Every other component is a collaborator it coordinates.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/compwatch/compwatch/internal/correction"
	"github.com/compwatch/compwatch/internal/emergency"
	"github.com/compwatch/compwatch/internal/events"
	"github.com/compwatch/compwatch/internal/scorer"
	"github.com/compwatch/compwatch/internal/storage"
	"github.com/compwatch/compwatch/internal/types"
	"github.com/compwatch/compwatch/internal/validator"
)

// Deps are the collaborators a Monitor coordinates. All fields except
// Bus and Log are required.
type Deps struct {
	Store      storage.Storage
	Runner     *validator.Runner
	Scorer     *scorer.Scorer
	Corrector  *correction.Engine
	Supervisor *emergency.Supervisor
	Bus        *events.Bus
	Log        *zap.Logger
	Target     *validator.Target
}

// Monitor is one monitoring session's scheduler.
//
// State discipline: session state is mutated only through setState,
// which validates the transition, persists it, and publishes the
// change. Reads go through snapshot accessors that copy.
type Monitor struct {
	store      storage.Storage
	runner     *validator.Runner
	scorer     *scorer.Scorer
	corrector  *correction.Engine
	supervisor *emergency.Supervisor
	bus        *events.Bus
	log        *zap.Logger
	target     *validator.Target
	cfg        types.SessionConfig
	clock      func() time.Time

	mu      sync.RWMutex
	session *types.Session
	latest  *types.ComplianceMetrics
	cycle   int

	stopCh     chan struct{}
	doneCh     chan struct{}
	stopOnce   sync.Once
	started    bool
	loopCtx    context.Context
	loopCancel context.CancelFunc
}

// New creates a monitor for one session. Config must already be
// validated by the caller; New validates it again as a cheap invariant.
func New(cfg types.SessionConfig, deps Deps) (*Monitor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("monitor config: %w", err)
	}
	if deps.Store == nil {
		return nil, fmt.Errorf("monitor: storage is required")
	}
	if deps.Runner == nil {
		return nil, fmt.Errorf("monitor: validator runner is required")
	}
	if deps.Scorer == nil {
		return nil, fmt.Errorf("monitor: scorer is required")
	}
	if deps.Corrector == nil {
		return nil, fmt.Errorf("monitor: correction engine is required")
	}
	if deps.Supervisor == nil {
		return nil, fmt.Errorf("monitor: emergency supervisor is required")
	}
	if deps.Target == nil {
		return nil, fmt.Errorf("monitor: validation target is required")
	}
	log := deps.Log
	if log == nil {
		log = zap.NewNop()
	}
	loopCtx, loopCancel := context.WithCancel(context.Background())
	return &Monitor{
		store:      deps.Store,
		runner:     deps.Runner,
		scorer:     deps.Scorer,
		corrector:  deps.Corrector,
		supervisor: deps.Supervisor,
		bus:        deps.Bus,
		log:        log,
		target:     deps.Target,
		cfg:        cfg,
		clock:      time.Now,
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
		loopCtx:    loopCtx,
		loopCancel: loopCancel,
	}, nil
}

// Start validates the environment, creates the session, and launches
// the cycle loop. It fails fast when storage is unreachable or the
// workspace does not exist; a session that cannot observe its target
// must not start.
func (m *Monitor) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return fmt.Errorf("monitor already started")
	}
	m.started = true
	m.mu.Unlock()

	if info, err := os.Stat(m.cfg.WorkspacePath); err != nil {
		return fmt.Errorf("workspace unavailable: %w", err)
	} else if !info.IsDir() {
		return fmt.Errorf("workspace path is not a directory: %s", m.cfg.WorkspacePath)
	}
	if err := m.store.Ping(ctx); err != nil {
		return fmt.Errorf("storage unreachable: %w", err)
	}

	session := &types.Session{
		ID:        uuid.New().String(),
		Config:    m.cfg,
		State:     types.StateInitializing,
		StartTime: m.clock(),
	}
	if err := m.store.CreateSession(ctx, session); err != nil {
		return fmt.Errorf("create session: %w", err)
	}

	m.mu.Lock()
	m.session = session
	m.mu.Unlock()

	if err := m.setState(ctx, types.StateActive, ""); err != nil {
		return err
	}
	m.publish(events.NewMonitorEvent(events.EventTypeSessionStarted, session.ID,
		events.SeverityInfo, "monitoring session started"))
	m.log.Info("monitoring session started",
		zap.String("session_id", session.ID),
		zap.Duration("interval", m.cfg.MonitoringInterval),
		zap.String("workspace", m.cfg.WorkspacePath))

	go m.runLoop()
	return nil
}

// runLoop drives cycles at the configured interval until the session
// reaches a terminal state or Stop is called. A panic anywhere in the
// pipeline halts the session rather than leaving a zombie loop.
func (m *Monitor) runLoop() {
	defer close(m.doneCh)
	defer func() {
		if rec := recover(); rec != nil {
			m.log.Error("monitoring loop panic", zap.Any("panic", rec))
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			m.halt(ctx, &emergency.Finding{
				Trigger: types.TriggerWorkspaceIntegrity,
				Detail:  fmt.Sprintf("monitoring loop panic: %v", rec),
			})
		}
	}()

	timer := time.NewTimer(m.cfg.MonitoringInterval)
	defer timer.Stop()

	for {
		select {
		case <-m.stopCh:
			return
		case <-timer.C:
			if m.State().IsTerminal() {
				return
			}
			if m.State() == types.StateActive {
				m.runCycle(m.loopCtx)
			}
			if m.State().IsTerminal() {
				return
			}
			timer.Reset(m.cfg.MonitoringInterval)
		}
	}
}

// runCycle executes one full monitoring cycle. The pipeline order is
// fixed: validate, score, correct, supervise, persist. Emergency
// conditions are evaluated only here, at the cycle boundary.
func (m *Monitor) runCycle(parent context.Context) {
	// Validators may burn a full per-category timeout each, so the
	// budget adds the cycle interval on top for correction, supervision,
	// and persistence. Deriving from the loop context keeps Stop able to
	// abort in-flight work promptly.
	ctx, cancel := context.WithTimeout(parent, m.cfg.EffectiveValidatorTimeout()+m.cfg.MonitoringInterval)
	defer cancel()

	cycleStart := m.clock()

	if err := m.setState(ctx, types.StateValidating, ""); err != nil {
		if errors.Is(err, errTransition) {
			// A suspend or stop landed between the loop's ACTIVE check
			// and here. Skip the cycle; the session keeps running.
			m.log.Debug("cycle skipped", zap.Error(err))
			return
		}
		m.persistFailure(ctx, err)
		return
	}

	m.mu.Lock()
	m.cycle++
	cycle := m.cycle
	previous := m.latest
	m.mu.Unlock()

	session := m.Session()
	m.publish(events.NewMonitorEvent(events.EventTypeCycleStarted, session.ID,
		events.SeverityInfo, fmt.Sprintf("cycle %d started", cycle)))

	results := m.runner.RunAll(ctx, m.target)
	for _, category := range types.AllCategories() {
		result := results[category]
		if result == nil {
			continue
		}
		m.publish(events.NewCategoryCompletedEvent(session.ID,
			fmt.Sprintf("%s check completed", category),
			events.CategoryCompletedData{
				Category:       category,
				Score:          result.Score,
				ViolationCount: len(result.Violations),
				TimedOut:       resultTimedOut(result),
			}))
	}

	metrics := m.scorer.Aggregate(results, previous, m.clock().Sub(session.StartTime))

	correctionsAttempted := 0
	if violationCount(results) > 0 {
		if err := m.setState(ctx, types.StateCorrecting, ""); err != nil {
			m.persistFailure(ctx, err)
			return
		}
		records, err := m.corrector.ProcessResults(ctx, session.ID, results)
		if err != nil {
			m.log.Error("correction pass failed", zap.Error(err))
			m.persistFailure(ctx, err)
			return
		}
		correctionsAttempted = len(records)
	}

	// Supervision sees the session as it is now plus the fresh metrics.
	finding, err := m.supervisor.Check(ctx, m.Session(), metrics)
	if err != nil {
		m.log.Warn("emergency check aborted", zap.Error(err))
	}
	if finding != nil {
		m.halt(ctx, finding)
		return
	}

	for _, category := range types.AllCategories() {
		if result := results[category]; result != nil {
			if err := m.store.StoreCategoryResult(ctx, session.ID, result); err != nil {
				m.persistFailure(ctx, fmt.Errorf("persist category result: %w", err))
				return
			}
		}
	}
	if err := m.store.StoreMetrics(ctx, session.ID, metrics); err != nil {
		m.persistFailure(ctx, fmt.Errorf("persist metrics: %w", err))
		return
	}

	m.mu.Lock()
	m.latest = metrics
	m.mu.Unlock()

	if err := m.setState(ctx, types.StateActive, ""); err != nil {
		m.persistFailure(ctx, err)
		return
	}

	m.publish(events.NewMonitorEvent(events.EventTypeMetricsPersisted, session.ID,
		events.SeverityInfo, fmt.Sprintf("cycle %d snapshot persisted", cycle)))
	m.publish(events.NewCycleCompletedEvent(session.ID,
		fmt.Sprintf("cycle %d completed: score %.1f", cycle, metrics.OverallScore),
		events.CycleCompletedData{
			Cycle:                cycle,
			OverallScore:         metrics.OverallScore,
			ComplianceLevel:      metrics.ComplianceLevel,
			ViolationCount:       violationCount(results),
			CorrectionsAttempted: correctionsAttempted,
			Duration:             m.clock().Sub(cycleStart),
		}))
	m.log.Info("cycle completed",
		zap.Int("cycle", cycle),
		zap.Float64("score", metrics.OverallScore),
		zap.String("level", string(metrics.ComplianceLevel)),
		zap.Int("violations", violationCount(results)))
}

// Stop ends the session cleanly. The in-flight cycle is cancelled, the
// loop drains, a final snapshot is persisted, and the session row is
// finalized as COMPLETED. Stopping a session that already halted is not
// an error.
func (m *Monitor) Stop(ctx context.Context) error {
	m.stopOnce.Do(func() {
		close(m.stopCh)
		m.loopCancel()
	})

	select {
	case <-m.doneCh:
	case <-ctx.Done():
		return fmt.Errorf("waiting for cycle loop: %w", ctx.Err())
	}

	if m.State().IsTerminal() {
		return nil
	}

	// A cancelled mid-pipeline cycle can leave the session in VALIDATING
	// or CORRECTING; settle back to ACTIVE so COMPLETED stays a legal
	// transition. The loop has exited, so this is the only writer.
	if state := m.State(); state == types.StateValidating || state == types.StateCorrecting {
		if err := m.setState(ctx, types.StateActive, ""); err != nil {
			return err
		}
	}

	// Final snapshot: the persisted record always reflects the session's
	// last completed cycle, stamped with the full session duration.
	m.mu.Lock()
	var final *types.ComplianceMetrics
	if m.latest != nil {
		snapshot := *m.latest
		snapshot.MonitoringDuration = m.clock().Sub(m.session.StartTime)
		snapshot.Timestamp = m.clock()
		final = &snapshot
	}
	sessionID := m.session.ID
	m.mu.Unlock()
	if final != nil {
		if err := m.store.StoreMetrics(ctx, sessionID, final); err != nil {
			return fmt.Errorf("persist final snapshot: %w", err)
		}
	}

	if err := m.setState(ctx, types.StateCompleted, ""); err != nil {
		return err
	}

	m.mu.Lock()
	m.session.EndTime = m.clock()
	session := *m.session
	m.mu.Unlock()

	if err := m.store.FinalizeSession(ctx, &session); err != nil {
		return fmt.Errorf("finalize session: %w", err)
	}
	m.log.Info("monitoring session completed", zap.String("session_id", session.ID))
	return nil
}

// Suspend pauses cycles without ending the session.
func (m *Monitor) Suspend(ctx context.Context) error {
	return m.setState(ctx, types.StateSuspended, "")
}

// Resume continues a suspended session.
func (m *Monitor) Resume(ctx context.Context) error {
	m.mu.RLock()
	state := m.session.State
	m.mu.RUnlock()
	if state != types.StateSuspended {
		return fmt.Errorf("cannot resume from %s", state)
	}
	return m.setState(ctx, types.StateActive, "")
}

// halt performs an emergency halt: terminal state, best-effort final
// snapshot, finalized session, critical event. Halting is unconditional;
// it ignores score and configuration thresholds by design of the
// trigger set. Writes use a fresh context because the cycle context that
// carried the finding may itself be the thing that failed.
func (m *Monitor) halt(_ context.Context, finding *emergency.Finding) {
	m.log.Error("emergency halt",
		zap.String("trigger", string(finding.Trigger)),
		zap.String("detail", finding.Detail))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := m.setState(ctx, types.StateEmergencyHalt, finding.Trigger); err != nil {
		m.log.Error("failed to persist emergency halt", zap.Error(err))
	}

	m.mu.Lock()
	m.session.EndTime = m.clock()
	m.session.HaltTrigger = finding.Trigger
	session := *m.session
	latest := m.latest
	m.mu.Unlock()

	if latest != nil {
		snapshot := *latest
		snapshot.MonitoringDuration = session.EndTime.Sub(session.StartTime)
		snapshot.Timestamp = session.EndTime
		if err := m.store.StoreMetrics(ctx, session.ID, &snapshot); err != nil {
			m.log.Error("failed to persist final snapshot", zap.Error(err))
		}
	}

	if err := m.store.FinalizeSession(ctx, &session); err != nil {
		m.log.Error("failed to finalize halted session", zap.Error(err))
	}
	m.publish(events.NewTriggerFiredEvent(session.ID, "emergency halt: "+finding.Detail,
		events.TriggerFiredData{Trigger: finding.Trigger, Detail: finding.Detail}))
	m.stopOnce.Do(func() {
		close(m.stopCh)
		m.loopCancel()
	})
}

// persistFailure handles a failed write to storage mid-cycle. Monitoring
// without persistence would silently lose the audit trail, so the
// session halts as if storage were corrupt. Only genuine storage errors
// halt; errors caused by shutdown, the cycle's own deadline, or a
// rejected state transition drop the cycle and the session keeps running.
func (m *Monitor) persistFailure(ctx context.Context, err error) {
	switch {
	case errors.Is(err, errTransition):
		m.log.Warn("cycle aborted by concurrent state change", zap.Error(err))
		return
	case errors.Is(err, context.Canceled) && m.loopCtx.Err() != nil:
		m.log.Debug("cycle aborted by shutdown", zap.Error(err))
		return
	case errors.Is(err, context.DeadlineExceeded) && ctx.Err() != nil:
		m.log.Warn("cycle overran its budget", zap.Error(err))
		return
	}
	m.halt(ctx, &emergency.Finding{
		Trigger: types.TriggerStorageCorruption,
		Detail:  "persistence failure: " + err.Error(),
	})
}

// errTransition marks a lifecycle transition the state machine rejects.
// It is never a storage fault; callers drop the operation instead of
// halting.
var errTransition = errors.New("invalid session state transition")

// setState validates and applies a lifecycle transition, persists it,
// and publishes the change.
func (m *Monitor) setState(ctx context.Context, next types.SessionState, trigger types.HaltTrigger) error {
	m.mu.Lock()
	current := m.session.State
	if !current.CanTransitionTo(next) {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s -> %s", errTransition, current, next)
	}
	m.session.State = next
	sessionID := m.session.ID
	m.mu.Unlock()

	if err := m.store.UpdateSessionState(ctx, sessionID, next, trigger); err != nil {
		return fmt.Errorf("persist state %s: %w", next, err)
	}
	m.publish(events.NewStateChangedEvent(sessionID,
		fmt.Sprintf("session %s -> %s", current, next),
		events.StateChangedData{From: current, To: next}))
	m.log.Debug("session state changed",
		zap.String("from", string(current)),
		zap.String("to", string(next)))
	return nil
}

// State returns the current lifecycle state.
func (m *Monitor) State() types.SessionState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.session == nil {
		return types.StateInitializing
	}
	return m.session.State
}

// Session returns a copy of the current session.
func (m *Monitor) Session() *types.Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.session == nil {
		return nil
	}
	session := *m.session
	return &session
}

// LatestMetrics returns a copy of the most recently completed cycle's
// snapshot, or nil before the first cycle completes.
func (m *Monitor) LatestMetrics() *types.ComplianceMetrics {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.latest == nil {
		return nil
	}
	metrics := *m.latest
	return &metrics
}

// Done is closed when the cycle loop has exited.
func (m *Monitor) Done() <-chan struct{} {
	return m.doneCh
}

func (m *Monitor) publish(event *events.MonitorEvent) {
	if m.bus != nil {
		m.bus.Publish(event)
	}
}

// violationCount totals violations across one cycle's results.
func violationCount(results map[types.Category]*types.CategoryResult) int {
	total := 0
	for _, result := range results {
		if result != nil {
			total += len(result.Violations)
		}
	}
	return total
}

// resultTimedOut reports whether a degraded result came from a timeout.
func resultTimedOut(result *types.CategoryResult) bool {
	errText, ok := result.Details["error"].(string)
	return ok && strings.Contains(errText, validator.ErrValidatorTimeout.Error())
}
