// Package correction implements the remediation engine. Each cycle it
// walks the violations the validators detected, attempts the ones
// classified automatic, records guidance for the guided ones, and
// surfaces manual and escalation violations for operator attention.
package correction

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/compwatch/compwatch/internal/events"
	"github.com/compwatch/compwatch/internal/types"
)

// escalationThreshold is the number of failed automatic attempts after
// which a violation is promoted to escalation and never retried.
const escalationThreshold = 2

// defaultCorrectionRate bounds automatic remediation to one action per
// second with a small burst, so a pathological cycle cannot storm the
// workspace with fixes.
var defaultCorrectionRate = rate.Limit(1)

const defaultCorrectionBurst = 3

// Remediator performs the actual automatic fix for one violation. The
// engine decides WHETHER to attempt; the remediator decides HOW.
type Remediator interface {
	// Remediate fixes the violation and describes the action taken.
	// Returning an error means the attempt failed and may be retried.
	Remediate(ctx context.Context, violation types.Violation) (actionTaken string, err error)
}

// Sink receives append-only correction records.
type Sink interface {
	StoreCorrection(ctx context.Context, sessionID string, record *types.CorrectionRecord) error
}

// Engine coordinates remediation for one monitoring session.
//
// Concurrency: callers may process categories concurrently, but two
// corrections never run against the same category at once. The engine
// holds a per-category lock for the duration of each category's
// correction pass.
type Engine struct {
	remediator Remediator
	sink       Sink
	bus        *events.Bus
	log        *zap.Logger
	limiter    *rate.Limiter

	autoCorrection bool

	mu            sync.Mutex
	categoryLocks map[types.Category]*sync.Mutex
	// failures counts failed automatic attempts per violation signature,
	// carried across cycles. Violation IDs are fresh each detection, so
	// the signature is category plus description.
	failures map[string]int
	// escalated marks signatures already promoted, so the escalation
	// event fires once per signature.
	escalated map[string]bool
}

// Option configures an Engine.
type Option func(*Engine)

// WithRateLimit overrides the default remediation rate limit.
func WithRateLimit(limit rate.Limit, burst int) Option {
	return func(e *Engine) {
		e.limiter = rate.NewLimiter(limit, burst)
	}
}

// NewEngine creates a correction engine. When autoCorrection is false,
// automatic violations are recorded as skipped instead of attempted;
// guided, manual, and escalation handling is unaffected.
func NewEngine(remediator Remediator, sink Sink, bus *events.Bus, log *zap.Logger, autoCorrection bool, opts ...Option) (*Engine, error) {
	if remediator == nil {
		return nil, fmt.Errorf("correction: remediator is required")
	}
	if sink == nil {
		return nil, fmt.Errorf("correction: sink is required")
	}
	if log == nil {
		log = zap.NewNop()
	}
	e := &Engine{
		remediator:     remediator,
		sink:           sink,
		bus:            bus,
		log:            log,
		limiter:        rate.NewLimiter(defaultCorrectionRate, defaultCorrectionBurst),
		autoCorrection: autoCorrection,
		categoryLocks:  make(map[types.Category]*sync.Mutex),
		failures:       make(map[string]int),
		escalated:      make(map[string]bool),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// ProcessResults runs one correction pass over a cycle's category
// results. It returns the records produced, in category order. Records
// are persisted as they are produced; a sink failure aborts the pass.
func (e *Engine) ProcessResults(ctx context.Context, sessionID string, results map[types.Category]*types.CategoryResult) ([]*types.CorrectionRecord, error) {
	var records []*types.CorrectionRecord
	for _, category := range types.AllCategories() {
		result := results[category]
		if result == nil || len(result.Violations) == 0 {
			continue
		}
		categoryRecords, err := e.processCategory(ctx, sessionID, category, result)
		if err != nil {
			return records, err
		}
		records = append(records, categoryRecords...)
	}
	return records, nil
}

// processCategory handles all violations of one category under that
// category's lock.
func (e *Engine) processCategory(ctx context.Context, sessionID string, category types.Category, result *types.CategoryResult) ([]*types.CorrectionRecord, error) {
	lock := e.lockFor(category)
	lock.Lock()
	defer lock.Unlock()

	var records []*types.CorrectionRecord
	for i, violation := range result.Violations {
		if err := ctx.Err(); err != nil {
			return records, err
		}

		recommendation := ""
		if i < len(result.Recommendations) {
			recommendation = result.Recommendations[i]
		}

		record, err := e.handleViolation(ctx, sessionID, violation, recommendation)
		if err != nil {
			return records, err
		}
		if record != nil {
			records = append(records, record)
		}
	}
	return records, nil
}

// handleViolation dispatches one violation by its effective correction
// type. Manual and escalation violations produce no record, only an
// operator alert.
func (e *Engine) handleViolation(ctx context.Context, sessionID string, violation types.Violation, recommendation string) (*types.CorrectionRecord, error) {
	correctionType := e.effectiveType(sessionID, violation)

	switch correctionType {
	case types.CorrectionAutomatic:
		if !e.autoCorrection {
			record := newRecord(violation, types.CorrectionAutomatic, "automatic correction disabled by configuration", false, nil)
			return record, e.store(ctx, sessionID, record)
		}
		return e.attemptAutomatic(ctx, sessionID, violation)

	case types.CorrectionGuided:
		action := recommendation
		if action == "" {
			action = "operator guidance required: " + violation.Description
		}
		record := newRecord(violation, types.CorrectionGuided, action, false, nil)
		if err := e.store(ctx, sessionID, record); err != nil {
			return nil, err
		}
		e.publishAttempt(sessionID, violation, types.CorrectionGuided, false, action)
		return record, nil

	case types.CorrectionManual, types.CorrectionEscalation:
		e.raiseAlert(sessionID, violation, correctionType)
		return nil, nil
	}
	return nil, fmt.Errorf("correction: unknown correction type %q", violation.CorrectionType)
}

// attemptAutomatic runs the remediator once for this detection. A
// violation that failed before gets exactly one retry on its next
// detection; after the second failure it is promoted to escalation and
// never attempted again. Every attempt is recorded.
func (e *Engine) attemptAutomatic(ctx context.Context, sessionID string, violation types.Violation) (*types.CorrectionRecord, error) {
	key := signature(violation)

	if err := e.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	e.mu.Lock()
	attempt := e.failures[key] + 1
	e.mu.Unlock()

	action, remErr := e.remediator.Remediate(ctx, violation)
	success := remErr == nil
	details := map[string]interface{}{"attempt": attempt}
	if remErr != nil {
		details["error"] = remErr.Error()
		if action == "" {
			action = "automatic correction failed"
		}
	}

	record := newRecord(violation, types.CorrectionAutomatic, action, success, details)
	if err := e.store(ctx, sessionID, record); err != nil {
		return nil, err
	}
	e.publishAttempt(sessionID, violation, types.CorrectionAutomatic, success, action)

	e.mu.Lock()
	if success {
		delete(e.failures, key)
	} else {
		e.failures[key]++
	}
	e.mu.Unlock()

	if !success {
		e.log.Warn("automatic correction failed",
			zap.String("violation_id", violation.ID),
			zap.String("category", string(violation.Category)),
			zap.Int("attempt", attempt),
			zap.Error(remErr))
	}
	return record, nil
}

// effectiveType resolves the correction type, accounting for violations
// promoted to escalation after repeated automatic failures.
func (e *Engine) effectiveType(sessionID string, violation types.Violation) types.CorrectionType {
	if violation.CorrectionType != types.CorrectionAutomatic {
		return violation.CorrectionType
	}
	key := signature(violation)

	e.mu.Lock()
	promoted := e.failures[key] >= escalationThreshold
	alreadyEscalated := e.escalated[key]
	if promoted {
		e.escalated[key] = true
	}
	e.mu.Unlock()

	if !promoted {
		return types.CorrectionAutomatic
	}
	if !alreadyEscalated {
		e.log.Warn("violation promoted to escalation after repeated failures",
			zap.String("violation_id", violation.ID),
			zap.String("category", string(violation.Category)))
		e.publish(events.NewMonitorEvent(events.EventTypeViolationEscalated, sessionID,
			events.SeverityCritical, "violation promoted to escalation: "+violation.Description))
	}
	return types.CorrectionEscalation
}

// raiseAlert surfaces a violation that the engine will never attempt.
func (e *Engine) raiseAlert(sessionID string, violation types.Violation, correctionType types.CorrectionType) {
	severity := events.SeverityWarning
	if correctionType == types.CorrectionEscalation {
		severity = events.SeverityCritical
	}
	e.log.Warn("violation requires operator attention",
		zap.String("violation_id", violation.ID),
		zap.String("category", string(violation.Category)),
		zap.String("correction_type", string(correctionType)))
	e.publish(events.NewMonitorEvent(events.EventTypeAlertRaised, sessionID, severity,
		fmt.Sprintf("%s intervention required: %s", correctionType, violation.Description)))
}

func (e *Engine) publishAttempt(sessionID string, violation types.Violation, correctionType types.CorrectionType, success bool, action string) {
	e.publish(events.NewCorrectionAttemptedEvent(sessionID, "correction attempted: "+violation.Description,
		events.CorrectionAttemptedData{
			ViolationID:    violation.ID,
			Category:       violation.Category,
			CorrectionType: correctionType,
			Success:        success,
			ActionTaken:    action,
		}))
}

func (e *Engine) publish(event *events.MonitorEvent) {
	if e.bus != nil {
		e.bus.Publish(event)
	}
}

func (e *Engine) store(ctx context.Context, sessionID string, record *types.CorrectionRecord) error {
	if err := e.sink.StoreCorrection(ctx, sessionID, record); err != nil {
		return fmt.Errorf("persist correction record: %w", err)
	}
	return nil
}

func (e *Engine) lockFor(category types.Category) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	lock, ok := e.categoryLocks[category]
	if !ok {
		lock = &sync.Mutex{}
		e.categoryLocks[category] = lock
	}
	return lock
}

// signature keys failure tracking across cycles. Detection IDs are
// fresh every cycle, so the stable identity is category plus description.
func signature(v types.Violation) string {
	return string(v.Category) + "|" + v.Description
}

func newRecord(violation types.Violation, correctionType types.CorrectionType, action string, success bool, details map[string]interface{}) *types.CorrectionRecord {
	if details == nil {
		details = map[string]interface{}{}
	}
	return &types.CorrectionRecord{
		ViolationID:    violation.ID,
		CorrectionType: correctionType,
		ActionTaken:    action,
		Success:        success,
		Timestamp:      time.Now(),
		Details:        details,
	}
}
