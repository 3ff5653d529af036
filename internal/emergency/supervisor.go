// Package emergency implements the halt supervisor. It evaluates the
// five unconditional halt conditions at cycle boundaries; a fired
// trigger ends the session regardless of score or configuration
// thresholds. The supervisor only detects, the scheduler performs the
// actual halt.
package emergency

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/compwatch/compwatch/internal/types"
)

// recursionDepthLimit is how deep a chain of forbidden directories may
// nest before it counts as a recursive structure. A single backup
// directory is a compliance violation; a backup inside a backup is a
// runaway process writing into its own output.
const recursionDepthLimit = 2

// Finding describes one fired trigger.
type Finding struct {
	Trigger types.HaltTrigger
	Detail  string
}

// IntegrityProber is the storage slice the supervisor needs.
type IntegrityProber interface {
	CheckIntegrity(ctx context.Context) error
}

// Supervisor checks the halt conditions against a session. It holds no
// mutable state; every check reads the world fresh.
type Supervisor struct {
	store     IntegrityProber
	log       *zap.Logger
	forbidden func(name string) bool
	clock     func() time.Time
}

// Option configures a Supervisor.
type Option func(*Supervisor)

// WithClock overrides the time source, for tests.
func WithClock(clock func() time.Time) Option {
	return func(s *Supervisor) { s.clock = clock }
}

// NewSupervisor creates the halt supervisor. The forbidden predicate
// identifies self-referential workspace artifacts by name.
func NewSupervisor(store IntegrityProber, forbidden func(name string) bool, log *zap.Logger, opts ...Option) *Supervisor {
	if forbidden == nil {
		forbidden = func(string) bool { return false }
	}
	if log == nil {
		log = zap.NewNop()
	}
	s := &Supervisor{
		store:     store,
		log:       log,
		forbidden: forbidden,
		clock:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Check evaluates all halt conditions in fixed order and returns the
// first finding, or nil when none fired. A disabled supervisor
// (emergency_halt_enabled false) never fires; that is the operator's
// explicit override.
func (s *Supervisor) Check(ctx context.Context, session *types.Session, metrics *types.ComplianceMetrics) (*Finding, error) {
	if session == nil {
		return nil, fmt.Errorf("emergency: session is required")
	}
	if !session.Config.EmergencyHaltEnabled {
		return nil, nil
	}

	checks := []func(context.Context, *types.Session, *types.ComplianceMetrics) *Finding{
		s.checkRecursiveStructure,
		s.checkStorageCorruption,
		s.checkWorkspaceIntegrity,
		s.checkSessionTimeout,
		s.checkCriticalErrorThreshold,
	}
	for _, check := range checks {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if finding := check(ctx, session, metrics); finding != nil {
			s.log.Error("emergency halt trigger fired",
				zap.String("trigger", string(finding.Trigger)),
				zap.String("detail", finding.Detail))
			return finding, nil
		}
	}
	return nil, nil
}

// checkRecursiveStructure walks the workspace looking for forbidden
// directories nested inside forbidden directories.
func (s *Supervisor) checkRecursiveStructure(ctx context.Context, session *types.Session, _ *types.ComplianceMetrics) *Finding {
	root := session.Config.WorkspacePath
	var found *Finding

	filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if !d.IsDir() || path == root {
			return nil
		}
		rel, relErr := filepath.Rel(root, path)
		if relErr != nil {
			return nil
		}
		if s.forbiddenDepth(rel) >= recursionDepthLimit {
			found = &Finding{
				Trigger: types.TriggerRecursiveStructure,
				Detail:  "nested forbidden directory: " + rel,
			}
			return filepath.SkipAll
		}
		return nil
	})
	return found
}

// forbiddenDepth counts how many path elements match the forbidden
// predicate.
func (s *Supervisor) forbiddenDepth(rel string) int {
	depth := 0
	for _, element := range strings.Split(rel, string(filepath.Separator)) {
		if s.forbidden(element) {
			depth++
		}
	}
	return depth
}

func (s *Supervisor) checkStorageCorruption(ctx context.Context, _ *types.Session, _ *types.ComplianceMetrics) *Finding {
	if s.store == nil {
		return nil
	}
	if err := s.store.CheckIntegrity(ctx); err != nil {
		return &Finding{
			Trigger: types.TriggerStorageCorruption,
			Detail:  "storage integrity check failed: " + err.Error(),
		}
	}
	return nil
}

// checkWorkspaceIntegrity verifies the workspace root still exists and
// is a readable directory. A vanished or unreadable workspace means the
// monitored target is gone; continuing would validate nothing.
func (s *Supervisor) checkWorkspaceIntegrity(ctx context.Context, session *types.Session, _ *types.ComplianceMetrics) *Finding {
	root := session.Config.WorkspacePath
	info, err := os.Stat(root)
	if err != nil {
		return &Finding{
			Trigger: types.TriggerWorkspaceIntegrity,
			Detail:  "workspace unavailable: " + err.Error(),
		}
	}
	if !info.IsDir() {
		return &Finding{
			Trigger: types.TriggerWorkspaceIntegrity,
			Detail:  "workspace path is not a directory: " + root,
		}
	}
	if _, err := os.ReadDir(root); err != nil {
		return &Finding{
			Trigger: types.TriggerWorkspaceIntegrity,
			Detail:  "workspace unreadable: " + err.Error(),
		}
	}
	return nil
}

func (s *Supervisor) checkSessionTimeout(_ context.Context, session *types.Session, _ *types.ComplianceMetrics) *Finding {
	elapsed := s.clock().Sub(session.StartTime)
	if elapsed > session.Config.SessionTimeout {
		return &Finding{
			Trigger: types.TriggerSessionTimeout,
			Detail:  fmt.Sprintf("session running %v, limit %v", elapsed.Round(time.Second), session.Config.SessionTimeout),
		}
	}
	return nil
}

// checkCriticalErrorThreshold fires when accumulated critical violations
// EXCEED the limit. At exactly the limit monitoring continues.
func (s *Supervisor) checkCriticalErrorThreshold(_ context.Context, session *types.Session, metrics *types.ComplianceMetrics) *Finding {
	if metrics == nil {
		return nil
	}
	if metrics.CriticalViolations > session.Config.CriticalErrorLimit {
		return &Finding{
			Trigger: types.TriggerCriticalErrorThreshold,
			Detail: fmt.Sprintf("%d critical violations accumulated, limit %d",
				metrics.CriticalViolations, session.Config.CriticalErrorLimit),
		}
	}
	return nil
}
