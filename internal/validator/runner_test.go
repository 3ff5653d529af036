package validator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/compwatch/compwatch/internal/types"
)

// fakeValidator is a scriptable validator for runner tests.
type fakeValidator struct {
	category types.Category
	result   *types.CategoryResult
	err      error
	delay    time.Duration
	panics   bool
}

func (f *fakeValidator) Category() types.Category { return f.category }

func (f *fakeValidator) Evaluate(ctx context.Context, target *Target) (*types.CategoryResult, error) {
	if f.panics {
		panic("validator blew up")
	}
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

func okResult(category types.Category, score float64) *types.CategoryResult {
	return newResult(category, score, "ok", nil, nil)
}

func TestNewRunnerValidation(t *testing.T) {
	if _, err := NewRunner(nil, time.Second); err == nil {
		t.Error("expected error for empty validator list")
	}

	validators := []Validator{&fakeValidator{category: types.CategorySecurity}}
	if _, err := NewRunner(validators, 0); err == nil {
		t.Error("expected error for zero timeout")
	}

	dup := []Validator{
		&fakeValidator{category: types.CategorySecurity},
		&fakeValidator{category: types.CategorySecurity},
	}
	if _, err := NewRunner(dup, time.Second); err == nil {
		t.Error("expected error for duplicate category")
	}

	bad := []Validator{&fakeValidator{category: types.Category("nonsense")}}
	if _, err := NewRunner(bad, time.Second); err == nil {
		t.Error("expected error for unknown category")
	}
}

func TestRunAllCollectsEveryCategory(t *testing.T) {
	var validators []Validator
	for i, c := range types.AllCategories() {
		validators = append(validators, &fakeValidator{
			category: c,
			result:   okResult(c, float64(90+i)),
		})
	}

	runner, err := NewRunner(validators, time.Second)
	if err != nil {
		t.Fatal(err)
	}

	results := runner.RunAll(context.Background(), &Target{WorkspacePath: t.TempDir()})
	if len(results) != 6 {
		t.Fatalf("got %d results, want 6", len(results))
	}
	for _, c := range types.AllCategories() {
		if results[c] == nil {
			t.Errorf("missing result for %s", c)
		}
	}
}

func TestRunAllTimeoutDegradesToZeroScoreEscalation(t *testing.T) {
	validators := []Validator{
		&fakeValidator{category: types.CategorySecurity, result: okResult(types.CategorySecurity, 95)},
		&fakeValidator{category: types.CategoryPerformance, delay: time.Minute},
	}
	runner, err := NewRunner(validators, 50*time.Millisecond)
	if err != nil {
		t.Fatal(err)
	}

	start := time.Now()
	results := runner.RunAll(context.Background(), &Target{WorkspacePath: t.TempDir()})
	elapsed := time.Since(start)

	// The stalled check must not block the cycle beyond its own timeout.
	if elapsed > 5*time.Second {
		t.Fatalf("fan-out took %v, timeout not enforced", elapsed)
	}

	timedOut := results[types.CategoryPerformance]
	if timedOut == nil {
		t.Fatal("missing result for timed-out category")
	}
	if timedOut.Score != 0 {
		t.Errorf("timed-out score = %v, want 0", timedOut.Score)
	}
	if len(timedOut.Violations) != 1 {
		t.Fatalf("timed-out violations = %d, want exactly 1", len(timedOut.Violations))
	}
	v := timedOut.Violations[0]
	if v.Severity != types.SeverityCritical {
		t.Errorf("violation severity = %s, want critical", v.Severity)
	}
	if v.CorrectionType != types.CorrectionEscalation {
		t.Errorf("violation correction type = %s, want escalation", v.CorrectionType)
	}

	// The healthy check is unaffected.
	if results[types.CategorySecurity].Score != 95 {
		t.Errorf("healthy score = %v, want 95", results[types.CategorySecurity].Score)
	}
}

func TestRunAllContainsErrors(t *testing.T) {
	validators := []Validator{
		&fakeValidator{category: types.CategoryDataIntegrity, err: errors.New("dependency unavailable")},
	}
	runner, err := NewRunner(validators, time.Second)
	if err != nil {
		t.Fatal(err)
	}

	results := runner.RunAll(context.Background(), &Target{WorkspacePath: t.TempDir()})
	result := results[types.CategoryDataIntegrity]
	if result.Score != 0 {
		t.Errorf("failed check score = %v, want 0", result.Score)
	}
	if result.Violations[0].CorrectionType != types.CorrectionEscalation {
		t.Errorf("correction type = %s, want escalation", result.Violations[0].CorrectionType)
	}
	if result.CorrectionTypeHint != types.CorrectionEscalation {
		t.Errorf("correction hint = %s, want escalation", result.CorrectionTypeHint)
	}
}

func TestRunAllContainsPanics(t *testing.T) {
	validators := []Validator{
		&fakeValidator{category: types.CategoryCodeQuality, panics: true},
	}
	runner, err := NewRunner(validators, time.Second)
	if err != nil {
		t.Fatal(err)
	}

	results := runner.RunAll(context.Background(), &Target{WorkspacePath: t.TempDir()})
	result := results[types.CategoryCodeQuality]
	if result == nil {
		t.Fatal("missing result for panicking validator")
	}
	if result.Score != 0 {
		t.Errorf("panicking check score = %v, want 0", result.Score)
	}
}

func TestRunAllNilResultIsFailure(t *testing.T) {
	validators := []Validator{
		&fakeValidator{category: types.CategoryProcess},
	}
	runner, err := NewRunner(validators, time.Second)
	if err != nil {
		t.Fatal(err)
	}

	results := runner.RunAll(context.Background(), &Target{WorkspacePath: t.TempDir()})
	if results[types.CategoryProcess].Score != 0 {
		t.Error("nil validator result should degrade to a zero score")
	}
}
