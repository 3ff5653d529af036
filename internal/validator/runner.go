package validator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/compwatch/compwatch/internal/types"
)

// ErrValidatorTimeout marks a category check that exceeded its per-category
// timeout. The runner converts it to data (a zero-score result); it never
// crosses the validator boundary as an error.
var ErrValidatorTimeout = errors.New("validator timeout")

// maxConcurrentChecks bounds the validator fan-out: at most one in-flight
// check per category, never an unbounded spread.
const maxConcurrentChecks = 6

// Runner executes all registered validators concurrently with bounded
// parallelism and a per-category timeout.
type Runner struct {
	validators []Validator
	timeout    time.Duration
	sem        *semaphore.Weighted
}

// NewRunner creates a runner over the given validators. timeout bounds
// each individual check; the whole fan-out therefore finishes within one
// timeout window regardless of how many checks stall.
func NewRunner(validators []Validator, timeout time.Duration) (*Runner, error) {
	if len(validators) == 0 {
		return nil, fmt.Errorf("at least one validator is required")
	}
	if timeout <= 0 {
		return nil, fmt.Errorf("timeout must be positive, got %v", timeout)
	}
	seen := make(map[types.Category]bool, len(validators))
	for _, v := range validators {
		if !v.Category().IsValid() {
			return nil, fmt.Errorf("validator has unknown category %q", v.Category())
		}
		if seen[v.Category()] {
			return nil, fmt.Errorf("duplicate validator for category %q", v.Category())
		}
		seen[v.Category()] = true
	}

	return &Runner{
		validators: validators,
		timeout:    timeout,
		sem:        semaphore.NewWeighted(maxConcurrentChecks),
	}, nil
}

// RunAll executes every validator and returns one result per category.
// A validator that times out, fails, or panics contributes a zero-score
// result carrying a single critical escalation violation; the engine
// never crashes because one check failed.
func (r *Runner) RunAll(ctx context.Context, target *Target) map[types.Category]*types.CategoryResult {
	var (
		mu      sync.Mutex
		wg      sync.WaitGroup
		results = make(map[types.Category]*types.CategoryResult, len(r.validators))
	)

	for _, v := range r.validators {
		if err := r.sem.Acquire(ctx, 1); err != nil {
			// Cancellation while waiting for a slot: record the failure
			// and skip the remaining validators the same way.
			mu.Lock()
			results[v.Category()] = failureResult(v.Category(), err)
			mu.Unlock()
			continue
		}

		wg.Add(1)
		go func(v Validator) {
			defer wg.Done()
			defer r.sem.Release(1)

			result := r.runOne(ctx, v, target)

			mu.Lock()
			results[v.Category()] = result
			mu.Unlock()
		}(v)
	}

	wg.Wait()
	return results
}

// runOne executes a single validator under the per-category timeout,
// containing panics and errors as data.
func (r *Runner) runOne(ctx context.Context, v Validator, target *Target) (result *types.CategoryResult) {
	checkCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	defer func() {
		if rec := recover(); rec != nil {
			result = failureResult(v.Category(), fmt.Errorf("validator panic: %v", rec))
		}
	}()

	type outcome struct {
		result *types.CategoryResult
		err    error
	}
	done := make(chan outcome, 1)

	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				done <- outcome{err: fmt.Errorf("validator panic: %v", rec)}
			}
		}()
		res, err := v.Evaluate(checkCtx, target)
		done <- outcome{result: res, err: err}
	}()

	select {
	case <-checkCtx.Done():
		return failureResult(v.Category(), fmt.Errorf("%w after %v: %v", ErrValidatorTimeout, r.timeout, checkCtx.Err()))
	case out := <-done:
		if out.err != nil {
			return failureResult(v.Category(), out.err)
		}
		if out.result == nil {
			return failureResult(v.Category(), fmt.Errorf("validator returned no result"))
		}
		return out.result
	}
}

// failureResult degrades a failed check to a zero score with one critical
// escalation violation, per the containment contract.
func failureResult(category types.Category, err error) *types.CategoryResult {
	violation := newViolation(category, types.SeverityCritical, types.CorrectionEscalation,
		fmt.Sprintf("check could not complete: %v", err))
	return newResult(category, 0,
		fmt.Sprintf("%s check failed to complete", category),
		map[string]interface{}{"error": err.Error()},
		[]types.Violation{violation})
}
