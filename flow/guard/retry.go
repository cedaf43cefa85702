package guard

import (
	"context"
	"errors"
	"fmt"
)

// ExhaustPolicy selects what happens when retries are exhausted with a hard
// violation still present.
type ExhaustPolicy int

const (
	// ExhaustFail returns an ExhaustedError, aborting the branch. Used when
	// an unsafe item must never continue, e.g. video generation.
	ExhaustFail ExhaustPolicy = iota

	// ExhaustRoute returns the last candidate plus all violations so a
	// downstream aggregator can reject the run with full context. Used when
	// the reviewer should see what kept failing, e.g. illustrations.
	ExhaustRoute
)

// RetryConfig bounds a retry-with-regeneration loop.
type RetryConfig struct {
	// MaxRetries is the number of regeneration attempts after the initial
	// check. 0 means check once and apply OnExhausted immediately on a hard
	// violation.
	MaxRetries int

	// OnExhausted selects the exhaustion behavior. The zero value is
	// ExhaustFail.
	OnExhausted ExhaustPolicy
}

// CheckFunc classifies one candidate. Findings are data; the error return is
// for the classification call itself failing.
type CheckFunc[T any] func(ctx context.Context, item T) ([]Violation, error)

// RegenerateFunc produces a replacement candidate after a hard violation.
// The violations of the failed attempt are passed in so the generator can
// steer away from them. Implementations close over the original source
// prompt; no mutable state is shared between branches.
type RegenerateFunc[T any] func(ctx context.Context, item T, vs []Violation) (T, error)

// ExhaustedError reports that retries ran out with a hard violation still
// present under ExhaustFail.
type ExhaustedError struct {
	// Attempts is the total number of candidates checked.
	Attempts int

	// Violations holds every finding accumulated across attempts.
	Violations []Violation
}

func (e *ExhaustedError) Error() string {
	hard, _ := Partition(e.Violations)
	return fmt.Sprintf("guardrail rejected all %d attempt(s), %d hard violation(s)", e.Attempts, len(hard))
}

// IsExhausted reports whether err is an ExhaustedError.
func IsExhausted(err error) bool {
	var ee *ExhaustedError
	return errors.As(err, &ee)
}

// CheckWithRetry enforces a guardrail on one item with bounded regeneration.
//
// Attempt 0 checks the item as given. While a hard violation is present and
// retries remain, a new candidate is regenerated and re-checked, stopping
// early on the first attempt without hard findings.
//
// The returned violations describe the returned item: soft findings from
// every attempt carry over so the reviewer sees what a discarded candidate
// was flagged for, but a discarded candidate's hard findings are dropped once
// a later candidate passes, since they describe an item that no longer
// exists. On exhaustion every finding from every attempt is reported.
//
// A check or regeneration error stops the loop and is returned as-is with
// everything collected so far. On exhaustion the configured ExhaustPolicy
// decides between an ExhaustedError and routing the last candidate onward.
func CheckWithRetry[T any](ctx context.Context, cfg RetryConfig, item T, check CheckFunc[T], regen RegenerateFunc[T]) (T, []Violation, error) {
	var all []Violation   // every finding, for exhaustion and error reporting
	var carry []Violation // soft findings of discarded candidates
	current := item

	if check == nil {
		return current, nil, errors.New("check function cannot be nil")
	}

	vs, err := check(ctx, current)
	if err != nil {
		return current, all, err
	}
	all = append(all, vs...)
	if !HasHard(vs) {
		return current, append(carry, vs...), nil
	}
	_, soft := Partition(vs)
	carry = append(carry, soft...)

	attempts := 1
	for retry := 1; retry <= cfg.MaxRetries && regen != nil; retry++ {
		if err := ctx.Err(); err != nil {
			return current, all, err
		}

		next, err := regen(ctx, current, vs)
		if err != nil {
			return current, all, err
		}
		current = next
		attempts++

		vs, err = check(ctx, current)
		if err != nil {
			return current, all, err
		}
		all = append(all, vs...)
		if !HasHard(vs) {
			return current, append(carry, vs...), nil
		}
		_, soft := Partition(vs)
		carry = append(carry, soft...)
	}

	if cfg.OnExhausted == ExhaustRoute {
		return current, all, nil
	}
	return current, all, &ExhaustedError{Attempts: attempts, Violations: all}
}
