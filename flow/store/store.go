// Package store provides durable persistence for workflow runs: step
// history and the suspension records that make suspend/resume survive
// process restarts.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested run has no persisted record.
var ErrNotFound = errors.New("not found")

// ErrAlreadyResumed is returned when a suspension is resumed a second time.
// Resume is one-shot per suspension so external side effects of the resumed
// path (a publish, a notification) can never run twice.
var ErrAlreadyResumed = errors.New("suspension already resumed")

// Store persists workflow execution for one state type S.
//
// Two concerns live here:
//   - Step history: the merged state after every engine step, keyed by
//     runID + step number. Supports inspection and re-issuing runs.
//   - Suspensions: the frozen state of a run waiting on an external
//     decision, consumed exactly once by resume.
//
// Implementations: MemStore (tests, examples), SQLiteStore (single-process
// durability), MySQLStore and PostgresStore (shared databases, resuming on
// a different worker than the one that suspended).
//
// All implementations must serialize state self-describingly (JSON) so a
// long-suspended run remains loadable across code changes; unknown fields
// round-trip rather than corrupt.
type Store[S any] interface {
	// SaveStep persists the merged state after an engine step.
	//
	// Parameters:
	//   - runID: unique identifier of the workflow execution
	//   - step: sequential step number, starting at 1
	//   - nodeID: the node(s) that produced this state
	//   - state: merged workflow state after the step
	//
	// Saving the same runID+step again overwrites the earlier record.
	SaveStep(ctx context.Context, runID string, step int, nodeID string, state S) error

	// LoadLatest retrieves the most recent persisted state of a run.
	//
	// Returns the state, its step number, and ErrNotFound when the run has
	// no history.
	LoadLatest(ctx context.Context, runID string) (state S, step int, err error)

	// SaveSuspension durably records a suspended run. The engine calls this
	// synchronously before reporting a run as suspended; a failure here
	// must fail the run, never yield a false "suspended" status.
	//
	// A run has at most one live suspension: saving a new one (higher Seq)
	// supersedes the previous record for that runID.
	SaveSuspension(ctx context.Context, s Suspension[S]) error

	// LoadSuspension retrieves the current suspension of a run.
	// Returns ErrNotFound when the run has none.
	LoadSuspension(ctx context.Context, runID string) (Suspension[S], error)

	// MarkResumed consumes a suspension. It atomically sets ResumedAt for
	// the given runID and seq if and only if it is still unset:
	//   - ErrNotFound when no such suspension exists
	//   - ErrAlreadyResumed when it was consumed before
	//
	// Callers mark before executing the resumed path, so a racing second
	// resume is rejected rather than replayed.
	MarkResumed(ctx context.Context, runID string, seq int) error

	// Close releases the store's resources. Operations after Close fail.
	Close() error
}

// Suspension is the durable snapshot of a run frozen at a gate node.
type Suspension[S any] struct {
	// RunID identifies the suspended run.
	RunID string `json:"run_id"`

	// Node is the graph node at which the run suspended. Resume re-enters
	// the graph at this node's route, not at its body.
	Node string `json:"node"`

	// Seq numbers the suspension events of a run, starting at 1. A run
	// that suspends again after a resume gets a fresh, resumable record.
	Seq int `json:"seq"`

	// State is the full merged state at suspension time.
	State S `json:"state"`

	// Payload is the gate's hand-off to the external decision maker.
	Payload map[string]any `json:"payload,omitempty"`

	// CreatedAt is when the suspension was persisted.
	CreatedAt time.Time `json:"created_at"`

	// ResumedAt is set once the suspension has been consumed.
	ResumedAt *time.Time `json:"resumed_at,omitempty"`
}

// StepRecord is one entry of a run's step history.
type StepRecord[S any] struct {
	// Step is the sequential step number, 1-indexed.
	Step int

	// NodeID names the node(s) that produced this state.
	NodeID string

	// State is the merged workflow state after the step.
	State S
}
