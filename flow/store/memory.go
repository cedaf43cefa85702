package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// MemStore is an in-memory implementation of Store[S].
//
// Designed for:
//   - Testing and development
//   - Single-process workflows
//   - Short-lived runs where durability isn't required
//
// MemStore is safe for concurrent use. To keep behavior aligned with the
// database-backed stores, every save and load round-trips state through
// JSON: callers get an independent copy with the same numeric normalization
// a durable store would produce, and aliasing bugs surface in tests instead
// of production.
//
// Data is lost when the process exits; use SQLiteStore, MySQLStore or
// PostgresStore when a suspended run must survive a restart.
type MemStore[S any] struct {
	mu          sync.RWMutex
	steps       map[string][]StepRecord[S]
	suspensions map[string]Suspension[S]
}

// NewMemStore creates an empty in-memory store.
//
// Example:
//
//	st := store.NewMemStore[flow.State]()
//	eng, err := flow.New(g, schema, flow.WithStore(st))
func NewMemStore[S any]() *MemStore[S] {
	return &MemStore[S]{
		steps:       make(map[string][]StepRecord[S]),
		suspensions: make(map[string]Suspension[S]),
	}
}

// SaveStep appends (or overwrites) one step of a run's history.
func (m *MemStore[S]) SaveStep(_ context.Context, runID string, step int, nodeID string, state S) error {
	copied, err := cloneJSON(state)
	if err != nil {
		return fmt.Errorf("serialize step state: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	records := m.steps[runID]
	for i, r := range records {
		if r.Step == step {
			records[i] = StepRecord[S]{Step: step, NodeID: nodeID, State: copied}
			return nil
		}
	}
	m.steps[runID] = append(records, StepRecord[S]{Step: step, NodeID: nodeID, State: copied})
	return nil
}

// LoadLatest returns the record with the highest step number, which handles
// out-of-order saves correctly.
func (m *MemStore[S]) LoadLatest(_ context.Context, runID string) (S, int, error) {
	m.mu.RLock()
	records, exists := m.steps[runID]
	if !exists || len(records) == 0 {
		m.mu.RUnlock()
		var zero S
		return zero, 0, ErrNotFound
	}
	latest := records[0]
	for _, r := range records[1:] {
		if r.Step > latest.Step {
			latest = r
		}
	}
	m.mu.RUnlock()

	copied, err := cloneJSON(latest.State)
	if err != nil {
		var zero S
		return zero, 0, fmt.Errorf("deserialize step state: %w", err)
	}
	return copied, latest.Step, nil
}

// SaveSuspension records the run's current suspension, superseding any
// earlier one for the same run.
func (m *MemStore[S]) SaveSuspension(_ context.Context, s Suspension[S]) error {
	copied, err := cloneJSON(s)
	if err != nil {
		return fmt.Errorf("serialize suspension: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.suspensions[s.RunID] = copied
	return nil
}

// LoadSuspension returns the run's current suspension record.
func (m *MemStore[S]) LoadSuspension(_ context.Context, runID string) (Suspension[S], error) {
	m.mu.RLock()
	s, exists := m.suspensions[runID]
	m.mu.RUnlock()
	if !exists {
		var zero Suspension[S]
		return zero, ErrNotFound
	}
	return cloneJSON(s)
}

// MarkResumed consumes the suspension identified by runID and seq.
func (m *MemStore[S]) MarkResumed(_ context.Context, runID string, seq int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, exists := m.suspensions[runID]
	if !exists || s.Seq != seq {
		return ErrNotFound
	}
	if s.ResumedAt != nil {
		return ErrAlreadyResumed
	}
	now := time.Now().UTC()
	s.ResumedAt = &now
	m.suspensions[runID] = s
	return nil
}

// Close is a no-op for the in-memory store.
func (m *MemStore[S]) Close() error {
	return nil
}

// cloneJSON deep-copies v through a JSON round trip.
func cloneJSON[T any](v T) (T, error) {
	var out T
	data, err := json.Marshal(v)
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return out, err
	}
	return out, nil
}
