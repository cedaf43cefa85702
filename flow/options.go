package flow

import (
	"github.com/dshills/storyflow-go/flow/emit"
	"github.com/dshills/storyflow-go/flow/store"
)

// Option configures an Engine at construction time.
//
// Example:
//
//	eng, err := flow.New(g, schema,
//	    flow.WithStore(st),
//	    flow.WithEmitter(emit.NewLogEmitter(nil, false)),
//	    flow.WithMaxWorkers(16),
//	)
type Option func(*Engine)

// WithStore sets the persistence backend for step snapshots and suspension
// records.
//
// Without a store the engine runs fine until a node suspends; suspension
// requires durable persistence, so a storeless engine fails such runs with a
// checkpoint-category error.
func WithStore(st store.Store[State]) Option {
	return func(e *Engine) {
		e.store = st
	}
}

// WithEmitter sets the observability event receiver.
//
// Default: emit.NewNullEmitter().
func WithEmitter(em emit.Emitter) Option {
	return func(e *Engine) {
		if em != nil {
			e.emitter = em
		}
	}
}

// WithMetrics attaches a Prometheus metrics collector.
//
// Default: nil (no metrics recorded).
func WithMetrics(m *PrometheusMetrics) Option {
	return func(e *Engine) {
		e.metrics = m
	}
}

// WithMaxWorkers bounds how many invocations of one super-step execute
// concurrently. Values below 1 are ignored.
//
// Default: 8.
//
// Fan-out dispatches are I/O-bound in typical deployments (generation and
// classification calls), so a bound above runtime.NumCPU() is normal. Each
// in-flight invocation holds its own clone of state, so memory scales with
// this bound.
func WithMaxWorkers(n int) Option {
	return func(e *Engine) {
		if n >= 1 {
			e.maxWorkers = n
		}
	}
}

// WithMaxSteps caps the number of super-steps per Run or Resume call and
// guards against non-terminating graphs. Values below 1 are ignored.
//
// Default: 100.
//
// When the cap is exceeded the run fails with ErrMaxStepsExceeded wrapped in
// an internal-category error.
func WithMaxSteps(n int) Option {
	return func(e *Engine) {
		if n >= 1 {
			e.maxSteps = n
		}
	}
}
