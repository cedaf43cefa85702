package flow

import "context"

// Node is a named unit of work in a workflow graph.
//
// A node receives a private clone of the run state (dispatched invocations
// additionally see their payload overlaid) and returns the delta it
// computed. Nodes never mutate shared state directly; the engine merges
// deltas under the schema's per-field policies. A node that only read a
// field must not return it, which above all holds for append-policy
// accumulators: re-returning one duplicates its content.
//
// Implementations should respect context cancellation inside blocking
// external calls. A returned error aborts the run; a guardrail finding is
// data, not an error, and belongs in the delta.
type Node interface {
	// Run executes the node against a read-only view of state.
	Run(ctx context.Context, s State) Result
}

// Result is the outcome of one node invocation.
//
// At most one of Suspend and Err may be set. A Result with neither is a
// normal completion whose Delta merges into shared state.
type Result struct {
	// Delta holds only the fields this invocation computed.
	Delta State

	// Suspend, when non-nil, freezes the run at this node. The engine
	// persists a checkpoint before reporting the run as suspended.
	Suspend *SuspendRequest

	// Err aborts the run. Wrap external failures in a NodeError with
	// CategoryExternal so callers can classify them.
	Err error
}

// SuspendRequest asks the engine to checkpoint the run and hand control to
// an external decision maker.
type SuspendRequest struct {
	// Payload is surfaced to the caller alongside the suspended outcome,
	// e.g. a review package describing what needs approval.
	Payload map[string]any
}

// Func adapts a plain function to the Node interface.
//
//	g.Add("greet", flow.Func(func(ctx context.Context, s flow.State) flow.Result {
//	    return flow.Result{Delta: flow.State{"greeting": "hello"}}
//	}))
type Func func(ctx context.Context, s State) Result

// Run implements Node.
func (f Func) Run(ctx context.Context, s State) Result {
	return f(ctx, s)
}
