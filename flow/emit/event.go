package emit

// Event is one observability record from a workflow run.
//
// The engine emits events for run lifecycle (started, completed, suspended,
// resumed, failed), per-node completion, fan-out creation and join
// scheduling. Domain nodes may emit their own through the same emitter.
type Event struct {
	// RunID identifies the workflow execution that emitted this event.
	RunID string

	// Step is the engine step number, 1-indexed. Zero for run-level
	// events emitted before the first step.
	Step int

	// NodeID names the node this event concerns. Empty for run-level
	// events.
	NodeID string

	// Msg is the event name, e.g. "run_started", "node_completed",
	// "fan_out", "join_ready", "run_suspended".
	Msg string

	// Meta carries event-specific structured data. Common keys:
	//   - "duration_ms": node execution duration
	//   - "error": failure details
	//   - "category": failure category
	//   - "dispatches": fan-out size
	//   - "join": fan-in node name
	//   - "seq": suspension sequence number
	Meta map[string]any
}
