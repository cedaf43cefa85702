// Package emit carries observability events out of workflow execution.
package emit

// Emitter receives events from workflow execution.
//
// Emitters plug observability backends into the engine without coupling it
// to any of them: stdout logs, JSONL files, OpenTelemetry spans, in-memory
// buffers for tests.
//
// Implementations must be safe for concurrent use (fan-out branches emit
// from multiple goroutines), must not block workflow execution, and must
// not panic; backend failures are handled internally.
type Emitter interface {
	// Emit delivers one event to the backend.
	Emit(event Event)
}
