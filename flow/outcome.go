package flow

// RunStatus reports how a run ended.
type RunStatus string

const (
	// StatusCompleted means the run reached a terminal route.
	StatusCompleted RunStatus = "completed"

	// StatusSuspended means the run is frozen at a suspension point and can
	// be continued with Resume.
	StatusSuspended RunStatus = "suspended"

	// StatusFailed means the run aborted; Outcome.Err carries the cause.
	StatusFailed RunStatus = "failed"
)

// Outcome is the result of Run or Resume. Exactly one of the three statuses
// holds:
//
//   - StatusCompleted: State is the final merged state, Err is nil.
//   - StatusSuspended: State is the frozen state, Suspension describes the
//     suspension point, Err is nil.
//   - StatusFailed: Err is non-nil and carries a Category (see CategoryOf);
//     State holds the last merged state for diagnostics.
//
// Steps counts super-steps executed by this call (a resumed run counts from
// the resume point, not from the original start).
type Outcome struct {
	RunID      string
	Status     RunStatus
	State      State
	Steps      int
	Suspension *SuspendInfo
	Err        error
}

// SuspendInfo describes a suspension point returned in a Suspended outcome.
type SuspendInfo struct {
	// Node is the node that suspended the run.
	Node string

	// Seq is the suspension sequence number for this run, starting at 1.
	// Resume consumes exactly one Seq.
	Seq int

	// Payload is the context the suspending node attached for the external
	// decision maker (prompts, candidate content, report summaries).
	Payload map[string]any
}
