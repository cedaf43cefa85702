// Package flow provides a graph workflow engine with per-field merge
// policies, dynamic fan-out and durable suspend/resume.
package flow

import "errors"

// Category classifies a run failure for machine handling. Every failed run
// carries exactly one category alongside its human-readable message.
type Category string

const (
	// CategoryValidation marks a required or malformed state field: an
	// undeclared delta field, a non-slice append value, a missing expected
	// count. Never silently defaulted.
	CategoryValidation Category = "validation"

	// CategoryExternal marks a failed generation or classification call.
	CategoryExternal Category = "external"

	// CategoryIntegrity marks a reconstructed result set that disagrees
	// with the expected count.
	CategoryIntegrity Category = "integrity"

	// CategoryCheckpoint marks suspend persistence failures and invalid
	// resume attempts.
	CategoryCheckpoint Category = "checkpoint"

	// CategoryInternal marks engine guards: step ceiling, cancellation.
	CategoryInternal Category = "internal"
)

// ErrMaxStepsExceeded indicates the run reached the configured step ceiling
// without completing. Guards against routing cycles and runaway fan-out.
var ErrMaxStepsExceeded = errors.New("run exceeded maximum steps limit")

// RunError is an engine-level failure not attributable to a single node.
type RunError struct {
	Category Category
	Message  string
	Cause    error
}

func (e *RunError) Error() string {
	msg := e.Message
	if e.Category != "" {
		msg = string(e.Category) + ": " + msg
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *RunError) Unwrap() error {
	return e.Cause
}

// NodeError wraps a failure produced while executing a named node.
type NodeError struct {
	// Category classifies the failure per the taxonomy above.
	Category Category

	// Message is the human-readable description.
	Message string

	// Node identifies which node produced the error.
	Node string

	// Cause is the underlying error, if any.
	Cause error
}

func (e *NodeError) Error() string {
	msg := e.Message
	if msg == "" && e.Cause != nil {
		msg = e.Cause.Error()
	}
	if e.Node != "" {
		return "node " + e.Node + ": " + msg
	}
	return msg
}

func (e *NodeError) Unwrap() error {
	return e.Cause
}

// CategoryOf extracts the failure category from err, unwrapping as needed.
// Errors outside the taxonomy report CategoryInternal.
func CategoryOf(err error) Category {
	if err == nil {
		return ""
	}
	var re *RunError
	if errors.As(err, &re) {
		return re.Category
	}
	var ne *NodeError
	if errors.As(err, &ne) {
		if ne.Category != "" {
			return ne.Category
		}
		return CategoryOf(ne.Cause)
	}
	return CategoryInternal
}
