// Package guard implements guardrail enforcement for generated content: a
// bounded per-item retry controller that regenerates failing candidates, and
// a run-level aggregator that reassembles fan-out results and consolidates
// violations into a review report.
//
// Guardrail findings are data, not errors. A hard violation blocks an item
// from passing unchanged but flows through the workflow as a Violation
// value; only exhausted retries under ExhaustFail and broken invariants
// (count mismatches) surface as errors.
package guard

// Severity grades a guardrail finding.
type Severity string

const (
	// SeverityHard blocks the item until regeneration clears it or the run
	// rejects it.
	SeverityHard Severity = "hard"

	// SeveritySoft is advisory; it reaches the reviewer but never blocks.
	SeveritySoft Severity = "soft"
)

// NoIndex marks a violation that is not tied to a fan-out item, such as a
// finding against the story text as a whole.
const NoIndex = -1

// Violation is one guardrail finding.
type Violation struct {
	// Guardrail names the rule that fired, e.g. "age_appropriate".
	Guardrail string

	// Kind is the content kind checked: "story", "image", "video".
	Kind string

	// Index is the fan-out item index the finding applies to, or NoIndex.
	Index int

	// Severity is hard or soft.
	Severity Severity

	// Confidence is the classifier's confidence in [0, 1].
	Confidence float64

	// Detail is the human-readable explanation.
	Detail string
}

// HasHard reports whether any violation in vs is hard.
func HasHard(vs []Violation) bool {
	for _, v := range vs {
		if v.Severity == SeverityHard {
			return true
		}
	}
	return false
}

// Partition splits violations by severity, preserving input order.
func Partition(vs []Violation) (hard, soft []Violation) {
	for _, v := range vs {
		if v.Severity == SeverityHard {
			hard = append(hard, v)
		} else {
			soft = append(soft, v)
		}
	}
	return hard, soft
}
