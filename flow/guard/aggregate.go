package guard

import (
	"fmt"
	"sort"
	"strings"
)

// ItemRecord is one fan-out branch result awaiting reassembly: the index the
// planner assigned before dispatch and the produced artifact URL.
type ItemRecord struct {
	Index int    `json:"index"`
	URL   string `json:"url"`
}

// Report is the consolidated guardrail verdict for a run.
type Report struct {
	// Passed is true iff no hard violation was found.
	Passed bool

	// Hard and Soft are the findings partitioned by severity, sorted by
	// item index for stable review output.
	Hard []Violation
	Soft []Violation

	// Ordered is the reassembled artifact list in planned index order.
	Ordered []string

	// Summary is the deterministic human-readable report.
	Summary string
}

// CountMismatchError reports that reassembly saw a different number of items
// than the planner dispatched. It always aborts; truncating would publish an
// incomplete result.
type CountMismatchError struct {
	Expected int
	Actual   int
}

func (e *CountMismatchError) Error() string {
	return fmt.Sprintf("expected %d item(s), got %d", e.Expected, e.Actual)
}

// Reassemble restores planned order from branch results that completed in
// arbitrary order. Each record must carry a unique index in [0, expected);
// any count mismatch, duplicate or out-of-range index is an error, never a
// silent truncation.
func Reassemble(items []ItemRecord, expected int) ([]string, error) {
	if len(items) != expected {
		return nil, &CountMismatchError{Expected: expected, Actual: len(items)}
	}

	ordered := make([]string, expected)
	seen := make([]bool, expected)
	for _, item := range items {
		if item.Index < 0 || item.Index >= expected {
			return nil, fmt.Errorf("item index %d out of range [0, %d)", item.Index, expected)
		}
		if seen[item.Index] {
			return nil, fmt.Errorf("duplicate item index %d", item.Index)
		}
		seen[item.Index] = true
		ordered[item.Index] = item.URL
	}
	return ordered, nil
}

// Aggregate consolidates a run's guardrail findings and branch results into
// a single Report.
//
// Items are reassembled by index (see Reassemble); a count mismatch is
// returned as an error and no Report is produced. Violations are partitioned
// by severity and sorted by (Index, Kind, Guardrail) so the summary is
// stable regardless of branch completion order. Passed is true iff there are
// no hard findings, independent of soft count.
func Aggregate(vs []Violation, items []ItemRecord, expected int, evalSummary string) (Report, error) {
	ordered, err := Reassemble(items, expected)
	if err != nil {
		return Report{}, err
	}

	hard, soft := Partition(vs)
	sortViolations(hard)
	sortViolations(soft)

	return Report{
		Passed:  len(hard) == 0,
		Hard:    hard,
		Soft:    soft,
		Ordered: ordered,
		Summary: buildSummary(hard, soft, evalSummary),
	}, nil
}

func sortViolations(vs []Violation) {
	sort.SliceStable(vs, func(i, j int) bool {
		if vs[i].Index != vs[j].Index {
			return vs[i].Index < vs[j].Index
		}
		if vs[i].Kind != vs[j].Kind {
			return vs[i].Kind < vs[j].Kind
		}
		return vs[i].Guardrail < vs[j].Guardrail
	})
}

func buildSummary(hard, soft []Violation, evalSummary string) string {
	var parts []string
	if evalSummary != "" {
		parts = append(parts, evalSummary)
	}

	if len(hard) > 0 {
		parts = append(parts, fmt.Sprintf("%d HARD violation(s) - will trigger auto-reject:", len(hard)))
		for _, v := range hard {
			parts = append(parts, violationLine(v))
		}
	}
	if len(soft) > 0 {
		parts = append(parts, fmt.Sprintf("%d SOFT warning(s) - for reviewer awareness:", len(soft)))
		for _, v := range soft {
			parts = append(parts, violationLine(v))
		}
	}
	if len(hard) == 0 && len(soft) == 0 {
		parts = append(parts, "All guardrails passed - no violations detected.")
	}
	return strings.Join(parts, "\n")
}

func violationLine(v Violation) string {
	scope := v.Kind
	if v.Index != NoIndex {
		scope = fmt.Sprintf("%s #%d", v.Kind, v.Index)
	}
	return fmt.Sprintf("- [%s] (%s) confidence=%.2f: %s", v.Guardrail, scope, v.Confidence, v.Detail)
}
