package flow

import (
	"fmt"
	"reflect"
)

// Policy selects how concurrent writes to a state field are combined.
//
// Every field a workflow touches must be declared in a Schema with exactly
// one policy. The policy is fixed for the lifetime of a run.
type Policy int

const (
	// Replace keeps the last written value. Safe only when at most one
	// concurrent branch writes the field in a given step.
	Replace Policy = iota

	// Append concatenates slice values in branch completion order. Used for
	// accumulating per-branch partial results during fan-out. Branches must
	// write only the delta they computed, never a re-read snapshot of the
	// accumulated value, or the concatenation duplicates prior content.
	Append
)

// String returns the policy name for diagnostics.
func (p Policy) String() string {
	switch p {
	case Replace:
		return "replace"
	case Append:
		return "append"
	default:
		return fmt.Sprintf("policy(%d)", int(p))
	}
}

// State is the evolving key/value bag shared by all nodes of a run.
//
// Values should be JSON-serializable: strings, bools, numbers, []any,
// map[string]any and compositions of those. Checkpointing round-trips state
// through JSON, so numeric values may come back as float64; the typed
// accessors below tolerate that.
type State map[string]any

// Clone returns a deep copy of the state. Maps and slices are copied
// recursively so mutations of the clone never alias the original.
func (s State) Clone() State {
	if s == nil {
		return State{}
	}
	out := make(State, len(s))
	for k, v := range s {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		m := make(map[string]any, len(t))
		for k, e := range t {
			m[k] = cloneValue(e)
		}
		return m
	case []any:
		l := make([]any, len(t))
		for i, e := range t {
			l[i] = cloneValue(e)
		}
		return l
	case []string:
		l := make([]string, len(t))
		copy(l, t)
		return l
	default:
		return v
	}
}

// String returns the field as a string, or "" when absent or not a string.
func (s State) String(key string) string {
	v, _ := s[key].(string)
	return v
}

// Bool returns the field as a bool, or false when absent.
func (s State) Bool(key string) bool {
	v, _ := s[key].(bool)
	return v
}

// Int returns the field as an int. JSON round-trips store numbers as
// float64, so both int and float64 representations are accepted.
func (s State) Int(key string) int {
	switch v := s[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return 0
	}
}

// Float returns the field as a float64, or 0 when absent.
func (s State) Float(key string) float64 {
	switch v := s[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	default:
		return 0
	}
}

// Slice returns the field normalized to []any, or nil when absent.
func (s State) Slice(key string) []any {
	v, ok := s[key]
	if !ok || v == nil {
		return nil
	}
	out, err := toSlice(v)
	if err != nil {
		return nil
	}
	return out
}

// Map returns the field as a map[string]any, or nil when absent.
func (s State) Map(key string) map[string]any {
	v, _ := s[key].(map[string]any)
	return v
}

// Schema declares the merge policy of every field a workflow may write.
//
// The engine consults the schema on every merge: a delta naming an
// undeclared field is a validation error and aborts the run. Declaring the
// full field set up front is what makes concurrent fan-out writes safe; an
// accumulator that silently defaulted to replace would drop sibling results.
type Schema map[string]Policy

// Policy returns the declared policy for a field.
func (sc Schema) Policy(field string) (Policy, bool) {
	p, ok := sc[field]
	return p, ok
}

// ValidateState checks that every field of s is declared.
func (sc Schema) ValidateState(s State) error {
	for k := range s {
		if _, ok := sc[k]; !ok {
			return &RunError{
				Category: CategoryValidation,
				Message:  fmt.Sprintf("state field %q is not declared in the schema", k),
			}
		}
	}
	return nil
}

// Merge applies a node's delta to dst according to each field's policy.
//
// Replace fields take the delta value as-is. Append fields concatenate the
// delta slice onto the existing slice into a fresh backing array, so two
// branches appending concurrently can never alias each other's storage.
// The caller serializes Merge invocations; Merge itself does no locking.
func (sc Schema) Merge(dst State, delta State) error {
	for k, v := range delta {
		p, ok := sc[k]
		if !ok {
			return &RunError{
				Category: CategoryValidation,
				Message:  fmt.Sprintf("delta writes undeclared field %q", k),
			}
		}
		switch p {
		case Replace:
			dst[k] = cloneValue(v)
		case Append:
			merged, err := appendConcat(dst[k], v)
			if err != nil {
				return &RunError{
					Category: CategoryValidation,
					Message:  fmt.Sprintf("field %q: %v", k, err),
				}
			}
			dst[k] = merged
		}
	}
	return nil
}

// appendConcat concatenates old and delta into a new []any. Nil values act
// as empty lists so the first write to an accumulator needs no special case.
func appendConcat(old, delta any) ([]any, error) {
	head, err := toSlice(old)
	if err != nil {
		return nil, err
	}
	tail, err := toSlice(delta)
	if err != nil {
		return nil, err
	}
	out := make([]any, 0, len(head)+len(tail))
	out = append(out, head...)
	out = append(out, tail...)
	return out, nil
}

// toSlice normalizes a value to []any. Typed slices ([]string, []int, ...)
// are widened element by element; non-slice values are rejected.
func toSlice(v any) ([]any, error) {
	if v == nil {
		return nil, nil
	}
	if l, ok := v.([]any); ok {
		out := make([]any, len(l))
		copy(out, l)
		return out, nil
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice {
		return nil, fmt.Errorf("append policy requires a slice value, got %T", v)
	}
	out := make([]any, rv.Len())
	for i := 0; i < rv.Len(); i++ {
		out[i] = rv.Index(i).Interface()
	}
	return out, nil
}
