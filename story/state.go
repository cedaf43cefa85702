// Package story implements a children's story generation pipeline on the
// flow engine: input moderation, story writing, illustration and scene
// planning, per-prompt media generation fan-out, guardrail checking with
// bounded regeneration, quality evaluation, a human review gate and
// publish/reject terminals.
package story

import (
	"fmt"

	"github.com/dshills/storyflow-go/flow"
	"github.com/dshills/storyflow-go/flow/guard"
)

// State field names. Every field a pipeline node writes is declared in
// Schema with its merge policy.
const (
	FieldJobID            = "job_id"
	FieldParentJobID      = "parent_job_id"
	FieldPrompt           = "prompt"
	FieldAgeGroup         = "age_group"
	FieldNumIllustrations = "num_illustrations"
	FieldGenerateVideos   = "generate_videos"

	FieldInputFlagged = "input_flagged"
	FieldFlagReason   = "flag_reason"

	FieldStoryTitle = "story_title"
	FieldStoryText  = "story_text"

	FieldImagePrompts   = "image_prompts"
	FieldVideoPrompts   = "video_prompts"
	FieldExpectedImages = "expected_images"
	FieldExpectedVideos = "expected_videos"

	FieldImageURLs  = "image_urls"
	FieldVideoURLs  = "video_urls"
	FieldEvaluation = "evaluation"

	FieldGuardrailPassed  = "guardrail_passed"
	FieldGuardrailSummary = "guardrail_summary"

	FieldReviewPackage  = "review_package"
	FieldReviewDecision = "review_decision"
	FieldReviewComment  = "review_comment"
	FieldReviewerID     = "reviewer_id"

	FieldPublished    = "published"
	FieldPublishedAt  = "published_at"
	FieldRejected     = "rejected"
	FieldRejectReason = "reject_reason"

	// Dispatch payload fields, overlaid onto a branch's private state view.
	FieldCurrentIndex  = "current_index"
	FieldCurrentPrompt = "current_prompt"
	FieldCurrentURL    = "current_url"
	FieldCurrentKind   = "current_kind"

	// Append-policy accumulators. Branches write only the delta they
	// computed; the engine concatenates in completion order.
	FieldViolations      = "violations"
	FieldGeneratedImages = "generated_images"
	FieldGeneratedVideos = "generated_videos"
	FieldCheckedImages   = "checked_images"
	FieldCheckedVideos   = "checked_videos"
)

// Review decision values merged at resume.
const (
	DecisionApproved = "approved"
	DecisionRejected = "rejected"
)

// Content kinds used in guardrail findings.
const (
	KindInput = "input"
	KindStory = "story"
	KindImage = "image"
	KindVideo = "video"
)

// Schema declares the merge policy of every pipeline field.
func Schema() flow.Schema {
	return flow.Schema{
		FieldJobID:            flow.Replace,
		FieldParentJobID:      flow.Replace,
		FieldPrompt:           flow.Replace,
		FieldAgeGroup:         flow.Replace,
		FieldNumIllustrations: flow.Replace,
		FieldGenerateVideos:   flow.Replace,
		FieldInputFlagged:     flow.Replace,
		FieldFlagReason:       flow.Replace,
		FieldStoryTitle:       flow.Replace,
		FieldStoryText:        flow.Replace,
		FieldImagePrompts:     flow.Replace,
		FieldVideoPrompts:     flow.Replace,
		FieldExpectedImages:   flow.Replace,
		FieldExpectedVideos:   flow.Replace,
		FieldImageURLs:        flow.Replace,
		FieldVideoURLs:        flow.Replace,
		FieldEvaluation:       flow.Replace,
		FieldGuardrailPassed:  flow.Replace,
		FieldGuardrailSummary: flow.Replace,
		FieldReviewPackage:    flow.Replace,
		FieldReviewDecision:   flow.Replace,
		FieldReviewComment:    flow.Replace,
		FieldReviewerID:       flow.Replace,
		FieldPublished:        flow.Replace,
		FieldPublishedAt:      flow.Replace,
		FieldRejected:         flow.Replace,
		FieldRejectReason:     flow.Replace,
		FieldCurrentIndex:     flow.Replace,
		FieldCurrentPrompt:    flow.Replace,
		FieldCurrentURL:       flow.Replace,
		FieldCurrentKind:      flow.Replace,

		FieldViolations:      flow.Append,
		FieldGeneratedImages: flow.Append,
		FieldGeneratedVideos: flow.Append,
		FieldCheckedImages:   flow.Append,
		FieldCheckedVideos:   flow.Append,
	}
}

// Request limits and defaults.
const (
	MaxPromptLen         = 10000
	MinIllustrations     = 1
	MaxIllustrations     = 10
	DefaultIllustrations = 3
	DefaultAgeGroup      = "6-8"
	DefaultTitle         = "A Wonderful Story"
)

// AgeGroups are the supported reader age bands.
var AgeGroups = []string{"3-5", "6-8", "9-12"}

// Request describes one story generation job.
type Request struct {
	// JobID identifies the job and doubles as the engine run ID. Assigned
	// by the service when empty.
	JobID string

	// Prompt is the story idea. Required, at most MaxPromptLen characters.
	Prompt string

	// AgeGroup is the target reader band; one of AgeGroups.
	AgeGroup string

	// NumIllustrations is how many illustrations to generate, in
	// [MinIllustrations, MaxIllustrations].
	NumIllustrations int

	// GenerateVideos enables animated scene generation.
	GenerateVideos bool

	// ParentJobID links a regeneration to the job it retries.
	ParentJobID string
}

// ApplyDefaults fills unset optional fields.
func (r *Request) ApplyDefaults() {
	if r.AgeGroup == "" {
		r.AgeGroup = DefaultAgeGroup
	}
	if r.NumIllustrations == 0 {
		r.NumIllustrations = DefaultIllustrations
	}
}

// Validate checks the request after defaults are applied.
func (r *Request) Validate() error {
	if r.Prompt == "" {
		return fmt.Errorf("prompt cannot be empty")
	}
	if len(r.Prompt) > MaxPromptLen {
		return fmt.Errorf("prompt exceeds %d characters", MaxPromptLen)
	}
	valid := false
	for _, g := range AgeGroups {
		if r.AgeGroup == g {
			valid = true
			break
		}
	}
	if !valid {
		return fmt.Errorf("age group %q is not one of %v", r.AgeGroup, AgeGroups)
	}
	if r.NumIllustrations < MinIllustrations || r.NumIllustrations > MaxIllustrations {
		return fmt.Errorf("num illustrations %d outside [%d, %d]", r.NumIllustrations, MinIllustrations, MaxIllustrations)
	}
	return nil
}

// InitialState seeds the run state from a validated request.
func InitialState(r Request) flow.State {
	return flow.State{
		FieldJobID:            r.JobID,
		FieldParentJobID:      r.ParentJobID,
		FieldPrompt:           r.Prompt,
		FieldAgeGroup:         r.AgeGroup,
		FieldNumIllustrations: r.NumIllustrations,
		FieldGenerateVideos:   r.GenerateVideos,
	}
}

// violationMap converts a finding for storage in state. State values
// round-trip through JSON, so findings live as plain maps.
func violationMap(v guard.Violation) map[string]any {
	return map[string]any{
		"guardrail":  v.Guardrail,
		"kind":       v.Kind,
		"index":      v.Index,
		"severity":   string(v.Severity),
		"confidence": v.Confidence,
		"detail":     v.Detail,
	}
}

// violationMaps converts a batch of findings.
func violationMaps(vs []guard.Violation) []any {
	out := make([]any, len(vs))
	for i, v := range vs {
		out[i] = violationMap(v)
	}
	return out
}

// violationFromAny restores a finding from its state representation.
func violationFromAny(v any) (guard.Violation, bool) {
	m, ok := v.(map[string]any)
	if !ok {
		return guard.Violation{}, false
	}
	s := flow.State(m)
	return guard.Violation{
		Guardrail:  s.String("guardrail"),
		Kind:       s.String("kind"),
		Index:      s.Int("index"),
		Severity:   guard.Severity(s.String("severity")),
		Confidence: s.Float("confidence"),
		Detail:     s.String("detail"),
	}, true
}

// violationsFromState decodes the violations accumulator.
func violationsFromState(s flow.State) []guard.Violation {
	raw := s.Slice(FieldViolations)
	out := make([]guard.Violation, 0, len(raw))
	for _, v := range raw {
		if gv, ok := violationFromAny(v); ok {
			out = append(out, gv)
		}
	}
	return out
}

// itemMap is the state representation of a produced media item.
func itemMap(index int, url string) map[string]any {
	return map[string]any{"index": index, "url": url}
}

// itemRecordsFromState decodes an accumulator of {index, url} records.
func itemRecordsFromState(s flow.State, field string) []guard.ItemRecord {
	raw := s.Slice(field)
	out := make([]guard.ItemRecord, 0, len(raw))
	for _, v := range raw {
		m, ok := v.(map[string]any)
		if !ok {
			continue
		}
		fs := flow.State(m)
		out = append(out, guard.ItemRecord{Index: fs.Int("index"), URL: fs.String("url")})
	}
	return out
}

// stringsFromState normalizes a replace-policy list field to []string.
func stringsFromState(s flow.State, field string) []string {
	raw := s.Slice(field)
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if str, ok := v.(string); ok {
			out = append(out, str)
		}
	}
	return out
}
