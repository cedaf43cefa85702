package story

import (
	"context"

	"github.com/dshills/storyflow-go/flow"
	"github.com/dshills/storyflow-go/flow/guard"
)

// newAssembleMediaNode is the join for the generation fan-outs. It validates
// that every branch reported, restores planned order from the index-tagged
// records and publishes the ordered URL lists.
//
// The node reads the accumulators but must never return them: re-returning
// an append-policy field would concatenate a full snapshot onto itself.
func newAssembleMediaNode() flow.Func {
	return func(ctx context.Context, s flow.State) flow.Result {
		if s.String(FieldJobID) == "" {
			return flow.Result{Err: validationErr(NodeAssembleMedia, "job_id missing from state")}
		}
		if s.String(FieldStoryText) == "" {
			return flow.Result{Err: validationErr(NodeAssembleMedia, "story_text missing from state")}
		}
		if _, ok := s[FieldExpectedImages]; !ok {
			return flow.Result{Err: validationErr(NodeAssembleMedia, "expected_images missing from state")}
		}
		if _, ok := s[FieldExpectedVideos]; !ok {
			return flow.Result{Err: validationErr(NodeAssembleMedia, "expected_videos missing from state")}
		}

		imageURLs, err := guard.Reassemble(itemRecordsFromState(s, FieldGeneratedImages), s.Int(FieldExpectedImages))
		if err != nil {
			return flow.Result{Err: integrityErr(NodeAssembleMedia, "image set corrupt", err)}
		}
		videoURLs, err := guard.Reassemble(itemRecordsFromState(s, FieldGeneratedVideos), s.Int(FieldExpectedVideos))
		if err != nil {
			return flow.Result{Err: integrityErr(NodeAssembleMedia, "video set corrupt", err)}
		}

		return flow.Result{Delta: flow.State{
			FieldImageURLs: imageURLs,
			FieldVideoURLs: videoURLs,
		}}
	}
}

// routeAssembled fans out the quality pass: story evaluation, story safety
// and one guardrail branch per media asset, all rejoining at the aggregator.
func routeAssembled(s flow.State) flow.Route {
	msgs := []flow.Dispatch{
		flow.Send(NodeEvaluateStory, nil),
		flow.Send(NodeCheckStory, nil),
	}
	prompts := stringsFromState(s, FieldImagePrompts)
	for i, url := range stringsFromState(s, FieldImageURLs) {
		p := ""
		if i < len(prompts) {
			p = prompts[i]
		}
		msgs = append(msgs, flow.Send(NodeCheckImage, map[string]any{
			FieldCurrentIndex:  i,
			FieldCurrentURL:    url,
			FieldCurrentPrompt: p,
			FieldCurrentKind:   KindImage,
		}))
	}
	vprompts := stringsFromState(s, FieldVideoPrompts)
	for i, url := range stringsFromState(s, FieldVideoURLs) {
		p := ""
		if i < len(vprompts) {
			p = vprompts[i]
		}
		msgs = append(msgs, flow.Send(NodeCheckVideo, map[string]any{
			FieldCurrentIndex:  i,
			FieldCurrentURL:    url,
			FieldCurrentPrompt: p,
			FieldCurrentKind:   KindVideo,
		}))
	}
	return flow.Fan(NodeAggregateGuardrails, msgs...)
}

// newAggregateGuardrailsNode consolidates every guardrail branch into one
// verdict. The final URL lists come from the checked records, not the raw
// generation output, so a regenerated asset replaces its rejected original.
func newAggregateGuardrailsNode() flow.Func {
	return func(ctx context.Context, s flow.State) flow.Result {
		evalSummary := ""
		if ev := s.Map(FieldEvaluation); ev != nil {
			evalSummary, _ = ev["summary"].(string)
		}

		report, err := guard.Aggregate(
			violationsFromState(s),
			itemRecordsFromState(s, FieldCheckedImages),
			s.Int(FieldExpectedImages),
			evalSummary,
		)
		if err != nil {
			return flow.Result{Err: integrityErr(NodeAggregateGuardrails, "checked image set corrupt", err)}
		}
		videoURLs, err := guard.Reassemble(itemRecordsFromState(s, FieldCheckedVideos), s.Int(FieldExpectedVideos))
		if err != nil {
			return flow.Result{Err: integrityErr(NodeAggregateGuardrails, "checked video set corrupt", err)}
		}

		return flow.Result{Delta: flow.State{
			FieldGuardrailPassed:  report.Passed,
			FieldGuardrailSummary: report.Summary,
			FieldImageURLs:        report.Ordered,
			FieldVideoURLs:        videoURLs,
		}}
	}
}

func routeAggregated(s flow.State) flow.Route {
	if s.Bool(FieldGuardrailPassed) {
		return flow.Goto(NodeReviewGate)
	}
	return flow.Goto(NodeAutoReject)
}

func validationErr(node, msg string) error {
	return &flow.NodeError{Node: node, Category: flow.CategoryValidation, Message: msg}
}

func integrityErr(node, msg string, cause error) error {
	return &flow.NodeError{Node: node, Category: flow.CategoryIntegrity, Message: msg, Cause: cause}
}
