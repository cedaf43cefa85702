package story

import (
	"context"
	"time"

	"github.com/dshills/storyflow-go/flow"
)

// newReviewGateNode freezes the run for human review. The review package is
// both written to state and handed out as the suspension payload, so the
// reviewer UI needs no separate state lookup.
func newReviewGateNode() flow.Func {
	return func(ctx context.Context, s flow.State) flow.Result {
		pkg := map[string]any{
			"job_id":            s.String(FieldJobID),
			"story_title":       s.String(FieldStoryTitle),
			"story_text":        s.String(FieldStoryText),
			"age_group":         s.String(FieldAgeGroup),
			"evaluation":        s.Map(FieldEvaluation),
			"guardrail_summary": s.String(FieldGuardrailSummary),
			"image_urls":        s.Slice(FieldImageURLs),
			"video_urls":        s.Slice(FieldVideoURLs),
		}
		return flow.Result{
			Delta:   flow.State{FieldReviewPackage: pkg},
			Suspend: &flow.SuspendRequest{Payload: pkg},
		}
	}
}

// routeReview runs when the gate resumes, reading the merged decision.
// Anything other than an explicit approval rejects.
func routeReview(s flow.State) flow.Route {
	if s.String(FieldReviewDecision) == DecisionApproved {
		return flow.Goto(NodePublish)
	}
	return flow.Goto(NodeRejectStory)
}

func newPublishNode() flow.Func {
	return func(ctx context.Context, s flow.State) flow.Result {
		return flow.Result{Delta: flow.State{
			FieldPublished:   true,
			FieldPublishedAt: time.Now().UTC().Format(time.RFC3339),
		}}
	}
}

func newRejectStoryNode() flow.Func {
	return func(ctx context.Context, s flow.State) flow.Result {
		reason := s.String(FieldReviewComment)
		if reason == "" {
			reason = "rejected by reviewer"
		}
		return flow.Result{Delta: flow.State{
			FieldRejected:     true,
			FieldRejectReason: reason,
		}}
	}
}

// newAutoRejectNode terminates runs that never reach a reviewer: flagged
// input or hard guardrail findings.
func newAutoRejectNode() flow.Func {
	return func(ctx context.Context, s flow.State) flow.Result {
		reason := s.String(FieldFlagReason)
		if reason == "" {
			reason = s.String(FieldGuardrailSummary)
		}
		if reason == "" {
			reason = "rejected by guardrails"
		}
		return flow.Result{Delta: flow.State{
			FieldRejected:     true,
			FieldRejectReason: reason,
		}}
	}
}
