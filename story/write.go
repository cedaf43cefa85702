package story

import (
	"context"
	"encoding/json"
	"fmt"
	"math"

	"github.com/dshills/storyflow-go/flow"
	"github.com/dshills/storyflow-go/flow/guard"
	"github.com/dshills/storyflow-go/flow/model"
)

// newModerateInputNode screens the user's prompt before any generation
// spend. A hard finding flags the input; the router then short-circuits to
// auto_reject. All findings are recorded so a reviewer can see why.
func newModerateInputNode(checker SafetyChecker) flow.Func {
	return func(ctx context.Context, s flow.State) flow.Result {
		vs, err := checker.Check(ctx, CheckInput{
			Kind:     KindInput,
			Index:    guard.NoIndex,
			Content:  s.String(FieldPrompt),
			AgeGroup: s.String(FieldAgeGroup),
		})
		if err != nil {
			return flow.Result{Err: err}
		}

		delta := flow.State{FieldInputFlagged: false}
		if len(vs) > 0 {
			delta[FieldViolations] = violationMaps(vs)
		}
		if hard, _ := guard.Partition(vs); len(hard) > 0 {
			reason := hard[0].Detail
			if reason == "" {
				reason = hard[0].Guardrail
			}
			delta[FieldInputFlagged] = true
			delta[FieldFlagReason] = reason
		}
		return flow.Result{Delta: delta}
	}
}

func routeModeration(s flow.State) flow.Route {
	if s.Bool(FieldInputFlagged) {
		return flow.Goto(NodeAutoReject)
	}
	return flow.Goto(NodeWriteStory)
}

const writerSystemPrompt = `You are a celebrated children's story author.
Write a complete story for the requested age group: age-appropriate
vocabulary, a warm hopeful tone and a gentle moral.

Respond with a JSON object: {"title": "...", "story": "..."}`

func newWriteStoryNode(m model.ChatModel) flow.Func {
	return func(ctx context.Context, s flow.State) flow.Result {
		user := fmt.Sprintf("Age group: %s\n\nStory idea:\n%s",
			s.String(FieldAgeGroup), s.String(FieldPrompt))
		out, err := m.Chat(ctx, []model.Message{
			model.System(writerSystemPrompt),
			model.User(user),
		})
		if err != nil {
			return flow.Result{Err: err}
		}

		var reply struct {
			Title string `json:"title"`
			Story string `json:"story"`
		}
		if err := json.Unmarshal([]byte(model.ExtractJSON(out.Text)), &reply); err != nil {
			return flow.Result{Err: fmt.Errorf("writer returned malformed story: %w", err)}
		}
		if reply.Story == "" {
			return flow.Result{Err: fmt.Errorf("writer returned an empty story")}
		}
		title := reply.Title
		if title == "" {
			title = DefaultTitle
		}
		return flow.Result{Delta: flow.State{
			FieldStoryTitle: title,
			FieldStoryText:  reply.Story,
		}}
	}
}

const evaluatorSystemPrompt = `You are an editor evaluating a children's story.
Score each dimension from 0 to 10:
- moral_alignment: clarity and gentleness of the moral
- theme_relevance: fidelity to the requested story idea
- emotional_tone: warmth and emotional resonance
- age_appropriateness: fit for the stated age group
- educational_value: what a young reader learns

Respond with a JSON object:
{"moral_alignment": 0-10, "theme_relevance": 0-10, "emotional_tone": 0-10,
 "age_appropriateness": 0-10, "educational_value": 0-10, "summary": "..."}`

// Overall score weights. Moral clarity and emotional tone matter most for
// this audience; educational value is a bonus, not the point.
const (
	weightMoral       = 0.25
	weightTheme       = 0.20
	weightEmotional   = 0.25
	weightAge         = 0.20
	weightEducational = 0.10
)

func newEvaluateStoryNode(m model.ChatModel) flow.Func {
	return func(ctx context.Context, s flow.State) flow.Result {
		user := fmt.Sprintf("Age group: %s\nRequested idea: %s\n\nTitle: %s\n\nStory:\n%s",
			s.String(FieldAgeGroup), s.String(FieldPrompt),
			s.String(FieldStoryTitle), s.String(FieldStoryText))
		out, err := m.Chat(ctx, []model.Message{
			model.System(evaluatorSystemPrompt),
			model.User(user),
		})
		if err != nil {
			return flow.Result{Err: err}
		}

		var reply struct {
			MoralAlignment     float64 `json:"moral_alignment"`
			ThemeRelevance     float64 `json:"theme_relevance"`
			EmotionalTone      float64 `json:"emotional_tone"`
			AgeAppropriateness float64 `json:"age_appropriateness"`
			EducationalValue   float64 `json:"educational_value"`
			Summary            string  `json:"summary"`
		}
		if err := json.Unmarshal([]byte(model.ExtractJSON(out.Text)), &reply); err != nil {
			return flow.Result{Err: fmt.Errorf("evaluator returned malformed scores: %w", err)}
		}

		overall := round2(weightMoral*reply.MoralAlignment +
			weightTheme*reply.ThemeRelevance +
			weightEmotional*reply.EmotionalTone +
			weightAge*reply.AgeAppropriateness +
			weightEducational*reply.EducationalValue)
		summary := reply.Summary
		if summary == "" {
			summary = fmt.Sprintf("Overall score %.2f/10", overall)
		}
		return flow.Result{Delta: flow.State{FieldEvaluation: map[string]any{
			"moral_alignment":     reply.MoralAlignment,
			"theme_relevance":     reply.ThemeRelevance,
			"emotional_tone":      reply.EmotionalTone,
			"age_appropriateness": reply.AgeAppropriateness,
			"educational_value":   reply.EducationalValue,
			"overall_score":       overall,
			"summary":             summary,
		}}}
	}
}

func round2(x float64) float64 {
	return math.Round(x*100) / 100
}
