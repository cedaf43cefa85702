package story

import (
	"context"
	"fmt"
	"strings"

	"github.com/dshills/storyflow-go/flow"
	"github.com/dshills/storyflow-go/flow/guard"
)

// newCheckStoryNode screens the finished story text. Findings are appended
// for the aggregator; the story itself is never regenerated here, a flagged
// story goes to the reviewer or to auto-reject with its findings attached.
func newCheckStoryNode(checker SafetyChecker) flow.Func {
	return func(ctx context.Context, s flow.State) flow.Result {
		vs, err := checker.Check(ctx, CheckInput{
			Kind:     KindStory,
			Index:    guard.NoIndex,
			Content:  s.String(FieldStoryText),
			AgeGroup: s.String(FieldAgeGroup),
		})
		if err != nil {
			return flow.Result{Err: err}
		}
		if len(vs) == 0 {
			return flow.Result{}
		}
		return flow.Result{Delta: flow.State{FieldViolations: violationMaps(vs)}}
	}
}

// mediaItem is one candidate flowing through a guardrail retry loop.
type mediaItem struct {
	Index  int
	URL    string
	Prompt string
}

type generateFunc func(ctx context.Context, prompt string) (string, error)

// checkMedia runs the bounded check-regenerate loop for one media branch and
// returns the delta fields to merge: the final record appended to recField
// plus any findings for the aggregator.
func checkMedia(ctx context.Context, s flow.State, kind, recField string, checker SafetyChecker, gen generateFunc, cfg guard.RetryConfig) flow.Result {
	age := s.String(FieldAgeGroup)
	item := mediaItem{
		Index:  s.Int(FieldCurrentIndex),
		URL:    s.String(FieldCurrentURL),
		Prompt: s.String(FieldCurrentPrompt),
	}

	check := func(ctx context.Context, it mediaItem) ([]guard.Violation, error) {
		return checker.Check(ctx, CheckInput{
			Kind:     kind,
			Index:    it.Index,
			Content:  it.Prompt,
			AgeGroup: age,
		})
	}
	var regen guard.RegenerateFunc[mediaItem]
	if gen != nil {
		regen = func(ctx context.Context, it mediaItem, vs []guard.Violation) (mediaItem, error) {
			prompt := revisedPrompt(it.Prompt, vs)
			url, err := gen(ctx, prompt)
			if err != nil {
				return mediaItem{}, err
			}
			return mediaItem{Index: it.Index, URL: url, Prompt: prompt}, nil
		}
	}

	final, vs, err := guard.CheckWithRetry(ctx, cfg, item, check, regen)
	if err != nil {
		return flow.Result{Err: fmt.Errorf("%s %d: %w", kind, item.Index, err)}
	}
	delta := flow.State{recField: []any{itemMap(final.Index, final.URL)}}
	if len(vs) > 0 {
		delta[FieldViolations] = violationMaps(vs)
	}
	return flow.Result{Delta: delta}
}

// revisedPrompt steers a regeneration away from the findings that rejected
// the previous candidate.
func revisedPrompt(prompt string, vs []guard.Violation) string {
	reasons := make([]string, 0, len(vs))
	for _, v := range vs {
		if v.Detail != "" {
			reasons = append(reasons, v.Detail)
		} else {
			reasons = append(reasons, v.Guardrail)
		}
	}
	if len(reasons) == 0 {
		return prompt
	}
	return fmt.Sprintf("%s\n\nKeep the scene gentle and suitable for young children. Avoid: %s.",
		prompt, strings.Join(reasons, "; "))
}

func newCheckImageNode(checker SafetyChecker, gen ImageGenerator, cfg guard.RetryConfig) flow.Func {
	return func(ctx context.Context, s flow.State) flow.Result {
		var g generateFunc
		if gen != nil {
			g = gen.Generate
		}
		return checkMedia(ctx, s, KindImage, FieldCheckedImages, checker, g, cfg)
	}
}

func newCheckVideoNode(checker SafetyChecker, gen VideoGenerator, cfg guard.RetryConfig) flow.Func {
	return func(ctx context.Context, s flow.State) flow.Result {
		var g generateFunc
		if gen != nil {
			g = gen.Generate
		}
		return checkMedia(ctx, s, KindVideo, FieldCheckedVideos, checker, g, cfg)
	}
}
