package story

import (
	"context"
	"fmt"

	"github.com/dshills/storyflow-go/flow"
)

// ImageGenerator produces an illustration from a prompt, returning the URL
// of the stored asset. Implementations must be safe for concurrent use; the
// pipeline runs one generation branch per illustration in parallel.
type ImageGenerator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// VideoGenerator produces a short animated clip from a scene prompt,
// returning the URL of the stored asset. Implementations must be safe for
// concurrent use.
type VideoGenerator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// newGenerateImageNode runs one illustration branch. The branch reads only
// its dispatch payload and appends a single record carrying its assigned
// index, so siblings never contend and the aggregator can reassemble order.
func newGenerateImageNode(gen ImageGenerator) flow.Func {
	return func(ctx context.Context, s flow.State) flow.Result {
		idx := s.Int(FieldCurrentIndex)
		prompt := s.String(FieldCurrentPrompt)
		url, err := gen.Generate(ctx, prompt)
		if err != nil {
			return flow.Result{Err: fmt.Errorf("image %d: %w", idx, err)}
		}
		rec := map[string]any{"index": idx, "url": url, "prompt": prompt}
		return flow.Result{Delta: flow.State{FieldGeneratedImages: []any{rec}}}
	}
}

// newGenerateVideoNode runs one animated scene branch.
func newGenerateVideoNode(gen VideoGenerator) flow.Func {
	return func(ctx context.Context, s flow.State) flow.Result {
		if gen == nil {
			return flow.Result{Err: fmt.Errorf("video generation requested but no generator configured")}
		}
		idx := s.Int(FieldCurrentIndex)
		prompt := s.String(FieldCurrentPrompt)
		url, err := gen.Generate(ctx, prompt)
		if err != nil {
			return flow.Result{Err: fmt.Errorf("video %d: %w", idx, err)}
		}
		rec := map[string]any{"index": idx, "url": url, "prompt": prompt}
		return flow.Result{Delta: flow.State{FieldGeneratedVideos: []any{rec}}}
	}
}
