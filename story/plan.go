package story

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/dshills/storyflow-go/flow"
	"github.com/dshills/storyflow-go/flow/model"
)

// MaxScenes caps animated scene generation per story. Video generation is
// slow and expensive, so scenes stay few regardless of illustration count.
const MaxScenes = 2

const illustratorSystemPrompt = `You are an art director for illustrated children's books.
Given a story, write one illustration prompt per key scene for an image
model. Each prompt must describe a single self-contained scene in a warm,
colorful, child-friendly style and must not reference other scenes.

Respond with a JSON object: {"prompts": ["...", "..."]}`

func newPlanIllustrationsNode(m model.ChatModel) flow.Func {
	return func(ctx context.Context, s flow.State) flow.Result {
		want := s.Int(FieldNumIllustrations)
		user := fmt.Sprintf("Create exactly %d illustration prompts.\n\nTitle: %s\n\nStory:\n%s",
			want, s.String(FieldStoryTitle), s.String(FieldStoryText))
		out, err := m.Chat(ctx, []model.Message{
			model.System(illustratorSystemPrompt),
			model.User(user),
		})
		if err != nil {
			return flow.Result{Err: err}
		}
		prompts, err := parsePromptList(out.Text)
		if err != nil {
			return flow.Result{Err: fmt.Errorf("illustration planner: %w", err)}
		}
		if len(prompts) == 0 {
			return flow.Result{Err: fmt.Errorf("illustration planner returned no prompts")}
		}
		if len(prompts) > want {
			prompts = prompts[:want]
		}
		return flow.Result{Delta: flow.State{
			FieldImagePrompts:   prompts,
			FieldExpectedImages: len(prompts),
		}}
	}
}

// routeIllustrations dispatches one generation branch per planned prompt.
// All branches rejoin at assemble_media, shared with the scene fan-out.
func routeIllustrations(s flow.State) flow.Route {
	prompts := stringsFromState(s, FieldImagePrompts)
	msgs := make([]flow.Dispatch, 0, len(prompts))
	for i, p := range prompts {
		msgs = append(msgs, flow.Send(NodeGenerateImage, map[string]any{
			FieldCurrentIndex:  i,
			FieldCurrentPrompt: p,
			FieldCurrentKind:   KindImage,
		}))
	}
	return flow.Fan(NodeAssembleMedia, msgs...)
}

const sceneSystemPrompt = `You are a storyboard artist for short animated clips.
Given a children's story, pick its most animatable moments and write one
motion-focused scene prompt per moment for a video model. Keep motion
gentle and simple.

Respond with a JSON object: {"prompts": ["...", "..."]}`

func newPlanScenesNode(m model.ChatModel) flow.Func {
	return func(ctx context.Context, s flow.State) flow.Result {
		if !s.Bool(FieldGenerateVideos) {
			return flow.Result{Delta: flow.State{
				FieldVideoPrompts:   []string{},
				FieldExpectedVideos: 0,
			}}
		}
		if m == nil {
			return flow.Result{Err: fmt.Errorf("video generation requested but no scene planner configured")}
		}
		user := fmt.Sprintf("Create at most %d scene prompts.\n\nTitle: %s\n\nStory:\n%s",
			MaxScenes, s.String(FieldStoryTitle), s.String(FieldStoryText))
		out, err := m.Chat(ctx, []model.Message{
			model.System(sceneSystemPrompt),
			model.User(user),
		})
		if err != nil {
			return flow.Result{Err: err}
		}
		prompts, err := parsePromptList(out.Text)
		if err != nil {
			return flow.Result{Err: fmt.Errorf("scene planner: %w", err)}
		}
		if len(prompts) > MaxScenes {
			prompts = prompts[:MaxScenes]
		}
		return flow.Result{Delta: flow.State{
			FieldVideoPrompts:   prompts,
			FieldExpectedVideos: len(prompts),
		}}
	}
}

// routeScenes dispatches one branch per scene. With videos disabled the
// fan-out is empty and assemble_media's join is satisfied by the
// illustration branches alone.
func routeScenes(s flow.State) flow.Route {
	prompts := stringsFromState(s, FieldVideoPrompts)
	msgs := make([]flow.Dispatch, 0, len(prompts))
	for i, p := range prompts {
		msgs = append(msgs, flow.Send(NodeGenerateVideo, map[string]any{
			FieldCurrentIndex:  i,
			FieldCurrentPrompt: p,
			FieldCurrentKind:   KindVideo,
		}))
	}
	return flow.Fan(NodeAssembleMedia, msgs...)
}

// parsePromptList accepts both the documented {"prompts": [...]} wrapper and
// a bare JSON array, which some models insist on.
func parsePromptList(text string) ([]string, error) {
	cleaned := model.ExtractJSON(text)
	var wrap struct {
		Prompts []string `json:"prompts"`
	}
	if err := json.Unmarshal([]byte(cleaned), &wrap); err == nil && wrap.Prompts != nil {
		return wrap.Prompts, nil
	}
	var bare []string
	if err := json.Unmarshal([]byte(cleaned), &bare); err != nil {
		return nil, fmt.Errorf("malformed prompt list: %w", err)
	}
	return bare, nil
}
