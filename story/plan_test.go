package story

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/dshills/storyflow-go/flow"
	"github.com/dshills/storyflow-go/flow/model/mock"
)

func TestPlanIllustrations(t *testing.T) {
	ctx := context.Background()
	base := flow.State{
		FieldNumIllustrations: 3,
		FieldStoryTitle:       "The Baking Dragon",
		FieldStoryText:        "Once upon a time.",
	}

	t.Run("plans one prompt per illustration", func(t *testing.T) {
		m := &mock.Model{Replies: []string{`{"prompts":["dragon kneading dough","dragon at the oven","village feast"]}`}}
		res := newPlanIllustrationsNode(m)(ctx, base)
		if res.Err != nil {
			t.Fatalf("node failed: %v", res.Err)
		}
		want := []string{"dragon kneading dough", "dragon at the oven", "village feast"}
		if !reflect.DeepEqual(res.Delta[FieldImagePrompts], want) {
			t.Errorf("image_prompts = %v", res.Delta[FieldImagePrompts])
		}
		if res.Delta[FieldExpectedImages] != 3 {
			t.Errorf("expected_images = %v", res.Delta[FieldExpectedImages])
		}

		calls := m.Calls()
		wantUser := "Create exactly 3 illustration prompts.\n\nTitle: The Baking Dragon\n\nStory:\nOnce upon a time."
		if calls[0][1].Content != wantUser {
			t.Errorf("user message = %q", calls[0][1].Content)
		}
	})

	t.Run("truncates an overlong list", func(t *testing.T) {
		s := flow.State{FieldNumIllustrations: 2, FieldStoryTitle: "T", FieldStoryText: "S"}
		m := &mock.Model{Replies: []string{`{"prompts":["a","b","c","d"]}`}}
		res := newPlanIllustrationsNode(m)(ctx, s)
		if res.Err != nil {
			t.Fatalf("node failed: %v", res.Err)
		}
		if !reflect.DeepEqual(res.Delta[FieldImagePrompts], []string{"a", "b"}) {
			t.Errorf("image_prompts = %v", res.Delta[FieldImagePrompts])
		}
		if res.Delta[FieldExpectedImages] != 2 {
			t.Errorf("expected_images = %v", res.Delta[FieldExpectedImages])
		}
	})

	t.Run("empty list fails", func(t *testing.T) {
		m := &mock.Model{Replies: []string{`{"prompts":[]}`}}
		res := newPlanIllustrationsNode(m)(ctx, base)
		if res.Err == nil || !strings.Contains(res.Err.Error(), "no prompts") {
			t.Errorf("err = %v", res.Err)
		}
	})

	t.Run("malformed reply", func(t *testing.T) {
		m := &mock.Model{Replies: []string{"three nice pictures"}}
		res := newPlanIllustrationsNode(m)(ctx, base)
		if res.Err == nil || !strings.Contains(res.Err.Error(), "illustration planner:") {
			t.Errorf("err = %v", res.Err)
		}
	})

	t.Run("model error passes through", func(t *testing.T) {
		cause := errors.New("no capacity")
		res := newPlanIllustrationsNode(&mock.Model{Err: cause})(ctx, base)
		if !errors.Is(res.Err, cause) {
			t.Errorf("err = %v", res.Err)
		}
	})
}

func TestRouteIllustrations(t *testing.T) {
	s := flow.State{FieldImagePrompts: []string{"a meadow", "a river"}}
	want := flow.Fan(NodeAssembleMedia,
		flow.Send(NodeGenerateImage, map[string]any{
			FieldCurrentIndex:  0,
			FieldCurrentPrompt: "a meadow",
			FieldCurrentKind:   KindImage,
		}),
		flow.Send(NodeGenerateImage, map[string]any{
			FieldCurrentIndex:  1,
			FieldCurrentPrompt: "a river",
			FieldCurrentKind:   KindImage,
		}),
	)
	if got := routeIllustrations(s); !reflect.DeepEqual(got, want) {
		t.Errorf("route = %+v, want %+v", got, want)
	}
}

func TestPlanScenes(t *testing.T) {
	ctx := context.Background()
	enabled := flow.State{
		FieldGenerateVideos: true,
		FieldStoryTitle:     "The Baking Dragon",
		FieldStoryText:      "Once upon a time.",
	}

	t.Run("disabled requests skip the planner", func(t *testing.T) {
		m := &mock.Model{Replies: []string{`{"prompts":["never used"]}`}}
		res := newPlanScenesNode(m)(ctx, flow.State{FieldGenerateVideos: false})
		if res.Err != nil {
			t.Fatalf("node failed: %v", res.Err)
		}
		if !reflect.DeepEqual(res.Delta[FieldVideoPrompts], []string{}) {
			t.Errorf("video_prompts = %v", res.Delta[FieldVideoPrompts])
		}
		if res.Delta[FieldExpectedVideos] != 0 {
			t.Errorf("expected_videos = %v", res.Delta[FieldExpectedVideos])
		}
		if m.CallCount() != 0 {
			t.Errorf("planner called %d times for a disabled request", m.CallCount())
		}
	})

	t.Run("disabled requests tolerate a nil planner", func(t *testing.T) {
		res := newPlanScenesNode(nil)(ctx, flow.State{FieldGenerateVideos: false})
		if res.Err != nil {
			t.Fatalf("node failed: %v", res.Err)
		}
	})

	t.Run("enabled without planner fails", func(t *testing.T) {
		res := newPlanScenesNode(nil)(ctx, enabled)
		if res.Err == nil || !strings.Contains(res.Err.Error(), "no scene planner configured") {
			t.Errorf("err = %v", res.Err)
		}
	})

	t.Run("caps scenes", func(t *testing.T) {
		m := &mock.Model{Replies: []string{`{"prompts":["s0","s1","s2"]}`}}
		res := newPlanScenesNode(m)(ctx, enabled)
		if res.Err != nil {
			t.Fatalf("node failed: %v", res.Err)
		}
		if !reflect.DeepEqual(res.Delta[FieldVideoPrompts], []string{"s0", "s1"}) {
			t.Errorf("video_prompts = %v", res.Delta[FieldVideoPrompts])
		}
		if res.Delta[FieldExpectedVideos] != MaxScenes {
			t.Errorf("expected_videos = %v", res.Delta[FieldExpectedVideos])
		}
	})

	t.Run("malformed reply", func(t *testing.T) {
		m := &mock.Model{Replies: []string{"two lovely scenes"}}
		res := newPlanScenesNode(m)(ctx, enabled)
		if res.Err == nil || !strings.Contains(res.Err.Error(), "scene planner:") {
			t.Errorf("err = %v", res.Err)
		}
	})
}

func TestRouteScenes(t *testing.T) {
	s := flow.State{FieldVideoPrompts: []string{"fox waves goodbye"}}
	want := flow.Fan(NodeAssembleMedia,
		flow.Send(NodeGenerateVideo, map[string]any{
			FieldCurrentIndex:  0,
			FieldCurrentPrompt: "fox waves goodbye",
			FieldCurrentKind:   KindVideo,
		}),
	)
	if got := routeScenes(s); !reflect.DeepEqual(got, want) {
		t.Errorf("route = %+v, want %+v", got, want)
	}
}

func TestParsePromptList(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    []string
		wantErr bool
	}{
		{name: "wrapper object", in: `{"prompts":["a","b"]}`, want: []string{"a", "b"}},
		{name: "bare array", in: `["a","b"]`, want: []string{"a", "b"}},
		{name: "fenced wrapper", in: "```json\n{\"prompts\":[\"a\"]}\n```", want: []string{"a"}},
		{name: "empty wrapper", in: `{"prompts":[]}`, want: []string{}},
		{name: "object without prompts", in: `{"scenes":["a"]}`, wantErr: true},
		{name: "prose", in: "scene one, scene two", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parsePromptList(tt.in)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("parsePromptList(%q) = %v, want error", tt.in, got)
				}
				if !strings.Contains(err.Error(), "malformed prompt list") {
					t.Errorf("err = %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("parsePromptList(%q): %v", tt.in, err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("parsePromptList(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}
