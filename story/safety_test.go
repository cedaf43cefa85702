package story

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/dshills/storyflow-go/flow/guard"
	"github.com/dshills/storyflow-go/flow/model"
	"github.com/dshills/storyflow-go/flow/model/mock"
)

func TestNewModelChecker(t *testing.T) {
	if _, err := NewModelChecker(nil); err == nil {
		t.Error("NewModelChecker(nil) did not fail")
	}
	c, err := NewModelChecker(&mock.Model{Replies: []string{`{"violations":[]}`}})
	if err != nil {
		t.Fatalf("NewModelChecker: %v", err)
	}
	if c == nil {
		t.Fatal("checker is nil")
	}
}

func TestModelCheckerCheck(t *testing.T) {
	m := &mock.Model{Replies: []string{
		`{"violations":[{"guardrail":"no_fear","severity":"soft","confidence":0.6,"detail":"thunderstorm scene"}]}`,
	}}
	c, err := NewModelChecker(m)
	if err != nil {
		t.Fatalf("NewModelChecker: %v", err)
	}

	in := CheckInput{Kind: KindImage, Index: 3, Content: "a fox in a thunderstorm", AgeGroup: "3-5"}
	vs, err := c.Check(context.Background(), in)
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if len(vs) != 1 {
		t.Fatalf("got %d violations, want 1", len(vs))
	}
	want := guard.Violation{
		Guardrail:  GuardNoFear,
		Kind:       KindImage,
		Index:      3,
		Severity:   guard.SeveritySoft,
		Confidence: 0.6,
		Detail:     "thunderstorm scene",
	}
	if vs[0] != want {
		t.Errorf("violation = %+v, want %+v", vs[0], want)
	}

	calls := m.Calls()
	if len(calls) != 1 || len(calls[0]) != 2 {
		t.Fatalf("unexpected call shape: %d calls", len(calls))
	}
	if calls[0][0].Role != model.RoleSystem || !strings.Contains(calls[0][0].Content, "content safety checker") {
		t.Errorf("system message = %q", calls[0][0].Content)
	}
	wantUser := "Age group: 3-5\nContent kind: image\n\nContent:\na fox in a thunderstorm"
	if calls[0][1].Role != model.RoleUser || calls[0][1].Content != wantUser {
		t.Errorf("user message = %q, want %q", calls[0][1].Content, wantUser)
	}
}

func TestModelCheckerModelError(t *testing.T) {
	cause := errors.New("provider down")
	c, err := NewModelChecker(&mock.Model{Err: cause})
	if err != nil {
		t.Fatalf("NewModelChecker: %v", err)
	}
	_, err = c.Check(context.Background(), CheckInput{Kind: KindInput, Index: guard.NoIndex, Content: "p", AgeGroup: "6-8"})
	if err == nil {
		t.Fatal("Check did not fail")
	}
	if !errors.Is(err, cause) {
		t.Errorf("error %v does not wrap cause", err)
	}
	if !strings.Contains(err.Error(), "safety check failed") {
		t.Errorf("error = %q", err)
	}
}

func TestParseCheckerReply(t *testing.T) {
	in := CheckInput{Kind: KindStory, Index: guard.NoIndex, AgeGroup: "6-8"}

	t.Run("wrapper object", func(t *testing.T) {
		vs, err := parseCheckerReply(`{"violations":[{"guardrail":"no_violence","severity":"hard","confidence":0.9,"detail":"battle"}]}`, in)
		if err != nil {
			t.Fatalf("parse: %v", err)
		}
		if len(vs) != 1 || vs[0].Guardrail != GuardNoViolence || vs[0].Severity != guard.SeverityHard {
			t.Errorf("violations = %+v", vs)
		}
		if vs[0].Kind != KindStory || vs[0].Index != guard.NoIndex {
			t.Errorf("kind/index not stamped from input: %+v", vs[0])
		}
	})

	t.Run("bare array", func(t *testing.T) {
		vs, err := parseCheckerReply(`[{"guardrail":"safe_language","severity":"soft","confidence":0.4,"detail":"slang"}]`, in)
		if err != nil {
			t.Fatalf("parse: %v", err)
		}
		if len(vs) != 1 || vs[0].Guardrail != GuardSafeLanguage {
			t.Errorf("violations = %+v", vs)
		}
	})

	t.Run("fenced reply", func(t *testing.T) {
		text := "Here is my assessment:\n```json\n{\"violations\":[]}\n```"
		vs, err := parseCheckerReply(text, in)
		if err != nil {
			t.Fatalf("parse: %v", err)
		}
		if len(vs) != 0 {
			t.Errorf("violations = %+v", vs)
		}
	})

	t.Run("empty list passes", func(t *testing.T) {
		vs, err := parseCheckerReply(`{"violations":[]}`, in)
		if err != nil {
			t.Fatalf("parse: %v", err)
		}
		if len(vs) != 0 {
			t.Errorf("got %d violations", len(vs))
		}
	})

	t.Run("malformed reply", func(t *testing.T) {
		_, err := parseCheckerReply("I cannot evaluate this content.", in)
		if err == nil {
			t.Fatal("malformed reply accepted")
		}
		if !strings.Contains(err.Error(), "malformed reply") {
			t.Errorf("error = %q", err)
		}
	})

	t.Run("unknown severity promoted to hard", func(t *testing.T) {
		vs, err := parseCheckerReply(`{"violations":[{"guardrail":"no_fear","severity":"critical","confidence":1,"detail":"x"}]}`, in)
		if err != nil {
			t.Fatalf("parse: %v", err)
		}
		if len(vs) != 1 || vs[0].Severity != guard.SeverityHard {
			t.Errorf("violations = %+v", vs)
		}
	})

	t.Run("severity case folded", func(t *testing.T) {
		vs, err := parseCheckerReply(`{"violations":[{"guardrail":"no_fear","severity":"SOFT","confidence":0.3,"detail":"x"}]}`, in)
		if err != nil {
			t.Fatalf("parse: %v", err)
		}
		if len(vs) != 1 || vs[0].Severity != guard.SeveritySoft {
			t.Errorf("violations = %+v", vs)
		}
	})
}
