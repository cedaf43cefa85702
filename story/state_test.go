package story

import (
	"strings"
	"testing"

	"github.com/dshills/storyflow-go/flow"
	"github.com/dshills/storyflow-go/flow/guard"
)

func TestSchema(t *testing.T) {
	s := Schema()

	appendFields := []string{
		FieldViolations,
		FieldGeneratedImages,
		FieldGeneratedVideos,
		FieldCheckedImages,
		FieldCheckedVideos,
	}
	for _, f := range appendFields {
		if got, ok := s[f]; !ok || got != flow.Append {
			t.Errorf("field %q: policy = %v, ok = %v, want Append", f, got, ok)
		}
	}

	replaceFields := []string{
		FieldJobID, FieldPrompt, FieldAgeGroup, FieldStoryText,
		FieldImagePrompts, FieldImageURLs, FieldReviewDecision,
		FieldCurrentIndex, FieldCurrentPrompt, FieldRejectReason,
	}
	for _, f := range replaceFields {
		if got, ok := s[f]; !ok || got != flow.Replace {
			t.Errorf("field %q: policy = %v, ok = %v, want Replace", f, got, ok)
		}
	}

	appendCount := 0
	for _, p := range s {
		if p == flow.Append {
			appendCount++
		}
	}
	if appendCount != len(appendFields) {
		t.Errorf("schema declares %d append fields, want %d", appendCount, len(appendFields))
	}
}

func TestRequestApplyDefaults(t *testing.T) {
	r := Request{Prompt: "a fox learns to share"}
	r.ApplyDefaults()
	if r.AgeGroup != DefaultAgeGroup {
		t.Errorf("AgeGroup = %q, want %q", r.AgeGroup, DefaultAgeGroup)
	}
	if r.NumIllustrations != DefaultIllustrations {
		t.Errorf("NumIllustrations = %d, want %d", r.NumIllustrations, DefaultIllustrations)
	}

	r = Request{Prompt: "p", AgeGroup: "9-12", NumIllustrations: 5}
	r.ApplyDefaults()
	if r.AgeGroup != "9-12" || r.NumIllustrations != 5 {
		t.Errorf("defaults overwrote set fields: %+v", r)
	}
}

func TestRequestValidate(t *testing.T) {
	tests := []struct {
		name    string
		req     Request
		wantErr string
	}{
		{
			name: "valid",
			req:  Request{Prompt: "a dragon who bakes bread", AgeGroup: "6-8", NumIllustrations: 3},
		},
		{
			name: "min illustrations",
			req:  Request{Prompt: "p", AgeGroup: "3-5", NumIllustrations: MinIllustrations},
		},
		{
			name: "max illustrations",
			req:  Request{Prompt: "p", AgeGroup: "9-12", NumIllustrations: MaxIllustrations},
		},
		{
			name:    "empty prompt",
			req:     Request{AgeGroup: "6-8", NumIllustrations: 3},
			wantErr: "prompt cannot be empty",
		},
		{
			name:    "prompt too long",
			req:     Request{Prompt: strings.Repeat("x", MaxPromptLen+1), AgeGroup: "6-8", NumIllustrations: 3},
			wantErr: "exceeds",
		},
		{
			name:    "unknown age group",
			req:     Request{Prompt: "p", AgeGroup: "13-18", NumIllustrations: 3},
			wantErr: "not one of",
		},
		{
			name:    "zero illustrations",
			req:     Request{Prompt: "p", AgeGroup: "6-8", NumIllustrations: 0},
			wantErr: "outside",
		},
		{
			name:    "too many illustrations",
			req:     Request{Prompt: "p", AgeGroup: "6-8", NumIllustrations: MaxIllustrations + 1},
			wantErr: "outside",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() = %v, want nil", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("Validate() = nil, want error containing %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() = %q, want substring %q", err, tt.wantErr)
			}
		})
	}
}

func TestInitialState(t *testing.T) {
	r := Request{
		JobID:            "job-1",
		Prompt:           "a shy robot finds a friend",
		AgeGroup:         "3-5",
		NumIllustrations: 4,
		GenerateVideos:   true,
		ParentJobID:      "job-0",
	}
	s := InitialState(r)

	if got := s.String(FieldJobID); got != "job-1" {
		t.Errorf("job id = %q", got)
	}
	if got := s.String(FieldParentJobID); got != "job-0" {
		t.Errorf("parent job id = %q", got)
	}
	if got := s.String(FieldPrompt); got != r.Prompt {
		t.Errorf("prompt = %q", got)
	}
	if got := s.String(FieldAgeGroup); got != "3-5" {
		t.Errorf("age group = %q", got)
	}
	if got := s.Int(FieldNumIllustrations); got != 4 {
		t.Errorf("num illustrations = %d", got)
	}
	if !s.Bool(FieldGenerateVideos) {
		t.Error("generate videos not set")
	}
	if len(s) != 6 {
		t.Errorf("initial state has %d fields, want 6", len(s))
	}
}

func TestViolationRoundTrip(t *testing.T) {
	v := guard.Violation{
		Guardrail:  GuardNoFear,
		Kind:       KindImage,
		Index:      2,
		Severity:   guard.SeveritySoft,
		Confidence: 0.7,
		Detail:     "dark forest scene",
	}

	got, ok := violationFromAny(violationMap(v))
	if !ok {
		t.Fatal("violationFromAny rejected a violation map")
	}
	if got != v {
		t.Errorf("round trip = %+v, want %+v", got, v)
	}

	if _, ok := violationFromAny("not a map"); ok {
		t.Error("violationFromAny accepted a string")
	}
}

func TestViolationsFromState(t *testing.T) {
	a := guard.Violation{Guardrail: GuardNoViolence, Kind: KindStory, Index: guard.NoIndex, Severity: guard.SeverityHard, Confidence: 0.9, Detail: "sword fight"}
	b := guard.Violation{Guardrail: GuardPositiveTone, Kind: KindInput, Index: guard.NoIndex, Severity: guard.SeveritySoft, Confidence: 0.5, Detail: "gloomy premise"}

	s := flow.State{
		FieldViolations: []any{violationMap(a), "garbage", violationMap(b), 42},
	}
	got := violationsFromState(s)
	if len(got) != 2 {
		t.Fatalf("decoded %d violations, want 2", len(got))
	}
	if got[0] != a || got[1] != b {
		t.Errorf("decoded = %+v", got)
	}

	if got := violationsFromState(flow.State{}); len(got) != 0 {
		t.Errorf("empty state decoded %d violations", len(got))
	}
}

func TestItemRecordsFromState(t *testing.T) {
	s := flow.State{
		FieldGeneratedImages: []any{
			itemMap(1, "https://cdn/img-1.png"),
			itemMap(0, "https://cdn/img-0.png"),
			"not a record",
		},
	}
	got := itemRecordsFromState(s, FieldGeneratedImages)
	if len(got) != 2 {
		t.Fatalf("decoded %d records, want 2", len(got))
	}
	want := []guard.ItemRecord{
		{Index: 1, URL: "https://cdn/img-1.png"},
		{Index: 0, URL: "https://cdn/img-0.png"},
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("record %d = %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestStringsFromState(t *testing.T) {
	s := flow.State{
		FieldImagePrompts: []any{"a fox", 3, "a bear", nil},
	}
	got := stringsFromState(s, FieldImagePrompts)
	if len(got) != 2 || got[0] != "a fox" || got[1] != "a bear" {
		t.Errorf("stringsFromState = %v", got)
	}
	if got := stringsFromState(s, FieldVideoPrompts); len(got) != 0 {
		t.Errorf("missing field produced %v", got)
	}
}
