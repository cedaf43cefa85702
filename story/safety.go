package story

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/dshills/storyflow-go/flow/guard"
	"github.com/dshills/storyflow-go/flow/model"
)

// CheckInput describes one piece of content for a safety check.
type CheckInput struct {
	// Kind classifies the content: KindInput, KindStory, KindImage or
	// KindVideo.
	Kind string

	// Index positions the content within a fan-out, or guard.NoIndex for
	// whole-run content such as the story text.
	Index int

	// Content is the text to check. For media this is the generation
	// prompt that produced the asset.
	Content string

	// AgeGroup is the target reader band the content must suit.
	AgeGroup string
}

// SafetyChecker screens content for a children's audience. An empty
// violation list means the content passed; a non-nil error means the check
// itself could not run.
type SafetyChecker interface {
	Check(ctx context.Context, in CheckInput) ([]guard.Violation, error)
}

// Guardrail names reported by ModelChecker.
const (
	GuardAgeAppropriate = "age_appropriate"
	GuardNoViolence     = "no_violence"
	GuardNoFear         = "no_fear"
	GuardSafeLanguage   = "safe_language"
	GuardPositiveTone   = "positive_tone"
)

const checkerSystemPrompt = `You are a content safety checker for children's stories.
Evaluate the content against these guardrails:
- age_appropriate: suitable for the stated age group
- no_violence: no violence or harm to people or animals
- no_fear: nothing frightening or distressing for young readers
- safe_language: no profanity, slurs or crude language
- positive_tone: no hopeless, cruel or mean-spirited framing

Respond with a JSON object:
{"violations": [{"guardrail": "...", "severity": "hard"|"soft", "confidence": 0.0-1.0, "detail": "..."}]}

Use "hard" for content that must not reach children, "soft" for borderline
content a human reviewer should see. Return an empty list when the content
passes all guardrails.`

// ModelChecker screens content by asking a chat model to classify it.
type ModelChecker struct {
	model model.ChatModel
}

// NewModelChecker builds a checker backed by m.
func NewModelChecker(m model.ChatModel) (*ModelChecker, error) {
	if m == nil {
		return nil, fmt.Errorf("chat model cannot be nil")
	}
	return &ModelChecker{model: m}, nil
}

// Check classifies the content and maps the model's findings onto
// guard.Violation values carrying the input's kind and index.
func (c *ModelChecker) Check(ctx context.Context, in CheckInput) ([]guard.Violation, error) {
	user := fmt.Sprintf("Age group: %s\nContent kind: %s\n\nContent:\n%s", in.AgeGroup, in.Kind, in.Content)
	out, err := c.model.Chat(ctx, []model.Message{
		model.System(checkerSystemPrompt),
		model.User(user),
	})
	if err != nil {
		return nil, fmt.Errorf("safety check failed: %w", err)
	}
	return parseCheckerReply(out.Text, in)
}

type checkerReply struct {
	Violations []checkerFinding `json:"violations"`
}

type checkerFinding struct {
	Guardrail  string  `json:"guardrail"`
	Severity   string  `json:"severity"`
	Confidence float64 `json:"confidence"`
	Detail     string  `json:"detail"`
}

// parseCheckerReply decodes the model's JSON reply. Unknown severities are
// promoted to hard so a confused model never waves content through.
func parseCheckerReply(text string, in CheckInput) ([]guard.Violation, error) {
	cleaned := model.ExtractJSON(text)
	var reply checkerReply
	if err := json.Unmarshal([]byte(cleaned), &reply); err != nil {
		// Some models reply with a bare array instead of the wrapper.
		if err2 := json.Unmarshal([]byte(cleaned), &reply.Violations); err2 != nil {
			return nil, fmt.Errorf("safety checker returned malformed reply: %w", err)
		}
	}
	out := make([]guard.Violation, 0, len(reply.Violations))
	for _, f := range reply.Violations {
		sev := guard.Severity(strings.ToLower(f.Severity))
		if sev != guard.SeverityHard && sev != guard.SeveritySoft {
			sev = guard.SeverityHard
		}
		out = append(out, guard.Violation{
			Guardrail:  f.Guardrail,
			Kind:       in.Kind,
			Index:      in.Index,
			Severity:   sev,
			Confidence: f.Confidence,
			Detail:     f.Detail,
		})
	}
	return out, nil
}
