package story

import (
	"fmt"

	"github.com/dshills/storyflow-go/flow"
	"github.com/dshills/storyflow-go/flow/guard"
	"github.com/dshills/storyflow-go/flow/model"
)

// Pipeline node IDs.
const (
	NodeModerateInput       = "moderate_input"
	NodeWriteStory          = "write_story"
	NodePlanIllustrations   = "plan_illustrations"
	NodePlanScenes          = "plan_scenes"
	NodeGenerateImage       = "generate_image"
	NodeGenerateVideo       = "generate_video"
	NodeAssembleMedia       = "assemble_media"
	NodeEvaluateStory       = "evaluate_story"
	NodeCheckStory          = "check_story"
	NodeCheckImage          = "check_image"
	NodeCheckVideo          = "check_video"
	NodeAggregateGuardrails = "aggregate_guardrails"
	NodeReviewGate          = "review_gate"
	NodePublish             = "publish"
	NodeRejectStory         = "reject_story"
	NodeAutoReject          = "auto_reject"
)

// Default guardrail retry behavior. A stubborn illustration is routed to
// the aggregator for rejection with full findings; a stubborn video aborts
// its branch, since clips are too expensive to keep regenerating blind.
var (
	DefaultImageRetry = guard.RetryConfig{MaxRetries: 2, OnExhausted: guard.ExhaustRoute}
	DefaultVideoRetry = guard.RetryConfig{MaxRetries: 1, OnExhausted: guard.ExhaustFail}
)

// Config supplies the external collaborators of the pipeline.
type Config struct {
	// Writer powers write_story. Required.
	Writer model.ChatModel

	// Planner powers plan_illustrations and plan_scenes. Defaults to Writer.
	Planner model.ChatModel

	// Evaluator powers evaluate_story. Defaults to Writer.
	Evaluator model.ChatModel

	// Checker screens input, story and media prompts. Required.
	Checker SafetyChecker

	// Images produces illustrations. Required.
	Images ImageGenerator

	// Videos produces animated scenes. Required only when requests enable
	// video generation.
	Videos VideoGenerator

	// ImageRetry bounds illustration regeneration. Nil selects
	// DefaultImageRetry.
	ImageRetry *guard.RetryConfig

	// VideoRetry bounds scene regeneration. Nil selects DefaultVideoRetry.
	VideoRetry *guard.RetryConfig
}

func (c *Config) validate() error {
	if c.Writer == nil {
		return fmt.Errorf("writer model is required")
	}
	if c.Checker == nil {
		return fmt.Errorf("safety checker is required")
	}
	if c.Images == nil {
		return fmt.Errorf("image generator is required")
	}
	return nil
}

// BuildGraph wires the story pipeline.
//
// moderate_input routes to write_story, or straight to auto_reject on a
// flagged prompt. write_story fans statically into the two planners, which
// dispatch generate_image and generate_video branches; both planners name
// assemble_media as their join, so the engine coalesces the fan-outs into
// one barrier and an empty scene fan-out leaves the barrier waiting on
// illustrations alone. assemble_media dispatches the quality pass
// (evaluate_story, check_story, one check branch per asset) joining at
// aggregate_guardrails, which routes to the suspending review_gate on pass
// or auto_reject on hard findings. The gate resumes into publish or
// reject_story.
func BuildGraph(cfg Config) (*flow.Graph, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	planner := cfg.Planner
	if planner == nil {
		planner = cfg.Writer
	}
	evaluator := cfg.Evaluator
	if evaluator == nil {
		evaluator = cfg.Writer
	}
	imageRetry := DefaultImageRetry
	if cfg.ImageRetry != nil {
		imageRetry = *cfg.ImageRetry
	}
	videoRetry := DefaultVideoRetry
	if cfg.VideoRetry != nil {
		videoRetry = *cfg.VideoRetry
	}

	g := flow.NewGraph()
	var err error
	add := func(id string, n flow.Node) {
		if err == nil {
			err = g.Add(id, n)
		}
	}
	connect := func(from, to string) {
		if err == nil {
			err = g.Connect(from, to)
		}
	}
	route := func(id string, r flow.Router) {
		if err == nil {
			err = g.Route(id, r)
		}
	}

	add(NodeModerateInput, newModerateInputNode(cfg.Checker))
	add(NodeWriteStory, newWriteStoryNode(cfg.Writer))
	add(NodePlanIllustrations, newPlanIllustrationsNode(planner))
	add(NodePlanScenes, newPlanScenesNode(planner))
	add(NodeGenerateImage, newGenerateImageNode(cfg.Images))
	add(NodeGenerateVideo, newGenerateVideoNode(cfg.Videos))
	add(NodeAssembleMedia, newAssembleMediaNode())
	add(NodeEvaluateStory, newEvaluateStoryNode(evaluator))
	add(NodeCheckStory, newCheckStoryNode(cfg.Checker))
	add(NodeCheckImage, newCheckImageNode(cfg.Checker, cfg.Images, imageRetry))
	add(NodeCheckVideo, newCheckVideoNode(cfg.Checker, cfg.Videos, videoRetry))
	add(NodeAggregateGuardrails, newAggregateGuardrailsNode())
	add(NodeReviewGate, newReviewGateNode())
	add(NodePublish, newPublishNode())
	add(NodeRejectStory, newRejectStoryNode())
	add(NodeAutoReject, newAutoRejectNode())

	route(NodeModerateInput, routeModeration)
	connect(NodeWriteStory, NodePlanIllustrations)
	connect(NodeWriteStory, NodePlanScenes)
	route(NodePlanIllustrations, routeIllustrations)
	route(NodePlanScenes, routeScenes)
	route(NodeAssembleMedia, routeAssembled)
	route(NodeAggregateGuardrails, routeAggregated)
	route(NodeReviewGate, routeReview)
	connect(NodePublish, flow.End)
	connect(NodeRejectStory, flow.End)
	connect(NodeAutoReject, flow.End)
	if err != nil {
		return nil, err
	}

	if err := g.StartAt(NodeModerateInput); err != nil {
		return nil, err
	}
	if err := g.Validate(); err != nil {
		return nil, err
	}
	return g, nil
}
