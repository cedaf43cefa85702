package story

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/dshills/storyflow-go/flow"
	"github.com/dshills/storyflow-go/flow/store"
	"github.com/dshills/storyflow-go/jobs"
	"github.com/dshills/storyflow-go/notify"
)

// Decision is a reviewer's verdict on a suspended job.
type Decision struct {
	Approved   bool
	Comment    string
	ReviewerID string
}

// ServiceOption configures optional service collaborators.
type ServiceOption func(*Service)

// WithStatusCache publishes job status to a Redis cache for pollers.
func WithStatusCache(c *jobs.Cache) ServiceOption {
	return func(s *Service) { s.cache = c }
}

// WithNotifier posts a webhook when a job reaches a terminal state or
// suspends for review.
func WithNotifier(n *notify.Webhook) ServiceOption {
	return func(s *Service) { s.notifier = n }
}

// Service runs story jobs end to end: request validation, engine runs,
// review decisions and regeneration of rejected jobs. Status reporting and
// webhooks are advisory; their failures never change a job's outcome.
type Service struct {
	eng      *flow.Engine
	store    store.Store[flow.State]
	cache    *jobs.Cache
	notifier *notify.Webhook
}

// NewService builds a service around an engine. The store is the engine's
// checkpoint store; it may be nil, in which case Regenerate is unavailable.
func NewService(eng *flow.Engine, st store.Store[flow.State], opts ...ServiceOption) (*Service, error) {
	if eng == nil {
		return nil, fmt.Errorf("engine cannot be nil")
	}
	s := &Service{eng: eng, store: st}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Start validates the request and runs the pipeline to its first stop:
// published, rejected, failed or suspended for review. The outcome's RunID
// is the job ID to use with Decide.
func (s *Service) Start(ctx context.Context, req Request) (flow.Outcome, error) {
	req.ApplyDefaults()
	if err := req.Validate(); err != nil {
		return flow.Outcome{}, fmt.Errorf("invalid request: %w", err)
	}
	if req.JobID == "" {
		req.JobID = uuid.NewString()
	}

	s.setStatus(ctx, req.JobID, jobs.StateProcessing, "")
	out := s.eng.Run(ctx, req.JobID, InitialState(req))
	s.report(ctx, out)
	return out, nil
}

// Decide resumes a suspended job with a reviewer's verdict. A second
// decision for the same suspension is rejected with
// store.ErrAlreadyResumed so the publish side effect can never run twice.
func (s *Service) Decide(ctx context.Context, jobID string, d Decision) (flow.Outcome, error) {
	decision := map[string]any{
		FieldReviewDecision: DecisionRejected,
		FieldReviewComment:  d.Comment,
		FieldReviewerID:     d.ReviewerID,
	}
	if d.Approved {
		decision[FieldReviewDecision] = DecisionApproved
	}

	out, err := s.eng.Resume(ctx, jobID, decision)
	if err != nil {
		return flow.Outcome{}, fmt.Errorf("resume job %s: %w", jobID, err)
	}
	s.report(ctx, out)
	return out, nil
}

// Regenerate starts a fresh job with the same request parameters as a
// previous one, linking the new job to its parent. Used after a rejection
// to try again under a new job ID.
func (s *Service) Regenerate(ctx context.Context, parentJobID string) (flow.Outcome, error) {
	if s.store == nil {
		return flow.Outcome{}, fmt.Errorf("regeneration requires a checkpoint store")
	}
	state, _, err := s.store.LoadLatest(ctx, parentJobID)
	if err != nil {
		return flow.Outcome{}, fmt.Errorf("load parent job %s: %w", parentJobID, err)
	}
	return s.Start(ctx, Request{
		JobID:            uuid.NewString(),
		Prompt:           state.String(FieldPrompt),
		AgeGroup:         state.String(FieldAgeGroup),
		NumIllustrations: state.Int(FieldNumIllustrations),
		GenerateVideos:   state.Bool(FieldGenerateVideos),
		ParentJobID:      parentJobID,
	})
}

// Status returns a job's cached status for pollers.
func (s *Service) Status(ctx context.Context, jobID string) (jobs.Status, bool, error) {
	return s.cache.Get(ctx, jobID)
}

// report publishes an outcome to the status cache and webhook.
func (s *Service) report(ctx context.Context, out flow.Outcome) {
	state, detail := jobState(out)
	s.setStatus(ctx, out.RunID, state, detail)
	if s.notifier != nil {
		_ = s.notifier.Notify(ctx, notify.Payload{
			JobID:   out.RunID,
			Status:  state,
			Summary: detail,
		})
	}
}

// jobState maps an engine outcome to the polling vocabulary.
func jobState(out flow.Outcome) (string, string) {
	switch out.Status {
	case flow.StatusSuspended:
		return jobs.StatePendingReview, "awaiting review decision"
	case flow.StatusFailed:
		detail := ""
		if out.Err != nil {
			detail = out.Err.Error()
		}
		return jobs.StateFailed, detail
	default:
		if out.State.Bool(FieldRejected) {
			return jobs.StateRejected, out.State.String(FieldRejectReason)
		}
		return jobs.StatePublished, out.State.String(FieldStoryTitle)
	}
}

func (s *Service) setStatus(ctx context.Context, jobID, state, detail string) {
	if s.cache == nil {
		return
	}
	_ = s.cache.Set(ctx, jobID, jobs.Status{
		State:     state,
		Detail:    detail,
		UpdatedAt: time.Now().UTC(),
	})
}
