package media

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Default polling schedule for video operations. Clips render in tens of
// seconds, so polling starts eagerly and backs off to a steady cadence.
const (
	defaultPollInitial     = 3 * time.Second
	defaultPollMax         = 15 * time.Second
	pollMultiplier         = 1.5
	defaultPollMaxAttempts = 60
)

// Operation statuses reported by the video service.
const (
	opPending    = "pending"
	opProcessing = "processing"
	opSucceeded  = "succeeded"
	opFailed     = "failed"
)

// VideoClient generates animated clips through an asynchronous HTTP
// service: one call starts an operation, subsequent polls follow it to a
// terminal status. Safe for concurrent use.
type VideoClient struct {
	baseURL string
	apiKey  string
	client  *http.Client

	pollInitial time.Duration
	pollMax     time.Duration
	maxAttempts int
}

// NewVideoClient creates a client for the service at baseURL.
func NewVideoClient(baseURL, apiKey string) (*VideoClient, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("base URL cannot be empty")
	}
	return &VideoClient{
		baseURL:     strings.TrimRight(baseURL, "/"),
		apiKey:      apiKey,
		client:      &http.Client{Timeout: defaultTimeout},
		pollInitial: defaultPollInitial,
		pollMax:     defaultPollMax,
		maxAttempts: defaultPollMaxAttempts,
	}, nil
}

type videoRequest struct {
	Prompt string `json:"prompt"`
}

type videoOperation struct {
	OperationID string `json:"operation_id"`
	Status      string `json:"status"`
	URL         string `json:"url,omitempty"`
	Error       string `json:"error,omitempty"`
}

// Generate starts a clip render and polls until it finishes, returning the
// stored URL. The context bounds the whole wait; cancellation stops the
// poll loop between attempts.
func (c *VideoClient) Generate(ctx context.Context, prompt string) (string, error) {
	if prompt == "" {
		return "", fmt.Errorf("prompt cannot be empty")
	}
	var op videoOperation
	err := doJSON(ctx, c.client, http.MethodPost, c.baseURL+"/videos/generations", c.apiKey,
		videoRequest{Prompt: prompt}, &op)
	if err != nil {
		return "", fmt.Errorf("video generation: %w", err)
	}
	if op.OperationID == "" {
		return "", fmt.Errorf("video generation: service returned no operation id")
	}
	return c.poll(ctx, op.OperationID)
}

func (c *VideoClient) poll(ctx context.Context, operationID string) (string, error) {
	url := c.baseURL + "/videos/operations/" + operationID
	delay := c.pollInitial

	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		if err := sleep(ctx, delay); err != nil {
			return "", err
		}
		delay = nextDelay(delay, c.pollMax)

		var op videoOperation
		if err := doJSON(ctx, c.client, http.MethodGet, url, c.apiKey, nil, &op); err != nil {
			return "", fmt.Errorf("video operation %s: %w", operationID, err)
		}
		switch op.Status {
		case opSucceeded:
			if op.URL == "" {
				return "", fmt.Errorf("video operation %s succeeded with no URL", operationID)
			}
			return op.URL, nil
		case opFailed:
			msg := op.Error
			if msg == "" {
				msg = "no error detail"
			}
			return "", fmt.Errorf("video operation %s failed: %s", operationID, msg)
		case opPending, opProcessing, "":
			// keep polling
		default:
			return "", fmt.Errorf("video operation %s reported unknown status %q", operationID, op.Status)
		}
	}
	return "", fmt.Errorf("video operation %s did not finish after %d polls", operationID, c.maxAttempts)
}

func nextDelay(d, max time.Duration) time.Duration {
	d = time.Duration(float64(d) * pollMultiplier)
	if d > max {
		d = max
	}
	return d
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
