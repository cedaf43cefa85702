// Package notify delivers job completion callbacks over HTTP. Delivery is
// best effort: the pipeline's own outcome never depends on whether the
// callback landed.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const defaultTimeout = 30 * time.Second

// Payload is the JSON body of a completion callback.
type Payload struct {
	JobID   string `json:"job_id"`
	Status  string `json:"status"`
	Summary string `json:"summary,omitempty"`
}

// Webhook posts job results to a configured endpoint. Notify is a no-op on
// a nil receiver or an empty URL, so the notifier is always safe to call.
type Webhook struct {
	url    string
	client *http.Client
}

// NewWebhook creates a notifier for the given endpoint.
func NewWebhook(url string) *Webhook {
	return &Webhook{
		url:    url,
		client: &http.Client{Timeout: defaultTimeout},
	}
}

// Notify posts the payload as JSON. A non-2xx response is an error so
// callers can log it, but callers should treat delivery as best effort.
func (w *Webhook) Notify(ctx context.Context, p Payload) error {
	if w == nil || w.url == "" {
		return nil
	}
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("deliver webhook: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	// Drain so the connection can be reused.
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook endpoint returned status %d", resp.StatusCode)
	}
	return nil
}
