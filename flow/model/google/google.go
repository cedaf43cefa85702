// Package google implements model.ChatModel on the official Gemini Go SDK
// with structured JSON output.
package google

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/dshills/storyflow-go/flow/model"
)

// DefaultModel is used when no model is specified.
const DefaultModel = "gemini-1.5-flash"

// Option configures a Client.
type Option func(*Client)

// WithResponseSchema constrains replies to a JSON schema. Without it the
// client still requests the application/json MIME type, which is enough for
// free-form JSON replies.
func WithResponseSchema(schema *genai.Schema) Option {
	return func(c *Client) {
		c.schema = schema
	}
}

// Client calls the Gemini GenerateContent API. Messages are flattened into a
// single prompt (the calls this system makes are all single-turn
// instructions plus content) and replies are requested as JSON.
//
// Close releases the underlying gRPC connection. Safe for concurrent use.
type Client struct {
	client *genai.Client
	model  string
	schema *genai.Schema
}

// NewClient creates a Gemini-backed chat client.
func NewClient(ctx context.Context, apiKey, modelName string, opts ...Option) (*Client, error) {
	if apiKey == "" {
		return nil, errors.New("google: API key cannot be empty")
	}
	if modelName == "" {
		modelName = DefaultModel
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("google: create client: %w", err)
	}

	c := &Client{client: client, model: modelName}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Close releases the client's connection.
func (c *Client) Close() error {
	if c.client != nil {
		return c.client.Close()
	}
	return nil
}

// Chat implements model.ChatModel.
func (c *Client) Chat(ctx context.Context, msgs []model.Message) (model.ChatOut, error) {
	if err := ctx.Err(); err != nil {
		return model.ChatOut{}, err
	}

	gm := c.client.GenerativeModel(c.model)
	gm.ResponseMIMEType = "application/json"
	if c.schema != nil {
		gm.ResponseSchema = c.schema
	}

	resp, err := gm.GenerateContent(ctx, genai.Text(flatten(msgs)))
	if err != nil {
		return model.ChatOut{}, mapError(err)
	}

	tokensUsed := 0
	if resp.UsageMetadata != nil {
		tokensUsed = int(resp.UsageMetadata.TotalTokenCount)
	}

	var text strings.Builder
	if len(resp.Candidates) > 0 && resp.Candidates[0].Content != nil {
		for _, part := range resp.Candidates[0].Content.Parts {
			if t, ok := part.(genai.Text); ok {
				text.WriteString(string(t))
			}
		}
	}

	return model.ChatOut{Text: text.String(), TokensUsed: tokensUsed}, nil
}

// flatten joins the conversation into one prompt, system content first.
func flatten(msgs []model.Message) string {
	var system, rest []string
	for _, m := range msgs {
		if m.Role == model.RoleSystem {
			system = append(system, m.Content)
		} else {
			rest = append(rest, m.Content)
		}
	}
	return strings.Join(append(system, rest...), "\n\n")
}

func mapError(err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &model.Error{Provider: "google", Code: "timeout", Message: "request timed out", Retryable: true}
	}

	lower := strings.ToLower(err.Error())
	switch {
	case strings.Contains(lower, "api key"),
		strings.Contains(lower, "authentication"),
		strings.Contains(lower, "unauthorized"):
		return &model.Error{Provider: "google", Code: "invalid_api_key", Message: "API key is invalid or missing", Retryable: false}

	case strings.Contains(lower, "rate limit"),
		strings.Contains(lower, "too many requests"),
		strings.Contains(lower, "resource_exhausted"):
		return &model.Error{Provider: "google", Code: "rate_limited", Message: "rate limit exceeded", Retryable: true}

	case strings.Contains(lower, "quota exceeded"),
		strings.Contains(lower, "billing"):
		return &model.Error{Provider: "google", Code: "quota_exceeded", Message: "API quota exceeded", Retryable: false}

	default:
		return &model.Error{Provider: "google", Code: "api_error", Message: err.Error(), Retryable: true}
	}
}
