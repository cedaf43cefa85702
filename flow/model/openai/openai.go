// Package openai implements model.ChatModel on the official OpenAI Go SDK
// using the Chat Completions API in JSON-object response mode.
package openai

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"

	"github.com/dshills/storyflow-go/flow/model"
)

// DefaultModel is used when no model is specified.
const DefaultModel = "gpt-4o-mini"

// Client calls the OpenAI Chat Completions API. Replies are requested in
// JSON-object mode, so prompts must ask for JSON (the API rejects JSON mode
// otherwise); every prompt this system sends does.
//
// Safe for concurrent use.
type Client struct {
	client *openai.Client
	model  string
}

// NewClient creates an OpenAI-backed chat client.
func NewClient(apiKey, modelName string) (*Client, error) {
	if apiKey == "" {
		return nil, errors.New("openai: API key cannot be empty")
	}
	if modelName == "" {
		modelName = DefaultModel
	}

	client := openai.NewClient(option.WithAPIKey(apiKey))
	return &Client{client: &client, model: modelName}, nil
}

// Chat implements model.ChatModel.
func (c *Client) Chat(ctx context.Context, msgs []model.Message) (model.ChatOut, error) {
	if err := ctx.Err(); err != nil {
		return model.ChatOut{}, err
	}

	params := make([]openai.ChatCompletionMessageParamUnion, 0, len(msgs))
	for _, m := range msgs {
		switch m.Role {
		case model.RoleSystem:
			params = append(params, openai.SystemMessage(m.Content))
		case model.RoleAssistant:
			params = append(params, openai.AssistantMessage(m.Content))
		default:
			params = append(params, openai.UserMessage(m.Content))
		}
	}

	completion, err := c.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model:    shared.ChatModel(c.model),
		Messages: params,
		ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: openai.Ptr(shared.NewResponseFormatJSONObjectParam()),
		},
	})
	if err != nil {
		return model.ChatOut{}, mapError(err)
	}

	if len(completion.Choices) == 0 {
		return model.ChatOut{}, &model.Error{
			Provider: "openai",
			Code:     "api_error",
			Message:  "empty choices in completion response",
		}
	}

	return model.ChatOut{
		Text:       completion.Choices[0].Message.Content,
		TokensUsed: int(completion.Usage.TotalTokens),
	}, nil
}

// mapError classifies SDK errors into model.Error, separating retryable
// transient failures from permanent ones. Context errors pass through so
// cancellation semantics stay intact.
func mapError(err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &model.Error{Provider: "openai", Code: "timeout", Message: "request timed out", Retryable: true}
	}

	lower := strings.ToLower(err.Error())
	switch {
	case strings.Contains(lower, "rate limit"),
		strings.Contains(lower, "429"),
		strings.Contains(lower, "too many requests"):
		return &model.Error{Provider: "openai", Code: "rate_limited", Message: "rate limit exceeded", Retryable: true}

	case strings.Contains(lower, "api key"),
		strings.Contains(lower, "401"),
		strings.Contains(lower, "unauthorized"),
		strings.Contains(lower, "authentication"):
		return &model.Error{Provider: "openai", Code: "invalid_api_key", Message: "API key is invalid or expired", Retryable: false}

	case strings.Contains(lower, "quota"),
		strings.Contains(lower, "billing"):
		return &model.Error{Provider: "openai", Code: "quota_exceeded", Message: "API quota exceeded", Retryable: false}

	case strings.Contains(lower, "500"),
		strings.Contains(lower, "502"),
		strings.Contains(lower, "503"),
		strings.Contains(lower, "504"),
		strings.Contains(lower, "internal server error"),
		strings.Contains(lower, "service unavailable"):
		return &model.Error{Provider: "openai", Code: "server_error", Message: fmt.Sprintf("server error: %v", err), Retryable: true}

	case strings.Contains(lower, "connection"),
		strings.Contains(lower, "timeout"),
		strings.Contains(lower, "network"):
		return &model.Error{Provider: "openai", Code: "network_error", Message: fmt.Sprintf("network error: %v", err), Retryable: true}

	default:
		return &model.Error{Provider: "openai", Code: "api_error", Message: err.Error(), Retryable: false}
	}
}
