// Package anthropic implements model.ChatModel on the official Anthropic Go
// SDK using the Messages API.
package anthropic

import (
	"context"
	"errors"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/dshills/storyflow-go/flow/model"
)

// DefaultModel is used when no model is specified.
const DefaultModel = "claude-3-5-sonnet-20241022"

const maxTokens = 4096

// Client calls the Anthropic Messages API. System messages are folded into
// the first user turn, which keeps the request shape to the plain
// user/assistant alternation the API expects.
//
// Safe for concurrent use.
type Client struct {
	client *anthropic.Client
	model  string
}

// NewClient creates an Anthropic-backed chat client.
func NewClient(apiKey, modelName string) (*Client, error) {
	if apiKey == "" {
		return nil, errors.New("anthropic: API key cannot be empty")
	}
	if modelName == "" {
		modelName = DefaultModel
	}

	client := anthropic.NewClient(option.WithAPIKey(apiKey))
	return &Client{client: &client, model: modelName}, nil
}

// Chat implements model.ChatModel.
func (c *Client) Chat(ctx context.Context, msgs []model.Message) (model.ChatOut, error) {
	if err := ctx.Err(); err != nil {
		return model.ChatOut{}, err
	}

	var system []string
	var params []anthropic.MessageParam
	for _, m := range msgs {
		switch m.Role {
		case model.RoleSystem:
			system = append(system, m.Content)
		case model.RoleAssistant:
			params = append(params, anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Content)))
		default:
			content := m.Content
			if len(system) > 0 {
				content = strings.Join(system, "\n\n") + "\n\n" + content
				system = nil
			}
			params = append(params, anthropic.NewUserMessage(anthropic.NewTextBlock(content)))
		}
	}
	if len(system) > 0 {
		// System-only request; send the instructions as the user turn.
		params = append(params, anthropic.NewUserMessage(anthropic.NewTextBlock(strings.Join(system, "\n\n"))))
	}

	message, err := c.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: maxTokens,
		Messages:  params,
	})
	if err != nil {
		return model.ChatOut{}, mapError(err)
	}

	var text strings.Builder
	for _, block := range message.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}

	return model.ChatOut{
		Text:       text.String(),
		TokensUsed: int(message.Usage.InputTokens + message.Usage.OutputTokens),
	}, nil
}

func mapError(err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &model.Error{Provider: "anthropic", Code: "timeout", Message: "request timed out", Retryable: true}
	}

	lower := strings.ToLower(err.Error())
	switch {
	case strings.Contains(lower, "429"),
		strings.Contains(lower, "rate limit"),
		strings.Contains(lower, "overloaded"):
		return &model.Error{Provider: "anthropic", Code: "rate_limited", Message: "rate limit exceeded", Retryable: true}

	case strings.Contains(lower, "401"),
		strings.Contains(lower, "403"),
		strings.Contains(lower, "api key"),
		strings.Contains(lower, "authentication"):
		return &model.Error{Provider: "anthropic", Code: "invalid_api_key", Message: "API key is invalid or expired", Retryable: false}

	case strings.Contains(lower, "500"),
		strings.Contains(lower, "502"),
		strings.Contains(lower, "503"),
		strings.Contains(lower, "529"):
		return &model.Error{Provider: "anthropic", Code: "server_error", Message: err.Error(), Retryable: true}

	case strings.Contains(lower, "connection"),
		strings.Contains(lower, "timeout"),
		strings.Contains(lower, "network"):
		return &model.Error{Provider: "anthropic", Code: "network_error", Message: err.Error(), Retryable: true}

	default:
		return &model.Error{Provider: "anthropic", Code: "api_error", Message: err.Error(), Retryable: false}
	}
}
