// Package model defines the narrow chat interface workflow nodes use for
// generation, planning, evaluation and safety classification. Concrete
// clients live in the openai, anthropic and google subpackages; mock
// provides a scriptable implementation for tests.
package model

import "context"

// Role identifies the author of a chat message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one turn of a chat exchange.
type Message struct {
	Role    Role
	Content string
}

// System constructs a system message.
func System(content string) Message {
	return Message{Role: RoleSystem, Content: content}
}

// User constructs a user message.
func User(content string) Message {
	return Message{Role: RoleUser, Content: content}
}

// ChatOut is a model reply.
type ChatOut struct {
	// Text is the raw reply text. Callers expecting JSON should run it
	// through ExtractJSON before unmarshaling; models wrap JSON in markdown
	// fences or prose more often than not.
	Text string

	// TokensUsed is the total token count reported by the provider, 0 when
	// unavailable.
	TokensUsed int
}

// ChatModel is implemented by every provider client.
//
// Implementations must be safe for concurrent use; fan-out branches share
// one client.
type ChatModel interface {
	Chat(ctx context.Context, msgs []Message) (ChatOut, error)
}

// Error is a classified provider failure.
type Error struct {
	// Provider is the client that produced the error ("openai",
	// "anthropic", "google").
	Provider string

	// Code is a stable machine-readable cause: "rate_limited",
	// "invalid_api_key", "quota_exceeded", "server_error", "network_error",
	// "timeout", "api_error".
	Code string

	// Message is the human-readable description.
	Message string

	// Retryable reports whether the call may succeed if repeated.
	Retryable bool
}

func (e *Error) Error() string {
	return e.Provider + " " + e.Code + ": " + e.Message
}
