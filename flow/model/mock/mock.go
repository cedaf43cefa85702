// Package mock provides a scriptable ChatModel for tests and examples.
package mock

import (
	"context"
	"errors"
	"sync"

	"github.com/dshills/storyflow-go/flow/model"
)

// Model replays scripted replies in order. When ReplyFunc is set it takes
// precedence and the script is ignored. Safe for concurrent use; concurrent
// callers consume replies in arrival order.
//
//	m := &mock.Model{Replies: []string{`{"title":"The Brave Fox"}`}}
//	out, err := m.Chat(ctx, []model.Message{model.User("write")})
type Model struct {
	// Replies are returned one per Chat call. The last reply repeats once
	// the script is exhausted, which keeps retry loops simple to script.
	Replies []string

	// Err, when set, is returned by every Chat call.
	Err error

	// ReplyFunc computes the reply from the request. Overrides Replies.
	ReplyFunc func(ctx context.Context, msgs []model.Message) (model.ChatOut, error)

	mu    sync.Mutex
	calls [][]model.Message
	next  int
}

// Chat implements model.ChatModel.
func (m *Model) Chat(ctx context.Context, msgs []model.Message) (model.ChatOut, error) {
	if err := ctx.Err(); err != nil {
		return model.ChatOut{}, err
	}

	m.mu.Lock()
	m.calls = append(m.calls, msgs)
	idx := m.next
	m.next++
	m.mu.Unlock()

	if m.ReplyFunc != nil {
		return m.ReplyFunc(ctx, msgs)
	}
	if m.Err != nil {
		return model.ChatOut{}, m.Err
	}
	if len(m.Replies) == 0 {
		return model.ChatOut{}, errors.New("mock model has no scripted replies")
	}
	if idx >= len(m.Replies) {
		idx = len(m.Replies) - 1
	}
	return model.ChatOut{Text: m.Replies[idx], TokensUsed: len(m.Replies[idx]) / 4}, nil
}

// Calls returns a copy of every request received so far.
func (m *Model) Calls() [][]model.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][]model.Message, len(m.calls))
	copy(out, m.calls)
	return out
}

// CallCount returns how many Chat calls were made.
func (m *Model) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}
