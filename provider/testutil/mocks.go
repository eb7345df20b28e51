package testutil

import (
	"context"
	"fmt"
	"sync"

	mcptypes "github.com/mark3labs/mcp-go/mcp"

	"nlsql/model"
)

// MockProvider implements model.Provider for testing
type MockProvider struct {
	ChatFunc          func(ctx context.Context, turns []model.Turn, callback model.StreamCallback) error
	ChatWithToolsFunc func(ctx context.Context, turns []model.Turn, tools []mcptypes.Tool, callback model.StreamCallback) error
	PingFunc          func(ctx context.Context) error

	currentModel string
}

// NewMockProvider creates a mock provider with default implementations
func NewMockProvider(modelName string) *MockProvider {
	mock := &MockProvider{currentModel: modelName}
	mock.ChatFunc = func(ctx context.Context, turns []model.Turn, callback model.StreamCallback) error {
		return callback("Mock response", nil)
	}
	mock.ChatWithToolsFunc = func(ctx context.Context, turns []model.Turn, tools []mcptypes.Tool, callback model.StreamCallback) error {
		return callback("Mock response with tools", nil)
	}
	mock.PingFunc = func(ctx context.Context) error { return nil }
	return mock
}

func (m *MockProvider) Chat(ctx context.Context, turns []model.Turn, callback model.StreamCallback) error {
	return m.ChatFunc(ctx, turns, callback)
}

func (m *MockProvider) ChatWithTools(ctx context.Context, turns []model.Turn, tools []mcptypes.Tool, callback model.StreamCallback) error {
	return m.ChatWithToolsFunc(ctx, turns, tools, callback)
}

func (m *MockProvider) GetModel() string {
	return m.currentModel
}

func (m *MockProvider) Ping(ctx context.Context) error {
	return m.PingFunc(ctx)
}

// Reply is one scripted engine response.
type Reply struct {
	Content   string
	ToolCalls []model.ToolCall
	Err       error
}

// ScriptedProvider replays Replies in order, one per call, and records the
// turns it was given. Running past the script is an error.
type ScriptedProvider struct {
	*MockProvider

	mu      sync.Mutex
	replies []Reply
	calls   [][]model.Turn
}

func NewScriptedProvider(replies ...Reply) *ScriptedProvider {
	sp := &ScriptedProvider{MockProvider: NewMockProvider("scripted"), replies: replies}
	sp.ChatFunc = func(ctx context.Context, turns []model.Turn, callback model.StreamCallback) error {
		return sp.next(turns, callback)
	}
	sp.ChatWithToolsFunc = func(ctx context.Context, turns []model.Turn, tools []mcptypes.Tool, callback model.StreamCallback) error {
		return sp.next(turns, callback)
	}
	return sp
}

func (sp *ScriptedProvider) next(turns []model.Turn, callback model.StreamCallback) error {
	sp.mu.Lock()
	idx := len(sp.calls)
	sp.calls = append(sp.calls, append([]model.Turn(nil), turns...))
	if idx >= len(sp.replies) {
		sp.mu.Unlock()
		return fmt.Errorf("scripted provider: no reply for call %d", idx+1)
	}
	reply := sp.replies[idx]
	sp.mu.Unlock()

	if reply.Err != nil {
		return reply.Err
	}
	if callback == nil {
		return nil
	}
	return callback(reply.Content, reply.ToolCalls)
}

// Calls returns the turns passed to each call so far.
func (sp *ScriptedProvider) Calls() [][]model.Turn {
	sp.mu.Lock()
	defer sp.mu.Unlock()
	out := make([][]model.Turn, len(sp.calls))
	copy(out, sp.calls)
	return out
}
