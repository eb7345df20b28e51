package model

import (
	"context"

	mcptypes "github.com/mark3labs/mcp-go/mcp"
)

// Provider abstracts the reasoning engine (Ollama, OpenAI, Anthropic) using
// provider-agnostic types from the model layer.
//
// This interface is defined in the model package (not provider package) to avoid
// import cycles: provider implementations import model, and the agent loop uses
// the Provider interface without importing the provider package.
type Provider interface {
	// Chat sends turns and streams responses back via callback.
	Chat(ctx context.Context, turns []Turn, callback StreamCallback) error

	// ChatWithTools sends turns with the capability catalogue as tools.
	ChatWithTools(ctx context.Context, turns []Turn, tools []mcptypes.Tool, callback StreamCallback) error

	// GetModel returns the currently selected model name.
	GetModel() string

	// Ping checks if the provider is reachable.
	Ping(ctx context.Context) error
}

// StreamCallback is called for each chunk of streamed response.
type StreamCallback func(chunk string, toolCalls []ToolCall) error

// ToolCall is a provider-agnostic capability invocation chosen by the engine.
type ToolCall struct {
	Name      string
	Arguments map[string]any
}
