package provider

import (
	"context"
	"fmt"

	mcptypes "github.com/mark3labs/mcp-go/mcp"
	"github.com/ollama/ollama/api"

	"nlsql/mcp"
	"nlsql/model"
	"nlsql/ollama"
)

// OllamaProvider wraps ollama.Client to implement model.Provider. It converts
// turns to api.Message, mcptypes.Tool to api.Tool and api.ToolCall back to
// model.ToolCall.
type OllamaProvider struct {
	client *ollama.Client
}

// NewOllamaProvider creates a provider for the given server and model. Empty
// values fall back to ollama.DefaultHost and ollama.DefaultModel.
func NewOllamaProvider(baseURL, modelName string) (*OllamaProvider, error) {
	client, err := ollama.NewClient(baseURL, modelName)
	if err != nil {
		return nil, fmt.Errorf("failed to create Ollama client: %w", err)
	}
	return &OllamaProvider{client: client}, nil
}

func (p *OllamaProvider) Chat(ctx context.Context, turns []model.Turn, callback model.StreamCallback) error {
	return p.ChatWithTools(ctx, turns, nil, callback)
}

func (p *OllamaProvider) ChatWithTools(ctx context.Context, turns []model.Turn, tools []mcptypes.Tool, callback model.StreamCallback) error {
	var ollamaTools []api.Tool
	if len(tools) > 0 {
		ollamaTools = mcp.ConvertToolsToOllama(tools)
	}

	ollamaCallback := func(chunk string, ollamaCalls []api.ToolCall) error {
		if callback == nil {
			return nil
		}
		return callback(chunk, ConvertToProviderToolCalls(ollamaCalls))
	}

	if err := p.client.ChatWithTools(ctx, ConvertToOllamaMessages(turns), ollamaTools, ollamaCallback); err != nil {
		return fmt.Errorf("Ollama chat failed: %w", err)
	}
	return nil
}

func (p *OllamaProvider) GetModel() string {
	return p.client.GetModel()
}

func (p *OllamaProvider) Ping(ctx context.Context) error {
	return p.client.Ping(ctx)
}

// CheckModel reports problems with the configured model that are worth a
// warning before the first question: not pulled, or not tool-capable.
func (p *OllamaProvider) CheckModel(ctx context.Context) []string {
	var warnings []string
	if ok, err := p.client.HasModel(ctx); err == nil && !ok {
		warnings = append(warnings, fmt.Sprintf("model %s is not pulled; run: ollama pull %s", p.GetModel(), p.GetModel()))
	}
	if !p.client.SupportsToolCalling() {
		warnings = append(warnings, fmt.Sprintf("model %s is not known to support tool calling; capability calls will rely on text recovery", p.GetModel()))
	}
	return warnings
}
