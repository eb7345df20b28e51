package provider

import (
	"encoding/json"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/ollama/ollama/api"
	"github.com/openai/openai-go/v3"

	"nlsql/model"
)

// ConvertToOllamaMessages maps transcript turns onto Ollama chat messages.
// Capability invocations travel as native tool calls and their results as
// "tool" messages, which is what Ollama's tool-aware templates expect.
func ConvertToOllamaMessages(turns []model.Turn) []api.Message {
	result := make([]api.Message, 0, len(turns))
	for _, turn := range turns {
		switch turn.Role {
		case model.RoleCapabilityResult:
			result = append(result, api.Message{Role: "tool", Content: turn.Content})
		case model.RoleAssistant:
			msg := api.Message{Role: "assistant", Content: turn.Content}
			if turn.Call != nil {
				msg.ToolCalls = ConvertFromProviderToolCalls([]model.ToolCall{*turn.Call})
			}
			result = append(result, msg)
		default:
			result = append(result, api.Message{Role: string(turn.Role), Content: turn.Content})
		}
	}
	return result
}

// ConvertToProviderToolCalls converts Ollama tool calls to model.ToolCall.
// Returns nil for an empty input.
func ConvertToProviderToolCalls(ollamaCalls []api.ToolCall) []model.ToolCall {
	if len(ollamaCalls) == 0 {
		return nil
	}

	result := make([]model.ToolCall, len(ollamaCalls))
	for i, call := range ollamaCalls {
		result[i] = model.ToolCall{
			Name:      call.Function.Name,
			Arguments: map[string]any(call.Function.Arguments),
		}
	}
	return result
}

// ConvertFromProviderToolCalls is the inverse of ConvertToProviderToolCalls.
func ConvertFromProviderToolCalls(providerCalls []model.ToolCall) []api.ToolCall {
	if len(providerCalls) == 0 {
		return nil
	}

	result := make([]api.ToolCall, len(providerCalls))
	for i, call := range providerCalls {
		result[i] = api.ToolCall{
			Function: api.ToolCallFunction{
				Name:      call.Name,
				Arguments: api.ToolCallFunctionArguments(call.Arguments),
			},
		}
	}
	return result
}

// ParseToolArguments parses a JSON arguments string into a map. Invalid JSON
// yields an empty map so that argument validation reports what is missing.
func ParseToolArguments(argsJSON string) map[string]any {
	var args map[string]any
	if err := json.Unmarshal([]byte(argsJSON), &args); err != nil || args == nil {
		return make(map[string]any)
	}
	return args
}

// describeTurn flattens turns that have no native representation in the
// cloud APIs without tool-call IDs.
func describeTurn(turn model.Turn) string {
	switch {
	case turn.Role == model.RoleCapabilityResult && turn.Failed:
		return "Capability failed:\n" + turn.Content
	case turn.Role == model.RoleCapabilityResult:
		return "Capability result:\n" + turn.Content
	case turn.Call != nil:
		args, _ := json.Marshal(turn.Call.Arguments)
		call := fmt.Sprintf(`{"name": %q, "arguments": %s}`, turn.Call.Name, args)
		if turn.Content == "" {
			return call
		}
		return turn.Content + "\n" + call
	}
	return turn.Content
}

// ConvertToOpenAIMessages maps turns onto chat-completions messages.
func ConvertToOpenAIMessages(turns []model.Turn) []openai.ChatCompletionMessageParamUnion {
	result := make([]openai.ChatCompletionMessageParamUnion, len(turns))
	for i, turn := range turns {
		switch turn.Role {
		case model.RoleSystem:
			result[i] = openai.SystemMessage(turn.Content)
		case model.RoleAssistant:
			result[i] = openai.AssistantMessage(describeTurn(turn))
		default:
			result[i] = openai.UserMessage(describeTurn(turn))
		}
	}
	return result
}

// convertToAnthropicMessages splits system turns out into the separate
// system parameter and merges consecutive same-role messages, which the
// Messages API rejects.
func convertToAnthropicMessages(turns []model.Turn) ([]anthropic.MessageParam, []anthropic.TextBlockParam) {
	var systemBlocks []anthropic.TextBlockParam
	msgs := make([]anthropic.MessageParam, 0, len(turns))

	var lastRole anthropic.MessageParamRole
	for _, turn := range turns {
		if turn.Role == model.RoleSystem {
			systemBlocks = append(systemBlocks, anthropic.TextBlockParam{Text: turn.Content})
			continue
		}

		role := anthropic.MessageParamRoleUser
		if turn.Role == model.RoleAssistant {
			role = anthropic.MessageParamRoleAssistant
		}
		block := anthropic.NewTextBlock(describeTurn(turn))

		if len(msgs) > 0 && lastRole == role {
			msgs[len(msgs)-1].Content = append(msgs[len(msgs)-1].Content, block)
			continue
		}
		if role == anthropic.MessageParamRoleAssistant {
			msgs = append(msgs, anthropic.NewAssistantMessage(block))
		} else {
			msgs = append(msgs, anthropic.NewUserMessage(block))
		}
		lastRole = role
	}

	return msgs, systemBlocks
}

// extractToolCalls extracts tool calls from Anthropic message content.
func extractToolCalls(content []anthropic.ContentBlockUnion) []model.ToolCall {
	var toolCalls []model.ToolCall
	for _, block := range content {
		toolUse, ok := block.AsAny().(anthropic.ToolUseBlock)
		if !ok {
			continue
		}
		var args map[string]any
		if err := json.Unmarshal(toolUse.Input, &args); err != nil {
			args = make(map[string]any)
		}
		toolCalls = append(toolCalls, model.ToolCall{Name: toolUse.Name, Arguments: args})
	}
	return toolCalls
}
