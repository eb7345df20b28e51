package testutil

import (
	mcptypes "github.com/mark3labs/mcp-go/mcp"

	"nlsql/model"
)

// TestTurns returns a short conversation that exercises every role.
func TestTurns() []model.Turn {
	return []model.Turn{
		{Role: model.RoleSystem, Content: "You answer questions about transaction_score."},
		{Role: model.RoleUser, Content: "How many transactions were there in March 2024?"},
		{Role: model.RoleAssistant, Call: &model.ToolCall{Name: "get_schema", Arguments: map[string]any{}}},
		{Role: model.RoleCapabilityResult, Content: "CREATE TABLE transaction_score (TRANSACTION_ID TEXT)"},
		{Role: model.RoleAssistant, Content: "There were 20 transactions."},
	}
}

// SingleUserTurn returns a single user turn for simple tests
func SingleUserTurn(content string) []model.Turn {
	return []model.Turn{{Role: model.RoleUser, Content: content}}
}

// TestTools returns tool definitions shaped like the registry's.
func TestTools() []mcptypes.Tool {
	return []mcptypes.Tool{
		mcptypes.NewTool("get_schema", mcptypes.WithDescription("Get the database schema")),
		mcptypes.NewTool("query_data",
			mcptypes.WithDescription("Execute read-only sql queries"),
			mcptypes.WithString("query", mcptypes.Required()),
		),
	}
}

// Call builds a tool call for scripted replies.
func Call(name string, args map[string]any) []model.ToolCall {
	if args == nil {
		args = map[string]any{}
	}
	return []model.ToolCall{{Name: name, Arguments: args}}
}
