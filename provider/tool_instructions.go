package provider

import (
	"strings"

	mcptypes "github.com/mark3labs/mcp-go/mcp"
)

// buildToolInstructions is prepended for the cloud providers, whose models
// otherwise tend to describe a tool call instead of making it.
func buildToolInstructions(tools []mcptypes.Tool) string {
	names := make([]string, 0, len(tools))
	for _, tool := range tools {
		names = append(names, tool.Name)
	}

	return strings.Join([]string{
		"TOOLS: " + strings.Join(names, ", "),
		"",
		"When answering needs data, call exactly one tool per reply.",
		"Call it directly without announcing it.",
		"When you have enough information, reply with the answer in plain text and no tool call.",
	}, "\n")
}
