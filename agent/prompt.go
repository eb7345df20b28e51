package agent

import (
	"fmt"
	"strings"

	"nlsql/mcp"
)

// SystemInstruction is the first turn of every run.
func SystemInstruction(cat *mcp.Catalogue) string {
	var b strings.Builder
	b.WriteString("You answer questions about a SQLite database by calling capabilities.\n\n")
	b.WriteString("Available capabilities:\n")
	b.WriteString(cat.Describe())
	b.WriteString("\nRules:\n")
	b.WriteString("- Call at most one capability per reply.\n")
	b.WriteString("- Call get_schema first if you do not know the columns.\n")
	b.WriteString("- Only run read-only SELECT statements. Never modify the database.\n")
	b.WriteString("- If a query fails, read the error and try a corrected query.\n")
	b.WriteString("- When you have the result, reply with a short plain-text answer and no capability call.\n")
	return b.String()
}

// SeedQuery is the user turn that starts a run. A rewritten query, when
// present, is offered as a starting point rather than a command.
func SeedQuery(question, rewritten string) string {
	if rewritten == "" {
		return question
	}
	return fmt.Sprintf("%s\n\nA suggested SQL query for this question:\n%s", question, rewritten)
}
