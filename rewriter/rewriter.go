// Package rewriter turns a natural-language question into a single SQL
// statement with one call to the reasoning engine. It never runs the query
// and never checks it; problems surface later when the query is executed.
package rewriter

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"nlsql/config"
	"nlsql/model"
)

// ErrEmptyQuery is returned when the engine produced no query text.
var ErrEmptyQuery = errors.New("rewriter produced an empty query")

type Rewriter struct {
	engine   model.Provider
	examples ExampleSet
}

// New builds a Rewriter using the embedded worked examples.
func New(engine model.Provider) *Rewriter {
	return &Rewriter{engine: engine, examples: DefaultExamples()}
}

// WithExamples returns a copy that uses set instead of the embedded examples.
func (r *Rewriter) WithExamples(set ExampleSet) *Rewriter {
	return &Rewriter{engine: r.engine, examples: set}
}

// Rewrite asks the engine for one query answering question against schema.
func (r *Rewriter) Rewrite(ctx context.Context, schema, question string) (string, error) {
	turns := []model.Turn{
		{Role: model.RoleSystem, Content: r.instruction(schema)},
		{Role: model.RoleUser, Content: "Question: " + strings.TrimSpace(question) + "\nSQL:"},
	}

	var b strings.Builder
	err := r.engine.Chat(ctx, turns, func(chunk string, _ []model.ToolCall) error {
		b.WriteString(chunk)
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("failed to rewrite question: %w", err)
	}

	query := extractQuery(b.String())
	if query == "" {
		return "", ErrEmptyQuery
	}
	if config.DebugLog != nil {
		config.DebugLog.Debugf("[Rewriter] %q -> %q", question, query)
	}
	return query, nil
}

func (r *Rewriter) instruction(schema string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You translate questions into %s queries.\n", r.examples.Dialect)
	b.WriteString("Reply with exactly one read-only SELECT statement and nothing else. ")
	b.WriteString("Use only the tables and columns in the schema below.\n\n")
	b.WriteString("Schema:\n")
	b.WriteString(strings.TrimSpace(schema))
	b.WriteString("\n\n")
	if len(r.examples.Examples) > 0 {
		b.WriteString("Examples:\n\n")
		r.examples.render(&b)
	}
	return b.String()
}

// extractQuery strips markdown fences and a leading "SQL:" label. When the
// reply holds a fenced block, only the first block is kept.
func extractQuery(response string) string {
	response = strings.TrimSpace(response)
	if start := strings.Index(response, "```"); start >= 0 {
		body := response[start+3:]
		if end := strings.Index(body, "```"); end >= 0 {
			body = body[:end]
		}
		// language tag on the fence line
		if nl := strings.IndexByte(body, '\n'); nl >= 0 && !strings.ContainsAny(body[:nl], " \t") {
			body = body[nl+1:]
		}
		response = body
	}
	response = strings.TrimSpace(response)
	response = strings.TrimPrefix(response, "SQL:")
	return strings.TrimSpace(response)
}
