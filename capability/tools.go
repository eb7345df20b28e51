package capability

import (
	"context"
	"errors"
	"fmt"

	mcptypes "github.com/mark3labs/mcp-go/mcp"

	"nlsql/config"
	"nlsql/mcp"
	"nlsql/storage"
)

const (
	GetSchema = "get_schema"
	QueryData = "query_data"
)

// Definitions returns the two capabilities the registry declares.
func Definitions() []mcp.Capability {
	return []mcp.Capability{
		{
			Name:        GetSchema,
			Description: "Get the database schema",
			ResultType:  "string",
		},
		{
			Name:        QueryData,
			Description: "Execute read-only sql queries",
			ResultType:  "string",
			Arguments: []mcp.Argument{
				{Name: "query", Type: mcp.ArgString, Description: "A single SQLite SELECT statement", Required: true},
			},
		},
	}
}

// SchemaTool serves get_schema.
type SchemaTool struct {
	dataset *storage.Dataset
}

func NewSchemaTool(ds *storage.Dataset) *SchemaTool {
	return &SchemaTool{dataset: ds}
}

func (t *SchemaTool) Definition() mcptypes.Tool {
	return Definitions()[0].Tool()
}

func (t *SchemaTool) Handle(ctx context.Context, req mcptypes.CallToolRequest) (*mcptypes.CallToolResult, error) {
	schema, err := t.dataset.Schema(ctx)
	if err != nil {
		logf("get_schema failed: %v", err)
		return mcptypes.NewToolResultText("Error: " + err.Error()), nil
	}
	return mcptypes.NewToolResultText(schema), nil
}

// QueryTool serves query_data.
type QueryTool struct {
	dataset *storage.Dataset
}

func NewQueryTool(ds *storage.Dataset) *QueryTool {
	return &QueryTool{dataset: ds}
}

func (t *QueryTool) Definition() mcptypes.Tool {
	return Definitions()[1].Tool()
}

// Handle rejects empty or non-read-only statements as invalid parameters,
// which the server reports as a protocol-level error rather than a payload.
func (t *QueryTool) Handle(ctx context.Context, req mcptypes.CallToolRequest) (*mcptypes.CallToolResult, error) {
	query, err := req.RequireString("query")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", mcp.ErrInvalidParams, err)
	}

	if err := t.dataset.CheckQuery(query); err != nil {
		switch {
		case errors.Is(err, storage.ErrEmptyQuery), errors.Is(err, storage.ErrNotReadOnly):
			logf("query_data rejected: %v", err)
			return nil, fmt.Errorf("%w: %v", mcp.ErrInvalidParams, err)
		default:
			return mcptypes.NewToolResultText("Error: " + err.Error()), nil
		}
	}

	rows, err := t.dataset.Query(ctx, query)
	if err != nil {
		logf("query_data failed: %v", err)
		return mcptypes.NewToolResultText("Error: " + err.Error()), nil
	}
	return mcptypes.NewToolResultText(rows), nil
}

func logf(format string, args ...any) {
	if config.DebugLog != nil {
		config.DebugLog.Debugf("[Capability] "+format, args...)
	}
}
