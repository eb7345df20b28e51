// Package capability is the capability registry: an MCP server exposing
// get_schema and query_data over one SQLite dataset.
package capability

import (
	"context"
	"fmt"
	"os"

	"github.com/mark3labs/mcp-go/server"

	"nlsql/storage"
)

// Version is set at build time via ldflags.
var Version = "dev"

// NewServer registers both capabilities against the dataset.
func NewServer(ds *storage.Dataset) *server.MCPServer {
	s := server.NewMCPServer(
		"Database Connector",
		Version,
		server.WithToolCapabilities(true),
		server.WithRecovery(),
		server.WithInstructions(instructions(ds)),
	)

	schemaTool := NewSchemaTool(ds)
	s.AddTool(schemaTool.Definition(), schemaTool.Handle)

	queryTool := NewQueryTool(ds)
	s.AddTool(queryTool.Definition(), queryTool.Handle)

	return s
}

func instructions(ds *storage.Dataset) string {
	return fmt.Sprintf("Read-only access to the %s table. Call get_schema before writing SQL; "+
		"query_data accepts a single SELECT statement.", ds.Table())
}

// ServeStdio runs the server on stdin/stdout until ctx is cancelled or the
// client disconnects.
func ServeStdio(ctx context.Context, ds *storage.Dataset) error {
	stdio := server.NewStdioServer(NewServer(ds))
	logf("serving %s (table %s, policy %s) on stdio", ds.Path(), ds.Table(), ds.Policy())
	if err := stdio.Listen(ctx, os.Stdin, os.Stdout); err != nil && ctx.Err() == nil {
		return fmt.Errorf("capability server stopped: %w", err)
	}
	return nil
}
