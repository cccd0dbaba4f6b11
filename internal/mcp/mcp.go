// Package mcp exposes the build pipeline as MCP tools.
package mcp

import (
	_ "embed"
	"net/http"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/deixis/kiln"
	"github.com/deixis/kiln/internal/pipeline"
	"github.com/deixis/kiln/internal/report"
)

//go:embed instructions.md
var Instructions string

// handler holds shared dependencies for all tool handlers.
type handler struct {
	engine *pipeline.Engine
	store  report.Store
}

// NewServer creates an MCP server with all kiln tools registered. Builds
// started through it share engine, and therefore its lock, with any other
// caller.
func NewServer(engine *pipeline.Engine, store report.Store) *mcp.Server {
	h := &handler{engine: engine, store: store}

	s := mcp.NewServer(&mcp.Implementation{Name: "kiln", Version: kiln.Version}, &mcp.ServerOptions{
		Instructions: Instructions,
		Capabilities: &mcp.ServerCapabilities{
			Tools: &mcp.ToolCapabilities{ListChanged: false},
		},
	})

	mcp.AddTool(s, &mcp.Tool{
		Name: "kiln_build",
		Description: `Run the build pipeline once and stop on the first failing step.

Up-to-date compile steps are reported as unchanged. Results are stored for drill-down via kiln_inspect.`,
	}, h.buildHandler)

	mcp.AddTool(s, &mcp.Tool{
		Name: "kiln_inspect",
		Description: `Show the stored report of a kiln_build run.

Pass step to see one step in detail, including the tail of its command output when it failed.`,
	}, h.inspectHandler)

	mcp.AddTool(s, &mcp.Tool{
		Name:        "kiln_stale",
		Description: "Report which compile steps the next build would run, without running anything.",
	}, h.staleHandler)

	return s
}

// NewHTTPHandler serves s over the streamable HTTP transport.
func NewHTTPHandler(s *mcp.Server) *mcp.StreamableHTTPHandler {
	return mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server { return s }, nil)
}

// textResult is a helper to build a text-only tool result.
func textResult(text string) (*mcp.CallToolResult, any, error) {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
	}, nil, nil
}

// errorResult is a helper to build an error tool result.
func errorResult(text string) (*mcp.CallToolResult, any, error) {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
		IsError: true,
	}, nil, nil
}
