package mcp

import (
	"context"
	"fmt"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/deixis/kiln/internal/pipeline"
)

type staleParams struct{}

func (h *handler) staleHandler(ctx context.Context, req *mcp.CallToolRequest, _ staleParams) (*mcp.CallToolResult, any, error) {
	statuses, err := h.engine.Stale(ctx)
	if err != nil {
		return errorResult(fmt.Sprintf("stale check failed: %v", err))
	}
	return textResult(formatStale(statuses))
}

func formatStale(statuses []pipeline.StaleStatus) string {
	if len(statuses) == 0 {
		return "No compile steps are gated on source freshness.\n"
	}
	var b strings.Builder
	for _, st := range statuses {
		switch {
		case st.Error != "":
			fmt.Fprintf(&b, "%s: error (%s)\n", st.Step, st.Error)
		case st.Stale:
			fmt.Fprintf(&b, "%s: stale (%s, newest source %s)\n", st.Step, st.Output, st.Newest)
		default:
			fmt.Fprintf(&b, "%s: up to date\n", st.Step)
		}
	}
	return b.String()
}
