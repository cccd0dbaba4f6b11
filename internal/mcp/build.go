package mcp

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/deixis/kiln/internal/pipeline"
	"github.com/deixis/kiln/internal/report"
)

type buildParams struct{}

func (h *handler) buildHandler(ctx context.Context, req *mcp.CallToolRequest, _ buildParams) (*mcp.CallToolResult, any, error) {
	result, err := h.engine.Build(ctx)
	var stepErr *pipeline.StepError
	if err != nil && !errors.As(err, &stepErr) {
		return errorResult(fmt.Sprintf("build failed: %v", err))
	}
	return textResult(formatBuild(result))
}

func formatBuild(result *pipeline.BuildResult) string {
	var b strings.Builder
	rr := result.RunResult

	allPassed := result.FailedIdx < 0
	if allPassed {
		fmt.Fprintln(&b, "Status: PASS")
	} else {
		fmt.Fprintln(&b, "Status: FAIL")
	}
	fmt.Fprintf(&b, "Run: %s\n", rr.ID)
	if rr.Revision != "" {
		fmt.Fprintf(&b, "Revision: %s\n", rr.Revision)
	}
	fmt.Fprintf(&b, "Duration: %dms\n", rr.DurationMS)
	fmt.Fprintln(&b)

	fmt.Fprintln(&b, "Steps:")
	for _, s := range result.Steps {
		switch {
		case s.Status == report.StatusFail && s.Outcome != "":
			fmt.Fprintf(&b, "  %s: %s (%s)\n", s.Name, s.Status, s.Outcome)
		default:
			fmt.Fprintf(&b, "  %s: %s\n", s.Name, s.Status)
		}
	}
	fmt.Fprintln(&b)

	if allPassed {
		fmt.Fprintln(&b, "All steps passed.")
		return b.String()
	}

	failed := result.Steps[result.FailedIdx]
	fmt.Fprintf(&b, "Failed step: %s\n", failed.Name)
	if failed.Detail != "" {
		fmt.Fprintln(&b, failed.Detail)
	}
	if failed.Output != "" {
		fmt.Fprintln(&b)
		fmt.Fprintln(&b, strings.TrimRight(failed.Output, "\n"))
	}
	fmt.Fprintln(&b)
	fmt.Fprintf(&b, "Inspect with kiln_inspect(run_id=%q, step=%q).\n", rr.ID, failed.Name)
	return b.String()
}
