package mcp

import (
	"context"
	"fmt"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/deixis/kiln/internal/report"
)

type inspectParams struct {
	RunID string `json:"run_id" jsonschema:"the run ID from a kiln_build result"`
	Step  string `json:"step,omitempty" jsonschema:"step name (e.g. typescript); all steps when empty"`
}

func (h *handler) inspectHandler(ctx context.Context, req *mcp.CallToolRequest, params inspectParams) (*mcp.CallToolResult, any, error) {
	if params.RunID == "" {
		return errorResult("run_id is required")
	}

	result, err := h.store.Load(params.RunID)
	if err != nil {
		return errorResult(fmt.Sprintf("Failed to load run %s: %v", params.RunID, err))
	}

	steps := result.Steps
	if params.Step != "" {
		steps = report.ByStep(result, params.Step)
		if len(steps) == 0 {
			return textResult(fmt.Sprintf("No step %q in run %s.", params.Step, params.RunID))
		}
	}
	return textResult(formatInspectOutput(result, steps, params.Step != ""))
}

func formatInspectOutput(result *report.RunResult, steps []report.StepReport, detailed bool) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Run: %s (%s)\n", result.ID, result.Status)
	fmt.Fprintf(&b, "Started: %s\n", result.StartedAt.Format("2006-01-02 15:04:05Z07:00"))
	if result.Revision != "" {
		fmt.Fprintf(&b, "Revision: %s\n", result.Revision)
	}
	if result.Error != "" {
		fmt.Fprintf(&b, "Error: %s\n", result.Error)
	}
	fmt.Fprintln(&b)

	for _, s := range steps {
		fmt.Fprintf(&b, "%s: %s", s.Name, s.Status)
		if s.Outcome != "" {
			fmt.Fprintf(&b, " [%s]", s.Outcome)
		}
		fmt.Fprintf(&b, " %dms\n", s.DurationMS)
		if !detailed {
			continue
		}

		if s.Command != "" {
			fmt.Fprintf(&b, "  command: %s\n", s.Command)
		}
		if s.Outcome != "" {
			fmt.Fprintf(&b, "  exit code: %d\n", s.ExitCode)
		}
		if s.Newest != "" {
			fmt.Fprintf(&b, "  newest source: %s\n", s.Newest)
		}
		for _, d := range s.Downloaded {
			fmt.Fprintf(&b, "  downloaded: %s\n", d)
		}
		if s.Detail != "" {
			fmt.Fprintf(&b, "  detail: %s\n", s.Detail)
		}
		if s.Output != "" {
			fmt.Fprintln(&b)
			fmt.Fprintln(&b, "Output:")
			for _, line := range strings.Split(strings.TrimRight(s.Output, "\n"), "\n") {
				fmt.Fprintf(&b, "    %s\n", line)
			}
		}
	}
	return b.String()
}
