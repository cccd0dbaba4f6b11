// Package report keeps structured results of pipeline runs so they can be
// inspected after the fact, over HTTP or through the MCP tools. Results live
// for the lifetime of the process only.
package report

import (
	"errors"
	"time"
)

// ErrNotFound is returned when no run matches the requested ID.
var ErrNotFound = errors.New("run not found")

// Status is the final state of a run or a step.
type Status string

const (
	StatusPass      Status = "pass"
	StatusFail      Status = "fail"
	StatusUnchanged Status = "unchanged" // output up to date, command not run
	StatusSkipped   Status = "skipped"   // not reached because an earlier step failed
)

// Store persists and retrieves run results.
type Store interface {
	Save(result *RunResult) error
	Load(runID string) (*RunResult, error)
	// Latest returns the most recently saved run, or ErrNotFound.
	Latest() (*RunResult, error)
}

// RunResult is the record of one pipeline run.
type RunResult struct {
	ID         string       `json:"id"`
	StartedAt  time.Time    `json:"started_at"`
	DurationMS int64        `json:"duration_ms"`
	Status     Status       `json:"status"`
	Revision   string       `json:"revision,omitempty"` // short commit hash of the project
	Error      string       `json:"error,omitempty"`
	Steps      []StepReport `json:"steps"`
}

// StepReport is the record of one step within a run.
type StepReport struct {
	Name       string   `json:"name"`
	Command    string   `json:"command,omitempty"`
	Status     Status   `json:"status"`
	Outcome    string   `json:"outcome,omitempty"` // runner outcome: completed|hung|timeout|wrong_exit_code|error
	ExitCode   int      `json:"exit_code,omitempty"`
	DurationMS int64    `json:"duration_ms"`
	Detail     string   `json:"detail,omitempty"`
	Newest     string   `json:"newest,omitempty"`     // newest source file when the step was gated
	Downloaded []string `json:"downloaded,omitempty"` // assets fetched by this step
	Output     string   `json:"output,omitempty"`     // retained stderr+stdout tail on failure
}

// ByStep returns the reports of steps named name.
func ByStep(result *RunResult, name string) []StepReport {
	var out []StepReport
	for _, s := range result.Steps {
		if s.Name == name {
			out = append(out, s)
		}
	}
	return out
}

// Failed returns the reports of failed steps.
func Failed(result *RunResult) []StepReport {
	var out []StepReport
	for _, s := range result.Steps {
		if s.Status == StatusFail {
			out = append(out, s)
		}
	}
	return out
}
