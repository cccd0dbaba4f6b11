// Package pipeline runs the configured build steps in order, skipping
// compile steps whose output is already up to date. It is consumed by the
// CLI, the watch loop and the MCP server.
package pipeline

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog"

	"github.com/deixis/kiln/internal/config"
	"github.com/deixis/kiln/internal/metrics"
	"github.com/deixis/kiln/internal/report"
	"github.com/deixis/kiln/internal/revision"
	"github.com/deixis/kiln/internal/runner"
)

// CommandRunner supervises one command. Implemented by runner.Runner.
type CommandRunner interface {
	Run(ctx context.Context, inv runner.Invocation) (*runner.Result, error)
}

// AssetFetcher downloads a file unless it already exists. Implemented by
// assets.Fetcher.
type AssetFetcher interface {
	Fetch(ctx context.Context, url, dest string) (bool, error)
}

// Engine holds shared dependencies for pipeline runs. Builds are
// serialised: at most one step command runs at any time, whoever asks.
type Engine struct {
	Config  *config.Config
	Runner  CommandRunner
	Fetcher AssetFetcher
	Store   report.Store     // optional; receives every finished run
	Metrics metrics.Recorder // optional
	Logger  *zerolog.Logger
	Out     io.Writer // step banners; os.Stdout if nil
	Root    string    // project root; relative step paths resolve here

	// Revision reports the source revision of Root. Defaults to revision.Head.
	Revision func(dir string) (string, error)

	mu sync.Mutex
}

// StepError reports the step that stopped a build. It unwraps to the
// underlying cause, so errors.Is(err, runner.ErrHung) and friends work.
type StepError struct {
	Step string
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("step %s: %v", e.Step, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

// path resolves p against the project root.
func (e *Engine) path(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(e.root(), p)
}

func (e *Engine) root() string {
	if e.Root != "" {
		return e.Root
	}
	return "."
}

// rel returns p relative to the project root when possible, for display.
func (e *Engine) rel(p string) string {
	if r, err := filepath.Rel(e.root(), p); err == nil {
		return r
	}
	return p
}

func (e *Engine) out() io.Writer {
	if e.Out != nil {
		return e.Out
	}
	return os.Stdout
}

func (e *Engine) metrics() metrics.Recorder {
	if e.Metrics != nil {
		return e.Metrics
	}
	return metrics.NoopRecorder{}
}

func (e *Engine) logger() *zerolog.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	nop := zerolog.Nop()
	return &nop
}

func (e *Engine) revision() string {
	head := e.Revision
	if head == nil {
		head = revision.Head
	}
	rev, err := head(e.root())
	if err != nil {
		e.logger().Debug().Err(err).Msg("reading source revision")
		return ""
	}
	return rev
}
