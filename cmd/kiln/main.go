// Command kiln builds a Rust/WebAssembly and TypeScript site and serves it
// locally.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"

	"github.com/deixis/kiln"
	"github.com/deixis/kiln/internal/runner"
)

// Exit codes. A failed step exits with the code of its failure kind.
const (
	exitFailure       = 1
	exitHung          = 3
	exitTimeout       = 4
	exitWrongExitCode = 5
)

// CLI is the root of the command line.
type CLI struct {
	Config      string           `short:"c" help:"Project file path (default: search for kiln.yaml, kiln.yml or kiln.toml upward)" type:"path"`
	Verbose     bool             `short:"v" help:"Enable verbose logging"`
	ShowVersion kong.VersionFlag `name:"version" help:"Show version and exit"`

	Run     RunCmd     `cmd:"" default:"withargs" help:"Build the site, then serve it"`
	Build   BuildCmd   `cmd:"" help:"Build the site once"`
	Stale   StaleCmd   `cmd:"" help:"Report which compile steps are out of date"`
	Exec    ExecCmd    `cmd:"" help:"Supervise a single command with hang and timeout limits"`
	MCP     MCPCmd     `cmd:"" name:"mcp" help:"Start the MCP server"`
	Version VersionCmd `cmd:"" help:"Print the version"`
}

// Global carries state shared by every command.
type Global struct {
	Ctx context.Context
	Out io.Writer
}

func main() {
	var cli CLI
	kctx := kong.Parse(&cli,
		kong.Name("kiln"),
		kong.Description("Local build orchestrator for Rust/WebAssembly and TypeScript sites."),
		kong.UsageOnError(),
		kong.Vars{"version": kiln.Version},
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := kctx.Run(&Global{Ctx: ctx, Out: os.Stdout}, &cli)
	stop()

	if err != nil {
		fmt.Fprintf(os.Stderr, "kiln: %v\n", err)
		os.Exit(exitCode(err))
	}
}

// exitCode maps a command error to the process exit code.
func exitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, runner.ErrHung):
		return exitHung
	case errors.Is(err, runner.ErrTimeout):
		return exitTimeout
	case errors.Is(err, runner.ErrWrongExitCode):
		return exitWrongExitCode
	default:
		return exitFailure
	}
}
