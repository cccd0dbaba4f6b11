package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/deixis/kiln"
	"github.com/deixis/kiln/internal/incremental"
	kilnmcp "github.com/deixis/kiln/internal/mcp"
	"github.com/deixis/kiln/internal/runner"
	"github.com/deixis/kiln/internal/server"
	"github.com/deixis/kiln/internal/watch"
)

// --- run ---

// RunCmd builds the site and serves it, optionally rebuilding on change.
type RunCmd struct {
	Watch   bool `short:"w" help:"Rebuild when sources change"`
	NoServe bool `name:"no-serve" help:"Do not start the HTTP server"`
}

func (c *RunCmd) Run(g *Global, root *CLI) error {
	a, err := newApp(root, g.Out)
	if err != nil {
		return err
	}
	defer a.close()

	if _, err := a.engine.Build(g.Ctx); err != nil {
		if !c.Watch {
			return err
		}
		// In watch mode the next edit gets another chance.
		a.log.Error().Err(err).Msg("initial build failed")
	}

	ctx, cancel := context.WithCancel(g.Ctx)
	defer cancel()
	errCh := make(chan error, 2)
	running := 0

	if c.Watch {
		w := &watch.Watcher{
			Dirs:   a.paths(a.loaded.Config.WatchDirs()),
			Ignore: a.paths(a.loaded.Config.Generated()),
			Logger: &a.log,
			Build: func(ctx context.Context) error {
				_, err := a.engine.Build(ctx)
				return err
			},
		}
		running++
		go func() { errCh <- w.Run(ctx) }()
	}

	if !c.NoServe {
		mcpServer := kilnmcp.NewServer(a.engine, a.store)
		srv := server.New(server.Options{
			Addr:     a.loaded.Config.Addr(),
			SiteDir:  a.path(a.loaded.Config.Site()),
			Store:    a.store,
			Gatherer: a.registry,
			MCP:      kilnmcp.NewHTTPHandler(mcpServer),
			Logger:   &a.log,
			Out:      g.Out,
		})
		running++
		go func() { errCh <- srv.Serve(ctx) }()
	}

	// The first component to stop, by error or signal, stops the other.
	var first error
	for i := 0; i < running; i++ {
		if err := <-errCh; err != nil && first == nil {
			first = err
		}
		cancel()
	}
	return first
}

// path resolves p against the project root.
func (a *app) path(p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(a.loaded.Root, p)
}

func (a *app) paths(ps []string) []string {
	out := make([]string, len(ps))
	for i, p := range ps {
		out[i] = a.path(p)
	}
	return out
}

// --- build ---

// BuildCmd runs the pipeline once.
type BuildCmd struct {
	JSON bool `help:"Print the run report as JSON"`
}

func (c *BuildCmd) Run(g *Global, root *CLI) error {
	a, err := newApp(root, g.Out)
	if err != nil {
		return err
	}
	defer a.close()

	result, buildErr := a.engine.Build(g.Ctx)
	if c.JSON && result != nil {
		enc := json.NewEncoder(g.Out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(result.RunResult); err != nil {
			return err
		}
	}
	return buildErr
}

// --- stale ---

// StaleCmd reports staleness, either of one source/output pair or of every
// gated step.
type StaleCmd struct {
	Source string `arg:"" optional:"" help:"Source directory" type:"path"`
	Output string `arg:"" optional:"" help:"Output file" type:"path"`
	JSON   bool   `help:"Print the report as JSON"`
}

func (c *StaleCmd) Run(g *Global, root *CLI) error {
	if c.Source != "" {
		if c.Output == "" {
			return errors.New("stale: an output file is required with a source directory")
		}
		stale, err := incremental.IsStale(c.Source, c.Output)
		if err != nil {
			return err
		}
		return c.print(g, []staleLine{{Source: c.Source, Output: c.Output, Stale: stale}})
	}

	a, err := newApp(root, g.Out)
	if err != nil {
		return err
	}
	defer a.close()

	statuses, err := a.engine.Stale(g.Ctx)
	if err != nil {
		return err
	}
	lines := make([]staleLine, 0, len(statuses))
	for _, st := range statuses {
		lines = append(lines, staleLine{Step: st.Step, Source: st.Source, Output: st.Output, Stale: st.Stale, Newest: st.Newest, Error: st.Error})
	}
	return c.print(g, lines)
}

type staleLine struct {
	Step   string `json:"step,omitempty"`
	Source string `json:"source"`
	Output string `json:"output"`
	Stale  bool   `json:"stale"`
	Newest string `json:"newest,omitempty"`
	Error  string `json:"error,omitempty"`
}

func (c *StaleCmd) print(g *Global, lines []staleLine) error {
	if c.JSON {
		enc := json.NewEncoder(g.Out)
		enc.SetIndent("", "  ")
		return enc.Encode(lines)
	}
	for _, l := range lines {
		name := l.Step
		if name == "" {
			name = l.Source
		}
		switch {
		case l.Error != "":
			fmt.Fprintf(g.Out, "  %-18s error: %s\n", name, l.Error)
		case l.Stale:
			fmt.Fprintf(g.Out, "  %-18s stale\n", name)
		default:
			fmt.Fprintf(g.Out, "  %-18s up to date\n", name)
		}
	}
	return nil
}

// --- exec ---

// ExecCmd supervises a single shell command.
type ExecCmd struct {
	Hang       time.Duration `help:"Maximum silence before the command counts as hung" default:"10s"`
	Timeout    time.Duration `help:"Maximum total run time" default:"60s"`
	Expect     int           `help:"Expected exit code" default:"0"`
	IgnoreExit bool          `name:"ignore-exit" help:"Accept any exit code"`
	Dir        string        `short:"C" help:"Working directory"`
	Command    []string      `arg:"" passthrough:"" help:"Command to run (use -- before it)"`
}

func (c *ExecCmd) Run(g *Global, root *CLI) error {
	a, err := newApp(root, g.Out)
	if err != nil {
		return err
	}
	defer a.close()

	res, err := a.runner.Run(g.Ctx, c.invocation())
	if err != nil {
		return err
	}
	a.log.Debug().Int("exit_code", res.ExitCode).Dur("duration", res.Duration).Msg("command finished")
	return nil
}

func (c *ExecCmd) invocation() runner.Invocation {
	args := c.Command
	if len(args) > 0 && args[0] == "--" {
		args = args[1:]
	}
	inv := runner.Invocation{
		Command:    strings.Join(args, " "),
		Dir:        c.Dir,
		HangLimit:  c.Hang,
		TotalLimit: c.Timeout,
	}
	if !c.IgnoreExit {
		inv.ExpectedExitCode = runner.ExitCode(c.Expect)
	}
	return inv
}

// --- mcp ---

// MCPCmd serves the kiln tools over MCP.
type MCPCmd struct {
	Instructions bool   `help:"Print model instructions and exit"`
	HTTP         string `name:"http" help:"Serve streamable HTTP on this address (e.g. :9090) instead of stdio"`
}

func (c *MCPCmd) Run(g *Global, root *CLI) error {
	if c.Instructions {
		fmt.Fprint(g.Out, kilnmcp.Instructions)
		return nil
	}

	// stdout carries the protocol on stdio; progress goes to stderr.
	a, err := newApp(root, os.Stderr)
	if err != nil {
		return err
	}
	defer a.close()

	s := kilnmcp.NewServer(a.engine, a.store)
	if c.HTTP == "" {
		return s.Run(g.Ctx, &mcpsdk.StdioTransport{})
	}

	srv := server.New(server.Options{
		Addr:     c.HTTP,
		SiteDir:  a.path(a.loaded.Config.Site()),
		Store:    a.store,
		Gatherer: a.registry,
		MCP:      kilnmcp.NewHTTPHandler(s),
		Logger:   &a.log,
		Out:      os.Stderr,
	})
	return srv.Serve(g.Ctx)
}

// --- version ---

// VersionCmd prints the version.
type VersionCmd struct{}

func (c *VersionCmd) Run(g *Global) error {
	fmt.Fprintln(g.Out, kiln.Version)
	return nil
}
