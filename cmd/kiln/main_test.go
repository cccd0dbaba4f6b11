package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alecthomas/kong"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deixis/kiln"
	"github.com/deixis/kiln/internal/pipeline"
	"github.com/deixis/kiln/internal/runner"
)

func parse(t *testing.T, args ...string) (*CLI, *kong.Context) {
	t.Helper()
	var cli CLI
	parser, err := kong.New(&cli, kong.Name("kiln"), kong.Vars{"version": kiln.Version}, kong.Exit(func(int) {}))
	require.NoError(t, err)
	kctx, err := parser.Parse(args)
	require.NoError(t, err)
	return &cli, kctx
}

// project writes a kiln.yaml with the given steps section and returns its path.
func project(t *testing.T, steps string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "kiln.yaml")
	require.NoError(t, os.WriteFile(path, []byte("version: 1\npoll_interval: 20ms\nsteps:\n"+steps), 0o644))
	return path
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{nil, 0},
		{errors.New("boom"), exitFailure},
		{&runner.HangError{}, exitHung},
		{&runner.TimeoutError{}, exitTimeout},
		{&runner.ExitCodeError{}, exitWrongExitCode},
		{&pipeline.StepError{Step: "typescript", Err: &runner.HangError{}}, exitHung},
		{fmt.Errorf("wrapped: %w", &runner.ExitCodeError{}), exitWrongExitCode},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, exitCode(tt.err), "%v", tt.err)
	}
}

func TestParse_DefaultsToRun(t *testing.T) {
	cli, kctx := parse(t)
	assert.Equal(t, "run", kctx.Command())
	assert.False(t, cli.Run.Watch)

	cli, kctx = parse(t, "--watch", "--no-serve")
	assert.Equal(t, "run", kctx.Command())
	assert.True(t, cli.Run.Watch)
	assert.True(t, cli.Run.NoServe)
}

func TestParse_Exec(t *testing.T) {
	cli, kctx := parse(t, "exec", "--hang", "1s", "--timeout", "5s", "--expect", "2", "--", "cargo", "test", "--release")
	assert.Equal(t, "exec <command>", kctx.Command())

	inv := cli.Exec.invocation()
	assert.Equal(t, "cargo test --release", inv.Command)
	assert.Equal(t, time.Second, inv.HangLimit)
	assert.Equal(t, 5*time.Second, inv.TotalLimit)
	require.NotNil(t, inv.ExpectedExitCode)
	assert.Equal(t, 2, *inv.ExpectedExitCode)

	cli, _ = parse(t, "exec", "--ignore-exit", "--", "false")
	inv = cli.Exec.invocation()
	assert.Nil(t, inv.ExpectedExitCode)
	assert.Equal(t, 10*time.Second, inv.HangLimit)
	assert.Equal(t, 60*time.Second, inv.TotalLimit)
}

func TestExecCmd_Run(t *testing.T) {
	cfg := project(t, "  - name: noop\n    command: \"true\"\n")

	var out bytes.Buffer
	g := &Global{Ctx: context.Background(), Out: &out}
	cmd := &ExecCmd{Hang: 2 * time.Second, Timeout: 10 * time.Second, Command: []string{"echo", "hi"}}
	require.NoError(t, cmd.Run(g, &CLI{Config: cfg}))
	assert.Equal(t, "STDOUT > hi\n", out.String())

	cmd = &ExecCmd{Hang: 2 * time.Second, Timeout: 10 * time.Second, Command: []string{"exit", "3"}}
	err := cmd.Run(g, &CLI{Config: cfg})
	require.Error(t, err)
	assert.Equal(t, exitWrongExitCode, exitCode(err))

	cmd = &ExecCmd{Hang: 200 * time.Millisecond, Timeout: 10 * time.Second, Command: []string{"sleep", "3"}}
	err = cmd.Run(g, &CLI{Config: cfg})
	assert.Equal(t, exitHung, exitCode(err))
}

func TestBuildCmd_Run(t *testing.T) {
	cfg := project(t, "  - name: first\n    command: echo built\n  - name: second\n    command: \"exit 1\"\n")

	var out bytes.Buffer
	g := &Global{Ctx: context.Background(), Out: &out}
	err := (&BuildCmd{}).Run(g, &CLI{Config: cfg})
	require.Error(t, err)
	assert.Equal(t, exitWrongExitCode, exitCode(err))

	var stepErr *pipeline.StepError
	require.ErrorAs(t, err, &stepErr)
	assert.Equal(t, "second", stepErr.Step)
	assert.Contains(t, out.String(), "STDOUT > built")
}

func TestRunCmd_NoServeBuildsOnce(t *testing.T) {
	cfg := project(t, "  - name: only\n    command: echo ok\n")

	var out bytes.Buffer
	g := &Global{Ctx: context.Background(), Out: &out}
	require.NoError(t, (&RunCmd{NoServe: true}).Run(g, &CLI{Config: cfg}))
	assert.Contains(t, out.String(), "STDOUT > ok")
	assert.NotContains(t, out.String(), "Serving at")
}

func TestStaleCmd_SingleQuery(t *testing.T) {
	src := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(src, "main.ts"), []byte("x"), 0o644))
	output := filepath.Join(t.TempDir(), "main.js")

	var out bytes.Buffer
	g := &Global{Ctx: context.Background(), Out: &out}
	require.NoError(t, (&StaleCmd{Source: src, Output: output}).Run(g, &CLI{}))
	assert.Contains(t, out.String(), "stale")

	empty := t.TempDir()
	err := (&StaleCmd{Source: empty, Output: output}).Run(g, &CLI{})
	assert.Error(t, err)

	err = (&StaleCmd{Source: src}).Run(g, &CLI{})
	assert.Error(t, err)
}

func TestVersionCmd(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, (&VersionCmd{}).Run(&Global{Out: &out}))
	assert.Equal(t, kiln.Version+"\n", out.String())
}
