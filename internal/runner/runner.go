// Package runner supervises external commands: it streams their output as it
// arrives, tells a silent (hung) process apart from one that is merely slow,
// enforces a total time budget, and validates the exit code.
package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/deixis/kiln/internal/logfields"
)

// Default values for runner configuration.
const (
	DefaultPollInterval = 2 * time.Second
	DefaultMaxOutput    = 1 << 20 // 1 MB
)

// waitDelay bounds how long reaping waits for output pipes that a grandchild
// may still hold open after the shell itself exited.
const waitDelay = time.Second

// Invocation describes one supervised run of a shell command.
type Invocation struct {
	Command    string        // shell command line, run via sh -c
	Dir        string        // working directory; empty means the workspace
	Env        []string      // extra KEY=VALUE pairs on top of the inherited environment
	HangLimit  time.Duration // maximum silence before the command counts as hung
	TotalLimit time.Duration // maximum wall-clock lifetime

	// ExpectedExitCode disables exit-code validation when nil.
	ExpectedExitCode *int
}

// ExitCode is a convenience for filling Invocation.ExpectedExitCode.
func ExitCode(code int) *int { return &code }

// Runner executes commands within a workspace and reports their progress.
type Runner struct {
	Workspace    string
	PollInterval time.Duration
	MaxOutput    int       // bytes of each stream retained in Result
	Output       io.Writer // receives "STDOUT > ..." progress lines; os.Stdout if nil
	Logger       *zerolog.Logger
}

// Run starts inv.Command and blocks until it completes, hangs, times out or
// ctx is cancelled. The child process (and its process group) is never left
// running when Run returns, whatever the exit path.
//
// On failure Run still returns the Result gathered so far, with Outcome set,
// together with a *HangError, *TimeoutError or *ExitCodeError. Spawn
// failures return a nil Result.
func (r *Runner) Run(ctx context.Context, inv Invocation) (*Result, error) {
	if strings.TrimSpace(inv.Command) == "" {
		return nil, errors.New("empty command")
	}
	if inv.HangLimit <= 0 {
		return nil, fmt.Errorf("hang limit must be positive, got %s", inv.HangLimit)
	}
	if inv.TotalLimit <= 0 {
		return nil, fmt.Errorf("total limit must be positive, got %s", inv.TotalLimit)
	}

	dir, err := r.resolveDir(inv.Dir)
	if err != nil {
		return nil, err
	}

	cmd := exec.Command("sh", "-c", inv.Command)
	cmd.Dir = dir
	if len(inv.Env) > 0 {
		cmd.Env = append(os.Environ(), inv.Env...)
	}
	cmd.WaitDelay = waitDelay
	setProcessGroup(cmd)

	out := newCapture(r.maxOutput())
	cmd.Stdout = out.writer(stdoutStream)
	cmd.Stderr = out.writer(stderrStream)

	log := r.logger().With().Str(logfields.KeyCommand, inv.Command).Logger()

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting %q: %w", inv.Command, err)
	}

	res := &Result{
		RunID:    uuid.New().String(),
		Command:  inv.Command,
		PID:      cmd.Process.Pid,
		ExitCode: -1,
	}
	log.Debug().Int("pid", res.PID).Str(logfields.KeyDir, dir).Msg("command started")

	done := make(chan error, 1)
	go func() {
		done <- cmd.Wait()
	}()

	finished := false
	defer func() {
		if !finished {
			if kerr := killProcessGroup(cmd); kerr != nil {
				log.Warn().Err(kerr).Int("pid", res.PID).Msg("killing command")
			}
			<-done
			log.Debug().Int("pid", res.PID).Msg("command killed")
		}
		// Whatever was captured is shown before the failure surfaces.
		r.emit(out.drain())
		r.emit(out.flushPartial())
		r.fill(res, out, start)
	}()

	ticker := time.NewTicker(r.pollInterval())
	defer ticker.Stop()

	hangDeadline := start.Add(inv.HangLimit)
	absoluteDeadline := start.Add(inv.TotalLimit)
	var lastStdout, lastStderr int

	for {
		select {
		case waitErr := <-done:
			finished = true
			code, err := exitCode(cmd, waitErr)
			if err != nil {
				res.Outcome = OutcomeError
				return res, fmt.Errorf("waiting for %q: %w", inv.Command, err)
			}
			res.ExitCode = code
			if inv.ExpectedExitCode != nil && code != *inv.ExpectedExitCode {
				res.Outcome = OutcomeWrongExitCode
				return res, &ExitCodeError{Command: inv.Command, Expected: *inv.ExpectedExitCode, Actual: code}
			}
			res.Outcome = OutcomeCompleted
			return res, nil

		case <-ctx.Done():
			res.Outcome = OutcomeError
			return res, fmt.Errorf("running %q: %w", inv.Command, ctx.Err())

		case now := <-ticker.C:
			r.emit(out.drain())

			stdoutLen, stderrLen := out.sizes()
			if stdoutLen > lastStdout || stderrLen > lastStderr {
				lastStdout, lastStderr = stdoutLen, stderrLen
				hangDeadline = now.Add(inv.HangLimit)
			} else if now.After(hangDeadline) {
				res.Outcome = OutcomeHung
				return res, &HangError{Command: inv.Command, HangLimit: inv.HangLimit, Elapsed: now.Sub(start)}
			}
			if now.After(absoluteDeadline) {
				res.Outcome = OutcomeTimeout
				return res, &TimeoutError{Command: inv.Command, TotalLimit: inv.TotalLimit, Elapsed: now.Sub(start)}
			}
		}
	}
}

// exitCode extracts the exit status from the error returned by cmd.Wait.
func exitCode(cmd *exec.Cmd, waitErr error) (int, error) {
	if waitErr == nil {
		return 0, nil
	}
	var exitErr *exec.ExitError
	if errors.As(waitErr, &exitErr) {
		return exitErr.ExitCode(), nil
	}
	// The shell exited but a background child kept the pipes open past
	// WaitDelay; the exit status is still valid.
	if errors.Is(waitErr, exec.ErrWaitDelay) && cmd.ProcessState != nil {
		return cmd.ProcessState.ExitCode(), nil
	}
	return -1, waitErr
}

// emit writes progress lines to the output channel. Write errors are
// logged and otherwise ignored; progress never affects the outcome.
func (r *Runner) emit(lines []line) {
	if len(lines) == 0 {
		return
	}
	w := r.Output
	if w == nil {
		w = os.Stdout
	}
	for _, l := range lines {
		if _, err := fmt.Fprintf(w, "%s > %s\n", l.stream.tag(), l.text); err != nil {
			r.logger().Debug().Err(err).Msg("writing progress line")
			return
		}
	}
}

func (r *Runner) fill(res *Result, out *capture, start time.Time) {
	var cutOut, cutErr bool
	res.Stdout, cutOut = out.tail(stdoutStream)
	res.Stderr, cutErr = out.tail(stderrStream)
	res.Truncated = cutOut || cutErr
	res.Duration = time.Since(start)
}

func (r *Runner) maxOutput() int {
	if r.MaxOutput > 0 {
		return r.MaxOutput
	}
	return DefaultMaxOutput
}

func (r *Runner) pollInterval() time.Duration {
	if r.PollInterval > 0 {
		return r.PollInterval
	}
	return DefaultPollInterval
}

func (r *Runner) logger() *zerolog.Logger {
	if r.Logger != nil {
		return r.Logger
	}
	nop := zerolog.Nop()
	return &nop
}

// resolveDir resolves dir relative to the workspace. Relative paths must
// remain within the workspace; absolute paths are taken as given.
func (r *Runner) resolveDir(dir string) (string, error) {
	workspace := r.Workspace
	if workspace == "" {
		wd, err := os.Getwd()
		if err != nil {
			return "", fmt.Errorf("determining workspace: %w", err)
		}
		workspace = wd
	}

	var resolved string
	switch {
	case dir == "":
		resolved = workspace
	case filepath.IsAbs(dir):
		resolved = filepath.Clean(dir)
	default:
		resolved = filepath.Clean(filepath.Join(workspace, dir))
		rel, err := filepath.Rel(workspace, resolved)
		if err != nil {
			return "", fmt.Errorf("resolving dir: %w", err)
		}
		if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return "", fmt.Errorf("dir %q is outside workspace %q", dir, workspace)
		}
	}

	info, err := os.Stat(resolved)
	if err != nil {
		return "", fmt.Errorf("working directory: %w", err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("working directory %q is not a directory", resolved)
	}
	return resolved, nil
}
