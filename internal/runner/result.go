package runner

import (
	"errors"
	"time"
)

// Outcome classifies how a supervised invocation ended.
type Outcome string

const (
	// OutcomeCompleted means the command exited and its exit code was accepted.
	OutcomeCompleted Outcome = "completed"
	// OutcomeHung means the command produced no output for longer than its hang limit.
	OutcomeHung Outcome = "hung"
	// OutcomeTimeout means the command outlived its total limit.
	OutcomeTimeout Outcome = "timeout"
	// OutcomeWrongExitCode means the command exited with an unexpected code.
	OutcomeWrongExitCode Outcome = "wrong_exit_code"
	// OutcomeError covers everything else: spawn failures and cancellation.
	OutcomeError Outcome = "error"
)

// OutcomeOf maps an error returned by Run to its Outcome.
func OutcomeOf(err error) Outcome {
	switch {
	case err == nil:
		return OutcomeCompleted
	case errors.Is(err, ErrHung):
		return OutcomeHung
	case errors.Is(err, ErrTimeout):
		return OutcomeTimeout
	case errors.Is(err, ErrWrongExitCode):
		return OutcomeWrongExitCode
	default:
		return OutcomeError
	}
}

// Result holds the output of a supervised command execution.
type Result struct {
	RunID     string        // unique identifier for this run
	Command   string        // the shell command line that was run
	PID       int           // process id of the spawned shell
	ExitCode  int           // process exit code; -1 if the process was killed
	Stdout    []byte        // captured stdout (tail only if truncated)
	Stderr    []byte        // captured stderr (tail only if truncated)
	Truncated bool          // true if either stream exceeded the retention cap
	Duration  time.Duration // wall-clock run time
	Outcome   Outcome
}
