package runner

import (
	"errors"
	"fmt"
	"time"
)

// Sentinels for errors.Is. Each failure type below matches exactly one.
var (
	ErrHung          = errors.New("command hung")
	ErrTimeout       = errors.New("command timed out")
	ErrWrongExitCode = errors.New("command exited with unexpected code")
)

// HangError is returned when a command stays silent for longer than its hang limit.
type HangError struct {
	Command   string
	HangLimit time.Duration
	Elapsed   time.Duration
}

func (e *HangError) Error() string {
	return fmt.Sprintf("gave up on command %q as it hung for %s (after running for %s)",
		e.Command, e.HangLimit, e.Elapsed.Round(time.Millisecond))
}

func (e *HangError) Is(target error) bool { return target == ErrHung }

// TimeoutError is returned when a command runs past its total limit.
type TimeoutError struct {
	Command    string
	TotalLimit time.Duration
	Elapsed    time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("gave up on command %q as it took longer than %s to complete",
		e.Command, e.TotalLimit)
}

func (e *TimeoutError) Is(target error) bool { return target == ErrTimeout }

// ExitCodeError is returned when a command exits with a code other than the expected one.
type ExitCodeError struct {
	Command  string
	Expected int
	Actual   int
}

func (e *ExitCodeError) Error() string {
	return fmt.Sprintf("command %q got wrong exit code: expected %d but got %d",
		e.Command, e.Expected, e.Actual)
}

func (e *ExitCodeError) Is(target error) bool { return target == ErrWrongExitCode }
