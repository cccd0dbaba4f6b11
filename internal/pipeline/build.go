package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/deixis/kiln/internal/config"
	"github.com/deixis/kiln/internal/incremental"
	"github.com/deixis/kiln/internal/logfields"
	"github.com/deixis/kiln/internal/report"
	"github.com/deixis/kiln/internal/runner"
)

// maxReportOutput bounds the command output kept in a failed step's report.
const maxReportOutput = 8 << 10

// BuildResult holds the full outcome of a pipeline run.
type BuildResult struct {
	RunResult *report.RunResult
	Steps     []StepResult
	FailedIdx int // -1 if no step failed
}

// StepResult holds the outcome of a single step.
type StepResult struct {
	Name       string
	Status     report.Status  // pass, fail, unchanged, skipped
	Outcome    runner.Outcome // empty when the step ran no command
	Detail     string         // extra info, e.g. the newest source file
	Output     string         // retained command output (only on failure)
	ExitCode   int
	Duration   time.Duration
	Newest     string
	Downloaded []string
}

// Build runs every configured step in order, stopping at the first
// failure. Steps after a failure are reported as skipped. The run is saved
// to the Store whether or not it succeeded. On failure the returned error
// is a *StepError.
func (e *Engine) Build(ctx context.Context) (*BuildResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	start := time.Now()
	rr := &report.RunResult{
		ID:        uuid.New().String(),
		StartedAt: start.UTC(),
		Revision:  e.revision(),
	}
	log := e.logger().With().Str(logfields.KeyRunID, rr.ID).Logger()
	log.Info().Str(logfields.KeyRevision, rr.Revision).Int("steps", len(e.Config.Steps)).Msg("build started")

	steps := e.Config.Steps
	results := make([]StepResult, len(steps))
	for i, step := range steps {
		results[i] = StepResult{Name: step.Name, Status: report.StatusSkipped}
	}

	failedIdx := -1
	var buildErr error
	for i, step := range steps {
		if err := ctx.Err(); err != nil {
			failedIdx = i
			results[i] = StepResult{Name: step.Name, Status: report.StatusFail, Outcome: runner.OutcomeError, Detail: err.Error()}
			buildErr = &StepError{Step: step.Name, Err: err}
			break
		}

		res, err := e.runStep(ctx, step)
		results[i] = res
		e.recordStep(res)
		stepLog := log.With().Str(logfields.KeyStep, step.Name).Int64(logfields.KeyDurationMS, res.Duration.Milliseconds()).Logger()
		if err != nil {
			failedIdx = i
			buildErr = &StepError{Step: step.Name, Err: err}
			stepLog.Error().Err(err).Str(logfields.KeyOutcome, string(res.Outcome)).Msg("step failed")
			break
		}
		stepLog.Debug().Str(logfields.KeyOutcome, string(res.Status)).Msg("step finished")
	}

	rr.DurationMS = time.Since(start).Milliseconds()
	rr.Status = report.StatusPass
	if buildErr != nil {
		rr.Status = report.StatusFail
		rr.Error = buildErr.Error()
	}
	for _, r := range results {
		rr.Steps = append(rr.Steps, stepReport(r, e.Config))
	}

	e.metrics().ObserveBuildDuration(time.Since(start))
	e.metrics().IncBuildOutcome(string(rr.Status))
	if e.Store != nil {
		if err := e.Store.Save(rr); err != nil {
			log.Warn().Err(err).Msg("saving run report")
		}
	}
	log.Info().Str(logfields.KeyOutcome, string(rr.Status)).Int64(logfields.KeyDurationMS, rr.DurationMS).Msg("build finished")

	return &BuildResult{RunResult: rr, Steps: results, FailedIdx: failedIdx}, buildErr
}

// runStep executes one step: staleness gate, asset fetches, command and
// artifact rules, in that order.
func (e *Engine) runStep(ctx context.Context, step config.Step) (StepResult, error) {
	start := time.Now()
	out := e.out()
	res := StepResult{Name: step.Name, Status: report.StatusPass}
	fail := func(err error) (StepResult, error) {
		res.Status = report.StatusFail
		if res.Outcome == "" && step.Command != "" {
			res.Outcome = runner.OutcomeError
		}
		if res.Detail == "" {
			res.Detail = err.Error()
		}
		res.Duration = time.Since(start)
		// Keep the failure on its own line, after any streamed output.
		fmt.Fprintln(out)
		return res, err
	}

	fmt.Fprintf(out, "▶ %s...\n", step.Banner())

	if step.Gated() {
		src := e.path(step.Source)
		check, err := incremental.Check(src, e.path(step.Output))
		if err != nil {
			return fail(fmt.Errorf("checking staleness: %w", err))
		}
		if !check.Stale {
			res.Status = report.StatusUnchanged
			res.Duration = time.Since(start)
			e.metrics().IncStaleSkip(step.Name)
			fmt.Fprintf(out, "✓ %s unchanged, no need to compile.\n", step.Name)
			return res, nil
		}
		res.Newest = e.rel(check.Newest)
		res.Detail = "newest source: " + res.Newest
	}

	for _, f := range step.Fetch {
		if e.Fetcher == nil {
			return fail(errors.New("no asset fetcher configured"))
		}
		downloaded, err := e.Fetcher.Fetch(ctx, f.URL, e.path(f.Dest))
		if err != nil {
			return fail(err)
		}
		if downloaded {
			res.Downloaded = append(res.Downloaded, f.Dest)
		}
	}

	if step.Command != "" {
		inv := runner.Invocation{
			Command:          step.Command,
			Dir:              step.Dir,
			Env:              step.Env,
			HangLimit:        step.HangLimit(),
			TotalLimit:       step.TotalLimit(),
			ExpectedExitCode: step.ExpectedExitCode(),
		}
		rres, err := e.Runner.Run(ctx, inv)
		if rres != nil {
			res.ExitCode = rres.ExitCode
			res.Outcome = rres.Outcome
		}
		if err != nil {
			res.Outcome = runner.OutcomeOf(err)
			res.Output = failureOutput(rres)
			return fail(err)
		}
	}

	for _, rule := range step.Copy {
		if err := e.applyCopy(rule); err != nil {
			return fail(err)
		}
	}

	res.Duration = time.Since(start)
	fmt.Fprintf(out, "✓ %s done in %.3f seconds.\n", step.Name, res.Duration.Seconds())
	return res, nil
}

func (e *Engine) recordStep(res StepResult) {
	label := string(res.Outcome)
	if label == "" || res.Status == report.StatusUnchanged {
		label = string(res.Status)
	}
	e.metrics().ObserveStepDuration(res.Name, res.Duration)
	e.metrics().IncStepOutcome(res.Name, label)
}

// failureOutput returns the tail of stderr followed by stdout.
func failureOutput(res *runner.Result) string {
	if res == nil {
		return ""
	}
	var b strings.Builder
	if len(res.Stderr) > 0 {
		b.Write(res.Stderr)
		if !strings.HasSuffix(b.String(), "\n") {
			b.WriteByte('\n')
		}
	}
	b.Write(res.Stdout)
	s := strings.TrimRight(b.String(), "\n")
	if len(s) > maxReportOutput {
		s = "..." + s[len(s)-maxReportOutput:]
	}
	return s
}

func stepReport(r StepResult, cfg *config.Config) report.StepReport {
	sr := report.StepReport{
		Name:       r.Name,
		Status:     r.Status,
		Outcome:    string(r.Outcome),
		ExitCode:   r.ExitCode,
		DurationMS: r.Duration.Milliseconds(),
		Detail:     r.Detail,
		Newest:     r.Newest,
		Downloaded: r.Downloaded,
		Output:     r.Output,
	}
	if step, ok := cfg.Step(r.Name); ok {
		sr.Command = step.Command
	}
	return sr
}
