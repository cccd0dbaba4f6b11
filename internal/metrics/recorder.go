// Package metrics records build and step observations. Components take a
// Recorder and default to NoopRecorder, so metrics never need nil checks.
package metrics

import "time"

// Recorder defines observability hooks for builds and their steps.
type Recorder interface {
	ObserveStepDuration(step string, d time.Duration)
	IncStepOutcome(step, outcome string) // outcome: completed|hung|timeout|wrong_exit_code|error|unchanged
	ObserveBuildDuration(d time.Duration)
	IncBuildOutcome(outcome string) // outcome: pass|fail
	IncStaleSkip(step string)
}

// NoopRecorder is a Recorder that does nothing (default when metrics are not configured).
type NoopRecorder struct{}

func (NoopRecorder) ObserveStepDuration(string, time.Duration) {}
func (NoopRecorder) IncStepOutcome(string, string)             {}
func (NoopRecorder) ObserveBuildDuration(time.Duration)        {}
func (NoopRecorder) IncBuildOutcome(string)                    {}
func (NoopRecorder) IncStaleSkip(string)                       {}
