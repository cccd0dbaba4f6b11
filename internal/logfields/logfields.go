// Package logfields holds canonical log field names so that packages
// don't drift apart in how they label the same thing.
package logfields

const (
	KeyRunID      = "run_id"
	KeyStep       = "step"
	KeyCommand    = "command"
	KeyDir        = "dir"
	KeyDurationMS = "duration_ms"
	KeyOutcome    = "outcome"
	KeyExitCode   = "exit_code"
	KeyURL        = "url"
	KeyPath       = "path"
	KeyRevision   = "revision"
)
