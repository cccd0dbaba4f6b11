package pipeline

import (
	"context"

	"github.com/deixis/kiln/internal/incremental"
)

// StaleStatus describes whether a gated step would rebuild.
type StaleStatus struct {
	Step   string `json:"step"`
	Source string `json:"source"`
	Output string `json:"output"`
	Stale  bool   `json:"stale"`
	Newest string `json:"newest,omitempty"` // newest file under Source
	Error  string `json:"error,omitempty"`
}

// Stale reports, for every step with a source and output, whether the next
// build would run it. Nothing is executed.
func (e *Engine) Stale(ctx context.Context) ([]StaleStatus, error) {
	var out []StaleStatus
	for _, step := range e.Config.Steps {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		if !step.Gated() {
			continue
		}
		st := StaleStatus{Step: step.Name, Source: step.Source, Output: step.Output}
		check, err := incremental.Check(e.path(step.Source), e.path(step.Output))
		if err != nil {
			st.Error = err.Error()
		} else {
			st.Stale = check.Stale
			st.Newest = e.rel(check.Newest)
		}
		out = append(out, st)
	}
	return out, nil
}
