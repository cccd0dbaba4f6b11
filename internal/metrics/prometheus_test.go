package metrics

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scrape(t *testing.T, g prom.Gatherer) string {
	t.Helper()
	rec := httptest.NewRecorder()
	HTTPHandler(g).ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	return string(body)
}

func TestPrometheusRecorder(t *testing.T) {
	reg := prom.NewRegistry()
	pr := NewPrometheusRecorder(reg)

	pr.ObserveStepDuration("typescript", 150*time.Millisecond)
	pr.IncStepOutcome("typescript", "completed")
	pr.IncStepOutcome("rust-test", "hung")
	pr.IncStepOutcome("rust-test", "hung")
	pr.ObserveBuildDuration(500 * time.Millisecond)
	pr.IncBuildOutcome("fail")
	pr.IncStaleSkip("typescript-tests")

	mfs, err := reg.Gather()
	require.NoError(t, err)
	assert.Len(t, mfs, 5)

	body := scrape(t, reg)
	assert.Contains(t, body, `kiln_step_outcomes_total{outcome="hung",step="rust-test"} 2`)
	assert.Contains(t, body, `kiln_build_outcomes_total{outcome="fail"} 1`)
	assert.Contains(t, body, `kiln_stale_skips_total{step="typescript-tests"} 1`)
	assert.Contains(t, body, `kiln_step_duration_seconds_count{step="typescript"} 1`)
}

func TestNilPrometheusRecorderIsSafe(t *testing.T) {
	var pr *PrometheusRecorder
	pr.ObserveStepDuration("x", time.Second)
	pr.IncStepOutcome("x", "completed")
	pr.ObserveBuildDuration(time.Second)
	pr.IncBuildOutcome("pass")
	pr.IncStaleSkip("x")
}

var _ Recorder = NoopRecorder{}
var _ Recorder = (*PrometheusRecorder)(nil)
