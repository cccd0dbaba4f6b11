package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deixis/kiln/internal/metrics"
	"github.com/deixis/kiln/internal/report"
)

func newSite(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	files := map[string]string{
		"index.html": "<html>main</html>",
		"tests.html": "<html>tests</html>",
		"rust.wasm":  "\x00asm\x01\x00\x00\x00",
		"rust.js":    "var wasm_bindgen;",
	}
	for name, content := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
	}
	return dir
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) Response {
	t.Helper()
	var resp Response
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	return resp
}

func TestSite_ServesFiles(t *testing.T) {
	h := New(Options{SiteDir: newSite(t)}).Handler()

	rec := get(t, h, "/")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "<html>main</html>", rec.Body.String())

	rec = get(t, h, "/tests.html")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")
	assert.Equal(t, "no-cache", rec.Header().Get("Cache-Control"))

	rec = get(t, h, "/missing.js")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSite_WasmContentType(t *testing.T) {
	h := New(Options{SiteDir: newSite(t)}).Handler()

	rec := get(t, h, "/rust.wasm")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/wasm", rec.Header().Get("Content-Type"))
	assert.Equal(t, "\x00asm\x01\x00\x00\x00", rec.Body.String())
}

func TestHealth(t *testing.T) {
	rec := get(t, New(Options{SiteDir: t.TempDir()}).Handler(), "/healthz")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decode(t, rec).Success)
}

func TestRuns(t *testing.T) {
	store := report.NewDiskStore()
	t.Cleanup(func() { _ = store.Close() })
	h := New(Options{SiteDir: t.TempDir(), Store: store}).Handler()

	rec := get(t, h, "/api/runs/latest")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "run not found", decode(t, rec).Error)

	require.NoError(t, store.Save(&report.RunResult{
		ID:     "run-1",
		Status: report.StatusFail,
		Steps:  []report.StepReport{{Name: "typescript", Status: report.StatusFail, Outcome: "timeout"}},
	}))

	rec = get(t, h, "/api/runs/latest")
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Success bool              `json:"success"`
		Data    *report.RunResult `json:"data"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.True(t, body.Success)
	assert.Equal(t, "run-1", body.Data.ID)
	assert.Equal(t, "timeout", body.Data.Steps[0].Outcome)

	rec = get(t, h, "/api/runs/run-1")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = get(t, h, "/api/runs/run-2")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics.NewPrometheusRecorder(reg).IncBuildOutcome("pass")
	h := New(Options{SiteDir: t.TempDir(), Gatherer: reg}).Handler()

	rec := get(t, h, "/metrics")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `kiln_build_outcomes_total{outcome="pass"} 1`)
}

func TestMCPMount(t *testing.T) {
	mcp := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "mcp:"+r.URL.Path)
	})
	h := New(Options{SiteDir: t.TempDir(), MCP: mcp}).Handler()

	assert.Equal(t, "mcp:/mcp", get(t, h, "/mcp").Body.String())
	assert.Equal(t, "mcp:/mcp/session", get(t, h, "/mcp/session").Body.String())
}

func TestServeListener_ShutsDownOnCancel(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	var out bytes.Buffer
	srv := New(Options{SiteDir: newSite(t), Out: &out})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.ServeListener(ctx, ln) }()

	url := "http://" + ln.Addr().String() + "/tests.html"
	require.Eventually(t, func() bool {
		resp, err := http.Get(url)
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(shutdownTimeout + time.Second):
		t.Fatal("server did not stop")
	}
	assert.Contains(t, out.String(), "/tests.html")
}

func TestDisplayAddr(t *testing.T) {
	assert.Equal(t, "localhost:8080", displayAddr(&net.TCPAddr{IP: net.IPv4zero, Port: 8080}))
	assert.Equal(t, "127.0.0.1:9000", displayAddr(&net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 9000}))
}
