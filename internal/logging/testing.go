package logging

import (
	"testing"

	"github.com/rs/zerolog"
)

// ForTest returns a debug logger that writes through t.Log, so output only
// shows up for failing or verbose tests.
func ForTest(t testing.TB) *zerolog.Logger {
	t.Helper()
	cfg := FromEnv(ProfileTest)
	logger := New("", cfg, testWriter{t}).With().Str("test", t.Name()).Logger()
	return &logger
}

type testWriter struct{ t testing.TB }

func (w testWriter) Write(p []byte) (int, error) {
	w.t.Helper()
	w.t.Log(string(p))
	return len(p), nil
}
