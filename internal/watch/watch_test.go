package watch

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deixis/kiln/internal/logging"
)

type harness struct {
	dir    string
	builds atomic.Int32
	errs   chan error
	cancel context.CancelFunc
	done   chan error
}

func startWatcher(t *testing.T, build BuildFunc, ignore ...string) *harness {
	t.Helper()
	h := &harness{dir: t.TempDir(), errs: make(chan error, 16), done: make(chan error, 1)}
	for i, rel := range ignore {
		ignore[i] = filepath.Join(h.dir, rel)
	}
	if build == nil {
		build = func(context.Context) error { return nil }
	}
	w := &Watcher{
		Dirs:     []string{h.dir},
		Debounce: 50 * time.Millisecond,
		Logger:   logging.ForTest(t),
		Build: func(ctx context.Context) error {
			h.builds.Add(1)
			return build(ctx)
		},
		OnBuild: func(err error) { h.errs <- err },
		Ignore:  ignore,
	}
	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	go func() { h.done <- w.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case <-h.done:
		case <-time.After(5 * time.Second):
			t.Error("watcher did not stop")
		}
	})
	// Give fsnotify a moment to register the initial watches.
	time.Sleep(50 * time.Millisecond)
	return h
}

func (h *harness) write(t *testing.T, rel, content string) {
	t.Helper()
	path := filepath.Join(h.dir, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func (h *harness) waitBuild(t *testing.T) error {
	t.Helper()
	select {
	case err := <-h.errs:
		return err
	case <-time.After(3 * time.Second):
		t.Fatal("no rebuild")
		return nil
	}
}

func TestWatcher_RebuildsOnChange(t *testing.T) {
	h := startWatcher(t, nil)
	h.write(t, "main.ts", "let x = 1;")
	require.NoError(t, h.waitBuild(t))
	assert.Equal(t, int32(1), h.builds.Load())
}

func TestWatcher_BurstIsDebounced(t *testing.T) {
	h := startWatcher(t, nil)
	for i := 0; i < 10; i++ {
		h.write(t, "main.ts", "let x = "+string(rune('0'+i))+";")
		time.Sleep(5 * time.Millisecond)
	}
	require.NoError(t, h.waitBuild(t))
	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, int32(1), h.builds.Load())
}

func TestWatcher_ChangesDuringBuildCoalesce(t *testing.T) {
	release := make(chan struct{})
	var once sync.Once
	h := startWatcher(t, func(context.Context) error {
		once.Do(func() { <-release })
		return nil
	})

	h.write(t, "a.ts", "1")
	require.Eventually(t, func() bool { return h.builds.Load() == 1 }, 3*time.Second, 10*time.Millisecond)

	// Several debounced requests while the first build is still running.
	for i := 0; i < 3; i++ {
		h.write(t, "b.ts", string(rune('0'+i)))
		time.Sleep(100 * time.Millisecond)
	}
	close(release)

	require.NoError(t, h.waitBuild(t))
	require.NoError(t, h.waitBuild(t))
	time.Sleep(300 * time.Millisecond)
	assert.Equal(t, int32(2), h.builds.Load())
}

func TestWatcher_FailureKeepsWatching(t *testing.T) {
	var calls atomic.Int32
	h := startWatcher(t, func(context.Context) error {
		if calls.Add(1) == 1 {
			return errors.New("tsc failed")
		}
		return nil
	})

	h.write(t, "main.ts", "broken(")
	assert.EqualError(t, h.waitBuild(t), "tsc failed")

	h.write(t, "main.ts", "fixed();")
	assert.NoError(t, h.waitBuild(t))
}

func TestWatcher_IgnoresHiddenAndSwapFiles(t *testing.T) {
	h := startWatcher(t, nil)
	h.write(t, ".main.ts.swp", "x")
	h.write(t, "main.ts~", "x")
	time.Sleep(300 * time.Millisecond)
	assert.Equal(t, int32(0), h.builds.Load())
}

func TestWatcher_IgnoresGeneratedFiles(t *testing.T) {
	h := startWatcher(t, nil, "rust.d.ts")
	h.write(t, "rust.d.ts", "declare namespace wasm_bindgen {}")
	time.Sleep(300 * time.Millisecond)
	assert.Equal(t, int32(0), h.builds.Load())

	h.write(t, "main.ts", "let x = 1;")
	require.NoError(t, h.waitBuild(t))
}

func TestWatcher_WatchesNewDirectories(t *testing.T) {
	h := startWatcher(t, nil)
	require.NoError(t, os.Mkdir(filepath.Join(h.dir, "lib"), 0o755))
	require.NoError(t, h.waitBuild(t))

	h.write(t, "lib/util.ts", "export {}")
	require.NoError(t, h.waitBuild(t))
	assert.Equal(t, int32(2), h.builds.Load())
}

func TestWatcher_RunErrors(t *testing.T) {
	build := func(context.Context) error { return nil }

	err := (&Watcher{Build: build}).Run(context.Background())
	assert.Error(t, err)

	err = (&Watcher{Dirs: []string{t.TempDir()}}).Run(context.Background())
	assert.Error(t, err)

	err = (&Watcher{Dirs: []string{filepath.Join(t.TempDir(), "missing")}, Build: build}).Run(context.Background())
	assert.Error(t, err)
}

func TestShouldIgnore(t *testing.T) {
	tests := []struct {
		path string
		want bool
	}{
		{"src/main.ts", false},
		{"tests/test.ts", false},
		{"src/.hidden", true},
		{"src/.main.ts.swp", true},
		{"src/main.ts~", true},
		{"src/#main.ts#", true},
		{"src/4913", true},
		{"Thumbs.db", true},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ShouldIgnore(tt.path), tt.path)
	}
}
