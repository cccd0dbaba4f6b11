// Package watch rebuilds the pipeline when its sources change.
package watch

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"github.com/deixis/kiln/internal/logfields"
)

// DefaultDebounce is how long the tree must stay quiet before a rebuild starts.
const DefaultDebounce = 300 * time.Millisecond

// BuildFunc runs one full rebuild.
type BuildFunc func(ctx context.Context) error

// Watcher triggers BuildFunc after changes below Dirs. Rebuilds run on a
// single worker; requests arriving during a build collapse into one
// follow-up build.
type Watcher struct {
	Dirs     []string
	Build    BuildFunc
	Debounce time.Duration
	Logger   *zerolog.Logger

	// Ignore lists files the build writes itself; changes to them never
	// trigger a rebuild.
	Ignore []string

	// OnBuild, when set, is called after every rebuild with its error.
	OnBuild func(err error)
}

// Run watches until ctx is done. A failing rebuild is logged and watching
// continues.
func (w *Watcher) Run(ctx context.Context) error {
	if w.Build == nil {
		return errors.New("watch: no build function")
	}
	if len(w.Dirs) == 0 {
		return errors.New("watch: no directories to watch")
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("fsnotify: %w", err)
	}
	defer func() { _ = fw.Close() }()

	log := w.logger()
	for _, dir := range w.Dirs {
		if err := addDirsRecursive(fw, dir, log); err != nil {
			return err
		}
		log.Info().Str(logfields.KeyDir, dir).Msg("watching")
	}

	requests := make(chan struct{}, 1)
	trigger, stop := debouncer(w.debounce(), requests)
	defer stop()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		w.worker(ctx, requests)
	}()
	defer wg.Wait()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			w.handleEvent(fw, ev, trigger)
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			log.Warn().Err(err).Msg("watcher error")
		}
	}
}

func (w *Watcher) handleEvent(fw *fsnotify.Watcher, ev fsnotify.Event, trigger func()) {
	if ShouldIgnore(ev.Name) || ev.Op == fsnotify.Chmod || w.generated(ev.Name) {
		return
	}
	if ev.Op.Has(fsnotify.Create) {
		if fi, err := os.Stat(ev.Name); err == nil && fi.IsDir() {
			_ = addDirsRecursive(fw, ev.Name, w.logger())
		}
	}
	w.logger().Debug().Str(logfields.KeyPath, ev.Name).Str("op", ev.Op.String()).Msg("change detected")
	trigger()
}

// worker runs rebuilds one at a time. The requests channel has capacity
// one, so any number of triggers during a build leave one pending request.
func (w *Watcher) worker(ctx context.Context, requests <-chan struct{}) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-requests:
			w.rebuild(ctx)
		}
	}
}

func (w *Watcher) rebuild(ctx context.Context) {
	log := w.logger()
	log.Info().Msg("change detected, rebuilding")
	start := time.Now()
	err := w.Build(ctx)
	if err != nil {
		if ctx.Err() == nil {
			log.Warn().Err(err).Msg("rebuild failed")
		}
	} else {
		log.Info().Int64(logfields.KeyDurationMS, time.Since(start).Milliseconds()).Msg("rebuild done")
	}
	if w.OnBuild != nil {
		w.OnBuild(err)
	}
}

// debouncer returns a trigger that posts to requests once the triggers have
// been quiet for delay, and a stop function cancelling any pending post.
func debouncer(delay time.Duration, requests chan<- struct{}) (trigger func(), stop func()) {
	var mu sync.Mutex
	var timer *time.Timer
	stopped := false

	trigger = func() {
		mu.Lock()
		defer mu.Unlock()
		if stopped {
			return
		}
		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(delay, func() {
			select {
			case requests <- struct{}{}:
			default:
			}
		})
	}
	stop = func() {
		mu.Lock()
		defer mu.Unlock()
		stopped = true
		if timer != nil {
			timer.Stop()
		}
	}
	return trigger, stop
}

func addDirsRecursive(fw *fsnotify.Watcher, root string, log *zerolog.Logger) error {
	info, err := os.Stat(root)
	if err != nil {
		return fmt.Errorf("watch %s: %w", root, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("watch %s: not a directory", root)
	}
	return filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && ShouldIgnore(path) {
			return filepath.SkipDir
		}
		if err := fw.Add(path); err != nil {
			log.Warn().Err(err).Str(logfields.KeyDir, path).Msg("watch add failed")
		}
		return nil
	})
}

// ShouldIgnore reports whether a change to path should not trigger a
// rebuild: hidden files, editor swap files and OS metadata files.
func ShouldIgnore(path string) bool {
	base := filepath.Base(path)
	switch {
	case strings.HasPrefix(base, "."):
		return true
	case strings.HasSuffix(base, "~"),
		strings.HasSuffix(base, ".swp"),
		strings.HasSuffix(base, ".swx"),
		strings.HasPrefix(base, "#") && strings.HasSuffix(base, "#"):
		return true
	case base == "Thumbs.db", base == "4913":
		return true
	}
	return false
}

func (w *Watcher) generated(path string) bool {
	path = filepath.Clean(path)
	for _, p := range w.Ignore {
		if filepath.Clean(p) == path {
			return true
		}
	}
	return false
}

func (w *Watcher) debounce() time.Duration {
	if w.Debounce > 0 {
		return w.Debounce
	}
	return DefaultDebounce
}

func (w *Watcher) logger() *zerolog.Logger {
	if w.Logger != nil {
		return w.Logger
	}
	nop := zerolog.Nop()
	return &nop
}
