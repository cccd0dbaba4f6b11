// Package incremental decides whether a build step can be skipped by
// comparing the modification times of its inputs against its output.
package incremental

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"
)

// ErrEmptyDirectory is returned when a source directory contains no files,
// which leaves the newest input time undefined.
var ErrEmptyDirectory = errors.New("source directory contains no files")

// IsStale reports whether output must be rebuilt from the files under
// sourceDir. It is true when output does not exist or when any file under
// sourceDir, at any depth, was modified strictly after output.
//
// Nothing is cached: every call walks sourceDir again.
func IsStale(sourceDir, output string) (bool, error) {
	st, err := Check(sourceDir, output)
	if err != nil {
		return false, err
	}
	return st.Stale, nil
}

// Status is the outcome of a single staleness check.
type Status struct {
	Stale      bool
	Newest     string    // newest file under the source directory
	NewestTime time.Time // its modification time
}

// Check is IsStale that also reports which input was newest, from the same
// walk of sourceDir.
func Check(sourceDir, output string) (Status, error) {
	path, newest, err := Newest(sourceDir)
	if err != nil {
		return Status{}, err
	}
	st := Status{Newest: path, NewestTime: newest}

	info, err := os.Stat(output)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			st.Stale = true
			return st, nil
		}
		return Status{}, fmt.Errorf("stat output %s: %w", output, err)
	}
	st.Stale = newest.After(info.ModTime())
	return st, nil
}

// Newest walks dir recursively and returns the most recently modified file
// and its modification time. Symlinks are followed for their time; a
// dangling link contributes its own time.
func Newest(dir string) (string, time.Time, error) {
	if dir == "" {
		return "", time.Time{}, errors.New("source directory not set")
	}
	info, err := os.Stat(dir)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("source directory: %w", err)
	}
	if !info.IsDir() {
		return "", time.Time{}, fmt.Errorf("source %s is not a directory", dir)
	}

	var (
		newestPath string
		newestTime time.Time
		found      bool
	)
	err = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		mtime, err := modTime(path)
		if err != nil {
			return err
		}
		if !found || mtime.After(newestTime) {
			newestPath, newestTime, found = path, mtime, true
		}
		return nil
	})
	if err != nil {
		return "", time.Time{}, fmt.Errorf("walking %s: %w", dir, err)
	}
	if !found {
		return "", time.Time{}, fmt.Errorf("%s: %w", dir, ErrEmptyDirectory)
	}
	return newestPath, newestTime, nil
}

func modTime(path string) (time.Time, error) {
	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		info, err = os.Lstat(path)
	}
	if err != nil {
		return time.Time{}, err
	}
	return info.ModTime(), nil
}
