package pipeline

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"syscall"

	"github.com/deixis/kiln/internal/config"
	"github.com/deixis/kiln/internal/dts"
	"github.com/deixis/kiln/internal/logfields"
)

// applyCopy copies or moves one artifact, then optionally repairs it as a
// wasm-bindgen declaration file.
func (e *Engine) applyCopy(rule config.CopyRule) error {
	src, dst := e.path(rule.From), e.path(rule.To)
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", filepath.Dir(dst), err)
	}

	var err error
	if rule.Move {
		err = moveFile(src, dst)
	} else {
		err = copyFile(src, dst)
	}
	if err != nil {
		return err
	}
	e.logger().Debug().Str(logfields.KeyPath, rule.To).Str("from", rule.From).Bool("move", rule.Move).Msg("artifact placed")

	if rule.FixDeclarations {
		if err := dts.FixFile(dst); err != nil {
			return fmt.Errorf("fixing declarations: %w", err)
		}
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("copying artifact: %w", err)
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return fmt.Errorf("copying artifact: %w", err)
	}
	if info.IsDir() {
		return fmt.Errorf("copying artifact: %s is a directory", src)
	}

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, info.Mode().Perm())
	if err != nil {
		return fmt.Errorf("copying artifact: %w", err)
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return fmt.Errorf("copying %s to %s: %w", src, dst, err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("copying %s to %s: %w", src, dst, err)
	}
	return nil
}

// moveFile renames src to dst, falling back to copy and delete when they
// live on different filesystems.
func moveFile(src, dst string) error {
	err := os.Rename(src, dst)
	if err == nil {
		return nil
	}
	var linkErr *os.LinkError
	if !errors.As(err, &linkErr) || !errors.Is(linkErr.Err, syscall.EXDEV) {
		return fmt.Errorf("moving artifact: %w", err)
	}
	if err := copyFile(src, dst); err != nil {
		return err
	}
	if err := os.Remove(src); err != nil {
		return fmt.Errorf("moving artifact: %w", err)
	}
	return nil
}
