package incremental

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var base = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func writeFile(t *testing.T, path string, mtime time.Time) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
	touch(t, path, mtime)
}

func touch(t *testing.T, path string, mtime time.Time) {
	t.Helper()
	require.NoError(t, os.Chtimes(path, mtime, mtime))
}

func TestIsStale_MissingOutput(t *testing.T) {
	src := t.TempDir()
	writeFile(t, filepath.Join(src, "main.ts"), base)

	stale, err := IsStale(src, filepath.Join(t.TempDir(), "out.js"))
	require.NoError(t, err)
	assert.True(t, stale)
}

func TestIsStale_OutputNewerThanAllInputs(t *testing.T) {
	src := t.TempDir()
	writeFile(t, filepath.Join(src, "a.ts"), base)
	writeFile(t, filepath.Join(src, "lib", "b.ts"), base.Add(time.Minute))
	out := filepath.Join(t.TempDir(), "out.js")
	writeFile(t, out, base.Add(time.Hour))

	stale, err := IsStale(src, out)
	require.NoError(t, err)
	assert.False(t, stale)
}

func TestIsStale_EqualTimesAreNotStale(t *testing.T) {
	src := t.TempDir()
	writeFile(t, filepath.Join(src, "a.ts"), base)
	out := filepath.Join(t.TempDir(), "out.js")
	writeFile(t, out, base)

	stale, err := IsStale(src, out)
	require.NoError(t, err)
	assert.False(t, stale, "comparison must be strict")
}

func TestIsStale_DeeplyNestedChangeFlipsResult(t *testing.T) {
	src := t.TempDir()
	deep := filepath.Join(src, "a", "b", "c", "d", "deep.ts")
	writeFile(t, filepath.Join(src, "top.ts"), base)
	writeFile(t, deep, base)
	out := filepath.Join(t.TempDir(), "out.js")
	writeFile(t, out, base.Add(time.Hour))

	stale, err := IsStale(src, out)
	require.NoError(t, err)
	require.False(t, stale)

	touch(t, deep, base.Add(2*time.Hour))

	stale, err = IsStale(src, out)
	require.NoError(t, err)
	assert.True(t, stale)

	// No state is retained: moving the file back in time flips it again.
	touch(t, deep, base)
	stale, err = IsStale(src, out)
	require.NoError(t, err)
	assert.False(t, stale)
}

func TestIsStale_EmptyDirectory(t *testing.T) {
	src := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(src, "only", "dirs"), 0o755))
	out := filepath.Join(t.TempDir(), "out.js")
	writeFile(t, out, base)

	_, err := IsStale(src, out)
	require.ErrorIs(t, err, ErrEmptyDirectory)

	_, err = IsStale(src, filepath.Join(t.TempDir(), "missing.js"))
	require.ErrorIs(t, err, ErrEmptyDirectory)
}

func TestIsStale_MissingSourceDirectory(t *testing.T) {
	_, err := IsStale(filepath.Join(t.TempDir(), "nope"), "out.js")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrEmptyDirectory)
}

func TestIsStale_SourceIsFile(t *testing.T) {
	file := filepath.Join(t.TempDir(), "file.ts")
	writeFile(t, file, base)

	_, err := IsStale(file, "out.js")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not a directory")
}

func TestCheck_ReportsNewestFromSameWalk(t *testing.T) {
	src := t.TempDir()
	writeFile(t, filepath.Join(src, "a.ts"), base)
	writeFile(t, filepath.Join(src, "deep", "b.ts"), base.Add(2*time.Minute))
	out := filepath.Join(t.TempDir(), "out.js")
	writeFile(t, out, base.Add(time.Minute))

	st, err := Check(src, out)
	require.NoError(t, err)
	assert.True(t, st.Stale)
	assert.Equal(t, filepath.Join(src, "deep", "b.ts"), st.Newest)
	assert.True(t, st.NewestTime.Equal(base.Add(2*time.Minute)))

	touch(t, out, base.Add(3*time.Minute))
	st, err = Check(src, out)
	require.NoError(t, err)
	assert.False(t, st.Stale)
	assert.Equal(t, filepath.Join(src, "deep", "b.ts"), st.Newest)

	_, err = Check(src, filepath.Join(t.TempDir(), "missing.js"))
	require.NoError(t, err)

	empty := t.TempDir()
	_, err = Check(empty, filepath.Join(t.TempDir(), "missing.js"))
	assert.ErrorIs(t, err, ErrEmptyDirectory)
}

func TestNewest(t *testing.T) {
	src := t.TempDir()
	writeFile(t, filepath.Join(src, "a.ts"), base)
	writeFile(t, filepath.Join(src, "x", "y.ts"), base.Add(3*time.Minute))
	writeFile(t, filepath.Join(src, "z.ts"), base.Add(time.Minute))

	path, mtime, err := Newest(src)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(src, "x", "y.ts"), path)
	assert.True(t, mtime.Equal(base.Add(3*time.Minute)))
}

func TestNewest_DanglingSymlink(t *testing.T) {
	src := t.TempDir()
	writeFile(t, filepath.Join(src, "a.ts"), base)
	if err := os.Symlink(filepath.Join(src, "gone.ts"), filepath.Join(src, "link.ts")); err != nil {
		t.Skipf("symlinks unsupported: %v", err)
	}

	_, _, err := Newest(src)
	require.NoError(t, err)
}
