package logging

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joeycumines/go-jsbridge/internal/testutil"
)

// tinyRotatingFile opens path with a byte limit below the public minimum.
func tinyRotatingFile(t *testing.T, path string, limit int64, keep int) *RotatingFile {
	t.Helper()
	w, err := OpenRotatingFile(path, 1, keep)
	require.NoError(t, err)
	w.limit = limit
	t.Cleanup(func() { _ = w.Close() })
	return w
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(data)
}

func TestRotatingFileAppends(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "nested", "jsb.log")
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("old\n"), 0o644))

	w, err := OpenRotatingFile(path, 0, -1)
	require.NoError(t, err)
	assert.Equal(t, int64(1<<20), w.limit)
	assert.Equal(t, 0, w.keep)
	assert.Equal(t, int64(4), w.size)

	n, err := w.Write([]byte("new\n"))
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	require.NoError(t, w.Close())
	assert.Equal(t, "old\nnew\n", readFile(t, path))

	_, err = w.Write([]byte("x"))
	assert.ErrorIs(t, err, os.ErrClosed)
	assert.NoError(t, w.Close())
}

func TestRotatingFileCreatesDir(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "a", "b", "jsb.log")
	w, err := OpenRotatingFile(path, 1, 1)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	assert.FileExists(t, path)
}

func TestRotatingFileRotates(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "jsb.log")
	w := tinyRotatingFile(t, path, 50, 2)
	line := strings.Repeat("A", 39) + "\n"

	for i, c := range []string{"A", "B", "C", "D"} {
		_, err := w.Write([]byte(strings.ReplaceAll(line, "A", c)))
		require.NoError(t, err, "write %d", i)
	}

	assert.Equal(t, strings.Repeat("D", 39)+"\n", readFile(t, path))
	assert.Equal(t, strings.Repeat("C", 39)+"\n", readFile(t, path+".1"))
	assert.Equal(t, strings.Repeat("B", 39)+"\n", readFile(t, path+".2"))
	assert.NoFileExists(t, path+".3")
}

func TestRotatingFileNoBackups(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "jsb.log")
	w := tinyRotatingFile(t, path, 10, 0)
	_, err := w.Write([]byte("0123456789"))
	require.NoError(t, err)
	_, err = w.Write([]byte("next"))
	require.NoError(t, err)
	assert.Equal(t, "next", readFile(t, path))
	assert.NoFileExists(t, path+".1")
}

func TestRotatingFileOversizedWrite(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "jsb.log")
	w := tinyRotatingFile(t, path, 5, 1)
	big := strings.Repeat("x", 20)
	_, err := w.Write([]byte(big))
	require.NoError(t, err)
	assert.Equal(t, big, readFile(t, path), "a single write is never split")
}

func TestRotatingFileIgnoresUnrelatedFiles(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "jsb.log")
	require.NoError(t, os.WriteFile(path+".bak", []byte("keep"), 0o644))
	require.NoError(t, os.WriteFile(path+".0", []byte("keep"), 0o644))
	w := tinyRotatingFile(t, path, 4, 1)
	for range 3 {
		_, err := w.Write([]byte("abcd"))
		require.NoError(t, err)
	}
	assert.Equal(t, []int{1}, w.backups())
	assert.Equal(t, "keep", readFile(t, path+".bak"))
	assert.Equal(t, "keep", readFile(t, path+".0"))
}

func TestRotatingFileConcurrentWrites(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "jsb.log")
	w := tinyRotatingFile(t, path, 1000, 3)
	var wg sync.WaitGroup
	for range 4 {
		wg.Go(func() {
			for range 50 {
				_, _ = w.Write([]byte("0123456789\n"))
			}
		})
	}
	wg.Wait()
	for _, p := range []string{path, path + ".1", path + ".2", path + ".3"} {
		if data, err := os.ReadFile(p); err == nil {
			assert.Zero(t, len(data)%11, "%s holds whole lines", p)
		}
	}
}

func TestRotatingFileUnwritableDir(t *testing.T) {
	t.Parallel()
	testutil.SkipUnlessPermissionsEnforced(t)
	dir := t.TempDir()
	require.NoError(t, os.Chmod(dir, 0o555))
	t.Cleanup(func() { _ = os.Chmod(dir, 0o755) })

	_, err := OpenRotatingFile(filepath.Join(dir, "app.log"), 1, 1)
	require.Error(t, err)
}
