package fs

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCloneAndPurgeRoundTrip(t *testing.T) {
	src := t.TempDir()
	dst := t.TempDir()

	require.NoError(t, os.MkdirAll(filepath.Join(src, "a", "b"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(src, "a", "file.txt"), []byte("hello"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(src, "a", "b", "nested.txt"), []byte("world"), 0o640))
	require.NoError(t, os.Symlink("file.txt", filepath.Join(src, "a", "link")))
	require.NoError(t, os.Mkdir(filepath.Join(src, "keepout"), 0o755))

	excludes := map[string]struct{}{"keepout": {}}

	require.NoError(t, CloneTree(src, dst, excludes))

	got, err := os.ReadFile(filepath.Join(dst, "a", "file.txt"))
	require.NoError(t, err)
	require.Equal(t, "hello", string(got))

	got, err = os.ReadFile(filepath.Join(dst, "a", "b", "nested.txt"))
	require.NoError(t, err)
	require.Equal(t, "world", string(got))

	link, err := os.Readlink(filepath.Join(dst, "a", "link"))
	require.NoError(t, err)
	require.Equal(t, "file.txt", link)

	_, err = os.Stat(filepath.Join(dst, "keepout"))
	require.True(t, os.IsNotExist(err))

	require.NoError(t, PurgeTree(dst, excludes))
	entries, err := os.ReadDir(dst)
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestMoveTree(t *testing.T) {
	src := t.TempDir()
	dst := t.TempDir()

	require.NoError(t, os.WriteFile(filepath.Join(src, "f.txt"), []byte("data"), 0o644))
	require.NoError(t, MoveTree(src, dst))

	got, err := os.ReadFile(filepath.Join(dst, "f.txt"))
	require.NoError(t, err)
	require.Equal(t, "data", string(got))

	_, err = os.Stat(filepath.Join(src, "f.txt"))
	require.True(t, os.IsNotExist(err))
}

func TestMmapRW(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bin")
	require.NoError(t, os.WriteFile(path, []byte("AAAABBBBCCCC"), 0o755))

	buf, err := MmapRW(path)
	require.NoError(t, err)
	copy(buf[4:8], []byte("ZZZZ"))
	require.NoError(t, Munmap(buf))

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "AAAAZZZZCCCC", string(got))
}
