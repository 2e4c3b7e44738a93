package framesource

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/frameplay/internal/fsutil"
)

func seed(t *testing.T, mfs *fsutil.MemoryFileSystem, names ...string) {
	t.Helper()
	for _, n := range names {
		require.NoError(t, mfs.WriteFile(n, []byte("ply\n"), 0644))
	}
}

func TestDiscover_DirectorySortsAndFilters(t *testing.T) {
	mfs := fsutil.NewMemoryFileSystem()
	seed(t, mfs,
		"/frames/frame_0010.ply",
		"/frames/frame_0002.ply",
		"/frames/frame_0001.pcd",
		"/frames/README.md",
		"/frames/sub/frame_0000.ply",
	)

	list, err := Discover(mfs, "/frames")
	require.NoError(t, err)
	assert.Equal(t, []string{
		"/frames/frame_0001.pcd",
		"/frames/frame_0002.ply",
		"/frames/frame_0010.ply",
	}, list.Paths())
}

func TestDiscover_GlobKeepsAllMatches(t *testing.T) {
	mfs := fsutil.NewMemoryFileSystem()
	seed(t, mfs, "/run/b.ply", "/run/a.ply", "/run/c.bin", "/other/z.ply")

	list, err := Discover(mfs, "/run/*")
	require.NoError(t, err)
	assert.Equal(t, []string{"/run/a.ply", "/run/b.ply", "/run/c.bin"}, list.Paths())
}

func TestDiscover_LexicographicNotNumeric(t *testing.T) {
	mfs := fsutil.NewMemoryFileSystem()
	seed(t, mfs, "/f/frame_10.ply", "/f/frame_9.ply", "/f/frame_100.ply")

	list, err := Discover(mfs, "/f")
	require.NoError(t, err)
	assert.Equal(t, []string{"/f/frame_10.ply", "/f/frame_100.ply", "/f/frame_9.ply"}, list.Paths())
}

func TestDiscover_Empty(t *testing.T) {
	mfs := fsutil.NewMemoryFileSystem()
	require.NoError(t, mfs.MkdirAll("/empty", 0755))
	seed(t, mfs, "/notes/readme.txt")

	for _, source := range []string{"/empty", "/notes", "/missing/*.ply", ""} {
		_, err := Discover(mfs, source)
		assert.ErrorIs(t, err, ErrNoFramesFound, "source %q", source)
	}
}

func TestDiscover_BadPattern(t *testing.T) {
	mfs := fsutil.NewMemoryFileSystem()
	_, err := Discover(mfs, "/frames/[")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNoFramesFound)
}

func TestDiscover_OSFileSystemSkipsDirectories(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.ply"), []byte("x"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.ply"), []byte("x"), 0644))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "c.ply"), 0755))

	list, err := Discover(fsutil.OSFileSystem{}, filepath.Join(dir, "*.ply"))
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(dir, "a.ply"), filepath.Join(dir, "b.ply")}, list.Paths())
}

func TestList_IsImmutable(t *testing.T) {
	input := []string{"b", "a"}
	list := NewList(input)
	input[0] = "zzz"

	paths := list.Paths()
	paths[0] = "mutated"

	assert.Equal(t, "a", list.At(0))
	assert.Equal(t, "b", list.At(1))
	assert.Equal(t, 2, list.Len())
}
