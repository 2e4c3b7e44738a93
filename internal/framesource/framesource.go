// Package framesource discovers the ordered list of frame files to play.
package framesource

import (
	"errors"
	"fmt"
	"path/filepath"
	"sort"

	"github.com/banshee-data/frameplay/internal/cloud/frameio"
	"github.com/banshee-data/frameplay/internal/fsutil"
)

// ErrNoFramesFound is returned when a source yields no frame files.
var ErrNoFramesFound = errors.New("no frames found")

// List is an immutable, lexicographically sorted sequence of frame paths.
type List struct {
	paths []string
}

// NewList sorts paths and wraps them in a List. The input slice is copied.
func NewList(paths []string) List {
	sorted := append([]string(nil), paths...)
	sort.Strings(sorted)
	return List{paths: sorted}
}

// Len returns the number of frames.
func (l List) Len() int { return len(l.paths) }

// At returns the i-th path.
func (l List) At(i int) string { return l.paths[i] }

// Paths returns a copy of the ordered paths.
func (l List) Paths() []string {
	return append([]string(nil), l.paths...)
}

// Discover resolves source into a frame List.
//
// A directory source yields every file directly inside it whose extension
// frameio can decode. Any other source is treated as a filepath.Match glob
// and every matching regular file is kept, whatever its extension, so that
// unreadable frames surface as load failures rather than silently vanishing.
//
// The List is sorted by full path, not by file name. For a directory source
// the two orders agree. For a glob spanning several directories, such as
// "runs/*/frame.ply", frames are ordered by directory first.
func Discover(fsys fsutil.FileSystem, source string) (List, error) {
	if source == "" {
		return List{}, fmt.Errorf("%w: empty source", ErrNoFramesFound)
	}

	dirMode := false
	pattern := source
	if info, err := fsys.Stat(source); err == nil && info.IsDir() {
		dirMode = true
		pattern = filepath.Join(source, "*")
	}

	matches, err := fsys.Glob(pattern)
	if err != nil {
		return List{}, fmt.Errorf("invalid frame pattern %q: %w", pattern, err)
	}

	paths := make([]string, 0, len(matches))
	for _, m := range matches {
		if dirMode && !frameio.Supported(m) {
			continue
		}
		if info, err := fsys.Stat(m); err != nil || info.IsDir() {
			continue
		}
		paths = append(paths, m)
	}

	if len(paths) == 0 {
		return List{}, fmt.Errorf("%w in %q", ErrNoFramesFound, source)
	}
	return NewList(paths), nil
}
