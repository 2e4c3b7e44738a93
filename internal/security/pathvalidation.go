// Package security guards filesystem paths supplied on the command line.
package security

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrOutsideAllowedDirs is returned when a path escapes every allowed root.
var ErrOutsideAllowedDirs = errors.New("path outside allowed directories")

// canonical resolves symlinks in path, or in its deepest existing parent
// when path itself does not exist yet.
func canonical(path string) (string, error) {
	abs, err := filepath.Abs(filepath.Clean(path))
	if err != nil {
		return "", fmt.Errorf("failed to resolve absolute path: %w", err)
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		return resolved, nil
	}
	for dir := filepath.Dir(abs); ; dir = filepath.Dir(dir) {
		if resolved, err := filepath.EvalSymlinks(dir); err == nil {
			rel, _ := filepath.Rel(dir, abs)
			return filepath.Join(resolved, rel), nil
		}
		if dir == filepath.Dir(dir) {
			return abs, nil
		}
	}
}

// relativeTo returns path relative to root after resolving symlinks in
// both, or an error if path escapes root.
func relativeTo(path, root string) (string, error) {
	p, err := canonical(path)
	if err != nil {
		return "", err
	}
	r, err := canonical(root)
	if err != nil {
		return "", err
	}
	rel, err := filepath.Rel(r, p)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrOutsideAllowedDirs, err)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) || filepath.IsAbs(rel) {
		return "", fmt.Errorf("%w: %s escapes %s", ErrOutsideAllowedDirs, path, root)
	}
	return rel, nil
}

// ValidatePathWithinDirectory checks that filePath, with symlinks resolved,
// stays inside safeDir.
func ValidatePathWithinDirectory(filePath, safeDir string) error {
	_, err := relativeTo(filePath, safeDir)
	return err
}

// ValidateRemovableDir checks that dir lies strictly below one of roots,
// so that clearing it can never remove a root itself or anything outside.
// With no roots the working directory and the temp directory are used.
func ValidateRemovableDir(dir string, roots ...string) error {
	if len(roots) == 0 {
		cwd, err := os.Getwd()
		if err != nil {
			return fmt.Errorf("failed to get working directory: %w", err)
		}
		roots = []string{cwd, os.TempDir()}
	}
	for _, root := range roots {
		rel, err := relativeTo(dir, root)
		if err == nil && rel != "." {
			return nil
		}
	}
	return fmt.Errorf("%w: %s must be a subdirectory of one of %v", ErrOutsideAllowedDirs, dir, roots)
}
