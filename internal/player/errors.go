package player

import (
	"errors"
	"fmt"
)

var (
	// ErrFrameLoad is matched by every *FrameLoadError.
	ErrFrameLoad = errors.New("frame load failed")
	// ErrSurfaceInit is returned when the render surface cannot be opened.
	ErrSurfaceInit = errors.New("surface init failed")
)

// FrameLoadError reports a frame that could not be read or decoded.
type FrameLoadError struct {
	Index int
	Path  string
	Err   error
}

func (e *FrameLoadError) Error() string {
	return fmt.Sprintf("frame %d (%s): %v", e.Index, e.Path, e.Err)
}

// Unwrap exposes both ErrFrameLoad and the underlying decode error.
func (e *FrameLoadError) Unwrap() []error {
	return []error{ErrFrameLoad, e.Err}
}
