// Package surface defines the render-surface contract driven by the frame
// player, plus a headless Recorder implementation.
package surface

import (
	"context"
	"errors"

	"github.com/banshee-data/frameplay/internal/cloud"
)

// ErrNotOpen is returned by surfaces that are used before Open or after Close.
var ErrNotOpen = errors.New("surface not open")

// Events summarises the input processed by one PollEvents call.
type Events struct {
	// Closed is set once the user has closed the surface. It stays set.
	Closed bool
}

// Surface is a stateful display for a single registered point cloud.
//
// The player drives it in a fixed order: Open, AddGeometry once, then for
// every frame UpdateGeometry, PollEvents and Redraw, and finally Close.
// Close is also called after a failed Open and must be safe there.
type Surface interface {
	Open(ctx context.Context) error
	AddGeometry(pc *cloud.PointCloud) error
	UpdateGeometry(pc *cloud.PointCloud) error
	PollEvents() Events
	Redraw() error
	Close() error
}
