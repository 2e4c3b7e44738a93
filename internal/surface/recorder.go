package surface

import (
	"context"
	"fmt"
	"sync"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/frameplay/internal/cloud"
)

// Call is one recorded surface invocation.
type Call struct {
	Op    string
	Cloud *cloud.PointCloud
	// Points is a snapshot of the cloud taken at AddGeometry/UpdateGeometry.
	Points []r3.Vec
}

// Recorder is a headless Surface that records every call. It backs the
// "none" surface of the CLI and the player tests.
type Recorder struct {
	// OpenErr, when set, is returned by Open.
	OpenErr error
	// CloseAfterRedraws makes PollEvents report Closed once this many
	// redraws have happened. Zero never closes.
	CloseAfterRedraws int
	// CountOnly drops the per-call history and keeps only the redraw
	// counter, for long headless runs.
	CountOnly bool

	mu      sync.Mutex
	open    bool
	closed  bool
	redraws int
	calls   []Call
}

// NewRecorder returns an empty Recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// Open marks the surface open.
func (r *Recorder) Open(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.note("open")
	if r.OpenErr != nil {
		return r.OpenErr
	}
	r.open = true
	return nil
}

// AddGeometry records the registration of pc.
func (r *Recorder) AddGeometry(pc *cloud.PointCloud) error {
	return r.record("add", pc)
}

// UpdateGeometry records an in-place update of pc.
func (r *Recorder) UpdateGeometry(pc *cloud.PointCloud) error {
	return r.record("update", pc)
}

func (r *Recorder) record(op string, pc *cloud.PointCloud) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.open {
		return fmt.Errorf("%s: %w", op, ErrNotOpen)
	}
	if r.CountOnly {
		return nil
	}
	r.calls = append(r.calls, Call{
		Op:     op,
		Cloud:  pc,
		Points: append([]r3.Vec(nil), pc.Points...),
	})
	return nil
}

// PollEvents reports Closed once CloseAfterRedraws redraws have happened.
func (r *Recorder) PollEvents() Events {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.note("poll")
	if r.CloseAfterRedraws > 0 && r.redraws >= r.CloseAfterRedraws {
		r.closed = true
	}
	return Events{Closed: r.closed}
}

// Redraw counts a redraw.
func (r *Recorder) Redraw() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.open {
		return fmt.Errorf("redraw: %w", ErrNotOpen)
	}
	r.redraws++
	r.note("redraw")
	return nil
}

// Close marks the surface closed.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.open = false
	r.note("close")
	return nil
}

func (r *Recorder) note(op string) {
	if !r.CountOnly {
		r.calls = append(r.calls, Call{Op: op})
	}
}

// Calls returns a copy of the recorded calls.
func (r *Recorder) Calls() []Call {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Call(nil), r.calls...)
}

// Ops returns the recorded operation names in order.
func (r *Recorder) Ops() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ops := make([]string, len(r.calls))
	for i, c := range r.calls {
		ops[i] = c.Op
	}
	return ops
}

// Redraws returns the number of redraws so far.
func (r *Recorder) Redraws() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.redraws
}
