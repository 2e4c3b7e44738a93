// Package player plays an ordered sequence of point-cloud frames on a
// render surface. A single cloud is registered once and its contents are
// replaced in place for each subsequent frame.
package player

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/banshee-data/frameplay/internal/cloud"
	"github.com/banshee-data/frameplay/internal/framesource"
	"github.com/banshee-data/frameplay/internal/fsutil"
	"github.com/banshee-data/frameplay/internal/monitoring"
	"github.com/banshee-data/frameplay/internal/surface"
	"github.com/banshee-data/frameplay/internal/timeutil"
)

// DefaultDelay is the pause after each frame update.
const DefaultDelay = 50 * time.Millisecond

// MaxPrefetch bounds how many frames may be decoded ahead of the display.
const MaxPrefetch = 2

// State is the coarse lifecycle state of a Player.
type State int32

const (
	Stopped State = iota
	Playing
)

func (s State) String() string {
	if s == Playing {
		return "playing"
	}
	return "stopped"
}

// FailurePolicy decides what happens when a frame after the first fails to load.
type FailurePolicy int

const (
	// Abort ends the run with a *FrameLoadError.
	Abort FailurePolicy = iota
	// Skip logs the failure and moves on to the next frame.
	Skip
)

func (p FailurePolicy) String() string {
	switch p {
	case Skip:
		return "skip"
	default:
		return "abort"
	}
}

// ParseFailurePolicy accepts "abort" or "skip" (case-insensitive).
func ParseFailurePolicy(s string) (FailurePolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "abort":
		return Abort, nil
	case "skip":
		return Skip, nil
	}
	return Abort, fmt.Errorf("unknown failure policy %q (want abort or skip)", s)
}

// StopReason records why a run ended.
type StopReason string

const (
	ReasonCompleted StopReason = "completed"
	ReasonClosed    StopReason = "closed"
	ReasonCancelled StopReason = "cancelled"
	ReasonError     StopReason = "error"
)

// Stats summarises a finished run.
type Stats struct {
	Frames  int
	Shown   int
	Skipped int
	Reason  StopReason
	Elapsed time.Duration
}

// Config holds the playback parameters.
type Config struct {
	// Source is a directory of frame files or a glob pattern.
	Source string
	// Delay is the pause after each update. Zero plays as fast as possible.
	Delay time.Duration
	// OnError applies to frames after the first.
	OnError FailurePolicy
	// Prefetch is the number of frames decoded ahead, 0..MaxPrefetch.
	Prefetch int
}

// Validate checks the config for values Run cannot honour.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Source) == "" {
		return errors.New("source must not be empty")
	}
	if c.Delay < 0 {
		return fmt.Errorf("delay must be non-negative, got %s", c.Delay)
	}
	if c.Prefetch < 0 || c.Prefetch > MaxPrefetch {
		return fmt.Errorf("prefetch must be between 0 and %d, got %d", MaxPrefetch, c.Prefetch)
	}
	if c.OnError != Abort && c.OnError != Skip {
		return fmt.Errorf("unknown failure policy %d", c.OnError)
	}
	return nil
}

// Option customises a Player.
type Option func(*Player)

// WithClock replaces the real clock, mostly for tests.
func WithClock(c timeutil.Clock) Option {
	return func(p *Player) { p.clock = c }
}

// WithObserver attaches an observer for run and frame events.
func WithObserver(o Observer) Option {
	return func(p *Player) { p.observer = o }
}

// Player drives one surface through one frame sequence.
type Player struct {
	cfg      Config
	fs       fsutil.FileSystem
	surface  surface.Surface
	clock    timeutil.Clock
	observer Observer
	state    atomic.Int32
}

// New validates cfg and returns a Player reading frames from fsys.
func New(cfg Config, fsys fsutil.FileSystem, surf surface.Surface, opts ...Option) (*Player, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid player config: %w", err)
	}
	if fsys == nil {
		return nil, errors.New("player requires a filesystem")
	}
	if surf == nil {
		return nil, errors.New("player requires a surface")
	}
	p := &Player{
		cfg:      cfg,
		fs:       fsys,
		surface:  surf,
		clock:    timeutil.RealClock{},
		observer: nopObserver{},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// State reports whether a run is in progress.
func (p *Player) State() State {
	return State(p.state.Load())
}

// Run discovers the frames, opens the surface and plays every frame once.
// It returns nil when playback ends because the list was exhausted, the
// surface was closed or ctx was cancelled. The surface is closed on every
// path that opened it.
func (p *Player) Run(ctx context.Context) (stats Stats, err error) {
	start := p.clock.Now()
	stats.Reason = ReasonError

	list, err := framesource.Discover(p.fs, p.cfg.Source)
	if err != nil {
		monitoring.Opsf("[player] discover %s: %v", p.cfg.Source, err)
		return stats, err
	}
	stats.Frames = list.Len()

	p.observer.RunStarted(RunInfo{
		Source:  p.cfg.Source,
		Frames:  list.Paths(),
		Delay:   p.cfg.Delay,
		OnError: p.cfg.OnError,
	})
	defer func() {
		stats.Elapsed = p.clock.Since(start)
		if err != nil {
			stats.Reason = ReasonError
		}
		monitoring.Diagf("[player] run finished: reason=%s shown=%d skipped=%d frames=%d elapsed=%s",
			stats.Reason, stats.Shown, stats.Skipped, stats.Frames, stats.Elapsed)
		p.observer.RunFinished(stats, err)
	}()

	monitoring.Opsf("[player] playing %d frames from %s (delay=%s on_error=%s prefetch=%d)",
		list.Len(), p.cfg.Source, p.cfg.Delay, p.cfg.OnError, p.cfg.Prefetch)

	// The displayed cloud. Its identity never changes after AddGeometry.
	display := cloud.New(0)
	first := loadFrame(p.fs, p.clock, list, 0, display)
	if first.err != nil {
		monitoring.Opsf("[player] first frame %s: %v", first.path, first.err)
		return stats, &FrameLoadError{Index: 0, Path: first.path, Err: first.err}
	}

	if err := p.surface.Open(ctx); err != nil {
		monitoring.Opsf("[player] surface open: %v", err)
		if cerr := p.surface.Close(); cerr != nil {
			monitoring.Opsf("[player] surface close after failed open: %v", cerr)
		}
		return stats, fmt.Errorf("%w: %w", ErrSurfaceInit, err)
	}
	defer func() {
		if cerr := p.surface.Close(); cerr != nil {
			monitoring.Opsf("[player] surface close: %v", cerr)
			if err == nil {
				err = fmt.Errorf("close surface: %w", cerr)
			}
		}
	}()

	p.state.Store(int32(Playing))
	defer p.state.Store(int32(Stopped))

	if err := p.surface.AddGeometry(display); err != nil {
		return stats, fmt.Errorf("add geometry: %w", err)
	}
	stats.Shown++
	p.frameShown(first, display)

	closed, err := p.present()
	if err != nil {
		return stats, err
	}

	var frames loader
	if p.cfg.Prefetch > 0 {
		frames = newPrefetchLoader(ctx, p.fs, p.clock, list, p.cfg.Prefetch)
	} else {
		frames = newSequentialLoader(p.fs, p.clock, list)
	}
	defer func() {
		if serr := frames.stop(); serr != nil && err == nil {
			err = serr
		}
	}()

	for {
		if closed {
			stats.Reason = ReasonClosed
			monitoring.Opsf("[player] surface closed by user after %d frames", stats.Shown)
			return stats, nil
		}
		if ctx.Err() != nil {
			stats.Reason = ReasonCancelled
			return stats, nil
		}

		next, ok := frames.next(ctx)
		if !ok {
			if ctx.Err() != nil {
				stats.Reason = ReasonCancelled
			} else {
				stats.Reason = ReasonCompleted
			}
			return stats, nil
		}

		if next.err != nil {
			frames.release(next.cloud)
			if p.cfg.OnError == Abort {
				monitoring.Opsf("[player] frame %d %s: %v", next.index, next.path, next.err)
				return stats, &FrameLoadError{Index: next.index, Path: next.path, Err: next.err}
			}
			stats.Skipped++
			monitoring.Opsf("[player] skipping frame %d %s: %v", next.index, next.path, next.err)
			p.observer.FrameSkipped(next.index, next.path, next.err)
			continue
		}

		display.Replace(next.cloud)
		frames.release(next.cloud)
		if err := p.surface.UpdateGeometry(display); err != nil {
			return stats, fmt.Errorf("update geometry: %w", err)
		}
		stats.Shown++
		p.frameShown(next, display)

		closed, err = p.present()
		if err != nil {
			return stats, err
		}

		if !p.wait(ctx) {
			stats.Reason = ReasonCancelled
			return stats, nil
		}
	}
}

// present polls window events and redraws, reporting whether the user closed the surface.
func (p *Player) present() (bool, error) {
	ev := p.surface.PollEvents()
	if err := p.surface.Redraw(); err != nil {
		return ev.Closed, fmt.Errorf("redraw: %w", err)
	}
	return ev.Closed, nil
}

// wait blocks for the configured delay. It returns false if ctx ended first.
func (p *Player) wait(ctx context.Context) bool {
	if p.cfg.Delay <= 0 {
		return ctx.Err() == nil
	}
	select {
	case <-ctx.Done():
		return false
	case <-p.clock.After(p.cfg.Delay):
		return true
	}
}

func (p *Player) frameShown(r loaded, display *cloud.PointCloud) {
	monitoring.Tracef("[player] frame %d %s: %d points in %s", r.index, r.path, display.Len(), r.took)
	p.observer.FrameShown(FrameInfo{
		Index:        r.index,
		Path:         r.path,
		Points:       display.Len(),
		LoadDuration: r.took,
		Bounds:       display.Bounds(),
	})
}
