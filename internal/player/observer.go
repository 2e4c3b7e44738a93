package player

import (
	"time"

	"gonum.org/v1/gonum/spatial/r3"
)

// RunInfo describes a run that is about to start.
type RunInfo struct {
	Source  string
	Frames  []string
	Delay   time.Duration
	OnError FailurePolicy
}

// FrameInfo describes a frame that reached the surface.
type FrameInfo struct {
	Index        int
	Path         string
	Points       int
	LoadDuration time.Duration
	Bounds       r3.Box
}

// Observer receives playback events. All methods are called from the
// goroutine running Player.Run.
type Observer interface {
	RunStarted(info RunInfo)
	FrameShown(info FrameInfo)
	FrameSkipped(index int, path string, err error)
	RunFinished(stats Stats, err error)
}

type nopObserver struct{}

func (nopObserver) RunStarted(RunInfo)              {}
func (nopObserver) FrameShown(FrameInfo)            {}
func (nopObserver) FrameSkipped(int, string, error) {}
func (nopObserver) RunFinished(Stats, error)        {}
