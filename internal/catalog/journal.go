package catalog

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/frameplay/internal/monitoring"
	"github.com/banshee-data/frameplay/internal/player"
	"github.com/banshee-data/frameplay/internal/timeutil"
)

// Journal records a player run in the catalog. It implements
// player.Observer; write failures are logged and kept for Err.
type Journal struct {
	db    *DB
	clock timeutil.Clock

	mu  sync.Mutex
	run *Run
	err error
}

var _ player.Observer = (*Journal)(nil)

// NewJournal returns a Journal writing to db. A nil clock uses real time.
func NewJournal(db *DB, clock timeutil.Clock) *Journal {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Journal{db: db, clock: clock}
}

// RunID returns the ID of the current or last run, or "" before any run.
func (j *Journal) RunID() string {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.run == nil {
		return ""
	}
	return j.run.RunID
}

// Err returns the first write error, if any.
func (j *Journal) Err() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.err
}

func (j *Journal) record(what string, err error) {
	if err == nil {
		return
	}
	monitoring.Opsf("[catalog] %s: %v", what, err)
	if j.err == nil {
		j.err = err
	}
}

func (j *Journal) RunStarted(info player.RunInfo) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.run = &Run{
		RunID:      uuid.New().String(),
		Source:     info.Source,
		Delay:      info.Delay,
		Policy:     info.OnError.String(),
		FrameTotal: len(info.Frames),
		StartedAt:  j.clock.Now(),
	}
	j.record("insert run", j.db.InsertRun(j.run))
	monitoring.Diagf("[catalog] run %s started (%d frames)", j.run.RunID, len(info.Frames))
}

func (j *Journal) FrameShown(info player.FrameInfo) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.run == nil {
		return
	}
	f := &Frame{
		RunID:      j.run.RunID,
		Index:      info.Index,
		Path:       info.Path,
		PointCount: info.Points,
		LoadMS:     float64(info.LoadDuration) / float64(time.Millisecond),
		MinX:       info.Bounds.Min.X,
		MinY:       info.Bounds.Min.Y,
		MinZ:       info.Bounds.Min.Z,
		MaxX:       info.Bounds.Max.X,
		MaxY:       info.Bounds.Max.Y,
		MaxZ:       info.Bounds.Max.Z,
	}
	j.record("insert frame", j.db.InsertFrame(f))
}

func (j *Journal) FrameSkipped(index int, path string, err error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.run == nil {
		return
	}
	f := &Frame{RunID: j.run.RunID, Index: index, Path: path, Skipped: true}
	if err != nil {
		f.Error = err.Error()
	}
	j.record("insert skipped frame", j.db.InsertFrame(f))
}

func (j *Journal) RunFinished(stats player.Stats, err error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.run == nil {
		return
	}
	j.run.FinishedAt = j.clock.Now()
	j.run.FramesShown = stats.Shown
	j.run.FramesSkipped = stats.Skipped
	j.run.StopReason = string(stats.Reason)
	if err != nil {
		j.run.Error = err.Error()
	}
	j.record("finish run", j.db.FinishRun(j.run))
	monitoring.Diagf("[catalog] run %s finished: %s", j.run.RunID, stats.Reason)
}
