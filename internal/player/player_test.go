package player

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/frameplay/internal/cloud"
	"github.com/banshee-data/frameplay/internal/cloud/frameio"
	"github.com/banshee-data/frameplay/internal/framesource"
	"github.com/banshee-data/frameplay/internal/fsutil"
	"github.com/banshee-data/frameplay/internal/surface"
	"github.com/banshee-data/frameplay/internal/timeutil"
)

// frameCloud returns a small cloud whose points identify frame i.
func frameCloud(i int) *cloud.PointCloud {
	pc := cloud.New(i + 1)
	for j := 0; j <= i; j++ {
		pc.Add(r3.Vec{X: float64(i), Y: float64(j), Z: 0.5})
	}
	return pc
}

// writeFrames saves n frames under /frames, named out of order on purpose.
func writeFrames(t *testing.T, mfs *fsutil.MemoryFileSystem, n int) [][]r3.Vec {
	t.Helper()
	want := make([][]r3.Vec, n)
	for i := n - 1; i >= 0; i-- {
		pc := frameCloud(i)
		require.NoError(t, frameio.Save(mfs, fmt.Sprintf("/frames/frame_%04d.ply", i), pc))
		want[i] = pc.Points
	}
	return want
}

func corrupt(t *testing.T, mfs *fsutil.MemoryFileSystem, i int) {
	t.Helper()
	path := fmt.Sprintf("/frames/frame_%04d.ply", i)
	require.NoError(t, mfs.WriteFile(path, []byte("ply\nformat ascii 1.0\nelement vertex 2\nproperty float x\nend_header\n1\n"), 0644))
}

type eventLog struct {
	started  []RunInfo
	shown    []FrameInfo
	skipped  []int
	finished []Stats
	errs     []error
	onShown  func(FrameInfo)
}

func (e *eventLog) RunStarted(info RunInfo) { e.started = append(e.started, info) }

func (e *eventLog) FrameShown(info FrameInfo) {
	e.shown = append(e.shown, info)
	if e.onShown != nil {
		e.onShown(info)
	}
}

func (e *eventLog) FrameSkipped(index int, path string, err error) {
	e.skipped = append(e.skipped, index)
}

func (e *eventLog) RunFinished(stats Stats, err error) {
	e.finished = append(e.finished, stats)
	e.errs = append(e.errs, err)
}

func newTestPlayer(t *testing.T, cfg Config, mfs *fsutil.MemoryFileSystem, rec *surface.Recorder, opts ...Option) (*Player, *timeutil.MockClock) {
	t.Helper()
	clock := timeutil.NewMockClock(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	opts = append([]Option{WithClock(clock)}, opts...)
	p, err := New(cfg, mfs, rec, opts...)
	require.NoError(t, err)
	return p, clock
}

// shownPoints returns the point snapshots taken at add/update calls.
func shownPoints(rec *surface.Recorder) [][]r3.Vec {
	var out [][]r3.Vec
	for _, c := range rec.Calls() {
		if c.Op == "add" || c.Op == "update" {
			out = append(out, c.Points)
		}
	}
	return out
}

func TestRun_PlaysFramesInSortedOrder(t *testing.T) {
	mfs := fsutil.NewMemoryFileSystem()
	want := writeFrames(t, mfs, 3)
	rec := surface.NewRecorder()
	p, _ := newTestPlayer(t, Config{Source: "/frames", Delay: DefaultDelay}, mfs, rec)

	stats, err := p.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{
		"open", "add", "poll", "redraw",
		"update", "poll", "redraw",
		"update", "poll", "redraw",
		"close",
	}, rec.Ops())
	if diff := cmp.Diff(want, shownPoints(rec)); diff != "" {
		t.Errorf("shown frames mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, Stats{Frames: 3, Shown: 3, Reason: ReasonCompleted, Elapsed: 2 * DefaultDelay}, stats)
	assert.Equal(t, Stopped, p.State())
}

func TestRun_GeometryIdentityIsStable(t *testing.T) {
	mfs := fsutil.NewMemoryFileSystem()
	writeFrames(t, mfs, 4)
	rec := surface.NewRecorder()
	p, _ := newTestPlayer(t, Config{Source: "/frames"}, mfs, rec)

	_, err := p.Run(context.Background())
	require.NoError(t, err)

	var registered *cloud.PointCloud
	for _, c := range rec.Calls() {
		switch c.Op {
		case "add":
			registered = c.Cloud
		case "update":
			assert.Same(t, registered, c.Cloud)
		}
	}
	require.NotNil(t, registered)
	assert.Equal(t, uint64(3), registered.Generation())
}

func TestRun_PacingUsesDelayBetweenFrames(t *testing.T) {
	mfs := fsutil.NewMemoryFileSystem()
	writeFrames(t, mfs, 5)
	rec := surface.NewRecorder()
	delay := 20 * time.Millisecond
	p, clock := newTestPlayer(t, Config{Source: "/frames", Delay: delay}, mfs, rec)

	stats, err := p.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []time.Duration{delay, delay, delay, delay}, clock.Sleeps())
	assert.Equal(t, 4*delay, stats.Elapsed)
}

func TestRun_ZeroDelayNeverWaits(t *testing.T) {
	mfs := fsutil.NewMemoryFileSystem()
	writeFrames(t, mfs, 3)
	rec := surface.NewRecorder()
	p, clock := newTestPlayer(t, Config{Source: "/frames", Delay: 0}, mfs, rec)

	_, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.Empty(t, clock.Sleeps())
}

func TestRun_SingleFrame(t *testing.T) {
	mfs := fsutil.NewMemoryFileSystem()
	writeFrames(t, mfs, 1)
	rec := surface.NewRecorder()
	p, clock := newTestPlayer(t, Config{Source: "/frames", Delay: time.Second}, mfs, rec)

	stats, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"open", "add", "poll", "redraw", "close"}, rec.Ops())
	assert.Equal(t, 1, stats.Shown)
	assert.Empty(t, clock.Sleeps())
}

func TestRun_EmptySourceNeverOpensSurface(t *testing.T) {
	mfs := fsutil.NewMemoryFileSystem()
	require.NoError(t, mfs.MkdirAll("/frames", 0755))
	rec := surface.NewRecorder()
	events := &eventLog{}
	p, _ := newTestPlayer(t, Config{Source: "/frames"}, mfs, rec, WithObserver(events))

	stats, err := p.Run(context.Background())
	require.ErrorIs(t, err, framesource.ErrNoFramesFound)
	assert.Empty(t, rec.Ops())
	assert.Equal(t, ReasonError, stats.Reason)
	assert.Empty(t, events.started)
	assert.Empty(t, events.finished)
}

func TestRun_AbortOnCorruptFrame(t *testing.T) {
	mfs := fsutil.NewMemoryFileSystem()
	want := writeFrames(t, mfs, 4)
	corrupt(t, mfs, 2)
	rec := surface.NewRecorder()
	events := &eventLog{}
	p, _ := newTestPlayer(t, Config{Source: "/frames", OnError: Abort}, mfs, rec, WithObserver(events))

	stats, err := p.Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrFrameLoad)
	assert.ErrorIs(t, err, frameio.ErrMalformed)

	var fle *FrameLoadError
	require.ErrorAs(t, err, &fle)
	assert.Equal(t, 2, fle.Index)
	assert.Equal(t, "/frames/frame_0002.ply", fle.Path)

	// Frames before the corrupt one were displayed, and the surface was released.
	if diff := cmp.Diff(want[:2], shownPoints(rec)); diff != "" {
		t.Errorf("shown frames mismatch (-want +got):\n%s", diff)
	}
	ops := rec.Ops()
	assert.Equal(t, "close", ops[len(ops)-1])
	assert.Equal(t, 2, stats.Shown)
	assert.Equal(t, ReasonError, stats.Reason)
	require.Len(t, events.errs, 1)
	assert.ErrorIs(t, events.errs[0], ErrFrameLoad)
}

func TestRun_SkipCorruptFrame(t *testing.T) {
	mfs := fsutil.NewMemoryFileSystem()
	want := writeFrames(t, mfs, 4)
	corrupt(t, mfs, 2)
	rec := surface.NewRecorder()
	events := &eventLog{}
	p, _ := newTestPlayer(t, Config{Source: "/frames", OnError: Skip}, mfs, rec, WithObserver(events))

	stats, err := p.Run(context.Background())
	require.NoError(t, err)

	if diff := cmp.Diff([][]r3.Vec{want[0], want[1], want[3]}, shownPoints(rec)); diff != "" {
		t.Errorf("shown frames mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, 3, stats.Shown)
	assert.Equal(t, 1, stats.Skipped)
	assert.Equal(t, ReasonCompleted, stats.Reason)
	assert.Equal(t, []int{2}, events.skipped)
}

func TestRun_SkipFrameWithAbsurdPointCount(t *testing.T) {
	mfs := fsutil.NewMemoryFileSystem()
	want := writeFrames(t, mfs, 3)
	require.NoError(t, mfs.WriteFile("/frames/frame_0001.ply", []byte("ply\nformat binary_little_endian 1.0\n"+
		"element vertex 9223372036854775807\nproperty float x\nproperty float y\nproperty float z\nend_header\n"), 0644))
	rec := surface.NewRecorder()
	events := &eventLog{}
	p, _ := newTestPlayer(t, Config{Source: "/frames", OnError: Skip}, mfs, rec, WithObserver(events))

	var stats Stats
	var err error
	require.NotPanics(t, func() { stats, err = p.Run(context.Background()) })
	require.NoError(t, err)

	if diff := cmp.Diff([][]r3.Vec{want[0], want[2]}, shownPoints(rec)); diff != "" {
		t.Errorf("shown frames mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, 1, stats.Skipped)
	assert.Equal(t, []int{1}, events.skipped)
}

func TestRun_FirstFrameFailureIsFatalEvenWhenSkipping(t *testing.T) {
	mfs := fsutil.NewMemoryFileSystem()
	writeFrames(t, mfs, 3)
	corrupt(t, mfs, 0)
	rec := surface.NewRecorder()
	p, _ := newTestPlayer(t, Config{Source: "/frames", OnError: Skip}, mfs, rec)

	_, err := p.Run(context.Background())
	var fle *FrameLoadError
	require.ErrorAs(t, err, &fle)
	assert.Equal(t, 0, fle.Index)
	assert.Empty(t, rec.Ops())
}

func TestRun_SurfaceOpenFailure(t *testing.T) {
	mfs := fsutil.NewMemoryFileSystem()
	writeFrames(t, mfs, 2)
	rec := surface.NewRecorder()
	openErr := errors.New("no display")
	rec.OpenErr = openErr
	p, _ := newTestPlayer(t, Config{Source: "/frames"}, mfs, rec)

	_, err := p.Run(context.Background())
	assert.ErrorIs(t, err, ErrSurfaceInit)
	assert.ErrorIs(t, err, openErr)
	assert.Equal(t, []string{"open", "close"}, rec.Ops())
}

func TestRun_WindowCloseStopsGracefully(t *testing.T) {
	mfs := fsutil.NewMemoryFileSystem()
	writeFrames(t, mfs, 6)
	rec := surface.NewRecorder()
	rec.CloseAfterRedraws = 2
	p, _ := newTestPlayer(t, Config{Source: "/frames", Delay: DefaultDelay}, mfs, rec)

	stats, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ReasonClosed, stats.Reason)
	assert.Equal(t, 3, stats.Shown)
	ops := rec.Ops()
	assert.Equal(t, "close", ops[len(ops)-1])
}

func TestRun_ContextCancelStopsPlayback(t *testing.T) {
	mfs := fsutil.NewMemoryFileSystem()
	writeFrames(t, mfs, 6)
	rec := surface.NewRecorder()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events := &eventLog{onShown: func(info FrameInfo) {
		if info.Index == 1 {
			cancel()
		}
	}}
	p, _ := newTestPlayer(t, Config{Source: "/frames", Delay: DefaultDelay}, mfs, rec, WithObserver(events))

	stats, err := p.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, ReasonCancelled, stats.Reason)
	assert.Equal(t, 2, stats.Shown)
	ops := rec.Ops()
	assert.Equal(t, "close", ops[len(ops)-1])
}

func TestRun_PrefetchMatchesSequential(t *testing.T) {
	for _, depth := range []int{1, 2} {
		t.Run(fmt.Sprintf("depth=%d", depth), func(t *testing.T) {
			mfs := fsutil.NewMemoryFileSystem()
			want := writeFrames(t, mfs, 7)
			rec := surface.NewRecorder()
			p, clock := newTestPlayer(t, Config{Source: "/frames", Delay: DefaultDelay, Prefetch: depth}, mfs, rec)

			stats, err := p.Run(context.Background())
			require.NoError(t, err)
			if diff := cmp.Diff(want, shownPoints(rec)); diff != "" {
				t.Errorf("shown frames mismatch (-want +got):\n%s", diff)
			}
			assert.Equal(t, 7, stats.Shown)
			assert.Len(t, clock.Sleeps(), 6)
		})
	}
}

func TestRun_PrefetchSkipsCorruptFrame(t *testing.T) {
	mfs := fsutil.NewMemoryFileSystem()
	want := writeFrames(t, mfs, 5)
	corrupt(t, mfs, 3)
	rec := surface.NewRecorder()
	p, _ := newTestPlayer(t, Config{Source: "/frames", OnError: Skip, Prefetch: 2}, mfs, rec)

	stats, err := p.Run(context.Background())
	require.NoError(t, err)
	if diff := cmp.Diff([][]r3.Vec{want[0], want[1], want[2], want[4]}, shownPoints(rec)); diff != "" {
		t.Errorf("shown frames mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, 1, stats.Skipped)
}

func TestRun_StateIsPlayingWhileFramesShow(t *testing.T) {
	mfs := fsutil.NewMemoryFileSystem()
	writeFrames(t, mfs, 2)
	rec := surface.NewRecorder()

	var p *Player
	var states []State
	events := &eventLog{onShown: func(FrameInfo) { states = append(states, p.State()) }}
	p, _ = newTestPlayer(t, Config{Source: "/frames"}, mfs, rec, WithObserver(events))

	assert.Equal(t, Stopped, p.State())
	_, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []State{Playing, Playing}, states)
	assert.Equal(t, Stopped, p.State())
}

func TestRun_ObserverSeesFrameDetails(t *testing.T) {
	mfs := fsutil.NewMemoryFileSystem()
	writeFrames(t, mfs, 3)
	rec := surface.NewRecorder()
	events := &eventLog{}
	p, _ := newTestPlayer(t, Config{Source: "/frames", Delay: DefaultDelay}, mfs, rec, WithObserver(events))

	_, err := p.Run(context.Background())
	require.NoError(t, err)

	require.Len(t, events.started, 1)
	assert.Equal(t, []string{
		"/frames/frame_0000.ply",
		"/frames/frame_0001.ply",
		"/frames/frame_0002.ply",
	}, events.started[0].Frames)
	require.Len(t, events.shown, 3)
	for i, info := range events.shown {
		assert.Equal(t, i, info.Index)
		assert.Equal(t, i+1, info.Points)
		assert.InDelta(t, float64(i), info.Bounds.Max.X, 1e-6)
	}
	require.Len(t, events.finished, 1)
	assert.NoError(t, events.errs[0])
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"ok", Config{Source: "/frames", Delay: DefaultDelay}, false},
		{"prefetch max", Config{Source: "/frames", Prefetch: MaxPrefetch}, false},
		{"empty source", Config{}, true},
		{"negative delay", Config{Source: "/frames", Delay: -time.Millisecond}, true},
		{"prefetch too deep", Config{Source: "/frames", Prefetch: MaxPrefetch + 1}, true},
		{"negative prefetch", Config{Source: "/frames", Prefetch: -1}, true},
		{"bad policy", Config{Source: "/frames", OnError: FailurePolicy(9)}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestNew_RejectsMissingDependencies(t *testing.T) {
	cfg := Config{Source: "/frames"}
	_, err := New(cfg, nil, surface.NewRecorder())
	assert.Error(t, err)
	_, err = New(cfg, fsutil.NewMemoryFileSystem(), nil)
	assert.Error(t, err)
	_, err = New(Config{}, fsutil.NewMemoryFileSystem(), surface.NewRecorder())
	assert.Error(t, err)
}

func TestParseFailurePolicy(t *testing.T) {
	for in, want := range map[string]FailurePolicy{"": Abort, "abort": Abort, "SKIP": Skip, " skip ": Skip} {
		got, err := ParseFailurePolicy(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
		assert.Equal(t, want.String(), got.String())
	}
	_, err := ParseFailurePolicy("retry")
	assert.Error(t, err)
}
