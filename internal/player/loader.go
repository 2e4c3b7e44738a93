package player

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/banshee-data/frameplay/internal/cloud"
	"github.com/banshee-data/frameplay/internal/cloud/frameio"
	"github.com/banshee-data/frameplay/internal/framesource"
	"github.com/banshee-data/frameplay/internal/fsutil"
	"github.com/banshee-data/frameplay/internal/timeutil"
)

// loaded is one decoded frame handed from a loader to the playback loop.
type loaded struct {
	index int
	path  string
	cloud *cloud.PointCloud
	took  time.Duration
	err   error
}

// loader yields frames 1..n-1 in order. Frame 0 is loaded by Run directly.
type loader interface {
	next(ctx context.Context) (loaded, bool)
	release(pc *cloud.PointCloud)
	stop() error
}

func loadFrame(fsys fsutil.FileSystem, clock timeutil.Clock, list framesource.List, i int, dst *cloud.PointCloud) loaded {
	start := clock.Now()
	path := list.At(i)
	err := frameio.Load(fsys, path, dst)
	return loaded{index: i, path: path, cloud: dst, took: clock.Since(start), err: err}
}

// sequentialLoader decodes each frame on demand into a single scratch cloud.
type sequentialLoader struct {
	fs      fsutil.FileSystem
	clock   timeutil.Clock
	list    framesource.List
	i       int
	scratch *cloud.PointCloud
}

func newSequentialLoader(fsys fsutil.FileSystem, clock timeutil.Clock, list framesource.List) *sequentialLoader {
	return &sequentialLoader{fs: fsys, clock: clock, list: list, i: 1, scratch: cloud.New(0)}
}

func (l *sequentialLoader) next(ctx context.Context) (loaded, bool) {
	if ctx.Err() != nil || l.i >= l.list.Len() {
		return loaded{}, false
	}
	r := loadFrame(l.fs, l.clock, l.list, l.i, l.scratch)
	l.i++
	return r, true
}

func (l *sequentialLoader) release(*cloud.PointCloud) {}

func (l *sequentialLoader) stop() error { return nil }

// prefetchLoader decodes up to depth frames ahead on a background goroutine.
// Scratch clouds cycle through the free channel so memory stays bounded.
type prefetchLoader struct {
	results chan loaded
	free    chan *cloud.PointCloud
	cancel  context.CancelFunc
	g       *errgroup.Group
}

func newPrefetchLoader(ctx context.Context, fsys fsutil.FileSystem, clock timeutil.Clock, list framesource.List, depth int) *prefetchLoader {
	ctx, cancel := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(ctx)

	l := &prefetchLoader{
		results: make(chan loaded, depth),
		free:    make(chan *cloud.PointCloud, depth+1),
		cancel:  cancel,
		g:       g,
	}
	for i := 0; i < depth+1; i++ {
		l.free <- cloud.New(0)
	}

	g.Go(func() error {
		defer close(l.results)
		for i := 1; i < list.Len(); i++ {
			var pc *cloud.PointCloud
			select {
			case pc = <-l.free:
			case <-gctx.Done():
				return nil
			}
			r := loadFrame(fsys, clock, list, i, pc)
			select {
			case l.results <- r:
			case <-gctx.Done():
				return nil
			}
		}
		return nil
	})
	return l
}

func (l *prefetchLoader) next(ctx context.Context) (loaded, bool) {
	select {
	case r, ok := <-l.results:
		return r, ok
	case <-ctx.Done():
		return loaded{}, false
	}
}

func (l *prefetchLoader) release(pc *cloud.PointCloud) {
	if pc == nil {
		return
	}
	select {
	case l.free <- pc:
	default:
	}
}

func (l *prefetchLoader) stop() error {
	l.cancel()
	return l.g.Wait()
}
