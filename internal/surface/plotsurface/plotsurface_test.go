package plotsurface

import (
	"bytes"
	"context"
	"image/png"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/banshee-data/frameplay/internal/cloud"
	"github.com/banshee-data/frameplay/internal/fsutil"
	"github.com/banshee-data/frameplay/internal/surface"
)

func TestSurface_WritesNumberedPNGs(t *testing.T) {
	mfs := fsutil.NewMemoryFileSystem()
	cfg := DefaultConfig("/out")
	cfg.Width, cfg.Height = 2*vg.Inch, 2*vg.Inch
	s := New(cfg, mfs)

	pc := cloud.New(3)
	pc.Add(r3.Vec{X: 0, Y: 0})
	pc.Add(r3.Vec{X: 1, Y: 2})
	pc.Add(r3.Vec{X: -1, Y: 3})

	assert.ErrorIs(t, s.AddGeometry(pc), surface.ErrNotOpen)
	require.NoError(t, s.Open(context.Background()))
	require.NoError(t, s.AddGeometry(pc))
	require.NoError(t, s.Redraw())
	require.NoError(t, s.UpdateGeometry(pc))
	require.NoError(t, s.Redraw())
	require.NoError(t, s.Close())

	assert.Equal(t, 2, s.Frames())
	for _, name := range []string{"/out/frame_0000.png", "/out/frame_0001.png"} {
		data, err := mfs.ReadFile(name)
		require.NoError(t, err, name)
		_, err = png.Decode(bytes.NewReader(data))
		assert.NoError(t, err, name)
	}
	assert.ErrorIs(t, s.Redraw(), surface.ErrNotOpen)
}

func TestSurface_RequiresDir(t *testing.T) {
	s := New(Config{}, fsutil.NewMemoryFileSystem())
	assert.Error(t, s.Open(context.Background()))
}

func TestSurface_EmptyCloudStillRenders(t *testing.T) {
	mfs := fsutil.NewMemoryFileSystem()
	s := New(Config{Dir: "/out", Width: vg.Inch, Height: vg.Inch}, mfs)
	require.NoError(t, s.Open(context.Background()))
	require.NoError(t, s.AddGeometry(cloud.New(0)))
	require.NoError(t, s.Redraw())
	assert.True(t, mfs.Exists("/out/frame_0000.png"))
}

func TestTopDownDecimates(t *testing.T) {
	pc := cloud.New(10)
	for i := 0; i < 10; i++ {
		pc.Add(r3.Vec{X: float64(i), Y: float64(-i), Z: 9})
	}
	assert.Len(t, topDown(pc, 0), 10)
	pts := topDown(pc, 4)
	assert.Len(t, pts, 4)
	assert.Equal(t, 3.0, pts[1].X)
	assert.Equal(t, -3.0, pts[1].Y)
}

func TestTopDownDropsNonFinitePoints(t *testing.T) {
	pc := cloud.New(4)
	pc.Add(r3.Vec{X: 1, Y: 2})
	pc.Add(r3.Vec{X: math.Inf(1), Y: 0})
	pc.Add(r3.Vec{X: 0, Y: math.NaN()})
	pc.Add(r3.Vec{X: 3, Y: 4})

	pts := topDown(pc, 0)
	require.Len(t, pts, 2)
	assert.Equal(t, 3.0, pts[1].X)
	_, err := plotter.NewScatter(pts)
	assert.NoError(t, err)
}
