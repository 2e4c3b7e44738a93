package terminal

import (
	"bytes"
	"context"
	"math"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/frameplay/internal/cloud"
	"github.com/banshee-data/frameplay/internal/surface"
)

func TestProject(t *testing.T) {
	pc := cloud.New(3)
	pc.Add(r3.Vec{X: 0, Y: 0})
	pc.Add(r3.Vec{X: 1, Y: 1})
	pc.Add(r3.Vec{X: 1, Y: 1, Z: 5})

	rows := Project(pc, 2, 2)
	assert.Equal(t, []string{" @", "+ "}, rows)
}

func TestProject_EmptyCloud(t *testing.T) {
	rows := Project(cloud.New(0), 3, 2)
	assert.Equal(t, []string{"   ", "   "}, rows)
}

func TestProject_SinglePoint(t *testing.T) {
	pc := cloud.New(1)
	pc.Add(r3.Vec{X: 4, Y: 4})
	rows := Project(pc, 2, 2)
	assert.Equal(t, []string{"  ", "@ "}, rows)
}

func TestProject_IgnoresNonFinitePoints(t *testing.T) {
	pc := cloud.New(4)
	pc.Add(r3.Vec{X: 0, Y: 0})
	pc.Add(r3.Vec{X: math.Inf(1), Y: 1})
	pc.Add(r3.Vec{X: math.NaN(), Y: 0})
	pc.Add(r3.Vec{X: 1, Y: math.Inf(-1)})
	pc.Add(r3.Vec{X: 2, Y: 2})

	rows := Project(pc, 3, 3)
	assert.Equal(t, []string{"  @", "   ", "@  "}, rows)

	only := cloud.New(1)
	only.Add(r3.Vec{X: math.Inf(1), Y: 0})
	assert.Equal(t, []string{"  ", "  "}, Project(only, 2, 2))
}

func TestProject_OverflowingSpanStaysInGrid(t *testing.T) {
	pc := cloud.New(2)
	pc.Add(r3.Vec{X: -math.MaxFloat64, Y: 0})
	pc.Add(r3.Vec{X: math.MaxFloat64, Y: 0})

	var rows []string
	require.NotPanics(t, func() { rows = Project(pc, 4, 3) })
	assert.Len(t, rows, 3)
}

func TestSurface_DrawsFrames(t *testing.T) {
	var out bytes.Buffer
	s := New(Config{Out: &out, Width: 60, Height: 5})

	pc := cloud.New(2)
	pc.Add(r3.Vec{X: -1, Y: -1})
	pc.Add(r3.Vec{X: 1, Y: 1})

	assert.ErrorIs(t, s.AddGeometry(pc), surface.ErrNotOpen)
	require.NoError(t, s.Open(context.Background()))
	require.NoError(t, s.AddGeometry(pc))
	require.NoError(t, s.Redraw())
	require.NoError(t, s.UpdateGeometry(pc))
	require.NoError(t, s.Redraw())
	assert.Error(t, s.UpdateGeometry(cloud.New(0)))
	assert.False(t, s.PollEvents().Closed)
	require.NoError(t, s.Close())

	text := out.String()
	assert.Equal(t, 2, strings.Count(text, clearScreen))
	assert.Contains(t, text, "frame 2  points 2")
	assert.True(t, strings.HasPrefix(text, hideCursor))
	assert.Contains(t, text, showCursor)
	assert.ErrorIs(t, s.Redraw(), surface.ErrNotOpen)
}

func TestSurface_CloseKey(t *testing.T) {
	var out bytes.Buffer
	s := New(Config{Out: &out, In: strings.NewReader("xyq"), Width: 10, Height: 5})
	require.NoError(t, s.Open(context.Background()))
	defer s.Close()

	require.Eventually(t, func() bool { return s.PollEvents().Closed }, time.Second, 5*time.Millisecond)
}

func TestSurface_CtrlCCloses(t *testing.T) {
	var out bytes.Buffer
	s := New(Config{Out: &out, In: strings.NewReader("\x03"), Width: 10, Height: 5})
	require.NoError(t, s.Open(context.Background()))
	defer s.Close()

	require.Eventually(t, func() bool { return s.PollEvents().Closed }, time.Second, 5*time.Millisecond)
}

func TestSurface_DefaultsSizeForNonTerminal(t *testing.T) {
	var out bytes.Buffer
	s := New(Config{Out: &out})
	require.NoError(t, s.Open(context.Background()))
	defer s.Close()
	assert.Equal(t, defaultWidth, s.width)
	assert.Equal(t, defaultHeight, s.height)
}

func TestSurface_CloseStopsKeyReader(t *testing.T) {
	r, w, err := os.Pipe()
	require.NoError(t, err)
	defer r.Close()
	defer w.Close()

	var out bytes.Buffer
	s := New(Config{Out: &out, In: r, Width: 10, Height: 5})
	require.NoError(t, s.Open(context.Background()))
	done := s.keysDone
	require.NoError(t, s.Close())

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("key reader still blocked after Close")
	}
	assert.False(t, s.PollEvents().Closed)
}
