// Package plotsurface is a headless surface that writes each redraw as a
// top-down PNG scatter plot.
package plotsurface

import (
	"context"
	"fmt"
	"image/color"
	"math"
	"path/filepath"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/banshee-data/frameplay/internal/cloud"
	"github.com/banshee-data/frameplay/internal/fsutil"
	"github.com/banshee-data/frameplay/internal/monitoring"
	"github.com/banshee-data/frameplay/internal/surface"
)

// Config configures a plot Surface.
type Config struct {
	// Dir receives frame_NNNN.png files. It is created on Open.
	Dir string
	// MaxPoints decimates larger clouds by stride. Zero draws every point.
	MaxPoints int
	Width     vg.Length
	Height    vg.Length
}

// DefaultConfig returns a configuration writing 8x8 inch images to dir.
func DefaultConfig(dir string) Config {
	return Config{
		Dir:       dir,
		MaxPoints: 50000,
		Width:     8 * vg.Inch,
		Height:    8 * vg.Inch,
	}
}

// Surface writes one PNG per Redraw.
type Surface struct {
	cfg    Config
	fs     fsutil.FileSystem
	open   bool
	cloud  *cloud.PointCloud
	frames int
}

var _ surface.Surface = (*Surface)(nil)

// New returns a Surface writing through fsys.
func New(cfg Config, fsys fsutil.FileSystem) *Surface {
	if cfg.Width <= 0 {
		cfg.Width = 8 * vg.Inch
	}
	if cfg.Height <= 0 {
		cfg.Height = 8 * vg.Inch
	}
	return &Surface{cfg: cfg, fs: fsys}
}

// Open creates the output directory.
func (s *Surface) Open(ctx context.Context) error {
	if s.cfg.Dir == "" {
		return fmt.Errorf("png surface requires an output directory")
	}
	if err := s.fs.MkdirAll(s.cfg.Dir, 0755); err != nil {
		return fmt.Errorf("failed to create output dir: %w", err)
	}
	s.open = true
	return nil
}

// AddGeometry registers the cloud to plot.
func (s *Surface) AddGeometry(pc *cloud.PointCloud) error {
	if !s.open {
		return surface.ErrNotOpen
	}
	s.cloud = pc
	return nil
}

// UpdateGeometry is a no-op; the registered cloud is read on Redraw.
func (s *Surface) UpdateGeometry(pc *cloud.PointCloud) error {
	if !s.open {
		return surface.ErrNotOpen
	}
	return nil
}

// PollEvents never reports Closed.
func (s *Surface) PollEvents() surface.Events {
	return surface.Events{}
}

// Redraw renders the registered cloud to the next numbered PNG.
func (s *Surface) Redraw() error {
	if !s.open {
		return surface.ErrNotOpen
	}
	if s.cloud == nil {
		return nil
	}
	path := filepath.Join(s.cfg.Dir, fmt.Sprintf("frame_%04d.png", s.frames))
	if err := s.save(path); err != nil {
		return err
	}
	monitoring.Tracef("[png] wrote %s (%d points)", path, s.cloud.Len())
	s.frames++
	return nil
}

// Frames returns the number of images written.
func (s *Surface) Frames() int {
	return s.frames
}

func (s *Surface) save(path string) (err error) {
	p := plot.New()
	p.Title.Text = fmt.Sprintf("Frame %d - %d points", s.frames, s.cloud.Len())
	p.X.Label.Text = "X (m)"
	p.Y.Label.Text = "Y (m)"
	p.Add(plotter.NewGrid())

	if pts := topDown(s.cloud, s.cfg.MaxPoints); len(pts) > 0 {
		sc, err := plotter.NewScatter(pts)
		if err != nil {
			return fmt.Errorf("scatter: %w", err)
		}
		sc.GlyphStyle.Radius = vg.Points(0.5)
		sc.GlyphStyle.Color = color.RGBA{R: 30, G: 90, B: 200, A: 255}
		p.Add(sc)
	}

	wt, err := p.WriterTo(s.cfg.Width, s.cfg.Height, "png")
	if err != nil {
		return fmt.Errorf("render %s: %w", path, err)
	}
	w, err := s.fs.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer func() {
		if cerr := w.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close %s: %w", path, cerr)
		}
	}()
	if _, err := wt.WriteTo(w); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

// Close ends the surface.
func (s *Surface) Close() error {
	if s.open {
		monitoring.Diagf("[png] wrote %d frames to %s", s.frames, s.cfg.Dir)
	}
	s.open = false
	return nil
}

// topDown projects the cloud onto XY, taking every stride-th point so at
// most limit points remain. Non-finite points are dropped; plotter rejects
// them.
func topDown(pc *cloud.PointCloud, limit int) plotter.XYs {
	stride := 1
	if limit > 0 && pc.Len() > limit {
		stride = (pc.Len() + limit - 1) / limit
	}
	pts := make(plotter.XYs, 0, pc.Len()/stride+1)
	for i := 0; i < pc.Len(); i += stride {
		p := pc.Points[i]
		if math.IsNaN(p.X) || math.IsInf(p.X, 0) || math.IsNaN(p.Y) || math.IsInf(p.Y, 0) {
			continue
		}
		pts = append(pts, plotter.XY{X: p.X, Y: p.Y})
	}
	return pts
}
