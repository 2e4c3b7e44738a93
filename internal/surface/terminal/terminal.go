// Package terminal renders frames as a top-down density map on an ANSI
// terminal. Pressing q or Ctrl-C closes the surface.
package terminal

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"math"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/term"

	"github.com/banshee-data/frameplay/internal/cloud"
	"github.com/banshee-data/frameplay/internal/monitoring"
	"github.com/banshee-data/frameplay/internal/surface"
)

const (
	defaultWidth  = 80
	defaultHeight = 24

	clearScreen = "\x1b[H\x1b[2J"
	hideCursor  = "\x1b[?25l"
	showCursor  = "\x1b[?25h"
)

// shades runs from empty to densest cell.
var shades = []byte(" .:-=+*#%@")

// Config configures a terminal Surface.
type Config struct {
	// Out receives the rendered frames. Defaults to os.Stdout.
	Out io.Writer
	// In is read for key presses. When it is a terminal it is put in raw
	// mode for the lifetime of the surface. Nil disables key handling.
	// Close unblocks the key reader only when In supports read deadlines;
	// otherwise the reader exits on the next key or read error.
	In io.Reader
	// Width and Height override the detected terminal size.
	Width  int
	Height int
}

// Surface is a surface.Surface drawing to a terminal.
type Surface struct {
	cfg    Config
	out    *bufio.Writer
	width  int
	height int

	mu     sync.Mutex
	open   bool
	cloud  *cloud.PointCloud
	frames int

	closed   atomic.Bool
	restore  func()
	keysDone chan struct{}
}

type readDeadliner interface {
	SetReadDeadline(t time.Time) error
}

var _ surface.Surface = (*Surface)(nil)

// New returns a terminal Surface.
func New(cfg Config) *Surface {
	if cfg.Out == nil {
		cfg.Out = os.Stdout
	}
	return &Surface{cfg: cfg}
}

// Open sizes the drawing area and starts watching for close keys.
func (s *Surface) Open(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.open {
		return fmt.Errorf("terminal surface already open")
	}

	s.width, s.height = s.cfg.Width, s.cfg.Height
	if f, ok := s.cfg.Out.(*os.File); ok && term.IsTerminal(int(f.Fd())) && (s.width == 0 || s.height == 0) {
		w, h, err := term.GetSize(int(f.Fd()))
		if err != nil {
			return fmt.Errorf("terminal size: %w", err)
		}
		if s.width == 0 {
			s.width = w
		}
		if s.height == 0 {
			s.height = h
		}
	}
	if s.width <= 0 {
		s.width = defaultWidth
	}
	if s.height <= 2 {
		s.height = defaultHeight
	}

	if f, ok := s.cfg.In.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		state, err := term.MakeRaw(int(f.Fd()))
		if err != nil {
			return fmt.Errorf("raw mode: %w", err)
		}
		s.restore = func() {
			if err := term.Restore(int(f.Fd()), state); err != nil {
				monitoring.Opsf("[terminal] restore: %v", err)
			}
		}
	}
	if s.cfg.In != nil {
		if d, ok := s.cfg.In.(readDeadliner); ok {
			_ = d.SetReadDeadline(time.Time{})
		}
		s.keysDone = make(chan struct{})
		go s.watchKeys(s.cfg.In, s.keysDone)
	}

	s.out = bufio.NewWriterSize(s.cfg.Out, s.width*s.height+256)
	s.out.WriteString(hideCursor)
	s.open = true
	monitoring.Diagf("[terminal] drawing %dx%d", s.width, s.height)
	return nil
}

// watchKeys sets the closed flag on q, Q or Ctrl-C. It exits when in
// returns an error and closes done on the way out.
func (s *Surface) watchKeys(in io.Reader, done chan<- struct{}) {
	defer close(done)
	buf := make([]byte, 16)
	for {
		n, err := in.Read(buf)
		for _, b := range buf[:n] {
			if b == 'q' || b == 'Q' || b == 0x03 {
				s.closed.Store(true)
				return
			}
		}
		if err != nil {
			return
		}
	}
}

// AddGeometry registers the cloud to draw.
func (s *Surface) AddGeometry(pc *cloud.PointCloud) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.open {
		return surface.ErrNotOpen
	}
	s.cloud = pc
	return nil
}

// UpdateGeometry notes that the registered cloud changed.
func (s *Surface) UpdateGeometry(pc *cloud.PointCloud) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.open {
		return surface.ErrNotOpen
	}
	if s.cloud != pc {
		return fmt.Errorf("update of unregistered cloud")
	}
	return nil
}

// PollEvents reports whether a close key was pressed.
func (s *Surface) PollEvents() surface.Events {
	return surface.Events{Closed: s.closed.Load()}
}

// Redraw clears the screen and draws the current frame.
func (s *Surface) Redraw() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.open {
		return surface.ErrNotOpen
	}
	if s.cloud == nil {
		return nil
	}
	s.frames++
	rows := Project(s.cloud, s.width, s.height-1)
	s.out.WriteString(clearScreen)
	for _, row := range rows {
		s.out.WriteString(row)
		s.out.WriteString("\r\n")
	}
	status := fmt.Sprintf("frame %d  points %d  generation %d  [q to quit]", s.frames, s.cloud.Len(), s.cloud.Generation())
	if len(status) > s.width {
		status = status[:s.width]
	}
	s.out.WriteString(status)
	return s.out.Flush()
}

// Close restores the terminal.
func (s *Surface) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.open {
		return nil
	}
	s.open = false
	s.out.WriteString(showCursor + "\r\n")
	err := s.out.Flush()
	if s.restore != nil {
		s.restore()
		s.restore = nil
	}
	if d, ok := s.cfg.In.(readDeadliner); ok {
		if derr := d.SetReadDeadline(time.Now()); derr != nil {
			monitoring.Tracef("[terminal] key reader stays until next key: %v", derr)
		}
	}
	return err
}

// Project maps the cloud onto a width x height grid viewed from above
// (+Y up) and returns one string per row. Cells are shaded by point count
// relative to the densest cell. Points with a non-finite X or Y are not
// drawn.
func Project(pc *cloud.PointCloud, width, height int) []string {
	rows := make([]string, height)
	counts := make([]int, width*height)
	if width > 0 && height > 0 {
		minX, maxX := math.Inf(1), math.Inf(-1)
		minY, maxY := math.Inf(1), math.Inf(-1)
		for _, p := range pc.Points {
			if !finite(p.X) || !finite(p.Y) {
				continue
			}
			minX, maxX = min(minX, p.X), max(maxX, p.X)
			minY, maxY = min(minY, p.Y), max(maxY, p.Y)
		}
		spanX := maxX - minX
		spanY := maxY - minY
		for _, p := range pc.Points {
			if !finite(p.X) || !finite(p.Y) {
				continue
			}
			col := cell(p.X, minX, spanX, width)
			row := height - 1 - cell(p.Y, minY, spanY, height)
			counts[row*width+col]++
		}
	}
	densest := 0
	for _, c := range counts {
		if c > densest {
			densest = c
		}
	}
	var sb strings.Builder
	for r := 0; r < height; r++ {
		sb.Reset()
		for c := 0; c < width; c++ {
			n := counts[r*width+c]
			idx := 0
			if n > 0 {
				idx = 1 + (n*(len(shades)-1)-1)/densest
			}
			sb.WriteByte(shades[idx])
		}
		rows[r] = sb.String()
	}
	return rows
}

// cell bins v into [0, n-1]. A span that overflowed to Inf yields NaN
// fractions, which land in cell 0.
func cell(v, lo, span float64, n int) int {
	if !(span > 0) {
		return 0
	}
	f := (v - lo) / span
	if !(f > 0) {
		return 0
	}
	if f >= 1 {
		return n - 1
	}
	return int(f * float64(n-1))
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
