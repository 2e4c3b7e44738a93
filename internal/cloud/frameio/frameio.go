// Package frameio reads and writes point-cloud frames in the PLY and PCD
// exchange formats. Readers decode into a caller-owned cloud.PointCloud so
// that a playback loop can reuse the same storage for every frame.
package frameio

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"path/filepath"
	"strings"

	"github.com/banshee-data/frameplay/internal/cloud"
	"github.com/banshee-data/frameplay/internal/fsutil"
)

var (
	// ErrMalformed is wrapped by every error caused by bad file contents.
	ErrMalformed = errors.New("malformed point cloud")
	// ErrUnsupportedFormat is returned for unknown extensions and encodings.
	ErrUnsupportedFormat = errors.New("unsupported point cloud format")
)

// Extensions lists the file extensions Load understands, lower case.
var Extensions = []string{".ply", ".pcd"}

// Supported reports whether path has an extension Load can decode.
func Supported(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, e := range Extensions {
		if ext == e {
			return true
		}
	}
	return false
}

// Load decodes the frame stored at path into dst, replacing its contents.
func Load(fsys fsutil.FileSystem, path string, dst *cloud.PointCloud) error {
	f, err := fsys.Open(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	in := bufio.NewReaderSize(f, 64*1024)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".ply":
		err = ReadPLY(in, dst)
	case ".pcd":
		err = ReadPCD(in, dst)
	default:
		return fmt.Errorf("%w: %q", ErrUnsupportedFormat, filepath.Ext(path))
	}
	if err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

// Save writes pc to path as ascii PLY or PCD, chosen by extension.
func Save(fsys fsutil.FileSystem, path string, pc *cloud.PointCloud) (err error) {
	w, err := fsys.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer func() {
		if cerr := w.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close %s: %w", path, cerr)
		}
	}()

	out := bufio.NewWriter(w)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".ply":
		err = WritePLY(out, pc, PLYAscii)
	case ".pcd":
		err = WritePCD(out, pc, PCDAscii)
	default:
		return fmt.Errorf("%w: %q", ErrUnsupportedFormat, filepath.Ext(path))
	}
	if err != nil {
		return err
	}
	return out.Flush()
}

// scalarKind is a numeric storage type shared by the PLY and PCD decoders.
type scalarKind int

const (
	kindInt scalarKind = iota
	kindUint
	kindFloat
)

// scalar describes one fixed-size numeric field.
type scalar struct {
	kind scalarKind
	size int
}

// decode reads the scalar at the start of b.
func (s scalar) decode(b []byte, order binary.ByteOrder) float64 {
	switch s.kind {
	case kindFloat:
		if s.size == 8 {
			return math.Float64frombits(order.Uint64(b))
		}
		return float64(math.Float32frombits(order.Uint32(b)))
	case kindInt:
		switch s.size {
		case 1:
			return float64(int8(b[0]))
		case 2:
			return float64(int16(order.Uint16(b)))
		case 4:
			return float64(int32(order.Uint32(b)))
		default:
			return float64(int64(order.Uint64(b)))
		}
	default:
		switch s.size {
		case 1:
			return float64(b[0])
		case 2:
			return float64(order.Uint16(b))
		case 4:
			return float64(order.Uint32(b))
		default:
			return float64(order.Uint64(b))
		}
	}
}

func malformedf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrMalformed, fmt.Sprintf(format, args...))
}

// maxReserve bounds the capacity reserved from a header point count. The
// count is untrusted; larger clouds grow by append and a lying count still
// fails as truncated.
const maxReserve = 1 << 20

func reserve(dst *cloud.PointCloud, count int) {
	dst.Reset(min(count, maxReserve))
}
