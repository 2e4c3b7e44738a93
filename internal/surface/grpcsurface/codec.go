package grpcsurface

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/frameplay/internal/cloud"
)

// headerSize is frameID + generation + point count.
const headerSize = 8 + 8 + 4

// ErrShortFrame is returned by DecodeFrame for truncated payloads.
var ErrShortFrame = errors.New("short frame payload")

// Frame is a decoded frame as received by a viewer.
type Frame struct {
	ID         uint64
	Generation uint64
	Points     []r3.Vec
}

// EncodeFrame packs pc as little-endian frameID, generation, count and
// float32 xyz triples.
func EncodeFrame(id uint64, pc *cloud.PointCloud) []byte {
	n := pc.Len()
	buf := make([]byte, headerSize+n*12)
	binary.LittleEndian.PutUint64(buf[0:], id)
	binary.LittleEndian.PutUint64(buf[8:], pc.Generation())
	binary.LittleEndian.PutUint32(buf[16:], uint32(n))
	off := headerSize
	for _, p := range pc.Points {
		binary.LittleEndian.PutUint32(buf[off:], math.Float32bits(float32(p.X)))
		binary.LittleEndian.PutUint32(buf[off+4:], math.Float32bits(float32(p.Y)))
		binary.LittleEndian.PutUint32(buf[off+8:], math.Float32bits(float32(p.Z)))
		off += 12
	}
	return buf
}

// DecodeFrame is the inverse of EncodeFrame.
func DecodeFrame(b []byte) (Frame, error) {
	if len(b) < headerSize {
		return Frame{}, fmt.Errorf("%w: %d bytes", ErrShortFrame, len(b))
	}
	f := Frame{
		ID:         binary.LittleEndian.Uint64(b[0:]),
		Generation: binary.LittleEndian.Uint64(b[8:]),
	}
	n := int(binary.LittleEndian.Uint32(b[16:]))
	if want := headerSize + n*12; len(b) != want {
		return Frame{}, fmt.Errorf("%w: have %d bytes, want %d for %d points", ErrShortFrame, len(b), want, n)
	}
	f.Points = make([]r3.Vec, n)
	off := headerSize
	for i := range f.Points {
		f.Points[i] = r3.Vec{
			X: float64(math.Float32frombits(binary.LittleEndian.Uint32(b[off:]))),
			Y: float64(math.Float32frombits(binary.LittleEndian.Uint32(b[off+4:]))),
			Z: float64(math.Float32frombits(binary.LittleEndian.Uint32(b[off+8:]))),
		}
		off += 12
	}
	return f, nil
}
