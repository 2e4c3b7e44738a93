package l2frames

import (
	"fmt"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/frameplay/internal/cloud"
	"github.com/banshee-data/frameplay/internal/lidar/vlp16"
)

// Azimuth thresholds (degrees) that mark the sensor passing through zero.
const (
	WrapFromAzimuth = 350.0
	WrapToAzimuth   = 10.0
	defaultCapacity = 50000
)

// Frame is one completed rotation. Cloud is owned by the builder and is
// only valid for the duration of the emit callback.
type Frame struct {
	Index int
	Cloud *cloud.PointCloud
}

// EmitFunc receives completed frames. Returning an error stops the builder.
type EmitFunc func(Frame) error

// RotationBuilder accumulates firing blocks and emits a frame each time
// the azimuth wraps from above WrapFromAzimuth to below WrapToAzimuth.
type RotationBuilder struct {
	emit          EmitFunc
	withIntensity bool

	current     *cloud.PointCloud
	lastAzimuth float64
	frames      int
	err         error
}

// NewRotationBuilder returns a builder that passes frames to emit. When
// withIntensity is set each point keeps its reflectivity.
func NewRotationBuilder(emit EmitFunc, withIntensity bool) *RotationBuilder {
	return &RotationBuilder{
		emit:          emit,
		withIntensity: withIntensity,
		current:       cloud.New(defaultCapacity),
		lastAzimuth:   -1,
	}
}

// AddBlock appends the block's points, first emitting the pending frame
// if this block starts a new rotation. The wrap is detected per block,
// so a block with no returns still advances the azimuth.
func (b *RotationBuilder) AddBlock(blk vlp16.Block) error {
	if b.err != nil {
		return b.err
	}
	if b.lastAzimuth > WrapFromAzimuth && blk.Azimuth < WrapToAzimuth {
		if err := b.emitCurrent(); err != nil {
			return err
		}
	}
	b.lastAzimuth = blk.Azimuth

	for _, p := range blk.Points {
		v := r3.Vec{X: p.X, Y: p.Y, Z: p.Z}
		if b.withIntensity {
			b.current.AddWithIntensity(v, float32(p.Intensity))
		} else {
			b.current.Add(v)
		}
	}
	return nil
}

// AddBlocks is AddBlock over a decoded packet.
func (b *RotationBuilder) AddBlocks(blocks []vlp16.Block) error {
	for _, blk := range blocks {
		if err := b.AddBlock(blk); err != nil {
			return err
		}
	}
	return nil
}

// Flush emits the trailing partial rotation if it holds any points.
func (b *RotationBuilder) Flush() error {
	if b.err != nil {
		return b.err
	}
	if b.current.Len() == 0 {
		return nil
	}
	return b.emitCurrent()
}

// Frames returns the number of frames emitted so far.
func (b *RotationBuilder) Frames() int {
	return b.frames
}

// Pending returns the number of points buffered for the next frame.
func (b *RotationBuilder) Pending() int {
	return b.current.Len()
}

func (b *RotationBuilder) emitCurrent() error {
	if err := b.emit(Frame{Index: b.frames, Cloud: b.current}); err != nil {
		b.err = fmt.Errorf("emit frame %d: %w", b.frames, err)
		return b.err
	}
	b.frames++
	b.current.Reset(0)
	return nil
}
