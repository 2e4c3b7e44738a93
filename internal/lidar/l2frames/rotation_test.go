package l2frames

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/frameplay/internal/lidar/vlp16"
)

type captured struct {
	index     int
	points    int
	intensity bool
}

func collector(out *[]captured) EmitFunc {
	return func(f Frame) error {
		*out = append(*out, captured{index: f.Index, points: f.Cloud.Len(), intensity: f.Cloud.HasIntensity()})
		return nil
	}
}

func block(az float64, n int) vlp16.Block {
	pts := make([]vlp16.Point, n)
	for i := range pts {
		pts[i] = vlp16.Point{X: float64(i), Y: az, Z: 1, Intensity: 7}
	}
	return vlp16.Block{Azimuth: az, Points: pts}
}

func TestRotationBuilder_SplitsOnWrap(t *testing.T) {
	var got []captured
	b := NewRotationBuilder(collector(&got), false)

	// first rotation: 3 blocks, second: 2 blocks, third (partial): 1 block
	azimuths := []float64{5, 180, 355, 2, 351, 8}
	for _, az := range azimuths {
		require.NoError(t, b.AddBlock(block(az, 4)))
	}
	require.Len(t, got, 2)
	assert.Equal(t, 4, b.Pending())

	require.NoError(t, b.Flush())
	assert.Equal(t, []captured{
		{index: 0, points: 12},
		{index: 1, points: 8},
		{index: 2, points: 4},
	}, got)
	assert.Equal(t, 3, b.Frames())
	assert.Equal(t, 0, b.Pending())
}

func TestRotationBuilder_NoSplitWithoutFullWrap(t *testing.T) {
	var got []captured
	b := NewRotationBuilder(collector(&got), false)

	// 349 -> 5 and 355 -> 10 are not wraps
	for _, az := range []float64{1, 349, 5, 355, 10} {
		require.NoError(t, b.AddBlock(block(az, 1)))
	}
	assert.Empty(t, got)
	require.NoError(t, b.Flush())
	require.Len(t, got, 1)
	assert.Equal(t, 5, got[0].points)
}

func TestRotationBuilder_FirstBlockNeverSplits(t *testing.T) {
	var got []captured
	b := NewRotationBuilder(collector(&got), false)
	require.NoError(t, b.AddBlock(block(0, 2)))
	assert.Empty(t, got)
}

func TestRotationBuilder_EmptyBlocksAdvanceAzimuth(t *testing.T) {
	var got []captured
	b := NewRotationBuilder(collector(&got), false)

	require.NoError(t, b.AddBlocks([]vlp16.Block{block(100, 3), block(359, 0), block(1, 2)}))
	require.Len(t, got, 1)
	assert.Equal(t, 3, got[0].points)
}

func TestRotationBuilder_FlushEmptyIsNoop(t *testing.T) {
	var got []captured
	b := NewRotationBuilder(collector(&got), false)
	require.NoError(t, b.Flush())
	assert.Empty(t, got)
	assert.Equal(t, 0, b.Frames())
}

func TestRotationBuilder_Intensity(t *testing.T) {
	var got []captured
	var values []float32
	b := NewRotationBuilder(func(f Frame) error {
		got = append(got, captured{index: f.Index, points: f.Cloud.Len(), intensity: f.Cloud.HasIntensity()})
		values = append(values, f.Cloud.Intensity...)
		return nil
	}, true)

	require.NoError(t, b.AddBlock(block(10, 2)))
	require.NoError(t, b.Flush())
	require.Len(t, got, 1)
	assert.True(t, got[0].intensity)
	assert.Equal(t, []float32{7, 7}, values)
}

func TestRotationBuilder_EmitErrorSticks(t *testing.T) {
	boom := errors.New("disk full")
	b := NewRotationBuilder(func(Frame) error { return boom }, false)

	require.NoError(t, b.AddBlock(block(355, 1)))
	err := b.AddBlock(block(1, 1))
	require.ErrorIs(t, err, boom)
	assert.ErrorIs(t, b.AddBlock(block(2, 1)), boom)
	assert.ErrorIs(t, b.Flush(), boom)
	assert.Equal(t, 0, b.Frames())
}
