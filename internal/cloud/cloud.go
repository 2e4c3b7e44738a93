// Package cloud defines the mutable point cloud that is registered with a
// render surface once and then refilled frame by frame.
package cloud

import (
	"math"

	"gonum.org/v1/gonum/spatial/r3"
	"gonum.org/v1/gonum/stat"
)

// PointCloud is a mutable container of 3D points with optional per-point
// intensity. Intensity is either empty or has exactly one entry per point.
//
// A PointCloud handed to a surface keeps its identity for the whole run:
// new frames are copied into its storage with Replace rather than swapping
// the object, so the backing arrays are reused whenever capacity allows.
type PointCloud struct {
	Points    []r3.Vec
	Intensity []float32

	generation uint64
}

// New returns an empty PointCloud with room for capacity points.
func New(capacity int) *PointCloud {
	if capacity < 0 {
		capacity = 0
	}
	return &PointCloud{Points: make([]r3.Vec, 0, capacity)}
}

// Len returns the number of points.
func (pc *PointCloud) Len() int {
	if pc == nil {
		return 0
	}
	return len(pc.Points)
}

// Generation returns how many times the cloud has been refilled via Replace.
func (pc *PointCloud) Generation() uint64 {
	return pc.generation
}

// HasIntensity reports whether every point carries an intensity value.
func (pc *PointCloud) HasIntensity() bool {
	return len(pc.Intensity) > 0 && len(pc.Intensity) == len(pc.Points)
}

// Reset empties the cloud while keeping its storage, growing it to hold at
// least n points. Decoders call this before filling the cloud.
func (pc *PointCloud) Reset(n int) {
	if cap(pc.Points) < n {
		pc.Points = make([]r3.Vec, 0, n)
	} else {
		pc.Points = pc.Points[:0]
	}
	pc.Intensity = pc.Intensity[:0]
}

// Add appends a point without intensity.
func (pc *PointCloud) Add(v r3.Vec) {
	pc.Points = append(pc.Points, v)
}

// AddWithIntensity appends a point together with its intensity.
func (pc *PointCloud) AddWithIntensity(v r3.Vec, intensity float32) {
	pc.Points = append(pc.Points, v)
	pc.Intensity = append(pc.Intensity, intensity)
}

// Replace overwrites the point storage of pc with a copy of src's points.
// The receiver keeps its identity and reuses its backing arrays when they
// are large enough.
func (pc *PointCloud) Replace(src *PointCloud) {
	pc.Points = append(pc.Points[:0], src.Points...)
	if src.HasIntensity() {
		pc.Intensity = append(pc.Intensity[:0], src.Intensity...)
	} else {
		pc.Intensity = pc.Intensity[:0]
	}
	pc.generation++
}

// Bounds returns the axis-aligned bounding box of the cloud.
// An empty cloud has a zero box.
func (pc *PointCloud) Bounds() r3.Box {
	if pc.Len() == 0 {
		return r3.Box{}
	}
	minV := r3.Vec{X: math.Inf(1), Y: math.Inf(1), Z: math.Inf(1)}
	maxV := r3.Vec{X: math.Inf(-1), Y: math.Inf(-1), Z: math.Inf(-1)}
	for _, p := range pc.Points {
		minV.X = math.Min(minV.X, p.X)
		minV.Y = math.Min(minV.Y, p.Y)
		minV.Z = math.Min(minV.Z, p.Z)
		maxV.X = math.Max(maxV.X, p.X)
		maxV.Y = math.Max(maxV.Y, p.Y)
		maxV.Z = math.Max(maxV.Z, p.Z)
	}
	return r3.Box{Min: minV, Max: maxV}
}

// Centroid returns the mean point. An empty cloud returns the origin.
func (pc *PointCloud) Centroid() r3.Vec {
	n := pc.Len()
	if n == 0 {
		return r3.Vec{}
	}
	xs := make([]float64, n)
	ys := make([]float64, n)
	zs := make([]float64, n)
	for i, p := range pc.Points {
		xs[i], ys[i], zs[i] = p.X, p.Y, p.Z
	}
	return r3.Vec{X: stat.Mean(xs, nil), Y: stat.Mean(ys, nil), Z: stat.Mean(zs, nil)}
}
