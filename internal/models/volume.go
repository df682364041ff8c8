package models

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// Volume represents a 3D scalar volume together with its voxel-to-world mapping
type Volume struct {
	// Data is the 3D volume data as a 1D array in row-major order
	// (x varies fastest, then y, then z)
	Data []float64

	// Width is the size of the volume along x in voxels
	Width int

	// Height is the size of the volume along y in voxels
	Height int

	// Depth is the size of the volume along z in voxels
	Depth int

	// VoxelSize is the physical size of each voxel in mm
	VoxelSize struct {
		X, Y, Z float64
	}

	// Affine maps homogeneous voxel indices (i, j, k, 1) to world coordinates.
	// A nil affine is treated as the voxel-size diagonal.
	Affine *mat.Dense
}

// InvalidShapeError reports a dimension disagreement between a volume and
// the data derived from or compared against it.
type InvalidShapeError struct {
	What string
	Want int
	Got  int
}

func (e *InvalidShapeError) Error() string {
	return fmt.Sprintf("invalid shape for %s: want %d, got %d", e.What, e.Want, e.Got)
}

// NewVolume allocates a zero-filled volume with unit voxels and an identity-scaled affine
func NewVolume(width, height, depth int) *Volume {
	v := &Volume{
		Data:   make([]float64, width*height*depth),
		Width:  width,
		Height: height,
		Depth:  depth,
	}
	v.VoxelSize.X, v.VoxelSize.Y, v.VoxelSize.Z = 1, 1, 1
	v.Affine = DiagonalAffine(1, 1, 1)
	return v
}

// DiagonalAffine returns a 4x4 affine that scales voxel indices by the given voxel sizes
func DiagonalAffine(x, y, z float64) *mat.Dense {
	return mat.NewDense(4, 4, []float64{
		x, 0, 0, 0,
		0, y, 0, 0,
		0, 0, z, 0,
		0, 0, 0, 1,
	})
}

// Shape returns the volume dimensions as (width, height, depth)
func (v *Volume) Shape() [3]int {
	return [3]int{v.Width, v.Height, v.Depth}
}

// Len returns the number of voxels implied by the dimensions
func (v *Volume) Len() int {
	return v.Width * v.Height * v.Depth
}

// Index converts voxel coordinates to an offset into Data
func (v *Volume) Index(x, y, z int) int {
	return z*v.Width*v.Height + y*v.Width + x
}

// Coords converts an offset into Data back to voxel coordinates
func (v *Volume) Coords(idx int) (x, y, z int) {
	plane := v.Width * v.Height
	z = idx / plane
	rem := idx % plane
	y = rem / v.Width
	x = rem % v.Width
	return x, y, z
}

// At returns the value at voxel (x, y, z)
func (v *Volume) At(x, y, z int) float64 {
	return v.Data[v.Index(x, y, z)]
}

// Set stores a value at voxel (x, y, z)
func (v *Volume) Set(x, y, z int, value float64) {
	v.Data[v.Index(x, y, z)] = value
}

// ZerosLike returns an all-zero volume sharing the geometry of v
func (v *Volume) ZerosLike() *Volume {
	out := &Volume{
		Data:      make([]float64, len(v.Data)),
		Width:     v.Width,
		Height:    v.Height,
		Depth:     v.Depth,
		VoxelSize: v.VoxelSize,
	}
	if v.Affine != nil {
		out.Affine = mat.DenseCopyOf(v.Affine)
	}
	return out
}

// Clone returns a deep copy of v
func (v *Volume) Clone() *Volume {
	out := v.ZerosLike()
	copy(out.Data, v.Data)
	return out
}

// Validate checks the invariants of the volume: positive dimensions, data length
// matching the dimensions, positive voxel size and an invertible 4x4 affine.
func (v *Volume) Validate() error {
	if v.Width <= 0 || v.Height <= 0 || v.Depth <= 0 {
		return fmt.Errorf("volume dimensions must be positive, got %dx%dx%d", v.Width, v.Height, v.Depth)
	}
	if len(v.Data) != v.Len() {
		return &InvalidShapeError{What: "volume data", Want: v.Len(), Got: len(v.Data)}
	}
	for _, s := range []float64{v.VoxelSize.X, v.VoxelSize.Y, v.VoxelSize.Z} {
		if !(s > 0) || math.IsInf(s, 0) {
			return fmt.Errorf("voxel size must be positive and finite, got %v", v.VoxelSize)
		}
	}
	if v.Affine == nil {
		return nil
	}
	if r, c := v.Affine.Dims(); r != 4 || c != 4 {
		return fmt.Errorf("affine must be 4x4, got %dx%d", r, c)
	}
	var inv mat.Dense
	if err := inv.Inverse(v.Affine); err != nil {
		return fmt.Errorf("affine is not invertible: %w", err)
	}
	return nil
}

// VoxelToWorld maps (possibly fractional) voxel coordinates through the affine
func (v *Volume) VoxelToWorld(i, j, k float64) [3]float64 {
	affine := v.Affine
	if affine == nil {
		affine = DiagonalAffine(v.VoxelSize.X, v.VoxelSize.Y, v.VoxelSize.Z)
	}
	var world mat.VecDense
	world.MulVec(affine, mat.NewVecDense(4, []float64{i, j, k, 1}))
	return [3]float64{world.AtVec(0), world.AtVec(1), world.AtVec(2)}
}
