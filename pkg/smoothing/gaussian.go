// Package smoothing implements isotropic Gaussian filtering of 3D volumes.
//
// The filter is separable and applied along x, y and z in turn. Kernels are
// truncated at Truncate standard deviations and boundaries are handled by
// half-sample symmetric reflection (d c b a | a b c d | d c b a), so results
// agree with the usual scientific-Python Gaussian filter defaults.
package smoothing

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

// DefaultTruncate is the kernel half-width in standard deviations
const DefaultTruncate = 4.0

// Gaussian is an isotropic Gaussian filter with bandwidth Sigma in voxel units
type Gaussian struct {
	Sigma    float64
	Truncate float64

	kernel []float64
}

// NewGaussian creates a filter with the given bandwidth and truncation.
// A non-positive truncate selects DefaultTruncate.
func NewGaussian(sigma, truncate float64) *Gaussian {
	if truncate <= 0 {
		truncate = DefaultTruncate
	}
	return &Gaussian{
		Sigma:    sigma,
		Truncate: truncate,
		kernel:   Kernel(sigma, truncate),
	}
}

// Kernel returns the normalised 1D Gaussian kernel of radius
// int(truncate*sigma + 0.5). A non-positive sigma yields the identity kernel.
func Kernel(sigma, truncate float64) []float64 {
	if !(sigma > 0) {
		return []float64{1}
	}
	radius := int(truncate*sigma + 0.5)
	kernel := make([]float64, 2*radius+1)
	for i := -radius; i <= radius; i++ {
		x := float64(i)
		kernel[i+radius] = math.Exp(-0.5 * x * x / (sigma * sigma))
	}
	floats.Scale(1/floats.Sum(kernel), kernel)
	return kernel
}

// Radius returns the kernel half-width in voxels
func (g *Gaussian) Radius() int {
	return len(g.kernel) / 2
}

// Apply returns a smoothed copy of data, which is laid out x-fastest with the
// given dimensions.
func (g *Gaussian) Apply(data []float64, width, height, depth int) []float64 {
	out := make([]float64, len(data))
	copy(out, data)
	g.ApplyInPlace(out, make([]float64, len(data)), width, height, depth)
	return out
}

// ApplyInPlace smooths data in place. scratch must have the same length as data
// and is overwritten.
func (g *Gaussian) ApplyInPlace(data, scratch []float64, width, height, depth int) {
	if len(g.kernel) == 1 {
		return
	}

	longest := width
	if height > longest {
		longest = height
	}
	if depth > longest {
		longest = depth
	}
	line := make([]float64, longest+2*g.Radius())

	plane := width * height

	// x: lines of length width, stride 1
	for z := 0; z < depth; z++ {
		for y := 0; y < height; y++ {
			g.filterLine(scratch, data, z*plane+y*width, 1, width, line)
		}
	}
	// y: lines of length height, stride width
	for z := 0; z < depth; z++ {
		for x := 0; x < width; x++ {
			g.filterLine(data, scratch, z*plane+x, width, height, line)
		}
	}
	// z: lines of length depth, stride plane
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			g.filterLine(scratch, data, y*width+x, plane, depth, line)
		}
	}
	copy(data, scratch)
}

// filterLine correlates one line of src starting at start with the kernel and
// writes the result to the same positions of dst.
func (g *Gaussian) filterLine(dst, src []float64, start, stride, n int, line []float64) {
	radius := g.Radius()
	padded := line[:n+2*radius]
	for i := range padded {
		padded[i] = src[start+Reflect(i-radius, n)*stride]
	}
	for i := 0; i < n; i++ {
		dst[start+i*stride] = floats.Dot(g.kernel, padded[i:i+len(g.kernel)])
	}
}

// Reflect maps an out-of-range index onto [0, n) by half-sample symmetric
// reflection.
func Reflect(i, n int) int {
	if n == 1 {
		return 0
	}
	period := 2 * n
	i %= period
	if i < 0 {
		i += period
	}
	if i >= n {
		i = period - 1 - i
	}
	return i
}
