// Package labeling finds 26-connected components in 3D volumes.
package labeling

import (
	"github.com/theodesp/unionfind"

	"aslcluster/internal/models"
)

// Predicate decides whether a voxel value belongs to the foreground
type Predicate func(value float64) bool

// NonZero selects every voxel with a value other than zero
func NonZero(value float64) bool { return value != 0 }

// AtLeast selects voxels with a value greater than or equal to t
func AtLeast(t float64) Predicate {
	return func(value float64) bool { return value >= t }
}

// Labels is a labelled volume: 0 is background and 1..Count are components
type Labels struct {
	Data   []int32
	Width  int
	Height int
	Depth  int
	Count  int
}

// backward holds the 13 neighbour offsets (dx, dy, dz) that precede a voxel in
// raster order under 26-connectivity.
var backward = func() [][3]int {
	var out [][3]int
	for dz := -1; dz <= 0; dz++ {
		for dy := -1; dy <= 1; dy++ {
			for dx := -1; dx <= 1; dx++ {
				if dz == 0 && (dy > 0 || (dy == 0 && dx >= 0)) {
					continue
				}
				out = append(out, [3]int{dx, dy, dz})
			}
		}
	}
	return out
}()

// Label assigns component labels to all voxels satisfying pred using
// 26-connectivity. Labels are consecutive and ordered by the first voxel of
// each component in raster order.
func Label(data []float64, width, height, depth int, pred Predicate) Labels {
	out := Labels{
		Data:   make([]int32, len(data)),
		Width:  width,
		Height: height,
		Depth:  depth,
	}

	foreground := 0
	for _, v := range data {
		if pred(v) {
			foreground++
		}
	}
	if foreground == 0 {
		return out
	}

	// Provisional labels start at 1, so at most foreground+1 slots are needed
	uf := unionfind.New(foreground + 1)
	plane := width * height
	next := int32(1)

	for z := 0; z < depth; z++ {
		for y := 0; y < height; y++ {
			for x := 0; x < width; x++ {
				idx := z*plane + y*width + x
				if !pred(data[idx]) {
					continue
				}

				var current int32
				for _, off := range backward {
					nx, ny, nz := x+off[0], y+off[1], z+off[2]
					if nx < 0 || nx >= width || ny < 0 || ny >= height || nz < 0 {
						continue
					}
					neighbour := out.Data[nz*plane+ny*width+nx]
					if neighbour == 0 {
						continue
					}
					if current == 0 {
						current = neighbour
						continue
					}
					if neighbour != current {
						uf.Union(int(current), int(neighbour))
					}
				}

				if current == 0 {
					current = next
					next++
				}
				out.Data[idx] = current
			}
		}
	}

	// Second pass: collapse each provisional label to its root and renumber the
	// roots in order of first appearance.
	final := make([]int32, next)
	var count int32
	for idx, l := range out.Data {
		if l == 0 {
			continue
		}
		root := uf.Root(int(l))
		if final[root] == 0 {
			count++
			final[root] = count
		}
		out.Data[idx] = final[root]
	}
	out.Count = int(count)

	return out
}

// LabelVolume labels a models.Volume
func LabelVolume(v *models.Volume, pred Predicate) Labels {
	return Label(v.Data, v.Width, v.Height, v.Depth, pred)
}

// Sizes returns the voxel count of each component; index k-1 holds label k
func (l Labels) Sizes() []int {
	sizes := make([]int, l.Count)
	for _, v := range l.Data {
		if v > 0 {
			sizes[v-1]++
		}
	}
	return sizes
}

// Max returns the size of the largest component, or 0 when there is none
func (l Labels) Max() int {
	largest := 0
	for _, s := range l.Sizes() {
		if s > largest {
			largest = s
		}
	}
	return largest
}

// Mask returns a boolean membership array for component id
func (l Labels) Mask(id int) []bool {
	mask := make([]bool, len(l.Data))
	for i, v := range l.Data {
		mask[i] = int(v) == id
	}
	return mask
}
