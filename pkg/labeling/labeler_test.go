package labeling

import (
	"math"
	"testing"

	"aslcluster/internal/models"
)

// newCube creates a size^3 volume with the given voxels set to 1
func newCube(size int, voxels ...[3]int) []float64 {
	data := make([]float64, size*size*size)
	for _, v := range voxels {
		data[v[2]*size*size+v[1]*size+v[0]] = 1
	}
	return data
}

// TestOppositeCorners verifies that voxels sharing no face, edge or corner
// are separate components
func TestOppositeCorners(t *testing.T) {
	data := newCube(3, [3]int{0, 0, 0}, [3]int{2, 2, 2})
	labels := Label(data, 3, 3, 3, NonZero)

	if labels.Count != 2 {
		t.Fatalf("Expected 2 components, got %d", labels.Count)
	}
	if labels.Data[0] != 1 || labels.Data[26] != 2 {
		t.Errorf("Expected labels 1 and 2 in scan order, got %d and %d", labels.Data[0], labels.Data[26])
	}
}

// TestDiagonalNeighbours verifies that corner-touching voxels merge
func TestDiagonalNeighbours(t *testing.T) {
	data := newCube(3, [3]int{0, 0, 0}, [3]int{1, 1, 1})
	labels := Label(data, 3, 3, 3, NonZero)

	if labels.Count != 1 {
		t.Fatalf("Expected 1 component, got %d", labels.Count)
	}
	if sizes := labels.Sizes(); len(sizes) != 1 || sizes[0] != 2 {
		t.Errorf("Expected a single component of size 2, got %v", sizes)
	}
}

// TestEmpty verifies that a volume without foreground has no components
func TestEmpty(t *testing.T) {
	labels := Label(make([]float64, 27), 3, 3, 3, NonZero)
	if labels.Count != 0 {
		t.Errorf("Expected 0 components, got %d", labels.Count)
	}
	if labels.Max() != 0 {
		t.Errorf("Expected max size 0, got %d", labels.Max())
	}
	for i, v := range labels.Data {
		if v != 0 {
			t.Fatalf("Expected all-zero labels, got %d at %d", v, i)
		}
	}
}

// TestMergeAcrossScan builds a U shape whose arms are only joined at the far
// end, forcing provisional labels to be merged in the second pass
func TestMergeAcrossScan(t *testing.T) {
	w, h, d := 5, 4, 1
	data := make([]float64, w*h*d)
	set := func(x, y int) { data[y*w+x] = 1 }
	for y := 0; y < h; y++ {
		set(0, y)
		set(4, y)
	}
	for x := 0; x < w; x++ {
		set(x, 3)
	}
	// An isolated voxel that must keep its own label
	set(2, 0)

	labels := Label(data, w, h, d, NonZero)
	if labels.Count != 2 {
		t.Fatalf("Expected 2 components, got %d", labels.Count)
	}

	sizes := labels.Sizes()
	total := 0
	for _, s := range sizes {
		total += s
	}
	if total != 4*2+3+1 {
		t.Errorf("Expected 12 foreground voxels, got %d", total)
	}
	if labels.Max() != 11 {
		t.Errorf("Expected largest component of 11 voxels, got %d", labels.Max())
	}
}

// TestLabelsAreConsecutive checks that labels have no gaps and every voxel of a
// label has a 26-neighbour with the same label (for components larger than one)
func TestLabelsAreConsecutive(t *testing.T) {
	size := 6
	data := make([]float64, size*size*size)
	// Checkerboard planes: every other z plane is filled, planes are separated
	for z := 0; z < size; z += 2 {
		for y := 0; y < size; y++ {
			for x := 0; x < size; x++ {
				data[z*size*size+y*size+x] = 1
			}
		}
	}

	labels := Label(data, size, size, size, AtLeast(0.5))
	if labels.Count != 3 {
		t.Fatalf("Expected 3 components, got %d", labels.Count)
	}
	seen := make(map[int32]bool)
	for _, v := range labels.Data {
		if v > 0 {
			seen[v] = true
		}
	}
	for k := int32(1); k <= int32(labels.Count); k++ {
		if !seen[k] {
			t.Errorf("Expected label %d to be present", k)
		}
	}
	for _, s := range labels.Sizes() {
		if s != size*size {
			t.Errorf("Expected component size %d, got %d", size*size, s)
		}
	}
}

func TestAtLeastPredicate(t *testing.T) {
	data := []float64{2.9, 3.0, 3.5, 0, -4}
	labels := Label(data, 5, 1, 1, AtLeast(3))
	if labels.Count != 1 {
		t.Fatalf("Expected 1 component, got %d", labels.Count)
	}
	if labels.Data[0] != 0 || labels.Data[1] != 1 || labels.Data[2] != 1 {
		t.Errorf("Unexpected labels %v", labels.Data)
	}
}

func TestDescribe(t *testing.T) {
	v := models.NewVolume(4, 4, 4)
	v.Affine = models.DiagonalAffine(2, 2, 2)
	v.Set(0, 0, 0, 4)
	v.Set(1, 0, 0, 6)
	v.Set(3, 3, 3, 5)

	labels := LabelVolume(v, NonZero)
	clusters := Describe(labels, v)
	if len(clusters) != 2 {
		t.Fatalf("Expected 2 clusters, got %d", len(clusters))
	}

	first := clusters[0]
	if first.ID != 1 || first.Size != 2 {
		t.Errorf("Expected cluster 1 of size 2, got id=%d size=%d", first.ID, first.Size)
	}
	if math.Abs(first.CenterOfMass[0]-1) > 1e-12 || first.CenterOfMass[1] != 0 || first.CenterOfMass[2] != 0 {
		t.Errorf("Expected center of mass (1,0,0), got %v", first.CenterOfMass)
	}
	if first.Peak != 6 || first.PeakVoxel != [3]int{1, 0, 0} {
		t.Errorf("Expected peak 6 at (1,0,0), got %f at %v", first.Peak, first.PeakVoxel)
	}

	second := clusters[1]
	if second.CenterOfMass != [3]float64{6, 6, 6} {
		t.Errorf("Expected center of mass (6,6,6), got %v", second.CenterOfMass)
	}
}
