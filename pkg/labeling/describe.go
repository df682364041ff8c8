package labeling

import (
	"math"

	"aslcluster/internal/models"
)

// Describe summarises every component of l using the values and geometry of v.
// The center of mass is the unweighted mean voxel position of the component
// mapped through the affine of v.
func Describe(l Labels, v *models.Volume) []models.Cluster {
	clusters := make([]models.Cluster, l.Count)
	sums := make([][3]float64, l.Count)
	for i := range clusters {
		clusters[i].ID = i + 1
		clusters[i].Peak = math.Inf(-1)
	}

	for idx, label := range l.Data {
		if label == 0 {
			continue
		}
		c := &clusters[label-1]
		x, y, z := v.Coords(idx)
		c.Size++
		sums[label-1][0] += float64(x)
		sums[label-1][1] += float64(y)
		sums[label-1][2] += float64(z)
		if value := v.Data[idx]; value > c.Peak {
			c.Peak = value
			c.PeakVoxel = [3]int{x, y, z}
		}
	}

	for i := range clusters {
		n := float64(clusters[i].Size)
		clusters[i].CenterOfMass = v.VoxelToWorld(sums[i][0]/n, sums[i][1]/n, sums[i][2]/n)
	}

	return clusters
}
