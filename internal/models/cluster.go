package models

// Cluster is the summary of one connected component of a thresholded volume
type Cluster struct {
	// ID is the component label (1-indexed)
	ID int

	// Size is the number of voxels in the component
	Size int

	// CenterOfMass is the mean voxel position of the component mapped to world space
	CenterOfMass [3]float64

	// Peak is the largest voxel value inside the component
	Peak float64

	// PeakVoxel holds the voxel coordinates of Peak
	PeakVoxel [3]int
}

// ClusterRecord is a cluster together with its significance after correction
type ClusterRecord struct {
	Cluster

	// RawP is the fraction of null samples at least as large as the cluster
	RawP float64

	// CorrectedP is the Benjamini-Hochberg adjusted p-value
	CorrectedP float64

	// Rejected is true when the cluster survives FDR correction
	Rejected bool
}
