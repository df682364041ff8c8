// Package summary extracts per-subject signal statistics inside labelled
// regions, such as the clusters that survived correction or fixed binary masks.
package summary

import (
	"errors"
	"math"

	"github.com/montanaflynn/stats"
	"gonum.org/v1/gonum/stat"

	"aslcluster/internal/models"
	"aslcluster/pkg/labeling"
)

// ErrNoRegions is returned when a region map contains no labelled voxels
var ErrNoRegions = errors.New("region map has no labelled voxels")

// RegionStats describes the values of one subject volume inside one region
type RegionStats struct {
	// Label is the region identifier in the region map
	Label int

	// Voxels is the number of voxels in the region
	Voxels int

	// CenterOfMass is the region centroid in world coordinates
	CenterOfMass [3]float64

	// Mean is the mean subject value in the region, NaN for an empty region
	Mean float64

	// Std is the population standard deviation, NaN for an empty region
	Std float64
}

// Subject pairs a volume with a display name
type Subject struct {
	Name   string
	Volume *models.Volume
}

// SubjectSummary collects the region statistics of one subject
type SubjectSummary struct {
	Name    string
	Regions []RegionStats
}

// Binarize returns a single-region map holding every strictly positive voxel
// of v. Negative and zero voxels are outside the mask.
func Binarize(v *models.Volume) labeling.Labels {
	out := labeling.Labels{
		Data:   make([]int32, len(v.Data)),
		Width:  v.Width,
		Height: v.Height,
		Depth:  v.Depth,
	}
	for i, value := range v.Data {
		if value > 0 {
			out.Data[i] = 1
			out.Count = 1
		}
	}
	return out
}

// Regions splits the nonzero voxels of a saved cluster mask into its
// 26-connected clusters
func Regions(mask *models.Volume) labeling.Labels {
	return labeling.LabelVolume(mask, labeling.NonZero)
}

// MaskStats computes the statistics of v inside every region of regions.
// geometry provides the affine used for the region centroids; pass the mask
// volume the regions came from, or nil to use v.
func MaskStats(v *models.Volume, regions labeling.Labels, geometry *models.Volume) ([]RegionStats, error) {
	if len(v.Data) != len(regions.Data) {
		return nil, &models.InvalidShapeError{What: "subject volume", Want: len(regions.Data), Got: len(v.Data)}
	}
	if v.Width != regions.Width || v.Height != regions.Height || v.Depth != regions.Depth {
		return nil, &models.InvalidShapeError{What: "subject width", Want: regions.Width, Got: v.Width}
	}
	if geometry == nil {
		geometry = v
	}

	values := make([][]float64, regions.Count)
	for idx, label := range regions.Data {
		if label > 0 {
			values[label-1] = append(values[label-1], v.Data[idx])
		}
	}

	described := labeling.Describe(regions, geometry)
	out := make([]RegionStats, regions.Count)
	for i := range out {
		out[i] = RegionStats{
			Label:  i + 1,
			Voxels: len(values[i]),
			Mean:   math.NaN(),
			Std:    math.NaN(),
		}
		if len(values[i]) == 0 {
			continue
		}
		out[i].CenterOfMass = described[i].CenterOfMass
		out[i].Mean = stat.Mean(values[i], nil)
		std, err := stats.StandardDeviationPopulation(values[i])
		if err != nil {
			return nil, err
		}
		out[i].Std = std
	}

	return out, nil
}

// Overlay computes MaskStats for every subject against the same region map
func Overlay(subjects []Subject, regions labeling.Labels, geometry *models.Volume) ([]SubjectSummary, error) {
	if regions.Count == 0 {
		return nil, ErrNoRegions
	}
	out := make([]SubjectSummary, 0, len(subjects))
	for _, s := range subjects {
		regionStats, err := MaskStats(s.Volume, regions, geometry)
		if err != nil {
			return nil, err
		}
		out = append(out, SubjectSummary{Name: s.Name, Regions: regionStats})
	}
	return out, nil
}

// FixedMask summarises every subject inside the positive voxels of a binary
// mask, treated as a single region
func FixedMask(subjects []Subject, mask *models.Volume) ([]SubjectSummary, error) {
	return Overlay(subjects, Binarize(mask), mask)
}
