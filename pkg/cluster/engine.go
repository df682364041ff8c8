// Package cluster performs permutation-based cluster-size inference on
// thresholded statistical volumes.
//
// A run thresholds the input, labels 26-connected clusters, compares each
// cluster size against a null distribution of maximum cluster sizes drawn from
// smoothed Gaussian noise, corrects the resulting p-values with
// Benjamini-Hochberg and keeps only the surviving clusters.
package cluster

import (
	"context"
	"fmt"
	"math"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/exp/rand"

	"aslcluster/internal/models"
	"aslcluster/pkg/fdr"
	"aslcluster/pkg/labeling"
	"aslcluster/pkg/permutation"
)

// NullSampler produces n maximum-cluster-size samples for noise fields of the
// given shape. *permutation.Sampler is the standard implementation.
type NullSampler interface {
	Sample(ctx context.Context, shape [3]int, sigmaVoxels, tcrit float64, n int, rng *rand.Rand) ([]int, error)
}

// Result holds the outputs of one ProcessImage run
type Result struct {
	// Thresholded is the input with every voxel below TCrit set to zero
	Thresholded *models.Volume

	// Labels is the 26-connected labelling of Thresholded
	Labels labeling.Labels

	// Mask keeps the thresholded values of surviving clusters only
	Mask *models.Volume

	// Records describes every observed cluster, ordered by label
	Records []models.ClusterRecord

	// Null is the null distribution of maximum cluster sizes; nil when no
	// cluster was observed
	Null []int

	// SigmaVoxels is the smoothing bandwidth used for the null fields
	SigmaVoxels float64
}

// Surviving returns the records of clusters that passed FDR correction
func (r *Result) Surviving() []models.ClusterRecord {
	var out []models.ClusterRecord
	for _, rec := range r.Records {
		if rec.Rejected {
			out = append(out, rec)
		}
	}
	return out
}

// Engine runs cluster-level inference for a fixed parameter set
type Engine struct {
	params Params

	// Sampler generates the null distribution
	Sampler NullSampler

	// Rand seeds the null distribution; a time-seeded source is used when nil
	Rand *rand.Rand

	// Logger receives progress messages
	Logger log.FieldLogger
}

// NewEngine creates an engine with the default parallel sampler
func NewEngine(params Params) *Engine {
	return &Engine{
		params:  params,
		Sampler: NewDefaultSampler(0),
		Logger:  log.StandardLogger(),
	}
}

// NewDefaultSampler returns the parallel permutation sampler with the given
// worker count (0 selects one per CPU)
func NewDefaultSampler(workers int) *permutation.Sampler {
	return permutation.NewSampler(workers)
}

// Params returns the engine parameters
func (e *Engine) Params() Params {
	return e.params
}

// ProcessImage runs the full pipeline on grid.
//
// The smoothing bandwidth in voxels is SigmaMM divided by the voxel size along
// x; voxels are assumed isotropic and a warning is logged when they are not.
// A volume without supra-threshold voxels is not an error: the returned mask
// is all zero and no permutations are run.
func (e *Engine) ProcessImage(ctx context.Context, grid *models.Volume) (*Result, error) {
	if err := e.params.Validate(); err != nil {
		return nil, err
	}
	if grid == nil {
		return nil, fmt.Errorf("input volume is nil")
	}
	if err := grid.Validate(); err != nil {
		return nil, fmt.Errorf("invalid input volume: %w", err)
	}

	logger := e.Logger
	if logger == nil {
		logger = log.StandardLogger()
	}
	if e.params.Permutations > permutationWarnLimit {
		logger.WithField("permutations", e.params.Permutations).
			Warn("Very large permutation count; the null distribution alone may need a lot of memory")
	}

	// Step 1: derive the smoothing bandwidth in voxel units
	vs := grid.VoxelSize
	if vs.X != vs.Y || vs.X != vs.Z {
		logger.WithFields(log.Fields{"x": vs.X, "y": vs.Y, "z": vs.Z}).
			Warn("Anisotropic voxels; smoothing bandwidth uses the x voxel size only")
	}
	sigmaVoxels := e.params.SigmaMM / vs.X
	logger.WithFields(log.Fields{
		"voxel_size_mm": vs.X,
		"sigma_voxels":  fmt.Sprintf("%.2f", sigmaVoxels),
	}).Info("Step 1: Derived smoothing bandwidth")

	// Step 2: voxelwise threshold
	thresholded := Threshold(grid, e.params.TCrit)
	logger.WithField("tcrit", e.params.TCrit).Debug("Step 2: Thresholded input volume")

	// Step 3: label observed clusters
	labels := labeling.LabelVolume(thresholded, labeling.NonZero)
	clusters := labeling.Describe(labels, thresholded)
	sizes := make([]int, len(clusters))
	for i, c := range clusters {
		sizes[i] = c.Size
	}
	logger.WithFields(log.Fields{"clusters": labels.Count, "sizes": sizes}).
		Info("Step 3: Labelled observed clusters")

	result := &Result{
		Thresholded: thresholded,
		Labels:      labels,
		Mask:        thresholded.ZerosLike(),
		SigmaVoxels: sigmaVoxels,
	}

	// Step 4: nothing to test
	if labels.Count == 0 {
		logger.Info("Step 4: No supra-threshold clusters, skipping permutations")
		return result, nil
	}

	// Step 5: null distribution of the maximum cluster size
	rng := e.Rand
	if rng == nil {
		rng = rand.New(rand.NewSource(uint64(time.Now().UnixNano())))
	}
	sampler := e.Sampler
	if sampler == nil {
		sampler = NewDefaultSampler(0)
	}
	logger.WithField("permutations", e.params.Permutations).Info("Step 5: Building null distribution")
	start := time.Now()
	null, err := sampler.Sample(ctx, grid.Shape(), sigmaVoxels, e.params.TCrit, e.params.Permutations, rng)
	if err != nil {
		return nil, fmt.Errorf("failed to build null distribution: %w", err)
	}
	if len(null) != e.params.Permutations {
		return nil, &InvalidShapeError{What: "null distribution", Want: e.params.Permutations, Got: len(null)}
	}
	logger.WithField("elapsed", time.Since(start).Round(time.Millisecond)).Debug("Null distribution complete")

	// Step 6: cluster-level p-values
	raw := PValues(sizes, null)

	// Step 7: FDR correction
	rejected, corrected, err := fdr.BenjaminiHochberg(raw, e.params.Alpha)
	if err != nil {
		return nil, fmt.Errorf("FDR correction failed: %w", err)
	}

	// Step 8: retained mask
	keep := make([]bool, labels.Count+1)
	for i, r := range rejected {
		keep[i+1] = r
	}
	for idx, l := range labels.Data {
		if l > 0 && keep[l] {
			result.Mask.Data[idx] = thresholded.Data[idx]
		}
	}

	// Step 9: records
	result.Null = null
	result.Records = make([]models.ClusterRecord, len(clusters))
	surviving := 0
	for i, c := range clusters {
		result.Records[i] = models.ClusterRecord{
			Cluster:    c,
			RawP:       raw[i],
			CorrectedP: corrected[i],
			Rejected:   rejected[i],
		}
		if rejected[i] {
			surviving++
		}
	}
	logger.WithFields(log.Fields{"surviving": surviving, "clusters": len(clusters)}).
		Info("Step 9: FDR correction complete")

	return result, nil
}

// Threshold returns a copy of v in which every voxel below tcrit is zero and
// every other voxel keeps its value.
func Threshold(v *models.Volume, tcrit float64) *models.Volume {
	out := v.ZerosLike()
	for i, value := range v.Data {
		if value >= tcrit {
			out.Data[i] = value
		}
	}
	return out
}

// PValues returns, for each observed size, the fraction of null samples that
// are greater than or equal to it.
func PValues(sizes []int, null []int) []float64 {
	p := make([]float64, len(sizes))
	if len(null) == 0 {
		for i := range p {
			p[i] = math.NaN()
		}
		return p
	}
	for i, s := range sizes {
		count := 0
		for _, n := range null {
			if n >= s {
				count++
			}
		}
		p[i] = float64(count) / float64(len(null))
	}
	return p
}
