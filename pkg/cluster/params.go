package cluster

import "math"

// Default parameter values
const (
	// DefaultTCrit is approximately the one-sided p<0.001 cutoff of a t-statistic
	DefaultTCrit = 3.09

	// DefaultPermutations bounds the smallest resolvable p-value at 1/1000
	DefaultPermutations = 1000

	// DefaultSigmaMM is the smoothing bandwidth of the null fields in mm
	DefaultSigmaMM = 3.82

	// DefaultAlpha is the FDR significance level
	DefaultAlpha = 0.05

	// permutationWarnLimit is the count above which a resource warning is logged
	permutationWarnLimit = 10_000_000
)

// Params holds the cluster-correction parameters
type Params struct {
	// TCrit is the voxel-level cluster-forming threshold (inclusive)
	TCrit float64

	// Permutations is the number of null realisations. The smallest
	// non-zero p-value is 1/Permutations; with a single permutation every
	// raw p-value is either 0 or 1.
	Permutations int

	// SigmaMM is the Gaussian smoothing bandwidth of the null fields in mm
	SigmaMM float64

	// Alpha is the Benjamini-Hochberg significance level
	Alpha float64
}

// DefaultParams returns the standard parameter set
func DefaultParams() Params {
	return Params{
		TCrit:        DefaultTCrit,
		Permutations: DefaultPermutations,
		SigmaMM:      DefaultSigmaMM,
		Alpha:        DefaultAlpha,
	}
}

// Validate checks every parameter and returns an *InvalidConfigurationError
// naming the first offending one.
func (p Params) Validate() error {
	if p.Permutations < 1 {
		return &InvalidConfigurationError{Param: "n_permutations", Value: p.Permutations, Reason: "must be at least 1"}
	}
	if math.IsNaN(p.TCrit) || math.IsInf(p.TCrit, 0) {
		return &InvalidConfigurationError{Param: "tcrit", Value: p.TCrit, Reason: "must be finite"}
	}
	if !(p.SigmaMM > 0) || math.IsInf(p.SigmaMM, 0) {
		return &InvalidConfigurationError{Param: "sigma_mm", Value: p.SigmaMM, Reason: "must be positive and finite"}
	}
	if !(p.Alpha > 0 && p.Alpha < 1) {
		return &InvalidConfigurationError{Param: "alpha", Value: p.Alpha, Reason: "must be in (0, 1)"}
	}
	return nil
}
