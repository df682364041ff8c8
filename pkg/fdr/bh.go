// Package fdr implements false discovery rate control over a family of p-values.
package fdr

import (
	"fmt"
	"math"

	"github.com/mkmik/argsort"
)

// BenjaminiHochberg applies the Benjamini-Hochberg step-up procedure for
// independent or positively correlated tests at level alpha.
//
// rejected[i] reports whether hypothesis i is rejected (the cluster survives)
// and corrected[i] is its adjusted p-value. With p-values sorted ascending the
// adjusted values are non-decreasing, never smaller than the raw values and
// capped at 1.
func BenjaminiHochberg(pvals []float64, alpha float64) (rejected []bool, corrected []float64, err error) {
	if !(alpha > 0 && alpha < 1) {
		return nil, nil, fmt.Errorf("alpha must be in (0, 1), got %v", alpha)
	}
	for i, p := range pvals {
		if math.IsNaN(p) || p < 0 || p > 1 {
			return nil, nil, fmt.Errorf("p-value %d out of range: %v", i, p)
		}
	}

	m := len(pvals)
	rejected = make([]bool, m)
	corrected = make([]float64, m)
	if m == 0 {
		return rejected, corrected, nil
	}

	order := argsort.SortSlice(pvals, func(i, j int) bool { return pvals[i] < pvals[j] })

	// Largest rank k whose p-value falls under the step-up line k*alpha/m
	cutoff := -1
	for rank, idx := range order {
		if pvals[idx] <= float64(rank+1)*alpha/float64(m) {
			cutoff = rank
		}
	}
	for rank := 0; rank <= cutoff; rank++ {
		rejected[order[rank]] = true
	}

	// Reverse cumulative minimum of p*m/rank
	running := math.Inf(1)
	for rank := m - 1; rank >= 0; rank-- {
		idx := order[rank]
		scaled := pvals[idx] * float64(m) / float64(rank+1)
		if scaled < running {
			running = scaled
		}
		corrected[idx] = math.Min(running, 1)
	}

	return rejected, corrected, nil
}
