package fdr

import (
	"math"
	"sort"
	"testing"
)

// TestKnownValues compares against a hand-worked step-up example
func TestKnownValues(t *testing.T) {
	pvals := []float64{0.01, 0.039, 0.029, 0.005, 0.5}
	rejected, corrected, err := BenjaminiHochberg(pvals, 0.05)
	if err != nil {
		t.Fatalf("BenjaminiHochberg failed: %v", err)
	}

	// Sorted: 0.005 0.01 0.029 0.039 0.5 -> scaled 0.025 0.025 0.04833 0.04875 0.5
	expected := []float64{0.025, 0.039 * 5 / 4, 0.029 * 5 / 3, 0.025, 0.5}
	for i := range expected {
		if math.Abs(corrected[i]-expected[i]) > 1e-12 {
			t.Errorf("Expected corrected[%d]=%f, got %f", i, expected[i], corrected[i])
		}
	}

	expectedRejected := []bool{true, true, true, true, false}
	for i := range expectedRejected {
		if rejected[i] != expectedRejected[i] {
			t.Errorf("Expected rejected[%d]=%v, got %v", i, expectedRejected[i], rejected[i])
		}
	}
}

// TestStepUp checks that a p-value above its own line is still rejected when a
// larger rank falls under the line
func TestStepUp(t *testing.T) {
	pvals := []float64{0.02, 0.021, 0.022, 0.023}
	rejected, _, err := BenjaminiHochberg(pvals, 0.05)
	if err != nil {
		t.Fatalf("BenjaminiHochberg failed: %v", err)
	}
	// 0.02 > 1*0.05/4 but 0.023 <= 4*0.05/4
	for i, r := range rejected {
		if !r {
			t.Errorf("Expected hypothesis %d to be rejected", i)
		}
	}
}

// TestCorrectedProperties checks monotonicity and corrected >= raw
func TestCorrectedProperties(t *testing.T) {
	pvals := []float64{0.9, 0.001, 0.2, 0.2, 0.04, 0.03, 0.7, 0.0, 1.0, 0.011}
	_, corrected, err := BenjaminiHochberg(pvals, 0.05)
	if err != nil {
		t.Fatalf("BenjaminiHochberg failed: %v", err)
	}

	idx := make([]int, len(pvals))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool { return pvals[idx[a]] < pvals[idx[b]] })

	for k := 1; k < len(idx); k++ {
		if corrected[idx[k]] < corrected[idx[k-1]] {
			t.Errorf("Expected non-decreasing corrected values at rank %d: %f < %f",
				k, corrected[idx[k]], corrected[idx[k-1]])
		}
	}
	for i := range pvals {
		if corrected[i] < pvals[i] {
			t.Errorf("Expected corrected[%d]=%f >= raw %f", i, corrected[i], pvals[i])
		}
		if corrected[i] > 1 {
			t.Errorf("Expected corrected[%d] capped at 1, got %f", i, corrected[i])
		}
	}
}

func TestNoneRejected(t *testing.T) {
	rejected, corrected, err := BenjaminiHochberg([]float64{0.3, 1, 0.8}, 0.05)
	if err != nil {
		t.Fatalf("BenjaminiHochberg failed: %v", err)
	}
	for i := range rejected {
		if rejected[i] {
			t.Errorf("Expected hypothesis %d to be retained", i)
		}
	}
	if corrected[1] != 1 {
		t.Errorf("Expected corrected p of 1, got %f", corrected[1])
	}
}

func TestEmptyAndInvalid(t *testing.T) {
	rejected, corrected, err := BenjaminiHochberg(nil, 0.05)
	if err != nil || len(rejected) != 0 || len(corrected) != 0 {
		t.Errorf("Expected empty results without error, got %v %v %v", rejected, corrected, err)
	}

	if _, _, err := BenjaminiHochberg([]float64{0.1}, 0); err == nil {
		t.Error("Expected error for alpha 0")
	}
	if _, _, err := BenjaminiHochberg([]float64{0.1}, 1); err == nil {
		t.Error("Expected error for alpha 1")
	}
	if _, _, err := BenjaminiHochberg([]float64{1.5}, 0.05); err == nil {
		t.Error("Expected error for p > 1")
	}
	if _, _, err := BenjaminiHochberg([]float64{math.NaN()}, 0.05); err == nil {
		t.Error("Expected error for NaN p-value")
	}
}
