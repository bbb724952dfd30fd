package cluster

import (
	"math"
	"testing"
)

func TestAdjustedRandIndex_PerfectAgreement(t *testing.T) {
	a := []int{0, 0, 1, 1, 2, 2}
	b := []int{0, 0, 1, 1, 2, 2}

	ari := AdjustedRandIndex(a, b)

	if math.Abs(ari-1.0) > 0.01 {
		t.Errorf("Expected ARI=1.0 for perfect agreement. Got: %f", ari)
	}
}

func TestAdjustedRandIndex_RandomPartition(t *testing.T) {
	// Two very different partitions should yield ARI near 0
	a := []int{0, 0, 0, 1, 1, 1}
	b := []int{0, 1, 0, 1, 0, 1}

	ari := AdjustedRandIndex(a, b)

	if ari > 0.5 {
		t.Errorf("Expected ARI near 0 for dissimilar partitions. Got: %f", ari)
	}
}

func TestVariationOfInformation_Identical(t *testing.T) {
	a := []int{0, 0, 1, 1, 2, 2}
	b := []int{0, 0, 1, 1, 2, 2}

	vi := VariationOfInformation(a, b)

	if vi > 0.01 {
		t.Errorf("Expected VI=0.0 for identical partitions. Got: %f", vi)
	}
}

func TestCompare_AlignsOnSharedNames(t *testing.T) {
	// Revision B renames one cluster's fingerprint (recompiled immediates)
	// but keeps the grouping; one symbol is new and must be ignored.
	revA := map[string]uint64{
		"func_a": 0x100, "func_b": 0x100,
		"func_c": 0x200, "func_d": 0x200,
	}
	revB := map[string]uint64{
		"func_a": 0x111, "func_b": 0x111,
		"func_c": 0x222, "func_d": 0x222,
		"func_new": 0x333,
	}

	agreement := Compare(revA, revB)

	if agreement.SharedSymbols != 4 {
		t.Errorf("Expected 4 shared symbols, got %d", agreement.SharedSymbols)
	}
	if math.Abs(agreement.AdjustedRand-1.0) > 0.01 {
		t.Errorf("Identical groupings under renamed fingerprints must score ARI=1.0. Got: %f", agreement.AdjustedRand)
	}
	if agreement.VariationOfInfo > 0.01 {
		t.Errorf("Expected VI=0.0 for identical groupings. Got: %f", agreement.VariationOfInfo)
	}
}

func TestCompare_DetectsClusterCollapse(t *testing.T) {
	// Revision B merges two clusters into one: agreement degrades.
	revA := map[string]uint64{
		"f1": 1, "f2": 1, "f3": 2, "f4": 2, "f5": 3, "f6": 3,
	}
	revB := map[string]uint64{
		"f1": 9, "f2": 9, "f3": 9, "f4": 9, "f5": 8, "f6": 8,
	}

	agreement := Compare(revA, revB)

	if agreement.AdjustedRand >= 1.0 {
		t.Errorf("Cluster collapse must lower ARI below 1.0. Got: %f", agreement.AdjustedRand)
	}
	if agreement.VariationOfInfo <= 0.0 {
		t.Errorf("Cluster collapse must raise VI above 0. Got: %f", agreement.VariationOfInfo)
	}
}
