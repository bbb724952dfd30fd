package cluster

import "math"

// Agreement metrics between two exact-fingerprint partitions of the same
// symbol set — typically two ingested revisions of one program. ARI exposes
// cluster collapse between revisions; VI measures how much grouping
// information was gained or lost.

// Agreement holds both metrics plus the size of the compared overlap.
type Agreement struct {
	SharedSymbols   int     `json:"sharedSymbols"`
	AdjustedRand    float64 `json:"adjustedRand"`
	VariationOfInfo float64 `json:"variationOfInfo"`
}

// Compare aligns two name→fingerprint partitions on their shared symbol
// names and computes both metrics over the overlap. Fewer than two shared
// names yields zero for both metrics.
func Compare(a, b map[string]uint64) Agreement {
	var labelsA, labelsB []int
	denseA := make(map[uint64]int)
	denseB := make(map[uint64]int)
	for name, fpA := range a {
		fpB, ok := b[name]
		if !ok {
			continue
		}
		if _, seen := denseA[fpA]; !seen {
			denseA[fpA] = len(denseA)
		}
		if _, seen := denseB[fpB]; !seen {
			denseB[fpB] = len(denseB)
		}
		labelsA = append(labelsA, denseA[fpA])
		labelsB = append(labelsB, denseB[fpB])
	}
	return Agreement{
		SharedSymbols:   len(labelsA),
		AdjustedRand:    AdjustedRandIndex(labelsA, labelsB),
		VariationOfInfo: VariationOfInformation(labelsA, labelsB),
	}
}

// contingency builds the n_ij matrix and its row/column sums for two label
// vectors of equal length.
func contingency(a, b []int) (nij [][]int, rowSums, colSums []int) {
	aMap := make(map[int]int)
	bMap := make(map[int]int)
	for _, l := range a {
		if _, ok := aMap[l]; !ok {
			aMap[l] = len(aMap)
		}
	}
	for _, l := range b {
		if _, ok := bMap[l]; !ok {
			bMap[l] = len(bMap)
		}
	}

	nij = make([][]int, len(aMap))
	for i := range nij {
		nij[i] = make([]int, len(bMap))
	}
	for k := range a {
		nij[aMap[a[k]]][bMap[b[k]]]++
	}

	rowSums = make([]int, len(aMap))
	colSums = make([]int, len(bMap))
	for i := range nij {
		for j := range nij[i] {
			rowSums[i] += nij[i][j]
			colSums[j] += nij[i][j]
		}
	}
	return nij, rowSums, colSums
}

// AdjustedRandIndex computes the ARI between two partitions.
//
// ARI = (RI - Expected_RI) / (Max_RI - Expected_RI)
//
// Values range from -1 (worse than random) to 1 (perfect agreement). 0 = random.
func AdjustedRandIndex(a, b []int) float64 {
	n := len(a)
	if n != len(b) || n < 2 {
		return 0.0
	}

	nij, rowSums, colSums := contingency(a, b)

	sumNijC2 := 0.0
	for i := range nij {
		for j := range nij[i] {
			sumNijC2 += comb2(nij[i][j])
		}
	}
	sumAiC2 := 0.0
	for _, v := range rowSums {
		sumAiC2 += comb2(v)
	}
	sumBjC2 := 0.0
	for _, v := range colSums {
		sumBjC2 += comb2(v)
	}

	nC2 := comb2(n)
	if nC2 == 0 {
		return 0.0
	}

	expectedIndex := (sumAiC2 * sumBjC2) / nC2
	maxIndex := 0.5 * (sumAiC2 + sumBjC2)

	denominator := maxIndex - expectedIndex
	if math.Abs(denominator) < 1e-12 {
		return 1.0 // Perfect agreement (both are 0)
	}
	return (sumNijC2 - expectedIndex) / denominator
}

// VariationOfInformation computes the VI distance between two partitions:
// VI(C, C') = H(C|C') + H(C'|C). Lower is better; 0 = identical partitions.
func VariationOfInformation(a, b []int) float64 {
	n := len(a)
	if n != len(b) || n < 2 {
		return 0.0
	}

	nf := float64(n)
	nij, rowSums, colSums := contingency(a, b)

	vi := 0.0
	for i := range nij {
		for j := range nij[i] {
			if nij[i][j] == 0 {
				continue
			}
			pij := float64(nij[i][j]) / nf
			if colSums[j] > 0 {
				vi -= pij * math.Log2(float64(nij[i][j])/float64(colSums[j]))
			}
			if rowSums[i] > 0 {
				vi -= pij * math.Log2(float64(nij[i][j])/float64(rowSums[i]))
			}
		}
	}
	return vi
}

// comb2 computes C(n, 2) = n*(n-1)/2
func comb2(n int) float64 {
	if n < 2 {
		return 0
	}
	return float64(n) * float64(n-1) / 2.0
}
