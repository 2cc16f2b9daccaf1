// Package metrics computes the similarity matrices and silhouette scores
// used to spot merge candidates between spikes and clusters.
package metrics

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// CosineSimilarity returns the row-by-row cosine similarity of x. Rows of
// zero norm are orthogonal to everything; the diagonal is always 1.
func CosineSimilarity(x *mat.Dense) *mat.SymDense {
	n, _ := x.Dims()
	rows := make([][]float64, n)
	norms := make([]float64, n)
	for i := range rows {
		rows[i] = mat.Row(nil, i, x)
		norms[i] = floats.Norm(rows[i], 2)
	}
	sim := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		sim.SetSym(i, i, 1)
		for j := i + 1; j < n; j++ {
			var v float64
			if norms[i] > 0 && norms[j] > 0 {
				v = floats.Dot(rows[i], rows[j]) / (norms[i] * norms[j])
			}
			sim.SetSym(i, j, v)
		}
	}
	return sim
}

// CosineSimilarityWithMax divides the dot product by the larger of the two
// squared norms instead of their product, so it also penalizes a
// difference in amplitude: two templates equal up to a factor k score 1/k.
func CosineSimilarityWithMax(x *mat.Dense) *mat.SymDense {
	n, _ := x.Dims()
	rows := make([][]float64, n)
	sq := make([]float64, n)
	for i := range rows {
		rows[i] = mat.Row(nil, i, x)
		sq[i] = floats.Dot(rows[i], rows[i])
	}
	sim := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		sim.SetSym(i, i, 1)
		for j := i + 1; j < n; j++ {
			var v float64
			if m := math.Max(sq[i], sq[j]); m > 0 {
				v = floats.Dot(rows[i], rows[j]) / m
			}
			sim.SetSym(i, j, v)
		}
	}
	return sim
}

// Silhouette returns the per-row silhouette coefficient of x under labels,
// with euclidean distance. Rows alone in their label score 0. At least two
// distinct labels are required, and fewer labels than rows.
func Silhouette(x *mat.Dense, labels []int64) ([]float64, error) {
	n, _ := x.Dims()
	if len(labels) != n {
		return nil, fmt.Errorf("%d labels for %d rows", len(labels), n)
	}
	index := map[int64]int{}
	var sizes []int
	for _, l := range labels {
		if _, ok := index[l]; !ok {
			index[l] = len(sizes)
			sizes = append(sizes, 0)
		}
		sizes[index[l]]++
	}
	nl := len(sizes)
	if nl < 2 || nl > n-1 {
		return nil, fmt.Errorf("silhouette needs 2 <= n_labels <= n_samples-1, got %d labels for %d samples", nl, n)
	}

	rows := make([][]float64, n)
	for i := range rows {
		rows[i] = mat.Row(nil, i, x)
	}
	// sums[i][k] is the summed distance from row i to label k.
	sums := make([][]float64, n)
	for i := range sums {
		sums[i] = make([]float64, nl)
	}
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			d := floats.Distance(rows[i], rows[j], 2)
			sums[i][index[labels[j]]] += d
			sums[j][index[labels[i]]] += d
		}
	}

	out := make([]float64, n)
	for i := 0; i < n; i++ {
		own := index[labels[i]]
		if sizes[own] == 1 {
			continue
		}
		a := sums[i][own] / float64(sizes[own]-1)
		b := math.Inf(1)
		for k, s := range sums[i] {
			if k == own {
				continue
			}
			b = math.Min(b, s/float64(sizes[k]))
		}
		if m := math.Max(a, b); m > 0 {
			out[i] = (b - a) / m
		}
	}
	return out, nil
}

// PairsOverThreshold returns the label pairs (labels[i], labels[j]), i < j,
// whose similarity exceeds threshold.
func PairsOverThreshold(sim mat.Symmetric, labels []int64, threshold float64) ([][2]int64, error) {
	n := sim.SymmetricDim()
	if len(labels) != n {
		return nil, fmt.Errorf("%d labels for a %dx%d matrix", len(labels), n, n)
	}
	var pairs [][2]int64
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			if sim.At(i, j) > threshold {
				pairs = append(pairs, [2]int64{labels[i], labels[j]})
			}
		}
	}
	return pairs, nil
}
