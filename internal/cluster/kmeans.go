package cluster

import (
	"fmt"
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// KMeans is Lloyd's algorithm with k-means++ seeding, keeping the best of
// NInit restarts by inertia.
type KMeans struct {
	params Params
}

// NewKMeans returns a k-means clusterer; zero NInit/MaxIter take defaults.
func NewKMeans(p Params) *KMeans {
	return &KMeans{params: p}
}

// GetParams returns the current parameters.
func (k *KMeans) GetParams() Params { return k.params }

// SetParams replaces the parameters used by the next fit.
func (k *KMeans) SetParams(p Params) { k.params = p }

// FitPredict clusters the rows of features into NClusters groups and
// returns one label per row, 0 for the most populated group. Seed makes
// the result reproducible.
func (k *KMeans) FitPredict(features *mat.Dense) ([]int64, error) {
	nc := k.params.NClusters
	if nc <= 0 {
		return nil, fmt.Errorf("n_clusters must be > 0, got %d", nc)
	}
	pts := rows(features)
	if len(pts) < nc {
		return nil, fmt.Errorf("n_clusters %d exceeds sample count %d", nc, len(pts))
	}
	nInit := k.params.NInit
	if nInit <= 0 {
		nInit = 10
	}
	maxIter := k.params.MaxIter
	if maxIter <= 0 {
		maxIter = 300
	}
	rng := rand.New(rand.NewPCG(k.params.Seed, 0x7464632d6b6d))

	var best []int64
	bestInertia := math.Inf(1)
	for run := 0; run < nInit; run++ {
		centers := seedPlusPlus(pts, nc, rng)
		labels, inertia := lloyd(pts, centers, maxIter)
		if inertia < bestInertia {
			bestInertia = inertia
			best = labels
		}
	}
	return relabelBySize(best), nil
}

// seedPlusPlus draws k initial centers, each with probability proportional
// to its squared distance from the nearest center already chosen.
func seedPlusPlus(pts [][]float64, k int, rng *rand.Rand) [][]float64 {
	centers := make([][]float64, 0, k)
	centers = append(centers, append([]float64(nil), pts[rng.IntN(len(pts))]...))
	d2 := make([]float64, len(pts))
	for len(centers) < k {
		var total float64
		for i, p := range pts {
			d := nearestDist(p, centers)
			d2[i] = d * d
			total += d2[i]
		}
		next := 0
		if total > 0 {
			target := rng.Float64() * total
			for i, v := range d2 {
				target -= v
				if target <= 0 {
					next = i
					break
				}
			}
		} else {
			next = rng.IntN(len(pts))
		}
		centers = append(centers, append([]float64(nil), pts[next]...))
	}
	return centers
}

func nearestDist(p []float64, centers [][]float64) float64 {
	best := math.Inf(1)
	for _, c := range centers {
		best = math.Min(best, floats.Distance(p, c, 2))
	}
	return best
}

func lloyd(pts [][]float64, centers [][]float64, maxIter int) ([]int64, float64) {
	labels := make([]int64, len(pts))
	for i := range labels {
		labels[i] = -1
	}
	dim := len(pts[0])
	var inertia float64
	for iter := 0; iter < maxIter; iter++ {
		changed := false
		inertia = 0
		for i, p := range pts {
			bestK, bestD := 0, math.Inf(1)
			for k, c := range centers {
				if d := floats.Distance(p, c, 2); d < bestD {
					bestK, bestD = k, d
				}
			}
			if labels[i] != int64(bestK) {
				labels[i] = int64(bestK)
				changed = true
			}
			inertia += bestD * bestD
		}
		if !changed {
			break
		}
		counts := make([]int, len(centers))
		sums := make([][]float64, len(centers))
		for k := range sums {
			sums[k] = make([]float64, dim)
		}
		for i, p := range pts {
			floats.Add(sums[labels[i]], p)
			counts[labels[i]]++
		}
		for k := range centers {
			// An emptied cluster keeps its previous center.
			if counts[k] == 0 {
				continue
			}
			floats.Scale(1/float64(counts[k]), sums[k])
			centers[k] = sums[k]
		}
	}
	return labels, inertia
}

// Verify at compile time that *KMeans implements Clusterer.
var _ Clusterer = (*KMeans)(nil)
