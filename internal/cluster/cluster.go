// Package cluster assigns a label per feature row. Labels are dense and
// non-negative; NoiseLabel marks rows an algorithm refuses to assign.
package cluster

import (
	"errors"
	"fmt"
	"sort"

	"gonum.org/v1/gonum/mat"
)

// NoiseLabel is returned for rows left out of every cluster.
const NoiseLabel int64 = -1

// ErrUnknownMethod is returned for an unregistered method name.
var ErrUnknownMethod = errors.New("unknown clustering method")

// Clusterer abstracts the clustering implementation so the catalogue can
// swap algorithms by name.
type Clusterer interface {
	// FitPredict returns one label per row of features.
	FitPredict(features *mat.Dense) ([]int64, error)

	GetParams() Params
	SetParams(p Params)
}

// Params holds clustering algorithm parameters. These are intentionally
// generic; each algorithm reads its own fields.
type Params struct {
	NClusters int     `json:"n_clusters,omitempty"` // kmeans
	NInit     int     `json:"n_init,omitempty"`     // kmeans restarts
	MaxIter   int     `json:"max_iter,omitempty"`   // kmeans
	Eps       float64 `json:"eps,omitempty"`        // dbscan neighbourhood radius
	MinPts    int     `json:"min_pts,omitempty"`    // dbscan core size
	Seed      uint64  `json:"seed,omitempty"`
}

var methods = map[string]func(Params) Clusterer{
	"kmeans": func(p Params) Clusterer { return NewKMeans(p) },
	"dbscan": func(p Params) Clusterer { return NewDBSCAN(p) },
}

// New instantiates a registered clusterer.
func New(method string, p Params) (Clusterer, error) {
	f, ok := methods[method]
	if !ok {
		return nil, fmt.Errorf("%q: %w", method, ErrUnknownMethod)
	}
	return f(p), nil
}

// Methods lists the registered method names.
func Methods() []string {
	names := make([]string, 0, len(methods))
	for k := range methods {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// relabelBySize renumbers non-negative labels 0..k-1 by descending
// population, ties broken by first occurrence, so output does not depend
// on internal cluster numbering.
func relabelBySize(labels []int64) []int64 {
	count := map[int64]int{}
	first := map[int64]int{}
	var keys []int64
	for i, l := range labels {
		if l < 0 {
			continue
		}
		if _, ok := count[l]; !ok {
			first[l] = i
			keys = append(keys, l)
		}
		count[l]++
	}
	sort.SliceStable(keys, func(a, b int) bool {
		if count[keys[a]] != count[keys[b]] {
			return count[keys[a]] > count[keys[b]]
		}
		return first[keys[a]] < first[keys[b]]
	})
	remap := make(map[int64]int64, len(keys))
	for i, k := range keys {
		remap[k] = int64(i)
	}
	out := make([]int64, len(labels))
	for i, l := range labels {
		if l < 0 {
			out[i] = NoiseLabel
			continue
		}
		out[i] = remap[l]
	}
	return out
}

func rows(features *mat.Dense) [][]float64 {
	n, _ := features.Dims()
	out := make([][]float64, n)
	for i := range out {
		out[i] = mat.Row(nil, i, features)
	}
	return out
}
