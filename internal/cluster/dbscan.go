package cluster

import (
	"fmt"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// DBSCAN is density-based clustering over feature rows: a row with at
// least MinPts rows (itself included) within Eps is a core row, clusters
// grow through core rows, and rows reachable from no core row are noise.
type DBSCAN struct {
	params Params
}

// NewDBSCAN returns a DBSCAN clusterer.
func NewDBSCAN(p Params) *DBSCAN {
	return &DBSCAN{params: p}
}

func (c *DBSCAN) GetParams() Params  { return c.params }
func (c *DBSCAN) SetParams(p Params) { c.params = p }

// FitPredict labels density-connected rows 0..k-1 by descending population
// and returns -1 for noise rows.
func (c *DBSCAN) FitPredict(features *mat.Dense) ([]int64, error) {
	if !(c.params.Eps > 0) {
		return nil, fmt.Errorf("eps must be > 0, got %g", c.params.Eps)
	}
	if c.params.MinPts <= 0 {
		return nil, fmt.Errorf("min_pts must be > 0, got %d", c.params.MinPts)
	}
	pts := rows(features)
	n := len(pts)
	labels := make([]int, n) // 0=unvisited, -1=noise, >0=clusterID
	clusterID := 0

	for i := 0; i < n; i++ {
		if labels[i] != 0 {
			continue
		}
		neighbors := regionQuery(pts, i, c.params.Eps)
		if len(neighbors) < c.params.MinPts {
			labels[i] = -1
			continue
		}
		clusterID++
		expandCluster(pts, labels, i, neighbors, clusterID, c.params.Eps, c.params.MinPts)
	}

	out := make([]int64, n)
	for i, l := range labels {
		out[i] = int64(l - 1)
		if l < 0 {
			out[i] = NoiseLabel
		}
	}
	return relabelBySize(out), nil
}

func expandCluster(pts [][]float64, labels []int, seedIdx int, neighbors []int, clusterID int, eps float64, minPts int) {
	labels[seedIdx] = clusterID

	for j := 0; j < len(neighbors); j++ {
		idx := neighbors[j]

		if labels[idx] == -1 {
			labels[idx] = clusterID // noise becomes border
		}
		if labels[idx] != 0 {
			continue
		}

		labels[idx] = clusterID
		newNeighbors := regionQuery(pts, idx, eps)
		if len(newNeighbors) >= minPts {
			neighbors = append(neighbors, newNeighbors...)
		}
	}
}

// regionQuery returns every row within eps of row i, i included.
func regionQuery(pts [][]float64, i int, eps float64) []int {
	var out []int
	for j, p := range pts {
		if floats.Distance(pts[i], p, 2) <= eps {
			out = append(out, j)
		}
	}
	return out
}

// Verify at compile time that *DBSCAN implements Clusterer.
var _ Clusterer = (*DBSCAN)(nil)
