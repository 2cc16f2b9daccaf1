package numeric

import (
	"fmt"

	"gonum.org/v1/gonum/interp"
)

// OversampledGrid returns the abscissae start, start+1/ratio, ... strictly
// below stop.
func OversampledGrid(start, stop float64, ratio int) []float64 {
	count := int((stop - start) * float64(ratio))
	if float64(count) < (stop-start)*float64(ratio) {
		count++
	}
	if count < 0 {
		count = 0
	}
	xs := make([]float64, count)
	for k := range xs {
		xs[k] = start + float64(k)/float64(ratio)
	}
	return xs
}

// CubicInterpolate fits a not-a-knot cubic spline through ys sampled at
// 0, 1, ..., len(ys)-1 and evaluates it at every xs.
func CubicInterpolate(ys, xs []float64) ([]float64, error) {
	if len(ys) < 4 {
		return nil, fmt.Errorf("cubic interpolation needs at least 4 samples, got %d", len(ys))
	}
	nodes := make([]float64, len(ys))
	for i := range nodes {
		nodes[i] = float64(i)
	}
	var spline interp.NotAKnotCubic
	if err := spline.Fit(nodes, ys); err != nil {
		return nil, fmt.Errorf("cubic interpolation: %w", err)
	}
	out := make([]float64, len(xs))
	for i, x := range xs {
		out[i] = spline.Predict(x)
	}
	return out, nil
}
