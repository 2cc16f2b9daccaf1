package numeric

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"
)

// MADScale converts a median absolute deviation into a Gaussian-consistent
// estimate of the standard deviation.
const MADScale = 1.4826

// Median returns the median of x, averaging the two central values for an
// even length. x is not modified. The median of an empty slice is NaN.
func Median(x []float64) float64 {
	if len(x) == 0 {
		return math.NaN()
	}
	buf := make([]float64, len(x))
	copy(buf, x)
	return medianInPlace(buf)
}

func medianInPlace(buf []float64) float64 {
	sort.Float64s(buf)
	n := len(buf)
	if n%2 == 1 {
		return buf[n/2]
	}
	return 0.5 * (buf[n/2-1] + buf[n/2])
}

// MedianMAD returns the median of x and its scaled median absolute deviation.
func MedianMAD(x []float64) (median, mad float64) {
	if len(x) == 0 {
		return math.NaN(), math.NaN()
	}
	buf := make([]float64, len(x))
	copy(buf, x)
	median = medianInPlace(buf)
	for i, v := range x {
		buf[i] = math.Abs(v - median)
	}
	mad = medianInPlace(buf) * MADScale
	return median, mad
}

// TensorMedianMAD reduces a tensor over its first axis, returning the
// per-(offset, channel) median and scaled MAD as flattened Width*Channels
// slices.
func TensorMedianMAD(t Tensor3) (median, mad []float64) {
	st := t.Stride()
	median = make([]float64, st)
	mad = make([]float64, st)
	col := make([]float64, t.N)
	for k := 0; k < st; k++ {
		for i := 0; i < t.N; i++ {
			col[i] = t.Data[i*st+k]
		}
		median[k], mad[k] = MedianMAD(col)
	}
	return median, mad
}

// TensorMedian reduces a tensor over its first axis with the median.
func TensorMedian(t Tensor3) []float64 {
	st := t.Stride()
	out := make([]float64, st)
	col := make([]float64, t.N)
	for k := 0; k < st; k++ {
		for i := 0; i < t.N; i++ {
			col[i] = t.Data[i*st+k]
		}
		out[k] = medianInPlace(col)
	}
	return out
}

// TensorMeanStd reduces a tensor over its first axis with the mean and the
// population standard deviation.
func TensorMeanStd(t Tensor3) (mean, std []float64) {
	st := t.Stride()
	mean = make([]float64, st)
	std = make([]float64, st)
	col := make([]float64, t.N)
	for k := 0; k < st; k++ {
		for i := 0; i < t.N; i++ {
			col[i] = t.Data[i*st+k]
		}
		mean[k], std[k] = stat.PopMeanStdDev(col, nil)
	}
	return mean, std
}

// RMS is the root mean square of x.
func RMS(x []float64) float64 {
	if len(x) == 0 {
		return math.NaN()
	}
	var s float64
	for _, v := range x {
		s += v * v
	}
	return math.Sqrt(s / float64(len(x)))
}
