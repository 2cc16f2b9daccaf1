package numeric

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func TestMedian(t *testing.T) {
	tests := []struct {
		name string
		in   []float64
		want float64
	}{
		{"odd", []float64{3, 1, 2}, 2},
		{"even", []float64{4, 1, 3, 2}, 2.5},
		{"single", []float64{7}, 7},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Median(tt.in))
		})
	}
	assert.True(t, math.IsNaN(Median(nil)))
}

func TestMedianDoesNotMutateInput(t *testing.T) {
	in := []float64{3, 1, 2}
	Median(in)
	assert.Equal(t, []float64{3, 1, 2}, in)
}

func TestMedianMAD(t *testing.T) {
	med, mad := MedianMAD([]float64{1, 2, 3, 4, 100})
	assert.Equal(t, 3.0, med)
	// |x-3| = 2,1,0,1,97 -> median 1
	assert.InDelta(t, MADScale, mad, 1e-12)
}

func TestTensorMedianMAD(t *testing.T) {
	tt := NewTensor3(3, 2, 1)
	for i := 0; i < 3; i++ {
		tt.Set(i, 0, 0, float64(i))
		tt.Set(i, 1, 0, 10)
	}
	med, mad := TensorMedianMAD(tt)
	assert.Equal(t, []float64{1, 10}, med)
	assert.InDelta(t, MADScale, mad[0], 1e-12)
	assert.Equal(t, 0.0, mad[1])
}

func TestTensorMeanStd(t *testing.T) {
	tt := NewTensor3(2, 1, 1)
	tt.Set(0, 0, 0, 1)
	tt.Set(1, 0, 0, 3)
	mean, std := TensorMeanStd(tt)
	assert.Equal(t, []float64{2}, mean)
	assert.InDelta(t, 1.0, std[0], 1e-12)
}

func TestTensorSelectAndFlatten(t *testing.T) {
	tt := NewTensor3(3, 2, 2)
	for i := range tt.Data {
		tt.Data[i] = float64(i)
	}
	sel := tt.Select([]int{2, 0})
	require.Equal(t, 2, sel.N)
	assert.Equal(t, tt.Waveform(2), sel.Waveform(0))
	assert.Equal(t, tt.Waveform(0), sel.Waveform(1))

	masked := tt.SelectMask([]bool{false, true, false})
	assert.Equal(t, 1, masked.N)
	assert.Equal(t, tt.Waveform(1), masked.Waveform(0))

	flat := tt.Flatten()
	r, c := flat.Dims()
	assert.Equal(t, 3, r)
	assert.Equal(t, 4, c)
	assert.Equal(t, tt.At(1, 1, 0), flat.At(1, 2))

	assert.Nil(t, NewTensor3(0, 2, 2).Flatten())
}

func TestSetWaveformShapeMismatch(t *testing.T) {
	tt := NewTensor3(1, 3, 2)
	err := tt.SetWaveform(0, mat.NewDense(2, 2, nil))
	assert.Error(t, err)
	require.NoError(t, tt.SetWaveform(0, mat.NewDense(3, 2, []float64{1, 2, 3, 4, 5, 6})))
	assert.Equal(t, 6.0, tt.At(0, 2, 1))
}

func TestResamplePreservesSinusoid(t *testing.T) {
	const n, ratio = 32, 4
	x := mat.NewDense(n, 1, nil)
	for i := 0; i < n; i++ {
		x.Set(i, 0, math.Sin(2*math.Pi*3*float64(i)/n))
	}
	y, err := Resample(x, n*ratio)
	require.NoError(t, err)
	r, _ := y.Dims()
	require.Equal(t, n*ratio, r)
	for i := 0; i < n*ratio; i++ {
		want := math.Sin(2 * math.Pi * 3 * float64(i) / float64(n*ratio))
		assert.InDelta(t, want, y.At(i, 0), 1e-9, "sample %d", i)
	}
	// Every ratio-th sample lands back on the input.
	for i := 0; i < n; i++ {
		assert.InDelta(t, x.At(i, 0), y.At(i*ratio, 0), 1e-9)
	}
}

func TestResampleInvalid(t *testing.T) {
	_, err := Resample(mat.NewDense(4, 1, nil), 0)
	assert.Error(t, err)
}

func TestCubicInterpolateReproducesCubic(t *testing.T) {
	ys := make([]float64, 8)
	for i := range ys {
		x := float64(i)
		ys[i] = x*x*x - 2*x + 1
	}
	xs := []float64{0.5, 2.25, 6.9}
	got, err := CubicInterpolate(ys, xs)
	require.NoError(t, err)
	for i, x := range xs {
		assert.InDelta(t, x*x*x-2*x+1, got[i], 1e-8)
	}
	_, err = CubicInterpolate([]float64{1, 2}, xs)
	assert.Error(t, err)
}

func TestOversampledGrid(t *testing.T) {
	xs := OversampledGrid(1.5, 20-2.5, 20)
	assert.Len(t, xs, (20-4)*20)
	assert.Equal(t, 1.5, xs[0])
	assert.InDelta(t, 1.5+float64(len(xs)-1)/20, xs[len(xs)-1], 1e-12)
	assert.Less(t, xs[len(xs)-1], 17.5)
}

func TestCentralDifference(t *testing.T) {
	tt := NewTensor3(1, 5, 1)
	for s := 0; s < 5; s++ {
		tt.Set(0, s, 0, float64(s*s))
	}
	d := CentralDifference(tt)
	// interior: ((s+1)^2 - (s-1)^2)/2 = 2s
	for s := 1; s < 4; s++ {
		assert.Equal(t, float64(2*s), d.At(0, s, 0))
	}
	assert.Equal(t, 0.5, d.At(0, 0, 0))  // (1 - 0)/2
	assert.Equal(t, -4.5, d.At(0, 4, 0)) // (0 - 9)/2
}

func TestRMS(t *testing.T) {
	assert.InDelta(t, math.Sqrt(12.5), RMS([]float64{3, -4}), 1e-12)
	assert.True(t, math.IsNaN(RMS(nil)))
}
