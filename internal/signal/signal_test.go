package signal

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

// streamConditioner feeds x in fixed chunks and stitches the output back
// together at the returned positions.
func streamConditioner(t *testing.T, c Conditioner, x *mat.Dense, chunkSize int) *mat.Dense {
	t.Helper()
	n, nch := x.Dims()
	out := mat.NewDense(n, nch, nil)
	for pos := chunkSize; pos <= n; pos += chunkSize {
		chunk := mat.DenseCopyOf(x.Slice(pos-chunkSize, pos, 0, nch))
		pos2, y, err := c.ProcessChunk(pos, chunk)
		require.NoError(t, err)
		if y == nil {
			continue
		}
		r, _ := y.Dims()
		out.Slice(pos2-r, pos2, 0, nch).(*mat.Dense).Copy(y)
	}
	return out
}

func TestRegistries(t *testing.T) {
	assert.Equal(t, []string{"iir"}, ConditionerEngines())
	assert.Equal(t, []string{"threshold"}, DetectorEngines())

	_, err := NewConditioner("neuromorphic", 1000, 1, 64)
	assert.ErrorIs(t, err, ErrUnknownEngine)
	_, err = NewDetector("wavelet", 1000, 1, 64)
	assert.ErrorIs(t, err, ErrUnknownEngine)

	c, err := NewConditioner("iir", 1000, 2, 64)
	require.NoError(t, err)
	assert.NotNil(t, c)
}

func TestConditionerPositionsWithoutFilter(t *testing.T) {
	const chunk, lost = 100, 20
	c := NewIIRConditioner(10000, 1, chunk)
	require.NoError(t, c.ChangeParams(ConditioningParams{LostfrontChunksize: lost}))

	var positions []int
	var lengths []int
	for pos := chunk; pos <= 3*chunk; pos += chunk {
		x := mat.NewDense(chunk, 1, nil)
		for i := 0; i < chunk; i++ {
			x.Set(i, 0, float64(pos-chunk+i))
		}
		pos2, y, err := c.ProcessChunk(pos, x)
		require.NoError(t, err)
		r, _ := y.Dims()
		positions = append(positions, pos2)
		lengths = append(lengths, r)
		// Sample values equal their raw index.
		assert.Equal(t, float64(pos2-r), y.At(0, 0))
		assert.Equal(t, float64(pos2-1), y.At(r-1, 0))
	}
	assert.Equal(t, []int{80, 180, 280}, positions)
	assert.Equal(t, []int{80, 100, 100}, lengths)
}

func TestHighpassRemovesOffset(t *testing.T) {
	const n, chunk = 1024, 256
	x := mat.NewDense(n, 2, nil)
	for i := 0; i < n; i++ {
		x.Set(i, 0, 5)
		x.Set(i, 1, -3)
	}
	c := NewIIRConditioner(10000, 2, chunk)
	p := DefaultConditioningParams()
	p.LostfrontChunksize = 64
	require.NoError(t, c.ChangeParams(p))

	y := streamConditioner(t, c, x, chunk)
	for i := 600; i < n-64; i++ {
		assert.InDelta(t, 0, y.At(i, 0), 1e-6)
		assert.InDelta(t, 0, y.At(i, 1), 1e-6)
	}
}

func TestHighpassKeepsPassbandZeroPhase(t *testing.T) {
	const fs, n, chunk = 10000.0, 4096, 512
	x := mat.NewDense(n, 1, nil)
	for i := 0; i < n; i++ {
		x.Set(i, 0, math.Sin(2*math.Pi*1000*float64(i)/fs))
	}
	c := NewIIRConditioner(fs, 1, chunk)
	p := DefaultConditioningParams()
	require.NoError(t, c.ChangeParams(p))

	y := streamConditioner(t, c, x, chunk)
	for i := 2000; i < 3000; i++ {
		assert.InDelta(t, x.At(i, 0), y.At(i, 0), 1e-2, "sample %d", i)
	}
}

func TestNormalizeAndCommonReference(t *testing.T) {
	c := NewIIRConditioner(1000, 3, 4)
	require.NoError(t, c.ChangeParams(ConditioningParams{
		Normalize:      true,
		SignalsMedians: []float64{1, 2, 0},
		SignalsMads:    []float64{1, 1, 2},
	}))
	x := mat.NewDense(4, 3, []float64{
		2, 4, 20,
		2, 4, 20,
		2, 4, 20,
		2, 4, 20,
	})
	_, y, err := c.ProcessChunk(4, x)
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 2, 10}, mat.Row(nil, 0, y))

	c2 := NewIIRConditioner(1000, 3, 4)
	require.NoError(t, c2.ChangeParams(ConditioningParams{
		Normalize:        true,
		CommonRefRemoval: true,
		SignalsMedians:   []float64{1, 2, 0},
		SignalsMads:      []float64{1, 1, 2},
	}))
	_, y, err = c2.ProcessChunk(4, x)
	require.NoError(t, err)
	assert.Equal(t, []float64{-1, 0, 8}, mat.Row(nil, 3, y))
}

func TestBoxSmooth(t *testing.T) {
	got := boxSmooth([]float64{0, 0, 3, 0, 0}, 3)
	assert.Equal(t, []float64{0, 1, 1, 1, 0}, got)
}

func TestConditionerChangeParamsValidation(t *testing.T) {
	tests := []struct {
		name string
		p    ConditioningParams
	}{
		{"highpass above nyquist", ConditioningParams{HighpassFreq: 600}},
		{"lowpass below highpass", ConditioningParams{HighpassFreq: 300, LowpassFreq: 200}},
		{"lostfront too large", ConditioningParams{LostfrontChunksize: 64}},
		{"negative smooth", ConditioningParams{SmoothSize: -1}},
		{"missing mads", ConditioningParams{Normalize: true, SignalsMedians: []float64{0}}},
		{"zero mad", ConditioningParams{Normalize: true, SignalsMedians: []float64{0}, SignalsMads: []float64{0}}},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			c := NewIIRConditioner(1000, 1, 64)
			assert.Error(t, c.ChangeParams(tt.p))
		})
	}
}

func spikeTrain(n, nch int, spikes map[int]float64) *mat.Dense {
	x := mat.NewDense(n, nch, nil)
	for i, v := range spikes {
		x.Set(i, nch-1, v)
	}
	return x
}

func detectAll(t *testing.T, d Detector, x *mat.Dense, chunk int) []int64 {
	t.Helper()
	n, nch := x.Dims()
	var all []int64
	for pos := chunk; pos <= n; pos += chunk {
		peaks, err := d.ProcessChunk(pos, mat.DenseCopyOf(x.Slice(pos-chunk, pos, 0, nch)))
		require.NoError(t, err)
		all = append(all, peaks...)
	}
	return all
}

func TestThresholdDetector(t *testing.T) {
	tests := []struct {
		name   string
		sign   string
		spikes map[int]float64
		want   []int64
	}{
		{"single negative", "-", map[int]float64{300: -10}, []int64{300}},
		{"across chunk boundary", "-", map[int]float64{511: -10, 512: -4}, []int64{511}},
		{"close events merge", "-", map[int]float64{500: -10, 501: -9}, []int64{500}},
		{"plateau keeps first", "-", map[int]float64{700: -10, 701: -10}, []int64{700}},
		{"below threshold", "-", map[int]float64{300: -4}, nil},
		{"positive ignores negative", "+", map[int]float64{300: -10, 800: 12}, []int64{800}},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			d := NewThresholdDetector(10000, 2, 512)
			require.NoError(t, d.ChangeParams(DetectionParams{
				PeakSign: tt.sign, RelativeThreshold: 5, PeakSpan: 0.0002,
			}))
			assert.Equal(t, 1, d.nSpan)
			got := detectAll(t, d, spikeTrain(2048, 2, tt.spikes), 512)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNewThresholdDetectorUsesDefaults(t *testing.T) {
	var d *ThresholdDetector
	require.NotPanics(t, func() { d = NewThresholdDetector(30000, 4, 1024) })
	assert.Equal(t, DefaultDetectionParams(), d.params)
	assert.Equal(t, max(1, int(30000*DefaultDetectionParams().PeakSpan)/2), d.nSpan)
	assert.Empty(t, d.fifo)
}

func TestThresholdDetectorPeakSpan(t *testing.T) {
	d := NewThresholdDetector(10000, 1, 256)
	require.NoError(t, d.ChangeParams(DetectionParams{PeakSign: "-", RelativeThreshold: 5, PeakSpan: 0.001}))
	assert.Equal(t, 5, d.nSpan)

	got := detectAll(t, d, spikeTrain(1024, 1, map[int]float64{100: -8, 104: -10, 120: -9}), 256)
	assert.Equal(t, []int64{104, 120}, got)
}

func TestThresholdDetectorResetOnChangeParams(t *testing.T) {
	d := NewThresholdDetector(10000, 1, 4)
	p := DetectionParams{PeakSign: "-", RelativeThreshold: 5, PeakSpan: 0.0002}
	require.NoError(t, d.ChangeParams(p))

	// The spike sits on the last sample: it needs the next chunk to settle.
	peaks, err := d.ProcessChunk(4, mat.NewDense(4, 1, []float64{0, 0, 0, -10}))
	require.NoError(t, err)
	assert.Empty(t, peaks)

	require.NoError(t, d.ChangeParams(p))
	peaks, err = d.ProcessChunk(4, mat.NewDense(4, 1, []float64{0, 0, 0, 0}))
	require.NoError(t, err)
	assert.Empty(t, peaks)
}

func TestDetectorChangeParamsValidation(t *testing.T) {
	d := NewThresholdDetector(10000, 1, 64)
	assert.Error(t, d.ChangeParams(DetectionParams{PeakSign: "~", RelativeThreshold: 5}))
	assert.Error(t, d.ChangeParams(DetectionParams{PeakSign: "-", RelativeThreshold: 0}))
	assert.Error(t, d.ChangeParams(DetectionParams{PeakSign: "-", RelativeThreshold: 5, PeakSpan: -1}))
}
