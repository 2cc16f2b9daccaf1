package signal

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// ThresholdDetector finds local extrema of the rectified multi-channel
// signal above a fixed threshold. The rectified signal is, per sample, the
// largest value over channels after flipping the sign for negative
// detection. A sample is a peak when it exceeds the threshold, is strictly
// larger than the n_span samples before it and at least as large as the
// n_span samples after it, which merges events closer than peak_span.
type ThresholdDetector struct {
	sampleRate float64
	nbChannel  int
	chunkSize  int

	params DetectionParams
	sign   float64
	nSpan  int
	fifo   []float64
}

// NewThresholdDetector returns a detector with the default parameters.
func NewThresholdDetector(sampleRate float64, nbChannel, chunkSize int) *ThresholdDetector {
	d := &ThresholdDetector{sampleRate: sampleRate, nbChannel: nbChannel, chunkSize: chunkSize}
	if err := d.ChangeParams(DefaultDetectionParams()); err != nil {
		panic("signal: invalid default detection params: " + err.Error())
	}
	return d
}

// ChangeParams validates p and clears the lookbehind buffer.
func (d *ThresholdDetector) ChangeParams(p DetectionParams) error {
	switch p.PeakSign {
	case "-":
		d.sign = -1
	case "+":
		d.sign = 1
	default:
		return fmt.Errorf("peak_sign %q must be \"-\" or \"+\"", p.PeakSign)
	}
	if !(p.RelativeThreshold > 0) {
		return fmt.Errorf("relative_threshold %g must be > 0", p.RelativeThreshold)
	}
	if p.PeakSpan < 0 {
		return fmt.Errorf("peak_span %g must be >= 0", p.PeakSpan)
	}
	d.params = p
	d.nSpan = max(1, int(d.sampleRate*p.PeakSpan)/2)
	d.fifo = d.fifo[:0]
	return nil
}

// ProcessChunk returns the peaks settled by a conditioned chunk ending at
// pos. Peaks within n_span of the chunk end are reported with the next chunk.
func (d *ThresholdDetector) ProcessChunk(pos int, chunk *mat.Dense) ([]int64, error) {
	n, nch := chunk.Dims()
	if nch != d.nbChannel {
		return nil, fmt.Errorf("chunk has %d channels, want %d", nch, d.nbChannel)
	}

	buf := make([]float64, 0, len(d.fifo)+n)
	buf = append(buf, d.fifo...)
	for i := 0; i < n; i++ {
		v := math.Inf(-1)
		for ch := 0; ch < nch; ch++ {
			v = math.Max(v, d.sign*chunk.At(i, ch))
		}
		buf = append(buf, v)
	}
	// Global index of buf[0].
	origin := pos - len(buf)

	var peaks []int64
	span := d.nSpan
	for j := span; j < len(buf)-span; j++ {
		v := buf[j]
		if v <= d.params.RelativeThreshold {
			continue
		}
		if isLocalPeak(buf, j, span) {
			peaks = append(peaks, int64(origin+j))
		}
	}

	keep := min(2*span, len(buf))
	d.fifo = append(d.fifo[:0], buf[len(buf)-keep:]...)
	return peaks, nil
}

func isLocalPeak(x []float64, j, span int) bool {
	for k := 1; k <= span; k++ {
		if x[j] <= x[j-k] || x[j] < x[j+k] {
			return false
		}
	}
	return true
}

// Verify at compile time that *ThresholdDetector implements Detector.
var _ Detector = (*ThresholdDetector)(nil)
