package signal

import (
	"fmt"
	"slices"

	"gonum.org/v1/gonum/mat"

	"github.com/egaudrain/tridesclous/internal/numeric"
)

// IIRConditioner is a zero-phase Butterworth conditioner for streams.
//
// The forward pass runs causally across chunks with carried state. The
// backward pass runs on the previous LostfrontChunksize forward samples
// plus the new chunk, starting from zero state, and the newest
// LostfrontChunksize samples (not yet settled) are withheld until the next
// chunk. A sample keeps its raw index in the conditioned signal; the tail
// LostfrontChunksize samples of a stream are never emitted.
type IIRConditioner struct {
	sampleRate float64
	nbChannel  int
	chunkSize  int

	params   ConditioningParams
	sections []biquad
	forward  sosState
	tail     [][]float64
}

// NewIIRConditioner returns a conditioner with the default parameters.
func NewIIRConditioner(sampleRate float64, nbChannel, chunkSize int) *IIRConditioner {
	c := &IIRConditioner{sampleRate: sampleRate, nbChannel: nbChannel, chunkSize: chunkSize}
	c.params = DefaultConditioningParams()
	c.reset()
	return c
}

// ChangeParams validates p, redesigns the filter and resets stream state.
func (c *IIRConditioner) ChangeParams(p ConditioningParams) error {
	nyquist := c.sampleRate / 2
	if p.HighpassFreq < 0 || p.HighpassFreq >= nyquist {
		return fmt.Errorf("highpass_freq %g outside [0, %g)", p.HighpassFreq, nyquist)
	}
	if p.LowpassFreq < 0 || p.LowpassFreq >= nyquist {
		return fmt.Errorf("lowpass_freq %g outside [0, %g)", p.LowpassFreq, nyquist)
	}
	if p.HighpassFreq > 0 && p.LowpassFreq > 0 && p.LowpassFreq <= p.HighpassFreq {
		return fmt.Errorf("lowpass_freq %g must exceed highpass_freq %g", p.LowpassFreq, p.HighpassFreq)
	}
	if p.LostfrontChunksize < 0 || p.LostfrontChunksize >= c.chunkSize {
		return fmt.Errorf("lostfront_chunksize %d outside [0, %d)", p.LostfrontChunksize, c.chunkSize)
	}
	if p.SmoothSize < 0 {
		return fmt.Errorf("smooth_size %d must be >= 0", p.SmoothSize)
	}
	if p.Normalize {
		if len(p.SignalsMedians) != c.nbChannel || len(p.SignalsMads) != c.nbChannel {
			return fmt.Errorf("normalization needs %d medians and mads, got %d and %d",
				c.nbChannel, len(p.SignalsMedians), len(p.SignalsMads))
		}
		for ch, m := range p.SignalsMads {
			if !(m > 0) {
				return fmt.Errorf("mad of channel %d is %g, must be > 0", ch, m)
			}
		}
	}
	c.params = p
	c.params.SignalsMedians = slices.Clone(p.SignalsMedians)
	c.params.SignalsMads = slices.Clone(p.SignalsMads)
	c.reset()
	return nil
}

func (c *IIRConditioner) reset() {
	c.sections = c.sections[:0]
	if c.params.HighpassFreq > 0 {
		c.sections = append(c.sections, butterworthSections(c.params.HighpassFreq, c.sampleRate, true)...)
	}
	if c.params.LowpassFreq > 0 {
		c.sections = append(c.sections, butterworthSections(c.params.LowpassFreq, c.sampleRate, false)...)
	}
	c.forward = newSOSState(c.nbChannel, len(c.sections))
	c.tail = make([][]float64, c.nbChannel)
}

// ProcessChunk conditions one raw chunk ending at pos.
func (c *IIRConditioner) ProcessChunk(pos int, chunk *mat.Dense) (int, *mat.Dense, error) {
	n, nch := chunk.Dims()
	if nch != c.nbChannel {
		return 0, nil, fmt.Errorf("chunk has %d channels, want %d", nch, c.nbChannel)
	}
	lost := c.params.LostfrontChunksize
	pos2 := pos - lost

	cols := make([][]float64, nch)
	for ch := 0; ch < nch; ch++ {
		x := mat.Col(nil, ch, chunk)
		if len(c.sections) > 0 {
			filterColumn(c.sections, c.forward[ch], x)
		}
		buf := make([]float64, 0, len(c.tail[ch])+n)
		buf = append(buf, c.tail[ch]...)
		buf = append(buf, x...)

		keep := min(lost, len(buf))
		c.tail[ch] = slices.Clone(buf[len(buf)-keep:])

		if len(c.sections) > 0 {
			slices.Reverse(buf)
			filterColumn(c.sections, newSOSState(1, len(c.sections))[0], buf)
			slices.Reverse(buf)
		}
		cols[ch] = buf[:len(buf)-keep]
	}

	outLen := len(cols[0])
	if outLen == 0 {
		return pos2, nil, nil
	}
	out := mat.NewDense(outLen, nch, nil)
	for ch, col := range cols {
		if c.params.SmoothSize > 1 {
			col = boxSmooth(col, c.params.SmoothSize)
		}
		if c.params.Normalize {
			med, mad := c.params.SignalsMedians[ch], c.params.SignalsMads[ch]
			for i := range col {
				col[i] = (col[i] - med) / mad
			}
		}
		out.SetCol(ch, col)
	}
	if c.params.CommonRefRemoval && nch > 1 {
		row := make([]float64, nch)
		for i := 0; i < outLen; i++ {
			mat.Row(row, i, out)
			ref := numeric.Median(row)
			for ch := range row {
				row[ch] -= ref
			}
			out.SetRow(i, row)
		}
	}
	return pos2, out, nil
}

// boxSmooth is a centered moving average with the window clamped at the
// chunk edges.
func boxSmooth(x []float64, size int) []float64 {
	half := size / 2
	out := make([]float64, len(x))
	for i := range x {
		lo, hi := max(0, i-half), min(len(x), i-half+size)
		var sum float64
		for _, v := range x[lo:hi] {
			sum += v
		}
		out[i] = sum / float64(hi-lo)
	}
	return out
}

// Verify at compile time that *IIRConditioner implements Conditioner.
var _ Conditioner = (*IIRConditioner)(nil)
