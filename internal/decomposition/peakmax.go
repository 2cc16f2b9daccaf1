package decomposition

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/egaudrain/tridesclous/internal/numeric"
)

// PeakMax keeps, per channel, the value at the peak offset.
type PeakMax struct {
	shape
	peakIndex int
}

func fitPeakMax(wf numeric.Tensor3, p Params) (Projector, [][]bool, error) {
	if p.PeakIndex < 0 || p.PeakIndex >= wf.Width {
		return nil, nil, fmt.Errorf("peak_index %d outside window of width %d", p.PeakIndex, wf.Width)
	}
	chanMap := make([][]bool, wf.Channels)
	for c := range chanMap {
		chanMap[c] = make([]bool, wf.Channels)
		chanMap[c][c] = true
	}
	return &PeakMax{shape: shape{wf.Width, wf.Channels}, peakIndex: p.PeakIndex}, chanMap, nil
}

func (p *PeakMax) Transform(wf numeric.Tensor3) (*mat.Dense, error) {
	if err := p.check(wf); err != nil {
		return nil, err
	}
	if wf.Empty() {
		return nil, fmt.Errorf("no waveform to transform")
	}
	out := mat.NewDense(wf.N, wf.Channels, nil)
	for i := 0; i < wf.N; i++ {
		for c := 0; c < wf.Channels; c++ {
			out.Set(i, c, wf.At(i, p.peakIndex, c))
		}
	}
	return out, nil
}

func (p *PeakMax) NbFeature() int { return p.channels }
