package catalogue

import (
	"fmt"
	"slices"

	"gonum.org/v1/gonum/mat"

	"github.com/egaudrain/tridesclous/internal/arraystore"
	"github.com/egaudrain/tridesclous/internal/dataio"
	"github.com/egaudrain/tridesclous/internal/monitoring"
	"github.com/egaudrain/tridesclous/internal/numeric"
)

// ExtractSomeWaveforms cuts the window [index+NLeft, index+NRight) of the
// conditioned signal around a sample of peaks and makes it the working
// waveform sample. Peaks whose window leaves the conditioned signal are
// left out. A fitted projector is re-applied to the new sample; when it no
// longer fits, features are cleared.
func (c *Constructor) ExtractSomeWaveforms(p WaveformParams) error {
	return c.stage("extract_some_waveforms", p, func() error {
		return c.extractSomeWaveforms(p)
	})
}

func (c *Constructor) extractSomeWaveforms(p WaveformParams) error {
	if c.allPeaks == nil {
		return fmt.Errorf("%w: no peak table, run detection first", ErrPrecondition)
	}
	if len(c.info.ProcessedLength) == 0 {
		return fmt.Errorf("%w: no conditioned signal, run the signal processor first", ErrPrecondition)
	}
	w, err := c.resolveWaveformParams(p)
	if err != nil {
		return err
	}

	index, err := c.selectPeaks(p.Index, w)
	if err != nil {
		return err
	}
	index = c.keepInBounds(index, w)

	width := w.Width()
	wf := numeric.NewTensor3(len(index), width, c.src.NbChannel())
	for i, row := range index {
		pk := c.allPeaks[row]
		var win *mat.Dense
		if w.AlignWaveform {
			win, err = c.alignedWindow(pk, w)
		} else {
			start := int(pk.Index) + w.NLeft
			win, err = c.src.ReadChunk(int(pk.Segment), start, start+width, dataio.SignalProcessed)
		}
		if err != nil {
			return fmt.Errorf("peak %d: %w", row, err)
		}
		if err := wf.SetWaveform(i, win); err != nil {
			return err
		}
	}

	if err := arraystore.Save(c.store, arrSomePeaksIndex, index); err != nil {
		return err
	}
	if err := saveTensor(c.store, arrSomeWaveforms, wf); err != nil {
		return err
	}
	if err := putInfo(c.store, infoWaveforms, w); err != nil {
		return err
	}
	c.somePeaksIndex, c.someWaveforms = index, wf
	c.info.Waveforms = &w
	if err := c.bump(false, true, false); err != nil {
		return err
	}
	monitoring.Diagf("catalogue: extracted %d waveforms [%d, %d) align=%v", wf.N, w.NLeft, w.NRight, w.AlignWaveform)

	if c.someNoiseSnippet.N > 0 && c.someNoiseSnippet.Width != width {
		monitoring.Opsf("catalogue: noise snippets of width %d dropped, window is now %d", c.someNoiseSnippet.Width, width)
		if err := c.clearNoise(); err != nil {
			return err
		}
	}
	return c.refreshFeatures()
}

func (c *Constructor) resolveWaveformParams(p WaveformParams) (WaveformInfo, error) {
	w := WaveformInfo{
		NLeft:          p.NLeft,
		NRight:         p.NRight,
		Mode:           p.Mode,
		NbMax:          p.NbMax,
		AlignWaveform:  p.Align,
		SubsampleRatio: p.SubsampleRatio,
	}
	if w.NLeft == 0 && w.NRight == 0 {
		if c.info.Waveforms == nil {
			return w, fmt.Errorf("%w: no window given and none persisted", ErrPrecondition)
		}
		w.NLeft, w.NRight = c.info.Waveforms.NLeft, c.info.Waveforms.NRight
	}
	if w.Mode == "" {
		w.Mode = ModeRand
	}
	if w.NbMax <= 0 {
		w.NbMax = DefaultNbMax
	}
	if w.SubsampleRatio <= 0 {
		w.SubsampleRatio = DefaultSubsampleRatio
	}
	if w.NRight <= w.NLeft {
		return w, fmt.Errorf("%w: empty window [%d, %d)", ErrUnsupported, w.NLeft, w.NRight)
	}
	if w.AlignWaveform && w.Width() < 3 {
		return w, fmt.Errorf("%w: alignment needs a window of at least 3 samples, got %d", ErrUnsupported, w.Width())
	}
	if p.Index == nil && w.Mode != ModeRand && w.Mode != ModeAll {
		return w, fmt.Errorf("%w: extraction mode %q", ErrUnsupported, w.Mode)
	}
	return w, nil
}

// selectPeaks returns the sorted, de-duplicated peak rows to extract.
func (c *Constructor) selectPeaks(explicit []int64, w WaveformInfo) ([]int64, error) {
	n := len(c.allPeaks)
	if explicit != nil {
		index := slices.Clone(explicit)
		slices.Sort(index)
		index = slices.Compact(index)
		if len(index) > 0 && (index[0] < 0 || index[len(index)-1] >= int64(n)) {
			return nil, fmt.Errorf("%w: peak rows must be in [0, %d)", ErrUnsupported, n)
		}
		return index, nil
	}
	var index []int64
	if w.Mode == ModeRand && n > w.NbMax {
		for _, r := range c.rng.Perm(n)[:w.NbMax] {
			index = append(index, int64(r))
		}
		slices.Sort(index)
		return index, nil
	}
	index = make([]int64, n)
	for i := range index {
		index[i] = int64(i)
	}
	return index, nil
}

// keepInBounds drops peaks whose (padded when aligning) window leaves the
// conditioned part of their segment.
func (c *Constructor) keepInBounds(index []int64, w WaveformInfo) []int64 {
	lo, hi := w.NLeft, w.NRight
	if w.AlignWaveform {
		lo -= w.Width()
		hi += w.Width()
	}
	kept := index[:0:0]
	for _, row := range index {
		pk := c.allPeaks[row]
		i := int(pk.Index)
		if i+lo >= 0 && i+hi <= c.conditionedLength(int(pk.Segment)) {
			kept = append(kept, row)
		}
	}
	if dropped := len(index) - len(kept); dropped > 0 {
		monitoring.Diagf("catalogue: %d peaks too close to a segment edge left out of the sample", dropped)
	}
	return kept
}

// alignedWindow re-cuts the window around the sub-sample extremum of the
// channel that is extremal at the nominal peak offset.
func (c *Constructor) alignedWindow(pk Peak, w WaveformInfo) (*mat.Dense, error) {
	width, ratio := w.Width(), w.SubsampleRatio
	start := int(pk.Index) + w.NLeft - width
	wide, err := c.src.ReadChunk(int(pk.Segment), start, start+3*width, dataio.SignalProcessed)
	if err != nil {
		return nil, err
	}
	fine, err := numeric.Resample(wide, 3*width*ratio)
	if err != nil {
		return nil, err
	}
	nFine, nch := fine.Dims()

	peakRow := (width - w.NLeft) * ratio
	lo := max(peakRow-2*ratio, 0)
	hi := min(peakRow+3*ratio, nFine)

	sign := 1.0
	if c.info.Detection != nil && c.info.Detection.PeakSign == "-" {
		sign = -1
	}
	best, bestVal := 0, sign*fine.At(peakRow, 0)
	for ch := 1; ch < nch; ch++ {
		if v := sign * fine.At(peakRow, ch); v > bestVal {
			best, bestVal = ch, v
		}
	}
	ext, extVal := lo, sign*fine.At(lo, best)
	for r := lo + 1; r < hi; r++ {
		if v := sign * fine.At(r, best); v > extVal {
			ext, extVal = r, v
		}
	}
	shift := ext - peakRow

	out := mat.NewDense(width, nch, nil)
	row := make([]float64, nch)
	for s := 0; s < width; s++ {
		r := width*ratio + shift + s*ratio
		if r < 0 || r >= nFine {
			return nil, fmt.Errorf("aligned sample %d outside oversampled window", s)
		}
		mat.Row(row, r, fine)
		out.SetRow(s, row)
	}
	return out, nil
}

// FindGoodLimits narrows the window to the longest run of offsets where
// enough channels show a MAD above threshold. ok is false when no such
// run exists strictly inside the window. With p.Extract the sample is
// re-extracted with the new window and the fitted projector dropped.
func (c *Constructor) FindGoodLimits(p GoodLimitsParams) (nLeft, nRight int, ok bool, err error) {
	err = c.stage("find_good_limits", p, func() error {
		if c.someWaveforms.Empty() || c.info.Waveforms == nil {
			return fmt.Errorf("%w: no waveform sample", ErrPrecondition)
		}
		wf := c.someWaveforms
		_, mad := numeric.TensorMedianMAD(wf)
		flagged := make([]bool, wf.Width)
		for s := range flagged {
			n := 0
			for ch := 0; ch < wf.Channels; ch++ {
				if mad[s*wf.Channels+ch] >= p.MadThreshold {
					n++
				}
			}
			flagged[s] = float64(n) >= float64(wf.Channels)*p.ChannelPercent
		}
		a, b, found := longestInnerRun(flagged)
		if !found {
			monitoring.Opsf("catalogue: no offset above mad %g on %g of channels", p.MadThreshold, p.ChannelPercent)
			return nil
		}
		old := c.info.Waveforms.NLeft
		nLeft = min(old+a-1, p.MinLeft)
		nRight = max(old+b+1, p.MaxRight)
		ok = true
		monitoring.Diagf("catalogue: good limits [%d, %d)", nLeft, nRight)

		if p.Extract {
			c.projector = nil
			return c.extractSomeWaveforms(WaveformParams{
				NLeft:          nLeft,
				NRight:         nRight,
				Index:          c.somePeaksIndex,
				Mode:           c.info.Waveforms.Mode,
				NbMax:          c.info.Waveforms.NbMax,
				Align:          c.info.Waveforms.AlignWaveform,
				SubsampleRatio: c.info.Waveforms.SubsampleRatio,
			})
		}
		return nil
	})
	return nLeft, nRight, ok, err
}

// longestInnerRun returns the inclusive bounds of the longest run of true
// values that neither starts at the first nor ends at the last element.
// Ties go to the earliest run.
func longestInnerRun(flags []bool) (a, b int, ok bool) {
	bestLen := 0
	for i := 0; i < len(flags); {
		if !flags[i] {
			i++
			continue
		}
		j := i
		for j+1 < len(flags) && flags[j+1] {
			j++
		}
		if i > 0 && j < len(flags)-1 && j-i+1 > bestLen {
			a, b, bestLen, ok = i, j, j-i+1, true
		}
		i = j + 1
	}
	return a, b, ok
}
