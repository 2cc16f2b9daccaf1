package catalogue

import (
	"fmt"
	"slices"

	"github.com/egaudrain/tridesclous/internal/arraystore"
	"github.com/egaudrain/tridesclous/internal/catalogue/labels"
	"github.com/egaudrain/tridesclous/internal/dataio"
	"github.com/egaudrain/tridesclous/internal/monitoring"
	"github.com/egaudrain/tridesclous/internal/numeric"
)

// ExtractSomeNoise samples nbSnippet windows of the conditioned signal away
// from every detected peak, split evenly across segments. A position is
// eligible when its window stays a full width away from both segment ends
// and it lies outside [peak+NLeft-NRight, peak+NRight-NLeft) for every peak
// of the segment.
func (c *Constructor) ExtractSomeNoise(nbSnippet int) error {
	return c.stage("extract_some_noise", map[string]int{"nb_snippet": nbSnippet}, func() error {
		if c.info.Waveforms == nil {
			return fmt.Errorf("%w: the waveform window is not set, extract waveforms first", ErrPrecondition)
		}
		if c.allPeaks == nil || len(c.info.ProcessedLength) == 0 {
			return fmt.Errorf("%w: no conditioned signal", ErrPrecondition)
		}
		if nbSnippet <= 0 {
			nbSnippet = DefaultNoiseSnippets
		}
		w := *c.info.Waveforms
		width := w.Width()
		nbSeg := c.src.NbSegment()
		bySeg := nbSnippet / nbSeg

		var index []Peak
		for seg := 0; seg < nbSeg; seg++ {
			eligible := c.noiseCandidates(seg, w)
			draw := min(bySeg, len(eligible))
			picked := make([]int64, 0, draw)
			for _, k := range c.rng.Perm(len(eligible))[:draw] {
				picked = append(picked, eligible[k])
			}
			slices.Sort(picked)
			for _, i := range picked {
				index = append(index, Peak{Index: i, Label: labels.Noise, Segment: int64(seg)})
			}
		}

		snippets := numeric.NewTensor3(len(index), width, c.src.NbChannel())
		for k, pk := range index {
			start := int(pk.Index) + w.NLeft
			win, err := c.src.ReadChunk(int(pk.Segment), start, start+width, dataio.SignalProcessed)
			if err != nil {
				return fmt.Errorf("noise snippet %d: %w", k, err)
			}
			if err := snippets.SetWaveform(k, win); err != nil {
				return err
			}
		}

		if err := arraystore.Save(c.store, arrSomeNoiseIndex, index); err != nil {
			return err
		}
		if err := saveTensor(c.store, arrSomeNoiseSnippet, snippets); err != nil {
			return err
		}
		c.someNoiseIndex, c.someNoiseSnippet = index, snippets
		if len(index) < nbSnippet {
			monitoring.Diagf("catalogue: %d noise snippets drawn out of %d requested", len(index), nbSnippet)
		}
		return c.projectNoise()
	})
}

// noiseCandidates lists the eligible noise positions of a segment.
func (c *Constructor) noiseCandidates(seg int, w WaveformInfo) []int64 {
	length := c.conditionedLength(seg)
	width := w.Width()
	if length <= 2*width {
		return nil
	}
	possible := make([]bool, length)
	for i := width; i < length-width; i++ {
		possible[i] = i+w.NLeft >= 0 && i+w.NRight <= length
	}
	for _, pk := range c.allPeaks {
		if int(pk.Segment) != seg {
			continue
		}
		lo := max(int(pk.Index)+w.NLeft-w.NRight, 0)
		hi := min(int(pk.Index)+w.NRight-w.NLeft, length)
		for i := lo; i < hi; i++ {
			possible[i] = false
		}
	}
	var out []int64
	for i, ok := range possible {
		if ok {
			out = append(out, int64(i))
		}
	}
	return out
}

func (c *Constructor) clearNoise() error {
	c.someNoiseIndex = nil
	c.someNoiseSnippet = numeric.Tensor3{}
	c.someNoiseFeatures = nil
	return detachAll(c.store, arrSomeNoiseIndex, arrSomeNoiseSnippet, arrSomeNoiseFeatures)
}
