package catalogue

import (
	"fmt"
	"math"
	"slices"

	"github.com/google/uuid"

	"github.com/egaudrain/tridesclous/internal/arraystore"
	"github.com/egaudrain/tridesclous/internal/monitoring"
	"github.com/egaudrain/tridesclous/internal/numeric"
)

// templateMargin is trimmed from both ends of each template, where the
// derivative kernel sees zero padding.
const templateMargin = 2

// MakeCatalogue freezes the positive clusters into templates: per cluster
// the median waveform and the medians of its first and second derivative,
// trimmed by two samples at each end, plus an oversampled cubic
// interpolation of the untrimmed median.
func (c *Constructor) MakeCatalogue() (*Catalogue, error) {
	var cat *Catalogue
	err := c.stage("make_catalogue", nil, func() error {
		var err error
		cat, err = c.makeCatalogue()
		return err
	})
	return cat, err
}

func (c *Constructor) makeCatalogue() (*Catalogue, error) {
	if c.someWaveforms.Empty() || c.info.Waveforms == nil {
		return nil, fmt.Errorf("%w: no waveform sample", ErrPrecondition)
	}
	if c.info.Conditioning == nil || c.info.Detection == nil {
		return nil, fmt.Errorf("%w: signal processing is not configured", ErrPrecondition)
	}
	w := *c.info.Waveforms
	wf := c.someWaveforms
	if wf.Width < 2*templateMargin+1 {
		return nil, fmt.Errorf("%w: window of %d samples is too short for templates", ErrPrecondition, wf.Width)
	}
	ratio := w.SubsampleRatio
	if ratio <= 0 {
		ratio = DefaultSubsampleRatio
	}

	positive := c.PositiveClusterLabels()
	nLeft, nRight := w.NLeft+templateMargin, w.NRight-templateMargin
	trimmed := wf.Width - 2*templateMargin
	grid := numeric.OversampledGrid(1.5, float64(wf.Width)-2.5, ratio)

	cat := &Catalogue{
		CatalogueID:    uuid.NewString(),
		CreatedAt:      c.clock.Now(),
		ChanGrp:        c.chanGrp,
		NLeft:          nLeft,
		NRight:         nRight,
		PeakWidth:      nRight - nLeft,
		ClusterLabels:  positive,
		LabelToIndex:   make(map[int64]int, len(positive)),
		MaxOnChannel:   make([]int64, len(positive)),
		Centers0:       numeric.NewTensor3(len(positive), trimmed, wf.Channels),
		Centers1:       numeric.NewTensor3(len(positive), trimmed, wf.Channels),
		Centers2:       numeric.NewTensor3(len(positive), trimmed, wf.Channels),
		SubsampleRatio: ratio,
		InterpCenters0: numeric.NewTensor3(len(positive), len(grid), wf.Channels),
		ClusterColors:  map[int64]Color{},

		ParamsSignalPreprocessor: *c.info.Conditioning,
		ParamsPeakDetector:       *c.info.Detection,
		SignalsMedians:           slices.Clone(c.signalsMedians),
		SignalsMads:              slices.Clone(c.signalsMads),
	}

	sampleLabels := c.sampleLabels()
	column := make([]float64, wf.Width)
	for i, k := range positive {
		cat.LabelToIndex[k] = i
		members := make([]bool, len(sampleLabels))
		n := 0
		for r, l := range sampleLabels {
			if l == k {
				members[r] = true
				n++
			}
		}
		if n == 0 {
			return nil, fmt.Errorf("%w: cluster %d has no waveform in the working sample", ErrPrecondition, k)
		}
		wf0 := wf.SelectMask(members)
		wf1 := numeric.CentralDifference(wf0)
		wf2 := numeric.CentralDifference(wf1)
		center0 := numeric.TensorMedian(wf0)
		center1 := numeric.TensorMedian(wf1)
		center2 := numeric.TensorMedian(wf2)
		for s := 0; s < trimmed; s++ {
			for ch := 0; ch < wf.Channels; ch++ {
				src := (s+templateMargin)*wf.Channels + ch
				cat.Centers0.Set(i, s, ch, center0[src])
				cat.Centers1.Set(i, s, ch, center1[src])
				cat.Centers2.Set(i, s, ch, center2[src])
			}
		}
		for ch := 0; ch < wf.Channels; ch++ {
			for s := range column {
				column[s] = center0[s*wf.Channels+ch]
			}
			interp, err := numeric.CubicInterpolate(column, grid)
			if err != nil {
				return nil, fmt.Errorf("cluster %d channel %d: %w", k, ch, err)
			}
			for s, v := range interp {
				cat.InterpCenters0.Set(i, s, ch, v)
			}
		}

		// The peak sits at row -nLeft of the trimmed template.
		if row := -nLeft; row >= 0 && row < trimmed {
			best := 0
			for ch := 1; ch < wf.Channels; ch++ {
				if math.Abs(cat.Centers0.At(i, row, ch)) > math.Abs(cat.Centers0.At(i, row, best)) {
					best = ch
				}
			}
			cat.MaxOnChannel[i] = int64(best)
		}
	}

	if len(c.colors) == 0 {
		c.RefreshColors(true)
	}
	for k, col := range c.colors {
		cat.ClusterColors[k] = col
	}
	monitoring.Diagf("catalogue: %d templates of width %d", len(positive), cat.PeakWidth)
	return cat, nil
}

// SaveCatalogue makes the catalogue and persists it.
func (c *Constructor) SaveCatalogue() (*Catalogue, error) {
	var cat *Catalogue
	err := c.stage("save_catalogue", nil, func() error {
		var err error
		if cat, err = c.makeCatalogue(); err != nil {
			return err
		}
		return arraystore.Save(c.store, arrCatalogue, cat)
	})
	if err != nil {
		return nil, err
	}
	monitoring.Opsf("catalogue: saved %s with %d clusters", cat.CatalogueID, len(cat.ClusterLabels))
	return cat, nil
}

// LoadCatalogue reads the persisted catalogue of a store.
func LoadCatalogue(s arraystore.Store) (*Catalogue, error) {
	cat, ok, err := arraystore.Load[Catalogue](s, arrCatalogue)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: no saved catalogue", ErrPrecondition)
	}
	return &cat, nil
}
