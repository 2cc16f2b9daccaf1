package catalogue

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/egaudrain/tridesclous/internal/arraystore"
	"github.com/egaudrain/tridesclous/internal/catalogue/labels"
	"github.com/egaudrain/tridesclous/internal/dataio"
	"github.com/egaudrain/tridesclous/internal/monitoring"
	"github.com/egaudrain/tridesclous/internal/numeric"
	"github.com/egaudrain/tridesclous/internal/signal"
)

func (c *Constructor) requireConfigured() error {
	if c.conditioner == nil || c.detector == nil || c.info.ChunkSize <= 0 {
		return fmt.Errorf("%w: signal processing is not configured", ErrPrecondition)
	}
	return nil
}

// EstimateNoise conditions the first duration seconds of a segment without
// normalization and stores the per-channel median and MAD.
func (c *Constructor) EstimateNoise(seg int, duration float64) error {
	params := map[string]any{"seg_num": seg, "duration": duration}
	return c.stage("estimate_signals_noise", params, func() error {
		if err := c.requireConfigured(); err != nil {
			return err
		}
		if seg < 0 || seg >= c.src.NbSegment() {
			return fmt.Errorf("%w: segment %d out of range [0, %d)", ErrUnsupported, seg, c.src.NbSegment())
		}
		chunk := c.info.ChunkSize
		segLen := c.src.SegmentLength(seg)
		length := int(duration * c.src.SampleRate())
		length -= length % chunk
		if length >= segLen {
			return fmt.Errorf("%w: noise duration %gs (%d samples) exceeds segment %d of %d samples",
				ErrPrecondition, duration, length, seg, segLen)
		}
		if length <= 0 {
			return fmt.Errorf("%w: noise duration %gs is shorter than one chunk", ErrPrecondition, duration)
		}

		p := *c.info.Conditioning
		p.Normalize, p.SignalsMedians, p.SignalsMads = false, nil, nil
		if err := c.conditioner.ChangeParams(p); err != nil {
			return fmt.Errorf("%w: %v", ErrUnsupported, err)
		}
		nch := c.src.NbChannel()
		cols := make([][]float64, nch)
		err := dataio.ForEachChunk(c.src, seg, chunk, dataio.SignalInitial, length, func(pos int, raw *mat.Dense) error {
			_, out, err := c.conditioner.ProcessChunk(pos, raw)
			if err != nil || out == nil {
				return err
			}
			for ch := range cols {
				cols[ch] = append(cols[ch], mat.Col(nil, ch, out)...)
			}
			return nil
		})
		if err != nil {
			return err
		}
		if len(cols[0]) == 0 {
			return fmt.Errorf("%w: noise duration %gs yields no conditioned sample", ErrPrecondition, duration)
		}

		medians := make([]float64, nch)
		mads := make([]float64, nch)
		for ch, col := range cols {
			medians[ch], mads[ch] = numeric.MedianMAD(col)
		}
		if err := arraystore.Save(c.store, arrSignalsMedians, medians); err != nil {
			return err
		}
		if err := arraystore.Save(c.store, arrSignalsMads, mads); err != nil {
			return err
		}
		c.signalsMedians, c.signalsMads = medians, mads
		monitoring.Diagf("catalogue: noise medians %v mads %v", medians, mads)
		return nil
	})
}

// Run streams every segment through conditioning, writes the normalized
// signal back to the source and, when detectPeaks is set, fills the peak
// table. At most duration seconds of each segment are processed.
func (c *Constructor) Run(duration float64, detectPeaks bool) error {
	params := map[string]any{"duration": duration, "detect_peak": detectPeaks}
	return c.stage("run_signalprocessor", params, func() error {
		if err := c.requireConfigured(); err != nil {
			return err
		}
		if c.signalsMads == nil || c.signalsMedians == nil {
			return fmt.Errorf("%w: noise must be estimated before run", ErrPrecondition)
		}

		chunk := c.info.ChunkSize
		processed := make([]int, c.src.NbSegment())
		for seg := range processed {
			length := min(int(duration*c.src.SampleRate()), c.src.SegmentLength(seg))
			length -= length % chunk
			if length < chunk {
				return fmt.Errorf("%w: duration %gs covers less than one chunk of segment %d",
					ErrPrecondition, duration, seg)
			}
			processed[seg] = length
		}
		if err := c.resetPeaks(); err != nil {
			return err
		}
		for seg, length := range processed {
			if err := c.runSegment(seg, length, detectPeaks); err != nil {
				return fmt.Errorf("segment %d: %w", seg, err)
			}
		}
		c.info.ProcessedLength = processed
		if err := putInfo(c.store, infoProcessedLen, processed); err != nil {
			return err
		}
		return c.finalizePeaks()
	})
}

func (c *Constructor) runSegment(seg, length int, detectPeaks bool) error {
	p := *c.info.Conditioning
	p.Normalize, p.SignalsMedians, p.SignalsMads = true, c.signalsMedians, c.signalsMads
	if err := c.conditioner.ChangeParams(p); err != nil {
		return fmt.Errorf("%w: %v", ErrUnsupported, err)
	}
	if err := c.detector.ChangeParams(*c.info.Detection); err != nil {
		return fmt.Errorf("%w: %v", ErrUnsupported, err)
	}
	if err := c.src.ResetProcessed(seg); err != nil {
		return err
	}
	return dataio.ForEachChunk(c.src, seg, c.info.ChunkSize, dataio.SignalInitial, length, func(pos int, raw *mat.Dense) error {
		pos2, out, err := c.conditioner.ProcessChunk(pos, raw)
		if err != nil {
			return err
		}
		if out == nil {
			return nil
		}
		n, _ := out.Dims()
		if err := c.src.WriteChunk(out, seg, pos2-n, dataio.SignalProcessed); err != nil {
			return err
		}
		if !detectPeaks {
			return nil
		}
		idx, err := c.detector.ProcessChunk(pos2, out)
		if err != nil {
			return err
		}
		monitoring.Tracef("catalogue: seg %d pos %d: %d peaks", seg, pos2, len(idx))
		return c.appendPeaks(seg, idx)
	})
}

// RedetectPeaks re-runs peak detection with new parameters over the
// already conditioned signal and rebuilds the peak table from scratch.
func (c *Constructor) RedetectPeaks(det signal.DetectionParams) error {
	return c.stage("re_detect_peak", det, func() error {
		if err := c.requireConfigured(); err != nil {
			return err
		}
		if len(c.info.ProcessedLength) == 0 {
			return fmt.Errorf("%w: run must precede peak re-detection", ErrPrecondition)
		}
		detector, err := signal.NewDetector(det.Engine, c.src.SampleRate(), c.src.NbChannel(), c.info.ChunkSize)
		if err != nil {
			return fmt.Errorf("%w: peak detector %v", ErrUnsupported, err)
		}
		if err := detector.ChangeParams(det); err != nil {
			return fmt.Errorf("%w: peak detector: %v", ErrUnsupported, err)
		}
		c.detector = detector
		c.info.Detection = &det
		if err := putInfo(c.store, infoDetection, det); err != nil {
			return err
		}
		if err := c.resetPeaks(); err != nil {
			return err
		}

		for seg := 0; seg < c.src.NbSegment(); seg++ {
			if err := c.detector.ChangeParams(det); err != nil {
				return fmt.Errorf("%w: %v", ErrUnsupported, err)
			}
			if err := c.redetectSegment(seg); err != nil {
				return fmt.Errorf("segment %d: %w", seg, err)
			}
		}
		return c.finalizePeaks()
	})
}

// redetectSegment replays the conditioned part of a segment through the
// detector with the chunk boundaries runSegment produced, so both passes
// see the same stream.
func (c *Constructor) redetectSegment(seg int) error {
	chunk := c.info.ChunkSize
	end := c.conditionedLength(seg)
	first := chunk - (c.ProcessedLength(seg) - end)
	for stop := first; stop <= end; stop += chunk {
		start := max(stop-chunk, 0)
		data, err := c.src.ReadChunk(seg, start, stop, dataio.SignalProcessed)
		if err != nil {
			return fmt.Errorf("read [%d:%d]: %w", start, stop, err)
		}
		idx, err := c.detector.ProcessChunk(stop, data)
		if err != nil {
			return err
		}
		if err := c.appendPeaks(seg, idx); err != nil {
			return err
		}
	}
	return nil
}

func (c *Constructor) resetPeaks() error {
	if err := c.store.Initialize(arrAllPeaks); err != nil {
		return fmt.Errorf("initialize %s: %w", arrAllPeaks, err)
	}
	c.allPeaks = []Peak{}
	return nil
}

func (c *Constructor) appendPeaks(seg int, idx []int64) error {
	if len(idx) == 0 {
		return nil
	}
	chunk := make([]Peak, len(idx))
	for i, ind := range idx {
		chunk[i] = Peak{Index: ind, Label: labels.Unclassified, Segment: int64(seg)}
	}
	if err := arraystore.AppendChunk(c.store, arrAllPeaks, chunk); err != nil {
		return err
	}
	c.allPeaks = append(c.allPeaks, chunk...)
	return nil
}

// finalizePeaks drops every array derived from the previous peak table.
func (c *Constructor) finalizePeaks() error {
	if err := detachAll(c.store, downstreamArrays...); err != nil {
		return err
	}
	c.somePeaksIndex = nil
	c.someWaveforms = numeric.Tensor3{}
	c.someFeatures = nil
	c.channelToFeatures = nil
	c.someNoiseIndex = nil
	c.someNoiseSnippet = numeric.Tensor3{}
	c.someNoiseFeatures = nil
	c.centroids.clear()
	c.spikeSimilarity.clear()
	c.clusterSimilarity.clear()
	c.clusterRatioSimilarity.clear()
	c.spikeSilhouette.clear()
	if err := c.bump(true, true, true); err != nil {
		return err
	}
	monitoring.Opsf("catalogue: %d peaks detected %v", len(c.allPeaks), c.NbPeakBySegment())
	return c.onNewCluster()
}

// writePeaks rewrites the whole peak table after a label edit.
func (c *Constructor) writePeaks() error {
	if err := c.store.Initialize(arrAllPeaks); err != nil {
		return fmt.Errorf("initialize %s: %w", arrAllPeaks, err)
	}
	return arraystore.AppendChunk(c.store, arrAllPeaks, c.allPeaks)
}
