package catalogue

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/egaudrain/tridesclous/internal/arraystore"
	"github.com/egaudrain/tridesclous/internal/metrics"
	"github.com/egaudrain/tridesclous/internal/monitoring"
)

// ComputeSpikeWaveformsSimilarity computes the cosine similarity between
// every pair of sampled waveforms. When the flattened sample holds sizeMax
// elements or more, or there is no sample, the metric is left absent and
// nil is returned.
func (c *Constructor) ComputeSpikeWaveformsSimilarity(sizeMax float64) (*mat.SymDense, error) {
	n := c.someWaveforms.N
	if size := n * c.someWaveforms.Stride(); n == 0 || float64(size) >= sizeMax {
		if n > 0 {
			monitoring.Diagf("catalogue: spike similarity skipped, %d sample elements over %g", size, sizeMax)
		}
		c.spikeSimilarity.clear()
		return nil, c.store.Detach(arrSpikeSimilarity)
	}
	sim := metrics.CosineSimilarity(c.someWaveforms.Flatten())
	at := c.now().waveformsOnly()
	c.spikeSimilarity.set(sim, at)
	return sim, arraystore.Save(c.store, arrSpikeSimilarity, matrixRecord{At: at, M: blobOf(sim)})
}

// SpikeWaveformsSimilarity returns the spike similarity, recomputing it
// with the default size ceiling when stale.
func (c *Constructor) SpikeWaveformsSimilarity() (*mat.SymDense, error) {
	if sim, ok := c.spikeSimilarity.get(c.now().waveformsOnly()); ok {
		return sim, nil
	}
	return c.ComputeSpikeWaveformsSimilarity(DefaultSimilaritySize)
}

// ComputeClusterSimilarity computes the cosine-with-max similarity between
// the median waveforms of the positive clusters that have a centroid.
func (c *Constructor) ComputeClusterSimilarity() (LabeledMatrix, error) {
	return c.computeCentroidSimilarity(arrClusterSimilarity, &c.clusterSimilarity, false)
}

// ClusterSimilarity returns the cluster similarity, recomputing it when
// stale.
func (c *Constructor) ClusterSimilarity() (LabeledMatrix, error) {
	if m, ok := c.clusterSimilarity.get(c.now()); ok {
		return m, nil
	}
	return c.ComputeClusterSimilarity()
}

// ComputeClusterRatioSimilarity compares median waveforms normalized by
// their absolute amplitude at the peak channel and offset, with the
// cosine-with-max similarity so that amplitude differences lower the score.
func (c *Constructor) ComputeClusterRatioSimilarity() (LabeledMatrix, error) {
	return c.computeCentroidSimilarity(arrClusterRatioSimilarity, &c.clusterRatioSimilarity, true)
}

// ClusterRatioSimilarity returns the ratio similarity, recomputing it when
// stale.
func (c *Constructor) ClusterRatioSimilarity() (LabeledMatrix, error) {
	if m, ok := c.clusterRatioSimilarity.get(c.now()); ok {
		return m, nil
	}
	return c.ComputeClusterRatioSimilarity()
}

func (c *Constructor) computeCentroidSimilarity(name string, cache *cached[LabeledMatrix], ratio bool) (LabeledMatrix, error) {
	centroids, err := c.Centroids()
	if err != nil {
		return LabeledMatrix{}, err
	}
	var (
		lbls []int64
		rows [][]float64
	)
	peakRow := -c.info.Waveforms.NLeft
	for _, cl := range c.clusters {
		ct, ok := centroids[cl.ClusterLabel]
		if cl.ClusterLabel < 0 || !ok {
			continue
		}
		v := append([]float64(nil), ct.Median.RawMatrix().Data...)
		if ratio {
			if peakRow < 0 || peakRow >= c.someWaveforms.Width || cl.MaxOnChannel < 0 {
				continue
			}
			amp := math.Abs(ct.Median.At(peakRow, int(cl.MaxOnChannel)))
			if amp == 0 {
				continue
			}
			for i := range v {
				v[i] /= amp
			}
		}
		lbls = append(lbls, cl.ClusterLabel)
		rows = append(rows, v)
	}
	if len(rows) == 0 {
		cache.clear()
		return LabeledMatrix{}, c.store.Detach(name)
	}
	x := mat.NewDense(len(rows), len(rows[0]), nil)
	for i, r := range rows {
		x.SetRow(i, r)
	}
	sim := metrics.CosineSimilarityWithMax(x)
	m := LabeledMatrix{Labels: lbls, Sim: sim}
	cache.set(m, c.now())
	return m, arraystore.Save(c.store, name, matrixRecord{At: c.now(), Labels: lbls, M: blobOf(sim)})
}

// ComputeSpikeSilhouette computes the silhouette of every sampled waveform
// under the current labels. It is left absent, returning nil, when there
// is no sample or the flattened sample holds sizeMax elements or more.
func (c *Constructor) ComputeSpikeSilhouette(sizeMax float64) ([]float64, error) {
	n := c.someWaveforms.N
	if n == 0 || float64(n*c.someWaveforms.Stride()) >= sizeMax {
		c.spikeSilhouette.clear()
		return nil, c.store.Detach(arrSpikeSilhouette)
	}
	values, err := metrics.Silhouette(c.someWaveforms.Flatten(), c.sampleLabels())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPrecondition, err)
	}
	c.spikeSilhouette.set(values, c.now())
	return values, arraystore.Save(c.store, arrSpikeSilhouette, silhouetteRecord{At: c.now(), Values: values})
}

// SpikeSilhouette returns the spike silhouette, recomputing it with the
// default size ceiling when stale.
func (c *Constructor) SpikeSilhouette() ([]float64, error) {
	if v, ok := c.spikeSilhouette.get(c.now()); ok {
		return v, nil
	}
	return c.ComputeSpikeSilhouette(DefaultSimilaritySize)
}

// DetectHighSimilarity lists the cluster pairs whose similarity exceeds
// threshold.
func (c *Constructor) DetectHighSimilarity(threshold float64) ([][2]int64, error) {
	m, err := c.ClusterSimilarity()
	if err != nil || m.Sim == nil {
		return nil, err
	}
	return metrics.PairsOverThreshold(m.Sim, m.Labels, threshold)
}

// DetectSimilarWaveformRatio lists the cluster pairs whose ratio
// similarity exceeds threshold.
func (c *Constructor) DetectSimilarWaveformRatio(threshold float64) ([][2]int64, error) {
	m, err := c.ClusterRatioSimilarity()
	if err != nil || m.Sim == nil {
		return nil, err
	}
	return metrics.PairsOverThreshold(m.Sim, m.Labels, threshold)
}
