package catalogue

import (
	"errors"
	"fmt"
	"math"
	"slices"
	"sort"

	"gonum.org/v1/gonum/mat"

	"github.com/egaudrain/tridesclous/internal/arraystore"
	"github.com/egaudrain/tridesclous/internal/catalogue/labels"
	"github.com/egaudrain/tridesclous/internal/cluster"
	"github.com/egaudrain/tridesclous/internal/monitoring"
	"github.com/egaudrain/tridesclous/internal/numeric"
)

// Cluster ordering criteria.
const (
	OrderByWaveformsRMS     = "waveforms_rms"
	OrderByMaxPeakAmplitude = "max_peak_amplitude"
)

// RebuildClusters derives the cluster table from the peak labels: one row
// per distinct label in ascending order, with its peak count. Cell labels
// of labels already present in old are kept; centroid-derived fields are
// reset.
func RebuildClusters(old []Cluster, peaks []Peak) []Cluster {
	counts := map[int64]int64{}
	for _, p := range peaks {
		counts[p.Label]++
	}
	keys := make([]int64, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	cells := make(map[int64]int64, len(old))
	for _, cl := range old {
		if _, dup := cells[cl.ClusterLabel]; !dup {
			cells[cl.ClusterLabel] = cl.CellLabel
		}
	}
	out := make([]Cluster, len(keys))
	for i, k := range keys {
		out[i] = newCluster(k)
		out[i].NbPeak = counts[k]
		if cell, ok := cells[k]; ok {
			out[i].CellLabel = cell
		}
	}
	return out
}

// OnNewCluster rebuilds the cluster table after a label edit.
func (c *Constructor) OnNewCluster() error { return c.onNewCluster() }

func (c *Constructor) onNewCluster() error {
	if c.allPeaks == nil {
		return nil
	}
	c.clusters = RebuildClusters(c.clusters, c.allPeaks)
	if err := arraystore.Save(c.store, arrClusters, c.clusters); err != nil {
		return err
	}
	c.RefreshColors(false)
	return nil
}

// labelsChanged persists the peak table and rebuilds the clusters.
func (c *Constructor) labelsChanged() error {
	if err := c.writePeaks(); err != nil {
		return err
	}
	if err := c.bump(false, false, true); err != nil {
		return err
	}
	return c.onNewCluster()
}

// ClusterParams names a clustering method and its parameters.
type ClusterParams struct {
	Method string         `json:"method"`
	Params cluster.Params `json:"params"`
}

// FindClusters clusters the feature rows of the working-sample peaks
// flagged in selection, a mask over the whole peak table (all sampled
// peaks when nil). Without a selection the clusterer labels are used as
// is and positive peaks outside the sample return to unclassified; with
// one they are offset past the current largest label. Rows the
// clusterer rejects become trash.
func (c *Constructor) FindClusters(method string, selection []bool, p cluster.Params) error {
	return c.stage("find_clusters", ClusterParams{Method: method, Params: p}, func() error {
		return c.findClusters(method, selection, p)
	})
}

func (c *Constructor) findClusters(method string, selection []bool, p cluster.Params) error {
	if c.someFeatures == nil || len(c.somePeaksIndex) == 0 {
		return fmt.Errorf("%w: no features to cluster", ErrPrecondition)
	}
	if selection != nil && len(selection) != len(c.allPeaks) {
		return fmt.Errorf("%w: selection has %d entries for %d peaks", ErrUnsupported, len(selection), len(c.allPeaks))
	}
	clusterer, err := cluster.New(method, p)
	if errors.Is(err, cluster.ErrUnknownMethod) {
		return fmt.Errorf("%w: cluster method %q", ErrUnsupported, method)
	}
	if err != nil {
		return err
	}

	var rows []int
	for r, ind := range c.somePeaksIndex {
		if selection == nil || selection[ind] {
			rows = append(rows, r)
		}
	}
	if len(rows) == 0 {
		return fmt.Errorf("%w: selection has no peak in the working sample", ErrPrecondition)
	}
	_, k := c.someFeatures.Dims()
	features := mat.NewDense(len(rows), k, nil)
	for i, r := range rows {
		features.SetRow(i, c.someFeatures.RawRowView(r))
	}
	raw, err := clusterer.FitPredict(features)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrUnsupported, method, err)
	}

	var offset int64
	if selection != nil {
		offset = -1
		for _, pk := range c.allPeaks {
			offset = max(offset, pk.Label)
		}
		offset++
	} else {
		// A full re-clustering drops labels left on peaks outside the sample.
		sampled := make(map[int64]bool, len(c.somePeaksIndex))
		for _, ind := range c.somePeaksIndex {
			sampled[ind] = true
		}
		for i := range c.allPeaks {
			if c.allPeaks[i].Label >= 0 && !sampled[int64(i)] {
				c.allPeaks[i].Label = labels.Unclassified
			}
		}
	}
	for i, r := range rows {
		label := labels.Trash
		if raw[i] >= 0 {
			label = raw[i] + offset
		}
		c.allPeaks[c.somePeaksIndex[r]].Label = label
	}
	monitoring.Diagf("catalogue: %s on %d rows", method, len(rows))
	return c.labelsChanged()
}

// SplitCluster re-clusters the peaks of one label.
func (c *Constructor) SplitCluster(label int64, method string, p cluster.Params) error {
	params := map[string]any{"label": label, "method": method, "params": p}
	return c.stage("split_cluster", params, func() error {
		selection := make([]bool, len(c.allPeaks))
		found := false
		for i, pk := range c.allPeaks {
			if pk.Label == label {
				selection[i], found = true, true
			}
		}
		if !found {
			return fmt.Errorf("%w: no peak with label %d", ErrPrecondition, label)
		}
		return c.findClusters(method, selection, p)
	})
}

// TrashSmallCluster moves the peaks of every cluster with at most n peaks
// back to unclassified.
func (c *Constructor) TrashSmallCluster(n int64) error {
	return c.stage("trash_small_cluster", map[string]int64{"n": n}, func() error {
		small := map[int64]bool{}
		for _, cl := range c.clusters {
			if cl.ClusterLabel >= 0 && cl.NbPeak <= n {
				small[cl.ClusterLabel] = true
			}
		}
		if len(small) == 0 {
			return nil
		}
		for i := range c.allPeaks {
			if small[c.allPeaks[i].Label] {
				c.allPeaks[i].Label = labels.Unclassified
			}
		}
		monitoring.Diagf("catalogue: trashed %d small clusters", len(small))
		return c.labelsChanged()
	})
}

// TagSameCell gives every listed cluster the smallest listed label as its
// cell label.
func (c *Constructor) TagSameCell(labelsToGroup []int64) error {
	return c.stage("tag_same_cell", labelsToGroup, func() error {
		if len(labelsToGroup) == 0 {
			return fmt.Errorf("%w: no label to tag", ErrUnsupported)
		}
		cell := slices.Min(labelsToGroup)
		for _, l := range labelsToGroup {
			if !slices.ContainsFunc(c.clusters, func(cl Cluster) bool { return cl.ClusterLabel == l }) {
				return fmt.Errorf("%w: unknown cluster %d", ErrPrecondition, l)
			}
		}
		for i := range c.clusters {
			if slices.Contains(labelsToGroup, c.clusters[i].ClusterLabel) {
				c.clusters[i].CellLabel = cell
			}
		}
		return arraystore.Save(c.store, arrClusters, c.clusters)
	})
}

// OrderLabels relabels positive clusters so that sorted[i] becomes label i.
// Peak labels follow, reserved labels are untouched, and clusters that
// shared a cell label still share one, named after the first of them in
// the new order. Negative clusters keep their rows ahead of the positive
// ones.
func OrderLabels(peaks []Peak, clusters []Cluster, sorted []int64) ([]Peak, []Cluster) {
	top := int64(len(sorted) - 1)
	for _, p := range peaks {
		top = max(top, p.Label)
	}
	for _, cl := range clusters {
		top = max(top, cl.ClusterLabel, cl.CellLabel)
	}
	offset := top + 1

	newPeaks := slices.Clone(peaks)
	for i := range newPeaks {
		if newPeaks[i].Label >= 0 {
			newPeaks[i].Label += offset
		}
	}
	remap := make(map[int64]int64, len(sorted))
	for n, old := range sorted {
		remap[old+offset] = int64(n)
	}
	for i := range newPeaks {
		if l, ok := remap[newPeaks[i].Label]; ok {
			newPeaks[i].Label = l
		}
	}

	var neg []Cluster
	byLabel := map[int64]Cluster{}
	for _, cl := range clusters {
		if cl.ClusterLabel < 0 {
			neg = append(neg, cl)
			continue
		}
		byLabel[cl.ClusterLabel] = cl
	}
	pos := make([]Cluster, 0, len(sorted))
	for n, old := range sorted {
		cl, ok := byLabel[old]
		if !ok {
			cl = newCluster(old)
		}
		cl.ClusterLabel = int64(n)
		if cl.CellLabel >= 0 {
			cl.CellLabel += offset
		}
		pos = append(pos, cl)
	}
	for i := range pos {
		k := pos[i].CellLabel
		if k < offset {
			continue
		}
		for j := i; j < len(pos); j++ {
			if pos[j].CellLabel == k {
				pos[j].CellLabel = int64(i)
			}
		}
	}
	return newPeaks, append(neg, pos...)
}

// OrderClusters renumbers positive clusters by decreasing waveform RMS or
// absolute peak amplitude, computing centroids first when needed. Clusters
// without a centroid go last.
func (c *Constructor) OrderClusters(by string) error {
	return c.stage("order_clusters", map[string]string{"by": by}, func() error {
		if by != OrderByWaveformsRMS && by != OrderByMaxPeakAmplitude {
			return fmt.Errorf("%w: order by %q", ErrUnsupported, by)
		}
		if _, ok := c.centroids.get(c.now()); !ok {
			if err := c.computeCentroid(nil); err != nil {
				return err
			}
		}
		var pos []Cluster
		for _, cl := range c.clusters {
			if cl.ClusterLabel >= 0 {
				pos = append(pos, cl)
			}
		}
		key := func(cl Cluster) float64 {
			if by == OrderByWaveformsRMS {
				return cl.WaveformRMS
			}
			return math.Abs(cl.MaxPeakAmplitude)
		}
		sort.SliceStable(pos, func(i, j int) bool {
			a, b := key(pos[i]), key(pos[j])
			if math.IsNaN(b) {
				return !math.IsNaN(a)
			}
			return a > b
		})
		sorted := make([]int64, len(pos))
		for i, cl := range pos {
			sorted[i] = cl.ClusterLabel
		}

		centroids, _ := c.centroids.get(c.now())
		c.allPeaks, c.clusters = OrderLabels(c.allPeaks, c.clusters, sorted)
		if err := c.writePeaks(); err != nil {
			return err
		}
		if err := arraystore.Save(c.store, arrClusters, c.clusters); err != nil {
			return err
		}
		if err := c.bump(false, false, true); err != nil {
			return err
		}
		moved := make(map[int64]Centroid, len(centroids))
		for n, old := range sorted {
			if ct, ok := centroids[old]; ok {
				moved[int64(n)] = ct
			}
		}
		c.centroids.set(moved, c.now())
		c.RefreshColors(true)
		return nil
	})
}

// ComputeCentroid computes the median, MAD, mean and std waveform of the
// listed clusters (every positive cluster when nil) from the working sample
// and updates their peak channel, peak amplitude and RMS. Centroids of
// labels that no longer exist are dropped.
func (c *Constructor) ComputeCentroid(clusterLabels []int64) error {
	return c.stage("compute_centroid", clusterLabels, func() error {
		return c.computeCentroid(clusterLabels)
	})
}

func (c *Constructor) computeCentroid(clusterLabels []int64) error {
	if c.someWaveforms.Empty() || c.info.Waveforms == nil {
		return fmt.Errorf("%w: no waveform sample", ErrPrecondition)
	}
	current, ok := c.centroids.get(c.now())
	if !ok || clusterLabels == nil {
		current = map[int64]Centroid{}
		clusterLabels = c.PositiveClusterLabels()
	}
	positive := map[int64]bool{}
	for _, l := range c.PositiveClusterLabels() {
		positive[l] = true
	}
	for l := range current {
		if !positive[l] {
			delete(current, l)
		}
	}

	sampleLabels := c.sampleLabels()
	wf := c.someWaveforms
	peakRow := -c.info.Waveforms.NLeft
	for _, k := range clusterLabels {
		if !positive[k] {
			continue
		}
		members := make([]bool, len(sampleLabels))
		hasMember := false
		for i, l := range sampleLabels {
			if l == k {
				members[i], hasMember = true, true
			}
		}
		i := slices.IndexFunc(c.clusters, func(cl Cluster) bool { return cl.ClusterLabel == k })
		if !hasMember {
			delete(current, k)
			c.clusters[i].MaxOnChannel = -1
			c.clusters[i].MaxPeakAmplitude = math.NaN()
			c.clusters[i].WaveformRMS = math.NaN()
			monitoring.Diagf("catalogue: cluster %d has no sampled waveform", k)
			continue
		}
		sub := wf.SelectMask(members)
		median, mad := numeric.TensorMedianMAD(sub)
		mean, std := numeric.TensorMeanStd(sub)
		ct := Centroid{
			Median: mat.NewDense(wf.Width, wf.Channels, median),
			MAD:    mat.NewDense(wf.Width, wf.Channels, mad),
			Mean:   mat.NewDense(wf.Width, wf.Channels, mean),
			Std:    mat.NewDense(wf.Width, wf.Channels, std),
		}
		current[k] = ct

		chan0 := 0
		if peakRow >= 0 && peakRow < wf.Width {
			for ch := 1; ch < wf.Channels; ch++ {
				if math.Abs(ct.Median.At(peakRow, ch)) > math.Abs(ct.Median.At(peakRow, chan0)) {
					chan0 = ch
				}
			}
			c.clusters[i].MaxPeakAmplitude = ct.Median.At(peakRow, chan0)
		}
		c.clusters[i].MaxOnChannel = int64(chan0)
		c.clusters[i].WaveformRMS = numeric.RMS(median)
	}
	c.centroids.set(current, c.now())
	return arraystore.Save(c.store, arrClusters, c.clusters)
}

// Centroids returns the centroids, computing them when stale.
func (c *Constructor) Centroids() (map[int64]Centroid, error) {
	if ct, ok := c.centroids.get(c.now()); ok {
		return ct, nil
	}
	if err := c.computeCentroid(nil); err != nil {
		return nil, err
	}
	ct, _ := c.centroids.get(c.now())
	return ct, nil
}

// sampleLabels returns the current label of each working-sample peak.
func (c *Constructor) sampleLabels() []int64 {
	out := make([]int64, len(c.somePeaksIndex))
	for i, ind := range c.somePeaksIndex {
		out[i] = c.allPeaks[ind].Label
	}
	return out
}
