// Package catalogue builds a spike-sorting catalogue from a recording. A
// Constructor drives the offline pipeline: noise estimation, streaming
// conditioning and peak detection, waveform sampling and alignment, noise
// sampling, feature projection, clustering with operator edits, and the
// freezing of per-cluster templates into a Catalogue.
//
// Every stage persists its outputs in an arraystore.Store so a session can
// be reopened and resumed, and records itself in the store's run history.
package catalogue

import (
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"strings"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/mat"

	"github.com/egaudrain/tridesclous/internal/arraystore"
	"github.com/egaudrain/tridesclous/internal/dataio"
	"github.com/egaudrain/tridesclous/internal/decomposition"
	"github.com/egaudrain/tridesclous/internal/monitoring"
	"github.com/egaudrain/tridesclous/internal/numeric"
	"github.com/egaudrain/tridesclous/internal/signal"
	"github.com/egaudrain/tridesclous/internal/timeutil"
)

// Constructor is the catalogue construction session for one channel group.
// It is not safe for concurrent use.
type Constructor struct {
	src     dataio.Source
	store   arraystore.Store
	chanGrp int
	rng     *rand.Rand
	clock   timeutil.Clock

	info        info
	conditioner signal.Conditioner
	detector    signal.Detector

	allPeaks       []Peak // nil until Configure
	signalsMedians []float64
	signalsMads    []float64
	clusters       []Cluster

	somePeaksIndex    []int64
	someWaveforms     numeric.Tensor3
	someFeatures      *mat.Dense
	channelToFeatures [][]bool
	projector         decomposition.Projector

	someNoiseIndex    []Peak
	someNoiseSnippet  numeric.Tensor3
	someNoiseFeatures *mat.Dense

	centroids              cached[map[int64]Centroid]
	spikeSimilarity        cached[*mat.SymDense]
	clusterSimilarity      cached[LabeledMatrix]
	clusterRatioSimilarity cached[LabeledMatrix]
	spikeSilhouette        cached[[]float64]

	colors map[int64]Color
}

// Option configures a Constructor at Open.
type Option func(*Constructor)

// WithSeed seeds the random sampling of waveforms and noise snippets.
func WithSeed(seed uint64) Option {
	return func(c *Constructor) {
		c.rng = rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	}
}

// WithChanGrp sets the channel group recorded in the catalogue.
func WithChanGrp(chanGrp int) Option {
	return func(c *Constructor) { c.chanGrp = chanGrp }
}

// WithClock sets the time source of run records and catalogue stamps.
func WithClock(clock timeutil.Clock) Option {
	return func(c *Constructor) { c.clock = clock }
}

// Open attaches a constructor to a recording and a store, reloading every
// array and info key a previous session persisted.
func Open(src dataio.Source, store arraystore.Store, opts ...Option) (*Constructor, error) {
	c := &Constructor{src: src, store: store, clock: timeutil.RealClock{}, colors: map[int64]Color{}}
	WithSeed(0)(c)
	for _, o := range opts {
		o(c)
	}

	in, err := loadInfo(store)
	if err != nil {
		return nil, err
	}
	c.info = in
	if in.ChunkSize > 0 && in.Conditioning != nil && in.Detection != nil {
		c.conditioner, c.detector, err = c.newEngines(*in.Conditioning, *in.Detection, in.ChunkSize)
		if err != nil {
			return nil, fmt.Errorf("restore engines: %w", err)
		}
	}
	if err := c.load(); err != nil {
		return nil, err
	}
	if c.allPeaks != nil && c.clusters == nil {
		c.clusters = RebuildClusters(nil, c.allPeaks)
	}
	c.RefreshColors(true)
	monitoring.Diagf("catalogue: opened chan_grp=%d, %s", c.chanGrp, c.Status().Summary())
	return c, nil
}

func (c *Constructor) load() error {
	var err error
	if c.allPeaks, _, err = arraystore.LoadChunks[Peak](c.store, arrAllPeaks); err != nil {
		return err
	}
	if c.signalsMedians, _, err = arraystore.Load[[]float64](c.store, arrSignalsMedians); err != nil {
		return err
	}
	if c.signalsMads, _, err = arraystore.Load[[]float64](c.store, arrSignalsMads); err != nil {
		return err
	}
	if c.clusters, _, err = arraystore.Load[[]Cluster](c.store, arrClusters); err != nil {
		return err
	}
	if c.somePeaksIndex, _, err = arraystore.Load[[]int64](c.store, arrSomePeaksIndex); err != nil {
		return err
	}
	if c.someWaveforms, _, err = arraystore.Load[numeric.Tensor3](c.store, arrSomeWaveforms); err != nil {
		return err
	}
	features, ok, err := arraystore.Load[denseBlob](c.store, arrSomeFeatures)
	if err != nil {
		return err
	}
	if ok {
		c.someFeatures = features.dense()
	}
	if c.channelToFeatures, _, err = arraystore.Load[[][]bool](c.store, arrChannelToFeatures); err != nil {
		return err
	}
	if c.someNoiseIndex, _, err = arraystore.Load[[]Peak](c.store, arrSomeNoiseIndex); err != nil {
		return err
	}
	if c.someNoiseSnippet, _, err = arraystore.Load[numeric.Tensor3](c.store, arrSomeNoiseSnippet); err != nil {
		return err
	}
	noiseFeatures, ok, err := arraystore.Load[denseBlob](c.store, arrSomeNoiseFeatures)
	if err != nil {
		return err
	}
	if ok {
		c.someNoiseFeatures = noiseFeatures.dense()
	}

	if rec, ok, err := arraystore.Load[matrixRecord](c.store, arrSpikeSimilarity); err != nil {
		return err
	} else if ok {
		if sim, err := rec.M.sym(); err == nil && sim != nil {
			c.spikeSimilarity.set(sim, rec.At)
		}
	}
	for _, m := range []struct {
		name  string
		cache *cached[LabeledMatrix]
	}{
		{arrClusterSimilarity, &c.clusterSimilarity},
		{arrClusterRatioSimilarity, &c.clusterRatioSimilarity},
	} {
		rec, ok, err := arraystore.Load[matrixRecord](c.store, m.name)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		if sim, err := rec.M.sym(); err == nil && sim != nil {
			m.cache.set(LabeledMatrix{Labels: rec.Labels, Sim: sim}, rec.At)
		}
	}
	if rec, ok, err := arraystore.Load[silhouetteRecord](c.store, arrSpikeSilhouette); err != nil {
		return err
	} else if ok {
		c.spikeSilhouette.set(rec.Values, rec.At)
	}
	return nil
}

func (c *Constructor) newEngines(cond signal.ConditioningParams, det signal.DetectionParams, chunkSize int) (signal.Conditioner, signal.Detector, error) {
	fs, nch := c.src.SampleRate(), c.src.NbChannel()
	conditioner, err := signal.NewConditioner(cond.Engine, fs, nch, chunkSize)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: signal preprocessor %v", ErrUnsupported, err)
	}
	if err := conditioner.ChangeParams(cond); err != nil {
		return nil, nil, fmt.Errorf("%w: signal preprocessor: %v", ErrUnsupported, err)
	}
	detector, err := signal.NewDetector(det.Engine, fs, nch, chunkSize)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: peak detector %v", ErrUnsupported, err)
	}
	if err := detector.ChangeParams(det); err != nil {
		return nil, nil, fmt.Errorf("%w: peak detector: %v", ErrUnsupported, err)
	}
	return conditioner, detector, nil
}

// Configure validates and stores the conditioning and detection parameters
// and the chunk size, instantiates both engines, empties the peak table and
// resets the processed signal of every segment.
func (c *Constructor) Configure(cond signal.ConditioningParams, det signal.DetectionParams, chunkSize int) error {
	params := map[string]any{"chunksize": chunkSize, "signalpreprocessor": cond, "peakdetector": det}
	return c.stage("configure", params, func() error {
		if chunkSize <= 0 {
			return fmt.Errorf("%w: chunksize %d must be > 0", ErrUnsupported, chunkSize)
		}
		cond.Normalize, cond.SignalsMedians, cond.SignalsMads = false, nil, nil
		conditioner, detector, err := c.newEngines(cond, det, chunkSize)
		if err != nil {
			return err
		}
		c.conditioner, c.detector = conditioner, detector

		if err := c.store.Initialize(arrAllPeaks); err != nil {
			return fmt.Errorf("initialize %s: %w", arrAllPeaks, err)
		}
		c.allPeaks = []Peak{}
		for seg := 0; seg < c.src.NbSegment(); seg++ {
			if err := c.src.ResetProcessed(seg); err != nil {
				return fmt.Errorf("reset processed signal: %w", err)
			}
		}

		c.info.ChunkSize = chunkSize
		c.info.Conditioning = &cond
		c.info.Detection = &det
		c.info.ProcessedLength = nil
		if err := putInfo(c.store, infoChunkSize, chunkSize); err != nil {
			return err
		}
		if err := putInfo(c.store, infoConditioning, cond); err != nil {
			return err
		}
		if err := putInfo(c.store, infoDetection, det); err != nil {
			return err
		}
		return c.onNewCluster()
	})
}

// stage runs fn and appends the outcome to the run history.
func (c *Constructor) stage(name string, params any, fn func() error) error {
	start := c.clock.Now()
	err := fn()
	finished := c.clock.Now()

	run := arraystore.Run{
		ID:         uuid.NewString(),
		Stage:      name,
		StartedAt:  start,
		FinishedAt: finished,
		Status:     arraystore.RunStatusCompleted,
	}
	if params != nil {
		if b, merr := json.Marshal(params); merr == nil {
			run.ParamsJSON = string(b)
		} else {
			monitoring.Opsf("catalogue: %s params not recorded: %v", name, merr)
		}
	}
	if err != nil {
		run.Status = arraystore.RunStatusFailed
		run.Error = err.Error()
	}
	if rerr := c.store.RecordRun(run); rerr != nil {
		monitoring.Opsf("catalogue: record %s run: %v", name, rerr)
		if err == nil {
			err = rerr
		}
	}
	if err != nil {
		monitoring.Opsf("catalogue: %s failed after %v: %v", name, finished.Sub(start), err)
		return err
	}
	monitoring.Diagf("catalogue: %s done in %v", name, finished.Sub(start))
	return nil
}

func (c *Constructor) now() stamp { return c.info.Versions }

// bump advances the version counters and persists them.
func (c *Constructor) bump(peaks, waveforms, labels bool) error {
	if peaks {
		c.info.Versions.Peaks++
	}
	if waveforms {
		c.info.Versions.Waveforms++
	}
	if labels {
		c.info.Versions.Labels++
	}
	return putInfo(c.store, infoVersions, c.info.Versions)
}

// Peaks returns a copy of the peak table.
func (c *Constructor) Peaks() []Peak { return append([]Peak(nil), c.allPeaks...) }

// Clusters returns a copy of the cluster table.
func (c *Constructor) Clusters() []Cluster { return append([]Cluster(nil), c.clusters...) }

// ClusterLabels lists the labels of the cluster table in order.
func (c *Constructor) ClusterLabels() []int64 {
	out := make([]int64, len(c.clusters))
	for i, cl := range c.clusters {
		out[i] = cl.ClusterLabel
	}
	return out
}

// PositiveClusterLabels lists the non-negative cluster labels in order.
func (c *Constructor) PositiveClusterLabels() []int64 {
	var out []int64
	for _, cl := range c.clusters {
		if cl.ClusterLabel >= 0 {
			out = append(out, cl.ClusterLabel)
		}
	}
	return out
}

// SomePeaksIndex returns the peak rows of the working waveform sample.
func (c *Constructor) SomePeaksIndex() []int64 { return append([]int64(nil), c.somePeaksIndex...) }

// SomeWaveforms returns the working waveform sample.
func (c *Constructor) SomeWaveforms() numeric.Tensor3 { return c.someWaveforms }

// SomeFeatures returns the feature rows of the working sample, or nil.
func (c *Constructor) SomeFeatures() *mat.Dense { return c.someFeatures }

// ChannelToFeatures reports which features each channel contributes to.
func (c *Constructor) ChannelToFeatures() [][]bool { return c.channelToFeatures }

// SomeNoiseIndex returns the noise snippet positions.
func (c *Constructor) SomeNoiseIndex() []Peak { return append([]Peak(nil), c.someNoiseIndex...) }

// SomeNoiseSnippet returns the noise snippets.
func (c *Constructor) SomeNoiseSnippet() numeric.Tensor3 { return c.someNoiseSnippet }

// SomeNoiseFeatures returns the projected noise snippets, or nil.
func (c *Constructor) SomeNoiseFeatures() *mat.Dense { return c.someNoiseFeatures }

// SignalsMedians returns the per-channel noise medians, or nil.
func (c *Constructor) SignalsMedians() []float64 { return c.signalsMedians }

// SignalsMads returns the per-channel noise MADs, or nil.
func (c *Constructor) SignalsMads() []float64 { return c.signalsMads }

// WaveformInfo returns the persisted extraction parameters, if any.
func (c *Constructor) WaveformInfo() (WaveformInfo, bool) {
	if c.info.Waveforms == nil {
		return WaveformInfo{}, false
	}
	return *c.info.Waveforms, true
}

// ProcessedLength is the number of samples streamed through conditioning
// for a segment by the last Run.
func (c *Constructor) ProcessedLength(seg int) int {
	if seg < 0 || seg >= len(c.info.ProcessedLength) {
		return 0
	}
	return c.info.ProcessedLength[seg]
}

// conditionedLength is the number of conditioned samples written for a
// segment: the processed length minus the withheld tail.
func (c *Constructor) conditionedLength(seg int) int {
	n := c.ProcessedLength(seg)
	if c.info.Conditioning != nil {
		n -= c.info.Conditioning.LostfrontChunksize
	}
	return max(n, 0)
}

// NbPeakBySegment counts peaks per segment.
func (c *Constructor) NbPeakBySegment() []int {
	out := make([]int, c.src.NbSegment())
	for _, p := range c.allPeaks {
		if int(p.Segment) < len(out) {
			out[p.Segment]++
		}
	}
	return out
}

// Runs returns the stage run history.
func (c *Constructor) Runs() ([]arraystore.Run, error) { return c.store.Runs() }

// Status summarizes which stages produced data.
type Status struct {
	ChanGrp         int
	NbPeak          int
	NbPeakBySegment []int
	Configured      bool
	NoiseEstimated  bool
	Waveforms       *WaveformInfo
	WaveformShape   [3]int
	FeatureShape    [2]int
	NbNoiseSnippet  int
	ClusterLabels   []int64
	HasCatalogue    bool
}

// Status reports the session state.
func (c *Constructor) Status() Status {
	s := Status{
		ChanGrp:         c.chanGrp,
		NbPeak:          len(c.allPeaks),
		NbPeakBySegment: c.NbPeakBySegment(),
		Configured:      c.conditioner != nil && c.detector != nil,
		NoiseEstimated:  c.signalsMads != nil,
		WaveformShape:   [3]int{c.someWaveforms.N, c.someWaveforms.Width, c.someWaveforms.Channels},
		NbNoiseSnippet:  c.someNoiseSnippet.N,
		ClusterLabels:   c.ClusterLabels(),
	}
	if c.info.Waveforms != nil {
		w := *c.info.Waveforms
		s.Waveforms = &w
	}
	if c.someFeatures != nil {
		s.FeatureShape[0], s.FeatureShape[1] = c.someFeatures.Dims()
	}
	if ok, err := c.store.Exists(arrCatalogue); err == nil {
		s.HasCatalogue = ok
	}
	return s
}

// Summary renders the status on a few lines.
func (s Status) Summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "chan_grp %d", s.ChanGrp)
	if !s.Configured {
		b.WriteString(", not configured")
	}
	if s.NoiseEstimated {
		b.WriteString(", noise estimated")
	}
	fmt.Fprintf(&b, "\n  nb_peak %d %v", s.NbPeak, s.NbPeakBySegment)
	if s.Waveforms != nil {
		fmt.Fprintf(&b, "\n  waveforms %v n_left %d n_right %d", s.WaveformShape, s.Waveforms.NLeft, s.Waveforms.NRight)
	}
	if s.FeatureShape[0] > 0 {
		fmt.Fprintf(&b, "\n  features %v", s.FeatureShape)
	}
	if s.NbNoiseSnippet > 0 {
		fmt.Fprintf(&b, "\n  noise snippets %d", s.NbNoiseSnippet)
	}
	if len(s.ClusterLabels) > 0 {
		fmt.Fprintf(&b, "\n  cluster labels %v", s.ClusterLabels)
	}
	if s.HasCatalogue {
		b.WriteString("\n  catalogue saved")
	}
	return b.String()
}
