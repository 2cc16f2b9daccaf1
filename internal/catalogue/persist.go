package catalogue

import (
	"encoding/json"
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/egaudrain/tridesclous/internal/arraystore"
	"github.com/egaudrain/tridesclous/internal/numeric"
	"github.com/egaudrain/tridesclous/internal/signal"
)

// Array names in the store.
const (
	arrAllPeaks               = "all_peaks"
	arrSignalsMedians         = "signals_medians"
	arrSignalsMads            = "signals_mads"
	arrClusters               = "clusters"
	arrSomePeaksIndex         = "some_peaks_index"
	arrSomeWaveforms          = "some_waveforms"
	arrSomeFeatures           = "some_features"
	arrChannelToFeatures      = "channel_to_features"
	arrSomeNoiseIndex         = "some_noise_index"
	arrSomeNoiseSnippet       = "some_noise_snippet"
	arrSomeNoiseFeatures      = "some_noise_features"
	arrSpikeSimilarity        = "spike_waveforms_similarity"
	arrClusterSimilarity      = "cluster_similarity"
	arrClusterRatioSimilarity = "cluster_ratio_similarity"
	arrSpikeSilhouette        = "spike_silhouette"
	arrCatalogue              = "catalogue_initial"
)

// Info record keys.
const (
	infoChunkSize    = "chunksize"
	infoConditioning = "params_signalpreprocessor"
	infoDetection    = "params_peakdetector"
	infoWaveforms    = "params_waveformextractor"
	infoProcessedLen = "processed_length"
	infoVersions     = "versions"
)

// downstreamArrays are reset whenever the peak table is rebuilt.
var downstreamArrays = []string{
	arrSomePeaksIndex,
	arrSomeWaveforms,
	arrSomeFeatures,
	arrChannelToFeatures,
	arrSomeNoiseIndex,
	arrSomeNoiseSnippet,
	arrSomeNoiseFeatures,
	arrSpikeSimilarity,
	arrClusterSimilarity,
	arrClusterRatioSimilarity,
	arrSpikeSilhouette,
}

// stamp records which generation of peaks, waveforms and labels a derived
// value was computed from.
type stamp struct {
	Peaks     uint64 `json:"peaks"`
	Waveforms uint64 `json:"waveforms"`
	Labels    uint64 `json:"labels"`
}

func (s stamp) waveformsOnly() stamp { return stamp{Peaks: s.Peaks, Waveforms: s.Waveforms} }

// cached is a derived value tagged with the stamp it was computed at.
type cached[T any] struct {
	value T
	at    stamp
	valid bool
}

func (c *cached[T]) get(at stamp) (T, bool) {
	if c.valid && c.at == at {
		return c.value, true
	}
	var zero T
	return zero, false
}

func (c *cached[T]) set(v T, at stamp) {
	c.value, c.at, c.valid = v, at, true
}

func (c *cached[T]) clear() {
	var zero T
	c.value, c.valid = zero, false
}

// denseBlob is the persisted form of a matrix.
type denseBlob struct {
	Rows, Cols int
	Data       []float64
}

func blobOf(m mat.Matrix) denseBlob {
	r, c := m.Dims()
	b := denseBlob{Rows: r, Cols: c, Data: make([]float64, 0, r*c)}
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			b.Data = append(b.Data, m.At(i, j))
		}
	}
	return b
}

func (b denseBlob) dense() *mat.Dense {
	if b.Rows == 0 || b.Cols == 0 {
		return nil
	}
	return mat.NewDense(b.Rows, b.Cols, b.Data)
}

func (b denseBlob) sym() (*mat.SymDense, error) {
	if b.Rows != b.Cols {
		return nil, fmt.Errorf("matrix is %dx%d, not square", b.Rows, b.Cols)
	}
	if b.Rows == 0 {
		return nil, nil
	}
	return mat.NewSymDense(b.Rows, b.Data), nil
}

// matrixRecord is the persisted form of a labeled similarity matrix.
type matrixRecord struct {
	At     stamp
	Labels []int64
	M      denseBlob
}

// silhouetteRecord is the persisted form of the spike silhouette.
type silhouetteRecord struct {
	At     stamp
	Values []float64
}

// info is the decoded info record. Absent keys stay nil.
type info struct {
	ChunkSize       int
	Conditioning    *signal.ConditioningParams
	Detection       *signal.DetectionParams
	Waveforms       *WaveformInfo
	ProcessedLength []int
	Versions        stamp
}

func loadInfo(s arraystore.Store) (info, error) {
	var in info
	raw, err := s.Info()
	if err != nil {
		return in, fmt.Errorf("read info: %w", err)
	}
	decode := func(key string, v any) error {
		b, ok := raw[key]
		if !ok {
			return nil
		}
		if err := json.Unmarshal(b, v); err != nil {
			return fmt.Errorf("info %s: %w", key, err)
		}
		return nil
	}
	if err := decode(infoChunkSize, &in.ChunkSize); err != nil {
		return in, err
	}
	if _, ok := raw[infoConditioning]; ok {
		in.Conditioning = &signal.ConditioningParams{}
		if err := decode(infoConditioning, in.Conditioning); err != nil {
			return in, err
		}
	}
	if _, ok := raw[infoDetection]; ok {
		in.Detection = &signal.DetectionParams{}
		if err := decode(infoDetection, in.Detection); err != nil {
			return in, err
		}
	}
	if _, ok := raw[infoWaveforms]; ok {
		in.Waveforms = &WaveformInfo{}
		if err := decode(infoWaveforms, in.Waveforms); err != nil {
			return in, err
		}
	}
	if err := decode(infoProcessedLen, &in.ProcessedLength); err != nil {
		return in, err
	}
	if err := decode(infoVersions, &in.Versions); err != nil {
		return in, err
	}
	return in, nil
}

func putInfo(s arraystore.Store, key string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode info %s: %w", key, err)
	}
	if err := s.PutInfo(key, b); err != nil {
		return fmt.Errorf("write info %s: %w", key, err)
	}
	return nil
}

func saveTensor(s arraystore.Store, name string, t numeric.Tensor3) error {
	return arraystore.Save(s, name, t)
}

func detachAll(s arraystore.Store, names ...string) error {
	for _, n := range names {
		if err := s.Detach(n); err != nil {
			return fmt.Errorf("detach %s: %w", n, err)
		}
	}
	return nil
}
