package catalogue

import (
	"errors"
	"math"
	"time"

	"gonum.org/v1/gonum/mat"

	"github.com/egaudrain/tridesclous/internal/numeric"
	"github.com/egaudrain/tridesclous/internal/signal"
)

var (
	// ErrPrecondition is returned when a stage needs the output of a stage
	// that has not run, or when a parameter contradicts the session state.
	ErrPrecondition = errors.New("precondition violated")
	// ErrUnsupported is returned for unknown engines, methods, modes and
	// ordering criteria, and for out-of-range parameter values.
	ErrUnsupported = errors.New("unsupported option")
)

// Peak is one detected event.
type Peak struct {
	Index   int64 // sample index within the segment
	Label   int64
	Segment int64
}

// Cluster is one row of the cluster table.
type Cluster struct {
	ClusterLabel     int64
	CellLabel        int64
	MaxOnChannel     int64   // -1 until a centroid is computed
	MaxPeakAmplitude float64 // NaN until a centroid is computed
	WaveformRMS      float64 // NaN until a centroid is computed
	NbPeak           int64
}

func newCluster(label int64) Cluster {
	return Cluster{
		ClusterLabel:     label,
		CellLabel:        label,
		MaxOnChannel:     -1,
		MaxPeakAmplitude: math.NaN(),
		WaveformRMS:      math.NaN(),
	}
}

// Centroid holds the per-(offset, channel) statistics of one cluster's
// sampled waveforms, each a width x channels matrix.
type Centroid struct {
	Median *mat.Dense
	MAD    *mat.Dense
	Mean   *mat.Dense
	Std    *mat.Dense
}

// WaveformParams drives ExtractSomeWaveforms. Zero NLeft and NRight reuse
// the persisted window; zero Mode, NbMax and SubsampleRatio take defaults.
type WaveformParams struct {
	NLeft          int
	NRight         int
	Index          []int64 // explicit peak rows; overrides Mode
	Mode           string  // "rand" or "all"
	NbMax          int
	Align          bool
	SubsampleRatio int
}

// Extraction modes.
const (
	ModeRand = "rand"
	ModeAll  = "all"
)

// Defaults of the waveform sampler.
const (
	DefaultNbMax          = 10000
	DefaultSubsampleRatio = 20
	DefaultNoiseSnippets  = 300
	DefaultSimilaritySize = 1e7
)

// WaveformInfo is the persisted extraction record.
type WaveformInfo struct {
	NLeft          int    `json:"n_left"`
	NRight         int    `json:"n_right"`
	Mode           string `json:"mode"`
	NbMax          int    `json:"nb_max"`
	AlignWaveform  bool   `json:"align_waveform"`
	SubsampleRatio int    `json:"subsample_ratio"`
}

// Width is the window length in samples.
func (w WaveformInfo) Width() int { return w.NRight - w.NLeft }

// GoodLimitsParams drives FindGoodLimits.
type GoodLimitsParams struct {
	MadThreshold   float64
	ChannelPercent float64
	Extract        bool
	MinLeft        int
	MaxRight       int
}

// DefaultGoodLimitsParams returns the usual window-trimming thresholds.
func DefaultGoodLimitsParams() GoodLimitsParams {
	return GoodLimitsParams{
		MadThreshold:   1.1,
		ChannelPercent: 0.3,
		Extract:        true,
		MinLeft:        -5,
		MaxRight:       5,
	}
}

// LabeledMatrix is a square similarity matrix whose rows and columns are
// indexed by Labels.
type LabeledMatrix struct {
	Labels []int64
	Sim    *mat.SymDense
}

// Color is an RGB triple in [0, 1].
type Color struct {
	R, G, B float64
}

// Catalogue is the frozen template set handed to the online peeler.
type Catalogue struct {
	CatalogueID string
	CreatedAt   time.Time
	ChanGrp     int

	NLeft     int
	NRight    int
	PeakWidth int

	ClusterLabels []int64
	LabelToIndex  map[int64]int
	MaxOnChannel  []int64

	Centers0 numeric.Tensor3
	Centers1 numeric.Tensor3
	Centers2 numeric.Tensor3

	SubsampleRatio int
	InterpCenters0 numeric.Tensor3

	ClusterColors map[int64]Color

	ParamsSignalPreprocessor signal.ConditioningParams
	ParamsPeakDetector       signal.DetectionParams
	SignalsMedians           []float64
	SignalsMads              []float64
}
