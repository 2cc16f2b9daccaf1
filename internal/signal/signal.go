// Package signal holds the pluggable chunk-streaming engines of the
// catalogue pipeline: conditioning (filtering + normalization) and peak
// detection. Engines are looked up by name in small registries so a
// persisted parameter set can name the engine that produced it.
package signal

import (
	"errors"
	"fmt"
	"sort"

	"gonum.org/v1/gonum/mat"
)

// ErrUnknownEngine is returned when a registry has no engine of that name.
var ErrUnknownEngine = errors.New("unknown engine")

// ConditioningParams configures a Conditioner. Zero filter frequencies
// disable the corresponding stage.
type ConditioningParams struct {
	Engine             string  `json:"engine"`
	HighpassFreq       float64 `json:"highpass_freq"`
	LowpassFreq        float64 `json:"lowpass_freq"`
	SmoothSize         int     `json:"smooth_size"`
	CommonRefRemoval   bool    `json:"common_ref_removal"`
	LostfrontChunksize int     `json:"lostfront_chunksize"`

	// Set by the pipeline, not persisted with the parameter record.
	Normalize      bool      `json:"-"`
	SignalsMedians []float64 `json:"-"`
	SignalsMads    []float64 `json:"-"`
}

// DefaultConditioningParams mirrors the usual extracellular setup: 300 Hz
// highpass, no lowpass, 128 samples of backward-filter warm-up.
func DefaultConditioningParams() ConditioningParams {
	return ConditioningParams{
		Engine:             "iir",
		HighpassFreq:       300,
		LostfrontChunksize: 128,
	}
}

// DetectionParams configures a Detector.
type DetectionParams struct {
	Engine string `json:"engine"`
	// PeakSign is "-" for negative-going spikes, "+" for positive ones.
	PeakSign string `json:"peak_sign"`
	// RelativeThreshold is in units of the normalized signal (MADs).
	RelativeThreshold float64 `json:"relative_threshold"`
	// PeakSpan in seconds: two peaks closer than this are merged.
	PeakSpan float64 `json:"peak_span"`
}

// DefaultDetectionParams returns the default detector configuration.
func DefaultDetectionParams() DetectionParams {
	return DetectionParams{
		Engine:            "threshold",
		PeakSign:          "-",
		RelativeThreshold: 7,
		PeakSpan:          0.0002,
	}
}

// Conditioner streams raw chunks into conditioned chunks. ProcessChunk
// receives the position just past the raw chunk and returns the position
// just past the conditioned output, which may be nil while warming up.
// Chunks must be delivered in position order.
type Conditioner interface {
	ChangeParams(p ConditioningParams) error
	ProcessChunk(pos int, chunk *mat.Dense) (int, *mat.Dense, error)
}

// Detector streams conditioned chunks into peak sample positions.
// ChangeParams also resets any cross-chunk buffer.
type Detector interface {
	ChangeParams(p DetectionParams) error
	ProcessChunk(pos int, chunk *mat.Dense) ([]int64, error)
}

// ConditionerFactory builds a conditioner for a stream shape.
type ConditionerFactory func(sampleRate float64, nbChannel, chunkSize int) Conditioner

// DetectorFactory builds a detector for a stream shape.
type DetectorFactory func(sampleRate float64, nbChannel, chunkSize int) Detector

var (
	conditioners = map[string]ConditionerFactory{
		"iir": func(fs float64, nch, chunk int) Conditioner { return NewIIRConditioner(fs, nch, chunk) },
	}
	detectors = map[string]DetectorFactory{
		"threshold": func(fs float64, nch, chunk int) Detector { return NewThresholdDetector(fs, nch, chunk) },
	}
)

// NewConditioner instantiates a registered conditioning engine.
func NewConditioner(engine string, sampleRate float64, nbChannel, chunkSize int) (Conditioner, error) {
	f, ok := conditioners[engine]
	if !ok {
		return nil, fmt.Errorf("conditioner %q: %w", engine, ErrUnknownEngine)
	}
	return f(sampleRate, nbChannel, chunkSize), nil
}

// NewDetector instantiates a registered peak detector.
func NewDetector(engine string, sampleRate float64, nbChannel, chunkSize int) (Detector, error) {
	f, ok := detectors[engine]
	if !ok {
		return nil, fmt.Errorf("detector %q: %w", engine, ErrUnknownEngine)
	}
	return f(sampleRate, nbChannel, chunkSize), nil
}

// ConditionerEngines lists the registered conditioning engine names.
func ConditionerEngines() []string { return sortedKeys(conditioners) }

// DetectorEngines lists the registered detector names.
func DetectorEngines() []string { return sortedKeys(detectors) }

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
