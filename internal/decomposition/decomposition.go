// Package decomposition reduces waveform windows to feature coordinates.
// A method is fitted once on a (possibly selected) waveform sample and the
// resulting Projector is reused to transform later samples of the same
// window shape.
package decomposition

import (
	"errors"
	"fmt"
	"sort"

	"gonum.org/v1/gonum/mat"

	"github.com/egaudrain/tridesclous/internal/numeric"
)

var (
	// ErrUnknownMethod is returned for an unregistered method name.
	ErrUnknownMethod = errors.New("unknown decomposition method")
	// ErrShapeMismatch is returned when a projector sees a window shape it
	// was not fitted on.
	ErrShapeMismatch = errors.New("waveform shape does not match projector")
)

// Params holds every method's parameters; each method reads its own.
type Params struct {
	NComponents          int `json:"n_components,omitempty"`
	NComponentsByChannel int `json:"n_components_by_channel,omitempty"`
	// PeakIndex is the sample offset of the peak inside the window.
	PeakIndex int `json:"peak_index,omitempty"`
}

// Projector maps a waveform tensor to an N x NbFeature matrix.
type Projector interface {
	Transform(wf numeric.Tensor3) (*mat.Dense, error)
	NbFeature() int
}

type fitFunc func(wf numeric.Tensor3, p Params) (Projector, [][]bool, error)

var methods = map[string]fitFunc{
	"pca":            fitPCA,
	"peak_max":       fitPeakMax,
	"pca_by_channel": fitPCAByChannel,
}

// Methods lists the registered method names.
func Methods() []string {
	names := make([]string, 0, len(methods))
	for k := range methods {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Project fits method on the rows of wf flagged in selection (all rows
// when selection is nil) and transforms every row. channelToFeatures[c][f]
// reports whether channel c contributes to feature f.
func Project(method string, wf numeric.Tensor3, selection []bool, p Params) (features *mat.Dense, channelToFeatures [][]bool, proj Projector, err error) {
	fit, ok := methods[method]
	if !ok {
		return nil, nil, nil, fmt.Errorf("%q: %w", method, ErrUnknownMethod)
	}
	if wf.Empty() {
		return nil, nil, nil, fmt.Errorf("no waveform to fit %s on", method)
	}
	train := wf
	if selection != nil {
		if len(selection) != wf.N {
			return nil, nil, nil, fmt.Errorf("selection has %d entries for %d waveforms", len(selection), wf.N)
		}
		train = wf.SelectMask(selection)
		if train.Empty() {
			return nil, nil, nil, fmt.Errorf("empty selection")
		}
	}
	proj, channelToFeatures, err = fit(train, p)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("fit %s: %w", method, err)
	}
	features, err = proj.Transform(wf)
	if err != nil {
		return nil, nil, nil, err
	}
	return features, channelToFeatures, proj, nil
}

type shape struct {
	width    int
	channels int
}

func (s shape) check(wf numeric.Tensor3) error {
	if wf.Width != s.width || wf.Channels != s.channels {
		return fmt.Errorf("%w: got (%d, %d), fitted on (%d, %d)",
			ErrShapeMismatch, wf.Width, wf.Channels, s.width, s.channels)
	}
	return nil
}

func fullChannelMap(channels, features int) [][]bool {
	m := make([][]bool, channels)
	for c := range m {
		m[c] = make([]bool, features)
		for f := range m[c] {
			m[c][f] = true
		}
	}
	return m
}
