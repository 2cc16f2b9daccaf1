package catalogue

import (
	"errors"
	"fmt"

	"github.com/egaudrain/tridesclous/internal/arraystore"
	"github.com/egaudrain/tridesclous/internal/decomposition"
	"github.com/egaudrain/tridesclous/internal/monitoring"
)

// FeatureParams names a projection method and its parameters.
type FeatureParams struct {
	Method string               `json:"method"`
	Params decomposition.Params `json:"params"`
}

// ExtractSomeFeatures fits a projector on the working sample, or on the
// rows flagged in selection, and projects every sampled waveform and every
// noise snippet. The projector is kept for later samples.
func (c *Constructor) ExtractSomeFeatures(method string, selection []bool, p decomposition.Params) error {
	return c.stage("extract_some_features", FeatureParams{Method: method, Params: p}, func() error {
		if c.someWaveforms.Empty() || c.info.Waveforms == nil {
			return fmt.Errorf("%w: no waveform sample", ErrPrecondition)
		}
		if selection != nil && len(selection) != c.someWaveforms.N {
			return fmt.Errorf("%w: selection has %d rows, sample has %d", ErrUnsupported, len(selection), c.someWaveforms.N)
		}
		if method == "peak_max" {
			p.PeakIndex = -c.info.Waveforms.NLeft
		}
		features, chanMap, proj, err := decomposition.Project(method, c.someWaveforms, selection, p)
		if errors.Is(err, decomposition.ErrUnknownMethod) {
			return fmt.Errorf("%w: feature method %q", ErrUnsupported, method)
		}
		if err != nil {
			return fmt.Errorf("%w: %v", ErrUnsupported, err)
		}
		c.projector = proj
		c.someFeatures = features
		c.channelToFeatures = chanMap
		if err := arraystore.Save(c.store, arrSomeFeatures, blobOf(features)); err != nil {
			return err
		}
		if err := arraystore.Save(c.store, arrChannelToFeatures, chanMap); err != nil {
			return err
		}
		r, k := features.Dims()
		monitoring.Diagf("catalogue: %s features %dx%d", method, r, k)
		return c.projectNoise()
	})
}

// ApplyProjection re-projects the current working sample with the fitted
// projector.
func (c *Constructor) ApplyProjection() error {
	if c.projector == nil {
		return fmt.Errorf("%w: no fitted projector", ErrPrecondition)
	}
	if c.someWaveforms.Empty() {
		return fmt.Errorf("%w: no waveform sample", ErrPrecondition)
	}
	features, err := c.projector.Transform(c.someWaveforms)
	if err != nil {
		return err
	}
	c.someFeatures = features
	return arraystore.Save(c.store, arrSomeFeatures, blobOf(features))
}

// refreshFeatures follows a re-extraction: the fitted projector is
// re-applied, or the features are cleared when it cannot be.
func (c *Constructor) refreshFeatures() error {
	if c.projector == nil {
		return c.clearFeatures()
	}
	if err := c.ApplyProjection(); err != nil {
		monitoring.Opsf("catalogue: projector no longer applies, features cleared: %v", err)
		c.projector = nil
		return c.clearFeatures()
	}
	return nil
}

func (c *Constructor) clearFeatures() error {
	c.someFeatures = nil
	c.channelToFeatures = nil
	return detachAll(c.store, arrSomeFeatures, arrChannelToFeatures)
}

// projectNoise projects the noise snippets with the fitted projector, if
// both exist.
func (c *Constructor) projectNoise() error {
	if c.projector == nil || c.someNoiseSnippet.Empty() {
		return nil
	}
	features, err := c.projector.Transform(c.someNoiseSnippet)
	if err != nil {
		monitoring.Opsf("catalogue: noise snippets not projected: %v", err)
		c.someNoiseFeatures = nil
		return c.store.Detach(arrSomeNoiseFeatures)
	}
	c.someNoiseFeatures = features
	return arraystore.Save(c.store, arrSomeNoiseFeatures, blobOf(features))
}
