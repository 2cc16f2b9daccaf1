package decomposition

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/egaudrain/tridesclous/internal/numeric"
)

// pcaModel projects centered rows onto the leading principal axes.
type pcaModel struct {
	mean       []float64
	components *mat.Dense // d x k
}

func fitPCAModel(x *mat.Dense, k int) (*pcaModel, error) {
	n, d := x.Dims()
	if k <= 0 {
		return nil, fmt.Errorf("n_components must be > 0, got %d", k)
	}
	if k > min(n, d) {
		return nil, fmt.Errorf("n_components %d exceeds min(n_samples=%d, n_features=%d)", k, n, d)
	}
	var pc stat.PC
	if ok := pc.PrincipalComponents(x, nil); !ok {
		return nil, fmt.Errorf("principal component analysis failed")
	}
	var vecs mat.Dense
	pc.VectorsTo(&vecs)

	mean := make([]float64, d)
	for j := 0; j < d; j++ {
		mean[j] = stat.Mean(mat.Col(nil, j, x), nil)
	}
	comps := mat.DenseCopyOf(vecs.Slice(0, d, 0, k))
	return &pcaModel{mean: mean, components: comps}, nil
}

func (m *pcaModel) project(x mat.Matrix) *mat.Dense {
	n, d := x.Dims()
	centered := mat.NewDense(n, d, nil)
	centered.Apply(func(i, j int, v float64) float64 { return v - m.mean[j] }, x)
	_, k := m.components.Dims()
	out := mat.NewDense(n, k, nil)
	out.Mul(centered, m.components)
	return out
}

// PCA projects flattened (width*channels) waveforms.
type PCA struct {
	shape
	model *pcaModel
}

func fitPCA(wf numeric.Tensor3, p Params) (Projector, [][]bool, error) {
	k := p.NComponents
	if k == 0 {
		k = 5
	}
	model, err := fitPCAModel(wf.Flatten(), k)
	if err != nil {
		return nil, nil, err
	}
	proj := &PCA{shape: shape{wf.Width, wf.Channels}, model: model}
	return proj, fullChannelMap(wf.Channels, k), nil
}

func (p *PCA) Transform(wf numeric.Tensor3) (*mat.Dense, error) {
	if err := p.check(wf); err != nil {
		return nil, err
	}
	if wf.Empty() {
		return nil, fmt.Errorf("no waveform to transform")
	}
	return p.model.project(wf.Flatten()), nil
}

func (p *PCA) NbFeature() int {
	_, k := p.model.components.Dims()
	return k
}

// PCAByChannel fits an independent PCA on each channel's time course and
// concatenates the per-channel components.
type PCAByChannel struct {
	shape
	models []*pcaModel
	k      int
}

func fitPCAByChannel(wf numeric.Tensor3, p Params) (Projector, [][]bool, error) {
	k := p.NComponentsByChannel
	if k == 0 {
		k = 3
	}
	proj := &PCAByChannel{shape: shape{wf.Width, wf.Channels}, k: k}
	for c := 0; c < wf.Channels; c++ {
		m, err := fitPCAModel(wf.Channel(c), k)
		if err != nil {
			return nil, nil, fmt.Errorf("channel %d: %w", c, err)
		}
		proj.models = append(proj.models, m)
	}
	chanMap := make([][]bool, wf.Channels)
	for c := range chanMap {
		chanMap[c] = make([]bool, wf.Channels*k)
		for f := c * k; f < (c+1)*k; f++ {
			chanMap[c][f] = true
		}
	}
	return proj, chanMap, nil
}

func (p *PCAByChannel) Transform(wf numeric.Tensor3) (*mat.Dense, error) {
	if err := p.check(wf); err != nil {
		return nil, err
	}
	if wf.Empty() {
		return nil, fmt.Errorf("no waveform to transform")
	}
	out := mat.NewDense(wf.N, p.NbFeature(), nil)
	for c, m := range p.models {
		f := m.project(wf.Channel(c))
		out.Slice(0, wf.N, c*p.k, (c+1)*p.k).(*mat.Dense).Copy(f)
	}
	return out, nil
}

func (p *PCAByChannel) NbFeature() int { return p.k * p.channels }
