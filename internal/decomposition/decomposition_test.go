package decomposition

import (
	"math"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/egaudrain/tridesclous/internal/numeric"
)

// twoShapes returns n waveforms of width 10 on 2 channels: the first half
// carry a negative bump, the second half a positive one, plus small noise.
func twoShapes(n int) numeric.Tensor3 {
	rng := rand.New(rand.NewPCG(1, 2))
	wf := numeric.NewTensor3(n, 10, 2)
	for i := 0; i < n; i++ {
		amp := -5.0
		if i >= n/2 {
			amp = 5
		}
		for s := 0; s < 10; s++ {
			bump := amp * math.Exp(-float64((s-5)*(s-5))/2)
			wf.Set(i, s, 0, bump+0.1*rng.NormFloat64())
			wf.Set(i, s, 1, 0.5*bump+0.1*rng.NormFloat64())
		}
	}
	return wf
}

func TestMethods(t *testing.T) {
	assert.Equal(t, []string{"pca", "pca_by_channel", "peak_max"}, Methods())

	_, _, _, err := Project("ica", twoShapes(4), nil, Params{})
	assert.ErrorIs(t, err, ErrUnknownMethod)
}

func TestPCASeparatesShapes(t *testing.T) {
	wf := twoShapes(20)
	features, chanMap, proj, err := Project("pca", wf, nil, Params{NComponents: 3})
	require.NoError(t, err)

	r, c := features.Dims()
	assert.Equal(t, 20, r)
	assert.Equal(t, 3, c)
	assert.Equal(t, 3, proj.NbFeature())
	require.Len(t, chanMap, 2)
	assert.Equal(t, []bool{true, true, true}, chanMap[0])

	// The first axis carries the bump sign.
	first := features.At(0, 0)
	for i := 0; i < 10; i++ {
		assert.Equal(t, math.Signbit(first), math.Signbit(features.At(i, 0)), "row %d", i)
	}
	for i := 10; i < 20; i++ {
		assert.NotEqual(t, math.Signbit(first), math.Signbit(features.At(i, 0)), "row %d", i)
	}
}

func TestPCATooManyComponents(t *testing.T) {
	_, _, _, err := Project("pca", twoShapes(4), nil, Params{NComponents: 5})
	assert.Error(t, err)
}

func TestProjectWithSelectionTransformsAllRows(t *testing.T) {
	wf := twoShapes(12)
	sel := make([]bool, 12)
	for i := 0; i < 12; i += 2 {
		sel[i] = true
	}
	features, _, _, err := Project("pca", wf, sel, Params{NComponents: 2})
	require.NoError(t, err)
	r, _ := features.Dims()
	assert.Equal(t, 12, r)

	_, _, _, err = Project("pca", wf, []bool{true}, Params{NComponents: 2})
	assert.Error(t, err, "selection length mismatch")
	_, _, _, err = Project("pca", wf, make([]bool, 12), Params{NComponents: 2})
	assert.Error(t, err, "empty selection")
}

func TestTransformRejectsOtherShape(t *testing.T) {
	_, _, proj, err := Project("pca", twoShapes(10), nil, Params{NComponents: 2})
	require.NoError(t, err)

	_, err = proj.Transform(numeric.NewTensor3(3, 12, 2))
	assert.ErrorIs(t, err, ErrShapeMismatch)
}

func TestPeakMax(t *testing.T) {
	wf := twoShapes(6)
	features, chanMap, proj, err := Project("peak_max", wf, nil, Params{PeakIndex: 5})
	require.NoError(t, err)
	assert.Equal(t, 2, proj.NbFeature())
	for i := 0; i < 6; i++ {
		assert.Equal(t, wf.At(i, 5, 0), features.At(i, 0))
		assert.Equal(t, wf.At(i, 5, 1), features.At(i, 1))
	}
	assert.Equal(t, [][]bool{{true, false}, {false, true}}, chanMap)

	_, _, _, err = Project("peak_max", wf, nil, Params{PeakIndex: 10})
	assert.Error(t, err)
}

func TestPCAByChannel(t *testing.T) {
	wf := twoShapes(10)
	features, chanMap, proj, err := Project("pca_by_channel", wf, nil, Params{NComponentsByChannel: 2})
	require.NoError(t, err)

	r, c := features.Dims()
	assert.Equal(t, 10, r)
	assert.Equal(t, 4, c)
	assert.Equal(t, 4, proj.NbFeature())
	assert.Equal(t, [][]bool{{true, true, false, false}, {false, false, true, true}}, chanMap)
}
