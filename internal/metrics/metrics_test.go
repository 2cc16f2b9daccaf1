package metrics

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func assertSymmetricUnitDiagonal(t *testing.T, sim *mat.SymDense) {
	t.Helper()
	n := sim.SymmetricDim()
	for i := 0; i < n; i++ {
		assert.Equal(t, 1.0, sim.At(i, i))
		for j := 0; j < n; j++ {
			assert.Equal(t, sim.At(i, j), sim.At(j, i))
		}
	}
}

func TestCosineSimilarity(t *testing.T) {
	x := mat.NewDense(4, 2, []float64{
		1, 0,
		2, 0,
		0, 3,
		-1, 0,
	})
	sim := CosineSimilarity(x)
	assertSymmetricUnitDiagonal(t, sim)
	assert.InDelta(t, 1, sim.At(0, 1), 1e-12)
	assert.InDelta(t, 0, sim.At(0, 2), 1e-12)
	assert.InDelta(t, -1, sim.At(0, 3), 1e-12)
}

func TestCosineSimilarityWithMaxPenalizesScale(t *testing.T) {
	x := mat.NewDense(3, 2, []float64{
		1, 1,
		2, 2,
		0, 0,
	})
	sim := CosineSimilarityWithMax(x)
	assertSymmetricUnitDiagonal(t, sim)
	assert.InDelta(t, 0.5, sim.At(0, 1), 1e-12)
	assert.Equal(t, 0.0, sim.At(1, 2))
}

func TestSilhouette(t *testing.T) {
	x := mat.NewDense(5, 1, []float64{0, 1, 10, 11, 30})
	s, err := Silhouette(x, []int64{0, 0, 1, 1, 2})
	require.NoError(t, err)
	require.Len(t, s, 5)

	// Row 0: a = 1, b = mean(10, 11) = 10.5.
	assert.InDelta(t, (10.5-1)/10.5, s[0], 1e-12)
	// Row 2: a = 1, b = min(mean(10, 9), 20) = 9.5.
	assert.InDelta(t, (9.5-1)/9.5, s[2], 1e-12)
	// Singleton.
	assert.Equal(t, 0.0, s[4])
	for _, v := range s {
		assert.False(t, math.IsNaN(v))
		assert.LessOrEqual(t, v, 1.0)
		assert.GreaterOrEqual(t, v, -1.0)
	}
}

func TestSilhouetteLabelCount(t *testing.T) {
	x := mat.NewDense(3, 1, []float64{0, 1, 2})
	_, err := Silhouette(x, []int64{4, 4, 4})
	assert.Error(t, err)
	_, err = Silhouette(x, []int64{0, 1, 2})
	assert.Error(t, err)
	_, err = Silhouette(x, []int64{0, 1})
	assert.Error(t, err)
}

func TestPairsOverThreshold(t *testing.T) {
	sim := mat.NewSymDense(3, []float64{
		1, 0.97, 0.2,
		0.97, 1, 0.96,
		0.2, 0.96, 1,
	})
	pairs, err := PairsOverThreshold(sim, []int64{4, 7, 9}, 0.95)
	require.NoError(t, err)
	assert.Equal(t, [][2]int64{{4, 7}, {7, 9}}, pairs)

	pairs, err = PairsOverThreshold(sim, []int64{4, 7, 9}, 0.99)
	require.NoError(t, err)
	assert.Empty(t, pairs)

	_, err = PairsOverThreshold(sim, []int64{4}, 0.5)
	assert.Error(t, err)
}
