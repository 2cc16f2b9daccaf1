package cluster

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func blobs() *mat.Dense {
	return mat.NewDense(7, 2, []float64{
		0, 0,
		10, 10,
		0.1, 0,
		10.2, 9.9,
		0, 0.2,
		9.8, 10,
		0.1, 0.1,
	})
}

func TestNew(t *testing.T) {
	assert.Equal(t, []string{"dbscan", "kmeans"}, Methods())
	_, err := New("spectral", Params{})
	assert.ErrorIs(t, err, ErrUnknownMethod)

	c, err := New("kmeans", Params{NClusters: 3})
	require.NoError(t, err)
	assert.Equal(t, 3, c.GetParams().NClusters)
	c.SetParams(Params{NClusters: 2})
	assert.Equal(t, 2, c.GetParams().NClusters)
}

func TestKMeansTwoBlobs(t *testing.T) {
	c := NewKMeans(Params{NClusters: 2, Seed: 42})
	labels, err := c.FitPredict(blobs())
	require.NoError(t, err)
	// Larger blob first.
	assert.Equal(t, []int64{0, 1, 0, 1, 0, 1, 0}, labels)
}

func TestKMeansDeterministicForSeed(t *testing.T) {
	a, err := NewKMeans(Params{NClusters: 3, Seed: 7}).FitPredict(blobs())
	require.NoError(t, err)
	b, err := NewKMeans(Params{NClusters: 3, Seed: 7}).FitPredict(blobs())
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestKMeansErrors(t *testing.T) {
	_, err := NewKMeans(Params{NClusters: 0}).FitPredict(blobs())
	assert.Error(t, err)
	_, err = NewKMeans(Params{NClusters: 8}).FitPredict(blobs())
	assert.Error(t, err)
}

func TestDBSCAN(t *testing.T) {
	features := mat.NewDense(8, 2, []float64{
		0, 0,
		0.1, 0,
		0, 0.1,
		5, 5,
		5.1, 5,
		50, 50, // isolated
		5, 5.1,
		5.1, 5.1,
	})
	labels, err := NewDBSCAN(Params{Eps: 0.5, MinPts: 3}).FitPredict(features)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 1, 1, 0, 0, NoiseLabel, 0, 0}, labels)
}

func TestDBSCANErrors(t *testing.T) {
	_, err := NewDBSCAN(Params{Eps: 0, MinPts: 2}).FitPredict(blobs())
	assert.Error(t, err)
	_, err = NewDBSCAN(Params{Eps: 1, MinPts: 0}).FitPredict(blobs())
	assert.Error(t, err)
}

func TestRelabelBySize(t *testing.T) {
	got := relabelBySize([]int64{5, 2, 2, -1, 5, 2, 9})
	assert.Equal(t, []int64{1, 0, 0, NoiseLabel, 1, 0, 2}, got)
}
