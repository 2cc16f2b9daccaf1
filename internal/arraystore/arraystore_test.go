package arraystore

import (
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type peak struct {
	Index   int64
	Label   int64
	Segment int64
}

func TestCodecRoundTripKeepsNaN(t *testing.T) {
	in := []float64{1.5, math.NaN(), -2}
	blob, err := Encode(in)
	require.NoError(t, err)

	var out []float64
	require.NoError(t, Decode(blob, &out))
	require.Len(t, out, 3)
	assert.Equal(t, 1.5, out[0])
	assert.True(t, math.IsNaN(out[1]))
	assert.Equal(t, -2.0, out[2])
}

func TestDecodeRejectsEmptyAndGarbage(t *testing.T) {
	var out []float64
	assert.Error(t, Decode(nil, &out))
	assert.Error(t, Decode([]byte("not gzip"), &out))
}

func TestSaveLoad(t *testing.T) {
	s := NewMemStore()

	_, ok, err := Load[[]float64](s, "signals_mads")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, Save(s, "signals_mads", []float64{1, 2}))
	got, ok, err := Load[[]float64](s, "signals_mads")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []float64{1, 2}, got)

	require.NoError(t, Save(s, "signals_mads", []float64{3}))
	got, _, err = Load[[]float64](s, "signals_mads")
	require.NoError(t, err)
	assert.Equal(t, []float64{3}, got)
}

func TestAppendChunkLoadChunks(t *testing.T) {
	s := NewMemStore()
	require.Error(t, AppendChunk(s, "all_peaks", []peak{{Index: 1}}), "append before initialize")

	require.NoError(t, s.Initialize("all_peaks"))
	got, ok, err := LoadChunks[peak](s, "all_peaks")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Empty(t, got)

	require.NoError(t, AppendChunk(s, "all_peaks", []peak{{Index: 10, Label: -10}}))
	require.NoError(t, AppendChunk[peak](s, "all_peaks", nil))
	require.NoError(t, AppendChunk(s, "all_peaks", []peak{{Index: 20, Label: -10}, {Index: 5, Segment: 1}}))

	got, ok, err = LoadChunks[peak](s, "all_peaks")
	require.NoError(t, err)
	require.True(t, ok)
	want := []peak{{10, -10, 0}, {20, -10, 0}, {5, 0, 1}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("peaks mismatch (-want +got):\n%s", diff)
	}

	_, _, err = Load[[]peak](s, "all_peaks")
	assert.Error(t, err, "multi-chunk array is not a single value")
}

func TestMemStoreDetachAndNames(t *testing.T) {
	s := NewMemStore()
	require.NoError(t, Save(s, "b", 1))
	require.NoError(t, Save(s, "a", 2))

	names, err := s.Names()
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, names)

	require.NoError(t, s.Detach("a"))
	require.NoError(t, s.Detach("missing"))
	ok, err := s.Exists("a")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = s.Blobs("a")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemStoreInfoIsCopied(t *testing.T) {
	s := NewMemStore()
	v := []byte(`{"chunksize":1024}`)
	require.NoError(t, s.PutInfo("chunksize", v))
	v[0] = 'X'

	info, err := s.Info()
	require.NoError(t, err)
	assert.Equal(t, `{"chunksize":1024}`, string(info["chunksize"]))
}
