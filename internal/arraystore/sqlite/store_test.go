package sqlite

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/egaudrain/tridesclous/internal/arraystore"
)

func openTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "catalogue.db")
	s, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s, path
}

func TestOpenAppliesMigrations(t *testing.T) {
	s, _ := openTestStore(t)

	version, dirty, err := s.MigrateVersion()
	require.NoError(t, err)
	assert.False(t, dirty)
	assert.Equal(t, uint(2), version)

	// Re-running is a no-op.
	require.NoError(t, s.MigrateUp())
}

func TestMigrateDownDropsRuns(t *testing.T) {
	s, _ := openTestStore(t)
	require.NoError(t, s.MigrateDown())

	var n int
	err := s.DB().QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='runs'`).Scan(&n)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	require.NoError(t, s.MigrateUp())
}

func TestChunksPersistAcrossReopen(t *testing.T) {
	s, path := openTestStore(t)

	require.NoError(t, s.Initialize("all_peaks"))
	require.NoError(t, arraystore.AppendChunk(s, "all_peaks", []int64{1, 2}))
	require.NoError(t, arraystore.AppendChunk(s, "all_peaks", []int64{3}))
	require.NoError(t, arraystore.Save(s, "signals_medians", []float64{0.5, -0.5}))
	require.NoError(t, s.Close())

	s2, err := Open(path)
	require.NoError(t, err)
	defer s2.Close()

	peaks, ok, err := arraystore.LoadChunks[int64](s2, "all_peaks")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []int64{1, 2, 3}, peaks)

	med, ok, err := arraystore.Load[[]float64](s2, "signals_medians")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []float64{0.5, -0.5}, med)

	names, err := s2.Names()
	require.NoError(t, err)
	assert.Equal(t, []string{"all_peaks", "signals_medians"}, names)
}

func TestInitializeClearsAndDetachCascades(t *testing.T) {
	s, _ := openTestStore(t)

	require.NoError(t, s.Initialize("x"))
	require.NoError(t, s.Append("x", []byte{1}))
	require.NoError(t, s.Initialize("x"))
	blobs, err := s.Blobs("x")
	require.NoError(t, err)
	assert.Empty(t, blobs)

	require.NoError(t, s.Append("x", []byte{2}))
	require.NoError(t, s.Detach("x"))
	_, err = s.Blobs("x")
	assert.ErrorIs(t, err, arraystore.ErrNotFound)

	var n int
	require.NoError(t, s.DB().QueryRow(`SELECT COUNT(*) FROM array_chunks`).Scan(&n))
	assert.Equal(t, 0, n)

	assert.ErrorIs(t, s.Append("x", []byte{3}), arraystore.ErrNotFound)
}

func TestInfoVersioning(t *testing.T) {
	s, _ := openTestStore(t)

	v, err := s.InfoVersion("chunksize")
	require.NoError(t, err)
	assert.Equal(t, int64(0), v)

	require.NoError(t, s.PutInfo("chunksize", []byte("1024")))
	require.NoError(t, s.PutInfo("chunksize", []byte("512")))

	v, err = s.InfoVersion("chunksize")
	require.NoError(t, err)
	assert.Equal(t, int64(2), v)

	info, err := s.Info()
	require.NoError(t, err)
	assert.Equal(t, "512", string(info["chunksize"]))
}

func TestRunHistory(t *testing.T) {
	s, _ := openTestStore(t)
	start := time.Now()

	runs := []arraystore.Run{
		{ID: uuid.New().String(), Stage: "run", ParamsJSON: `{"duration":10}`, StartedAt: start, FinishedAt: start.Add(time.Second), Status: arraystore.RunStatusCompleted},
		{ID: uuid.New().String(), Stage: "extract_some_waveforms", StartedAt: start.Add(2 * time.Second), FinishedAt: start.Add(3 * time.Second), Status: arraystore.RunStatusFailed, Error: "boom"},
	}
	for _, r := range runs {
		require.NoError(t, s.RecordRun(r))
	}

	got, err := s.Runs()
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "run", got[0].Stage)
	assert.Equal(t, `{"duration":10}`, got[0].ParamsJSON)
	assert.Equal(t, start.UnixNano(), got[0].StartedAt.UnixNano())
	assert.Equal(t, "boom", got[1].Error)
	assert.Empty(t, got[0].Error)
}
