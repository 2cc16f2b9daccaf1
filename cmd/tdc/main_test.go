package main

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"math"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/egaudrain/tridesclous/internal/catalogue"
	"github.com/egaudrain/tridesclous/internal/config"
)

// writeRecording writes a 2-channel int16 recording at 10 kHz with
// alternating spikes of two shapes.
func writeRecording(t *testing.T, dir string) string {
	t.Helper()
	const n = 20000
	shapes := [2][2]float64{{300, 100}, {0, 600}}
	rng := rand.New(rand.NewPCG(3, 1))
	data := make([]int16, n*2)
	for i := 0; i < n; i++ {
		for ch := 0; ch < 2; ch++ {
			v := 10 * rng.NormFloat64()
			for k := 0; k < 20; k++ {
				d := float64(i - (1500 + 900*k))
				if math.Abs(d) < 12 {
					v -= shapes[k%2][ch] * math.Exp(-d*d/(2*1.5*1.5))
				}
			}
			data[i*2+ch] = int16(math.Round(v))
		}
	}
	path := filepath.Join(dir, "seg0.raw")
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, binary.Write(f, binary.LittleEndian, data))
	require.NoError(t, f.Close())
	return path
}

func writeConfig(t *testing.T, dir string) string {
	t.Helper()
	cfg := map[string]any{
		"chunksize":           1000,
		"highpass_freq":       0,
		"lostfront_chunksize": 100,
		"noise_duration":      "500ms",
		"duration":            "2s",
		"relative_threshold":  8,
		"n_left":              -10,
		"n_right":             10,
		"mode":                "all",
		"find_good_limits":    false,
		"nb_noise_snippet":    20,
		"n_components":        2,
		"n_clusters":          2,
		"seed":                7,
	}
	data, err := json.Marshal(cfg)
	require.NoError(t, err)
	path := filepath.Join(dir, "tdc.json")
	require.NoError(t, os.WriteFile(path, data, 0o644))

	loaded, err := config.Load(path)
	require.NoError(t, err)
	require.Equal(t, 2, loaded.GetNClusters())
	return path
}

func TestBuildStatusExport(t *testing.T) {
	dir := t.TempDir()
	raw := writeRecording(t, dir)
	cfgPath := writeConfig(t, dir)
	db := filepath.Join(dir, "catalogue.db")

	var out bytes.Buffer
	err := run([]string{"build", "-db", db, "-config", cfgPath, "-channels", "2", "-rate", "10000", raw}, &out)
	require.NoError(t, err)
	assert.Contains(t, out.String(), "2 clusters")

	out.Reset()
	require.NoError(t, run([]string{"status", "-db", db}, &out))
	for _, stage := range []string{"run_signalprocessor", "find_clusters", "save_catalogue"} {
		assert.Contains(t, out.String(), stage)
	}
	assert.Contains(t, out.String(), "catalogue ")

	exported := filepath.Join(dir, "catalogue.json")
	out.Reset()
	require.NoError(t, run([]string{"export", "-db", db, "-out", exported}, &out))
	data, err := os.ReadFile(exported)
	require.NoError(t, err)
	var cat catalogue.Catalogue
	require.NoError(t, json.Unmarshal(data, &cat))
	assert.Equal(t, []int64{0, 1}, cat.ClusterLabels)
	assert.Equal(t, -8, cat.NLeft)
	assert.Equal(t, 8, cat.NRight)
	assert.Equal(t, 2, cat.Centers0.N)
	assert.NotEmpty(t, cat.CatalogueID)
}

func TestRunRejectsBadInvocations(t *testing.T) {
	var out bytes.Buffer
	assert.Error(t, run(nil, &out))
	assert.Error(t, run([]string{"frobnicate"}, &out))
	assert.Error(t, run([]string{"build", "-channels", "2"}, &out), "no raw file")
	assert.Error(t, run([]string{"status", "-db", filepath.Join(t.TempDir(), "missing.db")}, &out))

	require.NoError(t, run([]string{"version"}, &out))
	assert.True(t, strings.HasPrefix(out.String(), "tdc "))
}

func TestStatusWithoutCatalogue(t *testing.T) {
	dir := t.TempDir()
	db := filepath.Join(dir, "empty.db")
	f, err := os.Create(db)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	var out bytes.Buffer
	require.NoError(t, run([]string{"status", "-db", db}, &out))
	assert.Contains(t, out.String(), "no catalogue saved")
	assert.Error(t, run([]string{"export", "-db", db}, &out))
}

func TestMigrateSubcommand(t *testing.T) {
	db := filepath.Join(t.TempDir(), "catalogue.db")
	f, err := os.Create(db)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	var out bytes.Buffer
	require.NoError(t, run([]string{"migrate", "-db", db, "status"}, &out))
	assert.Contains(t, out.String(), "schema version 2 (dirty: false)")

	out.Reset()
	require.NoError(t, run([]string{"migrate", "-db", db, "down"}, &out))
	assert.Contains(t, out.String(), "rolled back one migration")
	assert.Contains(t, out.String(), "schema version 1 (dirty: false)")

	out.Reset()
	require.NoError(t, run([]string{"migrate", "-db", db, "up"}, &out))
	assert.Contains(t, out.String(), "schema version 2")

	assert.Error(t, run([]string{"migrate", "-db", db}, &out), "no action")
	assert.Error(t, run([]string{"migrate", "-db", db, "force"}, &out))
	assert.Error(t, run([]string{"migrate", "-db", filepath.Join(t.TempDir(), "missing.db"), "status"}, &out))
}
