package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// DefaultConfigPath is the path to the canonical catalogue defaults file.
const DefaultConfigPath = "config/catalogue.defaults.json"

// CatalogueConfig holds every parameter of a catalogue build session. The
// schema is flat so the same JSON can drive the CLI and be stored next to
// a run for reproducibility. Nil fields fall back to the Get* defaults.
type CatalogueConfig struct {
	ChunkSize *int `json:"chunksize,omitempty"`

	// Conditioning
	ConditioningEngine *string  `json:"signalpreprocessor_engine,omitempty"`
	HighpassFreq       *float64 `json:"highpass_freq,omitempty"`
	LowpassFreq        *float64 `json:"lowpass_freq,omitempty"` // 0 disables
	SmoothSize         *int     `json:"smooth_size,omitempty"`
	CommonRefRemoval   *bool    `json:"common_ref_removal,omitempty"`
	LostfrontChunksize *int     `json:"lostfront_chunksize,omitempty"`
	NoiseDuration      *string  `json:"noise_duration,omitempty"` // duration string like "10s"
	Duration           *string  `json:"duration,omitempty"`       // processed per segment

	// Peak detection
	DetectorEngine    *string  `json:"peakdetector_engine,omitempty"`
	PeakSign          *string  `json:"peak_sign,omitempty"`
	RelativeThreshold *float64 `json:"relative_threshold,omitempty"`
	PeakSpan          *float64 `json:"peak_span,omitempty"` // seconds

	// Waveform sample
	NLeft          *int    `json:"n_left,omitempty"`
	NRight         *int    `json:"n_right,omitempty"`
	Mode           *string `json:"mode,omitempty"`
	NbMax          *int    `json:"nb_max,omitempty"`
	AlignWaveform  *bool   `json:"align_waveform,omitempty"`
	SubsampleRatio *int    `json:"subsample_ratio,omitempty"`
	FindGoodLimits *bool   `json:"find_good_limits,omitempty"`
	NoiseSnippets  *int    `json:"nb_noise_snippet,omitempty"`

	// Features and clusters
	FeatureMethod        *string  `json:"feature_method,omitempty"`
	NComponents          *int     `json:"n_components,omitempty"`
	NComponentsByChannel *int     `json:"n_components_by_channel,omitempty"`
	ClusterMethod        *string  `json:"cluster_method,omitempty"`
	NClusters            *int     `json:"n_clusters,omitempty"`
	DBSCANEps            *float64 `json:"dbscan_eps,omitempty"`
	DBSCANMinPts         *int     `json:"dbscan_min_pts,omitempty"`
	TrashSmallCluster    *int     `json:"trash_small_cluster,omitempty"`
	OrderBy              *string  `json:"order_by,omitempty"`

	Seed *uint64 `json:"seed,omitempty"`
}

func ptrFloat64(v float64) *float64 { return &v }
func ptrBool(v bool) *bool          { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }
func ptrUint64(v uint64) *uint64    { return &v }

// DefaultCatalogueConfig returns a config with every field set to its default.
func DefaultCatalogueConfig() *CatalogueConfig {
	c := &CatalogueConfig{}
	return &CatalogueConfig{
		ChunkSize:            ptrInt(c.GetChunkSize()),
		ConditioningEngine:   ptrString(c.GetConditioningEngine()),
		HighpassFreq:         ptrFloat64(c.GetHighpassFreq()),
		LowpassFreq:          ptrFloat64(c.GetLowpassFreq()),
		SmoothSize:           ptrInt(c.GetSmoothSize()),
		CommonRefRemoval:     ptrBool(c.GetCommonRefRemoval()),
		LostfrontChunksize:   ptrInt(c.GetLostfrontChunksize()),
		NoiseDuration:        ptrString(c.GetNoiseDuration().String()),
		Duration:             ptrString(c.GetDuration().String()),
		DetectorEngine:       ptrString(c.GetDetectorEngine()),
		PeakSign:             ptrString(c.GetPeakSign()),
		RelativeThreshold:    ptrFloat64(c.GetRelativeThreshold()),
		PeakSpan:             ptrFloat64(c.GetPeakSpan()),
		NLeft:                ptrInt(c.GetNLeft()),
		NRight:               ptrInt(c.GetNRight()),
		Mode:                 ptrString(c.GetMode()),
		NbMax:                ptrInt(c.GetNbMax()),
		AlignWaveform:        ptrBool(c.GetAlignWaveform()),
		SubsampleRatio:       ptrInt(c.GetSubsampleRatio()),
		FindGoodLimits:       ptrBool(c.GetFindGoodLimits()),
		NoiseSnippets:        ptrInt(c.GetNoiseSnippets()),
		FeatureMethod:        ptrString(c.GetFeatureMethod()),
		NComponents:          ptrInt(c.GetNComponents()),
		NComponentsByChannel: ptrInt(c.GetNComponentsByChannel()),
		ClusterMethod:        ptrString(c.GetClusterMethod()),
		NClusters:            ptrInt(c.GetNClusters()),
		DBSCANEps:            ptrFloat64(c.GetDBSCANEps()),
		DBSCANMinPts:         ptrInt(c.GetDBSCANMinPts()),
		TrashSmallCluster:    ptrInt(c.GetTrashSmallCluster()),
		OrderBy:              ptrString(c.GetOrderBy()),
		Seed:                 ptrUint64(c.GetSeed()),
	}
}

// Load loads a CatalogueConfig from a JSON file.
// The file must have a .json extension and be under 1MB. Fields omitted
// from the file keep their defaults, so partial configs are safe.
func Load(path string) (*CatalogueConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &CatalogueConfig{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks the values that are set.
func (c *CatalogueConfig) Validate() error {
	if c.ChunkSize != nil && *c.ChunkSize <= 0 {
		return fmt.Errorf("chunksize must be positive, got %d", *c.ChunkSize)
	}
	if c.LostfrontChunksize != nil && (*c.LostfrontChunksize < 0 || *c.LostfrontChunksize >= c.GetChunkSize()) {
		return fmt.Errorf("lostfront_chunksize must be in [0, %d), got %d", c.GetChunkSize(), *c.LostfrontChunksize)
	}
	if c.HighpassFreq != nil && *c.HighpassFreq < 0 {
		return fmt.Errorf("highpass_freq must be non-negative, got %f", *c.HighpassFreq)
	}
	if c.LowpassFreq != nil && *c.LowpassFreq < 0 {
		return fmt.Errorf("lowpass_freq must be non-negative, got %f", *c.LowpassFreq)
	}
	for name, d := range map[string]*string{"noise_duration": c.NoiseDuration, "duration": c.Duration} {
		if d != nil && *d != "" {
			v, err := time.ParseDuration(*d)
			if err != nil {
				return fmt.Errorf("invalid %s '%s': %w", name, *d, err)
			}
			if v <= 0 {
				return fmt.Errorf("%s must be positive, got %s", name, *d)
			}
		}
	}
	if c.PeakSign != nil && *c.PeakSign != "-" && *c.PeakSign != "+" {
		return fmt.Errorf("peak_sign must be \"-\" or \"+\", got %q", *c.PeakSign)
	}
	if c.RelativeThreshold != nil && *c.RelativeThreshold <= 0 {
		return fmt.Errorf("relative_threshold must be positive, got %f", *c.RelativeThreshold)
	}
	if c.NLeft != nil && *c.NLeft >= 0 {
		return fmt.Errorf("n_left must be negative, got %d", *c.NLeft)
	}
	if c.NRight != nil && *c.NRight <= 0 {
		return fmt.Errorf("n_right must be positive, got %d", *c.NRight)
	}
	if c.Mode != nil && *c.Mode != "rand" && *c.Mode != "all" {
		return fmt.Errorf("mode must be \"rand\" or \"all\", got %q", *c.Mode)
	}
	if c.SubsampleRatio != nil && *c.SubsampleRatio <= 0 {
		return fmt.Errorf("subsample_ratio must be positive, got %d", *c.SubsampleRatio)
	}
	if c.OrderBy != nil && *c.OrderBy != "waveforms_rms" && *c.OrderBy != "max_peak_amplitude" {
		return fmt.Errorf("order_by must be \"waveforms_rms\" or \"max_peak_amplitude\", got %q", *c.OrderBy)
	}
	if c.TrashSmallCluster != nil && *c.TrashSmallCluster < 0 {
		return fmt.Errorf("trash_small_cluster must be non-negative, got %d", *c.TrashSmallCluster)
	}
	return nil
}

func (c *CatalogueConfig) GetChunkSize() int {
	if c.ChunkSize == nil {
		return 1024
	}
	return *c.ChunkSize
}

func (c *CatalogueConfig) GetConditioningEngine() string {
	if c.ConditioningEngine == nil {
		return "iir"
	}
	return *c.ConditioningEngine
}

func (c *CatalogueConfig) GetHighpassFreq() float64 {
	if c.HighpassFreq == nil {
		return 300
	}
	return *c.HighpassFreq
}

func (c *CatalogueConfig) GetLowpassFreq() float64 {
	if c.LowpassFreq == nil {
		return 0 // disabled
	}
	return *c.LowpassFreq
}

func (c *CatalogueConfig) GetSmoothSize() int {
	if c.SmoothSize == nil {
		return 0
	}
	return *c.SmoothSize
}

func (c *CatalogueConfig) GetCommonRefRemoval() bool {
	if c.CommonRefRemoval == nil {
		return false
	}
	return *c.CommonRefRemoval
}

func (c *CatalogueConfig) GetLostfrontChunksize() int {
	if c.LostfrontChunksize == nil {
		return 128
	}
	return *c.LostfrontChunksize
}

// GetNoiseDuration returns how much of segment 0 is used to estimate noise.
func (c *CatalogueConfig) GetNoiseDuration() time.Duration {
	return parseDurationOr(c.NoiseDuration, 10*time.Second)
}

// GetDuration returns how much of each segment is processed.
func (c *CatalogueConfig) GetDuration() time.Duration {
	return parseDurationOr(c.Duration, 60*time.Second)
}

func parseDurationOr(s *string, def time.Duration) time.Duration {
	if s == nil || *s == "" {
		return def
	}
	d, err := time.ParseDuration(*s)
	if err != nil {
		return def // default on parse error
	}
	return d
}

func (c *CatalogueConfig) GetDetectorEngine() string {
	if c.DetectorEngine == nil {
		return "threshold"
	}
	return *c.DetectorEngine
}

func (c *CatalogueConfig) GetPeakSign() string {
	if c.PeakSign == nil {
		return "-"
	}
	return *c.PeakSign
}

func (c *CatalogueConfig) GetRelativeThreshold() float64 {
	if c.RelativeThreshold == nil {
		return 7
	}
	return *c.RelativeThreshold
}

func (c *CatalogueConfig) GetPeakSpan() float64 {
	if c.PeakSpan == nil {
		return 0.0002
	}
	return *c.PeakSpan
}

func (c *CatalogueConfig) GetNLeft() int {
	if c.NLeft == nil {
		return -20
	}
	return *c.NLeft
}

func (c *CatalogueConfig) GetNRight() int {
	if c.NRight == nil {
		return 30
	}
	return *c.NRight
}

func (c *CatalogueConfig) GetMode() string {
	if c.Mode == nil {
		return "rand"
	}
	return *c.Mode
}

func (c *CatalogueConfig) GetNbMax() int {
	if c.NbMax == nil {
		return 10000
	}
	return *c.NbMax
}

func (c *CatalogueConfig) GetAlignWaveform() bool {
	if c.AlignWaveform == nil {
		return false
	}
	return *c.AlignWaveform
}

func (c *CatalogueConfig) GetSubsampleRatio() int {
	if c.SubsampleRatio == nil {
		return 20
	}
	return *c.SubsampleRatio
}

func (c *CatalogueConfig) GetFindGoodLimits() bool {
	if c.FindGoodLimits == nil {
		return true
	}
	return *c.FindGoodLimits
}

func (c *CatalogueConfig) GetNoiseSnippets() int {
	if c.NoiseSnippets == nil {
		return 300
	}
	return *c.NoiseSnippets
}

func (c *CatalogueConfig) GetFeatureMethod() string {
	if c.FeatureMethod == nil {
		return "pca"
	}
	return *c.FeatureMethod
}

func (c *CatalogueConfig) GetNComponents() int {
	if c.NComponents == nil {
		return 5
	}
	return *c.NComponents
}

func (c *CatalogueConfig) GetNComponentsByChannel() int {
	if c.NComponentsByChannel == nil {
		return 3
	}
	return *c.NComponentsByChannel
}

func (c *CatalogueConfig) GetClusterMethod() string {
	if c.ClusterMethod == nil {
		return "kmeans"
	}
	return *c.ClusterMethod
}

func (c *CatalogueConfig) GetNClusters() int {
	if c.NClusters == nil {
		return 5
	}
	return *c.NClusters
}

func (c *CatalogueConfig) GetDBSCANEps() float64 {
	if c.DBSCANEps == nil {
		return 3
	}
	return *c.DBSCANEps
}

func (c *CatalogueConfig) GetDBSCANMinPts() int {
	if c.DBSCANMinPts == nil {
		return 5
	}
	return *c.DBSCANMinPts
}

// GetTrashSmallCluster returns the cluster size at or below which clusters
// are dissolved; 0 disables the step.
func (c *CatalogueConfig) GetTrashSmallCluster() int {
	if c.TrashSmallCluster == nil {
		return 0
	}
	return *c.TrashSmallCluster
}

func (c *CatalogueConfig) GetOrderBy() string {
	if c.OrderBy == nil {
		return "waveforms_rms"
	}
	return *c.OrderBy
}

func (c *CatalogueConfig) GetSeed() uint64 {
	if c.Seed == nil {
		return 0
	}
	return *c.Seed
}
