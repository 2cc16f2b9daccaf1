package main

import (
	"fmt"

	"github.com/egaudrain/tridesclous/internal/catalogue"
	"github.com/egaudrain/tridesclous/internal/cluster"
	"github.com/egaudrain/tridesclous/internal/config"
	"github.com/egaudrain/tridesclous/internal/decomposition"
	"github.com/egaudrain/tridesclous/internal/monitoring"
	"github.com/egaudrain/tridesclous/internal/signal"
)

func conditioningParams(cfg *config.CatalogueConfig) signal.ConditioningParams {
	return signal.ConditioningParams{
		Engine:             cfg.GetConditioningEngine(),
		HighpassFreq:       cfg.GetHighpassFreq(),
		LowpassFreq:        cfg.GetLowpassFreq(),
		SmoothSize:         cfg.GetSmoothSize(),
		CommonRefRemoval:   cfg.GetCommonRefRemoval(),
		LostfrontChunksize: cfg.GetLostfrontChunksize(),
	}
}

func detectionParams(cfg *config.CatalogueConfig) signal.DetectionParams {
	return signal.DetectionParams{
		Engine:            cfg.GetDetectorEngine(),
		PeakSign:          cfg.GetPeakSign(),
		RelativeThreshold: cfg.GetRelativeThreshold(),
		PeakSpan:          cfg.GetPeakSpan(),
	}
}

// build runs the whole construction lifecycle on a freshly opened
// constructor and saves the resulting catalogue.
func build(c *catalogue.Constructor, cfg *config.CatalogueConfig) (*catalogue.Catalogue, error) {
	if err := c.Configure(conditioningParams(cfg), detectionParams(cfg), cfg.GetChunkSize()); err != nil {
		return nil, fmt.Errorf("configure: %w", err)
	}
	if err := c.EstimateNoise(0, cfg.GetNoiseDuration().Seconds()); err != nil {
		return nil, fmt.Errorf("estimate noise: %w", err)
	}
	if err := c.Run(cfg.GetDuration().Seconds(), true); err != nil {
		return nil, fmt.Errorf("run signal processor: %w", err)
	}
	if len(c.Peaks()) == 0 {
		return nil, fmt.Errorf("%w: no peak detected", catalogue.ErrPrecondition)
	}

	wp := catalogue.WaveformParams{
		NLeft:          cfg.GetNLeft(),
		NRight:         cfg.GetNRight(),
		Mode:           cfg.GetMode(),
		NbMax:          cfg.GetNbMax(),
		Align:          cfg.GetAlignWaveform(),
		SubsampleRatio: cfg.GetSubsampleRatio(),
	}
	if err := c.ExtractSomeWaveforms(wp); err != nil {
		return nil, fmt.Errorf("extract waveforms: %w", err)
	}
	if cfg.GetFindGoodLimits() {
		nLeft, nRight, ok, err := c.FindGoodLimits(catalogue.DefaultGoodLimitsParams())
		if err != nil {
			return nil, fmt.Errorf("find good limits: %w", err)
		}
		if ok {
			monitoring.Diagf("tdc: window trimmed to [%d, %d)", nLeft, nRight)
		}
	}
	if n := cfg.GetNoiseSnippets(); n > 0 {
		if err := c.ExtractSomeNoise(n); err != nil {
			return nil, fmt.Errorf("extract noise: %w", err)
		}
	}

	dp := decomposition.Params{
		NComponents:          cfg.GetNComponents(),
		NComponentsByChannel: cfg.GetNComponentsByChannel(),
	}
	if err := c.ExtractSomeFeatures(cfg.GetFeatureMethod(), nil, dp); err != nil {
		return nil, fmt.Errorf("extract features: %w", err)
	}

	cp := cluster.Params{
		NClusters: cfg.GetNClusters(),
		Eps:       cfg.GetDBSCANEps(),
		MinPts:    cfg.GetDBSCANMinPts(),
		Seed:      cfg.GetSeed(),
	}
	if err := c.FindClusters(cfg.GetClusterMethod(), nil, cp); err != nil {
		return nil, fmt.Errorf("find clusters: %w", err)
	}
	if n := cfg.GetTrashSmallCluster(); n > 0 {
		if err := c.TrashSmallCluster(int64(n)); err != nil {
			return nil, fmt.Errorf("trash small clusters: %w", err)
		}
	}
	if err := c.OrderClusters(cfg.GetOrderBy()); err != nil {
		return nil, fmt.Errorf("order clusters: %w", err)
	}
	if pairs, err := c.DetectHighSimilarity(0.95); err == nil && len(pairs) > 0 {
		monitoring.Opsf("tdc: %d cluster pairs above 0.95 similarity: %v", len(pairs), pairs)
	}

	cat, err := c.SaveCatalogue()
	if err != nil {
		return nil, fmt.Errorf("save catalogue: %w", err)
	}
	return cat, nil
}
