package sentinel

import (
	"stock-sentinel/config"
	"stock-sentinel/internal/alert"
	"stock-sentinel/internal/anomaly"
	"stock-sentinel/internal/correlate"
	"stock-sentinel/internal/decision"
	"stock-sentinel/internal/forecast"
	"stock-sentinel/internal/indicator"
)

// Component configs are derived from the flat application config; keys
// the application config does not expose keep the component defaults.

func indicatorConfig(cfg *config.Config) indicator.Config {
	c := indicator.DefaultConfig()
	c.Lookback = cfg.IndicatorLookback
	c.MinSamples = cfg.IndicatorMinSamples
	c.StaleAfter = cfg.StateStaleAfter
	c.Smoothing = indicator.Smoothing(cfg.RSIWarmSmoothing)
	return c
}

func anomalyConfig(cfg *config.Config, ind indicator.Config) anomaly.Config {
	c := anomaly.DefaultConfig()
	c.PriceThreshold = cfg.PriceChangeThreshold
	c.VolumeThreshold = cfg.VolumeSpikeThreshold
	c.Window = ind.Lookback
	return c
}

func correlateConfig(cfg *config.Config) correlate.Config {
	return correlate.Config{
		Before:   cfg.TimeWindowBefore,
		After:    cfg.TimeWindowAfter,
		MinScore: cfg.MinCorrelationScore,
		TopN:     cfg.CorrelationTopN,
	}
}

func alertConfig(cfg *config.Config) alert.Config {
	c := alert.DefaultConfig()
	c.PriceWarning = cfg.AlertPriceWarning
	c.PriceCritical = cfg.AlertPriceCritical
	c.VolumeSpike = cfg.AlertVolumeSpike
	c.RSIOverbought = cfg.RSIOverbought
	c.RSIOversold = cfg.RSIOversold
	c.SentimentPositive = cfg.SentimentExtremePositive
	c.SentimentNegative = cfg.SentimentExtremeNegative
	c.SentimentRapid = cfg.SentimentRapidChange
	c.DeviationWarning = cfg.GPRDeviationWarning
	c.DeviationCritical = cfg.GPRDeviationCritical
	return c
}

func decisionConfig(cfg *config.Config) decision.Config {
	c := decision.DefaultConfig()
	c.BuyThreshold = cfg.BuyThreshold
	c.RSIOverbought = cfg.RSIOverbought
	c.RSIOversold = cfg.RSIOversold
	return c
}

func forecastConfig(cfg *config.Config, ind indicator.Config) forecast.Config {
	c := forecast.DefaultConfig()
	c.TrainingWindow = cfg.TrainingWindow
	c.Horizon = cfg.PredictionHorizon
	c.Restarts = cfg.GPRRestarts
	c.Seed = cfg.GPRSeed
	c.Indicator = ind
	return c
}

// Stages are the stateless analysis stages built from one configuration.
type Stages struct {
	Indicator indicator.Config
	Anomaly   anomaly.Config
	Detector  *anomaly.Detector
	Rules     *alert.Engine
	Fuser     *decision.Fuser
}

// NewStages builds the analysis stages for cfg. The service and the
// offline tools share them so both apply the same thresholds.
func NewStages(cfg *config.Config) Stages {
	ind := indicatorConfig(cfg)
	an := anomalyConfig(cfg, ind)
	return Stages{
		Indicator: ind,
		Anomaly:   an,
		Detector:  anomaly.NewDetector(an),
		Rules:     alert.New(alertConfig(cfg)),
		Fuser:     decision.New(decisionConfig(cfg)),
	}
}

// ForecastConfig exposes the forecast settings derived from cfg, for the
// one-shot CLI.
func ForecastConfig(cfg *config.Config) forecast.Config {
	return forecastConfig(cfg, indicatorConfig(cfg))
}
