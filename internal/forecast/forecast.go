// Package forecast predicts near-term close prices with Gaussian process
// regression over daily price, technical and sentiment features.
package forecast

import (
	"context"
	"fmt"
	"log"
	"time"

	"stock-sentinel/internal/indicator"
	"stock-sentinel/internal/model"
)

// ModelVersion tags persisted forecast records.
const ModelVersion = "gpr-rbf-white-v1"

// Config controls training and prediction.
type Config struct {
	TrainingWindow int // daily bars used as training rows
	Warmup         int // extra bars fetched so technicals are defined in the window
	MinRows        int
	Horizon        int
	Restarts       int
	Seed           int64
	Jitter         float64
	Indicator      indicator.Config
}

// DefaultConfig returns a 60-row window, 5-day horizon and 10 restarts.
func DefaultConfig() Config {
	return Config{
		TrainingWindow: 60,
		Warmup:         30,
		MinRows:        30,
		Horizon:        5,
		Restarts:       10,
		Seed:           42,
		Jitter:         1e-6,
		Indicator:      indicator.DefaultConfig(),
	}
}

// Forecaster fits a GP per call; it keeps no model between calls.
type Forecaster struct {
	cfg       Config
	daily     model.DailySource
	sentiment model.SentimentAggregateSource
}

// New creates a Forecaster. sentiment may be nil.
func New(daily model.DailySource, sentiment model.SentimentAggregateSource, cfg Config) *Forecaster {
	d := DefaultConfig()
	if cfg.TrainingWindow <= 0 {
		cfg.TrainingWindow = d.TrainingWindow
	}
	if cfg.Warmup < 0 {
		cfg.Warmup = 0
	}
	if cfg.MinRows <= 0 {
		cfg.MinRows = d.MinRows
	}
	if cfg.Horizon <= 0 {
		cfg.Horizon = d.Horizon
	}
	if cfg.Restarts < 0 {
		cfg.Restarts = 0
	}
	if cfg.Jitter <= 0 {
		cfg.Jitter = d.Jitter
	}
	return &Forecaster{cfg: cfg, daily: daily, sentiment: sentiment}
}

// Forecast refits on the latest daily bars and predicts horizon days
// after issue (0 = configured horizon).
//
// Every step reuses the last observed feature row, so all steps share
// the same mean and interval; only the target date advances.
func (f *Forecaster) Forecast(ctx context.Context, inst model.Instrument, horizon int, issue time.Time) ([]model.ForecastRecord, error) {
	if horizon <= 0 {
		horizon = f.cfg.Horizon
	}

	bars, err := f.daily.DailyBars(ctx, inst.Code, f.cfg.TrainingWindow+f.cfg.Warmup)
	if err != nil {
		return nil, model.Upstream("daily bars", err)
	}

	var days []model.SentimentDay
	if f.sentiment != nil && len(bars) > 0 {
		since := bars[0].Time
		for _, b := range bars {
			if b.Time.Before(since) {
				since = b.Time
			}
		}
		days, err = f.sentiment.DailySentiment(ctx, inst.Code, since)
		if err != nil {
			// Sentiment only enriches the features; train without it.
			log.Printf("[forecast] %s: sentiment aggregates unavailable: %v", inst, err)
			days = nil
		}
	}

	ds := BuildDataset(inst.Code, bars, days, f.cfg.TrainingWindow, f.cfg.Indicator)
	if ds.Rows() < f.cfg.MinRows {
		return nil, fmt.Errorf("%w: %s has %d rows, need %d",
			model.ErrInsufficientTrainingData, inst, ds.Rows(), f.cfg.MinRows)
	}

	xs := fitScaler(ds.X)
	yMean, yScale := fitColumn(ds.Y)
	x := make([][]float64, len(ds.X))
	for i, row := range ds.X {
		x[i] = xs.transform(row)
	}
	y := make([]float64, len(ds.Y))
	for i, v := range ds.Y {
		y[i] = (v - yMean) / yScale
	}

	gp, err := Fit(ctx, x, y, FitOptions{Restarts: f.cfg.Restarts, Seed: f.cfg.Seed, Jitter: f.cfg.Jitter})
	if err != nil {
		return nil, fmt.Errorf("forecast %s: %w", inst, err)
	}

	mean, std := gp.Predict(x[len(x)-1])
	predicted := mean*yScale + yMean
	sigma := std * yScale

	log.Printf("[forecast] %s: fitted %d rows × %d features, kernel C=%.4g ℓ=%.4g noise=%.4g, next close %.2f ± %.2f",
		inst, ds.Rows(), len(ds.Columns), gp.Kernel.C, gp.Kernel.Length, gp.Kernel.Noise, predicted, 1.96*sigma)

	issueDay := time.Date(issue.Year(), issue.Month(), issue.Day(), 0, 0, 0, 0, issue.Location())
	recs := make([]model.ForecastRecord, horizon)
	for step := 1; step <= horizon; step++ {
		recs[step-1] = model.ForecastRecord{
			Instrument:   inst,
			IssueDate:    issueDay,
			TargetDate:   issueDay.AddDate(0, 0, step),
			Predicted:    model.Round(predicted, 4),
			Lower:        model.Round(predicted-1.96*sigma, 4),
			Upper:        model.Round(predicted+1.96*sigma, 4),
			Std:          model.Round(sigma, 4),
			ModelVersion: ModelVersion,
		}
	}
	return recs, nil
}
