package sentinel

import (
	"context"
	"errors"
	"time"

	"stock-sentinel/internal/markethours"
	"stock-sentinel/internal/model"
	"stock-sentinel/internal/workerpool"
)

// forecastLoop refits every instrument once at startup and then every
// ForecastInterval.
func (svc *Service) forecastLoop(ctx context.Context) {
	svc.RunForecasts(ctx)

	ticker := time.NewTicker(svc.cfg.ForecastInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			svc.RunForecasts(ctx)
		}
	}
}

// RunForecasts forecasts every current instrument over the worker pool and
// returns the number of instruments forecast successfully.
func (svc *Service) RunForecasts(ctx context.Context) int {
	if svc.forecaster == nil {
		return 0
	}
	insts := svc.registry.Peek().Instruments
	issue := svc.now().In(markethours.CST)

	tasks := make([]workerpool.Task, len(insts))
	for i, inst := range insts {
		tasks[i] = workerpool.Task{
			Key: inst.Code,
			Run: func(tctx context.Context) error {
				_, err := svc.Forecast(tctx, inst, 0, issue)
				return err
			},
		}
	}

	ok := 0
	for _, r := range svc.pool.Run(ctx, tasks) {
		switch {
		case r.Err == nil:
			ok++
		case errors.Is(r.Err, model.ErrInsufficientTrainingData):
			svc.log.Debug("forecast skipped", "code", r.Key, "error", r.Err)
		default:
			svc.log.Warn("forecast failed", "code", r.Key, "kind", model.ErrorKind(r.Err), "error", r.Err)
		}
	}
	svc.log.Info("forecast run complete", "instruments", len(insts), "fitted", ok)
	return ok
}

// Forecast fits one instrument, predicts horizon days after issue
// (0 = configured horizon) and persists the records.
func (svc *Service) Forecast(ctx context.Context, inst model.Instrument, horizon int, issue time.Time) ([]model.ForecastRecord, error) {
	m := svc.deps.Metrics
	start := time.Now()
	recs, err := svc.forecaster.Forecast(ctx, inst, horizon, issue)
	m.ForecastDur.Observe(time.Since(start).Seconds())

	switch {
	case errors.Is(err, model.ErrInsufficientTrainingData):
		m.ForecastFits.WithLabelValues("insufficient").Inc()
		svc.countError("forecast", err)
		return nil, err
	case err != nil:
		m.ForecastFits.WithLabelValues("error").Inc()
		svc.countError("forecast", err)
		return nil, err
	}
	m.ForecastFits.WithLabelValues("ok").Inc()

	if svc.deps.Sink != nil {
		if err := svc.deps.Sink.UpsertForecasts(ctx, recs); err != nil {
			svc.countError("persist", err)
			return recs, err
		}
	}
	return recs, nil
}
