package sentinel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"stock-sentinel/internal/alert"
	"stock-sentinel/internal/decision"
	"stock-sentinel/internal/indicator"
	"stock-sentinel/internal/logger"
	"stock-sentinel/internal/model"
	"stock-sentinel/internal/workerpool"
)

// dailyDepth is the number of daily bars scored by the decision fuser.
const dailyDepth = 60

// CycleReport summarizes one monitoring cycle.
type CycleReport struct {
	ID          string
	Start       time.Time
	Duration    time.Duration
	Version     int64
	Instruments int
	Failed      int
	Skipped     int
	Anomalies   int
	Alerts      int
	Delivered   int
	Results     []workerpool.Result
}

// instrumentOutcome is what one instrument task produced.
type instrumentOutcome struct {
	Indicators   []model.IndicatorSnapshot
	Anomalies    []model.AnomalyEvent
	Correlations []model.CorrelationRecord
	Alerts       []model.Alert
	Decision     model.DecisionResult
	Delivered    int
}

// RunCycle promotes any staged instrument change, then analyses every
// instrument once over the worker pool. Per-instrument failures are
// counted and logged; they never abort the cycle.
func (svc *Service) RunCycle(ctx context.Context) CycleReport {
	start := svc.now()
	m := svc.deps.Metrics

	snap, diff := svc.registry.Current(start)
	engine := svc.Engine()
	if !diff.Empty() {
		created, dropped := engine.Apply(diff)
		for _, inst := range diff.Removed {
			svc.delivered.forget(inst.Code)
			if svc.rollup != nil {
				svc.rollup.Forget(inst.Code)
			}
		}
		svc.log.Info("instrument set changed", "version", snap.Version,
			"created", created, "dropped", dropped)
	}
	m.InstrumentsTracked.Set(float64(len(snap.Instruments)))
	m.UniverseVersion.Set(float64(snap.Version))
	open := svc.calendar.IsTradingTime(start)
	m.SetMarketOpen(open)
	if svc.deps.Hub != nil {
		m.WSClients.Set(float64(svc.deps.Hub.ClientCount()))
	}

	report := CycleReport{
		ID:          logger.NewCycleID(),
		Start:       start,
		Version:     snap.Version,
		Instruments: len(snap.Instruments),
	}
	cctx, cancel := context.WithTimeout(ctx, svc.cfg.CycleTimeout)
	defer cancel()
	cctx = logger.WithTraceID(cctx, report.ID)

	var mu sync.Mutex
	tasks := make([]workerpool.Task, len(snap.Instruments))
	for i, inst := range snap.Instruments {
		tasks[i] = workerpool.Task{
			Key: inst.Code,
			Run: func(tctx context.Context) error {
				out, err := svc.analyze(tctx, engine, inst)
				mu.Lock()
				report.Anomalies += len(out.Anomalies)
				report.Alerts += len(out.Alerts)
				report.Delivered += out.Delivered
				mu.Unlock()
				return err
			},
		}
	}

	report.Results = svc.pool.Run(cctx, tasks)
	for _, r := range report.Results {
		switch {
		case r.Skipped:
			report.Skipped++
			m.TasksSkipped.Inc()
		case r.Err != nil:
			report.Failed++
			svc.log.Warn("instrument analysis failed", "code", r.Key, "kind", model.ErrorKind(r.Err),
				"error", r.Err, "trace_id", report.ID)
		}
		if !r.Skipped {
			m.InstrumentDur.Observe(r.Duration.Seconds())
		}
	}
	svc.delivered.prune()

	report.Duration = svc.now().Sub(start)
	m.CyclesTotal.Inc()
	m.CycleDur.Observe(report.Duration.Seconds())
	svc.deps.Health.RecordCycle(svc.now(), report.Instruments, report.Failed+report.Skipped,
		svc.calendar.StatusString(start))

	svc.log.Info("cycle complete",
		"trace_id", report.ID,
		"instruments", report.Instruments,
		"failed", report.Failed,
		"skipped", report.Skipped,
		"anomalies", report.Anomalies,
		"alerts", report.Alerts,
		"delivered", report.Delivered,
		"market_open", open,
		"duration", report.Duration.Round(time.Millisecond))
	return report
}

// analyze runs the full pipeline for one instrument. Only a missing tick
// history stops it early; every later check degrades on its own.
func (svc *Service) analyze(ctx context.Context, engine *indicator.Engine, inst model.Instrument) (instrumentOutcome, error) {
	var out instrumentOutcome
	log := svc.log.With("code", inst.Code)
	log = log.With(logger.LogWithTrace(ctx)...)

	raw, err := svc.deps.History.RecentSamples(ctx, inst.Code, svc.indCfg.Lookback)
	if err != nil {
		svc.countError("history", err)
		return out, fmt.Errorf("%s: %w", inst.Code, model.Upstream("tick history", err))
	}
	samples, dropped := model.NormalizeSamples(raw)
	if dropped > 0 {
		log.Debug("dropped invalid samples", "dropped", dropped)
	}
	if len(samples) == 0 {
		log.Debug("no samples yet")
		return out, nil
	}
	latest := samples[len(samples)-1]
	at := latest.Time

	var errs []error
	soft := func(stage string, err error) {
		svc.countError(stage, err)
		errs = append(errs, fmt.Errorf("%s: %w", stage, err))
	}

	// Indicators
	before := engine.Recent(inst.Code, svc.indCfg.RecentDepth)
	snaps, err := engine.Ingest(inst, samples)
	switch {
	case errors.Is(err, model.ErrInsufficientHistory):
		svc.countError("indicators", err)
		log.Debug("indicators not ready", "samples", len(samples), "need", svc.indCfg.MinSamples)
	case err != nil:
		soft("indicators", err)
	}
	for _, s := range snaps {
		svc.deps.Metrics.IndicatorUpdates.WithLabelValues(s.Mode).Inc()
	}
	out.Indicators = snaps

	// Anomalies and their news correlations
	out.Anomalies = svc.detector.Scan(inst, samples)
	for _, ev := range out.Anomalies {
		svc.deps.Metrics.AnomaliesTotal.WithLabelValues(string(ev.Type)).Inc()
		recs, err := svc.correlator.Correlate(ctx, inst, ev, 0, 0)
		if err != nil {
			soft("correlate", err)
			continue
		}
		out.Correlations = append(out.Correlations, recs...)
	}
	svc.deps.Metrics.CorrelationsKept.Add(float64(len(out.Correlations)))

	// Alerts
	in := alert.Input{
		Instrument: inst,
		Now:        at,
		Samples:    samples,
		Indicators: crossWindow(before, snaps),
	}
	window := svc.rules.Config().SentimentWindow
	if news, err := svc.deps.Sentiment.EventsInWindow(ctx, at.Add(-window), at); err != nil {
		soft("sentiment", err)
	} else {
		in.Sentiment = news
	}
	if svc.deps.Forecasts != nil {
		if fc, err := svc.deps.Forecasts.LatestForecast(ctx, inst.Code, at); err != nil {
			soft("forecast_lookup", err)
		} else {
			in.Forecast = fc
		}
	}
	out.Alerts = svc.rules.Evaluate(in)
	for _, a := range out.Alerts {
		svc.deps.Metrics.AlertsTotal.WithLabelValues(string(a.Severity), a.Type).Inc()
	}

	// Decision
	out.Decision = svc.decide(ctx, engine, inst, samples, at, soft)
	svc.deps.Metrics.DecisionScore.WithLabelValues(inst.Code).Set(out.Decision.Score)
	if out.Decision.CanBuy {
		svc.deps.Metrics.BuySignalsTotal.Inc()
	}

	// Fan-out
	if err := svc.persist(ctx, inst, samples, out); err != nil {
		soft("persist", err)
	}
	if svc.rollup != nil {
		if bars := svc.rollup.Ingest(inst.Code, samples); len(bars) > 0 {
			if err := svc.deps.DailyBars.UpsertDailyBars(ctx, inst.Code, bars); err != nil {
				soft("daily_rollup", err)
			}
		}
	}
	if svc.deps.Live != nil {
		if snap, ok := engine.Peek(inst.Code); ok {
			if err := svc.deps.Live.PutIndicators(ctx, []model.IndicatorSnapshot{snap}); err != nil {
				soft("live_indicators", err)
			}
		}
		if err := svc.deps.Live.PutDecision(ctx, out.Decision); err != nil {
			soft("live_decision", err)
		}
	}
	out.Delivered = svc.deliver(ctx, log, out.Alerts, soft)

	if len(out.Anomalies) > 0 || len(out.Alerts) > 0 {
		log.Info("instrument analysed",
			"price", latest.Price,
			"anomalies", len(out.Anomalies),
			"correlations", len(out.Correlations),
			"alerts", len(out.Alerts),
			"score", out.Decision.Score,
			"can_buy", out.Decision.CanBuy)
	}
	return out, errors.Join(errs...)
}

// decide gathers the realtime, daily and fundamental inputs and fuses them.
func (svc *Service) decide(ctx context.Context, engine *indicator.Engine, inst model.Instrument,
	samples []model.PriceSample, at time.Time, soft func(string, error)) model.DecisionResult {

	in := decision.Input{
		Instrument: inst,
		Time:       at,
		Realtime:   engine.Recent(inst.Code, svc.indCfg.RecentDepth),
	}
	for i := len(samples) - 1; i >= 0 && len(in.Prices) < 5; i-- {
		in.Prices = append(in.Prices, samples[i].Price)
	}

	if svc.deps.Daily != nil {
		bars, err := svc.deps.Daily.DailyBars(ctx, inst.Code, dailyDepth)
		if err != nil {
			soft("daily_bars", err)
		} else if bars, _ = model.NormalizeSamples(bars); len(bars) > 0 {
			series := indicator.ComputeSeries(inst.Code, bars, svc.indCfg)
			for i := len(series) - 1; i >= 0; i-- {
				in.Daily = append(in.Daily, series[i])
			}
		}
	}
	in.Fundamentals = svc.fundamentals(ctx, inst.Code, at, soft)
	return svc.fuser.Decide(in)
}

// fundamentals prefers the live feed and records its value for the day of
// at; without a live value it falls back to the stored history.
func (svc *Service) fundamentals(ctx context.Context, code string, at time.Time, soft func(string, error)) *model.Fundamentals {
	if feed := svc.deps.FundamentalsFeed; feed != nil {
		fd, err := feed.LatestFundamentals(ctx, code)
		switch {
		case err != nil:
			soft("fundamentals_feed", err)
		case fd != nil:
			if st := svc.deps.FundamentalsStore; st != nil {
				if err := st.UpsertFundamentals(ctx, code, at, *fd); err != nil {
					soft("fundamentals_store", err)
				}
			}
			return fd
		}
	}
	if svc.deps.Fundamentals == nil {
		return nil
	}
	fd, err := svc.deps.Fundamentals.LatestFundamentals(ctx, code)
	if err != nil {
		soft("fundamentals", err)
		return nil
	}
	return fd
}

// persist writes the instrument's cycle output to the sink.
func (svc *Service) persist(ctx context.Context, inst model.Instrument, samples []model.PriceSample, out instrumentOutcome) error {
	sink := svc.deps.Sink
	if sink == nil {
		return nil
	}
	return errors.Join(
		sink.UpsertSamples(ctx, inst.Code, samples),
		sink.UpsertIndicators(ctx, out.Indicators),
		sink.UpsertAnomalies(ctx, out.Anomalies),
		sink.UpsertCorrelations(ctx, out.Correlations),
		sink.InsertAlerts(ctx, out.Alerts),
		sink.UpsertDecision(ctx, out.Decision),
	)
}

// deliver pushes alerts not delivered before to the live feed and the
// notifiers. Returns the number of alerts delivered.
func (svc *Service) deliver(ctx context.Context, log *slog.Logger, alerts []model.Alert, soft func(string, error)) int {
	n := 0
	for _, a := range alerts {
		if !svc.delivered.add(a) {
			continue
		}
		n++
		if svc.deps.Feed != nil {
			if err := svc.deps.Feed.PushAlert(ctx, a); err != nil {
				soft("alert_feed", err)
			}
		}
		if svc.deps.Notifier != nil {
			if err := svc.deps.Notifier.Send(ctx, a); err != nil {
				log.Warn("notification failed", "alert", a.ID, "type", a.Type, "error", err)
			}
		}
	}
	return n
}

func (svc *Service) countError(stage string, err error) {
	svc.deps.Metrics.ObserveError(stage, model.ErrorKind(err))
}

// deliveredSet remembers which alert natural keys were already pushed so a
// cycle that sees the same newest sample again does not re-notify.
type deliveredSet struct {
	mu     sync.Mutex
	keep   time.Duration
	byCode map[string]map[string]time.Time // code → alert key → alert time
}

func newDeliveredSet(keep time.Duration) *deliveredSet {
	return &deliveredSet{keep: keep, byCode: make(map[string]map[string]time.Time)}
}

// add reports whether a is new and records it.
func (d *deliveredSet) add(a model.Alert) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	keys := d.byCode[a.Instrument.Code]
	if keys == nil {
		keys = make(map[string]time.Time)
		d.byCode[a.Instrument.Code] = keys
	}
	k := a.Key()
	if _, ok := keys[k]; ok {
		return false
	}
	keys[k] = a.Time
	return true
}

func (d *deliveredSet) forget(code string) {
	d.mu.Lock()
	delete(d.byCode, code)
	d.mu.Unlock()
}

// prune drops keys more than keep older than the newest alert of the same
// instrument. Keys of the newest alerts survive however long the market
// stays closed.
func (d *deliveredSet) prune() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, keys := range d.byCode {
		var newest time.Time
		for _, t := range keys {
			if t.After(newest) {
				newest = t
			}
		}
		cutoff := newest.Add(-d.keep)
		for k, t := range keys {
			if t.Before(cutoff) {
				delete(keys, k)
			}
		}
	}
}

func (d *deliveredSet) len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, keys := range d.byCode {
		n += len(keys)
	}
	return n
}

// crossWindow returns the snapshots emitted this cycle newest first,
// followed by the newest earlier snapshot, so a MACD cross between any two
// consecutive samples is seen. before is newest first; a snapshot revised
// in place this cycle is skipped in favor of the one preceding it.
func crossWindow(before, emitted []model.IndicatorSnapshot) []model.IndicatorSnapshot {
	if len(emitted) == 0 {
		return nil
	}
	out := make([]model.IndicatorSnapshot, 0, len(emitted)+1)
	for i := len(emitted) - 1; i >= 0; i-- {
		out = append(out, emitted[i])
	}
	oldest := emitted[0].Time
	for _, s := range before {
		if s.Time.Before(oldest) {
			return append(out, s)
		}
	}
	return out
}
