// Package sentinel runs the monitoring cycle: for every tracked instrument
// it refreshes indicators, scans for anomalies, correlates them with news,
// evaluates alert rules, fuses a buy decision and fans the results out to
// the persistence sink, the live feed and the notifiers.
package sentinel

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"stock-sentinel/config"
	"stock-sentinel/internal/alert"
	"stock-sentinel/internal/anomaly"
	"stock-sentinel/internal/correlate"
	"stock-sentinel/internal/dailybar"
	"stock-sentinel/internal/decision"
	"stock-sentinel/internal/forecast"
	"stock-sentinel/internal/gateway"
	"stock-sentinel/internal/indicator"
	"stock-sentinel/internal/logger"
	"stock-sentinel/internal/markethours"
	"stock-sentinel/internal/metrics"
	"stock-sentinel/internal/model"
	sqlitestore "stock-sentinel/internal/store/sqlite"
	"stock-sentinel/internal/universe"
	"stock-sentinel/internal/workerpool"
)

// LiveStore is the latest-value read model (Redis).
type LiveStore interface {
	PutIndicators(ctx context.Context, snaps []model.IndicatorSnapshot) error
	PutDecision(ctx context.Context, d model.DecisionResult) error
}

// DailyBarStore receives the daily bars rolled up from intraday samples.
type DailyBarStore interface {
	UpsertDailyBars(ctx context.Context, code string, bars []model.PriceSample) error
}

// FundamentalsStore records the fundamentals seen on a day.
type FundamentalsStore interface {
	UpsertFundamentals(ctx context.Context, code string, day time.Time, fd model.Fundamentals) error
}

// AlertStore serves the alert history endpoints.
type AlertStore interface {
	RecentAlerts(ctx context.Context, limit int) ([]model.Alert, error)
	MarkAlert(ctx context.Context, id string, read, handled bool) (bool, error)
}

// SignalStore lists buy signals awaiting review.
type SignalStore interface {
	PendingBuySignals(ctx context.Context, limit int) ([]sqlitestore.BuySignal, error)
}

// Deps are the collaborators of a Service. History, Sentiment and Sink
// are required; everything else may be nil and disables its feature.
type Deps struct {
	History      model.HistorySource
	Sentiment    model.SentimentSource
	Daily        model.DailySource
	SentimentAgg model.SentimentAggregateSource
	Fundamentals model.FundamentalsSource
	Forecasts    model.ForecastSource

	// FundamentalsFeed is the live quote collector's latest values. When it
	// has a value, the value is recorded in FundamentalsStore and preferred
	// over Fundamentals.
	FundamentalsFeed  model.FundamentalsSource
	FundamentalsStore FundamentalsStore

	Sink      model.Sink
	DailyBars DailyBarStore
	Live      LiveStore
	Feed      model.AlertFeed
	Alerts    AlertStore
	Signals   SignalStore
	Notifier  model.Notifier

	// Snapshots are tried in order on startup and all written on save.
	Snapshots []indicator.NamedStore

	Hub     *gateway.Hub
	Metrics *metrics.Metrics
	// Gatherer serves /metrics; it should gather what Metrics registered to.
	Gatherer prometheus.Gatherer
	Health   *metrics.HealthStatus
	Logger   *slog.Logger

	// Pings feed the health checker.
	RedisPing  metrics.Pinger
	SQLitePing metrics.Pinger

	// Now overrides the clock (tests).
	Now func() time.Time
	// OnClose runs after the final snapshot on shutdown.
	OnClose func()
}

// Service is the top-level orchestrator for the monitor.
// It owns the indicator engine and drives cycles on the market schedule.
type Service struct {
	cfg  *config.Config
	deps Deps
	log  *slog.Logger
	now  func() time.Time

	indCfg     indicator.Config
	detector   *anomaly.Detector
	correlator *correlate.Correlator
	rules      *alert.Engine
	fuser      *decision.Fuser
	forecaster *forecast.Forecaster
	restorer   *indicator.Restorer
	rollup     *dailybar.Rollup

	calendar *markethours.Calendar
	sched    markethours.Scheduler
	registry *universe.Registry
	pool     *workerpool.Pool

	engineMu sync.RWMutex
	engine   *indicator.Engine

	delivered *deliveredSet

	server *metrics.Server
}

// New builds a Service from configuration and collaborators.
func New(cfg *config.Config, deps Deps) *Service {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Health == nil {
		deps.Health = metrics.NewHealthStatus()
	}
	if deps.Metrics == nil {
		reg := prometheus.NewRegistry()
		deps.Metrics = metrics.NewMetrics(reg)
		deps.Gatherer = reg
	}
	deps.Health.StaleAfter = 3 * max(cfg.PollIntervalTrading, cfg.PollIntervalIdle)

	cal := markethours.Default()
	st := NewStages(cfg)
	indCfg := st.Indicator
	svc := &Service{
		cfg:        cfg,
		deps:       deps,
		log:        logger.Component(deps.Logger, "sentinel"),
		now:        deps.Now,
		indCfg:     indCfg,
		detector:   st.Detector,
		correlator: correlate.New(deps.Sentiment, correlateConfig(cfg)),
		rules:      st.Rules,
		fuser:      st.Fuser,
		restorer:   indicator.NewRestorer(indCfg, deps.History, deps.Snapshots...),
		calendar:   cal,
		sched: markethours.Scheduler{
			TradingInterval: cfg.PollIntervalTrading,
			IdleInterval:    cfg.PollIntervalIdle,
			Calendar:        cal,
		},
		registry:  universe.NewRegistry(cfg.Instruments, cfg.InstrumentCooldown, deps.Now()),
		pool:      workerpool.New(cfg.Workers, cfg.TaskTimeout, logger.Component(deps.Logger, "workerpool")),
		engine:    indicator.NewEngine(indCfg, deps.History),
		delivered: newDeliveredSet(48 * time.Hour),
	}
	if deps.DailyBars != nil {
		svc.rollup = dailybar.New()
	}
	if deps.Daily != nil {
		svc.forecaster = forecast.New(deps.Daily, deps.SentimentAgg, forecastConfig(cfg, indCfg))
	}
	return svc
}

// Engine returns the current indicator engine.
func (svc *Service) Engine() *indicator.Engine {
	svc.engineMu.RLock()
	defer svc.engineMu.RUnlock()
	return svc.engine
}

// Registry returns the instrument registry.
func (svc *Service) Registry() *universe.Registry { return svc.registry }

// Restore replaces the engine with one restored from the snapshot stores
// and makes sure every current instrument has a slot.
func (svc *Service) Restore(ctx context.Context) {
	e := svc.restorer.Restore(ctx)
	e.Track(svc.registry.Peek().Instruments)
	svc.engineMu.Lock()
	svc.engine = e
	svc.engineMu.Unlock()
}

// Run starts all subsystems and blocks until ctx is cancelled.
func (svc *Service) Run(ctx context.Context) error {
	cfg := svc.cfg
	svc.log.Info("starting stock sentinel", "instruments", len(svc.registry.Peek().Instruments),
		"workers", svc.pool.Size(), "calendar_fallback", svc.calendar.Fallback())

	svc.Restore(ctx)
	svc.seedHub(ctx)

	svc.server = metrics.NewServer(cfg.HTTP.Addr, svc.deps.Health, svc.deps.Gatherer)
	svc.mount(svc.server)
	svc.server.Start()

	if svc.deps.Hub != nil {
		go svc.deps.Hub.Run(ctx)
		go svc.deps.Hub.StartStatusBroadcast(ctx, 5*time.Second)
	}
	svc.deps.Health.StartLivenessChecker(ctx, svc.deps.RedisPing, svc.deps.SQLitePing, 15*time.Second)
	go svc.snapshotLoop(ctx)
	if svc.forecaster != nil && cfg.ForecastEnabled {
		go svc.forecastLoop(ctx)
	}

	svc.log.Info("all systems running",
		"http", cfg.HTTP.Addr,
		"poll_trading", cfg.PollIntervalTrading,
		"poll_idle", cfg.PollIntervalIdle,
		"market", svc.calendar.StatusString(svc.now()))

	for {
		svc.RunCycle(ctx)

		now := svc.now()
		wait := svc.sched.Wait(now)
		svc.log.Debug("next cycle scheduled", "in", wait.Round(time.Second), "market", svc.calendar.StatusString(now))
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			svc.shutdown()
			return nil
		case <-timer.C:
		}
	}
}

// ProposeInstruments stages a new instrument list; it takes effect at the
// first cycle after the cooldown.
func (svc *Service) ProposeInstruments(list []model.Instrument) bool {
	return svc.registry.Propose(list, svc.now())
}

// OnConfigChange applies a reloaded configuration. Only the instrument
// list is hot-reloaded; other keys need a restart.
func (svc *Service) OnConfigChange(cfg *config.Config) {
	if svc.ProposeInstruments(cfg.Instruments) {
		svc.log.Info("instrument list change staged from config file", "instruments", len(cfg.Instruments))
	}
}

// seedHub fills the websocket replay buffer from the live feed.
func (svc *Service) seedHub(ctx context.Context) {
	if svc.deps.Hub == nil || svc.deps.Feed == nil {
		return
	}
	latest, err := svc.deps.Feed.LatestAlerts(ctx, svc.cfg.AlertFeedSize)
	if err != nil {
		svc.log.Warn("could not seed alert replay buffer", "error", err)
		return
	}
	// The feed is newest first.
	for i, j := 0, len(latest)-1; i < j; i, j = i+1, j-1 {
		latest[i], latest[j] = latest[j], latest[i]
	}
	svc.deps.Hub.Seed(latest)
}

// shutdown saves a final snapshot and closes collaborators.
func (svc *Service) shutdown() {
	svc.log.Info("shutdown signal received, saving final snapshot")

	shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	svc.saveSnapshot(shutCtx)
	if svc.server != nil {
		svc.server.Stop(shutCtx)
	}
	if svc.deps.OnClose != nil {
		svc.deps.OnClose()
	}
	svc.log.Info("shutdown complete")
}

// mount registers the ops endpoints on srv.
func (svc *Service) mount(srv *metrics.Server) {
	srv.Handle("/instruments", http.HandlerFunc(svc.handleInstruments))
	srv.Handle("/alerts", http.HandlerFunc(svc.handleAlerts))
	srv.Handle("/alerts/", http.HandlerFunc(svc.handleMarkAlert))
	srv.Handle("/indicators/", http.HandlerFunc(svc.handleIndicators))
	srv.Handle("/signals", http.HandlerFunc(svc.handleSignals))
	if svc.deps.Hub != nil {
		srv.Handle("/ws/alerts", svc.deps.Hub)
	}
}
