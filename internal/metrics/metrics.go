package metrics

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "sentinel"

// Metrics holds all Prometheus metrics for the monitoring service.
type Metrics struct {
	// Cycle scheduling
	CyclesTotal        prometheus.Counter
	CycleDur           prometheus.Histogram
	InstrumentDur      prometheus.Histogram
	TasksSkipped       prometheus.Counter
	InstrumentsTracked prometheus.Gauge
	UniverseVersion    prometheus.Gauge

	// Analysis output
	IndicatorUpdates *prometheus.CounterVec // labels: mode
	AnomaliesTotal   *prometheus.CounterVec // labels: type
	CorrelationsKept prometheus.Counter
	AlertsTotal      *prometheus.CounterVec // labels: severity, type
	DecisionScore    *prometheus.GaugeVec   // labels: code
	BuySignalsTotal  prometheus.Counter

	// Forecast
	ForecastFits *prometheus.CounterVec // labels: result=ok|insufficient|error
	ForecastDur  prometheus.Histogram

	// Errors by stage and kind (see model.ErrorKind)
	ErrorsTotal *prometheus.CounterVec // labels: stage, kind

	// Delivery
	NotificationsTotal *prometheus.CounterVec // labels: channel, result
	WSClients          prometheus.Gauge

	// Circuit breaker
	RedisCircuitBreakerState prometheus.Gauge // 0=closed, 1=open, 2=half-open
	RedisCircuitBreakerTrips prometheus.Counter
	RedisBufferedWrites      prometheus.Counter

	// Market session
	MarketState prometheus.Gauge // 0=closed, 1=open
}

// NewMetrics creates all metrics and registers them with reg
// (prometheus.DefaultRegisterer when nil).
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		CyclesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cycles_total",
			Help:      "Monitoring cycles completed",
		}),
		CycleDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "cycle_duration_seconds",
			Help:      "Wall time of one monitoring cycle over all instruments",
			Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 20, 30, 50},
		}),
		InstrumentDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "instrument_duration_seconds",
			Help:      "Time to analyse one instrument within a cycle",
			Buckets:   prometheus.DefBuckets,
		}),
		TasksSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_skipped_total",
			Help:      "Instrument tasks not started because the cycle deadline passed",
		}),
		InstrumentsTracked: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "instruments_tracked",
			Help:      "Instruments in the active universe",
		}),
		UniverseVersion: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "universe_version",
			Help:      "Version of the active instrument set",
		}),

		IndicatorUpdates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "indicator_updates_total",
			Help:      "Indicator snapshots produced, by computation path",
		}, []string{"mode"}),
		AnomaliesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "anomalies_total",
			Help:      "Anomalies detected",
		}, []string{"type"}),
		CorrelationsKept: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "correlations_total",
			Help:      "Anomaly/news correlations at or above the minimum score",
		}),
		AlertsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alerts_total",
			Help:      "Alerts raised",
		}, []string{"severity", "type"}),
		DecisionScore: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "decision_score",
			Help:      "Latest composite decision score per instrument",
		}, []string{"code"}),
		BuySignalsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "buy_signals_total",
			Help:      "Decisions at or above the buy threshold",
		}),

		ForecastFits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "forecast_fits_total",
			Help:      "Forecast model fits by outcome",
		}, []string{"result"}),
		ForecastDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "forecast_duration_seconds",
			Help:      "Time to fit and predict one instrument",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}),

		ErrorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "errors_total",
			Help:      "Per-instrument errors by pipeline stage and kind",
		}, []string{"stage", "kind"}),

		NotificationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Notification attempts by channel and result",
		}, []string{"channel", "result"}),
		WSClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "ws_clients",
			Help:      "Connected websocket clients",
		}),

		RedisCircuitBreakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "redis_circuit_breaker_state",
			Help:      "Redis circuit breaker state (0=closed, 1=open, 2=half-open)",
		}),
		RedisCircuitBreakerTrips: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "redis_circuit_breaker_trips_total",
			Help:      "Times the Redis circuit breaker tripped open",
		}),
		RedisBufferedWrites: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "redis_buffered_writes_total",
			Help:      "Alert pushes buffered locally while the Redis circuit was open",
		}),

		MarketState: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "market_state",
			Help:      "Market session state (0=closed, 1=open)",
		}),
	}

	reg.MustRegister(
		m.CyclesTotal,
		m.CycleDur,
		m.InstrumentDur,
		m.TasksSkipped,
		m.InstrumentsTracked,
		m.UniverseVersion,
		m.IndicatorUpdates,
		m.AnomaliesTotal,
		m.CorrelationsKept,
		m.AlertsTotal,
		m.DecisionScore,
		m.BuySignalsTotal,
		m.ForecastFits,
		m.ForecastDur,
		m.ErrorsTotal,
		m.NotificationsTotal,
		m.WSClients,
		m.RedisCircuitBreakerState,
		m.RedisCircuitBreakerTrips,
		m.RedisBufferedWrites,
		m.MarketState,
	)

	return m
}

// ObserveError counts a per-instrument failure.
func (m *Metrics) ObserveError(stage, kind string) {
	m.ErrorsTotal.WithLabelValues(stage, kind).Inc()
}

// ObserveNotification counts one delivery attempt.
func (m *Metrics) ObserveNotification(channel string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.NotificationsTotal.WithLabelValues(channel, result).Inc()
}

// SetBreakerState records a circuit breaker transition. state follows the
// breaker's numbering; a move to open counts as a trip.
func (m *Metrics) SetBreakerState(state int) {
	m.RedisCircuitBreakerState.Set(float64(state))
	if state == 1 {
		m.RedisCircuitBreakerTrips.Inc()
	}
}

// SetMarketOpen records the session state.
func (m *Metrics) SetMarketOpen(open bool) {
	if open {
		m.MarketState.Set(1)
	} else {
		m.MarketState.Set(0)
	}
}

// Server runs the ops HTTP server: /metrics, /healthz and whatever else is
// mounted on its mux.
type Server struct {
	addr string
	mux  *http.ServeMux
	srv  *http.Server
}

// NewServer creates an ops server exposing /metrics from gatherer
// (prometheus.DefaultGatherer when nil) and /healthz from health.
func NewServer(addr string, health *HealthStatus, gatherer prometheus.Gatherer) *Server {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	mux.Handle("/healthz", health)

	return &Server{
		addr: addr,
		mux:  mux,
		srv: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
}

// Handle mounts an extra handler. Call before Start.
func (s *Server) Handle(pattern string, h http.Handler) {
	s.mux.Handle(pattern, h)
}

// Handler returns the server's mux, for tests.
func (s *Server) Handler() http.Handler { return s.mux }

// Start launches the HTTP server in a goroutine.
func (s *Server) Start() {
	go func() {
		log.Printf("[metrics] server listening on %s", s.addr)
		if err := s.srv.ListenAndServe(); err != http.ErrServerClosed {
			log.Printf("[metrics] server error: %v", err)
		}
	}()
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) {
	s.srv.Shutdown(ctx)
}
