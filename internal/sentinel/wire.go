package sentinel

import (
	"context"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"stock-sentinel/config"
	"stock-sentinel/internal/gateway"
	"stock-sentinel/internal/indicator"
	"stock-sentinel/internal/metrics"
	"stock-sentinel/internal/model"
	"stock-sentinel/internal/notification"
	redisstore "stock-sentinel/internal/store/redis"
	sqlitestore "stock-sentinel/internal/store/sqlite"
)

// sqliteAlerts joins the alert history reader with the flag writer.
type sqliteAlerts struct {
	r *sqlitestore.Reader
	w *sqlitestore.Writer
}

func (a sqliteAlerts) RecentAlerts(ctx context.Context, limit int) ([]model.Alert, error) {
	return a.r.RecentAlerts(ctx, limit)
}

func (a sqliteAlerts) MarkAlert(ctx context.Context, id string, read, handled bool) (bool, error) {
	return a.w.MarkAlert(ctx, id, read, handled)
}

// Open connects to Redis and SQLite, builds the notifiers and the
// websocket hub, and returns a Service ready to Run. Redis is required;
// a notifier that fails to initialize is logged and skipped.
func Open(cfg *config.Config, log *slog.Logger) (*Service, error) {
	if log == nil {
		log = slog.Default()
	}
	prom := metrics.NewMetrics(prometheus.DefaultRegisterer)

	// ---- Redis ----
	client, err := redisstore.NewClient(redisstore.Config{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		Timeout:  cfg.Redis.Timeout,
	})
	if err != nil {
		return nil, err
	}
	cb := redisstore.NewCircuitBreaker(cfg.Redis.BreakerThreshold, cfg.Redis.BreakerCooldown)
	cb.OnStateChange = func(from, to redisstore.State) {
		prom.SetBreakerState(int(to))
		log.Warn("redis circuit breaker state change", "from", from.String(), "to", to.String())
	}
	redisReader := redisstore.NewReader(client, cb)
	redisWriter := redisstore.NewWriter(client, cb, redisstore.WriterOptions{
		FeedSize:    cfg.AlertFeedSize,
		DecisionTTL: cfg.Redis.DecisionTTL,
	})
	feed := redisstore.NewBufferedFeed(redisWriter, cb, 0)
	feed.OnBuffer = prom.RedisBufferedWrites.Inc
	feed.OnFlush = func(n int) { log.Info("flushed buffered alerts", "count", n) }

	// ---- SQLite ----
	sqlWriter, err := sqlitestore.New(sqlitestore.WriterConfig{DBPath: cfg.SQLite.Path})
	if err != nil {
		client.Close()
		return nil, err
	}
	sqlReader, err := sqlitestore.NewReader(cfg.SQLite.Path)
	if err != nil {
		sqlWriter.Close()
		client.Close()
		return nil, err
	}

	// ---- Notifiers ----
	notifier, closers := buildNotifier(cfg, log, prom)

	// ---- Websocket hub ----
	hub := gateway.NewHub(client, gateway.Options{
		AlertChannel: redisstore.AlertChannel(),
		ReplaySize:   cfg.AlertFeedSize,
	})

	deps := Deps{
		History:           redisReader,
		Sentiment:         redisReader,
		Daily:             sqlReader,
		SentimentAgg:      sqlReader,
		Fundamentals:      sqlReader,
		FundamentalsFeed:  redisReader,
		FundamentalsStore: sqlWriter,
		Forecasts:         sqlReader,
		Sink:              sqlWriter,
		DailyBars:         sqlWriter,
		Live:              redisWriter,
		Feed:              feed,
		Alerts:            sqliteAlerts{r: sqlReader, w: sqlWriter},
		Signals:           sqlReader,
		Notifier:          notifier,
		Snapshots: []indicator.NamedStore{
			{Name: "redis", Store: redisWriter},
			{Name: "sqlite", Store: sqlWriter},
		},
		Hub:        hub,
		Metrics:    prom,
		Gatherer:   prometheus.DefaultGatherer,
		Logger:     log,
		RedisPing:  redisReader,
		SQLitePing: metrics.PingFunc(sqlWriter.DB().PingContext),
		OnClose: func() {
			for _, c := range closers {
				c()
			}
			if n := feed.PendingCount(); n > 0 {
				log.Warn("dropping buffered alerts on shutdown", "count", n)
			}
			sqlReader.Close()
			sqlWriter.Close()
			redisWriter.Close()
		},
	}
	return New(cfg, deps), nil
}

// buildNotifier assembles the configured notification channels. The
// returned closers release channel resources on shutdown.
func buildNotifier(cfg *config.Config, log *slog.Logger, prom *metrics.Metrics) (model.Notifier, []func()) {
	var (
		channels []notification.Channel
		closers  []func()
	)
	n := cfg.Notify
	if n.Log {
		channels = append(channels, notification.Channel{Name: "log", Notifier: notification.NewLogNotifier()})
	}
	if n.Webhook.URL != "" {
		channels = append(channels, notification.Channel{
			Name:     "webhook",
			Notifier: notification.NewWebhookNotifier(n.Webhook.URL, n.Webhook.Timeout),
		})
	}
	if n.Telegram.Enabled {
		tg, err := notification.NewTelegramNotifier(n.Telegram.BotToken, n.Telegram.ChatID)
		if err != nil {
			log.Warn("telegram notifier disabled", "error", err)
		} else {
			channels = append(channels, notification.Channel{Name: "telegram", Notifier: tg})
		}
	}
	if n.Kafka.Enabled {
		kn, err := notification.NewKafkaNotifier(n.Kafka.Brokers, n.Kafka.Topic)
		if err != nil {
			log.Warn("kafka notifier disabled", "error", err)
		} else {
			channels = append(channels, notification.Channel{Name: "kafka", Notifier: kn})
			closers = append(closers, func() { kn.Close() })
		}
	}

	multi := notification.NewMulti(model.Severity(n.MinSeverity), channels...)
	multi.OnResult = prom.ObserveNotification
	names := make([]string, len(channels))
	for i, ch := range channels {
		names[i] = ch.Name
	}
	log.Info("notification channels ready", "channels", names, "min_severity", n.MinSeverity)
	return multi, closers
}
