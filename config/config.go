package config

import (
	"errors"
	"fmt"
	"log"
	"reflect"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/fsnotify/fsnotify"
	"github.com/go-playground/validator/v10"
	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"stock-sentinel/internal/model"
)

// EnvPrefix prefixes every environment override, e.g. SENTINEL_REDIS_ADDR.
const EnvPrefix = "SENTINEL"

// Config holds all application configuration. Values come from struct
// defaults, then the optional config file, then the environment.
type Config struct {
	Instruments        []model.Instrument `mapstructure:"instruments" validate:"dive"`
	InstrumentCooldown time.Duration      `mapstructure:"instrument_cooldown" default:"5s"`

	// Anomaly detection and correlation
	PriceChangeThreshold float64       `mapstructure:"price_change_threshold" default:"3.0" validate:"gt=0"`
	VolumeSpikeThreshold float64       `mapstructure:"volume_spike_threshold" default:"1.5" validate:"gt=0"`
	TimeWindowBefore     time.Duration `mapstructure:"time_window_before" default:"2h" validate:"gt=0"`
	TimeWindowAfter      time.Duration `mapstructure:"time_window_after" default:"1h" validate:"gt=0"`
	MinCorrelationScore  float64       `mapstructure:"min_correlation_score" default:"0.3" validate:"gte=0,lte=1"`
	CorrelationTopN      int           `mapstructure:"correlation_top_n" default:"5" validate:"min=1"`

	// Alert rules
	AlertPriceWarning        float64 `mapstructure:"alert_price_warning" default:"3.0" validate:"gt=0"`
	AlertPriceCritical       float64 `mapstructure:"alert_price_critical" default:"5.0" validate:"gtfield=AlertPriceWarning"`
	AlertVolumeSpike         float64 `mapstructure:"alert_volume_spike" default:"2.0" validate:"gt=0"`
	RSIOverbought            float64 `mapstructure:"rsi_overbought" default:"70" validate:"gt=0,lte=100"`
	RSIOversold              float64 `mapstructure:"rsi_oversold" default:"30" validate:"gte=0,ltfield=RSIOverbought"`
	SentimentExtremePositive float64 `mapstructure:"sentiment_extreme_positive" default:"0.7" validate:"gte=-1,lte=1"`
	SentimentExtremeNegative float64 `mapstructure:"sentiment_extreme_negative" default:"-0.7" validate:"gte=-1,lte=1"`
	SentimentRapidChange     float64 `mapstructure:"sentiment_rapid_change" default:"0.5" validate:"gt=0,lte=2"`
	GPRDeviationWarning      float64 `mapstructure:"gpr_deviation_warning" default:"0.05" validate:"gt=0"`
	GPRDeviationCritical     float64 `mapstructure:"gpr_deviation_critical" default:"0.10" validate:"gtfield=GPRDeviationWarning"`
	AlertFeedSize            int     `mapstructure:"alert_feed_size" default:"100" validate:"min=1"`

	// Decision fusion
	BuyThreshold float64 `mapstructure:"buy_threshold" default:"60" validate:"gt=0,lte=100"`

	// Indicator engine
	RSIWarmSmoothing    string        `mapstructure:"rsi_warm_smoothing" default:"rolling" validate:"oneof=rolling wilder"`
	StateStaleAfter     time.Duration `mapstructure:"state_stale_after" default:"6h" validate:"gt=0"`
	IndicatorLookback   int           `mapstructure:"indicator_lookback" default:"100" validate:"min=30"`
	IndicatorMinSamples int           `mapstructure:"indicator_min_samples" default:"30" validate:"min=2,ltefield=IndicatorLookback"`
	SnapshotInterval    time.Duration `mapstructure:"snapshot_interval" default:"1m" validate:"gt=0"`

	// Forecast
	ForecastEnabled   bool          `mapstructure:"forecast_enabled" default:"true"`
	ForecastInterval  time.Duration `mapstructure:"forecast_interval" default:"24h" validate:"gt=0"`
	TrainingWindow    int           `mapstructure:"training_window" default:"60" validate:"min=10"`
	PredictionHorizon int           `mapstructure:"prediction_horizon" default:"5" validate:"min=1,max=30"`
	GPRRestarts       int           `mapstructure:"gpr_restarts" default:"10" validate:"min=0"`
	GPRSeed           int64         `mapstructure:"gpr_seed" default:"42"`

	// Scheduling
	PollIntervalTrading time.Duration `mapstructure:"poll_interval_trading" default:"60s" validate:"gt=0"`
	PollIntervalIdle    time.Duration `mapstructure:"poll_interval_idle" default:"60s" validate:"gt=0"`
	Workers             int           `mapstructure:"workers" default:"10" validate:"min=1,max=256"`
	CycleTimeout        time.Duration `mapstructure:"cycle_timeout" default:"50s" validate:"gt=0"`
	TaskTimeout         time.Duration `mapstructure:"task_timeout" default:"20s" validate:"gt=0,ltefield=CycleTimeout"`

	Redis   RedisConfig   `mapstructure:"redis"`
	SQLite  SQLiteConfig  `mapstructure:"sqlite"`
	HTTP    HTTPConfig    `mapstructure:"http"`
	Notify  NotifyConfig  `mapstructure:"notify"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// RedisConfig holds the tick/sentiment source and live read-model store.
type RedisConfig struct {
	Addr             string        `mapstructure:"addr" default:"localhost:6379" validate:"required"`
	Password         string        `mapstructure:"password"`
	DB               int           `mapstructure:"db" validate:"min=0"`
	Timeout          time.Duration `mapstructure:"timeout" default:"2s" validate:"gt=0"`
	BreakerThreshold int           `mapstructure:"breaker_threshold" default:"5" validate:"min=1"`
	BreakerCooldown  time.Duration `mapstructure:"breaker_cooldown" default:"30s" validate:"gt=0"`
	DecisionTTL      time.Duration `mapstructure:"decision_ttl" default:"24h" validate:"gt=0"`
}

// SQLiteConfig holds the persistence sink location.
type SQLiteConfig struct {
	Path string `mapstructure:"path" default:"data/sentinel.db" validate:"required"`
}

// HTTPConfig holds the ops server (metrics, health, instruments, websocket).
type HTTPConfig struct {
	Addr string `mapstructure:"addr" default:":9090" validate:"required"`
}

// NotifyConfig selects live notification channels.
type NotifyConfig struct {
	MinSeverity string         `mapstructure:"min_severity" default:"WARNING" validate:"oneof=INFO WARNING CRITICAL"`
	Log         bool           `mapstructure:"log" default:"true"`
	Webhook     WebhookConfig  `mapstructure:"webhook"`
	Telegram    TelegramConfig `mapstructure:"telegram"`
	Kafka       KafkaConfig    `mapstructure:"kafka"`
}

// WebhookConfig posts alerts as JSON to URL when set.
type WebhookConfig struct {
	URL     string        `mapstructure:"url" validate:"omitempty,url"`
	Timeout time.Duration `mapstructure:"timeout" default:"5s" validate:"gt=0"`
}

// TelegramConfig holds Telegram bot settings.
type TelegramConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BotToken string `mapstructure:"bot_token"`
	ChatID   int64  `mapstructure:"chat_id"`
}

// KafkaConfig publishes alerts to a topic when enabled.
type KafkaConfig struct {
	Enabled bool     `mapstructure:"enabled"`
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic" default:"stock-alerts"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level   string `mapstructure:"level" default:"info" validate:"oneof=debug info warn error"`
	Service string `mapstructure:"service" default:"stock-sentinel"`
}

var validate = validator.New()

// Load builds the configuration. path may be empty, in which case only
// defaults and environment variables apply.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := bindEnv(v, reflect.TypeOf(Config{}), ""); err != nil {
		return nil, fmt.Errorf("failed to bind environment: %w", err)
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := defaults.Set(&cfg); err != nil {
		return nil, fmt.Errorf("failed to apply defaults: %w", err)
	}
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		strictDurationHook,
		mapstructure.StringToSliceHookFunc(","),
	))
	if err := v.Unmarshal(&cfg, hook); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

var durationType = reflect.TypeOf(time.Duration(0))

// bindEnv registers every leaf key of t with viper so nested keys such as
// notify.webhook.url can be overridden by SENTINEL_NOTIFY_WEBHOOK_URL.
// AutomaticEnv alone only resolves keys viper already knows. Lists of
// structs (instruments) are file-only.
func bindEnv(v *viper.Viper, t reflect.Type, prefix string) error {
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		name := f.Tag.Get("mapstructure")
		if name == "" || name == "-" {
			continue
		}
		key := prefix + name
		switch {
		case f.Type.Kind() == reflect.Struct:
			if err := bindEnv(v, f.Type, key+"."); err != nil {
				return err
			}
		case f.Type.Kind() == reflect.Slice && f.Type.Elem().Kind() == reflect.Struct:
			continue
		default:
			if err := v.BindEnv(key); err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
		}
	}
	return nil
}

// strictDurationHook decodes durations from strings with a unit only. A
// bare number such as `time_window_before: 2` would otherwise decode as
// 2ns.
func strictDurationHook(from, to reflect.Type, data any) (any, error) {
	if to != durationType || from == durationType {
		return data, nil
	}
	val := reflect.ValueOf(data)
	switch from.Kind() {
	case reflect.String:
		d, err := time.ParseDuration(strings.TrimSpace(val.String()))
		if err != nil {
			return nil, fmt.Errorf("invalid duration %q: %w", val.String(), err)
		}
		return d, nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return nil, fmt.Errorf("duration %v has no unit (write e.g. %vs or %vm)", data, data, data)
	}
	return data, nil
}

// Validate checks ranges and cross-field rules.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q (%s)", fe.Namespace(), fe.Tag(), fe.Param()))
			}
			return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	if c.Notify.Telegram.Enabled {
		if c.Notify.Telegram.BotToken == "" {
			return fmt.Errorf("notify.telegram.bot_token is required when telegram is enabled")
		}
		if c.Notify.Telegram.ChatID == 0 {
			return fmt.Errorf("notify.telegram.chat_id is required when telegram is enabled")
		}
	}
	if c.Notify.Kafka.Enabled && len(c.Notify.Kafka.Brokers) == 0 {
		return fmt.Errorf("notify.kafka.brokers is required when kafka is enabled")
	}
	seen := make(map[string]bool, len(c.Instruments))
	for _, inst := range c.Instruments {
		if inst.Code == "" {
			return fmt.Errorf("instruments: empty code")
		}
		if seen[inst.Code] {
			return fmt.Errorf("instruments: duplicate code %s", inst.Code)
		}
		seen[inst.Code] = true
	}
	return nil
}

// Watch re-reads path on every change and hands each valid configuration
// to fn. Invalid edits are logged and ignored.
func Watch(path string, fn func(*Config)) error {
	if path == "" {
		return errors.New("watch: no config file")
	}
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("watch: %w", err)
	}
	v.OnConfigChange(func(e fsnotify.Event) {
		cfg, err := Load(path)
		if err != nil {
			log.Printf("[config] ignoring change to %s: %v", e.Name, err)
			return
		}
		log.Printf("[config] reloaded %s (%d instruments)", e.Name, len(cfg.Instruments))
		fn(cfg)
	})
	v.WatchConfig()
	return nil
}
