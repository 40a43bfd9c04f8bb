package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strconv"
	"time"

	goredis "github.com/go-redis/redis/v8"

	"stock-sentinel/internal/model"
)

// Config configures the Redis connection.
type Config struct {
	Addr     string // Redis address, e.g. "localhost:6379"
	Password string
	DB       int
	Timeout  time.Duration // per-command read/write timeout
}

// NewClient opens a client and pings the server.
func NewClient(cfg Config) (*goredis.Client, error) {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	client := goredis.NewClient(&goredis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		ReadTimeout:  timeout,
		WriteTimeout: timeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	log.Printf("[redis] connected to %s", cfg.Addr)
	return client, nil
}

// Reader serves intraday tick history, news sentiment events and the live
// fundamentals. It implements model.HistorySource, model.SentimentSource
// and model.FundamentalsSource.
type Reader struct {
	client goredis.UniversalClient
	cb     *CircuitBreaker
}

// NewReader wraps client. Every call goes through cb.
func NewReader(client goredis.UniversalClient, cb *CircuitBreaker) *Reader {
	return &Reader{client: client, cb: cb}
}

// RecentSamples returns up to limit of code's newest ticks, newest first.
// Entries that fail to decode are skipped.
func (r *Reader) RecentSamples(ctx context.Context, code string, limit int) ([]model.PriceSample, error) {
	var msgs []goredis.XMessage
	err := r.cb.Do("xrevrange", func() error {
		var err error
		msgs, err = r.client.XRevRangeN(ctx, TickStream(code), "+", "-", int64(limit)).Result()
		return err
	})
	if err != nil && err != goredis.Nil {
		return nil, err
	}
	samples, bad := decodeSamples(msgs)
	if bad > 0 {
		log.Printf("[redis-reader] %s: skipped %d undecodable ticks", code, bad)
	}
	return samples, nil
}

// EventsInWindow returns sentiment events with from <= time <= to.
func (r *Reader) EventsInWindow(ctx context.Context, from, to time.Time) ([]model.SentimentEvent, error) {
	var members []string
	err := r.cb.Do("zrangebyscore", func() error {
		var err error
		members, err = r.client.ZRangeByScore(ctx, sentimentKey, &goredis.ZRangeBy{
			Min: strconv.FormatInt(from.Unix(), 10),
			Max: strconv.FormatInt(to.Unix()+1, 10),
		}).Result()
		return err
	})
	if err != nil && err != goredis.Nil {
		return nil, err
	}
	events, bad := decodeEvents(members)
	if bad > 0 {
		log.Printf("[redis-reader] skipped %d undecodable sentiment events", bad)
	}
	out := events[:0]
	for _, ev := range events {
		if !ev.Time.Before(from) && !ev.Time.After(to) {
			out = append(out, ev)
		}
	}
	return out, nil
}

// LatestFundamentals returns the quote collector's latest fundamentals for
// code, or nil when none were published.
func (r *Reader) LatestFundamentals(ctx context.Context, code string) (*model.Fundamentals, error) {
	var data string
	err := r.cb.Do("get fundamentals", func() error {
		var err error
		data, err = r.client.Get(ctx, fundamentalsPrefix+code).Result()
		return err
	})
	if err == goredis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return decodeFundamentals(data)
}

// SubscribeAlerts subscribes to the alert channel and waits for the
// confirmation. Returns nil if the subscription failed.
func (r *Reader) SubscribeAlerts(ctx context.Context) *goredis.PubSub {
	pubsub := r.client.Subscribe(ctx, alertChannel)
	if _, err := pubsub.Receive(ctx); err != nil {
		log.Printf("[redis-reader] subscribe to %s failed: %v", alertChannel, err)
		pubsub.Close()
		return nil
	}
	return pubsub
}

// Ping checks connectivity for health checks.
func (r *Reader) Ping(ctx context.Context) error {
	return r.cb.Do("ping", func() error { return r.client.Ping(ctx).Err() })
}

func decodeSamples(msgs []goredis.XMessage) (out []model.PriceSample, bad int) {
	out = make([]model.PriceSample, 0, len(msgs))
	for _, msg := range msgs {
		data, ok := msg.Values["data"].(string)
		if !ok {
			bad++
			continue
		}
		var s model.PriceSample
		if err := json.Unmarshal([]byte(data), &s); err != nil {
			bad++
			continue
		}
		out = append(out, s)
	}
	return out, bad
}

func decodeEvents(members []string) (out []model.SentimentEvent, bad int) {
	out = make([]model.SentimentEvent, 0, len(members))
	for _, m := range members {
		var ev model.SentimentEvent
		if err := json.Unmarshal([]byte(m), &ev); err != nil {
			bad++
			continue
		}
		out = append(out, ev)
	}
	return out, bad
}

func decodeFundamentals(data string) (*model.Fundamentals, error) {
	var fd model.Fundamentals
	if err := json.Unmarshal([]byte(data), &fd); err != nil {
		return nil, fmt.Errorf("decode fundamentals: %w", err)
	}
	return &fd, nil
}

func decodeAlerts(items []string) (out []model.Alert, bad int) {
	out = make([]model.Alert, 0, len(items))
	for _, it := range items {
		var a model.Alert
		if err := json.Unmarshal([]byte(it), &a); err != nil {
			bad++
			continue
		}
		out = append(out, a)
	}
	return out, bad
}
