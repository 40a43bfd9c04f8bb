package redis

import (
	"context"
	"encoding/json"
	"log"
	"time"
	"unsafe"

	goredis "github.com/go-redis/redis/v8"

	"stock-sentinel/internal/model"
)

// WriterOptions configures the live read models.
type WriterOptions struct {
	FeedSize    int           // alerts kept in the live feed (default 100)
	DecisionTTL time.Duration // expiry of decision:{code} (default 24h)
}

// Writer maintains the live read models: the latest-N alert feed, the
// latest decision and indicator per instrument, and the engine checkpoint.
// It implements model.AlertFeed and indicator.SnapshotStore.
type Writer struct {
	client      goredis.UniversalClient
	cb          *CircuitBreaker
	feedSize    int
	decisionTTL time.Duration
}

// NewWriter wraps client. Every call goes through cb.
func NewWriter(client goredis.UniversalClient, cb *CircuitBreaker, opts WriterOptions) *Writer {
	if opts.FeedSize <= 0 {
		opts.FeedSize = defaultFeedSize
	}
	if opts.DecisionTTL <= 0 {
		opts.DecisionTTL = 24 * time.Hour
	}
	return &Writer{client: client, cb: cb, feedSize: opts.FeedSize, decisionTTL: opts.DecisionTTL}
}

// PushAlert prepends a to the live feed, trims it to FeedSize and
// publishes it, all in one MULTI/EXEC transaction.
func (w *Writer) PushAlert(ctx context.Context, a model.Alert) error {
	data := bytesToString(a.JSON())
	return w.cb.Do("push alert", func() error {
		_, err := w.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			pipe.LPush(ctx, alertFeedKey, data)
			pipe.LTrim(ctx, alertFeedKey, 0, int64(w.feedSize-1))
			pipe.Publish(ctx, alertChannel, data)
			return nil
		})
		return err
	})
}

// LatestAlerts returns up to n alerts from the live feed, newest first.
func (w *Writer) LatestAlerts(ctx context.Context, n int) ([]model.Alert, error) {
	if n <= 0 || n > w.feedSize {
		n = w.feedSize
	}
	var items []string
	err := w.cb.Do("lrange", func() error {
		var err error
		items, err = w.client.LRange(ctx, alertFeedKey, 0, int64(n-1)).Result()
		return err
	})
	if err != nil && err != goredis.Nil {
		return nil, err
	}
	alerts, bad := decodeAlerts(items)
	if bad > 0 {
		log.Printf("[redis] skipped %d undecodable feed entries", bad)
	}
	return alerts, nil
}

// PutDecision stores the latest decision for its instrument.
func (w *Writer) PutDecision(ctx context.Context, d model.DecisionResult) error {
	return w.cb.Do("set decision", func() error {
		return w.client.Set(ctx, decisionPrefix+d.Instrument.Code, bytesToString(d.JSON()), w.decisionTTL).Err()
	})
}

// PutFundamentals publishes code's latest fundamentals.
func (w *Writer) PutFundamentals(ctx context.Context, code string, fd model.Fundamentals) error {
	data, err := json.Marshal(fd)
	if err != nil {
		return err
	}
	return w.cb.Do("set fundamentals", func() error {
		return w.client.Set(ctx, fundamentalsPrefix+code, bytesToString(data), fundamentalsTTL).Err()
	})
}

// PutIndicators stores and publishes the newest snapshot per instrument
// in a single pipeline.
func (w *Writer) PutIndicators(ctx context.Context, snaps []model.IndicatorSnapshot) error {
	if len(snaps) == 0 {
		return nil
	}
	return w.cb.Do("set indicators", func() error {
		pipe := w.client.Pipeline()
		for i := range snaps {
			jsonData := bytesToString(snaps[i].JSON())
			pipe.Set(ctx, indicatorPrefix+snaps[i].Instrument, jsonData, defaultIndicatorTTL)
			pipe.Publish(ctx, indicatorChanPrefix+snaps[i].Instrument, jsonData)
		}
		_, err := pipe.Exec(ctx)
		return err
	})
}

// AppendSamples adds ticks to code's stream, trimmed to roughly the last
// tickStreamMaxLen entries. Used by replay and backfill tooling.
func (w *Writer) AppendSamples(ctx context.Context, code string, samples []model.PriceSample) error {
	if len(samples) == 0 {
		return nil
	}
	return w.cb.Do("xadd", func() error {
		pipe := w.client.Pipeline()
		for i := range samples {
			pipe.XAdd(ctx, &goredis.XAddArgs{
				Stream: TickStream(code),
				MaxLen: tickStreamMaxLen,
				Approx: true,
				Values: map[string]interface{}{"data": bytesToString(samples[i].JSON())},
			})
		}
		_, err := pipe.Exec(ctx)
		return err
	})
}

// SaveEngineSnapshot stores the encoded indicator engine checkpoint.
func (w *Writer) SaveEngineSnapshot(ctx context.Context, data []byte) error {
	return w.cb.Do("set snapshot", func() error {
		return w.client.Set(ctx, engineSnapshotKey, data, snapshotTTL).Err()
	})
}

// LoadEngineSnapshot returns the stored checkpoint, or nil when absent.
func (w *Writer) LoadEngineSnapshot(ctx context.Context) ([]byte, error) {
	var data []byte
	err := w.cb.Do("get snapshot", func() error {
		var err error
		data, err = w.client.Get(ctx, engineSnapshotKey).Bytes()
		return err
	})
	if err == goredis.Nil {
		return nil, nil
	}
	return data, err
}

// Close closes the Redis client.
func (w *Writer) Close() error {
	return w.client.Close()
}

// bytesToString converts without copying; b must not be mutated afterwards.
func bytesToString(b []byte) string {
	return *(*string)(unsafe.Pointer(&b))
}
