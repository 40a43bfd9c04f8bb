// Package correlate links price anomalies to nearby news sentiment events.
package correlate

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"stock-sentinel/internal/model"
)

// Config holds the search window and filtering limits.
type Config struct {
	Before   time.Duration // news window before the anomaly
	After    time.Duration // news window after the anomaly
	MinScore float64
	TopN     int
}

// DefaultConfig returns a 2h/1h window, min score 0.3 and top 5.
func DefaultConfig() Config {
	return Config{
		Before:   2 * time.Hour,
		After:    time.Hour,
		MinScore: 0.3,
		TopN:     5,
	}
}

// Correlator scores news events against anomalies.
type Correlator struct {
	cfg    Config
	source model.SentimentSource
}

// New creates a Correlator. Zero Before, After and TopN take defaults; a
// zero MinScore keeps every related record and a negative one is clamped
// to zero.
func New(source model.SentimentSource, cfg Config) *Correlator {
	d := DefaultConfig()
	if cfg.Before <= 0 {
		cfg.Before = d.Before
	}
	if cfg.After <= 0 {
		cfg.After = d.After
	}
	if cfg.MinScore < 0 {
		cfg.MinScore = 0
	}
	if cfg.TopN <= 0 {
		cfg.TopN = d.TopN
	}
	return &Correlator{cfg: cfg, source: source}
}

// Correlate fetches news in [anomaly-before, anomaly+after] and returns the
// related records, best first. Zero before/after use the configured window.
// Records scoring below MinScore or classed unrelated are dropped.
func (c *Correlator) Correlate(ctx context.Context, inst model.Instrument, ev model.AnomalyEvent, before, after time.Duration) ([]model.CorrelationRecord, error) {
	if before <= 0 {
		before = c.cfg.Before
	}
	if after <= 0 {
		after = c.cfg.After
	}
	events, err := c.source.EventsInWindow(ctx, ev.Time.Add(-before), ev.Time.Add(after))
	if err != nil {
		return nil, model.Upstream("sentiment events", err)
	}

	recs := make([]model.CorrelationRecord, 0, len(events))
	for _, news := range events {
		if news.Time.Before(ev.Time.Add(-before)) || news.Time.After(ev.Time.Add(after)) {
			continue
		}
		rec := Score(inst, ev, news)
		if rec.Class == model.ClassUnrelated || rec.Score < c.cfg.MinScore {
			continue
		}
		recs = append(recs, rec)
	}

	sort.SliceStable(recs, func(i, j int) bool {
		if recs[i].Score != recs[j].Score {
			return recs[i].Score > recs[j].Score
		}
		return absDuration(recs[i].TimeDelta) < absDuration(recs[j].TimeDelta)
	})
	if len(recs) > c.cfg.TopN {
		recs = recs[:c.cfg.TopN]
	}
	return recs, nil
}

// Score computes the correlation of one news event with one anomaly.
//
// The score adds a time term (0.4 within 30 minutes, 0.3 within 60, 0.2
// within 120, else 0.1), 0.3 when the news mentions the instrument, and
// 0.3 when the sentiment sign matches the move (0.1 instead for neutral
// news with |sentiment| < 0.2). Minutes are truncated toward zero; news
// published before the anomaly is a cause candidate, news after it a
// reaction candidate.
func Score(inst model.Instrument, ev model.AnomalyEvent, news model.SentimentEvent) model.CorrelationRecord {
	delta := news.Time.Sub(ev.Time)
	minutes := int(delta.Minutes())
	absMinutes := minutes
	if absMinutes < 0 {
		absMinutes = -absMinutes
	}

	var (
		score   float64
		reasons []string
	)
	switch {
	case absMinutes < 30:
		score += 0.4
	case absMinutes < 60:
		score += 0.3
	case absMinutes < 120:
		score += 0.2
	default:
		score += 0.1
	}

	if Mentions(inst, news) {
		score += 0.3
		reasons = append(reasons, "mentions "+inst.String())
	}

	priceUp := ev.ChangePct > 0
	newsUp := news.Score > 0
	if priceUp == newsUp {
		score += 0.3
		reasons = append(reasons, fmt.Sprintf("sentiment aligned (%.2f)", news.Score))
	} else if math.Abs(news.Score) < 0.2 {
		score += 0.1
		reasons = append(reasons, fmt.Sprintf("neutral sentiment (%.2f)", news.Score))
	}

	score = model.Round(math.Max(0, math.Min(1, score)), 4)

	class := model.ClassUnrelated
	if minutes < 0 {
		switch {
		case score >= 0.6:
			class = model.ClassCause
		case score >= 0.3:
			class = model.ClassPotentialCause
		}
	} else {
		switch {
		case score >= 0.6:
			class = model.ClassReaction
		case score >= 0.3:
			class = model.ClassPotentialReaction
		}
	}
	reasons = append(reasons, fmt.Sprintf("time delta %d min", absMinutes))

	hash := news.Hash
	if hash == "" {
		hash = NewsHash(news)
	}
	return model.CorrelationRecord{
		Instrument:  inst,
		AnomalyTime: ev.Time,
		AnomalyType: ev.Type,
		ChangePct:   ev.ChangePct,
		VolumeSpike: ev.VolumeSpike,
		NewsTime:    news.Time,
		NewsHash:    hash,
		NewsTitle:   news.Title,
		Sentiment:   news.Score,
		Score:       score,
		TimeDelta:   delta,
		Class:       class,
		Rationale:   strings.Join(reasons, "; "),
	}
}

// Mentions reports whether the event names the instrument by code or name,
// or lists the code among its tagged codes.
func Mentions(inst model.Instrument, news model.SentimentEvent) bool {
	for _, code := range news.Codes {
		if code == inst.Code {
			return true
		}
	}
	for _, s := range []string{news.Title, news.Text} {
		if inst.Code != "" && strings.Contains(s, inst.Code) {
			return true
		}
		if inst.Name != "" && strings.Contains(s, inst.Name) {
			return true
		}
	}
	return false
}

// NewsHash is md5(content|time) in hex, used when the source carries no
// hash. The body is the content; the title stands in when there is none.
func NewsHash(news model.SentimentEvent) string {
	content := news.Text
	if content == "" {
		content = news.Title
	}
	sum := md5.Sum([]byte(content + "|" + news.Time.UTC().Format("2006-01-02 15:04:05")))
	return hex.EncodeToString(sum[:])
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
