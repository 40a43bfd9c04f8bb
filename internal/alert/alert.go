// Package alert evaluates multi-factor alert rules for one instrument.
//
// Evaluate is pure: the same Input always yields the same alerts, including
// IDs, so a re-run cycle upserts onto the same natural keys.
package alert

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"

	"stock-sentinel/internal/correlate"
	"stock-sentinel/internal/model"
)

// Config holds rule thresholds.
type Config struct {
	PriceWarning      float64 // |change%|
	PriceCritical     float64
	VolumeSpike       float64 // latest / mean of previous VolumeBaseline
	VolumeBaseline    int
	RSIOverbought     float64
	RSIOversold       float64
	SentimentPositive float64
	SentimentNegative float64
	SentimentRapid    float64
	DeviationWarning  float64 // fraction of predicted price
	DeviationCritical float64
	SentimentWindow   time.Duration
	MaxSentiment      int
}

// DefaultConfig returns the standard thresholds.
func DefaultConfig() Config {
	return Config{
		PriceWarning:      3,
		PriceCritical:     5,
		VolumeSpike:       2,
		VolumeBaseline:    4,
		RSIOverbought:     70,
		RSIOversold:       30,
		SentimentPositive: 0.7,
		SentimentNegative: -0.7,
		SentimentRapid:    0.5,
		DeviationWarning:  0.05,
		DeviationCritical: 0.10,
		SentimentWindow:   24 * time.Hour,
		MaxSentiment:      10,
	}
}

// Input is everything one evaluation looks at.
type Input struct {
	Instrument model.Instrument
	Now        time.Time
	Samples    []model.PriceSample       // any order; the newest is evaluated
	Indicators []model.IndicatorSnapshot // newest first; RSI reads the first, MACD crosses every adjacent pair
	Sentiment  []model.SentimentEvent    // unfiltered; Evaluate applies the window
	Forecast   *model.ForecastRecord     // nil when no forecast covers today
}

// Engine evaluates alert rules. It holds no mutable state.
type Engine struct {
	cfg Config
}

// New creates an Engine. Zero fields take defaults.
func New(cfg Config) *Engine {
	d := DefaultConfig()
	def := func(v *float64, dv float64) {
		if *v == 0 {
			*v = dv
		}
	}
	def(&cfg.PriceWarning, d.PriceWarning)
	def(&cfg.PriceCritical, d.PriceCritical)
	def(&cfg.VolumeSpike, d.VolumeSpike)
	def(&cfg.RSIOverbought, d.RSIOverbought)
	def(&cfg.RSIOversold, d.RSIOversold)
	def(&cfg.SentimentPositive, d.SentimentPositive)
	def(&cfg.SentimentNegative, d.SentimentNegative)
	def(&cfg.SentimentRapid, d.SentimentRapid)
	def(&cfg.DeviationWarning, d.DeviationWarning)
	def(&cfg.DeviationCritical, d.DeviationCritical)
	if cfg.VolumeBaseline <= 0 {
		cfg.VolumeBaseline = d.VolumeBaseline
	}
	if cfg.SentimentWindow <= 0 {
		cfg.SentimentWindow = d.SentimentWindow
	}
	if cfg.MaxSentiment <= 0 {
		cfg.MaxSentiment = d.MaxSentiment
	}
	return &Engine{cfg: cfg}
}

// Config returns the effective thresholds.
func (e *Engine) Config() Config { return e.cfg }

// Evaluate runs every rule and returns the alerts that fired, in rule order.
// Rules are independent; a missing input makes its rule not applicable.
func (e *Engine) Evaluate(in Input) []model.Alert {
	samples, _ := model.NormalizeSamples(in.Samples)
	// Newest first.
	for i, j := 0, len(samples)-1; i < j; i, j = i+1, j-1 {
		samples[i], samples[j] = samples[j], samples[i]
	}

	at := in.Now
	if len(samples) > 0 {
		at = samples[0].Time
	}
	b := builder{inst: in.Instrument, at: at}

	e.priceChange(&b, samples)
	e.volumeSpike(&b, samples)
	e.technical(&b, in.Indicators)
	e.sentiment(&b, e.recentSentiment(in.Instrument, in.Sentiment, at))
	if len(samples) > 0 {
		e.forecast(&b, samples[0].Price, in.Forecast)
	}
	return b.alerts
}

func (e *Engine) priceChange(b *builder, samples []model.PriceSample) {
	if len(samples) == 0 {
		return
	}
	var prev *model.PriceSample
	if len(samples) > 1 {
		prev = &samples[1]
	}
	change, ok := samples[0].ChangePct(prev)
	if !ok {
		return
	}
	abs := math.Abs(change)
	sev := model.SeverityWarning
	switch {
	case abs >= e.cfg.PriceCritical:
		sev = model.SeverityCritical
	case abs >= e.cfg.PriceWarning:
	default:
		return
	}
	dir := "up"
	if change < 0 {
		dir = "down"
	}
	b.add(model.AlertPriceChange, sev,
		fmt.Sprintf("price moved %s %.2f%% to %.2f", dir, abs, samples[0].Price),
		map[string]any{
			"current_price": samples[0].Price,
			"change_pct":    model.Round(change, 4),
			"direction":     dir,
		})
}

func (e *Engine) volumeSpike(b *builder, samples []model.PriceSample) {
	n := e.cfg.VolumeBaseline
	if len(samples) < n+1 {
		return
	}
	sum := 0.0
	for _, s := range samples[1 : n+1] {
		sum += s.Volume
	}
	avg := sum / float64(n)
	if avg <= 0 {
		return
	}
	ratio := samples[0].Volume / avg
	if ratio < e.cfg.VolumeSpike {
		return
	}
	b.add(model.AlertVolumeSpike, model.SeverityWarning,
		fmt.Sprintf("volume %.1fx the recent average", ratio),
		map[string]any{
			"current_volume": samples[0].Volume,
			"avg_volume":     model.Round(avg, 4),
			"spike_ratio":    model.Round(ratio, 4),
		})
}

func (e *Engine) technical(b *builder, snaps []model.IndicatorSnapshot) {
	if len(snaps) == 0 {
		return
	}
	cur := snaps[0]
	if cur.RSI.Valid {
		switch rsi := cur.RSI.Value; {
		case rsi >= e.cfg.RSIOverbought:
			b.add(model.AlertRSIOverbought, model.SeverityWarning,
				fmt.Sprintf("RSI overbought: %.2f", rsi),
				map[string]any{"rsi_value": model.Round(rsi, 4), "threshold": e.cfg.RSIOverbought})
		case rsi <= e.cfg.RSIOversold:
			b.add(model.AlertRSIOversold, model.SeverityWarning,
				fmt.Sprintf("RSI oversold: %.2f", rsi),
				map[string]any{"rsi_value": model.Round(rsi, 4), "threshold": e.cfg.RSIOversold})
		}
	}

	// A cross older than the newest pair is stamped with its own snapshot
	// time so each cross keeps a distinct natural key.
	for i := 0; i+1 < len(snaps); i++ {
		cur, prev := snaps[i], snaps[i+1]
		at := b.at
		if i > 0 && !cur.Time.IsZero() {
			at = cur.Time
		}
		details := map[string]any{
			"macd":        model.Round(cur.MACD, 4),
			"signal":      model.Round(cur.Signal, 4),
			"prev_macd":   model.Round(prev.MACD, 4),
			"prev_signal": model.Round(prev.Signal, 4),
		}
		switch {
		case prev.MACD < prev.Signal && cur.MACD > cur.Signal:
			b.addAt(at, model.AlertMACDGoldenCross, model.SeverityInfo, "MACD golden cross", details)
		case prev.MACD > prev.Signal && cur.MACD < cur.Signal:
			b.addAt(at, model.AlertMACDDeathCross, model.SeverityWarning, "MACD death cross", details)
		}
	}
}

// recentSentiment keeps events mentioning inst inside the trailing window
// ending at at, newest first, capped at MaxSentiment.
func (e *Engine) recentSentiment(inst model.Instrument, events []model.SentimentEvent, at time.Time) []model.SentimentEvent {
	from := at.Add(-e.cfg.SentimentWindow)
	var out []model.SentimentEvent
	for _, ev := range events {
		if ev.Time.Before(from) || ev.Time.After(at) || !correlate.Mentions(inst, ev) {
			continue
		}
		out = append(out, ev)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Time.After(out[j].Time) })
	if len(out) > e.cfg.MaxSentiment {
		out = out[:e.cfg.MaxSentiment]
	}
	return out
}

func (e *Engine) sentiment(b *builder, events []model.SentimentEvent) {
	for _, ev := range events {
		var typ string
		var sev model.Severity
		switch {
		case ev.Score >= e.cfg.SentimentPositive:
			typ, sev = model.AlertSentimentPositive, model.SeverityInfo
		case ev.Score <= e.cfg.SentimentNegative:
			typ, sev = model.AlertSentimentNegative, model.SeverityWarning
		default:
			continue
		}
		// Keyed on the news time so several extreme events stay distinct.
		b.addAt(ev.Time, typ, sev,
			fmt.Sprintf("extreme news sentiment %.2f: %s", ev.Score, preview(ev.Title, 50)),
			map[string]any{
				"sentiment_score": ev.Score,
				"news_time":       ev.Time.UTC().Format(time.RFC3339),
				"news_preview":    preview(newsBody(ev), 100),
			})
	}

	if len(events) < 3 {
		return
	}
	from, to := events[2].Score, events[0].Score
	change := to - from
	if math.Abs(change) < e.cfg.SentimentRapid {
		return
	}
	b.add(model.AlertSentimentRapid, model.SeverityWarning,
		fmt.Sprintf("sentiment shifted %.2f -> %.2f", from, to),
		map[string]any{
			"from_score": from,
			"to_score":   to,
			"change":     model.Round(change, 4),
		})
}

func (e *Engine) forecast(b *builder, price float64, f *model.ForecastRecord) {
	if f == nil || f.Predicted <= 0 {
		return
	}
	dev := math.Abs(price-f.Predicted) / f.Predicted
	details := map[string]any{
		"current_price":   price,
		"predicted_price": f.Predicted,
		"lower_bound":     f.Lower,
		"upper_bound":     f.Upper,
		"deviation_pct":   model.Round(dev*100, 4),
		"warning_pct":     e.cfg.DeviationWarning * 100,
	}
	sev := model.SeverityWarning
	if dev >= e.cfg.DeviationCritical {
		sev = model.SeverityCritical
	}
	switch {
	case price > f.Upper:
		b.add(model.AlertForecastUpper, sev,
			fmt.Sprintf("price above forecast upper bound: %.2f > %.2f", price, f.Upper), details)
	case price < f.Lower:
		b.add(model.AlertForecastLower, sev,
			fmt.Sprintf("price below forecast lower bound: %.2f < %.2f", price, f.Lower), details)
	case dev >= e.cfg.DeviationCritical:
		b.add(model.AlertForecastCritical, model.SeverityCritical,
			fmt.Sprintf("price deviates %.2f%% from forecast", dev*100), details)
	}
}

type builder struct {
	inst   model.Instrument
	at     time.Time
	alerts []model.Alert
}

func (b *builder) add(typ string, sev model.Severity, msg string, details map[string]any) {
	b.addAt(b.at, typ, sev, msg, details)
}

func (b *builder) addAt(at time.Time, typ string, sev model.Severity, msg string, details map[string]any) {
	a := model.Alert{
		Instrument: b.inst,
		Time:       at,
		Type:       typ,
		Severity:   sev,
		Message:    b.inst.String() + " " + msg,
		Details:    details,
	}
	a.ID = ID(a)
	b.alerts = append(b.alerts, a)
}

// ID derives a stable alert id from the natural key.
func ID(a model.Alert) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(a.Key())).String()
}

func newsBody(ev model.SentimentEvent) string {
	if ev.Text != "" {
		return ev.Text
	}
	return ev.Title
}

// preview returns at most n runes of s.
func preview(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
