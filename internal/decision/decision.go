// Package decision fuses realtime technicals, daily technicals and
// fundamentals into a single buy/no-buy score.
package decision

import (
	"fmt"
	"time"

	"stock-sentinel/internal/model"
)

const baseScore = 50

// Weights of each sub-score in the composite. Missing sub-scores are
// dropped and the rest renormalized.
type Weights struct {
	Realtime    float64
	Daily       float64
	Fundamental float64
}

// Config holds scoring thresholds.
type Config struct {
	BuyThreshold  float64
	RSIBuy        float64 // lower edge of the bullish RSI zone
	RSIOverbought float64
	RSIOversold   float64
	BandWidthPct  float64 // daily band width above this is "volatile"
	MinDailyRows  int
	TrendDepth    int // daily rows inspected for monotonic runs
	MaxReasons    int
	Weights       Weights
}

// DefaultConfig returns the standard thresholds and 0.4/0.3/0.3 weights.
func DefaultConfig() Config {
	return Config{
		BuyThreshold:  60,
		RSIBuy:        50,
		RSIOverbought: 70,
		RSIOversold:   30,
		BandWidthPct:  5,
		MinDailyRows:  5,
		TrendDepth:    5,
		MaxReasons:    5,
		Weights:       Weights{Realtime: 0.4, Daily: 0.3, Fundamental: 0.3},
	}
}

// Input is the data one decision looks at. Any part may be empty.
type Input struct {
	Instrument   model.Instrument
	Time         time.Time
	Realtime     []model.IndicatorSnapshot // intraday, newest first
	Daily        []model.IndicatorSnapshot // daily, newest first
	Prices       []float64                 // latest intraday prices, newest first
	Fundamentals *model.Fundamentals
}

// Fuser scores inputs. It holds no mutable state.
type Fuser struct {
	cfg Config
}

// New creates a Fuser. Zero fields take defaults.
func New(cfg Config) *Fuser {
	d := DefaultConfig()
	if cfg.BuyThreshold <= 0 {
		cfg.BuyThreshold = d.BuyThreshold
	}
	if cfg.RSIBuy <= 0 {
		cfg.RSIBuy = d.RSIBuy
	}
	if cfg.RSIOverbought <= 0 {
		cfg.RSIOverbought = d.RSIOverbought
	}
	if cfg.RSIOversold <= 0 {
		cfg.RSIOversold = d.RSIOversold
	}
	if cfg.BandWidthPct <= 0 {
		cfg.BandWidthPct = d.BandWidthPct
	}
	if cfg.MinDailyRows <= 0 {
		cfg.MinDailyRows = d.MinDailyRows
	}
	if cfg.TrendDepth < 3 {
		cfg.TrendDepth = d.TrendDepth
	}
	if cfg.MaxReasons <= 0 {
		cfg.MaxReasons = d.MaxReasons
	}
	if cfg.Weights == (Weights{}) {
		cfg.Weights = d.Weights
	}
	return &Fuser{cfg: cfg}
}

// Config returns the effective thresholds.
func (f *Fuser) Config() Config { return f.cfg }

// Decide scores every available dimension and combines them.
func (f *Fuser) Decide(in Input) model.DecisionResult {
	res := model.DecisionResult{
		Instrument:  in.Instrument,
		Time:        in.Time,
		Realtime:    f.Realtime(in.Realtime),
		Daily:       f.Daily(in.Daily, in.Prices),
		Fundamental: f.Fundamental(in.Fundamentals),
	}

	parts := []struct {
		label  string
		weight float64
		sub    *model.SubScore
	}{
		{"realtime", f.cfg.Weights.Realtime, res.Realtime},
		{"daily", f.cfg.Weights.Daily, res.Daily},
		{"fundamental", f.cfg.Weights.Fundamental, res.Fundamental},
	}

	total, weight := 0.0, 0.0
	for _, p := range parts {
		if p.sub == nil || p.weight <= 0 {
			continue
		}
		total += p.sub.Score * p.weight
		weight += p.weight
		n := min(2, len(p.sub.Reasons))
		for _, r := range p.sub.Reasons[:n] {
			res.Reasons = append(res.Reasons, p.label+": "+r)
		}
	}
	if weight == 0 {
		res.Reasons = []string{"no data"}
		return res
	}
	if len(res.Reasons) > f.cfg.MaxReasons {
		res.Reasons = res.Reasons[:f.cfg.MaxReasons]
	}
	res.Score = model.Round(clamp(total/weight), 4)
	res.CanBuy = res.Score >= f.cfg.BuyThreshold
	return res
}

// scorer accumulates one sub-score.
type scorer struct {
	score   float64
	reasons []string
}

func newScorer() *scorer { return &scorer{score: baseScore} }

func (s *scorer) add(delta float64, format string, args ...any) {
	s.score += delta
	s.reasons = append(s.reasons, fmt.Sprintf(format, args...))
}

func (s *scorer) result(threshold float64) *model.SubScore {
	score := clamp(s.score)
	return &model.SubScore{Score: score, CanBuy: score >= threshold, Reasons: s.reasons}
}

// Realtime scores the latest intraday snapshots. Nil when there are none.
func (f *Fuser) Realtime(snaps []model.IndicatorSnapshot) *model.SubScore {
	if len(snaps) == 0 {
		return nil
	}
	s := newScorer()
	latest := snaps[0]
	trend := snaps[:min(3, len(snaps))]

	f.momentum(s, latest, trend)
	f.rsi(s, latest, trend)
	f.movingAverages(s, latest, trend)
	if latest.UpperBand.Valid && latest.LowerBand.Valid {
		f.bandPosition(s, latest.Price, latest.UpperBand.Value, latest.LowerBand.Value)
	}
	return s.result(f.cfg.BuyThreshold)
}

// Daily scores a daily indicator series. prices are the latest intraday
// prices, newest first, used for band position and the short price run.
// Nil when fewer than MinDailyRows rows exist.
func (f *Fuser) Daily(snaps []model.IndicatorSnapshot, prices []float64) *model.SubScore {
	if len(snaps) < f.cfg.MinDailyRows {
		return nil
	}
	s := newScorer()
	latest, prev := snaps[0], snaps[1]
	trend := snaps[:min(f.cfg.TrendDepth, len(snaps))]

	f.momentum(s, latest, trend)
	switch {
	case prev.MACD < prev.Signal && latest.MACD > latest.Signal:
		s.add(15, "MACD golden cross")
	case prev.MACD > prev.Signal && latest.MACD < latest.Signal:
		s.add(-15, "MACD death cross")
	}

	f.rsi(s, latest, trend)
	f.movingAverages(s, latest, trend)
	if latest.MA5.Valid && latest.MA10.Valid && prev.MA5.Valid && prev.MA10.Valid {
		switch {
		case prev.MA5.Value < prev.MA10.Value && latest.MA5.Value > latest.MA10.Value:
			s.add(15, "MA5/MA10 golden cross")
		case prev.MA5.Value > prev.MA10.Value && latest.MA5.Value < latest.MA10.Value:
			s.add(-15, "MA5/MA10 death cross")
		}
	}

	if latest.UpperBand.Valid && latest.LowerBand.Valid {
		upper, lower := latest.UpperBand.Value, latest.LowerBand.Value
		width := 0.0
		if mid := (upper + lower) / 2; mid != 0 {
			width = (upper - lower) / mid * 100
		}
		if width > f.cfg.BandWidthPct {
			s.add(-5, "wide Bollinger band (%.2f%%), volatility rising", width)
		} else {
			s.add(5, "narrow Bollinger band (%.2f%%), volatility easing", width)
		}
		if len(prices) > 0 {
			f.bandPosition(s, prices[0], upper, lower)
			if len(prices) >= 3 {
				switch {
				case strictlyRising(prices):
					s.add(10, "price rising over the last %d ticks", len(prices))
				case strictlyFalling(prices):
					s.add(-10, "price falling over the last %d ticks", len(prices))
				}
			}
		}
	}
	return s.result(f.cfg.BuyThreshold)
}

// Fundamental scores valuation and trading statistics. Nil when absent.
func (f *Fuser) Fundamental(fd *model.Fundamentals) *model.SubScore {
	if fd == nil {
		return nil
	}
	s := newScorer()
	if v := fd.PE; v.Valid {
		switch {
		case v.Value < 15:
			s.add(10, "low PE (%.2f), possibly undervalued", v.Value)
		case v.Value > 30:
			s.add(-10, "high PE (%.2f), possibly overvalued", v.Value)
		}
	}
	if v := fd.PB; v.Valid {
		switch {
		case v.Value < 1.5:
			s.add(10, "low PB (%.2f), possibly undervalued", v.Value)
		case v.Value > 3:
			s.add(-10, "high PB (%.2f), possibly overvalued", v.Value)
		}
	}
	if v := fd.DividendYield; v.Valid && v.Value > 3 {
		s.add(10, "high dividend yield (%.2f%%)", v.Value)
	}
	if v := fd.ChangePct; v.Valid {
		switch {
		case v.Value > 5:
			s.add(5, "strong gain (%.2f%%)", v.Value)
		case v.Value < -5:
			s.add(5, "sharp drop (%.2f%%), rebound possible", v.Value)
		}
	}
	if v := fd.Amplitude; v.Valid && v.Value > 5 {
		s.add(-5, "high amplitude (%.2f%%), volatile", v.Value)
	}
	if v := fd.Turnover; v.Valid {
		switch {
		case v.Value > 10:
			s.add(5, "high turnover (%.2f%%), active trading", v.Value)
		case v.Value < 1:
			s.add(-5, "low turnover (%.2f%%), thin trading", v.Value)
		}
	}
	return s.result(f.cfg.BuyThreshold)
}

func (f *Fuser) momentum(s *scorer, latest model.IndicatorSnapshot, trend []model.IndicatorSnapshot) {
	switch {
	case latest.Hist > 0:
		s.add(10, "MACD histogram positive (%.4f)", latest.Hist)
	case latest.Hist < 0:
		s.add(-10, "MACD histogram negative (%.4f)", latest.Hist)
	}
	hist := make([]float64, len(trend))
	for i, t := range trend {
		hist[i] = t.Hist
	}
	if len(hist) >= 3 {
		switch {
		case strictlyRising(hist):
			s.add(8, "MACD histogram rising")
		case strictlyFalling(hist):
			s.add(-8, "MACD histogram falling")
		}
	}
}

func (f *Fuser) rsi(s *scorer, latest model.IndicatorSnapshot, trend []model.IndicatorSnapshot) {
	if !latest.RSI.Valid {
		return
	}
	switch rsi := latest.RSI.Value; {
	case rsi > f.cfg.RSIBuy && rsi < f.cfg.RSIOverbought:
		s.add(10, "RSI %.2f in buy zone", rsi)
	case rsi >= f.cfg.RSIOverbought:
		s.add(-10, "RSI %.2f overbought", rsi)
	case rsi <= f.cfg.RSIOversold:
		s.add(5, "RSI %.2f oversold, rebound possible", rsi)
	}
	series := defined(trend, func(t model.IndicatorSnapshot) model.Optional { return t.RSI })
	if len(series) >= 3 {
		switch {
		case strictlyRising(series):
			s.add(8, "RSI rising")
		case strictlyFalling(series):
			s.add(-8, "RSI falling")
		}
	}
}

func (f *Fuser) movingAverages(s *scorer, latest model.IndicatorSnapshot, trend []model.IndicatorSnapshot) {
	if !latest.MA5.Valid || !latest.MA10.Valid {
		return
	}
	if latest.MA5.Value > latest.MA10.Value {
		s.add(10, "MA5 (%.2f) above MA10 (%.2f)", latest.MA5.Value, latest.MA10.Value)
	} else {
		s.add(-10, "MA5 (%.2f) below MA10 (%.2f)", latest.MA5.Value, latest.MA10.Value)
	}
	series := defined(trend, func(t model.IndicatorSnapshot) model.Optional { return t.MA5 })
	if len(series) >= 3 {
		switch {
		case strictlyRising(series):
			s.add(8, "MA5 rising")
		case strictlyFalling(series):
			s.add(-8, "MA5 falling")
		}
	}
}

func (f *Fuser) bandPosition(s *scorer, price, upper, lower float64) {
	switch {
	case price > upper:
		s.add(-10, "price %.2f above upper band %.2f", price, upper)
	case price < lower:
		s.add(10, "price %.2f below lower band %.2f", price, lower)
	}
}

// defined collects the defined values of one field, newest first.
func defined(snaps []model.IndicatorSnapshot, field func(model.IndicatorSnapshot) model.Optional) []float64 {
	out := make([]float64, 0, len(snaps))
	for _, s := range snaps {
		if v := field(s); v.Valid {
			out = append(out, v.Value)
		}
	}
	return out
}

// strictlyRising reports whether a newest-first series increases over time.
func strictlyRising(v []float64) bool {
	for i := 0; i+1 < len(v); i++ {
		if v[i] <= v[i+1] {
			return false
		}
	}
	return true
}

func strictlyFalling(v []float64) bool {
	for i := 0; i+1 < len(v); i++ {
		if v[i] >= v[i+1] {
			return false
		}
	}
	return true
}

func clamp(v float64) float64 {
	return max(0, min(100, v))
}
