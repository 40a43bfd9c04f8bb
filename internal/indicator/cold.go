package indicator

import "stock-sentinel/internal/model"

// columns holds the full-window indicator series computed by the cold path.
type columns struct {
	prices []float64
	short  []float64
	long   []float64
	macd   []float64
	signal []float64
	gains  []float64 // gains[i] is the gain of prices[i]-prices[i-1]; gains[0] unused
	losses []float64
}

// ComputeSeries recomputes every indicator for each sample of an
// oldest-first, duplicate-free series (see model.NormalizeSamples).
// Indicators are undefined (Valid=false) until their window fills.
// Every snapshot carries Mode "cold".
func ComputeSeries(code string, samples []model.PriceSample, cfg Config) []model.IndicatorSnapshot {
	cfg = cfg.withDefaults()
	if len(samples) == 0 {
		return nil
	}
	c := computeColumns(samples, cfg)
	out := make([]model.IndicatorSnapshot, len(samples))
	for i := range samples {
		out[i] = c.snapshot(code, samples[i], i, cfg)
	}
	return out
}

func computeColumns(samples []model.PriceSample, cfg Config) columns {
	n := len(samples)
	c := columns{
		prices: make([]float64, n),
		macd:   make([]float64, n),
		gains:  make([]float64, n),
		losses: make([]float64, n),
	}
	for i, s := range samples {
		c.prices[i] = s.Price
	}
	c.short = ewm(c.prices, cfg.ShortSpan)
	c.long = ewm(c.prices, cfg.LongSpan)
	for i := range c.macd {
		c.macd[i] = (c.short[i] - c.long[i]) * 2
	}
	c.signal = ewm(c.macd, cfg.SignalSpan)
	for i := 1; i < n; i++ {
		c.gains[i], c.losses[i] = splitDelta(c.prices[i] - c.prices[i-1])
	}
	return c
}

func (c columns) snapshot(code string, s model.PriceSample, i int, cfg Config) model.IndicatorSnapshot {
	snap := model.IndicatorSnapshot{
		Instrument: code,
		Time:       s.Time,
		Price:      s.Price,
		ShortEMA:   c.short[i],
		LongEMA:    c.long[i],
		MACD:       c.macd[i],
		Signal:     c.signal[i],
		Hist:       c.macd[i] - c.signal[i],
		Mode:       Cold.String(),
	}
	if ag, al, ok := c.rsiAverages(i, cfg.RSIPeriod); ok {
		snap.RSI = model.Some(rsiFromAverages(ag, al))
	}
	if v, ok := windowMean(c.prices, i, cfg.MAShort); ok {
		snap.MA5 = model.Some(v)
	}
	if v, ok := windowMean(c.prices, i, cfg.MALong); ok {
		snap.MA10 = model.Some(v)
	}
	if i+1 >= cfg.BandPeriod {
		if band, ok := Bollinger(c.prices[i+1-cfg.BandPeriod:i+1], cfg.BandWidth); ok {
			snap.UpperBand = model.Some(band.Upper)
			snap.MiddleBand = model.Some(band.Middle)
			snap.LowerBand = model.Some(band.Lower)
			snap.MA20 = model.Some(band.Middle)
		}
	}
	return snap
}

// rsiAverages returns the simple mean of the period deltas ending at i.
func (c columns) rsiAverages(i, period int) (float64, float64, bool) {
	if i < period {
		return 0, 0, false
	}
	g, l := 0.0, 0.0
	for j := i - period + 1; j <= i; j++ {
		g += c.gains[j]
		l += c.losses[j]
	}
	return g / float64(period), l / float64(period), true
}

// ewm is the recursive exponential mean seeded with the first value.
func ewm(x []float64, span int) []float64 {
	out := make([]float64, len(x))
	if len(x) == 0 {
		return out
	}
	alpha := 2.0 / float64(span+1)
	out[0] = x[0]
	for i := 1; i < len(x); i++ {
		out[i] = x[i]*alpha + out[i-1]*(1-alpha)
	}
	return out
}

// windowMean is the mean of the n values ending at i.
func windowMean(x []float64, i, n int) (float64, bool) {
	if i+1 < n {
		return 0, false
	}
	sum := 0.0
	for j := i - n + 1; j <= i; j++ {
		sum += x[j]
	}
	return sum / float64(n), true
}

// seedState builds a warm-ready State from the tail of a cold recompute.
// The undo record starts empty, so the first warm sample cannot overwrite
// the last cold one in place.
func seedState(samples []model.PriceSample, c columns, cfg Config) *State {
	st := newState(cfg, true)
	n := len(samples)
	last := n - 1

	start := n - cfg.Lookback
	if start < 0 {
		start = 0
	}
	for _, s := range samples[start:] {
		st.prices.Push(s.Price)
		st.times.Push(s.Time)
	}

	st.short.seed(c.short[last], n)
	st.long.seed(c.long[last], n)
	st.signal.seed(c.signal[last], n)
	st.macd = c.macd[last]

	from := n - cfg.RSIPeriod
	if from < 1 {
		from = 1
	}
	ag, al, _ := c.rsiAverages(last, cfg.RSIPeriod)
	st.rsi.seed(c.prices[last], c.gains[from:], c.losses[from:], n-1, ag, al)

	st.maS.seed(c.prices, n)
	st.maL.seed(c.prices, n)

	st.samples = n
	st.lastUpdate = samples[last].Time
	return st
}
