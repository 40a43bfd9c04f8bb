// Package indicator maintains per-instrument technical indicator state.
//
// Two paths produce an IndicatorSnapshot. The cold path recomputes every
// indicator from a history window (ComputeSeries) and seeds a State from
// the result. The warm path advances an existing State by one sample with
// O(1) recurrences. Under rolling RSI smoothing both paths agree to within
// floating point error.
package indicator

import "time"

// Smoothing selects how the warm path updates RSI averages.
type Smoothing string

const (
	// SmoothingRolling keeps a simple mean over the last RSIPeriod deltas,
	// identical to the cold recompute.
	SmoothingRolling Smoothing = "rolling"
	// SmoothingWilder uses avg' = (avg*(n-1) + x) / n.
	SmoothingWilder Smoothing = "wilder"
)

// Config holds the indicator periods and engine limits.
type Config struct {
	ShortSpan   int
	LongSpan    int
	SignalSpan  int
	RSIPeriod   int
	BandPeriod  int
	BandWidth   float64 // std multiplier for Bollinger bands
	MAShort     int
	MALong      int
	Lookback    int // K: ring buffer capacity and cold history depth
	MinSamples  int // snapshots are emitted only past this many samples
	RecentDepth int // snapshots kept per instrument for cross checks
	StaleAfter  time.Duration
	Smoothing   Smoothing
}

// DefaultConfig returns the standard 12/26/9 MACD, RSI-14, Bollinger 20×2
// and MA5/MA10 configuration.
func DefaultConfig() Config {
	return Config{
		ShortSpan:   12,
		LongSpan:    26,
		SignalSpan:  9,
		RSIPeriod:   14,
		BandPeriod:  20,
		BandWidth:   2,
		MAShort:     5,
		MALong:      10,
		Lookback:    100,
		MinSamples:  30,
		RecentDepth: 5,
		StaleAfter:  6 * time.Hour,
		Smoothing:   SmoothingRolling,
	}
}

// withDefaults fills zero fields from DefaultConfig.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.ShortSpan <= 0 {
		c.ShortSpan = d.ShortSpan
	}
	if c.LongSpan <= 0 {
		c.LongSpan = d.LongSpan
	}
	if c.SignalSpan <= 0 {
		c.SignalSpan = d.SignalSpan
	}
	if c.RSIPeriod <= 0 {
		c.RSIPeriod = d.RSIPeriod
	}
	if c.BandPeriod <= 1 {
		c.BandPeriod = d.BandPeriod
	}
	if c.BandWidth <= 0 {
		c.BandWidth = d.BandWidth
	}
	if c.MAShort <= 0 {
		c.MAShort = d.MAShort
	}
	if c.MALong <= 0 {
		c.MALong = d.MALong
	}
	if c.Lookback <= 0 {
		c.Lookback = d.Lookback
	}
	if c.MinSamples <= 0 {
		c.MinSamples = d.MinSamples
	}
	if c.RecentDepth <= 0 {
		c.RecentDepth = d.RecentDepth
	}
	if c.Smoothing != SmoothingWilder {
		c.Smoothing = SmoothingRolling
	}
	return c
}

// splitDelta returns the gain and loss parts of a price delta.
func splitDelta(delta float64) (gain, loss float64) {
	if delta > 0 {
		return delta, 0
	}
	return 0, -delta
}

// rsiFromAverages maps average gain/loss to RSI. A zero average loss is
// defined as RSI 100.
func rsiFromAverages(avgGain, avgLoss float64) float64 {
	if avgLoss == 0 {
		return 100.0
	}
	rs := avgGain / avgLoss
	return 100.0 - (100.0 / (1.0 + rs))
}
