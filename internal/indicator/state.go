package indicator

import (
	"fmt"
	"time"

	"stock-sentinel/internal/model"
	"stock-sentinel/internal/ringbuf"
)

// State is the bounded indicator state of one instrument. It is owned by a
// single engine slot and is not safe for concurrent use.
type State struct {
	cfg Config

	prices *ringbuf.Ring[float64]
	times  *ringbuf.Ring[time.Time]

	short  *EMA
	long   *EMA
	signal *EMA
	macd   float64
	rsi    *RSI
	maS    *SMA
	maL    *SMA

	samples    int
	lastUpdate time.Time

	// undo holds the state before the last applied sample so a repeated
	// timestamp overwrites instead of appending.
	undo      *State
	undoValid bool

	window []float64 // scratch for band computation
}

// NewState creates an empty state.
func NewState(cfg Config) *State {
	cfg = cfg.withDefaults()
	return newState(cfg, true)
}

func newState(cfg Config, withUndo bool) *State {
	s := &State{
		cfg:    cfg,
		prices: ringbuf.New[float64](cfg.Lookback),
		times:  ringbuf.New[time.Time](cfg.Lookback),
		short:  NewEMA(cfg.ShortSpan),
		long:   NewEMA(cfg.LongSpan),
		signal: NewEMA(cfg.SignalSpan),
		rsi:    NewRSI(cfg.RSIPeriod, cfg.Smoothing),
		maS:    NewSMA(cfg.MAShort),
		maL:    NewSMA(cfg.MALong),
		window: make([]float64, 0, cfg.BandPeriod),
	}
	if withUndo {
		s.undo = newState(cfg, false)
	}
	return s
}

// Samples returns the number of samples absorbed since the state was created.
func (s *State) Samples() int { return s.samples }

// LastUpdate returns the time of the last applied sample.
func (s *State) LastUpdate() time.Time { return s.lastUpdate }

// CanOverwrite reports whether a sample at LastUpdate can replace the last
// applied one in place.
func (s *State) CanOverwrite() bool { return s.undoValid }

// Apply advances the state by one sample (warm path). A sample at
// LastUpdate replaces the previous one; an older sample is rejected.
func (s *State) Apply(sample model.PriceSample) error {
	if err := sample.Validate(); err != nil {
		return err
	}
	if s.samples > 0 {
		switch {
		case sample.Time.Before(s.lastUpdate):
			return fmt.Errorf("%w: sample at %s is older than last update %s",
				model.ErrInvalidSample, sample.Time.Format(time.RFC3339), s.lastUpdate.Format(time.RFC3339))
		case sample.Time.Equal(s.lastUpdate):
			if !s.CanOverwrite() {
				return fmt.Errorf("%w: cannot overwrite sample at %s",
					model.ErrInvalidSample, sample.Time.Format(time.RFC3339))
			}
			s.copyFrom(s.undo)
		}
	}
	if s.undo != nil {
		s.undo.copyFrom(s)
		s.undoValid = true
	}
	s.step(sample.Price, sample.Time)
	return nil
}

// step applies the closed-form recurrences for one price.
func (s *State) step(p float64, t time.Time) {
	s.prices.Push(p)
	s.times.Push(t)

	s.short.Update(p)
	s.long.Update(p)
	s.macd = (s.short.Value() - s.long.Value()) * 2
	s.signal.Update(s.macd)

	s.rsi.Update(p)
	s.maS.Update(p)
	s.maL.Update(p)

	s.samples++
	s.lastUpdate = t
}

// Snapshot builds the indicator snapshot for the last applied sample.
// Returns ErrInsufficientHistory until MinSamples samples were absorbed.
func (s *State) Snapshot(code string, mode Mode) (model.IndicatorSnapshot, error) {
	if s.samples < s.cfg.MinSamples {
		return model.IndicatorSnapshot{}, fmt.Errorf("%w: %s has %d of %d samples",
			model.ErrInsufficientHistory, code, s.samples, s.cfg.MinSamples)
	}
	price, _ := s.prices.Last()
	snap := model.IndicatorSnapshot{
		Instrument: code,
		Time:       s.lastUpdate,
		Price:      price,
		ShortEMA:   s.short.Value(),
		LongEMA:    s.long.Value(),
		MACD:       s.macd,
		Signal:     s.signal.Value(),
		Hist:       s.macd - s.signal.Value(),
		Mode:       mode.String(),
	}
	if s.rsi.Ready() {
		snap.RSI = model.Some(s.rsi.Value())
	}
	if s.maS.Ready() {
		snap.MA5 = model.Some(s.maS.Value())
	}
	if s.maL.Ready() {
		snap.MA10 = model.Some(s.maL.Value())
	}
	if s.prices.Len() >= s.cfg.BandPeriod {
		s.window = s.prices.Tail(s.cfg.BandPeriod, s.window[:0])
		if band, ok := Bollinger(s.window, s.cfg.BandWidth); ok {
			snap.UpperBand = model.Some(band.Upper)
			snap.MiddleBand = model.Some(band.Middle)
			snap.LowerBand = model.Some(band.Lower)
			snap.MA20 = model.Some(band.Middle)
		}
	}
	return snap, nil
}

// Preview returns the snapshot Apply would produce for price at t without
// mutating the state. A t equal to LastUpdate previews an overwrite of the
// last sample.
func (s *State) Preview(code string, price float64, t time.Time) (model.IndicatorSnapshot, error) {
	if price <= 0 {
		return model.IndicatorSnapshot{}, fmt.Errorf("%w: preview price %v", model.ErrInvalidSample, price)
	}
	if s.samples > 0 {
		switch {
		case t.Before(s.lastUpdate):
			return model.IndicatorSnapshot{}, fmt.Errorf("%w: preview at %s is older than last update %s",
				model.ErrInvalidSample, t.Format(time.RFC3339), s.lastUpdate.Format(time.RFC3339))
		case t.Equal(s.lastUpdate):
			if !s.CanOverwrite() {
				return model.IndicatorSnapshot{}, fmt.Errorf("%w: cannot preview an overwrite at %s",
					model.ErrInvalidSample, t.Format(time.RFC3339))
			}
			return s.undo.Preview(code, price, t)
		}
	}
	if s.samples+1 < s.cfg.MinSamples {
		return model.IndicatorSnapshot{}, fmt.Errorf("%w: %s has %d of %d samples",
			model.ErrInsufficientHistory, code, s.samples, s.cfg.MinSamples)
	}

	short := s.short.Peek(price)
	long := s.long.Peek(price)
	macd := (short - long) * 2
	signal := s.signal.Peek(macd)
	snap := model.IndicatorSnapshot{
		Instrument: code,
		Time:       t,
		Price:      price,
		ShortEMA:   short,
		LongEMA:    long,
		MACD:       macd,
		Signal:     signal,
		Hist:       macd - signal,
		Mode:       Preview.String(),
	}
	if s.rsi.hasPrev && s.rsi.deltas+1 >= s.rsi.period {
		snap.RSI = model.Some(s.rsi.Peek(price))
	}
	if s.maS.count+1 >= s.maS.period {
		snap.MA5 = model.Some(s.maS.Peek(price))
	}
	if s.maL.count+1 >= s.maL.period {
		snap.MA10 = model.Some(s.maL.Peek(price))
	}
	if s.prices.Len()+1 >= s.cfg.BandPeriod {
		window := s.prices.Tail(s.cfg.BandPeriod-1, make([]float64, 0, s.cfg.BandPeriod))
		if band, ok := Bollinger(append(window, price), s.cfg.BandWidth); ok {
			snap.UpperBand = model.Some(band.Upper)
			snap.MiddleBand = model.Some(band.Middle)
			snap.LowerBand = model.Some(band.Lower)
			snap.MA20 = model.Some(band.Middle)
		}
	}
	return snap, nil
}

// copyFrom copies every field except the undo record, reusing storage.
func (s *State) copyFrom(src *State) {
	s.cfg = src.cfg
	s.prices.CopyFrom(src.prices)
	s.times.CopyFrom(src.times)
	*s.short = *src.short
	*s.long = *src.long
	*s.signal = *src.signal
	s.macd = src.macd
	s.rsi.copyFrom(src.rsi)
	s.maS.copyFrom(src.maS)
	s.maL.copyFrom(src.maL)
	s.samples = src.samples
	s.lastUpdate = src.lastUpdate
}
