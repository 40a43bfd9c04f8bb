// Package dailybar rolls intraday samples up into one OHLCV bar per
// instrument and trading day (CST calendar date).
package dailybar

import (
	"sync"
	"time"

	"stock-sentinel/internal/markethours"
	"stock-sentinel/internal/model"
)

// barState holds the in-progress bar for one instrument.
type barState struct {
	day  time.Time // CST midnight
	last time.Time // newest sample folded in
	bar  model.PriceSample
}

// Rollup builds daily bars from overlapping windows of intraday samples.
// Samples at or before the newest one already folded in are skipped, so the
// same window may be fed every cycle without double counting volume.
type Rollup struct {
	mu     sync.Mutex
	states map[string]*barState // key = instrument code
}

// New creates an empty Rollup.
func New() *Rollup {
	return &Rollup{states: make(map[string]*barState)}
}

// DayOf returns the CST midnight of t's trading date.
func DayOf(t time.Time) time.Time {
	c := t.In(markethours.CST)
	return time.Date(c.Year(), c.Month(), c.Day(), 0, 0, 0, 0, markethours.CST)
}

// Ingest folds oldest-first samples into code's bars and returns every bar
// touched, oldest first: finalized bars of earlier days followed by the
// in-progress bar of the newest day. Returns nil when nothing was new.
func (r *Rollup) Ingest(code string, samples []model.PriceSample) []model.PriceSample {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []model.PriceSample
	st := r.states[code]
	touched := false
	for _, s := range samples {
		if st != nil && !s.Time.After(st.last) {
			continue
		}
		day := DayOf(s.Time)
		if st != nil && day.After(st.day) {
			// New day; finalize the previous bar first.
			if touched {
				out = append(out, st.bar)
			}
			st = nil
		}

		if st == nil {
			st = &barState{day: day, bar: open(day, s)}
			r.states[code] = st
		} else {
			fold(&st.bar, s)
		}
		st.last = s.Time
		touched = true
	}
	if touched {
		out = append(out, st.bar)
	}
	return out
}

// Forget drops the in-progress bar of code.
func (r *Rollup) Forget(code string) {
	r.mu.Lock()
	delete(r.states, code)
	r.mu.Unlock()
}

// Len returns the number of instruments with an open bar.
func (r *Rollup) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.states)
}

// open starts a bar from the day's first sample.
func open(day time.Time, s model.PriceSample) model.PriceSample {
	first := s.Open
	if first <= 0 {
		first = s.Price
	}
	b := model.PriceSample{
		Time:      day,
		Open:      first,
		High:      max(first, s.High, s.Price),
		Low:       first,
		Price:     s.Price,
		Volume:    s.Volume,
		Amount:    s.Amount,
		PrevClose: s.PrevClose,
	}
	if s.Low > 0 {
		b.Low = min(b.Low, s.Low)
	}
	b.Low = min(b.Low, s.Price)
	return b
}

// fold updates an open bar with a later sample of the same day.
func fold(b *model.PriceSample, s model.PriceSample) {
	b.High = max(b.High, s.High, s.Price)
	if s.Low > 0 {
		b.Low = min(b.Low, s.Low)
	}
	b.Low = min(b.Low, s.Price)
	b.Price = s.Price
	b.Volume += s.Volume
	// Amount is cumulative turnover; keep the largest seen.
	b.Amount = max(b.Amount, s.Amount)
	if b.PrevClose <= 0 && s.PrevClose > 0 {
		b.PrevClose = s.PrevClose
	}
}
