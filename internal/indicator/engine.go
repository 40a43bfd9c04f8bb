package indicator

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"stock-sentinel/internal/model"
)

// slot holds one instrument's state and its latest snapshots. A slot is
// driven by at most one worker per cycle; mu serializes that worker with
// readers such as the ops HTTP server.
type slot struct {
	mu     sync.Mutex
	inst   model.Instrument
	state  *State
	recent []model.IndicatorSnapshot // newest first
}

// Engine computes indicator snapshots for many instruments. The slot map
// lock is only held to find or create a slot; per-instrument work runs
// under the slot's own lock.
type Engine struct {
	cfg     Config
	history model.HistorySource

	mu    sync.RWMutex
	slots map[string]*slot
}

// NewEngine creates an indicator engine. history backs the cold path and
// may be nil, in which case cold updates can only use Ingest batches.
func NewEngine(cfg Config, history model.HistorySource) *Engine {
	return &Engine{
		cfg:     cfg.withDefaults(),
		history: history,
		slots:   make(map[string]*slot, 64),
	}
}

// Config returns the effective configuration.
func (e *Engine) Config() Config { return e.cfg }

// Update applies one sample and returns the resulting snapshot.
//
// The warm path advances existing state. The cold path pulls up to
// Lookback samples from the history source, merges the sample in and
// recomputes from scratch; fewer than MinSamples samples (or an
// unavailable history source) yields ErrInsufficientHistory.
func (e *Engine) Update(ctx context.Context, inst model.Instrument, sample model.PriceSample) (model.IndicatorSnapshot, error) {
	if err := sample.Validate(); err != nil {
		return model.IndicatorSnapshot{}, err
	}
	sl := e.slot(inst)
	sl.mu.Lock()
	defer sl.mu.Unlock()

	if sl.state != nil && sample.Time.Before(sl.state.lastUpdate) {
		return model.IndicatorSnapshot{}, fmt.Errorf("%w: %s sample at %s precedes %s",
			model.ErrInvalidSample, inst.Code, sample.Time.Format(time.RFC3339), sl.state.lastUpdate.Format(time.RFC3339))
	}

	if SelectMode(sl.state, sample, e.cfg) == Warm {
		return e.warm(sl, sample)
	}

	if e.history == nil {
		return model.IndicatorSnapshot{}, fmt.Errorf("%w: %s has no history source", model.ErrInsufficientHistory, inst.Code)
	}
	hist, err := e.history.RecentSamples(ctx, inst.Code, e.cfg.Lookback)
	if err != nil {
		return model.IndicatorSnapshot{}, fmt.Errorf("%w: %s: %w",
			model.ErrInsufficientHistory, inst.Code, model.Upstream("history", err))
	}
	return e.cold(sl, append(hist, sample))
}

// Ingest feeds a batch of recent samples, typically the same window the
// caller already fetched for anomaly scanning. Samples at or before the
// last applied one are skipped unless they revise its price. When the
// first new sample needs the cold path, the whole batch is used as the
// history window. Returns the snapshots emitted, oldest first.
func (e *Engine) Ingest(inst model.Instrument, samples []model.PriceSample) ([]model.IndicatorSnapshot, error) {
	samples, _ = model.NormalizeSamples(samples)
	if len(samples) == 0 {
		return nil, nil
	}
	sl := e.slot(inst)
	sl.mu.Lock()
	defer sl.mu.Unlock()

	var out []model.IndicatorSnapshot
	for _, s := range samples {
		if st := sl.state; st != nil {
			if s.Time.Before(st.lastUpdate) {
				continue
			}
			if last, _ := st.prices.Last(); s.Time.Equal(st.lastUpdate) && s.Price == last {
				continue
			}
		}
		if SelectMode(sl.state, s, e.cfg) == Cold {
			// The batch is its own history; the cold path consumes it all.
			snap, err := e.cold(sl, samples)
			if err != nil {
				return out, err
			}
			return append(out, snap), nil
		}
		snap, err := e.warm(sl, s)
		if err != nil {
			return out, err
		}
		out = append(out, snap)
	}
	return out, nil
}

func (e *Engine) warm(sl *slot, sample model.PriceSample) (model.IndicatorSnapshot, error) {
	replace := sample.Time.Equal(sl.state.lastUpdate)
	if err := sl.state.Apply(sample); err != nil {
		return model.IndicatorSnapshot{}, err
	}
	snap, err := sl.state.Snapshot(sl.inst.Code, Warm)
	if err != nil {
		return model.IndicatorSnapshot{}, err
	}
	sl.record(snap, replace, e.cfg.RecentDepth)
	return snap, nil
}

// cold recomputes from window (any order, duplicates allowed) and reseeds
// the slot. The slot keeps its previous state on failure.
func (e *Engine) cold(sl *slot, window []model.PriceSample) (model.IndicatorSnapshot, error) {
	window, _ = model.NormalizeSamples(window)
	if len(window) > e.cfg.Lookback {
		window = window[len(window)-e.cfg.Lookback:]
	}
	if len(window) < e.cfg.MinSamples {
		return model.IndicatorSnapshot{}, fmt.Errorf("%w: %s has %d of %d samples",
			model.ErrInsufficientHistory, sl.inst.Code, len(window), e.cfg.MinSamples)
	}

	c := computeColumns(window, e.cfg)
	sl.state = seedState(window, c, e.cfg)

	n := len(window)
	depth := e.cfg.RecentDepth
	if depth > n {
		depth = n
	}
	sl.recent = sl.recent[:0]
	for i := n - 1; i >= n-depth; i-- {
		sl.recent = append(sl.recent, c.snapshot(sl.inst.Code, window[i], i, e.cfg))
	}
	return sl.recent[0], nil
}

// record pushes snap to the front of the recent list, or replaces the
// front entry when the sample overwrote the previous one.
func (sl *slot) record(snap model.IndicatorSnapshot, replace bool, depth int) {
	if replace && len(sl.recent) > 0 {
		sl.recent[0] = snap
		return
	}
	if len(sl.recent) < depth {
		sl.recent = append(sl.recent, model.IndicatorSnapshot{})
	}
	copy(sl.recent[1:], sl.recent)
	sl.recent[0] = snap
}

// slot returns the slot for inst, creating it on first use.
func (e *Engine) slot(inst model.Instrument) *slot {
	e.mu.RLock()
	sl, ok := e.slots[inst.Code]
	e.mu.RUnlock()
	if ok {
		return sl
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if sl, ok = e.slots[inst.Code]; !ok {
		sl = &slot{inst: inst}
		e.slots[inst.Code] = sl
	}
	return sl
}

func (e *Engine) lookup(code string) *slot {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.slots[code]
}

// Peek returns the last emitted snapshot for code.
func (e *Engine) Peek(code string) (model.IndicatorSnapshot, bool) {
	sl := e.lookup(code)
	if sl == nil {
		return model.IndicatorSnapshot{}, false
	}
	sl.mu.Lock()
	defer sl.mu.Unlock()
	if len(sl.recent) == 0 {
		return model.IndicatorSnapshot{}, false
	}
	return sl.recent[0], true
}

// Preview returns the snapshot code would get if price arrived at t. The
// engine state is not changed. Codes without warm state report
// ErrInsufficientHistory.
func (e *Engine) Preview(code string, price float64, t time.Time) (model.IndicatorSnapshot, error) {
	sl := e.lookup(code)
	if sl == nil {
		return model.IndicatorSnapshot{}, fmt.Errorf("%w: %s is not tracked", model.ErrInsufficientHistory, code)
	}
	sl.mu.Lock()
	defer sl.mu.Unlock()
	if sl.state == nil {
		return model.IndicatorSnapshot{}, fmt.Errorf("%w: %s has no state", model.ErrInsufficientHistory, code)
	}
	return sl.state.Preview(code, price, t)
}

// Recent returns up to n latest snapshots for code, newest first.
func (e *Engine) Recent(code string, n int) []model.IndicatorSnapshot {
	sl := e.lookup(code)
	if sl == nil || n <= 0 {
		return nil
	}
	sl.mu.Lock()
	defer sl.mu.Unlock()
	if n > len(sl.recent) {
		n = len(sl.recent)
	}
	out := make([]model.IndicatorSnapshot, n)
	copy(out, sl.recent[:n])
	return out
}

// LastUpdate returns the time of the last sample applied for code.
func (e *Engine) LastUpdate(code string) (time.Time, bool) {
	sl := e.lookup(code)
	if sl == nil {
		return time.Time{}, false
	}
	sl.mu.Lock()
	defer sl.mu.Unlock()
	if sl.state == nil {
		return time.Time{}, false
	}
	return sl.state.lastUpdate, true
}

// Codes returns the tracked instrument codes, sorted.
func (e *Engine) Codes() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	codes := make([]string, 0, len(e.slots))
	for code := range e.slots {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes
}
