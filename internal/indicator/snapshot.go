package indicator

import (
	"encoding/json"
	"fmt"
	"log"
	"time"

	"stock-sentinel/internal/model"
)

// SnapshotVersion is the checkpoint schema version.
const SnapshotVersion = 1

// Checkpoint holds the serialized scalars of a single indicator.
type Checkpoint struct {
	Type    string  `json:"type"`   // "EMA", "RSI"
	Period  int     `json:"period"` // span or period
	Count   int     `json:"count"`
	Current float64 `json:"current"`

	// RSI fields
	PrevClose float64 `json:"prev_close,omitempty"`
	AvgGain   float64 `json:"avg_gain,omitempty"`
	AvgLoss   float64 `json:"avg_loss,omitempty"`
}

// StateSnapshot is the serialized state of one instrument. Window-based
// indicators (MA, RSI window, bands) are rebuilt from the price ring.
type StateSnapshot struct {
	Instrument model.Instrument          `json:"instrument"`
	Samples    int                       `json:"samples"`
	LastUpdate time.Time                 `json:"last_update"`
	Prices     []float64                 `json:"prices"`
	Times      []time.Time               `json:"times"`
	Short      Checkpoint                `json:"short"`
	Long       Checkpoint                `json:"long"`
	Signal     Checkpoint                `json:"signal"`
	MACD       float64                   `json:"macd"`
	RSI        Checkpoint                `json:"rsi"`
	Recent     []model.IndicatorSnapshot `json:"recent,omitempty"`
}

// EngineSnapshot holds the full state of the indicator engine.
type EngineSnapshot struct {
	Version int             `json:"version"` // schema version for forward compat
	TakenAt time.Time       `json:"taken_at"`
	States  []StateSnapshot `json:"states"`
}

// Marshal encodes the snapshot as JSON.
func (es *EngineSnapshot) Marshal() ([]byte, error) {
	return json.Marshal(es)
}

// DecodeSnapshot decodes a JSON engine snapshot.
func DecodeSnapshot(data []byte) (*EngineSnapshot, error) {
	var es EngineSnapshot
	if err := json.Unmarshal(data, &es); err != nil {
		return nil, fmt.Errorf("decode engine snapshot: %w", err)
	}
	if es.Version != SnapshotVersion {
		return nil, fmt.Errorf("engine snapshot version %d, want %d", es.Version, SnapshotVersion)
	}
	return &es, nil
}

// SnapshotEngine captures the state of every warmed-up instrument.
// Slots without state are skipped; they cold-start after restore anyway.
func SnapshotEngine(e *Engine, at time.Time) *EngineSnapshot {
	snap := &EngineSnapshot{Version: SnapshotVersion, TakenAt: at}

	e.mu.RLock()
	slots := make([]*slot, 0, len(e.slots))
	for _, sl := range e.slots {
		slots = append(slots, sl)
	}
	e.mu.RUnlock()

	for _, sl := range slots {
		sl.mu.Lock()
		if sl.state != nil {
			snap.States = append(snap.States, snapshotState(sl))
		}
		sl.mu.Unlock()
	}
	return snap
}

func snapshotState(sl *slot) StateSnapshot {
	st := sl.state
	ss := StateSnapshot{
		Instrument: sl.inst,
		Samples:    st.samples,
		LastUpdate: st.lastUpdate,
		Prices:     st.prices.Tail(st.prices.Len(), nil),
		Times:      st.times.Tail(st.times.Len(), nil),
		Short:      st.short.Checkpoint(),
		Long:       st.long.Checkpoint(),
		Signal:     st.signal.Checkpoint(),
		MACD:       st.macd,
		RSI:        st.rsi.Checkpoint(),
	}
	ss.Recent = append(ss.Recent, sl.recent...)
	return ss
}

// RestoreEngine rebuilds an indicator Engine from a snapshot. It is
// tolerant of config changes: a state whose EMA spans or RSI period no
// longer match cfg, or whose price ring is too short for the configured
// windows, is dropped and that instrument cold-starts.
func RestoreEngine(cfg Config, history model.HistorySource, snap *EngineSnapshot) (*Engine, error) {
	e := NewEngine(cfg, history)
	if snap == nil {
		return e, nil
	}

	restored, cold := 0, 0
	for _, ss := range snap.States {
		st, err := restoreState(e.cfg, ss)
		if err != nil {
			log.Printf("[restorer] %s: %v, cold-starting", ss.Instrument, err)
			cold++
			continue
		}
		recent := ss.Recent
		if len(recent) > e.cfg.RecentDepth {
			recent = recent[:e.cfg.RecentDepth]
		}
		e.slots[ss.Instrument.Code] = &slot{inst: ss.Instrument, state: st, recent: recent}
		restored++
	}

	if cold > 0 {
		log.Printf("[restorer] restored %d states, cold-started %d", restored, cold)
	}
	return e, nil
}

func restoreState(cfg Config, ss StateSnapshot) (*State, error) {
	switch {
	case ss.Short.Period != cfg.ShortSpan || ss.Long.Period != cfg.LongSpan || ss.Signal.Period != cfg.SignalSpan:
		return nil, fmt.Errorf("EMA spans %d/%d/%d changed", ss.Short.Period, ss.Long.Period, ss.Signal.Period)
	case ss.RSI.Period != cfg.RSIPeriod:
		return nil, fmt.Errorf("RSI period %d changed", ss.RSI.Period)
	case len(ss.Prices) != len(ss.Times):
		return nil, fmt.Errorf("ring length mismatch: %d prices, %d times", len(ss.Prices), len(ss.Times))
	}
	need := max(cfg.MALong, cfg.MAShort, cfg.RSIPeriod+1, cfg.BandPeriod)
	if len(ss.Prices) < need || ss.Samples < cfg.MinSamples {
		return nil, fmt.Errorf("%w: ring holds %d prices, need %d", model.ErrInsufficientHistory, len(ss.Prices), need)
	}

	st := newState(cfg, true)
	prices, times := ss.Prices, ss.Times
	if len(prices) > cfg.Lookback {
		prices = prices[len(prices)-cfg.Lookback:]
		times = times[len(times)-cfg.Lookback:]
	}
	for i := range prices {
		st.prices.Push(prices[i])
		st.times.Push(times[i])
	}

	st.short.seed(ss.Short.Current, ss.Short.Count)
	st.long.seed(ss.Long.Current, ss.Long.Count)
	st.signal.seed(ss.Signal.Current, ss.Signal.Count)
	st.macd = ss.MACD

	n := len(prices)
	gains := make([]float64, 0, cfg.RSIPeriod)
	losses := make([]float64, 0, cfg.RSIPeriod)
	for i := n - cfg.RSIPeriod; i < n; i++ {
		g, l := splitDelta(prices[i] - prices[i-1])
		gains = append(gains, g)
		losses = append(losses, l)
	}
	st.rsi.seed(prices[n-1], gains, losses, ss.RSI.Count, ss.RSI.AvgGain, ss.RSI.AvgLoss)

	st.maS.seed(prices, ss.Samples)
	st.maL.seed(prices, ss.Samples)

	st.samples = ss.Samples
	st.lastUpdate = ss.LastUpdate
	return st, nil
}
