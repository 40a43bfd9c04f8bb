package indicator

import "stock-sentinel/internal/model"

// Mode tags which path produced a snapshot.
type Mode int

const (
	// Cold is a full recompute over a history window.
	Cold Mode = iota
	// Warm is an O(1) incremental update of existing state.
	Warm
	// Preview is a what-if snapshot for a price that was not applied.
	Preview
)

func (m Mode) String() string {
	switch m {
	case Warm:
		return "warm"
	case Preview:
		return "preview"
	}
	return "cold"
}

// SelectMode decides which path handles sample. It has no side effects.
//
// Cold is chosen when there is no usable state, when the state has seen
// fewer than MinSamples samples, when the sample arrives more than
// StaleAfter past the last update, or when it repeats the last timestamp
// and the state cannot overwrite in place.
func SelectMode(st *State, sample model.PriceSample, cfg Config) Mode {
	cfg = cfg.withDefaults()
	if st == nil || st.samples < cfg.MinSamples {
		return Cold
	}
	if cfg.StaleAfter > 0 && sample.Time.Sub(st.lastUpdate) > cfg.StaleAfter {
		return Cold
	}
	if sample.Time.Equal(st.lastUpdate) && !st.CanOverwrite() {
		return Cold
	}
	return Warm
}
