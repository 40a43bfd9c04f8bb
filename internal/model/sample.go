package model

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"time"
)

// PriceSample is one price observation for an instrument.
// Price is the current (close-equivalent) price.
type PriceSample struct {
	Time      time.Time `json:"time"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Price     float64   `json:"price"`
	Volume    float64   `json:"volume"`
	Amount    float64   `json:"amount"`               // cumulative turnover
	PrevClose float64   `json:"prev_close,omitempty"` // 0 = unknown
}

// Validate reports ErrInvalidSample for ticks that must be dropped.
func (s PriceSample) Validate() error {
	switch {
	case s.Time.IsZero():
		return fmt.Errorf("%w: zero timestamp", ErrInvalidSample)
	case math.IsNaN(s.Price) || math.IsInf(s.Price, 0) || s.Price <= 0:
		return fmt.Errorf("%w: price %v", ErrInvalidSample, s.Price)
	case math.IsNaN(s.Volume) || s.Volume < 0:
		return fmt.Errorf("%w: volume %v", ErrInvalidSample, s.Volume)
	}
	return nil
}

// ChangePct returns the signed percent change against prev.
// When the sample carries its own previous close that is used instead.
// ok is false when no reference price is available.
func (s PriceSample) ChangePct(prev *PriceSample) (pct float64, ok bool) {
	ref := s.PrevClose
	if ref <= 0 && prev != nil {
		ref = prev.Price
	}
	if ref <= 0 {
		return 0, false
	}
	return (s.Price - ref) / ref * 100, true
}

// JSON returns the JSON-encoded sample.
func (s PriceSample) JSON() []byte {
	b, _ := json.Marshal(s)
	return b
}

// NormalizeSamples returns samples ordered oldest-first with duplicate
// timestamps collapsed; the later entry in the input wins.
// Invalid samples are dropped and counted in dropped.
func NormalizeSamples(in []PriceSample) (out []PriceSample, dropped int) {
	byTime := make(map[int64]int, len(in))
	out = make([]PriceSample, 0, len(in))
	for _, s := range in {
		if s.Validate() != nil {
			dropped++
			continue
		}
		k := s.Time.UnixNano()
		if i, ok := byTime[k]; ok {
			out[i] = s
			continue
		}
		byTime[k] = len(out)
		out = append(out, s)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Time.Before(out[j].Time) })
	return out, dropped
}
