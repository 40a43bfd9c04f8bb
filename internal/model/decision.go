package model

import (
	"encoding/json"
	"time"
)

// SubScore is one analysis dimension of a decision.
type SubScore struct {
	Score   float64  `json:"score"`
	CanBuy  bool     `json:"can_buy"`
	Reasons []string `json:"reasons"`
}

// DecisionResult is the composite buy/no-buy evaluation for one cycle.
// The most recent result per instrument is authoritative.
type DecisionResult struct {
	Instrument  Instrument `json:"instrument"`
	Time        time.Time  `json:"time"`
	Score       float64    `json:"score"`
	CanBuy      bool       `json:"can_buy"`
	Reasons     []string   `json:"reasons"`
	Realtime    *SubScore  `json:"realtime,omitempty"`
	Daily       *SubScore  `json:"daily,omitempty"`
	Fundamental *SubScore  `json:"fundamental,omitempty"`
}

// JSON returns the JSON-encoded decision.
func (d DecisionResult) JSON() []byte {
	b, _ := json.Marshal(d)
	return b
}

// Fundamentals holds the latest valuation and trading statistics.
type Fundamentals struct {
	PE            Optional `json:"pe"`
	PB            Optional `json:"pb"`
	DividendYield Optional `json:"dividend_yield"`
	ChangePct     Optional `json:"change_pct"`
	Amplitude     Optional `json:"amplitude"`
	Turnover      Optional `json:"turnover"`
}
