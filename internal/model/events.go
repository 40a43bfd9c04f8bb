package model

import "time"

// AnomalyType classifies a flagged price/volume move.
type AnomalyType string

const (
	AnomalySurge  AnomalyType = "surge"
	AnomalyPlunge AnomalyType = "plunge"
	AnomalySpike  AnomalyType = "spike"
)

// AnomalyEvent is an immutable flagged deviation for one sample.
type AnomalyEvent struct {
	Instrument  Instrument  `json:"instrument"`
	Time        time.Time   `json:"time"`
	Price       float64     `json:"price"`
	ChangePct   float64     `json:"change_pct"` // signed
	VolumeSpike float64     `json:"volume_spike"`
	Type        AnomalyType `json:"type"`
}

// SentimentEvent is an externally scored news item.
type SentimentEvent struct {
	Time  time.Time `json:"time"`
	Title string    `json:"title"`
	Text  string    `json:"text"`
	Score float64   `json:"score"` // [-1, 1]
	Codes []string  `json:"codes,omitempty"`
	Hash  string    `json:"hash,omitempty"`
}

// CorrelationClass labels how a news event relates to an anomaly.
type CorrelationClass string

const (
	ClassCause             CorrelationClass = "cause"
	ClassPotentialCause    CorrelationClass = "potential_cause"
	ClassReaction          CorrelationClass = "reaction"
	ClassPotentialReaction CorrelationClass = "potential_reaction"
	ClassUnrelated         CorrelationClass = "unrelated"
)

// CorrelationRecord links one anomaly to one candidate news event.
type CorrelationRecord struct {
	Instrument  Instrument       `json:"instrument"`
	AnomalyTime time.Time        `json:"anomaly_time"`
	AnomalyType AnomalyType      `json:"anomaly_type"`
	ChangePct   float64          `json:"change_pct"`
	VolumeSpike float64          `json:"volume_spike"`
	NewsTime    time.Time        `json:"news_time"`
	NewsHash    string           `json:"news_hash"`
	NewsTitle   string           `json:"news_title"`
	Sentiment   float64          `json:"sentiment"`
	Score       float64          `json:"score"`
	TimeDelta   time.Duration    `json:"time_delta"` // news minus anomaly
	Class       CorrelationClass `json:"class"`
	Rationale   string           `json:"rationale"`
}

// SentimentDay aggregates correlation records for one calendar day.
type SentimentDay struct {
	Date           time.Time
	AvgSentiment   float64
	NewsCount      int
	AvgCorrelation float64
}
