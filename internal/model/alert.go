package model

import (
	"encoding/json"
	"time"
)

// Severity is the alert level.
type Severity string

const (
	SeverityInfo     Severity = "INFO"
	SeverityWarning  Severity = "WARNING"
	SeverityCritical Severity = "CRITICAL"
)

// Alert types.
const (
	AlertPriceChange       = "PRICE_CHANGE"
	AlertVolumeSpike       = "VOLUME_SPIKE"
	AlertRSIOverbought     = "RSI_OVERBOUGHT"
	AlertRSIOversold       = "RSI_OVERSOLD"
	AlertMACDGoldenCross   = "MACD_GOLDEN_CROSS"
	AlertMACDDeathCross    = "MACD_DEATH_CROSS"
	AlertSentimentPositive = "SENTIMENT_EXTREME_POSITIVE"
	AlertSentimentNegative = "SENTIMENT_EXTREME_NEGATIVE"
	AlertSentimentRapid    = "SENTIMENT_RAPID_CHANGE"
	AlertForecastUpper     = "GPR_DEVIATION_UPPER"
	AlertForecastLower     = "GPR_DEVIATION_LOWER"
	AlertForecastCritical  = "GPR_DEVIATION_CRITICAL"
)

// Alert is append-only; only Read and Handled change after creation.
// (Instrument, Time, Type) is the natural key.
type Alert struct {
	ID         string         `json:"id"`
	Instrument Instrument     `json:"instrument"`
	Time       time.Time      `json:"time"`
	Type       string         `json:"type"`
	Severity   Severity       `json:"severity"`
	Message    string         `json:"message"`
	Details    map[string]any `json:"details,omitempty"`
	Read       bool           `json:"read"`
	Handled    bool           `json:"handled"`
}

// Key returns the natural key "code|unixnano|type".
func (a Alert) Key() string {
	return a.Instrument.Code + "|" + Itoa64(a.Time.UnixNano()) + "|" + a.Type
}

// JSON returns the JSON-encoded alert.
func (a Alert) JSON() []byte {
	b, _ := json.Marshal(a)
	return b
}
