package model

import (
	"encoding/json"
	"time"
)

// Optional is a float that may be undefined. Undefined values carry no
// signal and must never be read as zero.
type Optional struct {
	Value float64
	Valid bool
}

// Some returns a defined Optional.
func Some(v float64) Optional { return Optional{Value: v, Valid: true} }

// MarshalJSON encodes undefined values as null.
func (o Optional) MarshalJSON() ([]byte, error) {
	if !o.Valid {
		return []byte("null"), nil
	}
	return json.Marshal(o.Value)
}

// UnmarshalJSON decodes null as undefined.
func (o *Optional) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*o = Optional{}
		return nil
	}
	if err := json.Unmarshal(data, &o.Value); err != nil {
		return err
	}
	o.Valid = true
	return nil
}

// Ptr returns nil for undefined values; used for nullable SQL columns.
func (o Optional) Ptr() *float64 {
	if !o.Valid {
		return nil
	}
	v := o.Value
	return &v
}

// IndicatorSnapshot is the indicator set derived for one sample.
type IndicatorSnapshot struct {
	Instrument string    `json:"instrument"`
	Time       time.Time `json:"time"`
	Price      float64   `json:"price"`
	ShortEMA   float64   `json:"short_ema"`
	LongEMA    float64   `json:"long_ema"`
	MACD       float64   `json:"macd"`
	Signal     float64   `json:"signal"`
	Hist       float64   `json:"macd_hist"`
	RSI        Optional  `json:"rsi"`
	MA5        Optional  `json:"ma5"`
	MA10       Optional  `json:"ma10"`
	MA20       Optional  `json:"ma20"`
	UpperBand  Optional  `json:"upper_band"`
	MiddleBand Optional  `json:"middle_band"`
	LowerBand  Optional  `json:"lower_band"`
	Mode       string    `json:"mode"` // "cold" or "warm"
}

// JSON returns the JSON-encoded snapshot.
func (s IndicatorSnapshot) JSON() []byte {
	b, _ := json.Marshal(s)
	return b
}
