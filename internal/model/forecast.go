package model

import "time"

// ForecastRecord is one forecast point. (Instrument, IssueDate, TargetDate)
// is the natural key; re-issuing overwrites.
type ForecastRecord struct {
	Instrument   Instrument `json:"instrument"`
	IssueDate    time.Time  `json:"issue_date"`
	TargetDate   time.Time  `json:"target_date"`
	Predicted    float64    `json:"predicted"`
	Lower        float64    `json:"lower"` // 95% interval
	Upper        float64    `json:"upper"`
	Std          float64    `json:"std"`
	ModelVersion string     `json:"model_version"`
}
