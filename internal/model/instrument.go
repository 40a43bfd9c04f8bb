package model

// Instrument represents a tracked stock.
type Instrument struct {
	Code string `json:"code" mapstructure:"code"` // exchange code, e.g. "sh600519"
	Name string `json:"name" mapstructure:"name"` // display name
}

// Key returns the unique key for this instrument.
func (i Instrument) Key() string {
	return i.Code
}

// String returns "name(code)" for logs and messages.
func (i Instrument) String() string {
	if i.Name == "" {
		return i.Code
	}
	return i.Name + "(" + i.Code + ")"
}
