// Package anomaly flags abnormal price moves in recent intraday samples.
package anomaly

import (
	"math"

	"stock-sentinel/internal/model"
)

// Config holds detector thresholds.
type Config struct {
	PriceThreshold  float64 // |change%| that flags on its own
	VolumeThreshold float64 // volume spike ratio that flags with a moderate move
	MinVolumeChange float64 // |change%| required alongside a volume spike
	Window          int     // samples considered, newest first
	Recent          int     // newest samples checked; older ones form the volume baseline
}

// DefaultConfig returns the standard thresholds.
func DefaultConfig() Config {
	return Config{
		PriceThreshold:  3.0,
		VolumeThreshold: 1.5,
		MinVolumeChange: 2.0,
		Window:          100,
		Recent:          10,
	}
}

// Detector is stateless; Scan may be called concurrently.
type Detector struct {
	cfg Config
}

// NewDetector creates a detector. Zero fields take defaults.
func NewDetector(cfg Config) *Detector {
	d := DefaultConfig()
	if cfg.PriceThreshold <= 0 {
		cfg.PriceThreshold = d.PriceThreshold
	}
	if cfg.VolumeThreshold <= 0 {
		cfg.VolumeThreshold = d.VolumeThreshold
	}
	if cfg.MinVolumeChange <= 0 {
		cfg.MinVolumeChange = d.MinVolumeChange
	}
	if cfg.Window <= 0 {
		cfg.Window = d.Window
	}
	if cfg.Recent <= 0 {
		cfg.Recent = d.Recent
	}
	return &Detector{cfg: cfg}
}

// Config returns the effective thresholds.
func (d *Detector) Config() Config { return d.cfg }

// Scan checks the newest Recent samples of the latest Window and returns
// the flagged ones, oldest first.
//
// A sample is flagged when |change%| reaches PriceThreshold, or when its
// volume is at least VolumeThreshold times the average volume of the older
// samples and |change%| reaches MinVolumeChange. Change is measured against
// the sample's previous close, else against the preceding sample; samples
// with no reference price are skipped. Type is surge for a positive
// change, plunge otherwise. The spike type is never produced here.
func (d *Detector) Scan(inst model.Instrument, samples []model.PriceSample) []model.AnomalyEvent {
	ordered, _ := model.NormalizeSamples(samples)
	if len(ordered) < 2 {
		return nil
	}
	if len(ordered) > d.cfg.Window {
		ordered = ordered[len(ordered)-d.cfg.Window:]
	}

	// Newest first from here on.
	n := len(ordered)
	at := func(i int) *model.PriceSample { return &ordered[n-1-i] }

	avgVolume := 0.0
	if n > d.cfg.Recent {
		sum := 0.0
		for i := d.cfg.Recent; i < n; i++ {
			sum += at(i).Volume
		}
		avgVolume = sum / float64(n-d.cfg.Recent)
	}

	var events []model.AnomalyEvent
	for i := min(d.cfg.Recent, n) - 1; i >= 0; i-- {
		s := at(i)
		var prev *model.PriceSample
		if i+1 < n {
			prev = at(i + 1)
		}
		change, ok := s.ChangePct(prev)
		if !ok {
			continue
		}

		spike := 1.0
		if avgVolume > 0 {
			spike = s.Volume / avgVolume
		}

		absChange := math.Abs(change)
		priceRule := absChange >= d.cfg.PriceThreshold
		volumeRule := spike >= d.cfg.VolumeThreshold && absChange >= d.cfg.MinVolumeChange
		if !priceRule && !volumeRule {
			continue
		}

		typ := model.AnomalyPlunge
		if change > 0 {
			typ = model.AnomalySurge
		}
		events = append(events, model.AnomalyEvent{
			Instrument:  inst,
			Time:        s.Time,
			Price:       s.Price,
			ChangePct:   change,
			VolumeSpike: spike,
			Type:        typ,
		})
	}
	return events
}
