package anomaly

import (
	"testing"
	"time"

	"stock-sentinel/internal/model"
)

var (
	inst = model.Instrument{Code: "600519", Name: "Kweichow Moutai"}
	t0   = time.Date(2025, 3, 10, 9, 30, 0, 0, time.UTC)
)

type tick struct {
	price, volume, prevClose float64
}

func build(ticks ...tick) []model.PriceSample {
	out := make([]model.PriceSample, len(ticks))
	for i, tk := range ticks {
		out[i] = model.PriceSample{
			Time:      t0.Add(time.Duration(i) * time.Minute),
			Price:     tk.price,
			Volume:    tk.volume,
			PrevClose: tk.prevClose,
		}
	}
	return out
}

func TestScan_SingleSurgeOnLastSample(t *testing.T) {
	samples := build(
		tick{100, 1000, 0},
		tick{100, 1000, 0},
		tick{100, 1000, 0},
		tick{103.5, 1000, 0},
	)

	events := NewDetector(DefaultConfig()).Scan(inst, samples)
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d: %+v", len(events), events)
	}
	ev := events[0]
	if ev.Type != model.AnomalySurge {
		t.Errorf("Type = %s, want surge", ev.Type)
	}
	if !ev.Time.Equal(samples[3].Time) {
		t.Errorf("Time = %v, want last sample", ev.Time)
	}
	if ev.VolumeSpike != 1 {
		t.Errorf("VolumeSpike = %v, want 1 with no baseline", ev.VolumeSpike)
	}
	if ev.ChangePct < 3.49 || ev.ChangePct > 3.51 {
		t.Errorf("ChangePct = %v, want 3.5", ev.ChangePct)
	}
}

func TestScan_VolumeRuleNeedsModerateMove(t *testing.T) {
	// 20 quiet samples form the baseline, then two heavy-volume samples
	ticks := make([]tick, 0, 22)
	for i := 0; i < 20; i++ {
		ticks = append(ticks, tick{100, 1000, 0})
	}
	ticks = append(ticks,
		tick{102.5, 3000, 0}, // +2.5% on 3x volume → flagged
		tick{103.5, 3000, 0}, // +0.98% on 3x volume → not flagged
	)

	events := NewDetector(DefaultConfig()).Scan(inst, build(ticks...))
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	if events[0].VolumeSpike < 2.9 {
		t.Errorf("VolumeSpike = %v, want ~3", events[0].VolumeSpike)
	}
}

func TestScan_VolumeOnlyPlungeIsTypedBySign(t *testing.T) {
	ticks := make([]tick, 0, 21)
	for i := 0; i < 20; i++ {
		ticks = append(ticks, tick{100, 1000, 0})
	}
	ticks = append(ticks, tick{97.8, 2000, 0}) // -2.2% on 2x volume

	events := NewDetector(DefaultConfig()).Scan(inst, build(ticks...))
	if len(events) != 1 || events[0].Type != model.AnomalyPlunge {
		t.Fatalf("expected one plunge, got %+v", events)
	}
	for _, ev := range events {
		if ev.Type == model.AnomalySpike {
			t.Error("the detector must never emit the spike type")
		}
	}
}

func TestScan_UsesPrevCloseWhenPresent(t *testing.T) {
	// Flat intraday, but 4% above yesterday's close
	samples := build(tick{104, 100, 100}, tick{104, 100, 100})
	events := NewDetector(DefaultConfig()).Scan(inst, samples)
	if len(events) != 2 {
		t.Fatalf("expected 2 events against prev close, got %d", len(events))
	}
	if events[0].Time.After(events[1].Time) {
		t.Error("events must be returned oldest first")
	}
}

func TestScan_TooFewSamples(t *testing.T) {
	if got := NewDetector(DefaultConfig()).Scan(inst, build(tick{100, 1, 90})); got != nil {
		t.Errorf("expected no events for a single sample, got %+v", got)
	}
}

func TestScan_OnlyRecentSamplesChecked(t *testing.T) {
	ticks := []tick{{100, 1000, 0}, {110, 1000, 0}} // +10% early
	for i := 0; i < 15; i++ {
		ticks = append(ticks, tick{110, 1000, 0})
	}
	if got := NewDetector(DefaultConfig()).Scan(inst, build(ticks...)); len(got) != 0 {
		t.Errorf("moves outside the recent 10 must not be flagged, got %d", len(got))
	}
}

func TestScan_ThresholdMonotonicity(t *testing.T) {
	ticks := make([]tick, 0, 40)
	p := 100.0
	for i := 0; i < 40; i++ {
		step := []float64{0.5, -2.5, 3.5, -4.2, 1.0, 6.0, -0.2, 2.1}[i%8]
		p *= 1 + step/100
		ticks = append(ticks, tick{p, 1000 + float64(i%4)*900, 0})
	}
	samples := build(ticks...)

	keys := func(evs []model.AnomalyEvent) map[int64]bool {
		m := make(map[int64]bool, len(evs))
		for _, ev := range evs {
			m[ev.Time.UnixNano()] = true
		}
		return m
	}

	prev := keys(NewDetector(Config{PriceThreshold: 1}).Scan(inst, samples))
	for _, th := range []float64{2, 3, 4, 5, 7} {
		cur := keys(NewDetector(Config{PriceThreshold: th}).Scan(inst, samples))
		for k := range cur {
			if !prev[k] {
				t.Fatalf("threshold %.1f flagged a sample that a lower threshold did not", th)
			}
		}
		prev = cur
	}
}
