package dailybar

import (
	"testing"
	"time"

	"stock-sentinel/internal/markethours"
	"stock-sentinel/internal/model"
)

func sample(at time.Time, price, volume, amount float64) model.PriceSample {
	return model.PriceSample{Time: at, Price: price, Volume: volume, Amount: amount}
}

// 2026-03-10 09:30 CST
var open0 = time.Date(2026, 3, 10, 9, 30, 0, 0, markethours.CST)

func TestIngest_BuildsOHLCV(t *testing.T) {
	r := New()
	bars := r.Ingest("sh600519", []model.PriceSample{
		sample(open0, 10, 100, 1000),
		sample(open0.Add(time.Minute), 10.5, 50, 1525),
		sample(open0.Add(2*time.Minute), 9.8, 25, 1770),
		sample(open0.Add(3*time.Minute), 10.2, 10, 1872),
	})
	if len(bars) != 1 {
		t.Fatalf("got %d bars, want 1", len(bars))
	}
	b := bars[0]
	if !b.Time.Equal(DayOf(open0)) {
		t.Errorf("bar time = %v", b.Time)
	}
	if b.Open != 10 || b.High != 10.5 || b.Low != 9.8 || b.Price != 10.2 {
		t.Errorf("OHLC = %v/%v/%v/%v", b.Open, b.High, b.Low, b.Price)
	}
	if b.Volume != 185 {
		t.Errorf("volume = %v, want 185", b.Volume)
	}
	if b.Amount != 1872 {
		t.Errorf("amount = %v, want 1872", b.Amount)
	}
}

func TestIngest_OverlappingWindowsDoNotDoubleCount(t *testing.T) {
	r := New()
	window := []model.PriceSample{
		sample(open0, 10, 100, 0),
		sample(open0.Add(time.Minute), 10.1, 100, 0),
	}
	r.Ingest("sh600519", window)

	if got := r.Ingest("sh600519", window); got != nil {
		t.Fatalf("same window again returned %+v, want nil", got)
	}

	window = append(window[1:], sample(open0.Add(2*time.Minute), 10.2, 100, 0))
	bars := r.Ingest("sh600519", window)
	if len(bars) != 1 || bars[0].Volume != 300 {
		t.Fatalf("bars = %+v, want one bar with volume 300", bars)
	}
}

func TestIngest_DayRollover(t *testing.T) {
	r := New()
	next := open0.AddDate(0, 0, 1)
	bars := r.Ingest("sh600519", []model.PriceSample{
		sample(open0, 10, 100, 0),
		sample(open0.Add(5*time.Hour), 11, 100, 0),
		sample(next, 11.5, 40, 0),
	})
	if len(bars) != 2 {
		t.Fatalf("got %d bars, want 2", len(bars))
	}
	if bars[0].Price != 11 || bars[0].Volume != 200 {
		t.Errorf("finished bar = %+v", bars[0])
	}
	if !bars[1].Time.Equal(DayOf(next)) || bars[1].Open != 11.5 || bars[1].Volume != 40 {
		t.Errorf("new bar = %+v", bars[1])
	}
}

func TestIngest_StaleSampleSkipped(t *testing.T) {
	r := New()
	next := open0.AddDate(0, 0, 1)
	r.Ingest("sh600519", []model.PriceSample{sample(open0, 10, 100, 0), sample(next, 11, 10, 0)})

	if got := r.Ingest("sh600519", []model.PriceSample{sample(open0.Add(time.Hour), 9, 10, 0)}); got != nil {
		t.Errorf("stale sample produced %+v", got)
	}
}

func TestDayOf_UsesExchangeDate(t *testing.T) {
	// 2026-03-10 17:00 UTC is 2026-03-11 01:00 CST.
	got := DayOf(time.Date(2026, 3, 10, 17, 0, 0, 0, time.UTC))
	if got.Day() != 11 || got.Hour() != 0 {
		t.Errorf("DayOf = %v", got)
	}
}

func TestForget(t *testing.T) {
	r := New()
	r.Ingest("a", []model.PriceSample{sample(open0, 10, 1, 0)})
	r.Ingest("b", []model.PriceSample{sample(open0, 10, 1, 0)})
	r.Forget("a")
	if r.Len() != 1 {
		t.Errorf("Len = %d, want 1", r.Len())
	}
}
