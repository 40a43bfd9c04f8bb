package alert

import (
	"reflect"
	"testing"
	"time"

	"stock-sentinel/internal/model"
)

var (
	testInst = model.Instrument{Code: "sh600519", Name: "贵州茅台"}
	t0       = time.Date(2025, 3, 11, 10, 0, 0, 0, time.UTC)
)

// ────────────────────────────────────────────────────────────
// Helpers
// ────────────────────────────────────────────────────────────

// ticks builds one sample per minute ending at t0, oldest first.
func ticks(prices, volumes []float64) []model.PriceSample {
	out := make([]model.PriceSample, len(prices))
	for i, p := range prices {
		v := 100.0
		if volumes != nil {
			v = volumes[i]
		}
		out[i] = model.PriceSample{
			Time:   t0.Add(time.Duration(i-len(prices)+1) * time.Minute),
			Price:  p,
			Volume: v,
		}
	}
	return out
}

func find(alerts []model.Alert, typ string) *model.Alert {
	for i := range alerts {
		if alerts[i].Type == typ {
			return &alerts[i]
		}
	}
	return nil
}

func count(alerts []model.Alert, typ string) int {
	n := 0
	for _, a := range alerts {
		if a.Type == typ {
			n++
		}
	}
	return n
}

func news(offset time.Duration, score float64) model.SentimentEvent {
	return model.SentimentEvent{
		Time:  t0.Add(-offset),
		Title: "贵州茅台 发布公告",
		Score: score,
		Codes: []string{testInst.Code},
	}
}

// ────────────────────────────────────────────────────────────
// Price and volume
// ────────────────────────────────────────────────────────────

func TestPriceChange_Severity(t *testing.T) {
	tests := []struct {
		name   string
		prices []float64
		sev    model.Severity
		dir    string
		fires  bool
	}{
		{"below warning", []float64{100, 102}, "", "", false},
		{"warning up", []float64{100, 103.5}, model.SeverityWarning, "up", true},
		{"critical down", []float64{100, 94}, model.SeverityCritical, "down", true},
		{"exactly critical", []float64{100, 105}, model.SeverityCritical, "up", true},
	}
	e := New(Config{})
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			alerts := e.Evaluate(Input{Instrument: testInst, Now: t0, Samples: ticks(tt.prices, nil)})
			a := find(alerts, model.AlertPriceChange)
			if !tt.fires {
				if a != nil {
					t.Fatalf("unexpected alert: %+v", *a)
				}
				return
			}
			if a == nil {
				t.Fatal("expected PRICE_CHANGE alert")
			}
			if a.Severity != tt.sev {
				t.Errorf("severity = %s, want %s", a.Severity, tt.sev)
			}
			if a.Details["direction"] != tt.dir {
				t.Errorf("direction = %v, want %s", a.Details["direction"], tt.dir)
			}
			if !a.Time.Equal(t0) {
				t.Errorf("time = %v, want latest sample time %v", a.Time, t0)
			}
		})
	}
}

func TestPriceChange_UsesPrevClose(t *testing.T) {
	s := model.PriceSample{Time: t0, Price: 106, Volume: 1, PrevClose: 100}
	alerts := New(Config{}).Evaluate(Input{Instrument: testInst, Samples: []model.PriceSample{s}})
	a := find(alerts, model.AlertPriceChange)
	if a == nil || a.Severity != model.SeverityCritical {
		t.Fatalf("expected critical PRICE_CHANGE from prev close, got %+v", alerts)
	}
}

func TestVolumeSpike(t *testing.T) {
	prices := []float64{10, 10, 10, 10, 10}
	e := New(Config{})

	alerts := e.Evaluate(Input{Instrument: testInst, Samples: ticks(prices, []float64{100, 100, 100, 100, 250})})
	a := find(alerts, model.AlertVolumeSpike)
	if a == nil {
		t.Fatal("expected VOLUME_SPIKE")
	}
	if a.Details["spike_ratio"] != 2.5 {
		t.Errorf("spike_ratio = %v, want 2.5", a.Details["spike_ratio"])
	}

	alerts = e.Evaluate(Input{Instrument: testInst, Samples: ticks(prices, []float64{100, 100, 100, 100, 150})})
	if find(alerts, model.AlertVolumeSpike) != nil {
		t.Error("1.5x volume should not fire")
	}

	// Needs four previous samples.
	alerts = e.Evaluate(Input{Instrument: testInst, Samples: ticks(prices[:4], []float64{100, 100, 100, 900})})
	if find(alerts, model.AlertVolumeSpike) != nil {
		t.Error("spike should need a full baseline")
	}
}

// ────────────────────────────────────────────────────────────
// Technical
// ────────────────────────────────────────────────────────────

func TestRSIThresholds(t *testing.T) {
	e := New(Config{})
	cases := []struct {
		rsi  model.Optional
		want string
	}{
		{model.Some(75), model.AlertRSIOverbought},
		{model.Some(70), model.AlertRSIOverbought},
		{model.Some(25), model.AlertRSIOversold},
		{model.Some(50), ""},
		{model.Optional{}, ""},
	}
	for _, c := range cases {
		alerts := e.Evaluate(Input{
			Instrument: testInst,
			Now:        t0,
			Indicators: []model.IndicatorSnapshot{{Time: t0, RSI: c.rsi}},
		})
		got := ""
		if len(alerts) > 0 {
			got = alerts[0].Type
		}
		if got != c.want {
			t.Errorf("rsi %+v: got %q, want %q", c.rsi, got, c.want)
		}
	}
}

func TestMACDCross(t *testing.T) {
	e := New(Config{})
	golden := e.Evaluate(Input{Instrument: testInst, Now: t0, Indicators: []model.IndicatorSnapshot{
		{MACD: 3, Signal: 2},
		{MACD: 1, Signal: 2},
	}})
	if a := find(golden, model.AlertMACDGoldenCross); a == nil || a.Severity != model.SeverityInfo {
		t.Errorf("expected INFO golden cross, got %+v", golden)
	}

	death := e.Evaluate(Input{Instrument: testInst, Now: t0, Indicators: []model.IndicatorSnapshot{
		{MACD: 1, Signal: 2},
		{MACD: 3, Signal: 2},
	}})
	if a := find(death, model.AlertMACDDeathCross); a == nil || a.Severity != model.SeverityWarning {
		t.Errorf("expected WARNING death cross, got %+v", death)
	}

	flat := e.Evaluate(Input{Instrument: testInst, Now: t0, Indicators: []model.IndicatorSnapshot{
		{MACD: 3, Signal: 2},
	}})
	if len(flat) != 0 {
		t.Errorf("single snapshot cannot cross, got %+v", flat)
	}
}

func TestMACDCross_EveryAdjacentPair(t *testing.T) {
	e := New(Config{})
	// Newest first: golden cross between t0-2m and t0-1m, then back below
	// at t0. Only checking the newest pair would miss the golden cross.
	snaps := []model.IndicatorSnapshot{
		{Time: t0, MACD: 1, Signal: 2},
		{Time: t0.Add(-time.Minute), MACD: 3, Signal: 2},
		{Time: t0.Add(-2 * time.Minute), MACD: 1, Signal: 2},
	}
	alerts := e.Evaluate(Input{Instrument: testInst, Now: t0, Indicators: snaps})

	golden := find(alerts, model.AlertMACDGoldenCross)
	death := find(alerts, model.AlertMACDDeathCross)
	if golden == nil || death == nil {
		t.Fatalf("want both crosses, got %+v", alerts)
	}
	if !golden.Time.Equal(t0.Add(-time.Minute)) {
		t.Errorf("golden cross time = %v, want the snapshot it happened at", golden.Time)
	}
	if !death.Time.Equal(t0) {
		t.Errorf("death cross time = %v, want %v", death.Time, t0)
	}
	if golden.ID == death.ID {
		t.Error("distinct crosses must have distinct ids")
	}
}

// ────────────────────────────────────────────────────────────
// Sentiment
// ────────────────────────────────────────────────────────────

func TestSentimentRapidChange(t *testing.T) {
	events := []model.SentimentEvent{
		news(1*time.Hour, 0.8),
		news(2*time.Hour, 0.1),
		news(3*time.Hour, -0.7),
	}
	alerts := New(Config{}).Evaluate(Input{Instrument: testInst, Samples: ticks([]float64{10}, nil), Sentiment: events})

	a := find(alerts, model.AlertSentimentRapid)
	if a == nil {
		t.Fatalf("expected SENTIMENT_RAPID_CHANGE, got %+v", alerts)
	}
	if a.Details["from_score"] != -0.7 || a.Details["to_score"] != 0.8 {
		t.Errorf("details = %+v", a.Details)
	}
	if count(alerts, model.AlertSentimentPositive) != 1 || count(alerts, model.AlertSentimentNegative) != 1 {
		t.Errorf("expected one extreme positive and one extreme negative, got %+v", alerts)
	}
}

func TestSentimentFiltering(t *testing.T) {
	other := news(time.Hour, 0.9)
	other.Codes = nil
	other.Title = "unrelated headline"
	stale := news(25*time.Hour, 0.9)
	future := news(-time.Hour, 0.9)

	alerts := New(Config{}).Evaluate(Input{
		Instrument: testInst,
		Samples:    ticks([]float64{10}, nil),
		Sentiment:  []model.SentimentEvent{other, stale, future},
	})
	if len(alerts) != 0 {
		t.Errorf("expected no alerts, got %+v", alerts)
	}
}

func TestSentimentExtremeKeyedOnNewsTime(t *testing.T) {
	events := []model.SentimentEvent{news(time.Hour, 0.9), news(2*time.Hour, 0.75)}
	alerts := New(Config{}).Evaluate(Input{Instrument: testInst, Samples: ticks([]float64{10}, nil), Sentiment: events})
	if count(alerts, model.AlertSentimentPositive) != 2 {
		t.Fatalf("expected two positive alerts, got %+v", alerts)
	}
	if alerts[0].Key() == alerts[1].Key() || alerts[0].ID == alerts[1].ID {
		t.Error("per-event alerts must have distinct keys")
	}
}

func TestSentimentCappedAtMax(t *testing.T) {
	var events []model.SentimentEvent
	for i := 1; i <= 15; i++ {
		events = append(events, news(time.Duration(i)*time.Minute, 0.9))
	}
	alerts := New(Config{}).Evaluate(Input{Instrument: testInst, Samples: ticks([]float64{10}, nil), Sentiment: events})
	if n := count(alerts, model.AlertSentimentPositive); n != 10 {
		t.Errorf("positive alerts = %d, want 10", n)
	}
}

// ────────────────────────────────────────────────────────────
// Forecast deviation
// ────────────────────────────────────────────────────────────

func TestForecastDeviation(t *testing.T) {
	narrow := &model.ForecastRecord{Predicted: 100, Lower: 95, Upper: 105}
	wide := &model.ForecastRecord{Predicted: 100, Lower: 80, Upper: 120}

	tests := []struct {
		name  string
		price float64
		f     *model.ForecastRecord
		typ   string
		sev   model.Severity
	}{
		{"no forecast", 107, nil, "", ""},
		{"inside", 96, narrow, "", ""},
		{"above warning", 107, narrow, model.AlertForecastUpper, model.SeverityWarning},
		{"above critical", 112, narrow, model.AlertForecastUpper, model.SeverityCritical},
		{"below warning", 93, narrow, model.AlertForecastLower, model.SeverityWarning},
		{"inside far", 111, wide, model.AlertForecastCritical, model.SeverityCritical},
	}
	e := New(Config{})
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			alerts := e.Evaluate(Input{
				Instrument: testInst,
				Samples:    []model.PriceSample{{Time: t0, Price: tt.price, Volume: 1}},
				Forecast:   tt.f,
			})
			if tt.typ == "" {
				if len(alerts) != 0 {
					t.Fatalf("unexpected alerts: %+v", alerts)
				}
				return
			}
			a := find(alerts, tt.typ)
			if a == nil {
				t.Fatalf("expected %s, got %+v", tt.typ, alerts)
			}
			if a.Severity != tt.sev {
				t.Errorf("severity = %s, want %s", a.Severity, tt.sev)
			}
		})
	}
}

// ────────────────────────────────────────────────────────────
// Idempotence
// ────────────────────────────────────────────────────────────

func TestEvaluate_Idempotent(t *testing.T) {
	in := Input{
		Instrument: testInst,
		Now:        t0,
		Samples:    ticks([]float64{100, 100, 100, 100, 106}, []float64{100, 100, 100, 100, 300}),
		Indicators: []model.IndicatorSnapshot{
			{MACD: 3, Signal: 2, RSI: model.Some(80)},
			{MACD: 1, Signal: 2},
		},
		Sentiment: []model.SentimentEvent{news(time.Hour, 0.8), news(2*time.Hour, 0.1), news(3*time.Hour, -0.7)},
		Forecast:  &model.ForecastRecord{Predicted: 95, Lower: 90, Upper: 100},
	}
	e := New(Config{})
	first := e.Evaluate(in)
	if len(first) < 7 {
		t.Fatalf("expected every rule to fire, got %d alerts", len(first))
	}

	// A later wall clock must not change anything once samples exist.
	in.Now = t0.Add(30 * time.Second)
	second := e.Evaluate(in)
	if !reflect.DeepEqual(first, second) {
		t.Errorf("re-evaluation differs:\n%+v\n%+v", first, second)
	}
	for _, a := range first {
		if a.ID != ID(a) {
			t.Errorf("%s: id not derived from natural key", a.Type)
		}
	}
}
