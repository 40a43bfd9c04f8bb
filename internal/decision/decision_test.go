package decision

import (
	"math"
	"strings"
	"testing"
	"time"

	"stock-sentinel/internal/model"
)

var (
	testInst = model.Instrument{Code: "sh600519", Name: "贵州茅台"}
	t0       = time.Date(2025, 3, 11, 10, 0, 0, 0, time.UTC)
)

func assertClose(t *testing.T, label string, got, want, tol float64) {
	t.Helper()
	if math.Abs(got-want) > tol {
		t.Errorf("%s: got %.6f, want %.6f", label, got, want)
	}
}

// bullish returns newest-first snapshots with every realtime rule positive:
// hist > 0 and rising, RSI in (50,70) and rising, MA5 > MA10 and rising.
func bullish() []model.IndicatorSnapshot {
	return []model.IndicatorSnapshot{
		{Price: 10, Hist: 0.3, RSI: model.Some(60), MA5: model.Some(10.2), MA10: model.Some(10)},
		{Price: 10, Hist: 0.2, RSI: model.Some(58), MA5: model.Some(10.1), MA10: model.Some(10)},
		{Price: 10, Hist: 0.1, RSI: model.Some(55), MA5: model.Some(10.0), MA10: model.Some(10)},
	}
}

// ────────────────────────────────────────────────────────────
// Sub-scores
// ────────────────────────────────────────────────────────────

func TestRealtime_Bullish(t *testing.T) {
	f := New(Config{})
	sub := f.Realtime(bullish())
	if sub == nil {
		t.Fatal("expected a realtime sub-score")
	}
	// 50 + 10 + 8 + 10 + 8 + 10 + 8 = 104 → clamped
	assertClose(t, "score", sub.Score, 100, 0)
	if !sub.CanBuy {
		t.Error("expected can_buy")
	}
	if len(sub.Reasons) != 6 {
		t.Errorf("reasons = %d, want 6: %v", len(sub.Reasons), sub.Reasons)
	}
}

func TestRealtime_BandsAndUndefined(t *testing.T) {
	f := New(Config{})
	// Only bands defined; RSI/MA undefined must not be read as zero.
	snap := model.IndicatorSnapshot{Price: 12, UpperBand: model.Some(11), LowerBand: model.Some(9)}
	sub := f.Realtime([]model.IndicatorSnapshot{snap})
	assertClose(t, "above upper", sub.Score, 40, 0)

	snap.Price = 8
	sub = f.Realtime([]model.IndicatorSnapshot{snap})
	assertClose(t, "below lower", sub.Score, 60, 0)

	if f.Realtime(nil) != nil {
		t.Error("no snapshots should give nil")
	}
}

func TestDaily_Crosses(t *testing.T) {
	f := New(Config{})
	rows := make([]model.IndicatorSnapshot, 5)
	rows[0] = model.IndicatorSnapshot{MACD: 2, Signal: 1, MA5: model.Some(10.5), MA10: model.Some(10)}
	rows[1] = model.IndicatorSnapshot{MACD: 0.5, Signal: 1, MA5: model.Some(9.5), MA10: model.Some(10)}

	sub := f.Daily(rows, nil)
	if sub == nil {
		t.Fatal("expected daily sub-score")
	}
	// hist 0 everywhere: no momentum points.
	// golden MACD +15, MA5>MA10 +10, MA golden +15 → 90
	assertClose(t, "score", sub.Score, 90, 0)
	if sub.Reasons[0] != "MACD golden cross" {
		t.Errorf("first reason = %q", sub.Reasons[0])
	}

	if f.Daily(rows[:4], nil) != nil {
		t.Error("fewer than five rows should give nil")
	}
}

func TestDaily_BandsAndPriceRun(t *testing.T) {
	f := New(Config{})
	rows := make([]model.IndicatorSnapshot, 5)
	rows[0].UpperBand = model.Some(102)
	rows[0].LowerBand = model.Some(98)

	// Width 4% → +5; price below lower band +10; strictly rising run +10.
	sub := f.Daily(rows, []float64{97.9, 97.5, 97.0})
	assertClose(t, "score", sub.Score, 75, 0)

	// Wide band −5; falling run −10; inside band.
	rows[0].UpperBand = model.Some(110)
	rows[0].LowerBand = model.Some(90)
	sub = f.Daily(rows, []float64{99, 100, 101})
	assertClose(t, "score", sub.Score, 35, 0)
}

func TestFundamental(t *testing.T) {
	f := New(Config{})
	good := &model.Fundamentals{
		PE:            model.Some(12),
		PB:            model.Some(1.2),
		DividendYield: model.Some(4),
		ChangePct:     model.Some(-6),
		Amplitude:     model.Some(3),
		Turnover:      model.Some(12),
	}
	assertClose(t, "good", f.Fundamental(good).Score, 90, 0)

	bad := &model.Fundamentals{
		PE:        model.Some(40),
		PB:        model.Some(4),
		Amplitude: model.Some(8),
		Turnover:  model.Some(0.5),
	}
	sub := f.Fundamental(bad)
	assertClose(t, "bad", sub.Score, 20, 0)
	if sub.CanBuy {
		t.Error("bad fundamentals should not be buyable")
	}

	empty := f.Fundamental(&model.Fundamentals{})
	assertClose(t, "empty", empty.Score, 50, 0)
	if f.Fundamental(nil) != nil {
		t.Error("nil fundamentals should give nil")
	}
}

// ────────────────────────────────────────────────────────────
// Composite
// ────────────────────────────────────────────────────────────

func TestDecide_NoData(t *testing.T) {
	res := New(Config{}).Decide(Input{Instrument: testInst, Time: t0})
	if res.Score != 0 || res.CanBuy {
		t.Errorf("got score %v can_buy %v", res.Score, res.CanBuy)
	}
	if len(res.Reasons) != 1 || res.Reasons[0] != "no data" {
		t.Errorf("reasons = %v", res.Reasons)
	}
}

func TestDecide_RenormalizesWeights(t *testing.T) {
	f := New(Config{})
	fund := &model.Fundamentals{PE: model.Some(40)} // 40

	// Only fundamentals: composite equals the sub-score.
	res := f.Decide(Input{Instrument: testInst, Fundamentals: fund})
	assertClose(t, "fundamental only", res.Score, 40, 1e-9)

	// Realtime 100 (w 0.4) + fundamental 40 (w 0.3) → (40 + 12) / 0.7
	res = f.Decide(Input{Instrument: testInst, Realtime: bullish(), Fundamentals: fund})
	assertClose(t, "two parts", res.Score, 52/0.7, 1e-4)
	if !res.CanBuy {
		t.Error("74.29 should pass the 60 threshold")
	}
	if res.Realtime == nil || res.Fundamental == nil || res.Daily != nil {
		t.Error("sub-scores not attached as expected")
	}
}

func TestDecide_ReasonsPrefixedAndCapped(t *testing.T) {
	rows := make([]model.IndicatorSnapshot, 5)
	rows[0].UpperBand = model.Some(102)
	rows[0].LowerBand = model.Some(98)
	res := New(Config{}).Decide(Input{
		Instrument:   testInst,
		Realtime:     bullish(),
		Daily:        rows,
		Prices:       []float64{97, 96, 95},
		Fundamentals: &model.Fundamentals{PE: model.Some(10), PB: model.Some(1)},
	})
	if len(res.Reasons) != 5 {
		t.Fatalf("reasons = %d, want 5: %v", len(res.Reasons), res.Reasons)
	}
	prefixes := []string{"realtime: ", "realtime: ", "daily: ", "daily: ", "fundamental: "}
	for i, p := range prefixes {
		if !strings.HasPrefix(res.Reasons[i], p) {
			t.Errorf("reason %d = %q, want prefix %q", i, res.Reasons[i], p)
		}
	}
}

func TestDecide_ScoreClamped(t *testing.T) {
	bearish := []model.IndicatorSnapshot{
		{Price: 12, Hist: -0.3, RSI: model.Some(75), MA5: model.Some(9), MA10: model.Some(10), UpperBand: model.Some(11), LowerBand: model.Some(9)},
		{Hist: -0.2, RSI: model.Some(78), MA5: model.Some(9.1)},
		{Hist: -0.1, RSI: model.Some(80), MA5: model.Some(9.2)},
	}
	f := New(Config{})
	sub := f.Realtime(bearish)
	// 50 −10 −8 −10 −8 −10 −8 −10 = −14 → 0
	assertClose(t, "clamped", sub.Score, 0, 0)

	res := f.Decide(Input{Instrument: testInst, Realtime: bearish})
	if res.Score < 0 || res.Score > 100 {
		t.Errorf("composite out of range: %v", res.Score)
	}
}
