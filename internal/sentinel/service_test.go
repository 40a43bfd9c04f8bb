package sentinel

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"stock-sentinel/config"
	"stock-sentinel/internal/metrics"
	"stock-sentinel/internal/model"
	sqlitestore "stock-sentinel/internal/store/sqlite"
)

// ═══════════════════════════════════════════════════════════════
// Fakes
// ═══════════════════════════════════════════════════════════════

type fakeHistory struct {
	mu      sync.Mutex
	samples map[string][]model.PriceSample
	fail    map[string]error
}

func (f *fakeHistory) RecentSamples(_ context.Context, code string, limit int) ([]model.PriceSample, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail[code]; err != nil {
		return nil, err
	}
	s := f.samples[code]
	if len(s) > limit {
		s = s[len(s)-limit:]
	}
	return append([]model.PriceSample(nil), s...), nil
}

type fakeSentiment struct{ events []model.SentimentEvent }

func (f fakeSentiment) EventsInWindow(_ context.Context, from, to time.Time) ([]model.SentimentEvent, error) {
	var out []model.SentimentEvent
	for _, ev := range f.events {
		if !ev.Time.Before(from) && !ev.Time.After(to) {
			out = append(out, ev)
		}
	}
	return out, nil
}

type fakeSink struct {
	mu        sync.Mutex
	samples   int
	anomalies []model.AnomalyEvent
	alerts    []model.Alert
	decisions []model.DecisionResult
	forecasts []model.ForecastRecord
}

func (s *fakeSink) UpsertSamples(_ context.Context, _ string, samples []model.PriceSample) error {
	s.mu.Lock()
	s.samples += len(samples)
	s.mu.Unlock()
	return nil
}
func (s *fakeSink) UpsertIndicators(context.Context, []model.IndicatorSnapshot) error { return nil }
func (s *fakeSink) UpsertAnomalies(_ context.Context, ev []model.AnomalyEvent) error {
	s.mu.Lock()
	s.anomalies = append(s.anomalies, ev...)
	s.mu.Unlock()
	return nil
}
func (s *fakeSink) UpsertCorrelations(context.Context, []model.CorrelationRecord) error { return nil }
func (s *fakeSink) UpsertForecasts(_ context.Context, recs []model.ForecastRecord) error {
	s.mu.Lock()
	s.forecasts = append(s.forecasts, recs...)
	s.mu.Unlock()
	return nil
}
func (s *fakeSink) InsertAlerts(_ context.Context, alerts []model.Alert) error {
	s.mu.Lock()
	s.alerts = append(s.alerts, alerts...)
	s.mu.Unlock()
	return nil
}
func (s *fakeSink) UpsertDecision(_ context.Context, d model.DecisionResult) error {
	s.mu.Lock()
	s.decisions = append(s.decisions, d)
	s.mu.Unlock()
	return nil
}

type fakeDailyBars struct {
	mu   sync.Mutex
	bars map[string][]model.PriceSample
}

func (f *fakeDailyBars) UpsertDailyBars(_ context.Context, code string, bars []model.PriceSample) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.bars == nil {
		f.bars = make(map[string][]model.PriceSample)
	}
	f.bars[code] = append(f.bars[code], bars...)
	return nil
}

type fakeFeed struct {
	mu     sync.Mutex
	pushed []model.Alert
}

func (f *fakeFeed) PushAlert(_ context.Context, a model.Alert) error {
	f.mu.Lock()
	f.pushed = append(f.pushed, a)
	f.mu.Unlock()
	return nil
}

func (f *fakeFeed) LatestAlerts(_ context.Context, n int) ([]model.Alert, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]model.Alert, 0, n)
	for i := len(f.pushed) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, f.pushed[i])
	}
	return out, nil
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent []model.Alert
}

func (n *fakeNotifier) Send(_ context.Context, a model.Alert) error {
	n.mu.Lock()
	n.sent = append(n.sent, a)
	n.mu.Unlock()
	return nil
}

type fakeAlertStore struct {
	alerts []model.Alert
	marked map[string][2]bool
}

func (f *fakeAlertStore) RecentAlerts(_ context.Context, limit int) ([]model.Alert, error) {
	if len(f.alerts) > limit {
		return f.alerts[:limit], nil
	}
	return f.alerts, nil
}

func (f *fakeAlertStore) MarkAlert(_ context.Context, id string, read, handled bool) (bool, error) {
	for _, a := range f.alerts {
		if a.ID == id {
			if f.marked == nil {
				f.marked = make(map[string][2]bool)
			}
			f.marked[id] = [2]bool{read, handled}
			return true, nil
		}
	}
	return false, nil
}

// ═══════════════════════════════════════════════════════════════
// Fixtures
// ═══════════════════════════════════════════════════════════════

var (
	moutai = model.Instrument{Code: "sh600519", Name: "Kweichow Moutai"}
	pingan = model.Instrument{Code: "sz000001", Name: "Ping An Bank"}
	t0     = time.Date(2026, 3, 10, 1, 30, 0, 0, time.UTC) // 09:30 CST
)

// flatThenJump returns n one-minute samples at 10.0 ending in a jump of
// pct percent on the last sample.
func flatThenJump(n int, pct float64) []model.PriceSample {
	out := make([]model.PriceSample, n)
	for i := range out {
		out[i] = model.PriceSample{
			Time:   t0.Add(time.Duration(i) * time.Minute),
			Open:   10, High: 10, Low: 10,
			Price:  10,
			Volume: 100,
		}
	}
	last := &out[n-1]
	last.Price = 10 * (1 + pct/100)
	last.High = last.Price
	return out
}

func testConfig(t *testing.T, insts ...model.Instrument) *config.Config {
	t.Helper()
	cfg, err := config.Load("")
	if err != nil {
		t.Fatalf("config.Load: %v", err)
	}
	cfg.Instruments = insts
	cfg.Workers = 2
	cfg.InstrumentCooldown = time.Minute
	return cfg
}

type harness struct {
	svc      *Service
	history  *fakeHistory
	sink     *fakeSink
	feed     *fakeFeed
	notifier *fakeNotifier
	clock    *time.Time
}

func newHarness(t *testing.T, cfg *config.Config) *harness {
	t.Helper()
	now := t0.Add(time.Hour)
	h := &harness{
		history:  &fakeHistory{samples: map[string][]model.PriceSample{}, fail: map[string]error{}},
		sink:     &fakeSink{},
		feed:     &fakeFeed{},
		notifier: &fakeNotifier{},
		clock:    &now,
	}
	h.svc = New(cfg, Deps{
		History:   h.history,
		Sentiment: fakeSentiment{},
		Sink:      h.sink,
		Feed:      h.feed,
		Notifier:  h.notifier,
		Metrics:   metrics.NewMetrics(prometheus.NewRegistry()),
		Now:       func() time.Time { return *h.clock },
	})
	return h
}

// ═══════════════════════════════════════════════════════════════
// Cycle
// ═══════════════════════════════════════════════════════════════

func TestRunCycle_FlagsJumpAndAlerts(t *testing.T) {
	h := newHarness(t, testConfig(t, moutai))
	h.history.samples[moutai.Code] = flatThenJump(40, 6)

	rep := h.svc.RunCycle(context.Background())

	if rep.Instruments != 1 || rep.Failed != 0 || rep.Skipped != 0 {
		t.Fatalf("report = %+v", rep)
	}
	if rep.Anomalies != 1 {
		t.Errorf("anomalies = %d, want 1", rep.Anomalies)
	}
	if len(h.sink.anomalies) != 1 || h.sink.anomalies[0].Type != model.AnomalySurge {
		t.Errorf("persisted anomalies = %+v", h.sink.anomalies)
	}

	var price *model.Alert
	for i := range h.sink.alerts {
		if h.sink.alerts[i].Type == model.AlertPriceChange {
			price = &h.sink.alerts[i]
		}
	}
	if price == nil {
		t.Fatalf("no PRICE_CHANGE alert in %+v", h.sink.alerts)
	}
	if price.Severity != model.SeverityCritical {
		t.Errorf("severity = %s, want CRITICAL for a 6%% move", price.Severity)
	}
	if !price.Time.Equal(t0.Add(39 * time.Minute)) {
		t.Errorf("alert time = %v, want latest sample time", price.Time)
	}
	if len(h.sink.decisions) != 1 || h.sink.decisions[0].Instrument.Code != moutai.Code {
		t.Errorf("decisions = %+v", h.sink.decisions)
	}
	if h.sink.samples != 40 {
		t.Errorf("persisted samples = %d, want 40", h.sink.samples)
	}
	if rep.Delivered != len(h.feed.pushed) || len(h.notifier.sent) != len(h.feed.pushed) {
		t.Errorf("delivered %d, feed %d, notified %d", rep.Delivered, len(h.feed.pushed), len(h.notifier.sent))
	}
	if snaps := h.svc.Engine().Recent(moutai.Code, 1); len(snaps) != 1 {
		t.Errorf("engine has %d snapshots, want 1", len(snaps))
	}
}

func TestRunCycle_SameSamplesNotRedelivered(t *testing.T) {
	h := newHarness(t, testConfig(t, moutai))
	h.history.samples[moutai.Code] = flatThenJump(40, 6)

	first := h.svc.RunCycle(context.Background())
	if first.Delivered == 0 {
		t.Fatal("first cycle delivered nothing")
	}
	*h.clock = h.clock.Add(time.Minute)
	second := h.svc.RunCycle(context.Background())

	if second.Alerts != first.Alerts {
		t.Errorf("second cycle evaluated %d alerts, want %d", second.Alerts, first.Alerts)
	}
	if second.Delivered != 0 {
		t.Errorf("second cycle delivered %d, want 0", second.Delivered)
	}
	if len(h.notifier.sent) != first.Delivered {
		t.Errorf("notified %d times, want %d", len(h.notifier.sent), first.Delivered)
	}
}

func TestRunCycle_HistoryFailureIsolated(t *testing.T) {
	h := newHarness(t, testConfig(t, moutai, pingan))
	h.history.samples[moutai.Code] = flatThenJump(40, 6)
	h.history.fail[pingan.Code] = errors.New("connection refused")

	rep := h.svc.RunCycle(context.Background())

	if rep.Failed != 1 {
		t.Fatalf("failed = %d, want 1", rep.Failed)
	}
	for _, r := range rep.Results {
		switch r.Key {
		case pingan.Code:
			if model.ErrorKind(r.Err) != "upstream_unavailable" {
				t.Errorf("kind = %q, want upstream_unavailable", model.ErrorKind(r.Err))
			}
		case moutai.Code:
			if r.Err != nil {
				t.Errorf("%s failed: %v", r.Key, r.Err)
			}
		}
	}
	if rep.Anomalies != 1 {
		t.Errorf("healthy instrument should still be analysed, anomalies = %d", rep.Anomalies)
	}
}

func TestRunCycle_NoSamplesIsNotFailure(t *testing.T) {
	h := newHarness(t, testConfig(t, moutai))
	rep := h.svc.RunCycle(context.Background())
	if rep.Failed != 0 || rep.Alerts != 0 {
		t.Errorf("report = %+v", rep)
	}
	if len(h.sink.decisions) != 0 {
		t.Errorf("decision written without samples")
	}
}

func TestRunCycle_AppliesStagedInstruments(t *testing.T) {
	h := newHarness(t, testConfig(t, moutai))
	h.history.samples[moutai.Code] = flatThenJump(40, 1)
	h.history.samples[pingan.Code] = flatThenJump(40, 1)

	h.svc.RunCycle(context.Background())
	if !h.svc.ProposeInstruments([]model.Instrument{pingan}) {
		t.Fatal("proposal not staged")
	}

	// Inside the cooldown the old set still runs.
	rep := h.svc.RunCycle(context.Background())
	if rep.Version != 1 || rep.Instruments != 1 {
		t.Fatalf("before cooldown: %+v", rep)
	}
	if rep.Results[0].Key != moutai.Code {
		t.Errorf("ran %s before cooldown", rep.Results[0].Key)
	}

	*h.clock = h.clock.Add(2 * time.Minute)
	rep = h.svc.RunCycle(context.Background())
	if rep.Version != 2 || rep.Results[0].Key != pingan.Code {
		t.Fatalf("after cooldown: version %d, ran %s", rep.Version, rep.Results[0].Key)
	}
	if snaps := h.svc.Engine().Recent(moutai.Code, 1); len(snaps) != 0 {
		t.Errorf("removed instrument still has engine state")
	}
}

func TestRunCycle_RollsUpDailyBars(t *testing.T) {
	cfg := testConfig(t, moutai)
	history := &fakeHistory{samples: map[string][]model.PriceSample{moutai.Code: flatThenJump(40, 1)}}
	daily := &fakeDailyBars{}
	now := t0.Add(time.Hour)
	svc := New(cfg, Deps{
		History:   history,
		Sentiment: fakeSentiment{},
		DailyBars: daily,
		Now:       func() time.Time { return now },
	})

	svc.RunCycle(context.Background())
	svc.RunCycle(context.Background())

	bars := daily.bars[moutai.Code]
	if len(bars) != 1 {
		t.Fatalf("stored %d bars, want 1 (second cycle saw nothing new)", len(bars))
	}
	if bars[0].Volume != 4000 || bars[0].Price != history.samples[moutai.Code][39].Price {
		t.Errorf("bar = %+v", bars[0])
	}
}

func TestRunCycle_MACDCrossesBetweenEarlierSamples(t *testing.T) {
	h := newHarness(t, testConfig(t, moutai))
	samples := flatThenJump(40, 0)
	h.history.samples[moutai.Code] = samples
	h.svc.RunCycle(context.Background())

	// One cycle brings four samples: MACD crosses down at +41m and back up
	// at +42m, while the newest pair (+42m, +43m) does not cross.
	for i, p := range []float64{11, 8, 14, 14} {
		samples = append(samples, model.PriceSample{
			Time: t0.Add(time.Duration(40+i) * time.Minute), Open: p, High: p, Low: p, Price: p, Volume: 100,
		})
	}
	h.history.samples[moutai.Code] = samples
	h.svc.RunCycle(context.Background())

	crosses := map[string]time.Time{}
	for _, a := range h.sink.alerts {
		if a.Type == model.AlertMACDGoldenCross || a.Type == model.AlertMACDDeathCross {
			crosses[a.Type] = a.Time
		}
	}
	if at, ok := crosses[model.AlertMACDDeathCross]; !ok || !at.Equal(t0.Add(41*time.Minute)) {
		t.Errorf("death cross = %v (found %v), want at +41m", at, ok)
	}
	if at, ok := crosses[model.AlertMACDGoldenCross]; !ok || !at.Equal(t0.Add(42*time.Minute)) {
		t.Errorf("golden cross = %v (found %v), want at +42m", at, ok)
	}
}

func TestCrossWindow(t *testing.T) {
	snap := func(m int) model.IndicatorSnapshot {
		return model.IndicatorSnapshot{Instrument: moutai.Code, Time: t0.Add(time.Duration(m) * time.Minute)}
	}
	tests := []struct {
		name    string
		before  []model.IndicatorSnapshot // newest first
		emitted []model.IndicatorSnapshot // oldest first
		want    []int                     // minutes, newest first
	}{
		{"nothing new", []model.IndicatorSnapshot{snap(5), snap(4)}, nil, nil},
		{"first snapshots", nil, []model.IndicatorSnapshot{snap(1), snap(2)}, []int{2, 1}},
		{"several new plus the one before", []model.IndicatorSnapshot{snap(5), snap(4)},
			[]model.IndicatorSnapshot{snap(6), snap(7), snap(8)}, []int{8, 7, 6, 5}},
		{"revised newest pairs with its predecessor", []model.IndicatorSnapshot{snap(5), snap(4)},
			[]model.IndicatorSnapshot{snap(5), snap(6)}, []int{6, 5, 4}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := crossWindow(tt.before, tt.emitted)
			if len(got) != len(tt.want) {
				t.Fatalf("len = %d, want %d", len(got), len(tt.want))
			}
			for i, m := range tt.want {
				if want := t0.Add(time.Duration(m) * time.Minute); !got[i].Time.Equal(want) {
					t.Errorf("[%d] = %v, want %v", i, got[i].Time, want)
				}
			}
		})
	}
}

type fakeFundamentals struct {
	fd  *model.Fundamentals
	err error
}

func (f fakeFundamentals) LatestFundamentals(context.Context, string) (*model.Fundamentals, error) {
	return f.fd, f.err
}

type fakeFundamentalsStore struct {
	days map[string]time.Time
}

func (f *fakeFundamentalsStore) UpsertFundamentals(_ context.Context, code string, day time.Time, _ model.Fundamentals) error {
	f.days[code] = day
	return nil
}

func TestRunCycle_FundamentalsFromFeed(t *testing.T) {
	h := newHarness(t, testConfig(t, moutai))
	h.history.samples[moutai.Code] = flatThenJump(40, 1)
	store := &fakeFundamentalsStore{days: map[string]time.Time{}}
	h.svc.deps.FundamentalsFeed = fakeFundamentals{fd: &model.Fundamentals{PE: model.Some(10), PB: model.Some(1)}}
	h.svc.deps.FundamentalsStore = store

	h.svc.RunCycle(context.Background())

	if len(h.sink.decisions) != 1 || h.sink.decisions[0].Fundamental == nil {
		t.Fatalf("decision has no fundamental score: %+v", h.sink.decisions)
	}
	if day, ok := store.days[moutai.Code]; !ok || !day.Equal(t0.Add(39*time.Minute)) {
		t.Errorf("stored fundamentals at %v (found %v), want the latest sample time", day, ok)
	}
}

func TestService_FundamentalsFallback(t *testing.T) {
	stored := &model.Fundamentals{PE: model.Some(30)}
	live := &model.Fundamentals{PE: model.Some(12)}

	tests := []struct {
		name   string
		feed   model.FundamentalsSource
		want   *model.Fundamentals
		errors int
	}{
		{"feed value wins", fakeFundamentals{fd: live}, live, 0},
		{"feed empty", fakeFundamentals{}, stored, 0},
		{"feed down", fakeFundamentals{err: errors.New("redis down")}, stored, 1},
		{"no feed", nil, stored, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, testConfig(t, moutai))
			h.svc.deps.FundamentalsFeed = tt.feed
			h.svc.deps.Fundamentals = fakeFundamentals{fd: stored}

			var stages []string
			got := h.svc.fundamentals(context.Background(), moutai.Code, t0, func(stage string, _ error) {
				stages = append(stages, stage)
			})
			if got != tt.want {
				t.Errorf("fundamentals = %+v, want %+v", got, tt.want)
			}
			if len(stages) != tt.errors {
				t.Errorf("soft errors = %v, want %d", stages, tt.errors)
			}
		})
	}
}

// ═══════════════════════════════════════════════════════════════
// Delivered set
// ═══════════════════════════════════════════════════════════════

func TestDeliveredSet_PruneRelativeToNewest(t *testing.T) {
	d := newDeliveredSet(48 * time.Hour)
	mk := func(at time.Time, typ string) model.Alert {
		return model.Alert{Instrument: moutai, Time: at, Type: typ}
	}
	old := mk(t0, model.AlertPriceChange)
	recent := mk(t0.Add(72*time.Hour), model.AlertVolumeSpike)

	if !d.add(old) || !d.add(recent) {
		t.Fatal("fresh alerts should be new")
	}
	if d.add(old) {
		t.Error("duplicate key reported as new")
	}

	d.prune()
	if d.len() != 1 {
		t.Fatalf("len after prune = %d, want 1", d.len())
	}
	if d.add(recent) {
		t.Error("newest key should survive pruning")
	}

	d.forget(moutai.Code)
	if d.len() != 0 {
		t.Errorf("len after forget = %d", d.len())
	}
}

// ═══════════════════════════════════════════════════════════════
// HTTP API
// ═══════════════════════════════════════════════════════════════

func TestHandleInstruments(t *testing.T) {
	h := newHarness(t, testConfig(t, moutai))

	tests := []struct {
		name   string
		method string
		body   string
		want   int
	}{
		{"get", http.MethodGet, "", http.StatusOK},
		{"post array", http.MethodPost, `[{"code":"sz000001","name":"Ping An Bank"}]`, http.StatusAccepted},
		{"post wrapped", http.MethodPost, `{"instruments":[{"code":"sh600036"}]}`, http.StatusAccepted},
		{"empty code", http.MethodPost, `[{"code":" "}]`, http.StatusBadRequest},
		{"bad json", http.MethodPost, `{`, http.StatusBadRequest},
		{"delete", http.MethodDelete, "", http.StatusMethodNotAllowed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, "/instruments", strings.NewReader(tt.body))
			rec := httptest.NewRecorder()
			h.svc.handleInstruments(rec, req)
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d (%s)", rec.Code, tt.want, rec.Body.String())
			}
		})
	}

	pending, ok := h.svc.Registry().Pending()
	if !ok || len(pending.Instruments) != 1 || pending.Instruments[0].Code != "sh600036" {
		t.Errorf("pending = %+v, %v; the last proposal should win", pending, ok)
	}
}

func TestHandleAlerts_FallsBackToFeed(t *testing.T) {
	h := newHarness(t, testConfig(t, moutai))
	h.history.samples[moutai.Code] = flatThenJump(40, 6)
	h.svc.RunCycle(context.Background())

	rec := httptest.NewRecorder()
	h.svc.handleAlerts(rec, httptest.NewRequest(http.MethodGet, "/alerts?limit=1", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var got []model.Alert
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 {
		t.Errorf("got %d alerts, want 1", len(got))
	}

	rec = httptest.NewRecorder()
	h.svc.handleAlerts(rec, httptest.NewRequest(http.MethodGet, "/alerts?limit=-3", nil))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("negative limit status = %d", rec.Code)
	}
}

func TestHandleMarkAlert(t *testing.T) {
	cfg := testConfig(t, moutai)
	store := &fakeAlertStore{alerts: []model.Alert{{ID: "a1", Instrument: moutai, Time: t0, Type: model.AlertPriceChange}}}
	svc := New(cfg, Deps{History: &fakeHistory{}, Sentiment: fakeSentiment{}, Alerts: store})

	tests := []struct {
		path string
		want int
	}{
		{"/alerts/a1/read", http.StatusOK},
		{"/alerts/a1/handled", http.StatusOK},
		{"/alerts/missing/read", http.StatusNotFound},
		{"/alerts/a1/archive", http.StatusNotFound},
		{"/alerts/a1", http.StatusNotFound},
	}
	for _, tt := range tests {
		rec := httptest.NewRecorder()
		svc.handleMarkAlert(rec, httptest.NewRequest(http.MethodPost, tt.path, nil))
		if rec.Code != tt.want {
			t.Errorf("%s: status = %d, want %d", tt.path, rec.Code, tt.want)
		}
	}
	if got := store.marked["a1"]; got != [2]bool{true, true} {
		t.Errorf("a1 flags = %v, handled implies read", got)
	}
}

func TestHandleIndicators(t *testing.T) {
	h := newHarness(t, testConfig(t, moutai))
	h.history.samples[moutai.Code] = flatThenJump(40, 1)
	h.svc.RunCycle(context.Background())

	rec := httptest.NewRecorder()
	h.svc.handleIndicators(rec, httptest.NewRequest(http.MethodGet, "/indicators/"+moutai.Code, nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	var snaps []model.IndicatorSnapshot
	if err := json.Unmarshal(rec.Body.Bytes(), &snaps); err != nil {
		t.Fatal(err)
	}
	if len(snaps) == 0 || snaps[0].Instrument != moutai.Code {
		t.Errorf("snapshots = %+v", snaps)
	}

	rec = httptest.NewRecorder()
	h.svc.handleIndicators(rec, httptest.NewRequest(http.MethodGet, "/indicators/sz999999", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown code status = %d", rec.Code)
	}
}

func TestHandleIndicators_Preview(t *testing.T) {
	h := newHarness(t, testConfig(t, moutai))
	h.history.samples[moutai.Code] = flatThenJump(40, 1)
	h.svc.RunCycle(context.Background())
	before, _ := h.svc.Engine().Peek(moutai.Code)

	tests := []struct {
		query string
		want  int
	}{
		{"?price=10.8", http.StatusOK},
		{"?price=abc", http.StatusBadRequest},
		{"?price=-1", http.StatusBadRequest},
	}
	for _, tt := range tests {
		rec := httptest.NewRecorder()
		h.svc.handleIndicators(rec, httptest.NewRequest(http.MethodGet, "/indicators/"+moutai.Code+tt.query, nil))
		if rec.Code != tt.want {
			t.Errorf("%s: status = %d, want %d: %s", tt.query, rec.Code, tt.want, rec.Body.String())
			continue
		}
		if tt.want != http.StatusOK {
			continue
		}
		var snap model.IndicatorSnapshot
		if err := json.Unmarshal(rec.Body.Bytes(), &snap); err != nil {
			t.Fatal(err)
		}
		if snap.Mode != "preview" || snap.Price != 10.8 || !snap.Time.Equal(*h.clock) {
			t.Errorf("preview = %+v", snap)
		}
	}

	after, _ := h.svc.Engine().Peek(moutai.Code)
	if !after.Time.Equal(before.Time) || after.Price != before.Price {
		t.Errorf("preview changed the engine: %v -> %v", before.Time, after.Time)
	}
}

type fakeSignals struct {
	signals []sqlitestore.BuySignal
	err     error
}

func (f fakeSignals) PendingBuySignals(_ context.Context, limit int) ([]sqlitestore.BuySignal, error) {
	return f.signals[:min(limit, len(f.signals))], f.err
}

func TestHandleSignals(t *testing.T) {
	cfg := testConfig(t, moutai)
	base := Deps{History: &fakeHistory{}, Sentiment: fakeSentiment{}}

	tests := []struct {
		name    string
		signals SignalStore
		want    int
		body    string
	}{
		{"not configured", nil, http.StatusServiceUnavailable, ""},
		{"empty list", fakeSignals{}, http.StatusOK, "[]"},
		{"store failure", fakeSignals{err: errors.New("disk I/O error")}, http.StatusBadGateway, ""},
		{"pending", fakeSignals{signals: []sqlitestore.BuySignal{{ID: 7, Instrument: moutai, Score: 72.5, Status: "pending"}}}, http.StatusOK, `"score":72.5`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			deps := base
			deps.Signals = tt.signals
			svc := New(cfg, deps)
			rec := httptest.NewRecorder()
			svc.handleSignals(rec, httptest.NewRequest(http.MethodGet, "/signals", nil))
			if rec.Code != tt.want {
				t.Fatalf("status = %d, want %d: %s", rec.Code, tt.want, rec.Body.String())
			}
			if tt.body != "" && !strings.Contains(rec.Body.String(), tt.body) {
				t.Errorf("body = %s, want it to contain %s", rec.Body.String(), tt.body)
			}
		})
	}
}

// ═══════════════════════════════════════════════════════════════
// Config mapping
// ═══════════════════════════════════════════════════════════════

func TestConfigMapping(t *testing.T) {
	cfg := testConfig(t)
	cfg.PriceChangeThreshold = 4
	cfg.AlertPriceWarning = 2.5
	cfg.IndicatorLookback = 120
	cfg.PredictionHorizon = 7

	ind := indicatorConfig(cfg)
	if ind.Lookback != 120 {
		t.Errorf("indicator lookback = %d", ind.Lookback)
	}
	if got := anomalyConfig(cfg, ind).PriceThreshold; got != 4 {
		t.Errorf("anomaly threshold = %v", got)
	}
	if got := alertConfig(cfg).PriceWarning; got != 2.5 {
		t.Errorf("alert price warning = %v", got)
	}
	if got := ForecastConfig(cfg).Horizon; got != 7 {
		t.Errorf("forecast horizon = %d", got)
	}
}
