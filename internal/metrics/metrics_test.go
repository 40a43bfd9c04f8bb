package metrics

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

// value reads the current value of a single counter or gauge.
func value(t *testing.T, c prometheus.Collector) float64 {
	t.Helper()
	ch := make(chan prometheus.Metric, 1)
	c.Collect(ch)
	var pb dto.Metric
	if err := (<-ch).Write(&pb); err != nil {
		t.Fatalf("write metric: %v", err)
	}
	switch {
	case pb.Counter != nil:
		return pb.Counter.GetValue()
	case pb.Gauge != nil:
		return pb.Gauge.GetValue()
	}
	t.Fatal("not a counter or gauge")
	return 0
}

// ════════════════════════════════════════════════════════════════
//  Metrics
// ════════════════════════════════════════════════════════════════

func TestNewMetrics_CustomRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.CyclesTotal.Inc()
	m.AlertsTotal.WithLabelValues("CRITICAL", "VOLUME_SPIKE").Inc()
	m.ObserveError("history", "upstream")
	m.ObserveError("history", "upstream")

	if got := value(t, m.CyclesTotal); got != 1 {
		t.Errorf("cycles = %v, want 1", got)
	}
	if got := value(t, m.ErrorsTotal.WithLabelValues("history", "upstream")); got != 2 {
		t.Errorf("errors = %v, want 2", got)
	}

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	for _, f := range families {
		if !strings.HasPrefix(f.GetName(), "sentinel_") {
			t.Errorf("metric %s lacks namespace", f.GetName())
		}
	}
}

func TestNewMetrics_TwoRegistries(t *testing.T) {
	// Separate registries must not collide.
	NewMetrics(prometheus.NewRegistry())
	NewMetrics(prometheus.NewRegistry())
}

func TestObserveNotification(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())
	m.ObserveNotification("telegram", nil)
	m.ObserveNotification("telegram", errors.New("boom"))
	m.ObserveNotification("telegram", errors.New("boom"))

	if got := value(t, m.NotificationsTotal.WithLabelValues("telegram", "ok")); got != 1 {
		t.Errorf("ok = %v, want 1", got)
	}
	if got := value(t, m.NotificationsTotal.WithLabelValues("telegram", "error")); got != 2 {
		t.Errorf("error = %v, want 2", got)
	}
}

func TestSetBreakerState_CountsTrips(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())
	for _, s := range []int{1, 2, 0, 1, 2, 0} {
		m.SetBreakerState(s)
	}
	if got := value(t, m.RedisCircuitBreakerTrips); got != 2 {
		t.Errorf("trips = %v, want 2", got)
	}
	if got := value(t, m.RedisCircuitBreakerState); got != 0 {
		t.Errorf("state = %v, want 0", got)
	}
}

// ════════════════════════════════════════════════════════════════
//  Health
// ════════════════════════════════════════════════════════════════

func decodeHealth(t *testing.T, rec *httptest.ResponseRecorder) healthReport {
	t.Helper()
	var r healthReport
	if err := json.Unmarshal(rec.Body.Bytes(), &r); err != nil {
		t.Fatalf("decode: %v\n%s", err, rec.Body.String())
	}
	return r
}

func TestHealth_Statuses(t *testing.T) {
	ok := PingFunc(func(context.Context) error { return nil })
	down := PingFunc(func(context.Context) error { return errors.New("down") })

	tests := []struct {
		name       string
		redis      Pinger
		sqlite     Pinger
		wantStatus string
		wantCode   int
	}{
		{"all up", ok, ok, "healthy", http.StatusOK},
		{"redis down", down, ok, "degraded", http.StatusServiceUnavailable},
		{"sqlite down", ok, down, "degraded", http.StatusServiceUnavailable},
		{"both down", down, down, "unhealthy", http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHealthStatus()
			h.CheckRedis(context.Background(), tt.redis)
			h.CheckSQLite(context.Background(), tt.sqlite)

			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
			if rec.Code != tt.wantCode {
				t.Errorf("code = %d, want %d", rec.Code, tt.wantCode)
			}
			if got := decodeHealth(t, rec).Status; got != tt.wantStatus {
				t.Errorf("status = %s, want %s", got, tt.wantStatus)
			}
		})
	}
}

func TestHealth_StaleCycleDegrades(t *testing.T) {
	ok := PingFunc(func(context.Context) error { return nil })
	h := NewHealthStatus()
	h.StaleAfter = time.Minute
	h.CheckRedis(context.Background(), ok)
	h.CheckSQLite(context.Background(), ok)
	h.RecordCycle(time.Now().Add(-2*time.Minute), 5, 1, "CLOSED")

	r, code := h.report(time.Now())
	if r.Status != "degraded" || code != http.StatusServiceUnavailable {
		t.Errorf("stale cycle: status %s code %d", r.Status, code)
	}
	if r.Instruments != 5 || r.LastCycleErrors != 1 || r.MarketStatus != "CLOSED" {
		t.Errorf("report = %+v", r)
	}

	h.RecordCycle(time.Now(), 5, 0, "OPEN")
	if r, _ := h.report(time.Now()); r.Status != "healthy" {
		t.Errorf("fresh cycle: status %s", r.Status)
	}
}

func TestServer_Routes(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	m.CyclesTotal.Inc()

	h := NewHealthStatus()
	s := NewServer(":0", h, reg)
	s.Handle("/extra", http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if !strings.Contains(rec.Body.String(), "sentinel_cycles_total 1") {
		t.Errorf("/metrics missing counter:\n%s", rec.Body.String())
	}

	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Header().Get("Content-Type") != "application/json" {
		t.Errorf("healthz content type = %s", rec.Header().Get("Content-Type"))
	}

	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/extra", nil))
	if rec.Code != http.StatusTeapot {
		t.Errorf("/extra code = %d", rec.Code)
	}
}
