package metrics

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"
)

// Pinger is a dependency that can be pinged for liveness.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingFunc adapts a function to Pinger.
type PingFunc func(ctx context.Context) error

func (f PingFunc) Ping(ctx context.Context) error { return f(ctx) }

// HealthStatus represents the system health.
type HealthStatus struct {
	mu sync.RWMutex

	RedisConnected bool
	SQLiteOK       bool
	LastCycleAt    time.Time
	LastCycleErrs  int
	Instruments    int
	MarketStatus   string

	// Liveness check results
	RedisLatencyMs  float64
	SQLiteLatencyMs float64
	LastCheckAt     time.Time
	StartedAt       time.Time

	// StaleAfter marks the service degraded when no cycle completed for
	// this long (0 disables the check).
	StaleAfter time.Duration
}

// NewHealthStatus returns a default health status.
func NewHealthStatus() *HealthStatus {
	return &HealthStatus{
		StartedAt: time.Now(),
	}
}

// RecordCycle notes a completed cycle.
func (h *HealthStatus) RecordCycle(at time.Time, instruments, errs int, marketStatus string) {
	h.mu.Lock()
	h.LastCycleAt = at
	h.Instruments = instruments
	h.LastCycleErrs = errs
	h.MarketStatus = marketStatus
	h.mu.Unlock()
}

// CheckRedis pings Redis and records latency + connectivity.
func (h *HealthStatus) CheckRedis(ctx context.Context, p Pinger) {
	start := time.Now()
	err := p.Ping(ctx)
	latency := time.Since(start)

	h.mu.Lock()
	h.RedisConnected = err == nil
	h.RedisLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// CheckSQLite pings the database and records latency + health.
func (h *HealthStatus) CheckSQLite(ctx context.Context, p Pinger) {
	start := time.Now()
	err := p.Ping(ctx)
	latency := time.Since(start)

	h.mu.Lock()
	h.SQLiteOK = err == nil
	h.SQLiteLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// StartLivenessChecker runs periodic dependency checks. Either pinger may
// be nil.
func (h *HealthStatus) StartLivenessChecker(ctx context.Context, redis, sqlite Pinger, interval time.Duration) {
	check := func() {
		checkCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		defer cancel()
		if redis != nil {
			h.CheckRedis(checkCtx, redis)
		}
		if sqlite != nil {
			h.CheckSQLite(checkCtx, sqlite)
		}
	}
	go func() {
		check()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				check()
			}
		}
	}()
}

type healthReport struct {
	Status          string  `json:"status"`
	Uptime          string  `json:"uptime"`
	RedisConnected  bool    `json:"redis_connected"`
	RedisLatencyMs  float64 `json:"redis_latency_ms"`
	SQLiteOK        bool    `json:"sqlite_ok"`
	SQLiteLatencyMs float64 `json:"sqlite_latency_ms"`
	LastCycleAt     string  `json:"last_cycle_at,omitempty"`
	CycleAge        string  `json:"cycle_age,omitempty"`
	LastCycleErrors int     `json:"last_cycle_errors"`
	Instruments     int     `json:"instruments"`
	MarketStatus    string  `json:"market_status,omitempty"`
	LastCheckAt     string  `json:"last_check_at,omitempty"`
}

func (h *HealthStatus) report(now time.Time) (healthReport, int) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	status, code := "healthy", http.StatusOK
	stale := h.StaleAfter > 0 && !h.LastCycleAt.IsZero() && now.Sub(h.LastCycleAt) > h.StaleAfter
	if !h.RedisConnected || !h.SQLiteOK || stale {
		status, code = "degraded", http.StatusServiceUnavailable
	}
	if !h.RedisConnected && !h.SQLiteOK {
		status = "unhealthy"
	}

	r := healthReport{
		Status:          status,
		Uptime:          now.Sub(h.StartedAt).Round(time.Second).String(),
		RedisConnected:  h.RedisConnected,
		RedisLatencyMs:  h.RedisLatencyMs,
		SQLiteOK:        h.SQLiteOK,
		SQLiteLatencyMs: h.SQLiteLatencyMs,
		LastCycleErrors: h.LastCycleErrs,
		Instruments:     h.Instruments,
		MarketStatus:    h.MarketStatus,
	}
	if !h.LastCycleAt.IsZero() {
		r.LastCycleAt = h.LastCycleAt.Format(time.RFC3339)
		r.CycleAge = now.Sub(h.LastCycleAt).Round(time.Millisecond).String()
	}
	if !h.LastCheckAt.IsZero() {
		r.LastCheckAt = h.LastCheckAt.Format(time.RFC3339)
	}
	return r, code
}

// ServeHTTP handles the /healthz endpoint.
func (h *HealthStatus) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	report, code := h.report(time.Now())
	w.Header().Set("Content-Type", "application/json")
	if code != http.StatusOK {
		w.WriteHeader(code)
	}
	json.NewEncoder(w).Encode(report)
}
