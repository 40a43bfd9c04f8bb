package model

import (
	"context"
	"time"
)

// ── Collaborator Port Interfaces ──
// These interfaces decouple the analysis core from concrete stores
// (Redis, SQLite) and notification backends.

// HistorySource returns recent intraday samples for an instrument.
// Either order is accepted; callers normalize.
type HistorySource interface {
	RecentSamples(ctx context.Context, code string, limit int) ([]PriceSample, error)
}

// DailySource returns daily bars (Price = close) for an instrument.
type DailySource interface {
	DailyBars(ctx context.Context, code string, limit int) ([]PriceSample, error)
}

// SentimentSource returns scored news events inside [from, to].
type SentimentSource interface {
	EventsInWindow(ctx context.Context, from, to time.Time) ([]SentimentEvent, error)
}

// SentimentAggregateSource returns per-day sentiment aggregates derived
// from stored correlation records, oldest first.
type SentimentAggregateSource interface {
	DailySentiment(ctx context.Context, code string, since time.Time) ([]SentimentDay, error)
}

// FundamentalsSource returns the latest fundamentals, or nil when absent.
type FundamentalsSource interface {
	LatestFundamentals(ctx context.Context, code string) (*Fundamentals, error)
}

// ForecastSource returns the latest forecast covering the given day, or nil.
type ForecastSource interface {
	LatestForecast(ctx context.Context, code string, day time.Time) (*ForecastRecord, error)
}

// Sink persists analysis output with upsert-by-natural-key semantics.
type Sink interface {
	UpsertSamples(ctx context.Context, code string, samples []PriceSample) error
	UpsertIndicators(ctx context.Context, snaps []IndicatorSnapshot) error
	UpsertAnomalies(ctx context.Context, events []AnomalyEvent) error
	UpsertCorrelations(ctx context.Context, recs []CorrelationRecord) error
	UpsertForecasts(ctx context.Context, recs []ForecastRecord) error
	// InsertAlerts appends alerts; an existing natural key keeps its flags.
	InsertAlerts(ctx context.Context, alerts []Alert) error
	UpsertDecision(ctx context.Context, d DecisionResult) error
}

// AlertFeed is the bounded latest-N live alert read model.
type AlertFeed interface {
	PushAlert(ctx context.Context, a Alert) error
	LatestAlerts(ctx context.Context, n int) ([]Alert, error)
}

// Notifier delivers an alert to an external channel.
type Notifier interface {
	Send(ctx context.Context, a Alert) error
}
