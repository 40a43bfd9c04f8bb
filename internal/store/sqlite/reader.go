package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"stock-sentinel/internal/model"

	_ "github.com/mattn/go-sqlite3"
)

// Reader provides read-only access for daily bars, fundamentals, forecasts
// and sentiment aggregates.
// It implements model.DailySource, model.FundamentalsSource,
// model.ForecastSource and model.SentimentAggregateSource.
type Reader struct {
	db *sql.DB
}

// NewReader opens a SQLite connection for reading. The schema is created
// by the Writer; open the Writer first on a fresh database.
func NewReader(dbPath string) (*Reader, error) {
	db, err := sql.Open("sqlite3", dbPath+dsnOptions)
	if err != nil {
		return nil, fmt.Errorf("sqlite open reader: %w", err)
	}
	db.SetMaxOpenConns(2)
	db.SetMaxIdleConns(2)

	log.Printf("[sqlite-reader] opened %s", dbPath)
	return &Reader{db: db}, nil
}

// DailyBars returns the latest limit daily bars, oldest first. Bar times
// are midnight exchange time of the trading day.
func (r *Reader) DailyBars(ctx context.Context, code string, limit int) ([]model.PriceSample, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT day, open, high, low, close, volume, amount FROM (
			SELECT day, open, high, low, close, volume, amount
			FROM daily_bars WHERE code = ?
			ORDER BY day DESC LIMIT ?
		) ORDER BY day ASC
	`, code, limit)
	if err != nil {
		return nil, model.Upstream("sqlite query daily_bars", err)
	}
	defer rows.Close()

	var bars []model.PriceSample
	for rows.Next() {
		var (
			day                            string
			open, high, low, volume, amount sql.NullFloat64
			b                              model.PriceSample
		)
		if err := rows.Scan(&day, &open, &high, &low, &b.Price, &volume, &amount); err != nil {
			return nil, fmt.Errorf("sqlite scan daily_bars: %w", err)
		}
		if b.Time, err = parseDay(day); err != nil {
			log.Printf("[sqlite-reader] %s: bad day %q: %v", code, day, err)
			continue
		}
		b.Open, b.High, b.Low = open.Float64, high.Float64, low.Float64
		b.Volume, b.Amount = volume.Float64, amount.Float64
		bars = append(bars, b)
	}
	if err := rows.Err(); err != nil {
		return nil, model.Upstream("sqlite read daily_bars", err)
	}
	return bars, nil
}

// LatestFundamentals returns the most recent fundamentals row, or nil.
func (r *Reader) LatestFundamentals(ctx context.Context, code string) (*model.Fundamentals, error) {
	var pe, pb, dy, chg, amp, turn sql.NullFloat64
	err := r.db.QueryRowContext(ctx, `
		SELECT pe, pb, dividend_yield, change_pct, amplitude, turnover
		FROM fundamentals WHERE code = ?
		ORDER BY day DESC LIMIT 1
	`, code).Scan(&pe, &pb, &dy, &chg, &amp, &turn)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, model.Upstream("sqlite read fundamentals", err)
	}
	return &model.Fundamentals{
		PE:            optional(pe),
		PB:            optional(pb),
		DividendYield: optional(dy),
		ChangePct:     optional(chg),
		Amplitude:     optional(amp),
		Turnover:      optional(turn),
	}, nil
}

// LatestForecast returns the most recently issued forecast targeting day,
// or nil when none covers it.
func (r *Reader) LatestForecast(ctx context.Context, code string, day time.Time) (*model.ForecastRecord, error) {
	var (
		issue, target string
		rec           model.ForecastRecord
		version       sql.NullString
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT issue_date, target_date, predicted, lower_bound, upper_bound, std, model_version
		FROM forecasts WHERE code = ? AND target_date = ?
		ORDER BY issue_date DESC LIMIT 1
	`, code, dayString(day)).Scan(&issue, &target, &rec.Predicted, &rec.Lower, &rec.Upper, &rec.Std, &version)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, model.Upstream("sqlite read forecasts", err)
	}
	rec.Instrument = model.Instrument{Code: code}
	rec.ModelVersion = version.String
	if rec.IssueDate, err = parseDay(issue); err != nil {
		return nil, fmt.Errorf("sqlite forecast issue date %q: %w", issue, err)
	}
	if rec.TargetDate, err = parseDay(target); err != nil {
		return nil, fmt.Errorf("sqlite forecast target date %q: %w", target, err)
	}
	return &rec, nil
}

// DailySentiment aggregates stored correlations per exchange-time day of
// the news, oldest first.
func (r *Reader) DailySentiment(ctx context.Context, code string, since time.Time) ([]model.SentimentDay, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT date(news_ts / 1000000000, 'unixepoch', '+8 hours') AS day,
		       AVG(sentiment), COUNT(DISTINCT news_hash), AVG(score)
		FROM correlations
		WHERE code = ? AND news_ts >= ?
		GROUP BY day ORDER BY day ASC
	`, code, since.UnixNano())
	if err != nil {
		return nil, model.Upstream("sqlite query correlations", err)
	}
	defer rows.Close()

	var out []model.SentimentDay
	for rows.Next() {
		var (
			day string
			d   model.SentimentDay
		)
		if err := rows.Scan(&day, &d.AvgSentiment, &d.NewsCount, &d.AvgCorrelation); err != nil {
			return nil, fmt.Errorf("sqlite scan correlations: %w", err)
		}
		if d.Date, err = parseDay(day); err != nil {
			continue
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, model.Upstream("sqlite read correlations", err)
	}
	return out, nil
}

// RecentAlerts returns up to limit stored alerts, newest first.
func (r *Reader) RecentAlerts(ctx context.Context, limit int) ([]model.Alert, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, code, name, ts, type, severity, message, details, is_read, is_handled
		FROM alerts ORDER BY ts DESC, type ASC LIMIT ?
	`, limit)
	if err != nil {
		return nil, model.Upstream("sqlite query alerts", err)
	}
	defer rows.Close()

	var out []model.Alert
	for rows.Next() {
		var (
			a             model.Alert
			name, msg     sql.NullString
			details       sql.NullString
			ts            int64
			severity      string
			read, handled int
		)
		if err := rows.Scan(&a.ID, &a.Instrument.Code, &name, &ts, &a.Type, &severity, &msg, &details, &read, &handled); err != nil {
			return nil, fmt.Errorf("sqlite scan alerts: %w", err)
		}
		a.Instrument.Name = name.String
		a.Time = fromNanos(ts)
		a.Severity = model.Severity(severity)
		a.Message = msg.String
		a.Read, a.Handled = read != 0, handled != 0
		if details.Valid && details.String != "" && details.String != "null" {
			if err := json.Unmarshal([]byte(details.String), &a.Details); err != nil {
				log.Printf("[sqlite-reader] alert %s: bad details: %v", a.ID, err)
			}
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, model.Upstream("sqlite read alerts", err)
	}
	return out, nil
}

// BuySignal is a recorded buy recommendation awaiting review.
type BuySignal struct {
	ID         int64            `json:"id"`
	Instrument model.Instrument `json:"instrument"`
	Time       time.Time        `json:"time"`
	Score      float64          `json:"score"`
	Reasons    []string         `json:"reasons"`
	Status     string           `json:"status"`
}

// PendingBuySignals returns buy signals still in status pending, newest first.
func (r *Reader) PendingBuySignals(ctx context.Context, limit int) ([]BuySignal, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, code, name, ts, score, reasons, status
		FROM buy_signals WHERE status = 'pending'
		ORDER BY ts DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, model.Upstream("sqlite query buy_signals", err)
	}
	defer rows.Close()

	var out []BuySignal
	for rows.Next() {
		var (
			s       BuySignal
			name    sql.NullString
			reasons sql.NullString
			ts      int64
		)
		if err := rows.Scan(&s.ID, &s.Instrument.Code, &name, &ts, &s.Score, &reasons, &s.Status); err != nil {
			return nil, fmt.Errorf("sqlite scan buy_signals: %w", err)
		}
		s.Instrument.Name = name.String
		s.Time = fromNanos(ts)
		if reasons.Valid {
			json.Unmarshal([]byte(reasons.String), &s.Reasons)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// Close closes the reader.
func (r *Reader) Close() error {
	return r.db.Close()
}
