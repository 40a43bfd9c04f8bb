package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"stock-sentinel/internal/model"

	_ "github.com/mattn/go-sqlite3"
)

const (
	dsnOptions    = "?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000"
	keepSnapshots = 10
)

// WriterConfig configures the SQLite writer.
type WriterConfig struct {
	DBPath string // path to SQLite database file, e.g. "data/sentinel.db"
}

// Writer is the persistence sink. Every write is an upsert keyed on the
// record's natural key, so re-running a cycle leaves the tables unchanged.
// It implements model.Sink and indicator.SnapshotStore.
type Writer struct {
	db *sql.DB
}

// DB returns the underlying sql.DB for health checks.
func (w *Writer) DB() *sql.DB { return w.db }

// New opens the database with WAL mode and bootstraps the schema.
func New(cfg WriterConfig) (*Writer, error) {
	if dir := filepath.Dir(cfg.DBPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("sqlite mkdir: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", cfg.DBPath+dsnOptions)
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}

	// Set connection pool for single-writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}

	log.Printf("[sqlite] opened database at %s", cfg.DBPath)
	return &Writer{db: db}, nil
}

// batch runs query once per row inside a single transaction.
func (w *Writer) batch(ctx context.Context, op, query string, n int, args func(i int) []any) error {
	if n == 0 {
		return nil
	}
	start := time.Now()
	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return model.Upstream("sqlite "+op, err)
	}

	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		tx.Rollback()
		return model.Upstream("sqlite "+op, err)
	}
	defer stmt.Close()

	for i := 0; i < n; i++ {
		if _, err := stmt.ExecContext(ctx, args(i)...); err != nil {
			tx.Rollback()
			return model.Upstream("sqlite "+op, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return model.Upstream("sqlite "+op, err)
	}
	if d := time.Since(start); d > 250*time.Millisecond {
		log.Printf("[sqlite] slow %s: %d rows in %v", op, n, d)
	}
	return nil
}

// UpsertSamples stores intraday ticks.
func (w *Writer) UpsertSamples(ctx context.Context, code string, samples []model.PriceSample) error {
	return w.batch(ctx, "samples", `
		INSERT INTO price_samples (code, ts, open, high, low, price, volume, amount, prev_close)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (code, ts) DO UPDATE SET
			open = excluded.open, high = excluded.high, low = excluded.low,
			price = excluded.price, volume = excluded.volume,
			amount = excluded.amount, prev_close = excluded.prev_close
	`, len(samples), func(i int) []any {
		s := samples[i]
		return []any{code, s.Time.UnixNano(), s.Open, s.High, s.Low, s.Price, s.Volume, s.Amount, s.PrevClose}
	})
}

// UpsertDailyBars stores daily bars; Price is the close.
func (w *Writer) UpsertDailyBars(ctx context.Context, code string, bars []model.PriceSample) error {
	return w.batch(ctx, "daily bars", `
		INSERT INTO daily_bars (code, day, open, high, low, close, volume, amount)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (code, day) DO UPDATE SET
			open = excluded.open, high = excluded.high, low = excluded.low,
			close = excluded.close, volume = excluded.volume, amount = excluded.amount
	`, len(bars), func(i int) []any {
		b := bars[i]
		return []any{code, dayString(b.Time), b.Open, b.High, b.Low, b.Price, b.Volume, b.Amount}
	})
}

// UpsertFundamentals stores the fundamentals observed on day.
func (w *Writer) UpsertFundamentals(ctx context.Context, code string, day time.Time, fd model.Fundamentals) error {
	return w.batch(ctx, "fundamentals", `
		INSERT INTO fundamentals (code, day, pe, pb, dividend_yield, change_pct, amplitude, turnover)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (code, day) DO UPDATE SET
			pe = excluded.pe, pb = excluded.pb, dividend_yield = excluded.dividend_yield,
			change_pct = excluded.change_pct, amplitude = excluded.amplitude,
			turnover = excluded.turnover
	`, 1, func(int) []any {
		return []any{code, dayString(day), fd.PE.Ptr(), fd.PB.Ptr(), fd.DividendYield.Ptr(),
			fd.ChangePct.Ptr(), fd.Amplitude.Ptr(), fd.Turnover.Ptr()}
	})
}

// UpsertIndicators stores indicator snapshots; undefined values are NULL.
func (w *Writer) UpsertIndicators(ctx context.Context, snaps []model.IndicatorSnapshot) error {
	return w.batch(ctx, "indicators", `
		INSERT INTO indicators (code, ts, price, short_ema, long_ema, macd, signal, hist,
			rsi, ma5, ma10, ma20, upper_band, middle_band, lower_band, mode)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (code, ts) DO UPDATE SET
			price = excluded.price, short_ema = excluded.short_ema, long_ema = excluded.long_ema,
			macd = excluded.macd, signal = excluded.signal, hist = excluded.hist,
			rsi = excluded.rsi, ma5 = excluded.ma5, ma10 = excluded.ma10, ma20 = excluded.ma20,
			upper_band = excluded.upper_band, middle_band = excluded.middle_band,
			lower_band = excluded.lower_band, mode = excluded.mode
	`, len(snaps), func(i int) []any {
		s := snaps[i]
		return []any{s.Instrument, s.Time.UnixNano(), s.Price, s.ShortEMA, s.LongEMA, s.MACD, s.Signal, s.Hist,
			s.RSI.Ptr(), s.MA5.Ptr(), s.MA10.Ptr(), s.MA20.Ptr(),
			s.UpperBand.Ptr(), s.MiddleBand.Ptr(), s.LowerBand.Ptr(), s.Mode}
	})
}

// UpsertAnomalies stores flagged moves keyed by (code, time, type).
func (w *Writer) UpsertAnomalies(ctx context.Context, events []model.AnomalyEvent) error {
	return w.batch(ctx, "anomalies", `
		INSERT INTO anomalies (code, name, ts, type, price, change_pct, volume_spike)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (code, ts, type) DO UPDATE SET
			name = excluded.name, price = excluded.price,
			change_pct = excluded.change_pct, volume_spike = excluded.volume_spike
	`, len(events), func(i int) []any {
		e := events[i]
		return []any{e.Instrument.Code, e.Instrument.Name, e.Time.UnixNano(), string(e.Type), e.Price, e.ChangePct, e.VolumeSpike}
	})
}

// UpsertCorrelations stores anomaly/news links keyed by
// (code, anomaly time, news hash).
func (w *Writer) UpsertCorrelations(ctx context.Context, recs []model.CorrelationRecord) error {
	return w.batch(ctx, "correlations", `
		INSERT INTO correlations (code, anomaly_ts, anomaly_type, change_pct, volume_spike,
			news_ts, news_hash, news_title, sentiment, score, time_delta, class, rationale)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (code, anomaly_ts, news_hash) DO UPDATE SET
			anomaly_type = excluded.anomaly_type, change_pct = excluded.change_pct,
			volume_spike = excluded.volume_spike, news_ts = excluded.news_ts,
			news_title = excluded.news_title, sentiment = excluded.sentiment,
			score = excluded.score, time_delta = excluded.time_delta,
			class = excluded.class, rationale = excluded.rationale
	`, len(recs), func(i int) []any {
		r := recs[i]
		return []any{r.Instrument.Code, r.AnomalyTime.UnixNano(), string(r.AnomalyType), r.ChangePct, r.VolumeSpike,
			r.NewsTime.UnixNano(), r.NewsHash, r.NewsTitle, r.Sentiment, r.Score,
			int64(r.TimeDelta), string(r.Class), r.Rationale}
	})
}

// UpsertForecasts stores forecast points; re-issuing overwrites.
func (w *Writer) UpsertForecasts(ctx context.Context, recs []model.ForecastRecord) error {
	return w.batch(ctx, "forecasts", `
		INSERT INTO forecasts (code, issue_date, target_date, predicted, lower_bound, upper_bound, std, model_version)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (code, issue_date, target_date) DO UPDATE SET
			predicted = excluded.predicted, lower_bound = excluded.lower_bound,
			upper_bound = excluded.upper_bound, std = excluded.std,
			model_version = excluded.model_version
	`, len(recs), func(i int) []any {
		r := recs[i]
		return []any{r.Instrument.Code, dayString(r.IssueDate), dayString(r.TargetDate),
			r.Predicted, r.Lower, r.Upper, r.Std, r.ModelVersion}
	})
}

// InsertAlerts appends alerts. Re-inserting a natural key refreshes the
// payload but keeps the stored ID and the read/handled flags.
func (w *Writer) InsertAlerts(ctx context.Context, alerts []model.Alert) error {
	return w.batch(ctx, "alerts", `
		INSERT INTO alerts (id, code, name, ts, type, severity, message, details, is_read, is_handled)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (code, ts, type) DO UPDATE SET
			name = excluded.name, severity = excluded.severity,
			message = excluded.message, details = excluded.details
	`, len(alerts), func(i int) []any {
		a := alerts[i]
		id := a.ID
		if id == "" {
			id = a.Key()
		}
		details, _ := json.Marshal(a.Details)
		return []any{id, a.Instrument.Code, a.Instrument.Name, a.Time.UnixNano(), a.Type, string(a.Severity),
			a.Message, string(details), boolInt(a.Read), boolInt(a.Handled)}
	})
}

// MarkAlert sets the read/handled flags of the alert with id. Flags only
// ever move from false to true.
func (w *Writer) MarkAlert(ctx context.Context, id string, read, handled bool) (bool, error) {
	res, err := w.db.ExecContext(ctx, `
		UPDATE alerts SET is_read = MAX(is_read, ?), is_handled = MAX(is_handled, ?)
		WHERE id = ?
	`, boolInt(read || handled), boolInt(handled), id)
	if err != nil {
		return false, model.Upstream("sqlite mark alert", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// UpsertDecision stores the decision and, when it recommends buying,
// records a pending buy signal. An existing signal keeps its status.
func (w *Writer) UpsertDecision(ctx context.Context, d model.DecisionResult) error {
	reasons, _ := json.Marshal(d.Reasons)
	sub := func(s *model.SubScore) any {
		if s == nil {
			return nil
		}
		b, _ := json.Marshal(s)
		return string(b)
	}

	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return model.Upstream("sqlite decision", err)
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO decisions (code, ts, score, can_buy, reasons, realtime, daily, fundamental)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (code, ts) DO UPDATE SET
			score = excluded.score, can_buy = excluded.can_buy, reasons = excluded.reasons,
			realtime = excluded.realtime, daily = excluded.daily, fundamental = excluded.fundamental
	`, d.Instrument.Code, d.Time.UnixNano(), d.Score, boolInt(d.CanBuy), string(reasons),
		sub(d.Realtime), sub(d.Daily), sub(d.Fundamental))
	if err == nil && d.CanBuy {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO buy_signals (code, name, ts, score, reasons)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT (code, ts) DO UPDATE SET score = excluded.score, reasons = excluded.reasons
		`, d.Instrument.Code, d.Instrument.Name, d.Time.UnixNano(), d.Score, string(reasons))
	}
	if err != nil {
		tx.Rollback()
		return model.Upstream("sqlite decision", err)
	}
	if err := tx.Commit(); err != nil {
		return model.Upstream("sqlite decision", err)
	}
	return nil
}

// SaveEngineSnapshot stores an encoded indicator engine checkpoint and
// prunes all but the most recent ones.
func (w *Writer) SaveEngineSnapshot(ctx context.Context, data []byte) error {
	_, err := w.db.ExecContext(ctx, `INSERT INTO engine_snapshots (data, created_at) VALUES (?, ?)`,
		data, time.Now().UnixNano())
	if err != nil {
		return fmt.Errorf("sqlite insert snapshot: %w", err)
	}

	_, err = w.db.ExecContext(ctx, `DELETE FROM engine_snapshots WHERE id NOT IN
		(SELECT id FROM engine_snapshots ORDER BY id DESC LIMIT ?)`, keepSnapshots)
	if err != nil {
		log.Printf("[sqlite] prune snapshots warning: %v", err)
	}
	return nil
}

// LoadEngineSnapshot returns the most recent checkpoint, or nil when none.
func (w *Writer) LoadEngineSnapshot(ctx context.Context) ([]byte, error) {
	var data []byte
	err := w.db.QueryRowContext(ctx, `SELECT data FROM engine_snapshots ORDER BY id DESC LIMIT 1`).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite read snapshot: %w", err)
	}
	return data, nil
}

// Close closes the database.
func (w *Writer) Close() error {
	return w.db.Close()
}
