package sqlite

import (
	"database/sql"
	"time"

	"stock-sentinel/internal/markethours"
	"stock-sentinel/internal/model"
)

// Timestamps are stored as unix nanoseconds so alert natural keys survive a
// round trip. Calendar days are stored as YYYY-MM-DD in exchange time.
const dayLayout = "2006-01-02"

func createSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS price_samples (
			code       TEXT    NOT NULL,
			ts         INTEGER NOT NULL,
			open       REAL,
			high       REAL,
			low        REAL,
			price      REAL    NOT NULL,
			volume     REAL,
			amount     REAL,
			prev_close REAL,
			PRIMARY KEY (code, ts)
		);

		CREATE TABLE IF NOT EXISTS daily_bars (
			code   TEXT NOT NULL,
			day    TEXT NOT NULL,
			open   REAL,
			high   REAL,
			low    REAL,
			close  REAL NOT NULL,
			volume REAL,
			amount REAL,
			PRIMARY KEY (code, day)
		);

		CREATE TABLE IF NOT EXISTS fundamentals (
			code           TEXT NOT NULL,
			day            TEXT NOT NULL,
			pe             REAL,
			pb             REAL,
			dividend_yield REAL,
			change_pct     REAL,
			amplitude      REAL,
			turnover       REAL,
			PRIMARY KEY (code, day)
		);

		CREATE TABLE IF NOT EXISTS indicators (
			code        TEXT    NOT NULL,
			ts          INTEGER NOT NULL,
			price       REAL    NOT NULL,
			short_ema   REAL,
			long_ema    REAL,
			macd        REAL,
			signal      REAL,
			hist        REAL,
			rsi         REAL,
			ma5         REAL,
			ma10        REAL,
			ma20        REAL,
			upper_band  REAL,
			middle_band REAL,
			lower_band  REAL,
			mode        TEXT,
			PRIMARY KEY (code, ts)
		);

		CREATE TABLE IF NOT EXISTS anomalies (
			code         TEXT    NOT NULL,
			name         TEXT,
			ts           INTEGER NOT NULL,
			type         TEXT    NOT NULL,
			price        REAL,
			change_pct   REAL,
			volume_spike REAL,
			PRIMARY KEY (code, ts, type)
		);

		CREATE TABLE IF NOT EXISTS correlations (
			code         TEXT    NOT NULL,
			anomaly_ts   INTEGER NOT NULL,
			anomaly_type TEXT    NOT NULL,
			change_pct   REAL,
			volume_spike REAL,
			news_ts      INTEGER NOT NULL,
			news_hash    TEXT    NOT NULL,
			news_title   TEXT,
			sentiment    REAL,
			score        REAL    NOT NULL,
			time_delta   INTEGER,
			class        TEXT,
			rationale    TEXT,
			PRIMARY KEY (code, anomaly_ts, news_hash)
		);

		CREATE TABLE IF NOT EXISTS forecasts (
			code          TEXT NOT NULL,
			issue_date    TEXT NOT NULL,
			target_date   TEXT NOT NULL,
			predicted     REAL NOT NULL,
			lower_bound   REAL,
			upper_bound   REAL,
			std           REAL,
			model_version TEXT,
			PRIMARY KEY (code, issue_date, target_date)
		);

		CREATE TABLE IF NOT EXISTS alerts (
			id         TEXT    NOT NULL,
			code       TEXT    NOT NULL,
			name       TEXT,
			ts         INTEGER NOT NULL,
			type       TEXT    NOT NULL,
			severity   TEXT    NOT NULL,
			message    TEXT,
			details    TEXT,
			is_read    INTEGER NOT NULL DEFAULT 0,
			is_handled INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY (code, ts, type)
		);
		CREATE UNIQUE INDEX IF NOT EXISTS idx_alerts_id ON alerts (id);

		CREATE TABLE IF NOT EXISTS decisions (
			code        TEXT    NOT NULL,
			ts          INTEGER NOT NULL,
			score       REAL    NOT NULL,
			can_buy     INTEGER NOT NULL,
			reasons     TEXT,
			realtime    TEXT,
			daily       TEXT,
			fundamental TEXT,
			PRIMARY KEY (code, ts)
		);

		CREATE TABLE IF NOT EXISTS buy_signals (
			id      INTEGER PRIMARY KEY AUTOINCREMENT,
			code    TEXT    NOT NULL,
			name    TEXT,
			ts      INTEGER NOT NULL,
			score   REAL    NOT NULL,
			reasons TEXT,
			status  TEXT    NOT NULL DEFAULT 'pending',
			UNIQUE (code, ts)
		);

		CREATE TABLE IF NOT EXISTS engine_snapshots (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			data       BLOB    NOT NULL,
			created_at INTEGER NOT NULL
		);
	`)
	return err
}

func dayString(t time.Time) string {
	return t.In(markethours.CST).Format(dayLayout)
}

func parseDay(s string) (time.Time, error) {
	return time.ParseInLocation(dayLayout, s, markethours.CST)
}

func fromNanos(ns int64) time.Time {
	return time.Unix(0, ns).In(markethours.CST)
}

func optional(n sql.NullFloat64) model.Optional {
	if !n.Valid {
		return model.Optional{}
	}
	return model.Some(n.Float64)
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
