package redis

import "time"

// Key layout shared with the collectors and the dashboard.
//
//	ticks:{code}               stream, field "data" = PriceSample JSON
//	sentiment:events           zset, score = unix seconds, member = SentimentEvent JSON
//	stock:alerts:realtime      list of Alert JSON, newest first
//	pub:alerts                 channel, one message per pushed alert
//	decision:{code}            latest DecisionResult JSON
//	fund:latest:{code}         latest Fundamentals JSON from the quote collector
//	ind:latest:{code}          latest IndicatorSnapshot JSON
//	pub:ind:{code}             channel, one message per indicator update
//	snapshot:indicator_engine  indicator engine checkpoint
const (
	tickStreamPrefix    = "ticks:"
	sentimentKey        = "sentiment:events"
	alertFeedKey        = "stock:alerts:realtime"
	alertChannel        = "pub:alerts"
	decisionPrefix      = "decision:"
	fundamentalsPrefix  = "fund:latest:"
	indicatorPrefix     = "ind:latest:"
	indicatorChanPrefix = "pub:ind:"
	engineSnapshotKey   = "snapshot:indicator_engine"
)

const (
	defaultFeedSize     = 100
	defaultIndicatorTTL = 30 * time.Minute
	fundamentalsTTL     = 48 * time.Hour
	snapshotTTL         = 24 * time.Hour // SQLite keeps the durable copy
	tickStreamMaxLen    = 20000
)

// TickStream returns the stream key holding code's ticks.
func TickStream(code string) string { return tickStreamPrefix + code }

// AlertChannel is the PubSub channel carrying pushed alerts.
func AlertChannel() string { return alertChannel }
