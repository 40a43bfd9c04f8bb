package markethours

import (
	"fmt"
	"time"
)

// CST is China Standard Time (UTC+8, no DST).
var CST = time.FixedZone("CST", 8*3600)

// Session is one continuous trading block, in minutes after midnight CST.
// Open is inclusive, Close exclusive.
type Session struct {
	Open, Close int
}

// Sessions are the morning and afternoon blocks of the A-share market.
var Sessions = []Session{
	{Open: 9*60 + 30, Close: 11*60 + 30},
	{Open: 13 * 60, Close: 15 * 60},
}

// maxLookahead bounds the search for the next trading day (long holidays).
const maxLookahead = 20

// IsTradingTime reports whether t falls in a trading session on a trading day.
func (c *Calendar) IsTradingTime(t time.Time) bool {
	cst := t.In(CST)
	if !c.IsTradingDay(cst) {
		return false
	}
	hm := cst.Hour()*60 + cst.Minute()
	for _, s := range Sessions {
		if hm >= s.Open && hm < s.Close {
			return true
		}
	}
	return false
}

// NextOpen returns the next session open strictly after t.
// Before 09:30 on a trading day that is today's open; during the lunch
// break it is 13:00 today.
func (c *Calendar) NextOpen(t time.Time) time.Time {
	cst := t.In(CST)
	if c.IsTradingDay(cst) {
		for _, s := range Sessions {
			open := at(cst, s.Open)
			if cst.Before(open) {
				return open
			}
		}
	}
	d := cst
	for i := 0; i < maxLookahead; i++ {
		d = d.AddDate(0, 0, 1)
		if c.IsTradingDay(d) {
			return at(d, Sessions[0].Open)
		}
	}
	return at(cst.AddDate(0, 0, 1), Sessions[0].Open)
}

// TodayClose returns the close of the afternoon session on t's CST date.
func TodayClose(t time.Time) time.Time {
	return at(t.In(CST), Sessions[len(Sessions)-1].Close)
}

// TimeUntilClose returns the duration until today's close, or 0 after it.
func TimeUntilClose(t time.Time) time.Duration {
	d := TodayClose(t).Sub(t)
	if d < 0 {
		return 0
	}
	return d
}

// TimeUntilOpen returns the duration until the next session open.
func (c *Calendar) TimeUntilOpen(t time.Time) time.Duration {
	return c.NextOpen(t).Sub(t)
}

// StatusString returns a human-readable market status.
func (c *Calendar) StatusString(t time.Time) string {
	if c.IsTradingTime(t) {
		return fmt.Sprintf("Market Open, closes in %s", fmtDur(TimeUntilClose(t)))
	}
	next := c.NextOpen(t)
	cst := next.In(CST)
	return fmt.Sprintf("Market Closed, opens %s %s (%s)",
		cst.Weekday().String()[:3], cst.Format("15:04"), fmtDur(next.Sub(t)))
}

// Package-level helpers use the default exchange calendar.

// IsTradingTime reports whether t is inside a session on the default calendar.
func IsTradingTime(t time.Time) bool { return Default().IsTradingTime(t) }

// IsTradingDay reports whether t's CST date is a trading day.
func IsTradingDay(t time.Time) bool { return Default().IsTradingDay(t) }

// NextOpen returns the next session open on the default calendar.
func NextOpen(t time.Time) time.Time { return Default().NextOpen(t) }

// TimeUntilOpen returns the duration until the next session open.
func TimeUntilOpen(t time.Time) time.Duration { return Default().TimeUntilOpen(t) }

// StatusString returns a human-readable market status.
func StatusString(t time.Time) string { return Default().StatusString(t) }

func at(day time.Time, minutes int) time.Time {
	return time.Date(day.Year(), day.Month(), day.Day(), minutes/60, minutes%60, 0, 0, CST)
}

func fmtDur(d time.Duration) string {
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	if h > 0 {
		return fmt.Sprintf("%dh%dm", h, m)
	}
	return fmt.Sprintf("%dm", m)
}
