package markethours

import (
	"log"
	"sync"
	"time"

	"github.com/scmhub/calendar"
)

// ExchangeMIC is the Shanghai Stock Exchange calendar id.
const ExchangeMIC = "xshg"

// Calendar decides trading days. With no exchange calendar loaded it
// falls back to Monday to Friday.
type Calendar struct {
	cal *calendar.Calendar
}

// Fallback reports whether the weekday fallback is in use.
func (c *Calendar) Fallback() bool { return c == nil || c.cal == nil }

// LoadCalendar loads the exchange calendar for mic.
func LoadCalendar(mic string) *Calendar {
	cal := calendar.GetCalendar(mic)
	if cal == nil {
		log.Printf("[markethours] WARNING: no calendar for MIC %q, using Mon-Fri fallback", mic)
	}
	return &Calendar{cal: cal}
}

// WeekdayCalendar returns a calendar that only skips weekends.
func WeekdayCalendar() *Calendar { return &Calendar{} }

// IsTradingDay reports whether the CST date of t is a business day.
func (c *Calendar) IsTradingDay(t time.Time) bool {
	d := t.In(CST)
	if wd := d.Weekday(); wd == time.Saturday || wd == time.Sunday {
		return false
	}
	if c.Fallback() {
		return true
	}
	// The exchange calendar works on its own midnight.
	loc := c.cal.Loc
	if loc == nil {
		loc = CST
	}
	day := time.Date(d.Year(), d.Month(), d.Day(), 12, 0, 0, 0, loc)
	return c.cal.IsBusinessDay(day)
}

// IsHoliday reports whether t falls on a weekday the exchange is closed.
func (c *Calendar) IsHoliday(t time.Time) bool {
	d := t.In(CST)
	wd := d.Weekday()
	return wd != time.Saturday && wd != time.Sunday && !c.IsTradingDay(d)
}

var (
	defaultOnce sync.Once
	defaultCal  *Calendar
)

// Default returns the process-wide exchange calendar, loaded once.
func Default() *Calendar {
	defaultOnce.Do(func() { defaultCal = LoadCalendar(ExchangeMIC) })
	return defaultCal
}
