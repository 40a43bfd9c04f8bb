package markethours

import "time"

// Scheduler picks the next analysis cycle time. Next is pure.
type Scheduler struct {
	TradingInterval time.Duration
	IdleInterval    time.Duration
	Calendar        *Calendar // nil uses Default()
}

// Next returns now+TradingInterval inside a session, otherwise the earlier
// of now+IdleInterval and the next session open.
func (s Scheduler) Next(now time.Time) time.Time {
	cal := s.Calendar
	if cal == nil {
		cal = Default()
	}
	if cal.IsTradingTime(now) {
		return now.Add(s.TradingInterval)
	}
	idle := now.Add(s.IdleInterval)
	if open := cal.NextOpen(now); open.Before(idle) {
		return open
	}
	return idle
}

// Wait returns the duration until Next(now).
func (s Scheduler) Wait(now time.Time) time.Duration {
	return s.Next(now).Sub(now)
}
