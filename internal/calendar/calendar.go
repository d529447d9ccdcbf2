// Package calendar provides IST-anchored time, date and trading-date
// helpers. All market-hours logic in the service is defined in terms of
// this package; nothing else should call time.Now() directly for
// market-facing decisions.
package calendar

import "time"

// IST is India Standard Time, UTC+5:30, with no DST transitions.
var IST = time.FixedZone("IST", 5*3600+30*60)

const (
	marketOpenHour   = 9
	marketOpenMinute = 15
	marketCloseHour  = 15
	marketCloseMin   = 30
)

// Now returns the current wall-clock time in IST.
func Now() time.Time {
	return time.Now().In(IST)
}

// IsWeekday reports whether t (any timezone) falls on a Monday-Friday in IST.
func IsWeekday(t time.Time) bool {
	wd := t.In(IST).Weekday()
	return wd != time.Saturday && wd != time.Sunday
}

// IsTradingDay reports whether t is a weekday and not an NSE holiday.
func IsTradingDay(t time.Time) bool {
	return IsWeekday(t) && !IsHoliday(t)
}

// IsMarketOpen reports whether t falls within the 09:15-15:30 IST window on
// a trading day.
func IsMarketOpen(t time.Time) bool {
	if !IsTradingDay(t) {
		return false
	}
	ist := t.In(IST)
	open := time.Date(ist.Year(), ist.Month(), ist.Day(), marketOpenHour, marketOpenMinute, 0, 0, IST)
	close := time.Date(ist.Year(), ist.Month(), ist.Day(), marketCloseHour, marketCloseMin, 0, 0, IST)
	return !ist.Before(open) && !ist.After(close)
}

// TradingDate returns the YYYY-MM-DD IST partition key for t. This is the
// single heuristic used for off-hours ticks too: the IST calendar date of
// the observation, unchanged from the source service's behaviour.
func TradingDate(t time.Time) string {
	return t.In(IST).Format("2006-01-02")
}

// Today is TradingDate(Now()).
func Today() string {
	return TradingDate(Now())
}

// NextOpen returns the next market open instant strictly after t.
func NextOpen(t time.Time) time.Time {
	ist := t.In(IST)
	candidate := time.Date(ist.Year(), ist.Month(), ist.Day(), marketOpenHour, marketOpenMinute, 0, 0, IST)
	if !candidate.After(ist) {
		candidate = candidate.AddDate(0, 0, 1)
	}
	for !IsTradingDay(candidate) {
		candidate = candidate.AddDate(0, 0, 1)
	}
	return candidate
}

// NextDailyDeadline returns the next occurrence of hour:minute IST strictly
// after t, any day (not restricted to trading days) — used by the
// Master-Data Scheduler, which must run even on a holiday to roll the
// trading-date key forward for the following session.
func NextDailyDeadline(t time.Time, hour, minute int) time.Time {
	ist := t.In(IST)
	candidate := time.Date(ist.Year(), ist.Month(), ist.Day(), hour, minute, 0, 0, IST)
	if !candidate.After(ist) {
		candidate = candidate.AddDate(0, 0, 1)
	}
	return candidate
}
