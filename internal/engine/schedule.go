package engine

import (
	"time"

	"github.com/maxvit/ctrader_meanrev/internal/domain"
)

const sessionLength = 6*time.Hour + 30*time.Minute

// TradingWindow returns the session open and close, in UTC, for the
// trading day containing now. The exchange open shifts with daylight
// saving: 13:30 UTC while DST is in effect, 14:30 UTC otherwise. Both
// inputs are explicit so the function needs no wall-clock mocking.
func TradingWindow(now time.Time, isDST bool) (open, close time.Time) {
	u := now.UTC()
	openHour, openMin := 14, 30
	if isDST {
		openHour, openMin = 13, 30
	}
	open = time.Date(u.Year(), u.Month(), u.Day(), openHour, openMin, 0, 0, time.UTC)
	return open, open.Add(sessionLength)
}

// IsDST reports whether t falls in loc's daylight-saving period, by
// comparing t's zone offset with the year's standard (smaller) offset.
func IsDST(t time.Time, loc *time.Location) bool {
	jan := time.Date(t.Year(), 1, 1, 0, 0, 0, 0, loc)
	jul := time.Date(t.Year(), 7, 1, 0, 0, 0, 0, loc)
	_, winter := jan.Zone()
	_, summer := jul.Zone()
	std := winter
	if summer < winter {
		std = summer
	}
	_, off := t.In(loc).Zone()
	return off != std
}

// weekSecond is the number of seconds since week start (Sunday 00:00 UTC).
func weekSecond(t time.Time) int {
	u := t.UTC()
	return int(u.Weekday())*86400 + u.Hour()*3600 + u.Minute()*60 + u.Second()
}

// daySecond is the number of seconds since UTC midnight.
func daySecond(t time.Time) int {
	u := t.UTC()
	return u.Hour()*3600 + u.Minute()*60 + u.Second()
}

// WithinSchedule reports whether now falls inside the instrument's weekly
// trading intervals and outside its holidays. An empty schedule means
// always open.
func WithinSchedule(info *domain.SymbolInfo, now time.Time) bool {
	u := now.UTC()
	for _, h := range info.Holidays {
		d, err := time.Parse("2006-01-02", h.Date)
		if err != nil {
			continue
		}
		match := d.Month() == u.Month() && d.Day() == u.Day()
		if !h.Recurring {
			match = match && d.Year() == u.Year()
		}
		if !match {
			continue
		}
		if h.StartSec == 0 && h.EndSec == 0 {
			return false
		}
		ds := daySecond(u)
		if ds >= h.StartSec && ds < h.EndSec {
			return false
		}
	}
	if len(info.Schedule) == 0 {
		return true
	}
	ws := weekSecond(u)
	for _, iv := range info.Schedule {
		if ws >= iv.StartSec && ws < iv.EndSec {
			return true
		}
	}
	return false
}

// tradingDay formats the calendar date of now in the exchange's local
// trading calendar. Used to guard the daily reset.
func tradingDay(now time.Time, loc *time.Location) string {
	return now.In(loc).Format("2006-01-02")
}
