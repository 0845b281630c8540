package market

import (
	"time"
	_ "time/tzdata" // provider timezones must resolve on hosts without zoneinfo
)

// Hours is the extended trading session, in minutes after local midnight.
type Hours struct {
	Start    int // 04:00
	End      int // 19:59
	Location *time.Location
}

// DefaultHours returns the US extended session in the named zone, falling
// back to UTC when the zone is unknown.
func DefaultHours(tz string) Hours {
	loc, err := time.LoadLocation(tz)
	if err != nil {
		loc = time.UTC
	}
	return Hours{Start: 4 * 60, End: 20*60 - 1, Location: loc}
}

func (h Hours) closeOf(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), h.End/60, h.End%60, 0, 0, h.Location)
}

func isWeekend(t time.Time) bool {
	return t.Weekday() == time.Saturday || t.Weekday() == time.Sunday
}

// NormalizeEnd moves an end time that falls outside the session to the
// nearest prior session close. Monday before 09:00 counts as the weekend.
func (h Hours) NormalizeEnd(ms int64) int64 {
	t := time.UnixMilli(ms).In(h.Location)
	hour := t.Hour()
	switch {
	case t.Weekday() == time.Monday && hour < 9:
		t = h.closeOf(t.AddDate(0, 0, -3))
	case hour < h.Start/60:
		t = h.closeOf(t.AddDate(0, 0, -1))
	case hour > h.End/60:
		t = h.closeOf(t)
	}
	for isWeekend(t) {
		t = h.closeOf(t.AddDate(0, 0, -1))
	}
	return t.UnixMilli()
}

// AddMarketTime adds minutes to t, rolling past the session close to the
// next weekday's open.
func (h Hours) AddMarketTime(ms int64, minutes int) int64 {
	t := time.UnixMilli(ms).In(h.Location)
	next := t.Hour()*60 + t.Minute() + minutes
	if next > h.End {
		t = t.AddDate(0, 0, 1)
		t = time.Date(t.Year(), t.Month(), t.Day(), h.Start/60, 0, 0, 0, h.Location)
		for isWeekend(t) {
			t = t.AddDate(0, 0, 1)
		}
		return t.UnixMilli()
	}
	t = time.Date(t.Year(), t.Month(), t.Day(), next/60, next%60, 0, 0, h.Location)
	return t.UnixMilli()
}
