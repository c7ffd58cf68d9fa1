// Package timefmt provides the timestamp and calendar-key formats the
// persistence and stats layers rely on: ISO-8601 serialization, local
// day keys for rollup buckets, and local ISO-week segment keys for the
// archive.
package timefmt

import "time"

// ISO8601 is the ISO-8601 format used for timestamp serialization.
const ISO8601 = "2006-01-02T15:04:05.000Z"

// Format formats a time.Time to the standard string representation.
func Format(t time.Time) string {
	return t.UTC().Format(ISO8601)
}

// DayKey returns the local calendar day of t as "YYYY-MM-DD".
// Rollup buckets are keyed by this.
func DayKey(t time.Time) string {
	return t.Local().Format("2006-01-02")
}

// WeekStart returns local midnight of the Monday starting the week t
// belongs to. Weeks run Monday 00:00 to Monday 00:00.
func WeekStart(t time.Time) time.Time {
	t = t.Local()
	days := (int(t.Weekday()) - int(time.Monday) + 7) % 7
	y, m, d := t.AddDate(0, 0, -days).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// WeekKey returns the archive segment key for t: the "YYYYMMDD" of the
// Monday starting t's local week.
func WeekKey(t time.Time) string {
	return WeekStart(t).Format("20060102")
}

// ParseWeekKey parses a "YYYYMMDD" segment key back into local midnight.
func ParseWeekKey(key string) (time.Time, error) {
	return time.ParseInLocation("20060102", key, time.Local)
}
