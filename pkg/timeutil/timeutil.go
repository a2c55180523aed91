// Package timeutil provides calendar-day helpers for streak tracking.
// A calendar day is represented as a time.Time at UTC midnight carrying the
// year/month/day observed in the configured business timezone.
package timeutil

import (
	"fmt"
	"time"
)

// FormatDate is the wire format for calendar days (YYYY-MM-DD).
const FormatDate = "2006-01-02"

// Clock abstracts the wall clock.
type Clock interface {
	Now() time.Time
}

// SystemClock reads time.Now.
type SystemClock struct{}

// Now returns the current time.
func (SystemClock) Now() time.Time { return time.Now() }

// FixedClock always returns the same instant. Used in tests.
type FixedClock struct {
	T time.Time
}

// Now returns the fixed instant.
func (c FixedClock) Now() time.Time { return c.T }

// LoadLocation resolves a timezone name; empty means UTC.
func LoadLocation(name string) (*time.Location, error) {
	if name == "" || name == "UTC" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("timeutil: unknown timezone %q: %w", name, err)
	}
	return loc, nil
}

// CalendarDay returns the calendar day of t as observed in loc.
func CalendarDay(t time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	local := t.In(loc)
	return Date(local.Year(), local.Month(), local.Day())
}

// Date builds a calendar day value.
func Date(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

// Normalize strips the time of day, keeping the date components as they are.
func Normalize(day time.Time) time.Time {
	return Date(day.Year(), day.Month(), day.Day())
}

// DaysBetween returns the number of calendar days from `from` to `to`.
// Negative when `to` precedes `from`.
func DaysBetween(from, to time.Time) int {
	a := Normalize(from)
	b := Normalize(to)
	return int(b.Sub(a).Hours() / 24)
}

// SameDay reports whether two values fall on the same calendar day.
func SameDay(a, b time.Time) bool {
	return DaysBetween(a, b) == 0
}

// ParseDate parses a YYYY-MM-DD calendar day.
func ParseDate(s string) (time.Time, error) {
	t, err := time.Parse(FormatDate, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("timeutil: invalid date %q: %w", s, err)
	}
	return Normalize(t), nil
}

// FormatDay formats a calendar day as YYYY-MM-DD.
func FormatDay(day time.Time) string {
	return Normalize(day).Format(FormatDate)
}
