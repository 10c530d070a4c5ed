// Package calendar converts instants into the meeting dates attendance is
// keyed by.
package calendar

import (
	"fmt"
	"time"
)

// Layout is the wire and storage format of a meeting date.
const Layout = "2006-01-02"

// DateOf returns the calendar date of t in loc.
func DateOf(t time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	return t.In(loc).Format(Layout)
}

// ParseDate validates a YYYY-MM-DD string and returns it normalised.
func ParseDate(s string) (string, error) {
	d, err := time.Parse(Layout, s)
	if err != nil {
		return "", fmt.Errorf("invalid date %q, use YYYY-MM-DD", s)
	}
	return d.Format(Layout), nil
}

// Weekday maps t to the 0=Monday..6=Sunday numbering used by course slots.
func Weekday(t time.Time) int {
	return (int(t.Weekday()) + 6) % 7
}

// ClockOn returns the instant at "HH:MM" on the calendar day of t, in t's location.
func ClockOn(t time.Time, hhmm string) (time.Time, error) {
	c, err := time.Parse("15:04", hhmm)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid time of day %q: %w", hhmm, err)
	}
	y, m, d := t.Date()
	return time.Date(y, m, d, c.Hour(), c.Minute(), 0, 0, t.Location()), nil
}
