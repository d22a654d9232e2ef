// Package system provides the wall clock used for day-scoped cache keys.
package system

import "time"

// DayLayout formats the UTC calendar day that scopes archive cache entries.
const DayLayout = "2006-01-02"

// Clock implements lookup.Clock using time.Now in UTC.
type Clock struct{}

// New creates a new Clock.
func New() *Clock {
	return &Clock{}
}

// Now returns the current UTC time.
func (Clock) Now() time.Time {
	return time.Now().UTC()
}

// Day returns the UTC calendar day of t, whatever its location.
func Day(t time.Time) string {
	return t.UTC().Format(DayLayout)
}

// ParseDay parses a value produced by Day as midnight UTC.
func ParseDay(day string) (time.Time, error) {
	return time.Parse(DayLayout, day)
}
