package shared

import "time"

// DayBoundary computes operating-day windows at a fixed UTC offset.
//
// The offset is deployment configuration, not the wall-clock zone of the
// request or of the server: two deployments in different regions must be able
// to roll their operating day at different, explicit boundaries.
type DayBoundary struct {
	offset time.Duration
}

// NewDayBoundary builds a boundary from an offset in minutes east of UTC.
func NewDayBoundary(offsetMinutes int) DayBoundary {
	return DayBoundary{offset: time.Duration(offsetMinutes) * time.Minute}
}

// Location returns the fixed-offset location of the boundary.
func (b DayBoundary) Location() *time.Location {
	return time.FixedZone("operating", int(b.offset/time.Second))
}

// OperatingDate truncates the instant to the operating day it falls in.
// The result is a date at midnight UTC, suitable for DATE columns.
func (b DayBoundary) OperatingDate(at time.Time) time.Time {
	local := at.In(b.Location())
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, time.UTC)
}

// Elapsed reports whether the given operating date lies strictly before the
// operating day containing now.
func (b DayBoundary) Elapsed(operatingDate, now time.Time) bool {
	day := time.Date(operatingDate.Year(), operatingDate.Month(), operatingDate.Day(), 0, 0, 0, 0, time.UTC)
	return day.Before(b.OperatingDate(now))
}
