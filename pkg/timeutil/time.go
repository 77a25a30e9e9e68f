package timeutil

import "time"

// DhakaZone is the operator-local timezone used by the re-queue policy and
// the daily dispatch schedule
const DhakaZone = "Asia/Dhaka"

// Now returns the current time in UTC
// Always use this instead of time.Now() to ensure timezone consistency
func Now() time.Time {
	return time.Now().UTC()
}

// StartOfDay returns the start of the day (midnight) in UTC
func StartOfDay(t time.Time) time.Time {
	year, month, day := t.UTC().Date()
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

// EndOfDay returns the end of the day (23:59:59.999999999) in UTC
func EndOfDay(t time.Time) time.Time {
	year, month, day := t.UTC().Date()
	return time.Date(year, month, day, 23, 59, 59, 999999999, time.UTC)
}

// NextLocalMidnight returns the first midnight after t in the given location
func NextLocalMidnight(t time.Time, loc *time.Location) time.Time {
	local := t.In(loc)
	year, month, day := local.Date()
	return time.Date(year, month, day, 0, 0, 0, 0, loc).AddDate(0, 0, 1)
}

// FitsBeforeLocalMidnight reports whether t+delay still falls on the same
// local calendar day as t
func FitsBeforeLocalMidnight(t time.Time, delay time.Duration, loc *time.Location) bool {
	return t.Add(delay).Before(NextLocalMidnight(t, loc))
}

// LoadDhaka resolves the Dhaka timezone, falling back to a fixed +06:00
// offset when the zone database is unavailable
func LoadDhaka() *time.Location {
	loc, err := time.LoadLocation(DhakaZone)
	if err != nil {
		return time.FixedZone("BDT", 6*60*60)
	}
	return loc
}
