package clock

import (
	"fmt"
	"time"

	// Zone data ships with the binary so LoadLocation never depends on the host.
	_ "time/tzdata"
)

// DefaultZone is the civil time zone the business closes its days in.
const DefaultZone = "America/Bogota"

// Clock is the single source of "now" and of the day boundary.
type Clock interface {
	Now() time.Time
	Location() *time.Location
}

type systemClock struct {
	loc *time.Location
}

// New returns a wall clock pinned to the named zone.
func New(zone string) (Clock, error) {
	if zone == "" {
		zone = DefaultZone
	}
	loc, err := time.LoadLocation(zone)
	if err != nil {
		return nil, fmt.Errorf("failed to load time zone %q: %w", zone, err)
	}
	return systemClock{loc: loc}, nil
}

func (c systemClock) Now() time.Time           { return time.Now().In(c.loc) }
func (c systemClock) Location() *time.Location { return c.loc }

// Fixed is a Clock that always returns the same instant. Used in tests.
type Fixed struct {
	At  time.Time
	Loc *time.Location
}

func (f Fixed) Now() time.Time {
	return f.At.In(f.Location())
}

func (f Fixed) Location() *time.Location {
	if f.Loc == nil {
		return time.UTC
	}
	return f.Loc
}

// StartOfDay truncates t to midnight of its civil day in loc.
func StartOfDay(t time.Time, loc *time.Location) time.Time {
	t = t.In(loc)
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}

// Today returns the start of the current civil day for c.
func Today(c Clock) time.Time {
	return StartOfDay(c.Now(), c.Location())
}

// DaysBetween returns the number of whole calendar days from a to b in loc.
// The result is negative when b is before a. DST shifts never produce a
// partial day because both ends are reduced to civil dates first.
func DaysBetween(a, b time.Time, loc *time.Location) int {
	ay, am, ad := a.In(loc).Date()
	by, bm, bd := b.In(loc).Date()
	da := time.Date(ay, am, ad, 0, 0, 0, 0, time.UTC)
	db := time.Date(by, bm, bd, 0, 0, 0, 0, time.UTC)
	return int(db.Sub(da).Hours() / 24)
}

// InclusiveDays counts every calendar day from start to end, both included.
// Returns 0 when end is before start.
func InclusiveDays(start, end time.Time, loc *time.Location) int {
	n := DaysBetween(start, end, loc)
	if n < 0 {
		return 0
	}
	return n + 1
}

// MonthsBetween returns the number of whole calendar months from a to b.
// A month is complete once b reaches the same day-of-month as a, or the last
// day of b's month when that month is shorter.
func MonthsBetween(a, b time.Time, loc *time.Location) int {
	ay, am, ad := a.In(loc).Date()
	by, bm, bd := b.In(loc).Date()
	months := (by-ay)*12 + int(bm-am)
	if last := time.Date(by, bm+1, 0, 0, 0, 0, 0, time.UTC).Day(); ad > last {
		ad = last
	}
	if bd < ad {
		months--
	}
	return months
}

// AddMonths moves t by n calendar months, landing on the last day of the
// target month when it is shorter than t's day-of-month.
func AddMonths(t time.Time, n int) time.Time {
	y, m, d := t.Date()
	first := time.Date(y, m+time.Month(n), 1, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
	if last := first.AddDate(0, 1, -1).Day(); d > last {
		d = last
	}
	return first.AddDate(0, 0, d-1)
}

// AddDays moves t by n civil days, keeping the wall-clock time.
func AddDays(t time.Time, n int) time.Time {
	return t.AddDate(0, 0, n)
}
