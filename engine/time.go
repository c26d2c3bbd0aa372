package engine

import (
	"strings"
	"time"
)

// =============================================================================
// ZONES - IANA location lookup
// =============================================================================

// LoadLocation resolves an IANA zone name. An empty name is UTC.
func LoadLocation(name string) (*time.Location, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, &TimezoneError{Name: name, Err: err}
	}
	return loc, nil
}

// LocationOrUTC resolves a zone name, falling back to UTC when unknown.
func LocationOrUTC(name string) *time.Location {
	loc, err := LoadLocation(name)
	if err != nil {
		return time.UTC
	}
	return loc
}

// =============================================================================
// LOCAL WALL-CLOCK - Dates and times as users type them
// =============================================================================

// ParseLocalDateTime combines a YYYY-MM-DD date and an optional HH:MM time
// into an instant in loc. An empty clock means midnight.
func ParseLocalDateTime(date, clock string, loc *time.Location) (time.Time, bool) {
	d, err := time.Parse(DateLayout, strings.TrimSpace(date))
	if err != nil {
		return time.Time{}, false
	}
	hour, minute := 0, 0
	if c := strings.TrimSpace(clock); c != "" {
		t, err := time.Parse(ClockLayout, c)
		if err != nil {
			return time.Time{}, false
		}
		hour, minute = t.Hour(), t.Minute()
	}
	return time.Date(d.Year(), d.Month(), d.Day(), hour, minute, 0, 0, loc), true
}

// EndOfLocalDay returns the last millisecond of date in loc.
func EndOfLocalDay(date string, loc *time.Location) (time.Time, bool) {
	d, err := time.Parse(DateLayout, strings.TrimSpace(date))
	if err != nil {
		return time.Time{}, false
	}
	return time.Date(d.Year(), d.Month(), d.Day(), 23, 59, 59, int(999*time.Millisecond), loc), true
}

// LocalDateAndClock formats an instant as the date and time a user in loc sees.
func LocalDateAndClock(epochMs int64, loc *time.Location) (string, string) {
	t := time.UnixMilli(epochMs).In(loc)
	return t.Format(DateLayout), t.Format(ClockLayout)
}

// UTCDateKey buckets an instant into its UTC calendar day.
func UTCDateKey(t time.Time) string {
	return t.UTC().Format(DateLayout)
}

func daysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// addMonthsClamped moves t forward by n calendar months keeping wall-clock
// time, clamping the day to the last valid day of the target month.
func addMonthsClamped(t time.Time, n int) time.Time {
	total := int(t.Month()) - 1 + n
	year := t.Year() + total/12
	month := time.Month(total%12 + 1)
	day := t.Day()
	if last := daysIn(year, month); day > last {
		day = last
	}
	return time.Date(year, month, day, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
}
