// Package slots holds the clinic's fixed daily slot catalog and the calendar-day
// rules booking and availability share.
package slots

import (
	"errors"
	"strings"
	"time"
)

// DateLayout is the wire format for calendar days.
const DateLayout = "2006-01-02"

// ErrInvalidDate is returned when a date string cannot be parsed.
var ErrInvalidDate = errors.New("slots: invalid date")

// catalog is ordered morning block then afternoon block.
var catalog = []string{
	"09:00", "09:30", "10:00", "10:30", "11:00", "11:30",
	"12:00", "12:30", "14:00", "14:30", "15:00", "15:30",
	"16:00", "16:30", "17:00", "17:30",
}

var catalogIndex = func() map[string]int {
	idx := make(map[string]int, len(catalog))
	for i, s := range catalog {
		idx[s] = i
	}
	return idx
}()

// Catalog returns a copy of the 16 bookable half-hour labels in clinic order.
func Catalog() []string {
	out := make([]string, len(catalog))
	copy(out, catalog)
	return out
}

// Valid reports whether label is a catalog slot.
func Valid(label string) bool {
	_, ok := catalogIndex[label]
	return ok
}

// ParseDate parses a calendar day. Both YYYY-MM-DD and RFC 3339 timestamps are
// accepted; timestamps are converted to loc before the day is taken. The result
// is that day at UTC midnight, the form stored on appointments.
func ParseDate(raw string, loc *time.Location) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, ErrInvalidDate
	}
	if loc == nil {
		loc = time.UTC
	}
	if d, err := time.Parse(DateLayout, raw); err == nil {
		return d, nil
	}
	ts, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, ErrInvalidDate
	}
	return Day(ts, loc), nil
}

// Day truncates t to its calendar day in loc, returned at UTC midnight.
func Day(t time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// IsWeekend reports whether the clinic is closed on day.
func IsWeekend(day time.Time) bool {
	wd := day.Weekday()
	return wd == time.Saturday || wd == time.Sunday
}

// Available returns the catalog minus taken, in catalog order. Weekends yield an
// empty, non-nil slice. Labels in taken that are not in the catalog are ignored.
func Available(day time.Time, taken []string) []string {
	if IsWeekend(day) {
		return []string{}
	}
	held := make(map[string]struct{}, len(taken))
	for _, t := range taken {
		held[t] = struct{}{}
	}
	out := make([]string, 0, len(catalog))
	for _, s := range catalog {
		if _, ok := held[s]; ok {
			continue
		}
		out = append(out, s)
	}
	return out
}
