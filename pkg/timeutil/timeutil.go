// Package timeutil holds the date handling shared by the grades API client
// and the sync window. School dates are wall-clock dates in the school's
// timezone, exchanged as YYYY-MM-DD strings.
package timeutil

import (
	"fmt"
	"sync"
	"time"
)

const (
	// DateLayout is the date format the grades API accepts and returns.
	DateLayout = "2006-01-02"
	// FeedLayout is the timestamp format of notification feed events.
	FeedLayout = "2006-01-02 15:04:05"
)

var (
	locMu sync.RWMutex
	loc   = defaultLocation()
)

func defaultLocation() *time.Location {
	if l, err := time.LoadLocation("Europe/Kyiv"); err == nil {
		return l
	}
	return time.FixedZone("EET", 2*60*60)
}

// SetLocation changes the school timezone. Unknown names return an error
// and leave the current location untouched.
func SetLocation(name string) error {
	l, err := time.LoadLocation(name)
	if err != nil {
		return fmt.Errorf("load location %q: %w", name, err)
	}
	locMu.Lock()
	loc = l
	locMu.Unlock()
	return nil
}

// Location returns the school timezone.
func Location() *time.Location {
	locMu.RLock()
	defer locMu.RUnlock()
	return loc
}

// FormatDate renders t as a school date.
func FormatDate(t time.Time) string {
	return t.In(Location()).Format(DateLayout)
}

// ParseDate parses a YYYY-MM-DD school date at local midnight.
func ParseDate(s string) (time.Time, error) {
	return time.ParseInLocation(DateLayout, s, Location())
}

// FeedDate reduces a feed timestamp ("YYYY-MM-DD HH:MM:SS") to its date.
// A value that is already a bare date is returned unchanged.
func FeedDate(s string) (string, error) {
	if t, err := time.ParseInLocation(FeedLayout, s, Location()); err == nil {
		return t.Format(DateLayout), nil
	}
	if _, err := ParseDate(s); err == nil {
		return s, nil
	}
	return "", fmt.Errorf("unrecognised feed timestamp %q", s)
}

// Window returns the inclusive date range from back days before now to
// forward days after it.
func Window(now time.Time, back, forward int) (string, string) {
	now = now.In(Location())
	return now.AddDate(0, 0, -back).Format(DateLayout), now.AddDate(0, 0, forward).Format(DateLayout)
}

// FromUnix converts epoch seconds to a time in the school timezone.
func FromUnix(sec int64) time.Time {
	return time.Unix(sec, 0).In(Location())
}

// StartOfWeek returns Monday of t's week at midnight.
func StartOfWeek(t time.Time) time.Time {
	t = StartOfDay(t)
	offset := (int(t.Weekday()) + 6) % 7
	return t.AddDate(0, 0, -offset)
}

// EndOfWeek returns Sunday of t's week at midnight.
func EndOfWeek(t time.Time) time.Time {
	return StartOfWeek(t).AddDate(0, 0, 6)
}

// StartOfMonth returns the first day of t's month at midnight.
func StartOfMonth(t time.Time) time.Time {
	t = t.In(Location())
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, Location())
}

// EndOfMonth returns the last day of t's month at midnight.
func EndOfMonth(t time.Time) time.Time {
	return StartOfMonth(t).AddDate(0, 1, -1)
}

// StartOfDay truncates t to local midnight.
func StartOfDay(t time.Time) time.Time {
	t = t.In(Location())
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, Location())
}
