// Package kst centralizes Asia/Seoul (KST, UTC+09:00, no DST) timestamp handling.
//
// All on-disk and in-DB timestamps in this system are naive KST wall-clock
// values: no offset, no zone suffix. Conversion from tz-aware upstream values
// to naive KST happens once, at the ingress boundary, via Normalize.
package kst

import (
	"fmt"
	"time"
)

// Location is the shared Asia/Seoul *time.Location, resolved once at package
// init. It never fails to load because it falls back to a fixed +09:00 zone
// if the system tzdata is unavailable (common in minimal containers).
var Location = mustLoadSeoul()

func mustLoadSeoul() *time.Location {
	if loc, err := time.LoadLocation("Asia/Seoul"); err == nil {
		return loc
	}
	return time.FixedZone("KST", 9*60*60)
}

// Now returns the current wall-clock time in KST.
func Now() time.Time { return time.Now().In(Location) }

// Normalize converts a possibly tz-aware timestamp into a naive-KST instant:
// if t carries a non-UTC/non-KST zone, it is converted to KST; the returned
// value should be formatted without a zone suffix via FormatNaive.
func Normalize(t time.Time) time.Time {
	return t.In(Location)
}

// FormatNaive renders t (already in KST) as a naive ISO-8601 string with no
// zone offset, matching the on-disk log format.
func FormatNaive(t time.Time) string {
	return t.In(Location).Format("2006-01-02T15:04:05.000")
}

// ParseNaive parses a naive-KST ISO-8601 string (no zone suffix) as KST, and
// also accepts a zone-aware suffix (converting it to KST), satisfying the
// aggregator's dual-format requirement from spec §4.11.1.
func ParseNaive(s string) (time.Time, error) {
	if t, err := time.Parse("2006-01-02T15:04:05.000", s); err == nil {
		return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), Location), nil
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t.In(Location), nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.In(Location), nil
	}
	return time.Time{}, fmt.Errorf("kst: unrecognized timestamp %q", s)
}

// DateString formats t's calendar date as YYYY-MM-DD in KST.
func DateString(t time.Time) string {
	return t.In(Location).Format("2006-01-02")
}
