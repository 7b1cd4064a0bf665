package extract

import (
	"time"

	"github.com/c360/incidentwatch/errors"
)

// Timestamp layouts emitted by the dispatch system. The full form carries a
// numeric offset; the short form is time-of-day only with a zone abbreviation
// and is anchored to "today" in the reference timezone.
const (
	layoutFull     = "2006-01-02 15:04:05-0700"
	layoutTimeOnly = "2006-01-02 15:04:05 MST"
	layoutDisplay  = "01-02-06 15:04:05 MST"
)

// eastern is the dispatch system's reference timezone. Falling back to UTC
// only happens on hosts without tzdata and skews time-only anchoring, not
// correctness of fully-qualified timestamps.
var eastern = func() *time.Location {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		return time.UTC
	}
	return loc
}()

// ParseDateTime parses a raw CAD timestamp string. The full
// `date time offset` form is tried first; a bare `time zone` value is
// anchored to today's date in the Eastern reference timezone. An empty input
// yields (nil, nil); an unparsable input yields errors.ErrTimestampParse.
func ParseDateTime(raw string, now time.Time) (*time.Time, error) {
	if raw == "" {
		return nil, nil
	}

	if t, err := time.Parse(layoutFull, raw); err == nil {
		return &t, nil
	}

	today := now.In(eastern).Format("2006-01-02")
	if t, err := time.ParseInLocation(layoutTimeOnly, today+" "+raw, eastern); err == nil {
		return &t, nil
	}

	return nil, errors.WrapInvalid(errors.ErrTimestampParse, "extract", "ParseDateTime", "parse "+raw)
}

// FormatEastern renders a timestamp for display in the reference timezone
// using the dashboard's `MM-DD-YY HH:MM:SS TZ` form. Nil renders as empty.
func FormatEastern(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.In(eastern).Format(layoutDisplay)
}
