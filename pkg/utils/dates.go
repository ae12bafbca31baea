package utils

import (
	"regexp"
	"strings"
	"time"
)

const dateLayout = "2006-01-02"

var datePattern = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)

var dateSeparators = strings.NewReplacer("/", "-", ".", "-", "_", "-")

// NormalizeDate reduces a date-like input to yyyy-mm-dd. Separators are unified, the value is truncated
// to its first 10 characters and must be a real calendar date; anything else yields fallback.
func NormalizeDate(raw, fallback string) string {
	s := dateSeparators.Replace(strings.TrimSpace(raw))
	if len(s) > 10 {
		s = s[:10]
	}
	if !datePattern.MatchString(s) {
		return fallback
	}
	if _, err := time.Parse(dateLayout, s); err != nil {
		return fallback
	}
	return s
}

// DayRange returns the half-open UTC interval [from 00:00:00, to + 1 day) for two normalized dates.
func DayRange(from, to string) (time.Time, time.Time, error) {
	start, err := time.Parse(dateLayout, from)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	end, err := time.Parse(dateLayout, to)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	return start.UTC(), end.UTC().AddDate(0, 0, 1), nil
}
