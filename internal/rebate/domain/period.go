package domain

import (
	"fmt"
	"strings"
	"time"
)

const periodLayout = "2006-01"

// ParsePeriod returns the [start, end) month window for a "YYYY-MM" label in loc.
func ParsePeriod(label string, loc *time.Location) (time.Time, time.Time, error) {
	label = strings.TrimSpace(label)
	if loc == nil {
		loc = time.UTC
	}
	month, err := time.ParseInLocation(periodLayout, label, loc)
	if err != nil || month.Format(periodLayout) != label {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: %q", ErrInvalidPeriod, label)
	}
	return month, month.AddDate(0, 1, 0), nil
}

// PeriodLabel formats the month containing t.
func PeriodLabel(t time.Time) string {
	return t.Format(periodLayout)
}
