package signal

import (
	"time"

	"github.com/cockroachdb/errors"

	"github.com/i474232898/sensor-data-aggregation/internal/sensor"
)

// DateLayout is the calendar-day format accepted on the command line.
const DateLayout = "2006-01-02"

// ValidateDate checks that s is a YYYY-MM-DD date.
func ValidateDate(s string) error {
	if _, err := time.Parse(DateLayout, s); err != nil {
		return errors.Newf("date must be in YYYY-MM-DD format, got: %s", s)
	}
	return nil
}

// DaysRange covers startDay 00:00 through the end of endDay in loc.
func DaysRange(startDay, endDay string, loc *time.Location) (sensor.TimeRange, error) {
	if loc == nil {
		loc = time.UTC
	}
	for _, d := range []string{startDay, endDay} {
		if err := ValidateDate(d); err != nil {
			return sensor.TimeRange{}, err
		}
	}
	start, _ := time.ParseInLocation(DateLayout, startDay, loc)
	end, _ := time.ParseInLocation(DateLayout, endDay, loc)
	return sensor.NewTimeRange(start.UTC(), end.AddDate(0, 0, 1).UTC())
}

// MonthWeeks returns the Sunday-to-Saturday weeks that have at least four
// days in the given month. Each range starts at Sunday 00:00 in loc and
// ends at the following Sunday 00:00.
func MonthWeeks(year int, month time.Month, loc *time.Location) []sensor.TimeRange {
	if loc == nil {
		loc = time.UTC
	}
	first := time.Date(year, month, 1, 0, 0, 0, 0, loc)
	last := first.AddDate(0, 1, -1)
	weekStart := first.AddDate(0, 0, -int(first.Weekday()))

	var weeks []sensor.TimeRange
	for !weekStart.After(last) {
		inMonth := 0
		for i := 0; i < 7; i++ {
			if weekStart.AddDate(0, 0, i).Month() == month {
				inMonth++
			}
		}
		next := weekStart.AddDate(0, 0, 7)
		if inMonth >= 4 {
			weeks = append(weeks, sensor.TimeRange{Start: weekStart, End: next})
		}
		weekStart = next
	}
	return weeks
}
