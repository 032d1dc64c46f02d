package signal

import (
	"sort"
	"strings"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/i474232898/sensor-data-aggregation/internal/sensor"
)

// DailyAverage is the mean of one station's readings inside the daily
// window of one calendar day.
type DailyAverage struct {
	Date    string  `json:"date"` // YYYY-MM-DD in the window's zone
	Station string  `json:"station"`
	Mean    float64 `json:"mean"`
	Count   int     `json:"count"`
}

// ParseClock parses a time of day such as "02:00" or "04:00:30" into the
// offset from midnight.
func ParseClock(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	for _, layout := range []string{"15:04:05", "15:04"} {
		if t, err := time.Parse(layout, s); err == nil {
			return time.Duration(t.Hour())*time.Hour +
				time.Duration(t.Minute())*time.Minute +
				time.Duration(t.Second())*time.Second, nil
		}
	}
	return 0, errors.Newf("invalid time of day %q; use HH:MM or HH:MM:SS", s)
}

// WindowAverages averages, per day and station, the readings whose wall
// clock time in loc lies within [from, to], both ends included. Results
// are ordered by date then station.
func WindowAverages(records []sensor.Observation, from, to time.Duration, loc *time.Location) []DailyAverage {
	if loc == nil {
		loc = time.UTC
	}
	type key struct{ date, station string }
	sums := make(map[key]*DailyAverage)

	for _, r := range records {
		local := r.Timestamp.In(loc)
		y, m, d := local.Date()
		midnight := time.Date(y, m, d, 0, 0, 0, 0, loc)
		clock := local.Sub(midnight)
		if clock < from || clock > to {
			continue
		}
		k := key{date: local.Format(DateLayout), station: r.Station}
		avg, ok := sums[k]
		if !ok {
			avg = &DailyAverage{Date: k.date, Station: k.station}
			sums[k] = avg
		}
		avg.Mean += r.Value
		avg.Count++
	}

	out := make([]DailyAverage, 0, len(sums))
	for _, avg := range sums {
		avg.Mean /= float64(avg.Count)
		out = append(out, *avg)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Date != out[j].Date {
			return out[i].Date < out[j].Date
		}
		return out[i].Station < out[j].Station
	})
	return out
}
