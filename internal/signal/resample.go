package signal

import (
	"math"
	"sort"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/i474232898/sensor-data-aggregation/internal/sensor"
)

// Point is one sample of a series.
type Point struct {
	Time  time.Time
	Value float64
}

// PointsOf extracts the series of observations, ordered by time.
func PointsOf(records []sensor.Observation) []Point {
	out := make([]Point, len(records))
	for i, r := range records {
		out[i] = Point{Time: r.Timestamp, Value: r.Value}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Time.Before(out[j].Time) })
	return out
}

// Values returns the sample values.
func Values(points []Point) []float64 {
	out := make([]float64, len(points))
	for i, p := range points {
		out[i] = p.Value
	}
	return out
}

// Resample buckets points into intervals aligned to interval, averages each
// bucket and fills empty buckets by linear interpolation between their
// neighbours. NaN samples are ignored. Each output point is labelled with
// its bucket start.
func Resample(points []Point, interval time.Duration) ([]Point, error) {
	if interval <= 0 {
		return nil, errors.Newf("interval %s must be positive", interval)
	}

	type bucket struct {
		sum float64
		n   int
	}
	buckets := make(map[int64]*bucket)
	first, last := int64(math.MaxInt64), int64(math.MinInt64)
	for _, p := range points {
		if math.IsNaN(p.Value) {
			continue
		}
		k := floorDiv(p.Time.UnixNano(), int64(interval))
		b, ok := buckets[k]
		if !ok {
			b = &bucket{}
			buckets[k] = b
		}
		b.sum += p.Value
		b.n++
		if k < first {
			first = k
		}
		if k > last {
			last = k
		}
	}
	if len(buckets) == 0 {
		return nil, nil
	}

	out := make([]Point, 0, last-first+1)
	for k := first; k <= last; k++ {
		v := math.NaN()
		if b, ok := buckets[k]; ok {
			v = b.sum / float64(b.n)
		}
		out = append(out, Point{Time: time.Unix(0, k*int64(interval)).UTC(), Value: v})
	}

	// Both ends hold data, so every gap has a left and right neighbour.
	for i := 0; i < len(out); i++ {
		if !math.IsNaN(out[i].Value) {
			continue
		}
		j := i
		for math.IsNaN(out[j].Value) {
			j++
		}
		left, right := out[i-1].Value, out[j].Value
		span := float64(j - i + 1)
		for k := i; k < j; k++ {
			out[k].Value = left + (right-left)*float64(k-i+1)/span
		}
		i = j
	}
	return out, nil
}

func floorDiv(a, b int64) int64 {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}
