package signal

import (
	"time"

	"github.com/cockroachdb/errors"

	"github.com/i474232898/sensor-data-aggregation/internal/sensor"
)

// Method names a smoothing filter.
type Method string

const (
	MethodNone        Method = "none"
	MethodButterworth Method = "butterworth"
	MethodSMA         Method = "sma"
	MethodEMA         Method = "ema"
	MethodBackground  Method = "background"
)

// SmoothOptions selects the filter applied by SmoothSeries and its
// parameters. Only the fields of the chosen method are read.
type SmoothOptions struct {
	Interval time.Duration
	Method   Method

	CutoffHz           float64 // butterworth, background (noise)
	BackgroundCutoffHz float64 // background
	Window             int     // sma
	Span               float64 // ema
}

// SmoothSeries resamples every (station, device, sensor) series of records
// to opts.Interval and filters it. Metadata of each output record is
// copied from the series' first record.
func SmoothSeries(records []sensor.Observation, opts SmoothOptions) ([]sensor.Observation, error) {
	if opts.Method == "" {
		opts.Method = MethodNone
	}
	type key struct{ station, device, sensor string }
	var order []key
	groups := make(map[key][]sensor.Observation)
	for _, r := range records {
		k := key{r.Station, r.Device, r.Sensor}
		if _, ok := groups[k]; !ok {
			order = append(order, k)
		}
		groups[k] = append(groups[k], r)
	}

	seqs := make([][]sensor.Observation, 0, len(order))
	for _, k := range order {
		group := groups[k]
		points, err := Resample(PointsOf(group), opts.Interval)
		if err != nil {
			return nil, err
		}
		values, err := applyMethod(Values(points), opts)
		if err != nil {
			return nil, errors.Wrapf(err, "series %s/%s", k.station, k.sensor)
		}
		out := make([]sensor.Observation, len(points))
		for i, p := range points {
			rec := group[0]
			rec.Timestamp = p.Time.UTC()
			rec.Value = values[i]
			out[i] = rec
		}
		seqs = append(seqs, out)
	}
	return sensor.MergeRecords(seqs...), nil
}

func applyMethod(x []float64, opts SmoothOptions) ([]float64, error) {
	fs := 1 / opts.Interval.Seconds()
	switch opts.Method {
	case MethodNone:
		return x, nil
	case MethodButterworth:
		return LowpassButterworth(x, fs, opts.CutoffHz)
	case MethodSMA:
		return SimpleMovingAverage(x, opts.Window)
	case MethodEMA:
		return ExponentialMovingAverage(x, opts.Span)
	case MethodBackground:
		return RemoveBackground(x, fs, opts.CutoffHz, opts.BackgroundCutoffHz)
	default:
		return nil, errors.Newf("unknown smoothing method %q", opts.Method)
	}
}
