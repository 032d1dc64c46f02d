package signal

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/i474232898/sensor-data-aggregation/internal/sensor"
)

func seriesRecords(sensorName string, minutes []int, value func(int) float64) []sensor.Observation {
	out := make([]sensor.Observation, 0, len(minutes))
	for _, m := range minutes {
		out = append(out, sensor.Observation{
			Timestamp: t0.Add(time.Duration(m) * time.Minute),
			Vendor:    "tellus",
			Device:    "d1",
			Station:   "North Field",
			Sensor:    sensorName,
			Value:     value(m),
			Unit:      "ppm",
		})
	}
	return out
}

func TestSmoothSeriesResamplesEachSeries(t *testing.T) {
	co2 := seriesRecords("co2", []int{0, 1, 3}, func(m int) float64 { return float64(10 * m) })
	ch4 := seriesRecords("ch4", []int{0, 1, 2, 3}, func(int) float64 { return 2 })

	out, err := SmoothSeries(append(co2, ch4...), SmoothOptions{Interval: time.Minute})
	require.NoError(t, err)
	require.Len(t, out, 8)

	var gotCO2 []float64
	for _, r := range out {
		if r.Sensor == "co2" {
			gotCO2 = append(gotCO2, r.Value)
			assert.Equal(t, "ppm", r.Unit)
			assert.Equal(t, "North Field", r.Station)
		}
	}
	assert.InDeltaSlice(t, []float64{0, 10, 20, 30}, gotCO2, 1e-9)
	assert.True(t, out[0].Timestamp.Equal(t0))
}

func TestSmoothSeriesMovingAverageOfConstant(t *testing.T) {
	minutes := make([]int, 30)
	for i := range minutes {
		minutes[i] = i
	}
	recs := seriesRecords("co2", minutes, func(int) float64 { return 415 })

	for _, opts := range []SmoothOptions{
		{Interval: time.Minute, Method: MethodSMA, Window: 5},
		{Interval: time.Minute, Method: MethodEMA, Span: 4},
		{Interval: time.Minute, Method: MethodButterworth, CutoffHz: 1.0 / 600},
	} {
		out, err := SmoothSeries(recs, opts)
		require.NoError(t, err, opts.Method)
		require.Len(t, out, 30)
		for _, r := range out {
			assert.InDelta(t, 415, r.Value, 1e-6, opts.Method)
		}
	}
}

func TestSmoothSeriesErrors(t *testing.T) {
	recs := seriesRecords("co2", []int{0, 1, 2}, func(int) float64 { return 1 })

	_, err := SmoothSeries(recs, SmoothOptions{Interval: time.Minute, Method: "median"})
	assert.Error(t, err)

	_, err = SmoothSeries(recs, SmoothOptions{Interval: 0})
	assert.Error(t, err)

	_, err = SmoothSeries(recs, SmoothOptions{Interval: time.Minute, Method: MethodSMA})
	assert.Error(t, err)
}
