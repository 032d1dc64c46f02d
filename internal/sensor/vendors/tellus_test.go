package vendors

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/i474232898/sensor-data-aggregation/internal/sensor"
)

// tellusServer serves one reading per device per minute and refuses ranges
// wider than maxWidth with 413.
func tellusServer(t *testing.T, maxWidth time.Duration, widths *[]time.Duration) *httptest.Server {
	t.Helper()
	var mu sync.Mutex
	mux := http.NewServeMux()
	mux.HandleFunc("/data", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "v2", r.Header.Get("x-api-version"))
		q := r.URL.Query()
		if q.Get("key") != "tellus-key" {
			w.WriteHeader(http.StatusForbidden)
			_, _ = w.Write([]byte(`{"detail":"Invalid API key"}`))
			return
		}
		start, err1 := time.Parse(time.RFC3339, q.Get("start"))
		end, err2 := time.Parse(time.RFC3339, q.Get("end"))
		if err1 != nil || err2 != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		mu.Lock()
		*widths = append(*widths, end.Sub(start))
		mu.Unlock()

		if end.Sub(start) > maxWidth {
			w.WriteHeader(http.StatusRequestEntityTooLarge)
			return
		}
		type rec struct {
			DeviceID    string  `json:"deviceId"`
			Timestamp   string  `json:"timestamp"`
			Metric      string  `json:"metric"`
			Measurement float64 `json:"measurement"`
		}
		var out []rec
		for ts := start.Truncate(time.Minute); !ts.After(end); ts = ts.Add(time.Minute) {
			if ts.Before(start) {
				continue
			}
			out = append(out, rec{DeviceID: "fye-1", Timestamp: ts.Format(time.RFC3339), Metric: q.Get("metric"), Measurement: float64(ts.Minute())})
		}
		_ = json.NewEncoder(w).Encode(out)
	})
	mux.HandleFunc("/schema", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "fye-1", r.URL.Query().Get("deviceId"))
		_, _ = w.Write([]byte(`{"fields":[{"name":"sunrise.co2","description":"CO2 concentration"},{"name":"bme280.pressure","description":"Barometric pressure"}]}`))
	})
	return httptest.NewServer(mux)
}

func TestTellusFetch(t *testing.T) {
	var widths []time.Duration
	srv := tellusServer(t, time.Hour, &widths)
	defer srv.Close()

	tl := NewTellus(TellusConfig{APIKey: "tellus-key", Devices: []string{"fye-1"}, Metrics: []string{"sunrise.co2"}, BaseURL: srv.URL},
		testHTTPConfig(t, srv))
	frag, err := tl.Fetch(context.Background(), sensor.RetrievalRequest{Range: sensor.TimeRange{Start: t0, End: t0.Add(10 * time.Minute)}})
	require.NoError(t, err)
	assert.Len(t, frag.Records, 11) // the server includes the end minute
	assert.Equal(t, sensor.MeasurementCO2, frag.Records[0].MeasurementType)
}

func TestTellusTooLargeIsTruncation(t *testing.T) {
	var widths []time.Duration
	srv := tellusServer(t, time.Hour, &widths)
	defer srv.Close()

	tl := NewTellus(TellusConfig{APIKey: "tellus-key", Devices: []string{"fye-1"}, BaseURL: srv.URL}, testHTTPConfig(t, srv))
	_, err := tl.Fetch(context.Background(), sensor.RetrievalRequest{Range: sensor.TimeRange{Start: t0, End: t0.Add(2 * time.Hour)}})
	assert.ErrorIs(t, err, sensor.ErrTruncated)
}

func TestTellusForbidden(t *testing.T) {
	var widths []time.Duration
	srv := tellusServer(t, time.Hour, &widths)
	defer srv.Close()

	tl := NewTellus(TellusConfig{APIKey: "wrong", Devices: []string{"fye-1"}, BaseURL: srv.URL}, testHTTPConfig(t, srv))
	_, err := tl.Fetch(context.Background(), sensor.RetrievalRequest{Range: sensor.TimeRange{Start: t0, End: t0.Add(time.Minute)}})
	require.True(t, sensor.IsAuth(err))
	assert.Contains(t, err.Error(), "Invalid API key")
}

func TestTellusEngineBisectsUntilAccepted(t *testing.T) {
	var widths []time.Duration
	srv := tellusServer(t, 100*time.Minute, &widths)
	defer srv.Close()

	tl := NewTellus(TellusConfig{APIKey: "tellus-key", Devices: []string{"fye-1"}, Metrics: []string{"sunrise.co2"}, BaseURL: srv.URL},
		testHTTPConfig(t, srv))
	engine := sensor.NewEngine(sensor.EngineOptions{Logger: zaptest.NewLogger(t).Sugar()})

	res, err := engine.Retrieve(context.Background(), tl, sensor.RetrievalRequest{
		Range: sensor.TimeRange{Start: t0, End: t0.Add(350 * time.Minute)},
	})
	require.NoError(t, err)
	require.Len(t, res.Records, 350)
	for i, rec := range res.Records {
		assert.Equal(t, t0.Add(time.Duration(i)*time.Minute), rec.Timestamp)
	}
	assert.Equal(t, 7, res.Calls)
	assert.Equal(t, 3, res.Splits)
}

func TestTellusMetrics(t *testing.T) {
	var widths []time.Duration
	srv := tellusServer(t, time.Hour, &widths)
	defer srv.Close()

	tl := NewTellus(TellusConfig{APIKey: "tellus-key", BaseURL: srv.URL}, testHTTPConfig(t, srv))
	metrics, err := tl.Metrics(context.Background(), "fye-1")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{
		"sunrise.co2":     "CO2 concentration",
		"bme280.pressure": "Barometric pressure",
	}, metrics)
}
