package vendors

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/i474232898/sensor-data-aggregation/internal/sensor"
)

func TestLicorFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer licor-key", r.Header.Get("Authorization"))
		q := r.URL.Query()
		assert.Equal(t, "irish-1,irish-2", q.Get("loggers"))
		assert.Equal(t, "2025-09-01 00:00:00", q.Get("start_date_time"))
		_, _ = w.Write([]byte(`{"data":[
			{"timestamp":"2025-09-01 00:00:10","logger":"irish-1","sensor":"CH4","measurementType":"methane","value":1.98,"units":"ppm"},
			{"timestamp":"2025-09-01 00:00:10","logger":"irish-2","sensor":"CO2","measurementType":"carbon dioxide","value":421.3,"units":"ppm"}
		]}`))
	}))
	defer srv.Close()

	l := NewLicor(LicorConfig{Devices: []string{"irish-1", "irish-2"}, BaseURL: srv.URL}, StaticToken("licor-key"), testHTTPConfig(t, srv))
	frag, err := l.Fetch(context.Background(), sensor.RetrievalRequest{Range: sensor.TimeRange{Start: t0, End: t0.Add(time.Hour)}})
	require.NoError(t, err)
	require.Len(t, frag.Records, 2)
	assert.Equal(t, sensor.MeasurementCH4, frag.Records[0].MeasurementType)
	assert.Equal(t, sensor.MeasurementCO2, frag.Records[1].MeasurementType)
	assert.Equal(t, t0.Add(10*time.Second), frag.Records[0].Timestamp)
}

func TestLicorAuthFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":"unauthorized","message":"invalid api key"}`))
	}))
	defer srv.Close()

	l := NewLicor(LicorConfig{Devices: []string{"x"}, BaseURL: srv.URL}, StaticToken("bad"), testHTTPConfig(t, srv))
	_, err := l.Fetch(context.Background(), sensor.RetrievalRequest{Range: sensor.TimeRange{Start: t0, End: t0.Add(time.Hour)}})
	assert.True(t, sensor.IsAuth(err))
}

func TestLicorCapability(t *testing.T) {
	c := NewLicor(LicorConfig{}, StaticToken("k"), DefaultHTTPClientConfig(nil)).Capability()
	assert.Equal(t, sensor.Bisect, c.Strategy)
	assert.Equal(t, LicorRecordCap, c.Threshold)
}
