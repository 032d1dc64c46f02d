package vendors

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/i474232898/sensor-data-aggregation/internal/sensor"
)

const (
	TellusName    = "tellus"
	TellusBaseURL = "https://api.tellusensors.com"
)

// TellusConfig configures the sensor-network adapter.
type TellusConfig struct {
	APIKey  string
	Devices []string
	Metrics []string
	BaseURL string
}

// Tellus reads sensor-network data. Oversized requests are refused with
// 413 and no payload.
type Tellus struct {
	cfg   TellusConfig
	http  *transport
	times sensor.Normalizer
}

func NewTellus(cfg TellusConfig, httpCfg HTTPClientConfig) *Tellus {
	if cfg.BaseURL == "" {
		cfg.BaseURL = TellusBaseURL
	}
	return &Tellus{
		cfg:   cfg,
		http:  newTransport(TellusName, httpCfg),
		times: sensor.Normalizer{Format: sensor.WireISOOffset},
	}
}

func (t *Tellus) Name() string {
	return TellusName
}

func (t *Tellus) Capability() sensor.Capability {
	return sensor.Capability{
		Signal:     sensor.CapHTTPStatus,
		Status:     http.StatusRequestEntityTooLarge,
		Strategy:   sensor.Bisect,
		Resolution: time.Second,
	}
}

type tellusRecord struct {
	DeviceID    string   `json:"deviceId"`
	Timestamp   string   `json:"timestamp"`
	Metric      string   `json:"metric"`
	Measurement *float64 `json:"measurement"`
	Unit        string   `json:"unit"`
}

func (t *Tellus) Fetch(ctx context.Context, req sensor.RetrievalRequest) (sensor.Fragment, error) {
	devices := req.Filters.Devices
	if len(devices) == 0 {
		devices = t.cfg.Devices
	}
	metrics := req.Filters.Metrics
	if len(metrics) == 0 {
		metrics = t.cfg.Metrics
	}
	if len(devices) == 0 {
		return sensor.Fragment{}, errors.WithHint(errors.New("tellus request names no device"), "set TELLUS_DEVICES")
	}

	values := t.auth()
	values.Set("deviceId", strings.Join(devices, ","))
	values.Set("start", t.times.Encode(req.Range.Start))
	values.Set("end", t.times.Encode(req.Range.End))
	if len(metrics) > 0 {
		values.Set("metric", strings.Join(metrics, ","))
	}

	resp, err := t.get(ctx, "data", values)
	if err != nil {
		return sensor.Fragment{}, err
	}
	if resp.Status == http.StatusRequestEntityTooLarge {
		return sensor.Fragment{}, errors.Wrapf(sensor.ErrTruncated, "tellus: 413 for %s", req.Range)
	}
	if err := checkStatus(TellusName, resp); err != nil {
		return sensor.Fragment{}, err
	}

	var payload []tellusRecord
	if err := decodeJSON(TellusName, resp, &payload); err != nil {
		return sensor.Fragment{}, err
	}

	records := make([]sensor.Observation, 0, len(payload))
	for _, d := range payload {
		if d.Measurement == nil {
			continue
		}
		ts, err := t.times.Decode(d.Timestamp)
		if err != nil {
			return sensor.Fragment{}, &sensor.MalformedResponseError{Vendor: TellusName, Status: resp.Status, Detail: err.Error()}
		}
		records = append(records, sensor.Observation{
			Timestamp:       ts,
			Vendor:          TellusName,
			Device:          d.DeviceID,
			Sensor:          d.Metric,
			Value:           *d.Measurement,
			Unit:            d.Unit,
			MeasurementType: sensor.InferMeasurementType(d.Metric, d.Unit),
		})
	}
	return sensor.Fragment{Records: records}, nil
}

// Metrics lists the metrics a device reports, name to description.
func (t *Tellus) Metrics(ctx context.Context, device string) (map[string]string, error) {
	values := t.auth()
	values.Set("deviceId", device)

	resp, err := t.get(ctx, "schema", values)
	if err != nil {
		return nil, err
	}
	if err := checkStatus(TellusName, resp); err != nil {
		return nil, err
	}

	var payload struct {
		Fields []struct {
			Name        string `json:"name"`
			Description string `json:"description"`
		} `json:"fields"`
	}
	if err := decodeJSON(TellusName, resp, &payload); err != nil {
		return nil, err
	}
	out := make(map[string]string, len(payload.Fields))
	for _, f := range payload.Fields {
		out[f.Name] = f.Description
	}
	return out, nil
}

func (t *Tellus) auth() url.Values {
	values := url.Values{}
	values.Set("key", t.cfg.APIKey)
	return values
}

func (t *Tellus) get(ctx context.Context, endpoint string, values url.Values) (response, error) {
	if t.cfg.APIKey == "" {
		return response{}, errors.New("tellus api key is not configured")
	}
	return t.http.do(ctx, func(ctx context.Context) (*http.Request, error) {
		r, err := http.NewRequestWithContext(ctx, http.MethodGet, t.cfg.BaseURL+"/"+endpoint+"?"+values.Encode(), nil)
		if err != nil {
			return nil, err
		}
		r.Header.Set("x-api-version", "v2")
		r.Header.Set("Accept", "application/json")
		return r, nil
	})
}
