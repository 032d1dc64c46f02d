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
	LicorName      = "licor"
	LicorBaseURL   = "https://api.licor.cloud/v1/data"
	LicorRecordCap = 100000
)

// LicorConfig configures the gas-analyzer cloud adapter.
type LicorConfig struct {
	Devices  []string // used when the request names none
	BaseURL  string
	Location *time.Location
}

// Licor reads gas-analyzer data. A full page means the service thinned the
// result to fit its cap, so the page is discarded and the range bisected.
type Licor struct {
	cfg    LicorConfig
	tokens TokenProvider
	http   *transport
	times  sensor.Normalizer
}

func NewLicor(cfg LicorConfig, tokens TokenProvider, httpCfg HTTPClientConfig) *Licor {
	if cfg.BaseURL == "" {
		cfg.BaseURL = LicorBaseURL
	}
	return &Licor{
		cfg:    cfg,
		tokens: tokens,
		http:   newTransport(LicorName, httpCfg),
		times:  sensor.Normalizer{Format: sensor.WireNaive, Location: cfg.Location},
	}
}

func (l *Licor) Name() string {
	return LicorName
}

func (l *Licor) Capability() sensor.Capability {
	return sensor.Capability{
		Signal:     sensor.CapRecordCount,
		Threshold:  LicorRecordCap,
		Strategy:   sensor.Bisect,
		Resolution: time.Second,
	}
}

type licorRecord struct {
	Timestamp       string   `json:"timestamp"`
	Logger          string   `json:"logger"`
	Sensor          string   `json:"sensor"`
	MeasurementType string   `json:"measurementType"`
	Value           *float64 `json:"value"`
	Units           string   `json:"units"`
}

func (l *Licor) Fetch(ctx context.Context, req sensor.RetrievalRequest) (sensor.Fragment, error) {
	devices := req.Filters.Devices
	if len(devices) == 0 {
		devices = l.cfg.Devices
	}
	if len(devices) == 0 {
		return sensor.Fragment{}, errors.WithHint(errors.New("licor request names no device"), "set LICOR_DEVICES")
	}

	token, err := l.tokens.Token(ctx)
	if err != nil {
		return sensor.Fragment{}, err
	}

	buildRequest := func(ctx context.Context) (*http.Request, error) {
		values := url.Values{}
		values.Set("loggers", strings.Join(devices, ","))
		values.Set("start_date_time", l.times.Encode(req.Range.Start))
		values.Set("end_date_time", l.times.Encode(req.Range.End))

		r, err := http.NewRequestWithContext(ctx, http.MethodGet, l.cfg.BaseURL+"?"+values.Encode(), nil)
		if err != nil {
			return nil, err
		}
		bearer(r, token)
		return r, nil
	}

	resp, err := l.http.do(ctx, buildRequest)
	if err != nil {
		return sensor.Fragment{}, err
	}
	if err := checkStatus(LicorName, resp); err != nil {
		return sensor.Fragment{}, err
	}

	var payload struct {
		Data []licorRecord `json:"data"`
	}
	if err := decodeJSON(LicorName, resp, &payload); err != nil {
		return sensor.Fragment{}, err
	}
	if len(payload.Data) >= LicorRecordCap {
		return sensor.Fragment{Truncated: true}, nil
	}

	records := make([]sensor.Observation, 0, len(payload.Data))
	for _, d := range payload.Data {
		if d.Value == nil {
			continue
		}
		ts, err := l.times.Decode(d.Timestamp)
		if err != nil {
			return sensor.Fragment{}, &sensor.MalformedResponseError{Vendor: LicorName, Status: resp.Status, Detail: err.Error()}
		}
		name := d.Sensor
		if name == "" {
			name = d.MeasurementType
		}
		records = append(records, sensor.Observation{
			Timestamp:       ts,
			Vendor:          LicorName,
			Device:          d.Logger,
			Sensor:          name,
			Value:           *d.Value,
			Unit:            d.Units,
			MeasurementType: sensor.InferMeasurementType(d.MeasurementType+" "+d.Sensor, d.Units),
		})
	}
	return sensor.Fragment{Records: records}, nil
}
