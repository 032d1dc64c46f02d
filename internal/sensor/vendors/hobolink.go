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
	HOBOlinkName      = "hobolink"
	HOBOlinkBaseURL   = "https://webservice.hobolink.com/ws/data/file/JSON/user"
	HOBOlinkAuthURL   = "https://webservice.hobolink.com/ws/auth/token"
	HOBOlinkRecordCap = 100000
)

// HOBOlinkConfig configures the datalogger adapter.
type HOBOlinkConfig struct {
	UserID   string
	LoggerID string // default logger when the request names none
	BaseURL  string
	Location *time.Location // zone used to render naive wire timestamps
}

// HOBOlink reads datalogger observations. It returns at most 100000
// records per call and serves a cut page without any other signal, so
// the engine advances from the last timestamp received.
type HOBOlink struct {
	cfg    HOBOlinkConfig
	tokens TokenProvider
	http   *transport
	times  sensor.Normalizer
}

func NewHOBOlink(cfg HOBOlinkConfig, tokens TokenProvider, httpCfg HTTPClientConfig) *HOBOlink {
	if cfg.BaseURL == "" {
		cfg.BaseURL = HOBOlinkBaseURL
	}
	return &HOBOlink{
		cfg:    cfg,
		tokens: tokens,
		http:   newTransport(HOBOlinkName, httpCfg),
		times:  sensor.Normalizer{Format: sensor.WireNaive, Location: cfg.Location},
	}
}

func (h *HOBOlink) Name() string {
	return HOBOlinkName
}

func (h *HOBOlink) Capability() sensor.Capability {
	return sensor.Capability{
		Signal:     sensor.CapRecordCount,
		Threshold:  HOBOlinkRecordCap,
		Strategy:   sensor.AdvanceFromLastTimestamp,
		Resolution: time.Second,
	}
}

type hobolinkObservation struct {
	LoggerSN        string   `json:"logger_sn"`
	SensorSN        string   `json:"sensor_sn"`
	Timestamp       string   `json:"timestamp"`
	SIValue         *float64 `json:"si_value"`
	SIUnit          string   `json:"si_unit"`
	MeasurementType string   `json:"sensor_measurement_type"`
}

func (h *HOBOlink) Fetch(ctx context.Context, req sensor.RetrievalRequest) (sensor.Fragment, error) {
	if h.cfg.UserID == "" {
		return sensor.Fragment{}, errors.New("hobolink user id is not configured")
	}
	logger := req.Filters.Logger
	if logger == "" {
		logger = strings.Join(req.Filters.Devices, ",")
	}
	if logger == "" {
		logger = h.cfg.LoggerID
	}
	if logger == "" {
		return sensor.Fragment{}, errors.WithHint(
			errors.New("hobolink request names no logger"),
			"set HOBOLINK_LOGGER_ID or pass a device")
	}

	token, err := h.tokens.Token(ctx)
	if err != nil {
		return sensor.Fragment{}, err
	}

	buildRequest := func(ctx context.Context) (*http.Request, error) {
		values := url.Values{}
		values.Set("loggers", logger)
		values.Set("start_date_time", h.times.Encode(req.Range.Start))
		values.Set("end_date_time", h.times.Encode(req.Range.End))

		u := h.cfg.BaseURL + "/" + url.PathEscape(h.cfg.UserID) + "?" + values.Encode()
		r, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return nil, err
		}
		bearer(r, token)
		return r, nil
	}

	resp, err := h.http.do(ctx, buildRequest)
	if err != nil {
		return sensor.Fragment{}, err
	}
	if err := checkStatus(HOBOlinkName, resp); err != nil {
		return sensor.Fragment{}, err
	}

	var payload struct {
		ObservationList []hobolinkObservation `json:"observation_list"`
	}
	if err := decodeJSON(HOBOlinkName, resp, &payload); err != nil {
		return sensor.Fragment{}, err
	}

	records := make([]sensor.Observation, 0, len(payload.ObservationList))
	for _, o := range payload.ObservationList {
		if o.SIValue == nil {
			continue
		}
		ts, err := h.times.Decode(o.Timestamp)
		if err != nil {
			return sensor.Fragment{}, &sensor.MalformedResponseError{Vendor: HOBOlinkName, Status: resp.Status, Detail: err.Error()}
		}
		records = append(records, sensor.Observation{
			Timestamp:       ts,
			Vendor:          HOBOlinkName,
			Device:          o.LoggerSN,
			Sensor:          hobolinkSensor(o),
			Value:           *o.SIValue,
			Unit:            o.SIUnit,
			MeasurementType: sensor.InferMeasurementType(o.MeasurementType, o.SIUnit),
		})
	}
	// The cap counts rows served, including rows without a value.
	return sensor.Fragment{
		Records:   records,
		Truncated: len(payload.ObservationList) >= HOBOlinkRecordCap,
	}, nil
}

func hobolinkSensor(o hobolinkObservation) string {
	if o.MeasurementType == "" {
		return o.SensorSN
	}
	if o.SensorSN == "" {
		return o.MeasurementType
	}
	return o.MeasurementType + " (" + o.SensorSN + ")"
}
