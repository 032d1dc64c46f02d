package vendors

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/i474232898/sensor-data-aggregation/internal/common"
	"github.com/i474232898/sensor-data-aggregation/internal/sensor"
)

const (
	SenseCAPName    = "sensecap"
	SenseCAPBaseURL = "https://sensecap.seeed.cc/openapi"

	// SenseCAPMaxSpan is the widest window list_telemetry_data serves.
	SenseCAPMaxSpan = 30 * 24 * time.Hour
)

// senseCAPRangeCode is the error code for a query window the service refuses
// to serve in one response.
const senseCAPRangeCode = "11284"

// oversizedPhrases mark an error document that reports an oversized request.
// They name the window or the payload so that rate limit messages, which
// also mention limits, are not mistaken for truncation.
var oversizedPhrases = []string{"time range", "too large", "too many records", "data volume"}

// SenseCAPConfig configures the LoRaWAN adapter.
type SenseCAPConfig struct {
	APIID   string
	APIKey  string
	Devices []string // device EUIs used when the request names none
	BaseURL string
}

// SenseCAP reads LoRaWAN telemetry. The service reports an oversized request
// with an error document rather than a status code.
type SenseCAP struct {
	cfg   SenseCAPConfig
	http  *transport
	times sensor.Normalizer
}

func NewSenseCAP(cfg SenseCAPConfig, httpCfg HTTPClientConfig) *SenseCAP {
	if cfg.BaseURL == "" {
		cfg.BaseURL = SenseCAPBaseURL
	}
	return &SenseCAP{
		cfg:   cfg,
		http:  newTransport(SenseCAPName, httpCfg),
		times: sensor.Normalizer{Format: sensor.WireEpochMillis},
	}
}

func (s *SenseCAP) Name() string {
	return SenseCAPName
}

func (s *SenseCAP) Capability() sensor.Capability {
	return sensor.Capability{
		Signal:     sensor.CapErrorBody,
		Strategy:   sensor.Bisect,
		Resolution: time.Millisecond,
		MaxSpan:    SenseCAPMaxSpan,
	}
}

// envelope is the common response wrapper; code "0" means success.
type envelope struct {
	Code json.RawMessage `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

func (e envelope) code() string {
	return strings.Trim(string(e.Code), `" `)
}

func (e envelope) ok() bool {
	return e.code() == "0"
}

func (e envelope) oversized() bool {
	return e.code() == senseCAPRangeCode || common.HasAny(strings.ToLower(e.Msg), oversizedPhrases...)
}

// Devices resolves the device EUIs a request addresses: the request's own
// filter, else the configured defaults.
func (s *SenseCAP) Devices(req sensor.RetrievalRequest) []string {
	if len(req.Filters.Devices) > 0 {
		return req.Filters.Devices
	}
	return s.cfg.Devices
}

// Fetch reads one device's telemetry for the request range. A request that
// resolves to several devices must be split into one request per device
// first; Service.Retrieve does this.
func (s *SenseCAP) Fetch(ctx context.Context, req sensor.RetrievalRequest) (sensor.Fragment, error) {
	devices := s.Devices(req)
	switch len(devices) {
	case 0:
		return sensor.Fragment{}, errors.WithHint(errors.New("sensecap request names no device"), "set SENSECAP_DEVICES")
	case 1:
	default:
		return sensor.Fragment{}, errors.WithHint(
			errors.Newf("sensecap request names %d devices, want one", len(devices)),
			"run multi-device requests through the service so each device gets its own job")
	}
	eui := devices[0]

	values := url.Values{}
	values.Set("device_eui", eui)
	values.Set("time_start", s.times.Encode(req.Range.Start))
	values.Set("time_end", s.times.Encode(req.Range.End))
	if req.Filters.Channel != "" {
		values.Set("channel_index", req.Filters.Channel)
	}
	if len(req.Filters.Metrics) > 0 {
		values.Set("measurement_id", strings.Join(req.Filters.Metrics, ","))
	}

	env, err := s.get(ctx, "list_telemetry_data", values)
	if err != nil {
		return sensor.Fragment{}, err
	}
	records, err := s.parseTelemetry(eui, env.Data)
	if err != nil {
		return sensor.Fragment{}, err
	}
	return sensor.Fragment{Records: records}, nil
}

// parseTelemetry flattens data.list, which holds two parallel arrays: the
// [channel, measurement id] pairs and, per pair, the [value, time] points.
func (s *SenseCAP) parseTelemetry(eui string, data json.RawMessage) ([]sensor.Observation, error) {
	var body struct {
		List []json.RawMessage `json:"list"`
	}
	if len(data) == 0 || string(data) == "null" || string(data) == "[]" {
		return nil, nil
	}
	if err := json.Unmarshal(data, &body); err != nil {
		return nil, s.malformed(err.Error())
	}
	if len(body.List) == 0 {
		return nil, nil
	}
	if len(body.List) != 2 {
		return nil, s.malformed("data.list must hold sensor info and readings")
	}

	var info [][]json.RawMessage
	var points [][][]json.RawMessage
	if err := json.Unmarshal(body.List[0], &info); err != nil {
		return nil, s.malformed("sensor info: " + err.Error())
	}
	if err := json.Unmarshal(body.List[1], &points); err != nil {
		return nil, s.malformed("readings: " + err.Error())
	}
	if len(info) != len(points) {
		return nil, s.malformed("sensor info and readings differ in length")
	}

	var out []sensor.Observation
	for i, pair := range info {
		if len(pair) < 2 {
			return nil, s.malformed("sensor info entry needs channel and measurement id")
		}
		channel, measurement := scalar(pair[0]), scalar(pair[1])
		for _, p := range points[i] {
			if len(p) < 2 {
				return nil, s.malformed("reading needs value and time")
			}
			value, err := strconv.ParseFloat(scalar(p[0]), 64)
			if err != nil {
				continue
			}
			ts, err := s.parseTime(scalar(p[1]))
			if err != nil {
				return nil, s.malformed(err.Error())
			}
			out = append(out, sensecapObservation(eui, channel, measurement, value, ts))
		}
	}
	return out, nil
}

// DeviceEUIs lists the account's gateways and nodes.
func (s *SenseCAP) DeviceEUIs(ctx context.Context) (gateways, nodes []string, err error) {
	env, err := s.get(ctx, "device/list_euis", nil)
	if err != nil {
		return nil, nil, err
	}
	var data struct {
		Gateway []string `json:"gateway"`
		Node    []string `json:"node"`
	}
	if len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, &data); err != nil {
			return nil, nil, s.malformed(err.Error())
		}
	}
	return data.Gateway, data.Node, nil
}

// Latest returns the most recent reading of every channel and measurement
// of a device. Empty channel or measurement means all.
func (s *SenseCAP) Latest(ctx context.Context, eui, channel, measurement string) ([]sensor.Observation, error) {
	values := url.Values{}
	values.Set("device_eui", eui)
	if channel != "" {
		values.Set("channel_index", channel)
	}
	if measurement != "" {
		values.Set("measurement_id", measurement)
	}
	env, err := s.get(ctx, "view_latest_telemetry_data", values)
	if err != nil {
		return nil, err
	}

	var data []struct {
		ChannelIndex json.RawMessage `json:"channel_index"`
		Points       []struct {
			MeasurementID    json.RawMessage `json:"measurement_id"`
			MeasurementValue json.RawMessage `json:"measurement_value"`
			Time             json.RawMessage `json:"time"`
		} `json:"points"`
	}
	if err := json.Unmarshal(env.Data, &data); err != nil {
		return nil, s.malformed(err.Error())
	}

	var out []sensor.Observation
	for _, ch := range data {
		channel := scalar(ch.ChannelIndex)
		for _, p := range ch.Points {
			value, err := strconv.ParseFloat(scalar(p.MeasurementValue), 64)
			if err != nil {
				continue
			}
			ts, err := s.parseTime(scalar(p.Time))
			if err != nil {
				return nil, s.malformed(err.Error())
			}
			out = append(out, sensecapObservation(eui, channel, scalar(p.MeasurementID), value, ts))
		}
	}
	return sensor.MergeRecords(out), nil
}

// Aggregate returns the per-interval averages of one channel and measurement
// of a device over tr. A zero interval leaves the bucket width to the
// service, which defaults to an hour. Each average is stamped with the start
// of its bucket.
func (s *SenseCAP) Aggregate(ctx context.Context, eui string, tr sensor.TimeRange, channel, measurement string, interval time.Duration) ([]sensor.Observation, error) {
	if eui == "" {
		return nil, errors.New("sensecap aggregate needs a device")
	}
	values := url.Values{}
	values.Set("device_eui", eui)
	values.Set("time_start", s.times.Encode(tr.Start))
	values.Set("time_end", s.times.Encode(tr.End))
	if channel != "" {
		values.Set("channel_index", channel)
	}
	if measurement != "" {
		values.Set("measurement_id", measurement)
	}
	if minutes := int64(interval / time.Minute); minutes > 0 {
		values.Set("interval", strconv.FormatInt(minutes, 10))
	}
	env, err := s.get(ctx, "aggregate_chart_points", values)
	if err != nil {
		return nil, err
	}
	if len(env.Data) == 0 || string(env.Data) == "null" {
		return nil, nil
	}

	var data []struct {
		Channel json.RawMessage `json:"channel"`
		Lists   []struct {
			Time          json.RawMessage `json:"time"`
			MeasurementID json.RawMessage `json:"measurement_id"`
			AverageValue  json.RawMessage `json:"average_value"`
		} `json:"lists"`
	}
	if err := json.Unmarshal(env.Data, &data); err != nil {
		return nil, s.malformed(err.Error())
	}

	var out []sensor.Observation
	for _, ch := range data {
		chIndex := scalar(ch.Channel)
		for _, p := range ch.Lists {
			value, err := strconv.ParseFloat(scalar(p.AverageValue), 64)
			if err != nil {
				continue
			}
			ts, err := s.parseTime(scalar(p.Time))
			if err != nil {
				return nil, s.malformed(err.Error())
			}
			m := scalar(p.MeasurementID)
			if m == "" {
				m = measurement
			}
			out = append(out, sensecapObservation(eui, chIndex, m, value, ts))
		}
	}
	return sensor.MergeRecords(out), nil
}

// Channels returns the raw channel descriptions of a device.
func (s *SenseCAP) Channels(ctx context.Context, eui string) ([]map[string]interface{}, error) {
	env, err := s.get(ctx, "channel/list/"+url.PathEscape(eui), nil)
	if err != nil {
		return nil, err
	}
	var channels []map[string]interface{}
	if err := json.Unmarshal(env.Data, &channels); err != nil {
		return nil, s.malformed("unexpected response shape for channel list")
	}
	return channels, nil
}

func (s *SenseCAP) get(ctx context.Context, endpoint string, values url.Values) (envelope, error) {
	if s.cfg.APIID == "" || s.cfg.APIKey == "" {
		return envelope{}, errors.New("sensecap credentials are not configured")
	}
	resp, err := s.http.do(ctx, func(ctx context.Context) (*http.Request, error) {
		u := s.cfg.BaseURL + "/" + endpoint
		if len(values) > 0 {
			u += "?" + values.Encode()
		}
		r, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return nil, err
		}
		r.SetBasicAuth(s.cfg.APIID, s.cfg.APIKey)
		r.Header.Set("Accept", "application/json")
		return r, nil
	})
	if err != nil {
		return envelope{}, err
	}

	var env envelope
	decodeErr := json.Unmarshal(resp.Body, &env)

	if resp.Status >= 300 {
		if decodeErr == nil && env.oversized() {
			return envelope{}, errors.Wrapf(sensor.ErrTruncated, "sensecap: %s", env.Msg)
		}
		return envelope{}, checkStatus(SenseCAPName, resp)
	}
	if decodeErr != nil {
		return envelope{}, &sensor.MalformedResponseError{Vendor: SenseCAPName, Status: resp.Status, Detail: decodeErr.Error()}
	}
	if !env.ok() {
		if env.oversized() {
			return envelope{}, errors.Wrapf(sensor.ErrTruncated, "sensecap: %s", env.Msg)
		}
		return envelope{}, &sensor.RemoteError{
			Vendor:  SenseCAPName,
			Status:  resp.Status,
			Message: env.Msg + " (code " + env.code() + ")",
		}
	}
	return env, nil
}

// parseTime accepts epoch milliseconds or an ISO-8601 instant.
func (s *SenseCAP) parseTime(v string) (time.Time, error) {
	if ms, err := strconv.ParseInt(v, 10, 64); err == nil {
		return sensor.FromEpochMillis(ms), nil
	}
	return sensor.ParseISO(v)
}

func (s *SenseCAP) malformed(detail string) error {
	return &sensor.MalformedResponseError{Vendor: SenseCAPName, Status: http.StatusOK, Detail: detail}
}

// scalar renders a JSON string or number without quotes.
func scalar(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	var str string
	if err := json.Unmarshal(raw, &str); err == nil {
		return str
	}
	return string(raw)
}

func sensecapSensor(channel, measurement string) string {
	if channel == "" {
		return measurement
	}
	return channel + "." + measurement
}

// sensecapMeasurements maps the well-known measurement ids to their
// quantity and unit.
var sensecapMeasurements = map[string]struct {
	Type sensor.MeasurementType
	Unit string
}{
	"4097": {sensor.MeasurementTemperature, "°C"},
	"4098": {sensor.MeasurementHumidity, "%RH"},
	"4099": {sensor.MeasurementLight, "Lux"},
	"4100": {sensor.MeasurementCO2, "ppm"},
	"4101": {sensor.MeasurementPressure, "Pa"},
	"4105": {sensor.MeasurementWindSpeed, "m/s"},
	"4113": {sensor.MeasurementRain, "mm/h"},
}

func sensecapObservation(eui, channel, measurement string, value float64, ts time.Time) sensor.Observation {
	obs := sensor.Observation{
		Timestamp:       ts,
		Vendor:          SenseCAPName,
		Device:          eui,
		Sensor:          sensecapSensor(channel, measurement),
		Value:           value,
		MeasurementType: sensor.MeasurementUnknown,
	}
	if m, ok := sensecapMeasurements[measurement]; ok {
		obs.MeasurementType = m.Type
		obs.Unit = m.Unit
	}
	return obs
}
