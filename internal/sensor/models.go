package sensor

import (
	"fmt"
	"time"

	"github.com/cockroachdb/errors"
)

// MeasurementType is the normalized physical quantity a reading describes.
type MeasurementType string

const (
	MeasurementUnknown     MeasurementType = "unknown"
	MeasurementTemperature MeasurementType = "temperature"
	MeasurementHumidity    MeasurementType = "humidity"
	MeasurementPressure    MeasurementType = "pressure"
	MeasurementCO2         MeasurementType = "co2"
	MeasurementCH4         MeasurementType = "ch4"
	MeasurementPM25        MeasurementType = "pm2_5"
	MeasurementPM10        MeasurementType = "pm10"
	MeasurementLight       MeasurementType = "light"
	MeasurementWindSpeed   MeasurementType = "wind_speed"
	MeasurementRain        MeasurementType = "rain"
	MeasurementBattery     MeasurementType = "battery"
)

// TimeRange is a half-open interval [Start, End).
type TimeRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// NewTimeRange returns a range or ErrInvalidRange when end precedes start.
func NewTimeRange(start, end time.Time) (TimeRange, error) {
	if end.Before(start) {
		return TimeRange{}, errors.Wrapf(ErrInvalidRange, "end %s before start %s",
			end.Format(time.RFC3339), start.Format(time.RFC3339))
	}
	return TimeRange{Start: start, End: end}, nil
}

// Width is End-Start.
func (r TimeRange) Width() time.Duration {
	return r.End.Sub(r.Start)
}

// Empty reports whether the range holds no instant.
func (r TimeRange) Empty() bool {
	return !r.Start.Before(r.End)
}

// Contains reports Start <= t < End.
func (r TimeRange) Contains(t time.Time) bool {
	return !t.Before(r.Start) && t.Before(r.End)
}

func (r TimeRange) String() string {
	return fmt.Sprintf("[%s, %s)", r.Start.UTC().Format(time.RFC3339Nano), r.End.UTC().Format(time.RFC3339Nano))
}

// Filters narrow a request to particular devices, metrics or a logger.
type Filters struct {
	Devices []string `json:"devices,omitempty"`
	Metrics []string `json:"metrics,omitempty"`
	Logger  string   `json:"logger,omitempty"`
	Channel string   `json:"channel,omitempty"`
}

// RetrievalRequest is read-only once built; splitting clones it with a
// narrower range.
type RetrievalRequest struct {
	Range   TimeRange `json:"range"`
	Filters Filters   `json:"filters"`
}

// WithRange returns a copy of the request covering r.
func (q RetrievalRequest) WithRange(r TimeRange) RetrievalRequest {
	q.Range = r
	return q
}

// Observation is a single reading on the common schema.
type Observation struct {
	Timestamp       time.Time       `json:"timestamp"` // always UTC
	Vendor          string          `json:"vendor"`
	Device          string          `json:"device"`
	Station         string          `json:"station"`
	Sensor          string          `json:"sensor"`
	Value           float64         `json:"value"`
	Unit            string          `json:"unit"`
	MeasurementType MeasurementType `json:"measurement_type"`
}

// Less orders by timestamp, then station, device and sensor.
func (o Observation) Less(p Observation) bool {
	if !o.Timestamp.Equal(p.Timestamp) {
		return o.Timestamp.Before(p.Timestamp)
	}
	if o.Station != p.Station {
		return o.Station < p.Station
	}
	if o.Device != p.Device {
		return o.Device < p.Device
	}
	return o.Sensor < p.Sensor
}

// Fragment is one vendor call's worth of records.
type Fragment struct {
	Records   []Observation
	Truncated bool
}

// CapSignal is how a vendor tells the caller it hit its result cap.
type CapSignal int

const (
	// CapRecordCount: a page holding exactly Threshold records is truncated.
	CapRecordCount CapSignal = iota
	// CapHTTPStatus: the vendor answers with Status (e.g. 413) and no payload.
	CapHTTPStatus
	// CapErrorBody: the vendor answers with an error document describing the limit.
	CapErrorBody
)

func (s CapSignal) String() string {
	switch s {
	case CapRecordCount:
		return "record_count"
	case CapHTTPStatus:
		return "http_status"
	case CapErrorBody:
		return "error_body"
	default:
		return "unknown"
	}
}

// SplitStrategy is how a truncated range is carved up.
type SplitStrategy int

const (
	// AdvanceFromLastTimestamp keeps the partial page and continues after
	// its latest timestamp.
	AdvanceFromLastTimestamp SplitStrategy = iota
	// Bisect discards the response and resolves both halves independently.
	Bisect
)

func (s SplitStrategy) String() string {
	switch s {
	case AdvanceFromLastTimestamp:
		return "advance"
	case Bisect:
		return "bisect"
	default:
		return "unknown"
	}
}

// Capability is the static description of a vendor's cap behaviour.
type Capability struct {
	Signal    CapSignal
	Threshold int // records per page for CapRecordCount
	Status    int // HTTP status for CapHTTPStatus
	Strategy  SplitStrategy

	// Resolution is the smallest time increment the vendor's wire format
	// can express. Zero means one second.
	Resolution time.Duration

	// MaxSpan, when positive, is the widest range a single call may cover.
	MaxSpan time.Duration
}

func (c Capability) resolution() time.Duration {
	if c.Resolution <= 0 {
		return time.Second
	}
	return c.Resolution
}
