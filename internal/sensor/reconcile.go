package sensor

import (
	"sort"
	"strings"

	"github.com/i474232898/sensor-data-aggregation/internal/common"
)

// UnitConversion rewrites values recorded in one of From into To.
type UnitConversion struct {
	From    []string
	To      string
	Convert func(float64) float64
}

func (c UnitConversion) matches(unit string) bool {
	u := normalizeUnit(unit)
	for _, f := range c.From {
		if normalizeUnit(f) == u {
			return true
		}
	}
	return false
}

// CelsiusToFahrenheit converts temperature readings to °F.
var CelsiusToFahrenheit = UnitConversion{
	From:    []string{"°C", "C", "degC", "celsius", "deg C"},
	To:      "°F",
	Convert: func(v float64) float64 { return v*9/5 + 32 },
}

// PascalToHectopascal converts barometric pressure to hPa.
var PascalToHectopascal = UnitConversion{
	From:    []string{"Pa", "pascal"},
	To:      "hPa",
	Convert: func(v float64) float64 { return v / 100 },
}

// DefaultConversions is the unit policy used for plotting: temperatures in
// Fahrenheit, pressure in hectopascal.
func DefaultConversions() map[MeasurementType]UnitConversion {
	return map[MeasurementType]UnitConversion{
		MeasurementTemperature: CelsiusToFahrenheit,
		MeasurementPressure:    PascalToHectopascal,
	}
}

// Reconciler maps vendor records onto the common schema. It holds no state
// beyond its configuration and performs no I/O.
type Reconciler struct {
	// Labels maps a device (or logger) id to a human-readable station label.
	Labels map[string]string
	// Conversions apply per measurement type when the record unit matches.
	Conversions map[MeasurementType]UnitConversion
}

// NewReconciler creates a Reconciler with the default unit conversions.
func NewReconciler(labels map[string]string) *Reconciler {
	return &Reconciler{
		Labels:      labels,
		Conversions: DefaultConversions(),
	}
}

// Reconcile normalizes every vendor's records and merges them into a single
// ordered sequence. Vendors are visited in name order.
func (rc *Reconciler) Reconcile(byVendor map[string][]Observation) []Observation {
	vendors := make([]string, 0, len(byVendor))
	for v := range byVendor {
		vendors = append(vendors, v)
	}
	sort.Strings(vendors)

	seqs := make([][]Observation, 0, len(vendors))
	for _, v := range vendors {
		recs := byVendor[v]
		out := make([]Observation, len(recs))
		for i, rec := range recs {
			if rec.Vendor == "" {
				rec.Vendor = v
			}
			out[i] = rc.Normalize(rec)
		}
		seqs = append(seqs, out)
	}
	return MergeRecords(seqs...)
}

// Normalize applies labelling, measurement-type inference and unit
// conversion to a single record.
func (rc *Reconciler) Normalize(rec Observation) Observation {
	rec.Timestamp = rec.Timestamp.UTC()

	if label, ok := rc.Labels[rec.Device]; ok && label != "" {
		rec.Station = label
	} else if rec.Station == "" {
		rec.Station = rec.Device
	}

	if rec.MeasurementType == "" || rec.MeasurementType == MeasurementUnknown {
		rec.MeasurementType = InferMeasurementType(rec.Sensor, rec.Unit)
	}

	if conv, ok := rc.Conversions[rec.MeasurementType]; ok && conv.matches(rec.Unit) {
		rec.Value = conv.Convert(rec.Value)
		rec.Unit = conv.To
	}
	return rec
}

// InferMeasurementType guesses the quantity from a vendor sensor name such
// as "sunrise.co2", "bme280.pressure" or "Temperature (S-THB 21079800)".
func InferMeasurementType(sensor, unit string) MeasurementType {
	s := strings.ToLower(sensor)
	switch {
	case common.HasAny(s, "pm2_5", "pm2.5", "d2_5", "pm25"):
		return MeasurementPM25
	case common.HasAny(s, "pm10", "d10"):
		return MeasurementPM10
	case common.HasAny(s, "co2", "carbon dioxide"):
		return MeasurementCO2
	case common.HasAny(s, "ch4", "methane"):
		return MeasurementCH4
	case common.HasAny(s, "temp"):
		return MeasurementTemperature
	case common.HasAny(s, "humid", ".rh", "_rh") || s == "rh":
		return MeasurementHumidity
	case common.HasAny(s, "press", "baro"):
		return MeasurementPressure
	case common.HasAny(s, "light", "lux", "solar"):
		return MeasurementLight
	case common.HasAny(s, "wind"):
		return MeasurementWindSpeed
	case common.HasAny(s, "rain", "precip"):
		return MeasurementRain
	case common.HasAny(s, "battery", "batt"):
		return MeasurementBattery
	}

	switch normalizeUnit(unit) {
	case "°c", "°f", "c", "f", "degc", "degf":
		return MeasurementTemperature
	case "%rh":
		return MeasurementHumidity
	case "hpa", "pa", "kpa", "mbar":
		return MeasurementPressure
	case "lux":
		return MeasurementLight
	}
	return MeasurementUnknown
}

func normalizeUnit(u string) string {
	return strings.ToLower(strings.ReplaceAll(strings.TrimSpace(u), " ", ""))
}
