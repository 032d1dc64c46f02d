// Package export writes and reads observations as CSV tables. Files ending
// in .gz or .zst are compressed transparently.
package export

import (
	"encoding/csv"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"

	"github.com/i474232898/sensor-data-aggregation/internal/sensor"
)

// Columns is the header row of every exported table.
var Columns = []string{"timestamp", "station", "sensor", "value", "unit", "measurement_type", "vendor", "device"}

// WriteCSV writes the header and one row per observation.
func WriteCSV(w io.Writer, records []sensor.Observation) error {
	writer := csv.NewWriter(w)
	if err := writer.Write(Columns); err != nil {
		return errors.Wrap(err, "failed to write headers")
	}
	for _, r := range records {
		row := []string{
			r.Timestamp.UTC().Format(time.RFC3339Nano),
			r.Station,
			r.Sensor,
			strconv.FormatFloat(r.Value, 'g', -1, 64),
			r.Unit,
			string(r.MeasurementType),
			r.Vendor,
			r.Device,
		}
		if err := writer.Write(row); err != nil {
			return errors.Wrap(err, "failed to write row")
		}
	}
	writer.Flush()
	return errors.Wrap(writer.Error(), "failed to flush csv")
}

// ReadCSV parses a table written by WriteCSV. Columns are matched by
// header name, so extra or reordered columns are tolerated.
func ReadCSV(r io.Reader) ([]sensor.Observation, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, errors.Wrap(err, "failed to read headers")
	}
	idx := make(map[string]int, len(header))
	for i, h := range header {
		idx[strings.TrimSpace(strings.ToLower(h))] = i
	}
	for _, required := range []string{"timestamp", "value"} {
		if _, ok := idx[required]; !ok {
			return nil, errors.Newf("csv has no %q column", required)
		}
	}

	field := func(row []string, name string) string {
		i, ok := idx[name]
		if !ok || i >= len(row) {
			return ""
		}
		return row[i]
	}

	var out []sensor.Observation
	for line := 2; ; line++ {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.Wrapf(err, "line %d", line)
		}
		ts, err := sensor.ParseISO(field(row, "timestamp"))
		if err != nil {
			return nil, errors.Wrapf(err, "line %d", line)
		}
		value, err := strconv.ParseFloat(field(row, "value"), 64)
		if err != nil {
			return nil, errors.Wrapf(err, "line %d", line)
		}
		out = append(out, sensor.Observation{
			Timestamp:       ts,
			Station:         field(row, "station"),
			Sensor:          field(row, "sensor"),
			Value:           value,
			Unit:            field(row, "unit"),
			MeasurementType: sensor.MeasurementType(field(row, "measurement_type")),
			Vendor:          field(row, "vendor"),
			Device:          field(row, "device"),
		})
	}
	return out, nil
}

// WriteFile writes records to path, compressing by suffix.
func WriteFile(path string, records []sensor.Observation) (err error) {
	file, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "failed to create CSV file")
	}
	defer func() {
		if cerr := file.Close(); err == nil {
			err = cerr
		}
	}()

	var w io.WriteCloser
	switch {
	case strings.HasSuffix(path, ".gz"):
		w = gzip.NewWriter(file)
	case strings.HasSuffix(path, ".zst"):
		enc, err := zstd.NewWriter(file)
		if err != nil {
			return errors.Wrap(err, "failed to create zstd encoder")
		}
		w = enc
	default:
		return WriteCSV(file, records)
	}

	if err := WriteCSV(w, records); err != nil {
		_ = w.Close()
		return err
	}
	return errors.Wrap(w.Close(), "failed to finish compressed stream")
}

// ReadFile reads records from path, decompressing by suffix.
func ReadFile(path string) ([]sensor.Observation, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open CSV file")
	}
	defer file.Close()

	switch {
	case strings.HasSuffix(path, ".gz"):
		zr, err := gzip.NewReader(file)
		if err != nil {
			return nil, errors.Wrap(err, "failed to open gzip stream")
		}
		defer zr.Close()
		return ReadCSV(zr)
	case strings.HasSuffix(path, ".zst"):
		dec, err := zstd.NewReader(file)
		if err != nil {
			return nil, errors.Wrap(err, "failed to open zstd stream")
		}
		defer dec.Close()
		return ReadCSV(dec)
	default:
		return ReadCSV(file)
	}
}
