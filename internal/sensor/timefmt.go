package sensor

import (
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
)

// NaiveLayout is the "YYYY-MM-DD HH:mm:SS" wire format used by the
// datalogger and gas-analyzer services.
const NaiveLayout = "2006-01-02 15:04:05"

// WireFormat identifies how a vendor encodes instants on the wire.
type WireFormat int

const (
	WireNaive WireFormat = iota
	WireISOOffset
	WireEpochMillis
)

// Normalizer converts between time.Time and one vendor wire format.
// Naive values are rendered and read in Location (UTC when nil).
type Normalizer struct {
	Format   WireFormat
	Location *time.Location
}

func (n Normalizer) loc() *time.Location {
	if n.Location == nil {
		return time.UTC
	}
	return n.Location
}

// Encode renders t in the vendor's wire format.
func (n Normalizer) Encode(t time.Time) string {
	switch n.Format {
	case WireISOOffset:
		return FormatISO(t)
	case WireEpochMillis:
		return strconv.FormatInt(EpochMillis(t), 10)
	default:
		return FormatNaive(t, n.loc())
	}
}

// Decode parses a wire value back into UTC.
func (n Normalizer) Decode(s string) (time.Time, error) {
	switch n.Format {
	case WireISOOffset:
		return ParseISO(s)
	case WireEpochMillis:
		ms, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
		if err != nil {
			return time.Time{}, errors.Wrapf(err, "parse epoch millis %q", s)
		}
		return FromEpochMillis(ms), nil
	default:
		return ParseNaive(s, n.loc())
	}
}

// ParseISO parses an ISO-8601 instant that carries an explicit offset.
// Local-naive input is rejected with ErrAmbiguousTime.
func ParseISO(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t.UTC(), nil
	}
	// +hhmm without the colon shows up in hand-written config.
	if t, err := time.Parse("2006-01-02T15:04:05-0700", s); err == nil {
		return t.UTC(), nil
	}
	for _, layout := range []string{"2006-01-02T15:04:05", "2006-01-02T15:04:05.999999999", NaiveLayout} {
		if _, err := time.Parse(layout, s); err == nil {
			return time.Time{}, errors.WithHint(
				errors.Wrapf(ErrAmbiguousTime, "%q", s),
				"append an offset such as Z or +00:00")
		}
	}
	return time.Time{}, errors.Newf("invalid ISO-8601 timestamp %q", s)
}

// FormatISO renders t as RFC 3339 with its offset, second precision.
func FormatISO(t time.Time) string {
	return t.Format(time.RFC3339)
}

// FormatNaive renders t as wall-clock time in loc without an offset.
func FormatNaive(t time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	return t.In(loc).Format(NaiveLayout)
}

// ParseNaive reads a wall-clock value in loc. A trailing "Z" marks UTC
// explicitly and overrides loc.
func ParseNaive(s string, loc *time.Location) (time.Time, error) {
	s = strings.TrimSpace(s)
	if loc == nil {
		loc = time.UTC
	}
	if strings.HasSuffix(s, "Z") {
		s = strings.TrimSuffix(s, "Z")
		loc = time.UTC
	}
	s = strings.Replace(s, "T", " ", 1)
	t, err := time.ParseInLocation(NaiveLayout, s, loc)
	if err != nil {
		return time.Time{}, errors.Wrapf(err, "parse naive timestamp %q", s)
	}
	return t.UTC(), nil
}

// EpochMillis returns Unix milliseconds.
func EpochMillis(t time.Time) int64 {
	return t.UnixMilli()
}

// FromEpochMillis converts Unix milliseconds to UTC.
func FromEpochMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}
