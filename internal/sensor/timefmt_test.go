package sensor

import (
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseISO(t *testing.T) {
	tests := []struct {
		in   string
		want time.Time
	}{
		{"2025-01-01T00:00:00+05:00", time.Date(2024, 12, 31, 19, 0, 0, 0, time.UTC)},
		{"2025-09-01T00:00:00Z", time.Date(2025, 9, 1, 0, 0, 0, 0, time.UTC)},
		{"2025-09-01T12:30:00.250-05:00", time.Date(2025, 9, 1, 17, 30, 0, 250e6, time.UTC)},
		{"2025-09-01T12:30:00-0500", time.Date(2025, 9, 1, 17, 30, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		got, err := ParseISO(tt.in)
		require.NoError(t, err, tt.in)
		assert.True(t, tt.want.Equal(got), "%s: got %s", tt.in, got)
		assert.Equal(t, time.UTC, got.Location())
	}
}

func TestParseISORejectsNaive(t *testing.T) {
	_, err := ParseISO("2025-10-01T00:00:00")
	assert.True(t, errors.Is(err, ErrAmbiguousTime))

	_, err = ParseISO("2025-10-01 00:00:00")
	assert.True(t, errors.Is(err, ErrAmbiguousTime))

	_, err = ParseISO("yesterday")
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrAmbiguousTime))
}

func TestNormalizerRoundTrip(t *testing.T) {
	chicago, err := time.LoadLocation("America/Chicago")
	require.NoError(t, err)
	instant := time.Date(2025, 7, 1, 17, 4, 5, 0, time.UTC)

	tests := []struct {
		name string
		n    Normalizer
		wire string
	}{
		{"naive utc", Normalizer{Format: WireNaive}, "2025-07-01 17:04:05"},
		{"naive chicago", Normalizer{Format: WireNaive, Location: chicago}, "2025-07-01 12:04:05"},
		{"iso", Normalizer{Format: WireISOOffset}, "2025-07-01T17:04:05Z"},
		{"epoch ms", Normalizer{Format: WireEpochMillis}, "1751389445000"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.wire, tt.n.Encode(instant))
			back, err := tt.n.Decode(tt.wire)
			require.NoError(t, err)
			assert.True(t, instant.Equal(back))
		})
	}
}

func TestParseNaiveVariants(t *testing.T) {
	want := time.Date(2023, 3, 1, 0, 0, 0, 0, time.UTC)
	for _, in := range []string{"2023-03-01 00:00:00", "2023-03-01 00:00:00Z", "2023-03-01T00:00:00"} {
		got, err := ParseNaive(in, nil)
		require.NoError(t, err, in)
		assert.True(t, want.Equal(got), in)
	}
}
