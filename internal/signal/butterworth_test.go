package signal

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestButterCoefficients(t *testing.T) {
	b, a, err := Butter(3, 0.5)
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{1.0 / 6, 0.5, 0.5, 1.0 / 6}, b, 1e-12)
	assert.InDeltaSlice(t, []float64{1, 0, 1.0 / 3, 0}, a, 1e-12)
}

func TestButterRejectsBadCutoff(t *testing.T) {
	_, _, err := Butter(3, 1)
	assert.Error(t, err)
	_, _, err = Butter(0, 0.2)
	assert.Error(t, err)
}

func TestLowpassKeepsConstant(t *testing.T) {
	x := make([]float64, 200)
	for i := range x {
		x[i] = 1.98
	}
	y, err := LowpassButterworth(x, 1.0/6, 1.0/120)
	require.NoError(t, err)
	require.Len(t, y, len(x))
	for i := range y {
		assert.InDelta(t, 1.98, y[i], 1e-9, "sample %d", i)
	}
}

func TestLowpassAttenuatesHighFrequency(t *testing.T) {
	x := make([]float64, 400)
	for i := range x {
		x[i] = 5 + math.Pow(-1, float64(i))
	}
	y, err := LowpassButterworth(x, 1, 0.1)
	require.NoError(t, err)
	for i := 100; i < 300; i++ {
		assert.InDelta(t, 5.0, y[i], 1e-3, "sample %d", i)
	}
}

func TestLowpassPreservesSlowTrend(t *testing.T) {
	x := make([]float64, 300)
	for i := range x {
		x[i] = 0.01 * float64(i)
	}
	y, err := LowpassButterworth(x, 1, 0.2)
	require.NoError(t, err)
	for i := range y {
		assert.InDelta(t, x[i], y[i], 1e-3, "sample %d", i)
	}
}

func TestFiltFiltTooShort(t *testing.T) {
	_, err := LowpassButterworth(make([]float64, 12), 1, 0.1)
	assert.ErrorIs(t, err, ErrTooShort)
}
