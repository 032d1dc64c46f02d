// Package signal smooths and summarizes regularly sampled sensor series.
package signal

import (
	"math"
	"math/cmplx"

	"github.com/cockroachdb/errors"
)

// ErrTooShort is returned when a series is too short for the filter's
// edge padding.
var ErrTooShort = errors.New("series too short to filter")

// Butter designs a digital low-pass Butterworth filter of the given order.
// cutoff is normalized to the Nyquist frequency and must lie in (0, 1).
// It returns the numerator b and denominator a with a[0] == 1.
func Butter(order int, cutoff float64) (b, a []float64, err error) {
	if order < 1 {
		return nil, nil, errors.Newf("filter order %d must be positive", order)
	}
	if !(cutoff > 0 && cutoff < 1) {
		return nil, nil, errors.Newf("normalized cutoff %g must lie in (0, 1)", cutoff)
	}

	// Analog prototype poles on the left half of the unit circle.
	poles := make([]complex128, order)
	for k := 0; k < order; k++ {
		theta := math.Pi * float64(2*k+order+1) / float64(2*order)
		poles[k] = cmplx.Exp(complex(0, theta))
	}

	// Pre-warp and scale to the cutoff (sample rate 2, so fs2 = 4).
	const fs2 = 4.0
	warped := fs2 * math.Tan(math.Pi*cutoff/2)
	gain := math.Pow(warped, float64(order))
	for i := range poles {
		poles[i] *= complex(warped, 0)
	}

	// Bilinear transform; every zero lands on z = -1.
	zPoles := make([]complex128, order)
	denom := complex(1, 0)
	for i, p := range poles {
		zPoles[i] = (complex(fs2, 0) + p) / (complex(fs2, 0) - p)
		denom *= complex(fs2, 0) - p
	}
	gain /= real(denom)

	zeros := make([]complex128, order)
	for i := range zeros {
		zeros[i] = -1
	}
	b = realPoly(zeros)
	for i := range b {
		b[i] *= gain
	}
	a = realPoly(zPoles)
	return b, a, nil
}

// realPoly expands prod(x - r) and returns the real coefficients, highest
// power first.
func realPoly(roots []complex128) []float64 {
	c := []complex128{1}
	for _, r := range roots {
		next := make([]complex128, len(c)+1)
		for i, v := range c {
			next[i] += v
			next[i+1] -= v * r
		}
		c = next
	}
	out := make([]float64, len(c))
	for i, v := range c {
		out[i] = real(v)
	}
	return out
}

// LowpassButterworth removes content above cutoffHz from x sampled at
// samplingHz with an order-3 Butterworth filter run forward and backward,
// so the output has no phase shift.
func LowpassButterworth(x []float64, samplingHz, cutoffHz float64) ([]float64, error) {
	if samplingHz <= 0 {
		return nil, errors.Newf("sampling frequency %g must be positive", samplingHz)
	}
	b, a, err := Butter(3, cutoffHz/(samplingHz/2))
	if err != nil {
		return nil, err
	}
	return FiltFilt(b, a, x)
}

// FiltFilt applies the filter (b, a) forward then backward. The series is
// extended at both ends by odd reflection over 3*max(len(a), len(b))
// samples, and the filter state starts at its steady state for the edge
// value.
func FiltFilt(b, a, x []float64) ([]float64, error) {
	b, a = normalize(b, a)
	n := len(a)
	if len(b) > n {
		n = len(b)
	}
	padlen := 3 * n
	if len(x) <= padlen {
		return nil, errors.Wrapf(ErrTooShort, "need more than %d samples, got %d", padlen, len(x))
	}

	ext := make([]float64, 0, len(x)+2*padlen)
	for i := padlen; i >= 1; i-- {
		ext = append(ext, 2*x[0]-x[i])
	}
	ext = append(ext, x...)
	last := len(x) - 1
	for i := 1; i <= padlen; i++ {
		ext = append(ext, 2*x[last]-x[last-i])
	}

	zi, err := lfilterZi(b, a)
	if err != nil {
		return nil, err
	}

	y := lfilter(b, a, ext, scaled(zi, ext[0]))
	reverse(y)
	y = lfilter(b, a, y, scaled(zi, y[0]))
	reverse(y)

	return y[padlen : len(y)-padlen], nil
}

func normalize(b, a []float64) ([]float64, []float64) {
	n := len(a)
	if len(b) > n {
		n = len(b)
	}
	nb := make([]float64, n)
	na := make([]float64, n)
	copy(nb, b)
	copy(na, a)
	if na[0] != 1 {
		for i := range nb {
			nb[i] /= na[0]
		}
		for i := len(na) - 1; i >= 0; i-- {
			na[i] /= na[0]
		}
	}
	return nb, na
}

// lfilter runs a direct form II transposed filter with initial state zi.
func lfilter(b, a, x, zi []float64) []float64 {
	n := len(a)
	z := make([]float64, n-1)
	copy(z, zi)
	y := make([]float64, len(x))
	for i, xi := range x {
		yi := b[0]*xi + z[0]
		for k := 0; k < n-2; k++ {
			z[k] = b[k+1]*xi + z[k+1] - a[k+1]*yi
		}
		z[n-2] = b[n-1]*xi - a[n-1]*yi
		y[i] = yi
	}
	return y
}

// lfilterZi solves for the state of a unit-step steady response:
// (I - C^T) zi = b[1:] - a[1:]*b[0], with C the companion matrix of a.
func lfilterZi(b, a []float64) ([]float64, error) {
	m := len(a) - 1
	mat := make([][]float64, m)
	rhs := make([]float64, m)
	for i := 0; i < m; i++ {
		mat[i] = make([]float64, m)
		mat[i][i] = 1
		// C^T has -a[1:] down its first column and ones above the diagonal.
		mat[i][0] += a[i+1]
		if i+1 < m {
			mat[i][i+1] -= 1
		}
		rhs[i] = b[i+1] - a[i+1]*b[0]
	}
	return solve(mat, rhs)
}

// solve performs Gaussian elimination with partial pivoting.
func solve(m [][]float64, v []float64) ([]float64, error) {
	n := len(v)
	for col := 0; col < n; col++ {
		pivot := col
		for r := col + 1; r < n; r++ {
			if math.Abs(m[r][col]) > math.Abs(m[pivot][col]) {
				pivot = r
			}
		}
		if math.Abs(m[pivot][col]) < 1e-14 {
			return nil, errors.New("singular filter state matrix")
		}
		m[col], m[pivot] = m[pivot], m[col]
		v[col], v[pivot] = v[pivot], v[col]
		for r := col + 1; r < n; r++ {
			f := m[r][col] / m[col][col]
			for c := col; c < n; c++ {
				m[r][c] -= f * m[col][c]
			}
			v[r] -= f * v[col]
		}
	}
	out := make([]float64, n)
	for r := n - 1; r >= 0; r-- {
		s := v[r]
		for c := r + 1; c < n; c++ {
			s -= m[r][c] * out[c]
		}
		out[r] = s / m[r][r]
	}
	return out, nil
}

func scaled(v []float64, k float64) []float64 {
	out := make([]float64, len(v))
	for i := range v {
		out[i] = v[i] * k
	}
	return out
}

func reverse(v []float64) {
	for i, j := 0, len(v)-1; i < j; i, j = i+1, j-1 {
		v[i], v[j] = v[j], v[i]
	}
}
