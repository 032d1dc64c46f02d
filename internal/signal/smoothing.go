package signal

import "github.com/cockroachdb/errors"

// SimpleMovingAverage returns, for each sample i, the mean of
// x[i-window/2 : i+window/2], clipped at the series edges.
func SimpleMovingAverage(x []float64, window int) ([]float64, error) {
	if window < 1 {
		return nil, errors.Newf("window %d must be positive", window)
	}
	prefix := make([]float64, len(x)+1)
	for i, v := range x {
		prefix[i+1] = prefix[i] + v
	}

	out := make([]float64, len(x))
	for i := range x {
		lo, hi := i-window/2, i+window/2
		if lo < 0 {
			lo = 0
		}
		if hi > len(x) {
			hi = len(x)
		}
		if hi <= lo {
			// window 1 selects an empty slice; fall back to the sample.
			out[i] = x[i]
			continue
		}
		out[i] = (prefix[hi] - prefix[lo]) / float64(hi-lo)
	}
	return out, nil
}

// ExponentialMovingAverage smooths x with alpha = 2/(span+1), seeded with
// the first sample and without bias adjustment.
func ExponentialMovingAverage(x []float64, span float64) ([]float64, error) {
	if span < 1 {
		return nil, errors.Newf("span %g must be at least 1", span)
	}
	alpha := 2 / (span + 1)
	out := make([]float64, len(x))
	for i, v := range x {
		if i == 0 {
			out[i] = v
			continue
		}
		out[i] = (1-alpha)*out[i-1] + alpha*v
	}
	return out, nil
}

// RemoveBackground denoises x below noiseCutoffHz, estimates the slow
// background drift below backgroundCutoffHz from the denoised series, and
// returns the denoised series minus that background.
func RemoveBackground(x []float64, samplingHz, noiseCutoffHz, backgroundCutoffHz float64) ([]float64, error) {
	denoised, err := LowpassButterworth(x, samplingHz, noiseCutoffHz)
	if err != nil {
		return nil, errors.Wrap(err, "denoise")
	}
	background, err := LowpassButterworth(denoised, samplingHz, backgroundCutoffHz)
	if err != nil {
		return nil, errors.Wrap(err, "background")
	}
	out := make([]float64, len(x))
	for i := range out {
		out[i] = denoised[i] - background[i]
	}
	return out, nil
}
