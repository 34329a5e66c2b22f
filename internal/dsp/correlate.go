package dsp

import (
	"errors"
	"math/cmplx"
	"sync"

	"gonum.org/v1/gonum/dsp/fourier"
)

// Correlator performs circular cross-correlation against a fixed template
// in the frequency domain. The template spectrum and FFT plan are computed
// once.
type Correlator struct {
	mu       sync.Mutex
	fft      *fourier.CmplxFFT
	conjSpec []complex128
	work     []complex128
}

// NewCorrelator prepares a correlator for template, whose length sets the
// correlation window.
func NewCorrelator(template []complex128) (*Correlator, error) {
	n := len(template)
	if n == 0 {
		return nil, errors.New("empty correlation template")
	}
	fft := fourier.NewCmplxFFT(n)
	spec := fft.Coefficients(nil, template)
	for i, v := range spec {
		spec[i] = cmplx.Conj(v)
	}
	return &Correlator{fft: fft, conjSpec: spec, work: make([]complex128, n)}, nil
}

// Len returns the correlation window in samples.
func (c *Correlator) Len() int { return len(c.conjSpec) }

// Correlate returns |r[k]| for every lag k of one window of samples, where
// r[k] peaks at the delay of samples relative to the template.
func (c *Correlator) Correlate(window []complex128) []float64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := len(c.conjSpec)
	clear(c.work)
	copy(c.work, window)
	spec := c.fft.Coefficients(nil, c.work)
	for i := range spec {
		spec[i] *= c.conjSpec[i]
	}
	seq := c.fft.Sequence(nil, spec)

	out := make([]float64, n)
	for i, v := range seq {
		out[i] = cmplx.Abs(v) / float64(n)
	}
	return out
}

// CorrelateAveraged removes the mean of samples, coherently averages every
// complete window and correlates the average. It returns nil when samples
// hold less than one window.
func (c *Correlator) CorrelateAveraged(samples []complex64) []float64 {
	avg := AverageChunks(RemoveMean(samples), c.Len())
	if avg == nil {
		return nil
	}
	return c.Correlate(avg)
}

// PowerAveraged removes the mean of samples, correlates every complete
// window separately and averages |r[k]|^2 across windows. Unlike
// CorrelateAveraged it tolerates phase drift between windows.
func (c *Correlator) PowerAveraged(samples []complex64) []float64 {
	n := c.Len()
	centred := RemoveMean(samples)
	chunks := len(centred) / n
	if chunks == 0 {
		return nil
	}
	avg := make([]float64, n)
	for k := 0; k < chunks; k++ {
		for i, v := range c.Correlate(centred[k*n : (k+1)*n]) {
			avg[i] += v * v
		}
	}
	for i := range avg {
		avg[i] /= float64(chunks)
	}
	return avg
}

// RemoveMean returns samples minus their mean as complex128.
func RemoveMean(samples []complex64) []complex128 {
	out := make([]complex128, len(samples))
	if len(samples) == 0 {
		return out
	}
	var mean complex128
	for _, v := range samples {
		mean += complex128(v)
	}
	mean /= complex(float64(len(samples)), 0)
	for i, v := range samples {
		out[i] = complex128(v) - mean
	}
	return out
}

// AverageChunks averages the complete size-sample chunks of samples. A
// trailing partial chunk is dropped.
func AverageChunks(samples []complex128, size int) []complex128 {
	if size <= 0 {
		return nil
	}
	chunks := len(samples) / size
	if chunks == 0 {
		return nil
	}
	avg := make([]complex128, size)
	for c := 0; c < chunks; c++ {
		for i, v := range samples[c*size : (c+1)*size] {
			avg[i] += v
		}
	}
	for i := range avg {
		avg[i] /= complex(float64(chunks), 0)
	}
	return avg
}

// Peak returns the index and value of the largest element of x.
func Peak(x []float64) (int, float64) {
	if len(x) == 0 {
		return -1, 0
	}
	best := 0
	for i, v := range x {
		if v > x[best] {
			best = i
		}
	}
	return best, x[best]
}

// RollToPeak rotates x so that its peak lands at index lead.
func RollToPeak(x []float64, lead int) []float64 {
	n := len(x)
	out := make([]float64, n)
	if n == 0 {
		return out
	}
	peak, _ := Peak(x)
	shift := ((peak-lead)%n + n) % n
	for i := range out {
		out[i] = x[(i+shift)%n]
	}
	return out
}
