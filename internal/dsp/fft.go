package dsp

import (
	"math"
	"math/cmplx"
	"sync"

	"gonum.org/v1/gonum/dsp/fourier"
)

// hamming returns a symmetric Hamming window of length n.
func hamming(n int) []float64 {
	win := make([]float64, n)
	if n == 1 {
		win[0] = 1
		return win
	}
	for i := range win {
		win[i] = 0.54 - 0.46*math.Cos(2*math.Pi*float64(i)/float64(n-1))
	}
	return win
}

// FFTShift rotates FFT output so that DC sits in the middle.
func FFTShift(data []complex128) []complex128 {
	n := len(data)
	out := make([]complex128, n)
	half := n / 2
	copy(out, data[half:])
	copy(out[n-half:], data[:half])
	return out
}

// Spectrum computes Hamming-windowed power spectra of a fixed size, reusing
// its window and FFT plan between calls.
type Spectrum struct {
	mu      sync.Mutex
	size    int
	window  []float64
	winSum  float64
	fft     *fourier.CmplxFFT
	scratch []complex128
}

func NewSpectrum(size int) *Spectrum {
	win := hamming(size)
	sum := 0.0
	for _, v := range win {
		sum += v
	}
	return &Spectrum{
		size:    size,
		window:  win,
		winSum:  sum,
		fft:     fourier.NewCmplxFFT(size),
		scratch: make([]complex128, size),
	}
}

// Size returns the transform length.
func (s *Spectrum) Size() int { return s.size }

// DBFS returns the centred spectrum of samples in dB relative to the 12-bit
// full scale. Only the first Size samples are used; shorter input is zero
// padded.
func (s *Spectrum) DBFS(samples []complex64) []float64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	clear(s.scratch)
	for i := 0; i < s.size && i < len(samples); i++ {
		v := samples[i]
		s.scratch[i] = complex(float64(real(v))*s.window[i], float64(imag(v))*s.window[i])
	}
	coeff := s.fft.Coefficients(nil, s.scratch)
	shifted := FFTShift(coeff)

	db := make([]float64, len(shifted))
	for i, v := range shifted {
		// Input is normalised, so full scale is magnitude 1.
		mag := cmplx.Abs(v) / s.winSum
		if mag == 0 {
			db[i] = math.Inf(-1)
			continue
		}
		db[i] = 20 * math.Log10(mag)
	}
	return db
}

// PeakFrequency returns the offset from the tuned centre, in Hz, of the
// strongest bin of db at the given sample rate.
func PeakFrequency(db []float64, sampleRate float64) float64 {
	if len(db) == 0 {
		return 0
	}
	best := 0
	for i, v := range db {
		if v > db[best] {
			best = i
		}
	}
	binWidth := sampleRate / float64(len(db))
	return float64(best-len(db)/2) * binWidth
}
