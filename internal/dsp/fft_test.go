package dsp

import (
	"math"
	"testing"
)

func TestSpectrumPeak(t *testing.T) {
	n := 64
	sampleRate := 64_000.0
	data := make([]complex64, n)
	for i := 0; i < n; i++ {
		phase := 2 * math.Pi * 4 * float64(i) / float64(n)
		data[i] = complex64(complex(math.Cos(phase), math.Sin(phase)))
	}
	s := NewSpectrum(n)
	db := s.DBFS(data)
	if len(db) != n {
		t.Fatalf("unexpected length %d", len(db))
	}
	if got := PeakFrequency(db, sampleRate); got != 4000 {
		t.Fatalf("expected peak at 4000 Hz got %v", got)
	}
	for _, v := range db {
		if math.IsNaN(v) {
			t.Fatalf("dbfs contains NaN")
		}
	}
	// A full-scale tone reads close to 0 dBFS.
	if peak := db[n/2+4]; peak > 0.1 || peak < -1 {
		t.Fatalf("full-scale tone at %.2f dBFS", peak)
	}
}

func TestSpectrumZeroPads(t *testing.T) {
	s := NewSpectrum(16)
	db := s.DBFS([]complex64{1, 1})
	if len(db) != 16 {
		t.Fatalf("unexpected length %d", len(db))
	}
}

func TestFFTShift(t *testing.T) {
	in := []complex128{0, 1, 2, 3}
	out := FFTShift(in)
	expected := []complex128{2, 3, 0, 1}
	for i := range expected {
		if out[i] != expected[i] {
			t.Fatalf("index %d expected %v got %v", i, expected[i], out[i])
		}
	}
	if in[0] != 0 {
		t.Fatalf("input modified")
	}
}

func TestHamming(t *testing.T) {
	win := hamming(4)
	expected := []float64{0.08, 0.77, 0.77, 0.08}
	for i := range expected {
		if math.Abs(win[i]-expected[i]) > 1e-6 {
			t.Fatalf("index %d expected %.2f got %.6f", i, expected[i], win[i])
		}
	}
}
