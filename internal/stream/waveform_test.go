package stream

import (
	"testing"

	"github.com/rjboer/duplexradar/internal/dsp"
)

func TestPulseFill(t *testing.T) {
	p, err := NewPulse(256, 1, 2047)
	if err != nil {
		t.Fatalf("NewPulse: %v", err)
	}
	buf := make([]int16, 2*1024)
	p.Fill(buf)
	checkPulse(t, buf, 256)
}

func TestMultiPulseFill(t *testing.T) {
	p, err := NewMultiPulse(1000)
	if err != nil {
		t.Fatalf("NewMultiPulse: %v", err)
	}
	buf := make([]int16, 2*450)
	p.Fill(buf)
	for s := 0; s < 450; s++ {
		want := int16(0)
		if s%200 < 5 {
			want = 1000
		}
		if buf[2*s] != want || buf[2*s+1] != 0 {
			t.Fatalf("sample %d = (%d, %d)", s, buf[2*s], buf[2*s+1])
		}
	}
}

func TestFullScaleFill(t *testing.T) {
	buf := make([]int16, 8)
	FullScale{Amplitude: 2047}.Fill(buf)
	want := []int16{2047, 0, 2047, 0, 2047, 0, 2047, 0}
	for i := range want {
		if buf[i] != want[i] {
			t.Fatalf("buf = %v", buf)
		}
	}
}

func TestGoldCodeFill(t *testing.T) {
	g, err := NewGoldCode(1, 2, 2047)
	if err != nil {
		t.Fatalf("NewGoldCode: %v", err)
	}
	chips, _ := dsp.GoldCode(1)
	samples := g.Span() + 10
	buf := make([]int16, 2*samples)
	g.Fill(buf)
	for s := 0; s < samples; s++ {
		want := int16(0)
		if s < g.Span() {
			want = int16(chips[s/2]) * 2047
		}
		if buf[2*s] != want || buf[2*s+1] != 0 {
			t.Fatalf("sample %d = (%d, %d), want (%d, 0)", s, buf[2*s], buf[2*s+1], want)
		}
	}
}

func TestWaveformValidation(t *testing.T) {
	if _, err := NewPulse(0, 1, 1); err == nil {
		t.Fatalf("zero period accepted")
	}
	if _, err := NewPulse(10, 11, 1); err == nil {
		t.Fatalf("width beyond period accepted")
	}
	if _, err := NewPulse(10, 1, 4000); err == nil {
		t.Fatalf("amplitude outside 12 bits accepted")
	}
	if _, err := NewGoldCode(40, 1, 1); err == nil {
		t.Fatalf("unknown PRN accepted")
	}
	if _, err := ParseWaveform("sawtooth", 1, 1, 1); err == nil {
		t.Fatalf("unknown waveform accepted")
	}
	for _, name := range []string{"pulse", "multipulse", "fullscale", "goldcode"} {
		w, err := ParseWaveform(name, 3, 1, 2047)
		if err != nil {
			t.Fatalf("ParseWaveform(%q): %v", name, err)
		}
		if w.String() == "" {
			t.Fatalf("%s has empty description", name)
		}
	}
}
