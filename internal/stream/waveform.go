package stream

import (
	"fmt"

	"github.com/rjboer/duplexradar/internal/dsp"
	"github.com/rjboer/duplexradar/internal/iq"
)

// Waveform writes the TX pattern into a zeroed buffer of interleaved I/Q
// words. Fill must produce the same content on every call.
type Waveform interface {
	Fill(buf []int16)
	String() string
}

const (
	DefaultPulsePeriod = 256
	DefaultAmplitude   = iq.MaxValue
)

// Pulse emits Width samples of Amplitude on I at the start of every Period
// samples, counted from the beginning of each buffer.
type Pulse struct {
	Period    int
	Width     int
	Amplitude int16
}

func NewPulse(period, width int, amplitude int16) (Pulse, error) {
	if period <= 0 {
		return Pulse{}, fmt.Errorf("pulse period %d must be positive", period)
	}
	if width <= 0 || width > period {
		return Pulse{}, fmt.Errorf("pulse width %d outside 1..%d", width, period)
	}
	if _, err := iq.Encode(amplitude); err != nil {
		return Pulse{}, fmt.Errorf("pulse amplitude: %w", err)
	}
	return Pulse{Period: period, Width: width, Amplitude: amplitude}, nil
}

// NewMultiPulse returns the burst pattern of five consecutive samples every
// 200 samples.
func NewMultiPulse(amplitude int16) (Pulse, error) {
	return NewPulse(200, 5, amplitude)
}

func (p Pulse) Fill(buf []int16) {
	samples := len(buf) / 2
	for s := 0; s < samples; s += p.Period {
		for k := 0; k < p.Width && s+k < samples; k++ {
			buf[2*(s+k)] = p.Amplitude
		}
	}
}

func (p Pulse) String() string {
	return fmt.Sprintf("pulse(period=%d width=%d amp=%d)", p.Period, p.Width, p.Amplitude)
}

// FullScale sets I to Amplitude on every sample, a continuous carrier.
type FullScale struct {
	Amplitude int16
}

func (f FullScale) Fill(buf []int16) {
	for i := 0; i < len(buf)-1; i += 2 {
		buf[i] = f.Amplitude
	}
}

func (f FullScale) String() string { return fmt.Sprintf("fullscale(amp=%d)", f.Amplitude) }

// GoldCode transmits the C/A code of PRN on I, SamplesPerChip samples per
// chip, restarting at the beginning of every buffer. Samples past the end of
// the code stay silent.
type GoldCode struct {
	PRN            int
	SamplesPerChip int
	Amplitude      int16
	chips          []int8
}

func NewGoldCode(prn, samplesPerChip int, amplitude int16) (*GoldCode, error) {
	if samplesPerChip <= 0 {
		return nil, fmt.Errorf("samples per chip %d must be positive", samplesPerChip)
	}
	if _, err := iq.Encode(amplitude); err != nil {
		return nil, fmt.Errorf("gold code amplitude: %w", err)
	}
	chips, err := dsp.GoldCode(prn)
	if err != nil {
		return nil, err
	}
	return &GoldCode{PRN: prn, SamplesPerChip: samplesPerChip, Amplitude: amplitude, chips: chips}, nil
}

// Span returns the code period in samples.
func (g *GoldCode) Span() int { return len(g.chips) * g.SamplesPerChip }

func (g *GoldCode) Fill(buf []int16) {
	samples := min(len(buf)/2, g.Span())
	for s := 0; s < samples; s++ {
		buf[2*s] = int16(g.chips[s/g.SamplesPerChip]) * g.Amplitude
	}
}

func (g *GoldCode) String() string {
	return fmt.Sprintf("goldcode(prn=%d spc=%d amp=%d)", g.PRN, g.SamplesPerChip, g.Amplitude)
}

// ParseWaveform builds a waveform by name: pulse, multipulse, fullscale or
// goldcode.
func ParseWaveform(name string, prn, samplesPerChip int, amplitude int16) (Waveform, error) {
	switch name {
	case "pulse", "":
		return NewPulse(DefaultPulsePeriod, 1, amplitude)
	case "multipulse":
		return NewMultiPulse(amplitude)
	case "fullscale":
		if _, err := iq.Encode(amplitude); err != nil {
			return nil, fmt.Errorf("fullscale amplitude: %w", err)
		}
		return FullScale{Amplitude: amplitude}, nil
	case "goldcode":
		g, err := NewGoldCode(prn, samplesPerChip, amplitude)
		if err != nil {
			return nil, err
		}
		return g, nil
	default:
		return nil, fmt.Errorf("unknown waveform %q", name)
	}
}
