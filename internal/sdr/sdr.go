package sdr

import (
	"context"
	"fmt"
)

// Direction selects one of the two radio paths.
type Direction int

const (
	TX Direction = iota
	RX
)

func (d Direction) String() string {
	switch d {
	case TX:
		return "TX"
	case RX:
		return "RX"
	default:
		return fmt.Sprintf("Direction(%d)", int(d))
	}
}

// Directions lists both paths in the order they are configured and enabled.
var Directions = [...]Direction{TX, RX}

// GainStage names an amplifier in the transceiver's gain chain.
type GainStage int

const (
	TXVGA1 GainStage = iota // post-LPF gain, -35..-4 dB
	TXVGA2                  // PA gain, 0..25 dB
	RXVGA1                  // mixer gain, 5..30 dB
	RXVGA2                  // post-LPF gain, 0..60 dB in 3 dB steps
	LNA                     // one of LNABypass, LNAMid, LNAMax
)

func (g GainStage) String() string {
	switch g {
	case TXVGA1:
		return "TXVGA1"
	case TXVGA2:
		return "TXVGA2"
	case RXVGA1:
		return "RXVGA1"
	case RXVGA2:
		return "RXVGA2"
	case LNA:
		return "LNA"
	default:
		return fmt.Sprintf("GainStage(%d)", int(g))
	}
}

// LNA gain settings.
const (
	LNABypass = 1
	LNAMid    = 2
	LNAMax    = 3
)

// Action is what a Handler tells the transport after a completion: either
// transfer Samples samples using pool buffer Index next, or stop.
type Action struct {
	Index   int
	Samples int
	stop    bool
}

// Continue hands buffer index to the hardware for a transfer of samples samples.
func Continue(index, samples int) Action { return Action{Index: index, Samples: samples} }

// Stop signals that no further buffer will be supplied.
func Stop() Action { return Action{stop: true} }

// Stopped reports whether the action ends the stream.
func (a Action) Stopped() bool { return a.stop }

func (a Action) String() string {
	if a.stop {
		return "stop"
	}
	return fmt.Sprintf("buffer %d (%d samples)", a.Index, a.Samples)
}

// Handler is driven by a Transport. Start supplies the first buffer, then
// OnCompletion is invoked once per finished transfer, strictly in order, on
// the goroutine that called Stream.
type Handler interface {
	Start() Action
	OnCompletion(index, n int) Action
	// Buffer returns the interleaved I/Q words of pool buffer index.
	Buffer(index int) []int16
}

// Transport moves samples between pool buffers and one radio path.
type Transport interface {
	// Stream blocks for the whole streaming session of one direction and
	// returns nil once the handler answered Stop, or a *TransferError when
	// the hardware transfer failed.
	Stream(ctx context.Context, h Handler) error
}

// Device configures the transceiver before and after a streaming session.
type Device interface {
	Open(ctx context.Context) error
	FPGAConfigured() (bool, error)
	SetFrequency(dir Direction, hz uint64) (uint64, error)
	SetBandwidth(dir Direction, hz uint64) (uint64, error)
	SetSampleRate(dir Direction, hz uint64) (uint64, error)
	SetGain(stage GainStage, value int) error
	Enable(dir Direction, enabled bool) error
	Transport(dir Direction) (Transport, error)
	Close() error
}
