package sdr

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"
)

// Documented transceiver limits enforced by the simulated backend.
const (
	MinFrequency  = 300_000_000
	MaxFrequency  = 3_800_000_000
	MinSampleRate = 160_000
	MaxSampleRate = 40_000_000

	defaultEchoCapacity = 1 << 19
)

// Bandwidths lists the selectable LPF bandwidths in Hz, ascending.
var Bandwidths = []uint64{
	1_500_000, 1_750_000, 2_500_000, 2_750_000, 3_000_000, 3_840_000,
	5_000_000, 5_500_000, 6_000_000, 7_000_000, 8_750_000, 10_000_000,
	12_000_000, 14_000_000, 20_000_000, 28_000_000,
}

// SimConfig tunes the simulated transceiver.
type SimConfig struct {
	FPGAMissing bool
	Unplugged   bool

	// Loopback feeds transmitted samples back into the receiver, delayed by
	// EchoDelay samples and attenuated by EchoShift bits.
	Loopback     bool
	EchoDelay    int
	EchoShift    uint
	EchoCapacity int

	// Noise is the peak receiver noise in LSB.
	Noise int16
	Seed  int64

	// Pace sleeps each transfer for its real duration at the configured
	// sample rate.
	Pace bool

	Faults map[Direction]Fault
}

// Fault makes the transfer following the AfterCompletions-th completion fail
// with Code (CodeIO when zero).
type Fault struct {
	AfterCompletions int
	Code             int
}

// Sim is a software transceiver implementing Device. It enforces the
// hardware's parameter ranges, garbles the unused upper nibble of every
// received word and can loop TX back into RX.
type Sim struct {
	cfg SimConfig

	mu        sync.Mutex
	open      bool
	frequency [2]uint64
	bandwidth [2]uint64
	rate      [2]uint64
	gains     map[GainStage]int
	enabled   [2]bool
	transfers [2]int
	echo      *echoLine
}

func NewSim(cfg SimConfig) *Sim {
	if cfg.EchoCapacity <= 0 {
		cfg.EchoCapacity = defaultEchoCapacity
	}
	return &Sim{cfg: cfg, gains: make(map[GainStage]int)}
}

func (s *Sim) Open(_ context.Context) error {
	if s.cfg.Unplugged {
		return fmt.Errorf("%w: no simulated device attached", ErrDeviceOpenFailed)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.open = true
	s.enabled = [2]bool{}
	s.transfers = [2]int{}
	s.echo = nil
	if s.cfg.Loopback {
		s.echo = newEchoLine(2 * s.cfg.EchoCapacity)
	}
	return nil
}

func (s *Sim) FPGAConfigured() (bool, error) {
	if err := s.checkOpen(); err != nil {
		return false, err
	}
	return !s.cfg.FPGAMissing, nil
}

func (s *Sim) SetFrequency(dir Direction, hz uint64) (uint64, error) {
	if err := s.checkOpen(); err != nil {
		return 0, err
	}
	if hz < MinFrequency || hz > MaxFrequency {
		return 0, fmt.Errorf("%w: %s frequency %d Hz outside %d..%d Hz", ErrParameterRejected, dir, hz, MinFrequency, MaxFrequency)
	}
	s.mu.Lock()
	s.frequency[dir] = hz
	s.mu.Unlock()
	return hz, nil
}

// SetBandwidth selects the narrowest filter at least as wide as hz, or the
// widest filter when hz exceeds it.
func (s *Sim) SetBandwidth(dir Direction, hz uint64) (uint64, error) {
	if err := s.checkOpen(); err != nil {
		return 0, err
	}
	if hz == 0 {
		return 0, fmt.Errorf("%w: %s bandwidth must be positive", ErrParameterRejected, dir)
	}
	actual := Bandwidths[len(Bandwidths)-1]
	for _, bw := range Bandwidths {
		if bw >= hz {
			actual = bw
			break
		}
	}
	s.mu.Lock()
	s.bandwidth[dir] = actual
	s.mu.Unlock()
	return actual, nil
}

func (s *Sim) SetSampleRate(dir Direction, hz uint64) (uint64, error) {
	if err := s.checkOpen(); err != nil {
		return 0, err
	}
	if hz < MinSampleRate || hz > MaxSampleRate {
		return 0, fmt.Errorf("%w: %s sample rate %d sps outside %d..%d sps", ErrParameterRejected, dir, hz, MinSampleRate, MaxSampleRate)
	}
	s.mu.Lock()
	s.rate[dir] = hz
	s.mu.Unlock()
	return hz, nil
}

func (s *Sim) SetGain(stage GainStage, value int) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	if err := validateGain(stage, value); err != nil {
		return err
	}
	s.mu.Lock()
	s.gains[stage] = value
	s.mu.Unlock()
	return nil
}

func validateGain(stage GainStage, value int) error {
	lo, hi, step := 0, 0, 1
	switch stage {
	case TXVGA1:
		lo, hi = -35, -4
	case TXVGA2:
		lo, hi = 0, 25
	case RXVGA1:
		lo, hi = 5, 30
	case RXVGA2:
		lo, hi, step = 0, 60, 3
	case LNA:
		lo, hi = LNABypass, LNAMax
	default:
		return fmt.Errorf("%w: unknown gain stage %s", ErrParameterRejected, stage)
	}
	if value < lo || value > hi || (value-lo)%step != 0 {
		return fmt.Errorf("%w: %s gain %d outside %d..%d (step %d)", ErrParameterRejected, stage, value, lo, hi, step)
	}
	return nil
}

func (s *Sim) Enable(dir Direction, enabled bool) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	s.mu.Lock()
	s.enabled[dir] = enabled
	s.mu.Unlock()
	return nil
}

func (s *Sim) Transport(dir Direction) (Transport, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	if dir != TX && dir != RX {
		return nil, fmt.Errorf("%w: unknown direction %s", ErrParameterRejected, dir)
	}
	return &simTransport{sim: s, dir: dir}, nil
}

func (s *Sim) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.open = false
	s.enabled = [2]bool{}
	return nil
}

// Enabled reports whether dir is currently enabled.
func (s *Sim) Enabled(dir Direction) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enabled[dir]
}

// Transfers returns the number of completed transfers on dir since Open.
func (s *Sim) Transfers(dir Direction) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transfers[dir]
}

func (s *Sim) checkOpen() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.open {
		return ErrNotOpen
	}
	return nil
}

type simTransport struct {
	sim *Sim
	dir Direction
}

func (t *simTransport) Stream(ctx context.Context, h Handler) error {
	s := t.sim
	s.mu.Lock()
	echo := s.echo
	rate := s.rate[t.dir]
	s.mu.Unlock()
	if t.dir == TX && echo != nil {
		defer echo.close()
	}

	rng := rand.New(rand.NewSource(s.cfg.Seed + int64(t.dir)))
	fault := s.cfg.Faults[t.dir]
	if fault.Code == 0 {
		fault.Code = CodeIO
	}

	var pos int64
	completions := 0
	for action := h.Start(); !action.Stopped(); {
		if err := ctx.Err(); err != nil {
			return &TransferError{Direction: t.dir, Code: CodeTimeout, Err: err}
		}
		if !s.Enabled(t.dir) {
			return &TransferError{Direction: t.dir, Code: CodeInval, Err: errors.New("module not enabled")}
		}
		if fault.AfterCompletions > 0 && completions == fault.AfterCompletions {
			return &TransferError{Direction: t.dir, Code: fault.Code}
		}
		buf := h.Buffer(action.Index)
		if action.Samples < 0 || 2*action.Samples > len(buf) {
			return &TransferError{Direction: t.dir, Code: CodeInval,
				Err: fmt.Errorf("transfer of %d samples does not fit buffer %d", action.Samples, action.Index)}
		}
		words := buf[:2*action.Samples]
		switch t.dir {
		case TX:
			if echo != nil {
				echo.write(words)
			}
		case RX:
			s.receive(words, pos, echo, rng)
		}
		pos += int64(len(words))
		if s.cfg.Pace && rate > 0 {
			time.Sleep(time.Duration(action.Samples) * time.Second / time.Duration(rate))
		}

		completions++
		s.mu.Lock()
		s.transfers[t.dir]++
		s.mu.Unlock()
		action = h.OnCompletion(action.Index, action.Samples)
	}
	return nil
}

// receive fills words with the echo seen at stream word offset pos plus
// noise, then sets random bits above the 12-bit sample field.
func (s *Sim) receive(words []int16, pos int64, echo *echoLine, rng *rand.Rand) {
	if echo != nil {
		echo.readAt(words, pos-2*int64(s.cfg.EchoDelay))
	} else {
		clear(words)
	}
	noise := int32(s.cfg.Noise)
	for i, w := range words {
		v := int32(w) >> s.cfg.EchoShift
		if noise > 0 {
			v += rng.Int31n(2*noise+1) - noise
		}
		v = min(max(v, -2048), 2047)
		words[i] = int16(uint16(v)&0x0FFF | uint16(rng.Intn(16))<<12)
	}
}

// echoLine is the loopback path between the simulated TX and RX. Readers
// block until the writer has produced the requested span or closed the line;
// spans the ring has already overwritten read as silence.
type echoLine struct {
	mu      sync.Mutex
	cond    *sync.Cond
	words   []int16
	written int64
	closed  bool
}

func newEchoLine(capacity int) *echoLine {
	e := &echoLine{words: make([]int16, capacity)}
	e.cond = sync.NewCond(&e.mu)
	return e
}

func (e *echoLine) write(src []int16) {
	e.mu.Lock()
	size := int64(len(e.words))
	for _, w := range src {
		e.words[e.written%size] = w
		e.written++
	}
	e.mu.Unlock()
	e.cond.Broadcast()
}

func (e *echoLine) close() {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()
	e.cond.Broadcast()
}

func (e *echoLine) readAt(dst []int16, pos int64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	end := pos + int64(len(dst))
	for e.written < end && !e.closed {
		e.cond.Wait()
	}
	size := int64(len(e.words))
	for i := range dst {
		p := pos + int64(i)
		if p < 0 || p >= e.written || p < e.written-size {
			dst[i] = 0
			continue
		}
		dst[i] = e.words[p%size]
	}
}
