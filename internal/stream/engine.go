// Package stream drives one radio direction through a budgeted streaming
// session: it hands pool buffers to the transport in round-robin order,
// refills or drains each buffer as it completes and stops exactly when the
// sample budget is spent.
package stream

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/rjboer/duplexradar/internal/iq"
	"github.com/rjboer/duplexradar/internal/logging"
	"github.com/rjboer/duplexradar/internal/pool"
	"github.com/rjboer/duplexradar/internal/sdr"
)

// State is the lifecycle position of an Engine.
type State int32

const (
	Idle State = iota
	AwaitingStart
	Streaming
	Draining
	Terminated
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case AwaitingStart:
		return "awaiting-start"
	case Streaming:
		return "streaming"
	case Draining:
		return "draining"
	case Terminated:
		return "terminated"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// Status codes an engine reports without a hardware transfer failing.
const (
	ErrCodeUnexpected = sdr.CodeUnexpected
	ErrCodeAborted    = sdr.CodeAborted
	ErrCodeSink       = sdr.CodeSink
)

// Sink receives decoded RX words in arrival order.
type Sink interface {
	WriteBlock(words []int16) error
}

// Progress is published after every completed transfer.
type Progress struct {
	Direction   sdr.Direction `json:"direction"`
	State       State         `json:"-"`
	Completions int           `json:"completions"`
	Samples     int64         `json:"samples"`
	Remaining   int64         `json:"remaining"`
	Budget      int64         `json:"budget"`
}

// Observer is notified of engine progress. It runs on the transport
// goroutine and must not block.
type Observer interface {
	Progress(Progress)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Progress)

func (f ObserverFunc) Progress(p Progress) { f(p) }

// Result is the outcome of one engine run.
type Result struct {
	Direction   sdr.Direction
	Code        int
	Err         error
	Completions int
	Samples     int64
}

func (r Result) OK() bool { return r.Code == 0 }

func (r Result) String() string {
	if r.OK() {
		return fmt.Sprintf("%s Ok (%d transfers, %d samples)", r.Direction, r.Completions, r.Samples)
	}
	return fmt.Sprintf("%s Failed(%d)", r.Direction, r.Code)
}

// Config describes one direction of a session.
type Config struct {
	Direction sdr.Direction
	Pool      *pool.Pool
	Budget    int64    // samples to transfer before stopping
	Sink      Sink     // RX only
	Waveform  Waveform // TX only
	Observer  Observer
	Logger    logging.Logger
}

// Engine is the completion handler for one direction. Start and
// OnCompletion are called by a single transport goroutine.
type Engine struct {
	cfg   Config
	log   logging.Logger
	state atomic.Int32

	cursor      int
	remaining   int64
	handoffs    int
	completions int
	samples     int64
	stopped     bool

	failCode int
	failErr  error
}

// NewEngine validates cfg and returns an Idle engine.
func NewEngine(cfg Config) (*Engine, error) {
	if cfg.Pool == nil {
		return nil, errors.New("stream: pool is required")
	}
	if cfg.Budget <= 0 {
		return nil, fmt.Errorf("stream: budget %d must be positive", cfg.Budget)
	}
	switch cfg.Direction {
	case sdr.RX:
		if cfg.Sink == nil {
			return nil, errors.New("stream: RX engine needs a sink")
		}
	case sdr.TX:
		if cfg.Waveform == nil {
			return nil, errors.New("stream: TX engine needs a waveform")
		}
	default:
		return nil, fmt.Errorf("stream: unknown direction %s", cfg.Direction)
	}
	log := cfg.Logger
	if log == nil {
		log = logging.Default()
	}
	e := &Engine{
		cfg:       cfg,
		log:       log.With(logging.Field{Key: "dir", Value: cfg.Direction.String()}),
		remaining: cfg.Budget,
	}
	if cfg.Direction == sdr.TX {
		for i := 0; i < cfg.Pool.Len(); i++ {
			buf := cfg.Pool.Buffer(i)
			clear(buf)
			cfg.Waveform.Fill(buf)
		}
	}
	return e, nil
}

// State returns the current lifecycle state. Safe for concurrent use.
func (e *Engine) State() State { return State(e.state.Load()) }

// Handoffs returns the number of buffers handed to the transport.
func (e *Engine) Handoffs() int { return e.handoffs }

func (e *Engine) setState(s State) {
	prev := State(e.state.Swap(int32(s)))
	if prev != s {
		e.log.Debug("engine state", logging.Field{Key: "from", Value: prev.String()}, logging.Field{Key: "to", Value: s.String()})
	}
}

// Run arrives at barrier, waits for release and then streams until the
// budget is spent or the transport fails. Cancelling ctx aborts the wait for
// release but not a running stream.
func (e *Engine) Run(ctx context.Context, barrier *Barrier, transport sdr.Transport) Result {
	e.setState(AwaitingStart)
	if err := barrier.Arrive(); err != nil {
		return e.terminate(ErrCodeAborted, err)
	}
	if err := barrier.Wait(ctx); err != nil {
		return e.terminate(ErrCodeAborted, err)
	}

	e.setState(Streaming)
	err := transport.Stream(context.WithoutCancel(ctx), e)
	switch {
	case e.failErr != nil:
		return e.terminate(e.failCode, e.failErr)
	case err != nil:
		return e.terminate(sdr.StatusCode(err), err)
	case !e.stopped:
		return e.terminate(ErrCodeUnexpected, errors.New("transport ended before the budget was spent"))
	}
	return e.terminate(0, nil)
}

func (e *Engine) terminate(code int, err error) Result {
	e.setState(Terminated)
	r := Result{
		Direction:   e.cfg.Direction,
		Code:        code,
		Err:         err,
		Completions: e.completions,
		Samples:     e.samples,
	}
	if code != 0 {
		e.log.Error("engine failed",
			logging.Field{Key: "code", Value: code},
			logging.Field{Key: "reason", Value: sdr.CodeText(code)},
			logging.Field{Key: "err", Value: err},
			logging.Field{Key: "completions", Value: e.completions})
	}
	return r
}

// Start hands the first buffer to the transport.
func (e *Engine) Start() sdr.Action {
	if e.stopped {
		return sdr.Stop()
	}
	return e.handoff()
}

func (e *Engine) handoff() sdr.Action {
	e.handoffs++
	return sdr.Continue(e.cursor, int(min(int64(e.cfg.Pool.SamplesPerBuffer()), e.remaining)))
}

// OnCompletion processes the buffer the transport just finished and returns
// the next hand-off, or Stop once the budget is spent.
func (e *Engine) OnCompletion(index, n int) sdr.Action {
	if e.stopped {
		return sdr.Stop()
	}
	if index != e.cursor {
		return e.fail(sdr.CodeInval, fmt.Errorf("completion for buffer %d, expected %d", index, e.cursor))
	}
	if n < 0 || n > e.cfg.Pool.SamplesPerBuffer() {
		return e.fail(sdr.CodeInval, fmt.Errorf("completion of %d samples exceeds buffer of %d", n, e.cfg.Pool.SamplesPerBuffer()))
	}

	buf := e.cfg.Pool.Buffer(index)
	switch e.cfg.Direction {
	case sdr.RX:
		words := buf[:2*n]
		iq.DecodeBlock(words)
		if err := e.cfg.Sink.WriteBlock(words); err != nil {
			return e.fail(ErrCodeSink, err)
		}
	case sdr.TX:
		clear(buf)
		e.cfg.Waveform.Fill(buf)
	}

	e.completions++
	e.samples += int64(n)
	e.remaining -= int64(n)
	if e.remaining <= 0 {
		e.setState(Draining)
		e.stopped = true
	}
	e.publish()
	if e.stopped {
		return sdr.Stop()
	}
	e.cursor = e.cfg.Pool.Advance(e.cursor)
	return e.handoff()
}

func (e *Engine) fail(code int, err error) sdr.Action {
	e.failCode, e.failErr = code, err
	e.stopped = true
	e.setState(Draining)
	return sdr.Stop()
}

func (e *Engine) publish() {
	if e.cfg.Observer == nil {
		return
	}
	e.cfg.Observer.Progress(Progress{
		Direction:   e.cfg.Direction,
		State:       e.State(),
		Completions: e.completions,
		Samples:     e.samples,
		Remaining:   max(e.remaining, 0),
		Budget:      e.cfg.Budget,
	})
}

// Buffer exposes pool buffer index to the transport.
func (e *Engine) Buffer(index int) []int16 { return e.cfg.Pool.Buffer(index) }
