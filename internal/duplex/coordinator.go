// Package duplex runs the TX and RX engines of one session side by side:
// both start behind a shared barrier, a failure on one side never abandons
// the other, and the capture is only finalised when both succeeded.
package duplex

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rjboer/duplexradar/internal/capture"
	"github.com/rjboer/duplexradar/internal/logging"
	"github.com/rjboer/duplexradar/internal/pool"
	"github.com/rjboer/duplexradar/internal/sdr"
	"github.com/rjboer/duplexradar/internal/stream"
)

const DefaultStartTimeout = 5 * time.Second

// ErrSharedPool rejects a session whose TX and RX paths were given the same pool.
var ErrSharedPool = errors.New("duplex: TX and RX must not share a pool")

// PathConfig is one direction of a session. The coordinator takes ownership
// of Pool and, for RX, of the already opened Sink.
type PathConfig struct {
	Pool     *pool.Pool
	Budget   int64
	Waveform stream.Waveform
	Sink     capture.Sink
}

// Report summarises a finished session.
type Report struct {
	TX       stream.Result
	RX       stream.Result
	Duration time.Duration
}

// Result returns the outcome of dir.
func (r Report) Result(dir sdr.Direction) stream.Result {
	if dir == sdr.RX {
		return r.RX
	}
	return r.TX
}

// SessionError reports every direction that failed, each with its own code.
type SessionError struct {
	Failures []stream.Result
}

func (e *SessionError) Error() string {
	parts := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		msg := fmt.Sprintf("%s failed with code %d (%s)", f.Direction, f.Code, sdr.CodeText(f.Code))
		if f.Err != nil {
			msg += ": " + f.Err.Error()
		}
		parts = append(parts, msg)
	}
	return "session failed: " + strings.Join(parts, "; ")
}

func (e *SessionError) Unwrap() []error {
	errs := make([]error, 0, len(e.Failures))
	for _, f := range e.Failures {
		if f.Err != nil {
			errs = append(errs, f.Err)
		}
	}
	return errs
}

// Failed returns the result of dir if that direction failed.
func (e *SessionError) Failed(dir sdr.Direction) (stream.Result, bool) {
	for _, f := range e.Failures {
		if f.Direction == dir {
			return f, true
		}
	}
	return stream.Result{}, false
}

// Coordinator supervises one duplex session on Device. Both paths must
// already be configured and enabled.
type Coordinator struct {
	Device       sdr.Device
	StartTimeout time.Duration
	Observer     stream.Observer
	Logger       logging.Logger
}

// Run streams both directions until each has spent its budget or failed,
// then disables both paths and releases the pools. The capture sink is
// closed on joint success and discarded otherwise.
func (c *Coordinator) Run(ctx context.Context, tx, rx PathConfig) (rep Report, err error) {
	log := logging.Or(c.Logger)
	defer func() {
		err = errors.Join(err, closePools(tx.Pool, rx.Pool))
	}()

	engines, transports, err := c.prepare(tx, rx, log)
	if err != nil {
		if c.Device != nil {
			err = errors.Join(err, c.disable(log))
		}
		c.abandon(rx.Sink, log)
		return Report{}, err
	}

	timeout := c.StartTimeout
	if timeout <= 0 {
		timeout = DefaultStartTimeout
	}

	barrier := stream.NewBarrier(len(sdr.Directions))
	var results [len(sdr.Directions)]stream.Result
	var g errgroup.Group
	for _, dir := range sdr.Directions {
		g.Go(func() error {
			results[dir] = engines[dir].Run(ctx, barrier, transports[dir])
			return nil
		})
	}

	readyCtx, cancel := context.WithTimeout(ctx, timeout)
	readyErr := barrier.WaitReady(readyCtx)
	cancel()
	if readyErr != nil {
		barrier.Abort(readyErr)
		g.Wait()
		c.disable(log)
		c.abandon(rx.Sink, log)
		return Report{TX: results[sdr.TX], RX: results[sdr.RX]},
			fmt.Errorf("%w: engines not ready within %s: %v", sdr.ErrThreadCreateFailed, timeout, readyErr)
	}

	start := time.Now()
	if err := barrier.Release(); err != nil {
		barrier.Abort(err)
		g.Wait()
		c.disable(log)
		c.abandon(rx.Sink, log)
		return Report{}, err
	}
	log.Info("streaming started", logging.Field{Key: "tx_budget", Value: tx.Budget}, logging.Field{Key: "rx_budget", Value: rx.Budget})

	g.Wait()
	rep = Report{TX: results[sdr.TX], RX: results[sdr.RX], Duration: time.Since(start)}
	log.Info("streaming joined",
		logging.Field{Key: "tx", Value: rep.TX.String()},
		logging.Field{Key: "rx", Value: rep.RX.String()},
		logging.Field{Key: "duration", Value: rep.Duration})

	var failures []stream.Result
	for _, r := range results {
		if !r.OK() {
			failures = append(failures, r)
		}
	}
	if len(failures) > 0 {
		c.disable(log)
		c.abandon(rx.Sink, log)
		return rep, &SessionError{Failures: failures}
	}

	if err := rx.Sink.Close(); err != nil {
		c.disable(log)
		return rep, fmt.Errorf("finalise capture: %w", err)
	}
	if err := c.disable(log); err != nil {
		return rep, err
	}
	return rep, nil
}

func (c *Coordinator) prepare(tx, rx PathConfig, log logging.Logger) ([2]*stream.Engine, [2]sdr.Transport, error) {
	var engines [2]*stream.Engine
	var transports [2]sdr.Transport
	if c.Device == nil {
		return engines, transports, errors.New("duplex: no device")
	}
	if rx.Sink == nil {
		return engines, transports, errors.New("duplex: RX path needs a capture sink")
	}
	if tx.Pool != nil && tx.Pool == rx.Pool {
		return engines, transports, ErrSharedPool
	}
	paths := [2]PathConfig{sdr.TX: tx, sdr.RX: rx}
	for _, dir := range sdr.Directions {
		p := paths[dir]
		cfg := stream.Config{
			Direction: dir,
			Pool:      p.Pool,
			Budget:    p.Budget,
			Waveform:  p.Waveform,
			Observer:  c.Observer,
			Logger:    log,
		}
		if dir == sdr.RX {
			cfg.Sink = p.Sink
		}
		e, err := stream.NewEngine(cfg)
		if err != nil {
			return engines, transports, fmt.Errorf("%s engine: %w", dir, err)
		}
		t, err := c.Device.Transport(dir)
		if err != nil {
			return engines, transports, fmt.Errorf("%s transport: %w", dir, err)
		}
		engines[dir], transports[dir] = e, t
	}
	return engines, transports, nil
}

// disable turns both paths off, attempting each even if one fails.
func (c *Coordinator) disable(log logging.Logger) error {
	var errs []error
	for _, dir := range sdr.Directions {
		if err := c.Device.Enable(dir, false); err != nil {
			log.Warn("disable path failed", logging.Field{Key: "dir", Value: dir.String()}, logging.Field{Key: "err", Value: err})
			errs = append(errs, fmt.Errorf("disable %s: %w", dir, err))
		}
	}
	return errors.Join(errs...)
}

func (c *Coordinator) abandon(sink capture.Sink, log logging.Logger) {
	if sink == nil {
		return
	}
	if err := capture.Discard(sink); err != nil {
		log.Warn("discard capture failed", logging.Field{Key: "err", Value: err})
	}
}

func closePools(pools ...*pool.Pool) error {
	var errs []error
	for _, p := range pools {
		if p != nil {
			errs = append(errs, p.Close())
		}
	}
	return errors.Join(errs...)
}
