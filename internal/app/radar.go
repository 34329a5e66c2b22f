// Package app runs one complete radar session: it writes the configuration
// record, configures the transceiver, allocates the buffer pools, streams
// both directions and records the outcome.
package app

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/rjboer/duplexradar/internal/capture"
	"github.com/rjboer/duplexradar/internal/config"
	"github.com/rjboer/duplexradar/internal/duplex"
	"github.com/rjboer/duplexradar/internal/logging"
	"github.com/rjboer/duplexradar/internal/pool"
	"github.com/rjboer/duplexradar/internal/sdr"
	"github.com/rjboer/duplexradar/internal/store"
	"github.com/rjboer/duplexradar/internal/stream"
	"github.com/rjboer/duplexradar/internal/telemetry"
)

// DefaultCapturePath is where received samples go unless told otherwise.
const DefaultCapturePath = "./bladerf_samples.dat"

// PathOptions sizes one direction.
type PathOptions struct {
	Buffers          int
	SamplesPerBuffer int
	Budget           int64
}

var (
	DefaultTX = PathOptions{Buffers: 48, SamplesPerBuffer: 2048, Budget: 280 * 1024}
	DefaultRX = PathOptions{Buffers: 250 * 1024 / 2048, SamplesPerBuffer: 2048, Budget: 250 * 1024}
)

// Config captures application level configuration.
type Config struct {
	Record     config.Record
	RecordPath string

	// Quick skips the configuration record and device configuration and
	// only opens the device.
	Quick bool

	Backend       string
	CapturePath   string
	CaptureFormat string
	TX            PathOptions
	RX            PathOptions
	Waveform      stream.Waveform
	LockMemory    bool
	StartTimeout  time.Duration
}

// DefaultConfig returns the S-band session with a 256-sample pulse.
func DefaultConfig() Config {
	pulse, _ := stream.NewPulse(stream.DefaultPulsePeriod, 1, stream.DefaultAmplitude)
	return Config{
		Record:        config.Default(),
		RecordPath:    config.DefaultPath,
		Backend:       "sim",
		CapturePath:   DefaultCapturePath,
		CaptureFormat: capture.FormatRaw,
		TX:            DefaultTX,
		RX:            DefaultRX,
		Waveform:      pulse,
		StartTimeout:  duplex.DefaultStartTimeout,
	}
}

// Radar wires the session collaborators. Hub, Store and Observer are
// optional.
type Radar struct {
	Device   sdr.Device
	Steps    *Steps
	Hub      *telemetry.Hub
	Store    *store.Store
	Observer stream.Observer
	Logger   logging.Logger
}

// Run executes one session and returns its record. The record is also
// stored when a Store is configured, whether or not the session succeeded.
func (r *Radar) Run(ctx context.Context, cfg Config) (*store.Session, error) {
	log := logging.Or(r.Logger)
	id := uuid.NewString()
	log = log.With(logging.Field{Key: "session", Value: id})

	sess := newSession(id, cfg)
	if r.Hub != nil {
		r.Hub.BeginSession(id)
	}

	err := r.run(ctx, cfg, sess, log)
	sess.FinishedAt = time.Now()
	if err != nil {
		sess.Error = err.Error()
		log.Error("session failed", logging.Field{Key: "err", Value: err})
	} else {
		log.Info("session complete", logging.Field{Key: "duration", Value: sess.FinishedAt.Sub(sess.StartedAt)})
	}
	if r.Hub != nil {
		phase := "done"
		if err != nil {
			phase = "failed"
		}
		r.Hub.SetPhase(phase, err)
	}
	if r.Store != nil {
		if recErr := r.Store.Record(sess); recErr != nil {
			log.Warn("record session failed", logging.Field{Key: "err", Value: recErr})
			err = errors.Join(err, recErr)
		}
	}
	return sess, err
}

func newSession(id string, cfg Config) *store.Session {
	rec := cfg.Record
	s := &store.Session{
		ID:          id,
		StartedAt:   time.Now(),
		Backend:     cfg.Backend,
		Quick:       cfg.Quick,
		TXFreq:      rec.TXFreq,
		RXFreq:      rec.RXFreq,
		TXBW:        rec.TXBW,
		RXBW:        rec.RXBW,
		TXSR:        rec.TXSR,
		RXSR:        rec.RXSR,
		TXVGA1:      rec.TXVGA1,
		TXVGA2:      rec.TXVGA2,
		RXVGA1:      rec.RXVGA1,
		RXVGA2:      rec.RXVGA2,
		CapturePath: cfg.CapturePath,
	}
	if cfg.Waveform != nil {
		s.Waveform = cfg.Waveform.String()
	}
	return s
}

func (r *Radar) steps() *Steps {
	if r.Steps == nil {
		return NewSteps(nil, false)
	}
	return r.Steps
}

func (r *Radar) run(ctx context.Context, cfg Config, sess *store.Session, log logging.Logger) (err error) {
	if r.Device == nil {
		return errors.New("app: no device")
	}
	if cfg.Waveform == nil {
		return errors.New("app: no TX waveform")
	}
	steps := r.steps()

	if !cfg.Quick {
		label := fmt.Sprintf("%-20s %-29s", "Writing config to", cfg.RecordPath)
		if err := steps.Do(label, func() error { return config.Save(cfg.RecordPath, cfg.Record) }); err != nil {
			return err
		}
	}

	if err := steps.Do("Connecting to device... ", func() error { return r.Device.Open(ctx) }); err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, steps.Do("Closing device... ", r.Device.Close))
	}()

	if !cfg.Quick {
		if err := configure(r.Device, cfg.Record, steps); err != nil {
			return err
		}
		steps.Note("All set up.")
	}

	var opts []pool.Option
	if cfg.LockMemory {
		opts = append(opts, pool.WithLockedMemory())
	}
	var txPool, rxPool *pool.Pool
	if err := steps.Do("Allocating TX buffers... ", func() (err error) {
		txPool, err = pool.New(cfg.TX.Buffers, cfg.TX.SamplesPerBuffer, opts...)
		return err
	}); err != nil {
		return err
	}
	if err := steps.Do("Allocating RX buffers... ", func() (err error) {
		rxPool, err = pool.New(cfg.RX.Buffers, cfg.RX.SamplesPerBuffer, opts...)
		return err
	}); err != nil {
		return errors.Join(err, txPool.Close())
	}

	sink, err := capture.New(cfg.CaptureFormat, captureMeta(sess.ID, cfg))
	if err == nil {
		label := fmt.Sprintf("%-10s %-39s", "Opening", cfg.CapturePath)
		err = steps.Do(label, func() error { return sink.Open(cfg.CapturePath) })
	}
	if err != nil {
		return errors.Join(err, txPool.Close(), rxPool.Close())
	}

	if err := enable(r.Device, steps); err != nil {
		for _, dir := range sdr.Directions {
			r.Device.Enable(dir, false)
		}
		return errors.Join(err, capture.Discard(sink), txPool.Close(), rxPool.Close())
	}

	var observers telemetry.MultiObserver
	if r.Hub != nil {
		observers = append(observers, r.Hub)
		r.Hub.SetPhase("streaming", nil)
	}
	if r.Observer != nil {
		observers = append(observers, r.Observer)
	}
	coord := &duplex.Coordinator{
		Device:       r.Device,
		StartTimeout: cfg.StartTimeout,
		Observer:     observers,
		Logger:       log,
	}

	steps.Begin("Waiting for completion... ")
	rep, runErr := coord.Run(ctx,
		duplex.PathConfig{Pool: txPool, Budget: cfg.TX.Budget, Waveform: cfg.Waveform},
		duplex.PathConfig{Pool: rxPool, Budget: cfg.RX.Budget, Sink: sink},
	)
	sess.TXCode, sess.TXCompletions, sess.TXSamples = rep.TX.Code, rep.TX.Completions, rep.TX.Samples
	sess.RXCode, sess.RXCompletions, sess.RXSamples = rep.RX.Code, rep.RX.Completions, rep.RX.Samples

	var sessErr *duplex.SessionError
	if runErr != nil && !errors.As(runErr, &sessErr) {
		return steps.End(runErr)
	}
	steps.End(nil)
	steps.Do("All done, checking TX results... ", func() error { return resultErr(rep.TX) })
	steps.Do("          checking RX results... ", func() error { return resultErr(rep.RX) })
	if runErr != nil {
		return runErr
	}
	steps.Success()
	return nil
}

// configure applies rec in the order the transceiver expects: tuning,
// filters, rates, then the gain chain. Filter and rate requests must be
// met exactly.
func configure(dev sdr.Device, rec config.Record, steps *Steps) error {
	if err := steps.Do("Checking FPGA status... ", func() error {
		ok, err := dev.FPGAConfigured()
		if err != nil {
			return err
		}
		if !ok {
			return sdr.ErrFPGANotLoaded
		}
		return nil
	}); err != nil {
		return err
	}

	for _, dir := range sdr.Directions {
		hz := rec.Frequency(dir)
		label := fmt.Sprintf("%-30s %13dHz... ", "Tuning "+dir.String()+" to:", hz)
		if err := steps.Do(label, func() error {
			_, err := dev.SetFrequency(dir, hz)
			return err
		}); err != nil {
			return err
		}
	}

	for _, dir := range sdr.Directions {
		want := rec.Bandwidth(dir)
		var got uint64
		label := fmt.Sprintf("%-30s %13dHz... ", "Setting "+dir.String()+" bandwidth to:", want)
		if err := steps.Do(label, func() (err error) {
			got, err = dev.SetBandwidth(dir, want)
			return err
		}); err != nil {
			return err
		}
		steps.Note("%-30s %13dHz", "Actual bandwidth:", got)
		if got != want {
			return fmt.Errorf("%w: %s bandwidth %d Hz, wanted %d Hz", sdr.ErrParameterMismatch, dir, got, want)
		}
	}

	for _, dir := range sdr.Directions {
		want := rec.SampleRate(dir)
		var got uint64
		label := fmt.Sprintf("%-30s %12dsps... ", "Setting "+dir.String()+" sampling rate to:", want)
		if err := steps.Do(label, func() (err error) {
			got, err = dev.SetSampleRate(dir, want)
			return err
		}); err != nil {
			return err
		}
		steps.Note("%-30s %12dsps", "Actual sampling rate:", got)
		if got != want {
			return fmt.Errorf("%w: %s sample rate %d sps, wanted %d sps", sdr.ErrParameterMismatch, dir, got, want)
		}
	}

	gains := []struct {
		stage sdr.GainStage
		value int
	}{
		{sdr.TXVGA1, rec.TXVGA1},
		{sdr.TXVGA2, rec.TXVGA2},
		{sdr.RXVGA1, rec.RXVGA1},
		{sdr.RXVGA2, rec.RXVGA2},
	}
	for _, g := range gains {
		label := fmt.Sprintf("%-30s %+13ddB... ", "Setting "+g.stage.String()+" gain to:", g.value)
		if err := steps.Do(label, func() error { return dev.SetGain(g.stage, g.value) }); err != nil {
			return err
		}
	}
	label := fmt.Sprintf("%-30s %15d... ", "Setting LNA gain to:", rec.LNA)
	return steps.Do(label, func() error { return dev.SetGain(sdr.LNA, rec.LNA) })
}

func enable(dev sdr.Device, steps *Steps) error {
	for _, dir := range sdr.Directions {
		if err := steps.Do("Enabling "+dir.String()+"... ", func() error { return dev.Enable(dir, true) }); err != nil {
			return err
		}
	}
	return nil
}

func resultErr(r stream.Result) error {
	if r.OK() {
		return nil
	}
	if r.Err != nil {
		return r.Err
	}
	return errors.New(sdr.CodeText(r.Code))
}

func captureMeta(id string, cfg Config) map[string]string {
	rec := cfg.Record
	meta := map[string]string{
		"session": id,
		"tx_freq": strconv.FormatUint(rec.TXFreq, 10),
		"rx_freq": strconv.FormatUint(rec.RXFreq, 10),
		"rx_sr":   strconv.FormatUint(rec.RXSR, 10),
		"rx_bw":   strconv.FormatUint(rec.RXBW, 10),
		"quick":   strconv.FormatBool(cfg.Quick),
	}
	if cfg.Waveform != nil {
		meta["waveform"] = cfg.Waveform.String()
	}
	return meta
}
