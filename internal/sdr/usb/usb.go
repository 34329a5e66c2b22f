// Package usb drives the transceiver over libusb with gousb. It needs cgo;
// package sdr and everything built on it do not.
package usb

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/gousb"

	"github.com/rjboer/duplexradar/internal/iq"
	"github.com/rjboer/duplexradar/internal/sdr"
)

// USB identifiers and vendor requests of the transceiver firmware.
const (
	VendorID  = 0x2cf0
	ProductID = 0x5246

	cmdQueryFPGAStatus = 1
	cmdRFRX            = 4
	cmdRFTX            = 5

	rfLinkAltSetting = 1
	sampleEndpoint   = 1

	defaultUSBTimeout = time.Second
)

// Tuner programs the RF front end. The USB backend only moves samples and
// toggles the RF paths; tuning belongs to whatever register-level driver
// the caller plugs in.
type Tuner interface {
	SetFrequency(dir sdr.Direction, hz uint64) (uint64, error)
	SetBandwidth(dir sdr.Direction, hz uint64) (uint64, error)
	SetSampleRate(dir sdr.Direction, hz uint64) (uint64, error)
	SetGain(stage sdr.GainStage, value int) error
}

var _ sdr.Device = (*Device)(nil)

// Config selects and configures the USB backend.
type Config struct {
	Serial  string
	Timeout time.Duration // per bulk transfer
	Tuner   Tuner
}

// Device drives the transceiver over its sample bulk endpoints with gousb.
type Device struct {
	cfg Config

	mu    sync.Mutex
	ctx   *gousb.Context
	dev   *gousb.Device
	conf  *gousb.Config
	intf  *gousb.Interface
	epIn  *gousb.InEndpoint
	epOut *gousb.OutEndpoint
}

// New returns a closed Device; Open claims the hardware.
func New(cfg Config) *Device {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultUSBTimeout
	}
	return &Device{cfg: cfg}
}

func (u *Device) Open(_ context.Context) error {
	u.mu.Lock()
	defer u.mu.Unlock()

	ctx := gousb.NewContext()
	dev, err := ctx.OpenDeviceWithVIDPID(gousb.ID(VendorID), gousb.ID(ProductID))
	if err != nil {
		ctx.Close()
		return fmt.Errorf("%w: %v", sdr.ErrDeviceOpenFailed, err)
	}
	if dev == nil {
		ctx.Close()
		return fmt.Errorf("%w: no device %04x:%04x found", sdr.ErrDeviceOpenFailed, VendorID, ProductID)
	}
	if u.cfg.Serial != "" {
		serial, _ := dev.SerialNumber()
		if serial != u.cfg.Serial {
			dev.Close()
			ctx.Close()
			return fmt.Errorf("%w: serial mismatch: wanted %s, got %s", sdr.ErrDeviceOpenFailed, u.cfg.Serial, serial)
		}
	}
	dev.SetAutoDetach(true)

	conf, err := dev.Config(1)
	if err != nil {
		dev.Close()
		ctx.Close()
		return fmt.Errorf("%w: get configuration: %v", sdr.ErrDeviceOpenFailed, err)
	}
	intf, err := conf.Interface(0, rfLinkAltSetting)
	if err != nil {
		conf.Close()
		dev.Close()
		ctx.Close()
		return fmt.Errorf("%w: claim RF link interface: %v", sdr.ErrDeviceOpenFailed, err)
	}
	epIn, err := intf.InEndpoint(sampleEndpoint)
	if err != nil {
		intf.Close()
		conf.Close()
		dev.Close()
		ctx.Close()
		return fmt.Errorf("%w: sample IN endpoint: %v", sdr.ErrDeviceOpenFailed, err)
	}
	epOut, err := intf.OutEndpoint(sampleEndpoint)
	if err != nil {
		intf.Close()
		conf.Close()
		dev.Close()
		ctx.Close()
		return fmt.Errorf("%w: sample OUT endpoint: %v", sdr.ErrDeviceOpenFailed, err)
	}

	u.ctx, u.dev, u.conf, u.intf, u.epIn, u.epOut = ctx, dev, conf, intf, epIn, epOut
	return nil
}

// vendorIn issues a device-to-host vendor request whose reply is a
// little-endian int32 status.
func (u *Device) vendorIn(request uint8, value uint16) (int32, error) {
	u.mu.Lock()
	dev := u.dev
	u.mu.Unlock()
	if dev == nil {
		return 0, sdr.ErrNotOpen
	}
	var reply [4]byte
	n, err := dev.Control(gousb.ControlIn|gousb.ControlVendor|gousb.ControlDevice, request, value, 0, reply[:])
	if err != nil {
		return 0, err
	}
	if n != len(reply) {
		return 0, fmt.Errorf("short vendor reply: %d bytes", n)
	}
	return int32(binary.LittleEndian.Uint32(reply[:])), nil
}

func (u *Device) FPGAConfigured() (bool, error) {
	status, err := u.vendorIn(cmdQueryFPGAStatus, 0)
	if err != nil {
		return false, fmt.Errorf("query FPGA status: %w", err)
	}
	return status == 1, nil
}

func (u *Device) tuner() (Tuner, error) {
	if u.cfg.Tuner == nil {
		return nil, fmt.Errorf("%w: USB backend has no tuner configured", sdr.ErrParameterRejected)
	}
	return u.cfg.Tuner, nil
}

func (u *Device) SetFrequency(dir sdr.Direction, hz uint64) (uint64, error) {
	t, err := u.tuner()
	if err != nil {
		return 0, err
	}
	return t.SetFrequency(dir, hz)
}

func (u *Device) SetBandwidth(dir sdr.Direction, hz uint64) (uint64, error) {
	t, err := u.tuner()
	if err != nil {
		return 0, err
	}
	return t.SetBandwidth(dir, hz)
}

func (u *Device) SetSampleRate(dir sdr.Direction, hz uint64) (uint64, error) {
	t, err := u.tuner()
	if err != nil {
		return 0, err
	}
	return t.SetSampleRate(dir, hz)
}

func (u *Device) SetGain(stage sdr.GainStage, value int) error {
	t, err := u.tuner()
	if err != nil {
		return err
	}
	return t.SetGain(stage, value)
}

func (u *Device) Enable(dir sdr.Direction, enabled bool) error {
	request := uint8(cmdRFTX)
	if dir == sdr.RX {
		request = cmdRFRX
	}
	var value uint16
	if enabled {
		value = 1
	}
	status, err := u.vendorIn(request, value)
	if err != nil {
		return fmt.Errorf("enable %s: %w", dir, err)
	}
	if status != 0 {
		return fmt.Errorf("enable %s: firmware status %d", dir, status)
	}
	return nil
}

func (u *Device) Transport(dir sdr.Direction) (sdr.Transport, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.dev == nil {
		return nil, sdr.ErrNotOpen
	}
	return &usbTransport{dir: dir, in: u.epIn, out: u.epOut, timeout: u.cfg.Timeout}, nil
}

func (u *Device) Close() error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.intf != nil {
		u.intf.Close()
	}
	var errs []error
	if u.conf != nil {
		errs = append(errs, u.conf.Close())
	}
	if u.dev != nil {
		errs = append(errs, u.dev.Close())
	}
	if u.ctx != nil {
		errs = append(errs, u.ctx.Close())
	}
	u.ctx, u.dev, u.conf, u.intf, u.epIn, u.epOut = nil, nil, nil, nil, nil, nil
	return errors.Join(errs...)
}

// usbTransport runs one synchronous bulk transfer per handed buffer. Samples
// travel as interleaved little-endian int16 words.
type usbTransport struct {
	dir     sdr.Direction
	in      *gousb.InEndpoint
	out     *gousb.OutEndpoint
	timeout time.Duration
}

func (t *usbTransport) Stream(ctx context.Context, h sdr.Handler) error {
	var scratch []byte
	for action := h.Start(); !action.Stopped(); {
		buf := h.Buffer(action.Index)
		if action.Samples < 0 || 2*action.Samples > len(buf) {
			return &sdr.TransferError{Direction: t.dir, Code: sdr.CodeInval,
				Err: fmt.Errorf("transfer of %d samples does not fit buffer %d", action.Samples, action.Index)}
		}
		words := buf[:2*action.Samples]
		if cap(scratch) < 2*len(words) {
			scratch = make([]byte, 2*len(words))
		}
		raw := scratch[:2*len(words)]

		n, err := t.transfer(ctx, words, raw)
		if err != nil {
			return err
		}
		action = h.OnCompletion(action.Index, n)
	}
	return nil
}

// transfer moves one buffer and returns the number of whole samples moved.
func (t *usbTransport) transfer(ctx context.Context, words []int16, raw []byte) (int, error) {
	tctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	switch t.dir {
	case sdr.TX:
		iq.PutBlock(raw, words)
		n, err := t.out.WriteContext(tctx, raw)
		if err != nil {
			return 0, t.transferError(err)
		}
		return n / 4, nil
	default:
		n, err := t.in.ReadContext(tctx, raw)
		if err != nil {
			return 0, t.transferError(err)
		}
		samples := n / 4
		copy(words, iq.ReadBlock(raw[:4*samples]))
		return samples, nil
	}
}

func (t *usbTransport) transferError(err error) error {
	code := sdr.CodeIO
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, gousb.TransferTimedOut) {
		code = sdr.CodeTimeout
	}
	return &sdr.TransferError{Direction: t.dir, Code: code, Err: err}
}
