package usb

import (
	"context"
	"errors"
	"testing"

	"github.com/google/gousb"

	"github.com/rjboer/duplexradar/internal/sdr"
)

type oversizeHandler struct{ buf []int16 }

// Start asks for one sample more than the buffer holds.
func (h *oversizeHandler) Start() sdr.Action                { return sdr.Continue(0, len(h.buf)/2+1) }
func (h *oversizeHandler) OnCompletion(int, int) sdr.Action { return sdr.Stop() }
func (h *oversizeHandler) Buffer(int) []int16               { return h.buf }

func TestStreamRejectsOversizeTransfer(t *testing.T) {
	tr := &usbTransport{dir: sdr.RX, timeout: defaultUSBTimeout}
	err := tr.Stream(context.Background(), &oversizeHandler{buf: make([]int16, 8)})
	if code := sdr.StatusCode(err); code != sdr.CodeInval {
		t.Fatalf("Stream = %v (code %d), want CodeInval", err, code)
	}
}

func TestTransferErrorCodes(t *testing.T) {
	tr := &usbTransport{dir: sdr.TX}
	if code := sdr.StatusCode(tr.transferError(gousb.TransferTimedOut)); code != sdr.CodeTimeout {
		t.Fatalf("timeout mapped to %d", code)
	}
	if code := sdr.StatusCode(tr.transferError(context.DeadlineExceeded)); code != sdr.CodeTimeout {
		t.Fatalf("deadline mapped to %d", code)
	}
	var te *sdr.TransferError
	if err := tr.transferError(errors.New("stall")); !errors.As(err, &te) || te.Code != sdr.CodeIO || te.Direction != sdr.TX {
		t.Fatalf("stall mapped to %v", err)
	}
}

func TestClosedDevice(t *testing.T) {
	d := New(Config{})
	if _, err := d.Transport(sdr.RX); !errors.Is(err, sdr.ErrNotOpen) {
		t.Fatalf("Transport on closed device = %v", err)
	}
	if err := d.Enable(sdr.TX, false); !errors.Is(err, sdr.ErrNotOpen) {
		t.Fatalf("Enable on closed device = %v", err)
	}
	if _, err := d.SetFrequency(sdr.TX, 2_400_000_000); !errors.Is(err, sdr.ErrParameterRejected) {
		t.Fatalf("SetFrequency without tuner = %v", err)
	}
	if err := d.Close(); err != nil {
		t.Fatalf("Close = %v", err)
	}
}
