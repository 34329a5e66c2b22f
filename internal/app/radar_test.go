package app

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rjboer/duplexradar/internal/capture"
	"github.com/rjboer/duplexradar/internal/config"
	"github.com/rjboer/duplexradar/internal/duplex"
	"github.com/rjboer/duplexradar/internal/sdr"
	"github.com/rjboer/duplexradar/internal/store"
	"github.com/rjboer/duplexradar/internal/telemetry"
)

func testConfig(t *testing.T) Config {
	t.Helper()
	dir := t.TempDir()
	cfg := DefaultConfig()
	cfg.RecordPath = filepath.Join(dir, "config.json")
	cfg.CapturePath = filepath.Join(dir, "samples.dat")
	cfg.TX = PathOptions{Buffers: 4, SamplesPerBuffer: 512, Budget: 4096}
	cfg.RX = PathOptions{Buffers: 4, SamplesPerBuffer: 512, Budget: 4000}
	return cfg
}

func TestRunLoopbackSession(t *testing.T) {
	cfg := testConfig(t)
	st, err := store.Open(filepath.Join(t.TempDir(), "sessions.db"), nil)
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	defer st.Close()

	var out bytes.Buffer
	sim := sdr.NewSim(sdr.SimConfig{Loopback: true, EchoDelay: 5})
	hub := telemetry.NewHub(100, nil)
	r := &Radar{Device: sim, Steps: NewSteps(&out, false), Hub: hub, Store: st}

	sess, err := r.Run(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Run: %v\n%s", err, out.String())
	}
	if !sess.OK() || sess.TXCompletions != 8 || sess.RXCompletions != 8 || sess.RXSamples != 4000 {
		t.Fatalf("session = %+v", sess)
	}

	rec, err := config.Load(cfg.RecordPath)
	if err != nil {
		t.Fatalf("config.Load: %v", err)
	}
	if rec != cfg.Record {
		t.Fatalf("record = %+v, want %+v", rec, cfg.Record)
	}

	words, err := capture.ReadRaw(cfg.CapturePath)
	if err != nil {
		t.Fatalf("ReadRaw: %v", err)
	}
	if len(words) != 8000 {
		t.Fatalf("capture has %d words, want 8000", len(words))
	}
	for s := 0; s < 4000; s++ {
		want := int16(0)
		if s >= 5 && (s-5)%256 == 0 {
			want = 2047
		}
		if words[2*s] != want {
			t.Fatalf("sample %d I = %d, want %d", s, words[2*s], want)
		}
	}

	if sim.Enabled(sdr.TX) || sim.Enabled(sdr.RX) {
		t.Fatalf("paths left enabled")
	}
	got, err := st.Get(sess.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.RXCompletions != 8 || got.Waveform != cfg.Waveform.String() {
		t.Fatalf("stored session = %+v", got)
	}
	if snap := hub.Snapshot(); snap.Phase != "done" || snap.Session != sess.ID || snap.Progress["RX"] == nil {
		t.Fatalf("hub snapshot = %+v", snap)
	}

	text := out.String()
	for _, want := range []string{
		"Checking FPGA status...                           OK",
		"Actual bandwidth:",
		"All set up.",
		"Enabling RX... ",
		"checking RX results... ",
		"Success!",
		"Closing device... ",
	} {
		if !strings.Contains(text, want) {
			t.Fatalf("missing %q in output:\n%s", want, text)
		}
	}
}

func TestRunFPGAMissing(t *testing.T) {
	cfg := testConfig(t)
	var out bytes.Buffer
	r := &Radar{Device: sdr.NewSim(sdr.SimConfig{FPGAMissing: true}), Steps: NewSteps(&out, false)}

	sess, err := r.Run(context.Background(), cfg)
	if !errors.Is(err, sdr.ErrFPGANotLoaded) {
		t.Fatalf("Run = %v, want ErrFPGANotLoaded", err)
	}
	if sess.Error == "" {
		t.Fatalf("session error not recorded")
	}
	if _, err := os.Stat(cfg.CapturePath); !os.IsNotExist(err) {
		t.Fatalf("capture created before setup finished: %v", err)
	}
	if !strings.Contains(out.String(), "Failed: "+sdr.ErrFPGANotLoaded.Error()) {
		t.Fatalf("output:\n%s", out.String())
	}
	if !strings.Contains(out.String(), "Closing device... ") {
		t.Fatalf("device not closed:\n%s", out.String())
	}
}

func TestRunParameterMismatch(t *testing.T) {
	cfg := testConfig(t)
	// Snapped up to the 28 MHz filter.
	cfg.Record.RXBW = 27_000_000
	r := &Radar{Device: sdr.NewSim(sdr.SimConfig{})}

	_, err := r.Run(context.Background(), cfg)
	if !errors.Is(err, sdr.ErrParameterMismatch) {
		t.Fatalf("Run = %v, want ErrParameterMismatch", err)
	}
}

func TestRunParameterRejected(t *testing.T) {
	cfg := testConfig(t)
	cfg.Record.TXFreq = 100_000_000
	r := &Radar{Device: sdr.NewSim(sdr.SimConfig{})}

	if _, err := r.Run(context.Background(), cfg); !errors.Is(err, sdr.ErrParameterRejected) {
		t.Fatalf("Run = %v, want ErrParameterRejected", err)
	}
}

func TestRunQuickSkipsConfiguration(t *testing.T) {
	cfg := testConfig(t)
	cfg.Quick = true
	var out bytes.Buffer
	// Quick mode never asks for the FPGA state.
	r := &Radar{Device: sdr.NewSim(sdr.SimConfig{FPGAMissing: true}), Steps: NewSteps(&out, false)}

	sess, err := r.Run(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Run: %v\n%s", err, out.String())
	}
	if !sess.Quick {
		t.Fatalf("session not marked quick")
	}
	if _, err := os.Stat(cfg.RecordPath); !os.IsNotExist(err) {
		t.Fatalf("quick mode wrote the config record: %v", err)
	}
	if strings.Contains(out.String(), "FPGA") {
		t.Fatalf("quick mode configured the device:\n%s", out.String())
	}
}

func TestRunTransferFailure(t *testing.T) {
	cfg := testConfig(t)
	sim := sdr.NewSim(sdr.SimConfig{Faults: map[sdr.Direction]sdr.Fault{
		sdr.TX: {AfterCompletions: 3, Code: sdr.CodeTimeout},
	}})
	var out bytes.Buffer
	r := &Radar{Device: sim, Steps: NewSteps(&out, false)}

	sess, err := r.Run(context.Background(), cfg)
	var sessErr *duplex.SessionError
	if !errors.As(err, &sessErr) {
		t.Fatalf("Run = %v, want *duplex.SessionError", err)
	}
	if _, failed := sessErr.Failed(sdr.TX); !failed {
		t.Fatalf("TX not reported: %v", err)
	}
	if sess.TXCode != sdr.CodeTimeout || sess.TXCompletions != 3 || sess.RXCode != 0 {
		t.Fatalf("session = %+v", sess)
	}
	if _, err := os.Stat(cfg.CapturePath); !os.IsNotExist(err) {
		t.Fatalf("failed capture kept: %v", err)
	}
	if strings.Contains(out.String(), "Success!") {
		t.Fatalf("failure reported as success:\n%s", out.String())
	}
}

func TestRunDeviceMissing(t *testing.T) {
	cfg := testConfig(t)
	r := &Radar{Device: sdr.NewSim(sdr.SimConfig{Unplugged: true})}
	if _, err := r.Run(context.Background(), cfg); !errors.Is(err, sdr.ErrDeviceOpenFailed) {
		t.Fatalf("Run = %v, want ErrDeviceOpenFailed", err)
	}
}

func TestRunAllocationFailure(t *testing.T) {
	cfg := testConfig(t)
	cfg.RX.Buffers = 0
	r := &Radar{Device: sdr.NewSim(sdr.SimConfig{})}
	if _, err := r.Run(context.Background(), cfg); !errors.Is(err, sdr.ErrAllocationFailed) {
		t.Fatalf("Run = %v, want ErrAllocationFailed", err)
	}
}

func TestStepsColor(t *testing.T) {
	var out bytes.Buffer
	s := NewSteps(&out, true)
	s.Do("Enabling TX... ", func() error { return nil })
	s.Do("Enabling RX... ", func() error { return errors.New("busy") })
	want := "Enabling TX...                                    \x1b[32mOK\x1b[0m\n" +
		"Enabling RX...                                    \x1b[31mFailed: busy\x1b[0m\n"
	if out.String() != want {
		t.Fatalf("output %q, want %q", out.String(), want)
	}
}
