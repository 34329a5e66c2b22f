package duplex

import (
	"context"
	"errors"
	"testing"

	"github.com/rjboer/duplexradar/internal/capture"
	"github.com/rjboer/duplexradar/internal/pool"
	"github.com/rjboer/duplexradar/internal/sdr"
	"github.com/rjboer/duplexradar/internal/stream"
)

func openSim(t *testing.T, cfg sdr.SimConfig) *sdr.Sim {
	t.Helper()
	sim := sdr.NewSim(cfg)
	if err := sim.Open(context.Background()); err != nil {
		t.Fatalf("Open: %v", err)
	}
	for _, dir := range sdr.Directions {
		if err := sim.Enable(dir, true); err != nil {
			t.Fatalf("Enable %s: %v", dir, err)
		}
	}
	return sim
}

func mustPool(t *testing.T, n, spb int) *pool.Pool {
	t.Helper()
	p, err := pool.New(n, spb)
	if err != nil {
		t.Fatalf("pool.New: %v", err)
	}
	return p
}

func TestRunLoopbackSession(t *testing.T) {
	const delay = 10
	sim := openSim(t, sdr.SimConfig{Loopback: true, EchoDelay: delay})
	sink := &capture.Memory{}
	sink.Open("")

	txPool, rxPool := mustPool(t, 4, 1024), mustPool(t, 4, 1024)
	c := &Coordinator{Device: sim}
	rep, err := c.Run(context.Background(),
		PathConfig{Pool: txPool, Budget: 8192, Waveform: stream.Pulse{Period: 256, Width: 1, Amplitude: 2047}},
		PathConfig{Pool: rxPool, Budget: 8000, Sink: sink},
	)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !rep.TX.OK() || !rep.RX.OK() {
		t.Fatalf("report %v / %v", rep.TX, rep.RX)
	}
	if rep.TX.Completions != 8 || rep.RX.Completions != 8 {
		t.Fatalf("completions TX=%d RX=%d, want 8 each", rep.TX.Completions, rep.RX.Completions)
	}
	if sim.Transfers(sdr.TX) != 8 || sim.Transfers(sdr.RX) != 8 {
		t.Fatalf("device saw TX=%d RX=%d transfers", sim.Transfers(sdr.TX), sim.Transfers(sdr.RX))
	}

	words := sink.Words()
	if len(words) != 2*8000 {
		t.Fatalf("captured %d words, want %d", len(words), 2*8000)
	}
	for s := 0; s < 8000; s++ {
		wantI := int16(0)
		if s >= delay && (s-delay)%256 == 0 {
			wantI = 2047
		}
		if words[2*s] != wantI || words[2*s+1] != 0 {
			t.Fatalf("sample %d = (%d, %d), want (%d, 0)", s, words[2*s], words[2*s+1], wantI)
		}
	}

	for _, dir := range sdr.Directions {
		if sim.Enabled(dir) {
			t.Fatalf("%s still enabled after session", dir)
		}
	}
	if txPool.Buffer(0) != nil || rxPool.Buffer(0) != nil {
		t.Fatalf("pools not released")
	}
}

func TestRunJointTermination(t *testing.T) {
	sim := openSim(t, sdr.SimConfig{
		Loopback: true,
		Faults:   map[sdr.Direction]sdr.Fault{sdr.TX: {AfterCompletions: 3}},
	})
	sink := &capture.Memory{}
	sink.Open("")

	c := &Coordinator{Device: sim}
	rep, err := c.Run(context.Background(),
		PathConfig{Pool: mustPool(t, 4, 512), Budget: 1 << 20, Waveform: stream.FullScale{Amplitude: 1000}},
		PathConfig{Pool: mustPool(t, 4, 512), Budget: 64 * 512, Sink: sink},
	)
	var se *SessionError
	if !errors.As(err, &se) {
		t.Fatalf("Run error = %v, want *SessionError", err)
	}
	txRes, ok := se.Failed(sdr.TX)
	if !ok || txRes.Code != sdr.CodeIO || txRes.Completions != 3 {
		t.Fatalf("TX failure = %+v (%v)", txRes, ok)
	}
	if _, ok := se.Failed(sdr.RX); ok {
		t.Fatalf("RX reported as failed: %v", err)
	}
	if !rep.RX.OK() {
		t.Fatalf("RX result %v", rep.RX)
	}
	if rep.RX.Completions != 64 || sim.Transfers(sdr.RX) != 64 {
		t.Fatalf("RX did not run to completion: %d transfers", rep.RX.Completions)
	}
	var te *sdr.TransferError
	if !errors.As(err, &te) || te.Direction != sdr.TX {
		t.Fatalf("session error does not expose the TX transfer failure: %v", err)
	}
	if sink.Words() != nil {
		t.Fatalf("capture of failed session kept %d words", len(sink.Words()))
	}
	for _, dir := range sdr.Directions {
		if sim.Enabled(dir) {
			t.Fatalf("%s still enabled after failed session", dir)
		}
	}
}

type failingSink struct{ capture.Memory }

func (f *failingSink) WriteBlock([]int16) error {
	return sdr.ErrFileIO
}

func TestRunRXSinkFailure(t *testing.T) {
	sim := openSim(t, sdr.SimConfig{})
	c := &Coordinator{Device: sim}
	rep, err := c.Run(context.Background(),
		PathConfig{Pool: mustPool(t, 2, 256), Budget: 2048, Waveform: stream.FullScale{Amplitude: 1}},
		PathConfig{Pool: mustPool(t, 2, 256), Budget: 2048, Sink: &failingSink{}},
	)
	if !errors.Is(err, sdr.ErrFileIO) {
		t.Fatalf("Run error = %v, want ErrFileIO", err)
	}
	if rep.RX.Code != stream.ErrCodeSink || !rep.TX.OK() {
		t.Fatalf("report TX=%v RX=%v", rep.TX, rep.RX)
	}
}

func TestRunWithoutOpenDevice(t *testing.T) {
	sim := sdr.NewSim(sdr.SimConfig{})
	txPool, rxPool := mustPool(t, 2, 16), mustPool(t, 2, 16)
	c := &Coordinator{Device: sim}
	_, err := c.Run(context.Background(),
		PathConfig{Pool: txPool, Budget: 16, Waveform: stream.FullScale{Amplitude: 1}},
		PathConfig{Pool: rxPool, Budget: 16, Sink: &capture.Memory{}},
	)
	if !errors.Is(err, sdr.ErrNotOpen) {
		t.Fatalf("Run error = %v, want ErrNotOpen", err)
	}
	if txPool.Buffer(0) != nil || rxPool.Buffer(0) != nil {
		t.Fatalf("pools not released after setup failure")
	}
}

func TestObserverReceivesBothDirections(t *testing.T) {
	sim := openSim(t, sdr.SimConfig{})
	seen := make(chan stream.Progress, 64)
	c := &Coordinator{Device: sim, Observer: stream.ObserverFunc(func(p stream.Progress) { seen <- p })}
	sink := &capture.Memory{}
	sink.Open("")
	if _, err := c.Run(context.Background(),
		PathConfig{Pool: mustPool(t, 2, 100), Budget: 300, Waveform: stream.FullScale{Amplitude: 1}},
		PathConfig{Pool: mustPool(t, 2, 100), Budget: 200, Sink: sink},
	); err != nil {
		t.Fatalf("Run: %v", err)
	}
	close(seen)
	counts := map[sdr.Direction]int{}
	for p := range seen {
		counts[p.Direction]++
	}
	if counts[sdr.TX] != 3 || counts[sdr.RX] != 2 {
		t.Fatalf("progress events %v", counts)
	}
}

func TestRunDisablesPathsWhenEngineRejected(t *testing.T) {
	sim := openSim(t, sdr.SimConfig{})
	txPool, rxPool := mustPool(t, 2, 16), mustPool(t, 2, 16)
	sink := &capture.Memory{}
	sink.Open("")
	c := &Coordinator{Device: sim}
	_, err := c.Run(context.Background(),
		PathConfig{Pool: txPool, Budget: 16, Waveform: stream.FullScale{Amplitude: 1}},
		PathConfig{Pool: rxPool, Budget: 0, Sink: sink},
	)
	if err == nil {
		t.Fatalf("Run accepted a zero RX budget")
	}
	for _, dir := range sdr.Directions {
		if sim.Enabled(dir) {
			t.Fatalf("%s left enabled after setup failure", dir)
		}
	}
	if sim.Transfers(sdr.TX) != 0 || sim.Transfers(sdr.RX) != 0 {
		t.Fatalf("transfers started after setup failure")
	}
	if txPool.Buffer(0) != nil || rxPool.Buffer(0) != nil {
		t.Fatalf("pools not released after setup failure")
	}
}

func TestRunRejectsSharedPool(t *testing.T) {
	sim := openSim(t, sdr.SimConfig{Loopback: true})
	p := mustPool(t, 2, 16)
	sink := &capture.Memory{}
	sink.Open("")
	c := &Coordinator{Device: sim}
	_, err := c.Run(context.Background(),
		PathConfig{Pool: p, Budget: 32, Waveform: stream.FullScale{Amplitude: 1}},
		PathConfig{Pool: p, Budget: 32, Sink: sink},
	)
	if !errors.Is(err, ErrSharedPool) {
		t.Fatalf("Run error = %v, want ErrSharedPool", err)
	}
	if sim.Enabled(sdr.TX) || sim.Enabled(sdr.RX) {
		t.Fatalf("paths left enabled")
	}
	if sink.Words() != nil {
		t.Fatalf("capture kept after rejected session")
	}
}
