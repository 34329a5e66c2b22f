package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/rjboer/duplexradar/internal/sdr"
)

func TestSaveWritesFlatRecord(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bladerf_config.json")
	if err := Save(path, Default()); err != nil {
		t.Fatalf("Save: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	want := `{
    "tx_freq": 3410000000,
    "rx_freq": 3400000000,
    "tx_bw": 28000000,
    "rx_bw": 28000000,
    "tx_sr": 40000000,
    "rx_sr": 40000000,
    "txvga1": -4,
    "txvga2": 25,
    "rxvga1": 30,
    "rxvga2": 30
}
`
	if string(data) != want {
		t.Fatalf("record =\n%s\nwant\n%s", data, want)
	}
}

func TestLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cfg.json")
	r := Default()
	r.RXSR = 20_000_000
	r.TXVGA1 = -10
	if err := Save(path, r); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got != r {
		t.Fatalf("Load = %+v, want %+v", got, r)
	}
	if got.SampleRate(sdr.RX) != 20_000_000 || got.Frequency(sdr.TX) != 3_410_000_000 || got.Bandwidth(sdr.RX) != 28_000_000 {
		t.Fatalf("accessors disagree with record: %+v", got)
	}
}

func TestLoadErrors(t *testing.T) {
	dir := t.TempDir()
	if _, err := Load(filepath.Join(dir, "absent.json")); !errors.Is(err, sdr.ErrFileIO) {
		t.Fatalf("missing file error = %v", err)
	}
	bad := filepath.Join(dir, "bad.json")
	os.WriteFile(bad, []byte("{not json"), 0o644)
	if _, err := Load(bad); err == nil {
		t.Fatalf("malformed record accepted")
	}
	if err := Save(filepath.Join(dir, "no", "such", "dir.json"), Default()); !errors.Is(err, sdr.ErrFileIO) {
		t.Fatalf("Save into missing dir = %v", err)
	}
}
