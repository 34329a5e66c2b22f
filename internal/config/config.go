// Package config holds the radio configuration record written next to each
// capture so offline analysis knows how the samples were taken.
package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/rjboer/duplexradar/internal/sdr"
)

// DefaultPath is where the session writes the record unless told otherwise.
const DefaultPath = "./bladerf_config.json"

// Record is the flat JSON configuration record. Frequencies, bandwidths and
// rates are in Hz, gains in dB.
type Record struct {
	TXFreq uint64 `json:"tx_freq"`
	RXFreq uint64 `json:"rx_freq"`
	TXBW   uint64 `json:"tx_bw"`
	RXBW   uint64 `json:"rx_bw"`
	TXSR   uint64 `json:"tx_sr"`
	RXSR   uint64 `json:"rx_sr"`
	TXVGA1 int    `json:"txvga1"`
	TXVGA2 int    `json:"txvga2"`
	RXVGA1 int    `json:"rxvga1"`
	RXVGA2 int    `json:"rxvga2"`

	// LNA is applied to the device but not part of the written record.
	LNA int `json:"-"`
}

// Default returns the S-band radar configuration.
func Default() Record {
	return Record{
		TXFreq: 3_410_000_000,
		RXFreq: 3_400_000_000,
		TXBW:   28_000_000,
		RXBW:   28_000_000,
		TXSR:   40_000_000,
		RXSR:   40_000_000,
		TXVGA1: -4,
		TXVGA2: 25,
		RXVGA1: 30,
		RXVGA2: 30,
		LNA:    sdr.LNAMax,
	}
}

// Frequency returns the centre frequency of dir.
func (r Record) Frequency(dir sdr.Direction) uint64 {
	if dir == sdr.RX {
		return r.RXFreq
	}
	return r.TXFreq
}

// Bandwidth returns the filter bandwidth of dir.
func (r Record) Bandwidth(dir sdr.Direction) uint64 {
	if dir == sdr.RX {
		return r.RXBW
	}
	return r.TXBW
}

// SampleRate returns the sample rate of dir.
func (r Record) SampleRate(dir sdr.Direction) uint64 {
	if dir == sdr.RX {
		return r.RXSR
	}
	return r.TXSR
}

// Save writes r to path as indented JSON.
func Save(path string, r Record) error {
	data, err := json.MarshalIndent(r, "", "    ")
	if err != nil {
		return fmt.Errorf("encode config record: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("%w: write %s: %v", sdr.ErrFileIO, path, err)
	}
	return nil
}

// Load reads a record written by Save. LNA is not stored and comes back as
// the default.
func Load(path string) (Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Record{}, fmt.Errorf("%w: read %s: %v", sdr.ErrFileIO, path, err)
	}
	r := Record{LNA: sdr.LNAMax}
	if err := json.Unmarshal(data, &r); err != nil {
		return Record{}, fmt.Errorf("decode config record %s: %w", path, err)
	}
	return r, nil
}
