// Package capture persists the decoded RX stream.
package capture

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rjboer/duplexradar/internal/sdr"
)

// Sink receives decoded interleaved I/Q words in arrival order. Close
// finalises the capture.
type Sink interface {
	Open(path string) error
	WriteBlock(words []int16) error
	Close() error
}

// Discarder is implemented by sinks that can drop a capture of a failed
// session instead of persisting it.
type Discarder interface {
	Discard() error
}

// Discard abandons s: sinks that support it drop their partial output,
// others are closed.
func Discard(s Sink) error {
	if d, ok := s.(Discarder); ok {
		return d.Discard()
	}
	return s.Close()
}

// Formats accepted by New.
const (
	FormatRaw     = "raw"
	FormatParquet = "parquet"
	FormatMemory  = "memory"
)

// New returns an unopened sink for format. meta is embedded where the
// format has room for it.
func New(format string, meta map[string]string) (Sink, error) {
	switch format {
	case FormatRaw, "":
		return &File{}, nil
	case FormatParquet:
		return NewParquet(meta), nil
	case FormatMemory:
		return &Memory{}, nil
	default:
		return nil, fmt.Errorf("unknown capture format %q", format)
	}
}

func fileErr(op, path string, err error) error {
	return fmt.Errorf("%w: %s %s: %v", sdr.ErrFileIO, op, path, err)
}

func removePartial(path string) error {
	if path == "" {
		return nil
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fileErr("remove", path, err)
	}
	return nil
}

// Load reads a capture written by any persisting sink, choosing the decoder
// by file extension.
func Load(path string) ([]int16, error) {
	if strings.EqualFold(filepath.Ext(path), ".parquet") {
		return ReadParquet(path)
	}
	return ReadRaw(path)
}
