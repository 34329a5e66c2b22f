package capture

import (
	"bufio"
	"errors"
	"os"

	"github.com/rjboer/duplexradar/internal/iq"
)

const writeBufferSize = 1 << 20

// File streams the capture to disk as flat little-endian int16 I/Q words
// with no header.
type File struct {
	path    string
	f       *os.File
	w       *bufio.Writer
	scratch []byte
	words   int64
}

func (s *File) Open(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fileErr("create", path, err)
	}
	s.path, s.f = path, f
	s.w = bufio.NewWriterSize(f, writeBufferSize)
	s.words = 0
	return nil
}

func (s *File) WriteBlock(words []int16) error {
	if s.w == nil {
		return fileErr("write", s.path, os.ErrClosed)
	}
	s.scratch = iq.AppendBlock(s.scratch[:0], words)
	if _, err := s.w.Write(s.scratch); err != nil {
		return fileErr("write", s.path, err)
	}
	s.words += int64(len(words))
	return nil
}

// Words returns the number of words written so far.
func (s *File) Words() int64 { return s.words }

func (s *File) Close() error {
	if s.f == nil {
		return nil
	}
	flushErr := s.w.Flush()
	closeErr := s.f.Close()
	s.f, s.w = nil, nil
	if err := errors.Join(flushErr, closeErr); err != nil {
		return fileErr("close", s.path, err)
	}
	return nil
}

func (s *File) Discard() error {
	if s.f != nil {
		s.f.Close()
		s.f, s.w = nil, nil
	}
	return removePartial(s.path)
}

// ReadRaw loads a raw capture written by File.
func ReadRaw(path string) ([]int16, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fileErr("read", path, err)
	}
	return iq.ReadBlock(data), nil
}
