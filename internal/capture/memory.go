package capture

import (
	"os"

	"github.com/rjboer/duplexradar/internal/iq"
)

// Memory holds the whole capture in RAM and only writes it, in the raw
// format, when closed. An empty path keeps the capture in memory only.
type Memory struct {
	path  string
	words []int16
}

func (m *Memory) Open(path string) error {
	m.path = path
	m.words = m.words[:0]
	return nil
}

func (m *Memory) WriteBlock(words []int16) error {
	m.words = append(m.words, words...)
	return nil
}

// Words returns the captured words. The slice is owned by m.
func (m *Memory) Words() []int16 { return m.words }

func (m *Memory) Close() error {
	if m.path == "" {
		return nil
	}
	if err := os.WriteFile(m.path, iq.AppendBlock(make([]byte, 0, 2*len(m.words)), m.words), 0o644); err != nil {
		return fileErr("write", m.path, err)
	}
	return nil
}

func (m *Memory) Discard() error {
	m.words = nil
	return nil
}
