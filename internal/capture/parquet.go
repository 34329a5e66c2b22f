package capture

import (
	"errors"
	"io"
	"os"

	"github.com/segmentio/parquet-go"
)

// Row is one complex sample of a parquet capture.
type Row struct {
	I int32 `parquet:"I"`
	Q int32 `parquet:"Q"`
}

// Parquet writes the capture as a two-column parquet file. Metadata pairs
// are stored in the file footer.
type Parquet struct {
	meta map[string]string
	path string
	f    *os.File
	w    *parquet.GenericWriter[Row]
	rows []Row
}

func NewParquet(meta map[string]string) *Parquet {
	return &Parquet{meta: meta}
}

func (p *Parquet) Open(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fileErr("create", path, err)
	}
	opts := make([]parquet.WriterOption, 0, len(p.meta))
	for k, v := range p.meta {
		opts = append(opts, parquet.KeyValueMetadata(k, v))
	}
	p.path, p.f = path, f
	p.w = parquet.NewGenericWriter[Row](f, opts...)
	return nil
}

func (p *Parquet) WriteBlock(words []int16) error {
	if p.w == nil {
		return fileErr("write", p.path, os.ErrClosed)
	}
	p.rows = p.rows[:0]
	for i := 0; i+1 < len(words); i += 2 {
		p.rows = append(p.rows, Row{I: int32(words[i]), Q: int32(words[i+1])})
	}
	if _, err := p.w.Write(p.rows); err != nil {
		return fileErr("write", p.path, err)
	}
	return nil
}

func (p *Parquet) Close() error {
	if p.f == nil {
		return nil
	}
	writeErr := p.w.Close()
	closeErr := p.f.Close()
	p.f, p.w = nil, nil
	if err := errors.Join(writeErr, closeErr); err != nil {
		return fileErr("close", p.path, err)
	}
	return nil
}

func (p *Parquet) Discard() error {
	if p.f != nil {
		p.f.Close()
		p.f, p.w = nil, nil
	}
	return removePartial(p.path)
}

// ReadParquet loads the interleaved words of a parquet capture.
func ReadParquet(path string) ([]int16, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fileErr("open", path, err)
	}
	defer f.Close()

	r := parquet.NewGenericReader[Row](f)
	defer r.Close()

	words := make([]int16, 0, 2*r.NumRows())
	batch := make([]Row, 4096)
	for {
		n, err := r.Read(batch)
		for _, row := range batch[:n] {
			words = append(words, int16(row.I), int16(row.Q))
		}
		if errors.Is(err, io.EOF) {
			return words, nil
		}
		if err != nil {
			return nil, fileErr("read", path, err)
		}
	}
}
