// Package pool owns the fixed set of sample buffers one stream direction
// hands to the hardware. Buffers are addressed by index and visited in
// strict round-robin order.
package pool

import (
	"fmt"
	"math"
	"sync"

	"github.com/rjboer/duplexradar/internal/sdr"
)

// Option adjusts pool allocation.
type Option func(*options)

type options struct {
	lock bool
}

// WithLockedMemory pins the arena in RAM so transfers never fault on a
// swapped-out page.
func WithLockedMemory() Option {
	return func(o *options) { o.lock = true }
}

// Pool is one contiguous arena split into equally sized buffers of
// interleaved I/Q words.
type Pool struct {
	mu      sync.Mutex
	arena   *arena
	buffers [][]int16
	spb     int
}

// New allocates numBuffers buffers of samplesPerBuffer samples each.
func New(numBuffers, samplesPerBuffer int, opts ...Option) (*Pool, error) {
	if numBuffers <= 0 || samplesPerBuffer <= 0 {
		return nil, fmt.Errorf("%w: pool of %d buffers x %d samples", sdr.ErrAllocationFailed, numBuffers, samplesPerBuffer)
	}
	// Each sample is two int16 words, four bytes.
	if samplesPerBuffer > math.MaxInt/4 || numBuffers > math.MaxInt/(4*samplesPerBuffer) {
		return nil, fmt.Errorf("%w: pool size overflows", sdr.ErrAllocationFailed)
	}
	words := 2 * samplesPerBuffer

	var o options
	for _, opt := range opts {
		opt(&o)
	}

	a, err := allocArena(numBuffers*words, o.lock)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", sdr.ErrAllocationFailed, err)
	}
	p := &Pool{arena: a, spb: samplesPerBuffer, buffers: make([][]int16, numBuffers)}
	for i := range p.buffers {
		p.buffers[i] = a.words[i*words : (i+1)*words : (i+1)*words]
	}
	return p, nil
}

// Len returns the number of buffers.
func (p *Pool) Len() int { return len(p.buffers) }

// SamplesPerBuffer returns the capacity of each buffer in samples.
func (p *Pool) SamplesPerBuffer() int { return p.spb }

// Buffer returns buffer index modulo Len, or nil once the pool is closed.
func (p *Pool) Buffer(index int) []int16 {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.arena == nil {
		return nil
	}
	n := len(p.buffers)
	return p.buffers[((index%n)+n)%n]
}

// Advance returns the index following index.
func (p *Pool) Advance(index int) int {
	return (index + 1) % len(p.buffers)
}

// Close releases the arena. Buffers obtained earlier must not be used
// afterwards.
func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.arena == nil {
		return nil
	}
	err := p.arena.free()
	p.arena = nil
	p.buffers = make([][]int16, len(p.buffers))
	return err
}
