package stream

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

var (
	ErrBarrierReleased = errors.New("barrier already released")
	ErrBarrierNotReady = errors.New("barrier released before all parties were ready")
	ErrBarrierAborted  = errors.New("start aborted")
	ErrBarrierFull     = errors.New("barrier has no free party slot")
)

// Barrier gates the start of a fixed number of engines. Every party
// arrives, the owner waits for all of them and releases once. A barrier is
// never reset.
type Barrier struct {
	parties int

	mu       sync.Mutex
	arrived  int
	done     bool
	err      error
	ready    chan struct{}
	released chan struct{}
}

// NewBarrier returns a one-shot barrier for parties engines.
func NewBarrier(parties int) *Barrier {
	return &Barrier{
		parties:  parties,
		ready:    make(chan struct{}),
		released: make(chan struct{}),
	}
}

// Arrive marks one party ready.
func (b *Barrier) Arrive() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.arrived >= b.parties {
		return ErrBarrierFull
	}
	b.arrived++
	if b.arrived == b.parties {
		close(b.ready)
	}
	return nil
}

// WaitReady blocks until every party has arrived.
func (b *Barrier) WaitReady(ctx context.Context) error {
	select {
	case <-b.ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Release lets every waiting party proceed. It fails unless all parties
// have arrived, and on any call after the first.
func (b *Barrier) Release() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.done {
		return ErrBarrierReleased
	}
	if b.arrived < b.parties {
		return fmt.Errorf("%w: %d of %d", ErrBarrierNotReady, b.arrived, b.parties)
	}
	b.done = true
	close(b.released)
	return nil
}

// Abort wakes every waiting party with err instead of releasing it. It is a
// no-op once the barrier was released or aborted.
func (b *Barrier) Abort(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.done {
		return
	}
	if err == nil {
		err = ErrBarrierAborted
	} else if !errors.Is(err, ErrBarrierAborted) {
		err = fmt.Errorf("%w: %w", ErrBarrierAborted, err)
	}
	b.done = true
	b.err = err
	close(b.released)
}

// Wait blocks a party until release or abort.
func (b *Barrier) Wait(ctx context.Context) error {
	select {
	case <-b.released:
		b.mu.Lock()
		defer b.mu.Unlock()
		return b.err
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", ErrBarrierAborted, ctx.Err())
	}
}
