//go:build linux

package pool

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"
)

type arena struct {
	mem    []byte
	words  []int16
	locked bool
}

func allocArena(words int, lock bool) (*arena, error) {
	mem, err := unix.Mmap(-1, 0, 2*words, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return nil, fmt.Errorf("mmap %d bytes: %w", 2*words, err)
	}
	if lock {
		if err := unix.Mlock(mem); err != nil {
			unix.Munmap(mem)
			return nil, fmt.Errorf("mlock %d bytes: %w", len(mem), err)
		}
	}
	return &arena{
		mem:    mem,
		words:  unsafe.Slice((*int16)(unsafe.Pointer(&mem[0])), words),
		locked: lock,
	}, nil
}

func (a *arena) free() error {
	if a.locked {
		if err := unix.Munlock(a.mem); err != nil {
			return fmt.Errorf("munlock: %w", err)
		}
	}
	if err := unix.Munmap(a.mem); err != nil {
		return fmt.Errorf("munmap: %w", err)
	}
	a.mem, a.words = nil, nil
	return nil
}
