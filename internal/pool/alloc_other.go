//go:build !linux

package pool

type arena struct {
	words []int16
}

// Memory locking is only wired up on Linux; elsewhere lock is ignored.
func allocArena(words int, _ bool) (*arena, error) {
	return &arena{words: make([]int16, words)}, nil
}

func (a *arena) free() error {
	a.words = nil
	return nil
}
