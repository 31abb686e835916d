package engine

import (
	"sort"
	"sync"
)

// scopeLocks hands out one mutex per sibling scope (parent id, 0 for the
// root scope). Entries are reference counted and dropped when idle, so the
// map does not grow with the number of parents ever touched.
type scopeLocks struct {
	mu    sync.Mutex
	locks map[int64]*scopeLock
}

type scopeLock struct {
	mu   sync.Mutex
	refs int
}

func newScopeLocks() *scopeLocks {
	return &scopeLocks{locks: make(map[int64]*scopeLock)}
}

// lock acquires every listed scope in ascending order and returns the
// release func. Sorted acquisition keeps two multi-scope moves from
// deadlocking on each other.
func (s *scopeLocks) lock(keys ...int64) func() {
	keys = dedupe(keys)

	held := make([]*scopeLock, 0, len(keys))
	for _, k := range keys {
		s.mu.Lock()
		l, ok := s.locks[k]
		if !ok {
			l = &scopeLock{}
			s.locks[k] = l
		}
		l.refs++
		s.mu.Unlock()

		l.mu.Lock()
		held = append(held, l)
	}

	return func() {
		for i := len(held) - 1; i >= 0; i-- {
			held[i].mu.Unlock()
		}
		s.mu.Lock()
		for i, k := range keys {
			held[i].refs--
			if held[i].refs == 0 {
				delete(s.locks, k)
			}
		}
		s.mu.Unlock()
	}
}

// size reports how many scopes currently have holders or waiters.
func (s *scopeLocks) size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.locks)
}

func dedupe(keys []int64) []int64 {
	out := append([]int64(nil), keys...)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	n := 0
	for i, k := range out {
		if i > 0 && k == out[n-1] {
			continue
		}
		out[n] = k
		n++
	}
	return out[:n]
}
