package engine

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestScopeLocks_SerializeSameScope(t *testing.T) {
	l := newScopeLocks()
	unlock := l.lock(7)

	acquired := make(chan struct{})
	go func() {
		release := l.lock(3, 7)
		close(acquired)
		release()
	}()

	select {
	case <-acquired:
		t.Fatal("second holder got scope 7 while it was held")
	case <-time.After(50 * time.Millisecond):
	}
	unlock()
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("second holder never acquired scope 7")
	}
}

func TestScopeLocks_DisjointScopesDoNotBlock(t *testing.T) {
	l := newScopeLocks()
	unlock := l.lock(1)
	defer unlock()

	done := make(chan struct{})
	go func() {
		l.lock(2)()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("disjoint scope blocked")
	}
}

func TestScopeLocks_OpposingOrderNoDeadlock(t *testing.T) {
	l := newScopeLocks()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() { defer wg.Done(); l.lock(1, 2)() }()
		go func() { defer wg.Done(); l.lock(2, 1, 2)() }()
	}
	wg.Wait()
	assert.Equal(t, 0, l.size(), "idle scopes are dropped")
}

func TestDedupe(t *testing.T) {
	assert.Equal(t, []int64{0, 3, 9}, dedupe([]int64{9, 0, 3, 9, 0}))
	assert.Empty(t, dedupe(nil))
}
