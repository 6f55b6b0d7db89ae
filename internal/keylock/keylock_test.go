package keylock

import (
	"sync"
	"testing"
)

func TestSameKeySerializes(t *testing.T) {
	m := New()
	var counter int
	var wg sync.WaitGroup
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := m.Lock("topic-1")
			defer unlock()
			counter++
		}()
	}
	wg.Wait()
	if counter != 64 {
		t.Fatalf("counter = %d, want 64", counter)
	}
}

func TestDifferentKeysIndependent(t *testing.T) {
	m := New()
	unlockA := m.Lock("a")
	defer unlockA()

	// A different key must not block.
	unlockB, ok := m.TryLock("b")
	if !ok {
		t.Fatal("different key blocked")
	}
	unlockB()
}

func TestTryLockContended(t *testing.T) {
	m := New()
	unlock := m.Lock("a")
	if _, ok := m.TryLock("a"); ok {
		t.Fatal("TryLock succeeded on a held key")
	}
	unlock()
	unlock2, ok := m.TryLock("a")
	if !ok {
		t.Fatal("TryLock failed on a released key")
	}
	unlock2()
}

func TestMapDoesNotLeak(t *testing.T) {
	m := New()
	for i := 0; i < 100; i++ {
		unlock := m.Lock("ephemeral")
		unlock()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.locks) != 0 {
		t.Fatalf("lock map retains %d entries", len(m.locks))
	}
}
