// Package keylock serializes work per string key. Operations against
// different topics or requests run concurrently; operations against the same
// key take turns.
package keylock

import "sync"

// Map is a lazily populated set of per-key mutexes.
type Map struct {
	mu    sync.Mutex
	locks map[string]*entry
}

type entry struct {
	mu   sync.Mutex
	refs int
}

// New creates an empty lock map.
func New() *Map {
	return &Map{locks: make(map[string]*entry)}
}

// Lock acquires the mutex for key and returns its unlock function. Entries
// are dropped once the last holder releases, so the map does not grow with
// the universe of keys ever seen.
func (m *Map) Lock(key string) (unlock func()) {
	m.mu.Lock()
	e, ok := m.locks[key]
	if !ok {
		e = &entry{}
		m.locks[key] = e
	}
	e.refs++
	m.mu.Unlock()

	e.mu.Lock()
	return func() {
		e.mu.Unlock()
		m.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(m.locks, key)
		}
		m.mu.Unlock()
	}
}

// TryLock acquires the mutex for key without blocking. It returns the unlock
// function and true on success, or nil and false when the key is held.
func (m *Map) TryLock(key string) (unlock func(), ok bool) {
	m.mu.Lock()
	e, exists := m.locks[key]
	if !exists {
		e = &entry{}
		m.locks[key] = e
	}
	e.refs++
	m.mu.Unlock()

	if !e.mu.TryLock() {
		m.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(m.locks, key)
		}
		m.mu.Unlock()
		return nil, false
	}
	return func() {
		e.mu.Unlock()
		m.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(m.locks, key)
		}
		m.mu.Unlock()
	}, true
}
