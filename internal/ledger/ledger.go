package ledger

import (
	"context"
	"sync"
	"time"

	"topiary.org/internal/ids"
)

// Ledger defines append-only audit log operations.
type Ledger interface {
	// Append records e, assigning ID and Timestamp. Appending a succeeded
	// entry under an already-succeeded key fails with ErrDuplicateKey and
	// writes nothing.
	Append(ctx context.Context, e Entry) (Entry, error)
	// HasSucceeded reports whether a succeeded entry exists for key.
	HasSucceeded(ctx context.Context, key string) (bool, error)
	// ByKey returns every entry recorded under key, oldest first.
	ByKey(ctx context.Context, key string) ([]Entry, error)
	// List returns the most recent entries, oldest first, capped at limit.
	List(ctx context.Context, limit int) ([]Entry, error)
}

// InMemory implements Ledger with in-process concurrency safety.
type InMemory struct {
	mu        sync.RWMutex
	entries   []Entry
	succeeded map[string]struct{}
	byKey     map[string][]int
}

// NewInMemory creates an empty ledger.
func NewInMemory() *InMemory {
	return &InMemory{
		succeeded: make(map[string]struct{}),
		byKey:     make(map[string][]int),
	}
}

var _ Ledger = (*InMemory)(nil)

func (l *InMemory) Append(ctx context.Context, e Entry) (Entry, error) {
	if e.IdempotencyKey == "" {
		return Entry{}, errMissingKey
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if e.Outcome == OutcomeSucceeded {
		if _, done := l.succeeded[e.IdempotencyKey]; done {
			return Entry{}, ErrDuplicateKey
		}
	}

	e.ID = ids.New()
	e.Timestamp = time.Now().UTC()
	l.byKey[e.IdempotencyKey] = append(l.byKey[e.IdempotencyKey], len(l.entries))
	l.entries = append(l.entries, e)
	if e.Outcome == OutcomeSucceeded {
		l.succeeded[e.IdempotencyKey] = struct{}{}
	}
	return e, nil
}

func (l *InMemory) HasSucceeded(ctx context.Context, key string) (bool, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.succeeded[key]
	return ok, nil
}

func (l *InMemory) ByKey(ctx context.Context, key string) ([]Entry, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	idxs := l.byKey[key]
	out := make([]Entry, 0, len(idxs))
	for _, i := range idxs {
		out = append(out, l.entries[i])
	}
	return out, nil
}

func (l *InMemory) List(ctx context.Context, limit int) ([]Entry, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if limit <= 0 || limit > len(l.entries) {
		limit = len(l.entries)
	}
	start := len(l.entries) - limit
	out := make([]Entry, limit)
	copy(out, l.entries[start:])
	return out, nil
}
