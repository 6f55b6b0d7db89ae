package ledger

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"topiary.org/internal/ids"
)

// File is a JSONL-backed Ledger: one JSON object per line, append-only. The
// full file is indexed at open time so idempotency lookups stay in memory.
type File struct {
	mu        sync.Mutex
	f         *os.File
	entries   []Entry
	succeeded map[string]struct{}
	byKey     map[string][]int
}

// OpenFile opens (creating if needed) the ledger at path and rebuilds the
// idempotency index from its contents.
func OpenFile(path string) (*File, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("ledger: open %s: %w", path, err)
	}
	l := &File{
		f:         f,
		succeeded: make(map[string]struct{}),
		byKey:     make(map[string][]int),
	}
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}
		var e Entry
		if err := json.Unmarshal(raw, &e); err != nil {
			_ = f.Close()
			return nil, fmt.Errorf("ledger: %s line %d: %w", path, line, err)
		}
		l.index(e)
	}
	if err := scanner.Err(); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("ledger: scan %s: %w", path, err)
	}
	return l, nil
}

var _ Ledger = (*File)(nil)

// Close releases the underlying file.
func (l *File) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.f.Close()
}

func (l *File) index(e Entry) {
	l.byKey[e.IdempotencyKey] = append(l.byKey[e.IdempotencyKey], len(l.entries))
	l.entries = append(l.entries, e)
	if e.Outcome == OutcomeSucceeded {
		l.succeeded[e.IdempotencyKey] = struct{}{}
	}
}

func (l *File) Append(ctx context.Context, e Entry) (Entry, error) {
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

	data, err := json.Marshal(e)
	if err != nil {
		return Entry{}, fmt.Errorf("ledger: marshal entry: %w", err)
	}
	if _, err := l.f.Write(append(data, '\n')); err != nil {
		return Entry{}, fmt.Errorf("ledger: append: %w", err)
	}
	l.index(e)
	return e, nil
}

func (l *File) HasSucceeded(ctx context.Context, key string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.succeeded[key]
	return ok, nil
}

func (l *File) ByKey(ctx context.Context, key string) ([]Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	idxs := l.byKey[key]
	out := make([]Entry, 0, len(idxs))
	for _, i := range idxs {
		out = append(out, l.entries[i])
	}
	return out, nil
}

func (l *File) List(ctx context.Context, limit int) ([]Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if limit <= 0 || limit > len(l.entries) {
		limit = len(l.entries)
	}
	start := len(l.entries) - limit
	out := make([]Entry, limit)
	copy(out, l.entries[start:])
	return out, nil
}
