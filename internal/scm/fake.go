package scm

import (
	"context"
	"fmt"
	"sync"

	"topiary.org/internal/fault"
)

// Fake is an in-memory Client for tests.
type Fake struct {
	mu      sync.Mutex
	changes map[string]Status

	// FailMerge forces Merge to error when set.
	FailMerge bool
}

func NewFake() *Fake {
	return &Fake{changes: make(map[string]Status)}
}

var _ Client = (*Fake)(nil)

func (f *Fake) Seed(st Status) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.changes[st.ID] = st
}

func (f *Fake) GetStatus(ctx context.Context, changeID string) (Status, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	st, ok := f.changes[changeID]
	if !ok {
		return Status{}, fmt.Errorf("%w: change %s", fault.ErrNotFound, changeID)
	}
	return st, nil
}

func (f *Fake) Approve(ctx context.Context, changeID, reviewer string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	st, ok := f.changes[changeID]
	if !ok {
		return fmt.Errorf("%w: change %s", fault.ErrNotFound, changeID)
	}
	st.State = "approved"
	f.changes[changeID] = st
	return nil
}

func (f *Fake) RequestChanges(ctx context.Context, changeID, reviewer, comment string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	st, ok := f.changes[changeID]
	if !ok {
		return fmt.Errorf("%w: change %s", fault.ErrNotFound, changeID)
	}
	st.State = "open"
	f.changes[changeID] = st
	return nil
}

func (f *Fake) Merge(ctx context.Context, changeID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.FailMerge {
		return fmt.Errorf("%w: merge rejected by host", fault.ErrPlatformUnavailable)
	}
	st, ok := f.changes[changeID]
	if !ok {
		return fmt.Errorf("%w: change %s", fault.ErrNotFound, changeID)
	}
	st.State = "merged"
	f.changes[changeID] = st
	return nil
}
