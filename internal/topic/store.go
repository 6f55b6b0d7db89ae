package topic

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"topiary.org/internal/fault"
)

// Store holds the current known state of every topic.
type Store interface {
	Get(ctx context.Context, id string) (Topic, error)
	Put(ctx context.Context, t Topic) error
	// PutBatch persists all records or none; the audit engine relies on
	// this to stay all-or-nothing per invocation.
	PutBatch(ctx context.Context, topics []Topic) error
	// List returns topics ordered by ID, optionally filtered to a category.
	List(ctx context.Context, category string) ([]Topic, error)
}

// InMemory implements Store with in-process concurrency safety.
type InMemory struct {
	mu     sync.RWMutex
	topics map[string]Topic
}

// NewInMemory creates an empty store.
func NewInMemory() *InMemory {
	return &InMemory{topics: make(map[string]Topic)}
}

var _ Store = (*InMemory)(nil)

func (s *InMemory) Get(ctx context.Context, id string) (Topic, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.topics[id]
	if !ok {
		return Topic{}, fmt.Errorf("%w: topic %s", fault.ErrNotFound, id)
	}
	return clone(t), nil
}

func (s *InMemory) Put(ctx context.Context, t Topic) error {
	if t.ID == "" {
		return fmt.Errorf("%w: topic id is required", fault.ErrValidation)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.topics[t.ID] = clone(t)
	return nil
}

func (s *InMemory) PutBatch(ctx context.Context, topics []Topic) error {
	for _, t := range topics {
		if t.ID == "" {
			return fmt.Errorf("%w: topic id is required", fault.ErrValidation)
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range topics {
		s.topics[t.ID] = clone(t)
	}
	return nil
}

func (s *InMemory) List(ctx context.Context, category string) ([]Topic, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Topic, 0, len(s.topics))
	for _, t := range s.topics {
		if category != "" && t.Category != category {
			continue
		}
		out = append(out, clone(t))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func clone(t Topic) Topic {
	out := t
	if t.Stakeholders != nil {
		out.Stakeholders = append([]string(nil), t.Stakeholders...)
	}
	if t.DependencyIDs != nil {
		out.DependencyIDs = append([]string(nil), t.DependencyIDs...)
	}
	if t.Deadline != nil {
		d := *t.Deadline
		out.Deadline = &d
	}
	return out
}
