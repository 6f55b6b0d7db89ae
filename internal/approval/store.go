package approval

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"topiary.org/internal/fault"
)

// Store persists approval requests.
type Store interface {
	Get(ctx context.Context, id string) (Request, error)
	Put(ctx context.Context, req Request) error
	List(ctx context.Context) ([]Request, error)
}

// InMemory is a mutex-guarded Store for tests and single-process runs.
type InMemory struct {
	mu   sync.RWMutex
	reqs map[string]Request
}

func NewInMemory() *InMemory {
	return &InMemory{reqs: make(map[string]Request)}
}

var _ Store = (*InMemory)(nil)

func (s *InMemory) Get(ctx context.Context, id string) (Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	req, ok := s.reqs[id]
	if !ok {
		return Request{}, fmt.Errorf("%w: approval request %s", fault.ErrNotFound, id)
	}
	return req.clone(), nil
}

func (s *InMemory) Put(ctx context.Context, req Request) error {
	if req.ID == "" {
		return fmt.Errorf("%w: approval request id is empty", fault.ErrValidation)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reqs[req.ID] = req.clone()
	return nil
}

func (s *InMemory) List(ctx context.Context) ([]Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Request, 0, len(s.reqs))
	for _, req := range s.reqs {
		out = append(out, req.clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}
