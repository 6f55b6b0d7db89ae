package platform

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"topiary.org/internal/fault"
)

// Fake is an in-memory platform used by tests and by topicctl when no real
// platform is configured. It records every mutation for assertions and can
// inject failures per topic.
type Fake struct {
	mu      sync.Mutex
	topics  map[string]*TopicSnapshot
	pins    map[string][]string // topicID -> pinned message ids
	nextMsg int

	// FailRename and FailPin inject one error per lookup by topic id.
	FailRename map[string]error
	FailPin    map[string]error
	// FailList makes every ListTopics call fail.
	FailList error

	Renames []string // "topicID -> newName" in call order
}

// NewFake creates an empty fake platform.
func NewFake() *Fake {
	return &Fake{
		topics:     make(map[string]*TopicSnapshot),
		pins:       make(map[string][]string),
		FailRename: make(map[string]error),
		FailPin:    make(map[string]error),
	}
}

var _ Client = (*Fake)(nil)

// Seed adds or replaces a live topic.
func (f *Fake) Seed(snap TopicSnapshot) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := snap
	f.topics[snap.ID] = &cp
}

// Pins returns the pinned message ids for a topic, oldest first.
func (f *Fake) Pins(topicID string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.pins[topicID]...)
}

// Title returns the current live title.
func (f *Fake) Title(topicID string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if t, ok := f.topics[topicID]; ok {
		return t.Title
	}
	return ""
}

func (f *Fake) ListTopics(ctx context.Context, category string) ([]TopicSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.FailList != nil {
		return nil, f.FailList
	}
	var out []TopicSnapshot
	for _, t := range f.topics {
		if category != "" && t.Category != category {
			continue
		}
		out = append(out, *t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *Fake) RenameTopic(ctx context.Context, topicID, newName string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.FailRename[topicID]; err != nil {
		return err
	}
	t, ok := f.topics[topicID]
	if !ok {
		return fmt.Errorf("%w: topic %s", fault.ErrNotFound, topicID)
	}
	t.Title = newName
	f.Renames = append(f.Renames, topicID+" -> "+newName)
	return nil
}

func (f *Fake) PinMessage(ctx context.Context, topicID string, card Card) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.FailPin[topicID]; err != nil {
		return "", err
	}
	if _, ok := f.topics[topicID]; !ok {
		return "", fmt.Errorf("%w: topic %s", fault.ErrNotFound, topicID)
	}
	f.nextMsg++
	id := fmt.Sprintf("msg-%d", f.nextMsg)
	f.pins[topicID] = append(f.pins[topicID], id)
	return id, nil
}

func (f *Fake) UnpinAll(ctx context.Context, topicID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.pins, topicID)
	return nil
}

func (f *Fake) SendInteractiveCard(ctx context.Context, topicID string, card Card) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextMsg++
	return fmt.Sprintf("msg-%d", f.nextMsg), nil
}
