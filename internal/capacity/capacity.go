// Package capacity tracks per-category topic counts against configured limits
// and projects utilization forward with a deliberately simple linear model,
// so every forecast is reproducible from the stored series.
package capacity

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"topiary.org/internal/fault"
)

// Metric is one daily utilization sample for a category.
type Metric struct {
	Category    string    `json:"category"`
	Date        time.Time `json:"date"`
	ActiveCount int       `json:"active_count"`
	Limit       int       `json:"limit"`
	Utilization float64   `json:"utilization"`
}

// NewMetric builds a sample with Utilization derived from the counts.
func NewMetric(category string, date time.Time, active, limit int) Metric {
	m := Metric{
		Category:    category,
		Date:        date.UTC().Truncate(24 * time.Hour),
		ActiveCount: active,
		Limit:       limit,
	}
	if limit > 0 {
		m.Utilization = float64(active) / float64(limit)
	}
	return m
}

// Store persists the utilization time series.
type Store interface {
	// Record upserts the sample for (category, date).
	Record(ctx context.Context, m Metric) error
	// Recent returns up to n most recent samples for category, oldest first.
	Recent(ctx context.Context, category string, n int) ([]Metric, error)
}

// InMemory implements Store with in-process concurrency safety.
type InMemory struct {
	mu      sync.RWMutex
	samples map[string][]Metric // category -> ascending by date
}

// NewInMemory creates an empty metrics store.
func NewInMemory() *InMemory {
	return &InMemory{samples: make(map[string][]Metric)}
}

var _ Store = (*InMemory)(nil)

func (s *InMemory) Record(ctx context.Context, m Metric) error {
	if m.Category == "" {
		return fmt.Errorf("%w: metric category is required", fault.ErrValidation)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	series := s.samples[m.Category]
	for i, existing := range series {
		if existing.Date.Equal(m.Date) {
			series[i] = m
			return nil
		}
	}
	series = append(series, m)
	sort.Slice(series, func(i, j int) bool { return series[i].Date.Before(series[j].Date) })
	s.samples[m.Category] = series
	return nil
}

func (s *InMemory) Recent(ctx context.Context, category string, n int) ([]Metric, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	series := s.samples[category]
	if n <= 0 || n > len(series) {
		n = len(series)
	}
	out := make([]Metric, n)
	copy(out, series[len(series)-n:])
	return out, nil
}
