// Package scoring computes the weighted urgency score for a topic. The score
// is a rule-based, deterministic function of the topic's current signals; it
// is recomputed on demand and never treated as ground truth.
package scoring

import (
	"math"
	"time"

	"topiary.org/internal/topic"
)

// Weights distribute the 1.0 budget across the weighted sub-scores. The
// business-impact and change-request bonuses are flat addends on top.
type Weights struct {
	Stakeholders float64
	Engagement   float64
	Deadline     float64
	Dependencies float64
}

// DefaultWeights is the documented weighting.
var DefaultWeights = Weights{
	Stakeholders: 0.20,
	Engagement:   0.25,
	Deadline:     0.30,
	Dependencies: 0.15,
}

// changeRequestBonus applies when a topic links a tracked change request.
const changeRequestBonus = 0.05

// Scorer evaluates topics against configurable saturation points.
type Scorer struct {
	weights               Weights
	stakeholderSaturation int
	dependencySaturation  int
	deadlineWindow        time.Duration
	minExternalConfidence float64
	now                   func() time.Time
}

// Option configures a Scorer.
type Option func(*Scorer)

// WithWeights overrides DefaultWeights.
func WithWeights(w Weights) Option {
	return func(s *Scorer) { s.weights = w }
}

// WithSaturations sets the counts at which the stakeholder and dependency
// sub-scores reach 1.0.
func WithSaturations(stakeholders, dependencies int) Option {
	return func(s *Scorer) {
		if stakeholders > 0 {
			s.stakeholderSaturation = stakeholders
		}
		if dependencies > 0 {
			s.dependencySaturation = dependencies
		}
	}
}

// WithDeadlineWindow sets how far out a deadline starts registering.
func WithDeadlineWindow(window time.Duration) Option {
	return func(s *Scorer) {
		if window > 0 {
			s.deadlineWindow = window
		}
	}
}

// WithExternalConfidenceFloor ignores external categorization signals below
// the floor. Zero disables the feature entirely.
func WithExternalConfidenceFloor(min float64) Option {
	return func(s *Scorer) { s.minExternalConfidence = min }
}

// WithClock fixes the clock, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Scorer) { s.now = now }
}

// New creates a Scorer with the documented defaults.
func New(opts ...Option) *Scorer {
	s := &Scorer{
		weights:               DefaultWeights,
		stakeholderSaturation: 10,
		dependencySaturation:  5,
		deadlineWindow:        21 * 24 * time.Hour,
		now:                   time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Score returns the topic's priority in [0,10]. categoryAvgActivity is the
// category's rolling average activity; pass 0 when unknown, in which case
// topics are treated as at-average rather than penalized for missing samples.
func (s *Scorer) Score(t topic.Topic, categoryAvgActivity float64) float64 {
	w := s.weights

	sum := w.Stakeholders * saturate(len(t.Stakeholders), s.stakeholderSaturation)
	sum += w.Engagement * s.engagement(t, categoryAvgActivity)
	sum += w.Deadline * s.deadlineUrgency(t.Deadline)
	sum += w.Dependencies * saturate(len(t.DependencyIDs), s.dependencySaturation)

	bonus := t.Extension.BusinessImpact.Bonus()
	if t.Extension.ExternalConfidence > 0 && t.Extension.ExternalConfidence < s.minExternalConfidence {
		// Classification came from an external model below the configured
		// confidence floor; ignore it rather than force a human override.
		bonus = 0
	}
	sum += bonus
	if t.Extension.ChangeRequest != "" {
		sum += changeRequestBonus
	}

	return clamp01(sum) * 10
}

// ScoreAll recomputes PriorityScore for every topic, normalizing engagement
// against each topic's own category average. Input order is preserved.
func (s *Scorer) ScoreAll(topics []topic.Topic) []topic.Topic {
	totals := make(map[string]float64)
	counts := make(map[string]int)
	for _, t := range topics {
		totals[t.Category] += Activity(t)
		counts[t.Category]++
	}
	out := make([]topic.Topic, len(topics))
	for i, t := range topics {
		avg := 0.0
		if counts[t.Category] > 0 {
			avg = totals[t.Category] / float64(counts[t.Category])
		}
		t.PriorityScore = s.Score(t, avg)
		out[i] = t
	}
	return out
}

// Activity folds reply and view counts into a single engagement signal.
// Replies mean active participation, so they dominate passive views.
func Activity(t topic.Topic) float64 {
	return float64(t.Replies) + float64(t.Views)/10
}

func (s *Scorer) engagement(t topic.Topic, categoryAvg float64) float64 {
	if categoryAvg <= 0 {
		// No category baseline yet: treat the topic as at-average.
		return 1.0
	}
	return clamp01(Activity(t) / categoryAvg)
}

// deadlineUrgency grows linearly as the deadline approaches and saturates at
// 1.0 once it arrives or passes. No deadline means no urgency.
func (s *Scorer) deadlineUrgency(deadline *time.Time) float64 {
	if deadline == nil {
		return 0
	}
	remaining := deadline.Sub(s.now())
	if remaining <= 0 {
		return 1.0
	}
	return clamp01(1 - float64(remaining)/float64(s.deadlineWindow))
}

func saturate(n, at int) float64 {
	if at <= 0 {
		return 0
	}
	return clamp01(float64(n) / float64(at))
}

func clamp01(v float64) float64 {
	return math.Min(1, math.Max(0, v))
}
