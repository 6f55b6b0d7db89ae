package scoring

import (
	"testing"
	"time"

	"topiary.org/internal/topic"
)

var testNow = time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)

func newTestScorer(opts ...Option) *Scorer {
	opts = append([]Option{WithClock(func() time.Time { return testNow })}, opts...)
	return New(opts...)
}

func TestScoreDocumentedScenario(t *testing.T) {
	// 12 stakeholders, deadline 5 days out, 2 dependencies, high impact,
	// linked change request: the score lands in [8.5, 10.0].
	deadline := testNow.Add(5 * 24 * time.Hour)
	tp := topic.Topic{
		ID:            "t1",
		Category:      "sec",
		Stakeholders:  make([]string, 12),
		Deadline:      &deadline,
		DependencyIDs: []string{"t2", "t3"},
		Extension: topic.Extension{
			SchemaVersion:  topic.ExtensionSchemaVersion,
			BusinessImpact: topic.ImpactHigh,
			ChangeRequest:  "https://rfc.example.org/42",
		},
	}
	got := newTestScorer().Score(tp, 0)
	if got < 8.5 || got > 10.0 {
		t.Fatalf("score = %v, want within [8.5, 10.0]", got)
	}
}

func TestScoreDeterministic(t *testing.T) {
	tp := topic.Topic{ID: "t1", Stakeholders: []string{"a", "b"}, Replies: 4, Views: 100}
	s := newTestScorer()
	if s.Score(tp, 10) != s.Score(tp, 10) {
		t.Fatal("same inputs must score identically")
	}
}

func TestScoreBounds(t *testing.T) {
	s := newTestScorer()

	if got := s.Score(topic.Topic{ID: "empty"}, 5); got < 0 || got > 10 {
		t.Fatalf("empty topic score %v out of range", got)
	}

	passed := testNow.Add(-48 * time.Hour)
	maxed := topic.Topic{
		ID:            "maxed",
		Stakeholders:  make([]string, 50),
		Deadline:      &passed,
		DependencyIDs: make([]string, 20),
		Replies:       1000,
		Extension: topic.Extension{
			BusinessImpact: topic.ImpactHigh,
			ChangeRequest:  "cr",
		},
	}
	if got := s.Score(maxed, 1); got != 10 {
		t.Fatalf("fully saturated topic = %v, want 10", got)
	}
}

func TestDeadlineUrgency(t *testing.T) {
	s := newTestScorer()
	none := s.Score(topic.Topic{ID: "a"}, 0)
	far := testNow.Add(60 * 24 * time.Hour)
	farScore := s.Score(topic.Topic{ID: "b", Deadline: &far}, 0)
	near := testNow.Add(24 * time.Hour)
	nearScore := s.Score(topic.Topic{ID: "c", Deadline: &near}, 0)

	if farScore != none {
		t.Fatalf("deadline beyond the window must not add urgency: %v vs %v", farScore, none)
	}
	if nearScore <= farScore {
		t.Fatalf("nearer deadline must score higher: %v <= %v", nearScore, farScore)
	}
}

func TestEngagementNormalization(t *testing.T) {
	s := newTestScorer()
	quiet := topic.Topic{ID: "q", Replies: 1}
	busy := topic.Topic{ID: "b", Replies: 50}

	avg := (Activity(quiet) + Activity(busy)) / 2
	if s.Score(busy, avg) <= s.Score(quiet, avg) {
		t.Fatal("above-average engagement must outrank below-average")
	}
	// Missing baseline treats the topic as at-average.
	if s.Score(quiet, 0) <= s.Score(quiet, avg) {
		t.Fatal("missing baseline must not penalize below the at-average case")
	}
}

func TestExternalConfidenceFloor(t *testing.T) {
	withFloor := newTestScorer(WithExternalConfidenceFloor(0.8))
	low := topic.Topic{
		ID: "x",
		Extension: topic.Extension{
			BusinessImpact:     topic.ImpactHigh,
			ExternalConfidence: 0.3,
		},
	}
	trusted := low
	trusted.Extension.ExternalConfidence = 0.9

	if withFloor.Score(low, 0) >= withFloor.Score(trusted, 0) {
		t.Fatal("low-confidence external impact must be ignored")
	}
}

func TestScoreAll(t *testing.T) {
	topics := []topic.Topic{
		{ID: "a", Category: "sec", Replies: 20},
		{ID: "b", Category: "sec", Replies: 2},
		{ID: "c", Category: "data", Replies: 5},
	}
	scored := newTestScorer().ScoreAll(topics)
	if len(scored) != 3 {
		t.Fatalf("got %d topics", len(scored))
	}
	if scored[0].ID != "a" || scored[1].ID != "b" {
		t.Fatal("order must be preserved")
	}
	if scored[0].PriorityScore <= scored[1].PriorityScore {
		t.Fatalf("busier sec topic must outrank: %v <= %v", scored[0].PriorityScore, scored[1].PriorityScore)
	}
}
